package reduction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tabulahq/reducer/pkg/fault"
)

// Dispatcher schedules reduction tasks onto a bounded pool of worker slots.
// Every submission gets its own cancellation signal and a dedicated monitor
// goroutine that observes completion and performs go-live, so cancellation
// and completion are both deterministic and observable.
type Dispatcher struct {
	worker  *Worker
	monitor *Monitor
	tasks   *TaskStore
	logger  *slog.Logger

	// runCtx bounds every task's lifetime. It is the server's context,
	// never a request's.
	runCtx context.Context

	slots chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given number of concurrent
// worker slots. runCtx should be the server lifetime context; submitted
// tasks stop when it is canceled.
func NewDispatcher(runCtx context.Context, worker *Worker, monitor *Monitor, tasks *TaskStore, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		worker:  worker,
		monitor: monitor,
		tasks:   tasks,
		logger:  logger,
		runCtx:  runCtx,
		slots:   make(chan struct{}, concurrency),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit hands a task to the pool. It returns immediately; the runner
// goroutine waits for a slot, executes the worker, and signals the task's
// monitor goroutine over a done channel.
func (d *Dispatcher) Submit(task *Task) {
	ctx := d.runCtx
	taskCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancels[task.ID] = cancel
	d.mu.Unlock()

	done := make(chan struct{})

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		defer close(done)
		defer func() {
			d.mu.Lock()
			delete(d.cancels, task.ID)
			d.mu.Unlock()
			cancel()
		}()

		select {
		case <-taskCtx.Done():
			return
		case d.slots <- struct{}{}:
		}
		defer func() { <-d.slots }()

		d.worker.Run(taskCtx, task)
	}()

	go func() {
		defer d.wg.Done()
		d.monitor.Watch(ctx, task.ID, done)
	}()
}

// Cancel requests cooperative cancellation of a task. The status flip to
// Canceled happens first and is authoritative; the context cancel only makes
// the worker notice sooner. Canceling an unknown or already-terminal task
// fails with NothingToCancel.
func (d *Dispatcher) Cancel(taskID, reason string) error {
	task, err := d.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fault.New(fault.CodeNothingToCancel, "task %s not found", taskID)
	}

	if err := d.tasks.MarkCanceled(taskID, reason); err != nil {
		return err
	}

	d.mu.Lock()
	cancel, ok := d.cancels[taskID]
	d.mu.Unlock()
	if ok {
		cancel()
	}

	d.logger.Info("reduction task canceled", "taskID", taskID, "reason", reason)
	return nil
}

// Wait blocks until all runner and monitor goroutines have finished.
// Called during shutdown after the server context is canceled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

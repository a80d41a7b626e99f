package reduction

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/fault"
	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/selection"
)

// DisclaimerNotifier receives the fire-and-forget notification that a
// group's content changed and its users must re-acknowledge the disclaimer.
type DisclaimerNotifier interface {
	NotifyDisclaimerReset(ctx context.Context, userIDs []string, contentItemID string)
}

// LogNotifier is a DisclaimerNotifier that only logs. Used when no external
// notification hook is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) NotifyDisclaimerReset(_ context.Context, userIDs []string, contentItemID string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("disclaimer reset", "contentItemID", contentItemID, "users", len(userIDs))
}

// Promoter performs the go-live transaction for a completed task.
type Promoter struct {
	db       *gorm.DB
	tasks    *TaskStore
	groups   *selection.GroupStore
	files    filestore.FileStore
	serveDir string
	notifier DisclaimerNotifier
	logger   *slog.Logger
}

// NewPromoter creates a Promoter that serves promoted content from serveDir.
func NewPromoter(db *gorm.DB, tasks *TaskStore, groups *selection.GroupStore, files filestore.FileStore, serveDir string, notifier DisclaimerNotifier, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Promoter{
		db:       db,
		tasks:    tasks,
		groups:   groups,
		files:    files,
		serveDir: serveDir,
		notifier: notifier,
		logger:   logger,
	}
}

// Promote makes a completed task's output the group's live content: it
// copies the output into the serving location, updates the group's selection
// and instance URL, marks the task Live, and demotes the previous Live task
// to Replaced, all observable only as one transaction. The authoritative
// cancellation check is the guarded Processing -> Live transition inside
// that transaction: a task canceled after its worker finished affects zero
// rows and never goes live.
func (p *Promoter) Promote(ctx context.Context, taskID string) error {
	task, err := p.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fault.New(fault.CodeNotFound, "task %s not found", taskID)
	}

	group, err := p.groups.Get(task.SelectionGroupID)
	if err != nil {
		return err
	}
	if group == nil {
		// The group was deleted while the task ran. Discard the outcome.
		p.logger.Info("discarding outcome of task for deleted group", "taskID", task.ID)
		if err := p.tasks.MarkCanceled(task.ID, "selection group deleted"); err != nil && !fault.IsCode(err, fault.CodeNothingToCancel) {
			return err
		}
		return nil
	}

	// Non-master output is copied into the serving location before the
	// transaction; a failed transaction leaves an unreferenced file that is
	// removed below, never a group pointing at missing content.
	servePath := task.MasterFilePath
	if !task.SelectionCriteria.IsMaster {
		servePath = filepath.Join(p.serveDir, group.ID, task.ID+".dat")
		if err := p.files.CopyTo(task.OutputPath, servePath); err != nil {
			if ferr := p.tasks.MarkFailed(task.ID, OutcomeCopyFailed, fmt.Sprintf("copy output to serving location: %v", err)); ferr != nil {
				p.logger.Warn("could not record copy failure", "taskID", task.ID, "error", ferr)
			}
			return err
		}
	}

	// Collected before clearing so the notification can name them.
	ackUsers, err := p.groups.AcknowledgedUsers(group.ID)
	if err != nil {
		return err
	}

	promoted := false
	err = p.db.Transaction(func(tx *gorm.DB) error {
		err := p.tasks.transition(tx, task.ID, []TaskStatus{StatusProcessing}, StatusLive, nil)
		if fault.IsCode(err, fault.CodeConflict) {
			// Canceled (or otherwise finished) after the worker completed.
			return nil
		}
		if err != nil {
			return err
		}

		result := tx.Model(&Task{}).
			Where("selection_group_id = ? AND status = ? AND id <> ?", group.ID, StatusLive, task.ID).
			Update("status", StatusReplaced)
		if result.Error != nil {
			return fmt.Errorf("demote previous live task: %w", result.Error)
		}

		updates := map[string]any{
			"selected_value_ids":   task.SelectionCriteria.ValueIDs,
			"is_master":            task.SelectionCriteria.IsMaster,
			"content_instance_url": servePath,
		}
		if err := tx.Model(&selection.SelectionGroup{}).Where("id = ?", group.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update group content: %w", err)
		}

		if err := selection.ClearAcknowledgments(tx, group.ID); err != nil {
			return err
		}

		promoted = true
		return nil
	})
	if err != nil {
		if !task.SelectionCriteria.IsMaster {
			if derr := p.files.Delete(servePath); derr != nil {
				p.logger.Warn("could not remove orphaned serve file", "path", servePath, "error", derr)
			}
		}
		return err
	}

	if !promoted {
		if !task.SelectionCriteria.IsMaster {
			if derr := p.files.Delete(servePath); derr != nil {
				p.logger.Warn("could not remove orphaned serve file", "path", servePath, "error", derr)
			}
		}
		p.logger.Info("promotion skipped, task no longer processing", "taskID", task.ID)
		return nil
	}

	p.logger.Info("task promoted to live",
		"taskID", task.ID,
		"groupID", group.ID,
		"servePath", servePath,
		"isMaster", task.SelectionCriteria.IsMaster)

	p.notifier.NotifyDisclaimerReset(ctx, ackUsers, group.ContentItemID)
	return nil
}

// Monitor observes one submitted task until it reaches a terminal state and
// performs go-live on success. One monitor goroutine runs per submission;
// the runner signals completion over the done channel so no request thread
// ever blocks on a reduction.
type Monitor struct {
	tasks    *TaskStore
	promoter *Promoter
	logger   *slog.Logger
}

// NewMonitor creates a go-live monitor.
func NewMonitor(tasks *TaskStore, promoter *Promoter, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{tasks: tasks, promoter: promoter, logger: logger}
}

// Watch blocks until the worker signals completion (or the context ends),
// then inspects the task's recorded outcome. Success promotes; Failed and
// Canceled leave the group untouched and are only logged, to be discovered
// by the next status poll.
func (m *Monitor) Watch(ctx context.Context, taskID string, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-done:
	}

	task, err := m.tasks.Get(taskID)
	if err != nil {
		m.logger.Error("monitor could not load task", "taskID", taskID, "error", err)
		return
	}
	if task == nil {
		return
	}

	switch {
	case task.Status == StatusProcessing && task.OutputPath != "":
		if err := m.promoter.Promote(ctx, taskID); err != nil {
			m.logger.Error("go-live promotion failed", "taskID", taskID, "error", err)
		}
	case task.Status == StatusFailed:
		m.logger.Info("task failed, group unchanged",
			"taskID", taskID, "outcome", task.OutcomeCode, "message", task.StatusMessage)
	case task.Status == StatusCanceled:
		m.logger.Info("task canceled, group unchanged", "taskID", taskID)
	default:
		m.logger.Warn("task completed without output", "taskID", taskID, "status", string(task.Status))
	}
}

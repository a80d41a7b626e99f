package reduction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/hierarchy"
)

// Worker derives the reduced output for one task at a time. It never mutates
// selection groups; promotion is the monitor's job.
type Worker struct {
	tasks     *TaskStore
	hierarchy *hierarchy.Store
	files     filestore.FileStore
	workDir   string
	logger    *slog.Logger
}

// NewWorker creates a derivation worker that stages files under workDir.
func NewWorker(tasks *TaskStore, hier *hierarchy.Store, files filestore.FileStore, workDir string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{tasks: tasks, hierarchy: hier, files: files, workDir: workDir, logger: logger}
}

// Run executes one task to a state the monitor can act on: Processing with
// recorded output on success, Failed on error, or untouched when the context
// was canceled (the cancel path has already flipped the status, or startup
// recovery will). Each step checks the cancellation signal so a canceled
// task aborts cleanly with no partial output left behind.
func (w *Worker) Run(ctx context.Context, task *Task) {
	start := time.Now()
	log := w.logger.With("taskID", task.ID, "groupID", task.SelectionGroupID)

	fail := func(code, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Error("reduction task failed", "outcome", code, "message", msg)
		if err := w.tasks.MarkFailed(task.ID, code, msg); err != nil {
			// Lost the race against a cancel; the cancel wins.
			log.Warn("could not record task failure", "error", err)
		}
	}

	// The master file is validated again here: an admin may have replaced it
	// between task creation and worker pickup.
	ok, err := w.files.Exists(task.MasterFilePath)
	if err != nil {
		fail(OutcomeSourceUnavailable, "stat master file: %v", err)
		return
	}
	if !ok {
		fail(OutcomeSourceUnavailable, "master file %s does not exist", task.MasterFilePath)
		return
	}
	sum, err := w.files.Checksum(task.MasterFilePath)
	if err != nil {
		fail(OutcomeSourceUnavailable, "checksum master file: %v", err)
		return
	}
	if sum != task.MasterChecksum {
		fail(OutcomeSourceUnavailable, "master file %s changed since the task was created", task.MasterFilePath)
		return
	}

	if ctx.Err() != nil {
		return
	}

	if err := w.tasks.MarkProcessing(task.ID); err != nil {
		// Canceled before pickup; nothing to do.
		log.Info("task not in validating state, skipping", "error", err)
		return
	}

	// Master groups need no derivation: the task reasserts the master file
	// as the group's content.
	if task.SelectionCriteria.IsMaster {
		if err := w.tasks.RecordOutput(task.ID, task.MasterFilePath, time.Since(start)); err != nil {
			log.Warn("could not record master output", "error", err)
		}
		return
	}

	taskDir := filepath.Join(w.workDir, task.ID)
	workCopy := filepath.Join(taskDir, "master.dat")
	outputPath := filepath.Join(taskDir, "reduced.dat")

	if err := w.files.CopyTo(task.MasterFilePath, workCopy); err != nil {
		fail(OutcomeCopyFailed, "copy master to working area: %v", err)
		return
	}
	defer os.Remove(workCopy)

	if ctx.Err() != nil {
		os.RemoveAll(taskDir)
		return
	}

	criteria, err := w.hierarchy.ResolveCriteria(task.SelectionCriteria.ValueIDs)
	if err != nil {
		fail(OutcomeDerivationFailed, "resolve selection criteria: %v", err)
		return
	}
	if len(criteria) != len(task.SelectionCriteria.ValueIDs) {
		fail(OutcomeDerivationFailed, "selection criteria reference unknown hierarchy values")
		return
	}

	rowsKept, rowsSeen, err := w.derive(ctx, workCopy, outputPath, criteria)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.RemoveAll(taskDir)
			log.Info("derivation canceled", "rowsSeen", rowsSeen)
			return
		}
		os.Remove(outputPath)
		fail(OutcomeDerivationFailed, "derive reduced content: %v", err)
		return
	}

	duration := time.Since(start)
	log.Info("derivation complete",
		"rowsSeen", rowsSeen,
		"rowsKept", rowsKept,
		"duration", duration.String())

	if err := w.tasks.RecordOutput(task.ID, outputPath, duration); err != nil {
		// A cancel flipped the status mid-derivation; drop the output.
		os.RemoveAll(taskDir)
		log.Info("output discarded, task no longer processing", "error", err)
	}
}

func (w *Worker) derive(ctx context.Context, srcPath, dstPath string, criteria []hierarchy.CriterionValue) (int, int, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open working copy: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, 0, fmt.Errorf("create output: %w", err)
	}

	kept, seen, derr := Derive(ctx, src, dst, criteria)
	cerr := dst.Close()
	if derr != nil {
		return kept, seen, derr
	}
	if cerr != nil {
		return kept, seen, fmt.Errorf("close output: %w", cerr)
	}
	return kept, seen, nil
}

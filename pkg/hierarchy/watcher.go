package hierarchy

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tabulahq/reducer/pkg/filestore"
)

// Watcher reloads the content registry when its file changes on disk.
type Watcher struct {
	path     string
	store    *Store
	files    filestore.FileStore
	logger   *slog.Logger
	onReload func()
	debounce time.Duration
}

// NewWatcher creates a registry file watcher. onReload is invoked after every
// successful sync (used to drop cached hierarchy responses); it may be nil.
func NewWatcher(path string, store *Store, files filestore.FileStore, logger *slog.Logger, onReload func()) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		store:    store,
		files:    files,
		logger:   logger,
		onReload: onReload,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches the registry file until the context is cancelled. Editors and
// configmap mounts replace files rather than writing in place, so the parent
// directory is watched and events are filtered by name.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("registry watcher started", "path", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("registry watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: editors emit several events per save.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("registry watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	reg, err := LoadRegistry(w.path)
	if err != nil {
		w.logger.Error("registry reload failed, keeping previous state", "error", err)
		return
	}
	if _, err := w.store.Sync(reg, w.files, w.logger); err != nil {
		w.logger.Error("registry sync failed", "error", err)
		return
	}
	if w.onReload != nil {
		w.onReload()
	}
}

package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/rampart/pkg/observability"
)

// DefaultDebounce collapses the burst of events editors emit on save
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a seed file whenever it changes on disk
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *observability.Logger
	apply    func(context.Context, *File) error
}

// NewWatcher creates a watcher that calls apply with each successfully
// parsed revision of path. Parse and apply failures are logged and the
// previous state is kept.
func NewWatcher(path string, apply func(context.Context, *File) error, logger *observability.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   logger,
		apply:    apply,
	}
}

// WithDebounce overrides DefaultDebounce
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Run blocks until ctx is cancelled. The parent directory is watched
// rather than the file so that atomic rename-on-save is picked up.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	w.logger.WithField("path", target).Info("watching seed file")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("seed watcher error")
		case <-timer.C:
			w.reload(ctx, target)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string) {
	f, err := Load(path)
	if err != nil {
		w.logger.WithError(err).WithField("path", path).Error("seed reload failed")
		return
	}
	if err := w.apply(ctx, f); err != nil {
		w.logger.WithError(err).WithField("path", path).Error("seed apply failed")
		return
	}
	w.logger.WithField("path", path).Info("seed reloaded")
}

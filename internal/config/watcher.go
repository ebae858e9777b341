package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher notifies a callback when a watched config file changes, so the
// process can reload its pricing table without a restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	target  string

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for one file. The parent directory is watched
// because editors replace files by rename, which drops a direct file watch.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		watcher: w,
		logger:  logger,
		target:  filepath.Clean(path),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins delivering change notifications to onChange. Idempotent.
func (w *Watcher) Start(onChange func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	go func() {
		for {
			select {
			case <-w.stopCh:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.logger.Info("Config file changed, reloading",
						zap.String("path", w.target),
						zap.String("op", event.Op.String()),
					)
					onChange()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.watcher.Close()
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.started = false
}

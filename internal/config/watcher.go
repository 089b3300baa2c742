package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/quorum/internal/logging"
)

// RosterWatcher hot-reloads the roster file when it changes on disk.
// A reload that fails validation keeps the previous roster: configuration
// errors are never partially applied.
type RosterWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *logging.Logger

	mu       sync.RWMutex
	current  *Roster
	onChange func(*Roster)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRosterWatcher loads the roster at path and begins watching it.
// The watcher must be stopped with Stop.
func NewRosterWatcher(path string, logger *logging.Logger) (*RosterWatcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	roster, err := LoadRoster(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directory: editors commonly replace the file via
	// rename, which drops a watch on the file itself.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close() //nolint:errcheck
		return nil, err
	}

	w := &RosterWatcher{
		watcher: fsWatcher,
		path:    path,
		logger:  logger,
		current: roster,
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Roster returns the most recently loaded valid roster.
func (w *RosterWatcher) Roster() *Roster {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after each successful reload.
func (w *RosterWatcher) OnChange(cb func(*Roster)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = cb
}

// Stop stops the watcher. Safe to call multiple times.
func (w *RosterWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close() //nolint:errcheck
	})
}

func (w *RosterWatcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("roster watcher error", "error", err)
		}
	}
}

func (w *RosterWatcher) reload() {
	roster, err := LoadRoster(w.path)
	if err != nil {
		w.logger.Warn("roster reload rejected, keeping previous roster",
			"path", w.path,
			"error", err,
		)
		return
	}

	w.mu.Lock()
	w.current = roster
	cb := w.onChange
	w.mu.Unlock()

	w.logger.Info("roster reloaded", "path", w.path)
	if cb != nil {
		cb(roster)
	}
}

/*
 * backend/internal/config/filewatcher.go
 *
 * Watches the configuration file for changes after startup. Configuration
 * is only read once, so a change is surfaced to the operator instead of
 * being applied.
 */

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const fileWatcherDebounceInterval = 500 * time.Millisecond

// FileWatcher reports writes to a single file, debounced.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	path      string
	onChange  func(string)
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewFileWatcher watches path's directory and invokes onChange with the
// path whenever the file itself is created, written, renamed or removed.
func NewFileWatcher(path string, onChange func(string)) (*FileWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	w := &FileWatcher{
		watcher:   fsWatcher,
		path:      filepath.Clean(path),
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go w.eventLoop()
	return w, nil
}

func (w *FileWatcher) eventLoop() {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := false

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isRelevantFSEvent(event) {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			pending = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(fileWatcherDebounceInterval)
			debounceCh = debounceTimer.C

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-debounceCh:
			debounceCh = nil
			if pending && w.onChange != nil {
				pending = false
				w.onChange(w.path)
			}
		}
	}
}

// Close stops the watcher and waits for the event loop to drain.
func (w *FileWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.stoppedCh
	})
	return err
}

func isRelevantFSEvent(event fsnotify.Event) bool {
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Rename) ||
		event.Op.Has(fsnotify.Remove)
}

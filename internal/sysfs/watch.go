package sysfs

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Event is the kind of change observed on a watched node.
type Event int

const (
	EventChanged Event = iota
	EventCreated
	EventRemoved
)

// Watcher delivers change/created/deleted events for a set of kernel-node
// paths onto the caller's callback. Grounded on the fsnotify usage in
// openshift-hypershift's ignition-server/cmd/filewatcher_test.go: one
// fsnotify.Watcher, add the parent directory (files can be removed and
// recreated by the kernel/firmware), filter by basename.
type Watcher struct {
	logger *slog.Logger
	fsw    *fsnotify.Watcher
	paths  map[string]func(Event)
	done   chan struct{}
}

// NewWatcher starts an fsnotify watcher. Call Close to stop it.
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		logger: logger,
		fsw:    fsw,
		paths:  make(map[string]func(Event)),
		done:   make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

// Watch registers callback for change/create/remove events on path. path
// need not exist yet: its parent directory is watched so later creation is
// observed, matching spec §4.2's "upgrade to Loaded upon appearance".
func (w *Watcher) Watch(path string, callback func(Event)) error {
	dir := filepath.Dir(path)

	if err := w.fsw.Add(dir); err != nil {
		return err
	}

	w.paths[path] = callback

	return nil
}

// Unwatch removes a previously registered callback. The parent directory
// watch is left in place; fsnotify directory watches are cheap and other
// paths in the same directory may still be registered.
func (w *Watcher) Unwatch(path string) {
	delete(w.paths, path)
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			callback, registered := w.paths[ev.Name]
			if !registered {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				callback(EventCreated)
			case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
				callback(EventRemoved)
			case ev.Op&fsnotify.Write != 0:
				callback(EventChanged)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("sysfs watcher error", "err", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	close(w.done)

	return w.fsw.Close()
}

package ingest

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher turns filesystem-change notifications for the monitored log
// into a "content may be available" signal. It is an optimization only:
// notifications can be missed, so the poll loop keeps its periodic
// backstop and correctness never depends on the watcher.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	signal chan struct{}
	done   chan struct{}
	logger *zap.SugaredLogger
}

// NewWatcher watches the directory containing path. Watching the
// directory rather than the file survives the file being rotated away
// and recreated.
func NewWatcher(path string, logger *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsw:    fsw,
		path:   filepath.Clean(path),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()

	logger.Infof("Filesystem watcher active on %s", dir)
	return w, nil
}

// Notify returns the channel signalled when the monitored file may have
// new content. The channel is buffered and coalescing: multiple events
// between reads collapse into one signal.
func (w *Watcher) Notify() <-chan struct{} {
	return w.signal
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.signal <- struct{}{}:
			default:
				// A poll is already pending; coalesce.
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Filesystem watcher error: %v", err)
		}
	}
}

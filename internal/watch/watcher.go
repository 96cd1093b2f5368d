// Package watch turns modifications of the input list files into rebuild
// signals.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mapperfs/internal/logging"
)

// DefaultDebounce coalesces the burst of events an editor produces on save.
const DefaultDebounce = 300 * time.Millisecond

var logger = logging.GetLogger().WithPrefix("watch")

// Watcher monitors a set of files. It watches their parent directories so
// that files replaced by rename keep being tracked.
type Watcher struct {
	files    map[string]struct{}
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// New creates a watcher for the given files.
func New(files []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		files:    make(map[string]struct{}, len(files)),
		debounce: DefaultDebounce,
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}

	dirs := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
		logger.Debug("Watching %s", dir)
	}
	return w, nil
}

// Run forwards debounced change signals to out until ctx is done, then
// closes the underlying watcher. A signal is dropped when the previous one
// has not been consumed yet, since one pending rebuild covers both.
func (w *Watcher) Run(ctx context.Context, out chan<- struct{}) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			logger.Trace("Event %s on %s", event.Op, event.Name)
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error: %v", err)

		case <-timer.C:
			select {
			case out <- struct{}{}:
				logger.Debug("Input list changed")
			default:
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	_, ok := w.files[filepath.Clean(event.Name)]
	return ok
}

// Package watch reruns a callback when the region configuration file changes
// on disk.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher monitors one configuration file and invokes the callback after each
// change. Editors typically replace the file rather than write it in place,
// so the parent directory is watched and events are filtered by name.
type Watcher struct {
	path     string
	onChange func(context.Context)
	log      *zap.Logger

	// debounce window for editors that emit write bursts
	settle time.Duration
}

func New(path string, onChange func(context.Context), log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: path, onChange: onChange, log: log, settle: 500 * time.Millisecond}
}

// Start blocks until ctx is cancelled, invoking the callback after each
// settled change to the watched file.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Info("watching configuration", zap.String("path", w.path))

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-watcher.Events:
			if filepath.Base(evt.Name) != filepath.Base(w.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.settle, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.log.Info("configuration changed", zap.String("path", w.path))
			w.onChange(ctx)
		case err := <-watcher.Errors:
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

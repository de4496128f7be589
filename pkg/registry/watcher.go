package registry

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked after each debounced reload attempt with the
// reload result. A nil handler is allowed.
type ReloadFunc func(err error)

// Watcher reloads the registry when its backing file changes on disk.
// Editors commonly write via rename, so the parent directory is watched
// and events are debounced before triggering a reload.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	pending time.Time
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher for the registry's configured file.
func NewWatcher(r *Registry, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		registry: r,
		watcher:  fsw,
		debounce: debounce,
		onReload: onReload,
	}, nil
}

// Watch starts watching until the context is cancelled or Close is called.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.registry.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	go w.processEvents(ctx)
	go w.processPending(ctx)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	target := filepath.Clean(w.registry.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				err := w.registry.Reload()
				if w.onReload != nil {
					w.onReload(err)
				}
			}
		}
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

// Package watch provides a polling watcher for single-file modifications.
// The daemon uses it to notice solver definition changes between requests.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	ierrors "github.com/tjper/jsi/internal/errors"

	"github.com/google/uuid"
)

// ErrNotFile indicates a non-file path was specified for the ModWatcher.
var ErrNotFile = errors.New("not file")

// NewModWatcher creates a ModWatcher instance for the passed path. The
// file's state at construction is the baseline; only later changes are
// published. The file may not yet exist; its creation counts as a
// modification.
func NewModWatcher(path string) *ModWatcher {
	w := &ModWatcher{
		mutex:     new(sync.RWMutex),
		path:      filepath.Clean(path),
		listeners: make(map[uuid.UUID]chan struct{}),
	}
	if info, err := os.Stat(w.path); err == nil && !info.IsDir() {
		w.exists = true
		w.modTime = info.ModTime()
	}
	return w
}

// ModWatcher watches a single file for modifications by polling its mtime.
type ModWatcher struct {
	mutex *sync.RWMutex

	path      string
	modTime   time.Time
	exists    bool
	listeners map[uuid.UUID]chan struct{}
}

// Watch polls the ModWatcher path on the passed tick interval and notifies
// listeners of changes. Watch blocks until the ctx is canceled or an error
// occurs.
func (w *ModWatcher) Watch(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ierrors.Wrap(ctx.Err())
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if errors.Is(err, fs.ErrNotExist) {
				w.exists = false
				continue
			}
			if err != nil {
				return ierrors.Wrap(err)
			}
			if info.IsDir() {
				return fmt.Errorf("%w; path: %s", ErrNotFile, w.path)
			}

			if w.exists && w.modTime.Equal(info.ModTime()) {
				continue
			}
			w.exists = true
			w.modTime = info.ModTime()

			w.broadcast()
		}
	}
}

// WaitUntil blocks until the ModWatcher detects a modification or the ctx
// is canceled.
func (w *ModWatcher) WaitUntil(ctx context.Context) error {
	modification := make(chan struct{}, 1)

	w.mutex.Lock()
	id := uuid.New()
	w.listeners[id] = modification
	w.mutex.Unlock()

	defer func() {
		w.mutex.Lock()
		delete(w.listeners, id)
		w.mutex.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ierrors.Wrap(ctx.Err())
	case <-modification:
		return nil
	}
}

// broadcast publishes to all ModWatcher listeners that a modification has
// occurred. Listener channels are buffered; a listener that has not yet
// consumed a prior notification is not notified again.
func (w *ModWatcher) broadcast() {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	for _, listener := range w.listeners {
		select {
		case listener <- struct{}{}:
		default:
		}
	}
}

package network

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PreferenceWatcher reloads the offline preference whenever its file
// changes, so a toggle from another process reaches a running daemon.
type PreferenceWatcher struct {
	path  string
	coord *Coordinator

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewPreferenceWatcher watches the preference file at path.
func NewPreferenceWatcher(path string, coord *Coordinator) *PreferenceWatcher {
	return &PreferenceWatcher{path: filepath.Clean(path), coord: coord}
}

// Start begins watching. The parent directory is watched rather than the
// file so that atomic replacements are seen.
func (w *PreferenceWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create preference directory: %w", err)
	}

	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.mu.Unlock()

	logger.Debug("Watching offline preference", "file", w.path)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				logger.Debug("Preference file changed", "event", event.Op)
				if err := w.coord.ReloadPreference(); err != nil {
					logger.Warn("Could not reload offline mode", "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debug("fsnotify error", "dir", dir, "err", err)
			}
		}
	}()

	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *PreferenceWatcher) Close() error {
	w.mu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	w.wg.Wait()
	return err
}

package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vthunder/clr/internal/logging"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the override file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up. A bad edit keeps the previous rules.
func (e *Engine) Watch(ctx context.Context, onReload func(error)) error {
	path := e.Path()
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logging.Debug("policy", "fsnotify event=%s file=%s", event.Op, event.Name)
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			err := e.Reload()
			if err != nil {
				logging.Warn("policy", "Keeping previous rules: %v", err)
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("policy", "fsnotify error=%v", err)
		}
	}
}

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 500 * time.Millisecond

// StartWatcher watches the spec directory and reloads after changes settle.
// Edits to preference files are only logged: a running worker keeps the
// config it was started with. It blocks until ctx is done.
func (d *Daemon) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(d.specDir); err != nil {
		return err
	}
	if fi, err := os.Stat(d.prefsDir); err == nil && fi.IsDir() {
		if err := watcher.Add(d.prefsDir); err != nil {
			d.logger.Warn("cannot watch preferences", "dir", d.prefsDir, "error", err)
		}
	}

	d.logger.Info("watching spec directory for changes", "dir", d.specDir)

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Dir(event.Name) == filepath.Clean(d.prefsDir) {
				d.logger.Info("preferences changed, applied at next start", "file", event.Name)
				continue
			}
			if !isSpecFile(event.Name) {
				continue
			}
			d.logger.Debug("spec file changed", "file", event.Name, "op", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watcherDebounce, func() {
				d.logger.Info("reloading specs after file change")
				result, err := d.Reload(ctx)
				if err != nil {
					d.logger.Error("auto-reload failed", "error", err)
					return
				}
				if len(result.Added) > 0 || len(result.Removed) > 0 || len(result.Restarted) > 0 {
					d.logger.Info("auto-reload complete",
						"added", result.Added,
						"removed", result.Removed,
						"restarted", result.Restarted)
				} else {
					d.logger.Debug("auto-reload: no changes detected")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("file watcher error", "error", err)
		}
	}
}

func isSpecFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "schedsync/internal/log"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes and hands each valid
// result to onChange. Invalid edits are logged and ignored so a typo never
// replaces a working configuration. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself because
// atomic saves replace the file's inode.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watcher error", err, "path", path)

		case <-pending:
			pending = nil
			if _, err := os.Stat(path); err != nil {
				// Moved away or deleted; Load would recreate defaults.
				appLog.Warn("config file missing, keeping current config", "path", path)
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				appLog.Error("config reload rejected", err, "path", path)
				continue
			}
			appLog.Info("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}

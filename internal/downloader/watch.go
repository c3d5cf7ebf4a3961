package downloader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

// Watch reloads the settings at path whenever the file is written, created or
// replaced and hands the result to fn. The parent directory is watched so
// atomic rename-into-place edits are observed. Watch blocks until ctx ends.
func Watch(ctx context.Context, path string, logger pslog.Logger, fn func(Settings, error)) error {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("downloader: resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("downloader: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("downloader: watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Debug("settings.watch.start", "path", abs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s, err := Load(abs)
			if err != nil {
				logger.Warn("settings.reload.invalid", "path", abs, "error", err)
			} else {
				logger.Info("settings.reload", "path", abs, "base_url", s.BaseURL())
			}
			if fn != nil {
				fn(s, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings.watch.error", "path", abs, "error", err)
		}
	}
}

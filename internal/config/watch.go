package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long the file must stay quiet before Watch
// reloads it. Editors often save in several writes.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch calls onChange with the reloaded Config after path changes, until ctx
// is cancelled. See WatchDebounced.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return WatchDebounced(ctx, path, DefaultReloadDebounce, onChange)
}

// WatchDebounced watches the directory holding path, so saves that replace
// the file by rename are seen like plain writes. Changes are coalesced until
// the file has been quiet for debounce, then loaded once.
//
// A reload that fails to load is logged and dropped; the previous config
// stays active and onChange is not called.
func WatchDebounced(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	slog.Info("config: watching for changes", "path", target, "debounce", debounce)

	// quiet fires once the file has settled; nil while nothing is pending.
	var (
		timer *time.Timer
		quiet <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			quiet = timer.C

		case <-quiet:
			quiet = nil
			cfg, err := Load(target)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", target, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", target)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configDebounce batches editor write bursts (rename+chmod+write) into a
// single reload.
const configDebounce = 500 * time.Millisecond

// WatchConfig applies external edits of the YAML config file the same way
// the config API does, so an operator can switch backends with a text
// editor. Blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself: most
// editors replace the file by rename, which would otherwise drop the
// watch after the first save.
func (a *Agent) WatchConfig(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	path = expandPath(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		// No config directory yet means nothing to watch; the agent
		// still runs on its in-memory configuration.
		a.logger.Warn("config file not watchable", "path", path, "error", err)
		return nil
	}
	a.logger.Info("watching config file", "path", path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(configDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			a.reloadConfig(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (a *Agent) reloadConfig(ctx context.Context, path string) {
	cfg, err := LoadConfig(path)
	if err != nil {
		a.logger.Warn("ignoring invalid config edit", "path", path, "error", err)
		return
	}
	if err := a.ApplyCloudConfig(ctx, cfg.Cloud); err != nil {
		a.logger.Warn("failed to apply edited config", "path", path, "error", err)
		return
	}
	a.logger.Info("config reloaded from file", "path", path)
}

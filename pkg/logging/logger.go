// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for musclesync components.
//
// Output is layered on Go's slog package:
//
//   - Default: human-readable text on stderr (Unix CLI convention)
//   - Optional: a JSON log file per service per day, for the agent
//     daemon whose stderr nobody watches
//
// # Basic Usage
//
//	logger, closeFn := logging.New(logging.Config{Service: "musclesync"})
//	defer closeFn()
//	logger.Info("agent started", "addr", addr)
//
// # Log Levels
//
// Levels follow slog conventions: Debug for troubleshooting, Info for
// normal operation, Warn for degraded-but-continuing (a sync falling
// back to local state), Error for failed operations.
//
// # Security Considerations
//
// Nothing here redacts. Callers must keep credentials out of log calls;
// log presence ("credential_set", true), never the value.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls destinations and verbosity. The zero value logs Info
// and above to stderr as text.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn" or "error".
	// Empty means "info".
	Level string

	// LogDir enables daily JSON file logging alongside stderr. Supports
	// a leading ~ for the home directory. Empty disables file output.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches the stderr stream to JSON. File output is always
	// JSON regardless.
	JSON bool

	// Quiet drops the stderr stream entirely; only file output remains.
	Quiet bool
}

// New builds a logger per cfg and returns it with a cleanup function
// that syncs and closes the log file. The cleanup function is always
// non-nil and safe to call.
func New(cfg Config) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	closeFn := func() {}
	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
			closeFn = func() {
				_ = file.Sync()
				_ = file.Close()
			}
		}
		// File setup failures fall through to stderr-only output; a
		// broken log directory must not keep the agent from starting.
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return slog.New(handler), closeFn
}

// Default returns a stderr text logger for the musclesync service.
func Default() *slog.Logger {
	l, _ := New(Config{Service: "musclesync"})
	return l
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLogFile creates dir if needed and opens {service}_{date}.log for
// appending.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "musclesync"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// multiHandler fans a record out to several handlers, letting stderr
// stay human-readable while the file stream stays JSON.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package logging builds the structured loggers used by the pysentinel
// binaries.
//
// Logs always go to one primary writer (stderr for the CLI) in text or
// JSON form. When LogDir is set, a second JSON copy is appended to
// "{service}_{YYYY-MM-DD}.log" inside that directory so long running
// servers keep a machine-readable trail.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Config{Level: slog.LevelInfo, Service: "pysentinel"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Slog().Info("scan started", "paths", len(paths))
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog handlers
// serialize writes.
//
// # Security Considerations
//
// This package does NOT redact anything. Never log scanned source text
// or request bodies; log paths, counts and check IDs instead.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrUnknownFormat is returned for a log format other than text or json.
var ErrUnknownFormat = errors.New("unknown log format")

// ParseLevel parses "debug", "info", "warn" or "error" (any case).
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// ParseFormat reports whether s selects JSON output. The empty string
// means text.
func ParseFormat(s string) (jsonOutput bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, fmt.Errorf("%w %q (want text or json)", ErrUnknownFormat, s)
	}
}

// Config configures a Logger.
//
// A zero Config writes Info and above to stderr as text.
type Config struct {
	// Level sets the minimum level. Default: slog.LevelInfo (the zero value).
	Level slog.Level

	// JSON switches the primary writer to JSON. File logs are always JSON.
	JSON bool

	// Output is the primary writer. Default: os.Stderr.
	Output io.Writer

	// Quiet disables the primary writer. Only the log file, if any,
	// receives records.
	Quiet bool

	// LogDir enables file logging. A leading ~ expands to the home
	// directory. The directory is created with 0750 permissions.
	LogDir string

	// Service is attached to every record as the "service" attribute and
	// names the log file. Default file prefix: "pysentinel".
	Service string
}

// Logger wraps a slog.Logger together with the log file it may own.
//
// Use Slog to hand the logger to packages that accept *slog.Logger and
// call Close when done so the file is synced.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New creates a Logger from the configuration.
//
// Description:
//
//	Builds the primary text or JSON handler and, when LogDir is set, a
//	JSON file handler. Multiple handlers are combined with a fan-out
//	handler so each record reaches every destination.
//
// Inputs:
//
//	cfg - Logger configuration. See Config for defaults.
//
// Outputs:
//
//	*Logger - Ready to use. Must be closed when LogDir is set.
//	error - Non-nil if the log directory or file cannot be created.
func New(cfg Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handlers []slog.Handler

	if !cfg.Quiet {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	l := &Logger{}
	if cfg.LogDir != "" {
		dir := expandPath(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		service := cfg.Service
		if service == "" {
			service = "pysentinel"
		}
		name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
		file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	l.slog = slog.New(handler)
	return l, nil
}

// Slog returns the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	var errs []error
	if err := l.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log file: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	l.file = nil
	return errors.Join(errs...)
}

// multiHandler fans records out to several handlers.
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
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
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

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoDirectory indicates a Store has no directory to reload or watch.
var ErrNoDirectory = errors.New("advisory store has no directory")

// Store holds the active Database and replaces it wholesale on refresh.
//
// # Description
//
// Readers call Database and keep using the pointer they got; a reload
// never mutates a Database, it swaps in a new one. A failed reload keeps
// the previous database active.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	dir     string
	opts    options
	current atomic.Pointer[Database]

	watchMu  sync.Mutex
	watching bool
}

// NewStore wraps an already loaded database. The store cannot reload.
func NewStore(db *Database, opts ...Option) *Store {
	s := &Store{opts: defaultOptions()}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.Replace(db)
	return s
}

// OpenStore loads the database from dir.
//
// # Outputs
//
//   - *Store: Store holding the loaded database.
//   - error: A *LoadError if the initial load fails; no store is returned.
func OpenStore(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&s.opts)
	}
	db, err := LoadDir(ctx, dir, WithLogger(s.opts.logger))
	if err != nil {
		return nil, err
	}
	s.Replace(db)
	return s, nil
}

// Database returns the active database.
func (s *Store) Database() *Database { return s.current.Load() }

// Replace installs db as the active database. Nil is ignored.
func (s *Store) Replace(db *Database) {
	if db == nil {
		return
	}
	s.current.Store(db)
	advisoryPackages.Set(float64(db.Packages()))
}

// Reload loads the database directory again and swaps it in.
func (s *Store) Reload(ctx context.Context) error {
	if s.dir == "" {
		return ErrNoDirectory
	}
	db, err := LoadDir(ctx, s.dir, WithLogger(s.opts.logger))
	if err != nil {
		return err
	}
	s.Replace(db)
	s.opts.logger.Info("advisory database reloaded",
		slog.String("dir", s.dir),
		slog.Int("packages", db.Packages()))
	return nil
}

// Watch reloads the database whenever either document changes.
//
// # Description
//
// Registers the directory with fsnotify before returning, then processes
// events in a goroutine until ctx is canceled. Bursts of writes are
// debounced into a single reload. Reload failures are logged and the
// previous database stays active.
//
// # Outputs
//
//   - error: Non-nil if the watcher could not be started.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return ErrNoDirectory
	}
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watching {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.watching = true

	go s.watchLoop(ctx, w)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer func() {
		w.Close()
		s.watchMu.Lock()
		s.watching = false
		s.watchMu.Unlock()
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isDocumentEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.opts.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.opts.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			if err := s.Reload(ctx); err != nil {
				s.opts.logger.Error("advisory reload failed, keeping previous database",
					slog.String("dir", s.dir),
					slog.String("error", err.Error()))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.opts.logger.Warn("advisory watcher error", slog.String("error", err.Error()))
		}
	}
}

func isDocumentEvent(e fsnotify.Event) bool {
	switch filepath.Base(e.Name) {
	case LookupFile, DatabaseFile:
	default:
		return false
	}
	return e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename)
}

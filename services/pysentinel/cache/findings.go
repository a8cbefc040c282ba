// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

const keyPrefix = "findings/v1/"

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysentinel_cache_lookups_total",
		Help: "Findings cache lookups by result",
	}, []string{"result"})
)

// Key identifies one scan of one file under one rules version.
type Key struct {
	ContentHash     string
	Path            string
	LanguageVersion ast.LanguageVersion
	RulesVersion    string
}

// NewKey builds a key from the raw file content.
func NewKey(content []byte, file ast.SourceFile, rulesVersion string) Key {
	sum := sha256.Sum256(content)
	lang := file.LanguageVersion
	if lang == (ast.LanguageVersion{}) {
		lang = ast.DefaultLanguageVersion
	}
	return Key{
		ContentHash:     hex.EncodeToString(sum[:]),
		Path:            file.Path,
		LanguageVersion: lang,
		RulesVersion:    rulesVersion,
	}
}

// bytes returns the BadgerDB key.
func (k Key) bytes() []byte {
	return []byte(keyPrefix + k.RulesVersion + "/" + k.LanguageVersion.String() + "/" + k.ContentHash + "/" + k.Path)
}

type cachedScan struct {
	Findings []safety.Finding `json:"findings"`
}

// FindingsCache is a BadgerDB-backed cache of per-file scan results.
//
// Thread Safety: Safe for concurrent use.
type FindingsCache struct {
	db       *badger.DB
	cfg      Config
	gc       *gcRunner
	inMemory bool
}

// Open opens the cache described by cfg.
//
// Outputs:
//
//	*FindingsCache - Open cache. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*FindingsCache, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	c := &FindingsCache{db: db, cfg: cfg, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		c.gc.start()
	}
	return c, nil
}

// OpenInMemory opens an in-memory cache. Data is lost on Close.
func OpenInMemory() (*FindingsCache, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (c *FindingsCache) Close() error {
	if c.gc != nil {
		c.gc.stop()
	}
	return c.db.Close()
}

// Get returns the cached findings for key.
//
// Outputs:
//
//	[]safety.Finding - Cached findings. Fix is nil; FixName is kept.
//	bool - False on a miss.
//	error - Non-nil on storage or decode failure.
func (c *FindingsCache) Get(ctx context.Context, key Key) ([]safety.Finding, bool, error) {
	var entry cachedScan
	err := withReadTxn(ctx, c.db, func(txn *badger.Txn) error {
		item, err := txn.Get(key.bytes())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache get %s: %w", key.Path, err)
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return entry.Findings, true, nil
}

// Put stores findings under key with the configured TTL.
func (c *FindingsCache) Put(ctx context.Context, key Key, findings []safety.Finding) error {
	val, err := json.Marshal(cachedScan{Findings: findings})
	if err != nil {
		return fmt.Errorf("encode cached findings: %w", err)
	}
	err = withTxn(ctx, c.db, func(txn *badger.Txn) error {
		e := badger.NewEntry(key.bytes(), val)
		if c.cfg.TTL > 0 {
			e = e.WithTTL(c.cfg.TTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key.Path, err)
	}
	return nil
}

// Purge deletes every cached scan.
func (c *FindingsCache) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("findings cache purged", slog.Bool("in_memory", c.inMemory))
	}
	return nil
}

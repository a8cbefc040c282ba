// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan runs the detectors over files and directories and applies
// fixes file by file.
//
// # Description
//
// Engine ties together the parser, the detector table, the optional
// findings cache and the batch fixer. Files are scanned in parallel; each
// file's fixes are applied strictly one after another.
//
// # Thread Safety
//
// Engine is safe for concurrent use once constructed.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/cache"
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/detectors"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/fixes"
)

// DefaultWorkers is the default number of files scanned concurrently.
const DefaultWorkers = 8

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables the findings cache.
func WithCache(c *cache.FindingsCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithWorkers bounds the number of files scanned concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithChecks restricts scanning and fixing to the given checks.
func WithChecks(ids ...safety.CheckID) Option {
	return func(e *Engine) { e.checks = ids }
}

// WithLanguageVersion sets the Python version assumed for files found by
// ScanPaths.
func WithLanguageVersion(v ast.LanguageVersion) Option {
	return func(e *Engine) { e.languageVersion = v }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine scans Python sources for security findings.
type Engine struct {
	rules           *config.Rules
	parser          *ast.Parser
	analyzer        *detectors.Analyzer
	cache           *cache.FindingsCache
	checks          []safety.CheckID
	workers         int
	languageVersion ast.LanguageVersion
	logger          *slog.Logger
	cacheVersion    string
}

// NewEngine creates an Engine over rules.
func NewEngine(rules *config.Rules, opts ...Option) *Engine {
	e := &Engine{
		rules:           rules,
		workers:         DefaultWorkers,
		languageVersion: ast.DefaultLanguageVersion,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parser = ast.NewParser(ast.WithLogger(e.logger))
	e.analyzer = detectors.NewAnalyzer(rules,
		detectors.WithChecks(e.checks...),
		detectors.WithLogger(e.logger),
	)

	ids := make([]string, 0, len(e.checks))
	for _, id := range e.checks {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	e.cacheVersion = rules.Version + "+" + strings.Join(ids, ",")
	return e
}

// Rules returns the engine's rules.
func (e *Engine) Rules() *config.Rules { return e.rules }

// Parser returns the engine's parser.
func (e *Engine) Parser() *ast.Parser { return e.parser }

// ScanSource scans one file's content.
//
// Description:
//
//	Parses the content and dispatches every node to the detectors
//	registered for its kind. Results are served from and stored in the
//	findings cache when one is configured; cached findings carry FixName
//	but no Fix.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	file - Path and declared language version of the content.
//	content - Raw source bytes.
//
// Outputs:
//
//	[]safety.Finding - Findings ordered by position then check ID.
//	error - Parse failure (wrapping ast errors) or cancellation.
func (e *Engine) ScanSource(ctx context.Context, file ast.SourceFile, content []byte) ([]safety.Finding, error) {
	ctx, span := tracer.Start(ctx, "scan.ScanSource",
		trace.WithAttributes(
			attribute.String("file", file.Path),
			attribute.Int("size", len(content)),
		),
	)
	defer span.End()
	start := time.Now()

	var key cache.Key
	if e.cache != nil {
		key = cache.NewKey(content, file, e.cacheVersion)
		findings, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.Warn("findings cache read failed",
				slog.String("file", file.Path),
				slog.String("error", err.Error()))
		case ok:
			span.SetAttributes(attribute.Bool("cached", true))
			filesScanned.WithLabelValues("cached").Inc()
			return findings, nil
		}
	}

	tree, err := e.parser.Parse(ctx, content, file)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		filesScanned.WithLabelValues("error").Inc()
		return nil, err
	}
	findings, err := e.analyzer.Analyze(ctx, tree)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis canceled")
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, key, findings); err != nil {
			e.logger.Warn("findings cache write failed",
				slog.String("file", file.Path),
				slog.String("error", err.Error()))
		}
	}

	for _, f := range findings {
		findingsTotal.WithLabelValues(string(f.Check)).Inc()
	}
	filesScanned.WithLabelValues("ok").Inc()
	scanDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("findings", len(findings)))
	return findings, nil
}

// FileResult is the outcome of scanning one file.
type FileResult struct {
	Path     string           `json:"path"`
	Findings []safety.Finding `json:"findings"`
	Error    string           `json:"error,omitempty"`
	Err      error            `json:"-"`
}

// Result aggregates a multi-file scan.
type Result struct {
	Files []FileResult `json:"files"`
}

// Findings returns every finding across files, ordered by file.
func (r *Result) Findings() []safety.Finding {
	var out []safety.Finding
	for _, f := range r.Files {
		out = append(out, f.Findings...)
	}
	return out
}

// Failed returns the files that could not be scanned.
func (r *Result) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// ScanPaths scans every Python file under paths.
//
// Description:
//
//	Collects files with CollectFiles, then scans them with at most
//	Workers files in flight. A file that cannot be read or parsed is
//	recorded in its FileResult and does not stop the run.
//
// Outputs:
//
//	*Result - One FileResult per file, sorted by path.
//	error - Only for a path that cannot be collected, or cancellation.
func (e *Engine) ScanPaths(ctx context.Context, paths []string) (*Result, error) {
	files, err := CollectFiles(paths)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "scan.ScanPaths",
		trace.WithAttributes(attribute.Int("files", len(files))),
	)
	defer span.End()

	var (
		mu  sync.Mutex
		res = &Result{Files: make([]FileResult, 0, len(files))}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr := e.scanFile(gctx, path)
			if errors.Is(fr.Err, context.Canceled) || errors.Is(fr.Err, context.DeadlineExceeded) {
				return fr.Err
			}
			mu.Lock()
			res.Files = append(res.Files, fr)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	return res, nil
}

func (e *Engine) scanFile(ctx context.Context, path string) FileResult {
	fr := FileResult{Path: path}
	content, err := os.ReadFile(path)
	if err == nil {
		fr.Findings, err = e.ScanSource(ctx, e.sourceFile(path), content)
	}
	if err != nil {
		fr.Err, fr.Error = err, err.Error()
		e.logger.Warn("skipping file", slog.String("file", path), slog.String("error", err.Error()))
	}
	return fr
}

func (e *Engine) sourceFile(path string) ast.SourceFile {
	return ast.SourceFile{Path: path, LanguageVersion: e.languageVersion}
}

// FixSource applies every available fix to one file's content.
//
// Description:
//
//	Scans the content, then hands all findings to fixes.ApplyBatch, which
//	applies them one at a time on a freshly re-parsed tree. When checks
//	are given, only those checks are fixed.
//
// Outputs:
//
//	*fixes.BatchResult - Final source and per-finding outcome.
//	error - Parse failure or cancellation.
func (e *Engine) FixSource(ctx context.Context, file ast.SourceFile, content []byte, checks ...safety.CheckID) (*fixes.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "scan.FixSource",
		trace.WithAttributes(attribute.String("file", file.Path)),
	)
	defer span.End()

	tree, err := e.parser.Parse(ctx, content, file)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}
	analyzer := e.analyzer
	if len(checks) > 0 {
		analyzer = detectors.NewAnalyzer(e.rules, detectors.WithChecks(checks...), detectors.WithLogger(e.logger))
	}
	findings, err := analyzer.Analyze(ctx, tree)
	if err != nil {
		return nil, err
	}

	res, err := fixes.ApplyBatch(ctx, e.parser, tree, findings)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, f := range res.Applied {
		fixesApplied.WithLabelValues(string(f.Check)).Inc()
	}
	span.SetAttributes(
		attribute.Int("applied", len(res.Applied)),
		attribute.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// FixFile reads path, fixes it and optionally writes the result back.
func (e *Engine) FixFile(ctx context.Context, path string, write bool, checks ...safety.CheckID) (*fixes.BatchResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := e.FixSource(ctx, e.sourceFile(path), content, checks...)
	if err != nil {
		return nil, err
	}
	if write && res.Changed() {
		if err := os.WriteFile(path, res.Source, info.Mode().Perm()); err != nil {
			return res, err
		}
		e.logger.Info("fixed file",
			slog.String("file", path),
			slog.Int("applied", len(res.Applied)))
	}
	return res, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detectors holds the Python security detectors and the dispatch
// table that routes syntax nodes to them.
//
// # Description
//
// Each detector is a pure function over one node of a declared kind. The
// Analyzer walks the flat node arena of a parsed file and hands every node
// to the detectors registered for its kind. Detectors are local and
// syntactic: they never follow values across functions or modules and
// return no finding when a node has an unexpected shape.
//
// # Thread Safety
//
// Detectors share no mutable state. An Analyzer may analyze many trees
// concurrently, and may split one tree across goroutines.
package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// Context is the read-only input shared by every detector invocation.
type Context struct {
	Tree  *ast.Tree
	Rules *config.Rules
}

// DetectFunc inspects one node and returns zero or more findings.
type DetectFunc func(c *Context, id ast.NodeID) []safety.Finding

// Detector binds a detection function to the node kinds it handles.
type Detector struct {
	Name   string
	Kinds  []ast.Kind
	Checks []safety.CheckID
	Detect DetectFunc
}

// Builtin returns every built-in detector.
func Builtin() []Detector {
	return []Detector{
		{Name: "sql-string", Kinds: []ast.Kind{ast.KindString}, Checks: []safety.CheckID{safety.CheckSQLInterpolation}, Detect: detectSQLString},
		{Name: "raw-sql", Kinds: []ast.Kind{ast.KindCall}, Checks: []safety.CheckID{safety.CheckRawSQL}, Detect: detectRawSQL},
		{Name: "deserialization", Kinds: []ast.Kind{ast.KindCall}, Checks: []safety.CheckID{safety.CheckDeserialization}, Detect: detectDeserialization},
		{Name: "tls", Kinds: []ast.Kind{ast.KindCall}, Checks: []safety.CheckID{safety.CheckTLSVersion, safety.CheckTLSBadProtocol}, Detect: detectTLS},
		{Name: "timing", Kinds: []ast.Kind{ast.KindComparison}, Checks: []safety.CheckID{safety.CheckTimingAttack}, Detect: detectTiming},
		{Name: "middleware", Kinds: []ast.Kind{ast.KindAssignment}, Checks: []safety.CheckID{safety.CheckMissingCSRF, safety.CheckMissingClickjack}, Detect: detectMiddleware},
		{Name: "try-except-continue", Kinds: []ast.Kind{ast.KindTry}, Checks: []safety.CheckID{safety.CheckTryExceptContinue}, Detect: detectTryExceptContinue},
		{Name: "shell", Kinds: []ast.Kind{ast.KindCall}, Checks: []safety.CheckID{safety.CheckShellInjection}, Detect: detectShell},
		{Name: "tempfile", Kinds: []ast.Kind{ast.KindCall}, Checks: []safety.CheckID{safety.CheckInsecureTempfile}, Detect: detectTempfile},
		{Name: "templates", Kinds: []ast.Kind{ast.KindCall}, Checks: []safety.CheckID{safety.CheckMakoEscaping, safety.CheckJinja2Autoescape}, Detect: detectTemplates},
	}
}

// parallelThreshold is the arena size below which a tree is analyzed on
// the calling goroutine.
const parallelThreshold = 4096

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithChecks restricts reported findings to the given checks.
func WithChecks(ids ...safety.CheckID) Option {
	return func(a *Analyzer) {
		if len(ids) == 0 {
			return
		}
		a.enabled = make(map[safety.CheckID]struct{}, len(ids))
		for _, id := range ids {
			a.enabled[id] = struct{}{}
		}
	}
}

// WithParallelism sets how many goroutines may share one tree.
func WithParallelism(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

// WithDetectors replaces the built-in detector set.
func WithDetectors(ds ...Detector) Option {
	return func(a *Analyzer) {
		a.detectors = ds
	}
}

// WithLogger sets the logger for recovered detector failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Analyzer dispatches syntax nodes to detectors.
//
// Thread Safety:
//
//	Immutable after NewAnalyzer; safe for concurrent use.
type Analyzer struct {
	rules       *config.Rules
	detectors   []Detector
	table       map[ast.Kind][]Detector
	enabled     map[safety.CheckID]struct{}
	parallelism int
	logger      *slog.Logger
}

// NewAnalyzer builds the dispatch table for rules.
func NewAnalyzer(rules *config.Rules, opts ...Option) *Analyzer {
	a := &Analyzer{
		rules:       rules,
		detectors:   Builtin(),
		parallelism: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.table = make(map[ast.Kind][]Detector)
	for _, d := range a.detectors {
		if !a.anyEnabled(d.Checks) {
			continue
		}
		for _, k := range d.Kinds {
			a.table[k] = append(a.table[k], d)
		}
	}
	return a
}

// Rules returns the rules the analyzer was built with.
func (a *Analyzer) Rules() *config.Rules { return a.rules }

// Analyze runs every registered detector over tree.
//
// Description:
//
//	Visits every arena node once. Large trees are split into contiguous
//	node ranges analyzed concurrently; the tree is read-only throughout.
//	A panicking detector is recovered and contributes nothing for that
//	node. Findings are returned sorted by position, then check.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	tree - Parsed file. Not modified.
//
// Outputs:
//
//	[]safety.Finding - Findings for enabled checks.
//	error - Only when ctx is canceled.
func (a *Analyzer) Analyze(ctx context.Context, tree *ast.Tree) ([]safety.Finding, error) {
	c := &Context{Tree: tree, Rules: a.rules}
	n := len(tree.Nodes)

	workers := a.parallelism
	if n < parallelThreshold || workers < 2 {
		workers = 1
	}
	chunk := (n + workers - 1) / workers

	var (
		mu  sync.Mutex
		out []safety.Finding
	)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			local := a.analyzeRange(gctx, c, lo, hi)
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			out = append(out, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortFindings(out)
	return out, nil
}

func (a *Analyzer) analyzeRange(ctx context.Context, c *Context, lo, hi int) []safety.Finding {
	var out []safety.Finding
	for i := lo; i < hi; i++ {
		if i%1024 == 0 && ctx.Err() != nil {
			return out
		}
		id := ast.NodeID(i)
		for _, d := range a.table[c.Tree.Nodes[i].Kind] {
			for _, f := range a.run(d, c, id) {
				if a.isEnabled(f.Check) {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

// run invokes one detector, converting a panic into no findings.
func (a *Analyzer) run(d Detector, c *Context, id ast.NodeID) (findings []safety.Finding) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("detector failed on node",
				slog.String("detector", d.Name),
				slog.String("file", c.Tree.File.Path),
				slog.Int("node", int(id)),
				slog.String("panic", fmt.Sprint(r)))
			findings = nil
		}
	}()
	return d.Detect(c, id)
}

func (a *Analyzer) isEnabled(id safety.CheckID) bool {
	if a.enabled == nil {
		return true
	}
	_, ok := a.enabled[id]
	return ok
}

func (a *Analyzer) anyEnabled(ids []safety.CheckID) bool {
	for _, id := range ids {
		if a.isEnabled(id) {
			return true
		}
	}
	return false
}

func sortFindings(fs []safety.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i].Anchor.Span, fs[j].Anchor.Span
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if fs[i].Check != fs[j].Check {
			return fs[i].Check < fs[j].Check
		}
		return a.End < b.End
	})
}

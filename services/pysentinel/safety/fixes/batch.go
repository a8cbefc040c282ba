// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// TreeParser re-parses edited source. *ast.Parser satisfies it.
type TreeParser interface {
	Parse(ctx context.Context, content []byte, file ast.SourceFile) (*ast.Tree, error)
}

// SkipReason explains why a fix in a batch was not applied.
type SkipReason string

const (
	SkipNoFix         SkipReason = "no fix available"
	SkipTargetGone    SkipReason = "target no longer exists"
	SkipNotApplicable SkipReason = "target already fixed"
	SkipApplyFailed   SkipReason = "fix failed"
	SkipSyntaxError   SkipReason = "fix would introduce a syntax error"
)

// Skipped records a finding whose fix was not applied.
type Skipped struct {
	Finding safety.Finding `json:"finding"`
	Reason  SkipReason     `json:"reason"`
	Detail  string         `json:"detail,omitempty"`
}

// BatchResult is the outcome of applying a batch of fixes to one file.
type BatchResult struct {
	// Original is the source before any edit.
	Original []byte
	// Source is the source after every applied edit.
	Source []byte
	// Tree is the parse of Source.
	Tree *ast.Tree
	// Applied lists the findings whose fixes changed the source, in order.
	Applied []safety.Finding
	// Skipped lists the findings whose fixes were not applied.
	Skipped []Skipped
}

// Changed reports whether any fix was applied.
func (r *BatchResult) Changed() bool { return len(r.Applied) > 0 }

// ApplyBatch applies the fixes of findings to one file, one at a time.
//
// Description:
//
//	Fixes run in the order given. Before each fix, the finding's anchor
//	is carried through every edit committed so far and re-resolved in the
//	freshly parsed tree; the fix then re-validates with IsApplicable and
//	produces edits against that tree. Each edit set is committed and the
//	source re-parsed before the next fix looks for its target, so no fix
//	ever sees a stale location. A fix that would turn a clean file into one
//	with syntax errors is rejected.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	parser - Parser used to re-parse after every committed edit.
//	tree - The tree the findings were produced from.
//	findings - Findings for this file; those without a fix are skipped.
//
// Outputs:
//
//	*BatchResult - Final source, tree, and per-finding outcome.
//	error - Only for cancellation or a re-parse failure.
//
// Thread Safety:
//
//	Safe to call concurrently for different files. A single file's batch
//	is strictly sequential.
func ApplyBatch(ctx context.Context, parser TreeParser, tree *ast.Tree, findings []safety.Finding) (*BatchResult, error) {
	res := &BatchResult{Original: tree.Source, Source: tree.Source, Tree: tree}
	var history []ast.EditSet
	current := tree

	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if f.Fix == nil {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipNoFix})
			continue
		}

		anchor := f.Anchor
		for _, set := range history {
			anchor.Span = set.MapSpan(anchor.Span)
		}
		node := current.Resolve(anchor)
		if !node.Valid() {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipTargetGone})
			continue
		}

		fctx := safety.FixContext{Tree: current, Selection: safety.Selection{Node: node}}
		if !f.Fix.IsApplicable(fctx) {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipNotApplicable})
			continue
		}

		edits, err := f.Fix.Apply(fctx)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipApplyFailed, Detail: err.Error()})
			continue
		}
		if len(edits) == 0 {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipNotApplicable})
			continue
		}
		edits, err = edits.Normalize()
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipApplyFailed, Detail: err.Error()})
			continue
		}

		next, err := edits.Apply(current.Source)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipApplyFailed, Detail: err.Error()})
			continue
		}
		nextTree, err := parser.Parse(ctx, next, current.File)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			return res, fmt.Errorf("re-parse after %s fix: %w", f.Check, err)
		}
		if nextTree.HasErrors && !current.HasErrors {
			slog.Debug("rejecting fix that breaks syntax",
				slog.String("file", current.File.Path),
				slog.String("check", string(f.Check)))
			res.Skipped = append(res.Skipped, Skipped{Finding: f, Reason: SkipSyntaxError})
			continue
		}

		history = append(history, edits)
		current = nextTree
		res.Applied = append(res.Applied, f)
	}

	res.Source = current.Source
	res.Tree = current
	return res, nil
}

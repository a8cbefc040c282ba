// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detectors

import (
	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// detectTryExceptContinue flags except clauses that catch everything and
// do nothing but continue. Comments and docstring literals in the body are
// ignored; a comment explaining the swallow does not excuse it.
func detectTryExceptContinue(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	if c.Rules.SkipTryExcept(t.File.Name()) {
		return nil
	}

	var out []safety.Finding
	for _, clause := range t.NamedChildren(id) {
		if t.Kind(clause) != ast.KindExcept {
			continue
		}
		body := t.ChildOfKind(clause, ast.KindBlock)
		if !body.Valid() || !onlyContinue(t, body) {
			continue
		}
		if exc := exceptionType(t, clause); exc.Valid() && !c.Rules.IsBroadException(t.Text(exc)) {
			continue
		}
		out = append(out, safety.NewFinding(t, clause, safety.CheckTryExceptContinue,
			"Broad exception silently swallowed with continue", nil))
	}
	return out
}

// onlyContinue reports whether every executable statement in body is a
// bare continue, with at least one present.
func onlyContinue(t *ast.Tree, body ast.NodeID) bool {
	seen := false
	for _, stmt := range t.NamedChildren(body) {
		if t.IsDocstringStatement(stmt) {
			continue
		}
		if t.Kind(stmt) != ast.KindContinue {
			return false
		}
		seen = true
	}
	return seen
}

// exceptionType returns the declared exception type of an except clause,
// or NoNode for a bare except.
func exceptionType(t *ast.Tree, clause ast.NodeID) ast.NodeID {
	for _, c := range t.NamedChildren(clause) {
		switch t.Kind(c) {
		case ast.KindBlock:
			return ast.NoNode
		case ast.KindAsPattern:
			if kids := t.NamedChildren(c); len(kids) > 0 {
				return kids[0]
			}
			return ast.NoNode
		}
		return c
	}
	return ast.NoNode
}

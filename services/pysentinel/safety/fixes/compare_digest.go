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
	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// CompareDigestFix rewrites "a == b" into a constant-time comparison call
// and "a != b" into its negation.
type CompareDigestFix struct {
	// Function is the dotted comparison function, e.g. hmac.compare_digest.
	Function string
}

// NewCompareDigestFix creates a fix that calls function.
func NewCompareDigestFix(function string) *CompareDigestFix {
	return &CompareDigestFix{Function: function}
}

// Name implements safety.Fix.
func (f *CompareDigestFix) Name() string { return "Use " + f.Function }

// IsApplicable implements safety.Fix.
func (f *CompareDigestFix) IsApplicable(ctx safety.FixContext) bool {
	_, _, _, ok := EqualityOperands(ctx.Tree, enclosing(ctx.Tree, ctx.SelectionNode(), ast.KindComparison))
	return ok
}

// Apply implements safety.Fix.
func (f *CompareDigestFix) Apply(ctx safety.FixContext) (ast.EditSet, error) {
	tree := ctx.Tree
	cmp := enclosing(tree, ctx.SelectionNode(), ast.KindComparison)
	left, op, right, ok := EqualityOperands(tree, cmp)
	if !ok {
		return nil, nil
	}

	fn, edits := reference(tree, f.Function)
	call := fn + "(" + tree.Text(left) + ", " + tree.Text(right) + ")"
	if op == "!=" {
		call = "not " + call
	}
	return append(edits, tree.Replace(cmp, call)), nil
}

// EqualityOperands splits a two-operand == or != comparison. Chained
// comparisons and other operators yield false.
func EqualityOperands(tree *ast.Tree, cmp ast.NodeID) (left ast.NodeID, op string, right ast.NodeID, ok bool) {
	if tree.Kind(cmp) != ast.KindComparison {
		return ast.NoNode, "", ast.NoNode, false
	}
	operands := tree.NamedChildren(cmp)
	if len(operands) != 2 {
		return ast.NoNode, "", ast.NoNode, false
	}
	for _, c := range tree.Node(cmp).Children {
		n := tree.Node(c)
		if n.Named {
			continue
		}
		switch n.Type {
		case "==", "!=":
			if op != "" {
				return ast.NoNode, "", ast.NoNode, false
			}
			op = n.Type
		default:
			return ast.NoNode, "", ast.NoNode, false
		}
	}
	if op == "" {
		return ast.NoNode, "", ast.NoNode, false
	}
	return operands[0], op, operands[1], true
}

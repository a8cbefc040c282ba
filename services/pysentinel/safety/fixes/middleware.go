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

// MiddlewareFix appends a middleware path to the settings MIDDLEWARE list.
type MiddlewareFix struct {
	// Variable is the settings name holding the list, e.g. MIDDLEWARE.
	Variable string
	// Path is the dotted middleware class path to add.
	Path string
}

// NewMiddlewareFix creates a fix that inserts path into variable.
func NewMiddlewareFix(variable, path string) *MiddlewareFix {
	return &MiddlewareFix{Variable: variable, Path: path}
}

// Name implements safety.Fix.
func (f *MiddlewareFix) Name() string { return "Add " + f.Path + " to " + f.Variable }

// IsApplicable implements safety.Fix.
func (f *MiddlewareFix) IsApplicable(ctx safety.FixContext) bool {
	list := f.target(ctx)
	return list.Valid() && !f.contains(ctx.Tree, list)
}

// Apply implements safety.Fix.
func (f *MiddlewareFix) Apply(ctx safety.FixContext) (ast.EditSet, error) {
	list := f.target(ctx)
	if !list.Valid() {
		return nil, safety.ErrTargetNotFound
	}
	if f.contains(ctx.Tree, list) {
		return nil, nil
	}

	quote := "'"
	for _, el := range ctx.Tree.NamedChildren(list) {
		if lit, ok := ctx.Tree.StringValue(el); ok && len(lit.Quote) == 1 {
			quote = lit.Quote
			break
		}
	}

	edit, ok := appendElement(ctx.Tree, list, "]", quote+f.Path+quote)
	if !ok {
		return nil, safety.ErrTargetNotFound
	}
	return ast.EditSet{edit}, nil
}

// target finds the list literal assigned to Variable nearest the selection.
func (f *MiddlewareFix) target(ctx safety.FixContext) ast.NodeID {
	tree := ctx.Tree
	sel := ctx.SelectionNode()

	if assign := enclosing(tree, sel, ast.KindAssignment); assign.Valid() {
		if list := MiddlewareList(tree, assign, f.Variable); list.Valid() {
			return list
		}
	}

	var origin uint32
	if sel.Valid() {
		origin = tree.Node(sel).Span.Start
	}
	best := ast.NoNode
	var bestDist uint32
	for _, assign := range tree.OfKind(ast.KindAssignment) {
		list := MiddlewareList(tree, assign, f.Variable)
		if !list.Valid() {
			continue
		}
		start := tree.Node(list).Span.Start
		dist := start - origin
		if origin > start {
			dist = origin - start
		}
		if !best.Valid() || dist < bestDist {
			best, bestDist = list, dist
		}
	}
	return best
}

func (f *MiddlewareFix) contains(tree *ast.Tree, list ast.NodeID) bool {
	for _, p := range MiddlewarePaths(tree, list) {
		if p == f.Path {
			return true
		}
	}
	return false
}

// MiddlewareList returns the list literal of "variable = [...]", or NoNode.
func MiddlewareList(tree *ast.Tree, assign ast.NodeID, variable string) ast.NodeID {
	if tree.Kind(assign) != ast.KindAssignment {
		return ast.NoNode
	}
	left := tree.Field(assign, "left")
	if tree.Kind(left) != ast.KindIdentifier || tree.Text(left) != variable {
		return ast.NoNode
	}
	right := tree.Field(assign, "right")
	if tree.Kind(right) != ast.KindList {
		return ast.NoNode
	}
	return right
}

// MiddlewarePaths returns the decoded string literal elements of a list literal.
func MiddlewarePaths(tree *ast.Tree, list ast.NodeID) []string {
	var out []string
	for _, el := range tree.NamedChildren(list) {
		if lit, ok := tree.StringValue(el); ok {
			out = append(out, lit.Value())
		}
	}
	return out
}

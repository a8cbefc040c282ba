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
	"strings"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// ShellEscapeFix wraps shell command arguments in a quoting call.
//
// The command argument may be a single expression or a list literal. Plain
// string literals and elements already passed through a quoting function
// are left alone, so repeated application reaches a fixed point.
type ShellEscapeFix struct {
	// QuoteFunction is the dotted quoting function, e.g. shlex.quote.
	QuoteFunction string
	// EscapedCallees are dotted callee names treated as already quoting.
	EscapedCallees []string
}

// NewShellEscapeFix creates a shell escaping fix.
func NewShellEscapeFix(quoteFunction string, escapedCallees []string) *ShellEscapeFix {
	return &ShellEscapeFix{QuoteFunction: quoteFunction, EscapedCallees: escapedCallees}
}

// Name implements safety.Fix.
func (f *ShellEscapeFix) Name() string { return "Escape shell arguments with " + f.QuoteFunction }

// IsApplicable implements safety.Fix.
func (f *ShellEscapeFix) IsApplicable(ctx safety.FixContext) bool {
	return len(f.Pending(ctx.Tree, f.argument(ctx))) > 0
}

// Apply implements safety.Fix.
func (f *ShellEscapeFix) Apply(ctx safety.FixContext) (ast.EditSet, error) {
	tree := ctx.Tree
	arg := f.argument(ctx)
	if !arg.Valid() {
		return nil, safety.ErrTargetNotFound
	}
	pending := f.Pending(tree, arg)
	if len(pending) == 0 {
		return nil, nil
	}

	fn, edits := reference(tree, f.QuoteFunction)
	for _, el := range pending {
		span := tree.Node(el).Span
		edits = append(edits,
			ast.Insert(span.Start, fn+"("),
			ast.Insert(span.End, ")"),
		)
	}
	return edits, nil
}

// CommandArgument returns the command argument of a process call: the
// first positional argument, else the "args" keyword value.
func CommandArgument(tree *ast.Tree, call ast.NodeID) ast.NodeID {
	if pos := tree.PositionalArgs(call); len(pos) > 0 {
		return pos[0]
	}
	if kw := tree.KeywordArg(call, "args"); kw.Valid() {
		return tree.Field(kw, "value")
	}
	return ast.NoNode
}

// Pending returns the elements of arg that still need quoting.
func (f *ShellEscapeFix) Pending(tree *ast.Tree, arg ast.NodeID) []ast.NodeID {
	if !arg.Valid() {
		return nil
	}
	elems := []ast.NodeID{arg}
	switch tree.Kind(arg) {
	case ast.KindList, ast.KindTuple:
		elems = tree.NamedChildren(arg)
	}
	var out []ast.NodeID
	for _, el := range elems {
		if f.needsQuoting(tree, el) {
			out = append(out, el)
		}
	}
	return out
}

func (f *ShellEscapeFix) needsQuoting(tree *ast.Tree, el ast.NodeID) bool {
	switch tree.Kind(el) {
	case ast.KindString:
		lit, ok := tree.StringValue(el)
		return ok && strings.ContainsAny(lit.Prefix, "fF")
	case ast.KindConcatenatedString:
		for _, part := range tree.NamedChildren(el) {
			if f.needsQuoting(tree, part) {
				return true
			}
		}
		return false
	case ast.KindListSplat, ast.KindDictionarySplat, ast.KindKeywordArgument:
		return false
	case ast.KindCall:
		return !f.isEscaped(tree, el)
	}
	return true
}

func (f *ShellEscapeFix) isEscaped(tree *ast.Tree, call ast.NodeID) bool {
	callee := tree.Field(call, "function")
	names := make([]string, 0, 2)
	if dotted, ok := tree.DottedName(callee); ok {
		names = append(names, dotted)
	}
	if q, ok := tree.QualifiedName(callee); ok {
		names = append(names, q)
	}
	for _, n := range names {
		if n == f.QuoteFunction {
			return true
		}
		for _, e := range f.EscapedCallees {
			if n == e {
				return true
			}
		}
	}
	return false
}

// argument resolves the command argument from the selection: the
// positional argument covering the sub-range if one is given, else the
// command argument of the enclosing call.
func (f *ShellEscapeFix) argument(ctx safety.FixContext) ast.NodeID {
	tree := ctx.Tree
	call := enclosing(tree, ctx.Selection.Node, ast.KindCall)
	if !call.Valid() {
		return ast.NoNode
	}
	if sub := ctx.Selection.Sub; sub != nil {
		for _, a := range tree.PositionalArgs(call) {
			if tree.Node(a).Span.Contains(*sub) {
				return a
			}
		}
	}
	return CommandArgument(tree, call)
}

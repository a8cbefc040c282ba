// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fixes implements the quick-fix strategies that remediate
// security findings, and the serialized batch applier that runs them over
// a whole file.
//
// Every strategy resolves its target from the FixContext it is handed and
// returns text edits against that context's tree. Applying a strategy to an
// already-fixed construct returns no edits.
package fixes

import (
	"strings"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
)

// reference returns source text naming the dotted target in tree, plus the
// import edit needed to make that text resolve.
func reference(tree *ast.Tree, dotted string) (string, ast.EditSet) {
	if local, ok := tree.Imports.LocalFor(dotted); ok {
		return local, nil
	}
	module, attr := splitLast(dotted)
	if module == "" {
		return dotted, nil
	}
	if local, ok := tree.Imports.LocalFor(module); ok {
		return local + "." + attr, nil
	}
	return dotted, ast.EditSet{tree.ImportEdit(module)}
}

func splitLast(dotted string) (string, string) {
	i := strings.LastIndexByte(dotted, '.')
	if i < 0 {
		return "", dotted
	}
	return dotted[:i], dotted[i+1:]
}

// enclosing returns id or its nearest ancestor of kind k.
func enclosing(tree *ast.Tree, id ast.NodeID, k ast.Kind) ast.NodeID {
	if tree.Kind(id) == k {
		return id
	}
	return tree.Ancestor(id, k)
}

// trailingComma returns the comma token following the last element of a
// bracketed sequence, or NoNode.
func trailingComma(tree *ast.Tree, seq, last ast.NodeID) ast.NodeID {
	lastEnd := tree.Node(last).Span.End
	for _, c := range tree.Node(seq).Children {
		n := tree.Node(c)
		if n.Type == "," && n.Span.Start >= lastEnd {
			return c
		}
	}
	return ast.NoNode
}

// closingToken returns the last child of seq with the given token type.
func closingToken(tree *ast.Tree, seq ast.NodeID, tok string) ast.NodeID {
	kids := tree.Node(seq).Children
	for i := len(kids) - 1; i >= 0; i-- {
		if tree.Node(kids[i]).Type == tok {
			return kids[i]
		}
	}
	return ast.NoNode
}

// appendElement returns the edit that appends text as a new last element
// of a list literal or argument list, following its layout: one element per
// line when the sequence is multi-line, comma-space separated otherwise.
func appendElement(tree *ast.Tree, seq ast.NodeID, closeTok, text string) (ast.TextEdit, bool) {
	elems := tree.NamedChildren(seq)
	if len(elems) == 0 {
		closer := closingToken(tree, seq, closeTok)
		if !closer.Valid() {
			return ast.TextEdit{}, false
		}
		return ast.Insert(tree.Node(closer).Span.Start, text), true
	}

	last := elems[len(elems)-1]
	lastSpan := tree.Node(last).Span
	comma := trailingComma(tree, seq, last)
	multiline := tree.Position(lastSpan.Start).Line != tree.Position(tree.Node(seq).Span.Start).Line

	if multiline {
		indent := tree.LineIndent(lastSpan.Start)
		if comma.Valid() {
			return ast.Insert(tree.Node(comma).Span.End, "\n"+indent+text+","), true
		}
		return ast.Insert(lastSpan.End, ",\n"+indent+text), true
	}
	if comma.Valid() {
		return ast.Insert(tree.Node(comma).Span.End, " "+text+","), true
	}
	return ast.Insert(lastSpan.End, ", "+text), true
}

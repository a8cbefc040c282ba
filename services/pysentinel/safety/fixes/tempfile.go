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

// TempfileFix replaces a call to the insecure temp name function with the
// secure creation function, keeping the arguments as written.
type TempfileFix struct {
	// Insecure is the dotted function to replace, e.g. tempfile.mktemp.
	Insecure string
	// Secure is the dotted replacement, e.g. tempfile.mkstemp.
	Secure string
}

// NewTempfileFix creates a temp file rewrite.
func NewTempfileFix(insecure, secure string) *TempfileFix {
	return &TempfileFix{Insecure: insecure, Secure: secure}
}

// Name implements safety.Fix.
func (f *TempfileFix) Name() string { return "Use " + f.Secure }

// IsApplicable implements safety.Fix.
func (f *TempfileFix) IsApplicable(ctx safety.FixContext) bool {
	return f.target(ctx).Valid()
}

// Apply implements safety.Fix.
func (f *TempfileFix) Apply(ctx safety.FixContext) (ast.EditSet, error) {
	tree := ctx.Tree
	call := f.target(ctx)
	if !call.Valid() {
		return nil, nil
	}
	callee := tree.Field(call, "function")

	insecureModule, _ := splitLast(f.Insecure)
	secureModule, secureLeaf := splitLast(f.Secure)
	if tree.Kind(callee) == ast.KindAttribute && insecureModule == secureModule {
		attr := tree.Field(callee, "attribute")
		return ast.EditSet{tree.Replace(attr, secureLeaf)}, nil
	}

	fn, edits := reference(tree, f.Secure)
	return append(edits, tree.Replace(callee, fn)), nil
}

func (f *TempfileFix) target(ctx safety.FixContext) ast.NodeID {
	call := enclosing(ctx.Tree, ctx.SelectionNode(), ast.KindCall)
	if q, ok := ctx.Tree.CallQualifiedName(call); ok && q == f.Insecure {
		return call
	}
	return ast.NoNode
}

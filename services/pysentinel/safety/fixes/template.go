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

// TemplateKeywordFix appends an escaping keyword argument to a template
// constructor call. Presence is decided by keyword name alone.
type TemplateKeywordFix struct {
	Keyword string
	Value   string
}

// NewTemplateKeywordFix creates a fix adding keyword=value.
func NewTemplateKeywordFix(keyword, value string) *TemplateKeywordFix {
	return &TemplateKeywordFix{Keyword: keyword, Value: value}
}

// Name implements safety.Fix.
func (f *TemplateKeywordFix) Name() string { return "Add " + f.Keyword + "=" + f.Value }

// IsApplicable implements safety.Fix.
func (f *TemplateKeywordFix) IsApplicable(ctx safety.FixContext) bool {
	return f.target(ctx).Valid()
}

// Apply implements safety.Fix.
func (f *TemplateKeywordFix) Apply(ctx safety.FixContext) (ast.EditSet, error) {
	tree := ctx.Tree
	call := f.target(ctx)
	if !call.Valid() {
		return nil, nil
	}
	edit, ok := appendElement(tree, tree.Arguments(call), ")", f.Keyword+"="+f.Value)
	if !ok {
		return nil, safety.ErrTargetNotFound
	}
	return ast.EditSet{edit}, nil
}

// MissingKeyword reports whether call lacks the keyword and could take it.
func (f *TemplateKeywordFix) MissingKeyword(tree *ast.Tree, call ast.NodeID) bool {
	if tree.Kind(tree.Arguments(call)) != ast.KindArgumentList {
		return false
	}
	if tree.HasKwargsSplat(call) {
		return false
	}
	return !tree.KeywordArg(call, f.Keyword).Valid()
}

func (f *TemplateKeywordFix) target(ctx safety.FixContext) ast.NodeID {
	call := enclosing(ctx.Tree, ctx.SelectionNode(), ast.KindCall)
	if !call.Valid() || !f.MissingKeyword(ctx.Tree, call) {
		return ast.NoNode
	}
	return call
}

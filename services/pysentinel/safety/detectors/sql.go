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
	"strings"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// SQLInjectionLikely reports whether any placeholder in s is wrapped in a
// matching pair of quote characters, as in "name = '%s'".
//
// A placeholder at the very start or end of s has no neighbor on one side
// and is skipped.
func SQLInjectionLikely(s, placeholder string) bool {
	if placeholder == "" {
		return false
	}
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], placeholder)
		if j < 0 {
			return false
		}
		pos := i + j
		end := pos + len(placeholder)
		i = end
		if pos == 0 || end >= len(s) {
			continue
		}
		if quotedPair(s[pos-1], s[end]) {
			return true
		}
	}
	return false
}

// allPlaceholdersQuoted reports whether s holds at least one placeholder
// and every placeholder is wrapped in a matching quote pair. A placeholder
// at a boundary counts as unquoted.
func allPlaceholdersQuoted(s, placeholder string) bool {
	if placeholder == "" {
		return false
	}
	count := 0
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], placeholder)
		if j < 0 {
			break
		}
		pos := i + j
		end := pos + len(placeholder)
		i = end
		if pos == 0 || end >= len(s) || !quotedPair(s[pos-1], s[end]) {
			return false
		}
		count++
	}
	return count > 0
}

func quotedPair(before, after byte) bool {
	return before == after && (before == '\'' || before == '"')
}

// detectSQLString flags string literals that quote a %s placeholder.
func detectSQLString(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	if t.IsInsideDocstring(id) {
		return nil
	}
	lit, ok := t.StringValue(id)
	if !ok || !SQLInjectionLikely(lit.Content, c.Rules.SQL.Placeholder) {
		return nil
	}
	return []safety.Finding{safety.NewFinding(t, id, safety.CheckSQLInterpolation,
		"Quoted "+c.Rules.SQL.Placeholder+" placeholder suggests SQL assembled with string formatting; use query parameters", nil)}
}

// detectRawSQL flags raw SQL calls whose query literal quotes every
// placeholder. Any unquoted placeholder suppresses the finding.
func detectRawSQL(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	leaf := t.CalleeLeafName(id)
	if !c.Rules.IsRawSQLMethod(leaf) {
		return nil
	}
	if !t.HasImportedNamespace(c.Rules.SQL.FrameworkNamespace) {
		return nil
	}
	args := t.PositionalArgs(id)
	if len(args) == 0 || t.Kind(args[0]) != ast.KindString {
		return nil
	}
	lit, ok := t.StringValue(args[0])
	if !ok || !allPlaceholdersQuoted(lit.Content, c.Rules.SQL.Placeholder) {
		return nil
	}
	return []safety.Finding{safety.NewFinding(t, id, safety.CheckRawSQL,
		leaf+"() called with a quoted "+c.Rules.SQL.Placeholder+" placeholder; quoting defeats parameter escaping", nil)}
}

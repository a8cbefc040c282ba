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
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/fixes"
)

// detectShell flags process calls that hand unquoted input to a shell.
func detectShell(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	q, ok := t.CallQualifiedName(id)
	if !ok {
		return nil
	}
	switch c.Rules.ShellModeOf(q) {
	case config.ShellNever:
		return nil
	case config.ShellWhenRequested:
		kw := t.KeywordArg(id, "shell")
		if !kw.Valid() || t.Kind(t.Field(kw, "value")) != ast.KindTrue {
			return nil
		}
	}

	fix := fixes.NewShellEscapeFix(c.Rules.Shell.QuoteFunction, c.Rules.Shell.EscapedCallees)
	if len(fix.Pending(t, fixes.CommandArgument(t, id))) == 0 {
		return nil
	}
	return []safety.Finding{safety.NewFinding(t, id, safety.CheckShellInjection,
		q+" runs a shell command built from unquoted input", fix)}
}

// detectTempfile flags the race-prone temp name function.
func detectTempfile(c *Context, id ast.NodeID) []safety.Finding {
	q, ok := c.Tree.CallQualifiedName(id)
	if !ok || q != c.Rules.Tempfile.Insecure {
		return nil
	}
	return []safety.Finding{safety.NewFinding(c.Tree, id, safety.CheckInsecureTempfile,
		q+" returns a name another process can claim first; use "+c.Rules.Tempfile.Secure,
		fixes.NewTempfileFix(c.Rules.Tempfile.Insecure, c.Rules.Tempfile.Secure))}
}

// detectTemplates flags template constructors created without their
// escaping keyword.
func detectTemplates(c *Context, id ast.NodeID) []safety.Finding {
	q, ok := c.Tree.CallQualifiedName(id)
	if !ok {
		return nil
	}
	rule, ok := c.Rules.TemplateRuleFor(q)
	if !ok {
		return nil
	}
	fix := fixes.NewTemplateKeywordFix(rule.Keyword, rule.Value)
	if !fix.MissingKeyword(c.Tree, id) {
		return nil
	}
	return []safety.Finding{safety.NewFinding(c.Tree, id, safety.CheckID(rule.Check),
		q+" created without "+rule.Keyword+"; output is not escaped", fix)}
}

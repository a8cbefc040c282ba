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
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/fixes"
)

// detectMiddleware checks the settings MIDDLEWARE list for the CSRF and
// clickjacking middleware. Each missing entry is its own finding, anchored
// on the list literal and carrying a fix that appends the entry.
func detectMiddleware(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	mw := c.Rules.Middleware
	if t.File.Name() != mw.SettingsFile {
		return nil
	}
	list := fixes.MiddlewareList(t, id, mw.Variable)
	if !list.Valid() {
		return nil
	}

	present := make(map[string]bool)
	for _, p := range fixes.MiddlewarePaths(t, list) {
		present[p] = true
	}

	var out []safety.Finding
	if !present[mw.CSRF] {
		out = append(out, safety.NewFinding(t, list, safety.CheckMissingCSRF,
			mw.Variable+" is missing "+mw.CSRF,
			fixes.NewMiddlewareFix(mw.Variable, mw.CSRF)))
	}
	if !present[mw.Clickjacking] {
		out = append(out, safety.NewFinding(t, list, safety.CheckMissingClickjack,
			mw.Variable+" is missing "+mw.Clickjacking,
			fixes.NewMiddlewareFix(mw.Variable, mw.Clickjacking)))
	}
	return out
}

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

// detectTiming flags == and != comparisons where either operand is a bare
// name that looks like a secret. One finding per comparison.
func detectTiming(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	left, op, right, ok := fixes.EqualityOperands(t, id)
	if !ok {
		return nil
	}
	for _, operand := range []ast.NodeID{left, right} {
		if t.Kind(operand) != ast.KindIdentifier {
			continue
		}
		name := t.Text(operand)
		if !c.Rules.LooksLikeSecret(name) {
			continue
		}
		return []safety.Finding{safety.NewFinding(t, id, safety.CheckTimingAttack,
			"Comparing "+name+" with "+op+" is not constant time; use "+c.Rules.Timing.CompareFunction,
			fixes.NewCompareDigestFix(c.Rules.Timing.CompareFunction))}
	}
	return nil
}

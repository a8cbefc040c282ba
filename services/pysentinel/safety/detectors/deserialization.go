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
)

// detectDeserialization flags calls to denylisted unpickling functions.
func detectDeserialization(c *Context, id ast.NodeID) []safety.Finding {
	q, ok := c.Tree.CallQualifiedName(id)
	if !ok || !c.Rules.IsDenylistedDeserializer(q) {
		return nil
	}
	return []safety.Finding{safety.NewFinding(c.Tree, id, safety.CheckDeserialization,
		q+" can execute arbitrary code when loading untrusted data", nil)}
}

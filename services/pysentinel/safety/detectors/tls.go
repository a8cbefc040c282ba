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

// detectTLS checks calls to socket wrapping functions.
//
// At most one missing-version finding is reported per call: no arguments,
// an omitted version on a language level without a secure default, or an
// explicit None. A version naming a known insecure protocol is reported
// under its own check.
func detectTLS(c *Context, id ast.NodeID) []safety.Finding {
	t := c.Tree
	q, ok := t.CallQualifiedName(id)
	if !ok || !c.Rules.IsTLSWrap(q) {
		return nil
	}

	if t.ArgumentCount(id) == 0 {
		return []safety.Finding{safety.NewFinding(t, id, safety.CheckTLSVersion,
			q+" called without arguments; no protocol version is set", nil)}
	}

	version := tlsVersionArg(c, id)
	if !version.Valid() {
		threshold := c.Rules.TLSThreshold()
		if t.File.LanguageVersion.Less(threshold) {
			return []safety.Finding{safety.NewFinding(t, id, safety.CheckTLSVersion,
				q+" without "+c.Rules.TLS.VersionKeyword+" has no secure default before Python "+threshold.String(), nil)}
		}
		return nil
	}

	if t.Kind(version) == ast.KindNone {
		return []safety.Finding{safety.NewFinding(t, id, safety.CheckTLSVersion,
			q+" called with "+c.Rules.TLS.VersionKeyword+"=None", nil)}
	}

	if proto, ok := t.QualifiedName(version); ok && c.Rules.IsBadProtocol(proto) {
		return []safety.Finding{safety.NewFinding(t, id, safety.CheckTLSBadProtocol,
			q+" uses insecure protocol "+proto, nil)}
	}
	return nil
}

// tlsVersionArg returns the protocol version expression, passed by keyword
// or positionally, or NoNode.
func tlsVersionArg(c *Context, call ast.NodeID) ast.NodeID {
	t := c.Tree
	if kw := t.KeywordArg(call, c.Rules.TLS.VersionKeyword); kw.Valid() {
		return t.Field(kw, "value")
	}
	pos := t.PositionalArgs(call)
	if i := c.Rules.TLS.VersionPosition; i > 0 && i < len(pos) {
		return pos[i]
	}
	return ast.NoNode
}

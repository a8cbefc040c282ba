// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety defines the findings and quick-fix contract shared by the
// Python security detectors and their remediations.
//
// # Description
//
// A detector inspects one syntax node and returns Findings. A Finding may
// carry a Fix, which re-validates and rewrites the flagged construct as a
// set of text edits. Fixes never keep traversal state: everything they need
// arrives in a FixContext, so a batch can apply them one after another on a
// freshly re-parsed tree.
//
// # Thread Safety
//
// All types in this package are immutable values or stateless, and safe for
// concurrent use.
package safety

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
)

// Severity indicates the severity of a security finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// CheckID identifies a detection rule.
type CheckID string

const (
	CheckSQLInterpolation  CheckID = "SQL100"
	CheckRawSQL            CheckID = "DJG300"
	CheckDeserialization   CheckID = "PIC100"
	CheckTLSVersion        CheckID = "SSL100"
	CheckTLSBadProtocol    CheckID = "SSL101"
	CheckTimingAttack      CheckID = "TIM100"
	CheckMissingCSRF       CheckID = "DJG200"
	CheckMissingClickjack  CheckID = "DJG201"
	CheckTryExceptContinue CheckID = "TRY100"
	CheckShellInjection    CheckID = "SHL100"
	CheckInsecureTempfile  CheckID = "TMP100"
	CheckMakoEscaping      CheckID = "MAK100"
	CheckJinja2Autoescape  CheckID = "JJ2100"
)

// Check describes a detection rule for listings and reports.
type Check struct {
	ID          CheckID  `json:"id"`
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Catalog lists every check in a stable order.
var Catalog = []Check{
	{CheckSQLInterpolation, "sql-string-interpolation", SeverityHigh, "Quoted %s placeholder in a string suggests SQL built by string formatting."},
	{CheckRawSQL, "raw-sql-call", SeverityHigh, "Raw SQL call with a quoted %s placeholder bypasses query parameterization."},
	{CheckDeserialization, "insecure-deserialization", SeverityHigh, "Unpickling data can execute arbitrary code."},
	{CheckTLSVersion, "tls-missing-version", SeverityMedium, "Socket wrapped without a secure TLS protocol version."},
	{CheckTLSBadProtocol, "tls-insecure-protocol", SeverityHigh, "Socket wrapped with a known insecure protocol."},
	{CheckTimingAttack, "non-constant-time-compare", SeverityMedium, "Secret compared with == or != leaks timing information."},
	{CheckMissingCSRF, "missing-csrf-middleware", SeverityMedium, "CSRF protection middleware missing from MIDDLEWARE."},
	{CheckMissingClickjack, "missing-clickjacking-middleware", SeverityMedium, "Clickjacking protection middleware missing from MIDDLEWARE."},
	{CheckTryExceptContinue, "try-except-continue", SeverityLow, "Broad exception silently swallowed with continue."},
	{CheckShellInjection, "shell-injection", SeverityHigh, "Unescaped input passed to a shell command."},
	{CheckInsecureTempfile, "insecure-tempfile", SeverityMedium, "tempfile.mktemp is race prone; use mkstemp."},
	{CheckMakoEscaping, "mako-no-escaping", SeverityHigh, "Mako template created without HTML escaping filter."},
	{CheckJinja2Autoescape, "jinja2-no-autoescape", SeverityHigh, "Jinja2 environment created without autoescape."},
}

var catalogByID = func() map[CheckID]Check {
	m := make(map[CheckID]Check, len(Catalog))
	for _, c := range Catalog {
		m[c.ID] = c
	}
	return m
}()

// LookupCheck returns the catalog entry for id.
func LookupCheck(id CheckID) (Check, bool) {
	c, ok := catalogByID[id]
	return c, ok
}

// Finding is a single reported rule violation.
//
// Findings are immutable once created and live for one analysis pass.
type Finding struct {
	// Check identifies the rule that fired.
	Check CheckID `json:"check"`

	// Severity is the rule severity.
	Severity Severity `json:"severity"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// File is the path of the analyzed file.
	File string `json:"file"`

	// Anchor locates the flagged node in the analyzed source.
	Anchor ast.Anchor `json:"anchor"`

	// Position is the 1-based start of the flagged node.
	Position ast.Position `json:"position"`

	// Snippet is the flagged source text, truncated.
	Snippet string `json:"snippet,omitempty"`

	// FixName names the available fix. It survives serialization, Fix
	// does not.
	FixName string `json:"fix,omitempty"`

	// Fix remediates the finding. Nil when no automatic fix exists or the
	// finding was decoded from JSON.
	Fix Fix `json:"-"`
}

// Fixable reports whether an automatic fix exists for the finding.
func (f Finding) Fixable() bool { return f.Fix != nil || f.FixName != "" }

// maxSnippet bounds Finding.Snippet.
const maxSnippet = 120

// NewFinding builds a Finding for node id using the catalog severity.
func NewFinding(tree *ast.Tree, id ast.NodeID, check CheckID, message string, fix Fix) Finding {
	sev := SeverityMedium
	if c, ok := LookupCheck(check); ok {
		sev = c.Severity
	}
	n := tree.Node(id)
	snippet := tree.Text(id)
	if i := strings.IndexByte(snippet, '\n'); i >= 0 {
		snippet = snippet[:i]
	}
	if len(snippet) > maxSnippet {
		cut := maxSnippet
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut] + "..."
	}
	var fixName string
	if fix != nil {
		fixName = fix.Name()
	}
	return Finding{
		Check:    check,
		Severity: sev,
		Message:  message,
		File:     tree.File.Path,
		Anchor:   tree.AnchorOf(id),
		Position: tree.Position(n.Span.Start),
		Snippet:  snippet,
		FixName:  fixName,
		Fix:      fix,
	}
}

// Selection is the explicit stand-in for an editor caret: a node plus an
// optional sub-range inside it.
type Selection struct {
	Node ast.NodeID
	Sub  *ast.Span
}

// FixContext is everything a Fix may look at.
type FixContext struct {
	Tree      *ast.Tree
	Selection Selection
}

// SelectionNode returns the selected node, or the smallest node covering
// the sub-range when one is given.
func (c FixContext) SelectionNode() ast.NodeID {
	if c.Selection.Sub != nil {
		if id := c.Tree.NodeAt(*c.Selection.Sub); id.Valid() {
			return id
		}
	}
	return c.Selection.Node
}

// Fix is a quick-fix bound to a finding.
//
// Description:
//
//	IsApplicable re-validates that the target is still in a fixable state.
//	Apply returns the edits for the current tree. Implementations must
//	resolve their target from the context alone and return no edits when
//	the construct is already fixed.
type Fix interface {
	// Name is a short human-readable title.
	Name() string

	// IsApplicable reports whether Apply would change anything.
	IsApplicable(ctx FixContext) bool

	// Apply returns the edits that remediate the target.
	Apply(ctx FixContext) (ast.EditSet, error)
}

// Common errors for fixes.
var (
	// ErrTargetNotFound indicates a fix could not locate its target.
	ErrTargetNotFound = errors.New("fix target not found")

	// ErrNotApplicable indicates the target is not in a fixable state.
	ErrNotApplicable = errors.New("fix not applicable")
)

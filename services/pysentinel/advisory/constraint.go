// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisory

import (
	"fmt"
	"strings"
	"unicode"
)

// Relation is a version comparison operator.
type Relation int

const (
	RelationStrictEqual  Relation = iota // ===
	RelationEqual                        // ==
	RelationLessEqual                    // <=
	RelationGreaterEqual                 // >=
	RelationCompatible                   // ~=
	RelationNotEqual                     // !=
	RelationLess                         // <
	RelationGreater                      // >
)

// operators is ordered longest first so "===" is never read as "==".
var operators = []struct {
	text     string
	relation Relation
}{
	{"===", RelationStrictEqual},
	{"==", RelationEqual},
	{"<=", RelationLessEqual},
	{">=", RelationGreaterEqual},
	{"~=", RelationCompatible},
	{"!=", RelationNotEqual},
	{"<", RelationLess},
	{">", RelationGreater},
}

// String returns the operator text.
func (r Relation) String() string {
	for _, op := range operators {
		if op.relation == r {
			return op.text
		}
	}
	return "?"
}

// Clause is one relation applied to one version literal, e.g. ">=0.5.0".
type Clause struct {
	Relation Relation
	Literal  string

	version  Version
	wildcard bool
}

// ParseClause parses a single clause. Leading and trailing whitespace is
// ignored, as is whitespace between the operator and the version.
func ParseClause(s string) (Clause, error) {
	s = strings.TrimSpace(s)
	for _, op := range operators {
		if !strings.HasPrefix(s, op.text) {
			continue
		}
		lit := strings.TrimLeftFunc(s[len(op.text):], unicode.IsSpace)
		if lit == "" {
			return Clause{}, fmt.Errorf("%w: %q", ErrEmptyClause, s)
		}
		c := Clause{Relation: op.relation, Literal: lit}
		if op.relation == RelationStrictEqual {
			return c, nil
		}

		if base, ok := strings.CutSuffix(lit, ".*"); ok {
			if op.relation != RelationEqual && op.relation != RelationNotEqual {
				return Clause{}, fmt.Errorf("%w: wildcard not allowed with %s: %q", ErrInvalidVersion, op.text, s)
			}
			lit, c.wildcard = base, true
		}
		v, err := ParseVersion(lit)
		if err != nil {
			return Clause{}, err
		}
		if op.relation == RelationCompatible && len(v.Release) < 2 {
			return Clause{}, fmt.Errorf("%w: %s needs at least two release segments: %q", ErrInvalidVersion, op.text, s)
		}
		c.version = v
		return c, nil
	}
	return Clause{}, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
}

// String returns the clause in canonical "<op><version>" form.
func (c Clause) String() string { return c.Relation.String() + c.Literal }

// Matches reports whether the installed version satisfies the clause. An
// installed version that cannot be ordered satisfies nothing except an
// identical "===" literal.
func (c Clause) Matches(installed string) bool {
	installed = strings.TrimSpace(installed)
	switch c.Relation {
	case RelationStrictEqual:
		return installed == c.Literal
	case RelationEqual, RelationNotEqual:
		iv, err := ParseVersion(installed)
		if err != nil {
			return false
		}
		eq := c.equal(iv)
		if c.Relation == RelationNotEqual {
			return !eq
		}
		return eq
	case RelationCompatible:
		iv, err := ParseVersion(installed)
		if err != nil {
			return false
		}
		n := len(c.version.Release) - 1
		return iv.Compare(c.version) >= 0 && iv.HasReleasePrefix(c.version.Epoch, c.version.Release[:n])
	}

	cmp, err := CompareVersions(installed, c.Literal)
	if err != nil {
		return false
	}
	switch c.Relation {
	case RelationLess:
		return cmp < 0
	case RelationLessEqual:
		return cmp <= 0
	case RelationGreater:
		return cmp > 0
	case RelationGreaterEqual:
		return cmp >= 0
	}
	return false
}

// equal implements "==" including prefix matching and the rule that a
// literal without a local label ignores the installed local label.
func (c Clause) equal(iv Version) bool {
	if c.wildcard {
		return iv.HasReleasePrefix(c.version.Epoch, c.version.Release)
	}
	if c.version.Local == "" {
		iv = iv.Public()
	}
	return iv.Equal(c.version)
}

// Constraint is a comma-separated conjunction of clauses.
type Constraint struct {
	Expr    string
	Clauses []Clause
}

// ParseConstraint parses an expression such as "<1.0.0,>=0.5.0".
//
// Description:
//
//	The expression is split on commas and each trimmed, non-empty token is
//	parsed with ParseClause. Any clause failing to parse fails the whole
//	expression, as does an expression with no clauses at all.
//
// Outputs:
//
//	Constraint - The parsed clauses; Expr is always set.
//	error - Wraps ErrUnknownOperator, ErrEmptyClause or ErrInvalidVersion.
func ParseConstraint(expr string) (Constraint, error) {
	c := Constraint{Expr: expr}
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		clause, err := ParseClause(tok)
		if err != nil {
			return Constraint{Expr: expr}, fmt.Errorf("constraint %q: %w", expr, err)
		}
		c.Clauses = append(c.Clauses, clause)
	}
	if len(c.Clauses) == 0 {
		return Constraint{Expr: expr}, fmt.Errorf("constraint %q: %w", expr, ErrEmptyClause)
	}
	return c, nil
}

// Matches reports whether installed satisfies every clause. A constraint
// with no clauses matches nothing.
func (c Constraint) Matches(installed string) bool {
	if len(c.Clauses) == 0 {
		return false
	}
	for _, clause := range c.Clauses {
		if !clause.Matches(installed) {
			return false
		}
	}
	return true
}

// String returns the original expression.
func (c Constraint) String() string { return c.Expr }

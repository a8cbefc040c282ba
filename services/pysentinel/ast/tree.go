// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// NodeID addresses a node inside a Tree's arena.
type NodeID int32

// NoNode is the sentinel for an absent node (no parent, missing field).
const NoNode NodeID = -1

// Valid reports whether the id refers to a node.
func (id NodeID) Valid() bool { return id >= 0 }

// Span is a half-open byte range [Start, End) into the source.
type Span struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() uint32 { return s.End - s.Start }

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool { return s.Start <= o.Start && o.End <= s.End }

// Position is a 1-based line and column pair for presentation.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Node is a single arena entry.
//
// Children lists every child in source order, anonymous tokens included,
// so operators such as "==" stay addressable. Field holds the grammar field
// name under which the parent holds this node, or "" when unnamed.
type Node struct {
	Kind     Kind
	Type     string
	Span     Span
	Parent   NodeID
	Children []NodeID
	Named    bool
	Field    string
	Missing  bool
}

// LanguageVersion is a declared Python language level.
type LanguageVersion struct {
	Major int
	Minor int
}

// DefaultLanguageVersion is assumed when a file declares nothing.
var DefaultLanguageVersion = LanguageVersion{Major: 3, Minor: 12}

// ParseLanguageVersion parses "3", "3.6" or "3.6.1" style strings.
func ParseLanguageVersion(s string) (LanguageVersion, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "python")
	parts := strings.Split(s, ".")
	if len(parts) == 0 || parts[0] == "" {
		return LanguageVersion{}, fmt.Errorf("empty language version")
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return LanguageVersion{}, fmt.Errorf("language version %q: %w", s, err)
	}
	minor := 0
	if len(parts) > 1 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return LanguageVersion{}, fmt.Errorf("language version %q: %w", s, err)
		}
	}
	return LanguageVersion{Major: major, Minor: minor}, nil
}

// Less reports whether v is an older language level than o.
func (v LanguageVersion) Less(o LanguageVersion) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

func (v LanguageVersion) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// SourceFile describes the file a tree was parsed from.
type SourceFile struct {
	// Path is the file path as given by the caller.
	Path string
	// LanguageVersion is the declared Python version for the file.
	LanguageVersion LanguageVersion
}

// Name returns the base name of the file.
func (f SourceFile) Name() string { return filepath.Base(f.Path) }

// Tree is an immutable, index-addressed Python syntax tree.
//
// Thread Safety:
//
//	A Tree is never mutated after Parse returns and may be read from any
//	number of goroutines. Edits produce new source text that is re-parsed
//	into a fresh Tree.
type Tree struct {
	File    SourceFile
	Source  []byte
	Hash    string
	Nodes   []Node
	Root    NodeID
	Imports *ImportTable
	// HasErrors is true when tree-sitter recovered from syntax errors.
	HasErrors bool

	// lineStarts holds the byte offset at which every line begins.
	lineStarts []uint32
	// locals holds identifiers bound in the file by something other than
	// an import: assignments, definitions, parameters, loop targets.
	locals map[string]struct{}
}

// Node returns the node for id. It panics on an invalid id.
func (t *Tree) Node(id NodeID) *Node { return &t.Nodes[id] }

// Kind returns the kind of id, or KindOther for NoNode.
func (t *Tree) Kind(id NodeID) Kind {
	if !id.Valid() || int(id) >= len(t.Nodes) {
		return KindOther
	}
	return t.Nodes[id].Kind
}

// Text returns the source text covered by id.
func (t *Tree) Text(id NodeID) string {
	if !id.Valid() {
		return ""
	}
	s := t.Nodes[id].Span
	return string(t.Source[s.Start:s.End])
}

// Parent returns the parent of id, or NoNode for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	if !id.Valid() {
		return NoNode
	}
	return t.Nodes[id].Parent
}

// Field returns the child of id held under the named grammar field.
func (t *Tree) Field(id NodeID, name string) NodeID {
	if !id.Valid() {
		return NoNode
	}
	for _, c := range t.Nodes[id].Children {
		if t.Nodes[c].Field == name {
			return c
		}
	}
	return NoNode
}

// NamedChildren returns the named children of id, skipping comments.
func (t *Tree) NamedChildren(id NodeID) []NodeID {
	if !id.Valid() {
		return nil
	}
	var out []NodeID
	for _, c := range t.Nodes[id].Children {
		n := &t.Nodes[c]
		if n.Named && n.Kind != KindComment {
			out = append(out, c)
		}
	}
	return out
}

// ChildOfKind returns the first direct child of id with kind k.
func (t *Tree) ChildOfKind(id NodeID, k Kind) NodeID {
	if !id.Valid() {
		return NoNode
	}
	for _, c := range t.Nodes[id].Children {
		if t.Nodes[c].Kind == k {
			return c
		}
	}
	return NoNode
}

// Ancestor returns the nearest strict ancestor of id with kind k.
func (t *Tree) Ancestor(id NodeID, k Kind) NodeID {
	for p := t.Parent(id); p.Valid(); p = t.Nodes[p].Parent {
		if t.Nodes[p].Kind == k {
			return p
		}
	}
	return NoNode
}

// Position converts a byte offset to a 1-based line and column.
func (t *Tree) Position(offset uint32) Position {
	lo, hi := 0, len(t.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return Position{Line: lo + 1, Column: int(offset-t.lineStarts[lo]) + 1}
}

// LineIndent returns the leading whitespace of the line containing offset.
func (t *Tree) LineIndent(offset uint32) string {
	line := t.Position(offset).Line
	start := t.lineStarts[line-1]
	end := start
	for int(end) < len(t.Source) && (t.Source[end] == ' ' || t.Source[end] == '\t') {
		end++
	}
	return string(t.Source[start:end])
}

// OfKind returns every node of kind k in source order.
func (t *Tree) OfKind(k Kind) []NodeID {
	var out []NodeID
	for i := range t.Nodes {
		if t.Nodes[i].Kind == k {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// Anchor remembers where a node was so it can be found again after the
// source has been edited and re-parsed.
type Anchor struct {
	Kind Kind `json:"kind"`
	Span Span `json:"span"`
}

// AnchorOf returns the anchor for id.
func (t *Tree) AnchorOf(id NodeID) Anchor {
	n := &t.Nodes[id]
	return Anchor{Kind: n.Kind, Span: n.Span}
}

// Resolve finds the node an anchor refers to.
//
// An exact kind and span match wins. Otherwise the smallest node of the
// anchor's kind that contains the anchor start is returned. NoNode means
// the construct no longer exists.
func (t *Tree) Resolve(a Anchor) NodeID {
	best := NoNode
	var bestLen uint32
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.Kind != a.Kind {
			continue
		}
		if n.Span == a.Span {
			return NodeID(i)
		}
		if n.Span.Start <= a.Span.Start && a.Span.Start < n.Span.End {
			if !best.Valid() || n.Span.Len() < bestLen {
				best, bestLen = NodeID(i), n.Span.Len()
			}
		}
	}
	return best
}

// NodeAt returns the smallest named node covering the half-open span s.
func (t *Tree) NodeAt(s Span) NodeID {
	best := NoNode
	var bestLen uint32
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if !n.Named || !n.Span.Contains(s) {
			continue
		}
		if !best.Valid() || n.Span.Len() <= bestLen {
			best, bestLen = NodeID(i), n.Span.Len()
		}
	}
	return best
}

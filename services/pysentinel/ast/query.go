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

import "strings"

// DottedName renders an identifier or a chain of attribute accesses on
// identifiers as "a.b.c". Any other expression yields false.
func (t *Tree) DottedName(expr NodeID) (string, bool) {
	switch t.Kind(expr) {
	case KindIdentifier:
		return t.Text(expr), true
	case KindAttribute:
		obj, ok := t.DottedName(t.Field(expr, "object"))
		if !ok {
			return "", false
		}
		attr := t.Field(expr, "attribute")
		if !attr.Valid() {
			return "", false
		}
		return obj + "." + t.Text(attr), true
	}
	return "", false
}

// QualifiedName resolves the dotted name a reference expression refers to.
//
// Description:
//
//	The head segment is looked up in the import table and replaced by the
//	path it was imported from, so "pk.loads" after "import pickle as pk"
//	resolves to "pickle.loads". A head bound locally (assignment,
//	parameter, definition) is a value, not a symbol, and does not resolve.
//	A head bound nowhere in the file is taken literally (builtins and
//	star-imported names).
//
// Outputs:
//
//	string - The fully dotted name.
//	bool - False if the expression is not a name or does not resolve.
func (t *Tree) QualifiedName(expr NodeID) (string, bool) {
	dotted, ok := t.DottedName(expr)
	if !ok {
		return "", false
	}
	head, rest, hasRest := strings.Cut(dotted, ".")
	if target, ok := t.Imports.Resolve(head); ok {
		if hasRest {
			return target + "." + rest, true
		}
		return target, true
	}
	if _, local := t.locals[head]; local {
		return "", false
	}
	return dotted, true
}

// CallQualifiedName resolves the callee of a call expression.
func (t *Tree) CallQualifiedName(call NodeID) (string, bool) {
	if t.Kind(call) != KindCall {
		return "", false
	}
	return t.QualifiedName(t.Field(call, "function"))
}

// CalleeLeafName returns the last dotted segment of a call's callee.
func (t *Tree) CalleeLeafName(call NodeID) string {
	if t.Kind(call) != KindCall {
		return ""
	}
	callee := t.Field(call, "function")
	switch t.Kind(callee) {
	case KindIdentifier:
		return t.Text(callee)
	case KindAttribute:
		return t.Text(t.Field(callee, "attribute"))
	}
	return ""
}

// CalleeNameMatches compares only the last dotted segment of the callee.
func (t *Tree) CalleeNameMatches(call NodeID, leaf string) bool {
	name := t.CalleeLeafName(call)
	return name != "" && name == leaf
}

// HasImportedNamespace reports whether the file imports a module at or
// below the dotted prefix.
func (t *Tree) HasImportedNamespace(prefix string) bool {
	return t.Imports.HasNamespace(prefix)
}

// IsLocal reports whether name is bound in the file by something other
// than an import.
func (t *Tree) IsLocal(name string) bool {
	_, ok := t.locals[name]
	return ok
}

// Arguments returns the argument list of a call, or NoNode.
func (t *Tree) Arguments(call NodeID) NodeID {
	if t.Kind(call) != KindCall {
		return NoNode
	}
	return t.Field(call, "arguments")
}

// PositionalArgs returns the positional arguments of a call in order.
// Keyword arguments and **kwargs are excluded; *args is included.
func (t *Tree) PositionalArgs(call NodeID) []NodeID {
	args := t.Arguments(call)
	if !args.Valid() {
		return nil
	}
	if t.Kind(args) != KindArgumentList {
		return []NodeID{args}
	}
	var out []NodeID
	for _, c := range t.NamedChildren(args) {
		switch t.Kind(c) {
		case KindKeywordArgument, KindDictionarySplat:
			continue
		}
		out = append(out, c)
	}
	return out
}

// KeywordArg returns the keyword_argument node named name, or NoNode.
func (t *Tree) KeywordArg(call NodeID, name string) NodeID {
	args := t.Arguments(call)
	if t.Kind(args) != KindArgumentList {
		return NoNode
	}
	for _, c := range t.NamedChildren(args) {
		if t.Kind(c) == KindKeywordArgument && t.Text(t.Field(c, "name")) == name {
			return c
		}
	}
	return NoNode
}

// HasKwargsSplat reports whether the call passes **kwargs.
func (t *Tree) HasKwargsSplat(call NodeID) bool {
	args := t.Arguments(call)
	return t.ChildOfKind(args, KindDictionarySplat).Valid()
}

// ArgumentCount returns the number of arguments of any form.
func (t *Tree) ArgumentCount(call NodeID) int {
	args := t.Arguments(call)
	if !args.Valid() {
		return 0
	}
	if t.Kind(args) != KindArgumentList {
		return 1
	}
	return len(t.NamedChildren(args))
}

// StringLiteral holds the decoded shape of a Python string token.
type StringLiteral struct {
	// Prefix is the literal prefix such as "r", "b" or "f".
	Prefix string
	// Quote is the delimiter: ', ", ''' or """.
	Quote string
	// Content is the text between the delimiters, escapes untouched.
	Content string
	// ContentStart is the byte offset of Content in the source.
	ContentStart uint32
}

// StringValue decodes a string node into prefix, quote and content.
func (t *Tree) StringValue(id NodeID) (StringLiteral, bool) {
	if t.Kind(id) != KindString {
		return StringLiteral{}, false
	}
	raw := t.Text(id)
	i := 0
	for i < len(raw) && strings.IndexByte("rRbBuUfF", raw[i]) >= 0 {
		i++
	}
	body := raw[i:]
	var quote string
	switch {
	case strings.HasPrefix(body, `"""`), strings.HasPrefix(body, `'''`):
		quote = body[:3]
	case strings.HasPrefix(body, `"`), strings.HasPrefix(body, `'`):
		quote = body[:1]
	default:
		return StringLiteral{}, false
	}
	if len(body) < 2*len(quote) || !strings.HasSuffix(body, quote) {
		return StringLiteral{}, false
	}
	return StringLiteral{
		Prefix:       raw[:i],
		Quote:        quote,
		Content:      body[len(quote) : len(body)-len(quote)],
		ContentStart: t.Node(id).Span.Start + uint32(i+len(quote)),
	}, true
}

// Value returns Content with the simple backslash escapes resolved:
// \\ \' \" \n \r \t, line continuations and \xHH. Raw literals and
// unknown escapes are returned as written.
func (s StringLiteral) Value() string {
	if strings.ContainsAny(s.Prefix, "rR") || strings.IndexByte(s.Content, '\\') < 0 {
		return s.Content
	}
	var b strings.Builder
	c := s.Content
	for i := 0; i < len(c); i++ {
		if c[i] != '\\' || i+1 == len(c) {
			b.WriteByte(c[i])
			continue
		}
		i++
		switch c[i] {
		case '\\', '\'', '"':
			b.WriteByte(c[i])
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\n':
		case 'x':
			if i+2 < len(c) && isHex(c[i+1]) && isHex(c[i+2]) {
				b.WriteRune(rune(unhex(c[i+1])<<4 | unhex(c[i+2])))
				i += 2
				continue
			}
			b.WriteString(`\x`)
		default:
			b.WriteByte('\\')
			b.WriteByte(c[i])
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	}
	return c - 'a' + 10
}

// IsInsideDocstring reports whether id is, or is nested inside, a string
// used as a module, class or function documentation string.
func (t *Tree) IsInsideDocstring(id NodeID) bool {
	for n := id; n.Valid(); n = t.Parent(n) {
		switch t.Kind(n) {
		case KindString, KindConcatenatedString:
			if t.isDocstring(n) {
				return true
			}
		}
	}
	return false
}

func (t *Tree) isDocstring(s NodeID) bool {
	stmt := t.Parent(s)
	if t.Kind(stmt) != KindExpressionStatement {
		return false
	}
	if kids := t.NamedChildren(stmt); len(kids) != 1 || kids[0] != s {
		return false
	}
	container := t.Parent(stmt)
	switch t.Kind(container) {
	case KindModule:
	case KindBlock:
		switch t.Kind(t.Parent(container)) {
		case KindFunctionDef, KindClassDef:
		default:
			return false
		}
	default:
		return false
	}
	first := t.NamedChildren(container)
	return len(first) > 0 && first[0] == stmt
}

// IsDocstringStatement reports whether stmt is an expression statement
// holding nothing but a string literal.
func (t *Tree) IsDocstringStatement(stmt NodeID) bool {
	if t.Kind(stmt) != KindExpressionStatement {
		return false
	}
	kids := t.NamedChildren(stmt)
	if len(kids) != 1 {
		return false
	}
	k := t.Kind(kids[0])
	return k == KindString || k == KindConcatenatedString
}

// ImportInsertionPoint returns the offset at which a new top-level import
// line should be inserted: after the last module-level import, or after the
// module docstring, or at the start of the file.
func (t *Tree) ImportInsertionPoint() uint32 {
	if n := len(t.Imports.Statements); n > 0 {
		return t.lineEnd(t.Node(t.Imports.Statements[n-1]).Span.End)
	}
	kids := t.NamedChildren(t.Root)
	if len(kids) > 0 && t.IsDocstringStatement(kids[0]) {
		return t.lineEnd(t.Node(kids[0]).Span.End)
	}
	return 0
}

// lineEnd returns the offset just past the newline ending the line that
// contains offset, or the end of source.
func (t *Tree) lineEnd(offset uint32) uint32 {
	for i := int(offset); i < len(t.Source); i++ {
		if t.Source[i] == '\n' {
			return uint32(i + 1)
		}
	}
	return uint32(len(t.Source))
}

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
	"sort"
	"strings"
)

// ImportTable records the modules a file imports and the local names those
// imports bind.
//
// Thread Safety: Immutable after Parse; safe for concurrent reads.
type ImportTable struct {
	// Modules lists every imported module path in source order. Relative
	// from-imports keep their leading dots.
	Modules []string

	// Statements lists the module-level import statements in source order.
	Statements []NodeID

	// bindings maps a local name to the dotted path it refers to.
	bindings map[string]string
}

// Resolve returns the dotted path bound to a local name by an import.
func (it *ImportTable) Resolve(local string) (string, bool) {
	if it == nil {
		return "", false
	}
	target, ok := it.bindings[local]
	return target, ok
}

// Binds reports whether local is bound to exactly target.
func (it *ImportTable) Binds(local, target string) bool {
	got, ok := it.Resolve(local)
	return ok && got == target
}

// LocalFor returns a local name bound to target, preferring the shortest.
func (it *ImportTable) LocalFor(target string) (string, bool) {
	if it == nil {
		return "", false
	}
	var names []string
	for local, t := range it.bindings {
		if t == target {
			names = append(names, local)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names[0], true
}

// HasNamespace reports whether any imported module equals prefix or lies
// beneath it. Matching is by dotted segment, so "django" matches
// "django.db" but not "djangorestframework".
func (it *ImportTable) HasNamespace(prefix string) bool {
	if it == nil || prefix == "" {
		return false
	}
	for _, m := range it.Modules {
		if m == prefix || strings.HasPrefix(m, prefix+".") {
			return true
		}
	}
	return false
}

func buildImportTable(t *Tree) *ImportTable {
	it := &ImportTable{bindings: make(map[string]string)}
	for i := range t.Nodes {
		id := NodeID(i)
		switch t.Nodes[i].Kind {
		case KindImport:
			it.addImport(t, id)
		case KindImportFrom:
			it.addFromImport(t, id)
		case KindFutureImport:
			it.Modules = append(it.Modules, "__future__")
		default:
			continue
		}
		if isModuleLevel(t, id) {
			it.Statements = append(it.Statements, id)
		}
	}
	return it
}

// addImport handles "import a.b" and "import a.b as c".
func (it *ImportTable) addImport(t *Tree, stmt NodeID) {
	for _, c := range t.NamedChildren(stmt) {
		switch t.Kind(c) {
		case KindDottedName:
			path := t.Text(c)
			it.Modules = append(it.Modules, path)
			head, _, _ := strings.Cut(path, ".")
			it.bindings[head] = head
		case KindAliasedImport:
			path := t.Text(t.Field(c, "name"))
			alias := t.Text(t.Field(c, "alias"))
			if path == "" || alias == "" {
				continue
			}
			it.Modules = append(it.Modules, path)
			it.bindings[alias] = path
		}
	}
}

// addFromImport handles "from m import n", aliases and wildcards.
func (it *ImportTable) addFromImport(t *Tree, stmt NodeID) {
	modNode := t.Field(stmt, "module_name")
	if !modNode.Valid() {
		return
	}
	module := strings.Join(strings.Fields(t.Text(modNode)), "")
	it.Modules = append(it.Modules, module)

	join := func(name string) string {
		if strings.Trim(module, ".") == "" {
			return module + name
		}
		return module + "." + name
	}

	for _, c := range t.NamedChildren(stmt) {
		if c == modNode {
			continue
		}
		switch t.Kind(c) {
		case KindDottedName:
			name := t.Text(c)
			it.bindings[name] = join(name)
		case KindAliasedImport:
			name := t.Text(t.Field(c, "name"))
			alias := t.Text(t.Field(c, "alias"))
			if name == "" || alias == "" {
				continue
			}
			it.bindings[alias] = join(name)
		}
	}
}

func isModuleLevel(t *Tree, id NodeID) bool {
	return t.Kind(t.Parent(id)) == KindModule
}

// collectLocals gathers identifiers bound by anything other than an import.
func collectLocals(t *Tree) map[string]struct{} {
	locals := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			locals[name] = struct{}{}
		}
	}

	var addTargets func(id NodeID)
	addTargets = func(id NodeID) {
		if !id.Valid() {
			return
		}
		n := t.Node(id)
		switch {
		case n.Kind == KindIdentifier:
			add(t.Text(id))
		case n.Kind == KindList || n.Kind == KindTuple || n.Kind == KindParenthesized ||
			n.Type == "pattern_list" || n.Type == "tuple_pattern" || n.Type == "list_pattern" ||
			n.Type == "as_pattern_target" || n.Type == "list_splat_pattern":
			for _, c := range t.NamedChildren(id) {
				addTargets(c)
			}
		}
	}

	for i := range t.Nodes {
		id := NodeID(i)
		n := &t.Nodes[i]
		switch n.Kind {
		case KindAssignment, KindFor:
			addTargets(t.Field(id, "left"))
		case KindFunctionDef, KindClassDef:
			add(t.Text(t.Field(id, "name")))
		case KindParameters:
			for _, p := range t.NamedChildren(id) {
				switch t.Kind(p) {
				case KindIdentifier:
					add(t.Text(p))
				case KindDefaultParameter, KindTypedDefaultParameter:
					add(t.Text(t.Field(p, "name")))
				default:
					add(t.Text(t.ChildOfKind(p, KindIdentifier)))
				}
			}
		case KindAsPattern:
			kids := t.NamedChildren(id)
			if len(kids) > 1 {
				addTargets(kids[len(kids)-1])
			}
		case KindExcept:
			afterAs := false
			for _, c := range n.Children {
				if t.Node(c).Type == "as" {
					afterAs = true
					continue
				}
				if afterAs && t.Kind(c) == KindIdentifier {
					add(t.Text(c))
					break
				}
			}
		default:
			if n.Type == "for_in_clause" {
				addTargets(t.Field(id, "left"))
			}
		}
	}
	return locals
}

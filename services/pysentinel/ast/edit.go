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
	"sort"
)

// TextEdit replaces the bytes in Span with NewText.
// An empty span is an insertion.
type TextEdit struct {
	Span    Span   `json:"span"`
	NewText string `json:"new_text"`
}

// Insert returns an insertion edit at offset.
func Insert(offset uint32, text string) TextEdit {
	return TextEdit{Span: Span{Start: offset, End: offset}, NewText: text}
}

// Replace returns an edit replacing the node's full text.
func (t *Tree) Replace(id NodeID, text string) TextEdit {
	return TextEdit{Span: t.Node(id).Span, NewText: text}
}

// ImportEdit returns an edit adding "import module" at the import
// insertion point.
func (t *Tree) ImportEdit(module string) TextEdit {
	at := t.ImportInsertionPoint()
	text := "import " + module + "\n"
	if at > 0 && int(at) == len(t.Source) && t.Source[at-1] != '\n' {
		text = "\n" + text
	}
	return Insert(at, text)
}

// EditSet is a group of non-overlapping edits expressed against one
// version of the source.
type EditSet []TextEdit

// Normalize sorts the set by position and rejects overlaps.
func (es EditSet) Normalize() (EditSet, error) {
	out := make(EditSet, len(es))
	copy(out, es)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.Start != out[j].Span.Start {
			return out[i].Span.Start < out[j].Span.Start
		}
		return out[i].Span.End < out[j].Span.End
	})
	for i := 1; i < len(out); i++ {
		if out[i].Span.Start < out[i-1].Span.End {
			return nil, fmt.Errorf("overlapping edits at %d and %d", out[i-1].Span.Start, out[i].Span.Start)
		}
	}
	return out, nil
}

// Apply returns a new source with every edit in the set applied.
func (es EditSet) Apply(src []byte) ([]byte, error) {
	sorted, err := es.Normalize()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(src)+64)
	var cursor uint32
	for _, e := range sorted {
		if e.Span.Start > e.Span.End || int(e.Span.End) > len(src) {
			return nil, fmt.Errorf("edit span [%d,%d) outside source of %d bytes", e.Span.Start, e.Span.End, len(src))
		}
		out = append(out, src[cursor:e.Span.Start]...)
		out = append(out, e.NewText...)
		cursor = e.Span.End
	}
	out = append(out, src[cursor:]...)
	return out, nil
}

// MapSpan translates a span from the pre-edit source to the post-edit one.
//
// Edits before the span shift it and edits inside it stretch it. An
// insertion exactly at the span start lands before the span; an insertion
// exactly at the span end lands after it.
func (es EditSet) MapSpan(s Span) Span {
	sorted := make(EditSet, len(es))
	copy(sorted, es)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Span.Start < sorted[j].Span.Start })
	return Span{Start: sorted.mapPos(s.Start, false), End: sorted.mapPos(s.End, true)}
}

func (es EditSet) mapPos(p uint32, isEnd bool) uint32 {
	var shift int64
	for _, e := range es {
		delta := int64(len(e.NewText)) - int64(e.Span.Len())
		switch {
		case e.Span.End < p:
			shift += delta
		case e.Span.End == p:
			if isEnd && e.Span.Start == p {
				continue
			}
			shift += delta
		case e.Span.Start < p:
			if isEnd {
				return uint32(int64(e.Span.Start) + int64(len(e.NewText)) + shift)
			}
			return uint32(int64(e.Span.Start) + shift)
		default:
			return uint32(int64(p) + shift)
		}
	}
	return uint32(int64(p) + shift)
}

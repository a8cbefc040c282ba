// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// diffContext is the number of unchanged lines around each hunk.
const diffContext = 3

const noNewlineMarker = "\\ No newline at end of file\n"

// UnifiedDiff renders the change from before to after as a unified diff
// with "a/" and "b/" path prefixes. Identical inputs yield "".
//
// Hunks come from difflib's grouped opcodes; go-diff prints them. A last
// line without a trailing newline is followed by the standard
// "\ No newline at end of file" marker so the patch applies exactly.
func UnifiedDiff(path string, before, after []byte) (string, error) {
	if bytes.Equal(before, after) {
		return "", nil
	}
	a, b := splitLines(before), splitLines(after)
	fd := &diff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
	}
	for _, group := range difflib.NewMatcher(a, b).GetGroupedOpCodes(diffContext) {
		fd.Hunks = append(fd.Hunks, buildHunk(a, b, group))
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("render diff for %s: %w", path, err)
	}
	return string(out), nil
}

// splitLines splits content into lines, each keeping its newline. The last
// line keeps its exact bytes, with or without a newline.
func splitLines(content []byte) []string {
	var lines []string
	for len(content) > 0 {
		i := bytes.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, string(content))
			break
		}
		lines = append(lines, string(content[:i+1]))
		content = content[i+1:]
	}
	return lines
}

func buildHunk(a, b []string, group []difflib.OpCode) *diff.Hunk {
	first, last := group[0], group[len(group)-1]
	h := &diff.Hunk{
		OrigStartLine: int32(first.I1) + 1,
		OrigLines:     int32(last.I2 - first.I1),
		NewStartLine:  int32(first.J1) + 1,
		NewLines:      int32(last.J2 - first.J1),
	}
	// An empty side starts at the line before the change.
	if h.OrigLines == 0 {
		h.OrigStartLine--
	}
	if h.NewLines == 0 {
		h.NewStartLine--
	}

	var body bytes.Buffer
	for _, op := range group {
		switch op.Tag {
		case 'e':
			writeLines(&body, ' ', a[op.I1:op.I2])
		case 'd':
			writeLines(&body, '-', a[op.I1:op.I2])
		case 'i':
			writeLines(&body, '+', b[op.J1:op.J2])
		case 'r':
			writeLines(&body, '-', a[op.I1:op.I2])
			writeLines(&body, '+', b[op.J1:op.J2])
		}
	}
	h.Body = body.Bytes()
	return h
}

func writeLines(buf *bytes.Buffer, prefix byte, lines []string) {
	for _, line := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			buf.WriteByte('\n')
			buf.WriteString(noNewlineMarker)
		}
	}
}

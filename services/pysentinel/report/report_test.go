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
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

func sampleResult() *scan.Result {
	return &scan.Result{Files: []scan.FileResult{
		{
			Path: "app/views.py",
			Findings: []safety.Finding{
				{
					Check:    safety.CheckShellInjection,
					Severity: safety.SeverityHigh,
					Message:  "Unescaped input passed to a shell command.",
					File:     "app/views.py",
					Position: ast.Position{Line: 3, Column: 5},
					Snippet:  "os.system(cmd)",
					FixName:  "Escape shell arguments with shlex.quote",
				},
				{
					Check:    safety.CheckTryExceptContinue,
					Severity: safety.SeverityLow,
					Message:  "Broad exception silently swallowed with continue.",
					File:     "app/views.py",
					Position: ast.Position{Line: 9, Column: 1},
				},
			},
		},
		{Path: "app/broken.py", Error: "parse failed"},
		{Path: "app/clean.py"},
	}}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"text": FormatText, "JSON": FormatJSON, " sarif ": FormatSARIF} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	sum := Summarize(sampleResult())
	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Findings)
	assert.Equal(t, 1, sum.Fixable)
	assert.Equal(t, 1, sum.BySeverity[safety.SeverityHigh])
	assert.Equal(t, 1, sum.BySeverity[safety.SeverityLow])
}

func TestFilterSeverityAndExceeds(t *testing.T) {
	res := sampleResult()
	filtered := FilterSeverity(res, safety.SeverityMedium)
	assert.Len(t, filtered.Findings(), 1)
	assert.Len(t, res.Findings(), 2, "input must not be modified")

	assert.True(t, Exceeds(res, safety.SeverityHigh))
	assert.False(t, Exceeds(res, safety.SeverityCritical))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "app/views.py\n")
	assert.Contains(t, out, "3:5  HIGH     SHL100  Unescaped input passed to a shell command.")
	assert.Contains(t, out, "[fix: Escape shell arguments with shlex.quote]")
	assert.Contains(t, out, "error: parse failed")
	assert.NotContains(t, out, "app/clean.py")
	assert.Contains(t, out, "2 finding(s) in 3 file(s) (1 high, 1 low), 1 fixable, 1 file(s) could not be scanned")
	assert.NotContains(t, out, "\x1b[", "non-terminal output must not be styled")

	t.Run("no findings", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteText(&buf, &scan.Result{Files: []scan.FileResult{{Path: "a.py"}}}))
		assert.Equal(t, "No findings in 1 file(s)\n", buf.String())
	})
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))

	var decoded struct {
		Summary Summary `json:"summary"`
		Files   []struct {
			Path     string           `json:"path"`
			Error    string           `json:"error"`
			Findings []safety.Finding `json:"findings"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 2, decoded.Summary.Findings)
	require.Len(t, decoded.Files, 3)
	assert.Equal(t, "parse failed", decoded.Files[1].Error)
	require.Len(t, decoded.Files[0].Findings, 2)
	assert.Equal(t, safety.CheckShellInjection, decoded.Files[0].Findings[0].Check)
	assert.True(t, decoded.Files[0].Findings[0].Fixable())
}

func TestWriteSARIF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSARIF(&buf, sampleResult(), "1.2.3"))

	var log sarifLog
	require.NoError(t, json.Unmarshal(buf.Bytes(), &log))
	assert.Equal(t, "2.1.0", log.Version)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]

	assert.Equal(t, "pysentinel", run.Tool.Driver.Name)
	assert.Equal(t, "1.2.3", run.Tool.Driver.Version)
	assert.Len(t, run.Tool.Driver.Rules, len(safety.Catalog))

	require.Len(t, run.Results, 2)
	r0 := run.Results[0]
	assert.Equal(t, "SHL100", r0.RuleID)
	assert.Equal(t, "error", r0.Level)
	assert.Equal(t, string(safety.CheckShellInjection), run.Tool.Driver.Rules[r0.RuleIndex].ID)
	assert.Equal(t, 3, r0.Locations[0].PhysicalLocation.Region.StartLine)
	assert.Equal(t, 5, r0.Locations[0].PhysicalLocation.Region.StartColumn)
	assert.Equal(t, "app/views.py", r0.Locations[0].PhysicalLocation.ArtifactLocation.URI)
	assert.Equal(t, "note", run.Results[1].Level)

	require.Len(t, run.Invocations, 1)
	require.Len(t, run.Invocations[0].Notifications, 1)
	assert.Equal(t, "parse failed", run.Invocations[0].Notifications[0].Message.Text)

	t.Run("empty result has empty results array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteSARIF(&buf, &scan.Result{}, ""))
		assert.Contains(t, buf.String(), `"results": []`)
	})
}

func TestUnifiedDiff(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		out, err := UnifiedDiff("a.py", []byte("x\n"), []byte("x\n"))
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("single line change", func(t *testing.T) {
		before := "import tempfile\nname = tempfile.mktemp()\nprint(name)\n"
		after := "import tempfile\nname = tempfile.mkstemp()\nprint(name)\n"
		out, err := UnifiedDiff("a.py", []byte(before), []byte(after))
		require.NoError(t, err)
		assert.Contains(t, out, "--- a/a.py\n")
		assert.Contains(t, out, "+++ b/a.py\n")
		assert.Contains(t, out, "@@ -1,3 +1,3 @@")
		assert.Contains(t, out, "-name = tempfile.mktemp()\n+name = tempfile.mkstemp()\n")
		assert.Contains(t, out, " import tempfile\n")
	})

	t.Run("insertion at top", func(t *testing.T) {
		out, err := UnifiedDiff("a.py", []byte("x = 1\n"), []byte("import hmac\nx = 1\n"))
		require.NoError(t, err)
		assert.Contains(t, out, "@@ -1,1 +1,2 @@")
		assert.Contains(t, out, "+import hmac\n x = 1\n")
	})

	t.Run("distant changes make two hunks", func(t *testing.T) {
		var before, after []string
		for i := 0; i < 30; i++ {
			before = append(before, "line")
			after = append(after, "line")
		}
		before[2], after[2] = "old a", "new a"
		before[25], after[25] = "old b", "new b"
		out, err := UnifiedDiff("m.py",
			[]byte(strings.Join(before, "\n")+"\n"),
			[]byte(strings.Join(after, "\n")+"\n"))
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "@@ -"))
		assert.Contains(t, out, "@@ -1,6 +1,6 @@")
		assert.Contains(t, out, "@@ -23,7 +23,7 @@")
	})

	t.Run("missing final newline is marked", func(t *testing.T) {
		out, err := UnifiedDiff("a.py", []byte("x = 1"), []byte("x = 2"))
		require.NoError(t, err)
		assert.Equal(t, "--- a/a.py\n+++ b/a.py\n@@ -1,1 +1,1 @@\n"+
			"-x = 1\n\\ No newline at end of file\n"+
			"+x = 2\n\\ No newline at end of file\n", out)
	})

	t.Run("adding the final newline shows as a change", func(t *testing.T) {
		out, err := UnifiedDiff("a.py", []byte("x = 1"), []byte("x = 1\n"))
		require.NoError(t, err)
		assert.Contains(t, out, "-x = 1\n\\ No newline at end of file\n+x = 1\n")
	})

	t.Run("large rewrite", func(t *testing.T) {
		var before, after strings.Builder
		for i := 0; i < 3000; i++ {
			fmt.Fprintf(&before, "a%d = %d\n", i, i)
			fmt.Fprintf(&after, "b%d = %d\n", i, i)
		}
		out, err := UnifiedDiff("big.py", []byte(before.String()), []byte(after.String()))
		require.NoError(t, err)
		assert.Contains(t, out, "@@ -1,3000 +1,3000 @@")
		assert.Equal(t, 3000, strings.Count(out, "\n-a"))
		assert.Equal(t, 3000, strings.Count(out, "\n+b"))
	})
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a\n", "b"}, splitLines([]byte("a\nb")))
	assert.Equal(t, []string{"a\n", "b\n"}, splitLines([]byte("a\nb\n")))
	assert.Nil(t, splitLines(nil))
}

func TestWriteDependencies(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteDependencies(&buf, nil))
		assert.Equal(t, "No known vulnerabilities found\n", buf.String())
	})

	t.Run("reports", func(t *testing.T) {
		var buf bytes.Buffer
		reports := []advisory.Report{
			{Package: advisory.Package{Name: "apples", Version: "1.0"}, Count: 1, Messages: []string{"apples 1.0: bad"}},
			{Package: advisory.Package{Name: "bananas", Version: "2.0"}, Count: 2, Messages: []string{"bananas 2.0: x", "bananas 2.0: y"}},
		}
		require.NoError(t, WriteDependencies(&buf, reports))
		out := buf.String()
		assert.Less(t, strings.Index(out, "bananas==2.0"), strings.Index(out, "apples==1.0"))
		assert.Contains(t, out, "  - bananas 2.0: y\n")
		assert.Contains(t, out, "3 advisories across 2 package(s)")
	})
}

func TestWriteCatalog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCatalog(&buf, safety.Catalog))
	assert.Equal(t, len(safety.Catalog), strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "SQL100")
}

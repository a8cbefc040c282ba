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
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

var (
	colorTeal    = lipgloss.Color("#20B9B4")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorLow     = lipgloss.Color("#1D9EA3")
)

type styles struct {
	title    lipgloss.Style
	path     lipgloss.Style
	muted    lipgloss.Style
	ok       lipgloss.Style
	severity map[safety.Severity]lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, path: plain, muted: plain, ok: plain, severity: map[safety.Severity]lipgloss.Style{}}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
		path:  lipgloss.NewStyle().Bold(true),
		muted: lipgloss.NewStyle().Foreground(colorSlate),
		ok:    lipgloss.NewStyle().Foreground(colorTeal),
		severity: map[safety.Severity]lipgloss.Style{
			safety.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(colorError),
			safety.SeverityHigh:     lipgloss.NewStyle().Foreground(colorError),
			safety.SeverityMedium:   lipgloss.NewStyle().Foreground(colorWarning),
			safety.SeverityLow:      lipgloss.NewStyle().Foreground(colorLow),
			safety.SeverityInfo:     lipgloss.NewStyle().Foreground(colorSlate),
		},
	}
}

func (s styles) sev(sev safety.Severity) string {
	return s.styleFor(sev).Render(fmt.Sprintf("%-8s", sev))
}

func (s styles) styleFor(sev safety.Severity) lipgloss.Style {
	if st, ok := s.severity[sev]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// useColor reports whether w is a terminal that should receive styling.
func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WriteText writes a human-readable report, styled when w is a terminal.
func WriteText(w io.Writer, res *scan.Result) error {
	st := newStyles(useColor(w))
	var b strings.Builder

	for _, file := range res.Files {
		if file.Error != "" {
			fmt.Fprintf(&b, "%s\n  %s\n", st.path.Render(file.Path), st.styleFor(safety.SeverityHigh).Render("error: "+file.Error))
			continue
		}
		if len(file.Findings) == 0 {
			continue
		}
		b.WriteString(st.path.Render(file.Path))
		b.WriteByte('\n')
		for _, f := range file.Findings {
			fmt.Fprintf(&b, "  %d:%d  %s %s  %s", f.Position.Line, f.Position.Column, st.sev(f.Severity), f.Check, f.Message)
			if f.FixName != "" {
				b.WriteString(st.muted.Render("  [fix: " + f.FixName + "]"))
			}
			b.WriteByte('\n')
		}
	}

	sum := Summarize(res)
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	if sum.Findings == 0 {
		b.WriteString(st.ok.Render(fmt.Sprintf("No findings in %d file(s)", sum.Files)))
	} else {
		b.WriteString(st.title.Render(fmt.Sprintf("%d finding(s) in %d file(s)", sum.Findings, sum.Files)))
		b.WriteString(" ")
		b.WriteString(st.muted.Render(severityBreakdown(sum) + fmt.Sprintf(", %d fixable", sum.Fixable)))
	}
	if sum.Failed > 0 {
		fmt.Fprintf(&b, ", %d file(s) could not be scanned", sum.Failed)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func severityBreakdown(sum Summary) string {
	order := []safety.Severity{
		safety.SeverityCritical, safety.SeverityHigh, safety.SeverityMedium,
		safety.SeverityLow, safety.SeverityInfo,
	}
	var parts []string
	for _, sev := range order {
		if n := sum.BySeverity[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(sev))))
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// WriteCatalog lists the available checks.
func WriteCatalog(w io.Writer, checks []safety.Check) error {
	st := newStyles(useColor(w))
	var b strings.Builder
	for _, c := range checks {
		fmt.Fprintf(&b, "%-7s %s %-32s %s\n", c.ID, st.sev(c.Severity), c.Name, st.muted.Render(c.Description))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteDependencies writes one block per vulnerable package.
func WriteDependencies(w io.Writer, reports []advisory.Report) error {
	st := newStyles(useColor(w))
	var b strings.Builder
	if len(reports) == 0 {
		b.WriteString(st.ok.Render("No known vulnerabilities found"))
		b.WriteByte('\n')
		_, err := io.WriteString(w, b.String())
		return err
	}

	sorted := append([]advisory.Report(nil), reports...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	total := 0
	for _, r := range sorted {
		total += r.Count
		fmt.Fprintf(&b, "%s %s\n", st.path.Render(r.Package.String()), st.muted.Render(fmt.Sprintf("(%d advisories)", r.Count)))
		for _, msg := range r.Messages {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
	}
	fmt.Fprintf(&b, "\n%s\n", st.title.Render(fmt.Sprintf("%d advisories across %d package(s)", total, len(sorted))))
	_, err := io.WriteString(w, b.String())
	return err
}

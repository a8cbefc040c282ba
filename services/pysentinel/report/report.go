// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders scan results, fix previews and dependency
// reports for terminals and machines.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

// Format selects an output encoding.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// ParseFormat parses a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatSARIF:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or sarif)", s)
	}
}

// Summary counts the findings of a scan.
type Summary struct {
	Files      int                     `json:"files"`
	Failed     int                     `json:"failed"`
	Findings   int                     `json:"findings"`
	Fixable    int                     `json:"fixable"`
	BySeverity map[safety.Severity]int `json:"by_severity"`
}

// Summarize counts the findings of res.
func Summarize(res *scan.Result) Summary {
	s := Summary{
		Files:      len(res.Files),
		BySeverity: make(map[safety.Severity]int),
	}
	for _, f := range res.Files {
		if f.Err != nil || f.Error != "" {
			s.Failed++
		}
		for _, finding := range f.Findings {
			s.Findings++
			s.BySeverity[finding.Severity]++
			if finding.Fixable() {
				s.Fixable++
			}
		}
	}
	return s
}

// FilterSeverity returns a copy of res keeping only findings at or above min.
func FilterSeverity(res *scan.Result, min safety.Severity) *scan.Result {
	out := &scan.Result{Files: make([]scan.FileResult, 0, len(res.Files))}
	for _, f := range res.Files {
		kept := f
		kept.Findings = nil
		for _, finding := range f.Findings {
			if finding.Severity.AtLeast(min) {
				kept.Findings = append(kept.Findings, finding)
			}
		}
		out.Files = append(out.Files, kept)
	}
	return out
}

// Exceeds reports whether any finding is at or above threshold.
func Exceeds(res *scan.Result, threshold safety.Severity) bool {
	for _, f := range res.Files {
		for _, finding := range f.Findings {
			if finding.Severity.AtLeast(threshold) {
				return true
			}
		}
	}
	return false
}

// Write renders res in the given format.
func Write(w io.Writer, format Format, res *scan.Result, version string) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatSARIF:
		return WriteSARIF(w, res, version)
	default:
		return WriteText(w, res)
	}
}

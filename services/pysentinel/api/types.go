// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves scanning, fixing and dependency checks over HTTP.
//
// # Routes
//
//	GET  /v1/pysentinel/health
//	POST /v1/pysentinel/scan
//	POST /v1/pysentinel/fix
//	POST /v1/pysentinel/dependencies
//	GET  /metrics
package api

import (
	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/report"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/fixes"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context.
	Details string `json:"details,omitempty"`
}

// HealthResponse reports service status.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	RulesVersion     string `json:"rules_version"`
	AdvisoryPackages int    `json:"advisory_packages"`
	AdvisoryLoadedAt string `json:"advisory_loaded_at,omitempty"`
}

// SourceRequest carries one Python file.
type SourceRequest struct {
	// Path names the file. Detectors use the base name (settings.py,
	// test_*.py) to decide applicability.
	Path string `json:"path" binding:"required"`

	// Content is the file's source text.
	Content string `json:"content" binding:"required"`

	// PythonVersion is the declared language version, e.g. "3.6".
	PythonVersion string `json:"python_version,omitempty"`

	// Checks restricts the run to these check IDs. Empty means all.
	Checks []string `json:"checks,omitempty"`
}

// ScanResponse lists the findings for one file.
type ScanResponse struct {
	Path     string           `json:"path"`
	Findings []safety.Finding `json:"findings"`
	Summary  report.Summary   `json:"summary"`
}

// FixResponse carries the fixed source and a diff against the input.
type FixResponse struct {
	Path    string           `json:"path"`
	Source  string           `json:"source"`
	Diff    string           `json:"diff,omitempty"`
	Applied []safety.Finding `json:"applied"`
	Skipped []fixes.Skipped  `json:"skipped"`
}

// DependencyRequest lists installed packages, either structured or as
// pip freeze / requirements text.
type DependencyRequest struct {
	Packages     []advisory.Package `json:"packages" binding:"omitempty,dive"`
	Requirements string             `json:"requirements,omitempty"`
}

// DependencyResponse lists the vulnerable packages.
type DependencyResponse struct {
	Checked int               `json:"checked"`
	Count   int               `json:"count"`
	Reports []advisory.Report `json:"reports"`
}

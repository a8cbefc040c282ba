// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("pysentinel.scan")

var (
	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysentinel_findings_total",
		Help: "Findings reported by check",
	}, []string{"check"})

	filesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysentinel_files_scanned_total",
		Help: "Files scanned by result",
	}, []string{"result"})

	fixesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysentinel_fixes_applied_total",
		Help: "Fixes applied by check",
	}, []string{"check"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pysentinel_scan_duration_seconds",
		Help:    "Duration of single file scans",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

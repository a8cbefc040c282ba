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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for parsing.
var (
	tracer = otel.Tracer("pysentinel.ast")
	meter  = otel.Meter("pysentinel.ast")
)

var (
	parseLatency metric.Float64Histogram
	parseTotal   metric.Int64Counter
	parseNodes   metric.Int64Histogram
	parseErrors  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"pysentinel_parse_duration_seconds",
			metric.WithDescription("Duration of Python parse operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"pysentinel_parse_total",
			metric.WithDescription("Total number of parse operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseNodes, err = meter.Int64Histogram(
			"pysentinel_parse_nodes",
			metric.WithDescription("Number of arena nodes per parsed file"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseErrors, err = meter.Int64Counter(
			"pysentinel_parse_errors_total",
			metric.WithDescription("Total number of failed parses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParseMetrics records metrics for a parse operation.
//
// Parameters:
//   - ctx: Context for metric recording
//   - duration: How long the parse took
//   - nodeCount: Number of arena nodes built
//   - success: Whether the parse succeeded
func recordParseMetrics(ctx context.Context, duration time.Duration, nodeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	if success {
		parseNodes.Record(ctx, int64(nodeCount))
	} else {
		parseErrors.Add(ctx, 1)
	}
}

// startParseSpan creates a span for a parse operation.
func startParseSpan(ctx context.Context, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("file", filePath),
			attribute.Int("content_size", contentSize),
		),
	)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisory

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("pysentinel.advisory")
	meter  = otel.Meter("pysentinel.advisory")
)

var (
	advisoryLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysentinel_advisory_loads_total",
		Help: "Total advisory database loads by result",
	}, []string{"result"})

	advisoryPackages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pysentinel_advisory_packages",
		Help: "Number of packages in the active advisory database",
	})

	advisoryUnparsable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pysentinel_advisory_unparsable_constraints_total",
		Help: "Advisory constraints that failed to parse and never match",
	})
)

var (
	matchCounter metric.Int64Counter
	checkLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		matchCounter, err = meter.Int64Counter(
			"pysentinel_advisory_matches_total",
			metric.WithDescription("Installed packages matched by at least one advisory"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkLatency, err = meter.Float64Histogram(
			"pysentinel_advisory_check_duration_seconds",
			metric.WithDescription("Duration of dependency checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCheckMetrics(ctx context.Context, seconds float64, matched int) {
	if err := initMetrics(); err != nil {
		return
	}
	checkLatency.Record(ctx, seconds)
	if matched > 0 {
		matchCounter.Add(ctx, int64(matched))
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pysentinel/services/pysentinel/cache"
	"github.com/AleutianAI/pysentinel/services/pysentinel/report"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

type scanOptions struct {
	pythonVersion string
	format        string
	severity      string
	threshold     string
	workers       int
	cacheDir      string
	checks        []string
	output        string
}

func newScanCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "Scan Python files for security problems",
		Long: `Scan Python files and directories for security problems.

Exit codes:
  0  no finding at or above --threshold
  1  at least one finding at or above --threshold
  2  usage, configuration or I/O error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, o, pathsOrDot(args))
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.pythonVersion, "python-version", "", "Python version the code targets (default 3.12)")
	f.StringVar(&o.format, "format", "text", "Output format: text, json or sarif")
	f.StringVar(&o.severity, "severity", "low", "Minimum severity to report")
	f.StringVar(&o.threshold, "threshold", "high", "Minimum severity that fails the run")
	f.IntVar(&o.workers, "workers", scan.DefaultWorkers, "Files scanned in parallel")
	f.StringVar(&o.cacheDir, "cache-dir", "", "Directory for the findings cache (disabled when empty)")
	f.StringSliceVar(&o.checks, "checks", nil, "Comma-separated check IDs to run (default all)")
	f.StringVarP(&o.output, "output", "o", "", "Write the report to a file instead of stdout")
	return cmd
}

func runScan(cmd *cobra.Command, g *globalOptions, o *scanOptions, paths []string) error {
	usage := func(err error) error { return &exitError{code: ExitError, err: err} }

	format, err := report.ParseFormat(o.format)
	if err != nil {
		return usage(err)
	}
	minSeverity, err := safety.ParseSeverity(o.severity)
	if err != nil {
		return usage(fmt.Errorf("--severity: %w", err))
	}
	threshold, err := safety.ParseSeverity(o.threshold)
	if err != nil {
		return usage(fmt.Errorf("--threshold: %w", err))
	}
	checks, err := parseChecks(o.checks)
	if err != nil {
		return usage(err)
	}
	lang, err := parsePythonVersion(o.pythonVersion)
	if err != nil {
		return usage(err)
	}

	opts := []scan.Option{
		scan.WithWorkers(o.workers),
		scan.WithChecks(checks...),
		scan.WithLanguageVersion(lang),
		scan.WithLogger(g.logger),
	}
	if o.cacheDir != "" {
		cfg := cache.DefaultConfig(o.cacheDir)
		cfg.Logger = g.logger
		fc, err := cache.Open(cfg)
		if err != nil {
			return usage(fmt.Errorf("open cache: %w", err))
		}
		defer fc.Close()
		opts = append(opts, scan.WithCache(fc))
	}

	res, err := scan.NewEngine(g.rules, opts...).ScanPaths(cmd.Context(), paths)
	if err != nil {
		return usage(err)
	}
	res = report.FilterSeverity(res, minSeverity)

	out := cmd.OutOrStdout()
	if o.output != "" {
		file, err := os.Create(o.output)
		if err != nil {
			return usage(err)
		}
		defer file.Close()
		out = file
	}
	if err := report.Write(out, format, res, version); err != nil {
		return usage(err)
	}

	if report.Exceeds(res, threshold) {
		return violation()
	}
	return nil
}

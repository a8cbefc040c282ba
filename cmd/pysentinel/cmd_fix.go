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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pysentinel/services/pysentinel/report"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/fixes"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

type fixOptions struct {
	write         bool
	diff          bool
	checks        []string
	pythonVersion string
}

func newFixCmd(g *globalOptions) *cobra.Command {
	o := &fixOptions{}
	cmd := &cobra.Command{
		Use:   "fix [path...]",
		Short: "Apply automatic fixes",
		Long: `Apply every available automatic fix, one at a time per file.

Without --write nothing is changed on disk; use --diff to preview.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFix(cmd, g, o, pathsOrDot(args))
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&o.write, "write", "w", false, "Write fixed files back to disk")
	f.BoolVar(&o.diff, "diff", false, "Print a unified diff of the changes")
	f.StringSliceVar(&o.checks, "checks", nil, "Comma-separated check IDs to fix (default all)")
	f.StringVar(&o.pythonVersion, "python-version", "", "Python version the code targets (default 3.12)")
	return cmd
}

func runFix(cmd *cobra.Command, g *globalOptions, o *fixOptions, paths []string) error {
	checks, err := parseChecks(o.checks)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	lang, err := parsePythonVersion(o.pythonVersion)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	files, err := scan.CollectFiles(paths)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}

	engine := scan.NewEngine(g.rules, scan.WithLanguageVersion(lang), scan.WithLogger(g.logger))
	out := cmd.OutOrStdout()
	var applied, changed, failed int
	for _, path := range files {
		if err := cmd.Context().Err(); err != nil {
			return &exitError{code: ExitError, err: err}
		}
		res, err := engine.FixFile(cmd.Context(), path, o.write, checks...)
		if err != nil {
			failed++
			g.logger.Warn("fix failed", slog.String("file", path), slog.String("error", err.Error()))
			continue
		}
		if !res.Changed() && len(res.Skipped) == 0 {
			continue
		}
		applied += len(res.Applied)
		if res.Changed() {
			changed++
		}
		if o.diff {
			d, err := report.UnifiedDiff(path, res.Original, res.Source)
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			fmt.Fprint(out, d)
		} else {
			writeFixSummary(out, path, res)
		}
	}

	verb := "Would apply"
	if o.write {
		verb = "Applied"
	}
	fmt.Fprintf(out, "%s %d fix(es) in %d file(s)\n", verb, applied, changed)
	if failed > 0 {
		return &exitError{code: ExitError, err: fmt.Errorf("%d file(s) could not be fixed", failed)}
	}
	return nil
}

func writeFixSummary(w io.Writer, path string, res *fixes.BatchResult) {
	for _, f := range res.Applied {
		fmt.Fprintf(w, "%s:%d:%d  %s  %s\n", path, f.Position.Line, f.Position.Column, f.Check, f.FixName)
	}
	for _, s := range res.Skipped {
		if s.Reason == fixes.SkipNoFix {
			continue
		}
		fmt.Fprintf(w, "%s:%d:%d  %s  skipped: %s\n", path, s.Finding.Position.Line, s.Finding.Position.Column, s.Finding.Check, s.Reason)
	}
}

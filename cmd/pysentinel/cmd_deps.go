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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/report"
)

type depsOptions struct {
	dbDir        string
	requirements []string
	packages     []string
	format       string
}

func newDepsCmd(g *globalOptions) *cobra.Command {
	o := &depsOptions{}
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check installed packages against the advisory database",
		Long: `Check installed packages against the advisory database.

The database directory holds insecure.json and insecure_full.json.
Packages come from pip freeze style files (--requirements, "-" for stdin)
and from --package name==version flags.

Exit codes:
  0  no vulnerable package
  1  at least one vulnerable package
  2  usage, database or I/O error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeps(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.dbDir, "db-dir", "", "Directory holding the advisory database")
	f.StringSliceVarP(&o.requirements, "requirements", "r", nil, "Requirements or pip freeze file (repeatable, - for stdin)")
	f.StringSliceVarP(&o.packages, "package", "p", nil, "Installed package as name==version (repeatable)")
	f.StringVar(&o.format, "format", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("db-dir")
	return cmd
}

func runDeps(cmd *cobra.Command, g *globalOptions, o *depsOptions) error {
	fail := func(err error) error { return &exitError{code: ExitError, err: err} }

	if o.format != "text" && o.format != "json" {
		return fail(fmt.Errorf("unknown output format %q (want text or json)", o.format))
	}

	var pkgs []advisory.Package
	for _, raw := range o.packages {
		pkg, err := advisory.ParsePackage(raw)
		if err != nil {
			return fail(err)
		}
		pkgs = append(pkgs, pkg)
	}
	for _, path := range o.requirements {
		parsed, err := readRequirements(cmd, path)
		if err != nil {
			return fail(err)
		}
		pkgs = append(pkgs, parsed...)
	}
	if len(pkgs) == 0 {
		return fail(errors.New("no packages given; use --requirements or --package"))
	}

	db, err := advisory.LoadDir(cmd.Context(), o.dbDir, advisory.WithLogger(g.logger))
	if err != nil {
		return fail(err)
	}
	reports := db.Check(cmd.Context(), pkgs)

	out := cmd.OutOrStdout()
	if o.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if reports == nil {
			reports = []advisory.Report{}
		}
		if err := enc.Encode(reports); err != nil {
			return fail(err)
		}
	} else if err := report.WriteDependencies(out, reports); err != nil {
		return fail(err)
	}

	if len(reports) > 0 {
		return violation()
	}
	return nil
}

func readRequirements(cmd *cobra.Command, path string) ([]advisory.Package, error) {
	if path == "-" {
		return advisory.ParseRequirements(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pkgs, err := advisory.ParseRequirements(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pkgs, nil
}

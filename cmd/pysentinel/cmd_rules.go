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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pysentinel/services/pysentinel/report"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

func newRulesCmd(g *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the available checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					RulesVersion string         `json:"rules_version"`
					Checks       []safety.Check `json:"checks"`
				}{g.rules.Version, safety.Catalog})
			case "text":
				fmt.Fprintf(out, "rules version %s\n\n", g.rules.Version)
				return report.WriteCatalog(out, safety.Catalog)
			default:
				return &exitError{code: ExitError, err: fmt.Errorf("unknown output format %q (want text or json)", format)}
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

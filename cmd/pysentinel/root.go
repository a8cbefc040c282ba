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
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pysentinel/pkg/logging"
	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

// globalOptions holds the persistent flags and what they resolve to.
type globalOptions struct {
	logFormat string
	logLevel  string
	logDir    string
	rulesPath string

	closer *logging.Logger
	logger *slog.Logger
	rules  *config.Rules
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "pysentinel",
		Short:         "Security scanner and fixer for Python code",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return g.close()
		},
	}
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format: text or json")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Also append JSON logs to a dated file in this directory")
	root.PersistentFlags().StringVar(&g.rulesPath, "rules", "",
		"Rules file overriding the embedded defaults (env "+config.RulesPathEnv+")")

	root.AddCommand(
		newScanCmd(g),
		newFixCmd(g),
		newDepsCmd(g),
		newServeCmd(g),
		newRulesCmd(g),
	)
	return root
}

// setup installs the logger and loads the rules. A rules file named on
// the command line must load; one named by the environment falls back to
// the embedded rules.
func (g *globalOptions) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	jsonLogs, err := logging.ParseFormat(g.logFormat)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		JSON:    jsonLogs,
		Output:  cmd.ErrOrStderr(),
		LogDir:  g.logDir,
		Service: "pysentinel",
	})
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	g.closer = logger
	g.logger = logger.Slog()
	slog.SetDefault(g.logger)

	if g.rulesPath != "" {
		r, err := config.LoadFile(cmd.Context(), g.rulesPath)
		if err != nil {
			return &exitError{code: ExitError, err: err}
		}
		g.rules = r
		return nil
	}
	g.rules = config.GetRules(cmd.Context())
	return nil
}

func (g *globalOptions) close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}

func parseChecks(raw []string) ([]safety.CheckID, error) {
	var ids []safety.CheckID
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			id := safety.CheckID(part)
			if _, ok := safety.LookupCheck(id); !ok {
				return nil, fmt.Errorf("unknown check %q (see 'pysentinel rules')", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func parsePythonVersion(s string) (ast.LanguageVersion, error) {
	if s == "" {
		return ast.DefaultLanguageVersion, nil
	}
	v, err := ast.ParseLanguageVersion(s)
	if err != nil {
		return ast.LanguageVersion{}, fmt.Errorf("invalid --python-version: %w", err)
	}
	return v, nil
}

func pathsOrDot(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}

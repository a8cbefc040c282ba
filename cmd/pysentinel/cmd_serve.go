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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/api"
	"github.com/AleutianAI/pysentinel/services/pysentinel/cache"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
	"github.com/AleutianAI/pysentinel/services/pysentinel/telemetry"
)

type serveOptions struct {
	port      int
	dbDir     string
	watch     bool
	rateLimit float64
	burst     int
	cacheDir  string
	debug     bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan, fix and dependency API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.port, "port", 8080, "Port to listen on")
	f.StringVar(&o.dbDir, "db-dir", "", "Advisory database directory (dependency endpoint disabled when empty)")
	f.BoolVar(&o.watch, "watch", false, "Reload the advisory database when its files change")
	f.Float64Var(&o.rateLimit, "rate-limit", 20, "Requests per second (0 disables limiting)")
	f.IntVar(&o.burst, "burst", 40, "Rate limiter burst size")
	f.StringVar(&o.cacheDir, "cache-dir", "", "Findings cache directory (in-memory when empty)")
	f.BoolVar(&o.debug, "debug", false, "Enable gin debug mode")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalOptions, o *serveOptions) error {
	ctx := cmd.Context()
	fail := func(err error) error { return &exitError{code: ExitError, err: err} }

	if o.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Mode = "server"
	tcfg.RulesVersion = g.rules.Version
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fail(fmt.Errorf("init telemetry: %w", err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			g.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	var fc *cache.FindingsCache
	if o.cacheDir != "" {
		cfg := cache.DefaultConfig(o.cacheDir)
		cfg.Logger = g.logger
		fc, err = cache.Open(cfg)
	} else {
		fc, err = cache.OpenInMemory()
	}
	if err != nil {
		return fail(fmt.Errorf("open cache: %w", err))
	}
	defer fc.Close()

	engine := scan.NewEngine(g.rules, scan.WithCache(fc), scan.WithLogger(g.logger))
	opts := []api.Option{
		api.WithLogger(g.logger),
		api.WithVersion(version),
		api.WithRateLimit(o.rateLimit, o.burst),
	}
	if o.dbDir != "" {
		store, err := advisory.OpenStore(ctx, o.dbDir, advisory.WithLogger(g.logger))
		if err != nil {
			return fail(err)
		}
		if o.watch {
			if err := store.Watch(ctx); err != nil {
				return fail(fmt.Errorf("watch advisory database: %w", err))
			}
		}
		opts = append(opts, api.WithAdvisoryStore(store))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", o.port),
		Handler:           api.NewServer(engine, opts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("starting pysentinel server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fail(err)
		}
		return nil
	case <-ctx.Done():
		g.logger.Info("shutting down pysentinel server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fail(err)
		}
		return nil
	}
}

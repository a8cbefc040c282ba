// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/report"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety/fixes"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
	"github.com/AleutianAI/pysentinel/services/pysentinel/telemetry"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 8 << 20

// Option configures a Server.
type Option func(*Server)

// WithAdvisoryStore enables the dependency endpoint.
func WithAdvisoryStore(store *advisory.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithRateLimit limits /v1 requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server holds the handlers' dependencies.
//
// Thread Safety: Safe for concurrent use; the advisory store swaps its
// database atomically.
type Server struct {
	engine  *scan.Engine
	store   *advisory.Store
	limiter *rate.Limiter
	maxBody int64
	version string
	logger  *slog.Logger
}

// NewServer creates a Server around engine.
func NewServer(engine *scan.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		maxBody: DefaultMaxBodyBytes,
		version: "dev",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns a gin engine with tracing, recovery and every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("pysentinel"))
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes adds the pysentinel routes to router.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1/pysentinel")
	v1.Use(s.requestID, s.rateLimit, s.limitBody)
	{
		v1.GET("/health", s.HandleHealth)
		v1.POST("/scan", s.HandleScan)
		v1.POST("/fix", s.HandleFix)
		v1.POST("/dependencies", s.HandleDependencies)
	}
}

const requestIDKey = "request_id"

func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	c.Set(requestIDKey, id)
	c.Next()
}

func (s *Server) rateLimit(c *gin.Context) {
	if s.limiter != nil && !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many requests",
			Code:  "RATE_LIMITED",
		})
		return
	}
	c.Next()
}

func (s *Server) limitBody(c *gin.Context) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)
	}
	c.Next()
}

func (s *Server) loggerFor(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), s.logger).With(
		slog.String(requestIDKey, c.GetString(requestIDKey)),
		slog.String("handler", handler),
	)
}

// HandleHealth handles GET /v1/pysentinel/health.
func (s *Server) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:       "ok",
		Version:      s.version,
		RulesVersion: s.engine.Rules().Version,
	}
	if s.store != nil {
		if db := s.store.Database(); db != nil {
			resp.AdvisoryPackages = db.Packages()
			resp.AdvisoryLoadedAt = db.LoadedAt().UTC().Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleScan handles POST /v1/pysentinel/scan.
//
// Description:
//
//	Scans one file's content and returns its findings.
//
// Request Body:
//
//	SourceRequest
//
// Response:
//
//	200 OK: ScanResponse
//	400 Bad Request: Invalid body, python version or check ID
//	413 Request Entity Too Large: Content exceeds the parser limit
//	422 Unprocessable Entity: Content is not valid UTF-8 or cannot be parsed
func (s *Server) HandleScan(c *gin.Context) {
	logger := s.loggerFor(c, "HandleScan")

	req, file, checks, ok := s.bindSource(c, logger)
	if !ok {
		return
	}

	findings, err := s.engine.ScanSource(c.Request.Context(), file, []byte(req.Content))
	if err != nil {
		s.sourceError(c, logger, err)
		return
	}
	findings = keepChecks(findings, checks)
	if findings == nil {
		findings = []safety.Finding{}
	}

	result := &scan.Result{Files: []scan.FileResult{{Path: file.Path, Findings: findings}}}
	logger.Info("scanned source", slog.String("path", file.Path), slog.Int("findings", len(findings)))
	c.JSON(http.StatusOK, ScanResponse{
		Path:     file.Path,
		Findings: findings,
		Summary:  report.Summarize(result),
	})
}

// HandleFix handles POST /v1/pysentinel/fix.
//
// Description:
//
//	Applies every available fix to one file's content, one fix at a time,
//	and returns the resulting source with a unified diff.
//
// Request Body:
//
//	SourceRequest
//
// Response:
//
//	200 OK: FixResponse
//	400 Bad Request: Invalid body, python version or check ID
//	422 Unprocessable Entity: Content cannot be parsed
func (s *Server) HandleFix(c *gin.Context) {
	logger := s.loggerFor(c, "HandleFix")

	req, file, checks, ok := s.bindSource(c, logger)
	if !ok {
		return
	}

	res, err := s.engine.FixSource(c.Request.Context(), file, []byte(req.Content), checks...)
	if err != nil {
		s.sourceError(c, logger, err)
		return
	}

	diffText, err := report.UnifiedDiff(file.Path, res.Original, res.Source)
	if err != nil {
		logger.Warn("diff rendering failed", slog.String("error", err.Error()))
	}
	resp := FixResponse{
		Path:    file.Path,
		Source:  string(res.Source),
		Diff:    diffText,
		Applied: res.Applied,
		Skipped: res.Skipped,
	}
	if resp.Applied == nil {
		resp.Applied = []safety.Finding{}
	}
	if resp.Skipped == nil {
		resp.Skipped = []fixes.Skipped{}
	}
	logger.Info("fixed source",
		slog.String("path", file.Path),
		slog.Int("applied", len(res.Applied)),
		slog.Int("skipped", len(res.Skipped)))
	c.JSON(http.StatusOK, resp)
}

// HandleDependencies handles POST /v1/pysentinel/dependencies.
//
// Response:
//
//	200 OK: DependencyResponse
//	400 Bad Request: Invalid body or no packages
//	503 Service Unavailable: No advisory database loaded
func (s *Server) HandleDependencies(c *gin.Context) {
	logger := s.loggerFor(c, "HandleDependencies")

	if s.store == nil || s.store.Database() == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "No advisory database loaded",
			Code:  "ADVISORY_UNAVAILABLE",
		})
		return
	}

	var req DependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	pkgs := req.Packages
	if req.Requirements != "" {
		parsed, err := advisory.ParseRequirements(strings.NewReader(req.Requirements))
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid requirements",
				Code:    "INVALID_REQUIREMENTS",
				Details: err.Error(),
			})
			return
		}
		pkgs = append(pkgs, parsed...)
	}
	if len(pkgs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "No packages given",
			Code:  "NO_PACKAGES",
		})
		return
	}

	reports := s.store.Database().Check(c.Request.Context(), pkgs)
	if reports == nil {
		reports = []advisory.Report{}
	}
	count := 0
	for _, r := range reports {
		count += r.Count
	}
	logger.Info("checked dependencies", slog.Int("packages", len(pkgs)), slog.Int("vulnerable", len(reports)))
	c.JSON(http.StatusOK, DependencyResponse{Checked: len(pkgs), Count: count, Reports: reports})
}

func (s *Server) bindSource(c *gin.Context, logger *slog.Logger) (SourceRequest, ast.SourceFile, []safety.CheckID, bool) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return req, ast.SourceFile{}, nil, false
	}

	file := ast.SourceFile{Path: req.Path}
	if req.PythonVersion != "" {
		v, err := ast.ParseLanguageVersion(req.PythonVersion)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid python_version",
				Code:    "INVALID_PYTHON_VERSION",
				Details: err.Error(),
			})
			return req, file, nil, false
		}
		file.LanguageVersion = v
	}

	checks := make([]safety.CheckID, 0, len(req.Checks))
	for _, raw := range req.Checks {
		id := safety.CheckID(strings.ToUpper(strings.TrimSpace(raw)))
		if _, ok := safety.LookupCheck(id); !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Unknown check " + raw,
				Code:  "UNKNOWN_CHECK",
			})
			return req, file, nil, false
		}
		checks = append(checks, id)
	}
	return req, file, checks, true
}

func (s *Server) sourceError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "SCAN_FAILED"
	switch {
	case errors.Is(err, ast.ErrFileTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case errors.Is(err, ast.ErrInvalidContent):
		status, code = http.StatusUnprocessableEntity, "INVALID_CONTENT"
	case ast.IsParseError(err) || errors.Is(err, ast.ErrParseFailed):
		status, code = http.StatusUnprocessableEntity, "PARSE_FAILED"
	}
	logger.Error("source request failed", slog.String("error", err.Error()), slog.String("code", code))
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func keepChecks(findings []safety.Finding, checks []safety.CheckID) []safety.Finding {
	if len(checks) == 0 {
		return findings
	}
	want := make(map[safety.CheckID]bool, len(checks))
	for _, id := range checks {
		want[id] = true
	}
	out := make([]safety.Finding, 0, len(findings))
	for _, f := range findings {
		if want[f.Check] {
			out = append(out, f)
		}
	}
	return out
}

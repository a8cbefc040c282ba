// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the detection rules shared by every analyzer.
//
// Rules are parsed from YAML once, validated, and then treated as
// immutable. Detectors receive a *Rules by pointer and never modify it.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
)

const (
	// MaxRulesFileSize is the maximum accepted rules file size (1MB).
	MaxRulesFileSize = 1024 * 1024

	// RulesPathEnv names the environment variable holding an external
	// rules file path.
	RulesPathEnv = "PYSENTINEL_RULES"
)

// ErrInvalidRules indicates a rules document failed to parse or validate.
var ErrInvalidRules = errors.New("invalid rules")

//go:embed rules.yaml
var defaultRulesYAML []byte

var (
	rulesLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysentinel_rules_loads_total",
		Help: "Total rules loads by source",
	}, []string{"source"})

	rulesLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pysentinel_rules_load_errors_total",
		Help: "Total rules load errors",
	})

	rulesLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pysentinel_rules_load_duration_seconds",
		Help:    "Duration of rules loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

var rulesTracer = otel.Tracer("pysentinel.config.rules")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rules is the complete, validated detection configuration.
type Rules struct {
	Version         string               `yaml:"version" validate:"required"`
	SQL             SQLRules             `yaml:"sql"`
	Deserialization DeserializationRules `yaml:"deserialization"`
	TLS             TLSRules             `yaml:"tls"`
	Timing          TimingRules          `yaml:"timing"`
	Middleware      MiddlewareRules      `yaml:"middleware"`
	TryExcept       TryExceptRules       `yaml:"try_except"`
	Shell           ShellRules           `yaml:"shell"`
	Tempfile        TempfileRules        `yaml:"tempfile"`
	Templates       []TemplateRule       `yaml:"templates" validate:"dive"`

	tlsThreshold    ast.LanguageVersion
	denylist        map[string]struct{}
	badProtocols    map[string]struct{}
	tlsWrap         map[string]struct{}
	rawSQLMethods   map[string]struct{}
	broadExceptions map[string]struct{}
	spawnFunctions  map[string]struct{}
	shellFunctions  map[string]struct{}
	escapedCallees  map[string]struct{}
	secretPatterns  []string
	templates       map[string]*TemplateRule
}

// SQLRules configures the SQL interpolation and raw SQL checks.
type SQLRules struct {
	Placeholder        string   `yaml:"placeholder" validate:"required"`
	RawSQLMethods      []string `yaml:"raw_sql_methods" validate:"required,min=1,dive,required"`
	FrameworkNamespace string   `yaml:"framework_namespace" validate:"required"`
}

// DeserializationRules lists call targets that deserialize untrusted data.
type DeserializationRules struct {
	Denylist []string `yaml:"denylist" validate:"required,min=1,dive,required"`
}

// TLSRules configures the socket wrapping check.
type TLSRules struct {
	WrapFunctions      []string `yaml:"wrap_functions" validate:"required,min=1,dive,required"`
	VersionKeyword     string   `yaml:"version_keyword" validate:"required"`
	VersionPosition    int      `yaml:"version_position" validate:"min=0"`
	SecureDefaultSince string   `yaml:"secure_default_since" validate:"required"`
	BadProtocols       []string `yaml:"bad_protocols" validate:"required,min=1,dive,required"`
}

// TimingRules configures the secret comparison check.
type TimingRules struct {
	SecretNamePatterns []string `yaml:"secret_name_patterns" validate:"required,min=1,dive,required"`
	CompareFunction    string   `yaml:"compare_function" validate:"required,contains=."`
}

// MiddlewareRules configures the framework settings check.
type MiddlewareRules struct {
	SettingsFile string `yaml:"settings_file" validate:"required"`
	Variable     string `yaml:"variable" validate:"required"`
	CSRF         string `yaml:"csrf" validate:"required"`
	Clickjacking string `yaml:"clickjacking" validate:"required"`
}

// TryExceptRules configures the swallowed exception check.
type TryExceptRules struct {
	SkipFileSubstring string   `yaml:"skip_file_substring"`
	BroadExceptions   []string `yaml:"broad_exceptions" validate:"required,min=1,dive,required"`
}

// ShellRules configures the shell injection check and its fix.
type ShellRules struct {
	// SpawnFunctions run a shell only when called with shell=True.
	SpawnFunctions []string `yaml:"spawn_functions" validate:"dive,required"`
	// ShellFunctions always run their argument through a shell.
	ShellFunctions []string `yaml:"shell_functions" validate:"dive,required"`
	QuoteFunction  string   `yaml:"quote_function" validate:"required,contains=."`
	EscapedCallees []string `yaml:"escaped_callees" validate:"dive,required"`
}

// TempfileRules configures the insecure temp file name check.
type TempfileRules struct {
	Insecure string `yaml:"insecure" validate:"required,contains=."`
	Secure   string `yaml:"secure" validate:"required,contains=."`
}

// TemplateRule names a template constructor that needs an escaping keyword.
type TemplateRule struct {
	Constructor string `yaml:"constructor" validate:"required,contains=."`
	Keyword     string `yaml:"keyword" validate:"required"`
	Value       string `yaml:"value" validate:"required"`
	Check       string `yaml:"check" validate:"required"`
}

// TLSThreshold is the first language version with a secure default protocol.
func (r *Rules) TLSThreshold() ast.LanguageVersion { return r.tlsThreshold }

// IsDenylistedDeserializer reports whether a qualified name is denylisted.
func (r *Rules) IsDenylistedDeserializer(qualified string) bool {
	_, ok := r.denylist[qualified]
	return ok
}

// IsTLSWrap reports whether a qualified name is a socket wrapping function.
func (r *Rules) IsTLSWrap(qualified string) bool {
	_, ok := r.tlsWrap[qualified]
	return ok
}

// IsBadProtocol reports whether a qualified name is an insecure protocol.
func (r *Rules) IsBadProtocol(qualified string) bool {
	_, ok := r.badProtocols[qualified]
	return ok
}

// IsRawSQLMethod reports whether a callee leaf name executes raw SQL.
func (r *Rules) IsRawSQLMethod(leaf string) bool {
	_, ok := r.rawSQLMethods[leaf]
	return ok
}

// IsBroadException reports whether an exception type name is a catch-all.
func (r *Rules) IsBroadException(name string) bool {
	_, ok := r.broadExceptions[name]
	return ok
}

// LooksLikeSecret reports whether an identifier name contains any of the
// secret name patterns, ignoring case.
func (r *Rules) LooksLikeSecret(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range r.secretPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ShellMode classifies a process spawning call target.
type ShellMode int

const (
	// ShellNever means the target does not spawn a shell.
	ShellNever ShellMode = iota
	// ShellWhenRequested means the target spawns a shell with shell=True.
	ShellWhenRequested
	// ShellAlways means the target always spawns a shell.
	ShellAlways
)

// ShellModeOf returns how a qualified call target uses the shell.
func (r *Rules) ShellModeOf(qualified string) ShellMode {
	if _, ok := r.shellFunctions[qualified]; ok {
		return ShellAlways
	}
	if _, ok := r.spawnFunctions[qualified]; ok {
		return ShellWhenRequested
	}
	return ShellNever
}

// IsEscapedCallee reports whether a dotted callee name is a quoting function.
func (r *Rules) IsEscapedCallee(name string) bool {
	_, ok := r.escapedCallees[name]
	return ok
}

// TemplateRuleFor returns the template rule for a qualified constructor.
func (r *Rules) TemplateRuleFor(qualified string) (*TemplateRule, bool) {
	tr, ok := r.templates[qualified]
	return tr, ok
}

// SkipTryExcept reports whether the swallowed exception check skips a file.
func (r *Rules) SkipTryExcept(fileName string) bool {
	s := r.TryExcept.SkipFileSubstring
	return s != "" && strings.Contains(fileName, s)
}

// Parse decodes and validates a rules document.
//
// Description:
//
//	Unmarshals YAML into Rules, runs struct validation and builds the
//	lookup sets used by the detectors.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	data - YAML bytes.
//
// Outputs:
//
//	*Rules - Immutable rules. Never nil on success.
//	error - Wraps ErrInvalidRules on any decode or validation failure.
func Parse(ctx context.Context, data []byte) (*Rules, error) {
	_, span := rulesTracer.Start(ctx, "rules.Parse",
		trace.WithAttributes(attribute.Int("yaml_size", len(data))),
	)
	defer span.End()

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unmarshal failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := validate.Struct(&r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	threshold, err := ast.ParseLanguageVersion(r.TLS.SecureDefaultSince)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad threshold")
		return nil, fmt.Errorf("%w: tls.secure_default_since: %v", ErrInvalidRules, err)
	}
	r.tlsThreshold = threshold

	r.denylist = toSet(r.Deserialization.Denylist)
	r.badProtocols = toSet(r.TLS.BadProtocols)
	r.tlsWrap = toSet(r.TLS.WrapFunctions)
	r.rawSQLMethods = toSet(r.SQL.RawSQLMethods)
	r.broadExceptions = toSet(r.TryExcept.BroadExceptions)
	r.spawnFunctions = toSet(r.Shell.SpawnFunctions)
	r.shellFunctions = toSet(r.Shell.ShellFunctions)
	r.escapedCallees = toSet(append([]string{r.Shell.QuoteFunction}, r.Shell.EscapedCallees...))
	for _, p := range r.Timing.SecretNamePatterns {
		r.secretPatterns = append(r.secretPatterns, strings.ToLower(p))
	}
	r.templates = make(map[string]*TemplateRule, len(r.Templates))
	for i := range r.Templates {
		r.templates[r.Templates[i].Constructor] = &r.Templates[i]
	}

	span.SetAttributes(attribute.String("rules_version", r.Version))
	return &r, nil
}

// LoadFile reads, parses and validates an external rules file.
func LoadFile(ctx context.Context, path string) (*Rules, error) {
	ctx, span := rulesTracer.Start(ctx, "rules.LoadFile",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		rulesLoadDuration.Observe(time.Since(start).Seconds())
	}()

	data, err := readRulesFile(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		rulesLoadErrors.Inc()
		return nil, err
	}
	r, err := Parse(ctx, data)
	if err != nil {
		rulesLoadErrors.Inc()
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	rulesLoads.WithLabelValues("external").Inc()
	return r, nil
}

func readRulesFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat rules file: %w", err)
	}
	if info.Size() > MaxRulesFileSize {
		return nil, fmt.Errorf("rules file too large: %d bytes (max %d)", info.Size(), MaxRulesFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return data, nil
}

var (
	defaultOnce  sync.Once
	defaultRules *Rules
)

// Default returns the embedded rules. It panics if the embedded document
// is invalid, which is a build defect.
func Default() *Rules {
	defaultOnce.Do(func() {
		r, err := Parse(context.Background(), defaultRulesYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded rules.yaml: %v", err))
		}
		defaultRules = r
	})
	return defaultRules
}

var (
	rulesMu     sync.RWMutex
	cachedRules *Rules
)

// GetRules returns the process-wide rules.
//
// Description:
//
//	On first call, loads the file named by PYSENTINEL_RULES when set and
//	falls back to the embedded default if that file is missing or invalid.
//	Later calls return the cached value.
//
// Thread Safety: Safe for concurrent use.
func GetRules(ctx context.Context) *Rules {
	rulesMu.RLock()
	if cachedRules != nil {
		r := cachedRules
		rulesMu.RUnlock()
		return r
	}
	rulesMu.RUnlock()

	rulesMu.Lock()
	defer rulesMu.Unlock()
	if cachedRules != nil {
		return cachedRules
	}

	if path := os.Getenv(RulesPathEnv); path != "" {
		r, err := LoadFile(ctx, path)
		if err == nil {
			slog.Info("loaded rules from external file",
				slog.String("path", path),
				slog.String("version", r.Version))
			cachedRules = r
			return r
		}
		slog.Warn("external rules not available, using embedded default",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	rulesLoads.WithLabelValues("embedded").Inc()
	cachedRules = Default()
	return cachedRules
}

// ResetRules clears the cached process-wide rules.
//
// WARNING: Intended for tests only.
func ResetRules() {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	cachedRules = nil
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

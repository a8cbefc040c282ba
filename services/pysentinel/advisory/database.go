// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisory matches installed Python packages against a database of
// known vulnerabilities.
//
// The database is two JSON documents loaded together: a cheap lookup
// (package → constraint expressions) used for existence checks, and a full
// database (package → advisory records) used for reporting. A loaded
// Database is immutable and safe for concurrent readers; Store swaps in a
// freshly loaded one on refresh.
package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// LookupFile is the lookup document's file name inside a database dir.
	LookupFile = "insecure.json"

	// DatabaseFile is the full database document's file name.
	DatabaseFile = "insecure_full.json"

	// MaxDocumentSize bounds each document (256MB).
	MaxDocumentSize = 256 * 1024 * 1024
)

// Record is one advisory for one package.
type Record struct {
	Advisory string   `json:"advisory"`
	CVE      *string  `json:"cve"`
	ID       string   `json:"id"`
	Specs    []string `json:"specs"`
	// V is the combined constraint expression the record applies to.
	V string `json:"v"`
}

// Package is an installed distribution.
type Package struct {
	Name    string `json:"name" binding:"required"`
	Version string `json:"version" binding:"required"`
}

// String returns the pinned requirement form.
func (p Package) String() string { return p.Name + "==" + p.Version }

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the PEP 503 canonical form of a package name.
func NormalizeName(name string) string {
	return nameSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

type entry struct {
	record     Record
	constraint Constraint
	valid      bool
}

type lookupEntry struct {
	constraint Constraint
	valid      bool
}

// Database is a loaded, immutable advisory database.
//
// Thread Safety: Safe for concurrent use.
type Database struct {
	lookup   map[string][]lookupEntry
	records  map[string][]entry
	loadedAt time.Time
	logger   *slog.Logger
}

// Option configures loading.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	debounce time.Duration
}

func defaultOptions() options {
	return options{logger: slog.Default(), debounce: 200 * time.Millisecond}
}

// WithLogger sets the logger used for load warnings and reloads.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDebounce sets how long Store.Watch waits for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// Load reads both advisory documents.
//
// Description:
//
//	Decodes the lookup and full database documents, canonicalizes package
//	names and parses every constraint expression once. A constraint that
//	fails to parse is kept but never matches. Lookup expressions missing
//	from the full database are logged, not rejected.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	lookup - The lookup document.
//	database - The full database document.
//
// Outputs:
//
//	*Database - Ready for queries. Nil on error.
//	error - A *LoadError (matching ErrDatabaseLoad) on any decode failure.
func Load(ctx context.Context, lookup, database io.Reader, opts ...Option) (*Database, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	_, span := tracer.Start(ctx, "advisory.Load")
	defer span.End()

	var rawLookup map[string][]string
	if err := decodeDocument(lookup, &rawLookup); err != nil {
		return nil, loadFailed(span, &LoadError{Document: "lookup", Cause: err})
	}
	if rawLookup == nil {
		return nil, loadFailed(span, &LoadError{Document: "lookup", Cause: errors.New("document is null")})
	}
	var rawDatabase map[string][]Record
	if err := decodeDocument(database, &rawDatabase); err != nil {
		return nil, loadFailed(span, &LoadError{Document: "database", Cause: err})
	}
	if rawDatabase == nil {
		return nil, loadFailed(span, &LoadError{Document: "database", Cause: errors.New("document is null")})
	}

	db := &Database{
		lookup:   make(map[string][]lookupEntry, len(rawLookup)),
		records:  make(map[string][]entry, len(rawDatabase)),
		loadedAt: time.Now(),
		logger:   o.logger,
	}
	unparsable := 0
	for name, exprs := range rawLookup {
		key := NormalizeName(name)
		for _, expr := range exprs {
			c, err := ParseConstraint(expr)
			if err != nil {
				unparsable++
			}
			db.lookup[key] = append(db.lookup[key], lookupEntry{constraint: c, valid: err == nil})
		}
	}
	for name, recs := range rawDatabase {
		key := NormalizeName(name)
		for _, rec := range recs {
			c, err := ParseConstraint(rec.V)
			if err != nil {
				unparsable++
			}
			db.records[key] = append(db.records[key], entry{record: rec, constraint: c, valid: err == nil})
		}
	}
	if unparsable > 0 {
		advisoryUnparsable.Add(float64(unparsable))
		o.logger.Warn("advisory constraints failed to parse and will never match",
			slog.Int("count", unparsable))
	}
	if missing := db.inconsistencies(); missing > 0 {
		o.logger.Warn("lookup constraints missing from the full advisory database",
			slog.Int("count", missing))
	}

	span.SetAttributes(
		attribute.Int("lookup_packages", len(db.lookup)),
		attribute.Int("database_packages", len(db.records)),
	)
	advisoryLoads.WithLabelValues("success").Inc()
	return db, nil
}

func loadFailed(span trace.Span, err *LoadError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Document+" load failed")
	advisoryLoads.WithLabelValues("error").Inc()
	return err
}

func decodeDocument(r io.Reader, v any) error {
	if r == nil {
		return errors.New("missing document")
	}
	dec := json.NewDecoder(io.LimitReader(r, MaxDocumentSize))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after document")
	}
	return nil
}

// LoadDir loads LookupFile and DatabaseFile from dir.
func LoadDir(ctx context.Context, dir string, opts ...Option) (*Database, error) {
	lookupPath := filepath.Join(dir, LookupFile)
	databasePath := filepath.Join(dir, DatabaseFile)

	lf, err := os.Open(lookupPath)
	if err != nil {
		advisoryLoads.WithLabelValues("error").Inc()
		return nil, &LoadError{Document: "lookup", Path: lookupPath, Cause: err}
	}
	defer lf.Close()
	df, err := os.Open(databasePath)
	if err != nil {
		advisoryLoads.WithLabelValues("error").Inc()
		return nil, &LoadError{Document: "database", Path: databasePath, Cause: err}
	}
	defer df.Close()

	db, err := Load(ctx, lf, df, opts...)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = databasePath
			if le.Document == "lookup" {
				le.Path = lookupPath
			}
		}
		return nil, err
	}
	return db, nil
}

// inconsistencies counts lookup expressions that no record in the full
// database carries as its combined constraint.
func (db *Database) inconsistencies() int {
	missing := 0
	for name, entries := range db.lookup {
		have := make(map[string]bool, len(db.records[name]))
		for _, e := range db.records[name] {
			have[e.record.V] = true
		}
		for _, le := range entries {
			if !have[le.constraint.Expr] {
				missing++
			}
		}
	}
	return missing
}

// Packages returns the number of packages in the full database.
func (db *Database) Packages() int { return len(db.records) }

// LoadedAt returns when the database was loaded.
func (db *Database) LoadedAt() time.Time { return db.loadedAt }

// HasMatch reports whether any lookup constraint for the package is
// satisfied by its installed version. Unknown packages do not match.
func (db *Database) HasMatch(pkg Package) bool {
	for _, le := range db.lookup[NormalizeName(pkg.Name)] {
		if le.valid && le.constraint.Matches(pkg.Version) {
			return true
		}
	}
	return false
}

// Matches returns every record whose combined constraint is satisfied by
// the installed version, in database order.
//
// Outputs:
//
//	[]Record - Matched records. Empty, not nil, when none match.
//	error - ErrPackageNotInDatabase when the package was never loaded.
func (db *Database) Matches(pkg Package) ([]Record, error) {
	entries, ok := db.records[NormalizeName(pkg.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotInDatabase, pkg.Name)
	}
	out := []Record{}
	for _, e := range entries {
		if e.valid && e.constraint.Matches(pkg.Version) {
			out = append(out, e.record)
		}
	}
	return out, nil
}

// Report is the advisory outcome for one installed package.
type Report struct {
	Package  Package  `json:"package"`
	Count    int      `json:"count"`
	Records  []Record `json:"records"`
	Messages []string `json:"messages"`
}

// Check evaluates installed packages, returning a report for each package
// with at least one matching record, sorted by package name.
//
// Description:
//
//	Each package is first tested against the lookup; only hits are
//	expanded against the full database. A lookup hit for a package the
//	full database lacks, or whose records do not match, is logged and
//	skipped rather than reported without detail.
func (db *Database) Check(ctx context.Context, pkgs []Package) []Report {
	ctx, span := tracer.Start(ctx, "advisory.Check",
		trace.WithAttributes(attribute.Int("packages", len(pkgs))),
	)
	defer span.End()
	start := time.Now()

	var reports []Report
	for _, pkg := range pkgs {
		if !db.HasMatch(pkg) {
			continue
		}
		recs, err := db.Matches(pkg)
		if err != nil || len(recs) == 0 {
			db.logger.Warn("lookup matched but full database has no matching record",
				slog.String("package", pkg.String()))
			continue
		}
		r := Report{Package: pkg, Count: len(recs), Records: recs}
		for _, rec := range recs {
			r.Messages = append(r.Messages, Message(pkg, rec))
		}
		reports = append(reports, r)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return NormalizeName(reports[i].Package.Name) < NormalizeName(reports[j].Package.Name)
	})

	span.SetAttributes(attribute.Int("matched", len(reports)))
	recordCheckMetrics(ctx, time.Since(start).Seconds(), len(reports))
	return reports
}

// Message renders a record for display, e.g.
// "bananas 0.6.0: green bananas give you stomach ache. (CVE-1234) [pyup.io-253]".
// The CVE clause is omitted when the record has none.
func Message(pkg Package, rec Record) string {
	var b strings.Builder
	b.WriteString(pkg.Name)
	b.WriteByte(' ')
	b.WriteString(pkg.Version)
	b.WriteString(": ")
	if adv := strings.TrimSpace(rec.Advisory); adv != "" {
		b.WriteString(adv)
	} else {
		b.WriteString("known vulnerability")
	}
	if rec.CVE != nil && strings.TrimSpace(*rec.CVE) != "" {
		b.WriteString(" (")
		b.WriteString(strings.TrimSpace(*rec.CVE))
		b.WriteByte(')')
	}
	if rec.ID != "" {
		b.WriteString(" [")
		b.WriteString(rec.ID)
		b.WriteByte(']')
	}
	return b.String()
}

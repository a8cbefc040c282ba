// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast parses Python source into an immutable, index-addressed tree
// and provides the name and import queries the security analyzers share.
//
// Thread Safety:
//
//	Parser and Tree are safe for concurrent use.
package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultMaxFileSize is the largest file Parse accepts by default (10MB).
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize triggers a warning log for unusually large files (1MB).
	WarnFileSize = 1024 * 1024
)

// ParserOption configures a Parser instance.
type ParserOption func(*Parser)

// WithMaxFileSize sets the maximum file size the parser will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Non-positive values are ignored.
//
// Example:
//
//	parser := NewParser(WithMaxFileSize(5 * 1024 * 1024))
func WithMaxFileSize(bytes int64) ParserOption {
	return func(p *Parser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger used for parse warnings.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Parser turns Python source into a Tree.
//
// Description:
//
//	Parser wraps tree-sitter-python. Each Parse call creates its own
//	tree-sitter parser, copies the concrete syntax tree into an arena and
//	releases the native tree before returning, so the returned Tree holds
//	no native resources.
//
// Thread Safety:
//
//	Parser instances are safe for concurrent use.
type Parser struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses Python source for the given file.
//
// Description:
//
//	Validates size and encoding, runs tree-sitter, then builds the arena,
//	the import table and the line index. Syntax errors do not fail the
//	parse; tree-sitter recovers and Tree.HasErrors is set.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	content - Raw UTF-8 source bytes. The slice is retained by the Tree.
//	file - Path and declared language version of the source.
//
// Outputs:
//
//	*Tree - The parsed tree. Never nil when err is nil.
//	error - ErrFileTooLarge, ErrInvalidContent or a *ParseError.
func (p *Parser) Parse(ctx context.Context, content []byte, file SourceFile) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	ctx, span := startParseSpan(ctx, file.Path, len(content))
	defer span.End()
	start := time.Now()

	if int64(len(content)) > p.maxFileSize {
		err := fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
		span.RecordError(err)
		span.SetStatus(codes.Error, "file too large")
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, err
	}

	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("file", file.Path),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		err := fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid content")
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, err
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tsTree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		perr := NewParseError(file.Path, 0, 0, "tree-sitter parse failed", err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, "tree-sitter failed")
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, perr
	}
	defer tsTree.Close()

	root := tsTree.RootNode()
	if root == nil {
		perr := NewParseError(file.Path, 0, 0, "tree-sitter returned nil root node", ErrParseFailed)
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, perr
	}

	if file.LanguageVersion == (LanguageVersion{}) {
		file.LanguageVersion = DefaultLanguageVersion
	}

	t := &Tree{
		File:      file,
		Source:    content,
		Hash:      hex.EncodeToString(hash[:]),
		Nodes:     make([]Node, 0, 256),
		HasErrors: root.HasError(),
	}
	t.Root = t.build(root, NoNode, "")
	t.lineStarts = computeLineStarts(content)
	t.Imports = buildImportTable(t)
	t.locals = collectLocals(t)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	span.SetAttributes(
		attribute.Int("node_count", len(t.Nodes)),
		attribute.Bool("has_errors", t.HasErrors),
	)
	recordParseMetrics(ctx, time.Since(start), len(t.Nodes), true)
	return t, nil
}

// build copies n and its descendants into the arena in pre-order.
func (t *Tree) build(n *sitter.Node, parent NodeID, field string) NodeID {
	id := NodeID(len(t.Nodes))
	typ := n.Type()
	t.Nodes = append(t.Nodes, Node{
		Kind:    KindOf(typ),
		Type:    typ,
		Span:    Span{Start: n.StartByte(), End: n.EndByte()},
		Parent:  parent,
		Named:   n.IsNamed(),
		Field:   field,
		Missing: n.IsMissing(),
	})

	fieldChildren := resolveFields(n, typ)

	count := int(n.ChildCount())
	children := make([]NodeID, 0, count)
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		children = append(children, t.build(child, id, fieldChildren.lookup(child)))
	}
	t.Nodes[id].Children = children
	return id
}

type fieldBinding struct {
	name string
	node *sitter.Node
}

type fieldBindings []fieldBinding

func (fb fieldBindings) lookup(child *sitter.Node) string {
	for _, b := range fb {
		if sameNode(b.node, child) {
			return b.name
		}
	}
	return ""
}

func resolveFields(n *sitter.Node, typ string) fieldBindings {
	names, ok := fieldsByType[typ]
	if !ok {
		return nil
	}
	var out fieldBindings
	for _, name := range names {
		if c := n.ChildByFieldName(name); c != nil {
			out = append(out, fieldBinding{name: name, node: c})
		}
	}
	return out
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func computeLineStarts(content []byte) []uint32 {
	starts := []uint32{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, uint32(i+1))
		}
	}
	return starts
}

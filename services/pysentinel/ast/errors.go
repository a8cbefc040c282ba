// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
var (
	// ErrParseFailed indicates that tree-sitter produced no usable tree.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates the content is not valid UTF-8 text.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates the content exceeds the parser size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ParseError provides detailed information about a parse failure.
//
// Example:
//
//	tree, err := parser.Parse(ctx, content, file)
//	var parseErr *ParseError
//	if errors.As(err, &parseErr) {
//	    fmt.Printf("%s:%d: %s\n", parseErr.FilePath, parseErr.Line, parseErr.Message)
//	}
type ParseError struct {
	// FilePath is the path to the file where the error occurred.
	FilePath string

	// Line is the 1-indexed line number, 0 if unknown.
	Line int

	// Column is the 1-indexed column, 0 if unknown.
	Column int

	// Message describes the error in human-readable form.
	Message string

	// Cause is the underlying error. May be nil.
	Cause error
}

// Error returns a formatted error message including file location.
func (e *ParseError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, msg)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, msg)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, msg)
}

// Unwrap returns the underlying cause error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a ParseError.
//
// Parameters:
//   - filePath: Path to the file where the error occurred.
//   - line: 1-indexed line number (0 if unknown).
//   - column: 1-indexed column number (0 if unknown).
//   - message: Human-readable error description.
//   - cause: The underlying error, may be nil.
func NewParseError(filePath string, line, column int, message string, cause error) *ParseError {
	return &ParseError{
		FilePath: filePath,
		Line:     line,
		Column:   column,
		Message:  message,
		Cause:    cause,
	}
}

// IsParseError checks if an error is or wraps a ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

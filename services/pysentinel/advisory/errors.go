// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisory

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperator indicates a clause does not start with a known
	// relation operator.
	ErrUnknownOperator = errors.New("unknown version operator")

	// ErrEmptyClause indicates a clause carries an operator but no version.
	ErrEmptyClause = errors.New("empty version clause")

	// ErrInvalidVersion indicates a version literal is not a valid PEP 440
	// version.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrPackageNotInDatabase indicates detailed matches were requested
	// for a package the database never loaded.
	ErrPackageNotInDatabase = errors.New("package not in advisory database")

	// ErrDatabaseLoad indicates the advisory database could not be loaded.
	ErrDatabaseLoad = errors.New("advisory database load failed")
)

// LoadError describes a failure to load one of the advisory documents.
type LoadError struct {
	// Document is the document that failed, e.g. "lookup" or "database".
	Document string
	// Path is the file path, empty when loading from a reader.
	Path string
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	where := e.Document
	if e.Path != "" {
		where += " (" + e.Path + ")"
	}
	return fmt.Sprintf("loading advisory %s: %v", where, e.Cause)
}

// Unwrap returns the cause.
func (e *LoadError) Unwrap() error { return e.Cause }

// Is makes every LoadError match ErrDatabaseLoad.
func (e *LoadError) Is(target error) bool { return target == ErrDatabaseLoad }

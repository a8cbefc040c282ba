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
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrInvalidPackage indicates a "name==version" pin could not be parsed.
var ErrInvalidPackage = errors.New("invalid package pin")

var pinPattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)(?:\[[^\]]*\])?\s*===?\s*([^\s;#]+)$`)

// ParsePackage parses a single "name==version" pin. Extras are dropped.
func ParsePackage(s string) (Package, error) {
	m := pinPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Package{}, fmt.Errorf("%w: %q", ErrInvalidPackage, s)
	}
	return Package{Name: m[1], Version: m[2]}, nil
}

// ParseRequirements reads installed packages from pip freeze output or a
// pinned requirements file.
//
// Description:
//
//	Only exact pins ("name==version", optionally with extras) are
//	returned. Comments, environment markers, options such as "-r" or
//	"-e", direct URL references and unpinned requirements are skipped.
//
// Outputs:
//
//	[]Package - Pinned packages in file order.
//	error - Non-nil only if reading fails.
func ParseRequirements(r io.Reader) ([]Package, error) {
	var out []Package
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if pkg, err := ParsePackage(line); err == nil {
			out = append(out, pkg)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements: %w", err)
	}
	return out, nil
}

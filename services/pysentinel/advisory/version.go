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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	"golang.org/x/mod/semver"
)

// Version is a parsed PEP 440 version.
//
// Ordering is delegated to the pep440 package. Epoch and Release are kept
// alongside it for the prefix checks of "==X.*" and "~=" clauses.
type Version struct {
	Epoch   int
	Release []int
	// Local is the lower-cased local label without the leading "+".
	Local string

	raw    string
	parsed pep440.Version
}

var releasePrefix = regexp.MustCompile(`(?i)^v?(?:(\d+)!)?(\d+(?:\.\d+)*)`)

var plainRelease = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

// ParseVersion parses a PEP 440 version, accepting the alternative
// spellings the standard normalizes (alpha, beta, c, rev, leading v).
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	parsed, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}
	m := releasePrefix.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	v := Version{raw: s, parsed: parsed}
	if m[1] != "" {
		if v.Epoch, err = strconv.Atoi(m[1]); err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
	}
	for _, part := range strings.Split(m[2], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
		v.Release = append(v.Release, n)
	}
	if _, local, ok := strings.Cut(s, "+"); ok {
		v.Local = strings.ToLower(local)
	}
	return v, nil
}

// String returns the normalized form.
func (v Version) String() string { return v.parsed.String() }

// Compare orders two versions, returning -1, 0 or +1.
func (v Version) Compare(o Version) int { return v.parsed.Compare(o.parsed) }

// Equal reports whether the versions are equal under PEP 440 ordering.
func (v Version) Equal(o Version) bool { return v.parsed.Equal(o.parsed) }

// Public returns v without its local label.
func (v Version) Public() Version {
	if v.Local == "" {
		return v
	}
	public, _, _ := strings.Cut(v.raw, "+")
	pv, err := ParseVersion(public)
	if err != nil {
		return v
	}
	return pv
}

// HasReleasePrefix reports whether v has the given epoch and its release
// starts with prefix, padding missing segments with zeros.
func (v Version) HasReleasePrefix(epoch int, prefix []int) bool {
	if v.Epoch != epoch {
		return false
	}
	for i, p := range prefix {
		if segment(v.Release, i) != p {
			return false
		}
	}
	return true
}

func segment(release []int, i int) int {
	if i < len(release) {
		return release[i]
	}
	return 0
}

// CompareVersions orders two version strings, returning -1, 0 or +1.
//
// Plain numeric versions of up to three components take the semantic
// versioning fast path; everything else is parsed as PEP 440.
func CompareVersions(a, b string) (int, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if plainRelease.MatchString(a) && plainRelease.MatchString(b) {
		sa, sb := "v"+a, "v"+b
		if semver.IsValid(sa) && semver.IsValid(sb) {
			return semver.Compare(sa, sb), nil
		}
	}
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

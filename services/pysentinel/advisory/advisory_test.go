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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLookup = `{
 "apples": ["<0.6.0"],
 "bananas": ["<1.0.0,>=0.5.0"]
}`

const testDatabase = `{
 "apples": [
  {
   "advisory": "apple pips taste nasty.",
   "cve": null,
   "id": "pyup.io-25612",
   "specs": ["<0.6.0"],
   "v": "<0.6.0"
  }
 ],
 "bananas": [
  {
   "advisory": "green bananas give you stomach ache.",
   "cve": "CVE-1234",
   "id": "pyup.io-253",
   "specs": ["<1.0.0,>=0.5.0"],
   "v": "<1.0.0,>=0.5.0"
  }
 ]
}`

func loadTestDB(t *testing.T, lookup, database string) *Database {
	t.Helper()
	db, err := Load(context.Background(), strings.NewReader(lookup), strings.NewReader(database))
	require.NoError(t, err)
	return db
}

func TestParseClause(t *testing.T) {
	tests := []struct {
		in      string
		rel     Relation
		literal string
	}{
		{"===1.0", RelationStrictEqual, "1.0"},
		{"==1.0", RelationEqual, "1.0"},
		{"<=1.0", RelationLessEqual, "1.0"},
		{">=  0.5.0", RelationGreaterEqual, "0.5.0"},
		{"~=1.4.5", RelationCompatible, "1.4.5"},
		{"!=2.0", RelationNotEqual, "2.0"},
		{"<1", RelationLess, "1"},
		{" >2.0b1 ", RelationGreater, "2.0b1"},
		{"===foobar", RelationStrictEqual, "foobar"},
		{"==1.2.*", RelationEqual, "1.2.*"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseClause(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.rel, c.Relation)
			assert.Equal(t, tt.literal, c.Literal)
		})
	}
}

func TestParseClause_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"^1.0", ErrUnknownOperator},
		{"1.0", ErrUnknownOperator},
		{"=1.0", ErrUnknownOperator},
		{">=", ErrEmptyClause},
		{"==   ", ErrEmptyClause},
		{"~=1", ErrInvalidVersion},
		{">=1.*", ErrInvalidVersion},
		{"<not-a-version", ErrInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseClause(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClause_Matches(t *testing.T) {
	tests := []struct {
		clause    string
		installed string
		want      bool
	}{
		{"<1.0.0", "0.9.9", true},
		{"<1.0.0", "1.0", false},
		{"<=1.0.0", "1.0", true},
		{">0.5", "0.5.1", true},
		{">=0.5.0", "0.5", true},
		{"==1.0", "1.0.0", true},
		{"==1.0", "1.0+ubuntu1", true},
		{"==1.0+abc", "1.0+def", false},
		{"!=1.0", "1.0.1", true},
		{"!=1.0", "1.0", false},
		{"===1.0", "1.0", true},
		{"===1.0", "1.0.0", false},
		{"~=1.4.5", "1.4.5", true},
		{"~=1.4.5", "1.4.9", true},
		{"~=1.4.5", "1.5.0", false},
		{"~=1.4.5", "1.4.4", false},
		{"~=2.2", "2.9", true},
		{"~=2.2", "3.0", false},
		{"==1.2.*", "1.2", true},
		{"==1.2.*", "1.2.7", true},
		{"==1.2.*", "1.3.0", false},
		{"!=1.2.*", "1.3.0", true},
		{"!=1.2.*", "1.2.1", false},
		{"<2.0", "2.0rc1", true},
		{"<1.0", "garbage", false},
		{"!=1.0", "garbage", false},
		{"===garbage", "garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.clause+" "+tt.installed, func(t *testing.T) {
			c, err := ParseClause(tt.clause)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Matches(tt.installed))
		})
	}
}

func TestParseConstraint(t *testing.T) {
	c, err := ParseConstraint("<1.0.0,>=0.5.0")
	require.NoError(t, err)
	require.Len(t, c.Clauses, 2)
	assert.Equal(t, "<1.0.0", c.Clauses[0].String())
	assert.Equal(t, ">=0.5.0", c.Clauses[1].String())
	assert.Equal(t, "<1.0.0,>=0.5.0", c.String())

	c, err = ParseConstraint(" , <1.0 ,")
	require.NoError(t, err)
	assert.Len(t, c.Clauses, 1)

	_, err = ParseConstraint("")
	assert.ErrorIs(t, err, ErrEmptyClause)

	c, err = ParseConstraint("<1.0,bogus")
	assert.ErrorIs(t, err, ErrUnknownOperator)
	assert.Empty(t, c.Clauses)
	assert.False(t, c.Matches("0.1"), "a failed constraint never matches")
}

func TestConstraint_ClauseCombination(t *testing.T) {
	exprs := []string{
		"<1.0.0,>=0.5.0",
		">=0.5.0 , <1.0.0",
		"<2.0,!=1.5,>1.0",
		"~=1.4.2,!=1.4.7",
		"==1.*,<1.9",
		">=0.0.1",
	}
	versions := []string{"0.1", "0.5.0", "0.6.0", "1.0", "1.2.0", "1.4.2", "1.4.7", "1.5", "1.8.3", "1.9", "2.0", "3.0rc1"}

	for _, expr := range exprs {
		whole, err := ParseConstraint(expr)
		require.NoError(t, err)
		for _, v := range versions {
			want := true
			for _, tok := range strings.Split(expr, ",") {
				c, err := ParseClause(tok)
				require.NoError(t, err)
				want = want && c.Matches(v)
			}
			assert.Equal(t, want, whole.Matches(v), "%s against %s", v, expr)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0.0", 0},
		{"1.0.0.0", "1.0", 0},
		{"1.10", "1.9", 1},
		{"2.0.0", "10.0.0", -1},
		{"1.0a1", "1.0", -1},
		{"1.0.dev0", "1.0a1", -1},
		{"1.0a1.dev1", "1.0a1", -1},
		{"1.0b2", "1.0rc1", -1},
		{"1.0c1", "1.0rc1", 0},
		{"1.0.post1", "1.0", 1},
		{"1.0-1", "1.0.post1", 0},
		{"1!0.1", "2.0", 1},
		{"1.0+local", "1.0", 1},
		{"v1.2", "1.2", 0},
		{"1.02", "1.2", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			got, err := CompareVersions(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := CompareVersions(tt.b, tt.a)
			require.NoError(t, err)
			assert.Equal(t, -tt.want, back)
		})
	}

	_, err := CompareVersions("1.0", "not a version")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestParseVersion_AlternativeSpellings(t *testing.T) {
	for in, canonical := range map[string]string{
		"1.0-ALPHA.2":      "1.0a2",
		"1.0.beta":         "1.0b0",
		"1.0pre3":          "1.0rc3",
		"1.0-r4":           "1.0.post4",
		"1!2.0.dev":        "1!2.0.dev0",
		"v3.1.4.post2.dev": "3.1.4.post2.dev0",
	} {
		v, err := ParseVersion(in)
		require.NoError(t, err, in)
		want, err := ParseVersion(canonical)
		require.NoError(t, err, canonical)
		assert.True(t, v.Equal(want), "%s should equal %s", in, canonical)
	}
}

func TestParseVersion_Segments(t *testing.T) {
	v, err := ParseVersion(" 1!2.10.3rc1+Ubuntu-1 ")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Epoch)
	assert.Equal(t, []int{2, 10, 3}, v.Release)
	assert.Equal(t, "ubuntu-1", v.Local)
	assert.True(t, v.HasReleasePrefix(1, []int{2, 10}))
	assert.False(t, v.HasReleasePrefix(0, []int{2, 10}))

	public := v.Public()
	assert.Empty(t, public.Local)
	assert.Equal(t, -1, public.Compare(v))

	_, err = ParseVersion("1.0 beta two")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestDatabase_Scenario(t *testing.T) {
	db := loadTestDB(t, `{"bananas": ["<1.0.0,>=0.5.0"]}`,
		`{"bananas": [{"advisory": "x", "cve": null, "id": "1", "specs": ["<1.0.0,>=0.5.0"], "v": "<1.0.0,>=0.5.0"}]}`)

	assert.True(t, db.HasMatch(Package{Name: "bananas", Version: "0.6.0"}))
	assert.False(t, db.HasMatch(Package{Name: "bananas", Version: "1.2.0"}))
}

func TestDatabase_Matches(t *testing.T) {
	db := loadTestDB(t, testLookup, testDatabase)
	assert.Equal(t, 2, db.Packages())
	assert.False(t, db.LoadedAt().IsZero())

	recs, err := db.Matches(Package{Name: "apples", Version: "0.4.0"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].CVE)
	assert.Equal(t, "pyup.io-25612", recs[0].ID)
	assert.Equal(t, []string{"<0.6.0"}, recs[0].Specs)

	recs, err = db.Matches(Package{Name: "apples", Version: "0.7.0"})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	assert.False(t, db.HasMatch(Package{Name: "cherries", Version: "1.0"}))
	_, err = db.Matches(Package{Name: "cherries", Version: "1.0"})
	assert.ErrorIs(t, err, ErrPackageNotInDatabase)
}

func TestDatabase_HasMatchAgreesWithMatches(t *testing.T) {
	db := loadTestDB(t, testLookup, testDatabase)
	for _, name := range []string{"apples", "bananas"} {
		for _, v := range []string{"0.1", "0.4.0", "0.5.0", "0.5.9", "0.6.0", "0.9.9", "1.0.0", "1.2.0", "2.0a1"} {
			pkg := Package{Name: name, Version: v}
			recs, err := db.Matches(pkg)
			require.NoError(t, err)
			assert.Equal(t, len(recs) > 0, db.HasMatch(pkg), pkg.String())
		}
	}
}

func TestDatabase_NormalizesNames(t *testing.T) {
	db := loadTestDB(t, `{"Django_REST.framework": ["<3.0"]}`,
		`{"django-rest-framework": [{"advisory": "a", "cve": null, "id": "9", "specs": ["<3.0"], "v": "<3.0"}]}`)

	pkg := Package{Name: "django.rest_framework", Version: "2.4"}
	assert.True(t, db.HasMatch(pkg))
	recs, err := db.Matches(pkg)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, "django-rest-framework", NormalizeName("Django__REST..framework"))
}

func TestDatabase_UnparsableConstraintNeverMatches(t *testing.T) {
	db := loadTestDB(t, `{"pears": ["^1.0", "<0.1,bogus"]}`,
		`{"pears": [{"advisory": "a", "cve": null, "id": "1", "specs": [], "v": "^1.0"}]}`)
	pkg := Package{Name: "pears", Version: "0.0.1"}
	assert.False(t, db.HasMatch(pkg))
	recs, err := db.Matches(pkg)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDatabase_Check(t *testing.T) {
	db := loadTestDB(t, testLookup, testDatabase)
	reports := db.Check(context.Background(), []Package{
		{Name: "bananas", Version: "0.6.0"},
		{Name: "good", Version: "0.4.0"},
		{Name: "apples", Version: "0.4.0"},
		{Name: "apples", Version: "0.9.0"},
	})
	require.Len(t, reports, 2)

	assert.Equal(t, "apples", reports[0].Package.Name)
	assert.Equal(t, 1, reports[0].Count)
	assert.Equal(t, []string{"apples 0.4.0: apple pips taste nasty. [pyup.io-25612]"}, reports[0].Messages)

	assert.Equal(t, "bananas", reports[1].Package.Name)
	assert.Equal(t, []string{"bananas 0.6.0: green bananas give you stomach ache. (CVE-1234) [pyup.io-253]"}, reports[1].Messages)
}

func TestDatabase_CheckSkipsInconsistentLookup(t *testing.T) {
	db := loadTestDB(t, `{"plums": ["<2.0"]}`, `{}`)
	assert.True(t, db.HasMatch(Package{Name: "plums", Version: "1.0"}))
	assert.Empty(t, db.Check(context.Background(), []Package{{Name: "plums", Version: "1.0"}}))
}

func TestMessage_NeverEmpty(t *testing.T) {
	empty := ""
	msg := Message(Package{Name: "figs", Version: "1.0"}, Record{CVE: &empty})
	assert.Equal(t, "figs 1.0: known vulnerability", msg)
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name     string
		lookup   string
		database string
		document string
	}{
		{"malformed lookup", `{"a": [`, testDatabase, "lookup"},
		{"malformed database", testLookup, `[1, 2]`, "database"},
		{"null lookup", `null`, testDatabase, "lookup"},
		{"trailing data", testLookup, testDatabase + ` {}`, "database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Load(context.Background(), strings.NewReader(tt.lookup), strings.NewReader(tt.database))
			assert.Nil(t, db)
			assert.ErrorIs(t, err, ErrDatabaseLoad)
			var le *LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.document, le.Document)
		})
	}
}

func writeDB(t *testing.T, dir, lookup, database string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LookupFile), []byte(lookup), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DatabaseFile), []byte(database), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadDir(context.Background(), dir)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, filepath.Join(dir, LookupFile), le.Path)

	writeDB(t, dir, testLookup, `{"broken": `)
	_, err = LoadDir(context.Background(), dir)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "database", le.Document)
	assert.Equal(t, filepath.Join(dir, DatabaseFile), le.Path)

	writeDB(t, dir, testLookup, testDatabase)
	db, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, db.Packages())
}

func TestStore_Reload(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, testLookup, testDatabase)

	s, err := OpenStore(context.Background(), dir)
	require.NoError(t, err)
	first := s.Database()
	require.NotNil(t, first)

	writeDB(t, dir, `{"figs": ["<1"]}`, `{"figs": [{"advisory": "a", "cve": null, "id": "f", "specs": ["<1"], "v": "<1"}]}`)
	require.NoError(t, s.Reload(context.Background()))
	assert.NotSame(t, first, s.Database())
	assert.True(t, s.Database().HasMatch(Package{Name: "figs", Version: "0.5"}))

	writeDB(t, dir, `{`, `{}`)
	assert.ErrorIs(t, s.Reload(context.Background()), ErrDatabaseLoad)
	assert.True(t, s.Database().HasMatch(Package{Name: "figs", Version: "0.5"}), "failed reload keeps previous database")
}

func TestStore_NewStoreCannotReload(t *testing.T) {
	db := loadTestDB(t, testLookup, testDatabase)
	s := NewStore(db)
	assert.Same(t, db, s.Database())
	assert.ErrorIs(t, s.Reload(context.Background()), ErrNoDirectory)
	assert.ErrorIs(t, s.Watch(context.Background()), ErrNoDirectory)

	s.Replace(nil)
	assert.Same(t, db, s.Database())
}

func TestStore_Watch(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, testLookup, testDatabase)

	s, err := OpenStore(context.Background(), dir, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	first := s.Database()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	writeDB(t, dir, `{"figs": ["<1"]}`, `{"figs": [{"advisory": "a", "cve": null, "id": "f", "specs": ["<1"], "v": "<1"}]}`)

	require.Eventually(t, func() bool {
		db := s.Database()
		return db != first && db.HasMatch(Package{Name: "figs", Version: "0.5"})
	}, 5*time.Second, 20*time.Millisecond)
}

func TestParseRequirements(t *testing.T) {
	in := `# pinned
requests==2.31.0
Django[argon2] == 4.2.1  # web
-r other.txt
-e git+https://example.com/repo.git#egg=thing
flask>=2.0
pkg @ file:///tmp/pkg.whl
legacy===1.0-custom
colorama==0.4.6 ; sys_platform == "win32"

`
	pkgs, err := ParseRequirements(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Package{
		{Name: "requests", Version: "2.31.0"},
		{Name: "Django", Version: "4.2.1"},
		{Name: "legacy", Version: "1.0-custom"},
		{Name: "colorama", Version: "0.4.6"},
	}, pkgs)
}

func TestParsePackage(t *testing.T) {
	pkg, err := ParsePackage("bananas==0.6.0")
	require.NoError(t, err)
	assert.Equal(t, Package{Name: "bananas", Version: "0.6.0"}, pkg)
	assert.Equal(t, "bananas==0.6.0", pkg.String())

	_, err = ParsePackage("bananas>=0.6.0")
	assert.ErrorIs(t, err, ErrInvalidPackage)
}

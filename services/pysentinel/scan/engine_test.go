// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/cache"
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "x = 1\n")
	writeFile(t, dir, "pkg/mod.py", "x = 1\n")
	writeFile(t, dir, "pkg/README.md", "doc\n")
	writeFile(t, dir, ".git/hooks/pre.py", "x = 1\n")
	writeFile(t, dir, "pkg/__pycache__/mod.py", "x = 1\n")
	writeFile(t, dir, "venv/lib/site.py", "x = 1\n")
	explicit := writeFile(t, dir, "tools/script", "x = 1\n")

	files, err := CollectFiles([]string{dir, explicit, filepath.Join(dir, "app.py")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "app.py"),
		filepath.Join(dir, "pkg", "mod.py"),
		explicit,
	}, files)

	t.Run("missing path", func(t *testing.T) {
		_, err := CollectFiles([]string{filepath.Join(dir, "nope")})
		assert.Error(t, err)
		assert.True(t, os.IsNotExist(unwrapAll(err)))
	})
}

func unwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok || u.Unwrap() == nil {
			return err
		}
		err = u.Unwrap()
	}
}

func TestEngine_ScanSource(t *testing.T) {
	engine := NewEngine(config.Default())
	src := []byte("import pickle\npickle.loads(data)\n")

	findings, err := engine.ScanSource(context.Background(), ast.SourceFile{Path: "a.py"}, src)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, safety.CheckDeserialization, findings[0].Check)
	assert.Equal(t, "a.py", findings[0].File)

	t.Run("checks filter", func(t *testing.T) {
		e := NewEngine(config.Default(), WithChecks(safety.CheckTimingAttack))
		findings, err := e.ScanSource(context.Background(), ast.SourceFile{Path: "a.py"}, src)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		_, err := engine.ScanSource(context.Background(), ast.SourceFile{Path: "a.py"}, []byte("x = '\xff'\n"))
		assert.ErrorIs(t, err, ast.ErrInvalidContent)
	})
}

func TestEngine_ScanSourceCached(t *testing.T) {
	fc, err := cache.OpenInMemory()
	require.NoError(t, err)
	defer fc.Close()

	engine := NewEngine(config.Default(), WithCache(fc))
	file := ast.SourceFile{Path: "views.py"}
	src := []byte("if password == 'x':\n    pass\n")

	first, err := engine.ScanSource(context.Background(), file, src)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotNil(t, first[0].Fix)

	second, err := engine.ScanSource(context.Background(), file, src)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Check, second[0].Check)
	assert.Equal(t, first[0].Position, second[0].Position)
	assert.Nil(t, second[0].Fix)
	assert.True(t, second[0].Fixable())

	t.Run("check selection is part of the key", func(t *testing.T) {
		other := NewEngine(config.Default(), WithCache(fc), WithChecks(safety.CheckDeserialization))
		findings, err := other.ScanSource(context.Background(), file, src)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestEngine_ScanPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "import pickle\npickle.loads(x)\n")
	writeFile(t, dir, "b.py", "import tempfile\ntempfile.mktemp()\n")
	writeFile(t, dir, "binary.py", "x = '\xff\xfe'\n")
	writeFile(t, dir, "clean.py", "print('hi')\n")

	engine := NewEngine(config.Default(), WithWorkers(2))
	res, err := engine.ScanPaths(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, res.Files, 4)

	var paths []string
	for _, f := range res.Files {
		paths = append(paths, filepath.Base(f.Path))
	}
	assert.Equal(t, []string{"a.py", "b.py", "binary.py", "clean.py"}, paths)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "binary.py", filepath.Base(failed[0].Path))
	assert.NotEmpty(t, failed[0].Error)

	var checks []safety.CheckID
	for _, f := range res.Findings() {
		checks = append(checks, f.Check)
	}
	assert.Equal(t, []safety.CheckID{safety.CheckDeserialization, safety.CheckInsecureTempfile}, checks)
}

func TestEngine_ScanPathsCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "x = 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(config.Default()).ScanPaths(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_FixSource(t *testing.T) {
	engine := NewEngine(config.Default())
	src := []byte("import tempfile\nname = tempfile.mktemp()\nif token == expected:\n    pass\n")

	t.Run("all checks", func(t *testing.T) {
		res, err := engine.FixSource(context.Background(), ast.SourceFile{Path: "a.py"}, src)
		require.NoError(t, err)
		assert.Len(t, res.Applied, 2)
		assert.Contains(t, string(res.Source), "tempfile.mkstemp()")
		assert.Contains(t, string(res.Source), "hmac.compare_digest(token, expected)")

		rescan, err := engine.ScanSource(context.Background(), ast.SourceFile{Path: "a.py"}, res.Source)
		require.NoError(t, err)
		assert.Empty(t, rescan)
	})

	t.Run("selected checks", func(t *testing.T) {
		res, err := engine.FixSource(context.Background(), ast.SourceFile{Path: "a.py"}, src, safety.CheckInsecureTempfile)
		require.NoError(t, err)
		require.Len(t, res.Applied, 1)
		assert.Contains(t, string(res.Source), "tempfile.mkstemp()")
		assert.Contains(t, string(res.Source), "token == expected")
	})
}

func TestEngine_FixFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "import tempfile\ntempfile.mktemp()\n")
	engine := NewEngine(config.Default())

	res, err := engine.FixFile(context.Background(), path, false)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "import tempfile\ntempfile.mktemp()\n", string(unchanged))

	_, err = engine.FixFile(context.Background(), path, true)
	require.NoError(t, err)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "import tempfile\ntempfile.mkstemp()\n", string(written))
}

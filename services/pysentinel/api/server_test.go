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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pysentinel/services/pysentinel/advisory"
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
	"github.com/AleutianAI/pysentinel/services/pysentinel/scan"
)

const lookupDoc = `{"apples": ["<0.6.0"]}`

const databaseDoc = `{
 "apples": [
  {"advisory": "apple pips taste nasty.", "cve": null, "id": "pyup.io-25612", "specs": ["<0.6.0"], "v": "<0.6.0"}
 ]
}`

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, opts ...Option) *gin.Engine {
	t.Helper()
	db, err := advisory.Load(context.Background(), strings.NewReader(lookupDoc), strings.NewReader(databaseDoc))
	require.NoError(t, err)
	opts = append([]Option{WithAdvisoryStore(advisory.NewStore(db)), WithVersion("test")}, opts...)
	return NewServer(scan.NewEngine(config.Default()), opts...).Router()
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/v1/pysentinel/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, config.Default().Version, resp.RulesVersion)
	assert.Equal(t, 1, resp.AdvisoryPackages)
	assert.NotEmpty(t, resp.AdvisoryLoadedAt)
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/pysentinel/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestHandleScan(t *testing.T) {
	router := newTestRouter(t)

	t.Run("findings", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/scan", SourceRequest{
			Path:    "app.py",
			Content: "import pickle\npickle.loads(blob)\n",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Findings, 1)
		assert.Equal(t, safety.CheckDeserialization, resp.Findings[0].Check)
		assert.Equal(t, 2, resp.Findings[0].Position.Line)
		assert.Equal(t, 1, resp.Summary.Findings)
	})

	t.Run("python version", func(t *testing.T) {
		src := "import ssl\nssl.wrap_socket(sock)\n"
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/scan", SourceRequest{Path: "a.py", Content: src, PythonVersion: "3.5"})
		require.Equal(t, http.StatusOK, rec.Code)
		var old ScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &old))
		assert.Len(t, old.Findings, 1)

		rec = do(t, router, http.MethodPost, "/v1/pysentinel/scan", SourceRequest{Path: "a.py", Content: src, PythonVersion: "3.8"})
		require.Equal(t, http.StatusOK, rec.Code)
		var cur ScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cur))
		assert.Empty(t, cur.Findings)
	})

	t.Run("check filter", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/scan", SourceRequest{
			Path:    "app.py",
			Content: "import pickle\npickle.loads(blob)\n",
			Checks:  []string{"tim100"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"findings":[]`)
	})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing content", map[string]string{"path": "a.py"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad version", SourceRequest{Path: "a.py", Content: "x", PythonVersion: "three"}, http.StatusBadRequest, "INVALID_PYTHON_VERSION"},
		{"unknown check", SourceRequest{Path: "a.py", Content: "x", Checks: []string{"NOPE1"}}, http.StatusBadRequest, "UNKNOWN_CHECK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/v1/pysentinel/scan", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestHandleFix(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/v1/pysentinel/fix", SourceRequest{
		Path:    "tmp.py",
		Content: "import tempfile\nname = tempfile.mktemp()\n",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FixResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "import tempfile\nname = tempfile.mkstemp()\n", resp.Source)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, safety.CheckInsecureTempfile, resp.Applied[0].Check)
	assert.Empty(t, resp.Skipped)
	assert.Contains(t, resp.Diff, "-name = tempfile.mktemp()\n+name = tempfile.mkstemp()\n")

	t.Run("nothing to fix", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/fix", SourceRequest{Path: "a.py", Content: "x = 1\n"})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp FixResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "x = 1\n", resp.Source)
		assert.Empty(t, resp.Diff)
		assert.NotNil(t, resp.Applied)
	})
}

func TestHandleDependencies(t *testing.T) {
	router := newTestRouter(t)

	t.Run("structured packages", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/dependencies", DependencyRequest{
			Packages: []advisory.Package{{Name: "Apples", Version: "0.4.0"}, {Name: "pears", Version: "1.0"}},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp DependencyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Checked)
		assert.Equal(t, 1, resp.Count)
		require.Len(t, resp.Reports, 1)
		assert.Equal(t, []string{"Apples 0.4.0: apple pips taste nasty. [pyup.io-25612]"}, resp.Reports[0].Messages)
	})

	t.Run("requirements text", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/dependencies", DependencyRequest{
			Requirements: "# pinned\napples==0.7.0\n",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp DependencyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Checked)
		assert.Empty(t, resp.Reports)
	})

	t.Run("no packages", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/dependencies", DependencyRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "NO_PACKAGES")
	})

	t.Run("package without version", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/dependencies", map[string]any{
			"packages": []map[string]string{{"name": "apples"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no database", func(t *testing.T) {
		router := NewServer(scan.NewEngine(config.Default())).Router()
		rec := do(t, router, http.MethodPost, "/v1/pysentinel/dependencies", DependencyRequest{Requirements: "a==1"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, WithRateLimit(0.001, 1))
	first := do(t, router, http.MethodGet, "/v1/pysentinel/health", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	second := do(t, router, http.MethodGet, "/v1/pysentinel/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestMaxBodyBytes(t *testing.T) {
	router := newTestRouter(t, WithMaxBodyBytes(64))
	rec := do(t, router, http.MethodPost, "/v1/pysentinel/scan", SourceRequest{
		Path:    "a.py",
		Content: strings.Repeat("x = 1\n", 100),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/v1/pysentinel/scan", SourceRequest{Path: "a.py", Content: "import pickle\npickle.loads(b)\n"})
	rec := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pysentinel_findings_total")
}

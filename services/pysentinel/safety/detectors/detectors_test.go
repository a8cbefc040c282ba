// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detectors

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pysentinel/services/pysentinel/ast"
	"github.com/AleutianAI/pysentinel/services/pysentinel/config"
	"github.com/AleutianAI/pysentinel/services/pysentinel/safety"
)

func analyzeFile(t *testing.T, path, version, src string, opts ...Option) []safety.Finding {
	t.Helper()
	file := ast.SourceFile{Path: path}
	if version != "" {
		v, err := ast.ParseLanguageVersion(version)
		require.NoError(t, err)
		file.LanguageVersion = v
	}
	tree, err := ast.NewParser().Parse(context.Background(), []byte(src), file)
	require.NoError(t, err)
	findings, err := NewAnalyzer(config.Default(), opts...).Analyze(context.Background(), tree)
	require.NoError(t, err)
	return findings
}

func analyze(t *testing.T, src string, opts ...Option) []safety.Finding {
	t.Helper()
	return analyzeFile(t, "app.py", "", src, opts...)
}

func checksOf(fs []safety.Finding) []safety.CheckID {
	out := make([]safety.CheckID, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Check)
	}
	return out
}

func onlyCheck(fs []safety.Finding, id safety.CheckID) []safety.Finding {
	var out []safety.Finding
	for _, f := range fs {
		if f.Check == id {
			out = append(out, f)
		}
	}
	return out
}

func TestSQLInjectionLikely(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"select * from t where name = '%s'", true},
		{"select * from t where id = %s", false},
		{`select * from t where name = "%s"`, true},
		{`name = '%s"`, false},
		{"%s", false},
		{"'%s", false},
		{"%s'", false},
		{"a = %s and b = '%s'", true},
		{"no placeholder", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SQLInjectionLikely(tt.in, "%s"), tt.in)
	}
}

func TestSQLInjectionLikely_Property(t *testing.T) {
	quotes := []string{"'", `"`, "x", ""}
	for _, pre := range quotes {
		for _, post := range quotes {
			for _, lead := range []string{"", "a"} {
				for _, trail := range []string{"", "b"} {
					s := lead + pre + "%s" + post + trail
					placeholderAt := len(lead + pre)
					hasNeighbors := placeholderAt > 0 && placeholderAt+2 < len(s)
					want := hasNeighbors && pre == post && (pre == "'" || pre == `"`)
					assert.Equal(t, want, SQLInjectionLikely(s, "%s"), "%q", s)
				}
			}
		}
	}
}

func TestAllPlaceholdersQuoted(t *testing.T) {
	assert.True(t, allPlaceholdersQuoted("a = '%s' and b = \"%s\"", "%s"))
	assert.False(t, allPlaceholdersQuoted("a = '%s' and b = %s", "%s"))
	assert.False(t, allPlaceholdersQuoted("a = 1", "%s"))
	assert.False(t, allPlaceholdersQuoted("%s", "%s"))
}

func TestDetectSQLString(t *testing.T) {
	t.Run("quoted placeholder flagged", func(t *testing.T) {
		fs := analyze(t, "q = \"select * from t where name = '%s'\"\n")
		require.Len(t, fs, 1)
		assert.Equal(t, safety.CheckSQLInterpolation, fs[0].Check)
		assert.Equal(t, safety.SeverityHigh, fs[0].Severity)
		assert.Equal(t, 1, fs[0].Position.Line)
		assert.Equal(t, 5, fs[0].Position.Column)
	})

	t.Run("unquoted placeholder clean", func(t *testing.T) {
		assert.Empty(t, analyze(t, "q = \"select * from t where id = %s\"\n"))
	})

	t.Run("whole literal is placeholder", func(t *testing.T) {
		assert.Empty(t, analyze(t, "q = '%s'\n"))
	})

	t.Run("docstring ignored", func(t *testing.T) {
		src := "def f():\n    \"\"\"Runs name = '%s'.\"\"\"\n    return 1\n"
		assert.Empty(t, analyze(t, src))
	})
}

func TestDetectRawSQL(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{
			name: "execute with quoted placeholder",
			src:  "from django.db import connection\nconnection.cursor().execute(\"select * from t where a = '%s'\", [a])\n",
			want: 1,
		},
		{
			name: "RawSQL with double quotes",
			src:  "from django.db.models.expressions import RawSQL\nRawSQL('select x from t where a = \"%s\"', (a,))\n",
			want: 1,
		},
		{
			name: "one unquoted placeholder aborts",
			src:  "import django\nModel.objects.raw(\"select * from t where a = '%s' and b = %s\")\n",
			want: 0,
		},
		{
			name: "no framework import",
			src:  "cursor.execute(\"select * from t where a = '%s'\")\n",
			want: 0,
		},
		{
			name: "first argument not a literal",
			src:  "import django\ncursor.execute(query)\n",
			want: 0,
		},
		{
			name: "other method name",
			src:  "import django\ncursor.run(\"select '%s' from t\")\n",
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := onlyCheck(analyze(t, tt.src), safety.CheckRawSQL)
			assert.Len(t, fs, tt.want)
		})
	}
}

func TestDetectDeserialization(t *testing.T) {
	fs := analyze(t, "import pickle\nobj = pickle.loads(data)\n")
	require.Len(t, fs, 1)
	assert.Equal(t, safety.CheckDeserialization, fs[0].Check)
	assert.Nil(t, fs[0].Fix)
	assert.Contains(t, fs[0].Message, "pickle.loads")

	fs = analyze(t, "import cPickle as cp\ncp._load(f)\n")
	assert.Equal(t, []safety.CheckID{safety.CheckDeserialization}, checksOf(fs))

	assert.Empty(t, analyze(t, "import json\njson.loads(data)\n"))
}

func TestDetectTLS(t *testing.T) {
	tests := []struct {
		name    string
		version string
		src     string
		want    []safety.CheckID
	}{
		{name: "no arguments", src: "import ssl\nssl.wrap_socket()\n", want: []safety.CheckID{safety.CheckTLSVersion}},
		{name: "missing version on old python", version: "2.7", src: "import ssl\nssl.wrap_socket(sock)\n", want: []safety.CheckID{safety.CheckTLSVersion}},
		{name: "missing version on 3.5", version: "3.5", src: "import ssl\nssl.wrap_socket(sock)\n", want: []safety.CheckID{safety.CheckTLSVersion}},
		{name: "missing version on 3.6", version: "3.6", src: "import ssl\nssl.wrap_socket(sock)\n", want: nil},
		{name: "explicit None", src: "import ssl\nssl.wrap_socket(sock, ssl_version=None)\n", want: []safety.CheckID{safety.CheckTLSVersion}},
		{name: "bad protocol", src: "import ssl\nssl.wrap_socket(sock, ssl_version=ssl.PROTOCOL_SSLv3)\n", want: []safety.CheckID{safety.CheckTLSBadProtocol}},
		{name: "bad protocol from import", src: "import ssl\nfrom ssl import PROTOCOL_TLSv1\nssl.wrap_socket(sock, ssl_version=PROTOCOL_TLSv1)\n", want: []safety.CheckID{safety.CheckTLSBadProtocol}},
		{name: "positional bad protocol", src: "import ssl\nssl.wrap_socket(s, None, None, False, ssl.CERT_NONE, ssl.PROTOCOL_SSLv2)\n", want: []safety.CheckID{safety.CheckTLSBadProtocol}},
		{name: "good protocol", version: "2.7", src: "import ssl\nssl.wrap_socket(sock, ssl_version=ssl.PROTOCOL_TLS_CLIENT)\n", want: nil},
		{name: "other function", src: "import ssl\nssl.create_default_context()\n", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := analyzeFile(t, "app.py", tt.version, tt.src)
			assert.Equal(t, tt.want, nilIfEmpty(checksOf(fs)))
		})
	}
}

func nilIfEmpty(ids []safety.CheckID) []safety.CheckID {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func TestDetectTiming(t *testing.T) {
	t.Run("equality with secret name", func(t *testing.T) {
		fs := analyze(t, "if password == \"SECRET\":\n    pass\n")
		require.Len(t, fs, 1)
		assert.Equal(t, safety.CheckTimingAttack, fs[0].Check)
		require.NotNil(t, fs[0].Fix)
		assert.Equal(t, "password == \"SECRET\"", fs[0].Snippet)
	})

	t.Run("inequality", func(t *testing.T) {
		fs := analyze(t, "if token != expected:\n    pass\n")
		assert.Equal(t, []safety.CheckID{safety.CheckTimingAttack}, checksOf(fs))
	})

	t.Run("both operands secret yields one finding", func(t *testing.T) {
		fs := analyze(t, "ok = password == stored_password\n")
		assert.Len(t, fs, 1)
	})

	t.Run("ordering comparison ignored", func(t *testing.T) {
		assert.Empty(t, analyze(t, "ok = token_count < limit\n"))
	})

	t.Run("attribute operand ignored", func(t *testing.T) {
		assert.Empty(t, analyze(t, "ok = user.password == given\n"))
	})

	t.Run("ordinary names ignored", func(t *testing.T) {
		assert.Empty(t, analyze(t, "ok = name == other\n"))
	})
}

func TestDetectMiddleware(t *testing.T) {
	t.Run("both missing", func(t *testing.T) {
		fs := analyzeFile(t, "project/settings.py", "", "MIDDLEWARE = ['a', 'b']\n")
		require.Len(t, fs, 2)
		assert.Equal(t, safety.CheckMissingCSRF, fs[0].Check)
		assert.Equal(t, safety.CheckMissingClickjack, fs[1].Check)
		for _, f := range fs {
			assert.NotNil(t, f.Fix)
			assert.Equal(t, ast.KindList, f.Anchor.Kind)
		}
	})

	t.Run("one missing", func(t *testing.T) {
		src := "MIDDLEWARE = [\n    'django.middleware.csrf.CsrfViewMiddleware',\n]\n"
		fs := analyzeFile(t, "settings.py", "", src)
		assert.Equal(t, []safety.CheckID{safety.CheckMissingClickjack}, checksOf(fs))
	})

	t.Run("complete", func(t *testing.T) {
		src := "MIDDLEWARE = ['django.middleware.csrf.CsrfViewMiddleware', 'django.middleware.clickjacking.XFrameOptionsMiddleware']\n"
		assert.Empty(t, analyzeFile(t, "settings.py", "", src))
	})

	t.Run("escaped entry", func(t *testing.T) {
		src := "MIDDLEWARE = ['django.middleware.csrf.CsrfViewMiddlewar\\x65', 'django.middleware.clickjacking.XFrameOptionsMiddleware']\n"
		assert.Empty(t, analyzeFile(t, "settings.py", "", src))
	})

	t.Run("other file name", func(t *testing.T) {
		assert.Empty(t, analyzeFile(t, "config.py", "", "MIDDLEWARE = ['a']\n"))
	})

	t.Run("not a list", func(t *testing.T) {
		assert.Empty(t, analyzeFile(t, "settings.py", "", "MIDDLEWARE = ('a',)\n"))
	})
}

func TestDetectTryExceptContinue(t *testing.T) {
	loop := func(handler string) string {
		return "for x in xs:\n    try:\n        work(x)\n" + handler
	}
	tests := []struct {
		name string
		file string
		src  string
		want int
	}{
		{name: "bare except", src: loop("    except:\n        continue\n"), want: 1},
		{name: "broad exception", src: loop("    except Exception:\n        continue\n"), want: 1},
		{name: "broad exception with alias", src: loop("    except Exception as e:\n        continue\n"), want: 1},
		{name: "comment does not excuse", src: loop("    except Exception:\n        # nothing to do\n        continue\n"), want: 1},
		{name: "narrow exception", src: loop("    except ValueError:\n        continue\n"), want: 0},
		{name: "tuple of exceptions", src: loop("    except (ValueError, Exception):\n        continue\n"), want: 0},
		{name: "pass is not continue", src: loop("    except Exception:\n        pass\n"), want: 0},
		{name: "continue plus logging", src: loop("    except Exception:\n        log(x)\n        continue\n"), want: 0},
		{name: "test file skipped", file: "test_worker.py", src: loop("    except:\n        continue\n"), want: 0},
		{name: "two clauses", src: loop("    except ValueError:\n        continue\n    except:\n        continue\n"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := tt.file
			if file == "" {
				file = "worker.py"
			}
			fs := onlyCheck(analyzeFile(t, file, "", tt.src), safety.CheckTryExceptContinue)
			assert.Len(t, fs, tt.want)
			for _, f := range fs {
				assert.Equal(t, safety.SeverityLow, f.Severity)
				assert.Equal(t, ast.KindExcept, f.Anchor.Kind)
			}
		})
	}
}

func TestDetectShell(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{name: "shell true with variable", src: "import subprocess\nsubprocess.call(opt, shell=True)\n", want: 1},
		{name: "shell true with list", src: "import subprocess\nsubprocess.call(['ps', opt], shell=True)\n", want: 1},
		{name: "no shell", src: "import subprocess\nsubprocess.call(opt)\n", want: 0},
		{name: "shell false", src: "import subprocess\nsubprocess.call(opt, shell=False)\n", want: 0},
		{name: "literal command", src: "import subprocess\nsubprocess.call('ls -l', shell=True)\n", want: 0},
		{name: "already escaped", src: "import subprocess, shlex\nsubprocess.call([shlex.quote(opt)], shell=True)\n", want: 0},
		{name: "os.system always shell", src: "import os\nos.system(cmd)\n", want: 1},
		{name: "f-string command", src: "import os\nos.system(f\"ls {path}\")\n", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := onlyCheck(analyze(t, tt.src), safety.CheckShellInjection)
			assert.Len(t, fs, tt.want)
		})
	}
}

func TestDetectTempfileAndTemplates(t *testing.T) {
	fs := analyze(t, "import tempfile\nname = tempfile.mktemp(suffix='.txt')\n")
	assert.Equal(t, []safety.CheckID{safety.CheckInsecureTempfile}, checksOf(fs))

	fs = analyze(t, "from mako.template import Template\nt = Template(text)\n")
	assert.Equal(t, []safety.CheckID{safety.CheckMakoEscaping}, checksOf(fs))

	fs = analyze(t, "from mako.template import Template\nt = Template(text, default_filters=[])\n")
	assert.Empty(t, fs, "presence is judged by keyword name only")

	fs = analyze(t, "import jinja2\nenv = jinja2.Environment(loader=loader)\n")
	assert.Equal(t, []safety.CheckID{safety.CheckJinja2Autoescape}, checksOf(fs))

	fs = analyze(t, "import jinja2\nenv = jinja2.Environment(**opts)\n")
	assert.Empty(t, fs)
}

func TestAnalyzer_WithChecks(t *testing.T) {
	src := "import pickle\npickle.loads(d)\nif password == x:\n    pass\n"
	all := analyze(t, src)
	assert.Len(t, all, 2)

	only := analyze(t, src, WithChecks(safety.CheckTimingAttack))
	assert.Equal(t, []safety.CheckID{safety.CheckTimingAttack}, checksOf(only))
}

func TestAnalyzer_RecoversDetectorPanic(t *testing.T) {
	boom := Detector{
		Name:   "boom",
		Kinds:  []ast.Kind{ast.KindCall},
		Checks: []safety.CheckID{safety.CheckDeserialization},
		Detect: func(c *Context, id ast.NodeID) []safety.Finding { panic("unexpected shape") },
	}
	builtin := Builtin()
	fs := analyze(t, "import pickle\npickle.loads(d)\nif password == x:\n    pass\n",
		WithDetectors(append([]Detector{boom}, builtin...)...))
	assert.Equal(t, []safety.CheckID{safety.CheckDeserialization, safety.CheckTimingAttack}, checksOf(fs))
}

func TestAnalyzer_ParallelMatchesSequential(t *testing.T) {
	var b strings.Builder
	b.WriteString("import pickle\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&b, "x%d = pickle.loads(data_%d)\nif password == v%d:\n    q = \"where a = '%%s'\"\n", i, i, i)
	}
	src := b.String()

	seq := analyze(t, src)
	par := analyze(t, src, WithParallelism(4))
	require.Len(t, seq, 1200)
	assert.Equal(t, checksOf(seq), checksOf(par))
	for i := range seq {
		assert.Equal(t, seq[i].Anchor, par[i].Anchor)
	}
}

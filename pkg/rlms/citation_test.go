package rlms

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeCitation(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Citation
		ok   bool
	}{
		{
			name: "complete",
			raw:  map[string]any{"path": "a.py", "start_line": 3, "end_line": 5, "signal": "class", "snippet": "class A:"},
			want: Citation{Path: "a.py", StartLine: 3, EndLine: 5, Signal: "class", Snippet: "class A:"},
			ok:   true,
		},
		{
			name: "line alias",
			raw:  map[string]any{"path": "a.py", "line": 7},
			want: Citation{Path: "a.py", StartLine: 7, EndLine: 7, Signal: "reference", Snippet: ""},
			ok:   true,
		},
		{
			name: "end before start clamps",
			raw:  map[string]any{"path": "a.py", "start_line": 9, "end_line": 2},
			want: Citation{Path: "a.py", StartLine: 9, EndLine: 9, Signal: "reference", Snippet: ""},
			ok:   true,
		},
		{
			name: "zero start clamps to one",
			raw:  map[string]any{"path": "a.py", "start_line": 0},
			want: Citation{Path: "a.py", StartLine: 1, EndLine: 1, Signal: "reference", Snippet: ""},
			ok:   true,
		},
		{
			name: "bad numbers fall back",
			raw:  map[string]any{"path": "a.py", "start_line": "x", "end_line": "y"},
			want: Citation{Path: "a.py", StartLine: 1, EndLine: 1, Signal: "reference", Snippet: ""},
			ok:   true,
		},
		{
			name: "missing path rejected",
			raw:  map[string]any{"start_line": 1},
			ok:   false,
		},
		{
			name: "non-mapping rejected",
			raw:  "a.py:1",
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeCitation(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCitationRoundTrip(t *testing.T) {
	// A normalized citation re-normalizes to itself.
	first, ok := NormalizeCitation(map[string]any{
		"path": "pkg/mod.py", "start_line": 4, "end_line": 9,
		"signal": "regex_match", "snippet": "def  run():   pass",
	})
	if !ok {
		t.Fatal("first normalization rejected")
	}
	second, ok := NormalizeCitation(map[string]any{
		"path": first.Path, "start_line": first.StartLine, "end_line": first.EndLine,
		"signal": first.Signal, "snippet": first.Snippet,
	})
	if !ok || first != second {
		t.Errorf("round trip changed citation: %+v != %+v", first, second)
	}
}

func TestNormalizeCitationTruncation(t *testing.T) {
	got, ok := NormalizeCitation(map[string]any{
		"path":    "a.py",
		"signal":  strings.Repeat("s", 100),
		"snippet": strings.Repeat("x", 500),
	})
	if !ok {
		t.Fatal("rejected")
	}
	if len(got.Signal) > MaxSignalLen {
		t.Errorf("signal too long: %d", len(got.Signal))
	}
	if len(got.Snippet) > MaxSnippetLen {
		t.Errorf("snippet too long: %d", len(got.Snippet))
	}
}

func TestDedupeCitations(t *testing.T) {
	a := Citation{Path: "a.py", StartLine: 1, EndLine: 1, Signal: "class", Snippet: "class A:"}
	b := Citation{Path: "b.py", StartLine: 2, EndLine: 2, Signal: "todo", Snippet: "TODO"}
	got := DedupeCitations([]Citation{a, b, a, b, a})
	if len(got) != 2 {
		t.Fatalf("got %d citations, want 2", len(got))
	}
	if got[0] != a || got[1] != b {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestDedupeCitationsCap(t *testing.T) {
	items := make([]Citation, 0, MaxCitations+50)
	for i := 0; i < MaxCitations+50; i++ {
		items = append(items, Citation{Path: "a.py", StartLine: i + 1, EndLine: i + 1, Signal: "reference"})
	}
	got := DedupeCitations(items)
	if len(got) != MaxCitations {
		t.Errorf("got %d citations, want %d", len(got), MaxCitations)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		wantCode string
		wantExit int
	}{
		{Limitf("step limit exceeded (3)"), CodeLimitExceeded, 2},
		{Violationf("dunder names are not allowed"), CodeSandboxViolation, 1},
		{Invocationf("root: command not found"), CodeModelInvocationFailed, 1},
		{Configf("repo is required"), CodeInvalidConfig, 2},
		{errors.New("boom"), CodeWorkerFailure, 1},
	}
	for _, tt := range tests {
		code, exit := Classify(tt.err)
		if code != tt.wantCode || exit != tt.wantExit {
			t.Errorf("Classify(%v) = (%s, %d), want (%s, %d)", tt.err, code, exit, tt.wantCode, tt.wantExit)
		}
	}
}

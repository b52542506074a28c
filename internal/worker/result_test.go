package worker

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/superloop/internal/corpus"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

func TestMergeHighlightsOrder(t *testing.T) {
	final := map[string]any{"highlights": []any{"from final", "shared"}}
	sandbox := []string{"shared", "from sandbox"}
	got := mergeHighlights(final, sandbox, nil, 2)

	want := []string{"from final", "shared", "from sandbox"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeHighlightsFallback(t *testing.T) {
	signals := map[string]int{"class": 2, "python_def": 1, "function": 1}
	got := mergeHighlights(nil, nil, signals, 3)
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	if got[0] != "Processed 3 file(s) via REPL RLMS" {
		t.Errorf("got[0] = %q", got[0])
	}
	if got[1] != "Detected 2 class declaration(s)" {
		t.Errorf("got[1] = %q", got[1])
	}
	if got[2] != "Detected 2 named function definition(s)" {
		t.Errorf("got[2] = %q", got[2])
	}
}

func TestMergeHighlightsNormalizesAndCaps(t *testing.T) {
	items := make([]any, 0, 100)
	for i := 0; i < 100; i++ {
		items = append(items, strings.Repeat("h", 10)+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	final := map[string]any{"highlights": items}
	got := mergeHighlights(final, nil, nil, 1)
	if len(got) != rlms.MaxHighlights {
		t.Errorf("len = %d, want %d", len(got), rlms.MaxHighlights)
	}

	got = mergeHighlights(map[string]any{"highlights": []any{"  spaced   out  "}}, nil, nil, 1)
	if got[0] != "spaced out" {
		t.Errorf("not normalized: %q", got[0])
	}
}

func TestMergeCitationsOrderAndDedupe(t *testing.T) {
	finalCitation := map[string]any{"path": "a.py", "start_line": 1, "end_line": 1, "signal": "class", "snippet": "class A:"}
	final := map[string]any{"citations": []any{finalCitation, finalCitation}}
	sandboxCitations := []rlms.Citation{
		{Path: "a.py", StartLine: 1, EndLine: 1, Signal: "class", Snippet: "class A:"}, // dup of final
		{Path: "b.py", StartLine: 2, EndLine: 2, Signal: "todo", Snippet: "TODO"},
	}
	got := mergeCitations(final, sandboxCitations, nil, false, nil)
	if len(got) != 2 {
		t.Fatalf("got %d citations: %v", len(got), got)
	}
	if got[0].Signal != "class" || got[1].Signal != "todo" {
		t.Errorf("order wrong: %v", got)
	}
}

func TestMergeCitationsStructuralFallback(t *testing.T) {
	fallback := []rlms.Citation{{Path: "a.py", StartLine: 3, EndLine: 3, Signal: "todo", Snippet: "TODO x"}}
	got := mergeCitations(nil, nil, fallback, false, nil)
	if len(got) != 1 || got[0].Signal != "todo" {
		t.Errorf("got %v", got)
	}
}

func TestMergeCitationsRequireSynthesis(t *testing.T) {
	docs := make([]*corpus.Document, 0, 12)
	for i := 0; i < 12; i++ {
		docs = append(docs, &corpus.Document{Path: string(rune('a'+i)) + ".py"})
	}
	got := mergeCitations(nil, nil, nil, true, docs)
	if len(got) != 8 {
		t.Fatalf("got %d synthesized citations, want 8", len(got))
	}
	for _, c := range got {
		if c.Signal != "file_reference" || c.StartLine != 1 || c.EndLine != 1 {
			t.Errorf("bad synthesized citation: %+v", c)
		}
	}
}

func TestMergeCitationsNoSynthesisWhenNotRequired(t *testing.T) {
	docs := []*corpus.Document{{Path: "a.py"}}
	got := mergeCitations(nil, nil, nil, false, docs)
	if len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestBuildFileSummaries(t *testing.T) {
	docs := []*corpus.Document{
		{Path: "a.py", Text: "class A:\n", Lines: []string{"class A:"}},
	}
	got := buildFileSummaries(docs)
	if len(got) != 1 {
		t.Fatal("no summaries")
	}
	want := rlms.FileSummary{Path: "a.py", LineCount: 1, CharCount: 9}
	if got[0] != want {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

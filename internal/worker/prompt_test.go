package worker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/superloop/internal/corpus"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

func TestBuildRootPrompt(t *testing.T) {
	docs := []*corpus.Document{
		{Path: "a.py", Text: "class A:\n    pass\n", Lines: []string{"class A:", "    pass"}},
	}
	state := NewExecutionState(6, 2, 600, 12, nil)
	_ = state.TickStep()
	metadata := map[string]any{"phase": "audit"}

	prompt := buildRootPrompt("analyzer", "loop-1", 3, docs, metadata, state)

	wantFragments := []string{
		"You are the root model in a recursive language model scaffold.",
		"Output only Python code. No prose.",
		"Loop: loop-1",
		"Role: analyzer",
		"Iteration: 3",
		"Step: 1/6",
		"Subcalls used: 0/12",
		"Max subcall depth: 2",
		"- list_files() -> list[str]",
		"- sub_rlm(prompt, depth=1) -> str",
		"- set_final(value)  # call this when done",
		"Do not use import statements.",
		`"phase":"audit"`,
		fmt.Sprintf("- a.py (2 lines, %d est tokens)", (len("class A:\n    pass\n")+3)/4),
		"Recent execution history:\n(none)",
	}
	for _, fragment := range wantFragments {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("prompt missing %q", fragment)
		}
	}
}

func TestBuildRootPromptFileIndexCap(t *testing.T) {
	docs := make([]*corpus.Document, 0, 200)
	for i := 0; i < 200; i++ {
		docs = append(docs, &corpus.Document{Path: fmt.Sprintf("f%03d.py", i)})
	}
	state := NewExecutionState(6, 2, 600, 12, nil)
	prompt := buildRootPrompt("r", "l", 1, docs, nil, state)

	if !strings.Contains(prompt, "- ... (40 more files omitted)") {
		t.Error("omission line missing")
	}
	if strings.Contains(prompt, "f199.py") {
		t.Error("files past the cap leaked into the index")
	}
}

func TestBuildRootPromptEmpty(t *testing.T) {
	state := NewExecutionState(6, 2, 600, 12, nil)
	prompt := buildRootPrompt("r", "l", 1, nil, nil, state)
	if !strings.Contains(prompt, "(no files)") {
		t.Error("empty index placeholder missing")
	}
	if !strings.Contains(prompt, "Current metadata JSON:\n{}") {
		t.Error("empty metadata line missing")
	}
}

func TestSummarizeHistory(t *testing.T) {
	if got := summarizeHistory(nil); got != "(none)" {
		t.Errorf("empty = %q", got)
	}

	rows := make([]rlms.TraceRow, 0, 12)
	for i := 0; i < 12; i++ {
		rows = append(rows, rlms.TraceRow{Step: i + 1, Type: rlms.TraceRoot, CodePreview: "pass", StdoutPreview: ""})
	}
	out := summarizeHistory(rows)
	lines := strings.Split(out, "\n")
	if len(lines) != rlms.MaxHistoryItems {
		t.Fatalf("lines = %d, want %d", len(lines), rlms.MaxHistoryItems)
	}
	if !strings.HasPrefix(lines[0], "step=5 ") {
		t.Errorf("first line = %q, want step=5 first", lines[0])
	}
	if !strings.Contains(lines[7], "step=12") {
		t.Errorf("last line = %q", lines[7])
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain code", "x = 1\n", "x = 1", false},
		{"fenced python", "```python\nx = 1\n```", "x = 1", false},
		{"fenced no label", "```\ny = 2\n```", "y = 2", false},
		{"case-insensitive label", "```PYTHON\nz = 3\n```", "z = 3", false},
		{
			"longest fenced block wins",
			"```python\nshort = 1\n```\ntext\n```python\nlonger = 1\nlonger_still = 2\n```",
			"longer = 1\nlonger_still = 2",
			false,
		},
		{"prose around fence", "Here you go:\n```python\npass\n```\nHope that helps!", "pass", false},
		{"empty fence falls back to raw", "```python\n```", "```python\n```", false},
		{"empty", "   \n  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractCode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

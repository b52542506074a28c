package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadContextList(t *testing.T) {
	repo := t.TempDir()
	a := writeFile(t, repo, "a.py", "class A:\n    pass\n")
	b := writeFile(t, repo, "sub/b.py", "def run():\n    pass\n")
	outside := writeFile(t, t.TempDir(), "c.txt", "outside\n")

	list := writeFile(t, t.TempDir(), "files.txt", strings.Join([]string{
		a,
		b,
		a, // duplicate, dropped
		filepath.Join(repo, "missing.py"),
		repo, // directory, dropped
		outside,
		"",
	}, "\n"))

	docs, err := LoadContextList(list, repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if docs[0].Path != "a.py" {
		t.Errorf("docs[0].Path = %q, want a.py", docs[0].Path)
	}
	if docs[1].Path != filepath.Join("sub", "b.py") {
		t.Errorf("docs[1].Path = %q", docs[1].Path)
	}
	if docs[2].Path != outside {
		t.Errorf("outside path not preserved: %q", docs[2].Path)
	}
	if docs[0].LineCount() != 2 {
		t.Errorf("LineCount = %d, want 2", docs[0].LineCount())
	}
	if docs[0].CharCount() != len("class A:\n    pass\n") {
		t.Errorf("CharCount = %d", docs[0].CharCount())
	}
}

func TestLoadContextListMissingFile(t *testing.T) {
	docs, err := LoadContextList(filepath.Join(t.TempDir(), "nope.txt"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d docs, want 0", len(docs))
	}
}

func TestToRel(t *testing.T) {
	repo := "/srv/repo"
	tests := []struct {
		path string
		want string
	}{
		{"/srv/repo/a.py", "a.py"},
		{"/srv/repo/sub/b.py", "sub/b.py"},
		{"/elsewhere/c.py", "/elsewhere/c.py"},
		{"/srv/repo", "/srv/repo"},
	}
	for _, tt := range tests {
		if got := ToRel(tt.path, repo); got != tt.want {
			t.Errorf("ToRel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one line", 1},
		{"a\nb\n", 2},
		{"a\nb", 2},
		{"a\r\nb\r\n", 2},
		{"a\n\nb\n", 3},
		{"a\rb", 2},
		{"a\vb\fc", 3},
		{"a\u2028b\u0085c\n", 3},
	}
	for _, tt := range tests {
		if got := splitLines(tt.in); len(got) != tt.want {
			t.Errorf("splitLines(%q) = %d lines, want %d", tt.in, len(got), tt.want)
		}
	}
	// \r\n is one boundary, not two.
	got := splitLines("a\r\nb")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("splitLines(a\\r\\nb) = %v", got)
	}
}

func TestCharCountCodepoints(t *testing.T) {
	doc := &Document{Text: "héllo ← 🐍\n"}
	if got := doc.CharCount(); got != 10 {
		t.Errorf("CharCount = %d, want 10 codepoints", got)
	}
}

func TestScan(t *testing.T) {
	docs := []*Document{
		{
			Path: "a.py",
			Lines: []string{
				"class Widget:",
				"    def run(self):",
				"        pass  # TODO finish",
				"# error handling below",
			},
		},
		{
			Path: "b.ts",
			Lines: []string{
				"export function main() {",
				"const handler = (req) => {}",
				"describe('suite', () => {",
			},
		},
	}
	totals, citations := Scan(docs)

	want := map[string]int{
		"class":          1,
		"python_def":     1,
		"function":       1,
		"arrow_function": 1,
		"test":           1,
		"todo":           1,
		"error":          1,
	}
	for signal, count := range want {
		if totals[signal] != count {
			t.Errorf("totals[%s] = %d, want %d", signal, totals[signal], count)
		}
	}

	if len(citations) == 0 {
		t.Fatal("no fallback citations")
	}
	for _, c := range citations {
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			t.Errorf("bad citation range: %+v", c)
		}
		if c.Path != "a.py" && c.Path != "b.ts" {
			t.Errorf("unknown path %q", c.Path)
		}
	}
}

func TestScanArrowFunction(t *testing.T) {
	docs := []*Document{{Path: "x.ts", Lines: []string{
		"export const handler = (req) => {}",
		"const add = (a, b) => a + b",
	}}}
	totals, _ := Scan(docs)
	if totals["arrow_function"] != 2 {
		t.Errorf("arrow_function = %d, want 2", totals["arrow_function"])
	}
}

func TestScanCitationCap(t *testing.T) {
	lines := make([]string, 500)
	for i := range lines {
		lines[i] = "class C:"
	}
	totals, citations := Scan([]*Document{{Path: "big.py", Lines: lines}})
	if totals["class"] != 500 {
		t.Errorf("class total = %d, want 500 (counts keep going past the citation cap)", totals["class"])
	}
	if len(citations) != 120 {
		t.Errorf("citations = %d, want 120", len(citations))
	}
}

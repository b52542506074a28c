package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nextlevelbuilder/superloop/internal/config"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

func writeExec(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// mockModel writes a script that prints the given code inside a python
// fence.
func mockModel(t *testing.T, dir, name, code string) string {
	t.Helper()
	body := "cat <<'RESPONSE'\n" + "```python\n" + code + "\n```\nRESPONSE\n"
	return writeExec(t, dir, name, body)
}

type fixture struct {
	cfg  *config.Config
	repo string
}

// newFixture builds a runnable config with one context document a.py
// unless contextFiles overrides it.
func newFixture(t *testing.T, rootScript string, mutate func(*config.Config)) *fixture {
	t.Helper()
	repo := t.TempDir()
	aPath := filepath.Join(repo, "a.py")
	if err := os.WriteFile(aPath, []byte("class A:\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	listPath := filepath.Join(t.TempDir(), "context.txt")
	if err := os.WriteFile(listPath, []byte(aPath+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Repo = repo
	cfg.LoopID = "loop-test"
	cfg.Role = "analyzer"
	cfg.Iteration = 1
	cfg.ContextFileList = listPath
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.MaxSteps = 3
	cfg.MaxDepth = 2
	cfg.TimeoutSeconds = 30
	cfg.RootCommand = []string{rootScript}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()
	return &fixture{cfg: cfg, repo: repo}
}

func runFixture(t *testing.T, f *fixture) (any, int) {
	t.Helper()
	return New(f.cfg).Run(context.Background())
}

func asFailure(t *testing.T, payload any) *rlms.Failure {
	t.Helper()
	failure, ok := payload.(*rlms.Failure)
	if !ok {
		t.Fatalf("payload is %T, want *rlms.Failure", payload)
	}
	return failure
}

func TestRunEmptyContextNoFinal(t *testing.T) {
	dir := t.TempDir()
	root := mockModel(t, dir, "root.sh", "pass")

	f := newFixture(t, root, func(c *config.Config) {
		c.ContextFileList = filepath.Join(dir, "missing-list.txt")
		c.MaxSteps = 3
	})
	payload, exit := runFixture(t, f)

	failure := asFailure(t, payload)
	if exit != 2 {
		t.Errorf("exit = %d, want 2", exit)
	}
	if failure.ErrorCode != rlms.CodeLimitExceeded {
		t.Errorf("code = %s, want limit_exceeded", failure.ErrorCode)
	}
	if failure.Stats == nil || failure.Stats.StepCount != 3 {
		t.Errorf("stats = %+v, want step_count 3", failure.Stats)
	}
	if len(failure.Trace) != 3 {
		t.Errorf("trace rows = %d, want 3", len(failure.Trace))
	}
}

func TestRunImmediateFinal(t *testing.T) {
	dir := t.TempDir()
	code := `append_highlight("A")
add_citation("a.py", 1, 1, "class", "class A:")
set_final({"highlights": ["A"], "citations": []})`
	root := mockModel(t, dir, "root.sh", code)

	f := newFixture(t, root, nil)
	payload, exit := runFixture(t, f)
	if exit != 0 {
		t.Fatalf("exit = %d, payload = %+v", exit, payload)
	}
	result, ok := payload.(*rlms.Result)
	if !ok {
		t.Fatalf("payload is %T", payload)
	}

	if !result.OK || result.LoopID != "loop-test" {
		t.Errorf("header wrong: %+v", result)
	}
	found := false
	for _, h := range result.Highlights {
		if h == "A" {
			found = true
		}
	}
	if !found {
		t.Errorf("highlights = %v, want to contain A", result.Highlights)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citations = %v, want exactly 1", result.Citations)
	}
	c := result.Citations[0]
	if c.Path != "a.py" || c.StartLine != 1 || c.EndLine != 1 || c.Signal != "class" {
		t.Errorf("citation = %+v", c)
	}
	if result.Stats.FileCount != 1 || result.Stats.StepCount != 1 {
		t.Errorf("stats = %+v", result.Stats)
	}
	if result.Signals["class"] != 1 {
		t.Errorf("signals = %v", result.Signals)
	}
	if len(result.Trace) != 1 || result.Trace[0].Type != rlms.TraceRoot {
		t.Errorf("trace = %+v", result.Trace)
	}
	if result.Limits.MaxSubcalls != 6 {
		t.Errorf("max_subcalls = %d, want 2 x max_steps", result.Limits.MaxSubcalls)
	}
}

func TestRunSandboxViolationImport(t *testing.T) {
	dir := t.TempDir()
	root := writeExec(t, dir, "root.sh", "echo 'import os'\n")

	f := newFixture(t, root, nil)
	payload, exit := runFixture(t, f)
	failure := asFailure(t, payload)
	if exit != 1 {
		t.Errorf("exit = %d, want 1", exit)
	}
	if failure.ErrorCode != rlms.CodeSandboxViolation {
		t.Errorf("code = %s, want sandbox_violation", failure.ErrorCode)
	}
}

func TestRunSandboxViolationDunder(t *testing.T) {
	dir := t.TempDir()
	root := writeExec(t, dir, "root.sh", "echo 'x = (1).__class__'\n")

	f := newFixture(t, root, nil)
	payload, exit := runFixture(t, f)
	failure := asFailure(t, payload)
	if exit != 1 {
		t.Errorf("exit = %d, want 1", exit)
	}
	if failure.ErrorCode != rlms.CodeSandboxViolation {
		t.Errorf("code = %s, want sandbox_violation", failure.ErrorCode)
	}
}

func TestRunSubcallTimeout(t *testing.T) {
	dir := t.TempDir()
	root := mockModel(t, dir, "root.sh", `sub_rlm("q", depth=1)`)
	slow := writeExec(t, dir, "slow.sh", "sleep 10\n")

	f := newFixture(t, root, func(c *config.Config) {
		c.TimeoutSeconds = 2
		c.SubcallCommand = []string{slow}
	})
	payload, exit := runFixture(t, f)
	failure := asFailure(t, payload)

	switch failure.ErrorCode {
	case rlms.CodeModelInvocationFailed:
		if exit != 1 {
			t.Errorf("exit = %d, want 1 for %s", exit, failure.ErrorCode)
		}
	case rlms.CodeLimitExceeded:
		if exit != 2 {
			t.Errorf("exit = %d, want 2 for %s", exit, failure.ErrorCode)
		}
	default:
		t.Errorf("code = %s", failure.ErrorCode)
	}
}

func TestRunSubcallDepthCap(t *testing.T) {
	dir := t.TempDir()
	root := mockModel(t, dir, "root.sh", `sub_rlm("q", depth=3)`)

	f := newFixture(t, root, func(c *config.Config) {
		c.MaxDepth = 2
	})
	payload, exit := runFixture(t, f)
	failure := asFailure(t, payload)
	if exit != 2 {
		t.Errorf("exit = %d, want 2", exit)
	}
	if failure.ErrorCode != rlms.CodeLimitExceeded {
		t.Errorf("code = %s, want limit_exceeded", failure.ErrorCode)
	}
}

func TestRunRootCommandFails(t *testing.T) {
	dir := t.TempDir()
	root := writeExec(t, dir, "root.sh", "echo 'model exploded' >&2\nexit 7\n")

	f := newFixture(t, root, nil)
	payload, exit := runFixture(t, f)
	failure := asFailure(t, payload)
	if exit != 1 || failure.ErrorCode != rlms.CodeModelInvocationFailed {
		t.Errorf("exit=%d code=%s", exit, failure.ErrorCode)
	}
	if !strings.Contains(failure.Error, "rc=7") {
		t.Errorf("error = %q", failure.Error)
	}
}

func TestRunSubcallFlow(t *testing.T) {
	dir := t.TempDir()
	sub := writeExec(t, dir, "sub.sh", "echo 'sub says hi'\n")
	code := `answer = sub_rlm("summarize", depth=1)
append_highlight(answer)
set_final({"highlights": [answer], "citations": []})`
	root := mockModel(t, dir, "root.sh", code)

	f := newFixture(t, root, func(c *config.Config) {
		c.SubcallCommand = []string{sub}
	})
	payload, exit := runFixture(t, f)
	if exit != 0 {
		t.Fatalf("exit = %d, payload = %+v", exit, payload)
	}
	result := payload.(*rlms.Result)
	if result.Stats.SubcallCount != 1 {
		t.Errorf("subcall count = %d", result.Stats.SubcallCount)
	}
	if result.Highlights[0] != "sub says hi" {
		t.Errorf("highlights = %v", result.Highlights)
	}
	// Trace carries both the subcall row and the root row.
	foundSub := false
	for _, row := range result.Trace {
		if row.Type == rlms.TraceSubcall {
			foundSub = true
			if row.StdoutPreview != "sub says hi" {
				t.Errorf("subcall preview = %q", row.StdoutPreview)
			}
		}
	}
	if !foundSub {
		t.Errorf("no subcall trace row: %+v", result.Trace)
	}
}

func TestRunStatePersistsAcrossSteps(t *testing.T) {
	dir := t.TempDir()
	// Step 1 stores state; step 2 reads it back and finishes. The mock
	// serves a different fragment per invocation.
	body := "STAMP=\"$1.stamp\"\n" +
		"if [ ! -f \"$STAMP\" ]; then\n" +
		"  touch \"$STAMP\"\n" +
		"  printf '%s\\n' 'notes = [\"first\"]'\n" +
		"else\n" +
		"  printf '%s\\n' 'notes.append(\"second\")' 'set_final({\"highlights\": notes, \"citations\": []})'\n" +
		"fi\n"
	root := writeExec(t, dir, "root.sh", body)

	f := newFixture(t, root, func(c *config.Config) {
		c.RootCommand = []string{root, filepath.Join(dir, "run")}
	})
	payload, exit := runFixture(t, f)
	if exit != 0 {
		t.Fatalf("exit = %d, payload = %+v", exit, payload)
	}
	result := payload.(*rlms.Result)
	if result.Stats.StepCount != 2 {
		t.Errorf("step count = %d, want 2", result.Stats.StepCount)
	}
	if len(result.Highlights) < 2 || result.Highlights[0] != "first" || result.Highlights[1] != "second" {
		t.Errorf("highlights = %v", result.Highlights)
	}
}

func TestRunDeterministic(t *testing.T) {
	dir := t.TempDir()
	code := `append_highlight("stable")
set_final({"highlights": ["stable"], "citations": []})`
	root := mockModel(t, dir, "root.sh", code)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := func() []byte {
		f := newFixture(t, root, nil)
		w := New(f.cfg)
		w.Now = func() time.Time { return fixed }
		payload, exit := w.Run(context.Background())
		if exit != 0 {
			t.Fatalf("exit = %d", exit)
		}
		result := payload.(*rlms.Result)
		// Child process durations are the one wall-clock leak; zero them.
		for i := range result.Trace {
			result.Trace[i].DurationMS = 0
		}
		data, err := json.Marshal(result)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	first := run()
	second := run()
	if string(first) != string(second) {
		t.Errorf("runs differ:\n%s\n%s", first, second)
	}
}

func TestRunMetadataEcho(t *testing.T) {
	dir := t.TempDir()
	meta := filepath.Join(dir, "meta.json")
	if err := os.WriteFile(meta, []byte(`{"phase":"audit"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	code := `set_final({"highlights": [], "citations": []})`
	root := mockModel(t, dir, "root.sh", code)

	f := newFixture(t, root, func(c *config.Config) {
		c.MetadataFile = meta
	})
	payload, exit := runFixture(t, f)
	if exit != 0 {
		t.Fatalf("exit = %d", exit)
	}
	result := payload.(*rlms.Result)
	m, ok := result.Metadata.(map[string]any)
	if !ok || m["phase"] != "audit" {
		t.Errorf("metadata = %v", result.Metadata)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

func TestNormalizeDerivesSubcallBudget(t *testing.T) {
	cfg := Default()
	cfg.Repo = "/r"
	cfg.MaxSteps = 5
	cfg.MaxSubcalls = 0
	cfg.Normalize()
	if cfg.MaxSubcalls != 10 {
		t.Errorf("MaxSubcalls = %d, want 10", cfg.MaxSubcalls)
	}

	cfg = Default()
	cfg.MaxSubcalls = 3
	cfg.Normalize()
	if cfg.MaxSubcalls != 3 {
		t.Errorf("explicit MaxSubcalls overridden: %d", cfg.MaxSubcalls)
	}
}

func TestNormalizeClamps(t *testing.T) {
	cfg := Default()
	cfg.MaxSteps = 0
	cfg.MaxDepth = -2
	cfg.TimeoutSeconds = 0
	cfg.Normalize()
	if cfg.MaxSteps != 1 || cfg.MaxDepth != 1 || cfg.TimeoutSeconds != 1 {
		t.Errorf("clamps failed: %+v", cfg)
	}
}

func TestNormalizeGeneratesLoopID(t *testing.T) {
	cfg := Default()
	cfg.Normalize()
	if cfg.LoopID == "" {
		t.Error("loop id not generated")
	}
	cfg2 := Default()
	cfg2.LoopID = "loop-7"
	cfg2.Normalize()
	if cfg2.LoopID != "loop-7" {
		t.Errorf("explicit loop id overridden: %q", cfg2.LoopID)
	}
}

func TestNormalizeSubcallFallback(t *testing.T) {
	cfg := Default()
	cfg.RootCommand = []string{"model", "--fast"}
	cfg.RootArgs = []string{"--arg"}
	cfg.Normalize()
	if len(cfg.SubcallCommand) != 2 || cfg.SubcallCommand[0] != "model" {
		t.Errorf("subcall command fallback: %v", cfg.SubcallCommand)
	}
	if len(cfg.SubcallArgs) != 1 {
		t.Errorf("subcall args fallback: %v", cfg.SubcallArgs)
	}

	cfg = Default()
	cfg.RootCommand = []string{"model"}
	cfg.SubcallCommand = []string{"other"}
	cfg.Normalize()
	if cfg.SubcallCommand[0] != "other" {
		t.Errorf("explicit subcall command overridden: %v", cfg.SubcallCommand)
	}
}

func TestNormalizePromptModes(t *testing.T) {
	cfg := Default()
	cfg.RootPromptMode = "FILE"
	cfg.SubcallPromptMode = "bogus"
	cfg.Normalize()
	if cfg.RootPromptMode != "file" {
		t.Errorf("RootPromptMode = %q", cfg.RootPromptMode)
	}
	if cfg.SubcallPromptMode != "stdin" {
		t.Errorf("SubcallPromptMode = %q", cfg.SubcallPromptMode)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Repo = "/r"
	cfg.ContextFileList = "/list"
	cfg.OutputDir = "/out"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	for _, breakIt := range []func(*Config){
		func(c *Config) { c.Repo = "" },
		func(c *Config) { c.ContextFileList = "" },
		func(c *Config) { c.OutputDir = "" },
	} {
		c := *cfg
		breakIt(&c)
		err := c.Validate()
		var cfgErr *rlms.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("err = %v, want ConfigError", err)
		}
	}
}

func TestParseStringArray(t *testing.T) {
	tests := []struct {
		raw     string
		want    []string
		wantErr bool
	}{
		{``, nil, false},
		{`[]`, []string{}, false},
		{`["a", "b"]`, []string{"a", "b"}, false},
		{`["a", 1]`, nil, true},
		{`{"a": 1}`, nil, true},
		{`not json`, nil, true},
	}
	for _, tt := range tests {
		got, err := ParseStringArray("flag", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseStringArray(%q) succeeded, want error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStringArray(%q) failed: %v", tt.raw, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParseStringArray(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "meta.json")
	os.WriteFile(good, []byte(`{"phase": "audit", "n": 2}`), 0o644)
	m := LoadMetadata(good)
	if m["phase"] != "audit" {
		t.Errorf("metadata = %v", m)
	}

	if m := LoadMetadata(""); len(m) != 0 {
		t.Errorf("empty path: %v", m)
	}
	if m := LoadMetadata(filepath.Join(dir, "missing.json")); len(m) != 0 {
		t.Errorf("missing file: %v", m)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`[1, 2]`), 0o644)
	if m := LoadMetadata(bad); len(m) != 0 {
		t.Errorf("non-object: %v", m)
	}

	invalid := filepath.Join(dir, "invalid.json")
	os.WriteFile(invalid, []byte(`{{`), 0o644)
	if m := LoadMetadata(invalid); len(m) != 0 {
		t.Errorf("invalid json: %v", m)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.json5")
	os.WriteFile(path, []byte(`{
		// comments are fine in config files
		repo: "/srv/repo",
		max_steps: 4,
		root_command: ["claude", "-p"],
	}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Repo != "/srv/repo" || cfg.MaxSteps != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.RootCommand) != 2 || cfg.RootCommand[0] != "claude" {
		t.Errorf("root command = %v", cfg.RootCommand)
	}
	// File values merge over defaults.
	if cfg.TimeoutSeconds != 600 {
		t.Errorf("default timeout lost: %d", cfg.TimeoutSeconds)
	}
}

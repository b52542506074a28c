// Package config holds the worker configuration surface: flags from
// the external invoker, optionally merged over a JSON5 config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/superloop/internal/invoker"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// Config is the full worker configuration.
type Config struct {
	Repo            string `json:"repo"`
	LoopID          string `json:"loop_id"`
	Role            string `json:"role"`
	Iteration       int    `json:"iteration"`
	ContextFileList string `json:"context_file_list"`
	OutputDir       string `json:"output_dir"`

	MaxSteps       int `json:"max_steps"`
	MaxDepth       int `json:"max_depth"`
	TimeoutSeconds int `json:"timeout_seconds"`
	// MaxSubcalls defaults to 2 × MaxSteps when zero.
	MaxSubcalls int `json:"max_subcalls"`

	RootCommand    []string `json:"root_command"`
	RootArgs       []string `json:"root_args"`
	RootPromptMode string   `json:"root_prompt_mode"`

	SubcallCommand    []string `json:"subcall_command"`
	SubcallArgs       []string `json:"subcall_args"`
	SubcallPromptMode string   `json:"subcall_prompt_mode"`

	RequireCitations bool   `json:"require_citations"`
	Format           string `json:"format"`
	MetadataFile     string `json:"metadata_file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Role:              "analyzer",
		Iteration:         1,
		MaxSteps:          6,
		MaxDepth:          2,
		TimeoutSeconds:    600,
		RootPromptMode:    invoker.PromptModeStdin,
		SubcallPromptMode: invoker.PromptModeStdin,
		RequireCitations:  true,
		Format:            "json",
	}
}

// Load reads a JSON5 config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rlms.Configf("read config: %v", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, rlms.Configf("parse config: %v", err)
	}
	return cfg, nil
}

// Normalize clamps budgets, fills derived defaults, and applies the
// subcall-falls-back-to-root rule.
func (c *Config) Normalize() {
	if c.LoopID == "" {
		c.LoopID = uuid.NewString()
	}
	c.MaxSteps = max(1, c.MaxSteps)
	c.MaxDepth = max(1, c.MaxDepth)
	c.TimeoutSeconds = max(1, c.TimeoutSeconds)
	if c.MaxSubcalls <= 0 {
		c.MaxSubcalls = 2 * c.MaxSteps
	}
	c.RootPromptMode = invoker.ParsePromptMode(c.RootPromptMode, invoker.PromptModeStdin)
	c.SubcallPromptMode = invoker.ParsePromptMode(c.SubcallPromptMode, invoker.PromptModeStdin)
	if len(c.SubcallCommand) == 0 {
		c.SubcallCommand = append([]string(nil), c.RootCommand...)
	}
	if len(c.SubcallArgs) == 0 {
		c.SubcallArgs = append([]string(nil), c.RootArgs...)
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

// Validate rejects configurations the worker cannot run with. The
// empty-root-command case carries its own error code and is checked
// separately by the caller.
func (c *Config) Validate() error {
	if c.Repo == "" {
		return rlms.Configf("repo is required")
	}
	if c.ContextFileList == "" {
		return rlms.Configf("context_file_list is required")
	}
	if c.OutputDir == "" {
		return rlms.Configf("output_dir is required")
	}
	return nil
}

// RootCli returns the root model CLI spec.
func (c *Config) RootCli() invoker.CliConfig {
	return invoker.CliConfig{
		Command:    c.RootCommand,
		Args:       c.RootArgs,
		PromptMode: c.RootPromptMode,
		Label:      "root",
	}
}

// SubcallCli returns the sub_rlm CLI spec.
func (c *Config) SubcallCli() invoker.CliConfig {
	return invoker.CliConfig{
		Command:    c.SubcallCommand,
		Args:       c.SubcallArgs,
		PromptMode: c.SubcallPromptMode,
		Label:      "subcall",
	}
}

// ParseStringArray decodes a JSON array-of-strings flag value.
func ParseStringArray(name, raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var value []any
	if err := json5.Unmarshal([]byte(raw), &value); err != nil {
		return nil, rlms.Configf("%s must be valid JSON array: %v", name, err)
	}
	out := make([]string, 0, len(value))
	for i, item := range value {
		s, ok := item.(string)
		if !ok {
			return nil, rlms.Configf("%s[%d] must be a string", name, i)
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadMetadata reads an optional JSON5 metadata object; a missing,
// unreadable, or non-object file yields an empty map.
func LoadMetadata(path string) map[string]any {
	if path == "" {
		return map[string]any{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}
	}
	var value any
	if err := json5.Unmarshal(data, &value); err != nil {
		return map[string]any{}
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// String is a compact human summary used in debug logging.
func (c *Config) String() string {
	return fmt.Sprintf("loop=%s role=%s iter=%d steps=%d depth=%d timeout=%ds subcalls=%d",
		c.LoopID, c.Role, c.Iteration, c.MaxSteps, c.MaxDepth, c.TimeoutSeconds, c.MaxSubcalls)
}

// Package invoker spawns the external model CLIs. Each invocation gets
// fresh temp prompt/response files, placeholder-expanded argv, the repo
// as working directory, and a hard deadline.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// Prompt delivery modes.
const (
	PromptModeStdin = "stdin"
	PromptModeFile  = "file"
)

// CliConfig describes one model CLI endpoint.
type CliConfig struct {
	Command    []string
	Args       []string
	PromptMode string
	Label      string
}

// Invocation is the outcome of one child process run.
type Invocation struct {
	OK         bool
	Returncode int
	Stdout     string
	Stderr     string
	DurationMS int
	Command    []string
}

// ParsePromptMode normalizes a prompt mode, falling back on anything
// unrecognized.
func ParsePromptMode(raw, fallback string) string {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "" {
		mode = fallback
	}
	if mode != PromptModeStdin && mode != PromptModeFile {
		return fallback
	}
	return mode
}

// ExpandPlaceholders substitutes the per-invocation placeholders in one
// argv token.
func ExpandPlaceholders(arg, repo, promptFile, lastMessageFile string) string {
	out := strings.ReplaceAll(arg, "{repo}", repo)
	out = strings.ReplaceAll(out, "{prompt_file}", promptFile)
	out = strings.ReplaceAll(out, "{last_message_file}", lastMessageFile)
	return out
}

// Invoke runs the CLI once with the given prompt and deadline. Non-zero
// exit is reported through Invocation.OK, not an error; timeouts and
// missing binaries return *rlms.ModelInvocationError.
func Invoke(cli CliConfig, prompt, repo string, timeout time.Duration) (*Invocation, error) {
	if len(cli.Command) == 0 {
		return nil, rlms.Invocationf("%s: command is empty", cli.Label)
	}

	start := time.Now()

	promptFile, err := os.CreateTemp("", "rlms-prompt-*.txt")
	if err != nil {
		return nil, rlms.Invocationf("%s: temp file: %v", cli.Label, err)
	}
	promptPath := promptFile.Name()
	defer os.Remove(promptPath)
	if _, err := promptFile.WriteString(prompt); err != nil {
		promptFile.Close()
		return nil, rlms.Invocationf("%s: temp file: %v", cli.Label, err)
	}
	promptFile.Close()

	msgFile, err := os.CreateTemp("", "rlms-msg-*.txt")
	if err != nil {
		return nil, rlms.Invocationf("%s: temp file: %v", cli.Label, err)
	}
	msgPath := msgFile.Name()
	msgFile.Close()
	defer os.Remove(msgPath)

	expanded := make([]string, 0, len(cli.Command)+len(cli.Args))
	for _, part := range cli.Command {
		expanded = append(expanded, ExpandPlaceholders(part, repo, promptPath, msgPath))
	}
	for _, part := range cli.Args {
		expanded = append(expanded, ExpandPlaceholders(part, repo, promptPath, msgPath))
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, expanded[0], expanded[1:]...)
	cmd.Dir = repo
	if cli.PromptMode == PromptModeStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	durationMS := int(time.Since(start).Milliseconds())

	if ctx.Err() == context.DeadlineExceeded {
		return nil, rlms.Invocationf("%s: command timed out after %ds", cli.Label, int(timeout.Seconds()))
	}
	if runErr != nil {
		var execErr *exec.Error
		if errors.As(runErr, &execErr) || errors.Is(runErr, fs.ErrNotExist) {
			return nil, rlms.Invocationf("%s: command not found: %s", cli.Label, cli.Command[0])
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, rlms.Invocationf("%s: command failed: %v", cli.Label, runErr)
		}
	}

	return &Invocation{
		OK:         cmd.ProcessState.ExitCode() == 0,
		Returncode: cmd.ProcessState.ExitCode(),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: durationMS,
		Command:    expanded,
	}, nil
}

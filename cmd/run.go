package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/superloop/internal/config"
	"github.com/nextlevelbuilder/superloop/internal/textutil"
	"github.com/nextlevelbuilder/superloop/internal/tracing"
	"github.com/nextlevelbuilder/superloop/internal/worker"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

type runFlags struct {
	configFile string

	repo            string
	loopID          string
	role            string
	iteration       int
	contextFileList string
	outputDir       string

	maxSteps       int
	maxDepth       int
	timeoutSeconds int
	maxSubcalls    int

	rootCommandJSON    string
	rootArgsJSON       string
	rootPromptMode     string
	subcallCommandJSON string
	subcallArgsJSON    string
	subcallPromptMode  string

	requireCitations string
	format           string
	metadataFile     string
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the RLMS worker once and print the result JSON",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runWorker(cmd, &f))
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "JSON5 config file; flags override its values")
	fl.StringVar(&f.repo, "repo", "", "repo root: working dir for child processes")
	fl.StringVar(&f.loopID, "loop-id", "", "loop identifier (default: generated)")
	fl.StringVar(&f.role, "role", "analyzer", "worker role tag")
	fl.IntVar(&f.iteration, "iteration", 1, "iteration number")
	fl.StringVar(&f.contextFileList, "context-file-list", "", "newline-delimited file of context paths")
	fl.StringVar(&f.outputDir, "output-dir", "", "output directory (created if missing)")
	fl.IntVar(&f.maxSteps, "max-steps", 6, "root iteration budget")
	fl.IntVar(&f.maxDepth, "max-depth", 2, "maximum sub_rlm depth")
	fl.IntVar(&f.timeoutSeconds, "timeout-seconds", 600, "wall-clock budget for the whole run")
	fl.IntVar(&f.maxSubcalls, "max-subcalls", 0, "subcall budget (default: 2 x max-steps)")
	fl.StringVar(&f.rootCommandJSON, "root-command-json", "[]", "root model command as a JSON string array")
	fl.StringVar(&f.rootArgsJSON, "root-args-json", "[]", "root model extra args as a JSON string array")
	fl.StringVar(&f.rootPromptMode, "root-prompt-mode", "stdin", "root prompt delivery: stdin or file")
	fl.StringVar(&f.subcallCommandJSON, "subcall-command-json", "[]", "subcall command (default: root command)")
	fl.StringVar(&f.subcallArgsJSON, "subcall-args-json", "[]", "subcall extra args (default: root args)")
	fl.StringVar(&f.subcallPromptMode, "subcall-prompt-mode", "stdin", "subcall prompt delivery: stdin or file")
	fl.StringVar(&f.requireCitations, "require-citations", "true", "synthesize fallback citations when none produced")
	fl.StringVar(&f.format, "format", "json", "format tag echoed into the result")
	fl.StringVar(&f.metadataFile, "metadata-file", "", "optional JSON metadata object file")

	return cmd
}

// runWorker assembles the configuration, runs the worker, and prints
// exactly one JSON line.
func runWorker(cmd *cobra.Command, f *runFlags) int {
	setupLogging()

	cfg, err := buildConfig(cmd, f)
	if err != nil {
		printPayload(configFailure(f, err))
		_, exit := rlms.Classify(err)
		return exit
	}

	if len(cfg.RootCommand) == 0 {
		failure := configFailure(f, rlms.Configf("root command is empty"))
		failure.ErrorCode = rlms.CodeMissingRootCommand
		failure.Metadata = metadataOrNil(config.LoadMetadata(cfg.MetadataFile))
		printPayload(failure)
		return 2
	}

	ctx := context.Background()
	shutdown, err := tracing.Setup(ctx, "superloop-worker")
	if err != nil {
		slog.Warn("tracing setup failed", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	payload, exit := worker.New(cfg).Run(ctx)
	if err := shutdown(ctx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
	printPayload(payload)
	return exit
}

// buildConfig layers: defaults, then the config file, then every flag
// the invoker actually set.
func buildConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fl := cmd.Flags()
	if fl.Changed("repo") || cfg.Repo == "" {
		cfg.Repo = f.repo
	}
	if fl.Changed("loop-id") {
		cfg.LoopID = f.loopID
	}
	if fl.Changed("role") || cfg.Role == "" {
		cfg.Role = f.role
	}
	if fl.Changed("iteration") {
		cfg.Iteration = f.iteration
	}
	if fl.Changed("context-file-list") || cfg.ContextFileList == "" {
		cfg.ContextFileList = f.contextFileList
	}
	if fl.Changed("output-dir") || cfg.OutputDir == "" {
		cfg.OutputDir = f.outputDir
	}
	if fl.Changed("max-steps") {
		cfg.MaxSteps = f.maxSteps
	}
	if fl.Changed("max-depth") {
		cfg.MaxDepth = f.maxDepth
	}
	if fl.Changed("timeout-seconds") {
		cfg.TimeoutSeconds = f.timeoutSeconds
	}
	if fl.Changed("max-subcalls") {
		cfg.MaxSubcalls = f.maxSubcalls
	}
	if fl.Changed("root-prompt-mode") {
		cfg.RootPromptMode = f.rootPromptMode
	}
	if fl.Changed("subcall-prompt-mode") {
		cfg.SubcallPromptMode = f.subcallPromptMode
	}
	if fl.Changed("require-citations") {
		cfg.RequireCitations = parseBoolFlag(f.requireCitations)
	}
	if fl.Changed("format") {
		cfg.Format = f.format
	}
	if fl.Changed("metadata-file") {
		cfg.MetadataFile = f.metadataFile
	}

	var err error
	if fl.Changed("root-command-json") || len(cfg.RootCommand) == 0 {
		if cfg.RootCommand, err = config.ParseStringArray("root_command_json", f.rootCommandJSON); err != nil {
			return nil, err
		}
	}
	if fl.Changed("root-args-json") {
		if cfg.RootArgs, err = config.ParseStringArray("root_args_json", f.rootArgsJSON); err != nil {
			return nil, err
		}
	}
	if fl.Changed("subcall-command-json") {
		if cfg.SubcallCommand, err = config.ParseStringArray("subcall_command_json", f.subcallCommandJSON); err != nil {
			return nil, err
		}
	}
	if fl.Changed("subcall-args-json") {
		if cfg.SubcallArgs, err = config.ParseStringArray("subcall_args_json", f.subcallArgsJSON); err != nil {
			return nil, err
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseBoolFlag(raw string) bool {
	return textutil.ParseBool(raw)
}

func utcNowString() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// configFailure builds the minimal failure record emitted before the
// worker proper starts.
func configFailure(f *runFlags, err error) *rlms.Failure {
	code, _ := rlms.Classify(err)
	return &rlms.Failure{
		OK:          false,
		GeneratedAt: utcNowString(),
		LoopID:      f.loopID,
		Role:        f.role,
		Iteration:   f.iteration,
		Error:       err.Error(),
		ErrorCode:   code,
		Metadata:    metadataOrNil(config.LoadMetadata(f.metadataFile)),
	}
}

func metadataOrNil(metadata map[string]any) any {
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// printPayload writes the single result line to stdout.
func printPayload(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"result encoding failed","error_code":"worker_failure"}`)
		return
	}
	fmt.Println(string(data))
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	// stderr: stdout is reserved for the result line.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

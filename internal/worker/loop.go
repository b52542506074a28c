package worker

import (
	"context"
	"log/slog"
	"math"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/superloop/internal/config"
	"github.com/nextlevelbuilder/superloop/internal/corpus"
	"github.com/nextlevelbuilder/superloop/internal/invoker"
	"github.com/nextlevelbuilder/superloop/internal/sandbox"
	"github.com/nextlevelbuilder/superloop/internal/textutil"
	"github.com/nextlevelbuilder/superloop/internal/tracing"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// Worker runs one bounded REPL session to completion.
type Worker struct {
	cfg *config.Config

	// Now is the clock source; overridable in tests so identical runs
	// yield byte-identical results.
	Now func() time.Time
}

// New builds a worker for a normalized configuration.
func New(cfg *config.Config) *Worker {
	return &Worker{cfg: cfg, Now: time.Now}
}

// Run executes the REPL and returns the result payload plus process
// exit code. The payload is *rlms.Result on success and *rlms.Failure
// otherwise; it is always printable as the single stdout line.
func (w *Worker) Run(ctx context.Context) (any, int) {
	cfg := w.cfg
	tracer := tracing.Tracer()

	metadata := config.LoadMetadata(cfg.MetadataFile)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return w.failure(rlms.Configf("create output dir: %v", err), nil, metadata), 2
	}

	docs, err := corpus.LoadContextList(cfg.ContextFileList, cfg.Repo)
	if err != nil {
		slog.Warn("context list read incomplete", "error", err)
	}
	totalChars, totalLines := 0, 0
	for _, doc := range docs {
		totalChars += doc.CharCount()
		totalLines += doc.LineCount()
	}
	signals, structuralCitations := corpus.Scan(docs)
	slog.Debug("context loaded",
		"files", len(docs),
		"lines", totalLines,
		"chars", totalChars,
	)

	state := NewExecutionState(cfg.MaxSteps, cfg.MaxDepth, cfg.TimeoutSeconds, cfg.MaxSubcalls, w.Now)
	env := sandbox.New(docs, state, cfg.SubcallCli(), cfg.Repo)
	rootCli := cfg.RootCli()

	runCtx, runSpan := tracer.Start(ctx, "rlms.run",
		trace.WithAttributes(
			attribute.String("loop_id", cfg.LoopID),
			attribute.String("role", cfg.Role),
			attribute.Int("iteration", cfg.Iteration),
		))
	defer runSpan.End()

	runErr := w.runLoop(runCtx, env, state, rootCli, docs, metadata)
	if runErr != nil {
		return w.failure(runErr, state, metadata), exitFor(runErr)
	}

	highlights := mergeHighlights(env.FinalGo(), env.Highlights, signals, len(docs))
	citations := mergeCitations(env.FinalGo(), env.Citations, structuralCitations, cfg.RequireCitations, docs)

	result := &rlms.Result{
		OK:          true,
		GeneratedAt: utcNow(w.Now()),
		LoopID:      cfg.LoopID,
		Role:        cfg.Role,
		Iteration:   cfg.Iteration,
		Format:      cfg.Format,
		Limits: rlms.Limits{
			MaxSteps:       cfg.MaxSteps,
			MaxDepth:       cfg.MaxDepth,
			TimeoutSeconds: cfg.TimeoutSeconds,
			MaxSubcalls:    cfg.MaxSubcalls,
		},
		Stats: rlms.Stats{
			FileCount:       len(docs),
			LineCount:       totalLines,
			CharCount:       totalChars,
			EstimatedTokens: textutil.EstimateTokens(totalChars),
			StepCount:       state.StepCount(),
			SubcallCount:    state.SubcallCount(),
			ElapsedSeconds:  round3(state.ElapsedSeconds()),
		},
		Signals:    signals,
		Highlights: highlights,
		Citations:  citations,
		Files:      buildFileSummaries(docs),
		Trace:      state.Tail(rlms.MaxHistoryItems),
		Final:      env.FinalGo(),
		Metadata:   metadataOrNil(metadata),
	}
	return result, 0
}

// runLoop is the REPL state machine: prompt, invoke, extract, execute,
// record, re-check budgets.
func (w *Worker) runLoop(ctx context.Context, env *sandbox.Environment, state *ExecutionState, rootCli invoker.CliConfig, docs []*corpus.Document, metadata map[string]any) error {
	cfg := w.cfg
	tracer := tracing.Tracer()

	for env.Final == nil {
		if err := state.TickStep(); err != nil {
			return err
		}
		stepCtx, stepSpan := tracer.Start(ctx, "rlms.step",
			trace.WithAttributes(attribute.Int("step", state.StepCount())))

		prompt := buildRootPrompt(cfg.Role, cfg.LoopID, cfg.Iteration, docs, metadata, state)

		timeout, err := state.RemainingTimeout()
		if err != nil {
			stepSpan.End()
			return err
		}
		_, invokeSpan := tracer.Start(stepCtx, "rlms.invoke_root")
		response, err := invoker.Invoke(rootCli, prompt, cfg.Repo, timeout)
		invokeSpan.End()
		if err != nil {
			stepSpan.End()
			return err
		}
		if !response.OK {
			stepSpan.End()
			stderr := textutil.Compact(response.Stderr, 260)
			if stderr == "" {
				stderr = "no stderr"
			}
			return rlms.Invocationf("root command failed (rc=%d): %s", response.Returncode, stderr)
		}

		code, err := extractCode(response.Stdout)
		if err != nil {
			stepSpan.End()
			return err
		}
		execution, err := env.Execute(code)
		if err != nil {
			stepSpan.End()
			return err
		}

		state.AppendTrace(rlms.TraceRow{
			Step:          state.StepCount(),
			Type:          rlms.TraceRoot,
			Returncode:    response.Returncode,
			DurationMS:    response.DurationMS,
			CodePreview:   execution.CodePreview,
			StdoutPreview: execution.StdoutPreview,
		})
		slog.Debug("step executed",
			"step", state.StepCount(),
			"duration_ms", response.DurationMS,
			"final_set", env.Final != nil,
		)
		stepSpan.End()

		if env.Final == nil && state.StepCount() >= cfg.MaxSteps {
			return rlms.Limitf("final value was not set before max_steps")
		}
	}
	return nil
}

// failure assembles the error payload with the stats snapshot.
func (w *Worker) failure(err error, state *ExecutionState, metadata map[string]any) *rlms.Failure {
	code, _ := rlms.Classify(err)
	f := &rlms.Failure{
		OK:          false,
		GeneratedAt: utcNow(w.Now()),
		LoopID:      w.cfg.LoopID,
		Role:        w.cfg.Role,
		Iteration:   w.cfg.Iteration,
		Error:       err.Error(),
		ErrorCode:   code,
		Metadata:    metadataOrNil(metadata),
	}
	if state != nil {
		f.Stats = &rlms.FailureStats{
			StepCount:      state.StepCount(),
			SubcallCount:   state.SubcallCount(),
			ElapsedSeconds: round3(state.ElapsedSeconds()),
		}
		f.Trace = state.Tail(rlms.MaxHistoryItems)
	}
	return f
}

func exitFor(err error) int {
	_, exit := rlms.Classify(err)
	return exit
}

func metadataOrNil(metadata map[string]any) any {
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func utcNow(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05Z")
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

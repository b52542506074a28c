// Package rlms defines the wire types shared between the worker core and
// its consumers: the result record printed to stdout, citations, trace
// rows, and the worker error taxonomy.
package rlms

// Hard caps applied throughout the worker.
const (
	MaxCitations          = 120
	MaxHighlights         = 80
	MaxSnippetLen         = 220
	MaxHistoryItems       = 8
	MaxPromptFileList     = 160
	MaxSubcallPromptChars = 120_000
	MaxHistoryRetained    = 200
)

// Citation references a line range in a loaded document.
type Citation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Signal    string `json:"signal"`
	Snippet   string `json:"snippet"`
}

// FileSummary describes one loaded document in the result record.
type FileSummary struct {
	Path      string `json:"path"`
	LineCount int    `json:"line_count"`
	CharCount int    `json:"char_count"`
}

// TraceRow is one entry of the execution history. Root rows carry a
// code preview; subcall rows do not.
type TraceRow struct {
	Step          int    `json:"step"`
	Type          string `json:"type"`
	Returncode    int    `json:"returncode"`
	DurationMS    int    `json:"duration_ms"`
	CodePreview   string `json:"code_preview,omitempty"`
	StdoutPreview string `json:"stdout_preview"`
}

// Trace row types.
const (
	TraceRoot    = "root"
	TraceSubcall = "subcall"
)

// Limits echoes the configured budgets in the result record.
type Limits struct {
	MaxSteps       int `json:"max_steps"`
	MaxDepth       int `json:"max_depth"`
	TimeoutSeconds int `json:"timeout_seconds"`
	MaxSubcalls    int `json:"max_subcalls"`
}

// Stats is the run counters snapshot. The full set is emitted on
// success; failure records carry only the step/subcall/elapsed subset.
type Stats struct {
	FileCount       int     `json:"file_count"`
	LineCount       int     `json:"line_count"`
	CharCount       int     `json:"char_count"`
	EstimatedTokens int     `json:"estimated_tokens"`
	StepCount       int     `json:"step_count"`
	SubcallCount    int     `json:"subcall_count"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

// FailureStats is the reduced stats snapshot on error paths.
type FailureStats struct {
	StepCount      int     `json:"step_count"`
	SubcallCount   int     `json:"subcall_count"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Result is the single JSON document written to stdout on success.
type Result struct {
	OK          bool           `json:"ok"`
	GeneratedAt string         `json:"generated_at"`
	LoopID      string         `json:"loop_id"`
	Role        string         `json:"role"`
	Iteration   int            `json:"iteration"`
	Format      string         `json:"format"`
	Limits      Limits         `json:"limits"`
	Stats       Stats          `json:"stats"`
	Signals     map[string]int `json:"signals"`
	Highlights  []string       `json:"highlights"`
	Citations   []Citation     `json:"citations"`
	Files       []FileSummary  `json:"files"`
	Trace       []TraceRow     `json:"trace"`
	Final       any            `json:"final"`
	Metadata    any            `json:"metadata"`
}

// Failure is the single JSON document written to stdout on any error.
type Failure struct {
	OK          bool          `json:"ok"`
	GeneratedAt string        `json:"generated_at"`
	LoopID      string        `json:"loop_id"`
	Role        string        `json:"role"`
	Iteration   int           `json:"iteration"`
	Error       string        `json:"error"`
	ErrorCode   string        `json:"error_code"`
	Stats       *FailureStats `json:"stats,omitempty"`
	Trace       []TraceRow    `json:"trace,omitempty"`
	Metadata    any           `json:"metadata"`
}

package worker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nextlevelbuilder/superloop/internal/corpus"
	"github.com/nextlevelbuilder/superloop/internal/textutil"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// summarizeHistory renders the trailing trace rows, one per line.
func summarizeHistory(history []rlms.TraceRow) string {
	if len(history) == 0 {
		return "(none)"
	}
	start := 0
	if len(history) > rlms.MaxHistoryItems {
		start = len(history) - rlms.MaxHistoryItems
	}
	rows := make([]string, 0, rlms.MaxHistoryItems)
	for _, item := range history[start:] {
		rows = append(rows, fmt.Sprintf("step=%d rc=%d code=%s stdout=%s",
			item.Step,
			item.Returncode,
			textutil.Compact(item.CodePreview, 120),
			textutil.Compact(item.StdoutPreview, 120),
		))
	}
	return strings.Join(rows, "\n")
}

// buildRootPrompt assembles the per-step prompt for the root model:
// persona, identity, helper catalog, rules, metadata, file index, and
// recent history, in stable order.
func buildRootPrompt(role, loopID string, iteration int, docs []*corpus.Document, metadata map[string]any, state *ExecutionState) string {
	files := docs
	if len(files) > rlms.MaxPromptFileList {
		files = files[:rlms.MaxPromptFileList]
	}
	lines := make([]string, 0, len(files)+1)
	for _, doc := range files {
		lines = append(lines, fmt.Sprintf("- %s (%d lines, %d est tokens)",
			doc.Path, doc.LineCount(), textutil.EstimateTokens(doc.CharCount())))
	}
	if len(docs) > rlms.MaxPromptFileList {
		lines = append(lines, fmt.Sprintf("- ... (%d more files omitted)", len(docs)-rlms.MaxPromptFileList))
	}
	fileIndex := strings.Join(lines, "\n")
	if fileIndex == "" {
		fileIndex = "(no files)"
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataLine, err := json.Marshal(metadata)
	if err != nil {
		metadataLine = []byte("{}")
	}

	var sb strings.Builder
	sb.WriteString("You are the root model in a recursive language model scaffold.\n")
	sb.WriteString("Output only Python code. No prose.\n")
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Loop: %s\n", loopID)
	fmt.Fprintf(&sb, "Role: %s\n", role)
	fmt.Fprintf(&sb, "Iteration: %d\n", iteration)
	fmt.Fprintf(&sb, "Step: %d/%d\n", state.StepCount(), state.MaxSteps)
	fmt.Fprintf(&sb, "Elapsed seconds: %.2f\n", state.ElapsedSeconds())
	fmt.Fprintf(&sb, "Subcalls used: %d/%d\n", state.SubcallCount(), state.MaxSubcalls)
	fmt.Fprintf(&sb, "Max subcall depth: %d\n", state.MaxDepth)
	sb.WriteString("\n")
	sb.WriteString("Context is external; use helper functions to inspect it.\n")
	sb.WriteString("Available helpers:\n")
	sb.WriteString("- list_files() -> list[str]\n")
	sb.WriteString("- read_file(path, start_line=1, end_line=None) -> str\n")
	sb.WriteString("- grep(pattern, path=None, max_matches=80, flags='') -> list[{path,start_line,end_line,signal,snippet}]\n")
	sb.WriteString("- slice_text(text, start=0, end=None) -> str\n")
	sb.WriteString("- append_highlight(text)\n")
	sb.WriteString("- add_citation(path, start_line, end_line, signal='reference', snippet='')\n")
	sb.WriteString("- sub_rlm(prompt, depth=1) -> str\n")
	sb.WriteString("- set_final(value)  # call this when done\n")
	sb.WriteString("\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Do not use import statements.\n")
	sb.WriteString("- Do not access files or network directly.\n")
	sb.WriteString("- Keep the code compact and deterministic.\n")
	sb.WriteString("- If finished, call set_final({...}) with highlights and citations.\n")
	sb.WriteString("\n")
	sb.WriteString("Current metadata JSON:\n")
	sb.Write(metadataLine)
	sb.WriteString("\n")
	sb.WriteString("\n")
	sb.WriteString("Context file index:\n")
	sb.WriteString(fileIndex)
	sb.WriteString("\n")
	sb.WriteString("\n")
	sb.WriteString("Recent execution history:\n")
	sb.WriteString(summarizeHistory(state.History()))
	sb.WriteString("\n")
	return sb.String()
}

// codeFence matches fenced blocks with an optional python label.
var codeFence = regexp.MustCompile("(?is)```(?:python)?\\s*(.*?)```")

// extractCode pulls the code to execute from a root response: the
// longest fenced block when fences are present, the stripped text
// otherwise.
func extractCode(text string) (string, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return "", fmt.Errorf("root model returned empty response")
	}
	matches := codeFence.FindAllStringSubmatch(raw, -1)
	if len(matches) > 0 {
		longest := ""
		for _, m := range matches {
			if len(m[1]) > len(longest) {
				longest = m[1]
			}
		}
		if block := strings.TrimSpace(longest); block != "" {
			return block, nil
		}
	}
	return raw, nil
}

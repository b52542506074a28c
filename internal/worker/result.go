package worker

import (
	"fmt"

	"github.com/nextlevelbuilder/superloop/internal/corpus"
	"github.com/nextlevelbuilder/superloop/internal/textutil"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

const maxHighlightLen = 240

// mergeHighlights layers highlight sources: final-declared first, then
// sandbox-recorded, then structural fallbacks when nothing else exists.
func mergeHighlights(finalValue any, sandboxHighlights []string, signals map[string]int, fileCount int) []string {
	var out []string
	seen := make(map[string]struct{})
	push := func(value string) {
		if value == "" {
			return
		}
		if _, dup := seen[value]; dup {
			return
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}

	if m, ok := finalValue.(map[string]any); ok {
		if raw, ok := m["highlights"].([]any); ok {
			for _, item := range raw {
				push(textutil.Compact(stringifyAny(item), maxHighlightLen))
			}
		}
	}
	for _, item := range sandboxHighlights {
		push(item)
	}

	if len(out) == 0 {
		out = append(out, fmt.Sprintf("Processed %d file(s) via REPL RLMS", fileCount))
		if signals["class"] > 0 {
			out = append(out, fmt.Sprintf("Detected %d class declaration(s)", signals["class"]))
		}
		if signals["python_def"]+signals["function"] > 0 {
			out = append(out, fmt.Sprintf("Detected %d named function definition(s)", signals["python_def"]+signals["function"]))
		}
	}

	if len(out) > rlms.MaxHighlights {
		out = out[:rlms.MaxHighlights]
	}
	return out
}

// mergeCitations layers citation sources in priority order, falls back
// to structural citations, synthesizes file references when citations
// are required but absent, and dedupes.
func mergeCitations(finalValue any, sandboxCitations, fallback []rlms.Citation, requireCitations bool, docs []*corpus.Document) []rlms.Citation {
	var items []rlms.Citation

	if m, ok := finalValue.(map[string]any); ok {
		if raw, ok := m["citations"].([]any); ok {
			for _, item := range raw {
				if citation, ok := rlms.NormalizeCitation(item); ok {
					items = append(items, citation)
				}
			}
		}
	}
	items = append(items, sandboxCitations...)

	if len(items) == 0 {
		limit := min(len(fallback), rlms.MaxCitations)
		items = append(items, fallback[:limit]...)
	}

	if requireCitations && len(items) == 0 {
		for i, doc := range docs {
			if i >= 8 {
				break
			}
			items = append(items, rlms.Citation{
				Path:      doc.Path,
				StartLine: 1,
				EndLine:   1,
				Signal:    "file_reference",
				Snippet:   "Fallback citation generated because no explicit citation was produced",
			})
		}
	}

	return rlms.DedupeCitations(items)
}

// buildFileSummaries lists the loaded documents for the result record.
func buildFileSummaries(docs []*corpus.Document) []rlms.FileSummary {
	out := make([]rlms.FileSummary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, rlms.FileSummary{
			Path:      doc.Path,
			LineCount: doc.LineCount(),
			CharCount: doc.CharCount(),
		})
	}
	return out
}

func stringifyAny(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(v)
	}
}

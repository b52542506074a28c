package corpus

import (
	"regexp"

	"github.com/nextlevelbuilder/superloop/internal/textutil"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

// structuralPattern pairs a signal name with its line-oriented pattern.
type structuralPattern struct {
	Signal  string
	Pattern *regexp.Regexp
}

// Fixed scan set. Order matters: totals and fallback citations are
// reported in this order per line.
var patterns = []structuralPattern{
	{"class", regexp.MustCompile(`^\s*class\s+[A-Za-z_][A-Za-z0-9_]*`)},
	{"python_def", regexp.MustCompile(`^\s*def\s+[A-Za-z_][A-Za-z0-9_]*`)},
	{"function", regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+[A-Za-z_][A-Za-z0-9_]*`)},
	{"arrow_function", regexp.MustCompile(`^\s*(?:export\s+)?const\s+[A-Za-z_][A-Za-z0-9_]*\s*=\s*\(`)},
	{"test", regexp.MustCompile(`\b(?:describe|it|test)\s*\(`)},
	{"todo", regexp.MustCompile(`\b(?:TODO|FIXME)\b`)},
	{"error", regexp.MustCompile(`(?i)\b(?:error|fail|exception)\b`)},
}

// Scan runs the structural pattern set over every document, returning
// per-signal totals and a bounded list of fallback citations.
func Scan(docs []*Document) (map[string]int, []rlms.Citation) {
	totals := make(map[string]int, len(patterns))
	for _, p := range patterns {
		totals[p.Signal] = 0
	}

	var citations []rlms.Citation
	for _, doc := range docs {
		for idx, line := range doc.Lines {
			for _, p := range patterns {
				if !p.Pattern.MatchString(line) {
					continue
				}
				totals[p.Signal]++
				if len(citations) < rlms.MaxCitations {
					citations = append(citations, rlms.Citation{
						Path:      doc.Path,
						StartLine: idx + 1,
						EndLine:   idx + 1,
						Signal:    p.Signal,
						Snippet:   textutil.Compact(line, rlms.MaxSnippetLen),
					})
				}
			}
		}
	}
	return totals, citations
}

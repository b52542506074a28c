package rlms

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/superloop/internal/textutil"
)

// MaxSignalLen caps the signal label of a citation.
const MaxSignalLen = 48

// NormalizeSignal compacts a signal label, falling back to "reference".
func NormalizeSignal(value any) string {
	text := value
	if text == nil || text == "" {
		text = "reference"
	}
	out := textutil.Compact(stringify(text), MaxSignalLen)
	if out == "" {
		return "reference"
	}
	return out
}

// NormalizeCitation coerces a loosely-shaped mapping into a Citation.
// Returns false when the value is not a mapping or has no path.
func NormalizeCitation(raw any) (Citation, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Citation{}, false
	}

	path := strings.TrimSpace(stringify(m["path"]))
	if path == "" {
		return Citation{}, false
	}

	start, hasStart := m["start_line"]
	if !hasStart {
		start = m["line"]
	}
	end, hasEnd := m["end_line"]
	if !hasEnd {
		end = start
	}

	startI, endI := 1, 1
	if si, ok := coerceInt(start, 1); ok {
		startI = max(1, si)
		if ei, ok := coerceInt(end, startI); ok {
			endI = max(startI, ei)
		} else {
			startI, endI = 1, 1
		}
	}

	return Citation{
		Path:      path,
		StartLine: startI,
		EndLine:   endI,
		Signal:    NormalizeSignal(m["signal"]),
		Snippet:   textutil.Compact(stringify(m["snippet"]), MaxSnippetLen),
	}, true
}

// DedupeCitations drops exact duplicates, preserving order, capped at
// MaxCitations.
func DedupeCitations(items []Citation) []Citation {
	seen := make(map[Citation]struct{}, len(items))
	out := make([]Citation, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) >= MaxCitations {
			break
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func coerceInt(v any, fallback int) (int, bool) {
	switch t := v.(type) {
	case nil:
		return fallback, true
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

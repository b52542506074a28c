// Package corpus loads the immutable context documents and runs the
// structural signal scan over them.
package corpus

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Document is one loaded context file. Immutable after load; identity
// is the (repo-relative) path.
type Document struct {
	Path  string
	Text  string
	Lines []string
}

// LineCount returns the number of lines in the document.
func (d *Document) LineCount() int { return len(d.Lines) }

// CharCount returns the length of the document text in codepoints,
// the unit the token estimate is defined over.
func (d *Document) CharCount() int { return len([]rune(d.Text)) }

// LoadContextList reads a newline-delimited list of candidate paths and
// returns the loaded documents in first-occurrence order, deduplicated
// by raw path. Missing or non-regular entries are skipped; unreadable
// regular files load as empty text. A missing list file yields an empty
// corpus.
func LoadContextList(contextFileList, repo string) ([]*Document, error) {
	f, err := os.Open(contextFileList)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var docs []*Document
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		candidate := strings.TrimSpace(scanner.Text())
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}

		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		text := ""
		if data, err := os.ReadFile(candidate); err == nil {
			text = string(data)
		}
		docs = append(docs, &Document{
			Path:  ToRel(candidate, repo),
			Text:  text,
			Lines: splitLines(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return docs, err
	}
	return docs, nil
}

// ToRel relativizes path against repo when it lies inside it; the repo
// root itself and paths outside the repo are returned unchanged.
func ToRel(path, repo string) string {
	rel, err := filepath.Rel(repo, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// splitLines matches Python's str.splitlines: the full line-boundary
// rune set, \r\n as one boundary, and no trailing empty line for a
// final terminator.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	var cur []rune
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\r':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			lines = append(lines, string(cur))
			cur = cur[:0]
		case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			lines = append(lines, string(cur))
			cur = cur[:0]
		default:
			cur = append(cur, runes[i])
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/superloop/internal/corpus"
	"github.com/nextlevelbuilder/superloop/internal/invoker"
	"github.com/nextlevelbuilder/superloop/internal/pyscript"
	"github.com/nextlevelbuilder/superloop/internal/textutil"
	"github.com/nextlevelbuilder/superloop/pkg/rlms"
)

const (
	maxHighlightLen      = 240
	subcallStdoutPreview = 180
	grepDefaultMatches   = 80
	grepMaxMatches       = 500
)

// Budget is the slice of controller state the sandbox needs: wall-clock
// checks, subcall accounting, and trace appends.
type Budget interface {
	CheckTimeout() error
	NextSubcall(depth int64) error
	RemainingTimeout() (time.Duration, error)
	AppendTrace(row rlms.TraceRow)
	StepCount() int
}

// ExecResult summarizes one executed fragment.
type ExecResult struct {
	Stdout        string
	StdoutPreview string
	CodePreview   string
}

// Environment owns the per-run sandbox state: the document index, the
// highlight/citation/final accumulators, and the helper binding table.
type Environment struct {
	docsByPath map[string]*corpus.Document
	budget     Budget
	subcallCli invoker.CliConfig
	repo       string

	Highlights []string
	Citations  []rlms.Citation
	Final      Value

	bindings map[string]Value
	locals   map[string]Value
}

// New builds a sandbox over the loaded documents.
func New(docs []*corpus.Document, budget Budget, subcallCli invoker.CliConfig, repo string) *Environment {
	env := &Environment{
		docsByPath: make(map[string]*corpus.Document, len(docs)),
		budget:     budget,
		subcallCli: subcallCli,
		repo:       repo,
	}
	context := NewDict()
	for _, doc := range docs {
		env.docsByPath[doc.Path] = doc
		_ = context.SetItem(doc.Path, doc.Text)
	}

	env.bindings = map[string]Value{
		"CONTEXT":          context,
		"list_files":       env.helper("list_files", env.listFiles),
		"read_file":        env.helper("read_file", env.readFile),
		"grep":             env.helper("grep", env.grep),
		"slice_text":       env.helper("slice_text", env.sliceText),
		"append_highlight": env.helper("append_highlight", env.appendHighlight),
		"add_citation":     env.helper("add_citation", env.addCitation),
		"sub_rlm":          env.helper("sub_rlm", env.subRLM),
		"set_final":        env.helper("set_final", env.setFinal),
	}
	env.locals = make(map[string]Value, len(env.bindings))
	env.refreshBindings()
	return env
}

// BindingNames returns the helper names known to the validator.
func (env *Environment) BindingNames() []string {
	names := make([]string, 0, len(env.bindings))
	for name := range env.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// refreshBindings re-seeds the helper slots so a fragment cannot shadow
// them persistently.
func (env *Environment) refreshBindings() {
	for name, value := range env.bindings {
		env.locals[name] = value
	}
}

func (env *Environment) helper(name string, fn func(args []Value, kwargs map[string]Value) (Value, error)) *Builtin {
	return &Builtin{Name: name, Fn: fn}
}

// pyParse maps parser rejections into sandbox violations.
func pyParse(code string) (*pyscript.Module, error) {
	mod, err := pyscript.Parse(code)
	if err == nil {
		return mod, nil
	}
	var syn *pyscript.SyntaxError
	if errors.As(err, &syn) {
		return nil, rlms.Violationf("syntax error: %s (line %d)", syn.Msg, syn.Line)
	}
	var uns *pyscript.UnsupportedError
	if errors.As(err, &uns) {
		return nil, rlms.Violationf("node type not allowed: %s", uns.NodeType)
	}
	return nil, rlms.Violationf("%v", err)
}

// Execute validates and runs one fragment against the persistent
// namespace, capturing stdout.
func (env *Environment) Execute(code string) (*ExecResult, error) {
	mod, err := pyParse(code)
	if err != nil {
		return nil, err
	}
	if err := validate(mod, env.bindings); err != nil {
		return nil, err
	}
	env.refreshBindings()

	var stdout strings.Builder
	in := &interp{
		globals: env.locals,
		stdout:  &stdout,
		checkTick: func() error {
			return env.budget.CheckTimeout()
		},
	}
	in.builtins = newBuiltins(in)

	if err := in.run(mod); err != nil {
		return nil, err
	}
	out := stdout.String()
	return &ExecResult{
		Stdout:        out,
		StdoutPreview: textutil.Compact(out, rlms.MaxSnippetLen),
		CodePreview:   textutil.Compact(code, rlms.MaxSnippetLen),
	}, nil
}

func (env *Environment) listFiles(args []Value, kwargs map[string]Value) (Value, error) {
	if err := env.budget.CheckTimeout(); err != nil {
		return nil, err
	}
	if len(args) > 0 || len(kwargs) > 0 {
		return nil, fmt.Errorf("list_files() takes no arguments")
	}
	paths := make([]string, 0, len(env.docsByPath))
	for path := range env.docsByPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	items := make([]Value, len(paths))
	for i, p := range paths {
		items[i] = p
	}
	return &List{Items: items}, nil
}

func (env *Environment) readFile(args []Value, kwargs map[string]Value) (Value, error) {
	if err := env.budget.CheckTimeout(); err != nil {
		return nil, err
	}
	bound, err := bindParams("read_file", args, kwargs,
		[]string{"path", "start_line", "end_line"},
		map[string]Value{"start_line": int64(1), "end_line": nil}, 1)
	if err != nil {
		return nil, err
	}

	key := Str(bound["path"])
	doc, ok := env.docsByPath[key]
	if !ok {
		return nil, rlms.Violationf("unknown path in read_file: %s", key)
	}

	start := int64(1)
	if n, ok := helperInt(bound["start_line"]); ok {
		start = max(1, n)
	}
	end := int64(doc.LineCount())
	if raw := bound["end_line"]; raw != nil {
		if n, ok := helperInt(raw); ok {
			end = max(start, n)
		}
	}
	if start > int64(doc.LineCount()) {
		return "", nil
	}
	if end > int64(doc.LineCount()) {
		end = int64(doc.LineCount())
	}
	return strings.Join(doc.Lines[start-1:end], "\n"), nil
}

func (env *Environment) grep(args []Value, kwargs map[string]Value) (Value, error) {
	if err := env.budget.CheckTimeout(); err != nil {
		return nil, err
	}
	bound, err := bindParams("grep", args, kwargs,
		[]string{"pattern", "path", "max_matches", "flags"},
		map[string]Value{"path": nil, "max_matches": int64(grepDefaultMatches), "flags": ""}, 1)
	if err != nil {
		return nil, err
	}

	limit := int64(grepDefaultMatches)
	if n, ok := helperInt(bound["max_matches"]); ok {
		limit = max(1, n)
	}
	limit = min(limit, grepMaxMatches)

	var flagPrefix string
	flags := Str(bound["flags"])
	if strings.Contains(flags, "i") && strings.Contains(flags, "m") {
		flagPrefix = "(?im)"
	} else if strings.Contains(flags, "i") {
		flagPrefix = "(?i)"
	} else if strings.Contains(flags, "m") {
		flagPrefix = "(?m)"
	}

	regex, err := regexp.Compile(flagPrefix + Str(bound["pattern"]))
	if err != nil {
		return nil, rlms.Violationf("invalid regex: %v", err)
	}

	var targets []*corpus.Document
	if bound["path"] == nil {
		paths := make([]string, 0, len(env.docsByPath))
		for path := range env.docsByPath {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, p := range paths {
			targets = append(targets, env.docsByPath[p])
		}
	} else {
		key := Str(bound["path"])
		doc, ok := env.docsByPath[key]
		if !ok {
			return nil, rlms.Violationf("unknown path in grep: %s", key)
		}
		targets = []*corpus.Document{doc}
	}

	out := &List{}
	for _, doc := range targets {
		for lineIdx, line := range doc.Lines {
			if !regex.MatchString(line) {
				continue
			}
			row := NewDict()
			_ = row.SetItem("path", doc.Path)
			_ = row.SetItem("start_line", int64(lineIdx+1))
			_ = row.SetItem("end_line", int64(lineIdx+1))
			_ = row.SetItem("signal", "regex_match")
			_ = row.SetItem("snippet", textutil.Compact(line, rlms.MaxSnippetLen))
			out.Items = append(out.Items, row)
			if int64(len(out.Items)) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (env *Environment) sliceText(args []Value, kwargs map[string]Value) (Value, error) {
	if err := env.budget.CheckTimeout(); err != nil {
		return nil, err
	}
	bound, err := bindParams("slice_text", args, kwargs,
		[]string{"text", "start", "end"},
		map[string]Value{"start": int64(0), "end": nil}, 1)
	if err != nil {
		return nil, err
	}

	src := []rune(Str(bound["text"]))
	start := int64(0)
	if n, ok := helperInt(bound["start"]); ok {
		start = n
	}
	lo := &start
	var hi *int64
	if raw := bound["end"]; raw != nil {
		if n, ok := helperInt(raw); ok {
			hi = &n
		}
	}
	picked := sliceIndices(int64(len(src)), lo, hi, nil)
	var sb strings.Builder
	for _, i := range picked {
		sb.WriteRune(src[i])
	}
	return sb.String(), nil
}

func (env *Environment) appendHighlight(args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bindParams("append_highlight", args, kwargs, []string{"text"}, nil, 1)
	if err != nil {
		return nil, err
	}
	value := textutil.Compact(Str(bound["text"]), maxHighlightLen)
	if value == "" {
		return nil, nil
	}
	for _, existing := range env.Highlights {
		if existing == value {
			return nil, nil
		}
	}
	if len(env.Highlights) < rlms.MaxHighlights {
		env.Highlights = append(env.Highlights, value)
	}
	return nil, nil
}

func (env *Environment) addCitation(args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bindParams("add_citation", args, kwargs,
		[]string{"path", "start_line", "end_line", "signal", "snippet"},
		map[string]Value{"signal": "reference", "snippet": ""}, 3)
	if err != nil {
		return nil, err
	}

	citation, ok := rlms.NormalizeCitation(map[string]any{
		"path":       Str(bound["path"]),
		"start_line": toGo(bound["start_line"]),
		"end_line":   toGo(bound["end_line"]),
		"signal":     toGo(bound["signal"]),
		"snippet":    toGo(bound["snippet"]),
	})
	if !ok {
		return nil, nil
	}
	if _, known := env.docsByPath[citation.Path]; !known {
		return nil, rlms.Violationf("citation path not in context: %s", citation.Path)
	}
	if len(env.Citations) < rlms.MaxCitations {
		env.Citations = append(env.Citations, citation)
	}
	return nil, nil
}

func (env *Environment) setFinal(args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bindParams("set_final", args, kwargs, []string{"value"}, nil, 1)
	if err != nil {
		return nil, err
	}
	env.Final = bound["value"]
	return nil, nil
}

func (env *Environment) subRLM(args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bindParams("sub_rlm", args, kwargs,
		[]string{"prompt", "depth"},
		map[string]Value{"depth": int64(1)}, 1)
	if err != nil {
		return nil, err
	}

	prompt := Str(bound["prompt"])
	if runes := []rune(prompt); len(runes) > rlms.MaxSubcallPromptChars {
		prompt = string(runes[:rlms.MaxSubcallPromptChars])
	}
	depth, ok := asInt(bound["depth"])
	if !ok {
		return nil, fmt.Errorf("sub_rlm() depth must be int, not %s", TypeName(bound["depth"]))
	}

	if err := env.budget.NextSubcall(depth); err != nil {
		return nil, err
	}
	timeout, err := env.budget.RemainingTimeout()
	if err != nil {
		return nil, err
	}
	response, err := invoker.Invoke(env.subcallCli, prompt, env.repo, timeout)
	if err != nil {
		return nil, err
	}

	env.budget.AppendTrace(rlms.TraceRow{
		Step:          env.budget.StepCount(),
		Type:          rlms.TraceSubcall,
		Returncode:    response.Returncode,
		DurationMS:    response.DurationMS,
		StdoutPreview: textutil.Compact(response.Stdout, subcallStdoutPreview),
	})

	if !response.OK {
		stderr := textutil.Compact(response.Stderr, rlms.MaxSnippetLen)
		if stderr == "" {
			stderr = "no stderr"
		}
		return nil, rlms.Invocationf("subcall command failed (rc=%d): %s", response.Returncode, stderr)
	}
	return strings.TrimSpace(response.Stdout), nil
}

// FinalGo returns the final slot converted to plain Go values for the
// result assembler; nil when unset.
func (env *Environment) FinalGo() any {
	return toGo(env.Final)
}

// toGo converts interpreter values into JSON-ready Go values.
func toGo(v Value) any {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t
	case *List:
		out := make([]any, len(t.Items))
		for i, item := range t.Items {
			out[i] = toGo(item)
		}
		return out
	case Tuple:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toGo(item)
		}
		return out
	case *Set:
		items := t.Items()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toGo(item)
		}
		return out
	case *Dict:
		out := make(map[string]any, t.Len())
		keys := t.Keys()
		vals := t.Values()
		for i := range keys {
			out[Str(keys[i])] = toGo(vals[i])
		}
		return out
	case *Range:
		items, _ := iterate(t)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toGo(item)
		}
		return out
	}
	return Repr(v)
}

// helperInt applies the loose integer coercion the helper surface
// tolerates: ints, bools, floats, and numeric strings.
func helperInt(v Value) (int64, bool) {
	if n, ok := asInt(v); ok {
		return n, true
	}
	if f, ok := v.(float64); ok {
		return int64(f), true
	}
	if s, ok := v.(string); ok {
		var n int64
		var sign int64 = 1
		t := strings.TrimSpace(s)
		if strings.HasPrefix(t, "-") {
			sign = -1
			t = t[1:]
		}
		if t == "" {
			return 0, false
		}
		for _, c := range t {
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + int64(c-'0')
		}
		return sign * n, true
	}
	return 0, false
}

// bindParams merges positional and keyword arguments into the helper's
// parameter map. required is the count of leading mandatory params.
func bindParams(fname string, args []Value, kwargs map[string]Value, names []string, defaults map[string]Value, required int) (map[string]Value, error) {
	if len(args) > len(names) {
		return nil, fmt.Errorf("%s() takes at most %d argument(s) (%d given)", fname, len(names), len(args))
	}
	bound := make(map[string]Value, len(names))
	for i, v := range args {
		bound[names[i]] = v
	}
	for name, v := range kwargs {
		known := false
		for _, n := range names {
			if n == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument '%s'", fname, name)
		}
		if _, dup := bound[name]; dup {
			return nil, fmt.Errorf("%s() got multiple values for argument '%s'", fname, name)
		}
		bound[name] = v
	}
	for i, name := range names {
		if _, ok := bound[name]; ok {
			continue
		}
		if dv, ok := defaults[name]; ok {
			bound[name] = dv
			continue
		}
		if i < required {
			return nil, fmt.Errorf("%s() missing required argument: '%s'", fname, name)
		}
		bound[name] = nil
	}
	return bound, nil
}

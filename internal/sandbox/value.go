// Package sandbox validates and executes model-emitted code fragments
// against the allow-listed helper API. The evaluator is a tree walker
// over the restricted grammar; no host reflection is ever exposed.
package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/superloop/internal/pyscript"
)

// Value is a runtime value: nil, bool, int64, float64, string, *List,
// Tuple, *Dict, *Set, *Range, *Function, or *Builtin.
type Value = any

// List is a mutable sequence.
type List struct {
	Items []Value
}

// Tuple is an immutable sequence.
type Tuple []Value

// Dict preserves insertion order and requires hashable keys.
type Dict struct {
	keys  []Value
	vals  []Value
	index map[string]int
}

// NewDict returns an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[string]int)}
}

// Set preserves insertion order and requires hashable members.
type Set struct {
	items []Value
	index map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{index: make(map[string]struct{})}
}

// Range is a lazy integer range.
type Range struct {
	Start, Stop, Step int64
}

// Function is a fragment-defined function.
type Function struct {
	Name     string
	Params   []pyscript.Param
	Defaults []Value // aligned to the tail of Params
	Body     []pyscript.Stmt
}

// Builtin is a host-provided callable: a safe builtin or a sandbox
// helper binding.
type Builtin struct {
	Name string
	Fn   func(args []Value, kwargs map[string]Value) (Value, error)
}

func (d *Dict) Len() int { return len(d.keys) }

// SetItem inserts or replaces a key.
func (d *Dict) SetItem(key, value Value) error {
	h, err := hashKey(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[h]; ok {
		d.vals[i] = value
		return nil
	}
	d.index[h] = len(d.keys)
	d.keys = append(d.keys, key)
	d.vals = append(d.vals, value)
	return nil
}

// GetItem looks a key up.
func (d *Dict) GetItem(key Value) (Value, bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	if i, ok := d.index[h]; ok {
		return d.vals[i], true, nil
	}
	return nil, false, nil
}

// Pop removes a key, returning its value.
func (d *Dict) Pop(key Value) (Value, bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[h]
	if !ok {
		return nil, false, nil
	}
	v := d.vals[i]
	d.keys = append(d.keys[:i], d.keys[i+1:]...)
	d.vals = append(d.vals[:i], d.vals[i+1:]...)
	delete(d.index, h)
	for k, idx := range d.index {
		if idx > i {
			d.index[k] = idx - 1
		}
	}
	return v, true, nil
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value { return append([]Value(nil), d.keys...) }

// Values returns the values in insertion order.
func (d *Dict) Values() []Value { return append([]Value(nil), d.vals...) }

// Clear removes everything.
func (d *Dict) Clear() {
	d.keys, d.vals = nil, nil
	d.index = make(map[string]int)
}

func (s *Set) Len() int { return len(s.items) }

// Add inserts a member.
func (s *Set) Add(v Value) error {
	h, err := hashKey(v)
	if err != nil {
		return err
	}
	if _, ok := s.index[h]; ok {
		return nil
	}
	s.index[h] = struct{}{}
	s.items = append(s.items, v)
	return nil
}

// Contains reports membership.
func (s *Set) Contains(v Value) (bool, error) {
	h, err := hashKey(v)
	if err != nil {
		return false, err
	}
	_, ok := s.index[h]
	return ok, nil
}

// Items returns members in insertion order.
func (s *Set) Items() []Value { return append([]Value(nil), s.items...) }

// Len of a lazy range.
func (r *Range) Len() int64 {
	if r.Step > 0 {
		if r.Stop <= r.Start {
			return 0
		}
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Stop >= r.Start {
		return 0
	}
	step := -r.Step
	return (r.Start - r.Stop + step - 1) / step
}

// TypeName reports the Python-style type name of a value.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case Tuple:
		return "tuple"
	case *Dict:
		return "dict"
	case *Set:
		return "set"
	case *Range:
		return "range"
	case *Function, *Builtin:
		return "function"
	}
	return fmt.Sprintf("%T", v)
}

// Truthy applies Python truthiness.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case *List:
		return len(t.Items) > 0
	case Tuple:
		return len(t) > 0
	case *Dict:
		return t.Len() > 0
	case *Set:
		return t.Len() > 0
	case *Range:
		return t.Len() > 0
	}
	return true
}

// Str renders a value the way Python's str() does.
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

// Repr renders a value the way Python's repr() does.
func Repr(v Value) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return formatFloat(t)
	case string:
		return reprString(t)
	case *List:
		return reprSeq(t.Items, "[", "]")
	case Tuple:
		if len(t) == 1 {
			return "(" + Repr(t[0]) + ",)"
		}
		return reprSeq(t, "(", ")")
	case *Dict:
		if t.Len() == 0 {
			return "{}"
		}
		var sb strings.Builder
		sb.WriteByte('{')
		for i := range t.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(Repr(t.keys[i]))
			sb.WriteString(": ")
			sb.WriteString(Repr(t.vals[i]))
		}
		sb.WriteByte('}')
		return sb.String()
	case *Set:
		if t.Len() == 0 {
			return "set()"
		}
		return reprSeq(t.items, "{", "}")
	case *Range:
		if t.Step == 1 {
			return fmt.Sprintf("range(%d, %d)", t.Start, t.Stop)
		}
		return fmt.Sprintf("range(%d, %d, %d)", t.Start, t.Stop, t.Step)
	case *Function:
		return fmt.Sprintf("<function %s>", t.Name)
	case *Builtin:
		return fmt.Sprintf("<built-in function %s>", t.Name)
	}
	return fmt.Sprintf("%v", v)
}

func reprSeq(items []Value, open, close string) string {
	var sb strings.Builder
	sb.WriteString(open)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Repr(item))
	}
	sb.WriteString(close)
	return sb.String()
}

func reprString(s string) string {
	// Python prefers single quotes unless the string contains one and
	// no double quote.
	quote := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, "\"") {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteByte(quote)
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case rune(quote):
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// hashKey derives a stable map key for hashable values; unhashable
// values (lists, dicts, sets) return an error.
func hashKey(v Value) (string, error) {
	switch t := v.(type) {
	case nil:
		return "n", nil
	case bool:
		// bool hashes like its int value in Python.
		if t {
			return "i1", nil
		}
		return "i0", nil
	case int64:
		return "i" + strconv.FormatInt(t, 10), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e18 {
			return "i" + strconv.FormatInt(int64(t), 10), nil
		}
		return "f" + strconv.FormatFloat(t, 'g', -1, 64), nil
	case string:
		return "s" + t, nil
	case Tuple:
		var sb strings.Builder
		sb.WriteString("t(")
		for _, item := range t {
			h, err := hashKey(item)
			if err != nil {
				return "", err
			}
			sb.WriteString(strconv.Itoa(len(h)))
			sb.WriteByte(':')
			sb.WriteString(h)
		}
		sb.WriteByte(')')
		return sb.String(), nil
	}
	return "", fmt.Errorf("unhashable type: '%s'", TypeName(v))
}

// valueEqual implements Python ==.
func valueEqual(a, b Value) bool {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			return an == bn
		}
		return false
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case *List:
		bl, ok := b.(*List)
		return ok && seqEqual(at.Items, bl.Items)
	case Tuple:
		bt, ok := b.(Tuple)
		return ok && seqEqual(at, bt)
	case *Dict:
		bd, ok := b.(*Dict)
		if !ok || at.Len() != bd.Len() {
			return false
		}
		for i, k := range at.keys {
			bv, found, err := bd.GetItem(k)
			if err != nil || !found || !valueEqual(at.vals[i], bv) {
				return false
			}
		}
		return true
	case *Set:
		bs, ok := b.(*Set)
		if !ok || at.Len() != bs.Len() {
			return false
		}
		for _, item := range at.items {
			found, err := bs.Contains(item)
			if err != nil || !found {
				return false
			}
		}
		return true
	}
	return a == b
}

func seqEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// asFloat extracts a numeric value, treating bool as 0/1.
func asFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// asInt extracts an integer value, treating bool as 0/1.
func asInt(v Value) (int64, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int64:
		return t, true
	}
	return 0, false
}

// valueCompare orders two values: -1, 0, 1. Unorderable pairs error.
func valueCompare(a, b Value) (int, error) {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			switch {
			case an < bn:
				return -1, nil
			case an > bn:
				return 1, nil
			}
			return 0, nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), nil
		}
	}
	if al, ok := a.(*List); ok {
		if bl, ok := b.(*List); ok {
			return seqCompare(al.Items, bl.Items)
		}
	}
	if at, ok := a.(Tuple); ok {
		if bt, ok := b.(Tuple); ok {
			return seqCompare(at, bt)
		}
	}
	return 0, fmt.Errorf("'<' not supported between instances of '%s' and '%s'", TypeName(a), TypeName(b))
}

func seqCompare(a, b []Value) (int, error) {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		c, err := valueCompare(a[i], b[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	switch {
	case len(a) < len(b):
		return -1, nil
	case len(a) > len(b):
		return 1, nil
	}
	return 0, nil
}

// iterate materializes an iterable into a slice.
func iterate(v Value) ([]Value, error) {
	switch t := v.(type) {
	case string:
		out := make([]Value, 0, len(t))
		for _, r := range t {
			out = append(out, string(r))
		}
		return out, nil
	case *List:
		return append([]Value(nil), t.Items...), nil
	case Tuple:
		return append([]Value(nil), t...), nil
	case *Dict:
		return t.Keys(), nil
	case *Set:
		return t.Items(), nil
	case *Range:
		n := t.Len()
		out := make([]Value, 0, n)
		for i := int64(0); i < n; i++ {
			out = append(out, t.Start+i*t.Step)
		}
		return out, nil
	}
	return nil, fmt.Errorf("'%s' object is not iterable", TypeName(v))
}

// valueLen implements len().
func valueLen(v Value) (int64, error) {
	switch t := v.(type) {
	case string:
		return int64(len([]rune(t))), nil
	case *List:
		return int64(len(t.Items)), nil
	case Tuple:
		return int64(len(t)), nil
	case *Dict:
		return int64(t.Len()), nil
	case *Set:
		return int64(t.Len()), nil
	case *Range:
		return t.Len(), nil
	}
	return 0, fmt.Errorf("object of type '%s' has no len()", TypeName(v))
}

// sortValues stably sorts items in place, ordering by the parallel
// keys slice when present; used by sorted() and list.sort().
func sortValues(items []Value, keys []Value, reverse bool) error {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	sort.SliceStable(idx, func(x, y int) bool {
		if sortErr != nil {
			return false
		}
		a, b := items[idx[x]], items[idx[y]]
		if keys != nil {
			a, b = keys[idx[x]], keys[idx[y]]
		}
		c, err := valueCompare(a, b)
		if err != nil {
			sortErr = err
			return false
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if sortErr != nil {
		return sortErr
	}
	out := make([]Value, len(items))
	for i, j := range idx {
		out[i] = items[j]
	}
	copy(items, out)
	return nil
}

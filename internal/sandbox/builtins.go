package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// newBuiltins builds the safe-builtins table for one execution. print
// writes to the fragment's captured stdout; key= callables route back
// through the interpreter's call path.
func newBuiltins(in *interp) map[string]*Builtin {
	stdout := in.stdout
	table := map[string]*Builtin{}
	add := func(name string, fn func(args []Value, kwargs map[string]Value) (Value, error)) {
		table[name] = &Builtin{Name: name, Fn: fn}
	}

	add("len", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("len", args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		return valueLen(args[0])
	})

	add("abs", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("abs", args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		switch t := args[0].(type) {
		case int64:
			if t < 0 {
				return -t, nil
			}
			return t, nil
		case float64:
			return math.Abs(t), nil
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return nil, fmt.Errorf("bad operand type for abs(): '%s'", TypeName(args[0]))
	})

	add("min", func(args []Value, kwargs map[string]Value) (Value, error) {
		return in.minMax("min", args, kwargs, func(c int) bool { return c < 0 })
	})
	add("max", func(args []Value, kwargs map[string]Value) (Value, error) {
		return in.minMax("max", args, kwargs, func(c int) bool { return c > 0 })
	})

	add("sum", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("sum", args, kwargs, 1, 2); err != nil {
			return nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		var acc Value = int64(0)
		if len(args) == 2 {
			acc = args[1]
		}
		for _, item := range items {
			acc, err = binOp("+", acc, item)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	})

	add("sorted", func(args []Value, kwargs map[string]Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("sorted() takes exactly one positional argument (%d given)", len(args))
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		keyFn, reverse, err := sortArgs("sorted", kwargs)
		if err != nil {
			return nil, err
		}
		keys, err := in.applyKey(keyFn, items)
		if err != nil {
			return nil, err
		}
		if err := sortValues(items, keys, reverse); err != nil {
			return nil, err
		}
		return &List{Items: items}, nil
	})

	add("range", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("range", args, kwargs, 1, 3); err != nil {
			return nil, err
		}
		nums := make([]int64, len(args))
		for i, a := range args {
			n, ok := asInt(a)
			if !ok {
				return nil, fmt.Errorf("'%s' object cannot be interpreted as an integer", TypeName(a))
			}
			nums[i] = n
		}
		switch len(nums) {
		case 1:
			return &Range{Start: 0, Stop: nums[0], Step: 1}, nil
		case 2:
			return &Range{Start: nums[0], Stop: nums[1], Step: 1}, nil
		default:
			if nums[2] == 0 {
				return nil, fmt.Errorf("range() arg 3 must not be zero")
			}
			return &Range{Start: nums[0], Stop: nums[1], Step: nums[2]}, nil
		}
	})

	add("enumerate", func(args []Value, kwargs map[string]Value) (Value, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("enumerate() takes 1 or 2 arguments (%d given)", len(args))
		}
		start := int64(0)
		if len(args) == 2 {
			n, ok := asInt(args[1])
			if !ok {
				return nil, fmt.Errorf("'%s' object cannot be interpreted as an integer", TypeName(args[1]))
			}
			start = n
		}
		if v, ok := kwargs["start"]; ok {
			n, ok := asInt(v)
			if !ok {
				return nil, fmt.Errorf("'%s' object cannot be interpreted as an integer", TypeName(v))
			}
			start = n
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		out := make([]Value, 0, len(items))
		for i, item := range items {
			out = append(out, Tuple{start + int64(i), item})
		}
		return &List{Items: out}, nil
	})

	add("str", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("str", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return "", nil
		}
		return Str(args[0]), nil
	})

	add("int", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("int", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return int64(0), nil
		}
		switch t := args[0].(type) {
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case int64:
			return t, nil
		case float64:
			return int64(math.Trunc(t)), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid literal for int() with base 10: %s", Repr(t))
			}
			return n, nil
		}
		return nil, fmt.Errorf("int() argument must be a string or a number, not '%s'", TypeName(args[0]))
	})

	add("float", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("float", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return float64(0), nil
		}
		if f, ok := asFloat(args[0]); ok {
			return f, nil
		}
		if s, ok := args[0].(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("could not convert string to float: %s", Repr(s))
			}
			return f, nil
		}
		return nil, fmt.Errorf("float() argument must be a string or a number, not '%s'", TypeName(args[0]))
	})

	add("bool", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("bool", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return false, nil
		}
		return Truthy(args[0]), nil
	})

	add("list", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("list", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return &List{}, nil
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		return &List{Items: items}, nil
	})

	add("tuple", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("tuple", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return Tuple{}, nil
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	})

	add("set", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("set", args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		out := NewSet()
		if len(args) == 1 {
			items, err := iterate(args[0])
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if err := out.Add(item); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	})

	add("dict", func(args []Value, kwargs map[string]Value) (Value, error) {
		if len(args) > 1 {
			return nil, fmt.Errorf("dict() takes at most 1 positional argument (%d given)", len(args))
		}
		out := NewDict()
		if len(args) == 1 {
			if src, ok := args[0].(*Dict); ok {
				for i, k := range src.keys {
					if err := out.SetItem(k, src.vals[i]); err != nil {
						return nil, err
					}
				}
			} else {
				pairs, err := iterate(args[0])
				if err != nil {
					return nil, err
				}
				for _, pair := range pairs {
					kv, err := iterate(pair)
					if err != nil || len(kv) != 2 {
						return nil, fmt.Errorf("dict update sequence elements must be pairs")
					}
					if err := out.SetItem(kv[0], kv[1]); err != nil {
						return nil, err
					}
				}
			}
		}
		names := make([]string, 0, len(kwargs))
		for k := range kwargs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if err := out.SetItem(k, kwargs[k]); err != nil {
				return nil, err
			}
		}
		return out, nil
	})

	add("any", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("any", args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if Truthy(item) {
				return true, nil
			}
		}
		return false, nil
	})

	add("all", func(args []Value, kwargs map[string]Value) (Value, error) {
		if err := arity("all", args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if !Truthy(item) {
				return false, nil
			}
		}
		return true, nil
	})

	add("print", func(args []Value, kwargs map[string]Value) (Value, error) {
		sep := " "
		end := "\n"
		if v, ok := kwargs["sep"]; ok {
			s, ok := v.(string)
			if !ok && v != nil {
				return nil, fmt.Errorf("sep must be None or a string, not %s", TypeName(v))
			}
			if ok {
				sep = s
			}
		}
		if v, ok := kwargs["end"]; ok {
			s, ok := v.(string)
			if !ok && v != nil {
				return nil, fmt.Errorf("end must be None or a string, not %s", TypeName(v))
			}
			if ok {
				end = s
			}
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = Str(a)
		}
		stdout.WriteString(strings.Join(parts, sep))
		stdout.WriteString(end)
		return nil, nil
	})

	return table
}

// SafeBuiltinNames lists the allow-listed builtin call targets.
func SafeBuiltinNames() []string {
	return []string{
		"len", "min", "max", "sum", "sorted", "range", "enumerate",
		"str", "int", "float", "bool", "list", "dict", "set", "tuple",
		"abs", "any", "all", "print",
	}
}

func arity(name string, args []Value, kwargs map[string]Value, lo, hi int) error {
	if len(kwargs) > 0 {
		return fmt.Errorf("%s() takes no keyword arguments", name)
	}
	if len(args) < lo || len(args) > hi {
		return fmt.Errorf("%s() takes %d to %d arguments (%d given)", name, lo, hi, len(args))
	}
	return nil
}

func sortArgs(name string, kwargs map[string]Value) (Value, bool, error) {
	var keyFn Value
	reverse := false
	for k, v := range kwargs {
		switch k {
		case "key":
			keyFn = v
		case "reverse":
			reverse = Truthy(v)
		default:
			return nil, false, fmt.Errorf("%s() got an unexpected keyword argument '%s'", name, k)
		}
	}
	return keyFn, reverse, nil
}

func (in *interp) minMax(name string, args []Value, kwargs map[string]Value, better func(int) bool) (Value, error) {
	var keyFn Value
	var dflt Value
	hasDefault := false
	for k, v := range kwargs {
		switch k {
		case "key":
			keyFn = v
		case "default":
			dflt = v
			hasDefault = true
		default:
			return nil, fmt.Errorf("%s() got an unexpected keyword argument '%s'", name, k)
		}
	}

	var items []Value
	if len(args) == 1 {
		var err error
		items, err = iterate(args[0])
		if err != nil {
			return nil, err
		}
	} else if len(args) > 1 {
		items = args
	} else {
		return nil, fmt.Errorf("%s expected at least 1 argument, got 0", name)
	}
	if len(items) == 0 {
		if hasDefault {
			return dflt, nil
		}
		return nil, fmt.Errorf("%s() arg is an empty sequence", name)
	}

	keys, err := in.applyKey(keyFn, items)
	if err != nil {
		return nil, err
	}
	bestIdx := 0
	for i := 1; i < len(items); i++ {
		a, b := items[i], items[bestIdx]
		if keys != nil {
			a, b = keys[i], keys[bestIdx]
		}
		c, err := valueCompare(a, b)
		if err != nil {
			return nil, err
		}
		if better(c) {
			bestIdx = i
		}
	}
	return items[bestIdx], nil
}

// applyKey maps a key callable over items; a nil key returns nil.
func (in *interp) applyKey(keyFn Value, items []Value) ([]Value, error) {
	if keyFn == nil {
		return nil, nil
	}
	keys := make([]Value, len(items))
	for i, item := range items {
		k, err := in.callValue(keyFn, []Value{item}, nil)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

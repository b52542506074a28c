package sandbox

import (
	"fmt"
	"strings"
)

// SafeMethodNames is the allow-listed method-call surface: container
// and string transformations only.
var SafeMethodNames = map[string]bool{
	// list-like
	"append": true, "extend": true, "insert": true, "pop": true,
	"clear": true, "copy": true, "count": true, "index": true,
	"sort": true, "reverse": true,
	// dict-like
	"get": true, "keys": true, "values": true, "items": true,
	"update": true, "setdefault": true,
	// string-like
	"strip": true, "lstrip": true, "rstrip": true, "split": true,
	"splitlines": true, "join": true, "replace": true, "lower": true,
	"upper": true, "startswith": true, "endswith": true, "format": true,
}

func (in *interp) callMethod(recv Value, name string, args []Value, kwargs map[string]Value) (Value, error) {
	if !SafeMethodNames[name] {
		return nil, fmt.Errorf("method call not allowed: %s", name)
	}
	switch t := recv.(type) {
	case string:
		return in.callStrMethod(t, name, args, kwargs)
	case *List:
		return in.callListMethod(t, name, args, kwargs)
	case Tuple:
		return callTupleMethod(t, name, args, kwargs)
	case *Dict:
		return callDictMethod(t, name, args, kwargs)
	case *Set:
		return callSetMethod(t, name, args, kwargs)
	}
	return nil, fmt.Errorf("'%s' object has no attribute '%s'", TypeName(recv), name)
}

func (in *interp) callStrMethod(s, name string, args []Value, kwargs map[string]Value) (Value, error) {
	if name != "format" && len(kwargs) > 0 {
		return nil, fmt.Errorf("str.%s() takes no keyword arguments", name)
	}
	strArg := func(i int) (string, error) {
		v, ok := args[i].(string)
		if !ok {
			return "", fmt.Errorf("str.%s() argument must be str, not %s", name, TypeName(args[i]))
		}
		return v, nil
	}

	switch name {
	case "strip", "lstrip", "rstrip":
		cutset := ""
		if len(args) > 1 {
			return nil, fmt.Errorf("str.%s() takes at most 1 argument", name)
		}
		if len(args) == 1 && args[0] != nil {
			c, err := strArg(0)
			if err != nil {
				return nil, err
			}
			cutset = c
		}
		switch {
		case cutset == "" && name == "strip":
			return strings.TrimSpace(s), nil
		case cutset == "" && name == "lstrip":
			return strings.TrimLeft(s, " \t\n\r\v\f"), nil
		case cutset == "" && name == "rstrip":
			return strings.TrimRight(s, " \t\n\r\v\f"), nil
		case name == "strip":
			return strings.Trim(s, cutset), nil
		case name == "lstrip":
			return strings.TrimLeft(s, cutset), nil
		default:
			return strings.TrimRight(s, cutset), nil
		}
	case "split":
		maxSplit := int64(-1)
		var sep Value
		if len(args) > 0 {
			sep = args[0]
		}
		if len(args) > 1 {
			n, ok := asInt(args[1])
			if !ok {
				return nil, fmt.Errorf("str.split() maxsplit must be int")
			}
			maxSplit = n
		}
		if len(args) > 2 {
			return nil, fmt.Errorf("str.split() takes at most 2 arguments")
		}
		var parts []string
		if sep == nil {
			parts = strings.Fields(s)
			if maxSplit >= 0 && int64(len(parts)) > maxSplit+1 {
				// Re-split manually to honor maxsplit on whitespace.
				parts = splitWhitespaceN(s, maxSplit)
			}
		} else {
			sepStr, ok := sep.(string)
			if !ok {
				return nil, fmt.Errorf("str.split() separator must be str, not %s", TypeName(sep))
			}
			if sepStr == "" {
				return nil, fmt.Errorf("empty separator")
			}
			if maxSplit < 0 {
				parts = strings.Split(s, sepStr)
			} else {
				parts = strings.SplitN(s, sepStr, int(maxSplit)+1)
			}
		}
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return &List{Items: out}, nil
	case "splitlines":
		if len(args) > 0 {
			return nil, fmt.Errorf("str.splitlines() takes no arguments")
		}
		out := &List{}
		var cur []rune
		runes := []rune(s)
		for i := 0; i < len(runes); i++ {
			switch runes[i] {
			case '\r':
				if i+1 < len(runes) && runes[i+1] == '\n' {
					i++
				}
				out.Items = append(out.Items, string(cur))
				cur = cur[:0]
			case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
				out.Items = append(out.Items, string(cur))
				cur = cur[:0]
			default:
				cur = append(cur, runes[i])
			}
		}
		if len(cur) > 0 {
			out.Items = append(out.Items, string(cur))
		}
		return out, nil
	case "join":
		if len(args) != 1 {
			return nil, fmt.Errorf("str.join() takes exactly one argument")
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(items))
		for i, item := range items {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("sequence item %d: expected str instance, %s found", i, TypeName(item))
			}
			parts[i] = str
		}
		return strings.Join(parts, s), nil
	case "replace":
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("str.replace() takes 2 or 3 arguments")
		}
		oldStr, err := strArg(0)
		if err != nil {
			return nil, err
		}
		newStr, err := strArg(1)
		if err != nil {
			return nil, err
		}
		n := -1
		if len(args) == 3 {
			c, ok := asInt(args[2])
			if !ok {
				return nil, fmt.Errorf("str.replace() count must be int")
			}
			n = int(c)
		}
		return strings.Replace(s, oldStr, newStr, n), nil
	case "lower":
		return strings.ToLower(s), nil
	case "upper":
		return strings.ToUpper(s), nil
	case "startswith", "endswith":
		if len(args) != 1 {
			return nil, fmt.Errorf("str.%s() takes exactly one argument", name)
		}
		match := func(prefix string) bool {
			if name == "startswith" {
				return strings.HasPrefix(s, prefix)
			}
			return strings.HasSuffix(s, prefix)
		}
		switch p := args[0].(type) {
		case string:
			return match(p), nil
		case Tuple:
			for _, item := range p {
				str, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("str.%s() tuple elements must be str", name)
				}
				if match(str) {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, fmt.Errorf("str.%s() argument must be str or tuple of str", name)
	case "format":
		return in.strFormat(s, args, kwargs)
	case "count":
		if len(args) != 1 {
			return nil, fmt.Errorf("str.count() takes exactly one argument")
		}
		sub, err := strArg(0)
		if err != nil {
			return nil, err
		}
		return int64(strings.Count(s, sub)), nil
	case "index":
		if len(args) != 1 {
			return nil, fmt.Errorf("str.index() takes exactly one argument")
		}
		sub, err := strArg(0)
		if err != nil {
			return nil, err
		}
		i := strings.Index(s, sub)
		if i < 0 {
			return nil, fmt.Errorf("substring not found")
		}
		return int64(len([]rune(s[:i]))), nil
	}
	return nil, fmt.Errorf("'str' object has no attribute '%s'", name)
}

// splitWhitespaceN splits on whitespace runs with a maxsplit bound.
func splitWhitespaceN(s string, maxSplit int64) []string {
	var parts []string
	rest := strings.TrimLeft(s, " \t\n\r\v\f")
	for int64(len(parts)) < maxSplit && rest != "" {
		i := strings.IndexAny(rest, " \t\n\r\v\f")
		if i < 0 {
			break
		}
		parts = append(parts, rest[:i])
		rest = strings.TrimLeft(rest[i:], " \t\n\r\v\f")
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// strFormat implements str.format with auto/explicit positional fields
// and named fields.
func (in *interp) strFormat(tmpl string, args []Value, kwargs map[string]Value) (Value, error) {
	var sb strings.Builder
	auto := 0
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '{' {
			if i+1 < len(runes) && runes[i+1] == '{' {
				sb.WriteRune('{')
				i++
				continue
			}
			j := i + 1
			depth := 0
			for j < len(runes) && (runes[j] != '}' || depth > 0) {
				if runes[j] == '{' {
					depth++
				}
				if runes[j] == '}' {
					depth--
				}
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("single '{' encountered in format string")
			}
			field := string(runes[i+1 : j])
			i = j

			name := field
			spec := ""
			conv := byte(0)
			if k := strings.Index(field, ":"); k >= 0 {
				name, spec = field[:k], field[k+1:]
			}
			if strings.HasSuffix(name, "!r") || strings.HasSuffix(name, "!s") || strings.HasSuffix(name, "!a") {
				conv = name[len(name)-1]
				name = name[:len(name)-2]
			}

			var v Value
			switch {
			case name == "":
				if auto >= len(args) {
					return nil, fmt.Errorf("replacement index %d out of range", auto)
				}
				v = args[auto]
				auto++
			case isDigits(name):
				idx := 0
				for _, d := range name {
					idx = idx*10 + int(d-'0')
				}
				if idx >= len(args) {
					return nil, fmt.Errorf("replacement index %d out of range", idx)
				}
				v = args[idx]
			default:
				kv, ok := kwargs[name]
				if !ok {
					return nil, fmt.Errorf("KeyError: %s", Repr(name))
				}
				v = kv
			}
			formatted, err := formatValue(v, spec, conv)
			if err != nil {
				return nil, err
			}
			sb.WriteString(formatted)
			continue
		}
		if c == '}' {
			if i+1 < len(runes) && runes[i+1] == '}' {
				sb.WriteRune('}')
				i++
				continue
			}
			return nil, fmt.Errorf("single '}' encountered in format string")
		}
		sb.WriteRune(c)
	}
	return sb.String(), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (in *interp) callListMethod(l *List, name string, args []Value, kwargs map[string]Value) (Value, error) {
	if name != "sort" && len(kwargs) > 0 {
		return nil, fmt.Errorf("list.%s() takes no keyword arguments", name)
	}
	switch name {
	case "append":
		if len(args) != 1 {
			return nil, fmt.Errorf("list.append() takes exactly one argument")
		}
		l.Items = append(l.Items, args[0])
		return nil, nil
	case "extend":
		if len(args) != 1 {
			return nil, fmt.Errorf("list.extend() takes exactly one argument")
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, items...)
		return nil, nil
	case "insert":
		if len(args) != 2 {
			return nil, fmt.Errorf("list.insert() takes exactly two arguments")
		}
		i, ok := asInt(args[0])
		if !ok {
			return nil, fmt.Errorf("list.insert() index must be int")
		}
		n := int64(len(l.Items))
		if i < 0 {
			i += n
		}
		if i < 0 {
			i = 0
		}
		if i > n {
			i = n
		}
		l.Items = append(l.Items, nil)
		copy(l.Items[i+1:], l.Items[i:])
		l.Items[i] = args[1]
		return nil, nil
	case "pop":
		i := int64(len(l.Items)) - 1
		if len(args) == 1 {
			n, ok := asInt(args[0])
			if !ok {
				return nil, fmt.Errorf("list.pop() index must be int")
			}
			i = n
		} else if len(args) > 1 {
			return nil, fmt.Errorf("list.pop() takes at most 1 argument")
		}
		if i < 0 {
			i += int64(len(l.Items))
		}
		if i < 0 || i >= int64(len(l.Items)) {
			return nil, fmt.Errorf("pop index out of range")
		}
		v := l.Items[i]
		l.Items = append(l.Items[:i], l.Items[i+1:]...)
		return v, nil
	case "clear":
		l.Items = nil
		return nil, nil
	case "copy":
		return &List{Items: append([]Value(nil), l.Items...)}, nil
	case "count":
		if len(args) != 1 {
			return nil, fmt.Errorf("list.count() takes exactly one argument")
		}
		n := int64(0)
		for _, item := range l.Items {
			if valueEqual(item, args[0]) {
				n++
			}
		}
		return n, nil
	case "index":
		if len(args) != 1 {
			return nil, fmt.Errorf("list.index() takes exactly one argument")
		}
		for i, item := range l.Items {
			if valueEqual(item, args[0]) {
				return int64(i), nil
			}
		}
		return nil, fmt.Errorf("%s is not in list", Repr(args[0]))
	case "sort":
		if len(args) > 0 {
			return nil, fmt.Errorf("list.sort() takes no positional arguments")
		}
		keyFn, reverse, err := sortArgs("sort", kwargs)
		if err != nil {
			return nil, err
		}
		keys, err := in.applyKey(keyFn, l.Items)
		if err != nil {
			return nil, err
		}
		if err := sortValues(l.Items, keys, reverse); err != nil {
			return nil, err
		}
		return nil, nil
	case "reverse":
		for i, j := 0, len(l.Items)-1; i < j; i, j = i+1, j-1 {
			l.Items[i], l.Items[j] = l.Items[j], l.Items[i]
		}
		return nil, nil
	}
	return nil, fmt.Errorf("'list' object has no attribute '%s'", name)
}

func callTupleMethod(t Tuple, name string, args []Value, kwargs map[string]Value) (Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("tuple.%s() takes no keyword arguments", name)
	}
	switch name {
	case "count":
		if len(args) != 1 {
			return nil, fmt.Errorf("tuple.count() takes exactly one argument")
		}
		n := int64(0)
		for _, item := range t {
			if valueEqual(item, args[0]) {
				n++
			}
		}
		return n, nil
	case "index":
		if len(args) != 1 {
			return nil, fmt.Errorf("tuple.index() takes exactly one argument")
		}
		for i, item := range t {
			if valueEqual(item, args[0]) {
				return int64(i), nil
			}
		}
		return nil, fmt.Errorf("tuple.index(x): x not in tuple")
	}
	return nil, fmt.Errorf("'tuple' object has no attribute '%s'", name)
}

func callDictMethod(d *Dict, name string, args []Value, kwargs map[string]Value) (Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("dict.%s() takes no keyword arguments", name)
	}
	switch name {
	case "get":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("dict.get() takes 1 or 2 arguments")
		}
		v, found, err := d.GetItem(args[0])
		if err != nil {
			return nil, err
		}
		if found {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil
	case "keys":
		return &List{Items: d.Keys()}, nil
	case "values":
		return &List{Items: d.Values()}, nil
	case "items":
		keys := d.Keys()
		vals := d.Values()
		out := make([]Value, len(keys))
		for i := range keys {
			out[i] = Tuple{keys[i], vals[i]}
		}
		return &List{Items: out}, nil
	case "update":
		if len(args) != 1 {
			return nil, fmt.Errorf("dict.update() takes exactly one argument")
		}
		if src, ok := args[0].(*Dict); ok {
			for i, k := range src.keys {
				if err := d.SetItem(k, src.vals[i]); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}
		pairs, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			kv, err := iterate(pair)
			if err != nil || len(kv) != 2 {
				return nil, fmt.Errorf("dict update sequence elements must be pairs")
			}
			if err := d.SetItem(kv[0], kv[1]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "setdefault":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("dict.setdefault() takes 1 or 2 arguments")
		}
		v, found, err := d.GetItem(args[0])
		if err != nil {
			return nil, err
		}
		if found {
			return v, nil
		}
		var dflt Value
		if len(args) == 2 {
			dflt = args[1]
		}
		if err := d.SetItem(args[0], dflt); err != nil {
			return nil, err
		}
		return dflt, nil
	case "pop":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("dict.pop() takes 1 or 2 arguments")
		}
		v, found, err := d.Pop(args[0])
		if err != nil {
			return nil, err
		}
		if found {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, fmt.Errorf("KeyError: %s", Repr(args[0]))
	case "clear":
		d.Clear()
		return nil, nil
	case "copy":
		out := NewDict()
		for i, k := range d.keys {
			if err := out.SetItem(k, d.vals[i]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("'dict' object has no attribute '%s'", name)
}

func callSetMethod(s *Set, name string, args []Value, kwargs map[string]Value) (Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("set.%s() takes no keyword arguments", name)
	}
	switch name {
	case "copy":
		out := NewSet()
		for _, item := range s.items {
			if err := out.Add(item); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "clear":
		s.items = nil
		s.index = make(map[string]struct{})
		return nil, nil
	case "update":
		if len(args) != 1 {
			return nil, fmt.Errorf("set.update() takes exactly one argument")
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if err := s.Add(item); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "pop":
		if len(s.items) == 0 {
			return nil, fmt.Errorf("pop from an empty set")
		}
		v := s.items[0]
		h, _ := hashKey(v)
		delete(s.index, h)
		s.items = s.items[1:]
		return v, nil
	}
	return nil, fmt.Errorf("'set' object has no attribute '%s'", name)
}

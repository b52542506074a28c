package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// formatValue renders one replacement field: conversion first, then a
// format-spec subset (fill/align, sign, zero pad, width, precision, and
// the d/f/e/g/s/% presentation types).
func formatValue(v Value, spec string, conv byte) (string, error) {
	switch conv {
	case 'r', 'a':
		v = Repr(v)
	case 's':
		v = Str(v)
	}
	if spec == "" {
		return Str(v), nil
	}

	fill := ' '
	align := byte(0)
	sign := byte(0)
	zero := false
	width := 0
	precision := -1
	verb := byte(0)

	rest := spec
	if len(rest) >= 2 {
		switch rest[1] {
		case '<', '>', '^':
			fill = rune(rest[0])
			align = rest[1]
			rest = rest[2:]
		}
	}
	if align == 0 && len(rest) >= 1 {
		switch rest[0] {
		case '<', '>', '^':
			align = rest[0]
			rest = rest[1:]
		}
	}
	if len(rest) >= 1 {
		switch rest[0] {
		case '+', '-', ' ':
			sign = rest[0]
			rest = rest[1:]
		}
	}
	if len(rest) >= 1 && rest[0] == '0' {
		zero = true
		rest = rest[1:]
	}
	for len(rest) >= 1 && rest[0] >= '0' && rest[0] <= '9' {
		width = width*10 + int(rest[0]-'0')
		rest = rest[1:]
	}
	if len(rest) >= 1 && rest[0] == ',' {
		// Grouping is accepted and ignored.
		rest = rest[1:]
	}
	if len(rest) >= 2 && rest[0] == '.' {
		rest = rest[1:]
		precision = 0
		for len(rest) >= 1 && rest[0] >= '0' && rest[0] <= '9' {
			precision = precision*10 + int(rest[0]-'0')
			rest = rest[1:]
		}
	}
	if len(rest) == 1 {
		verb = rest[0]
		rest = ""
	}
	if rest != "" {
		return "", fmt.Errorf("invalid format spec %q", spec)
	}

	var body string
	negative := false
	switch verb {
	case 'd':
		n, ok := asInt(v)
		if !ok {
			return "", fmt.Errorf("unknown format code 'd' for object of type '%s'", TypeName(v))
		}
		if n < 0 {
			negative = true
			n = -n
		}
		body = strconv.FormatInt(n, 10)
	case 'f', 'F':
		f, ok := asFloat(v)
		if !ok {
			return "", fmt.Errorf("unknown format code 'f' for object of type '%s'", TypeName(v))
		}
		if f < 0 {
			negative = true
			f = -f
		}
		p := precision
		if p < 0 {
			p = 6
		}
		body = strconv.FormatFloat(f, 'f', p, 64)
	case 'e', 'E', 'g', 'G':
		f, ok := asFloat(v)
		if !ok {
			return "", fmt.Errorf("unknown format code %q for object of type '%s'", string(verb), TypeName(v))
		}
		if f < 0 {
			negative = true
			f = -f
		}
		p := precision
		if p < 0 {
			p = 6
		}
		body = strconv.FormatFloat(f, verb, p, 64)
	case '%':
		f, ok := asFloat(v)
		if !ok {
			return "", fmt.Errorf("unknown format code '%%' for object of type '%s'", TypeName(v))
		}
		f *= 100
		if f < 0 {
			negative = true
			f = -f
		}
		p := precision
		if p < 0 {
			p = 6
		}
		body = strconv.FormatFloat(f, 'f', p, 64) + "%"
	case 's', 0:
		if verb == 0 {
			if f, ok := v.(float64); ok && precision >= 0 {
				if f < 0 {
					negative = true
					f = -f
				}
				body = strconv.FormatFloat(f, 'f', precision, 64)
				break
			}
			if n, ok := v.(int64); ok {
				if n < 0 {
					negative = true
					n = -n
				}
				body = strconv.FormatInt(n, 10)
				break
			}
		}
		body = Str(v)
		if precision >= 0 && precision < len([]rune(body)) {
			body = string([]rune(body)[:precision])
		}
	default:
		return "", fmt.Errorf("unknown format code %q", string(verb))
	}

	signStr := ""
	if negative {
		signStr = "-"
	} else {
		switch sign {
		case '+':
			signStr = "+"
		case ' ':
			signStr = " "
		}
	}
	if _, isStr := v.(string); isStr {
		signStr = ""
	}

	out := signStr + body
	pad := width - len([]rune(out))
	if pad <= 0 {
		return out, nil
	}

	if zero && align == 0 {
		return signStr + strings.Repeat("0", pad) + body, nil
	}
	filler := strings.Repeat(string(fill), pad)
	switch align {
	case '<':
		return out + filler, nil
	case '^':
		left := pad / 2
		return strings.Repeat(string(fill), left) + out + strings.Repeat(string(fill), pad-left), nil
	case '>':
		return filler + out, nil
	default:
		// Numbers right-align by default, strings left-align.
		if _, ok := asFloat(v); ok {
			return filler + out, nil
		}
		return out + filler, nil
	}
}

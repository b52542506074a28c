package pyscript

import (
	"strconv"
	"strings"
)

type lexer struct {
	src    []rune
	pos    int
	line   int
	col    int
	depth  int // open bracket depth; newlines are joined while > 0
	tokens []Token
	indent []int
}

// tokenize converts source text into a token stream with synthetic
// NEWLINE/INDENT/DEDENT tokens, Python style.
func tokenize(src string) ([]Token, error) {
	lx := &lexer{
		src:    []rune(strings.ReplaceAll(strings.ReplaceAll(src, "\r\n", "\n"), "\r", "\n")),
		line:   1,
		col:    0,
		indent: []int{0},
	}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.tokens, nil
}

func (lx *lexer) run() error {
	atLineStart := true
	lastWasNewline := true

	for {
		if atLineStart && lx.depth == 0 {
			blank, err := lx.handleIndent()
			if err != nil {
				return err
			}
			if blank {
				continue
			}
			atLineStart = false
		}

		c, ok := lx.peek()
		if !ok {
			break
		}

		switch {
		case c == '\n':
			lx.next()
			if lx.depth == 0 {
				if !lastWasNewline {
					lx.emit(Token{Kind: TokNewline, Line: lx.line - 1})
					lastWasNewline = true
				}
				atLineStart = true
			}
			continue
		case c == '#':
			for {
				c, ok := lx.peek()
				if !ok || c == '\n' {
					break
				}
				lx.next()
			}
			continue
		case c == ' ' || c == '\t':
			lx.next()
			continue
		case c == '\\':
			// Explicit line join.
			if n, ok := lx.peekAt(1); ok && n == '\n' {
				lx.next()
				lx.next()
				continue
			}
			return syntaxErrf(lx.line, lx.col, "unexpected character %q", c)
		}

		if err := lx.scanToken(); err != nil {
			return err
		}
		lastWasNewline = false
	}

	if !lastWasNewline {
		lx.emit(Token{Kind: TokNewline, Line: lx.line})
	}
	for len(lx.indent) > 1 {
		lx.indent = lx.indent[:len(lx.indent)-1]
		lx.emit(Token{Kind: TokDedent, Line: lx.line})
	}
	lx.emit(Token{Kind: TokEOF, Line: lx.line})
	return nil
}

// handleIndent measures leading whitespace at a logical line start and
// emits INDENT/DEDENT tokens. Returns true when the line is blank or
// comment-only (consumed entirely).
func (lx *lexer) handleIndent() (bool, error) {
	width := 0
	for {
		c, ok := lx.peek()
		if !ok {
			return false, nil
		}
		if c == ' ' {
			width++
			lx.next()
		} else if c == '\t' {
			width = (width/8 + 1) * 8
			lx.next()
		} else {
			break
		}
	}

	c, ok := lx.peek()
	if !ok {
		return false, nil
	}
	if c == '\n' {
		lx.next()
		return true, nil
	}
	if c == '#' {
		for {
			c, ok := lx.peek()
			if !ok {
				return true, nil
			}
			lx.next()
			if c == '\n' {
				return true, nil
			}
		}
	}

	top := lx.indent[len(lx.indent)-1]
	switch {
	case width > top:
		lx.indent = append(lx.indent, width)
		lx.emit(Token{Kind: TokIndent, Line: lx.line})
	case width < top:
		for len(lx.indent) > 1 && lx.indent[len(lx.indent)-1] > width {
			lx.indent = lx.indent[:len(lx.indent)-1]
			lx.emit(Token{Kind: TokDedent, Line: lx.line})
		}
		if lx.indent[len(lx.indent)-1] != width {
			return false, syntaxErrf(lx.line, lx.col, "unindent does not match any outer indentation level")
		}
	}
	return false, nil
}

func (lx *lexer) scanToken() error {
	c, _ := lx.peek()
	startLine, startCol := lx.line, lx.col

	switch {
	case isNameStart(c):
		name := lx.scanName()
		// String prefix?
		if q, ok := lx.peek(); ok && (q == '\'' || q == '"') && isStringPrefix(name) {
			return lx.scanPrefixedString(name, startLine, startCol)
		}
		lx.emit(Token{Kind: TokName, Lit: name, Line: startLine, Col: startCol})
		return nil
	case c >= '0' && c <= '9':
		return lx.scanNumber(startLine, startCol)
	case c == '.':
		if n, ok := lx.peekAt(1); ok && n >= '0' && n <= '9' {
			return lx.scanNumber(startLine, startCol)
		}
		lx.next()
		lx.emit(Token{Kind: TokOp, Lit: ".", Line: startLine, Col: startCol})
		return nil
	case c == '\'' || c == '"':
		value, err := lx.scanString(false)
		if err != nil {
			return err
		}
		lx.emit(Token{Kind: TokString, Lit: value, Line: startLine, Col: startCol})
		return nil
	}

	// Operators and delimiters, longest match first.
	for _, op := range operatorTable {
		if lx.match(op) {
			switch op {
			case "(", "[", "{":
				lx.depth++
			case ")", "]", "}":
				if lx.depth > 0 {
					lx.depth--
				}
			}
			lx.emit(Token{Kind: TokOp, Lit: op, Line: startLine, Col: startCol})
			return nil
		}
	}
	return syntaxErrf(startLine, startCol, "unexpected character %q", c)
}

var operatorTable = []string{
	"**=", "//=", "<<=", ">>=",
	"**", "//", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=", "<<", ">>", "->", ":=",
	"+", "-", "*", "/", "%", "<", ">", "=", "(", ")", "[", "]", "{", "}",
	",", ":", ".", ";", "&", "|", "^", "~", "@",
}

func (lx *lexer) scanName() string {
	start := lx.pos
	for {
		c, ok := lx.peek()
		if !ok || !isNameCont(c) {
			break
		}
		lx.next()
	}
	return string(lx.src[start:lx.pos])
}

func (lx *lexer) scanNumber(line, col int) error {
	start := lx.pos

	if c, _ := lx.peek(); c == '0' {
		if n, ok := lx.peekAt(1); ok && (n == 'x' || n == 'X' || n == 'o' || n == 'O' || n == 'b' || n == 'B') {
			lx.next()
			lx.next()
			for {
				c, ok := lx.peek()
				if !ok || !(isNameCont(c)) {
					break
				}
				lx.next()
			}
			text := strings.ReplaceAll(string(lx.src[start:lx.pos]), "_", "")
			v, err := strconv.ParseInt(text, 0, 64)
			if err != nil {
				return syntaxErrf(line, col, "invalid number literal %q", text)
			}
			lx.emit(Token{Kind: TokInt, Int: v, Line: line, Col: col})
			return nil
		}
	}

	isFloat := false
	digits := func() {
		for {
			c, ok := lx.peek()
			if !ok || !(c >= '0' && c <= '9' || c == '_') {
				break
			}
			lx.next()
		}
	}
	digits()
	if c, ok := lx.peek(); ok && c == '.' {
		// Not a float when this is attribute access on an int result;
		// the grammar forbids that anyway, so dot-digit wins.
		isFloat = true
		lx.next()
		digits()
	}
	if c, ok := lx.peek(); ok && (c == 'e' || c == 'E') {
		if n, ok := lx.peekAt(1); ok && (n == '+' || n == '-' || n >= '0' && n <= '9') {
			isFloat = true
			lx.next()
			if c, ok := lx.peek(); ok && (c == '+' || c == '-') {
				lx.next()
			}
			digits()
		}
	}

	text := strings.ReplaceAll(string(lx.src[start:lx.pos]), "_", "")
	if isFloat {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return syntaxErrf(line, col, "invalid number literal %q", text)
		}
		lx.emit(Token{Kind: TokFloat, Float: v, Line: line, Col: col})
		return nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return syntaxErrf(line, col, "invalid number literal %q", text)
	}
	lx.emit(Token{Kind: TokInt, Int: v, Line: line, Col: col})
	return nil
}

func isStringPrefix(name string) bool {
	if len(name) > 2 {
		return false
	}
	seenF, seenR := false, false
	for _, c := range strings.ToLower(name) {
		switch c {
		case 'f':
			if seenF {
				return false
			}
			seenF = true
		case 'r':
			if seenR {
				return false
			}
			seenR = true
		default:
			return false
		}
	}
	return true
}

func (lx *lexer) scanPrefixedString(prefix string, line, col int) error {
	lower := strings.ToLower(prefix)
	raw := strings.Contains(lower, "r")
	formatted := strings.Contains(lower, "f")

	if formatted {
		parts, err := lx.scanFString(raw)
		if err != nil {
			return err
		}
		lx.emit(Token{Kind: TokFString, FParts: parts, Line: line, Col: col})
		return nil
	}
	value, err := lx.scanString(raw)
	if err != nil {
		return err
	}
	lx.emit(Token{Kind: TokString, Lit: value, Line: line, Col: col})
	return nil
}

// scanString consumes a quoted string (single or triple) and returns
// its processed value.
func (lx *lexer) scanString(raw bool) (string, error) {
	quote, _ := lx.peek()
	startLine := lx.line
	lx.next()

	triple := false
	if a, ok := lx.peekAt(0); ok && a == quote {
		if b, ok := lx.peekAt(1); ok && b == quote {
			triple = true
			lx.next()
			lx.next()
		} else {
			lx.next() // empty string
			return "", nil
		}
	}

	var sb strings.Builder
	for {
		c, ok := lx.peek()
		if !ok {
			return "", syntaxErrf(startLine, 0, "unterminated string literal")
		}
		if !triple && c == '\n' {
			return "", syntaxErrf(startLine, 0, "unterminated string literal")
		}
		if c == quote {
			if !triple {
				lx.next()
				return sb.String(), nil
			}
			if b, ok := lx.peekAt(1); ok && b == quote {
				if d, ok := lx.peekAt(2); ok && d == quote {
					lx.next()
					lx.next()
					lx.next()
					return sb.String(), nil
				}
			}
			sb.WriteRune(c)
			lx.next()
			continue
		}
		if c == '\\' && !raw {
			lx.next()
			e, ok := lx.peek()
			if !ok {
				return "", syntaxErrf(startLine, 0, "unterminated string literal")
			}
			lx.next()
			sb.WriteString(unescape(e))
			continue
		}
		sb.WriteRune(c)
		lx.next()
	}
}

func unescape(c rune) string {
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '\\':
		return "\\"
	case '\'':
		return "'"
	case '"':
		return "\""
	case '0':
		return "\x00"
	case '\n':
		return ""
	default:
		return "\\" + string(c)
	}
}

// scanFString consumes an f-string and splits it into literal and
// expression parts. Nested replacement fields inside format specs are
// not supported.
func (lx *lexer) scanFString(raw bool) ([]FPart, error) {
	quote, _ := lx.peek()
	startLine := lx.line
	lx.next()

	triple := false
	if a, ok := lx.peekAt(0); ok && a == quote {
		if b, ok := lx.peekAt(1); ok && b == quote {
			triple = true
			lx.next()
			lx.next()
		} else {
			lx.next()
			return nil, nil
		}
	}

	var parts []FPart
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			parts = append(parts, FPart{Literal: lit.String(), Line: lx.line})
			lit.Reset()
		}
	}

	for {
		c, ok := lx.peek()
		if !ok {
			return nil, syntaxErrf(startLine, 0, "unterminated f-string literal")
		}
		if !triple && c == '\n' {
			return nil, syntaxErrf(startLine, 0, "unterminated f-string literal")
		}
		if c == quote {
			if !triple {
				lx.next()
				flushLit()
				return parts, nil
			}
			if b, ok := lx.peekAt(1); ok && b == quote {
				if d, ok := lx.peekAt(2); ok && d == quote {
					lx.next()
					lx.next()
					lx.next()
					flushLit()
					return parts, nil
				}
			}
			lit.WriteRune(c)
			lx.next()
			continue
		}
		if c == '{' {
			if b, ok := lx.peekAt(1); ok && b == '{' {
				lit.WriteRune('{')
				lx.next()
				lx.next()
				continue
			}
			lx.next()
			flushLit()
			part, err := lx.scanFExpr(startLine)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			continue
		}
		if c == '}' {
			if b, ok := lx.peekAt(1); ok && b == '}' {
				lit.WriteRune('}')
				lx.next()
				lx.next()
				continue
			}
			return nil, syntaxErrf(lx.line, lx.col, "single '}' is not allowed in f-string")
		}
		if c == '\\' && !raw {
			lx.next()
			e, ok := lx.peek()
			if !ok {
				return nil, syntaxErrf(startLine, 0, "unterminated f-string literal")
			}
			lx.next()
			lit.WriteString(unescape(e))
			continue
		}
		lit.WriteRune(c)
		lx.next()
	}
}

// scanFExpr reads one replacement field body (after '{') through its
// closing '}'.
func (lx *lexer) scanFExpr(startLine int) (FPart, error) {
	part := FPart{IsExpr: true, Line: lx.line, Col: lx.col}
	var expr strings.Builder
	depth := 0

	for {
		c, ok := lx.peek()
		if !ok {
			return part, syntaxErrf(startLine, 0, "unterminated f-string expression")
		}
		switch {
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == '}':
			if depth == 0 {
				lx.next()
				part.Expr = strings.TrimSpace(expr.String())
				if part.Expr == "" {
					return part, syntaxErrf(lx.line, lx.col, "empty expression in f-string")
				}
				return part, nil
			}
			depth--
		case c == '\'' || c == '"':
			// Nested string literal: copy through verbatim.
			quote := c
			expr.WriteRune(c)
			lx.next()
			for {
				s, ok := lx.peek()
				if !ok {
					return part, syntaxErrf(startLine, 0, "unterminated f-string expression")
				}
				expr.WriteRune(s)
				lx.next()
				if s == quote {
					break
				}
			}
			continue
		case c == '!' && depth == 0:
			if n, ok := lx.peekAt(1); ok && (n == 'r' || n == 's' || n == 'a') {
				if after, ok := lx.peekAt(2); ok && (after == '}' || after == ':') {
					lx.next()
					lx.next()
					part.Conv = byte(n)
					continue
				}
			}
		case c == ':' && depth == 0:
			lx.next()
			var spec strings.Builder
			for {
				s, ok := lx.peek()
				if !ok {
					return part, syntaxErrf(startLine, 0, "unterminated f-string expression")
				}
				if s == '}' {
					lx.next()
					part.Expr = strings.TrimSpace(expr.String())
					part.Spec = spec.String()
					if part.Expr == "" {
						return part, syntaxErrf(lx.line, lx.col, "empty expression in f-string")
					}
					return part, nil
				}
				if s == '{' {
					return part, syntaxErrf(lx.line, lx.col, "nested replacement fields in format specs are not supported")
				}
				spec.WriteRune(s)
				lx.next()
			}
		}
		expr.WriteRune(c)
		lx.next()
	}
}

func (lx *lexer) peek() (rune, bool) {
	return lx.peekAt(0)
}

func (lx *lexer) peekAt(offset int) (rune, bool) {
	if lx.pos+offset >= len(lx.src) {
		return 0, false
	}
	return lx.src[lx.pos+offset], true
}

func (lx *lexer) next() rune {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 0
	} else {
		lx.col++
	}
	return c
}

func (lx *lexer) match(op string) bool {
	for i, r := range op {
		c, ok := lx.peekAt(i)
		if !ok || c != r {
			return false
		}
	}
	for range op {
		lx.next()
	}
	return true
}

func (lx *lexer) emit(tok Token) {
	lx.tokens = append(lx.tokens, tok)
}

func isNameStart(c rune) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c > 127
}

func isNameCont(c rune) bool {
	return isNameStart(c) || c >= '0' && c <= '9'
}

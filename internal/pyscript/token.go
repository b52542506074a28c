package pyscript

import "fmt"

// TokenKind enumerates lexer token classes.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNewline
	TokIndent
	TokDedent
	TokName
	TokInt
	TokFloat
	TokString
	TokFString
	TokOp
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "EOF"
	case TokNewline:
		return "NEWLINE"
	case TokIndent:
		return "INDENT"
	case TokDedent:
		return "DEDENT"
	case TokName:
		return "NAME"
	case TokInt:
		return "INT"
	case TokFloat:
		return "FLOAT"
	case TokString:
		return "STRING"
	case TokFString:
		return "FSTRING"
	case TokOp:
		return "OP"
	}
	return "UNKNOWN"
}

// FPart is one segment of an f-string: either a literal run or an
// embedded expression with optional conversion and format spec.
type FPart struct {
	Literal string
	Expr    string
	Spec    string
	Conv    byte // 'r', 's', 'a', or 0
	IsExpr  bool
	Line    int
	Col     int
}

// Token is a single lexical unit.
type Token struct {
	Kind   TokenKind
	Lit    string
	Int    int64
	Float  float64
	FParts []FPart
	Line   int
	Col    int
}

func (t Token) describe() string {
	switch t.Kind {
	case TokName, TokOp:
		return fmt.Sprintf("%q", t.Lit)
	case TokEOF:
		return "end of input"
	default:
		return t.Kind.String()
	}
}

// Python hard keywords the restricted grammar understands. Everything
// else that is a Python keyword maps to an unsupported node type.
var keywords = map[string]bool{
	"def": true, "return": true, "if": true, "elif": true, "else": true,
	"for": true, "while": true, "break": true, "continue": true,
	"pass": true, "in": true, "is": true, "not": true, "and": true,
	"or": true, "None": true, "True": true, "False": true,
}

// disallowedKeywords maps rejected statement keywords to the Python AST
// node name reported in the violation message.
var disallowedKeywords = map[string]string{
	"import":   "Import",
	"from":     "ImportFrom",
	"with":     "With",
	"class":    "ClassDef",
	"lambda":   "Lambda",
	"global":   "Global",
	"nonlocal": "Nonlocal",
	"del":      "Delete",
	"try":      "Try",
	"except":   "Try",
	"finally":  "Try",
	"raise":    "Raise",
	"assert":   "Assert",
	"async":    "AsyncFunctionDef",
	"await":    "Await",
	"yield":    "Yield",
}

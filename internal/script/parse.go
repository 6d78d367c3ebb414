// Package script parses the restricted call language that candidate scripts
// are written in:
//
//	stmt    := call | ident ("=" | ":=") call
//	call    := ident "(" [args] ")"
//	args    := arg {"," arg} {"," keyword} | keyword {"," keyword}
//	keyword := ident "=" arg
//	arg     := string | number | "-" number | true | false | nil | ident
//
// Statements are separated by newlines or semicolons. Python spellings
// True, False and None are accepted, as are single-quoted strings and
// comments starting with "#". Anything else (selectors, indexing,
// operators, nested calls, closures, control flow) is a SyntaxError.
package script

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"slices"
	"strconv"
	"strings"
)

// wrapper lines added in front of the source; positions are shifted back.
const (
	header      = "package p\nfunc _() {\n"
	headerLines = 2
)

// Arg is a call argument: a literal value or a reference to a local
// assigned by an earlier statement.
type Arg struct {
	Value any
	Ref   string
}

// IsRef reports whether the argument names a local.
func (a Arg) IsRef() bool { return a.Ref != "" }

func (a Arg) String() string {
	if a.IsRef() {
		return a.Ref
	}
	if s, ok := a.Value.(string); ok {
		return strconv.Quote(s)
	}
	if a.Value == nil {
		return "nil"
	}
	return fmt.Sprint(a.Value)
}

// Keyword is an argument passed by parameter name.
type Keyword struct {
	Name string
	Arg
}

func (k Keyword) String() string { return k.Name + "=" + k.Arg.String() }

// Statement is one tool call, optionally assigned to a local.
type Statement struct {
	Target   string // "" when the result is discarded
	Tool     string
	Args     []Arg
	Keywords []Keyword
	Line     int
	Col      int
}

func (s Statement) String() string {
	parts := make([]string, 0, len(s.Args)+len(s.Keywords))
	for _, a := range s.Args {
		parts = append(parts, a.String())
	}
	for _, k := range s.Keywords {
		parts = append(parts, k.String())
	}
	call := s.Tool + "(" + strings.Join(parts, ", ") + ")"
	if s.Target != "" {
		return s.Target + " = " + call
	}
	return call
}

// Script is a parsed candidate.
type Script struct {
	Statements []Statement
}

// Tools returns the distinct tool names called, in first-use order.
func (s *Script) Tools() []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range s.Statements {
		if !seen[st.Tool] {
			seen[st.Tool] = true
			out = append(out, st.Tool)
		}
	}
	return out
}

// SyntaxError reports where the source leaves the grammar.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parse checks src against the grammar and returns its statements.
func Parse(src string) (*Script, error) {
	src = normalizeQuotes(hashComments(src))
	src, keywordOps := markKeywords(src)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", header+src+"\n}", 0)
	if err != nil {
		return nil, fromParseError(err)
	}

	if len(file.Decls) != 1 {
		return nil, &SyntaxError{Line: 1, Col: 1, Msg: "unbalanced braces"}
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok || fn.Name.Name != "_" || fn.Body == nil {
		return nil, &SyntaxError{Line: 1, Col: 1, Msg: "unbalanced braces"}
	}

	base := fset.File(file.Package).Base() + len(header)
	p := &walker{fset: fset, keywordOps: make(map[token.Pos]bool, len(keywordOps))}
	for _, off := range keywordOps {
		p.keywordOps[token.Pos(base+off)] = true
	}
	out := &Script{}
	for _, stmt := range fn.Body.List {
		st, err := p.statement(stmt)
		if err != nil {
			return nil, err
		}
		out.Statements = append(out.Statements, st)
	}
	if len(out.Statements) == 0 {
		return nil, &SyntaxError{Line: 1, Col: 1, Msg: "no statements"}
	}
	return out, nil
}

func fromParseError(err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &SyntaxError{Line: max(first.Pos.Line-headerLines, 1), Col: first.Pos.Column, Msg: first.Msg}
	}
	return &SyntaxError{Line: 1, Col: 1, Msg: err.Error()}
}

type walker struct {
	fset *token.FileSet
	// positions of the operators markKeywords substituted for "name="
	keywordOps map[token.Pos]bool
}

func (w *walker) errorf(n ast.Node, format string, args ...any) *SyntaxError {
	pos := w.fset.Position(n.Pos())
	return &SyntaxError{Line: max(pos.Line-headerLines, 1), Col: pos.Column, Msg: fmt.Sprintf(format, args...)}
}

func (w *walker) statement(stmt ast.Stmt) (Statement, error) {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		call, ok := s.X.(*ast.CallExpr)
		if !ok {
			return Statement{}, w.errorf(s, "expression is not a tool call")
		}
		return w.call(call, "")

	case *ast.AssignStmt:
		if s.Tok != token.ASSIGN && s.Tok != token.DEFINE {
			return Statement{}, w.errorf(s, "operator %s not allowed", s.Tok)
		}
		if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
			return Statement{}, w.errorf(s, "multiple assignment not allowed")
		}
		target, ok := s.Lhs[0].(*ast.Ident)
		if !ok {
			return Statement{}, w.errorf(s.Lhs[0], "can only assign to a plain name")
		}
		call, ok := s.Rhs[0].(*ast.CallExpr)
		if !ok {
			return Statement{}, w.errorf(s.Rhs[0], "right-hand side must be a tool call")
		}
		name := target.Name
		if name == "_" {
			name = ""
		}
		return w.call(call, name)

	case *ast.EmptyStmt:
		return Statement{}, w.errorf(s, "empty statement")

	default:
		return Statement{}, w.errorf(stmt, "%s not allowed", nodeName(stmt))
	}
}

func (w *walker) call(call *ast.CallExpr, target string) (Statement, error) {
	fn, ok := call.Fun.(*ast.Ident)
	if !ok {
		return Statement{}, w.errorf(call.Fun, "callee must be a tool name, found %s", nodeName(call.Fun))
	}
	if call.Ellipsis.IsValid() {
		return Statement{}, w.errorf(call, "variadic call not allowed")
	}

	pos := w.fset.Position(call.Pos())
	st := Statement{
		Target: target,
		Tool:   fn.Name,
		Line:   max(pos.Line-headerLines, 1),
		Col:    pos.Column,
	}
	for _, a := range call.Args {
		if kw, ok := w.keyword(a); ok {
			arg, err := w.arg(kw.Y)
			if err != nil {
				return Statement{}, err
			}
			name := kw.X.(*ast.Ident).Name
			if slices.ContainsFunc(st.Keywords, func(k Keyword) bool { return k.Name == name }) {
				return Statement{}, w.errorf(kw.X, "keyword argument %s repeated", name)
			}
			st.Keywords = append(st.Keywords, Keyword{Name: name, Arg: arg})
			continue
		}
		if len(st.Keywords) > 0 {
			return Statement{}, w.errorf(a, "positional argument follows keyword argument")
		}
		arg, err := w.arg(a)
		if err != nil {
			return Statement{}, err
		}
		st.Args = append(st.Args, arg)
	}
	return st, nil
}

// keyword reports whether e is a "name=value" argument rewritten by
// markKeywords. A comparison written in the source is not.
func (w *walker) keyword(e ast.Expr) (*ast.BinaryExpr, bool) {
	b, ok := e.(*ast.BinaryExpr)
	if !ok || b.Op != keywordOp || !w.keywordOps[b.OpPos] {
		return nil, false
	}
	if _, ok := b.X.(*ast.Ident); !ok {
		return nil, false
	}
	return b, true
}

func (w *walker) arg(e ast.Expr) (Arg, error) {
	switch x := e.(type) {
	case *ast.BasicLit:
		v, err := w.literal(x, false)
		return Arg{Value: v}, err

	case *ast.UnaryExpr:
		lit, ok := x.X.(*ast.BasicLit)
		if !ok || (x.Op != token.SUB && x.Op != token.ADD) || (lit.Kind != token.INT && lit.Kind != token.FLOAT) {
			return Arg{}, w.errorf(x, "operator %s not allowed", x.Op)
		}
		v, err := w.literal(lit, x.Op == token.SUB)
		return Arg{Value: v}, err

	case *ast.Ident:
		switch x.Name {
		case "true", "True":
			return Arg{Value: true}, nil
		case "false", "False":
			return Arg{Value: false}, nil
		case "nil", "None":
			return Arg{Value: nil}, nil
		case "_":
			return Arg{}, w.errorf(x, "cannot use _ as a value")
		}
		return Arg{Ref: x.Name}, nil

	case *ast.CallExpr:
		return Arg{}, w.errorf(x, "nested calls not allowed; assign the inner call to a name first")

	default:
		return Arg{}, w.errorf(e, "%s not allowed as an argument", nodeName(e))
	}
}

func (w *walker) literal(lit *ast.BasicLit, negate bool) (any, error) {
	switch lit.Kind {
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, w.errorf(lit, "invalid string literal")
		}
		return s, nil
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return nil, w.errorf(lit, "integer out of range")
		}
		if negate {
			n = -n
		}
		return int(n), nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, w.errorf(lit, "invalid number")
		}
		if negate {
			f = -f
		}
		return f, nil
	default:
		return nil, w.errorf(lit, "%s literal not allowed", strings.ToLower(lit.Kind.String()))
	}
}

// nodeName names an AST node for error messages, e.g. "*ast.IfStmt" → "if statement".
func nodeName(n ast.Node) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast.")
	for _, suffix := range []struct{ from, to string }{
		{"Stmt", " statement"}, {"Expr", " expression"}, {"Lit", " literal"},
	} {
		if base, ok := strings.CutSuffix(name, suffix.from); ok {
			return strings.ToLower(base) + suffix.to
		}
	}
	return strings.ToLower(name)
}

// normalizeQuotes rewrites single-quoted strings as double-quoted ones so
// candidates written as f('text') parse. Double-quoted and back-quoted
// strings are copied through unchanged.
func normalizeQuotes(src string) string {
	if !strings.Contains(src, "'") {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))
	rs := []rune(src)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch c {
		case '"', '`':
			j := i + 1
			for j < len(rs) && rs[j] != c && rs[j] != '\n' {
				if c == '"' && rs[j] == '\\' {
					j++
				}
				j++
			}
			end := min(j+1, len(rs))
			b.WriteString(string(rs[i:end]))
			i = end - 1
		case '\'':
			j := i + 1
			var body strings.Builder
			for j < len(rs) && rs[j] != '\'' && rs[j] != '\n' {
				switch {
				case rs[j] == '\\' && j+1 < len(rs):
					if rs[j+1] != '\'' {
						body.WriteRune(rs[j])
					}
					body.WriteRune(rs[j+1])
					j += 2
					continue
				case rs[j] == '"':
					body.WriteString(`\"`)
				default:
					body.WriteRune(rs[j])
				}
				j++
			}
			if j >= len(rs) || rs[j] != '\'' {
				// unterminated: leave it for the parser to report
				b.WriteString(string(rs[i:j]))
				i = j - 1
				continue
			}
			b.WriteByte('"')
			b.WriteString(body.String())
			b.WriteByte('"')
			i = j
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// keywordOp stands in for the "=" of a keyword argument. It has the same
// width so columns in error messages stay put, and Go's parser reads
// "name > value" as a binary expression the walker can pick apart.
const keywordOp = token.GTR

// hashComments turns "#" comments outside string literals into "//" ones.
func hashComments(src string) string {
	if !strings.Contains(src, "#") {
		return src
	}
	var b strings.Builder
	b.Grow(len(src) + 8)
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '"', '\'', '`':
			end := skipString(src, i)
			b.WriteString(src[i:end])
			i = end - 1
		case '#', '/':
			if c == '/' && !strings.HasPrefix(src[i:], "//") {
				b.WriteByte(c)
				continue
			}
			end := lineEnd(src, i)
			if c == '#' {
				b.WriteString("//")
				b.WriteString(src[i+1 : end])
			} else {
				b.WriteString(src[i:end])
			}
			i = end - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// markKeywords replaces each lone "=" inside call parentheses with
// keywordOp and returns the byte offsets it replaced. Strings and
// comments are skipped; "==", "!=", "<=", ">=" and ":=" are left alone.
func markKeywords(src string) (string, []int) {
	if !strings.Contains(src, "=") {
		return src, nil
	}
	out := []byte(src)
	var offsets []int
	depth := 0
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '`':
			i = skipString(src, i) - 1
		case '/':
			if strings.HasPrefix(src[i:], "//") {
				i = lineEnd(src, i) - 1
			}
		case '(':
			depth++
		case ')':
			depth = max(depth-1, 0)
		case '=':
			if depth == 0 || (i+1 < len(src) && src[i+1] == '=') {
				continue
			}
			if i > 0 && strings.IndexByte("=!<>:+-*/%&|^", src[i-1]) >= 0 {
				continue
			}
			out[i] = keywordOp.String()[0]
			offsets = append(offsets, i)
		}
	}
	return string(out), offsets
}

// skipString returns the offset just past the string literal opening at
// src[i]. Quoted strings stop at the end of the line when unterminated.
func skipString(src string, i int) int {
	q := src[i]
	j := i + 1
	for j < len(src) && src[j] != q {
		if q != '`' && src[j] == '\n' {
			return j
		}
		if q != '`' && src[j] == '\\' {
			j++
		}
		j++
	}
	return min(j+1, len(src))
}

func lineEnd(src string, i int) int {
	if n := strings.IndexByte(src[i:], '\n'); n >= 0 {
		return i + n
	}
	return len(src)
}

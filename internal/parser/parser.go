// Package parser turns the preprocessed token stream into declarations.
//
// Recognition is lookahead based: enum/class/struct/interface keywords start
// their declarations, `<type> <name> (` starts a function and
// `<type> <name> ;` (optionally with dimensions or an initializer) a
// variable. Bodies are captured as token spans with explicit brace-depth
// tracking and left for the runtime to interpret.
package parser

import (
	"fmt"
	"strings"

	"mqlbt/internal/ast"
	"mqlbt/internal/lexer"
)

// Error is a positioned parse error.
type Error struct {
	Pos ast.Pos
	Msg string
}

func (e *Error) Error() string {
	return e.Pos.String() + ": " + e.Msg
}

type parser struct {
	toks  []lexer.Token
	pos   int
	decls []ast.Decl
}

// Parse parses a whole compilation unit. It stops at the first
// unrecoverable deviation from the grammar.
func Parse(toks []lexer.Token) (decls []ast.Decl, err error) {
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			decls, err = nil, pe
		}
	}()
	for !p.eof() {
		p.parseTopLevel()
	}
	p.attachMethods()
	return p.decls, nil
}

// ---------------------------------------------------------------------------
// Cursor helpers
// ---------------------------------------------------------------------------

func (p *parser) eof() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek(off int) lexer.Token {
	if p.pos+off < len(p.toks) {
		return p.toks[p.pos+off]
	}
	var t lexer.Token
	if len(p.toks) > 0 {
		last := p.toks[len(p.toks)-1]
		t.File, t.Line, t.Column = last.File, last.Line, last.Column+len(last.Text)
	}
	return t
}

func (p *parser) cur() lexer.Token {
	return p.peek(0)
}

func (p *parser) next() lexer.Token {
	t := p.cur()
	if p.eof() {
		p.fail(t, "unexpected end of input")
	}
	p.pos++
	return t
}

func (p *parser) fail(t lexer.Token, format string, args ...any) {
	panic(&Error{Pos: ast.PosOf(t), Msg: fmt.Sprintf(format, args...)})
}

func describe(t lexer.Token) string {
	if t.Text == "" {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.Text)
}

func (p *parser) expect(text string) lexer.Token {
	t := p.cur()
	if !t.Is(text) {
		p.fail(t, "expected %q, found %s", text, describe(t))
	}
	p.pos++
	return t
}

func (p *parser) accept(text string) bool {
	if !p.eof() && p.cur().Is(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptKeyword(kw string) bool {
	if !p.eof() && p.cur().IsKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectIdent() lexer.Token {
	t := p.cur()
	if t.Kind != lexer.Identifier {
		p.fail(t, "expected identifier, found %s", describe(t))
	}
	p.pos++
	return t
}

// collect consumes tokens up to, but not including, the first depth-0 token
// matching one of stops.
func (p *parser) collect(stops ...string) []lexer.Token {
	start := p.pos
	depth := 0
	for !p.eof() {
		t := p.cur()
		if depth == 0 {
			for _, s := range stops {
				if t.Is(s) {
					return p.toks[start:p.pos]
				}
			}
		}
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
			if depth < 0 {
				p.fail(t, "unbalanced %q", t.Text)
			}
		}
		p.pos++
	}
	p.fail(p.cur(), "unexpected end of input")
	return nil
}

func (p *parser) skipStatement() {
	p.collect(";")
	p.expect(";")
}

// ---------------------------------------------------------------------------
// Top level
// ---------------------------------------------------------------------------

func (p *parser) parseTopLevel() {
	t := p.cur()
	switch {
	case t.Is(";"):
		p.pos++
	case t.IsKeyword("template"):
		tpl := p.parseTemplateParams()
		if p.cur().IsKeyword("class") || p.cur().IsKeyword("struct") {
			p.parseClass(tpl)
			return
		}
		p.parseGlobal(tpl)
	case t.IsKeyword("enum"):
		p.decls = append(p.decls, p.parseEnum())
	case t.IsKeyword("class") || t.IsKeyword("struct") || t.IsKeyword("interface"):
		p.parseClass(nil)
	case t.IsKeyword("typedef"):
		p.skipStatement()
	default:
		p.parseGlobal(nil)
	}
}

func (p *parser) parseTemplateParams() []string {
	p.next()
	p.expect("<")
	var names []string
	for {
		if !p.acceptKeyword("typename") {
			p.acceptKeyword("class")
		}
		names = append(names, p.expectIdent().Text)
		if !p.accept(",") {
			break
		}
	}
	p.expect(">")
	return names
}

func (p *parser) parseEnum() *ast.Enum {
	kw := p.next()
	e := &ast.Enum{Pos: ast.PosOf(kw)}
	if p.cur().Kind == lexer.Identifier {
		e.Name = p.next().Text
	}
	p.expect("{")
	for !p.accept("}") {
		m := ast.EnumMember{Name: p.expectIdent().Text}
		if p.accept("=") {
			m.Value = ast.JoinTokens(p.collect(",", "}"))
		}
		e.Members = append(e.Members, m)
		if !p.accept(",") {
			p.expect("}")
			break
		}
	}
	p.accept(";")
	return e
}

var typeKeywords = map[string]bool{
	"bool": true, "char": true, "uchar": true, "short": true, "ushort": true,
	"int": true, "uint": true, "long": true, "ulong": true, "float": true,
	"double": true, "string": true, "color": true, "datetime": true, "void": true,
}

// IsTypeKeyword reports whether word names a primitive type.
func IsTypeKeyword(word string) bool {
	return typeKeywords[word]
}

func isTypeToken(t lexer.Token) bool {
	return t.Kind == lexer.Identifier || (t.Kind == lexer.Keyword && typeKeywords[t.Text])
}

func (p *parser) parseType() ast.TypeRef {
	var ref ast.TypeRef
	if p.acceptKeyword("const") {
		ref.Const = true
	}
	t := p.cur()
	if !isTypeToken(t) {
		p.fail(t, "expected type name, found %s", describe(t))
	}
	p.pos++
	ref.Name = t.Text
	if t.Kind == lexer.Identifier && p.cur().Is("<") {
		p.pos++
		for {
			var arg []string
			for !p.cur().Is(",") && !p.cur().Is(">") {
				arg = append(arg, p.next().Text)
			}
			ref.Args = append(ref.Args, strings.Join(arg, " "))
			if !p.accept(",") {
				break
			}
		}
		p.expect(">")
	}
	if p.accept("*") {
		ref.Pointer = true
	}
	p.acceptKeyword("const")
	return ref
}

// looksLikeParams reports whether the parenthesis at the cursor opens a
// parameter list rather than constructor arguments.
func (p *parser) looksLikeParams() bool {
	t1 := p.peek(1)
	switch {
	case t1.Is(")"):
		return true
	case t1.IsKeyword("const") || (t1.Kind == lexer.Keyword && typeKeywords[t1.Text]):
		return true
	case t1.Kind == lexer.Identifier:
		t2 := p.peek(2)
		return t2.Kind == lexer.Identifier || t2.Is("&") || t2.Is("*") || t2.Is("<")
	}
	return false
}

func (p *parser) parseGlobal(tpl []string) {
	start := p.cur()
	storage := ast.StorageNone
	var isConst bool
modifiers:
	for {
		switch {
		case p.acceptKeyword("static"):
			storage = ast.StorageStatic
		case p.acceptKeyword("input"), p.acceptKeyword("sinput"):
			storage = ast.StorageInput
		case p.acceptKeyword("extern"):
			storage = ast.StorageExtern
		case p.acceptKeyword("const"):
			isConst = true
		default:
			break modifiers
		}
	}
	if storage == ast.StorageInput && p.cur().Text == "group" && p.peek(1).Kind == lexer.String {
		p.skipStatement()
		return
	}

	// Out-of-class constructor or destructor: Class::Class(...) / Class::~Class().
	if c := p.cur(); c.Kind == lexer.Identifier && p.peek(1).Is("::") &&
		(p.peek(2).Is("~") || p.peek(2).Text == c.Text) {
		p.pos += 2
		name := c.Text
		if p.accept("~") {
			p.expectIdent()
			name = "~" + c.Text
		} else {
			p.pos++
		}
		fn := &ast.Function{Pos: ast.PosOf(c), Name: name, Class: c.Text, Return: ast.TypeRef{Name: "void"}}
		fn.Params = p.parseParams()
		p.parseFunctionTail(fn, nil)
		p.decls = append(p.decls, fn)
		return
	}

	typ := p.parseType()
	if isConst {
		typ.Const = true
	}
	p.accept("&")
	var class string
	nameTok := p.cur()
	if nameTok.Kind == lexer.Identifier && p.peek(1).Is("::") {
		class = nameTok.Text
		p.pos += 2
		nameTok = p.cur()
	}
	name := p.parseMemberName()

	if p.cur().Is("(") && (class != "" || p.looksLikeParams()) {
		fn := &ast.Function{
			Pos:      ast.PosOf(start),
			Name:     name,
			Class:    class,
			Return:   typ,
			Template: tpl,
			Static:   storage == ast.StorageStatic,
		}
		fn.Params = p.parseParams()
		p.parseFunctionTail(fn, nil)
		p.decls = append(p.decls, fn)
		return
	}
	if class != "" {
		// Class::staticField = value; definitions initialize static members.
		p.parseStaticDefinition(class, name, typ, nameTok)
		return
	}

	for _, d := range p.parseDeclarators(nameTok) {
		p.decls = append(p.decls, &ast.Variable{
			Pos:     ast.PosOf(d.tok),
			Name:    d.tok.Text,
			Type:    typ,
			Storage: storage,
			Const:   isConst,
			Dims:    d.dims,
			Init:    d.init,
			Args:    d.args,
			HasArgs: d.hasArgs,
		})
	}
}

// parseMemberName reads an identifier or an operator overload name.
func (p *parser) parseMemberName() string {
	if !p.cur().IsKeyword("operator") {
		return p.expectIdent().Text
	}
	p.pos++
	name := "operator"
	if p.cur().Is("(") && p.peek(1).Is(")") {
		p.pos += 2
		return name + "()"
	}
	for !p.eof() && !p.cur().Is("(") {
		name += p.next().Text
	}
	return name
}

func (p *parser) parseStaticDefinition(class, name string, typ ast.TypeRef, at lexer.Token) {
	decls := p.parseDeclarators(at)
	d := decls[0]
	p.decls = append(p.decls, &ast.Variable{
		Pos:     ast.PosOf(at),
		Name:    class + "::" + name,
		Type:    typ,
		Storage: ast.StorageStatic,
		Dims:    d.dims,
		Init:    d.init,
	})
}

type declarator struct {
	tok     lexer.Token
	dims    []string
	init    string
	args    string
	hasArgs bool
}

// parseDeclarators parses `name[dims] = init, name2 ...;`. The first name
// has already been consumed.
func (p *parser) parseDeclarators(first lexer.Token) []declarator {
	var out []declarator
	d := declarator{tok: first}
	for {
		d.dims = p.parseDims()
		switch {
		case p.accept("="):
			d.init = ast.JoinTokens(p.collect(",", ";"))
		case p.cur().Is("("):
			p.pos++
			d.args = ast.JoinTokens(p.collect(")"))
			d.hasArgs = true
			p.expect(")")
		}
		out = append(out, d)
		if !p.accept(",") {
			break
		}
		p.accept("*")
		d = declarator{tok: p.expectIdent()}
	}
	p.expect(";")
	return out
}

func (p *parser) parseDims() []string {
	var dims []string
	for p.accept("[") {
		dims = append(dims, ast.JoinTokens(p.collect("]")))
		p.expect("]")
	}
	return dims
}

func (p *parser) parseParams() []ast.Param {
	p.expect("(")
	if p.accept(")") {
		return nil
	}
	if p.cur().IsKeyword("void") && p.peek(1).Is(")") {
		p.pos += 2
		return nil
	}
	var params []ast.Param
	for {
		var prm ast.Param
		prm.Type = p.parseType()
		prm.Ref = p.accept("&")
		if p.cur().Kind == lexer.Identifier {
			prm.Name = p.next().Text
		}
		prm.Dims = p.parseDims()
		if p.accept("=") {
			prm.Default = ast.JoinTokens(p.collect(",", ")"))
			prm.HasDefault = true
		}
		params = append(params, prm)
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return params
}

// parseFunctionTail parses what follows a parameter list: qualifiers, a
// constructor initializer list, and either a body or a terminating `;`.
func (p *parser) parseFunctionTail(fn *ast.Function, m *ast.Method) {
qualifiers:
	for {
		switch {
		case p.acceptKeyword("const"):
			if m != nil {
				m.Const = true
			}
		case p.acceptKeyword("override"):
			if m != nil {
				m.Override = true
			}
		case p.acceptKeyword("final"):
			if m != nil {
				m.Final = true
			}
		default:
			break qualifiers
		}
	}
	if p.cur().Is("=") && p.peek(1).Text == "0" {
		p.pos += 2
		if m == nil {
			p.fail(p.cur(), "pure specifier on non-member function %s", fn.Name)
		}
		m.Pure = true
	}
	if p.accept(":") {
		for {
			name := p.expectIdent().Text
			p.expect("(")
			args := ast.JoinTokens(p.collect(")"))
			p.expect(")")
			fn.Inits = append(fn.Inits, ast.Initializer{Name: name, Args: args})
			if !p.accept(",") {
				break
			}
		}
	}
	if p.accept(";") {
		fn.Prototype = true
		return
	}
	if !p.cur().Is("{") {
		p.fail(p.cur(), "expected function body or \";\", found %s", describe(p.cur()))
	}
	fn.Tokens = p.parseBody()
	fn.Body = ast.JoinTokens(fn.Tokens)
	locals, bad := scanLocals(fn.Tokens)
	if bad != nil {
		p.fail(*bad, "expected initializer after %q", "=")
	}
	fn.Locals = locals
}

// parseBody captures the tokens between a `{` at the cursor and its matching
// `}`, exclusive.
func (p *parser) parseBody() []lexer.Token {
	open := p.expect("{")
	start := p.pos
	depth := 1
	for !p.eof() {
		t := p.next()
		switch {
		case t.Is("{"):
			depth++
		case t.Is("}"):
			depth--
			if depth == 0 {
				return p.toks[start : p.pos-1]
			}
		}
	}
	p.fail(open, "unterminated body: missing \"}\"")
	return nil
}

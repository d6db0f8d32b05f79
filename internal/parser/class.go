package parser

import (
	"mqlbt/internal/ast"
	"mqlbt/internal/lexer"
)

func (p *parser) parseClass(tpl []string) {
	kw := p.next()
	nameTok := p.expectIdent()
	if p.accept(";") {
		// forward declaration
		return
	}
	c := &ast.Class{
		Pos:      ast.PosOf(kw),
		Name:     nameTok.Text,
		Struct:   kw.Text == "struct",
		Abstract: kw.Text == "interface",
		Template: tpl,
	}
	if p.accept(":") {
		if !p.acceptKeyword("public") && !p.acceptKeyword("protected") {
			p.acceptKeyword("private")
		}
		c.Base = p.parseType().Name
	}
	p.decls = append(p.decls, c)

	vis := ast.Private
	if kw.Text != "class" {
		vis = ast.Public
	}
	p.expect("{")
	for !p.accept("}") {
		if p.eof() {
			p.fail(kw, "unterminated %s %s", kw.Text, c.Name)
		}
		t := p.cur()
		switch {
		case t.Is(";"):
			p.pos++
			continue
		case (t.IsKeyword("public") || t.IsKeyword("private") || t.IsKeyword("protected")) && p.peek(1).Is(":"):
			switch t.Text {
			case "public":
				vis = ast.Public
			case "protected":
				vis = ast.Protected
			default:
				vis = ast.Private
			}
			p.pos += 2
			continue
		case t.IsKeyword("enum"):
			p.decls = append(p.decls, p.parseEnum())
			continue
		case t.IsKeyword("class") || t.IsKeyword("struct"):
			p.parseClass(nil)
			continue
		case t.IsKeyword("typedef"):
			p.skipStatement()
			continue
		}
		p.parseMember(c, vis)
	}
	p.accept(";")
	for _, m := range c.Methods {
		if m.Pure {
			c.Abstract = true
		}
	}
}

func (p *parser) parseMember(c *ast.Class, vis ast.Visibility) {
	var tpl []string
	if p.cur().IsKeyword("template") {
		tpl = p.parseTemplateParams()
	}
	start := p.cur()
	var static, virtual bool
modifiers:
	for {
		switch {
		case p.acceptKeyword("static"):
			static = true
		case p.acceptKeyword("virtual"):
			virtual = true
		default:
			break modifiers
		}
	}

	m := &ast.Method{Visibility: vis, Virtual: virtual}
	m.Pos = ast.PosOf(start)
	m.Static = static
	m.Template = tpl
	m.Class = c.Name

	switch {
	case p.cur().Is("~"):
		p.pos++
		name := p.expectIdent()
		if name.Text != c.Name {
			p.fail(name, "destructor name %s does not match class %s", name.Text, c.Name)
		}
		m.Kind = ast.Destructor
		m.Name = "~" + c.Name
		m.Return = ast.TypeRef{Name: "void"}
	case p.cur().Text == c.Name && p.peek(1).Is("("):
		p.pos++
		m.Kind = ast.Constructor
		m.Name = c.Name
		m.Return = ast.TypeRef{Name: "void"}
	default:
		typ := p.parseType()
		p.accept("&")
		nameTok := p.cur()
		name := p.parseMemberName()
		if !p.cur().Is("(") {
			for _, d := range p.parseDeclarators(nameTok) {
				c.Fields = append(c.Fields, &ast.Field{
					Pos:        ast.PosOf(d.tok),
					Name:       d.tok.Text,
					Type:       typ,
					Dims:       d.dims,
					Static:     static,
					Init:       d.init,
					Visibility: vis,
				})
			}
			return
		}
		m.Name = name
		m.Return = typ
	}

	m.Params = p.parseParams()
	p.parseFunctionTail(&m.Function, m)
	if c.Abstract && m.Prototype {
		m.Pure = true
		m.Virtual = true
	}
	c.Methods = append(c.Methods, m)
}

// attachMethods moves out-of-class method definitions onto their classes,
// filling the matching prototype when one was declared.
func (p *parser) attachMethods() {
	classes := make(map[string]*ast.Class)
	for _, d := range p.decls {
		if c, ok := d.(*ast.Class); ok {
			classes[c.Name] = c
		}
	}
	kept := p.decls[:0]
	for _, d := range p.decls {
		fn, ok := d.(*ast.Function)
		if !ok || fn.Class == "" {
			kept = append(kept, d)
			continue
		}
		c, ok := classes[fn.Class]
		if !ok {
			kept = append(kept, d)
			continue
		}
		kind := ast.Plain
		switch fn.Name {
		case c.Name:
			kind = ast.Constructor
		case "~" + c.Name:
			kind = ast.Destructor
		}
		if proto := findPrototype(c, fn, kind); proto != nil {
			mergeDefinition(proto, fn)
			continue
		}
		c.Methods = append(c.Methods, &ast.Method{Function: *fn, Kind: kind, Visibility: ast.Public})
	}
	p.decls = kept
}

func findPrototype(c *ast.Class, fn *ast.Function, kind ast.MethodKind) *ast.Method {
	for _, m := range c.Methods {
		if m.Kind == kind && m.Name == fn.Name && m.Prototype && !m.Pure && len(m.Params) == len(fn.Params) {
			return m
		}
	}
	return nil
}

func mergeDefinition(m *ast.Method, fn *ast.Function) {
	params := fn.Params
	for i := range params {
		if !params[i].HasDefault && m.Params[i].HasDefault {
			params[i].Default = m.Params[i].Default
			params[i].HasDefault = true
		}
	}
	m.Params = params
	m.Pos = fn.Pos
	m.Locals = fn.Locals
	m.Body = fn.Body
	m.Tokens = fn.Tokens
	m.Inits = fn.Inits
	m.Prototype = false
}

// ---------------------------------------------------------------------------
// Body scanning
// ---------------------------------------------------------------------------

// DeclarationAt reports whether a variable declaration starts at toks[i].
// It accepts optional static/const prefixes followed by a type and a name
// that is itself followed by `=`, `;`, `,`, `[` or `(`.
func DeclarationAt(toks []lexer.Token, i int) bool {
	for i < len(toks) && (toks[i].IsKeyword("static") || toks[i].IsKeyword("const")) {
		i++
	}
	if i+1 >= len(toks) || !isTypeToken(toks[i]) || toks[i].IsKeyword("void") {
		return false
	}
	i++
	if toks[i].Is("<") {
		for i < len(toks) && !toks[i].Is(">") {
			i++
		}
		i++
	}
	if i < len(toks) && (toks[i].Is("*") || toks[i].Is("&")) {
		i++
	}
	if i+1 >= len(toks) || toks[i].Kind != lexer.Identifier {
		return false
	}
	n := toks[i+1]
	return n.Is("=") || n.Is(";") || n.Is(",") || n.Is("[") || n.Is("(")
}

// statementStart reports whether toks[i] can begin a statement.
func statementStart(toks []lexer.Token, i int) bool {
	if i == 0 {
		return true
	}
	prev := toks[i-1]
	if prev.Is(";") || prev.Is("{") || prev.Is("}") || prev.IsKeyword("else") {
		return true
	}
	return prev.Is("(") && i >= 2 && toks[i-2].IsKeyword("for")
}

// ScanLocals lists the variable declarations found in a body.
func ScanLocals(toks []lexer.Token) []ast.Local {
	locals, _ := scanLocals(toks)
	return locals
}

// scanLocals also returns the "=" of the first declarator with an empty
// initializer.
func scanLocals(toks []lexer.Token) (locals []ast.Local, bad *lexer.Token) {
	for i := 0; i < len(toks); i++ {
		if !statementStart(toks, i) || !DeclarationAt(toks, i) {
			continue
		}
		var static, constant bool
		for toks[i].IsKeyword("static") || toks[i].IsKeyword("const") {
			static = static || toks[i].IsKeyword("static")
			constant = constant || toks[i].IsKeyword("const")
			i++
		}
		sub := &parser{toks: toks, pos: i}
		typ := sub.parseType()
		typ.Const = typ.Const || constant
		sub.accept("&")
		for {
			sub.accept("*")
			nameTok := sub.cur()
			if nameTok.Kind != lexer.Identifier {
				break
			}
			sub.pos++
			l := ast.Local{Pos: ast.PosOf(nameTok), Name: nameTok.Text, Type: typ, Static: static}
			l.Dims = sub.scanDims()
			if eq := sub.cur(); sub.accept("=") {
				init := sub.scanUntil(",", ";")
				if len(init) == 0 && bad == nil {
					bad = &eq
				}
				l.Init = ast.JoinTokens(init)
			} else if sub.accept("(") {
				l.Args = ast.JoinTokens(sub.scanUntil(")"))
				l.HasArgs = true
				sub.accept(")")
			}
			locals = append(locals, l)
			if !sub.accept(",") {
				break
			}
		}
		i = sub.pos - 1
	}
	return locals, bad
}

func (p *parser) scanDims() []string {
	var dims []string
	for p.accept("[") {
		dims = append(dims, ast.JoinTokens(p.scanUntil("]")))
		p.accept("]")
	}
	return dims
}

// scanUntil is collect without failing at end of input, used on bodies.
func (p *parser) scanUntil(stops ...string) []lexer.Token {
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
				return p.toks[start:p.pos]
			}
		}
		p.pos++
	}
	return p.toks[start:p.pos]
}

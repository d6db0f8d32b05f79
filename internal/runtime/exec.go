package runtime

import (
	"fmt"

	"mqlbt/internal/ast"
	"mqlbt/internal/eval"
	"mqlbt/internal/lexer"
	"mqlbt/internal/parser"
	"mqlbt/internal/value"
)

// flow is how a statement left control.
type flow int

const (
	flowNext flow = iota
	flowBreak
	flowContinue
	flowReturn
)

// executor interprets the statements of one body over its token span.
type executor struct {
	rt  *Runtime
	fr  *frame
	ret value.Value
}

// StmtError is a statement-level error that has no expression position.
type StmtError struct {
	Pos ast.Pos
	Msg string
}

func (e *StmtError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

func errAt(t lexer.Token, format string, args ...any) error {
	return &StmtError{Pos: ast.PosOf(t), Msg: fmt.Sprintf(format, args...)}
}

// seq runs statements in order until one leaves control.
func (x *executor) seq(toks []lexer.Token) (flow, error) {
	for i := 0; i < len(toks); {
		next, fl, err := x.stmt(toks, i)
		if err != nil || fl != flowNext {
			return fl, err
		}
		i = next
	}
	return flowNext, nil
}

func (x *executor) block(toks []lexer.Token) (flow, error) {
	x.fr.push()
	defer x.fr.pop()
	return x.seq(toks)
}

// stmt executes the statement starting at toks[i] and returns the index
// following it.
func (x *executor) stmt(toks []lexer.Token, i int) (int, flow, error) {
	t := toks[i]
	switch {
	case t.Is("{"):
		j, err := matching(toks, i)
		if err != nil {
			return 0, flowNext, err
		}
		fl, err := x.block(toks[i+1 : j])
		return j + 1, fl, err
	case t.Is(";"):
		return i + 1, flowNext, nil
	case t.IsKeyword("if"):
		return x.ifStmt(toks, i)
	case t.IsKeyword("for"):
		return x.forStmt(toks, i)
	case t.IsKeyword("while"):
		return x.whileStmt(toks, i)
	case t.IsKeyword("do"):
		return x.doStmt(toks, i)
	case t.IsKeyword("switch"):
		return x.switchStmt(toks, i)
	case t.IsKeyword("case"), t.IsKeyword("default"):
		// labels reached by falling through
		j, err := labelEnd(toks, i)
		return j + 1, flowNext, err
	case t.IsKeyword("break"), t.IsKeyword("continue"):
		j, err := statementEnd(toks, i)
		if err != nil {
			return 0, flowNext, err
		}
		if t.Text == "break" {
			return j + 1, flowBreak, nil
		}
		return j + 1, flowContinue, nil
	case t.IsKeyword("return"):
		j, err := statementEnd(toks, i)
		if err != nil {
			return 0, flowNext, err
		}
		x.ret = value.Unset
		if j > i+1 {
			v, err := eval.EvalTokens(toks[i+1:j], x.fr, x.fr)
			if err != nil {
				return 0, flowNext, err
			}
			x.ret = v
		}
		return j + 1, flowReturn, nil
	case t.IsKeyword("delete"):
		j, err := statementEnd(toks, i)
		if err != nil {
			return 0, flowNext, err
		}
		v, err := eval.EvalTokens(toks[i+1:j], x.fr, x.fr)
		if err != nil {
			return 0, flowNext, err
		}
		if v.Kind() != value.Object {
			return 0, flowNext, errAt(t, "delete of non-object %s", v.Kind())
		}
		return j + 1, flowNext, x.rt.Delete(v.Object())
	case t.IsKeyword("typedef"):
		j, err := statementEnd(toks, i)
		return j + 1, flowNext, err
	case parser.DeclarationAt(toks, i):
		return x.declaration(toks, i)
	}
	j, err := statementEnd(toks, i)
	if err != nil {
		return 0, flowNext, err
	}
	if _, err := eval.EvalTokens(toks[i:j], x.fr, x.fr); err != nil {
		return 0, flowNext, err
	}
	return j + 1, flowNext, nil
}

func (x *executor) cond(toks []lexer.Token) (bool, error) {
	if len(toks) == 0 {
		return true, nil
	}
	v, err := eval.EvalTokens(toks, x.fr, x.fr)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// header returns the span inside the parentheses following toks[i] and the
// index of the closing parenthesis.
func header(toks []lexer.Token, i int) ([]lexer.Token, int, error) {
	if i+1 >= len(toks) || !toks[i+1].Is("(") {
		return nil, 0, errAt(toks[i], "expected \"(\" after %s", toks[i].Text)
	}
	j, err := matching(toks, i+1)
	if err != nil {
		return nil, 0, err
	}
	return toks[i+2 : j], j, nil
}

func (x *executor) ifStmt(toks []lexer.Token, i int) (int, flow, error) {
	condToks, j, err := header(toks, i)
	if err != nil {
		return 0, flowNext, err
	}
	thenEnd, err := skip(toks, j+1)
	if err != nil {
		return 0, flowNext, err
	}
	end, elseAt := thenEnd, -1
	if thenEnd < len(toks) && toks[thenEnd].IsKeyword("else") {
		elseAt = thenEnd + 1
		if end, err = skip(toks, elseAt); err != nil {
			return 0, flowNext, err
		}
	}
	ok, err := x.cond(condToks)
	if err != nil {
		return 0, flowNext, err
	}
	switch {
	case ok:
		_, fl, err := x.stmt(toks, j+1)
		return end, fl, err
	case elseAt >= 0:
		_, fl, err := x.stmt(toks, elseAt)
		return end, fl, err
	}
	return end, flowNext, nil
}

// loop runs body while cond holds, evaluating post after each iteration.
// It reports whether the body returned.
func (x *executor) loop(toks []lexer.Token, body int, cond, post []lexer.Token, checkFirst bool) (flow, error) {
	for first := true; ; first = false {
		if checkFirst || !first {
			ok, err := x.cond(cond)
			if err != nil {
				return flowNext, err
			}
			if !ok {
				return flowNext, nil
			}
		}
		if x.rt.stopped {
			return flowNext, nil
		}
		_, fl, err := x.stmt(toks, body)
		if err != nil {
			return flowNext, err
		}
		switch fl {
		case flowBreak:
			return flowNext, nil
		case flowReturn:
			return flowReturn, nil
		}
		if len(post) > 0 {
			if _, err := eval.EvalTokens(post, x.fr, x.fr); err != nil {
				return flowNext, err
			}
		}
	}
}

func (x *executor) forStmt(toks []lexer.Token, i int) (int, flow, error) {
	head, j, err := header(toks, i)
	if err != nil {
		return 0, flowNext, err
	}
	end, err := skip(toks, j+1)
	if err != nil {
		return 0, flowNext, err
	}
	first, err := statementEnd(head, 0)
	if err != nil {
		return 0, flowNext, err
	}
	second, err := statementEnd(head, first+1)
	if err != nil {
		return 0, flowNext, err
	}
	x.fr.push()
	defer x.fr.pop()
	if first > 0 {
		if _, _, err := x.stmt(head[:first+1], 0); err != nil {
			return 0, flowNext, err
		}
	}
	fl, err := x.loop(toks, j+1, head[first+1:second], head[second+1:], true)
	return end, fl, err
}

func (x *executor) whileStmt(toks []lexer.Token, i int) (int, flow, error) {
	condToks, j, err := header(toks, i)
	if err != nil {
		return 0, flowNext, err
	}
	end, err := skip(toks, j+1)
	if err != nil {
		return 0, flowNext, err
	}
	fl, err := x.loop(toks, j+1, condToks, nil, true)
	return end, fl, err
}

func (x *executor) doStmt(toks []lexer.Token, i int) (int, flow, error) {
	bodyEnd, err := skip(toks, i+1)
	if err != nil {
		return 0, flowNext, err
	}
	if bodyEnd >= len(toks) || !toks[bodyEnd].IsKeyword("while") {
		return 0, flowNext, errAt(toks[i], "expected while after do body")
	}
	condToks, j, err := header(toks, bodyEnd)
	if err != nil {
		return 0, flowNext, err
	}
	end := j + 1
	if end < len(toks) && toks[end].Is(";") {
		end++
	}
	fl, err := x.loop(toks, i+1, condToks, nil, false)
	return end, fl, err
}

func (x *executor) switchStmt(toks []lexer.Token, i int) (int, flow, error) {
	subject, j, err := header(toks, i)
	if err != nil {
		return 0, flowNext, err
	}
	if j+1 >= len(toks) || !toks[j+1].Is("{") {
		return 0, flowNext, errAt(toks[i], "expected switch body")
	}
	rbrace, err := matching(toks, j+1)
	if err != nil {
		return 0, flowNext, err
	}
	body := toks[j+2 : rbrace]
	v, err := eval.EvalTokens(subject, x.fr, x.fr)
	if err != nil {
		return 0, flowNext, err
	}

	start, deflt := -1, -1
	depth := 0
	for k := 0; k < len(body) && start < 0; k++ {
		t := body[k]
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
		case depth == 0 && t.IsKeyword("default"):
			end, err := labelEnd(body, k)
			if err != nil {
				return 0, flowNext, err
			}
			deflt = end + 1
		case depth == 0 && t.IsKeyword("case"):
			end, err := labelEnd(body, k)
			if err != nil {
				return 0, flowNext, err
			}
			cv, err := eval.EvalTokens(body[k+1:end], x.fr, x.fr)
			if err != nil {
				return 0, flowNext, err
			}
			eq, err := value.Binary("==", v, cv)
			if err != nil {
				return 0, flowNext, err
			}
			if eq.Truthy() {
				start = end + 1
			}
			k = end
		}
	}
	if start < 0 {
		start = deflt
	}
	if start < 0 {
		return rbrace + 1, flowNext, nil
	}
	x.fr.push()
	defer x.fr.pop()
	fl, err := x.seq(body[start:])
	if fl == flowBreak {
		fl = flowNext
	}
	return rbrace + 1, fl, err
}

// declaration declares the locals of one declaration statement in the
// current scope. Static locals bind to the function's static store.
func (x *executor) declaration(toks []lexer.Token, i int) (int, flow, error) {
	j, err := statementEnd(toks, i)
	if err != nil {
		return 0, flowNext, err
	}
	span := toks[i : j+1]
	for _, l := range parser.ScanLocals(span) {
		if l.Static {
			if v, ok := x.rt.statics[x.fr.key][l.Name]; ok {
				x.fr.declare(l.Name, v)
				continue
			}
		}
		typ, err := x.rt.ResolveType(l.Type, l.Dims, x.fr.tpl)
		if err != nil {
			return 0, flowNext, &StmtError{Pos: l.Pos, Msg: err.Error()}
		}
		init, args := declarator(span, l.Pos)
		v := &value.Var{Type: typ, Value: x.rt.blank(typ, args != nil)}
		switch {
		case args != nil:
			if err := x.rt.constructTokens(v, args, x.fr); err != nil {
				return 0, flowNext, err
			}
		case len(init) > 0:
			if err := x.rt.initTokens(v, init, x.fr); err != nil {
				return 0, flowNext, err
			}
		}
		v.Const = l.Type.Const
		x.fr.declare(l.Name, v)
	}
	return j + 1, flowNext, nil
}

// declarator finds the initializer or constructor-argument span of the
// declarator whose name is at pos.
func declarator(span []lexer.Token, pos ast.Pos) (init, args []lexer.Token) {
	k := 0
	for k < len(span) && ast.PosOf(span[k]) != pos {
		k++
	}
	k++
	for k < len(span) && span[k].Is("[") {
		end, err := matching(span, k)
		if err != nil {
			return nil, nil
		}
		k = end + 1
	}
	if k >= len(span) {
		return nil, nil
	}
	switch {
	case span[k].Is("="):
		end := k + 1
		for depth := 0; end < len(span); end++ {
			t := span[end]
			if depth == 0 && (t.Is(",") || t.Is(";")) {
				break
			}
			switch {
			case t.Is("(") || t.Is("[") || t.Is("{"):
				depth++
			case t.Is(")") || t.Is("]") || t.Is("}"):
				depth--
			}
		}
		return span[k+1 : end], nil
	case span[k].Is("("):
		end, err := matching(span, k)
		if err != nil {
			return nil, nil
		}
		return nil, span[k+1 : end]
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Token span helpers
// ---------------------------------------------------------------------------

// matching returns the index of the bracket closing the one at toks[i].
func matching(toks []lexer.Token, i int) (int, error) {
	depth := 0
	for k := i; k < len(toks); k++ {
		t := toks[k]
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
			if depth == 0 {
				return k, nil
			}
		}
	}
	return 0, errAt(toks[i], "unbalanced %q", toks[i].Text)
}

// statementEnd returns the index of the `;` ending the statement at i.
func statementEnd(toks []lexer.Token, i int) (int, error) {
	if len(toks) == 0 {
		return 0, &StmtError{Msg: "expected \";\""}
	}
	depth := 0
	for k := i; k < len(toks); k++ {
		t := toks[k]
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
		case depth == 0 && t.Is(";"):
			return k, nil
		}
	}
	at := toks[len(toks)-1]
	if i < len(toks) {
		at = toks[i]
	}
	return 0, errAt(at, "expected \";\"")
}

// labelEnd returns the index of the `:` ending a case or default label.
func labelEnd(toks []lexer.Token, i int) (int, error) {
	depth := 0
	for k := i + 1; k < len(toks); k++ {
		t := toks[k]
		switch {
		case t.Is("(") || t.Is("["):
			depth++
		case t.Is(")") || t.Is("]"):
			depth--
		case depth == 0 && t.Is(":"):
			return k, nil
		}
	}
	return 0, errAt(toks[i], "expected \":\" after %s", toks[i].Text)
}

// skip returns the index following the statement at i without executing it.
func skip(toks []lexer.Token, i int) (int, error) {
	if i >= len(toks) {
		if len(toks) == 0 {
			return 0, &StmtError{Msg: "expected statement"}
		}
		return 0, errAt(toks[len(toks)-1], "expected statement")
	}
	t := toks[i]
	switch {
	case t.Is("{"):
		j, err := matching(toks, i)
		return j + 1, err
	case t.IsKeyword("if"):
		_, j, err := header(toks, i)
		if err != nil {
			return 0, err
		}
		end, err := skip(toks, j+1)
		if err != nil {
			return 0, err
		}
		if end < len(toks) && toks[end].IsKeyword("else") {
			return skip(toks, end+1)
		}
		return end, nil
	case t.IsKeyword("for"), t.IsKeyword("while"):
		_, j, err := header(toks, i)
		if err != nil {
			return 0, err
		}
		return skip(toks, j+1)
	case t.IsKeyword("do"):
		end, err := skip(toks, i+1)
		if err != nil {
			return 0, err
		}
		_, j, err := header(toks, end)
		if err != nil {
			return 0, err
		}
		if j+1 < len(toks) && toks[j+1].Is(";") {
			return j + 2, nil
		}
		return j + 1, nil
	case t.IsKeyword("switch"):
		_, j, err := header(toks, i)
		if err != nil {
			return 0, err
		}
		end, err := matching(toks, j+1)
		return end + 1, err
	}
	j, err := statementEnd(toks, i)
	return j + 1, err
}

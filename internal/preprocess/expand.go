package preprocess

import (
	"fmt"

	"mqlbt/internal/lexer"
)

// expand replaces macro invocations in toks. active lists the macros whose
// expansion is in progress; they are left alone to stop self-recursion.
func (p *Preprocessor) expand(toks []lexer.Token, active []string) []lexer.Token {
	out := make([]lexer.Token, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != lexer.Identifier || contains(active, t.Text) {
			out = append(out, t)
			continue
		}
		m, ok := p.macros[t.Text]
		if !ok {
			out = append(out, t)
			continue
		}
		nested := append(append([]string(nil), active...), t.Text)
		if !m.Func {
			out = append(out, p.expand(p.relex(m.Body, t), nested)...)
			continue
		}
		if i+1 >= len(toks) || !toks[i+1].Is("(") {
			out = append(out, t)
			continue
		}
		args, end, ok := splitArgs(toks, i+1)
		if !ok {
			p.errorf(t.File, t.Line, "unterminated call of macro %s", t.Text)
			out = append(out, toks[i:]...)
			break
		}
		if len(m.Params) == 0 && len(args) == 1 && len(args[0]) == 0 {
			args = nil
		}
		if len(args) != len(m.Params) {
			p.errorf(t.File, t.Line, "macro %s expects %d arguments, got %d", t.Text, len(m.Params), len(args))
			i = end
			continue
		}
		for j := range args {
			args[j] = p.expand(args[j], active)
		}
		out = append(out, p.expand(substitute(p.relex(m.Body, t), m.Params, args), nested)...)
		i = end
	}
	return out
}

// relex tokenizes a macro body and stamps every token with the call site.
func (p *Preprocessor) relex(body string, site lexer.Token) []lexer.Token {
	toks, errs := lexer.LexFile(body, site.File, site.Line)
	for _, err := range errs {
		p.errs = append(p.errs, &lexer.Error{
			File: site.File, Line: site.Line, Column: site.Column,
			Msg: fmt.Sprintf("in expansion of %s: %s", site.Text, err.Msg),
		})
	}
	for i := range toks {
		toks[i].Line = site.Line
		toks[i].Column = site.Column
	}
	return toks
}

// substitute replaces whole identifier tokens naming a parameter with the
// matching argument tokens.
func substitute(body []lexer.Token, params []string, args [][]lexer.Token) []lexer.Token {
	out := make([]lexer.Token, 0, len(body))
	for _, t := range body {
		idx := -1
		if t.Kind == lexer.Identifier {
			for j, param := range params {
				if param == t.Text {
					idx = j
					break
				}
			}
		}
		if idx < 0 {
			out = append(out, t)
			continue
		}
		out = append(out, args[idx]...)
	}
	return out
}

// splitArgs splits the argument list opening at toks[open] on depth-0
// commas. It returns the index of the closing parenthesis.
func splitArgs(toks []lexer.Token, open int) ([][]lexer.Token, int, bool) {
	var (
		args  [][]lexer.Token
		cur   = []lexer.Token{}
		depth = 0
	)
	for i := open + 1; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") && depth == 0:
			return append(args, cur), i, true
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
		case t.Is(",") && depth == 0:
			args = append(args, cur)
			cur = []lexer.Token{}
			continue
		}
		cur = append(cur, t)
	}
	return nil, len(toks), false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package eval interprets single expressions against a variable
// environment. Each precedence level is its own parse function consuming a
// shared token cursor; values are computed while parsing.
package eval

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mqlbt/internal/lexer"
	"mqlbt/internal/value"
)

var (
	// ErrZeroDivide is returned for integer division by zero.
	ErrZeroDivide = value.ErrZeroDivide
	// ErrUndeclared is returned for an unknown identifier.
	ErrUndeclared = errors.New("undeclared identifier")
	// ErrNotAssignable is returned when assigning to a non-lvalue.
	ErrNotAssignable = errors.New("expression is not assignable")
	// ErrSyntax is returned for malformed expressions.
	ErrSyntax = errors.New("syntax error")
	// ErrNoRuntime is returned for calls evaluated without a runtime.
	ErrNoRuntime = errors.New("function call requires a runtime")
)

// Env resolves variable names.
type Env interface {
	Lookup(name string) (*value.Var, bool)
}

// MapEnv is a flat Env.
type MapEnv map[string]*value.Var

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (*value.Var, bool) {
	v, ok := m[name]
	return v, ok
}

// Arg is a call argument. Ref is set when the argument expression is
// assignable, so reference parameters can bind to it.
type Arg struct {
	Value value.Value
	Ref   *Place
}

// Runtime dispatches calls and resolves type names.
type Runtime interface {
	Call(name string, args []Arg) (value.Value, error)
	CallMethod(obj *value.Instance, name string, args []Arg) (value.Value, error)
	CallStatic(class, name string, args []Arg) (value.Value, error)
	New(class string, args []Arg) (value.Value, error)
	Type(name string) (value.Type, bool)
}

// Error is an evaluation error with the position of the offending token.
type Error struct {
	File   string
	Line   int
	Column int
	Err    error
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%d:%d: %v", e.Line, e.Column, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(t lexer.Token, err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{File: t.File, Line: t.Line, Column: t.Column, Err: err}
}

// Evaluate lexes and evaluates one expression. rt may be nil when the
// expression makes no calls.
func Evaluate(text string, env Env, rt Runtime) (value.Value, error) {
	toks, errs := lexer.Lex(text)
	if len(errs) > 0 {
		return value.Unset, errs[0]
	}
	return EvalTokens(toks, env, rt)
}

// EvalTokens evaluates an expression spanning exactly toks.
func EvalTokens(toks []lexer.Token, env Env, rt Runtime) (value.Value, error) {
	r, err := evalSpan(toks, env, rt)
	if err != nil {
		return value.Unset, err
	}
	return r.load()
}

// PlaceOf evaluates toks and returns the place it denotes, or nil when the
// expression is not assignable.
func PlaceOf(toks []lexer.Token, env Env, rt Runtime) (*Place, value.Value, error) {
	r, err := evalSpan(toks, env, rt)
	if err != nil {
		return nil, value.Unset, err
	}
	v, err := r.load()
	return r.place, v, err
}

func evalSpan(toks []lexer.Token, env Env, rt Runtime) (result, error) {
	if len(toks) == 0 {
		return result{}, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	e := &evaluator{toks: toks, env: env, rt: rt}
	r, err := e.expr()
	if err != nil {
		return result{}, err
	}
	if !e.eof() {
		return result{}, wrap(e.cur(), fmt.Errorf("%w: unexpected %q", ErrSyntax, e.cur().Text))
	}
	return r, nil
}

type result struct {
	val   value.Value
	place *Place
}

func (r result) load() (value.Value, error) {
	if r.place != nil {
		return r.place.Load()
	}
	return r.val, nil
}

type evaluator struct {
	toks []lexer.Token
	pos  int
	env  Env
	rt   Runtime
	// skip is non-zero while parsing an operand whose evaluation is
	// suppressed by short-circuiting or an untaken ternary branch.
	skip int
}

func (e *evaluator) eof() bool { return e.pos >= len(e.toks) }

func (e *evaluator) cur() lexer.Token {
	if e.pos < len(e.toks) {
		return e.toks[e.pos]
	}
	var t lexer.Token
	if n := len(e.toks); n > 0 {
		t = e.toks[n-1]
		t.Text = ""
	}
	return t
}

func (e *evaluator) at(text string) bool {
	return !e.eof() && e.toks[e.pos].Is(text)
}

func (e *evaluator) expect(text string) error {
	if !e.at(text) {
		return wrap(e.cur(), fmt.Errorf("%w: expected %q, found %q", ErrSyntax, text, e.cur().Text))
	}
	e.pos++
	return nil
}

func (e *evaluator) skipping() bool { return e.skip > 0 }

func (e *evaluator) withSkip(on bool, f func() (result, error)) (result, error) {
	if on {
		e.skip++
		defer func() { e.skip-- }()
	}
	return f()
}

// ---------------------------------------------------------------------------
// Precedence levels
// ---------------------------------------------------------------------------

func (e *evaluator) expr() (result, error) {
	r, err := e.assignment()
	for err == nil && e.at(",") {
		e.pos++
		if _, err = r.load(); err != nil {
			return r, err
		}
		r, err = e.assignment()
	}
	return r, err
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

func (e *evaluator) assignment() (result, error) {
	lhs, err := e.conditional()
	if err != nil || e.eof() || !assignOps[e.cur().Text] || e.cur().Kind != lexer.Operator {
		return lhs, err
	}
	opTok := e.cur()
	e.pos++
	rhs, err := e.assignment()
	if err != nil || e.skipping() {
		return result{}, err
	}
	if lhs.place == nil {
		return result{}, wrap(opTok, ErrNotAssignable)
	}
	v, err := rhs.load()
	if err != nil {
		return result{}, wrap(opTok, err)
	}
	if op := opTok.Text; op != "=" {
		old, err := lhs.place.Load()
		if err != nil {
			return result{}, wrap(opTok, err)
		}
		if v, err = value.Binary(strings.TrimSuffix(op, "="), old, v); err != nil {
			return result{}, wrap(opTok, err)
		}
	}
	if err := lhs.place.Store(v); err != nil {
		return result{}, wrap(opTok, err)
	}
	return lhs, nil
}

func (e *evaluator) truth(r result) (bool, error) {
	if e.skipping() {
		return false, nil
	}
	v, err := r.load()
	return v.Truthy(), err
}

func (e *evaluator) conditional() (result, error) {
	cond, err := e.logicalOr()
	if err != nil || !e.at("?") {
		return cond, err
	}
	e.pos++
	take, err := e.truth(cond)
	if err != nil {
		return result{}, err
	}
	first, err := e.withSkip(!take, e.assignment)
	if err != nil {
		return result{}, err
	}
	if err := e.expect(":"); err != nil {
		return result{}, err
	}
	second, err := e.withSkip(take, e.conditional)
	if err != nil {
		return result{}, err
	}
	if take {
		return first, nil
	}
	return second, nil
}

func (e *evaluator) logicalOr() (result, error) {
	left, err := e.logicalAnd()
	for err == nil && e.at("||") {
		e.pos++
		var lv, rv bool
		if lv, err = e.truth(left); err != nil {
			return result{}, err
		}
		right, err := e.withSkip(lv, e.logicalAnd)
		if err != nil {
			return result{}, err
		}
		if !lv {
			if rv, err = e.truth(right); err != nil {
				return result{}, err
			}
		}
		left = result{val: value.NewBool(lv || rv)}
	}
	return left, err
}

func (e *evaluator) logicalAnd() (result, error) {
	left, err := e.bitOr()
	for err == nil && e.at("&&") {
		e.pos++
		var lv, rv bool
		if lv, err = e.truth(left); err != nil {
			return result{}, err
		}
		right, err := e.withSkip(!lv, e.bitOr)
		if err != nil {
			return result{}, err
		}
		if lv {
			if rv, err = e.truth(right); err != nil {
				return result{}, err
			}
		}
		left = result{val: value.NewBool(lv && rv)}
	}
	return left, err
}

func (e *evaluator) bitOr() (result, error) {
	return e.binary([]string{"|"}, e.bitXor)
}

func (e *evaluator) bitXor() (result, error) {
	return e.binary([]string{"^"}, e.bitAnd)
}

func (e *evaluator) bitAnd() (result, error) {
	return e.binary([]string{"&"}, e.equality)
}

func (e *evaluator) equality() (result, error) {
	return e.binary([]string{"==", "!="}, e.relational)
}

func (e *evaluator) relational() (result, error) {
	return e.binary([]string{"<", ">", "<=", ">="}, e.shift)
}

func (e *evaluator) shift() (result, error) {
	return e.binary([]string{"<<", ">>"}, e.additive)
}

func (e *evaluator) additive() (result, error) {
	return e.binary([]string{"+", "-"}, e.multiplicative)
}

func (e *evaluator) multiplicative() (result, error) {
	return e.binary([]string{"*", "/", "%"}, e.unary)
}

func (e *evaluator) binary(ops []string, operand func() (result, error)) (result, error) {
	left, err := operand()
	for err == nil && !e.eof() {
		opTok := e.cur()
		if opTok.Kind != lexer.Operator || !contains(ops, opTok.Text) {
			break
		}
		e.pos++
		right, err := operand()
		if err != nil {
			return result{}, err
		}
		if e.skipping() {
			left = result{}
			continue
		}
		lv, err := left.load()
		if err != nil {
			return result{}, wrap(opTok, err)
		}
		rv, err := right.load()
		if err != nil {
			return result{}, wrap(opTok, err)
		}
		v, err := value.Binary(opTok.Text, lv, rv)
		if err != nil {
			return result{}, wrap(opTok, err)
		}
		left = result{val: v}
	}
	return left, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (e *evaluator) unary() (result, error) {
	t := e.cur()
	switch {
	case t.Is("++") || t.Is("--"):
		e.pos++
		operand, err := e.unary()
		if err != nil || e.skipping() {
			return result{}, err
		}
		if _, err := e.increment(t, operand, t.Text); err != nil {
			return result{}, err
		}
		v, err := operand.place.Load()
		if err != nil {
			return result{}, wrap(t, err)
		}
		return result{val: v}, nil
	case t.Is("-") || t.Is("+") || t.Is("~") || t.Is("!"):
		e.pos++
		operand, err := e.unary()
		if err != nil || e.skipping() {
			return result{}, err
		}
		v, err := operand.load()
		if err != nil {
			return result{}, wrap(t, err)
		}
		if v, err = value.Unary(t.Text, v); err != nil {
			return result{}, wrap(t, err)
		}
		return result{val: v}, nil
	case t.Is("&") || t.Is("*"):
		// address-of and dereference are identities on object references
		e.pos++
		return e.unary()
	case t.Is("("):
		if typ, n, ok := e.castType(); ok {
			e.pos += n
			operand, err := e.unary()
			if err != nil || e.skipping() {
				return result{}, err
			}
			v, err := operand.load()
			if err != nil {
				return result{}, wrap(t, err)
			}
			if typ.Any || typ.Kind == value.Object {
				return result{val: v}, nil
			}
			return result{val: value.Convert(v, typ.Kind)}, nil
		}
	case t.IsKeyword("new"):
		return e.newExpr()
	}
	return e.postfix()
}

// increment applies ++ or -- to an operand's place and returns the old value.
func (e *evaluator) increment(t lexer.Token, operand result, op string) (value.Value, error) {
	if operand.place == nil {
		return value.Unset, wrap(t, ErrNotAssignable)
	}
	old, err := operand.place.Load()
	if err != nil {
		return value.Unset, wrap(t, err)
	}
	nv, err := value.Binary(op[:1], old, value.NewInt(1))
	if err != nil {
		return value.Unset, wrap(t, err)
	}
	if err := operand.place.Store(nv); err != nil {
		return value.Unset, wrap(t, err)
	}
	return old, nil
}

// castType recognizes `(type)` and `(Class*)` at the cursor and returns the
// number of tokens the cast prefix spans.
func (e *evaluator) castType() (value.Type, int, bool) {
	if e.pos+2 >= len(e.toks) {
		return value.Type{}, 0, false
	}
	name := e.toks[e.pos+1]
	n := 2
	if e.pos+n < len(e.toks) && e.toks[e.pos+n].Is("*") {
		n++
	}
	if e.pos+n >= len(e.toks) || !e.toks[e.pos+n].Is(")") {
		return value.Type{}, 0, false
	}
	switch name.Kind {
	case lexer.Keyword:
		k, ok := value.KindOf(name.Text)
		if !ok || k == value.Void {
			return value.Type{}, 0, false
		}
		return value.Primitive(k), n + 1, true
	case lexer.Identifier:
		if e.rt == nil {
			return value.Type{}, 0, false
		}
		if e.env != nil {
			if _, isVar := e.env.Lookup(name.Text); isVar {
				return value.Type{}, 0, false
			}
		}
		typ, ok := e.rt.Type(name.Text)
		return typ, n + 1, ok
	}
	return value.Type{}, 0, false
}

func (e *evaluator) newExpr() (result, error) {
	t := e.cur()
	e.pos++
	if e.eof() || e.cur().Kind != lexer.Identifier {
		return result{}, wrap(e.cur(), fmt.Errorf("%w: expected class name after new", ErrSyntax))
	}
	class := e.cur().Text
	e.pos++
	if e.at("<") {
		for !e.eof() && !e.at(">") {
			e.pos++
		}
		e.pos++
	}
	var args []Arg
	if e.at("(") {
		var err error
		if args, err = e.args(); err != nil {
			return result{}, err
		}
	}
	if e.skipping() {
		return result{}, nil
	}
	if e.rt == nil {
		return result{}, wrap(t, ErrNoRuntime)
	}
	v, err := e.rt.New(class, args)
	if err != nil {
		return result{}, wrap(t, err)
	}
	return result{val: v}, nil
}

func (e *evaluator) postfix() (result, error) {
	r, err := e.primary()
	if err != nil {
		return r, err
	}
	for !e.eof() {
		t := e.cur()
		switch {
		case t.Is("["):
			e.pos++
			idx, err := e.expr()
			if err != nil {
				return result{}, err
			}
			if err := e.expect("]"); err != nil {
				return result{}, err
			}
			if e.skipping() {
				continue
			}
			iv, err := idx.load()
			if err != nil {
				return result{}, wrap(t, err)
			}
			r, err = e.index(r, iv.Int64())
			if err != nil {
				return result{}, wrap(t, err)
			}
		case t.Is(".") || t.Is("->"):
			e.pos++
			nameTok := e.cur()
			if nameTok.Kind != lexer.Identifier {
				return result{}, wrap(nameTok, fmt.Errorf("%w: expected member name", ErrSyntax))
			}
			e.pos++
			if e.at("(") {
				args, err := e.args()
				if err != nil {
					return result{}, err
				}
				if e.skipping() {
					continue
				}
				recv, err := r.load()
				if err != nil {
					return result{}, wrap(t, err)
				}
				obj := recv.Object()
				if obj == nil || obj.Deleted {
					return result{}, wrap(t, ErrNullPointer)
				}
				if e.rt == nil {
					return result{}, wrap(t, ErrNoRuntime)
				}
				v, err := e.rt.CallMethod(obj, nameTok.Text, args)
				if err != nil {
					return result{}, wrap(nameTok, err)
				}
				r = result{val: v}
				continue
			}
			if e.skipping() {
				continue
			}
			r = e.member(r, nameTok.Text)
		case t.Is("++") || t.Is("--"):
			e.pos++
			if e.skipping() {
				continue
			}
			old, err := e.increment(t, r, t.Text)
			if err != nil {
				return result{}, err
			}
			r = result{val: old}
		default:
			return r, nil
		}
	}
	return r, nil
}

func temp(v value.Value) *Place {
	return NewPlace("", &value.Var{Type: value.Type{Any: true}, Value: v})
}

func (e *evaluator) index(r result, i int64) (result, error) {
	p := r.place
	if p == nil {
		p = temp(r.val)
	}
	return result{place: p.With(Step{Index: i, IsIndex: true})}, nil
}

func (e *evaluator) member(r result, name string) result {
	p := r.place
	if p == nil {
		p = temp(r.val)
	}
	return result{place: p.With(Step{Field: name})}
}

func (e *evaluator) args() ([]Arg, error) {
	if err := e.expect("("); err != nil {
		return nil, err
	}
	var args []Arg
	if e.at(")") {
		e.pos++
		return nil, nil
	}
	for {
		start := e.cur()
		r, err := e.assignment()
		if err != nil {
			return nil, err
		}
		if !e.skipping() {
			v, err := r.load()
			if err != nil {
				return nil, wrap(start, err)
			}
			args = append(args, Arg{Value: v, Ref: r.place})
		}
		if e.at(",") {
			e.pos++
			continue
		}
		if err := e.expect(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (e *evaluator) primary() (result, error) {
	if e.eof() {
		return result{}, wrap(e.cur(), fmt.Errorf("%w: unexpected end of expression", ErrSyntax))
	}
	t := e.cur()
	switch {
	case t.Kind == lexer.Number:
		e.pos++
		v, err := Literal(t.Text)
		if err != nil {
			return result{}, wrap(t, err)
		}
		return result{val: v}, nil
	case t.Kind == lexer.String:
		var b strings.Builder
		for !e.eof() && e.cur().Kind == lexer.String {
			s, err := lexer.DecodeString(e.cur().Text)
			if err != nil {
				return result{}, wrap(e.cur(), err)
			}
			b.WriteString(s)
			e.pos++
		}
		return result{val: value.NewString(b.String())}, nil
	case t.IsKeyword("true"), t.IsKeyword("false"):
		e.pos++
		return result{val: value.NewBool(t.Text == "true")}, nil
	case t.IsKeyword("NULL"):
		e.pos++
		return result{val: value.Null}, nil
	case t.IsKeyword("this"):
		e.pos++
		return e.variable(t, "this")
	case t.Is("("):
		e.pos++
		r, err := e.expr()
		if err != nil {
			return result{}, err
		}
		return r, e.expect(")")
	case t.Is("::"):
		e.pos++
		return e.primary()
	case t.Kind == lexer.Identifier:
		e.pos++
		if e.at("::") {
			return e.scoped(t)
		}
		if e.at("(") {
			return e.call(t)
		}
		return e.variable(t, t.Text)
	}
	return result{}, wrap(t, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.Text))
}

func (e *evaluator) variable(t lexer.Token, name string) (result, error) {
	if e.env != nil {
		if v, ok := e.env.Lookup(name); ok {
			return result{place: NewPlace(name, v)}, nil
		}
	}
	if e.skipping() {
		return result{}, nil
	}
	return result{}, wrap(t, fmt.Errorf("%w %s", ErrUndeclared, name))
}

func (e *evaluator) call(t lexer.Token) (result, error) {
	args, err := e.args()
	if err != nil || e.skipping() {
		return result{}, err
	}
	if e.rt == nil {
		return result{}, wrap(t, ErrNoRuntime)
	}
	v, err := e.rt.Call(t.Text, args)
	if err != nil {
		return result{}, wrap(t, err)
	}
	return result{val: v}, nil
}

// scoped handles Class::member and Class::Method(...).
func (e *evaluator) scoped(class lexer.Token) (result, error) {
	e.pos++
	nameTok := e.cur()
	if nameTok.Kind != lexer.Identifier {
		return result{}, wrap(nameTok, fmt.Errorf("%w: expected member after ::", ErrSyntax))
	}
	e.pos++
	if e.at("(") {
		args, err := e.args()
		if err != nil || e.skipping() {
			return result{}, err
		}
		if e.rt == nil {
			return result{}, wrap(class, ErrNoRuntime)
		}
		v, err := e.rt.CallStatic(class.Text, nameTok.Text, args)
		if err != nil {
			return result{}, wrap(nameTok, err)
		}
		return result{val: v}, nil
	}
	return e.variable(nameTok, class.Text+"::"+nameTok.Text)
}

// Literal converts a numeric, char, color or datetime token to a value.
// Integer literals are int when they fit in 32 bits, long when they fit in
// 64 signed bits, and ulong beyond that. Hex literals that fit in 32
// unsigned bits are uint.
func Literal(text string) (value.Value, error) {
	switch {
	case strings.HasPrefix(text, "'"):
		c, err := lexer.DecodeChar(text)
		return value.NewInt(c), err
	case strings.HasPrefix(text, "C'"):
		c, err := lexer.ParseColor(text)
		return value.NewColor(uint64(c)), err
	case strings.HasPrefix(text, "D'"):
		d, err := lexer.ParseDatetime(text)
		return value.NewDatetime(d), err
	case strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X"):
		n, err := strconv.ParseUint(text[2:], 16, 64)
		if err != nil {
			return value.Unset, fmt.Errorf("%w: malformed literal %s", ErrSyntax, text)
		}
		switch {
		case n <= math.MaxInt32:
			return value.NewInt(int64(n)), nil
		case n <= math.MaxUint32:
			return value.NewUInt(n), nil
		}
		return sized(n), nil
	case strings.ContainsAny(text, ".eE"):
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return value.Unset, fmt.Errorf("%w: malformed literal %s", ErrSyntax, text)
		}
		return value.NewDouble(f), nil
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return value.Unset, fmt.Errorf("%w: malformed literal %s", ErrSyntax, text)
	}
	if n <= math.MaxInt32 {
		return value.NewInt(int64(n)), nil
	}
	return sized(n), nil
}

func sized(n uint64) value.Value {
	if n <= math.MaxInt64 {
		return value.NewLong(int64(n))
	}
	return value.NewULong(n)
}

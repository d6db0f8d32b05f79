package runtime

import (
	"fmt"
	"strings"

	"mqlbt/internal/ast"
	"mqlbt/internal/eval"
	"mqlbt/internal/lexer"
	"mqlbt/internal/value"
)

// ResolveType maps a written type and its dimensions to a runtime type.
// Enums compute as int; template parameters accept any value.
func (rt *Runtime) ResolveType(ref ast.TypeRef, dims []string, tpl []string) (value.Type, error) {
	var t value.Type
	switch k, ok := value.KindOf(ref.Name); {
	case ok:
		t = value.Primitive(k)
	case contains(tpl, ref.Name):
		t = value.Type{Any: true}
	case rt.Enums[ref.Name] != nil, strings.HasPrefix(ref.Name, "ENUM_"):
		t = value.Primitive(value.Int)
	case rt.Classes[ref.Name] != nil:
		t = value.Type{Kind: value.Object, Class: ref.Name, Pointer: ref.Pointer}
	case ref.Name == "object":
		t = value.Type{Kind: value.Object, Pointer: true}
	default:
		return value.Type{}, fmt.Errorf("%w %s", ErrUnknownType, ref.Name)
	}
	t.Name = ref.Name
	for _, d := range dims {
		n := 0
		if strings.TrimSpace(d) != "" {
			v, err := eval.Evaluate(d, rt.globalEnv(), nil)
			if err != nil {
				return value.Type{}, fmt.Errorf("array dimension %q: %w", d, err)
			}
			n = int(v.Int64())
		}
		t.Dims = append(t.Dims, n)
	}
	return t, nil
}

// Type implements eval.Runtime: it resolves class names for casts.
func (rt *Runtime) Type(name string) (value.Type, bool) {
	if _, ok := rt.Classes[name]; ok {
		return value.Type{Kind: value.Object, Class: name, Pointer: true, Name: name}, true
	}
	if _, ok := rt.Enums[name]; ok {
		return value.Type{Kind: value.Int, Name: name}, true
	}
	return value.Type{}, false
}

// zero returns the initial value of a declared variable: arrays are
// allocated, struct and class values are instantiated with their default
// constructor, everything else is the type's zero.
func (rt *Runtime) zero(t value.Type) value.Value {
	switch {
	case t.IsArray():
		return value.NewArray(value.MakeArray(t, rt.zero))
	case t.Kind == value.Object && !t.Pointer && t.Class != "":
		obj, err := rt.instantiate(t.Class, true)
		if err != nil {
			rt.logger.Warn("instantiating element", "class", t.Class, "error", err)
			return value.Null
		}
		if err := rt.runConstructor(obj, t.Class, nil); err != nil {
			rt.logger.Warn("default constructor", "class", t.Class, "error", err)
		}
		return value.NewObject(obj)
	}
	return value.Zero(t)
}

// blank is zero for a declaration about to be constructed with arguments:
// class values are left for the constructor to allocate.
func (rt *Runtime) blank(t value.Type, hasArgs bool) value.Value {
	if hasArgs && t.Kind == value.Object && !t.Pointer && !t.IsArray() && t.Class != "" {
		return value.Null
	}
	return rt.zero(t)
}

// chain returns the class and its ancestors, most derived first.
func (rt *Runtime) chain(name string) []*ast.Class {
	var out []*ast.Class
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		c, ok := rt.Classes[name]
		if !ok {
			break
		}
		out = append(out, c)
		name = c.Base
	}
	return out
}

// IsA reports whether class derives from (or is) base.
func (rt *Runtime) IsA(class, base string) bool {
	for _, c := range rt.chain(class) {
		if c.Name == base {
			return true
		}
	}
	return false
}

// instantiate builds an object of class with fields from the whole base
// chain. Scalar fields start unset unless zeroed is true; array and nested
// struct fields are always allocated.
func (rt *Runtime) instantiate(class string, zeroed bool) (*value.Instance, error) {
	c, ok := rt.Classes[class]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownType, class)
	}
	if c.Abstract {
		return nil, fmt.Errorf("%w %s", ErrAbstract, class)
	}
	obj := value.NewObjectOf(class)
	chain := rt.chain(class)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Fields {
			if f.Static {
				continue
			}
			typ, err := rt.ResolveType(f.Type, f.Dims, chain[i].Template)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", chain[i].Name, f.Name, err)
			}
			var v value.Value
			if zeroed || typ.IsArray() || (typ.Kind == value.Object && !typ.Pointer) {
				v = rt.zero(typ)
			}
			fv := obj.AddField(f.Name, typ, v)
			fv.Const = f.Type.Const
			if f.Init != "" {
				if err := rt.initialize(fv, f.Init, rt.globalEnv()); err != nil {
					return nil, fmt.Errorf("%s.%s: %w", chain[i].Name, f.Name, err)
				}
			}
		}
	}
	return obj, nil
}

// New implements eval.Runtime: `new Class(args)` allocates an object with
// unset fields and runs the matching constructor.
func (rt *Runtime) New(class string, args []eval.Arg) (value.Value, error) {
	obj, err := rt.instantiate(class, false)
	if err != nil {
		return value.Unset, err
	}
	if err := rt.runConstructor(obj, class, args); err != nil {
		return value.Unset, err
	}
	return value.NewObject(obj), nil
}

// initialize evaluates initializer text into v.
func (rt *Runtime) initialize(v *value.Var, text string, fr *frame) error {
	toks, err := lex(text)
	if err != nil {
		return err
	}
	return rt.initTokens(v, toks, fr)
}

func lex(text string) ([]lexer.Token, error) {
	toks, errs := lexer.Lex(text)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return toks, nil
}

// initTokens evaluates an initializer span into v. Brace lists fill arrays
// and struct fields in order; struct values are copied.
func (rt *Runtime) initTokens(v *value.Var, toks []lexer.Token, fr *frame) error {
	if n := len(toks); n >= 2 && toks[0].Is("{") && toks[n-1].Is("}") {
		return rt.initList(v, toks[1:n-1], fr)
	}
	x, err := eval.EvalTokens(toks, fr, fr)
	if err != nil {
		return err
	}
	conv, err := value.Assign(v.Type, x)
	if err != nil {
		return err
	}
	v.Value = conv
	return nil
}

func (rt *Runtime) initList(v *value.Var, body []lexer.Token, fr *frame) error {
	items := splitTokens(body)
	switch {
	case v.Type.IsArray():
		arr := v.Value.Array()
		if arr == nil {
			arr = value.MakeArray(v.Type, rt.zero)
			v.Value = value.NewArray(arr)
		}
		if arr.Len() < len(items) {
			arr.Resize(len(items), rt.zero)
		}
		for i, item := range items {
			elem := &value.Var{Type: arr.Elem}
			if cur, err := arr.Get(int64(i)); err == nil {
				elem.Value = cur
			}
			if err := rt.initTokens(elem, item, fr); err != nil {
				return err
			}
			if err := arr.Set(int64(i), elem.Value); err != nil {
				return err
			}
		}
	case v.Type.Kind == value.Object && v.Value.Object() != nil:
		obj := v.Value.Object()
		for i, item := range items {
			if i >= len(obj.Order) {
				break
			}
			if err := rt.initTokens(obj.Fields[obj.Order[i]], item, fr); err != nil {
				return err
			}
		}
	case len(items) > 0:
		return rt.initTokens(v, items[0], fr)
	}
	return nil
}

// splitTokens splits a span at commas outside brackets. Empty items are
// dropped.
func splitTokens(toks []lexer.Token) [][]lexer.Token {
	var out [][]lexer.Token
	depth, start := 0, 0
	flush := func(end int) {
		if end > start {
			out = append(out, toks[start:end])
		}
	}
	for i, t := range toks {
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
		case t.Is(",") && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(toks))
	return out
}

// construct initializes v from constructor arguments given as text, as in
// `CFoo foo(1, 2);` or an initializer-list entry.
func (rt *Runtime) construct(v *value.Var, argText string, fr *frame) error {
	toks, err := lex(argText)
	if err != nil {
		return err
	}
	return rt.constructTokens(v, toks, fr)
}

func (rt *Runtime) constructTokens(v *value.Var, toks []lexer.Token, fr *frame) error {
	if v.Type.Kind != value.Object || v.Type.Class == "" || v.Type.Pointer || v.Type.IsArray() {
		return rt.initTokens(v, toks, fr)
	}
	args, err := rt.argsOf(toks, fr)
	if err != nil {
		return err
	}
	obj, err := rt.instantiate(v.Type.Class, true)
	if err != nil {
		return err
	}
	if err := rt.runConstructor(obj, v.Type.Class, args); err != nil {
		return err
	}
	v.Value = value.NewObject(obj)
	return nil
}

func (rt *Runtime) evalArgs(text string, fr *frame) ([]eval.Arg, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	return rt.argsOf(toks, fr)
}

// argsOf evaluates a comma-separated argument span, keeping the place of
// every assignable argument.
func (rt *Runtime) argsOf(toks []lexer.Token, fr *frame) ([]eval.Arg, error) {
	var args []eval.Arg
	for _, span := range splitTokens(toks) {
		p, v, err := eval.PlaceOf(span, fr, fr)
		if err != nil {
			return nil, err
		}
		args = append(args, eval.Arg{Value: v, Ref: p})
	}
	return args, nil
}

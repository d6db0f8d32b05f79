package runtime

import (
	"fmt"

	"mqlbt/internal/ast"
	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// Call implements eval.Runtime. Script functions take precedence over
// builtins; among overloads the first declaration whose required parameter
// count is at most, and whose total is at least, the argument count wins.
func (rt *Runtime) Call(name string, args []eval.Arg) (value.Value, error) {
	if overloads := rt.Functions[name]; len(overloads) > 0 {
		fn, idx := resolve(overloads, len(args))
		if fn == nil {
			return value.Unset, fmt.Errorf("%w: %s called with %d", ErrArgCount, name, len(args))
		}
		if fn.Prototype {
			return value.Unset, fmt.Errorf("%w %s: declared without a body", ErrUnknownFunction, name)
		}
		fr := &frame{rt: rt, fn: fn, key: overloadKey(name, idx), tpl: fn.Template}
		return rt.invoke(fr, fn, args, nil)
	}
	if b, ok := rt.builtins[name]; ok {
		return b(rt, args)
	}
	return value.Unset, fmt.Errorf("%w %s", ErrUnknownFunction, name)
}

// CallValues calls name with by-value arguments.
func (rt *Runtime) CallValues(name string, vals ...value.Value) (value.Value, error) {
	args := make([]eval.Arg, len(vals))
	for i, v := range vals {
		args[i] = eval.Arg{Value: v}
	}
	return rt.Call(name, args)
}

func resolve(overloads []*ast.Function, argc int) (*ast.Function, int) {
	for i, fn := range overloads {
		if fn.Required() <= argc && argc <= len(fn.Params) {
			return fn, i
		}
	}
	return nil, -1
}

func overloadKey(name string, idx int) string {
	if idx <= 0 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, idx)
}

// CallMethod implements eval.Runtime. Dispatch starts at the dynamic class
// of obj and walks up the base chain, so overrides always win.
func (rt *Runtime) CallMethod(obj *value.Instance, name string, args []eval.Arg) (value.Value, error) {
	if obj == nil || obj.Deleted {
		return value.Unset, eval.ErrNullPointer
	}
	m, owner := rt.findMethod(obj.Class, name, len(args))
	if m == nil {
		return value.Unset, rt.methodError(obj.Class, name, len(args))
	}
	if m.Static {
		return rt.invokeMethod(nil, owner, m, args)
	}
	return rt.invokeMethod(obj, owner, m, args)
}

// CallStatic implements eval.Runtime for Class::Method(...) outside an
// instance of Class.
func (rt *Runtime) CallStatic(class, name string, args []eval.Arg) (value.Value, error) {
	if _, ok := rt.Classes[class]; !ok {
		return value.Unset, fmt.Errorf("%w %s", ErrUnknownType, class)
	}
	m, owner := rt.findMethod(class, name, len(args))
	if m == nil {
		return value.Unset, rt.methodError(class, name, len(args))
	}
	return rt.invokeMethod(nil, owner, m, args)
}

// findMethod returns the first method named name accepting argc arguments,
// searching class and then its bases. Bodiless prototypes are skipped.
func (rt *Runtime) findMethod(class, name string, argc int) (*ast.Method, *ast.Class) {
	for _, c := range rt.chain(class) {
		for _, m := range c.MethodsNamed(name) {
			if m.Prototype || m.Pure {
				continue
			}
			if m.Required() <= argc && argc <= len(m.Params) {
				return m, c
			}
		}
	}
	return nil, nil
}

func (rt *Runtime) methodError(class, name string, argc int) error {
	for _, c := range rt.chain(class) {
		if len(c.MethodsNamed(name)) > 0 {
			return fmt.Errorf("%w: %s::%s called with %d", ErrArgCount, class, name, argc)
		}
	}
	return fmt.Errorf("%w %s::%s", ErrUnknownFunction, class, name)
}

func (rt *Runtime) methodKey(owner *ast.Class, m *ast.Method) string {
	name := owner.Name + "::" + m.Name
	idx := 0
	for _, other := range owner.Methods {
		if other == m {
			break
		}
		if other.Name == m.Name && other.Kind == m.Kind {
			idx++
		}
	}
	return overloadKey(name, idx)
}

func (rt *Runtime) invokeMethod(this *value.Instance, owner *ast.Class, m *ast.Method, args []eval.Arg) (value.Value, error) {
	fr := &frame{
		rt:    rt,
		this:  this,
		class: owner,
		fn:    &m.Function,
		key:   rt.methodKey(owner, m),
		tpl:   append(append([]string(nil), owner.Template...), m.Template...),
	}
	return rt.invoke(fr, &m.Function, args, nil)
}

// invoke binds parameters, materializes static locals on first call, runs
// prologue (constructor initializer lists) and interprets the body.
func (rt *Runtime) invoke(fr *frame, fn *ast.Function, args []eval.Arg, prologue func(*frame) error) (value.Value, error) {
	if rt.depth >= MaxDepth {
		return value.Unset, fmt.Errorf("%w in %s", ErrStackOverflow, fn.DeclName())
	}
	rt.depth++
	defer func() { rt.depth-- }()

	fr.push()
	if err := rt.bindParams(fr, fn, args); err != nil {
		return value.Unset, err
	}
	if err := rt.materializeStatics(fr, fn); err != nil {
		return value.Unset, err
	}
	if prologue != nil {
		if err := prologue(fr); err != nil {
			return value.Unset, err
		}
	}
	x := &executor{rt: rt, fr: fr}
	if _, err := x.seq(fn.Tokens); err != nil {
		return value.Unset, err
	}
	if fn.Return.Name == "" || fn.Return.Name == "void" {
		return value.Unset, nil
	}
	typ, err := rt.ResolveType(fn.Return, nil, fr.tpl)
	if err != nil {
		return value.Unset, err
	}
	if x.ret.IsUnset() {
		return value.Zero(typ), nil
	}
	ret, err := value.Assign(typ, x.ret)
	if err != nil {
		return value.Unset, fmt.Errorf("return from %s: %w", fn.DeclName(), err)
	}
	return ret, nil
}

func (rt *Runtime) bindParams(fr *frame, fn *ast.Function, args []eval.Arg) error {
	for i, p := range fn.Params {
		typ, err := rt.ResolveType(p.Type, p.Dims, fr.tpl)
		if err != nil {
			return fmt.Errorf("parameter %s of %s: %w", p.Name, fn.DeclName(), err)
		}
		if i >= len(args) {
			v := &value.Var{Type: typ, Value: value.Zero(typ)}
			if err := rt.initialize(v, p.Default, rt.globalEnv()); err != nil {
				return fmt.Errorf("default of %s in %s: %w", p.Name, fn.DeclName(), err)
			}
			v.Const = p.Type.Const
			fr.declare(p.Name, v)
			continue
		}
		a := args[i]
		if p.Ref || typ.IsArray() {
			v, err := rt.bindRef(typ, a)
			if err != nil {
				return fmt.Errorf("%w: argument %d (%s) of %s: %v", ErrRefParam, i+1, p.Name, fn.DeclName(), err)
			}
			fr.declare(p.Name, v)
			continue
		}
		if err := rt.checkArg(typ, a.Value); err != nil {
			return fmt.Errorf("%w: argument %d (%s) of %s: %v", ErrArgType, i+1, p.Name, fn.DeclName(), err)
		}
		conv, err := value.Assign(typ, a.Value)
		if err != nil {
			return fmt.Errorf("%w: argument %d (%s) of %s: %v", ErrArgType, i+1, p.Name, fn.DeclName(), err)
		}
		fr.declare(p.Name, &value.Var{Type: typ, Value: conv, Const: p.Type.Const})
	}
	if len(args) > len(fn.Params) {
		return fmt.Errorf("%w: %s called with %d", ErrArgCount, fn.DeclName(), len(args))
	}
	return nil
}

// bindRef aliases a parameter to the caller's place. Primitive references
// require the same kind; object references accept the class or a subclass.
func (rt *Runtime) bindRef(typ value.Type, a eval.Arg) (*value.Var, error) {
	if a.Ref == nil {
		return nil, fmt.Errorf("expression is not assignable")
	}
	if !typ.Any {
		switch {
		case typ.IsArray():
			arr := a.Value.Array()
			if arr == nil {
				return nil, fmt.Errorf("%s is not an array", a.Ref)
			}
			elem := typ.Elem()
			if !elem.Any && !arr.Elem.Any && len(typ.Dims) == 1 && elem.Kind != arr.Elem.Kind {
				return nil, fmt.Errorf("%s is %s[], want %s[]", a.Ref, arr.Elem.Kind, elem.Kind)
			}
		case typ.Kind == value.Object:
			if a.Value.Kind() != value.Object {
				return nil, fmt.Errorf("%s is %s, want %s", a.Ref, a.Value.Kind(), typ.Class)
			}
			if o := a.Value.Object(); o != nil && typ.Class != "" && !rt.IsA(o.Class, typ.Class) {
				return nil, fmt.Errorf("%s is %s, want %s", a.Ref, o.Class, typ.Class)
			}
		default:
			pt := a.Ref.Type()
			if !pt.Any && pt.Kind != typ.Kind {
				return nil, fmt.Errorf("%s is %s, want %s", a.Ref, pt.Kind, typ.Kind)
			}
		}
	}
	return &value.Var{Type: typ, Alias: a.Ref}, nil
}

// checkArg rejects by-value arguments whose kind cannot convert to typ.
func (rt *Runtime) checkArg(typ value.Type, v value.Value) error {
	k := v.Kind()
	switch {
	case typ.Any, k == value.Invalid:
		return nil
	case typ.Kind == value.Object:
		if k == value.Object {
			if o := v.Object(); o != nil && typ.Class != "" && !rt.IsA(o.Class, typ.Class) {
				return fmt.Errorf("%s is not a %s", o.Class, typ.Class)
			}
			return nil
		}
		if k.IsInteger() && v.Uint64() == 0 {
			return nil
		}
	case k == value.Object || k == value.Array || k == value.Void:
	case typ.Kind == value.String:
		return nil
	case k == value.String:
	default:
		return nil
	}
	return fmt.Errorf("cannot pass %s as %s", k, typ)
}

// materializeStatics creates the static locals of fn's key on its first
// call. Each is initialized once; an initializer that fails to evaluate or
// convert leaves its raw text as a string value.
func (rt *Runtime) materializeStatics(fr *frame, fn *ast.Function) error {
	if _, done := rt.statics[fr.key]; done {
		return nil
	}
	store := make(map[string]*value.Var)
	rt.statics[fr.key] = store
	for _, l := range fn.Locals {
		if !l.Static {
			continue
		}
		if _, dup := store[l.Name]; dup {
			continue
		}
		typ, err := rt.ResolveType(l.Type, l.Dims, fr.tpl)
		if err != nil {
			return fmt.Errorf("%s: static %s: %w", l.Pos, l.Name, err)
		}
		v := &value.Var{Type: typ, Value: rt.blank(typ, l.HasArgs)}
		switch {
		case l.HasArgs:
			if err := rt.construct(v, l.Args, fr); err != nil {
				return fmt.Errorf("%s: static %s: %w", l.Pos, l.Name, err)
			}
		case l.Init != "":
			if err := rt.initialize(v, l.Init, fr); err != nil {
				v.Value = value.NewString(l.Init)
			}
		}
		store[l.Name] = v
	}
	return nil
}

// Statics returns the static-local store of a function key, e.g. "Count" or
// "CFoo::Next".
func (rt *Runtime) Statics(key string) map[string]*value.Var {
	return rt.statics[key]
}

// ---------------------------------------------------------------------------
// Construction and destruction
// ---------------------------------------------------------------------------

// runConstructor runs the constructor of class matching args on obj. Base
// classes are constructed first, with arguments from the initializer list
// when it names the base.
func (rt *Runtime) runConstructor(obj *value.Instance, class string, args []eval.Arg) error {
	c, ok := rt.Classes[class]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownType, class)
	}
	ctors := c.Constructors()
	var ctor *ast.Method
	for _, m := range ctors {
		if m.Required() <= len(args) && len(args) <= len(m.Params) {
			ctor = m
			break
		}
	}
	if ctor == nil || ctor.Prototype {
		if len(args) > 0 || (len(ctors) > 0 && ctor == nil) {
			return fmt.Errorf("%w: constructor %s called with %d", ErrArgCount, class, len(args))
		}
		if c.Base != "" {
			return rt.runConstructor(obj, c.Base, nil)
		}
		return nil
	}
	fr := &frame{rt: rt, this: obj, class: c, fn: &ctor.Function, key: rt.methodKey(c, ctor), tpl: c.Template}
	_, err := rt.invoke(fr, &ctor.Function, args, func(fr *frame) error {
		var baseArgs []eval.Arg
		for _, in := range ctor.Inits {
			if in.Name != c.Base {
				continue
			}
			var err error
			if baseArgs, err = rt.evalArgs(in.Args, fr); err != nil {
				return fmt.Errorf("initializing base %s: %w", c.Base, err)
			}
		}
		if c.Base != "" {
			if err := rt.runConstructor(obj, c.Base, baseArgs); err != nil {
				return err
			}
		}
		for _, in := range ctor.Inits {
			if in.Name == c.Base {
				continue
			}
			f, ok := obj.Fields[in.Name]
			if !ok {
				return fmt.Errorf("%w %s in %s", eval.ErrNoField, in.Name, class)
			}
			if err := rt.construct(f, in.Args, fr); err != nil {
				return fmt.Errorf("initializing %s: %w", in.Name, err)
			}
		}
		return nil
	})
	return err
}

// Delete runs destructors from the dynamic class up the chain and marks
// the object deleted. Deleting a deleted object is a no-op.
func (rt *Runtime) Delete(obj *value.Instance) error {
	if obj == nil || obj.Deleted {
		return nil
	}
	for _, c := range rt.chain(obj.Class) {
		m, ok := c.Destructor()
		if !ok || m.Prototype {
			continue
		}
		if _, err := rt.invokeMethod(obj, c, m, nil); err != nil {
			return err
		}
	}
	obj.Deleted = true
	return nil
}

package runtime

import (
	"mqlbt/internal/ast"
	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// frame is the variable environment of one call. It resolves names in the
// order locals, fields of this, static members of the class chain, globals,
// host variables, constants; and routes unqualified calls inside methods to
// the receiver first.
type frame struct {
	rt     *Runtime
	scopes []map[string]*value.Var
	this   *value.Instance
	class  *ast.Class
	fn     *ast.Function
	key    string
	tpl    []string
}

// Compile-time interface checks.
var (
	_ eval.Env     = (*frame)(nil)
	_ eval.Runtime = (*frame)(nil)
)

// globalEnv is the environment of initializers and dimension expressions.
func (rt *Runtime) globalEnv() *frame {
	return &frame{rt: rt}
}

func (f *frame) push() { f.scopes = append(f.scopes, make(map[string]*value.Var)) }

func (f *frame) pop() { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *frame) declare(name string, v *value.Var) {
	if len(f.scopes) == 0 {
		f.push()
	}
	f.scopes[len(f.scopes)-1][name] = v
}

// Lookup implements eval.Env.
func (f *frame) Lookup(name string) (*value.Var, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if v, ok := f.scopes[i][name]; ok {
			return v, true
		}
	}
	if f.this != nil {
		if name == "this" {
			return &value.Var{
				Type:  value.Type{Kind: value.Object, Class: f.this.Class, Pointer: true},
				Value: value.NewObject(f.this),
				Const: true,
			}, true
		}
		if v, ok := f.this.Fields[name]; ok {
			return v, true
		}
	}
	if f.class != nil {
		for _, c := range f.rt.chain(f.class.Name) {
			if v, ok := f.rt.Globals[c.Name+"::"+name]; ok {
				return v, true
			}
		}
	}
	if v, ok := f.rt.Globals[name]; ok {
		return v, true
	}
	if v, ok := f.rt.host[name]; ok {
		return v, true
	}
	if v, ok := f.rt.constants[name]; ok {
		return v, true
	}
	return nil, false
}

// Call implements eval.Runtime. Inside a method an unqualified name binds
// to a method of the class chain before free functions.
func (f *frame) Call(name string, args []eval.Arg) (value.Value, error) {
	if f.class != nil {
		start := f.class.Name
		if f.this != nil {
			start = f.this.Class
		}
		if m, owner := f.rt.findMethod(start, name, len(args)); m != nil {
			if f.this == nil || m.Static {
				return f.rt.invokeMethod(nil, owner, m, args)
			}
			return f.rt.invokeMethod(f.this, owner, m, args)
		}
	}
	return f.rt.Call(name, args)
}

// CallMethod implements eval.Runtime.
func (f *frame) CallMethod(obj *value.Instance, name string, args []eval.Arg) (value.Value, error) {
	return f.rt.CallMethod(obj, name, args)
}

// CallStatic implements eval.Runtime. Base::Method() from a derived method
// calls the base implementation on the same receiver.
func (f *frame) CallStatic(class, name string, args []eval.Arg) (value.Value, error) {
	if f.this != nil && f.rt.IsA(f.this.Class, class) {
		m, owner := f.rt.findMethod(class, name, len(args))
		if m == nil {
			return value.Unset, f.rt.methodError(class, name, len(args))
		}
		if m.Static {
			return f.rt.invokeMethod(nil, owner, m, args)
		}
		return f.rt.invokeMethod(f.this, owner, m, args)
	}
	return f.rt.CallStatic(class, name, args)
}

// New implements eval.Runtime.
func (f *frame) New(class string, args []eval.Arg) (value.Value, error) {
	return f.rt.New(class, args)
}

// Type implements eval.Runtime.
func (f *frame) Type(name string) (value.Type, bool) {
	if contains(f.tpl, name) {
		return value.Type{Any: true}, true
	}
	return f.rt.Type(name)
}

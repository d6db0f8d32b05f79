package value

import (
	"errors"
	"fmt"
)

// Type is a declared type: a primitive kind, a class, or an array of them.
type Type struct {
	Kind    Kind
	Class   string // class or struct name when Kind is Object
	Name    string // declared name for enums; empty otherwise
	Dims    []int  // array dimensions, 0 for a dynamic dimension
	Pointer bool
	Any     bool // template parameter: values are stored without conversion
}

// Primitive returns the type of a scalar kind.
func Primitive(k Kind) Type {
	return Type{Kind: k}
}

// IsArray reports whether t has dimensions.
func (t Type) IsArray() bool { return len(t.Dims) > 0 }

// Elem returns the type of one element of an array type.
func (t Type) Elem() Type {
	if len(t.Dims) == 0 {
		return t
	}
	t.Dims = t.Dims[1:]
	return t
}

func (t Type) String() string {
	name := t.Kind.String()
	switch {
	case t.Kind == Object:
		name = t.Class
	case t.Name != "":
		name = t.Name
	}
	if t.Pointer {
		name += "*"
	}
	for _, d := range t.Dims {
		if d == 0 {
			name += "[]"
		} else {
			name += fmt.Sprintf("[%d]", d)
		}
	}
	return name
}

// Ref is an assignable location.
type Ref interface {
	Load() (Value, error)
	Store(Value) error
}

// ErrConst is returned when storing into a constant.
var ErrConst = errors.New("assignment to constant")

// Var is a named storage cell. A Var with an Alias forwards every load and
// store to it; reference parameters are bound this way.
type Var struct {
	Type  Type
	Value Value
	Const bool
	Alias Ref
}

var _ Ref = (*Var)(nil)

// Load returns the current value.
func (v *Var) Load() (Value, error) {
	if v.Alias != nil {
		return v.Alias.Load()
	}
	return v.Value, nil
}

// Store converts x to the variable's type and assigns it.
func (v *Var) Store(x Value) error {
	if v.Alias != nil {
		return v.Alias.Store(x)
	}
	if v.Const {
		return ErrConst
	}
	conv, err := Assign(v.Type, x)
	if err != nil {
		return err
	}
	v.Value = conv
	return nil
}

// Instance is an object of a class or struct. Fields keeps declaration
// order in Order, base-class fields first.
type Instance struct {
	Class   string
	Fields  map[string]*Var
	Order   []string
	Deleted bool
}

// NewObjectOf creates an empty instance of class.
func NewObjectOf(class string) *Instance {
	return &Instance{Class: class, Fields: make(map[string]*Var)}
}

// AddField declares a field initialized to v.
func (o *Instance) AddField(name string, t Type, v Value) *Var {
	f := &Var{Type: t, Value: v}
	if _, exists := o.Fields[name]; !exists {
		o.Order = append(o.Order, name)
	}
	o.Fields[name] = f
	return f
}

// Clone copies the object. Embedded structs and arrays are copied deeply;
// pointers are shared.
func (o *Instance) Clone() *Instance {
	c := &Instance{Class: o.Class, Fields: make(map[string]*Var, len(o.Fields)), Order: append([]string(nil), o.Order...)}
	for name, f := range o.Fields {
		c.Fields[name] = &Var{Type: f.Type, Value: copyValue(f.Type, f.Value), Const: f.Const}
	}
	return c
}

func copyValue(t Type, v Value) Value {
	switch {
	case v.kind == Array && v.arr != nil:
		return NewArray(v.arr.Clone())
	case v.kind == Object && v.obj != nil && !t.Pointer && !t.Any:
		return NewObject(v.obj.Clone())
	}
	return v
}

// ArrayValue is a one-dimensional array; multi-dimensional arrays nest.
// Series arrays are indexed from the end.
type ArrayValue struct {
	Elem    Type
	Items   []Value
	Dynamic bool
	Series  bool
}

// ErrIndex is returned for out-of-range array access.
var ErrIndex = errors.New("array out of range")

// Len returns the number of elements.
func (a *ArrayValue) Len() int { return len(a.Items) }

func (a *ArrayValue) slot(i int64) (int, error) {
	if i < 0 || i >= int64(len(a.Items)) {
		return 0, fmt.Errorf("%w: index %d, size %d", ErrIndex, i, len(a.Items))
	}
	if a.Series {
		return len(a.Items) - 1 - int(i), nil
	}
	return int(i), nil
}

// Get returns element i.
func (a *ArrayValue) Get(i int64) (Value, error) {
	s, err := a.slot(i)
	if err != nil {
		return Unset, err
	}
	return a.Items[s], nil
}

// Set converts x to the element type and stores it at i.
func (a *ArrayValue) Set(i int64, x Value) error {
	s, err := a.slot(i)
	if err != nil {
		return err
	}
	conv, err := Assign(a.Elem, x)
	if err != nil {
		return err
	}
	a.Items[s] = conv
	return nil
}

// Resize grows or shrinks the array, filling new slots with zero values.
func (a *ArrayValue) Resize(n int, zero func(Type) Value) {
	if n < 0 {
		n = 0
	}
	if n <= len(a.Items) {
		a.Items = a.Items[:n]
		return
	}
	for len(a.Items) < n {
		a.Items = append(a.Items, zero(a.Elem))
	}
}

// Clone deep-copies the array.
func (a *ArrayValue) Clone() *ArrayValue {
	c := &ArrayValue{Elem: a.Elem, Items: make([]Value, len(a.Items)), Dynamic: a.Dynamic, Series: a.Series}
	for i, v := range a.Items {
		c.Items[i] = copyValue(a.Elem, v)
	}
	return c
}

// MakeArray builds an array of type t. zero produces element values; nested
// dimensions are built recursively.
func MakeArray(t Type, zero func(Type) Value) *ArrayValue {
	elem := t.Elem()
	a := &ArrayValue{Elem: elem, Dynamic: t.Dims[0] == 0}
	build := func(Type) Value {
		if elem.IsArray() {
			return NewArray(MakeArray(elem, zero))
		}
		return zero(elem)
	}
	a.Resize(t.Dims[0], build)
	return a
}

// Zero returns the default value of a primitive or pointer type. Struct and
// class values need a constructor and are produced by the runtime.
func Zero(t Type) Value {
	switch {
	case t.IsArray():
		return NewArray(MakeArray(t, Zero))
	case t.Any:
		return Unset
	case t.Kind == Object:
		return Null
	case t.Kind == String:
		return NewString("")
	case t.Kind == Float:
		return NewFloat(0)
	case t.Kind == Double:
		return NewDouble(0)
	case t.Kind.IsInteger():
		return NewInteger(t.Kind, 0)
	}
	return Unset
}

// Package ast defines the declaration tree produced by the parser. Function
// and method bodies are not parsed into statements; they are kept as token
// spans and interpreted per call by the runtime.
package ast

import (
	"fmt"
	"strings"

	"mqlbt/internal/lexer"
)

// Pos is a source position.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// PosOf returns the position of a token.
func PosOf(t lexer.Token) Pos {
	return Pos{File: t.File, Line: t.Line, Column: t.Column}
}

// Decl is implemented by every top-level declaration.
type Decl interface {
	Position() Pos
	DeclName() string
	declNode()
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// TypeRef names a type as written at a use site.
type TypeRef struct {
	Name    string
	Args    []string // template arguments, e.g. CArray<int>
	Const   bool
	Pointer bool
}

func (t TypeRef) String() string {
	var b strings.Builder
	if t.Const {
		b.WriteString("const ")
	}
	b.WriteString(t.Name)
	if len(t.Args) > 0 {
		b.WriteString("<" + strings.Join(t.Args, ",") + ">")
	}
	if t.Pointer {
		b.WriteString("*")
	}
	return b.String()
}

// Storage is the storage class of a global variable.
type Storage int

const (
	StorageNone Storage = iota
	StorageStatic
	StorageInput
	StorageExtern
)

func (s Storage) String() string {
	switch s {
	case StorageStatic:
		return "static"
	case StorageInput:
		return "input"
	case StorageExtern:
		return "extern"
	default:
		return "none"
	}
}

// Visibility is a class member access level.
type Visibility int

const (
	Private Visibility = iota
	Protected
	Public
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Protected:
		return "protected"
	default:
		return "private"
	}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// EnumMember is one enumerator. Value holds the initializer text, if any.
type EnumMember struct {
	Name  string
	Value string
}

// Enum is an enumeration declaration.
type Enum struct {
	Pos     Pos
	Name    string
	Members []EnumMember
}

// Field is a class or struct data member.
type Field struct {
	Pos        Pos
	Name       string
	Type       TypeRef
	Dims       []string // "" marks a dynamic dimension
	Static     bool
	Init       string
	Visibility Visibility
}

// Param is a function parameter. Default is the raw default-value text.
type Param struct {
	Name       string
	Type       TypeRef
	Ref        bool
	Dims       []string
	Default    string
	HasDefault bool
}

// Local is a variable declared inside a body. Args holds constructor
// arguments, as for Variable.
type Local struct {
	Pos     Pos
	Name    string
	Type    TypeRef
	Static  bool
	Dims    []string
	Init    string
	Args    string
	HasArgs bool
}

// Initializer is one entry of a constructor initializer list.
type Initializer struct {
	Name string
	Args string
}

// Function is a free function, or a method body defined outside its class
// when Class is set.
type Function struct {
	Pos       Pos
	Name      string
	Class     string
	Return    TypeRef
	Params    []Param
	Locals    []Local
	Body      string
	Tokens    []lexer.Token
	Prototype bool
	Template  []string
	Static    bool
	Inits     []Initializer
}

// Required returns the number of parameters without a default value.
func (f *Function) Required() int {
	n := 0
	for _, p := range f.Params {
		if !p.HasDefault {
			n++
		}
	}
	return n
}

// MethodKind distinguishes constructors and destructors from plain methods.
type MethodKind int

const (
	Plain MethodKind = iota
	Constructor
	Destructor
)

// Method is a class member function.
type Method struct {
	Function
	Kind       MethodKind
	Visibility Visibility
	Virtual    bool
	Override   bool
	Final      bool
	Pure       bool
	Const      bool
}

// Class is a class, struct or interface declaration.
type Class struct {
	Pos      Pos
	Name     string
	Base     string
	Struct   bool
	Abstract bool
	Template []string
	Fields   []*Field
	Methods  []*Method
}

// Field returns the named field declared directly on the class.
func (c *Class) Field(name string) (*Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// MethodsNamed returns the overloads of name declared directly on the class.
func (c *Class) MethodsNamed(name string) []*Method {
	var out []*Method
	for _, m := range c.Methods {
		if m.Name == name && m.Kind == Plain {
			out = append(out, m)
		}
	}
	return out
}

// Constructors returns the constructors in declaration order.
func (c *Class) Constructors() []*Method {
	var out []*Method
	for _, m := range c.Methods {
		if m.Kind == Constructor {
			out = append(out, m)
		}
	}
	return out
}

// Destructor returns the class destructor, if declared.
func (c *Class) Destructor() (*Method, bool) {
	for _, m := range c.Methods {
		if m.Kind == Destructor {
			return m, true
		}
	}
	return nil, false
}

// Variable is a global variable declaration. Args holds constructor
// arguments for object declarations such as `CFoo foo(1, 2);`.
type Variable struct {
	Pos     Pos
	Name    string
	Type    TypeRef
	Storage Storage
	Const   bool
	Dims    []string
	Init    string
	Args    string
	HasArgs bool
}

// Compile-time interface checks.
var (
	_ Decl = (*Enum)(nil)
	_ Decl = (*Class)(nil)
	_ Decl = (*Function)(nil)
	_ Decl = (*Variable)(nil)
)

func (d *Enum) Position() Pos     { return d.Pos }
func (d *Class) Position() Pos    { return d.Pos }
func (d *Function) Position() Pos { return d.Pos }
func (d *Variable) Position() Pos { return d.Pos }

func (d *Enum) DeclName() string  { return d.Name }
func (d *Class) DeclName() string { return d.Name }
func (d *Function) DeclName() string {
	if d.Class != "" {
		return d.Class + "::" + d.Name
	}
	return d.Name
}
func (d *Variable) DeclName() string { return d.Name }

func (*Enum) declNode()     {}
func (*Class) declNode()    {}
func (*Function) declNode() {}
func (*Variable) declNode() {}

// JoinTokens renders a token span as text with single spaces between tokens.
func JoinTokens(toks []lexer.Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

// Package checker validates declarations after parsing: referenced types
// exist, base classes resolve, externs have exactly one definition, and
// override relationships are sound. It walks class base chains through a
// flat name-keyed table.
package checker

import (
	"fmt"
	"strings"

	"mqlbt/internal/ast"
	"mqlbt/internal/parser"
)

// Warning codes.
const (
	CodeOverrideWithoutVirtual = 4001
	CodeHidesNonVirtual        = 4002
)

// Diagnostic is a checker finding. Code is non-zero for warnings.
type Diagnostic struct {
	Pos  ast.Pos
	Code int
	Msg  string
}

func (d Diagnostic) Error() string {
	if d.Code != 0 {
		return fmt.Sprintf("%s: warning %d: %s", d.Pos, d.Code, d.Msg)
	}
	return fmt.Sprintf("%s: %s", d.Pos, d.Msg)
}

// Result collects errors and warnings separately.
type Result struct {
	Errors   []Diagnostic
	Warnings []Diagnostic
}

// OK reports whether no errors were found.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// builtinTypes are structures the runtime provides without a declaration.
var builtinTypes = map[string]bool{
	"MqlDateTime": true,
	"MqlTick":     true,
	"MqlRates":    true,
	"object":      true,
}

// IsBuiltinType reports whether name is a type the runtime supplies.
// Every ENUM_* name is a platform enumeration carried as int.
func IsBuiltinType(name string) bool {
	return builtinTypes[name] || strings.HasPrefix(name, "ENUM_")
}

type checker struct {
	classes  map[string]*ast.Class
	enums    map[string]*ast.Enum
	provided map[string]bool
	res      *Result
}

// Check validates decls. Names in provided are supplied by the host, so an
// extern among them needs no definition.
func Check(decls []ast.Decl, provided ...string) *Result {
	c := &checker{
		classes:  make(map[string]*ast.Class),
		enums:    make(map[string]*ast.Enum),
		provided: make(map[string]bool, len(provided)),
		res:      &Result{},
	}
	for _, name := range provided {
		c.provided[name] = true
	}
	c.collect(decls)
	for _, d := range decls {
		switch d := d.(type) {
		case *ast.Class:
			c.checkClass(d)
		case *ast.Function:
			c.checkFunction(d, d.Template)
		case *ast.Variable:
			c.checkType(d.Pos, d.Type, nil)
		}
	}
	c.checkOverloads(decls)
	c.checkExterns(decls)
	return c.res
}

func (c *checker) errorf(pos ast.Pos, format string, args ...any) {
	c.res.Errors = append(c.res.Errors, Diagnostic{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (c *checker) warnf(pos ast.Pos, code int, format string, args ...any) {
	c.res.Warnings = append(c.res.Warnings, Diagnostic{Pos: pos, Code: code, Msg: fmt.Sprintf(format, args...)})
}

func (c *checker) collect(decls []ast.Decl) {
	for _, d := range decls {
		switch d := d.(type) {
		case *ast.Class:
			if _, dup := c.classes[d.Name]; dup {
				c.errorf(d.Pos, "class %s redeclared", d.Name)
				continue
			}
			c.classes[d.Name] = d
		case *ast.Enum:
			if d.Name == "" {
				continue
			}
			if _, dup := c.enums[d.Name]; dup {
				c.errorf(d.Pos, "enum %s redeclared", d.Name)
				continue
			}
			c.enums[d.Name] = d
		}
	}
}

func (c *checker) known(name string, tpl []string) bool {
	if parser.IsTypeKeyword(name) || IsBuiltinType(name) {
		return true
	}
	if _, ok := c.classes[name]; ok {
		return true
	}
	if _, ok := c.enums[name]; ok {
		return true
	}
	for _, t := range tpl {
		if t == name {
			return true
		}
	}
	return false
}

func (c *checker) checkType(pos ast.Pos, t ast.TypeRef, tpl []string) {
	if !c.known(t.Name, tpl) {
		c.errorf(pos, "unknown type %s", t.Name)
	}
	for _, arg := range t.Args {
		if !c.known(arg, tpl) {
			c.errorf(pos, "unknown type %s", arg)
		}
	}
}

func (c *checker) checkFunction(fn *ast.Function, tpl []string) {
	if fn.Class != "" {
		if _, ok := c.classes[fn.Class]; !ok {
			c.errorf(fn.Pos, "method %s defined for unknown class %s", fn.Name, fn.Class)
		}
		return
	}
	c.checkType(fn.Pos, fn.Return, tpl)
	for _, p := range fn.Params {
		c.checkType(fn.Pos, p.Type, tpl)
	}
}

func (c *checker) checkClass(cls *ast.Class) {
	if cls.Base != "" {
		if _, ok := c.classes[cls.Base]; !ok {
			c.errorf(cls.Pos, "class %s: unknown base class %s", cls.Name, cls.Base)
		} else if c.cyclic(cls) {
			c.errorf(cls.Pos, "class %s: inheritance cycle", cls.Name)
			return
		}
	}
	for _, f := range cls.Fields {
		c.checkType(f.Pos, f.Type, cls.Template)
	}
	for i, m := range cls.Methods {
		tpl := append(append([]string(nil), cls.Template...), m.Template...)
		c.checkFunction(&m.Function, tpl)
		for _, prev := range cls.Methods[:i] {
			if prev.Kind == m.Kind && prev.Name == m.Name && sameParams(prev.Params, m.Params) {
				c.errorf(m.Pos, "method %s::%s redeclared with the same parameters", cls.Name, m.Name)
			}
		}
		if m.Kind == ast.Plain {
			c.checkOverride(cls, m)
		}
	}
}

func (c *checker) cyclic(cls *ast.Class) bool {
	seen := map[string]bool{cls.Name: true}
	for base := cls.Base; base != ""; {
		if seen[base] {
			return true
		}
		seen[base] = true
		b, ok := c.classes[base]
		if !ok {
			return false
		}
		base = b.Base
	}
	return false
}

// baseMethod finds the nearest method named name in the base chain of cls.
// virtual reports whether any method of that name along the chain, up to
// and including the match, is virtual.
func (c *checker) baseMethod(cls *ast.Class, name string) (found, virtual bool) {
	seen := map[string]bool{cls.Name: true}
	for base := cls.Base; base != "" && !seen[base]; {
		seen[base] = true
		b, ok := c.classes[base]
		if !ok {
			return found, virtual
		}
		for _, m := range b.MethodsNamed(name) {
			found = true
			if m.Virtual || m.Override {
				virtual = true
			}
		}
		if virtual {
			return found, virtual
		}
		base = b.Base
	}
	return found, virtual
}

func (c *checker) checkOverride(cls *ast.Class, m *ast.Method) {
	found, virtual := c.baseMethod(cls, m.Name)
	switch {
	case m.Override && !virtual:
		c.warnf(m.Pos, CodeOverrideWithoutVirtual,
			"%s::%s is marked override but no virtual base method %s exists", cls.Name, m.Name, m.Name)
	case found && !virtual && !m.Virtual:
		c.warnf(m.Pos, CodeHidesNonVirtual,
			"%s::%s hides non-virtual method of base class", cls.Name, m.Name)
	}
}

func sameParams(a, b []ast.Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type.Name != b[i].Type.Name || len(a[i].Dims) != len(b[i].Dims) {
			return false
		}
	}
	return true
}

func (c *checker) checkOverloads(decls []ast.Decl) {
	seen := make(map[string][]*ast.Function)
	for _, d := range decls {
		fn, ok := d.(*ast.Function)
		if !ok || fn.Class != "" || fn.Prototype {
			continue
		}
		for _, prev := range seen[fn.Name] {
			if sameParams(prev.Params, fn.Params) {
				c.errorf(fn.Pos, "function %s redefined with the same parameters", fn.Name)
			}
		}
		seen[fn.Name] = append(seen[fn.Name], fn)
	}
}

// checkExterns requires every extern without an initializer to be defined
// exactly once. An extern with an initializer is itself a definition.
func (c *checker) checkExterns(decls []ast.Decl) {
	defs := make(map[string]int)
	for _, d := range decls {
		v, ok := d.(*ast.Variable)
		if !ok {
			continue
		}
		if v.Storage != ast.StorageExtern || v.Init != "" {
			defs[v.Name]++
		}
	}
	for _, d := range decls {
		v, ok := d.(*ast.Variable)
		if !ok || v.Storage != ast.StorageExtern || v.Init != "" {
			continue
		}
		switch defs[v.Name] {
		case 0:
			if !c.provided[v.Name] {
				c.errorf(v.Pos, "unresolved extern %s", v.Name)
			}
		case 1:
		default:
			c.errorf(v.Pos, "extern %s has %d definitions", v.Name, defs[v.Name])
		}
	}
}

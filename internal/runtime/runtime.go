// Package runtime builds the program-wide symbol tables from parsed
// declarations and executes function bodies. A Runtime owns every piece of
// mutable program state: globals, static locals, the builtin registry and
// the trade-event context. Nothing is shared between instances.
package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"mqlbt/internal/ast"
	"mqlbt/internal/eval"
	"mqlbt/internal/lexer"
	"mqlbt/internal/parser"
	"mqlbt/internal/value"
)

var (
	// ErrUnknownBase is returned by Execute for a class whose base is not declared.
	ErrUnknownBase = errors.New("unknown base class")
	// ErrUnresolvedExtern is returned by Execute for an extern without a definition.
	ErrUnresolvedExtern = errors.New("unresolved extern")
	// ErrUnknownType is returned when a declaration names an unknown type.
	ErrUnknownType = errors.New("unknown type")
	// ErrUnknownFunction is returned when no function or method matches a call.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrArgCount is returned when no overload accepts the argument count.
	ErrArgCount = errors.New("wrong number of arguments")
	// ErrRefParam is returned when a reference parameter is given an
	// expression that is not assignable or whose type does not match.
	ErrRefParam = errors.New("invalid reference argument")
	// ErrArgType is returned when an argument cannot be passed to a
	// primitive parameter.
	ErrArgType = errors.New("argument type mismatch")
	// ErrAbstract is returned when instantiating an abstract class.
	ErrAbstract = errors.New("cannot instantiate abstract class")
	// ErrStackOverflow is returned when calls nest deeper than MaxDepth.
	ErrStackOverflow = errors.New("stack overflow")
)

// MaxDepth is the deepest call nesting a script may reach.
const MaxDepth = 512

// ProgramKind classifies a program by the entry points it declares.
type ProgramKind int

const (
	KindLibrary ProgramKind = iota
	KindExpert
	KindScript
	KindIndicator
)

func (k ProgramKind) String() string {
	switch k {
	case KindExpert:
		return "expert"
	case KindScript:
		return "script"
	case KindIndicator:
		return "indicator"
	default:
		return "library"
	}
}

// TradeEvent is the ambient context exposed while the trade callback runs.
type TradeEvent struct {
	Ticket int64
	Side   int
	Action int
}

// Option configures Execute.
type Option func(*Runtime)

// WithInputs overrides input and extern variables by name. Values are
// converted from text to the declared type before initializers run.
func WithInputs(inputs map[string]string) Option {
	return func(rt *Runtime) {
		for k, v := range inputs {
			rt.inputs[k] = v
		}
	}
}

// WithBuiltins adds or replaces builtin functions.
func WithBuiltins(reg Registry) Option {
	return func(rt *Runtime) {
		for name, fn := range reg {
			rt.builtins[name] = fn
		}
	}
}

// WithVariable exposes a host-owned variable to scripts. Host variables are
// resolved after globals and before constants.
func WithVariable(name string, v *value.Var) Option {
	return func(rt *Runtime) { rt.host[name] = v }
}

// WithConstant adds a named constant.
func WithConstant(name string, v value.Value) Option {
	return func(rt *Runtime) {
		rt.constants[name] = &value.Var{Type: value.Primitive(v.Kind()), Value: v, Const: true}
	}
}

// WithLogger sets the logger used for script output and diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithOutput routes Print, Alert and Comment text to sink.
func WithOutput(sink func(string)) Option {
	return func(rt *Runtime) { rt.output = sink }
}

// WithClock sets the wall clock used by GetTickCount and Sleep.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) { rt.now = now }
}

// Runtime is the execution context of one compiled program.
type Runtime struct {
	Enums     map[string]*ast.Enum
	Classes   map[string]*ast.Class
	Functions map[string][]*ast.Function
	Variables map[string]*ast.Variable
	Globals   map[string]*value.Var
	Kind      ProgramKind

	globalOrder []string
	constants   map[string]*value.Var
	host        map[string]*value.Var
	statics     map[string]map[string]*value.Var
	builtins    Registry
	inputs      map[string]string
	defined     map[string]bool
	event       *TradeEvent

	logger    *slog.Logger
	output    func(string)
	now       func() time.Time
	rand      *rand.Rand
	started   time.Time
	stopped   bool
	comment   string
	lastError int
	depth     int
}

// Execute builds a runtime from declarations and materializes globals in
// declaration order.
func Execute(decls []ast.Decl, opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		Enums:     make(map[string]*ast.Enum),
		Classes:   make(map[string]*ast.Class),
		Functions: make(map[string][]*ast.Function),
		Variables: make(map[string]*ast.Variable),
		Globals:   make(map[string]*value.Var),
		constants: predefinedConstants(),
		host:      make(map[string]*value.Var),
		statics:   make(map[string]map[string]*value.Var),
		builtins:  Baseline(),
		inputs:    make(map[string]string),
		defined:   make(map[string]bool),
		logger:    slog.Default(),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.started = rt.now()

	for _, c := range prelude {
		rt.Classes[c.Name] = c
	}
	var vars []*ast.Variable
	for _, d := range decls {
		switch d := d.(type) {
		case *ast.Enum:
			rt.Enums[d.Name] = d
		case *ast.Class:
			rt.Classes[d.Name] = d
		case *ast.Function:
			rt.addFunction(d)
		case *ast.Variable:
			vars = append(vars, d)
		}
	}
	for _, d := range decls {
		if c, ok := d.(*ast.Class); ok && c.Base != "" {
			if _, ok := rt.Classes[c.Base]; !ok {
				return nil, fmt.Errorf("%s: class %s: %w %s", c.Pos, c.Name, ErrUnknownBase, c.Base)
			}
		}
	}
	if err := rt.resolveExterns(vars); err != nil {
		return nil, err
	}
	if err := rt.defineEnums(decls); err != nil {
		return nil, err
	}
	rt.Kind = KindOf(decls)

	if err := rt.defineClassStatics(decls); err != nil {
		return nil, err
	}
	for _, v := range vars {
		if err := rt.defineGlobal(v); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt *Runtime) addFunction(fn *ast.Function) {
	list := rt.Functions[fn.Name]
	// a definition replaces the prototype it matches
	for i, prev := range list {
		if prev.Prototype && !fn.Prototype && sameParams(prev.Params, fn.Params) {
			list[i] = fn
			return
		}
	}
	if fn.Prototype {
		for _, prev := range list {
			if sameParams(prev.Params, fn.Params) {
				return
			}
		}
	}
	rt.Functions[fn.Name] = append(list, fn)
}

func sameParams(a, b []ast.Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type.Name != b[i].Type.Name || a[i].Ref != b[i].Ref || len(a[i].Dims) != len(b[i].Dims) {
			return false
		}
	}
	return true
}

// resolveExterns keeps one declaration per extern name: the definition when
// one exists, or the extern itself when it carries an initializer.
func (rt *Runtime) resolveExterns(vars []*ast.Variable) error {
	for _, v := range vars {
		if v.Storage != ast.StorageExtern {
			rt.defined[v.Name] = true
		}
	}
	for _, v := range vars {
		if v.Storage == ast.StorageExtern && !rt.defined[v.Name] && v.Init == "" {
			if _, ok := rt.inputs[v.Name]; ok {
				continue
			}
			return fmt.Errorf("%s: %w %s", v.Pos, ErrUnresolvedExtern, v.Name)
		}
	}
	return nil
}

// KindOf classifies a program by the entry points it declares.
func KindOf(decls []ast.Decl) ProgramKind {
	has := make(map[string]bool)
	for _, d := range decls {
		if fn, ok := d.(*ast.Function); ok {
			has[fn.Name] = true
		}
	}
	switch {
	case has["OnCalculate"]:
		return KindIndicator
	case has["OnTick"]:
		return KindExpert
	case has["OnStart"]:
		return KindScript
	}
	return KindLibrary
}

// defineEnums turns enum members into integer constants. A member without an
// initializer is one more than its predecessor.
func (rt *Runtime) defineEnums(decls []ast.Decl) error {
	env := rt.globalEnv()
	for _, d := range decls {
		e, ok := d.(*ast.Enum)
		if !ok {
			continue
		}
		next := int64(0)
		for _, m := range e.Members {
			if m.Value != "" {
				v, err := eval.Evaluate(m.Value, env, env)
				if err != nil {
					return fmt.Errorf("%s: enum %s member %s: %w", e.Pos, e.Name, m.Name, err)
				}
				next = v.Int64()
			}
			rt.constants[m.Name] = &value.Var{Type: value.Primitive(value.Int), Value: value.NewInt(next), Const: true}
			next++
		}
	}
	return nil
}

func (rt *Runtime) defineClassStatics(decls []ast.Decl) error {
	for _, d := range decls {
		c, ok := d.(*ast.Class)
		if !ok {
			continue
		}
		for _, f := range c.Fields {
			if !f.Static {
				continue
			}
			typ, err := rt.ResolveType(f.Type, f.Dims, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Pos, err)
			}
			name := c.Name + "::" + f.Name
			v := &value.Var{Type: typ, Value: rt.zero(typ)}
			if f.Init != "" {
				if err := rt.initialize(v, f.Init, rt.globalEnv()); err != nil {
					return fmt.Errorf("%s: %s: %w", f.Pos, name, err)
				}
			}
			v.Const = f.Type.Const
			rt.Globals[name] = v
			rt.globalOrder = append(rt.globalOrder, name)
		}
	}
	return nil
}

func (rt *Runtime) defineGlobal(d *ast.Variable) error {
	if d.Storage == ast.StorageExtern {
		if _, ok := rt.Globals[d.Name]; ok {
			return nil
		}
		if d.Init == "" && rt.defined[d.Name] {
			return nil
		}
	}
	typ, err := rt.ResolveType(d.Type, d.Dims, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Pos, err)
	}
	// out-of-class definitions of static members reuse the member's slot
	v, exists := rt.Globals[d.Name]
	if !exists {
		v = &value.Var{Type: typ, Value: rt.blank(typ, d.HasArgs)}
	}
	env := rt.globalEnv()
	switch text, override := rt.inputs[d.Name]; {
	case override && (d.Storage == ast.StorageInput || d.Storage == ast.StorageExtern):
		v.Value = rt.inputValue(typ, text)
	case d.HasArgs:
		if err := rt.construct(v, d.Args, env); err != nil {
			return fmt.Errorf("%s: %s: %w", d.Pos, d.Name, err)
		}
	case d.Init != "":
		if err := rt.initialize(v, d.Init, env); err != nil {
			return fmt.Errorf("%s: %s: %w", d.Pos, d.Name, err)
		}
	}
	v.Const = d.Const || d.Type.Const
	rt.Variables[d.Name] = d
	if !exists {
		rt.Globals[d.Name] = v
		rt.globalOrder = append(rt.globalOrder, d.Name)
	}
	return nil
}

// inputValue converts override text to t. Text that does not parse as the
// declared type is kept as a string.
func (rt *Runtime) inputValue(t value.Type, text string) value.Value {
	if t.Kind == value.String {
		return value.NewString(text)
	}
	v, err := value.Cast(value.NewString(text), t.Kind)
	if err != nil {
		if ev, err := eval.Evaluate(text, rt.globalEnv(), nil); err == nil {
			return value.Convert(ev, t.Kind)
		}
		return value.NewString(text)
	}
	return v
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Global returns the current value of a global variable.
func (rt *Runtime) Global(name string) (value.Value, bool) {
	v, ok := rt.Globals[name]
	if !ok {
		return value.Unset, false
	}
	x, err := v.Load()
	return x, err == nil
}

// SetGlobal stores x in a global variable, converting it to the declared
// type. Constants refuse the store.
func (rt *Runtime) SetGlobal(name string, x value.Value) error {
	v, ok := rt.Globals[name]
	if !ok {
		return fmt.Errorf("%w %s", eval.ErrUndeclared, name)
	}
	return v.Store(x)
}

// GlobalNames returns global names in declaration order.
func (rt *Runtime) GlobalNames() []string {
	return append([]string(nil), rt.globalOrder...)
}

// Snapshot returns the current values of all globals.
func (rt *Runtime) Snapshot() map[string]value.Value {
	out := make(map[string]value.Value, len(rt.Globals))
	for name, v := range rt.Globals {
		x, _ := v.Load()
		out[name] = x
	}
	return out
}

// Constant returns a predefined or enum constant.
func (rt *Runtime) Constant(name string) (value.Value, bool) {
	v, ok := rt.constants[name]
	if !ok {
		return value.Unset, false
	}
	return v.Value, true
}

// HasFunction reports whether the program defines a function with a body.
func (rt *Runtime) HasFunction(name string) bool {
	for _, fn := range rt.Functions[name] {
		if !fn.Prototype {
			return true
		}
	}
	return false
}

// Builtin returns a registered builtin.
func (rt *Runtime) Builtin(name string) (BuiltinFunc, bool) {
	fn, ok := rt.builtins[name]
	return fn, ok
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// SetTradeEvent sets or, with nil, clears the trade-event context.
func (rt *Runtime) SetTradeEvent(ev *TradeEvent) { rt.event = ev }

// TradeEvent returns the current trade-event context, if any.
func (rt *Runtime) TradeEvent() (TradeEvent, bool) {
	if rt.event == nil {
		return TradeEvent{}, false
	}
	return *rt.event, true
}

// Stop makes IsStopped report true.
func (rt *Runtime) Stop() { rt.stopped = true }

// Stopped reports whether Stop was called.
func (rt *Runtime) Stopped() bool { return rt.stopped }

// Comment returns the text last set by the Comment builtin.
func (rt *Runtime) Comment() string { return rt.comment }

// Print writes a line of script output.
func (rt *Runtime) Print(text string) {
	if rt.output != nil {
		rt.output(text)
		return
	}
	rt.logger.Info(text, "source", "script")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// prelude declares the platform structs scripts may use without declaring.
var prelude = func() []*ast.Class {
	const src = `
struct MqlDateTime { int year; int mon; int day; int hour; int min; int sec; int day_of_week; int day_of_year; };
struct MqlTick { datetime time; double bid; double ask; double last; ulong volume; };
struct MqlRates { datetime time; double open; double high; double low; double close; long tick_volume; int spread; long real_volume; };
`
	toks, _ := lexer.Lex(src)
	decls, err := parser.Parse(toks)
	if err != nil {
		panic(err)
	}
	out := make([]*ast.Class, 0, len(decls))
	for _, d := range decls {
		out = append(out, d.(*ast.Class))
	}
	return out
}()

// Package compiler runs the front end (preprocess, parse, check) over a
// source file and builds a runtime for it. Compile reports every stage's
// findings as Diagnostics; Interpret refuses programs that have errors.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"mqlbt/internal/ast"
	"mqlbt/internal/checker"
	"mqlbt/internal/lexer"
	"mqlbt/internal/parser"
	"mqlbt/internal/preprocess"
	"mqlbt/internal/runtime"
	"mqlbt/internal/value"
)

// Severity classifies a Diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Stage names the pipeline step that produced a Diagnostic.
type Stage string

const (
	StageLex        Stage = "lex"
	StagePreprocess Stage = "preprocess"
	StageParse      Stage = "parse"
	StageCheck      Stage = "check"
	StageRuntime    Stage = "runtime"
)

// Diagnostic is one compile finding with its position.
type Diagnostic struct {
	Pos      ast.Pos
	Stage    Stage
	Severity Severity
	Code     int
	Msg      string
}

func (d Diagnostic) Error() string {
	prefix := d.Pos.String() + ": "
	if d.Pos.Line == 0 {
		prefix = ""
		if d.Pos.File != "" {
			prefix = d.Pos.File + ": "
		}
	}
	if d.Severity == SeverityWarning {
		return fmt.Sprintf("%swarning %d: %s", prefix, d.Code, d.Msg)
	}
	return prefix + d.Msg
}

// Options configures Compile and Interpret.
type Options struct {
	// FileName names the root source in diagnostics and pragma scopes.
	FileName string
	// FileProvider resolves #import and #include paths.
	FileProvider preprocess.FileProvider
	// WarningsAsErrors escalates unsuppressed warnings to errors.
	WarningsAsErrors bool
	// Inputs overrides input and extern variables by name.
	Inputs map[string]string
	// Builtins adds or replaces builtin functions.
	Builtins runtime.Registry
	// Defines seeds the preprocessor with object-like macros.
	Defines map[string]string
	Logger  *slog.Logger
	// Runtime passes extra options to runtime.Execute.
	Runtime []runtime.Option
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Result is the outcome of Compile. Runtime is nil when any error was found.
type Result struct {
	Declarations []ast.Decl
	Runtime      *runtime.Runtime
	Properties   map[string][]string
	Errors       []Diagnostic
	Warnings     []Diagnostic
	Kind         runtime.ProgramKind
	Pragmas      []preprocess.Pragma
}

// OK reports whether compilation produced no errors.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Err joins the errors of r, or returns nil.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, d := range r.Errors {
		errs[i] = d
	}
	return errors.Join(errs...)
}

// Compile preprocesses, parses and checks source, then builds its runtime.
// A fatal preprocessing or parse error stops the pipeline at that stage.
func Compile(source string, opts Options) *Result {
	logger := opts.logger()
	res := &Result{}
	defer func() {
		logger.Debug("compiled",
			"file", opts.FileName,
			"kind", res.Kind.String(),
			"errors", len(res.Errors),
			"warnings", len(res.Warnings))
	}()

	pp := preprocess.Run(source, preprocess.Options{
		File:         opts.FileName,
		FileProvider: opts.FileProvider,
		Defines:      opts.Defines,
	})
	res.Properties = pp.Properties
	res.Pragmas = pp.Pragmas
	for _, err := range pp.Errors {
		res.Errors = append(res.Errors, fromError(err))
	}
	if pp.Fatal() {
		return res
	}

	decls, err := parser.Parse(pp.Tokens)
	if err != nil {
		res.Errors = append(res.Errors, fromError(err))
		return res
	}
	res.Declarations = decls
	res.Kind = runtime.KindOf(decls)

	provided := make([]string, 0, len(opts.Inputs))
	for name := range opts.Inputs {
		provided = append(provided, name)
	}
	chk := checker.Check(decls, provided...)
	for _, d := range chk.Errors {
		res.Errors = append(res.Errors, Diagnostic{Pos: d.Pos, Stage: StageCheck, Msg: d.Msg})
	}
	for _, d := range chk.Warnings {
		if suppressed(res.Pragmas, d.Pos, d.Code) {
			continue
		}
		w := Diagnostic{Pos: d.Pos, Stage: StageCheck, Severity: SeverityWarning, Code: d.Code, Msg: d.Msg}
		res.Warnings = append(res.Warnings, w)
		if opts.WarningsAsErrors {
			res.Errors = append(res.Errors, w)
		}
	}
	if !res.OK() {
		return res
	}

	rtOpts := []runtime.Option{runtime.WithLogger(logger)}
	if len(opts.Inputs) > 0 {
		rtOpts = append(rtOpts, runtime.WithInputs(opts.Inputs))
	}
	if len(opts.Builtins) > 0 {
		rtOpts = append(rtOpts, runtime.WithBuiltins(opts.Builtins))
	}
	rtOpts = append(rtOpts, opts.Runtime...)
	rt, err := runtime.Execute(decls, rtOpts...)
	if err != nil {
		res.Errors = append(res.Errors, Diagnostic{Pos: ast.Pos{File: opts.FileName}, Stage: StageRuntime, Msg: err.Error()})
		return res
	}
	res.Runtime = rt
	return res
}

// fromError converts a stage error into a Diagnostic.
func fromError(err error) Diagnostic {
	var (
		le *lexer.Error
		pe *preprocess.Error
		se *parser.Error
	)
	switch {
	case errors.As(err, &le):
		return Diagnostic{Pos: ast.Pos{File: le.File, Line: le.Line, Column: le.Column}, Stage: StageLex, Msg: le.Msg}
	case errors.As(err, &pe):
		return Diagnostic{Pos: ast.Pos{File: pe.File, Line: pe.Line}, Stage: StagePreprocess, Msg: pe.Msg}
	case errors.As(err, &se):
		return Diagnostic{Pos: se.Pos, Stage: StageParse, Msg: se.Msg}
	}
	return Diagnostic{Stage: StagePreprocess, Msg: err.Error()}
}

// suppressed reports whether a `#pragma warning disable` covering code is in
// effect at pos. The last matching pragma at or before pos's line wins.
func suppressed(pragmas []preprocess.Pragma, pos ast.Pos, code int) bool {
	want := strconv.Itoa(code)
	off := false
	for _, p := range pragmas {
		if p.File != pos.File || p.Line > pos.Line {
			continue
		}
		for _, c := range p.Codes {
			if c != want {
				continue
			}
			switch p.Action {
			case "disable":
				off = true
			case "enable", "default":
				off = false
			}
		}
	}
	return off
}

// Context selects what Interpret runs.
type Context struct {
	// EntryPoint is called after globals are initialized. Empty means
	// OnStart for scripts and nothing otherwise.
	EntryPoint string
	Args       []value.Value
	// Inputs overrides input and extern variables, over Options.Inputs.
	Inputs map[string]string
}

// Interpret compiles source and runs the entry point of ctx. It fails when
// compilation reports any error, including escalated warnings.
func Interpret(source string, ctx Context, opts Options) (*runtime.Runtime, error) {
	if len(ctx.Inputs) > 0 {
		merged := make(map[string]string, len(opts.Inputs)+len(ctx.Inputs))
		for k, v := range opts.Inputs {
			merged[k] = v
		}
		for k, v := range ctx.Inputs {
			merged[k] = v
		}
		opts.Inputs = merged
	}
	res := Compile(source, opts)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", displayName(opts.FileName), err)
	}
	rt := res.Runtime
	entry := ctx.EntryPoint
	if entry == "" && rt.Kind == runtime.KindScript {
		entry = "OnStart"
	}
	if entry == "" {
		return rt, nil
	}
	if _, err := rt.CallValues(entry, ctx.Args...); err != nil {
		return rt, fmt.Errorf("running %s: %w", entry, err)
	}
	return rt, nil
}

func displayName(name string) string {
	if name == "" {
		return "<source>"
	}
	return name
}

package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqlbt/internal/ast"
	"mqlbt/internal/checker"
	"mqlbt/internal/eval"
	"mqlbt/internal/runtime"
	"mqlbt/internal/value"
)

const hiding = `
class Base { public: void Run() {} };
class Child : public Base { public: void Run() {} };
int ran = 0;
void OnStart() { ran = 1; }
`

func TestWarningsStayWarnings(t *testing.T) {
	res := Compile(hiding, Options{FileName: "w.mq4"})
	require.True(t, res.OK(), "%v", res.Err())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, checker.CodeHidesNonVirtual, res.Warnings[0].Code)
	assert.Equal(t, SeverityWarning, res.Warnings[0].Severity)
	assert.Equal(t, 3, res.Warnings[0].Pos.Line)
	assert.Equal(t, runtime.KindScript, res.Kind)
	require.NotNil(t, res.Runtime)

	rt, err := Interpret(hiding, Context{}, Options{FileName: "w.mq4"})
	require.NoError(t, err)
	v, _ := rt.Global("ran")
	assert.Equal(t, int64(1), v.Int64())
}

func TestWarningsAsErrors(t *testing.T) {
	opts := Options{FileName: "w.mq4", WarningsAsErrors: true}
	res := Compile(hiding, opts)
	assert.False(t, res.OK())
	assert.Len(t, res.Warnings, 1)
	assert.Nil(t, res.Runtime)

	_, err := Interpret(hiding, Context{}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warning 4002")
}

func TestPragmaSuppressesWarnings(t *testing.T) {
	src := "#pragma warning disable 4002\n" + hiding
	res := Compile(src, Options{FileName: "w.mq4", WarningsAsErrors: true})
	assert.True(t, res.OK(), "%v", res.Err())
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Pragmas, 1)

	// a later enable restores the warning for code after it
	src = "#pragma warning disable 4002\n#pragma warning enable 4002\n" + hiding
	res = Compile(src, Options{FileName: "w.mq4"})
	require.True(t, res.OK(), "%v", res.Err())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, checker.CodeHidesNonVirtual, res.Warnings[0].Code)
	assert.Len(t, res.Pragmas, 2)
}

func TestCompileStages(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		stage Stage
	}{
		{"lexer", "int a = 1 @;", StageLex},
		{"preprocessor", "int a = 1;\n#endif\n", StagePreprocess},
		{"parser", "class {", StageParse},
		{"checker", "Ghost g;", StageCheck},
		{"runtime", "enum E { A = missing };", StageRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compile(tt.src, Options{FileName: "s.mq4"})
			require.False(t, res.OK())
			assert.Equal(t, tt.stage, res.Errors[0].Stage, "%v", res.Errors)
			assert.Nil(t, res.Runtime)
		})
	}
}

func TestParseErrorSkipsChecker(t *testing.T) {
	res := Compile("Ghost g;\nclass {", Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageParse, res.Errors[0].Stage)
	assert.Nil(t, res.Declarations)
}

func TestImportsAndProperties(t *testing.T) {
	files := map[string]string{
		"lib.mqh": "#property library\nint Twice(int v) { return v * 2; }",
	}
	opts := Options{
		FileName: "main.mq4",
		FileProvider: func(path string) (string, error) {
			src, ok := files[path]
			if !ok {
				return "", errors.New("not found")
			}
			return src, nil
		},
	}
	res := Compile("#property strict\n#include \"lib.mqh\"\nint x = Twice(21);", opts)
	require.True(t, res.OK(), "%v", res.Err())
	assert.Contains(t, res.Properties, "library")
	assert.Contains(t, res.Properties, "strict")
	v, ok := res.Runtime.Global("x")
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int64())

	res = Compile("#include \"gone.mqh\"", opts)
	require.False(t, res.OK())
	assert.Equal(t, StagePreprocess, res.Errors[0].Stage)
}

func TestInterpretEntryPointAndInputs(t *testing.T) {
	src := `
input int Base = 1;
extern int Offset;
int result;
void Compute(int k) { result = Base * k + Offset; }
`
	rt, err := Interpret(src, Context{
		EntryPoint: "Compute",
		Args:       []value.Value{value.NewInt(10)},
		Inputs:     map[string]string{"Base": "3", "Offset": "4"},
	}, Options{})
	require.NoError(t, err)
	v, _ := rt.Global("result")
	assert.Equal(t, int64(34), v.Int64())
	assert.Equal(t, runtime.KindLibrary, rt.Kind)
}

func TestInterpretRuntimeError(t *testing.T) {
	_, err := Interpret(`int Div(int a) { return 1 / a; }`, Context{
		EntryPoint: "Div",
		Args:       []value.Value{value.NewInt(0)},
	}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, eval.ErrZeroDivide), "got %v", err)
}

func TestCustomBuiltins(t *testing.T) {
	var seen []string
	opts := Options{Builtins: runtime.Registry{
		"Record": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			seen = append(seen, args[0].Value.String())
			return value.NewBool(true), nil
		},
	}}
	_, err := Interpret(`void OnStart() { Record("hi"); }`, Context{}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, seen)
}

func TestDiagnosticError(t *testing.T) {
	tests := []struct {
		d    Diagnostic
		want string
	}{
		{Diagnostic{Pos: ast.Pos{File: "a.mq4", Line: 2, Column: 5}, Msg: "bad"}, "a.mq4:2:5: bad"},
		{Diagnostic{Pos: ast.Pos{File: "a.mq4"}, Msg: "bad"}, "a.mq4: bad"},
		{Diagnostic{Msg: "bad"}, "bad"},
		{Diagnostic{Pos: ast.Pos{Line: 1, Column: 1}, Severity: SeverityWarning, Code: 4001, Msg: "w"}, "1:1: warning 4001: w"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.Error())
	}
}

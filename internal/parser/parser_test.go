package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqlbt/internal/ast"
	"mqlbt/internal/lexer"
)

func parse(t *testing.T, src string) []ast.Decl {
	t.Helper()
	toks, errs := lexer.Lex(src)
	require.Empty(t, errs)
	decls, err := Parse(toks)
	require.NoError(t, err)
	return decls
}

func TestParseGlobals(t *testing.T) {
	decls := parse(t, `
input int Period = 14;
extern double Lots = 0.1;
static string tag;
int a = 1, b[3], c = f(1, 2);
const double Pi = 3.14;
`)
	require.Len(t, decls, 7)

	v := decls[0].(*ast.Variable)
	assert.Equal(t, "Period", v.Name)
	assert.Equal(t, ast.StorageInput, v.Storage)
	assert.Equal(t, "14", v.Init)
	assert.Equal(t, 2, v.Pos.Line)

	assert.Equal(t, ast.StorageExtern, decls[1].(*ast.Variable).Storage)
	assert.Equal(t, ast.StorageStatic, decls[2].(*ast.Variable).Storage)

	b := decls[4].(*ast.Variable)
	assert.Equal(t, "b", b.Name)
	assert.Equal(t, []string{"3"}, b.Dims)
	assert.Equal(t, "f ( 1 , 2 )", decls[5].(*ast.Variable).Init)
	assert.True(t, decls[6].(*ast.Variable).Const)
}

func TestParseFunctions(t *testing.T) {
	decls := parse(t, `
int Add(int a, int b = 2) { return a + b; }
int Add(int a, int b, int c) { return a + b + c; }
void Fill(double &arr[], const string &name);
void Noop(void) { if (true) { { } } }
`)
	require.Len(t, decls, 4)

	add := decls[0].(*ast.Function)
	assert.Equal(t, "Add", add.Name)
	assert.Equal(t, "int", add.Return.Name)
	require.Len(t, add.Params, 2)
	assert.Equal(t, "2", add.Params[1].Default)
	assert.Equal(t, 1, add.Required())
	assert.Equal(t, "return a + b ;", add.Body)

	fill := decls[2].(*ast.Function)
	assert.True(t, fill.Prototype)
	assert.True(t, fill.Params[0].Ref)
	assert.Equal(t, []string{""}, fill.Params[0].Dims)
	assert.True(t, fill.Params[1].Type.Const)

	noop := decls[3].(*ast.Function)
	assert.Empty(t, noop.Params)
	assert.Equal(t, "if ( true ) { { } }", noop.Body)
}

func TestParseObjectDeclarationWithArguments(t *testing.T) {
	decls := parse(t, "CPoint origin(0, 0);\nCPoint Make(int x, int y);")
	require.Len(t, decls, 2)
	v := decls[0].(*ast.Variable)
	assert.True(t, v.HasArgs)
	assert.Equal(t, "0 , 0", v.Args)
	_, isFn := decls[1].(*ast.Function)
	assert.True(t, isFn)
}

func TestParseEnum(t *testing.T) {
	decls := parse(t, "enum ESide { SIDE_BUY, SIDE_SELL = 5, SIDE_NONE, };")
	require.Len(t, decls, 1)
	e := decls[0].(*ast.Enum)
	assert.Equal(t, "ESide", e.Name)
	assert.Equal(t, []ast.EnumMember{{Name: "SIDE_BUY"}, {Name: "SIDE_SELL", Value: "5"}, {Name: "SIDE_NONE"}}, e.Members)
}

func TestParseClass(t *testing.T) {
	decls := parse(t, `
class CShape {
protected:
   double m_size;
   static int s_count;
public:
   CShape(double size) : m_size(size) { s_count++; }
   ~CShape() {}
   virtual double Area() const = 0;
   virtual string Name() { return "shape"; }
   int Count() const;
};
int CShape::s_count = 0;
int CShape::Count() const { return s_count; }

class CSquare : public CShape {
public:
   CSquare(double s);
   double Area() const override { return m_size * m_size; }
};
CSquare::CSquare(double s) : CShape(s) {}
`)
	require.Len(t, decls, 3)

	shape := decls[0].(*ast.Class)
	assert.Equal(t, "CShape", shape.Name)
	assert.True(t, shape.Abstract)
	require.Len(t, shape.Fields, 2)
	assert.Equal(t, ast.Protected, shape.Fields[0].Visibility)
	assert.True(t, shape.Fields[1].Static)

	ctors := shape.Constructors()
	require.Len(t, ctors, 1)
	assert.Equal(t, []ast.Initializer{{Name: "m_size", Args: "size"}}, ctors[0].Inits)
	_, hasDtor := shape.Destructor()
	assert.True(t, hasDtor)

	area := shape.MethodsNamed("Area")
	require.Len(t, area, 1)
	assert.True(t, area[0].Pure)
	assert.True(t, area[0].Virtual)

	count := shape.MethodsNamed("Count")
	require.Len(t, count, 1)
	assert.False(t, count[0].Prototype)
	assert.Equal(t, "return s_count ;", count[0].Body)

	static := decls[1].(*ast.Variable)
	assert.Equal(t, "CShape::s_count", static.Name)
	assert.Equal(t, "0", static.Init)

	square := decls[2].(*ast.Class)
	assert.Equal(t, "CShape", square.Base)
	assert.False(t, square.Abstract)
	sqCtor := square.Constructors()
	require.Len(t, sqCtor, 1)
	assert.False(t, sqCtor[0].Prototype)
	assert.Equal(t, []ast.Initializer{{Name: "CShape", Args: "s"}}, sqCtor[0].Inits)
	assert.True(t, square.MethodsNamed("Area")[0].Override)
}

func TestParseStructDefaultsPublic(t *testing.T) {
	decls := parse(t, "struct SPoint { int x; int y; };")
	c := decls[0].(*ast.Class)
	assert.True(t, c.Struct)
	assert.Equal(t, ast.Public, c.Fields[0].Visibility)
}

func TestParseTemplateFunction(t *testing.T) {
	decls := parse(t, "template<typename T> T Max(T a, T b) { return a > b ? a : b; }")
	fn := decls[0].(*ast.Function)
	assert.Equal(t, []string{"T"}, fn.Template)
	assert.Equal(t, "T", fn.Return.Name)
}

func TestParseLocals(t *testing.T) {
	decls := parse(t, `
void OnTick() {
   static int calls = 0;
   double price = Bid, levels[4];
   for (int i = 0; i < 3; i++) { CPoint p(i, i); }
   calls++;
}`)
	fn := decls[0].(*ast.Function)
	names := make([]string, len(fn.Locals))
	for i, l := range fn.Locals {
		names[i] = l.Name
	}
	assert.Equal(t, []string{"calls", "price", "levels", "i", "p"}, names)
	assert.True(t, fn.Locals[0].Static)
	assert.Equal(t, "0", fn.Locals[0].Init)
	assert.Equal(t, []string{"4"}, fn.Locals[2].Dims)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src string
		msg string
	}{
		{"int x", `1:6: expected ";", found end of input`},
		{"void f() { return;", "1:10: unterminated body: missing \"}\""},
		{"class A { int x; ", "1:1: unterminated class A"},
		{"int f(int a,) {}", `1:13: expected type name, found ")"`},
		{"}", `1:1: expected type name, found "}"`},
		{"void f() { int x = ; }", `1:18: expected initializer after "="`},
		{"void f() { double a = 1, b = ; }", `1:28: expected initializer after "="`},
	}
	for _, tt := range tests {
		toks, errs := lexer.Lex(tt.src)
		require.Empty(t, errs)
		_, err := Parse(toks)
		require.Error(t, err, tt.src)
		var pe *Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, tt.msg, err.Error(), tt.src)
	}
}

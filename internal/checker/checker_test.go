package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqlbt/internal/ast"
	"mqlbt/internal/lexer"
	"mqlbt/internal/parser"
)

func check(t *testing.T, src string) *Result {
	t.Helper()
	toks, errs := lexer.Lex(src)
	require.Empty(t, errs)
	decls, err := parser.Parse(toks)
	require.NoError(t, err)
	return Check(decls)
}

func messages(ds []Diagnostic) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Msg
	}
	return out
}

func TestCheckValidProgram(t *testing.T) {
	r := check(t, `
enum EMode { MODE_A, MODE_B };
class CBase { public: virtual int Value() { return 1; } };
class CDerived : public CBase { public: int Value() override { return 2; } };
input EMode Mode = MODE_A;
CBase *ptr;
datetime last;
ENUM_TIMEFRAMES tf = PERIOD_H1;
template<typename T> T Twice(T v) { return v + v; }
void OnTick() {}
`)
	assert.True(t, r.OK(), messages(r.Errors))
	assert.Empty(t, r.Warnings)
}

func TestCheckUnknownTypes(t *testing.T) {
	r := check(t, `
CMissing a;
void f(CAlso x) {}
class CBox { CNope n; };
`)
	assert.Equal(t, []string{"unknown type CMissing", "unknown type CAlso", "unknown type CNope"}, messages(r.Errors))
	assert.Equal(t, 2, r.Errors[0].Pos.Line)
}

func TestCheckUnknownBase(t *testing.T) {
	r := check(t, "class CChild : public CGhost {};")
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "class CChild: unknown base class CGhost", r.Errors[0].Msg)
}

func TestCheckInheritanceCycle(t *testing.T) {
	r := check(t, "class A : public B {};\nclass B : public A {};")
	assert.Equal(t, []string{"class A: inheritance cycle", "class B: inheritance cycle"}, messages(r.Errors))
}

func TestCheckOverrideWarnings(t *testing.T) {
	r := check(t, `
class CBase {
public:
   void Plain() {}
   virtual void Virt() {}
};
class CMid : public CBase { public: void Virt() {} };
class CLeaf : public CMid {
public:
   void Plain() {}
   void Virt() override {}
   void Fresh() override {}
};
`)
	assert.True(t, r.OK())
	require.Len(t, r.Warnings, 2)
	assert.Equal(t, CodeHidesNonVirtual, r.Warnings[0].Code)
	assert.Contains(t, r.Warnings[0].Msg, "CLeaf::Plain")
	assert.Equal(t, CodeOverrideWithoutVirtual, r.Warnings[1].Code)
	assert.Contains(t, r.Warnings[1].Msg, "CLeaf::Fresh")
	assert.Equal(t, 12, r.Warnings[1].Pos.Line)
}

func TestCheckDuplicates(t *testing.T) {
	r := check(t, `
int f(int a) { return a; }
int f(int b) { return b; }
int f(double c) { return 0; }
class C { void m(int x); void m(int y); };
`)
	assert.Equal(t, []string{
		"method C::m redeclared with the same parameters",
		"function f redefined with the same parameters",
	}, messages(r.Errors))
}

func TestCheckExterns(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"defined elsewhere", "extern int shared;\nint shared = 3;", nil},
		{"initialized extern defines itself", "extern double Lots = 0.1;", nil},
		{"unresolved", "extern int missing;", []string{"unresolved extern missing"}},
		{"ambiguous", "extern int x;\nint x;\nstatic int x;", []string{"extern x has 2 definitions"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := check(t, tt.src)
			if tt.want == nil {
				assert.Empty(t, r.Errors)
				return
			}
			assert.Equal(t, tt.want, messages(r.Errors))
		})
	}
}

func TestDiagnosticError(t *testing.T) {
	d := Diagnostic{Pos: ast.Pos{File: "a.mq4", Line: 4, Column: 2}, Code: 4001, Msg: "m"}
	assert.Equal(t, "a.mq4:4:2: warning 4001: m", d.Error())
}

func TestCheckProvidedExtern(t *testing.T) {
	toks, errs := lexer.Lex("extern int missing;")
	require.Empty(t, errs)
	decls, err := parser.Parse(toks)
	require.NoError(t, err)
	assert.True(t, Check(decls, "missing").OK())
	assert.False(t, Check(decls).OK())
}

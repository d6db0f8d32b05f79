package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqlbt/internal/ast"
	"mqlbt/internal/eval"
	"mqlbt/internal/lexer"
	"mqlbt/internal/parser"
	"mqlbt/internal/value"
)

func decls(t *testing.T, src string) []ast.Decl {
	t.Helper()
	toks, errs := lexer.Lex(src)
	require.Empty(t, errs)
	d, err := parser.Parse(toks)
	require.NoError(t, err)
	return d
}

func load(t *testing.T, src string, opts ...Option) *Runtime {
	t.Helper()
	rt, err := Execute(decls(t, src), opts...)
	require.NoError(t, err)
	return rt
}

func global(t *testing.T, rt *Runtime, name string) value.Value {
	t.Helper()
	v, ok := rt.Global(name)
	require.True(t, ok, "global %s", name)
	return v
}

func call(t *testing.T, rt *Runtime, name string, args ...value.Value) value.Value {
	t.Helper()
	v, err := rt.CallValues(name, args...)
	require.NoError(t, err)
	return v
}

func TestExecuteGlobals(t *testing.T) {
	rt := load(t, `
input int Period = 14;
extern double Lots = 0.1;
int Doubled = Period * 2;
string Name = "x" + "y";
int Shared;
const int Fixed = 3;
`, WithInputs(map[string]string{"Period": "20"}))

	assert.Equal(t, int64(20), global(t, rt, "Period").Int64())
	assert.Equal(t, int64(40), global(t, rt, "Doubled").Int64())
	assert.Equal(t, 0.1, global(t, rt, "Lots").Float64())
	assert.Equal(t, "xy", global(t, rt, "Name").String())
	assert.Equal(t, value.Int, global(t, rt, "Shared").Kind())
	assert.Equal(t, []string{"Period", "Lots", "Doubled", "Name", "Shared", "Fixed"}, rt.GlobalNames())

	require.NoError(t, rt.SetGlobal("Shared", value.NewDouble(7.9)))
	assert.Equal(t, int64(7), global(t, rt, "Shared").Int64())
	assert.Error(t, rt.SetGlobal("Fixed", value.NewInt(1)))
	assert.Error(t, rt.SetGlobal("Missing", value.NewInt(1)))
}

func TestExecuteExterns(t *testing.T) {
	rt := load(t, `
extern int Shared;
int Shared = 5;
`)
	assert.Equal(t, int64(5), global(t, rt, "Shared").Int64())

	_, err := Execute(decls(t, `extern int Missing;`))
	assert.True(t, errors.Is(err, ErrUnresolvedExtern), "got %v", err)

	rt = load(t, `extern int Missing;`, WithInputs(map[string]string{"Missing": "9"}))
	assert.Equal(t, int64(9), global(t, rt, "Missing").Int64())
}

func TestExecuteUnknownBase(t *testing.T) {
	_, err := Execute(decls(t, `class B : public A { };`))
	assert.True(t, errors.Is(err, ErrUnknownBase), "got %v", err)
}

func TestEnums(t *testing.T) {
	rt := load(t, `
enum Mode { First, Second = 5, Third };
Mode current = Third;
`)
	for name, want := range map[string]int64{"First": 0, "Second": 5, "Third": 6} {
		v, ok := rt.Constant(name)
		require.True(t, ok, name)
		assert.Equal(t, want, v.Int64(), name)
	}
	assert.Equal(t, int64(6), global(t, rt, "current").Int64())
}

func TestProgramKind(t *testing.T) {
	tests := []struct {
		src  string
		want ProgramKind
	}{
		{`void OnTick() {}`, KindExpert},
		{`void OnStart() {}`, KindScript},
		{`int OnCalculate(const int total, const int prev) { return total; }`, KindIndicator},
		{`int Helper() { return 1; }`, KindLibrary},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, load(t, tt.src).Kind)
		})
	}
}

func TestOverloads(t *testing.T) {
	rt := load(t, `
int Add(int a, int b = 2) { return a + b; }
int Add(int a, int b, int c) { return a + b + c; }
`)
	assert.Equal(t, int64(3), call(t, rt, "Add", value.NewInt(1)).Int64())
	assert.Equal(t, int64(5), call(t, rt, "Add", value.NewInt(1), value.NewInt(4)).Int64())
	assert.Equal(t, int64(6), call(t, rt, "Add", value.NewInt(1), value.NewInt(2), value.NewInt(3)).Int64())

	_, err := rt.CallValues("Add")
	assert.True(t, errors.Is(err, ErrArgCount), "got %v", err)
	_, err = rt.CallValues("Nope")
	assert.True(t, errors.Is(err, ErrUnknownFunction), "got %v", err)
}

func TestStaticLocals(t *testing.T) {
	rt := load(t, `
int Next() {
   static int n = 10;
   static int bad = undefined_thing;
   n++;
   return n;
}
`)
	assert.Equal(t, int64(11), call(t, rt, "Next").Int64())
	assert.Equal(t, int64(12), call(t, rt, "Next").Int64())

	store := rt.Statics("Next")
	require.NotNil(t, store)
	assert.Equal(t, int64(12), store["n"].Value.Int64())
	assert.Equal(t, "undefined_thing", store["bad"].Value.String())
}

func TestControlFlow(t *testing.T) {
	rt := load(t, `
int Sum(int n) {
   int s = 0;
   for (int i = 0; i < n; i++) {
      if (i == 3) continue;
      if (i > 6) break;
      s += i;
   }
   return s;
}
int Count() {
   int k = 0;
   while (k < 5) k++;
   do { k += 10; } while (k < 30);
   return k;
}
string Name(int c) {
   string r = "";
   switch (c) {
      case 1: r = "one"; break;
      case 2:
      case 3: r = "few"; break;
      default: r = "many";
   }
   return r;
}
int Sign(int x) {
   if (x > 0) return 1;
   else if (x < 0) return -1;
   return 0;
}
`)
	assert.Equal(t, int64(18), call(t, rt, "Sum", value.NewInt(10)).Int64())
	assert.Equal(t, int64(35), call(t, rt, "Count").Int64())

	for in, want := range map[int64]string{1: "one", 2: "few", 3: "few", 7: "many"} {
		assert.Equal(t, want, call(t, rt, "Name", value.NewInt(in)).String(), "case %d", in)
	}
	assert.Equal(t, int64(1), call(t, rt, "Sign", value.NewInt(4)).Int64())
	assert.Equal(t, int64(-1), call(t, rt, "Sign", value.NewInt(-4)).Int64())
	assert.Equal(t, int64(0), call(t, rt, "Sign", value.NewInt(0)).Int64())
}

func TestGlobalArrays(t *testing.T) {
	rt := load(t, `
int arr[3] = {1, 2, 3};
int Total() {
   int s = 0;
   for (int i = 0; i < ArraySize(arr); i++) s += arr[i];
   return s;
}
`)
	assert.Equal(t, int64(6), call(t, rt, "Total").Int64())
}

func TestReferenceParams(t *testing.T) {
	rt := load(t, `
int v = 1;
double d = 0;
void Bump(int &x) { x += 5; }
void Take(int x) { }
void Run() { Bump(v); }
void BadType() { Bump(d); }
void BadArg() { Take("text"); }
`)
	call(t, rt, "Run")
	assert.Equal(t, int64(6), global(t, rt, "v").Int64())

	_, err := rt.CallValues("Bump", value.NewInt(1))
	assert.True(t, errors.Is(err, ErrRefParam), "got %v", err)
	_, err = rt.CallValues("BadType")
	assert.True(t, errors.Is(err, ErrRefParam), "got %v", err)
	_, err = rt.CallValues("BadArg")
	assert.True(t, errors.Is(err, ErrArgType), "got %v", err)
}

func TestClasses(t *testing.T) {
	rt := load(t, `
int destroyed = 0;
class Shape {
public:
   double w;
   Shape() { w = 1; }
   ~Shape() { destroyed++; }
   virtual double Area() { return 0; }
   double Twice() { return Area() * 2; }
};
class Square : public Shape {
public:
   Square(double s) { w = s; }
   virtual double Area() { return w * w; }
};
double Run() {
   Shape *s = new Square(3);
   double a = s.Twice();
   delete s;
   delete s;
   return a;
}
double Plain() {
   Shape s;
   return s.w + s.Area();
}
`)
	assert.Equal(t, 18.0, call(t, rt, "Run").Float64())
	assert.Equal(t, int64(1), global(t, rt, "destroyed").Int64())
	assert.Equal(t, 1.0, call(t, rt, "Plain").Float64())
}

func TestConstructorInitializers(t *testing.T) {
	rt := load(t, `
class Base {
public:
   int id;
   Base(int i) { id = i; }
};
class Child : public Base {
public:
   int extra;
   Child(int i, int e) : Base(i * 10), extra(e) {}
   int Total() { return id + extra; }
};
int Get() {
   Child c(2, 7);
   return c.Total();
}
`)
	assert.Equal(t, int64(27), call(t, rt, "Get").Int64())
}

func TestAbstractClass(t *testing.T) {
	rt := load(t, `
class A { public: virtual void F() = 0; };
void Make() { A *a = new A(); }
`)
	_, err := rt.CallValues("Make")
	assert.True(t, errors.Is(err, ErrAbstract), "got %v", err)
}

func TestCallErrors(t *testing.T) {
	rt := load(t, `
int Rec(int n) { return Rec(n + 1); }
int Div(int a) { return 10 / a; }
`)
	_, err := rt.CallValues("Rec", value.NewInt(0))
	assert.True(t, errors.Is(err, ErrStackOverflow), "got %v", err)

	_, err = rt.CallValues("Div", value.NewInt(0))
	assert.True(t, errors.Is(err, eval.ErrZeroDivide), "got %v", err)
	assert.Equal(t, int64(5), call(t, rt, "Div", value.NewInt(2)).Int64())
}

func TestTradeEventContext(t *testing.T) {
	rt := load(t, `int x;`)
	_, ok := rt.TradeEvent()
	assert.False(t, ok)

	rt.SetTradeEvent(&TradeEvent{Ticket: 3, Side: 1, Action: TradeClose})
	ev, ok := rt.TradeEvent()
	require.True(t, ok)
	assert.Equal(t, int64(3), ev.Ticket)

	rt.SetTradeEvent(nil)
	_, ok = rt.TradeEvent()
	assert.False(t, ok)
}

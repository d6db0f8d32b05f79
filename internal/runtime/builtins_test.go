package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqlbt/internal/value"
)

func TestStringBuiltins(t *testing.T) {
	rt := load(t, `int unused;`)
	s := value.NewString
	n := value.NewInt

	tests := []struct {
		name string
		fn   string
		args []value.Value
		want string
	}{
		{"substr", "StringSubstr", []value.Value{s("hello"), n(1), n(3)}, "ell"},
		{"substr to end", "StringSubstr", []value.Value{s("hello"), n(2)}, "llo"},
		{"find", "StringFind", []value.Value{s("hello"), s("l")}, "2"},
		{"find from", "StringFind", []value.Value{s("hello"), s("l"), n(3)}, "3"},
		{"find missing", "StringFind", []value.Value{s("hello"), s("z")}, "-1"},
		{"len", "StringLen", []value.Value{s("héllo")}, "5"},
		{"upper value", "StringToUpper", []value.Value{s("abc")}, "ABC"},
		{"trim", "StringTrimLeft", []value.Value{s("  x ")}, "x "},
		{"to integer", "StringToInteger", []value.Value{s("42")}, "42"},
		{"to double", "StringToDouble", []value.Value{s("1.5")}, "1.5"},
		{"integer padded", "IntegerToString", []value.Value{n(7), n(3), n('0')}, "007"},
		{"double digits", "DoubleToString", []value.Value{value.NewDouble(1.23456), n(2)}, "1.23"},
		{"double default", "DoubleToString", []value.Value{value.NewDouble(0.5)}, "0.50000000"},
		{"concatenate", "StringConcatenate", []value.Value{s("a"), n(1), value.NewDouble(2.5)}, "a12.5"},
		{"format", "StringFormat", []value.Value{s("%d-%s-%.2f%%"), n(5), s("x"), value.NewDouble(1.234)}, "5-x-1.23%"},
		{"compare", "StringCompare", []value.Value{s("a"), s("b")}, "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, rt, tt.fn, tt.args...).String())
		})
	}
}

func TestStringBuiltinsByReference(t *testing.T) {
	rt := load(t, `
string text = "aXbX";
string word = "  mixed Case ";
string parts[];
int Replace() { return StringReplace(text, "X", "-"); }
bool Upper() { StringTrimRight(word); return StringToUpper(word); }
int Split() { return StringSplit("a,b,c", ',', parts); }
`)
	assert.Equal(t, int64(2), call(t, rt, "Replace").Int64())
	assert.Equal(t, "a-b-", global(t, rt, "text").String())

	assert.True(t, call(t, rt, "Upper").Truthy())
	assert.Equal(t, "  MIXED CASE", global(t, rt, "word").String())

	assert.Equal(t, int64(3), call(t, rt, "Split").Int64())
	parts := global(t, rt, "parts").Array()
	require.NotNil(t, parts)
	require.Equal(t, 3, parts.Len())
	b, err := parts.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "b", b.String())
}

func TestMathBuiltins(t *testing.T) {
	rt := load(t, `int unused;`)

	abs := call(t, rt, "MathAbs", value.NewInt(-4))
	assert.Equal(t, value.Int, abs.Kind())
	assert.Equal(t, int64(4), abs.Int64())
	assert.Equal(t, 2.5, call(t, rt, "MathAbs", value.NewDouble(-2.5)).Float64())

	hi := call(t, rt, "MathMax", value.NewInt(3), value.NewInt(7))
	assert.Equal(t, value.Int, hi.Kind())
	assert.Equal(t, int64(7), hi.Int64())
	assert.Equal(t, 2.5, call(t, rt, "MathMax", value.NewInt(1), value.NewDouble(2.5)).Float64())
	assert.Equal(t, 1.0, call(t, rt, "MathMin", value.NewInt(1), value.NewDouble(2.5)).Float64())

	assert.Equal(t, 8.0, call(t, rt, "MathPow", value.NewInt(2), value.NewInt(3)).Float64())
	assert.Equal(t, 3.0, call(t, rt, "MathSqrt", value.NewDouble(9)).Float64())
	assert.Equal(t, 1.23, call(t, rt, "NormalizeDouble", value.NewDouble(1.23456), value.NewInt(2)).Float64())
	assert.Equal(t, 3.0, call(t, rt, "MathRound", value.NewDouble(2.5)).Float64())
	assert.Equal(t, 1.0, call(t, rt, "MathMod", value.NewDouble(7), value.NewDouble(3)).Float64())
}

func TestMathRandDeterministic(t *testing.T) {
	draw := func() []int64 {
		rt := load(t, `int unused;`)
		out := make([]int64, 5)
		for i := range out {
			out[i] = call(t, rt, "MathRand").Int64()
			assert.GreaterOrEqual(t, out[i], int64(0))
			assert.Less(t, out[i], int64(32768))
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestArrayBuiltins(t *testing.T) {
	rt := load(t, `
double data[];
int fixed[2];
int Fill() {
   ArrayResize(data, 4);
   data[0] = 3; data[1] = 9; data[2] = 1; data[3] = 9;
   return ArrayMaximum(data);
}
int Lowest() { return ArrayMinimum(data); }
int GrowFixed() { return ArrayResize(fixed, 5); }
double Head() { ArraySetAsSeries(data, true); return data[0]; }
int Copy() {
   double dst[];
   int n = ArrayCopy(dst, data, 0, 1, 2);
   return n * 100 + (int)dst[0];
}
void Sort() { ArraySort(data); }
`)
	assert.Equal(t, int64(1), call(t, rt, "Fill").Int64())
	assert.Equal(t, int64(2), call(t, rt, "Lowest").Int64())
	assert.Equal(t, int64(-1), call(t, rt, "GrowFixed").Int64())
	assert.Equal(t, int64(209), call(t, rt, "Copy").Int64())

	call(t, rt, "Sort")
	data := global(t, rt, "data").Array()
	var got []float64
	for _, v := range data.Items {
		got = append(got, v.Float64())
	}
	assert.Equal(t, []float64{1, 3, 9, 9}, got)

	assert.Equal(t, 9.0, call(t, rt, "Head").Float64())
}

func TestTimeBuiltins(t *testing.T) {
	clock := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	rt := load(t, `int unused;`, WithClock(func() time.Time { return clock }))

	ts := call(t, rt, "StringToTime", value.NewString("2024.01.02 03:04"))
	assert.Equal(t, value.Datetime, ts.Kind())
	assert.Equal(t, int64(1704164640), ts.Int64())
	assert.Equal(t, int64(1704164640), call(t, rt, "StringToTime", value.NewString("03:04")).Int64())

	assert.Equal(t, "2024.01.02 03:04", call(t, rt, "TimeToString", ts).String())
	assert.Equal(t, "1970.01.01 00:00:00", call(t, rt, "TimeToString", value.NewInt(0), value.NewInt(TimeDate|TimeSeconds)).String())
	assert.Equal(t, int64(2024), call(t, rt, "TimeYear", ts).Int64())
	assert.Equal(t, int64(3), call(t, rt, "TimeHour", ts).Int64())
	assert.Equal(t, int64(2), call(t, rt, "TimeDayOfWeek", ts).Int64())
	assert.Equal(t, clock.Unix(), call(t, rt, "TimeCurrent").Int64())
}

func TestTimeStructRoundTrip(t *testing.T) {
	rt := load(t, `
datetime Round(datetime t) {
   MqlDateTime parts;
   TimeToStruct(t, parts);
   parts.hour = 0;
   return StructToTime(parts);
}
`)
	got := call(t, rt, "Round", value.NewDatetime(1704164640))
	assert.Equal(t, int64(1704153600+240), got.Int64())
}

func TestOutputBuiltins(t *testing.T) {
	var lines []string
	rt := load(t, `
void OnStart() {
   Print("a", 1, " ", 2.5);
   PrintFormat("%d/%s", 3, "z");
   Alert("careful");
   Comment("status");
}
`, WithOutput(func(s string) { lines = append(lines, s) }))

	call(t, rt, "OnStart")
	assert.Equal(t, []string{"a1 2.5", "3/z", "Alert: careful"}, lines)
	assert.Equal(t, "status", rt.Comment())
}

func TestSleepAdvancesClock(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(10 * time.Millisecond)
		return now
	}
	rt := load(t, `void Wait() { Sleep(100); }`, WithClock(clock))
	before := now
	call(t, rt, "Wait")
	assert.GreaterOrEqual(t, now.Sub(before), 100*time.Millisecond)
}

func TestControlBuiltins(t *testing.T) {
	rt := load(t, `
int Run() {
   SetUserError(5);
   int code = GetLastError();
   ExpertRemove();
   if (!IsStopped()) return -1;
   return code;
}
`)
	assert.Equal(t, int64(ErrUserErrorFirst+5), call(t, rt, "Run").Int64())
	assert.True(t, rt.Stopped())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		format string
		args   []value.Value
		want   string
	}{
		{"%i items", []value.Value{value.NewInt(3)}, "3 items"},
		{"%5.1f|", []value.Value{value.NewDouble(2.26)}, "  2.3|"},
		{"%-3d|", []value.Value{value.NewInt(7)}, "7  |"},
		{"%I64d", []value.Value{value.NewLong(1 << 40)}, "1099511627776"},
		{"%u", []value.Value{value.NewInt(-1)}, "4294967295"},
		{"%x", []value.Value{value.NewInt(255)}, "ff"},
		{"%g", []value.Value{value.NewDouble(0.5)}, "0.5"},
		{"%c%c", []value.Value{value.NewInt('o'), value.NewInt('k')}, "ok"},
		{"%*d", []value.Value{value.NewInt(4), value.NewInt(9)}, "   9"},
		{"100%%", nil, "100%"},
		{"%d and %d", []value.Value{value.NewInt(1)}, "1 and 0"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.format, tt.args))
		})
	}
}

package backtest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqlbt/internal/broker"
	"mqlbt/internal/market"
	"mqlbt/internal/runtime"
)

const sym = "EURUSD"

// flat builds one-minute candles that open and close at the given prices.
func flat(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{Time: int64(i) * 60, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func opts(candles []market.Candle) Options {
	return Options{
		InitialBalance: 1000,
		Currency:       "USD",
		Symbol:         sym,
		Candles:        map[string][]market.Candle{sym: candles},
	}
}

func run(t *testing.T, src string, o Options) *Report {
	t.Helper()
	r, err := New(src, o)
	require.NoError(t, err)
	rep, err := r.Run()
	require.NoError(t, err)
	return rep
}

func global(t *testing.T, rep *Report, name string) float64 {
	t.Helper()
	v, ok := rep.Globals[name]
	require.True(t, ok, "global %s", name)
	return v.Float64()
}

func TestLifecycle(t *testing.T) {
	src := `
int inits = 0;
int ticks = 0;
int deinits = 0;
int reason = -1;
int OnInit() { inits++; return INIT_SUCCEEDED; }
void OnTick() { ticks++; }
void OnDeinit(const int why) { deinits++; reason = why; }
`
	rep := run(t, src, opts(flat(1, 1, 1)))
	assert.Equal(t, 3, rep.Bars)
	assert.Equal(t, 1.0, global(t, rep, "inits"))
	assert.Equal(t, 3.0, global(t, rep, "ticks"))
	assert.Equal(t, 1.0, global(t, rep, "deinits"))
	assert.Equal(t, 1.0, global(t, rep, "reason"))
}

func TestStepAfterDone(t *testing.T) {
	r, err := New(`int ticks = 0; void OnTick() { ticks++; }`, opts(flat(1, 1)))
	require.NoError(t, err)

	more, err := r.Step()
	require.NoError(t, err)
	assert.True(t, more)
	more, err = r.Step()
	require.NoError(t, err)
	assert.False(t, more)
	assert.True(t, r.Done())

	more, err = r.Step()
	require.NoError(t, err)
	assert.False(t, more)
	require.NoError(t, r.Stop())
	assert.Equal(t, 2.0, r.Report().Globals["ticks"].Float64())
}

func TestExpertRemove(t *testing.T) {
	src := `
int ticks = 0;
int reason = -1;
void OnTick() { ticks++; if (ticks == 2) ExpertRemove(); }
void OnDeinit(const int why) { reason = why; }
`
	rep := run(t, src, opts(flat(1, 1, 1, 1)))
	assert.Equal(t, 2.0, global(t, rep, "ticks"))
	assert.Equal(t, 0.0, global(t, rep, "reason"))
}

func TestInitFailedIsInert(t *testing.T) {
	src := `
int ticks = 0;
int reason = -1;
int OnInit() { return INIT_FAILED; }
void OnTick() { ticks++; }
void OnDeinit(const int why) { reason = why; }
`
	rep := run(t, src, opts(flat(1, 1, 1)))
	assert.Equal(t, 0.0, global(t, rep, "ticks"))
	assert.Equal(t, 8.0, global(t, rep, "reason"))
}

func TestScriptRunsOnce(t *testing.T) {
	src := `
int starts = 0;
double seen = 0;
void OnStart() { starts++; seen = Bid; }
`
	r, err := New(src, opts(flat(1.5, 2, 3)))
	require.NoError(t, err)
	assert.Equal(t, runtime.KindScript, r.Kind())
	rep, err := r.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Bars)
	assert.Equal(t, 1.0, global(t, rep, "starts"))
	assert.Equal(t, 1.5, global(t, rep, "seen"))
}

func TestCompileError(t *testing.T) {
	_, err := New(`void OnTick() { int x = ; }`, Options{
		FileName: "broken.mq4",
		Candles:  map[string][]market.Candle{sym: flat(1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.mq4")
}

func TestNoData(t *testing.T) {
	_, err := New(`void OnTick() {}`, Options{Symbol: sym})
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestQuotesAtBarOpen(t *testing.T) {
	src := `
int n = 0;
double first = 0;
double second = 0;
void OnTick() {
   if (n == 0) first = Bid;
   if (n == 1) second = Bid;
   n++;
}
`
	rep := run(t, src, Options{
		InitialBalance: 1000,
		Symbol:         sym,
		Ticks:          map[string][]market.Tick{sym: {{Time: 0, Bid: 1, Ask: 1.1}, {Time: 30, Bid: 2, Ask: 2.1}, {Time: 61, Bid: 3, Ask: 3.1}}},
	})
	assert.Equal(t, 2, rep.Bars)
	assert.Equal(t, 1.0, global(t, rep, "first"))
	assert.Equal(t, 3.0, global(t, rep, "second"))
}

func TestPendingOrderLifecycle(t *testing.T) {
	src := `
int ticket = -1;
void OnTick() {
   if (Bars == 1) ticket = OrderSend(Symbol(), OP_BUYLIMIT, 1, 1.2, 0, 0.8, 2);
}
`
	candles := []market.Candle{
		{Time: 0, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Time: 120, Open: 1.5, High: 3, Low: 1.4, Close: 2},
	}
	rep := run(t, src, opts(candles))
	assert.Equal(t, 1.0, global(t, rep, "ticket"))
	require.Len(t, rep.Orders, 1)
	o := rep.Orders[0]
	assert.Equal(t, broker.StateClosed, o.State)
	assert.Equal(t, 1.2, o.OpenPrice)
	assert.Equal(t, 2.0, o.ClosePrice)
	assert.InDelta(t, 0.8, o.Profit, 1e-9)
	assert.InDelta(t, 1000.8, rep.Account.Balance, 1e-9)
	assert.InDelta(t, rep.Account.Balance, 1000+rep.Account.ClosedProfit, 1e-9)
}

func TestMarketOrderAndClose(t *testing.T) {
	src := `
int ticket = -1;
double profit = 0;
double equity = 0;
void OnTick() {
   if (Bars == 1) ticket = OrderSend(Symbol(), OP_BUY, 2, Ask, 3, 0, 0);
   if (Bars == 2) equity = AccountEquity();
   if (Bars == 3 && OrderSelect(ticket, SELECT_BY_TICKET)) {
      OrderClose(ticket, OrderLots(), Bid, 3);
      OrderSelect(0, SELECT_BY_POS, MODE_HISTORY);
      profit = OrderProfit();
   }
}
`
	rep := run(t, src, opts(flat(1, 1.5, 2)))
	assert.Equal(t, 1.0, global(t, rep, "ticket"))
	assert.InDelta(t, 1001, global(t, rep, "equity"), 1e-9)
	assert.InDelta(t, 2, global(t, rep, "profit"), 1e-9)
	assert.InDelta(t, 1002, rep.Account.Balance, 1e-9)
	assert.InDelta(t, rep.Account.Balance, rep.Account.Equity, 1e-9)
}

func TestRejectedOrderSetsLastError(t *testing.T) {
	src := `
int ticket = 0;
int code = 0;
void OnTick() {
   ticket = OrderSend(Symbol(), OP_BUY, 0, Ask, 0, 0, 0);
   code = GetLastError();
}
`
	rep := run(t, src, opts(flat(1)))
	assert.Equal(t, -1.0, global(t, rep, "ticket"))
	assert.Equal(t, float64(errInvalidTradeVolume), global(t, rep, "code"))
	assert.Empty(t, rep.Orders)
}

func TestOrderSelectUnknownTicket(t *testing.T) {
	src := `
int found = -1;
int code = 0;
void OnTick() {
   found = OrderSelect(42, SELECT_BY_TICKET);
   code = GetLastError();
}
`
	rep := run(t, src, opts(flat(1)))
	assert.Equal(t, 0.0, global(t, rep, "found"))
	assert.Equal(t, float64(errInvalidTicket), global(t, rep, "code"))
}

func TestDeterministic(t *testing.T) {
	src := `
input int Every = 2;
void OnTick() {
   if (Bars % Every == 1) OrderSend(Symbol(), OP_BUY, 1, Ask, 0, 0, 0);
   if (Bars % Every == 0) {
      for (int i = OrdersTotal() - 1; i >= 0; i--)
         if (OrderSelect(i, SELECT_BY_POS)) OrderClose(OrderTicket(), OrderLots(), Bid, 0);
   }
}
`
	o := opts(flat(1, 1.1, 1.05, 1.2, 1.15, 1.3))
	o.Inputs = map[string]string{"Every": "2"}
	a := run(t, src, o)
	b := run(t, src, o)
	assert.Equal(t, a.RunID, b.RunID)
	assert.Equal(t, a.Account, b.Account)
	assert.Equal(t, a.Orders, b.Orders)
	assert.Len(t, a.Orders, 3)

	o.Inputs = map[string]string{"Every": "3"}
	c := run(t, src, o)
	assert.NotEqual(t, a.RunID, c.RunID)
}

func TestTimerCatchUp(t *testing.T) {
	src := `
int fired = 0;
int OnInit() { EventSetTimer(30); return INIT_SUCCEEDED; }
void OnTimer() { fired++; }
void OnTick() {}
`
	rep := run(t, src, opts(flat(1, 1, 1)))
	assert.Equal(t, 4.0, global(t, rep, "fired"))
}

func TestTradeEventContext(t *testing.T) {
	src := `
int events = 0;
int seenTicket = -1;
int seenType = -1;
int seenSide = -1;
int outside = -1;
void OnTick() {
   if (Bars == 1) OrderSend(Symbol(), OP_SELL, 1, Bid, 0, 0, 0);
   outside = TradeEventTicket();
}
void OnTrade() {
   events++;
   seenTicket = TradeEventTicket();
   seenType = TradeEventType();
   seenSide = TradeEventSide();
}
`
	rep := run(t, src, opts(flat(1, 1)))
	assert.Equal(t, 1.0, global(t, rep, "events"))
	assert.Equal(t, 1.0, global(t, rep, "seenTicket"))
	assert.Equal(t, 0.0, global(t, rep, "seenType"))
	assert.Equal(t, 1.0, global(t, rep, "seenSide"))
	assert.Equal(t, 0.0, global(t, rep, "outside"))
}

func TestChartEvents(t *testing.T) {
	src := `
int id = 0;
long l = 0;
double d = 0;
string s = "";
int calls = 0;
int OnInit() { EventChartCustom(ChartID(), 7, 42, 1.5, "hi"); return INIT_SUCCEEDED; }
void OnTick() {}
void OnChartEvent(const int ev, const long &lparam, const double &dparam, const string &sparam) {
   calls++;
   id = ev;
   l = lparam;
   d = dparam;
   s = sparam;
}
`
	rep := run(t, src, opts(flat(1, 1)))
	assert.Equal(t, 1.0, global(t, rep, "calls"))
	assert.Equal(t, 1007.0, global(t, rep, "id"))
	assert.Equal(t, 42.0, global(t, rep, "l"))
	assert.Equal(t, 1.5, global(t, rep, "d"))
	assert.Equal(t, "hi", rep.Globals["s"].String())
}

func TestIndicators(t *testing.T) {
	src := `
double sma = 0;
double atr = 0;
double high = 0;
void OnTick() {
   sma = iMA(NULL, 0, 2, 0, MODE_SMA, PRICE_CLOSE, 0);
   atr = iATR(NULL, 0, 2, 0);
   high = iHigh(NULL, 0, 1);
}
`
	candles := make([]market.Candle, 4)
	for i := range candles {
		c := float64(i + 1)
		candles[i] = market.Candle{Time: int64(i) * 60, Open: c, High: c, Low: c - 1, Close: c}
	}
	rep := run(t, src, opts(candles))
	assert.InDelta(t, 3.5, global(t, rep, "sma"), 1e-9)
	assert.InDelta(t, 1.0, global(t, rep, "atr"), 1e-9)
	assert.InDelta(t, 3.0, global(t, rep, "high"), 1e-9)
}

func TestOnCalculate(t *testing.T) {
	src := `
int calls = 0;
int prev = -1;
double last = 0;
double first = 0;
int OnCalculate(const int rates_total, const int prev_calculated,
                const datetime &time[], const double &open[], const double &high[],
                const double &low[], const double &close[], const long &tick_volume[],
                const long &volume[], const int &spread[]) {
   calls++;
   prev = prev_calculated;
   last = close[0];
   first = close[rates_total - 1];
   return rates_total;
}
`
	r, err := New(src, opts(flat(1, 2, 3)))
	require.NoError(t, err)
	assert.Equal(t, runtime.KindIndicator, r.Kind())
	rep, err := r.Run()
	require.NoError(t, err)
	assert.Equal(t, 3.0, global(t, rep, "calls"))
	assert.Equal(t, 2.0, global(t, rep, "prev"))
	assert.Equal(t, 3.0, global(t, rep, "last"))
	assert.Equal(t, 1.0, global(t, rep, "first"))
}

func TestGlobalsPersist(t *testing.T) {
	src := `
void OnTick() {}
void OnDeinit(const int why) {
   GlobalVariableSet("runs", GlobalVariableGet("runs") + 1);
}
`
	o := opts(flat(1, 1))
	o.DataDir = t.TempDir()
	run(t, src, o)
	rep := run(t, src, o)

	assert.Equal(t, 2.0, rep.TerminalGlobals["runs"].Value)
	_, err := os.Stat(filepath.Join(o.DataDir, GlobalsFile))
	assert.NoError(t, err)
}

func TestFiles(t *testing.T) {
	src := `
string read = "";
int bad = 0;
void OnStart() {
   int h = FileOpen("out.csv", FILE_WRITE | FILE_CSV, ';');
   FileWrite(h, "a", 1);
   FileClose(h);
   h = FileOpen("out.csv", FILE_READ | FILE_CSV, ';');
   read = FileReadString(h);
   FileClose(h);
   if (FileOpen("missing.csv", FILE_READ) == INVALID_HANDLE) bad = GetLastError();
}
`
	r, err := New(src, opts(flat(1)))
	require.NoError(t, err)
	rep, err := r.Run()
	require.NoError(t, err)

	raw, ok := r.Terminal().File("out.csv")
	require.True(t, ok)
	assert.Equal(t, "a;1\r\n", string(raw))
	assert.Equal(t, "a", rep.Globals["read"].String())
	assert.Equal(t, float64(errCannotOpenFile), global(t, rep, "bad"))
}

func TestLogSink(t *testing.T) {
	var lines []string
	o := opts(flat(1))
	o.LogSink = func(s string) { lines = append(lines, s) }
	run(t, `void OnStart() { Print("bar ", Bars); }`, o)
	assert.Equal(t, []string{"bar 1"}, lines)
}

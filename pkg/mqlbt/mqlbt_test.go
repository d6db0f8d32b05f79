package mqlbt

import (
	"context"
	"errors"
	"testing"
)

const crossover = `
input int Threshold = 2;
int ticks = 0;
void OnTick() {
   ticks++;
   if (ticks == Threshold) OrderSend(Symbol(), OP_BUY, 1, Ask, 0, 0, 0);
}
`

func candles(n int) []Candle {
	out := make([]Candle, n)
	for i := range out {
		c := 1 + float64(i)/10
		out[i] = Candle{Time: int64(i) * 3600, Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func testOptions() Options {
	return Options{
		InitialBalance: 100,
		Symbol:         "GBPUSD",
		Candles:        map[string][]Candle{"GBPUSD": candles(5)},
	}
}

func TestInterpretScript(t *testing.T) {
	rt, err := Interpret(`int n = 0; void OnStart() { n = 41 + 1; }`, Context{}, CompileOptions{})
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	v, ok := rt.Global("n")
	if !ok {
		t.Fatal("global n not found")
	}
	if got := v.Int64(); got != 42 {
		t.Errorf("n = %d, want 42", got)
	}
}

func TestCompileReportsErrors(t *testing.T) {
	res := Compile(`void OnTick() { int x = ; }`, CompileOptions{FileName: "bad.mq4"})
	if res.OK() {
		t.Fatal("expected compile errors")
	}
	if res.Runtime != nil {
		t.Error("expected no runtime for a failed compile")
	}
}

func TestBacktest(t *testing.T) {
	rep, err := Backtest(context.Background(), crossover, testOptions())
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if rep.Bars != 5 {
		t.Errorf("bars = %d, want 5", rep.Bars)
	}
	if len(rep.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(rep.Orders))
	}
	if got := rep.Orders[0].OpenPrice; got != 1.1 {
		t.Errorf("open price = %v, want 1.1", got)
	}
}

func TestBacktestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := Backtest(ctx, crossover, testOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep == nil || rep.Bars != 0 {
		t.Errorf("expected an empty report, got %+v", rep)
	}
}

func TestSweep(t *testing.T) {
	inputs := []map[string]string{
		{"Threshold": "1"},
		{"Threshold": "3"},
		{"Threshold": "9"},
	}
	reports, err := Sweep(context.Background(), crossover, testOptions(), inputs, 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(reports) != len(inputs) {
		t.Fatalf("reports = %d, want %d", len(reports), len(inputs))
	}

	wantOrders := []int{1, 1, 0}
	for i, rep := range reports {
		if got := len(rep.Orders); got != wantOrders[i] {
			t.Errorf("run %d: orders = %d, want %d", i, got, wantOrders[i])
		}
	}
	if reports[0].RunID == reports[1].RunID {
		t.Error("runs with different inputs share a run id")
	}
	if got := reports[1].Orders[0].OpenPrice; got != 1.2 {
		t.Errorf("run 1: open price = %v, want 1.2", got)
	}
}

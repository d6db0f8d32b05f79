package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mqlbt/internal/broker"
	"mqlbt/internal/market"
	"mqlbt/internal/terminal"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	ts := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	got := ps.tickPath("eurusd", ts)
	want := filepath.Join("/data", "ticks", "EURUSD", "2024-06-15.parquet")
	if got != want {
		t.Errorf("tickPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.orderPath("run-1")
	want = filepath.Join("/data", "runs", "run-1", "orders.parquet")
	if got != want {
		t.Errorf("orderPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadTicks(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix()
	ticks := []market.Tick{
		{Time: day + 10, Bid: 1.1, Ask: 1.2},
		{Time: day + 86400 + 5, Bid: 1.3, Ask: 1.4},
		{Time: day + 20, Bid: 1.15, Ask: 1.25},
	}
	if err := ps.WriteTicks(ctx, "EURUSD", ticks); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}

	// a second write merges rather than overwrites
	more := []market.Tick{{Time: day + 20, Bid: 1.16, Ask: 1.26}, {Time: day + 30, Bid: 1.17, Ask: 1.27}}
	if err := ps.WriteTicks(ctx, "EURUSD", more); err != nil {
		t.Fatalf("WriteTicks (second): %v", err)
	}

	got, err := ps.ReadTicks(ctx, "EURUSD", day, day+2*86400)
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("ReadTicks returned %d ticks, want 4", len(got))
	}
	if got[1].Bid != 1.16 {
		t.Errorf("merged tick Bid = %v, want 1.16", got[1].Bid)
	}
	if got[3].Time != day+86400+5 {
		t.Errorf("last tick Time = %d, want %d", got[3].Time, day+86400+5)
	}

	got, err = ps.ReadTicks(ctx, "EURUSD", day+15, day+25)
	if err != nil {
		t.Fatalf("ReadTicks (window): %v", err)
	}
	if len(got) != 1 || got[0].Time != day+20 {
		t.Errorf("ReadTicks window = %+v, want the tick at +20", got)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	symbols, err := ps.ListSymbols(ctx)
	if err != nil || symbols != nil {
		t.Fatalf("ListSymbols on empty store = %v, %v", symbols, err)
	}

	for _, sym := range []string{"GBPUSD", "EURUSD"} {
		if err := ps.WriteTicks(ctx, sym, []market.Tick{{Time: 100, Bid: 1, Ask: 1}}); err != nil {
			t.Fatalf("WriteTicks(%s): %v", sym, err)
		}
	}
	symbols, err = ps.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "EURUSD" || symbols[1] != "GBPUSD" {
		t.Errorf("ListSymbols = %v, want [EURUSD GBPUSD]", symbols)
	}
}

func TestParquetStoreOrders(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	orders := []broker.Order{
		{Ticket: 2, Type: broker.TypeSellLimit, Side: broker.Sell, Symbol: "X", Volume: 1, Price: 1.5, State: broker.StateDeleted, CloseTime: 60},
		{Ticket: 1, Type: broker.TypeBuy, Side: broker.Buy, Symbol: "X", Volume: 2, Price: 1.1, OpenPrice: 1.1, State: broker.StateClosed, ClosePrice: 1.3, Profit: 0.4, Comment: "tp"},
	}
	if err := ps.WriteOrders(ctx, "r1", orders); err != nil {
		t.Fatalf("WriteOrders: %v", err)
	}
	got, err := ps.ReadOrders(ctx, "r1")
	if err != nil {
		t.Fatalf("ReadOrders: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadOrders returned %d orders, want 2", len(got))
	}
	if got[0] != orders[1] {
		t.Errorf("first order = %+v, want %+v", got[0], orders[1])
	}
	if got[1] != orders[0] {
		t.Errorf("second order = %+v, want %+v", got[1], orders[0])
	}

	if _, err := ps.ReadOrders(ctx, "missing"); err == nil {
		t.Error("ReadOrders for a missing run returned no error")
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()

	if err := store.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreGlobals(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "globals.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	want := map[string]terminal.Global{
		"alpha": {Value: 1.5, Time: 100},
		"beta":  {Value: -2, Time: 200},
	}
	if err := store.SaveGlobals(want); err != nil {
		t.Fatalf("SaveGlobals: %v", err)
	}
	if err := store.SaveGlobals(map[string]terminal.Global{"beta": want["beta"]}); err != nil {
		t.Fatalf("SaveGlobals (replace): %v", err)
	}
	store.Close()

	// reopen to check the data is on disk
	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer store.Close()
	got, err := store.LoadGlobals()
	if err != nil {
		t.Fatalf("LoadGlobals: %v", err)
	}
	if len(got) != 1 || got["beta"] != want["beta"] {
		t.Errorf("LoadGlobals = %v, want only beta", got)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	runs := []Run{
		{ID: "a", Script: "ea.mq4", Symbol: "X", Bars: 3, Balance: 1000, FinishedAt: 10},
		{ID: "b", Script: "ea.mq4", Symbol: "X", Bars: 3, Orders: 1, Balance: 1000.8, ClosedProfit: 0.8, FinishedAt: 20},
	}
	for i := range runs {
		if err := store.SaveRun(ctx, &runs[i]); err != nil {
			t.Fatalf("SaveRun(%s): %v", runs[i].ID, err)
		}
	}
	got, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 1 || got[0] != runs[1] {
		t.Errorf("ListRuns(1) = %+v, want [%+v]", got, runs[1])
	}
}

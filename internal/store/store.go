// Package store persists backtest inputs and outputs: tick series and order
// history in Parquet files, terminal global variables and run summaries in
// SQLite.
package store

import (
	"context"

	"mqlbt/internal/broker"
	"mqlbt/internal/market"
)

// TickStore persists and retrieves tick series.
type TickStore interface {
	// WriteTicks persists a batch of ticks for symbol.
	WriteTicks(ctx context.Context, symbol string, ticks []market.Tick) error

	// ReadTicks returns the ticks of symbol within [start, end] Unix seconds.
	ReadTicks(ctx context.Context, symbol string, start, end int64) ([]market.Tick, error)

	// ListSymbols returns all symbols with stored ticks.
	ListSymbols(ctx context.Context) ([]string, error)
}

// OrderStore exports the order list of a run.
type OrderStore interface {
	// WriteOrders replaces the stored orders of a run.
	WriteOrders(ctx context.Context, runID string, orders []broker.Order) error

	// ReadOrders returns the stored orders of a run in ticket order.
	ReadOrders(ctx context.Context, runID string) ([]broker.Order, error)
}

// RunStore records run summaries.
type RunStore interface {
	// SaveRun inserts or replaces a run summary.
	SaveRun(ctx context.Context, run *Run) error

	// ListRuns returns the most recent runs, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Run summarizes one finished backtest.
type Run struct {
	ID           string
	Script       string
	Symbol       string
	Bars         int
	Orders       int
	Balance      float64
	Equity       float64
	ClosedProfit float64
	FinishedAt   int64 // Unix seconds, wall clock
}

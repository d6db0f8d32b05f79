package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"mqlbt/internal/broker"
	"mqlbt/internal/market"
)

// Compile-time interface checks.
var _ TickStore = (*ParquetStore)(nil)
var _ OrderStore = (*ParquetStore)(nil)

// ParquetStore implements TickStore and OrderStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// TickRecord is the Parquet schema for tick data.
type TickRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Bid       float64 `parquet:"bid"`
	Ask       float64 `parquet:"ask"`
}

// OrderRecord is the Parquet schema for exported orders.
type OrderRecord struct {
	Ticket     int64   `parquet:"ticket"`
	Type       string  `parquet:"type"`
	Symbol     string  `parquet:"symbol"`
	Volume     float64 `parquet:"volume"`
	Price      float64 `parquet:"price"`
	OpenPrice  float64 `parquet:"open_price"`
	StopLoss   float64 `parquet:"stop_loss"`
	TakeProfit float64 `parquet:"take_profit"`
	State      string  `parquet:"state"`
	OpenTime   int64   `parquet:"open_time"`
	CloseTime  int64   `parquet:"close_time"`
	ClosePrice float64 `parquet:"close_price"`
	Profit     float64 `parquet:"profit"`
	Comment    string  `parquet:"comment"`
	Magic      int64   `parquet:"magic"`
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks writes ticks to Parquet files organized by symbol and UTC date,
// merging with ticks already stored for the same day.
func (s *ParquetStore) WriteTicks(_ context.Context, symbol string, ticks []market.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	groups := make(map[string][]TickRecord)
	for _, t := range ticks {
		date := time.Unix(t.Time, 0).UTC().Format("2006-01-02")
		groups[date] = append(groups[date], TickRecord{
			Timestamp: t.Time * 1000,
			Bid:       t.Bid,
			Ask:       t.Ask,
		})
	}

	for date, records := range groups {
		day, _ := time.Parse("2006-01-02", date)
		path := s.tickPath(symbol, day)

		existing, _ := readParquetFile[TickRecord](path)
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", symbol, date, err)
		}
	}
	return nil
}

// ReadTicks reads the ticks of symbol within [start, end] Unix seconds.
func (s *ParquetStore) ReadTicks(_ context.Context, symbol string, start, end int64) ([]market.Tick, error) {
	var ticks []market.Tick
	first := time.Unix(start, 0).UTC().Truncate(24 * time.Hour)
	last := time.Unix(end, 0).UTC()
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[TickRecord](s.tickPath(symbol, d))
		if err != nil {
			continue
		}
		for _, r := range records {
			sec := r.Timestamp / 1000
			if sec >= start && sec <= end {
				ticks = append(ticks, market.Tick{Time: sec, Bid: r.Bid, Ask: r.Ask})
			}
		}
	}
	return ticks, nil
}

// ListSymbols lists all symbols that have tick data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "ticks"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// WriteOrders writes the order list of a run to a single Parquet file.
func (s *ParquetStore) WriteOrders(_ context.Context, runID string, orders []broker.Order) error {
	records := make([]OrderRecord, len(orders))
	for i, o := range orders {
		records[i] = OrderRecord{
			Ticket:     o.Ticket,
			Type:       o.Type.String(),
			Symbol:     o.Symbol,
			Volume:     o.Volume,
			Price:      o.Price,
			OpenPrice:  o.OpenPrice,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			State:      o.State.String(),
			OpenTime:   o.OpenTime,
			CloseTime:  o.CloseTime,
			ClosePrice: o.ClosePrice,
			Profit:     o.Profit,
			Comment:    o.Comment,
			Magic:      o.Magic,
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Ticket < records[j].Ticket })
	if err := writeParquetFile(s.orderPath(runID), records); err != nil {
		return fmt.Errorf("writing orders for run %s: %w", runID, err)
	}
	return nil
}

// ReadOrders reads the order list of a run.
func (s *ParquetStore) ReadOrders(_ context.Context, runID string) ([]broker.Order, error) {
	records, err := readParquetFile[OrderRecord](s.orderPath(runID))
	if err != nil {
		return nil, fmt.Errorf("reading orders for run %s: %w", runID, err)
	}
	orders := make([]broker.Order, len(records))
	for i, r := range records {
		typ := parseType(r.Type)
		orders[i] = broker.Order{
			Ticket:     r.Ticket,
			Type:       typ,
			Side:       typ.Side(),
			Symbol:     r.Symbol,
			Volume:     r.Volume,
			Price:      r.Price,
			OpenPrice:  r.OpenPrice,
			StopLoss:   r.StopLoss,
			TakeProfit: r.TakeProfit,
			State:      parseState(r.State),
			OpenTime:   r.OpenTime,
			CloseTime:  r.CloseTime,
			ClosePrice: r.ClosePrice,
			Profit:     r.Profit,
			Comment:    r.Comment,
			Magic:      r.Magic,
		}
	}
	return orders, nil
}

func parseType(s string) broker.Type {
	for t := broker.TypeBuy; t.Valid(); t++ {
		if t.String() == s {
			return t
		}
	}
	return broker.Type(-1)
}

func parseState(s string) broker.State {
	for st := broker.StatePending; st <= broker.StateDeleted; st++ {
		if st.String() == s {
			return st
		}
	}
	return broker.StatePending
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// tickPath returns the filesystem path for a tick Parquet file.
// Layout: <dataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) tickPath(symbol string, t time.Time) string {
	date := t.Format("2006-01-02")
	return filepath.Join(s.DataDir, "ticks", strings.ToUpper(symbol), date+".parquet")
}

// orderPath returns the filesystem path for a run's order export.
// Layout: <dataDir>/runs/<runID>/orders.parquet
func (s *ParquetStore) orderPath(runID string) string {
	return filepath.Join(s.DataDir, "runs", runID, "orders.parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords deduplicates tick records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	seen := make(map[int64]TickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]TickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// Package market holds the price history a backtest replays: raw ticks and
// primary candles per symbol, with derived candle views for other periods.
package market

import (
	"sort"
)

// Candle is one OHLC bar. Time is the bar's open in Unix seconds.
type Candle struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Tick is a single quote.
type Tick struct {
	Time int64
	Bid  float64
	Ask  float64
}

// bucket floors t to a multiple of period, rounding toward negative infinity.
func bucket(t, period int64) int64 {
	b := t - t%period
	if t%period < 0 {
		b -= period
	}
	return b
}

// Aggregate builds candles of period seconds from time-sorted ticks using the
// bid price. Buckets without ticks produce no candle.
func Aggregate(ticks []Tick, period int64) []Candle {
	if period <= 0 || len(ticks) == 0 {
		return nil
	}
	var out []Candle
	for _, t := range ticks {
		start := bucket(t.Time, period)
		if n := len(out); n > 0 && out[n-1].Time == start {
			c := &out[n-1]
			c.High = max(c.High, t.Bid)
			c.Low = min(c.Low, t.Bid)
			c.Close = t.Bid
			continue
		}
		out = append(out, Candle{Time: start, Open: t.Bid, High: t.Bid, Low: t.Bid, Close: t.Bid})
	}
	return out
}

// Resample merges time-sorted candles into buckets of period seconds. Open is
// the first bar's, close the last bar's, volume the sum.
func Resample(candles []Candle, period int64) []Candle {
	if period <= 0 || len(candles) == 0 {
		return nil
	}
	var out []Candle
	for _, c := range candles {
		start := bucket(c.Time, period)
		if n := len(out); n > 0 && out[n-1].Time == start {
			agg := &out[n-1]
			agg.High = max(agg.High, c.High)
			agg.Low = min(agg.Low, c.Low)
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		c.Time = start
		out = append(out, c)
	}
	return out
}

// InferPeriod returns the smallest positive spacing between consecutive
// candles, or 0 when fewer than two candles are given.
func InferPeriod(candles []Candle) int64 {
	var p int64
	for i := 1; i < len(candles); i++ {
		d := candles[i].Time - candles[i-1].Time
		if d > 0 && (p == 0 || d < p) {
			p = d
		}
	}
	return p
}

type viewKey struct {
	symbol string
	period int64
}

// Source serves quotes and candle views for a set of symbols. Tick lookups
// move a per-symbol cursor forward only; earlier times are answered by
// binary search without disturbing it. A Source is not safe for concurrent
// use.
type Source struct {
	ticks   map[string][]Tick
	candles map[string][]Candle
	periods map[string]int64
	cursor  map[string]int
	views   map[viewKey][]Candle
}

// NewSource returns an empty Source.
func NewSource() *Source {
	return &Source{
		ticks:   make(map[string][]Tick),
		candles: make(map[string][]Candle),
		periods: make(map[string]int64),
		cursor:  make(map[string]int),
		views:   make(map[viewKey][]Candle),
	}
}

// SetTicks replaces the tick series of symbol. The ticks are copied and
// sorted by time; cached views of symbol are dropped.
func (s *Source) SetTicks(symbol string, ticks []Tick) {
	sorted := append([]Tick(nil), ticks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	s.ticks[symbol] = sorted
	s.cursor[symbol] = -1
	s.invalidate(symbol)
}

// SetCandles replaces the primary candle series of symbol. period is the bar
// length in seconds; 0 infers it from the data.
func (s *Source) SetCandles(symbol string, candles []Candle, period int64) {
	sorted := append([]Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	if period <= 0 {
		period = InferPeriod(sorted)
	}
	s.candles[symbol] = sorted
	s.periods[symbol] = period
	s.invalidate(symbol)
}

func (s *Source) invalidate(symbol string) {
	for k := range s.views {
		if k.symbol == symbol {
			delete(s.views, k)
		}
	}
}

// Symbols lists every symbol with ticks or candles, sorted.
func (s *Source) Symbols() []string {
	seen := make(map[string]bool)
	for sym := range s.ticks {
		seen[sym] = true
	}
	for sym := range s.candles {
		seen[sym] = true
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// HasTicks reports whether symbol has a non-empty tick series.
func (s *Source) HasTicks(symbol string) bool { return len(s.ticks[symbol]) > 0 }

// Period returns the primary candle period of symbol in seconds.
func (s *Source) Period(symbol string) int64 { return s.periods[symbol] }

// Primary returns the primary candles of symbol.
func (s *Source) Primary(symbol string) []Candle { return s.candles[symbol] }

// Tick returns the latest tick of symbol at or before t.
func (s *Source) Tick(symbol string, t int64) (Tick, bool) {
	ticks := s.ticks[symbol]
	if len(ticks) == 0 {
		return Tick{}, false
	}
	i, ok := s.cursor[symbol]
	if !ok {
		i = -1
	}
	if i >= 0 && ticks[i].Time > t {
		j := sort.Search(len(ticks), func(k int) bool { return ticks[k].Time > t }) - 1
		if j < 0 {
			return Tick{}, false
		}
		return ticks[j], true
	}
	for i+1 < len(ticks) && ticks[i+1].Time <= t {
		i++
	}
	s.cursor[symbol] = i
	if i < 0 {
		return Tick{}, false
	}
	return ticks[i], true
}

// Quote returns bid and ask of symbol at time t. Symbols without ticks quote
// the close of the latest primary candle at or before t on both sides.
func (s *Source) Quote(symbol string, t int64) (bid, ask float64, ok bool) {
	if s.HasTicks(symbol) {
		tk, ok := s.Tick(symbol, t)
		return tk.Bid, tk.Ask, ok
	}
	candles := s.candles[symbol]
	i := IndexAt(candles, t)
	if i < 0 {
		return 0, 0, false
	}
	return candles[i].Close, candles[i].Close, true
}

// BarQuote resolves the quote of symbol for the bar opening at open. With
// ticks it is the bar's opening tick, or the latest earlier tick when the
// bar has none. Candle-only symbols quote as Quote does.
func (s *Source) BarQuote(symbol string, open, period int64) (bid, ask float64, ok bool) {
	ticks := s.ticks[symbol]
	if len(ticks) == 0 {
		return s.Quote(symbol, open)
	}
	i := sort.Search(len(ticks), func(k int) bool { return ticks[k].Time >= open })
	if i < len(ticks) && (period <= 0 || ticks[i].Time < open+period) {
		return ticks[i].Bid, ticks[i].Ask, true
	}
	if i == 0 {
		return 0, 0, false
	}
	return ticks[i-1].Bid, ticks[i-1].Ask, true
}

// Candles returns the candle view of symbol for period seconds. Period 0 or
// the primary period returns the primary series when one exists. Other views
// are built once from the symbol's ticks, or resampled from its primary
// candles when it has none, and memoized.
func (s *Source) Candles(symbol string, period int64) []Candle {
	primary := s.candles[symbol]
	if len(primary) > 0 && (period <= 0 || period == s.periods[symbol]) {
		return primary
	}
	if period <= 0 {
		return nil
	}
	key := viewKey{symbol, period}
	if v, ok := s.views[key]; ok {
		return v
	}
	var v []Candle
	if s.HasTicks(symbol) {
		v = Aggregate(s.ticks[symbol], period)
	} else {
		v = Resample(primary, period)
	}
	s.views[key] = v
	return v
}

// IndexAt returns the index of the last candle opening at or before t, or -1.
func IndexAt(candles []Candle, t int64) int {
	return sort.Search(len(candles), func(i int) bool { return candles[i].Time > t }) - 1
}

package backtest

import (
	"time"

	"github.com/thrasher-corp/gct-ta/indicators"

	"mqlbt/internal/eval"
	"mqlbt/internal/market"
	"mqlbt/internal/runtime"
	"mqlbt/internal/value"
)

// Error codes the bound builtins report through GetLastError.
const (
	errInvalidTradeParameters = 3
	errInvalidPrice           = 129
	errInvalidTradeVolume     = 131
	errInvalidParameter       = 4003
	errNoOrderSelected        = 4105
	errUnknownSymbol          = 4106
	errInvalidTicket          = 4108
	errGlobalNotFound         = 4501
	errCannotOpenFile         = 5004
	errInvalidFileHandle      = 5007
)

var errorConstants = map[string]int{
	"ERR_INVALID_TRADE_PARAMETERS": errInvalidTradeParameters,
	"ERR_INVALID_PRICE":            errInvalidPrice,
	"ERR_INVALID_TRADE_VOLUME":     errInvalidTradeVolume,
	"ERR_NO_ORDER_SELECTED":        errNoOrderSelected,
	"ERR_UNKNOWN_SYMBOL":           errUnknownSymbol,
	"ERR_CANNOT_OPEN_FILE":         errCannotOpenFile,
	"ERR_INVALID_FILEHANDLE":       errInvalidFileHandle,
}

// Series selectors of iHighest, iLowest and MarketInfo.
const (
	modeOpen   = 0
	modeLow    = 1
	modeHigh   = 2
	modeClose  = 3
	modeVolume = 4
	modeTime   = 5
)

// Applied prices.
const (
	priceClose = iota
	priceOpen
	priceHigh
	priceLow
	priceMedian
	priceTypical
	priceWeighted
)

// Moving average methods.
const (
	maSMA = iota
	maEMA
	maSMMA
	maLWMA
)

// registry binds the market, trading and terminal builtins to r.
func (r *Runner) registry() runtime.Registry {
	reg := runtime.Registry{
		"Symbol":       func(*runtime.Runtime, []eval.Arg) (value.Value, error) { return value.NewString(r.symbol), nil },
		"Period":       func(*runtime.Runtime, []eval.Arg) (value.Value, error) { return value.NewInt(r.period / 60), nil },
		"IsTesting":    func(*runtime.Runtime, []eval.Arg) (value.Value, error) { return value.NewBool(true), nil },
		"RefreshRates": r.refreshRates,
		"Sleep":        r.sleep,

		"iOpen":     r.seriesValue("iOpen", modeOpen),
		"iHigh":     r.seriesValue("iHigh", modeHigh),
		"iLow":      r.seriesValue("iLow", modeLow),
		"iClose":    r.seriesValue("iClose", modeClose),
		"iVolume":   r.seriesValue("iVolume", modeVolume),
		"iTime":     r.seriesValue("iTime", modeTime),
		"iBars":     r.iBars,
		"iBarShift": r.iBarShift,
		"iHighest":  r.extreme("iHighest", func(a, b float64) bool { return a > b }),
		"iLowest":   r.extreme("iLowest", func(a, b float64) bool { return a < b }),

		"CopyOpen":       r.copySeries("CopyOpen", modeOpen),
		"CopyHigh":       r.copySeries("CopyHigh", modeHigh),
		"CopyLow":        r.copySeries("CopyLow", modeLow),
		"CopyClose":      r.copySeries("CopyClose", modeClose),
		"CopyTime":       r.copySeries("CopyTime", modeTime),
		"CopyTickVolume": r.copySeries("CopyTickVolume", modeVolume),

		"iMA":  r.iMA,
		"iRSI": r.iRSI,
		"iATR": r.iATR,

		"SymbolInfoDouble":  r.symbolInfoDouble,
		"SymbolInfoInteger": r.symbolInfoInteger,
		"MarketInfo":        r.marketInfo,
	}
	for _, group := range []runtime.Registry{r.tradingBuiltins(), r.accountBuiltins(), r.terminalBuiltins()} {
		for k, v := range group {
			reg[k] = v
		}
	}
	return reg
}

// sleep advances the simulated clock instead of blocking. The offset is
// dropped at the next bar.
func (r *Runner) sleep(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("Sleep", args, 1, 1); err != nil {
		return value.Unset, err
	}
	if ms := runtime.IntArg(args, 0, 0); ms > 0 {
		r.slept += time.Duration(ms) * time.Millisecond
	}
	return value.Unset, nil
}

func (r *Runner) refreshRates(*runtime.Runtime, []eval.Arg) (value.Value, error) {
	bid, ask, ok := r.quote(r.symbol)
	if ok {
		r.bid.Value = value.NewDouble(bid)
		r.ask.Value = value.NewDouble(ask)
	}
	return value.NewBool(ok), nil
}

// ---------------------------------------------------------------------------
// Series access
// ---------------------------------------------------------------------------

// symbolArg returns the symbol named by argument i; NULL or "" is the
// primary symbol.
func (r *Runner) symbolArg(args []eval.Arg, i int) string {
	v := runtime.ValueArg(args, i)
	if v.Kind() == value.String && v.Str() != "" {
		return v.Str()
	}
	return r.symbol
}

// periodArg returns the timeframe of argument i in seconds; 0 is the run's
// own period.
func (r *Runner) periodArg(args []eval.Arg, i int) int64 {
	if tf := runtime.IntArg(args, i, 0); tf > 0 {
		return tf * 60
	}
	return r.period
}

// visible returns the candles of symbol at period that opened at or before
// the current bar.
func (r *Runner) visible(symbol string, period int64) []market.Candle {
	view := r.source.Candles(symbol, period)
	return view[:market.IndexAt(view, r.now)+1]
}

// atShift returns the candle shift bars back from the newest.
func atShift(c []market.Candle, shift int64) (market.Candle, bool) {
	i := int64(len(c)) - 1 - shift
	if shift < 0 || i < 0 {
		return market.Candle{}, false
	}
	return c[i], true
}

func field(c market.Candle, mode int64) value.Value {
	switch mode {
	case modeOpen:
		return value.NewDouble(c.Open)
	case modeLow:
		return value.NewDouble(c.Low)
	case modeHigh:
		return value.NewDouble(c.High)
	case modeVolume:
		return value.NewLong(int64(c.Volume))
	case modeTime:
		return value.NewDatetime(c.Time)
	default:
		return value.NewDouble(c.Close)
	}
}

func appliedPrice(c market.Candle, mode int64) float64 {
	switch mode {
	case priceOpen:
		return c.Open
	case priceHigh:
		return c.High
	case priceLow:
		return c.Low
	case priceMedian:
		return (c.High + c.Low) / 2
	case priceTypical:
		return (c.High + c.Low + c.Close) / 3
	case priceWeighted:
		return (c.High + c.Low + 2*c.Close) / 4
	default:
		return c.Close
	}
}

// seriesValue implements iOpen and friends: (symbol, timeframe, shift).
// An out-of-range shift yields 0.
func (r *Runner) seriesValue(name string, mode int64) runtime.BuiltinFunc {
	return func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
		if err := runtime.CheckArity(name, args, 3, 3); err != nil {
			return value.Unset, err
		}
		c, ok := atShift(r.visible(r.symbolArg(args, 0), r.periodArg(args, 1)), runtime.IntArg(args, 2, 0))
		if !ok {
			return value.Convert(value.NewInt(0), field(c, mode).Kind()), nil
		}
		return field(c, mode), nil
	}
}

func (r *Runner) iBars(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("iBars", args, 2, 2); err != nil {
		return value.Unset, err
	}
	return value.NewInt(int64(len(r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))))), nil
}

// iBarShift returns the shift of the bar containing time, or -1 when exact
// is set and no bar opens at it.
func (r *Runner) iBarShift(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("iBarShift", args, 3, 4); err != nil {
		return value.Unset, err
	}
	c := r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))
	at := runtime.IntArg(args, 2, 0)
	i := market.IndexAt(c, at)
	if i < 0 || (runtime.IntArg(args, 3, 0) != 0 && c[i].Time != at) {
		return value.NewInt(-1), nil
	}
	return value.NewInt(int64(len(c) - 1 - i)), nil
}

// extreme implements iHighest and iLowest: (symbol, timeframe, type,
// count, start). The first extreme found from start backwards wins.
func (r *Runner) extreme(name string, better func(a, b float64) bool) runtime.BuiltinFunc {
	return func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
		if err := runtime.CheckArity(name, args, 3, 5); err != nil {
			return value.Unset, err
		}
		c := r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))
		mode := runtime.IntArg(args, 2, modeHigh)
		count := runtime.IntArg(args, 3, runtime.WholeArray)
		start := runtime.IntArg(args, 4, 0)
		best := int64(-1)
		var bestVal float64
		for s := start; s < int64(len(c)) && (count < 0 || s < start+count); s++ {
			v := field(c[int64(len(c))-1-s], mode).Float64()
			if best < 0 || better(v, bestVal) {
				best, bestVal = s, v
			}
		}
		return value.NewInt(best), nil
	}
}

// copySeries implements CopyClose and friends: (symbol, timeframe,
// start_pos, count, array). The array receives the bars oldest first and
// the call returns how many were copied, or -1.
func (r *Runner) copySeries(name string, mode int64) runtime.BuiltinFunc {
	return func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
		if err := runtime.CheckArity(name, args, 5, 5); err != nil {
			return value.Unset, err
		}
		arr, err := runtime.ArrayArg(name, args, 4)
		if err != nil {
			return value.Unset, err
		}
		c := r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))
		start, count := runtime.IntArg(args, 2, 0), runtime.IntArg(args, 3, 0)
		end := int64(len(c)) - start
		if start < 0 || count <= 0 || end <= 0 {
			return value.NewInt(-1), nil
		}
		begin := max(end-count, 0)
		n := int(end - begin)
		if arr.Dynamic {
			arr.Resize(n, rt.Zero)
		} else if arr.Len() < n {
			n = arr.Len()
			begin = end - int64(n)
		}
		for k := 0; k < n; k++ {
			v, err := value.Assign(arr.Elem, field(c[begin+int64(k)], mode))
			if err != nil {
				return value.Unset, err
			}
			arr.Items[k] = v
		}
		return value.NewInt(int64(n)), nil
	}
}

// ---------------------------------------------------------------------------
// Indicators
// ---------------------------------------------------------------------------

// prices returns the applied prices of the candles up to shift bars back.
func prices(c []market.Candle, shift int64, mode int64) []float64 {
	end := int64(len(c)) - shift
	if shift < 0 || end <= 0 {
		return nil
	}
	out := make([]float64, end)
	for i := range out {
		out[i] = appliedPrice(c[i], mode)
	}
	return out
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

// iMA: (symbol, timeframe, period, ma_shift, method, applied_price, shift).
func (r *Runner) iMA(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("iMA", args, 7, 7); err != nil {
		return value.Unset, err
	}
	c := r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))
	period := int(runtime.IntArg(args, 2, 0))
	in := prices(c, runtime.IntArg(args, 6, 0)+runtime.IntArg(args, 3, 0), runtime.IntArg(args, 5, priceClose))
	if period <= 0 || len(in) < period {
		return value.NewDouble(0), nil
	}
	switch runtime.IntArg(args, 4, maSMA) {
	case maEMA:
		return value.NewDouble(last(indicators.EMA(in, period))), nil
	case maSMMA:
		return value.NewDouble(smma(in, period)), nil
	case maLWMA:
		return value.NewDouble(lwma(in[len(in)-period:])), nil
	default:
		return value.NewDouble(last(indicators.SMA(in[len(in)-period:], period))), nil
	}
}

// smma is the smoothed moving average seeded with the simple average of
// the first period values.
func smma(in []float64, period int) float64 {
	var sum float64
	for _, x := range in[:period] {
		sum += x
	}
	avg := sum / float64(period)
	for _, x := range in[period:] {
		avg = (avg*float64(period-1) + x) / float64(period)
	}
	return avg
}

// lwma weights the newest value highest.
func lwma(in []float64) float64 {
	var sum, weights float64
	for i, x := range in {
		w := float64(i + 1)
		sum += x * w
		weights += w
	}
	return sum / weights
}

// iRSI: (symbol, timeframe, period, applied_price, shift).
func (r *Runner) iRSI(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("iRSI", args, 5, 5); err != nil {
		return value.Unset, err
	}
	c := r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))
	period := int(runtime.IntArg(args, 2, 0))
	in := prices(c, runtime.IntArg(args, 4, 0), runtime.IntArg(args, 3, priceClose))
	if period <= 0 || len(in) <= period {
		return value.NewDouble(0), nil
	}
	return value.NewDouble(last(indicators.RSI(in, period))), nil
}

// iATR: (symbol, timeframe, period, shift).
func (r *Runner) iATR(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("iATR", args, 4, 4); err != nil {
		return value.Unset, err
	}
	c := r.visible(r.symbolArg(args, 0), r.periodArg(args, 1))
	period := int(runtime.IntArg(args, 2, 0))
	end := int64(len(c)) - runtime.IntArg(args, 3, 0)
	if period <= 0 || end <= int64(period) || end > int64(len(c)) {
		return value.NewDouble(0), nil
	}
	high, low, closes := make([]float64, end), make([]float64, end), make([]float64, end)
	for i := range high {
		high[i], low[i], closes[i] = c[i].High, c[i].Low, c[i].Close
	}
	return value.NewDouble(last(indicators.ATR(high, low, closes, period))), nil
}

// ---------------------------------------------------------------------------
// Symbol information
// ---------------------------------------------------------------------------

// Symbol and market property identifiers.
const (
	symbolBid        = 1
	symbolAsk        = 4
	symbolPoint      = 16
	symbolDigits     = 17
	symbolSpread     = 18
	symbolVolumeMin  = 34
	symbolVolumeMax  = 35
	symbolVolumeStep = 36

	marketBid      = 9
	marketAsk      = 10
	marketPoint    = 11
	marketDigits   = 12
	marketSpread   = 13
	marketStop     = 14
	marketLotSize  = 15
	marketMinLot   = 23
	marketLotStep  = 24
	marketMaxLot   = 25
	minLot, maxLot = 0.01, 100.0
)

func (r *Runner) spreadPoints(bid, ask float64) int64 {
	return int64((ask-bid)/r.point() + 0.5)
}

// symbolDouble resolves a SymbolInfoDouble property.
func (r *Runner) symbolDouble(symbol string, prop int64) (float64, bool) {
	bid, ask, ok := r.quote(symbol)
	if !ok {
		return 0, false
	}
	switch prop {
	case symbolBid:
		return bid, true
	case symbolAsk:
		return ask, true
	case symbolPoint:
		return r.point(), true
	case symbolVolumeMin, symbolVolumeStep:
		return minLot, true
	case symbolVolumeMax:
		return maxLot, true
	}
	return 0, false
}

// symbolInfoDouble supports (symbol, prop) returning the value and
// (symbol, prop, &out) returning success.
func (r *Runner) symbolInfoDouble(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("SymbolInfoDouble", args, 2, 3); err != nil {
		return value.Unset, err
	}
	x, ok := r.symbolDouble(r.symbolArg(args, 0), runtime.IntArg(args, 1, 0))
	if !ok {
		rt.SetLastError(errUnknownSymbol)
	}
	if len(args) == 3 {
		if ok {
			if err := runtime.StoreArg("SymbolInfoDouble", args, 2, value.NewDouble(x)); err != nil {
				return value.Unset, err
			}
		}
		return value.NewBool(ok), nil
	}
	return value.NewDouble(x), nil
}

func (r *Runner) symbolInfoInteger(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("SymbolInfoInteger", args, 2, 3); err != nil {
		return value.Unset, err
	}
	bid, ask, ok := r.quote(r.symbolArg(args, 0))
	var x int64
	switch runtime.IntArg(args, 1, 0) {
	case symbolDigits:
		x = int64(r.digits)
	case symbolSpread:
		x = r.spreadPoints(bid, ask)
	default:
		ok = false
	}
	if !ok {
		rt.SetLastError(errUnknownSymbol)
	}
	if len(args) == 3 {
		if ok {
			if err := runtime.StoreArg("SymbolInfoInteger", args, 2, value.NewLong(x)); err != nil {
				return value.Unset, err
			}
		}
		return value.NewBool(ok), nil
	}
	return value.NewLong(x), nil
}

// marketInfo: (symbol, mode). Unknown symbols and modes yield 0.
func (r *Runner) marketInfo(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("MarketInfo", args, 2, 2); err != nil {
		return value.Unset, err
	}
	symbol := r.symbolArg(args, 0)
	bid, ask, ok := r.quote(symbol)
	if !ok {
		rt.SetLastError(errUnknownSymbol)
		return value.NewDouble(0), nil
	}
	mode := runtime.IntArg(args, 1, 0)
	switch mode {
	case marketBid:
		return value.NewDouble(bid), nil
	case marketAsk:
		return value.NewDouble(ask), nil
	case marketPoint:
		return value.NewDouble(r.point()), nil
	case marketDigits:
		return value.NewDouble(float64(r.digits)), nil
	case marketSpread:
		return value.NewDouble(float64(r.spreadPoints(bid, ask))), nil
	case marketStop:
		return value.NewDouble(0), nil
	case marketLotSize:
		return value.NewDouble(1), nil
	case marketMinLot, marketLotStep:
		return value.NewDouble(minLot), nil
	case marketMaxLot:
		return value.NewDouble(maxLot), nil
	case modeOpen, modeLow, modeHigh, modeClose, modeVolume, modeTime:
		c, ok := atShift(r.visible(symbol, r.period), 0)
		if !ok {
			return value.NewDouble(0), nil
		}
		return value.NewDouble(field(c, mode).Float64()), nil
	}
	return value.NewDouble(0), nil
}

// Package backtest replays historical prices through a compiled script. A
// Runner owns one runtime, market source, simulated broker, account and
// terminal; nothing is shared between runners, so parameter sweeps can run
// them in parallel.
package backtest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mqlbt/internal/account"
	"mqlbt/internal/broker"
	"mqlbt/internal/compiler"
	"mqlbt/internal/eval"
	"mqlbt/internal/market"
	"mqlbt/internal/preprocess"
	"mqlbt/internal/runtime"
	"mqlbt/internal/store"
	"mqlbt/internal/terminal"
	"mqlbt/internal/value"
)

// ErrNoData is returned by New when the primary symbol has no bars.
var ErrNoData = errors.New("no price data")

// GlobalsFile is the SQLite file created under Options.DataDir.
const GlobalsFile = "globals.db"

// Options configures a run.
type Options struct {
	InitialBalance float64
	InitialMargin  float64
	Currency       string
	Leverage       int64

	// Symbol is the primary symbol. Empty picks the first symbol with data.
	Symbol  string
	Candles map[string][]market.Candle
	Ticks   map[string][]market.Tick
	// Timeframe is the bar length in minutes. 0 uses the period of the
	// primary candles, or one minute for tick-only data.
	Timeframe int64
	// Digits is the quote precision reported to scripts. 0 means 5.
	Digits int

	// Storage persists terminal global variables between runs. When nil and
	// DataDir is set, a SQLite store is opened under DataDir.
	Storage terminal.Storage
	DataDir string

	FileName         string
	FileProvider     preprocess.FileProvider
	Inputs           map[string]string
	Builtins         runtime.Registry
	WarningsAsErrors bool

	// LogSink receives script output. Nil sends it to Logger.
	LogSink func(string)
	Logger  *slog.Logger
}

// Report is the outcome of a run.
type Report struct {
	RunID           string
	Bars            int
	Globals         map[string]value.Value
	TerminalGlobals map[string]terminal.Global
	Account         account.Snapshot
	Orders          []broker.Order
}

type state int

const (
	stateNew state = iota
	stateReady
	stateDone
)

// Deinitialization reasons passed to OnDeinit.
const (
	reasonProgram    = 0
	reasonRemove     = 1
	reasonInitFailed = 8
)

// Runner drives the entry points of one program over a bar series.
type Runner struct {
	opts   Options
	logger *slog.Logger
	runID  string

	rt      *runtime.Runtime
	kind    runtime.ProgramKind
	source  *market.Source
	broker  *broker.SimulatorBroker
	account *account.Account
	term    *terminal.Terminal
	closer  io.Closer

	symbol string
	period int64 // seconds
	digits int
	bars   []market.Candle
	bar    int
	now    int64
	slept  time.Duration

	hostVars
	updated  map[string]int64
	selected *broker.Order
	prevCalc int64

	state state
	inert bool
}

// hostVars are the predefined variables scripts read the current market
// through.
type hostVars struct {
	bid, ask, barCount *value.Var
	open, high, low    *value.ArrayValue
	close, time        *value.ArrayValue
	volume, realVolume *value.ArrayValue
	spread             *value.ArrayValue
	seriesVars         map[string]*value.Var
}

// New compiles source and prepares a run over the primary symbol's bars.
func New(source string, opts Options) (*Runner, error) {
	r := &Runner{
		opts:    opts,
		source:  market.NewSource(),
		symbol:  opts.Symbol,
		digits:  opts.Digits,
		bar:     -1,
		updated: make(map[string]int64),
	}
	if r.digits <= 0 {
		r.digits = 5
	}
	for sym, c := range opts.Candles {
		r.source.SetCandles(sym, c, 0)
	}
	for sym, t := range opts.Ticks {
		r.source.SetTicks(sym, t)
	}
	if r.symbol == "" {
		if syms := r.source.Symbols(); len(syms) > 0 {
			r.symbol = syms[0]
		}
	}
	switch {
	case opts.Timeframe > 0:
		r.period = opts.Timeframe * 60
	case r.source.Period(r.symbol) > 0:
		r.period = r.source.Period(r.symbol)
	default:
		r.period = 60
	}
	r.bars = r.source.Candles(r.symbol, r.period)
	if len(r.bars) == 0 {
		return nil, fmt.Errorf("symbol %q: %w", r.symbol, ErrNoData)
	}
	r.now = r.bars[0].Time

	r.runID = runID(source, r)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger.With("run_id", r.runID)

	r.account = account.New(opts.InitialBalance, opts.InitialMargin, opts.Currency)
	if opts.Leverage > 0 {
		r.account.Leverage = opts.Leverage
	}
	r.broker = broker.NewSimulatorBroker(r.account)

	storage := opts.Storage
	if storage == nil && opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		st, err := store.NewSQLiteStore(filepath.Join(opts.DataDir, GlobalsFile))
		if err != nil {
			return nil, err
		}
		storage, r.closer = st, st
	}
	termOpts := []terminal.Option{terminal.WithLogger(r.logger)}
	if storage != nil {
		termOpts = append(termOpts, terminal.WithStorage(storage))
	}
	r.term = terminal.New(termOpts...)
	r.term.SetTime(r.now)

	r.initHostVars()
	res := compiler.Compile(source, compiler.Options{
		FileName:         opts.FileName,
		FileProvider:     opts.FileProvider,
		WarningsAsErrors: opts.WarningsAsErrors,
		Inputs:           opts.Inputs,
		Builtins:         r.registry().Merge(opts.Builtins),
		Logger:           r.logger,
		Runtime:          r.runtimeOptions(),
	})
	for _, w := range res.Warnings {
		r.logger.Warn("compile warning", "warning", w.Error())
	}
	if err := res.Err(); err != nil {
		r.closeStorage()
		name := opts.FileName
		if name == "" {
			name = "<source>"
		}
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	r.rt = res.Runtime
	r.kind = res.Kind
	return r, nil
}

// runID derives a stable identifier from the source and the run inputs.
func runID(source string, r *Runner) string {
	var b strings.Builder
	b.WriteString(source)
	fmt.Fprintf(&b, "\x00%s|%d|%v|%v|%s|%d|%d",
		r.symbol, r.period, r.opts.InitialBalance, r.opts.InitialMargin,
		r.opts.Currency, r.opts.Leverage, len(r.bars))
	fmt.Fprintf(&b, "|%d|%d", r.bars[0].Time, r.bars[len(r.bars)-1].Time)
	keys := make([]string, 0, len(r.opts.Inputs))
	for k := range r.opts.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, r.opts.Inputs[k])
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.String())).String()
}

func (r *Runner) runtimeOptions() []runtime.Option {
	opts := []runtime.Option{
		runtime.WithClock(r.clock),
		runtime.WithVariable("Bid", r.bid),
		runtime.WithVariable("Ask", r.ask),
		runtime.WithVariable("Bars", r.barCount),
		runtime.WithVariable("Digits", &value.Var{Type: value.Primitive(value.Int), Value: value.NewInt(int64(r.digits)), Const: true}),
		runtime.WithVariable("Point", &value.Var{Type: value.Primitive(value.Double), Value: value.NewDouble(r.point()), Const: true}),
	}
	for name, v := range r.seriesVars {
		opts = append(opts, runtime.WithVariable(name, v))
	}
	for name, code := range errorConstants {
		opts = append(opts, runtime.WithConstant(name, value.NewInt(int64(code))))
	}
	if r.opts.LogSink != nil {
		opts = append(opts, runtime.WithOutput(r.opts.LogSink))
	}
	return opts
}

func (r *Runner) clock() time.Time {
	return time.Unix(r.now, 0).UTC().Add(r.slept)
}

func (r *Runner) point() float64 {
	p := 1.0
	for i := 0; i < r.digits; i++ {
		p /= 10
	}
	return p
}

func seriesArray(k value.Kind) (*value.Var, *value.ArrayValue) {
	arr := &value.ArrayValue{Elem: value.Primitive(k), Dynamic: true, Series: true}
	v := &value.Var{Type: value.Type{Kind: k, Dims: []int{0}}, Value: value.NewArray(arr), Const: true}
	return v, arr
}

func (r *Runner) initHostVars() {
	h := &r.hostVars
	h.bid = &value.Var{Type: value.Primitive(value.Double), Value: value.NewDouble(0), Const: true}
	h.ask = &value.Var{Type: value.Primitive(value.Double), Value: value.NewDouble(0), Const: true}
	h.barCount = &value.Var{Type: value.Primitive(value.Int), Value: value.NewInt(0), Const: true}
	h.seriesVars = make(map[string]*value.Var)
	for _, s := range []struct {
		name string
		kind value.Kind
		arr  **value.ArrayValue
	}{
		{"Open", value.Double, &h.open},
		{"High", value.Double, &h.high},
		{"Low", value.Double, &h.low},
		{"Close", value.Double, &h.close},
		{"Time", value.Datetime, &h.time},
		{"Volume", value.Long, &h.volume},
	} {
		v, arr := seriesArray(s.kind)
		*s.arr = arr
		h.seriesVars[s.name] = v
	}
	_, h.realVolume = seriesArray(value.Long)
	_, h.spread = seriesArray(value.Int)
}

// pushBar appends c to the predefined series.
func (h *hostVars) pushBar(c market.Candle, spread int64) {
	h.open.Items = append(h.open.Items, value.NewDouble(c.Open))
	h.high.Items = append(h.high.Items, value.NewDouble(c.High))
	h.low.Items = append(h.low.Items, value.NewDouble(c.Low))
	h.close.Items = append(h.close.Items, value.NewDouble(c.Close))
	h.time.Items = append(h.time.Items, value.NewDatetime(c.Time))
	h.volume.Items = append(h.volume.Items, value.NewLong(int64(c.Volume)))
	h.realVolume.Items = append(h.realVolume.Items, value.NewLong(0))
	h.spread.Items = append(h.spread.Items, value.NewInt(spread))
	h.barCount.Value = value.NewInt(int64(len(h.close.Items)))
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// RunID returns the deterministic identifier of the run.
func (r *Runner) RunID() string { return r.runID }

// Kind returns the program kind.
func (r *Runner) Kind() runtime.ProgramKind { return r.kind }

// Runtime returns the program runtime.
func (r *Runner) Runtime() *runtime.Runtime { return r.rt }

// Broker returns the simulated broker.
func (r *Runner) Broker() *broker.SimulatorBroker { return r.broker }

// Terminal returns the virtual terminal.
func (r *Runner) Terminal() *terminal.Terminal { return r.term }

// Bars returns the primary bar series.
func (r *Runner) Bars() []market.Candle { return r.bars }

// Bar returns the index of the current bar, or -1 before the first step.
func (r *Runner) Bar() int { return r.bar }

// Done reports whether the run has deinitialized.
func (r *Runner) Done() bool { return r.state == stateDone }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Init loads persisted globals and calls OnInit. OnInit errors are logged
// and swallowed; a non-zero OnInit result leaves the run inert. Init is
// called by the first Step when the caller has not.
func (r *Runner) Init() error {
	if r.state != stateNew {
		return nil
	}
	if err := r.term.Load(); err != nil {
		return err
	}
	r.state = stateReady
	r.logger.Info("run started",
		"symbol", r.symbol,
		"period", r.period,
		"bars", len(r.bars),
		"kind", r.kind.String())

	ret, called, err := r.call("OnInit")
	switch {
	case err != nil:
		r.logger.Warn("OnInit failed", "error", err)
	case called && ret.Int64() != 0:
		r.logger.Warn("initialization failed", "code", ret.Int64())
		r.inert = true
	}
	return nil
}

// Step advances one bar. It reports false once the run has deinitialized:
// after the last bar, after ExpertRemove, or right after a script's
// OnStart. Errors from entry points other than OnInit and OnDeinit are
// returned as is; the run stays open so the caller can Stop it.
func (r *Runner) Step() (bool, error) {
	if err := r.Init(); err != nil {
		return false, err
	}
	if r.state == stateDone {
		return false, nil
	}
	if r.inert {
		return false, r.finish(reasonInitFailed)
	}
	if r.rt.Stopped() {
		return false, r.finish(reasonProgram)
	}
	if r.bar+1 >= len(r.bars) {
		return false, r.finish(reasonRemove)
	}
	if err := r.advance(); err != nil {
		return false, err
	}

	if r.kind == runtime.KindScript {
		if _, _, err := r.call("OnStart"); err != nil {
			return false, err
		}
		if err := r.dispatchEvents(); err != nil {
			return false, err
		}
		return false, r.finish(reasonProgram)
	}

	for n := r.term.DueTimers(); n > 0; n-- {
		if _, _, err := r.call("OnTimer"); err != nil {
			return false, err
		}
	}
	if err := r.entryPoint(); err != nil {
		return false, err
	}
	if err := r.dispatchEvents(); err != nil {
		return false, err
	}

	switch {
	case r.rt.Stopped():
		return false, r.finish(reasonProgram)
	case r.bar+1 >= len(r.bars):
		return false, r.finish(reasonRemove)
	}
	return true, nil
}

// advance moves to the next bar, quotes it and runs the broker against it.
func (r *Runner) advance() error {
	r.bar++
	c := r.bars[r.bar]
	r.now = c.Time
	r.slept = 0
	r.term.SetTime(r.now)

	bid, ask, _ := r.quote(r.symbol)
	r.bid.Value = value.NewDouble(bid)
	r.ask.Value = value.NewDouble(ask)
	r.pushBar(c, int64((ask-bid)/r.point()+0.5))

	if err := r.broker.Update(r.symbol, c); err != nil {
		return fmt.Errorf("bar %d: %w", r.bar, err)
	}
	for _, sym := range r.tradedSymbols() {
		view := r.source.Candles(sym, r.period)
		i := market.IndexAt(view, r.now)
		if i < 0 {
			continue
		}
		if last, ok := r.updated[sym]; ok && view[i].Time <= last {
			continue
		}
		r.updated[sym] = view[i].Time
		if err := r.broker.Update(sym, view[i]); err != nil {
			return fmt.Errorf("bar %d (%s): %w", r.bar, sym, err)
		}
	}
	return nil
}

// tradedSymbols lists the symbols other than the primary one with live
// orders, in ticket order.
func (r *Runner) tradedSymbols() []string {
	var out []string
	seen := map[string]bool{r.symbol: true}
	for _, o := range r.broker.Trades() {
		if !seen[o.Symbol] {
			seen[o.Symbol] = true
			out = append(out, o.Symbol)
		}
	}
	return out
}

func (r *Runner) entryPoint() error {
	switch r.kind {
	case runtime.KindExpert:
		_, _, err := r.call("OnTick")
		return err
	case runtime.KindIndicator:
		total := int64(r.bar + 1)
		ret, _, err := r.call("OnCalculate",
			hostArg("rates_total", value.NewInt(total)),
			hostArg("prev_calculated", value.NewInt(r.prevCalc)),
			r.seriesArg("time", r.time),
			r.seriesArg("open", r.open),
			r.seriesArg("high", r.high),
			r.seriesArg("low", r.low),
			r.seriesArg("close", r.close),
			r.seriesArg("tick_volume", r.volume),
			r.seriesArg("volume", r.realVolume),
			r.seriesArg("spread", r.spread))
		if err != nil {
			return err
		}
		r.prevCalc = ret.Int64()
	}
	return nil
}

// dispatchEvents runs OnTrade once per queued trade event, with the event
// exposed only for that call, then OnChartEvent once per chart event.
// Events raised by these callbacks wait for the next step.
func (r *Runner) dispatchEvents() error {
	for _, ev := range r.broker.DrainEvents() {
		if err := r.tradeEvent(ev); err != nil {
			return err
		}
	}
	for _, ev := range r.term.DrainChartEvents() {
		_, _, err := r.call("OnChartEvent",
			hostArg("id", value.NewInt(ev.ID)),
			hostArg("lparam", value.NewLong(ev.Lparam)),
			hostArg("dparam", value.NewDouble(ev.Dparam)),
			hostArg("sparam", value.NewString(ev.Sparam)))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) tradeEvent(ev broker.Event) error {
	r.rt.SetTradeEvent(&runtime.TradeEvent{Ticket: ev.Ticket, Side: int(ev.Side), Action: int(ev.Action)})
	defer r.rt.SetTradeEvent(nil)
	_, _, err := r.call("OnTrade")
	return err
}

// Stop deinitializes the run. It is a no-op once the run is done.
func (r *Runner) Stop() error {
	if r.state == stateDone {
		return nil
	}
	return r.finish(reasonRemove)
}

// finish calls OnDeinit, swallowing its errors, then closes files and
// saves the terminal globals.
func (r *Runner) finish(reason int64) error {
	started := r.state == stateReady
	if started {
		if _, _, err := r.call("OnDeinit", hostArg("reason", value.NewInt(reason))); err != nil {
			r.logger.Warn("OnDeinit failed", "error", err)
		}
	}
	r.state = stateDone

	var errs []error
	if err := r.term.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	// globals that were never loaded must not overwrite the stored ones
	if started {
		if err := r.term.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	snap := r.snapshot()
	r.logger.Info("run finished",
		"bars", r.bar+1,
		"reason", reason,
		"orders", len(r.broker.Orders()),
		"balance", snap.Balance,
		"equity", snap.Equity)
	return errors.Join(errs...)
}

func (r *Runner) closeStorage() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Run steps until the run is done and returns its report. On a step error
// the run is stopped before the error is returned.
func (r *Runner) Run() (*Report, error) {
	for {
		more, err := r.Step()
		if err != nil {
			return r.Report(), errors.Join(err, r.Stop())
		}
		if !more {
			return r.Report(), nil
		}
	}
}

// Report snapshots the run state.
func (r *Runner) Report() *Report {
	orders := r.broker.Orders()
	rep := &Report{
		RunID:           r.runID,
		Bars:            r.bar + 1,
		Globals:         r.rt.Snapshot(),
		TerminalGlobals: r.term.Globals(),
		Account:         r.snapshot(),
		Orders:          make([]broker.Order, len(orders)),
	}
	for i, o := range orders {
		rep.Orders[i] = *o
	}
	return rep
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// call invokes an entry point when the program defines it, passing as many
// of args as it declares parameters.
func (r *Runner) call(name string, args ...eval.Arg) (value.Value, bool, error) {
	n := r.rt.Params(name)
	if n < 0 {
		return value.Unset, false, nil
	}
	if len(args) > n {
		args = args[:n]
	}
	v, err := r.rt.Call(name, args)
	if err != nil {
		return v, true, fmt.Errorf("%s: %w", name, err)
	}
	return v, true, nil
}

// hostArg passes v by value or, for reference parameters, through a
// temporary variable.
func hostArg(name string, v value.Value) eval.Arg {
	return eval.Arg{Value: v, Ref: eval.NewPlace(name, &value.Var{Type: value.Primitive(v.Kind()), Value: v})}
}

func (r *Runner) seriesArg(name string, arr *value.ArrayValue) eval.Arg {
	v := &value.Var{Type: value.Type{Kind: arr.Elem.Kind, Dims: []int{0}}, Value: value.NewArray(arr)}
	return eval.Arg{Value: v.Value, Ref: eval.NewPlace(name, v)}
}

// quote returns the bid and ask of symbol at the current bar's timestamp.
func (r *Runner) quote(symbol string) (bid, ask float64, ok bool) {
	return r.source.BarQuote(symbol, r.now, r.period)
}

func (r *Runner) snapshot() account.Snapshot {
	return r.account.Snapshot(r.broker.Exposure(r.quote))
}

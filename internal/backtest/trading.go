package backtest

import (
	"errors"

	"mqlbt/internal/account"
	"mqlbt/internal/broker"
	"mqlbt/internal/eval"
	"mqlbt/internal/runtime"
	"mqlbt/internal/value"
)

// Order pools and selection modes of OrderSelect.
const (
	selectByPos    = 0
	selectByTicket = 1
	modeTrades     = 0
	modeHistory    = 1
)

// Account property identifiers.
const (
	accountBalance    = 37
	accountProfit     = 39
	accountEquity     = 40
	accountMargin     = 41
	accountMarginFree = 42
	accountName       = 1
	accountCompany    = 2
	accountServer     = 3
	accountCurrency   = 36
)

// tradeError maps a broker error to a script error code. Ledger failures
// are engine faults and are returned to the caller instead.
func tradeError(rt *runtime.Runtime, err error) error {
	switch {
	case errors.Is(err, account.ErrAlreadyApplied):
		return err
	case errors.Is(err, broker.ErrUnknownTicket), errors.Is(err, broker.ErrOrderState):
		rt.SetLastError(errInvalidTicket)
	default:
		rt.SetLastError(errInvalidTradeParameters)
	}
	return nil
}

func (r *Runner) tradingBuiltins() runtime.Registry {
	return runtime.Registry{
		"OrderSend":          r.orderSend,
		"OrderClose":         r.orderClose,
		"OrderModify":        r.orderModify,
		"OrderDelete":        r.orderDelete,
		"OrderSelect":        r.orderSelect,
		"OrdersTotal":        func(*runtime.Runtime, []eval.Arg) (value.Value, error) { return value.NewInt(int64(len(r.broker.Trades()))), nil },
		"OrdersHistoryTotal": func(*runtime.Runtime, []eval.Arg) (value.Value, error) { return value.NewInt(int64(len(r.broker.History()))), nil },

		"OrderTicket":      r.selectedField(func(o *broker.Order) value.Value { return value.NewInt(o.Ticket) }),
		"OrderType":        r.selectedField(func(o *broker.Order) value.Value { return value.NewInt(int64(o.Type)) }),
		"OrderLots":        r.selectedField(func(o *broker.Order) value.Value { return value.NewDouble(o.Volume) }),
		"OrderOpenPrice":   r.selectedField(func(o *broker.Order) value.Value { return value.NewDouble(r.openPrice(o)) }),
		"OrderClosePrice":  r.selectedField(func(o *broker.Order) value.Value { return value.NewDouble(r.closePrice(o)) }),
		"OrderStopLoss":    r.selectedField(func(o *broker.Order) value.Value { return value.NewDouble(o.StopLoss) }),
		"OrderTakeProfit":  r.selectedField(func(o *broker.Order) value.Value { return value.NewDouble(o.TakeProfit) }),
		"OrderProfit":      r.selectedField(func(o *broker.Order) value.Value { return value.NewDouble(r.orderProfit(o)) }),
		"OrderSymbol":      r.selectedField(func(o *broker.Order) value.Value { return value.NewString(o.Symbol) }),
		"OrderComment":     r.selectedField(func(o *broker.Order) value.Value { return value.NewString(o.Comment) }),
		"OrderMagicNumber": r.selectedField(func(o *broker.Order) value.Value { return value.NewInt(o.Magic) }),
		"OrderOpenTime":    r.selectedField(func(o *broker.Order) value.Value { return value.NewDatetime(o.OpenTime) }),
		"OrderCloseTime":   r.selectedField(func(o *broker.Order) value.Value { return value.NewDatetime(o.CloseTime) }),

		"TradeEventTicket": func(rt *runtime.Runtime, _ []eval.Arg) (value.Value, error) {
			ev, ok := rt.TradeEvent()
			if !ok {
				return value.NewLong(0), nil
			}
			return value.NewLong(ev.Ticket), nil
		},
		"TradeEventType": func(rt *runtime.Runtime, _ []eval.Arg) (value.Value, error) {
			ev, ok := rt.TradeEvent()
			if !ok {
				return value.NewInt(-1), nil
			}
			return value.NewInt(int64(ev.Action)), nil
		},
		"TradeEventSide": func(rt *runtime.Runtime, _ []eval.Arg) (value.Value, error) {
			ev, ok := rt.TradeEvent()
			if !ok {
				return value.NewInt(-1), nil
			}
			return value.NewInt(int64(ev.Side)), nil
		},
	}
}

// orderSend: (symbol, cmd, volume, price, slippage, stoploss, takeprofit,
// comment, magic, expiration, color). Market orders ignore price and fill
// at the current quote. Returns the ticket or -1.
func (r *Runner) orderSend(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("OrderSend", args, 5, 11); err != nil {
		return value.Unset, err
	}
	req := broker.Request{
		Symbol:     r.symbolArg(args, 0),
		Type:       broker.Type(runtime.IntArg(args, 1, -1)),
		Volume:     runtime.FloatArg(args, 2, 0),
		Price:      runtime.FloatArg(args, 3, 0),
		StopLoss:   runtime.FloatArg(args, 5, 0),
		TakeProfit: runtime.FloatArg(args, 6, 0),
		Comment:    runtime.StringArg(args, 7),
		Magic:      runtime.IntArg(args, 8, 0),
	}
	switch {
	case !req.Type.Valid():
		rt.SetLastError(errInvalidTradeParameters)
		return value.NewInt(-1), nil
	case req.Volume < minLot || req.Volume > maxLot:
		rt.SetLastError(errInvalidTradeVolume)
		return value.NewInt(-1), nil
	case req.Type.Pending() && req.Price <= 0:
		rt.SetLastError(errInvalidPrice)
		return value.NewInt(-1), nil
	}
	bid, ask, ok := r.quote(req.Symbol)
	if !ok {
		rt.SetLastError(errUnknownSymbol)
		return value.NewInt(-1), nil
	}
	o, err := r.broker.Send(req, bid, ask, r.now)
	if err != nil {
		return value.NewInt(-1), tradeError(rt, err)
	}
	r.logger.Debug("order sent",
		"ticket", o.Ticket,
		"type", o.Type.String(),
		"symbol", o.Symbol,
		"volume", o.Volume,
		"price", o.Price)
	return value.NewInt(o.Ticket), nil
}

// orderClose: (ticket, lots, price, slippage, color). The whole order is
// closed at the current quote: bid for buys, ask for sells.
func (r *Runner) orderClose(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("OrderClose", args, 1, 5); err != nil {
		return value.Unset, err
	}
	ticket := runtime.IntArg(args, 0, 0)
	o, ok := r.broker.Order(ticket)
	if !ok {
		rt.SetLastError(errInvalidTicket)
		return value.NewBool(false), nil
	}
	if _, err := r.broker.Close(ticket, r.closePrice(o), r.now); err != nil {
		return value.NewBool(false), tradeError(rt, err)
	}
	r.logger.Debug("order closed", "ticket", ticket, "price", o.ClosePrice, "profit", o.Profit)
	return value.NewBool(true), nil
}

// orderModify: (ticket, price, stoploss, takeprofit, expiration, color).
func (r *Runner) orderModify(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("OrderModify", args, 4, 6); err != nil {
		return value.Unset, err
	}
	err := r.broker.Modify(runtime.IntArg(args, 0, 0),
		runtime.FloatArg(args, 1, 0), runtime.FloatArg(args, 2, 0), runtime.FloatArg(args, 3, 0))
	if err != nil {
		return value.NewBool(false), tradeError(rt, err)
	}
	return value.NewBool(true), nil
}

// orderDelete: (ticket, color).
func (r *Runner) orderDelete(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("OrderDelete", args, 1, 2); err != nil {
		return value.Unset, err
	}
	if err := r.broker.Delete(runtime.IntArg(args, 0, 0), r.now); err != nil {
		return value.NewBool(false), tradeError(rt, err)
	}
	return value.NewBool(true), nil
}

// orderSelect: (index, select, pool). By position, MODE_TRADES indexes the
// pending and open orders and MODE_HISTORY the finished ones; by ticket the
// pool is ignored.
func (r *Runner) orderSelect(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("OrderSelect", args, 1, 3); err != nil {
		return value.Unset, err
	}
	index := runtime.IntArg(args, 0, 0)
	var o *broker.Order
	if runtime.IntArg(args, 1, selectByPos) == selectByTicket {
		found, ok := r.broker.Order(index)
		if !ok {
			rt.SetLastError(errInvalidTicket)
			return value.NewBool(false), nil
		}
		o = found
	} else {
		pool := r.broker.Trades()
		if runtime.IntArg(args, 2, modeTrades) == modeHistory {
			pool = r.broker.History()
		}
		if index >= 0 && index < int64(len(pool)) {
			o = pool[index]
		}
	}
	if o == nil {
		rt.SetLastError(errInvalidTicket)
		return value.NewBool(false), nil
	}
	r.selected = o
	return value.NewBool(true), nil
}

// selectedField reads a property of the order chosen by OrderSelect.
func (r *Runner) selectedField(get func(o *broker.Order) value.Value) runtime.BuiltinFunc {
	return func(rt *runtime.Runtime, _ []eval.Arg) (value.Value, error) {
		if r.selected == nil {
			rt.SetLastError(errNoOrderSelected)
			return value.Convert(value.NewInt(0), get(&broker.Order{}).Kind()), nil
		}
		return get(r.selected), nil
	}
}

func (r *Runner) openPrice(o *broker.Order) float64 {
	if o.State == broker.StatePending || o.State == broker.StateDeleted {
		return o.Price
	}
	return o.OpenPrice
}

// closePrice is the fill of a finished order, or the price an open order
// would close at now.
func (r *Runner) closePrice(o *broker.Order) float64 {
	if o.State.Final() {
		return o.ClosePrice
	}
	bid, ask, _ := r.quote(o.Symbol)
	if o.Side == broker.Buy {
		return bid
	}
	return ask
}

func (r *Runner) orderProfit(o *broker.Order) float64 {
	if o.State != broker.StateOpen {
		return o.Profit
	}
	bid, ask, _ := r.quote(o.Symbol)
	return o.FloatingProfit(bid, ask)
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

func (r *Runner) accountDouble(prop int64) (float64, bool) {
	s := r.snapshot()
	switch prop {
	case accountBalance:
		return s.Balance, true
	case accountProfit:
		return s.OpenProfit, true
	case accountEquity:
		return s.Equity, true
	case accountMargin:
		return s.Margin, true
	case accountMarginFree:
		return s.FreeMargin, true
	}
	return 0, false
}

func (r *Runner) accountGetter(prop int64) runtime.BuiltinFunc {
	return func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
		x, _ := r.accountDouble(prop)
		return value.NewDouble(x), nil
	}
}

func (r *Runner) accountBuiltins() runtime.Registry {
	return runtime.Registry{
		"AccountBalance":    r.accountGetter(accountBalance),
		"AccountEquity":     r.accountGetter(accountEquity),
		"AccountMargin":     r.accountGetter(accountMargin),
		"AccountFreeMargin": r.accountGetter(accountMarginFree),
		"AccountProfit":     r.accountGetter(accountProfit),
		"AccountCurrency": func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
			return value.NewString(r.account.Currency), nil
		},
		"AccountLeverage": func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
			return value.NewInt(r.account.Leverage), nil
		},
		"AccountInfoDouble": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("AccountInfoDouble", args, 1, 1); err != nil {
				return value.Unset, err
			}
			x, ok := r.accountDouble(runtime.IntArg(args, 0, 0))
			if !ok {
				rt.SetLastError(errInvalidParameter)
			}
			return value.NewDouble(x), nil
		},
		"AccountInfoString": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("AccountInfoString", args, 1, 1); err != nil {
				return value.Unset, err
			}
			switch runtime.IntArg(args, 0, 0) {
			case accountCurrency:
				return value.NewString(r.account.Currency), nil
			case accountName:
				return value.NewString("backtest"), nil
			case accountCompany, accountServer:
				return value.NewString("mqlbt"), nil
			}
			rt.SetLastError(errInvalidParameter)
			return value.NewString(""), nil
		},
	}
}

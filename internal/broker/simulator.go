package broker

import (
	"fmt"

	"mqlbt/internal/market"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements Broker in memory for backtesting. Tickets start
// at 1 and are never reused within one instance.
type SimulatorBroker struct {
	ledger  Ledger
	next    int64
	orders  []*Order
	byID    map[int64]*Order
	history []*Order
	events  []Event
}

// NewSimulatorBroker creates an empty SimulatorBroker that credits realized
// profit to ledger.
func NewSimulatorBroker(ledger Ledger) *SimulatorBroker {
	return &SimulatorBroker{
		ledger: ledger,
		next:   1,
		byID:   make(map[int64]*Order),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Send places an order. Market buys fill at ask and sells at bid; pending
// orders wait for Update.
func (b *SimulatorBroker) Send(req Request, bid, ask float64, at int64) (*Order, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOrder, req.Type)
	}
	if req.Volume <= 0 {
		return nil, fmt.Errorf("%w: volume %v", ErrInvalidOrder, req.Volume)
	}
	o := &Order{
		Ticket:     b.next,
		Type:       req.Type,
		Side:       req.Type.Side(),
		Symbol:     req.Symbol,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
		Magic:      req.Magic,
		State:      StatePending,
	}
	if req.Type.Pending() {
		if req.Price <= 0 {
			return nil, fmt.Errorf("%w: pending price %v", ErrInvalidOrder, req.Price)
		}
	} else {
		o.OpenPrice = ask
		if o.Side == Sell {
			o.OpenPrice = bid
		}
		o.Price = o.OpenPrice
		o.State = StateOpen
		o.OpenTime = at
	}
	b.next++
	b.orders = append(b.orders, o)
	b.byID[o.Ticket] = o
	b.emit(o, ActionOpen)
	return o, nil
}

// Close closes an open order at price and credits its profit.
func (b *SimulatorBroker) Close(ticket int64, price float64, at int64) (*Order, error) {
	o, ok := b.byID[ticket]
	if !ok {
		return nil, fmt.Errorf("closing %d: %w", ticket, ErrUnknownTicket)
	}
	if o.State != StateOpen {
		return nil, fmt.Errorf("closing %d (%s): %w", ticket, o.State, ErrOrderState)
	}
	if err := b.close(o, price, at); err != nil {
		return nil, err
	}
	return o, nil
}

func (b *SimulatorBroker) close(o *Order, price float64, at int64) error {
	o.State = StateClosed
	o.ClosePrice = price
	o.CloseTime = at
	o.Profit = profit(o.Side, o.OpenPrice, price, o.Volume)
	b.history = append(b.history, o)
	b.emit(o, ActionClose)
	if b.ledger == nil {
		return nil
	}
	if err := b.ledger.Apply(o.Ticket, o.Profit); err != nil {
		return fmt.Errorf("closing %d: %w", o.Ticket, err)
	}
	return nil
}

// Modify updates stops, and the requested price of a pending order.
func (b *SimulatorBroker) Modify(ticket int64, price, stopLoss, takeProfit float64) error {
	o, ok := b.byID[ticket]
	if !ok {
		return fmt.Errorf("modifying %d: %w", ticket, ErrUnknownTicket)
	}
	switch o.State {
	case StatePending:
		if price > 0 {
			o.Price = price
		}
	case StateOpen:
	default:
		return fmt.Errorf("modifying %d (%s): %w", ticket, o.State, ErrOrderState)
	}
	o.StopLoss = stopLoss
	o.TakeProfit = takeProfit
	b.emit(o, ActionModify)
	return nil
}

// Delete cancels a pending order. It is closed with zero profit and the
// account is not touched.
func (b *SimulatorBroker) Delete(ticket int64, at int64) error {
	o, ok := b.byID[ticket]
	if !ok {
		return fmt.Errorf("deleting %d: %w", ticket, ErrUnknownTicket)
	}
	if o.State != StatePending {
		return fmt.Errorf("deleting %d (%s): %w", ticket, o.State, ErrOrderState)
	}
	o.State = StateDeleted
	o.CloseTime = at
	o.Profit = 0
	b.history = append(b.history, o)
	b.emit(o, ActionDelete)
	return nil
}

// Update runs the orders of symbol through bar in ticket order. A pending
// order opens at its requested price when the bar's range contains it. An
// open order, including one opened on this bar, closes at its take-profit
// or stop-loss level when the range reaches it; take-profit is checked
// first.
func (b *SimulatorBroker) Update(symbol string, bar market.Candle) error {
	for _, o := range b.orders {
		if o.Symbol != symbol || o.State.Final() {
			continue
		}
		if o.State == StatePending {
			if bar.Low > o.Price || bar.High < o.Price {
				continue
			}
			o.State = StateOpen
			o.OpenPrice = o.Price
			o.OpenTime = bar.Time
			b.emit(o, ActionOpen)
		}
		level, hit := exitLevel(o, bar)
		if !hit {
			continue
		}
		if err := b.close(o, level, bar.Time); err != nil {
			return err
		}
	}
	return nil
}

func exitLevel(o *Order, bar market.Candle) (float64, bool) {
	if o.Side == Buy {
		if o.TakeProfit > 0 && bar.High >= o.TakeProfit {
			return o.TakeProfit, true
		}
		if o.StopLoss > 0 && bar.Low <= o.StopLoss {
			return o.StopLoss, true
		}
		return 0, false
	}
	if o.TakeProfit > 0 && bar.Low <= o.TakeProfit {
		return o.TakeProfit, true
	}
	if o.StopLoss > 0 && bar.High >= o.StopLoss {
		return o.StopLoss, true
	}
	return 0, false
}

func (b *SimulatorBroker) emit(o *Order, a Action) {
	b.events = append(b.events, Event{Ticket: o.Ticket, Side: o.Side, Action: a})
}

// DrainEvents returns the queued trade events and clears the queue.
func (b *SimulatorBroker) DrainEvents() []Event {
	ev := b.events
	b.events = nil
	return ev
}

// Order returns the order with the given ticket.
func (b *SimulatorBroker) Order(ticket int64) (*Order, bool) {
	o, ok := b.byID[ticket]
	return o, ok
}

// Orders returns every order in ticket order.
func (b *SimulatorBroker) Orders() []*Order {
	return append([]*Order(nil), b.orders...)
}

// Trades returns pending and open orders in ticket order.
func (b *SimulatorBroker) Trades() []*Order {
	var out []*Order
	for _, o := range b.orders {
		if !o.State.Final() {
			out = append(out, o)
		}
	}
	return out
}

// History returns closed and deleted orders in the order they finished.
func (b *SimulatorBroker) History() []*Order {
	return append([]*Order(nil), b.history...)
}

// Exposure sums the floating profit and notional value of open orders,
// quoting each symbol through quote.
func (b *SimulatorBroker) Exposure(quote func(symbol string) (bid, ask float64, ok bool)) (openProfit, notional float64) {
	for _, o := range b.orders {
		if o.State != StateOpen {
			continue
		}
		notional += o.Volume * o.OpenPrice
		if bid, ask, ok := quote(o.Symbol); ok {
			openProfit += o.FloatingProfit(bid, ask)
		}
	}
	return openProfit, notional
}

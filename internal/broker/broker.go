// Package broker defines the Broker interface and the simulated order book
// that fills, closes and expires orders against replayed price bars.
package broker

import (
	"errors"
	"fmt"

	"mqlbt/internal/market"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Type is an order type. The numbering matches the OP_* script constants.
type Type int

const (
	TypeBuy Type = iota
	TypeSell
	TypeBuyLimit
	TypeSellLimit
	TypeBuyStop
	TypeSellStop
)

var typeNames = [...]string{"buy", "sell", "buy limit", "sell limit", "buy stop", "sell stop"}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Valid reports whether t is a known order type.
func (t Type) Valid() bool { return t >= TypeBuy && t <= TypeSellStop }

// Side returns the direction of t.
func (t Type) Side() Side {
	if t%2 == 1 {
		return Sell
	}
	return Buy
}

// Pending reports whether t waits for a price before opening.
func (t Type) Pending() bool { return t >= TypeBuyLimit }

// State is an order's lifecycle position. Transitions only move forward.
type State int

const (
	StatePending State = iota
	StateOpen
	StateClosed
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDeleted:
		return "deleted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Final reports whether s is a terminal state.
func (s State) Final() bool { return s >= StateClosed }

// Order is one order and, once filled, the position it became.
type Order struct {
	Ticket     int64
	Type       Type
	Side       Side
	Symbol     string
	Volume     float64
	Price      float64 // requested price
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	State      State
	OpenTime   int64
	CloseTime  int64
	ClosePrice float64
	Profit     float64
	Comment    string
	Magic      int64
}

// FloatingProfit marks an open order to the given quote. Buys close at the
// bid, sells at the ask.
func (o *Order) FloatingProfit(bid, ask float64) float64 {
	if o.State != StateOpen {
		return 0
	}
	if o.Side == Buy {
		return profit(Buy, o.OpenPrice, bid, o.Volume)
	}
	return profit(Sell, o.OpenPrice, ask, o.Volume)
}

func profit(side Side, open, fill, volume float64) float64 {
	if side == Buy {
		return (fill - open) * volume
	}
	return (open - fill) * volume
}

// Request describes a new order.
type Request struct {
	Symbol     string
	Type       Type
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
	Magic      int64
}

// Action is the kind of trade event.
type Action int

const (
	ActionOpen Action = iota
	ActionClose
	ActionModify
	ActionDelete
)

// Event records a state change for the trade callback.
type Event struct {
	Ticket int64
	Side   Side
	Action Action
}

// Ledger receives the realized profit of each closed order.
type Ledger interface {
	Apply(ticket int64, profit float64) error
}

var (
	ErrUnknownTicket = errors.New("unknown ticket")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderState    = errors.New("order is not in a valid state for this operation")
)

// Broker abstracts order execution for a backtest run.
type Broker interface {
	// Name returns the broker identifier.
	Name() string

	// Send places an order at time at. Market orders fill at the quote.
	Send(req Request, bid, ask float64, at int64) (*Order, error)

	// Close closes an open order at price.
	Close(ticket int64, price float64, at int64) (*Order, error)

	// Modify changes the stops of an open order, or the price and stops of a
	// pending one.
	Modify(ticket int64, price, stopLoss, takeProfit float64) error

	// Delete cancels a pending order.
	Delete(ticket int64, at int64) error

	// Update advances the orders of symbol through one bar.
	Update(symbol string, bar market.Candle) error

	// Order returns the order with the given ticket.
	Order(ticket int64) (*Order, bool)

	// Orders returns every order in ticket order.
	Orders() []*Order
}

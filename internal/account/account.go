// Package account keeps the balance ledger of a simulated trading account.
// Only realized profit moves the balance; equity and margin figures are
// derived on demand from the broker's open exposure.
package account

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultLeverage divides open notional into used margin when none is set.
const DefaultLeverage = 100

// ErrAlreadyApplied is returned when profit for a ticket is applied twice.
var ErrAlreadyApplied = errors.New("profit already applied")

// Account is a running balance plus the margin baseline it was opened with.
type Account struct {
	Currency string
	Leverage int64

	initial    decimal.Decimal
	balance    decimal.Decimal
	closed     decimal.Decimal
	marginBase decimal.Decimal
	applied    map[int64]bool
}

// New opens an account with an initial balance and margin baseline.
func New(balance, margin float64, currency string) *Account {
	b := decimal.NewFromFloat(balance)
	return &Account{
		Currency:   currency,
		Leverage:   DefaultLeverage,
		initial:    b,
		balance:    b,
		marginBase: decimal.NewFromFloat(margin),
		applied:    make(map[int64]bool),
	}
}

// Apply credits the realized profit of a closed order. Each ticket is
// credited at most once.
func (a *Account) Apply(ticket int64, profit float64) error {
	if a.applied[ticket] {
		return fmt.Errorf("ticket %d: %w", ticket, ErrAlreadyApplied)
	}
	a.applied[ticket] = true
	p := decimal.NewFromFloat(profit)
	a.balance = a.balance.Add(p)
	a.closed = a.closed.Add(p)
	return nil
}

// Balance returns the current balance.
func (a *Account) Balance() float64 { return a.balance.InexactFloat64() }

// BalanceDecimal returns the current balance without rounding.
func (a *Account) BalanceDecimal() decimal.Decimal { return a.balance }

// ClosedProfit returns the sum of all applied profits.
func (a *Account) ClosedProfit() float64 { return a.closed.InexactFloat64() }

// Initial returns the opening balance.
func (a *Account) Initial() float64 { return a.initial.InexactFloat64() }

// Snapshot is a point-in-time view of the account.
type Snapshot struct {
	Currency     string
	Balance      float64
	Equity       float64
	ClosedProfit float64
	OpenProfit   float64
	Margin       float64
	FreeMargin   float64
}

// Snapshot derives equity and margin from the floating profit and notional
// value of the open orders.
func (a *Account) Snapshot(openProfit, notional float64) Snapshot {
	lev := a.Leverage
	if lev <= 0 {
		lev = DefaultLeverage
	}
	equity := a.balance.Add(decimal.NewFromFloat(openProfit))
	margin := a.marginBase.Add(decimal.NewFromFloat(notional).Div(decimal.NewFromInt(lev)))
	return Snapshot{
		Currency:     a.Currency,
		Balance:      a.balance.InexactFloat64(),
		Equity:       equity.InexactFloat64(),
		ClosedProfit: a.closed.InexactFloat64(),
		OpenProfit:   openProfit,
		Margin:       margin.InexactFloat64(),
		FreeMargin:   equity.Sub(margin).InexactFloat64(),
	}
}

package account

import (
	"errors"
	"testing"
)

func TestApply(t *testing.T) {
	a := New(1000, 0, "USD")
	profits := []float64{0.8, -0.3, 12.25}
	for i, p := range profits {
		if err := a.Apply(int64(i+1), p); err != nil {
			t.Fatalf("Apply(%d): %v", i+1, err)
		}
	}
	if got, want := a.Balance(), 1012.75; got != want {
		t.Errorf("Balance() = %v, want %v", got, want)
	}
	if got, want := a.ClosedProfit(), 12.75; got != want {
		t.Errorf("ClosedProfit() = %v, want %v", got, want)
	}

	err := a.Apply(1, 5)
	if !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("second Apply error = %v, want ErrAlreadyApplied", err)
	}
	if got := a.Balance(); got != 1012.75 {
		t.Errorf("balance changed by duplicate apply: %v", got)
	}
}

func TestSnapshot(t *testing.T) {
	a := New(1000, 50, "EUR")
	if err := a.Apply(1, 100); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		openProfit float64
		notional   float64
		want       Snapshot
	}{
		{
			name: "flat",
			want: Snapshot{Currency: "EUR", Balance: 1100, Equity: 1100, ClosedProfit: 100, Margin: 50, FreeMargin: 1050},
		},
		{
			name:       "open exposure",
			openProfit: -20,
			notional:   2000,
			want:       Snapshot{Currency: "EUR", Balance: 1100, Equity: 1080, ClosedProfit: 100, OpenProfit: -20, Margin: 70, FreeMargin: 1010},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Snapshot(tt.openProfit, tt.notional); got != tt.want {
				t.Errorf("Snapshot() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusNew, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusRejected, true},
		{OrderStatusExpired, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("OrderStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValidDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir  Direction
		want bool
	}{
		{DirectionLong, true},
		{DirectionShort, true},
		{DirectionFlat, true},
		{Direction("sideways"), false},
		{Direction(""), false},
	}

	for _, tt := range tests {
		if got := ValidDirection(tt.dir); got != tt.want {
			t.Errorf("ValidDirection(%q) = %v, want %v", tt.dir, got, tt.want)
		}
	}
}

func TestPositionIsFlat(t *testing.T) {
	t.Parallel()

	flat := Position{Quantity: decimal.Zero}
	if !flat.IsFlat() {
		t.Errorf("zero-quantity position should be flat")
	}

	open := Position{Quantity: decimal.NewFromFloat(0.5)}
	if open.IsFlat() {
		t.Errorf("non-zero quantity position should not be flat")
	}
}

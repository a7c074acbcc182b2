package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}

	open := []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusNew, OrderStatusPartiallyFilled, true},
		{OrderStatusNew, OrderStatusFilled, true},
		{OrderStatusNew, OrderStatusCancelled, true},
		{OrderStatusNew, OrderStatusRejected, true},
		{OrderStatusNew, OrderStatusExpired, true},
		{OrderStatusNew, OrderStatusNew, false},
		{OrderStatusPartiallyFilled, OrderStatusFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusCancelled, true},
		{OrderStatusPartiallyFilled, OrderStatusRejected, false},
		{OrderStatusPartiallyFilled, OrderStatusExpired, false},
		{OrderStatusFilled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusNew, false},
		{OrderStatusRejected, OrderStatusFilled, false},
		{OrderStatusExpired, OrderStatusCancelled, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestModifyRequestEmpty(t *testing.T) {
	var r ModifyRequest
	if !r.Empty() {
		t.Error("zero-value ModifyRequest should be empty")
	}

	qty := int64(200)
	r.NewQuantity = &qty
	if r.Empty() {
		t.Error("ModifyRequest with NewQuantity should not be empty")
	}

	price := decimal.NewFromFloat(17.25)
	r = ModifyRequest{NewPrice: &price}
	if r.Empty() {
		t.Error("ModifyRequest with NewPrice should not be empty")
	}
}

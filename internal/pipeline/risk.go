package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"bistbroker/internal/domain"
)

var _ RiskChecker = (*NotionalRisk)(nil)

// NotionalRisk enforces pre-trade exposure rules: a cap on the notional
// value of any single order, and a cap on the total approved notional per
// user. Exposure is released when an order reaches a terminal state.
type NotionalRisk struct {
	maxOrderNotional decimal.Decimal
	maxUserExposure  decimal.Decimal

	mu       sync.Mutex
	exposure map[string]decimal.Decimal // userID -> approved open notional
	orders   map[string]openNotional    // clientOrderID -> reserved amount
}

type openNotional struct {
	userID string
	amount decimal.Decimal
}

// NewNotionalRisk creates a NotionalRisk with the given caps.
func NewNotionalRisk(maxOrderNotional, maxUserExposure decimal.Decimal) *NotionalRisk {
	return &NotionalRisk{
		maxOrderNotional: maxOrderNotional,
		maxUserExposure:  maxUserExposure,
		exposure:         make(map[string]decimal.Decimal),
		orders:           make(map[string]openNotional),
	}
}

// ValidateOrderRisk approves the order if both caps hold and reserves its
// notional against the user's exposure. Market orders carry no price, so
// only the per-user order count backstop of the brokerage applies to them.
func (r *NotionalRisk) ValidateOrderRisk(_ context.Context, order *domain.Order) (RiskResult, error) {
	if order.Price == nil {
		return RiskResult{Approved: true}, nil
	}

	notional := order.Price.Mul(decimal.NewFromInt(order.Quantity))
	if notional.GreaterThan(r.maxOrderNotional) {
		return RiskResult{
			Approved: false,
			Reason:   fmt.Sprintf("order notional %s exceeds per-order limit %s", notional, r.maxOrderNotional),
		}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	open := r.exposure[order.UserID]
	if open.Add(notional).GreaterThan(r.maxUserExposure) {
		return RiskResult{
			Approved: false,
			Reason:   fmt.Sprintf("user exposure %s plus order %s exceeds limit %s", open, notional, r.maxUserExposure),
		}, nil
	}

	r.exposure[order.UserID] = open.Add(notional)
	r.orders[order.ClientOrderID] = openNotional{userID: order.UserID, amount: notional}
	return RiskResult{Approved: true}, nil
}

// Release frees the notional reserved for an order once it reaches a
// terminal state. Unknown orders are ignored.
func (r *NotionalRisk) Release(clientOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.orders[clientOrderID]
	if !ok {
		return
	}
	delete(r.orders, clientOrderID)
	r.exposure[res.userID] = r.exposure[res.userID].Sub(res.amount)
	if r.exposure[res.userID].LessThanOrEqual(decimal.Zero) {
		delete(r.exposure, res.userID)
	}
}

// Exposure returns the user's currently reserved notional.
func (r *NotionalRisk) Exposure(userID string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exposure[userID]
}

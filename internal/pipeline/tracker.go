package pipeline

import (
	"context"
	"sync"
	"time"

	"bistbroker/internal/domain"
)

// Compile-time interface checks.
var _ Tracker = (*MemoryTracker)(nil)
var _ RiskChecker = (*StaticRisk)(nil)

// MemoryTracker is an in-process Tracker. Orders are kept for the life of
// the process; terminal states are immutable.
type MemoryTracker struct {
	mu       sync.Mutex
	byClient map[string]*domain.Order
	byBroker map[string]string // broker order ID -> client order ID
	failures map[string]string // client order ID -> failure reason
}

// NewMemoryTracker builds an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		byClient: make(map[string]*domain.Order),
		byBroker: make(map[string]string),
		failures: make(map[string]string),
	}
}

// StartTracking registers an order before it is sent to the brokerage.
func (t *MemoryTracker) StartTracking(_ context.Context, order *domain.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *order
	t.byClient[order.ClientOrderID] = &cp
}

// UpdateOrderResponse reconciles a brokerage acknowledgement or status update
// into the tracked order. Stream updates carry only IDs, status, and fill
// progress, so the tracked record is mutated in place rather than replaced:
// the identity fields set at submission survive every update. Updates against
// a terminal order, and status regressions the state machine forbids, are
// ignored.
func (t *MemoryTracker) UpdateOrderResponse(_ context.Context, order *domain.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := order.ClientOrderID
	if key == "" {
		key = t.byBroker[order.BrokerOrderID]
	}
	cur, ok := t.byClient[key]
	if !ok {
		// Never seen locally, e.g. placed by another process. Track what the
		// endpoint gave us.
		if key == "" {
			key = order.BrokerOrderID
		}
		if key == "" {
			return
		}
		cp := *order
		cp.ClientOrderID = key
		t.byClient[key] = &cp
		if order.BrokerOrderID != "" {
			t.byBroker[order.BrokerOrderID] = key
		}
		return
	}
	if cur.Status.IsTerminal() {
		return
	}

	if order.BrokerOrderID != "" {
		cur.BrokerOrderID = order.BrokerOrderID
		t.byBroker[order.BrokerOrderID] = key
	}
	if order.Status != "" && cur.Status.CanTransitionTo(order.Status) {
		cur.Status = order.Status
	}
	if order.FilledQuantity > cur.FilledQuantity {
		cur.FilledQuantity = order.FilledQuantity
	}
	cur.UpdatedAt = time.Now()
}

// MarkOrderFailed records a submission failure. The order moves to REJECTED
// and the reason is retained.
func (t *MemoryTracker) MarkOrderFailed(_ context.Context, clientOrderID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[clientOrderID] = reason
	if cur, ok := t.byClient[clientOrderID]; ok && !cur.Status.IsTerminal() {
		cur.Status = domain.OrderStatusRejected
	}
}

// TrackedOrder returns a copy of the order tracked under the given client or
// broker order ID.
func (t *MemoryTracker) TrackedOrder(_ context.Context, orderID string) (*domain.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := orderID
	if _, ok := t.byClient[key]; !ok {
		key = t.byBroker[orderID]
	}
	cur, ok := t.byClient[key]
	if !ok {
		return nil, false
	}
	cp := *cur
	return &cp, true
}

// FailureReason returns the recorded failure reason for an order, if any.
func (t *MemoryTracker) FailureReason(clientOrderID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reason, ok := t.failures[clientOrderID]
	return reason, ok
}

// StaticRisk is a RiskChecker with a fixed verdict, for deployments that
// delegate risk to the brokerage itself and for tests.
type StaticRisk struct {
	Approved bool
	Reason   string
}

// ValidateOrderRisk returns the configured verdict.
func (s StaticRisk) ValidateOrderRisk(_ context.Context, _ *domain.Order) (RiskResult, error) {
	return RiskResult{Approved: s.Approved, Reason: s.Reason}, nil
}

// Package pipeline orchestrates order flow: validation, risk approval,
// client order ID assignment, tracking, brokerage submission, and event
// publication.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bistbroker/internal/algolab"
	"bistbroker/internal/domain"
	"bistbroker/internal/validate"
)

// RiskResult is the risk collaborator's verdict on one order.
type RiskResult struct {
	Approved bool
	Reason   string
}

// RiskChecker approves or rejects orders before submission. Cancels and
// modifications bypass it.
type RiskChecker interface {
	ValidateOrderRisk(ctx context.Context, order *domain.Order) (RiskResult, error)
}

// Tracker follows every order from submission to its terminal state.
// TrackedOrder accepts either the client or the broker order ID.
type Tracker interface {
	StartTracking(ctx context.Context, order *domain.Order)
	UpdateOrderResponse(ctx context.Context, order *domain.Order)
	MarkOrderFailed(ctx context.Context, clientOrderID, reason string)
	TrackedOrder(ctx context.Context, orderID string) (*domain.Order, bool)
}

// Publisher emits order and portfolio events. Publication is best-effort:
// a publish failure never invalidates a live order.
type Publisher interface {
	PublishOrder(ctx context.Context, evt domain.OrderEvent) error
	PublishPortfolio(ctx context.Context, evt domain.PortfolioEvent) error
}

// BrokerAPI is the slice of the brokerage client the pipeline drives.
type BrokerAPI interface {
	SubmitOrder(ctx context.Context, creds algolab.Credentials, order *domain.Order) (*algolab.OrderAck, error)
	CancelOrder(ctx context.Context, creds algolab.Credentials, brokerOrderID string) (*algolab.OrderAck, error)
	ModifyOrder(ctx context.Context, creds algolab.Credentials, brokerOrderID string, mod domain.ModifyRequest) (*algolab.OrderAck, error)
	ActiveOrders(ctx context.Context, creds algolab.Credentials, userID string) ([]domain.Order, error)
}

var _ BrokerAPI = (*algolab.Client)(nil)

// Sessions supplies live credentials for each brokerage call.
type Sessions interface {
	Credentials() (algolab.Credentials, error)
}

// Pipeline wires the collaborators together. All methods are safe for
// concurrent use as long as the collaborators are.
type Pipeline struct {
	broker  BrokerAPI
	session Sessions
	risk    RiskChecker
	tracker Tracker
	events  Publisher
	limits  validate.Limits
	log     *slog.Logger
}

// New builds a Pipeline.
func New(broker BrokerAPI, session Sessions, risk RiskChecker, tracker Tracker, events Publisher, limits validate.Limits, log *slog.Logger) *Pipeline {
	return &Pipeline{
		broker:  broker,
		session: session,
		risk:    risk,
		tracker: tracker,
		events:  events,
		limits:  limits,
		log:     log,
	}
}

// Submit validates, risk-checks, tracks, and submits a new order. On success
// the returned order carries the broker order ID and the acknowledged
// status; a submitted event is published best-effort.
func (p *Pipeline) Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if res := validate.Order(req, p.limits, time.Now()); !res.Valid() {
		err := algolab.NewError(algolab.KindValidation, strings.Join(res.Errors, "; "))
		p.publishRejected(ctx, req, "", err.Message)
		return nil, err
	}

	order := buildOrder(req)

	rr, err := p.risk.ValidateOrderRisk(ctx, order)
	if err != nil {
		cerr := algolab.Classify(err)
		p.publishRejected(ctx, req, order.ClientOrderID, cerr.Message)
		return nil, cerr
	}
	if !rr.Approved {
		err := algolab.NewError(algolab.KindOrder, fmt.Sprintf("rejected by risk: %s", rr.Reason))
		p.publishRejected(ctx, req, order.ClientOrderID, err.Message)
		return nil, err
	}

	creds, err := p.session.Credentials()
	if err != nil {
		cerr := algolab.Classify(err)
		p.publishRejected(ctx, req, order.ClientOrderID, cerr.Message)
		return nil, cerr
	}

	p.tracker.StartTracking(ctx, order)

	ack, err := p.broker.SubmitOrder(ctx, creds, order)
	if err != nil {
		cerr := algolab.Classify(err)
		p.tracker.MarkOrderFailed(ctx, order.ClientOrderID, cerr.Message)
		p.publishRejected(ctx, req, order.ClientOrderID, cerr.Message)
		p.log.Error("order submission failed", "client_order_id", order.ClientOrderID, "kind", cerr.Kind, "err", cerr)
		return nil, cerr
	}

	applyAck(order, ack)
	p.tracker.UpdateOrderResponse(ctx, order)

	p.publish(ctx, domain.OrderEvent{
		Type:          domain.OrderEventSubmitted,
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: order.BrokerOrderID,
		UserID:        order.UserID,
		Symbol:        order.Symbol,
		Status:        order.Status,
		At:            time.Now(),
	})

	p.log.Info("order submitted", "client_order_id", order.ClientOrderID, "broker_order_id", order.BrokerOrderID, "symbol", order.Symbol)
	return order, nil
}

// Cancel cancels a live order. No risk check applies.
func (p *Pipeline) Cancel(ctx context.Context, brokerOrderID, userID string) (*domain.Order, error) {
	if res := validate.Cancellation(brokerOrderID, userID); !res.Valid() {
		return nil, algolab.NewError(algolab.KindValidation, strings.Join(res.Errors, "; "))
	}

	creds, err := p.session.Credentials()
	if err != nil {
		return nil, algolab.Classify(err)
	}

	ack, err := p.broker.CancelOrder(ctx, creds, brokerOrderID)
	if err != nil {
		cerr := algolab.Classify(err)
		p.log.Error("order cancellation failed", "broker_order_id", brokerOrderID, "kind", cerr.Kind, "err", cerr)
		return nil, cerr
	}

	order := orderFromAck(ack, brokerOrderID, userID)
	if order.Status == "" {
		order.Status = domain.OrderStatusCancelled
	}
	p.tracker.UpdateOrderResponse(ctx, order)

	p.publish(ctx, domain.OrderEvent{
		Type:          domain.OrderEventCancelled,
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: brokerOrderID,
		UserID:        userID,
		Status:        order.Status,
		At:            time.Now(),
	})

	p.log.Info("order cancelled", "broker_order_id", brokerOrderID)
	return order, nil
}

// Modify amends a live order in place. No risk check applies. The amendment
// is validated against the tracked order when one exists, so a shrink below
// the filled quantity is caught before it reaches the brokerage.
func (p *Pipeline) Modify(ctx context.Context, brokerOrderID, userID string, mod domain.ModifyRequest) (*domain.Order, error) {
	var current domain.Order
	if tracked, ok := p.trackedByBrokerID(ctx, brokerOrderID); ok {
		current = *tracked
	}

	if res := validate.Modification(current, mod, p.limits, time.Now()); !res.Valid() {
		return nil, algolab.NewError(algolab.KindValidation, strings.Join(res.Errors, "; "))
	}

	creds, err := p.session.Credentials()
	if err != nil {
		return nil, algolab.Classify(err)
	}

	ack, err := p.broker.ModifyOrder(ctx, creds, brokerOrderID, mod)
	if err != nil {
		cerr := algolab.Classify(err)
		p.log.Error("order modification failed", "broker_order_id", brokerOrderID, "kind", cerr.Kind, "err", cerr)
		return nil, cerr
	}

	order := orderFromAck(ack, brokerOrderID, userID)
	p.tracker.UpdateOrderResponse(ctx, order)

	p.publish(ctx, domain.OrderEvent{
		Type:          domain.OrderEventModified,
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: brokerOrderID,
		UserID:        userID,
		Status:        order.Status,
		At:            time.Now(),
	})

	p.log.Info("order modified", "broker_order_id", brokerOrderID)
	return order, nil
}

// ActiveOrders lists the user's open orders straight from the brokerage.
func (p *Pipeline) ActiveOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	creds, err := p.session.Credentials()
	if err != nil {
		return nil, algolab.Classify(err)
	}

	orders, err := p.broker.ActiveOrders(ctx, creds, userID)
	if err != nil {
		return nil, algolab.Classify(err)
	}
	return orders, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// buildOrder assigns the client order ID and initial state. The ID format is
// userID-epochMillis-8charSuffix; the suffix comes from a fresh UUID.
func buildOrder(req domain.OrderRequest) *domain.Order {
	now := time.Now()
	return &domain.Order{
		ClientOrderID:   fmt.Sprintf("%s-%d-%s", req.UserID, now.UnixMilli(), uuid.NewString()[:8]),
		UserID:          req.UserID,
		AccountID:       req.AccountID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		IcebergQuantity: req.IcebergQuantity,
		TimeInForce:     req.TimeInForce,
		GoodTillDate:    req.GoodTillDate,
		Status:          domain.OrderStatusNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func applyAck(order *domain.Order, ack *algolab.OrderAck) {
	order.BrokerOrderID = ack.BrokerOrderID
	if ack.Status != "" && ack.Status != order.Status {
		if order.Status.CanTransitionTo(ack.Status) {
			order.Status = ack.Status
		}
	}
	if ack.FilledQuantity > 0 {
		order.FilledQuantity = ack.FilledQuantity
	}
	order.UpdatedAt = time.Now()
}

func orderFromAck(ack *algolab.OrderAck, brokerOrderID, userID string) *domain.Order {
	return &domain.Order{
		ClientOrderID:  ack.ClientOrderID,
		BrokerOrderID:  brokerOrderID,
		UserID:         userID,
		Status:         ack.Status,
		FilledQuantity: ack.FilledQuantity,
		UpdatedAt:      time.Now(),
	}
}

func (p *Pipeline) trackedByBrokerID(ctx context.Context, brokerOrderID string) (*domain.Order, bool) {
	return p.tracker.TrackedOrder(ctx, brokerOrderID)
}

func (p *Pipeline) publish(ctx context.Context, evt domain.OrderEvent) {
	if err := p.events.PublishOrder(ctx, evt); err != nil {
		p.log.Warn("publishing order event failed", "type", evt.Type, "client_order_id", evt.ClientOrderID, "err", err)
	}
}

func (p *Pipeline) publishRejected(ctx context.Context, req domain.OrderRequest, clientOrderID, reason string) {
	p.publish(ctx, domain.OrderEvent{
		Type:          domain.OrderEventRejected,
		ClientOrderID: clientOrderID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Status:        domain.OrderStatusRejected,
		Reason:        reason,
		At:            time.Now(),
	})
}

// Package domain defines the core order, subscription, and event types
// shared across the brokerage integration.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the execution style requested for an order.
type OrderType string

const (
	OrderTypeMarket            OrderType = "MARKET"
	OrderTypeLimit             OrderType = "LIMIT"
	OrderTypeStop              OrderType = "STOP"
	OrderTypeStopLimit         OrderType = "STOP_LIMIT"
	OrderTypeIceberg           OrderType = "ICEBERG"
	OrderTypeAllOrNone         OrderType = "ALL_OR_NONE"
	OrderTypeFillOrKill        OrderType = "FILL_OR_KILL"
	OrderTypeImmediateOrCancel OrderType = "IMMEDIATE_OR_CANCEL"
)

// TimeInForce controls how long an order remains working at the exchange.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GOOD_TILL_CANCELLED"
	TimeInForceGTD TimeInForce = "GOOD_TILL_DATE"
	TimeInForceIOC TimeInForce = "IMMEDIATE_OR_CANCEL"
	TimeInForceFOK TimeInForce = "FILL_OR_KILL"
)

// OrderStatus is the lifecycle state of an order. The state machine is
// closed: NEW may move to any other state, PARTIALLY_FILLED only to FILLED
// or CANCELLED, and terminal states never change again.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is final. Terminal orders are
// immutable; updates arriving after a terminal status must be ignored.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether a move from s to next is allowed by the
// order state machine.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case OrderStatusNew:
		switch next {
		case OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled,
			OrderStatusRejected, OrderStatusExpired:
			return true
		}
	case OrderStatusPartiallyFilled:
		switch next {
		case OrderStatusFilled, OrderStatusCancelled:
			return true
		}
	}
	return false
}

// Order is a single order intent and its broker-side lifecycle. Orders are
// never deleted; superseding status updates arrive from the brokerage either
// synchronously or over the streaming connection.
type Order struct {
	ClientOrderID   string           `json:"client_order_id"`
	BrokerOrderID   string           `json:"broker_order_id,omitempty"` // empty until acknowledged
	UserID          string           `json:"user_id"`
	AccountID       string           `json:"account_id"`
	Symbol          string           `json:"symbol"`
	Side            OrderSide        `json:"side"`
	Type            OrderType        `json:"type"`
	Quantity        int64            `json:"quantity"`
	FilledQuantity  int64            `json:"filled_quantity"`
	Price           *decimal.Decimal `json:"price,omitempty"`      // nil for MARKET
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"` // nil unless STOP/STOP_LIMIT
	IcebergQuantity *int64           `json:"iceberg_quantity,omitempty"`
	TimeInForce     TimeInForce      `json:"time_in_force"`
	GoodTillDate    *time.Time       `json:"good_till_date,omitempty"`
	Status          OrderStatus      `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// OrderRequest is a caller-supplied order submission, before validation and
// client-order-ID assignment.
type OrderRequest struct {
	UserID          string
	AccountID       string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Quantity        int64
	Price           *decimal.Decimal
	StopPrice       *decimal.Decimal
	IcebergQuantity *int64
	TimeInForce     TimeInForce
	GoodTillDate    *time.Time
}

// ModifyRequest carries the mutable fields of an order modification. At
// least one field must be set.
type ModifyRequest struct {
	NewQuantity     *int64
	NewPrice        *decimal.Decimal
	NewStopPrice    *decimal.Decimal
	NewGoodTillDate *time.Time
}

// Empty reports whether no mutable field is present.
func (r ModifyRequest) Empty() bool {
	return r.NewQuantity == nil && r.NewPrice == nil && r.NewStopPrice == nil &&
		r.NewGoodTillDate == nil
}

// Channel identifies a streaming subscription channel.
type Channel string

const (
	ChannelTick            Channel = "tick"
	ChannelOrderBook       Channel = "orderbook"
	ChannelTrade           Channel = "trade"
	ChannelOrderUpdate     Channel = "order_update"
	ChannelPortfolioUpdate Channel = "portfolio_update"
)

// Subscription is one live streaming subscription: a channel plus a key
// (symbol for market channels, user ID for account channels).
type Subscription struct {
	Channel         Channel   `json:"channel"`
	Key             string    `json:"key"`
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
}

// OrderEventType tags a published order lifecycle event.
type OrderEventType string

const (
	OrderEventSubmitted OrderEventType = "ORDER_SUBMITTED"
	OrderEventCancelled OrderEventType = "ORDER_CANCELLED"
	OrderEventModified  OrderEventType = "ORDER_MODIFIED"
	OrderEventRejected  OrderEventType = "ORDER_REJECTED"
)

// OrderEvent is published after every pipeline-visible order transition.
type OrderEvent struct {
	Type          OrderEventType `json:"type"`
	ClientOrderID string         `json:"client_order_id"`
	BrokerOrderID string         `json:"broker_order_id,omitempty"`
	UserID        string         `json:"user_id"`
	Symbol        string         `json:"symbol"`
	Status        OrderStatus    `json:"status,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	At            time.Time      `json:"at"`
}

// PortfolioEvent is published when a position or cash delta is observed on
// the streaming portfolio channel.
type PortfolioEvent struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	PositionDelta decimal.Decimal `json:"position_delta"`
	CashDelta     decimal.Decimal `json:"cash_delta"`
	At            time.Time       `json:"at"`
}

package algolab

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"bistbroker/internal/domain"
)

// Credentials is the per-call proof of an authenticated session: the bearer
// token plus the session hash that goes into the Authorization header.
type Credentials struct {
	Token string
	Hash  string
}

// LoginResult is what a successful authentication yields.
type LoginResult struct {
	Token     string
	Hash      string
	ExpiresAt time.Time
}

// OrderAck is the endpoint's acknowledgement of a submit, cancel, or modify.
type OrderAck struct {
	BrokerOrderID  string             `json:"orderId"`
	ClientOrderID  string             `json:"clientOrderId"`
	Status         domain.OrderStatus `json:"status"`
	FilledQuantity int64              `json:"filledQuantity"`
}

// ---------------------------------------------------------------------------
// Wire DTOs
// ---------------------------------------------------------------------------

// envelope is the uniform response wrapper every endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Content json.RawMessage `json:"content"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginContent struct {
	Token     string `json:"token"`
	Hash      string `json:"hash"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

type refreshContent struct {
	ExpiresIn int64 `json:"expiresIn"`
}

type orderRequest struct {
	ClientOrderID   string           `json:"clientOrderId"`
	AccountID       string           `json:"accountId,omitempty"`
	Symbol          string           `json:"symbol"`
	Side            string           `json:"side"`
	Type            string           `json:"type"`
	Quantity        int64            `json:"quantity"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stopPrice,omitempty"`
	IcebergQuantity *int64           `json:"icebergQuantity,omitempty"`
	TimeInForce     string           `json:"timeInForce,omitempty"`
	GoodTillDate    *time.Time       `json:"goodTillDate,omitempty"`
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

type modifyRequest struct {
	OrderID      string           `json:"orderId"`
	NewQuantity  *int64           `json:"newQuantity,omitempty"`
	NewPrice     *decimal.Decimal `json:"newPrice,omitempty"`
	NewStopPrice *decimal.Decimal `json:"newStopPrice,omitempty"`
	GoodTillDate *time.Time       `json:"goodTillDate,omitempty"`
}

type activeOrdersRequest struct {
	UserID string `json:"userId"`
}

type activeOrdersContent struct {
	Orders []wireOrder `json:"orders"`
}

type wireOrder struct {
	ClientOrderID  string           `json:"clientOrderId"`
	BrokerOrderID  string           `json:"orderId"`
	AccountID      string           `json:"accountId"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Quantity       int64            `json:"quantity"`
	FilledQuantity int64            `json:"filledQuantity"`
	Price          *decimal.Decimal `json:"price"`
	StopPrice      *decimal.Decimal `json:"stopPrice"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func (w wireOrder) toDomain() domain.Order {
	return domain.Order{
		ClientOrderID:  w.ClientOrderID,
		BrokerOrderID:  w.BrokerOrderID,
		AccountID:      w.AccountID,
		Symbol:         w.Symbol,
		Side:           domain.OrderSide(w.Side),
		Type:           domain.OrderType(w.Type),
		Quantity:       w.Quantity,
		FilledQuantity: w.FilledQuantity,
		Price:          w.Price,
		StopPrice:      w.StopPrice,
		Status:         domain.OrderStatus(w.Status),
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// Package httpapi exposes the order pipeline, session audit log, and tick
// cache over a JSON REST API.
package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"bistbroker/internal/domain"
)

// SubmitOrderJSON is the request body for order submission.
type SubmitOrderJSON struct {
	UserID          string           `json:"user_id"`
	AccountID       string           `json:"account_id"`
	Symbol          string           `json:"symbol"`
	Side            string           `json:"side"`
	Type            string           `json:"type"`
	Quantity        int64            `json:"quantity"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	IcebergQuantity *int64           `json:"iceberg_quantity,omitempty"`
	TimeInForce     string           `json:"time_in_force,omitempty"`
	GoodTillDate    *time.Time       `json:"good_till_date,omitempty"`
}

func (r SubmitOrderJSON) toRequest() domain.OrderRequest {
	return domain.OrderRequest{
		UserID:          r.UserID,
		AccountID:       r.AccountID,
		Symbol:          r.Symbol,
		Side:            domain.OrderSide(r.Side),
		Type:            domain.OrderType(r.Type),
		Quantity:        r.Quantity,
		Price:           r.Price,
		StopPrice:       r.StopPrice,
		IcebergQuantity: r.IcebergQuantity,
		TimeInForce:     domain.TimeInForce(r.TimeInForce),
		GoodTillDate:    r.GoodTillDate,
	}
}

// ModifyOrderJSON is the request body for order modification.
type ModifyOrderJSON struct {
	UserID          string           `json:"user_id"`
	NewQuantity     *int64           `json:"new_quantity,omitempty"`
	NewPrice        *decimal.Decimal `json:"new_price,omitempty"`
	NewStopPrice    *decimal.Decimal `json:"new_stop_price,omitempty"`
	NewGoodTillDate *time.Time       `json:"new_good_till_date,omitempty"`
}

func (r ModifyOrderJSON) toRequest() domain.ModifyRequest {
	return domain.ModifyRequest{
		NewQuantity:     r.NewQuantity,
		NewPrice:        r.NewPrice,
		NewStopPrice:    r.NewStopPrice,
		NewGoodTillDate: r.NewGoodTillDate,
	}
}

// ErrorJSON is the uniform error body.
type ErrorJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

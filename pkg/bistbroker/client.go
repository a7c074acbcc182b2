// Package bistbroker provides a Go SDK for the bistbroker REST API.
package bistbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to a running bistbroker instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Order is the API's order representation.
type Order struct {
	ClientOrderID  string           `json:"client_order_id"`
	BrokerOrderID  string           `json:"broker_order_id,omitempty"`
	UserID         string           `json:"user_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Quantity       int64            `json:"quantity"`
	FilledQuantity int64            `json:"filled_quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Status         string           `json:"status"`
}

// SubmitOrderRequest is the order submission body.
type SubmitOrderRequest struct {
	UserID          string           `json:"user_id"`
	AccountID       string           `json:"account_id,omitempty"`
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

// ModifyOrderRequest is the order modification body.
type ModifyOrderRequest struct {
	UserID          string           `json:"user_id"`
	NewQuantity     *int64           `json:"new_quantity,omitempty"`
	NewPrice        *decimal.Decimal `json:"new_price,omitempty"`
	NewStopPrice    *decimal.Decimal `json:"new_stop_price,omitempty"`
	NewGoodTillDate *time.Time       `json:"new_good_till_date,omitempty"`
}

// Tick is the latest cached price for a symbol.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Kind, e.Message, e.StatusCode)
}

// SubmitOrder places a new order.
func (c *Client) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels a live order by its broker order ID.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID, userID string) (*Order, error) {
	path := fmt.Sprintf("/api/orders/%s?user=%s", url.PathEscape(brokerOrderID), url.QueryEscape(userID))
	var order Order
	if err := c.do(ctx, http.MethodDelete, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ModifyOrder amends a live order.
func (c *Client) ModifyOrder(ctx context.Context, brokerOrderID string, req ModifyOrderRequest) (*Order, error) {
	path := "/api/orders/" + url.PathEscape(brokerOrderID)
	var order Order
	if err := c.do(ctx, http.MethodPatch, path, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ActiveOrders lists a user's open orders.
func (c *Client) ActiveOrders(ctx context.Context, userID string) ([]Order, error) {
	var orders []Order
	if err := c.do(ctx, http.MethodGet, "/api/orders?user="+url.QueryEscape(userID), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// LatestTick returns the latest cached tick for a symbol, or nil when none
// is cached.
func (c *Client) LatestTick(ctx context.Context, symbol string) (*Tick, error) {
	var tick Tick
	err := c.do(ctx, http.MethodGet, "/api/ticks/"+url.PathEscape(symbol), nil, &tick)
	var apiErr *APIError
	if err != nil {
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tick, nil
}

func asAPIError(err error, target **APIError) bool {
	ae, ok := err.(*APIError)
	if ok {
		*target = ae
	}
	return ok
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Kind: "UNKNOWN"}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

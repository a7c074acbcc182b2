package algolab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"bistbroker/internal/config"
	"bistbroker/internal/domain"
	"bistbroker/internal/util"
)

// Endpoint paths.
const (
	endpointLogin        = "/api/LoginUser"
	endpointRefresh      = "/api/SessionRefresh"
	endpointHeartbeat    = "/api/Heartbeat"
	endpointLogout       = "/api/Logout"
	endpointSendOrder    = "/api/SendOrder"
	endpointDeleteOrder  = "/api/DeleteOrder"
	endpointModifyOrder  = "/api/ModifyOrder"
	endpointActiveOrders = "/api/GetActiveOrders"
)

// Client talks to the brokerage REST endpoint. All methods are safe for
// concurrent use; outbound calls share one rate limiter so the process as a
// whole stays under the endpoint's throttle.
type Client struct {
	baseURL string
	apiKey  string
	cipher  *Cipher
	http    *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewClient builds a Client from the broker and session sections of the
// configuration. Connect and read timeouts are enforced independently at the
// transport level.
func NewClient(broker config.Broker, sess config.Session, log *slog.Logger) (*Client, error) {
	ciph, err := NewCipher(broker.APICode)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: sess.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   sess.ConnectTimeout,
		ResponseHeaderTimeout: sess.ReadTimeout,
	}

	return &Client{
		baseURL: broker.APIURL,
		apiKey:  broker.APIKey,
		cipher:  ciph,
		http:    &http.Client{Transport: transport},
		limiter: util.NewRateLimiter(broker.RequestsPerMinute),
		log:     log,
	}, nil
}

// ---------------------------------------------------------------------------
// Session endpoints
// ---------------------------------------------------------------------------

// Login authenticates with encrypted credentials and returns the session
// token, hash, and expiry.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	encUser, err := c.cipher.Encrypt(username)
	if err != nil {
		return LoginResult{}, NewError(KindAuthentication, fmt.Sprintf("encrypting username: %v", err))
	}
	encPass, err := c.cipher.Encrypt(password)
	if err != nil {
		return LoginResult{}, NewError(KindAuthentication, fmt.Sprintf("encrypting password: %v", err))
	}

	var content loginContent
	if err := c.post(ctx, endpointLogin, loginRequest{Username: encUser, Password: encPass}, nil, KindAuthentication, &content); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token:     content.Token,
		Hash:      content.Hash,
		ExpiresAt: time.Now().Add(time.Duration(content.ExpiresIn) * time.Second),
	}, nil
}

// RefreshSession extends the session and returns the new expiry.
func (c *Client) RefreshSession(ctx context.Context, creds Credentials) (time.Time, error) {
	var content refreshContent
	if err := c.post(ctx, endpointRefresh, struct{}{}, &creds, KindAuthentication, &content); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(time.Duration(content.ExpiresIn) * time.Second), nil
}

// Heartbeat tells the endpoint the session is still in use.
func (c *Client) Heartbeat(ctx context.Context, creds Credentials) error {
	return c.post(ctx, endpointHeartbeat, struct{}{}, &creds, KindAuthentication, nil)
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context, creds Credentials) error {
	return c.post(ctx, endpointLogout, struct{}{}, &creds, KindAuthentication, nil)
}

// ---------------------------------------------------------------------------
// Order endpoints
// ---------------------------------------------------------------------------

// SubmitOrder places a new order and returns the endpoint's acknowledgement.
func (c *Client) SubmitOrder(ctx context.Context, creds Credentials, order *domain.Order) (*OrderAck, error) {
	req := orderRequest{
		ClientOrderID:   order.ClientOrderID,
		AccountID:       order.AccountID,
		Symbol:          order.Symbol,
		Side:            string(order.Side),
		Type:            string(order.Type),
		Quantity:        order.Quantity,
		Price:           order.Price,
		StopPrice:       order.StopPrice,
		IcebergQuantity: order.IcebergQuantity,
		TimeInForce:     string(order.TimeInForce),
		GoodTillDate:    order.GoodTillDate,
	}

	var ack OrderAck
	if err := c.post(ctx, endpointSendOrder, req, &creds, KindOrder, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// CancelOrder cancels a live order by its broker-side identifier.
func (c *Client) CancelOrder(ctx context.Context, creds Credentials, brokerOrderID string) (*OrderAck, error) {
	var ack OrderAck
	if err := c.post(ctx, endpointDeleteOrder, cancelRequest{OrderID: brokerOrderID}, &creds, KindOrder, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// ModifyOrder amends a live order in place.
func (c *Client) ModifyOrder(ctx context.Context, creds Credentials, brokerOrderID string, mod domain.ModifyRequest) (*OrderAck, error) {
	req := modifyRequest{
		OrderID:      brokerOrderID,
		NewQuantity:  mod.NewQuantity,
		NewPrice:     mod.NewPrice,
		NewStopPrice: mod.NewStopPrice,
		GoodTillDate: mod.NewGoodTillDate,
	}

	var ack OrderAck
	if err := c.post(ctx, endpointModifyOrder, req, &creds, KindOrder, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// ActiveOrders lists the user's open orders.
func (c *Client) ActiveOrders(ctx context.Context, creds Credentials, userID string) ([]domain.Order, error) {
	var content activeOrdersContent
	if err := c.post(ctx, endpointActiveOrders, activeOrdersRequest{UserID: userID}, &creds, KindOrder, &content); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(content.Orders))
	for _, w := range content.Orders {
		orders = append(orders, w.toDomain())
	}
	return orders, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// post sends one signed JSON request. failKind is the error kind applied
// when the endpoint answers 200 with success=false, which is how it reports
// business-level rejections.
func (c *Client) post(ctx context.Context, endpoint string, payload any, creds *Credentials, failKind Kind, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return Classify(err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return NewError(KindUnknown, fmt.Sprintf("encoding request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APIKEY", c.apiKey)
	if creds != nil {
		req.Header.Set("Checker", checker(c.apiKey, c.baseURL, endpoint, body))
		req.Header.Set("Authorization", creds.Hash)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		var env envelope
		_ = json.Unmarshal(data, &env)
		cerr := ClassifyStatus(resp.StatusCode, env.Message, retryAfter(resp))
		c.log.Warn("brokerage call failed", "endpoint", endpoint, "status", resp.StatusCode, "kind", cerr.Kind)
		return cerr
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return NewError(KindUnknown, fmt.Sprintf("decoding response: %v", err))
	}
	if !env.Success {
		c.log.Warn("brokerage call rejected", "endpoint", endpoint, "message", env.Message)
		return &Error{Kind: failKind, HTTPStatus: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Content) > 0 {
		if err := json.Unmarshal(env.Content, out); err != nil {
			return NewError(KindUnknown, fmt.Sprintf("decoding response content: %v", err))
		}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

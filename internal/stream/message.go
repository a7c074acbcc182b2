// Package stream maintains the persistent streaming connection to the
// brokerage: authentication handshake, channel subscriptions with replay on
// reconnect, keepalive pings, and dispatch of decoded market and account
// messages.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bistbroker/internal/domain"
)

// MessageType tags every streaming envelope.
type MessageType string

const (
	TypeAuth        MessageType = "auth"
	TypeAuthSuccess MessageType = "auth_success"
	TypeAuthFailure MessageType = "auth_failure"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeTick        MessageType = "tick"
	TypeOrderBook   MessageType = "orderbook"
	TypeTrade       MessageType = "trade"
	TypeOrderUpdate MessageType = "order_update"
	TypePortfolio   MessageType = "portfolio_update"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
)

// Envelope is the wire form of every streaming message, inbound and
// outbound.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Channel   domain.Channel  `json:"channel,omitempty"`
	Key       string          `json:"key,omitempty"`
	Token     string          `json:"token,omitempty"`
	Hash      string          `json:"hash,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Message is the decoded form of an inbound envelope. The set of variants
// is closed; anything the decoder does not recognize becomes Unknown.
type Message interface {
	messageType() MessageType
}

// Tick is one top-of-book price update.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

func (Tick) messageType() MessageType { return TypeTick }

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderBook is a depth snapshot for one symbol.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

func (OrderBook) messageType() MessageType { return TypeOrderBook }

// Trade is one executed trade on the tape.
type Trade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

func (Trade) messageType() MessageType { return TypeTrade }

// OrderUpdate is a broker-pushed order lifecycle transition.
type OrderUpdate struct {
	ClientOrderID  string             `json:"clientOrderId"`
	BrokerOrderID  string             `json:"orderId"`
	Status         domain.OrderStatus `json:"status"`
	FilledQuantity int64              `json:"filledQuantity"`
	Timestamp      time.Time          `json:"timestamp"`
}

func (OrderUpdate) messageType() MessageType { return TypeOrderUpdate }

// PortfolioUpdate is a broker-pushed position or cash delta.
type PortfolioUpdate struct {
	UserID        string          `json:"userId"`
	Symbol        string          `json:"symbol"`
	PositionDelta decimal.Decimal `json:"positionDelta"`
	CashDelta     decimal.Decimal `json:"cashDelta"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (PortfolioUpdate) messageType() MessageType { return TypePortfolio }

// Pong answers a keepalive ping.
type Pong struct {
	Timestamp int64
}

func (Pong) messageType() MessageType { return TypePong }

// StreamError is an endpoint-reported error frame.
type StreamError struct {
	Message string
}

func (StreamError) messageType() MessageType { return TypeError }

// Unknown wraps an envelope whose type the decoder does not recognize. The
// dispatcher logs and drops these.
type Unknown struct {
	Type MessageType
	Raw  json.RawMessage
}

func (u Unknown) messageType() MessageType { return u.Type }

// decode turns an inbound envelope into its typed variant.
func decode(env Envelope) (Message, error) {
	switch env.Type {
	case TypeTick:
		var m Tick
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding tick: %w", err)
		}
		return m, nil
	case TypeOrderBook:
		var m OrderBook
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding orderbook: %w", err)
		}
		return m, nil
	case TypeTrade:
		var m Trade
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding trade: %w", err)
		}
		return m, nil
	case TypeOrderUpdate:
		var m OrderUpdate
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding order update: %w", err)
		}
		return m, nil
	case TypePortfolio:
		var m PortfolioUpdate
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decoding portfolio update: %w", err)
		}
		return m, nil
	case TypePong:
		return Pong{Timestamp: env.Timestamp}, nil
	case TypeError:
		return StreamError{Message: env.Error}, nil
	default:
		return Unknown{Type: env.Type, Raw: env.Data}, nil
	}
}

// channelOf maps an envelope to the subscription channel its payload belongs
// to, preferring the explicit channel field when the endpoint sets it.
func channelOf(env Envelope) domain.Channel {
	if env.Channel != "" {
		return env.Channel
	}
	switch env.Type {
	case TypeTick:
		return domain.ChannelTick
	case TypeOrderBook:
		return domain.ChannelOrderBook
	case TypeTrade:
		return domain.ChannelTrade
	case TypeOrderUpdate:
		return domain.ChannelOrderUpdate
	case TypePortfolio:
		return domain.ChannelPortfolioUpdate
	}
	return ""
}

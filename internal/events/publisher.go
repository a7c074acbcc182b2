// Package events publishes order and portfolio events to Kafka for
// downstream consumers. Publication is fire-and-forget: delivery failures
// are logged by the writer, never surfaced to the order path.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"bistbroker/internal/domain"
)

// KafkaPublisher writes events to the order and portfolio topics.
type KafkaPublisher struct {
	orders    *kafka.Writer
	portfolio *kafka.Writer
	log       *slog.Logger
}

// NewKafkaPublisher builds a publisher over the given brokers and topics.
func NewKafkaPublisher(brokers []string, orderTopic, portfolioTopic string, log *slog.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			Async:    true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn("event delivery failed", "topic", topic, "count", len(messages), "err", err)
				}
			},
		}
	}
	return &KafkaPublisher{
		orders:    newWriter(orderTopic),
		portfolio: newWriter(portfolioTopic),
		log:       log,
	}
}

// PublishOrder emits one order lifecycle event, keyed by client order ID so
// per-order ordering is preserved within a partition.
func (p *KafkaPublisher) PublishOrder(ctx context.Context, evt domain.OrderEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.orders.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ClientOrderID),
		Value: value,
	})
}

// PublishPortfolio emits one portfolio delta event, keyed by user ID.
func (p *KafkaPublisher) PublishPortfolio(ctx context.Context, evt domain.PortfolioEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.portfolio.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.UserID),
		Value: value,
	})
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	err1 := p.orders.Close()
	err2 := p.portfolio.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

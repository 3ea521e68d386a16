package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	x402 "github.com/Rampop01/streamit"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives payment events, routed by event type.
const DefaultExchange = "paystream.payments"

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes payment events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	logger   *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// DialAMQP connects to the broker at url and declares the exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := NewAMQPPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher declares a durable topic exchange on ch.
func NewAMQPPublisher(ch Channel, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends the event with its type as the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, event x402.PaymentEvent) error {
	msg, err := buildMessage(event)
	if err != nil {
		p.failed.Add(1)
		return err
	}

	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,         // exchange
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		msg,
	)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish payment event: %w", err)
	}

	p.published.Add(1)
	p.logger.Debug("payment event published",
		"exchange", p.exchange,
		"type", event.Type,
		"content_id", event.ContentID,
		"tx_id", event.TxID,
	)
	return nil
}

// Metrics returns publish counters.
func (p *AMQPPublisher) Metrics() map[string]any {
	return map[string]any{
		"messages_published": p.published.Load(),
		"messages_failed":    p.failed.Load(),
		"exchange":           p.exchange,
	}
}

// Close closes the broker connection when the publisher owns it.
func (p *AMQPPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func buildMessage(event x402.PaymentEvent) (amqp.Publishing, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal payment event: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.ContentID + ":" + event.TxID + ":" + string(event.Type),
		Type:         string(event.Type),
		Body:         body,
		Timestamp:    event.Timestamp,
	}, nil
}

package events

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultAMQPExchange is the topic exchange events are published to
const DefaultAMQPExchange = "cloner.events"

// AMQPChannel is the part of *amqp.Channel the bridge uses
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPBridge publishes events to a topic exchange. The routing key is
// "<stage>.<resource>", e.g. "cloned.Article".
type AMQPBridge struct {
	conn     *amqp.Connection
	channel  AMQPChannel
	exchange string
}

// DialAMQP connects to the broker and declares a durable topic exchange
func DialAMQP(url, exchange string) (*AMQPBridge, error) {
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	bridge := NewAMQPBridge(ch, exchange)
	bridge.conn = conn
	return bridge, nil
}

// NewAMQPBridge wraps an open channel
func NewAMQPBridge(ch AMQPChannel, exchange string) *AMQPBridge {
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}
	return &AMQPBridge{channel: ch, exchange: exchange}
}

// Listener returns the bridge as an event listener
func (b *AMQPBridge) Listener() Listener {
	return b.Forward
}

// Forward publishes ev as a persistent JSON message
func (b *AMQPBridge) Forward(ctx context.Context, ev Event) error {
	payload, err := NewMessage(ev).Encode()
	if err != nil {
		return err
	}

	err = b.channel.PublishWithContext(ctx, b.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		Timestamp:    ev.At,
		DeliveryMode: amqp.Persistent,
		Type:         ev.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %q to amqp: %w", ev.Name, err)
	}
	return nil
}

// RoutingKey returns the routing key of ev
func RoutingKey(ev Event) string {
	stage := string(ev.Stage)
	if stage == "" {
		stage = "event"
	}
	return stage + "." + strings.ReplaceAll(ev.Resource, " ", "_")
}

// Close closes the channel and, when the bridge dialed it, the connection
func (b *AMQPBridge) Close() error {
	err := b.channel.Close()
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

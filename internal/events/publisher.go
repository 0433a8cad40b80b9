// Package events publishes credential lifecycle events to RabbitMQ so the
// rest of the system (audit trail, notifications) can react without coupling
// to the authorization server. Publishing is fire-and-forget: the broker
// being down never fails a credential operation.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cadencehq/cadence-mcp/internal/logger"
)

const exchangeName = "credential.events"

// Event types emitted by the credential subsystem.
const (
	EventClientRegistered = "client.registered"
	EventClientDeleted    = "client.deleted"
	EventTokenIssued      = "token.issued"
	EventUpstreamLinked   = "upstream.linked"
)

// Event is the published payload.
type Event struct {
	Type       string    `json:"type"`
	ClientID   string    `json:"client_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits lifecycle events. A nil *Publisher is valid and publishes
// nothing, so the subsystem runs without a broker.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher connects to the broker and declares the topic exchange.
func NewPublisher(amqpURL string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, channel: channel}, nil
}

// Publish emits an event. Failures are logged, never returned.
func (p *Publisher) Publish(eventType, clientID, userID string) {
	if p == nil {
		return
	}

	body, err := json.Marshal(Event{
		Type:       eventType,
		ClientID:   clientID,
		UserID:     userID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		logger.Warnw("failed to serialize event", "type", eventType, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, exchangeName, eventType, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		logger.Warnw("failed to publish event", "type", eventType, "error", err)
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	_ = p.channel.Close()
	_ = p.conn.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"pandora-chat/internal/observability"
)

// NewPublisher builds an AMQP-backed notifier, or falls back to a
// LogNotifier when AMQP is disabled or unreachable so the chat core keeps
// working without a broker.
func NewPublisher(amqpURL, exchange, routingKey string) Notifier {
	if amqpURL == "" {
		log.Printf("notify: amqp disabled, logging notifications: empty amqp url")
		return LogNotifier{}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Printf("notify: amqp disabled, logging notifications: %v", err)
		return LogNotifier{}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("notify: amqp disabled, logging notifications: %v", err)
		_ = conn.Close()
		return LogNotifier{}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		log.Printf("notify: amqp disabled, logging notifications: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return LogNotifier{}
	}

	log.Printf("notify: amqp connected exchange=%s", exchange)
	return &amqpNotifier{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}
}

type amqpNotifier struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

type notificationEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Payload       Notification `json:"payload"`
}

func (p *amqpNotifier) Push(ctx context.Context, n Notification) {
	envelope := notificationEnvelope{
		SchemaVersion: 1,
		EventType:     "dm_notification",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Payload:       n,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("notify: marshal: %v", err)
		return
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		observability.IncAMQPPublishError()
		log.Printf("notify: publish failed: %v", err)
	}
}

func (p *amqpNotifier) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

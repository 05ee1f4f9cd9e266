// Package queue_publisher provides functions to publish domain events to
// RabbitMQ. Errors are logged and returned so callers can ignore
// failures without interrupting the main request flow: event publishing
// is strictly best-effort and never gates an entitlement decision.
package queue_publisher

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/worksheetlab/worksheet-api/internal/queue"
)

// PublishDocumentGenerated publishes a DocumentGeneratedEvent after a
// usage event has been recorded.
func PublishDocumentGenerated(ctx context.Context, event q.DocumentGeneratedEvent) error {
	return publish(ctx, q.DocumentGeneratedQueue, event)
}

// PublishSubscriptionChanged publishes a SubscriptionChangedEvent after
// a subscription state change has been applied to the store.
func PublishSubscriptionChanged(ctx context.Context, event q.SubscriptionChangedEvent) error {
	return publish(ctx, q.SubscriptionChangedQueue, event)
}

// publish marshals the event and sends it to the named durable queue via
// the default exchange. The function never panics; any error is logged
// and returned for the caller to ignore.
func publish(ctx context.Context, queueName string, event any) error {
	conn, err := amqp.Dial(q.BrokerURL())
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive
	// broker restarts.
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}
	return nil
}

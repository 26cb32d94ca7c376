// Package queue is the durable work-distribution layer behind the
// Dispatcher and the webhook fan-out handlers, generalizing the teacher's
// Publish/Subscribe Queue interface (internal/queue/queue.go) from a single
// in-memory topic map to named durable queues with delayed redelivery.
package queue

import (
	"context"
	"time"
)

// Delivery is one dequeued item. The handler must call Ack on success or
// Nack to requeue (optionally after delay) on failure, mirroring the
// amqp.Delivery Ack/Nack pair the teacher's cmd/worker/main.go drives by
// hand.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeueAfter time.Duration) error
}

// Queue is the contract the Dispatcher, webhook handlers, and Campaign
// Executor publish to and consume from. Queue names are the typed topics
// from SPEC_FULL.md §6: OUTBOUND, STATUS_UPDATES, INBOUND_MESSAGES,
// TEMPLATE_UPDATES, PHONE_NUMBER_UPDATES.
type Queue interface {
	Publish(ctx context.Context, queueName string, body []byte) error
	// PublishDelayed schedules body for delivery on queueName after delay.
	PublishDelayed(ctx context.Context, queueName string, body []byte, delay time.Duration) error
	// Consume starts delivering queueName's messages to deliveries until ctx
	// is cancelled.
	Consume(ctx context.Context, queueName string) (<-chan Delivery, error)
	Close() error
}

const (
	QueueOutbound            = "outbound"
	QueueStatusUpdates       = "status_updates"
	QueueInboundMessages     = "inbound_messages"
	QueueTemplateUpdates     = "template_updates"
	QueuePhoneNumberUpdates  = "phone_number_updates"
)

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// AMQP is the durable Queue backing production deployments, grounded on the
// teacher's cmd/worker/main.go RabbitMQ wiring (durable queue declare,
// autoAck=false consume, Nack(requeue=true) on failure) generalized to
// named queues and to delayed redelivery via a per-queue "<name>.delay"
// queue that dead-letters back into "<name>", instead of the teacher's
// fixed x-retry-count header check.
type AMQP struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to RabbitMQ and opens a channel; it declares nothing.
// Each queue, and its durable "<name>.delay" queue whose messages
// dead-letter through the default exchange back into "<name>" once their
// per-message TTL expires, is declared by declare on first Publish or
// Consume. This is the standard RabbitMQ delayed-redelivery pattern (no
// plugin dependency).
func Dial(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &AMQP{conn: conn, ch: ch}, nil
}

func (q *AMQP) declare(name string) error {
	if _, err := q.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return err
	}

	delayQueueName := name + ".delay"
	delayArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name,
	}
	if _, err := q.ch.QueueDeclare(delayQueueName, true, false, false, false, delayArgs); err != nil {
		return err
	}
	return nil
}

func (q *AMQP) Publish(ctx context.Context, queueName string, body []byte) error {
	if err := q.declare(queueName); err != nil {
		return err
	}
	return q.ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

func (q *AMQP) PublishDelayed(ctx context.Context, queueName string, body []byte, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, queueName, body)
	}
	if err := q.declare(queueName); err != nil {
		return err
	}
	return q.ch.Publish("", queueName+".delay", false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Expiration:   fmt.Sprintf("%d", delay.Milliseconds()),
	})
}

func (q *AMQP) Consume(ctx context.Context, queueName string) (<-chan Delivery, error) {
	if err := q.declare(queueName); err != nil {
		return nil, err
	}
	msgs, err := q.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				delivery := d
				out <- Delivery{
					Body: delivery.Body,
					Ack:  func() error { return delivery.Ack(false) },
					Nack: func(requeueAfter time.Duration) error {
						if requeueAfter <= 0 {
							return delivery.Nack(false, true)
						}
						if err := delivery.Nack(false, false); err != nil {
							return err
						}
						return q.PublishDelayed(context.Background(), queueName, delivery.Body, requeueAfter)
					},
				}
			}
		}
	}()
	return out, nil
}

func (q *AMQP) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}

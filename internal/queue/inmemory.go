package queue

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local Queue for tests and single-process dev
// deployments, generalizing the teacher's InMemoryQueue (which fanned a
// Publish out to every Subscribe handler with a fixed retry count) into
// the channel-based Consume contract the Dispatcher expects, including
// delayed redelivery via time.AfterFunc in place of the teacher's
// time.Sleep-in-goroutine retry loop.
type InMemory struct {
	mu     sync.Mutex
	chans  map[string]chan Delivery
	closed bool
}

func NewInMemory() *InMemory {
	return &InMemory{chans: map[string]chan Delivery{}}
}

func (q *InMemory) chanFor(name string) chan Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.chans[name]
	if !ok {
		ch = make(chan Delivery, 1024)
		q.chans[name] = ch
	}
	return ch
}

func (q *InMemory) Publish(ctx context.Context, queueName string, body []byte) error {
	return q.PublishDelayed(ctx, queueName, body, 0)
}

func (q *InMemory) PublishDelayed(ctx context.Context, queueName string, body []byte, delay time.Duration) error {
	send := func() {
		ch := q.chanFor(queueName)
		d := Delivery{
			Body: body,
			Ack:  func() error { return nil },
		}
		d.Nack = func(requeueAfter time.Duration) error {
			return q.PublishDelayed(context.Background(), queueName, body, requeueAfter)
		}
		select {
		case ch <- d:
		case <-ctx.Done():
		}
	}

	if delay <= 0 {
		send()
		return nil
	}
	time.AfterFunc(delay, send)
	return nil
}

func (q *InMemory) Consume(ctx context.Context, queueName string) (<-chan Delivery, error) {
	return q.chanFor(queueName), nil
}

func (q *InMemory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.chans {
		close(ch)
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig configures a RabbitQueue.
type RabbitConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// RabbitQueue is a durable Queue on a single RabbitMQ queue. Publishing and
// consuming use separate channels.
type RabbitQueue struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	pubMu    sync.Mutex
	queue    string
	prefetch int
}

// NewRabbitQueue dials RabbitMQ and declares the queue.
func NewRabbitQueue(cfg RabbitConfig) (*RabbitQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	return &RabbitQueue{conn: conn, pubCh: ch, queue: cfg.Queue, prefetch: prefetch}, nil
}

func (q *RabbitQueue) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if q.pubCh.IsClosed() {
		return ErrClosed
	}
	err = q.pubCh.PublishWithContext(ctx,
		"",
		q.queue,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", q.queue, err)
	}
	return nil
}

// Consume opens a dedicated channel with the configured prefetch. Deliveries
// are unacknowledged until the receiver calls Ack or Reject.
func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(
		ctx,
		q.queue,
		"",
		false, // autoAck=false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := NewDelivery(d.Body,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *RabbitQueue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if !q.pubCh.IsClosed() {
		_ = q.pubCh.Close()
	}
	if q.conn.IsClosed() {
		return nil
	}
	return q.conn.Close()
}

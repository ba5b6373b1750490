package queue

import (
	"context"
	"errors"
	"sync"
)

var errQueueFull = errors.New("local queue full")

// LocalQueue is an in-process Queue backed by a buffered channel. Messages
// are lost when the process exits.
type LocalQueue struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalQueue creates a LocalQueue that holds up to size pending messages.
func NewLocalQueue(size int) *LocalQueue {
	if size < 1 {
		size = 1
	}
	return &LocalQueue{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Publish blocks while the buffer is full.
func (q *LocalQueue) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- body:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume may be called more than once; each message goes to one consumer.
func (q *LocalQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case body := <-q.ch:
				d := NewDelivery(body, nil, func(requeue bool) error {
					if requeue {
						return q.requeue(body)
					}
					return nil
				})
				select {
				case out <- d:
				case <-ctx.Done():
					_ = q.requeue(body)
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *LocalQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// Len returns the number of messages waiting.
func (q *LocalQueue) Len() int {
	return len(q.ch)
}

func (q *LocalQueue) requeue(body []byte) error {
	select {
	case q.ch <- body:
		return nil
	default:
		return errQueueFull
	}
}

// Package queue dispatches pipeline runs to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// ErrMalformed is returned by Decode for bodies that are not a valid Message.
var ErrMalformed = errors.New("malformed queue message")

// Message asks a worker to run the pipeline for one report.
type Message struct {
	ReportID uuid.UUID `json:"report_id"`
}

// Encode returns the wire form of m.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire message. A nil report id is malformed.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.ReportID == uuid.Nil {
		return Message{}, fmt.Errorf("%w: missing report_id", ErrMalformed)
	}
	return m, nil
}

// Delivery is one received message. Exactly one of Ack or Reject must be called.
type Delivery struct {
	Body   []byte
	ack    func() error
	reject func(requeue bool) error
}

// NewDelivery builds a Delivery from acknowledgement callbacks. Nil callbacks are no-ops.
func NewDelivery(body []byte, ack func() error, reject func(requeue bool) error) Delivery {
	return Delivery{Body: body, ack: ack, reject: reject}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Reject(requeue bool) error {
	if d.reject == nil {
		return nil
	}
	return d.reject(requeue)
}

// Queue is the dispatch interface. Implementations must be safe for concurrent use.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Consume streams deliveries until ctx is cancelled or the queue is closed.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

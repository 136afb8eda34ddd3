package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by a queue that no longer accepts work.
var ErrClosed = errors.New("queue closed")

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is one received message. It stays invisible to other consumers
// until its visibility window lapses or it is acked.
type Delivery struct {
	ID           string
	Body         string
	ReceiveCount int
	handle       string
}

// Consumer pulls deliveries and acknowledges the ones that are finished.
// An unacked delivery is redelivered after its visibility window.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}

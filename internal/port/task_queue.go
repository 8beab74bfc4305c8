package port

import (
	"context"
	"errors"

	"github.com/rl1809/keyvault/internal/core/domain"
)

var ErrQueueClosed = errors.New("queue closed")

// Delivery is one received task. Exactly one of Ack or Nack must be called.
type Delivery interface {
	Task() domain.FulfillmentTask

	// Ack removes the task from the queue
	Ack(ctx context.Context) error

	// Nack hands the task back for redelivery
	Nack(ctx context.Context) error
}

// TaskQueue delivers fulfillment tasks at least once.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.FulfillmentTask) error

	// Receive blocks until a task is available. It returns ErrQueueClosed once
	// the queue has been closed.
	Receive(ctx context.Context) (Delivery, error)

	Close() error
}

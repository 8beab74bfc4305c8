package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/port"
)

var ErrQueueFull = errors.New("queue full")

// MemoryQueue is a bounded in-process queue. Tasks do not survive a restart.
//
// Nack requeues without blocking. When the buffer is full or the queue is
// closed the task is dropped and Nack returns ErrQueueFull or
// port.ErrQueueClosed; nothing redelivers it afterwards.
type MemoryQueue struct {
	mu     sync.RWMutex
	tasks  chan domain.FulfillmentTask
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{tasks: make(chan domain.FulfillmentTask, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task domain.FulfillmentTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.push(task)
}

func (q *MemoryQueue) push(task domain.FulfillmentTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return port.ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive keeps handing out buffered tasks after Close until the buffer is empty.
func (q *MemoryQueue) Receive(ctx context.Context) (port.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case task, ok := <-q.tasks:
		if !ok {
			return nil, port.ErrQueueClosed
		}
		return &memoryDelivery{queue: q, task: task}, nil
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.tasks)
	return nil
}

type memoryDelivery struct {
	queue *MemoryQueue
	task  domain.FulfillmentTask
}

func (d *memoryDelivery) Task() domain.FulfillmentTask {
	return d.task
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context) error {
	task := d.task
	task.Attempt++
	if err := d.queue.push(task); err != nil {
		return fmt.Errorf("requeue task %s, task dropped: %w", task.ID, err)
	}
	return nil
}

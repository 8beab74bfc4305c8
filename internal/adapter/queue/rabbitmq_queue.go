package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/port"
)

const (
	rabbitConsumerTag    = "keyvault-fulfillment"
	rabbitPublishTimeout = 3 * time.Second
	rabbitPrefetch       = 16
)

// RabbitMQQueue uses one durable queue on the default exchange. A nacked task
// is republished with its attempt counter bumped, then the original is acked.
type RabbitMQQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
	logger     *slog.Logger
}

func NewRabbitMQQueue(conn *amqp.Connection, queue string, log *slog.Logger) (*RabbitMQQueue, error) {
	if log == nil {
		log = slog.Default()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}

	if err := ch.Qos(rabbitPrefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		rabbitConsumerTag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return &RabbitMQQueue{
		conn:       conn,
		ch:         ch,
		queue:      queue,
		deliveries: deliveries,
		logger:     log,
	}, nil
}

func (q *RabbitMQQueue) Enqueue(ctx context.Context, task domain.FulfillmentTask) error {
	body, err := encodeTask(task)
	if err != nil {
		return err
	}
	return q.publish(ctx, task.ID, body)
}

func (q *RabbitMQQueue) publish(ctx context.Context, id string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, rabbitPublishTimeout)
	defer cancel()

	err := q.ch.PublishWithContext(
		pubCtx,
		"",      // default exchange
		q.queue, // queue name as routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    id,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish task %s: %w", id, err)
	}
	return nil
}

func (q *RabbitMQQueue) Receive(ctx context.Context) (port.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-q.deliveries:
			if !ok {
				return nil, port.ErrQueueClosed
			}
			task, err := decodeTask(msg.Body)
			if err != nil {
				q.logger.Error("drop undecodable task", slog.Any("error", err))
				_ = msg.Nack(false, false)
				continue
			}
			return &rabbitDelivery{queue: q, msg: msg, task: task}, nil
		}
	}
}

func (q *RabbitMQQueue) Close() error {
	if err := q.ch.Close(); err != nil && !q.conn.IsClosed() {
		return fmt.Errorf("close channel: %w", err)
	}
	if q.conn.IsClosed() {
		return nil
	}
	return q.conn.Close()
}

type rabbitDelivery struct {
	queue *RabbitMQQueue
	msg   amqp.Delivery
	task  domain.FulfillmentTask
}

func (d *rabbitDelivery) Task() domain.FulfillmentTask {
	return d.task
}

func (d *rabbitDelivery) Ack(ctx context.Context) error {
	return d.msg.Ack(false)
}

func (d *rabbitDelivery) Nack(ctx context.Context) error {
	task := d.task
	task.Attempt++

	body, err := encodeTask(task)
	if err == nil {
		err = d.queue.publish(ctx, task.ID, body)
	}
	if err != nil {
		// keep the original in the queue rather than lose it
		if nackErr := d.msg.Nack(false, true); nackErr != nil {
			return fmt.Errorf("requeue task %s: %w", task.ID, nackErr)
		}
		return err
	}
	return d.msg.Ack(false)
}

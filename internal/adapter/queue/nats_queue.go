package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/port"
)

const (
	natsConsumerName = "keyvault-fulfillment"
	natsAckWait      = 30 * time.Second
	natsNakDelay     = time.Second
	// published task ids are deduplicated by the stream inside this window
	natsDuplicateWindow = 10 * time.Minute
)

type NATSConfig struct {
	Stream  string
	Subject string
}

// NATSQueue stores tasks in a JetStream work-queue stream. Redelivery is driven
// by the server, so a task survives a crash of the worker holding it.
type NATSQueue struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	consume jetstream.ConsumeContext
	msgs    chan jetstream.Msg
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

func NewNATSQueue(ctx context.Context, nc *nats.Conn, cfg NATSConfig, log *slog.Logger) (*NATSQueue, error) {
	if log == nil {
		log = slog.Default()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: natsDuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       natsConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       natsAckWait,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	q := &NATSQueue{
		nc:      nc,
		js:      js,
		subject: cfg.Subject,
		msgs:    make(chan jetstream.Msg),
		done:    make(chan struct{}),
		logger:  log,
	}

	q.consume, err = cons.Consume(q.handle, jetstream.PullMaxMessages(1))
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return q, nil
}

// handle parks each pulled message until a worker receives it.
func (q *NATSQueue) handle(msg jetstream.Msg) {
	select {
	case q.msgs <- msg:
	case <-q.done:
		_ = msg.Nak()
	}
}

func (q *NATSQueue) Enqueue(ctx context.Context, task domain.FulfillmentTask) error {
	body, err := encodeTask(task)
	if err != nil {
		return err
	}

	ack, err := q.js.Publish(ctx, q.subject, body, jetstream.WithMsgID(task.ID))
	if err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	if ack.Duplicate {
		q.logger.Info("duplicate task dropped by stream", slog.String("task_id", task.ID))
	}
	return nil
}

func (q *NATSQueue) Receive(ctx context.Context) (port.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, port.ErrQueueClosed
		case msg := <-q.msgs:
			task, err := decodeTask(msg.Data())
			if err != nil {
				// poison message, never redeliver
				q.logger.Error("drop undecodable task", slog.Any("error", err))
				_ = msg.Term()
				continue
			}
			if meta, err := msg.Metadata(); err == nil && int(meta.NumDelivered)-1 > task.Attempt {
				task.Attempt = int(meta.NumDelivered) - 1
			}
			return &natsDelivery{msg: msg, task: task}, nil
		}
	}
}

func (q *NATSQueue) Close() error {
	q.once.Do(func() {
		close(q.done)
		q.consume.Stop()
	})
	return q.nc.Drain()
}

type natsDelivery struct {
	msg  jetstream.Msg
	task domain.FulfillmentTask
}

func (d *natsDelivery) Task() domain.FulfillmentTask {
	return d.task
}

func (d *natsDelivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *natsDelivery) Nack(ctx context.Context) error {
	return d.msg.NakWithDelay(natsNakDelay)
}

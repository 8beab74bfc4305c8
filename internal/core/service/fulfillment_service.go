package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/pkg/logger"
	"github.com/rl1809/keyvault/internal/pkg/metrics"
	"github.com/rl1809/keyvault/internal/port"
)

const (
	TaskFulfilled   = "fulfilled"
	TaskDuplicate   = "duplicate"
	TaskRejected    = "rejected"
	TaskRequeued    = "requeued"
	TaskAbandoned   = "abandoned"
	TaskUndelivered = "undelivered" // committed by an earlier attempt, keys never sent
)

// taskNamespace derives stable task IDs from provider event IDs so brokers
// with a duplicate window can drop redelivered webhooks early.
var taskNamespace = uuid.MustParse("4f1c2f0e-7d4b-4a0e-9a51-6c1b0f9e2d37")

type FulfillmentOptions struct {
	CheckoutTimeout time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxDeliveries   int
}

func (o FulfillmentOptions) withDefaults() FulfillmentOptions {
	if o.CheckoutTimeout <= 0 {
		o.CheckoutTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 100 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 2 * time.Second
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	return o
}

// FulfillmentService acknowledges payment events fast and processes them
// asynchronously: checkout, then key delivery.
type FulfillmentService struct {
	checkout *CheckoutService
	queue    port.TaskQueue
	notifier port.Notifier
	logger   *slog.Logger
	opts     FulfillmentOptions
	now      func() time.Time
}

func NewFulfillmentService(checkout *CheckoutService, queue port.TaskQueue, notifier port.Notifier, opts FulfillmentOptions, log *slog.Logger) *FulfillmentService {
	if log == nil {
		log = slog.Default()
	}
	return &FulfillmentService{
		checkout: checkout,
		queue:    queue,
		notifier: notifier,
		logger:   log,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Accept enqueues event for processing and returns the task ID. It does not
// wait for the checkout.
func (s *FulfillmentService) Accept(ctx context.Context, event domain.PaymentEvent) (string, error) {
	if event.OrderID == "" {
		return "", fmt.Errorf("%w: empty order id", domain.ErrInvalidOrder)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.now()
	}

	task := domain.FulfillmentTask{ID: taskID(event), Event: event}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue order %s: %w", event.OrderID, err)
	}
	return task.ID, nil
}

func taskID(event domain.PaymentEvent) string {
	if event.EventID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(taskNamespace, []byte(event.EventID)).String()
}

// Run drains the queue with the given number of workers until ctx is done or
// the queue is closed.
func (s *FulfillmentService) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			s.workerLoop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (s *FulfillmentService) workerLoop(ctx context.Context, id int) {
	log := s.logger.With(slog.Int("worker", id))
	for {
		d, err := s.queue.Receive(ctx)
		if errors.Is(err, port.ErrQueueClosed) || ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("receive task", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// settle the delivery even when shutdown cancels ctx mid-task
		settleCtx := context.WithoutCancel(ctx)
		if err := s.Process(ctx, d.Task()); err != nil {
			if nackErr := d.Nack(settleCtx); nackErr != nil {
				log.Error("nack task", slog.String("task_id", d.Task().ID), slog.String("order_id", d.Task().Event.OrderID), slog.Any("error", nackErr))
			}
			continue
		}
		if err := d.Ack(settleCtx); err != nil {
			log.Error("ack task", slog.String("task_id", d.Task().ID), slog.Any("error", err))
		}
	}
}

// Process runs one delivery of task. A nil error means the task is settled and
// must be acknowledged; an error means it should be redelivered.
func (s *FulfillmentService) Process(ctx context.Context, task domain.FulfillmentTask) (err error) {
	ctx, span := tracer.Start(ctx, "fulfillment.process", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("order.id", task.Event.OrderID),
		attribute.Int("task.attempt", task.Attempt),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := logger.From(ctx, s.logger).With(
		slog.String("task_id", task.ID),
		slog.String("order_id", task.Event.OrderID),
		slog.Int("attempt", task.Attempt),
	)

	// a redelivered task may have committed during an earlier delivery
	mayHaveCommitted := task.Attempt > 0

	allocs, err := backoff.Retry(ctx, func() ([]domain.Allocation, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.CheckoutTimeout)
		defer cancel()

		allocs, err := s.checkout.Checkout(attemptCtx, task.Event.OrderID, task.Event.Items)
		if errors.Is(err, domain.ErrCommitOutcomeUnknown) {
			mayHaveCommitted = true
		}
		if err != nil && !domain.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			log.Warn("checkout failed, retrying", slog.Any("error", err))
		}
		return allocs, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)

	switch {
	case err == nil:
		s.deliver(ctx, log, domain.KeyDelivery{
			OrderID:     task.Event.OrderID,
			Email:       task.Event.Email,
			Allocations: allocs,
		})
		metrics.TasksTotal.WithLabelValues(TaskFulfilled).Inc()
		return nil

	case errors.Is(err, domain.ErrOrderAlreadyProcessed) && mayHaveCommitted:
		log.Error("order committed by an earlier attempt, keys undelivered", slog.Bool("retryable", false))
		metrics.TasksTotal.WithLabelValues(TaskUndelivered).Inc()
		return nil

	case errors.Is(err, domain.ErrOrderAlreadyProcessed):
		log.Info("order already fulfilled, dropping duplicate delivery")
		metrics.TasksTotal.WithLabelValues(TaskDuplicate).Inc()
		return nil

	case domain.IsRetryable(err) || ctx.Err() != nil:
		if task.Attempt+1 >= s.opts.MaxDeliveries {
			log.Error("giving up on order after repeated failures", slog.Any("error", err), slog.Bool("retryable", true))
			metrics.TasksTotal.WithLabelValues(TaskAbandoned).Inc()
			return nil
		}
		log.Error("checkout failed, requeueing", slog.Any("error", err), slog.Bool("retryable", true))
		metrics.TasksTotal.WithLabelValues(TaskRequeued).Inc()
		return fmt.Errorf("process task %s: %w", task.ID, err)

	default:
		log.Error("checkout rejected", slog.Any("error", err), slog.Bool("retryable", false))
		metrics.TasksTotal.WithLabelValues(TaskRejected).Inc()
		return nil
	}
}

// deliver sends committed keys. Failure is logged, never turned into a new
// allocation: the ledger already holds the order.
func (s *FulfillmentService) deliver(ctx context.Context, log *slog.Logger, delivery domain.KeyDelivery) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.notifier.NotifyKeys(ctx, delivery)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)
	if err != nil {
		metrics.NotificationFailuresTotal.Inc()
		log.Error("key delivery failed after commit", slog.Any("error", err), slog.Int("allocations", len(delivery.Allocations)))
	}
}

func (s *FulfillmentService) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	return b
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/pkg/logger"
	"github.com/rl1809/keyvault/internal/pkg/metrics"
	"github.com/rl1809/keyvault/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/keyvault/internal/core/service")

// CheckoutService turns a paid order into an exactly-once key allocation.
type CheckoutService struct {
	ledger    *Ledger
	inventory *InventoryStore
	committer port.BatchCommitter
	logger    *slog.Logger
}

func NewCheckoutService(storage port.Storage, log *slog.Logger) *CheckoutService {
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{
		ledger:    NewLedger(storage),
		inventory: NewInventoryStore(storage),
		committer: storage,
		logger:    log,
	}
}

func (s *CheckoutService) Ledger() *Ledger {
	return s.ledger
}

func (s *CheckoutService) Inventory() *InventoryStore {
	return s.inventory
}

// Checkout allocates Quantity keys for every line item of orderID and marks
// the order processed, all in one batch. The result has one Allocation per
// line item in input order. On error nothing has been committed.
func (s *CheckoutService) Checkout(ctx context.Context, orderID string, items []domain.LineItem) (allocs []domain.Allocation, err error) {
	ctx, span := tracer.Start(ctx, "checkout", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("order.line_items", len(items)),
	))
	start := time.Now()
	defer func() {
		metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
		metrics.CheckoutsTotal.WithLabelValues(outcomeOf(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validateOrder(orderID, items); err != nil {
		return nil, err
	}

	processed, err := s.ledger.IsProcessed(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if processed {
		return nil, domain.ErrOrderAlreadyProcessed
	}

	batch := domain.NewBatch()
	popped, err := s.allocate(ctx, batch, aggregate(items))
	if err != nil {
		return nil, err
	}
	s.ledger.MarkProcessed(batch, orderID)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", orderID, err)
	}
	if err := s.committer.Commit(ctx, batch); err != nil {
		return nil, commitError(orderID, err)
	}

	allocs = distribute(items, popped)
	for _, a := range allocs {
		metrics.KeysAllocatedTotal.Add(float64(len(a.Keys)))
	}
	logger.From(ctx, s.logger).Info("checkout committed",
		slog.String("order_id", orderID),
		slog.Int("line_items", len(items)),
	)
	return allocs, nil
}

type demand struct {
	productID string
	quantity  int
}

// aggregate sums quantities per product, keeping first-appearance order.
func aggregate(items []domain.LineItem) []demand {
	index := make(map[string]int, len(items))
	demands := make([]demand, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			demands[i].quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(demands)
		demands = append(demands, demand{productID: it.ProductID, quantity: it.Quantity})
	}
	return demands
}

func (s *CheckoutService) allocate(ctx context.Context, batch *domain.Batch, demands []demand) (map[string][]string, error) {
	popped := make(map[string][]string, len(demands))
	for _, d := range demands {
		keys, err := s.inventory.GetKeys(ctx, batch, d.productID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, &domain.InsufficientInventoryError{ProductID: d.productID, Requested: d.quantity}
		}
		if err != nil {
			return nil, err
		}
		if len(keys) < d.quantity {
			return nil, &domain.InsufficientInventoryError{
				ProductID: d.productID,
				Requested: d.quantity,
				Available: len(keys),
			}
		}

		remaining, taken := domain.TailPop(keys, d.quantity)
		s.inventory.StageKeyUpdate(batch, d.productID, remaining)
		popped[d.productID] = taken
	}
	return popped, nil
}

// distribute hands popped keys back to line items in input order.
func distribute(items []domain.LineItem, popped map[string][]string) []domain.Allocation {
	allocs := make([]domain.Allocation, 0, len(items))
	for _, it := range items {
		keys := popped[it.ProductID][:it.Quantity]
		popped[it.ProductID] = popped[it.ProductID][it.Quantity:]
		allocs = append(allocs, domain.Allocation{
			ProductID:   it.ProductID,
			Description: it.Description,
			Keys:        keys,
		})
	}
	return allocs
}

func validateOrder(orderID string, items []domain.LineItem) error {
	if orderID == "" {
		return fmt.Errorf("%w: empty order id", domain.ErrInvalidOrder)
	}
	for i, it := range items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: line %d has no product id", domain.ErrInvalidLineItem, i)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: line %d quantity %d", domain.ErrInvalidLineItem, i, it.Quantity)
		}
	}
	return nil
}

func commitError(orderID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrOrderAlreadyProcessed),
		errors.Is(err, domain.ErrBatchCommitConflict):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: order %s: %w", domain.ErrCommitOutcomeUnknown, orderID, err)
	default:
		return fmt.Errorf("%w: %w: order %s: %w", domain.ErrStoreUnavailable, domain.ErrCommitOutcomeUnknown, orderID, err)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, domain.ErrOrderAlreadyProcessed):
		return metrics.OutcomeAlreadyProcessed
	case errors.Is(err, domain.ErrInsufficientInventory):
		return metrics.OutcomeInsufficient
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidLineItem):
		return metrics.OutcomeInvalid
	case domain.IsRetryable(err):
		return metrics.OutcomeRetryable
	default:
		return metrics.OutcomeError
	}
}

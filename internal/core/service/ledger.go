package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/port"
)

// Ledger is the idempotency ledger: one write-once entry per processed order.
type Ledger struct {
	repo port.LedgerRepository
	now  func() time.Time
}

func NewLedger(repo port.LedgerRepository) *Ledger {
	return &Ledger{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// IsProcessed reports whether orderID has a committed ledger entry. A missing
// entry is not an error.
func (l *Ledger) IsProcessed(ctx context.Context, orderID string) (bool, error) {
	entry, err := l.repo.GetLedgerEntry(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("%w: read order %s: %w", domain.ErrLedgerUnavailable, orderID, err)
	}
	return entry != nil && entry.Processed, nil
}

// MarkProcessed stages the processed entry for orderID into batch. It takes
// effect only when the batch commits.
func (l *Ledger) MarkProcessed(batch *domain.Batch, orderID string) {
	batch.StageLedgerEntry(domain.LedgerEntry{
		OrderID:     orderID,
		Processed:   true,
		ProcessedAt: l.now(),
	})
}

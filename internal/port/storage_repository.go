package port

import (
	"context"

	"github.com/rl1809/keyvault/internal/core/domain"
)

type InventoryRepository interface {
	// GetInventory returns the record for productID, or nil if it does not exist
	GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error)

	// SetInventory replaces the key sequence of productID and bumps its version.
	// Used for out-of-band provisioning only.
	SetInventory(ctx context.Context, productID string, keys []string) error
}

type LedgerRepository interface {
	// GetLedgerEntry returns the entry for orderID, or nil if the order was never processed
	GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error)
}

type BatchCommitter interface {
	// Commit applies every staged write of the batch or none of them.
	// It returns domain.ErrOrderAlreadyProcessed if a staged ledger entry already
	// exists and domain.ErrBatchCommitConflict if a staged record changed since
	// it was read through the batch.
	Commit(ctx context.Context, batch *domain.Batch) error
}

// Storage is implemented by every backend adapter.
type Storage interface {
	InventoryRepository
	LedgerRepository
	BatchCommitter
}

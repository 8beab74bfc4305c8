package service

import (
	"context"
	"fmt"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/port"
)

// InventoryStore reads and stages key sequences through a batch.
type InventoryStore struct {
	repo port.InventoryRepository
}

func NewInventoryStore(repo port.InventoryRepository) *InventoryStore {
	return &InventoryStore{repo: repo}
}

// GetKeys returns the key sequence of productID as seen by batch: a sequence
// staged earlier in the batch wins over the stored one.
func (s *InventoryStore) GetKeys(ctx context.Context, batch *domain.Batch, productID string) ([]string, error) {
	if keys, ok := batch.Staged(productID); ok {
		return keys, nil
	}

	rec, err := s.repo.GetInventory(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStoreUnavailable, productID, err)
	}
	if rec == nil {
		return nil, domain.ErrProductNotFound
	}

	// keys and version must come from the same read
	batch.RecordRead(*rec)
	snap, _ := batch.Snapshot(productID)
	keys := make([]string, len(snap.Keys))
	copy(keys, snap.Keys)
	return keys, nil
}

func (s *InventoryStore) StageKeyUpdate(batch *domain.Batch, productID string, remaining []string) {
	batch.StageKeys(productID, remaining)
}

// Available returns how many keys productID has left. Missing products have none.
func (s *InventoryStore) Available(ctx context.Context, productID string) (int, error) {
	rec, err := s.repo.GetInventory(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", domain.ErrStoreUnavailable, productID, err)
	}
	if rec == nil {
		return 0, domain.ErrProductNotFound
	}
	return len(rec.Keys), nil
}

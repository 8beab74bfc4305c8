package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/keyvault/internal/core/domain"
)

// MemoryAdapter keeps inventory and ledger in process memory. Commits are
// serialized by a single mutex.
type MemoryAdapter struct {
	mu        sync.RWMutex
	inventory map[string]domain.InventoryRecord
	ledger    map[string]domain.LedgerEntry
	now       func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		inventory: make(map[string]domain.InventoryRecord),
		ledger:    make(map[string]domain.LedgerEntry),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAdapter) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.inventory[productID]
	if !ok {
		return nil, nil
	}
	rec.Keys = cloneKeys(rec.Keys)
	return &rec, nil
}

func (m *MemoryAdapter) SetInventory(ctx context.Context, productID string, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.inventory[productID]
	rec.ProductID = productID
	rec.Keys = cloneKeys(keys)
	rec.Version++
	rec.UpdatedAt = m.now()
	m.inventory[productID] = rec
	return nil
}

func (m *MemoryAdapter) GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.ledger[orderID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryAdapter) Commit(ctx context.Context, batch *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := batch.LedgerEntries()
	writes := batch.KeyWrites()

	for _, e := range entries {
		if _, ok := m.ledger[e.OrderID]; ok {
			return domain.ErrOrderAlreadyProcessed
		}
	}
	for _, w := range writes {
		rec, ok := m.inventory[w.ProductID]
		if !ok || rec.Version != w.ExpectedVersion {
			return domain.ErrBatchCommitConflict
		}
	}

	now := m.now()
	for _, w := range writes {
		rec := m.inventory[w.ProductID]
		rec.Keys = w.Keys
		rec.Version++
		rec.UpdatedAt = now
		m.inventory[w.ProductID] = rec
	}
	for _, e := range entries {
		m.ledger[e.OrderID] = e
	}
	return nil
}

func (m *MemoryAdapter) Close() error {
	return nil
}

func cloneKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

package service

import (
	"context"
	"sync"

	"github.com/rl1809/keyvault/internal/core/domain"
)

// Mock Storage with version-checked commits
type mockStorage struct {
	mu        sync.Mutex
	inventory map[string]domain.InventoryRecord
	ledger    map[string]domain.LedgerEntry

	ledgerErr    error
	inventoryErr error
	commitErr    error
	commits      int
	beforeCommit func()
}

func newMockStorage(initial map[string][]string) *mockStorage {
	m := &mockStorage{
		inventory: make(map[string]domain.InventoryRecord),
		ledger:    make(map[string]domain.LedgerEntry),
	}
	for productID, keys := range initial {
		cp := append([]string(nil), keys...)
		m.inventory[productID] = domain.InventoryRecord{ProductID: productID, Keys: cp, Version: 1}
	}
	return m
}

func (m *mockStorage) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inventoryErr != nil {
		return nil, m.inventoryErr
	}
	rec, ok := m.inventory[productID]
	if !ok {
		return nil, nil
	}
	rec.Keys = append([]string(nil), rec.Keys...)
	return &rec, nil
}

func (m *mockStorage) SetInventory(ctx context.Context, productID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.inventory[productID]
	rec.ProductID = productID
	rec.Keys = append([]string(nil), keys...)
	rec.Version++
	m.inventory[productID] = rec
	return nil
}

func (m *mockStorage) GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ledgerErr != nil {
		return nil, m.ledgerErr
	}
	entry, ok := m.ledger[orderID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *mockStorage) Commit(ctx context.Context, batch *domain.Batch) error {
	if m.beforeCommit != nil {
		m.beforeCommit()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return m.commitErr
	}
	for _, e := range batch.LedgerEntries() {
		if _, ok := m.ledger[e.OrderID]; ok {
			return domain.ErrOrderAlreadyProcessed
		}
	}
	for _, w := range batch.KeyWrites() {
		if m.inventory[w.ProductID].Version != w.ExpectedVersion {
			return domain.ErrBatchCommitConflict
		}
	}

	for _, w := range batch.KeyWrites() {
		rec := m.inventory[w.ProductID]
		rec.Keys = w.Keys
		rec.Version++
		m.inventory[w.ProductID] = rec
	}
	for _, e := range batch.LedgerEntries() {
		m.ledger[e.OrderID] = e
	}
	m.commits++
	return nil
}

func (m *mockStorage) keys(productID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inventory[productID].Keys...)
}

func (m *mockStorage) processed(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ledger[orderID]
	return ok
}

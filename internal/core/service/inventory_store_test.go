package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/keyvault/internal/core/domain"
)

func TestInventoryStore_GetKeysReadsThroughBatch(t *testing.T) {
	store := newMockStorage(map[string][]string{"sku-1": {"K1", "K2"}})
	inv := NewInventoryStore(store)
	batch := domain.NewBatch()

	keys, err := inv.GetKeys(context.Background(), batch, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"K1", "K2"}, keys)

	snap, ok := batch.Snapshot("sku-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Version)

	// mutating the result must not leak into the snapshot
	keys[0] = "changed"
	snap, _ = batch.Snapshot("sku-1")
	assert.Equal(t, "K1", snap.Keys[0])
}

func TestInventoryStore_StagedWritesAreVisible(t *testing.T) {
	store := newMockStorage(map[string][]string{"sku-1": {"K1", "K2"}})
	inv := NewInventoryStore(store)
	batch := domain.NewBatch()

	_, err := inv.GetKeys(context.Background(), batch, "sku-1")
	require.NoError(t, err)
	inv.StageKeyUpdate(batch, "sku-1", []string{"K1"})

	keys, err := inv.GetKeys(context.Background(), batch, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"K1"}, keys)

	// staging alone never reaches the store
	assert.Equal(t, []string{"K1", "K2"}, store.keys("sku-1"))
}

func TestInventoryStore_Errors(t *testing.T) {
	store := newMockStorage(nil)
	inv := NewInventoryStore(store)

	_, err := inv.GetKeys(context.Background(), domain.NewBatch(), "missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	store.inventoryErr = errors.New("dial tcp: connection refused")
	_, err = inv.GetKeys(context.Background(), domain.NewBatch(), "missing")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = inv.Available(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestInventoryStore_Available(t *testing.T) {
	store := newMockStorage(map[string][]string{"sku-1": {"K1", "K2", "K3"}})
	inv := NewInventoryStore(store)

	n, err := inv.Available(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = inv.Available(context.Background(), "sku-2")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestLedger_IsProcessed(t *testing.T) {
	store := newMockStorage(nil)
	ledger := NewLedger(store)

	processed, err := ledger.IsProcessed(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, processed)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	batch := domain.NewBatch()
	ledger.MarkProcessed(batch, "o1")
	entries := batch.LedgerEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerEntry{OrderID: "o1", Processed: true, ProcessedAt: fixed}, entries[0])

	// not visible before commit
	processed, err = ledger.IsProcessed(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.Commit(context.Background(), batch))
	processed, err = ledger.IsProcessed(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestLedger_Unavailable(t *testing.T) {
	store := newMockStorage(nil)
	store.ledgerErr = errors.New("READONLY You can't write against a read only replica")
	ledger := NewLedger(store)

	_, err := ledger.IsProcessed(context.Background(), "o1")
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

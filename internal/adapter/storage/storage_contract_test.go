package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/port"
)

// runStorageContract checks the behaviour every backend must share.
func runStorageContract(t *testing.T, store port.Storage) {
	ctx := context.Background()

	// unique ids keep runs against shared databases independent
	id := func(prefix string) string { return prefix + "-" + uuid.NewString() }

	readBatch := func(t *testing.T, productID string) *domain.Batch {
		t.Helper()
		rec, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		require.NotNil(t, rec)
		b := domain.NewBatch()
		b.RecordRead(*rec)
		return b
	}

	t.Run("missing records are nil", func(t *testing.T) {
		rec, err := store.GetInventory(ctx, id("missing"))
		require.NoError(t, err)
		assert.Nil(t, rec)

		entry, err := store.GetLedgerEntry(ctx, id("missing"))
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("set inventory bumps version", func(t *testing.T) {
		productID := id("sku")
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1", "K2"}))
		first, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, []string{"K1", "K2"}, first.Keys)

		require.NoError(t, store.SetInventory(ctx, productID, []string{"K9"}))
		second, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, []string{"K9"}, second.Keys)
		assert.Greater(t, second.Version, first.Version)
	})

	t.Run("commit applies keys and ledger together", func(t *testing.T) {
		productID, orderID := id("sku"), id("order")
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1", "K2", "K3"}))

		b := readBatch(t, productID)
		before, _ := b.Snapshot(productID)
		b.StageKeys(productID, []string{"K1"})
		b.StageLedgerEntry(domain.LedgerEntry{OrderID: orderID, Processed: true, ProcessedAt: time.Now().UTC()})
		require.NoError(t, store.Commit(ctx, b))

		rec, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, []string{"K1"}, rec.Keys)
		assert.Greater(t, rec.Version, before.Version)

		entry, err := store.GetLedgerEntry(ctx, orderID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.True(t, entry.Processed)
		assert.Equal(t, orderID, entry.OrderID)
	})

	t.Run("commit can empty a product", func(t *testing.T) {
		productID := id("sku")
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1"}))

		b := readBatch(t, productID)
		b.StageKeys(productID, nil)
		require.NoError(t, store.Commit(ctx, b))

		rec, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Empty(t, rec.Keys)
	})

	t.Run("processed order rejects the whole batch", func(t *testing.T) {
		productID, orderID := id("sku"), id("order")
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1", "K2"}))

		first := domain.NewBatch()
		first.StageLedgerEntry(domain.LedgerEntry{OrderID: orderID, Processed: true, ProcessedAt: time.Now().UTC()})
		require.NoError(t, store.Commit(ctx, first))

		b := readBatch(t, productID)
		b.StageKeys(productID, []string{"K1"})
		b.StageLedgerEntry(domain.LedgerEntry{OrderID: orderID, Processed: true, ProcessedAt: time.Now().UTC()})
		assert.ErrorIs(t, store.Commit(ctx, b), domain.ErrOrderAlreadyProcessed)

		rec, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, []string{"K1", "K2"}, rec.Keys)
	})

	t.Run("stale version rejects the whole batch", func(t *testing.T) {
		productID, orderID := id("sku"), id("order")
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1", "K2"}))

		b := readBatch(t, productID)
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1", "K2", "K3"}))

		b.StageKeys(productID, []string{"K1"})
		b.StageLedgerEntry(domain.LedgerEntry{OrderID: orderID, Processed: true, ProcessedAt: time.Now().UTC()})
		assert.ErrorIs(t, store.Commit(ctx, b), domain.ErrBatchCommitConflict)

		entry, err := store.GetLedgerEntry(ctx, orderID)
		require.NoError(t, err)
		assert.Nil(t, entry)

		rec, err := store.GetInventory(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, []string{"K1", "K2", "K3"}, rec.Keys)
	})

	t.Run("concurrent commits on one version", func(t *testing.T) {
		productID := id("sku")
		require.NoError(t, store.SetInventory(ctx, productID, []string{"K1", "K2", "K3", "K4", "K5"}))

		const writers = 8
		batches := make([]*domain.Batch, writers)
		for i := range batches {
			batches[i] = readBatch(t, productID)
			batches[i].StageKeys(productID, []string{"K1"})
			batches[i].StageLedgerEntry(domain.LedgerEntry{OrderID: id("order"), Processed: true, ProcessedAt: time.Now().UTC()})
		}

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range batches {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.Commit(ctx, batches[i])
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrBatchCommitConflict)
		}
		assert.Equal(t, 1, wins)
	})
}

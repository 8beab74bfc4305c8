package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rl1809/keyvault/internal/core/domain"
)

// PgxPool matches the methods of *pgxpool.Pool the adapter uses, so tests can
// substitute pgxmock.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

type PostgresAdapter struct {
	pool PgxPool
	now  func() time.Time
}

func NewPostgresAdapter(pool PgxPool) *PostgresAdapter {
	return &PostgresAdapter{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (p *PostgresAdapter) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	const query = `
SELECT product_id, license_keys, version, updated_at
FROM inventory_keys
WHERE product_id = $1`

	var rec domain.InventoryRecord
	err := p.pool.QueryRow(ctx, query, productID).
		Scan(&rec.ProductID, &rec.Keys, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	return &rec, nil
}

func (p *PostgresAdapter) SetInventory(ctx context.Context, productID string, keys []string) error {
	const stmt = `
INSERT INTO inventory_keys (product_id, license_keys, version, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (product_id) DO UPDATE
SET license_keys = EXCLUDED.license_keys,
    version = inventory_keys.version + 1,
    updated_at = EXCLUDED.updated_at`

	if keys == nil {
		keys = []string{}
	}
	if _, err := p.pool.Exec(ctx, stmt, productID, keys, p.now()); err != nil {
		return fmt.Errorf("set inventory: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	const query = `
SELECT order_id, processed, processed_at
FROM processed_orders
WHERE order_id = $1`

	var entry domain.LedgerEntry
	err := p.pool.QueryRow(ctx, query, orderID).
		Scan(&entry.OrderID, &entry.Processed, &entry.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return &entry, nil
}

func (p *PostgresAdapter) Commit(ctx context.Context, batch *domain.Batch) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := p.commitWithTx(ctx, tx, batch); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) commitWithTx(ctx context.Context, tx pgx.Tx, batch *domain.Batch) error {
	const insertEntry = `
INSERT INTO processed_orders (order_id, processed, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (order_id) DO NOTHING`

	const updateKeys = `
UPDATE inventory_keys
SET license_keys = $2, version = version + 1, updated_at = $3
WHERE product_id = $1 AND version = $4`

	for _, e := range batch.LedgerEntries() {
		tag, err := tx.Exec(ctx, insertEntry, e.OrderID, e.Processed, e.ProcessedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrOrderAlreadyProcessed
		}
	}

	now := p.now()
	for _, w := range batch.KeyWrites() {
		tag, err := tx.Exec(ctx, updateKeys, w.ProductID, w.Keys, now, w.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update inventory: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrBatchCommitConflict
		}
	}
	return nil
}

func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/keyvault/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

// MySQLDSN returns dsn with parseTime enabled. The adapter scans DATETIME
// columns into time.Time, which fails without it.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	var raw []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, license_keys, version, updated_at
		FROM inventory_keys WHERE product_id = ?`, productID,
	).Scan(&rec.ProductID, &raw, &rec.Version, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	if err := json.Unmarshal(raw, &rec.Keys); err != nil {
		return nil, fmt.Errorf("decode keys of %s: %w", productID, err)
	}
	return &rec, nil
}

func (m *MySQLAdapter) SetInventory(ctx context.Context, productID string, keys []string) error {
	encoded, err := encodeKeys(keys)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO inventory_keys (product_id, license_keys, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON DUPLICATE KEY UPDATE
			license_keys = VALUES(license_keys),
			version = version + 1,
			updated_at = VALUES(updated_at)`,
		productID, encoded, m.now(),
	)
	if err != nil {
		return fmt.Errorf("upsert inventory: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := m.db.QueryRowContext(ctx, `
		SELECT order_id, processed, processed_at
		FROM processed_orders WHERE order_id = ?`, orderID,
	).Scan(&entry.OrderID, &entry.Processed, &entry.ProcessedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	return &entry, nil
}

// Commit inserts the ledger rows first so a duplicate order is reported even
// when its inventory also moved.
func (m *MySQLAdapter) Commit(ctx context.Context, batch *domain.Batch) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch.LedgerEntries() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO processed_orders (order_id, processed, processed_at)
			VALUES (?, ?, ?)`,
			e.OrderID, e.Processed, e.ProcessedAt.UTC(),
		)
		if isDuplicateEntry(err) {
			return domain.ErrOrderAlreadyProcessed
		}
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	now := m.now()
	for _, w := range batch.KeyWrites() {
		encoded, err := encodeKeys(w.Keys)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory_keys
			SET license_keys = ?, version = version + 1, updated_at = ?
			WHERE product_id = ? AND version = ?`,
			encoded, now, w.ProductID, w.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update inventory: %w", err)
		}

		if err := checkVersionMatched(result); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// checkVersionMatched reports a conflict when a version-guarded UPDATE
// touched no row.
func checkVersionMatched(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update inventory rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrBatchCommitConflict
	}
	return nil
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/keyvault/internal/core/domain"
)

// All keys share the {keyvault} hash tag so a commit script never spans
// cluster slots.
const (
	inventoryKeyPrefix = "{keyvault}:inventory:"
	ledgerKeyPrefix    = "{keyvault}:processed:"
)

const (
	commitOK               = 1
	commitAlreadyProcessed = -1
	commitConflict         = -2
)

// KEYS: ledger keys, then inventory keys.
// ARGV: ledger count, commit time, one processed_at per ledger key, then
// (expected version, encoded keys) per inventory key.
var commitBatchScript = redis.NewScript(`
local nLedger = tonumber(ARGV[1])
local now = ARGV[2]

for i = 1, nLedger do
	if redis.call('EXISTS', KEYS[i]) == 1 then
		return -1
	end
end

local base = 2 + nLedger
for i = nLedger + 1, #KEYS do
	local arg = base + (i - nLedger - 1) * 2 + 1
	local current = redis.call('HGET', KEYS[i], 'version')
	if not current or tonumber(current) ~= tonumber(ARGV[arg]) then
		return -2
	end
end

for i = nLedger + 1, #KEYS do
	local arg = base + (i - nLedger - 1) * 2 + 1
	redis.call('HSET', KEYS[i], 'keys', ARGV[arg + 1], 'updated_at', now)
	redis.call('HINCRBY', KEYS[i], 'version', 1)
end

for i = 1, nLedger do
	redis.call('HSET', KEYS[i], 'processed', 1, 'processed_at', ARGV[2 + i])
end

return 1
`)

type RedisAdapter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisAdapter) GetInventory(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	fields, err := r.client.HGetAll(ctx, inventoryKeyPrefix+productID).Result()
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := domain.InventoryRecord{ProductID: productID}
	if err := json.Unmarshal([]byte(fields["keys"]), &rec.Keys); err != nil {
		return nil, fmt.Errorf("decode keys of %s: %w", productID, err)
	}
	if rec.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode version of %s: %w", productID, err)
	}
	if ts := fields["updated_at"]; ts != "" {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return &rec, nil
}

func (r *RedisAdapter) SetInventory(ctx context.Context, productID string, keys []string) error {
	encoded, err := encodeKeys(keys)
	if err != nil {
		return err
	}

	key := inventoryKeyPrefix + productID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "keys", encoded, "updated_at", r.now().Format(time.RFC3339Nano))
		pipe.HIncrBy(ctx, key, "version", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set inventory: %w", err)
	}
	return nil
}

func (r *RedisAdapter) GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	fields, err := r.client.HGetAll(ctx, ledgerKeyPrefix+orderID).Result()
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := domain.LedgerEntry{
		OrderID:   orderID,
		Processed: fields["processed"] == "1",
	}
	if ts := fields["processed_at"]; ts != "" {
		entry.ProcessedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return &entry, nil
}

func (r *RedisAdapter) Commit(ctx context.Context, batch *domain.Batch) error {
	entries := batch.LedgerEntries()
	writes := batch.KeyWrites()

	keys := make([]string, 0, len(entries)+len(writes))
	args := make([]interface{}, 0, 2+len(entries)+2*len(writes))
	args = append(args, len(entries), r.now().Format(time.RFC3339Nano))

	for _, e := range entries {
		keys = append(keys, ledgerKeyPrefix+e.OrderID)
		args = append(args, e.ProcessedAt.UTC().Format(time.RFC3339Nano))
	}
	for _, w := range writes {
		encoded, err := encodeKeys(w.Keys)
		if err != nil {
			return err
		}
		keys = append(keys, inventoryKeyPrefix+w.ProductID)
		args = append(args, w.ExpectedVersion, encoded)
	}

	result, err := commitBatchScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	switch result {
	case commitOK:
		return nil
	case commitAlreadyProcessed:
		return domain.ErrOrderAlreadyProcessed
	case commitConflict:
		return domain.ErrBatchCommitConflict
	default:
		return fmt.Errorf("commit batch: unexpected script result %d", result)
	}
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}

func encodeKeys(keys []string) (string, error) {
	if keys == nil {
		keys = []string{}
	}
	b, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("encode keys: %w", err)
	}
	return string(b), nil
}

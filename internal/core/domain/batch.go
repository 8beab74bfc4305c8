package domain

// KeyWrite is a staged replace-in-place of a product's key sequence. It only
// applies if the stored record still has ExpectedVersion at commit time.
type KeyWrite struct {
	ProductID       string
	ExpectedVersion int64
	Keys            []string
}

// Batch is the unit of work of one checkout attempt. Reads made through it are
// remembered with their version, staged writes are visible to later reads of
// the same batch, and nothing reaches the backing store until a
// BatchCommitter commits it.
type Batch struct {
	snapshots map[string]InventoryRecord
	staged    map[string][]string
	order     []string
	entries   []LedgerEntry
}

func NewBatch() *Batch {
	return &Batch{
		snapshots: make(map[string]InventoryRecord),
		staged:    make(map[string][]string),
	}
}

// Snapshot returns the record as first read through the batch.
func (b *Batch) Snapshot(productID string) (InventoryRecord, bool) {
	rec, ok := b.snapshots[productID]
	return rec, ok
}

// RecordRead remembers rec as the version this batch depends on. Only the
// first read of a product counts.
func (b *Batch) RecordRead(rec InventoryRecord) {
	if _, ok := b.snapshots[rec.ProductID]; ok {
		return
	}
	rec.Keys = cloneKeys(rec.Keys)
	b.snapshots[rec.ProductID] = rec
}

// Staged returns the key sequence staged for productID, if any.
func (b *Batch) Staged(productID string) ([]string, bool) {
	keys, ok := b.staged[productID]
	if !ok {
		return nil, false
	}
	return cloneKeys(keys), true
}

func (b *Batch) StageKeys(productID string, remaining []string) {
	if _, ok := b.staged[productID]; !ok {
		b.order = append(b.order, productID)
	}
	b.staged[productID] = cloneKeys(remaining)
}

func (b *Batch) StageLedgerEntry(entry LedgerEntry) {
	b.entries = append(b.entries, entry)
}

// KeyWrites returns the staged key writes in staging order.
func (b *Batch) KeyWrites() []KeyWrite {
	writes := make([]KeyWrite, 0, len(b.order))
	for _, productID := range b.order {
		writes = append(writes, KeyWrite{
			ProductID:       productID,
			ExpectedVersion: b.snapshots[productID].Version,
			Keys:            cloneKeys(b.staged[productID]),
		})
	}
	return writes
}

func (b *Batch) LedgerEntries() []LedgerEntry {
	out := make([]LedgerEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Batch) Empty() bool {
	return len(b.order) == 0 && len(b.entries) == 0
}

func cloneKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

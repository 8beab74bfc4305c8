package domain

import "time"

// InventoryRecord holds the unallocated license keys of one product.
type InventoryRecord struct {
	ProductID string
	Keys      []string
	Version   int64 // optimistic locking
	UpdatedAt time.Time
}

// TailPop removes n keys from the end of keys. taken is in pop order, so the
// last key of the sequence is the first one allocated.
func TailPop(keys []string, n int) (remaining, taken []string) {
	if n > len(keys) {
		n = len(keys)
	}
	cut := len(keys) - n

	taken = make([]string, 0, n)
	for i := len(keys) - 1; i >= cut; i-- {
		taken = append(taken, keys[i])
	}

	remaining = make([]string, cut)
	copy(remaining, keys[:cut])
	return remaining, taken
}

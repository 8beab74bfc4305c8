package domain

import "time"

// LedgerEntry records that an order's checkout has committed. Entries are
// write-once; a missing entry means the order has not been processed.
type LedgerEntry struct {
	OrderID     string
	Processed   bool
	ProcessedAt time.Time
}

package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrOrderAlreadyProcessed = errors.New("order already processed")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrProductNotFound       = errors.New("product not found")
	ErrLedgerUnavailable     = errors.New("ledger unavailable")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrBatchCommitConflict   = errors.New("batch commit conflict")
	ErrCommitOutcomeUnknown  = errors.New("commit outcome unknown")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrInvalidLineItem       = errors.New("invalid line item")
)

// InsufficientInventoryError reports the product that could not cover its demand.
type InsufficientInventoryError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// IsRetryable reports whether a failed checkout can be retried from scratch.
// An error that also wraps ErrCommitOutcomeUnknown may have committed; the
// retry then sees ErrOrderAlreadyProcessed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrBatchCommitConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}

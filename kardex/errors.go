package kardex

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientLots is recovered per transaction: the disposal is flagged for review.
	ErrInsufficientLots = errors.New("insufficient lots")
	// ErrMissingConfiguration aborts the group, and the whole run for full costing.
	ErrMissingConfiguration   = errors.New("missing configuration")
	ErrInvalidGroupKey        = errors.New("invalid group key")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrNotAdjustment          = errors.New("transaction is not an adjustment")
	ErrInvalidAdjustment      = errors.New("invalid adjustment")
	ErrNegativeBalance        = errors.New("negative running balance")
	ErrLedgerMismatch         = errors.New("ledger mismatch")
	ErrNoSnapshot             = errors.New("no balance snapshot")
)

// GroupError ties a failure to the group it aborted.
type GroupError struct {
	Group GroupKey
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s: %v", e.Group, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Package store defines the persistence contracts for the reconciler.
//
// The stores are the only shared mutable resource in the system; every
// invocation of the processor may race another invocation for the same
// job, so the contracts are written to make the stores the serialization
// point:
//
//   - LedgerStore.InsertEntry is a conditional insert keyed on
//     (reference, entry type). A duplicate surfaces as ErrDuplicateEntry,
//     never as a second row. This closes the check-then-act race window.
//   - AccountStore.AdjustBalance is an atomic add/subtract primitive,
//     never read-modify-write in application code.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fertilia/reconciler/internal/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEntry is returned by InsertEntry when an entry with the
	// same (reference, type) key already exists. Callers treat this as an
	// idempotent no-op, not a failure.
	ErrDuplicateEntry = errors.New("store: duplicate ledger entry")
)

// LedgerStore is the append-only collection of ledger entries.
type LedgerStore interface {
	// InsertEntry appends an entry if and only if no entry with the same
	// (Reference, Type) exists. Returns ErrDuplicateEntry otherwise.
	InsertEntry(ctx context.Context, entry domain.LedgerEntry) error

	// FindEntry returns the entry for a job and type, or ErrNotFound.
	FindEntry(ctx context.Context, jobID string, typ domain.EntryType) (*domain.LedgerEntry, error)

	// EntriesByJob returns all entries referencing a job, oldest first.
	EntriesByJob(ctx context.Context, jobID string) ([]domain.LedgerEntry, error)
}

// AccountStore holds per-user balances supporting atomic mutation.
type AccountStore interface {
	// AdjustBalance applies a signed delta to the account's remaining
	// balance and returns the new balance. The update is atomic at the
	// storage layer. Returns ErrNotFound for an unknown user.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)

	// GetAccount returns the account record, or ErrNotFound.
	GetAccount(ctx context.Context, userID string) (*domain.CreditAccount, error)
}

// JobStore holds per-job records with their reconciliation flag.
type JobStore interface {
	// GetJob returns the job record, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// MarkReconciled flips the reconciled flag. Idempotent.
	MarkReconciled(ctx context.Context, jobID string) error

	// ListUnreconciled returns one page of terminal jobs whose reconciled
	// flag is unset, ordered by job id. cursor is the last job id of the
	// previous page ("" for the first page); the returned cursor is ""
	// when no pages remain.
	ListUnreconciled(ctx context.Context, cursor string, limit int) ([]domain.Job, string, error)
}

// Package domain defines the records the reconciler operates on: jobs,
// credit accounts, and the append-only ledger of economic effects.
//
// The invariants here are the whole point of the system:
//
// 1. A job has at most one debit entry and at most one credit entry.
// 2. A credit entry exists only if a debit entry for the same job exists.
// 3. Ledger entries are immutable once written.
// 4. Every balance mutation corresponds to exactly one ledger entry.
//
// Balances may go negative. There is no rejection on insufficient funds;
// overdraft is absorbed and corrected by later top-ups (out of scope).
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a rendering job.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status can still change state.
// Only terminal jobs are eligible for reconciliation.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the per-job record. Created by the submission flow (external),
// mutated by this core only to flip Reconciled after an economic effect
// has been recorded. Never deleted here.
type Job struct {
	JobID      string
	UserID     string
	Status     JobStatus
	Seconds    uint
	Model      string
	Reconciled bool
}

// CreditAccount is the per-user balance record. Created externally by the
// top-up flow; the only legal mutation here is an atomic add/subtract
// paired with a ledger entry.
type CreditAccount struct {
	UserID    string
	Remaining decimal.Decimal
	UpdatedAt time.Time
}

// EntryType distinguishes the two economic effects a job can have.
type EntryType string

const (
	// EntryDebit charges the user for a completed job.
	EntryDebit EntryType = "debit"
	// EntryCredit refunds a prior debit for a job that ultimately failed.
	EntryCredit EntryType = "credit"
)

// LedgerEntry is one immutable economic effect tied to a job.
//
// The (Reference, Type) pair is unique in the store; the conditional
// insert on that key is the idempotency guard for the whole system.
type LedgerEntry struct {
	LedgerID    string
	UserID      string
	Timestamp   time.Time
	Type        EntryType
	Amount      decimal.Decimal
	Reference   string // job id
	Description string
	AnomalyNote string // empty when the job was not flagged
}

// NewLedgerID derives the ledger id the way the billing pipeline always
// has: userId#timestamp#jobId, with a #refund suffix for credits so a
// debit/credit pair for the same job never collide.
func NewLedgerID(userID string, ts time.Time, jobID string, typ EntryType) string {
	id := fmt.Sprintf("%s#%s#%s", userID, ts.UTC().Format(time.RFC3339Nano), jobID)
	if typ == EntryCredit {
		id += "#refund"
	}
	return id
}

// DebitDescription renders the human-readable line item for a debit.
func DebitDescription(seconds uint, model string) string {
	return fmt.Sprintf("Video generation - %ds @ %s", seconds, model)
}

// CreditDescription renders the line item for a refund.
func CreditDescription(jobID string) string {
	return fmt.Sprintf("Refund for failed job %s", jobID)
}

package domain

import "github.com/shopspring/decimal"

// Outcome classifies what a processed trigger did. The idempotent
// outcomes (AlreadyProcessed, AlreadyRefunded, NoDebitToRefund) are
// successes: they mean the system already converged and there was
// nothing left to do.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "alreadyProcessed"
	OutcomeNoDebitToRefund  Outcome = "noDebitToRefund"
	OutcomeAlreadyRefunded  Outcome = "alreadyRefunded"
	OutcomeRejected         Outcome = "rejected"
	// OutcomeIgnored is returned for unrecognized trigger shapes. It is a
	// no-op success so the transport stops redelivering junk events.
	OutcomeIgnored Outcome = "ignored"
)

// Result is the response contract for one processed trigger. Cost and
// NewBalance are meaningful only when Outcome is OutcomeApplied.
type Result struct {
	Outcome    Outcome         `json:"outcome"`
	Cost       decimal.Decimal `json:"cost,omitempty"`
	NewBalance decimal.Decimal `json:"newBalance,omitempty"`
}

// SweepSummary is the report of one full reconciliation pass.
type SweepSummary struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

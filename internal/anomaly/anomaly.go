// Package anomaly flags suspicious jobs and optionally asks an external
// summarizer for a human-readable explanation.
//
// Detection is a pure function over fixed thresholds so it stays
// deterministic and unit-testable with no external dependency. The
// explanation side is best-effort: its failure can degrade a ledger
// entry's note, never the entry itself.
package anomaly

import (
	"github.com/shopspring/decimal"
)

// Thresholds are the ceilings that mark a job as suspicious. They come
// from configuration; the defaults preserve the original policy but are
// not business rules.
type Thresholds struct {
	// CostCeiling flags any job whose cost exceeds this amount.
	CostCeiling decimal.Decimal
	// SecondsCeiling flags any job whose duration exceeds this many seconds.
	SecondsCeiling uint
}

// Detect reports whether a job is anomalous: cost above the ceiling,
// duration above the ceiling, or the completion artifact marker missing.
func Detect(t Thresholds, cost decimal.Decimal, seconds uint, resultMarker string) bool {
	if cost.GreaterThan(t.CostCeiling) {
		return true
	}
	if seconds > t.SecondsCeiling {
		return true
	}
	if resultMarker == "" {
		return true
	}
	// TODO: median-based detection once enough ledger history accumulates.
	return false
}

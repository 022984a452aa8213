// Package pricing resolves a model identifier to a per-second unit price.
//
// The resolver is an injected collaborator, not a process-wide singleton:
// its lifetime is scoped to service startup so tests can swap in a static
// table. An unknown model never fails an apply; it falls back to the
// configured default unit price with a warning.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Resolver maps a model identifier to a unit price per rendered second.
//
// Implementations return an error only for infrastructure failures. A
// model missing from the catalog resolves to the default price.
type Resolver interface {
	UnitPrice(ctx context.Context, model string) (decimal.Decimal, error)
}

// Static is a fixed in-memory price table with a default fallback.
// Used in tests and as a last-resort resolver when no catalog is wired.
type Static struct {
	Prices       map[string]decimal.Decimal
	DefaultPrice decimal.Decimal
}

func (s Static) UnitPrice(ctx context.Context, model string) (decimal.Decimal, error) {
	if p, ok := s.Prices[model]; ok {
		return p, nil
	}
	return s.DefaultPrice, nil
}

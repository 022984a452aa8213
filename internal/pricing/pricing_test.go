package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticUnitPrice(t *testing.T) {
	r := Static{
		Prices: map[string]decimal.Decimal{
			"hd":    decimal.RequireFromString("0.25"),
			"turbo": decimal.RequireFromString("0.05"),
		},
		DefaultPrice: decimal.RequireFromString("0.10"),
	}

	got, err := r.UnitPrice(context.Background(), "hd")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.25")))

	got, err = r.UnitPrice(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.10")), "unknown model falls back to default")
}

func TestStaticEmptyTable(t *testing.T) {
	r := Static{DefaultPrice: decimal.RequireFromString("0.10")}

	got, err := r.UnitPrice(context.Background(), "hd")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.10")))
}

package anomaly

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		CostCeiling:    decimal.NewFromInt(50),
		SecondsCeiling: 300,
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		cost    decimal.Decimal
		seconds uint
		marker  string
		want    bool
	}{
		{"cost above ceiling", decimal.NewFromInt(60), 100, "s3://out/a.mp4", true},
		{"duration above ceiling", decimal.NewFromInt(10), 400, "s3://out/a.mp4", true},
		{"missing result marker", decimal.NewFromInt(10), 50, "", true},
		{"nominal job", decimal.NewFromInt(10), 50, "s3://out/a.mp4", false},
		{"cost exactly at ceiling", decimal.NewFromInt(50), 50, "s3://out/a.mp4", false},
		{"duration exactly at ceiling", decimal.NewFromInt(10), 300, "s3://out/a.mp4", false},
		{"fractional cost above ceiling", decimal.RequireFromString("50.01"), 50, "s3://out/a.mp4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(defaultThresholds(), tt.cost, tt.seconds, tt.marker)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectIsPure(t *testing.T) {
	th := defaultThresholds()
	for i := 0; i < 3; i++ {
		assert.True(t, Detect(th, decimal.NewFromInt(60), 100, ""))
	}
}

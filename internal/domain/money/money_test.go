package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		in      float64
		want    Cents
		wantErr bool
	}{
		{name: "whole amount", in: 50, want: 5000},
		{name: "two decimals", in: 6.90, want: 690},
		{name: "rounds half up", in: 0.005, want: 1},
		{name: "float drift", in: 19.99, want: 1999},
		{name: "negative", in: -3.50, want: -350},
		{name: "zero", in: 0, want: 0},
		{name: "NaN", in: math.NaN(), wantErr: true},
		{name: "positive infinity", in: math.Inf(1), wantErr: true},
		{name: "negative infinity", in: math.Inf(-1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromFloat(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromDecimal(t *testing.T) {
	assert.Equal(t, Cents(690), FromDecimal(decimal.RequireFromString("6.90")))
	assert.Equal(t, Cents(5000), FromDecimal(decimal.RequireFromString("50")))
	// Sub-cent precision from the persistence layer is rounded, not truncated.
	assert.Equal(t, Cents(1000), FromDecimal(decimal.RequireFromString("9.999")))
}

func TestCentsString(t *testing.T) {
	assert.Equal(t, "13.80", Cents(1380).String())
	assert.Equal(t, "0.00", Cents(0).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-2.50", Cents(-250).String())
}

func TestCentsDecimalRoundTrip(t *testing.T) {
	for _, c := range []Cents{0, 1, 99, 100, 1380, 999999} {
		assert.Equal(t, c, FromDecimal(c.Decimal()))
	}
}

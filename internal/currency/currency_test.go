package currency

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/apperr"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "USD", false},
		{"eur", "EUR", false},
		{" JPY ", "JPY", false},
		{"ZZZ", "", true},
		{"dollars", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.True(t, apperr.IsInvalidArgument(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRates(t *testing.T) {
	table, err := LoadRates(strings.NewReader("base: usd\nrates:\n  eur: 0.5\n  GBP: 0.25\n"))
	require.NoError(t, err)
	assert.Equal(t, "USD", table.Base)
	assert.Equal(t, []string{"EUR", "GBP", "USD"}, table.Codes())

	_, err = LoadRates(strings.NewReader("base: USD\nrate:\n  EUR: 0.5\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = LoadRates(strings.NewReader("base: USD\nrates:\n  EUR: -1\n"))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	table, err := LoadRates(strings.NewReader("base: USD\nrates:\n  EUR: 0.5\n  GBP: 0.25\n"))
	require.NoError(t, err)

	got, err := table.Convert(decimal.RequireFromString("10"), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.StringFixed(2))

	got, err = table.Convert(decimal.RequireFromString("10"), "EUR", "GBP")
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.StringFixed(2))

	got, err = table.Convert(decimal.RequireFromString("3.333"), "gbp", "GBP")
	require.NoError(t, err)
	assert.Equal(t, "3.33", got.StringFixed(2))

	_, err = table.Convert(decimal.RequireFromString("1"), "USD", "CHF")
	assert.True(t, apperr.IsNotFound(err))
}

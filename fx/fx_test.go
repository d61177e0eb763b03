package fx

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRate(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable()
	tbl.Set("chf", "eur", decimal.RequireFromString("0.9"))

	r, err := tbl.Rate(ctx, "CHF", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.9", r.String())

	r, err = tbl.Rate(ctx, "eur", "chf")
	require.NoError(t, err)
	assert.True(t, r.Sub(decimal.RequireFromString("1.1111")).Abs().LessThan(decimal.RequireFromString("0.0001")))

	r, err = tbl.Rate(ctx, "usd", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1", r.String())

	_, err = tbl.Rate(ctx, "chf", "usd")
	assert.ErrorIs(t, err, ErrUnknownRate)
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable()
	tbl.Load(map[string]map[string]decimal.Decimal{
		"CHF": {"EUR": decimal.RequireFromString("0.9")},
	})

	got, err := Convert(ctx, tbl, 1005, "CHF", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(905), got) // 904.5 rounds up

	got, err = Convert(ctx, tbl, 1000, "CHF", "chf")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)

	_, err = Convert(ctx, tbl, 1000, "CHF", "JPY")
	assert.ErrorIs(t, err, ErrUnknownRate)
}

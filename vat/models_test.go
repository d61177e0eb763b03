package vat

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGross(t *testing.T) {
	r := &Rate{Country: "CH", Rate: decimal.RequireFromString("7.5")}
	assert.Equal(t, int64(10750), r.Gross(10000))
	assert.Equal(t, int64(1081), r.Gross(1006)) // 75.45 rounds to 75

	var none *Rate
	assert.Equal(t, int64(1000), none.Gross(1000))
}

func TestSelect(t *testing.T) {
	now := time.Now()
	old := &Rate{Country: "CH", Rate: decimal.NewFromInt(7), Start: now.AddDate(-2, 0, 0)}
	cur := &Rate{Country: "CH", Rate: decimal.RequireFromString("7.7"), Start: now.AddDate(-1, 0, 0)}
	future := &Rate{Country: "CH", Rate: decimal.RequireFromString("8.1"), Start: now.AddDate(0, 1, 0)}
	other := &Rate{Country: "DE", Rate: decimal.NewFromInt(19), Start: now.AddDate(-1, 0, 0)}

	got := Select([]*Rate{old, future, cur, other}, "CH", now)
	require.NotNil(t, got)
	assert.Same(t, cur, got)

	assert.Nil(t, Select([]*Rate{old, cur}, "FR", now))
}

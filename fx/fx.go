// Package fx converts amounts between a wallet currency and the currency a
// gateway charges in.
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/types"
)

// ErrUnknownRate is returned when no direct or reverse rate is known.
var ErrUnknownRate = errors.New("fx: unknown exchange rate")

// Source provides exchange rates.
type Source interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Table is an in-memory rate table. Rates are keyed by source currency;
// a missing pair is answered with the inverse of the reverse pair.
type Table struct {
	mu    sync.RWMutex
	rates map[string]map[string]decimal.Decimal
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{rates: make(map[string]map[string]decimal.Decimal)}
}

// Set stores the rate converting one unit of from into to.
func (t *Table) Set(from, to string, rate decimal.Decimal) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rates[from] == nil {
		t.rates[from] = make(map[string]decimal.Decimal)
	}
	t.rates[from][to] = rate
}

// Load replaces the table with rates, keyed source then target.
func (t *Table) Load(rates map[string]map[string]decimal.Decimal) {
	fresh := make(map[string]map[string]decimal.Decimal, len(rates))
	for from, targets := range rates {
		m := make(map[string]decimal.Decimal, len(targets))
		for to, r := range targets {
			m[strings.ToUpper(to)] = r
		}
		fresh[strings.ToUpper(from)] = m
	}

	t.mu.Lock()
	t.rates = fresh
	t.mu.Unlock()
}

// Rate implements Source.
func (t *Table) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.rates[from][to]; ok {
		return r, nil
	}
	if r, ok := t.rates[to][from]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).Div(r), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrUnknownRate, from, to)
}

// Convert converts amount from one currency into another, rounding half up.
func Convert(ctx context.Context, src Source, amount int64, from, to string) (int64, error) {
	if strings.EqualFold(from, to) {
		return amount, nil
	}

	rate, err := src.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return types.RoundRate(amount, rate), nil
}

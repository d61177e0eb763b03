// Package vat defines country VAT rates applied to payments.
package vat

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Rate is a VAT percentage for a country, effective from Start.
type Rate struct {
	ID      id.VatRateID    `json:"id"`
	Country string          `json:"country" validate:"len=2"`
	Rate    decimal.Decimal `json:"rate"`
	Start   time.Time       `json:"start"`
}

// Gross returns credit plus VAT, the VAT rounded half up.
func (r *Rate) Gross(credit int64) int64 {
	if r == nil {
		return credit
	}
	return credit + types.New(credit, "").Percent(r.Rate).Amount
}

// Select returns the most recent rate of country effective at t, or nil.
func Select(rates []*Rate, country string, t time.Time) *Rate {
	var best *Rate
	for _, r := range rates {
		if r.Country != country || r.Start.After(t) {
			continue
		}
		if best == nil || r.Start.After(best.Start) {
			best = r
		}
	}
	return best
}

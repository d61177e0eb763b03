// Package discount defines percentage discounts applied to wallet charges.
package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Discount reduces sku costs of the wallets that reference it.
type Discount struct {
	types.Entity
	ID          id.DiscountID `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Code        string        `json:"code,omitempty"`
	Description string        `json:"description"`
	// Percent is the discount in whole percent, 0 to 100.
	Percent    int        `json:"percent" validate:"gte=0,lte=100"`
	Active     bool       `json:"active"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// AppliesAt reports whether the discount is active at t.
func (d *Discount) AppliesAt(t time.Time) bool {
	if d == nil || !d.Active {
		return false
	}
	if d.ValidFrom != nil && t.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && !t.Before(*d.ValidUntil) {
		return false
	}
	return true
}

// Rate returns the multiplier applied to costs at t: 1 without a discount,
// 0 for a 100% discount.
func (d *Discount) Rate(t time.Time) decimal.Decimal {
	if !d.AppliesAt(t) {
		return decimal.NewFromInt(1)
	}
	pct := min(max(d.Percent, 0), 100)
	return decimal.NewFromInt(int64(100 - pct)).Div(decimal.NewFromInt(100))
}

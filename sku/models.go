// Package sku defines billable stock keeping units.
package sku

import (
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Period is the billing cycle of a sku.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Months returns the length of the period in calendar months.
func (p Period) Months() int {
	if p == PeriodYearly {
		return 12
	}
	return 1
}

// Sku is a billable item. Entitlements reference it and fall back to its
// cost and fee when they carry no override.
type Sku struct {
	types.Entity
	ID          id.SkuID           `json:"id"`
	TenantID    string             `json:"tenant_id"`
	Title       string             `json:"title" validate:"required"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Cost        int64              `json:"cost" validate:"gte=0"`
	Fee         int64              `json:"fee" validate:"gte=0"`
	Units       int                `json:"units_free" validate:"gte=0"`
	Period      Period             `json:"period" validate:"omitempty,oneof=monthly yearly"`
	Handler     entitlement.Object `json:"handler" validate:"required"`
	Active      bool               `json:"active"`
}

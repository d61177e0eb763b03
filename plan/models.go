// Package plan defines sku bundles a wallet signs up with.
package plan

import (
	"time"

	"github.com/xraph/billing/accounting"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Plan bundles skus. FreeMonths exempts the plan skus from charges for
// that many months after the wallet was created.
type Plan struct {
	types.Entity
	ID          id.PlanID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Title       string    `json:"title"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	FreeMonths  int       `json:"free_months"`
	Items       []Item    `json:"items"`
}

// Item is a sku and quantity in a plan.
type Item struct {
	SkuID id.SkuID `json:"sku_id"`
	Qty   int      `json:"qty"`
	// Cost is the per-unit cost the plan was priced with.
	Cost int64 `json:"cost"`
}

// Cost is the undiscounted monthly cost of the plan.
func (p *Plan) Cost() int64 {
	var total int64
	for _, it := range p.Items {
		total += it.Cost * int64(it.Qty)
	}
	return total
}

// HasSku reports whether the plan includes skuID.
func (p *Plan) HasSku(skuID id.SkuID) bool {
	for _, it := range p.Items {
		if it.SkuID.String() == skuID.String() {
			return true
		}
	}
	return false
}

// Trial returns the trial of a wallet created at walletCreated, or nil when
// the plan has no free months.
func (p *Plan) Trial(walletCreated time.Time) *accounting.Trial {
	if p == nil || p.FreeMonths <= 0 {
		return nil
	}

	skus := make(map[string]bool, len(p.Items))
	for _, it := range p.Items {
		skus[it.SkuID.String()] = true
	}
	return &accounting.Trial{
		End:  accounting.AddMonths(walletCreated, p.FreeMonths),
		Skus: skus,
	}
}

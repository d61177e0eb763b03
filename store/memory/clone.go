package memory

import (
	"slices"
	"time"

	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/wallet"
)

func cloneSku(s *sku.Sku) *sku.Sku {
	cp := *s
	return &cp
}

func clonePlan(p *plan.Plan) *plan.Plan {
	cp := *p
	cp.Items = slices.Clone(p.Items)
	return &cp
}

func cloneDiscount(d *discount.Discount) *discount.Discount {
	cp := *d
	cp.ValidFrom = cloneTime(d.ValidFrom)
	cp.ValidUntil = cloneTime(d.ValidUntil)
	return &cp
}

func cloneWallet(w *wallet.Wallet) *wallet.Wallet {
	cp := *w
	cp.Controllers = slices.Clone(w.Controllers)
	cp.Check = wallet.CheckState{
		NegativeSince:  cloneTime(w.Check.NegativeSince),
		InitialSentAt:  cloneTime(w.Check.InitialSentAt),
		ReminderSentAt: cloneTime(w.Check.ReminderSentAt),
		DegradedSentAt: cloneTime(w.Check.DegradedSentAt),
	}
	return &cp
}

func cloneEntitlement(e *entitlement.Entitlement) *entitlement.Entitlement {
	cp := *e
	cp.Cost = clonePtr(e.Cost)
	cp.Fee = clonePtr(e.Fee)
	cp.DeletedAt = cloneTime(e.DeletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	return clonePtr(t)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

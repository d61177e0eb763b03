package billing

import (
	"context"
	"strings"

	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

// ──────────────────────────────────────────────────
// Sku Management
// ──────────────────────────────────────────────────

// CreateSku creates a billable sku.
func (e *Engine) CreateSku(ctx context.Context, s *sku.Sku) error {
	if err := e.checkSku(s); err != nil {
		return err
	}
	if s.ID.IsNil() {
		s.ID = id.NewSkuID()
	}
	s.Entity = types.NewEntityAt(e.now())

	return e.store.CreateSku(ctx, s)
}

// GetSku retrieves a sku by ID.
func (e *Engine) GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error) {
	return e.store.GetSku(ctx, skuID)
}

// GetSkuByTitle retrieves a tenant sku by title.
func (e *Engine) GetSkuByTitle(ctx context.Context, tenantID, title string) (*sku.Sku, error) {
	return e.store.GetSkuByTitle(ctx, tenantID, title)
}

// ListSkus lists the skus of a tenant.
func (e *Engine) ListSkus(ctx context.Context, tenantID string, opts sku.ListOpts) ([]*sku.Sku, error) {
	return e.store.ListSkus(ctx, tenantID, opts)
}

// UpdateSku updates a sku. Price changes apply from the next charge on.
func (e *Engine) UpdateSku(ctx context.Context, s *sku.Sku) error {
	if err := e.checkSku(s); err != nil {
		return err
	}
	s.TouchAt(e.now())
	return e.store.UpdateSku(ctx, s)
}

func (e *Engine) checkSku(s *sku.Sku) error {
	if s.Period == "" {
		s.Period = sku.PeriodMonthly
	}
	if err := validateStruct(s); err != nil {
		return err
	}
	if _, ok := e.handlers.Lookup(s.Handler); !ok {
		return ValidationError{Field: "handler", Message: "unknown object type " + string(s.Handler)}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan creates a sku bundle.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := e.checkPlan(ctx, p); err != nil {
		return err
	}
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	p.Entity = types.NewEntityAt(e.now())

	return e.store.CreatePlan(ctx, p)
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return e.store.GetPlan(ctx, planID)
}

// ListPlans lists the plans of a tenant.
func (e *Engine) ListPlans(ctx context.Context, tenantID string, opts plan.ListOpts) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx, tenantID, opts)
}

// UpdatePlan updates a plan.
func (e *Engine) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := e.checkPlan(ctx, p); err != nil {
		return err
	}
	p.TouchAt(e.now())
	return e.store.UpdatePlan(ctx, p)
}

func (e *Engine) checkPlan(ctx context.Context, p *plan.Plan) error {
	if p.Title == "" {
		return ValidationError{Field: "title", Message: "is required"}
	}
	if p.FreeMonths < 0 {
		return ValidationError{Field: "free_months", Message: "must be at least 0"}
	}
	for _, it := range p.Items {
		if it.Qty <= 0 {
			return ValidationError{Field: "items.qty", Message: "must be positive"}
		}
		if _, err := e.store.GetSku(ctx, it.SkuID); err != nil {
			return err
		}
	}
	return nil
}

// SetPlan assigns a plan to a wallet. The plan trial counts from the
// wallet creation.
func (e *Engine) SetPlan(ctx context.Context, walletID id.WalletID, planID id.PlanID) (*wallet.Wallet, error) {
	if _, err := e.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		w.PlanID = planID
		return nil
	})
}

// ──────────────────────────────────────────────────
// Discount Management
// ──────────────────────────────────────────────────

// CreateDiscount creates a discount.
func (e *Engine) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	if err := validateStruct(d); err != nil {
		return err
	}
	if d.ID.IsNil() {
		d.ID = id.NewDiscountID()
	}
	d.Entity = types.NewEntityAt(e.now())

	return e.store.CreateDiscount(ctx, d)
}

// GetDiscount retrieves a discount by ID.
func (e *Engine) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return e.store.GetDiscount(ctx, discountID)
}

// GetDiscountByCode retrieves a tenant discount by its voucher code.
func (e *Engine) GetDiscountByCode(ctx context.Context, tenantID, code string) (*discount.Discount, error) {
	return e.store.GetDiscountByCode(ctx, tenantID, code)
}

// ListDiscounts lists the discounts of a tenant.
func (e *Engine) ListDiscounts(ctx context.Context, tenantID string, opts discount.ListOpts) ([]*discount.Discount, error) {
	return e.store.ListDiscounts(ctx, tenantID, opts)
}

// UpdateDiscount updates a discount.
func (e *Engine) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	if err := validateStruct(d); err != nil {
		return err
	}
	d.TouchAt(e.now())
	return e.store.UpdateDiscount(ctx, d)
}

// ──────────────────────────────────────────────────
// VAT
// ──────────────────────────────────────────────────

// CreateVatRate adds a country VAT rate effective from r.Start.
func (e *Engine) CreateVatRate(ctx context.Context, r *vat.Rate) error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.Rate.IsNegative() {
		return ValidationError{Field: "rate", Message: "must be at least 0"}
	}
	if r.ID.IsNil() {
		r.ID = id.NewVatRateID()
	}
	if r.Start.IsZero() {
		r.Start = e.now()
	}
	r.Country = strings.ToUpper(r.Country)

	return e.store.CreateVatRate(ctx, r)
}

// VatRates lists the rates of a country, newest first.
func (e *Engine) VatRates(ctx context.Context, country string) ([]*vat.Rate, error) {
	return e.store.ListVatRates(ctx, country)
}

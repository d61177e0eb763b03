package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/billing/accounting"
	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

// EntitleRequest grants a wallet one unit of a sku for an object.
type EntitleRequest struct {
	WalletID id.WalletID
	SkuID    id.SkuID
	Object   entitlement.Ref
	// Cost and Fee override the sku price when set.
	Cost        *int64
	Fee         *int64
	Description string
}

// ChargeResult is the outcome of one sweep of a wallet.
type ChargeResult struct {
	WalletID id.WalletID
	// Total is the amount debited from the wallet.
	Total int64
	// Fees is the part of Total owed to the provider of the service.
	Fees int64
	// Charged counts the entitlements billed for at least one period.
	Charged int
	// Transaction is the debit, nil when nothing was debited.
	Transaction *transaction.Transaction
}

// catalogReader is the read side shared by store.Store and store.Tx.
type catalogReader interface {
	GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error)
	GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error)
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error)
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// Entitle creates an entitlement. Its creation time anchors the billing
// periods.
func (e *Engine) Entitle(ctx context.Context, req EntitleRequest) (*entitlement.Entitlement, error) {
	if req.Object.ID == "" {
		return nil, ValidationError{Field: "object.id", Message: "is required"}
	}
	handler, ok := e.handlers.Lookup(req.Object.Type)
	if !ok {
		return nil, ValidationError{Field: "object.type", Message: "unknown object type " + string(req.Object.Type)}
	}

	s, err := e.store.GetSku(ctx, req.SkuID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, ValidationError{Field: "sku_id", Message: "sku is not active"}
	}
	if s.Handler != req.Object.Type {
		return nil, ValidationError{Field: "object.type", Message: "sku " + s.Title + " does not entitle " + string(req.Object.Type)}
	}

	if handler.Exclusive {
		// The object may be entitled from another wallet.
		release, err := e.lockKey(ctx, "entitle:"+req.Object.String())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var ent *entitlement.Entitlement
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, req.WalletID)
		if err != nil {
			return err
		}
		if s.TenantID != "" && w.TenantID != "" && s.TenantID != w.TenantID {
			return ErrForbidden
		}
		if handler.Exclusive {
			existing, err := tx.ListEntitlementsByObject(ctx, req.Object)
			if err != nil {
				return err
			}
			for _, other := range existing {
				if other.SkuID.String() == s.ID.String() {
					return fmt.Errorf("%w: %s already has %s", ErrAlreadyExists, req.Object, s.Title)
				}
			}
		}

		now := e.now()
		ent = &entitlement.Entitlement{
			ID:          id.NewEntitlementID(),
			WalletID:    w.ID,
			SkuID:       s.ID,
			Object:      req.Object,
			Cost:        req.Cost,
			Fee:         req.Fee,
			Description: req.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateEntitlement(ctx, ent); err != nil {
			return err
		}
		return tx.CreateTransactions(ctx, entitlementTxn(ent, transaction.TypeCreated, ent.EffectiveCost(s.Cost), s.Title, now))
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("entitlement created",
		"wallet_id", ent.WalletID.String(),
		"entitlement_id", ent.ID.String(),
		"sku", s.Title,
		"object", ent.Object.String(),
	)
	return ent, nil
}

// Revoke soft-deletes an entitlement. The periods elapsed up to the
// deletion are still charged by the next sweep. Revoking twice is a no-op.
func (e *Engine) Revoke(ctx context.Context, entID id.EntitlementID) error {
	current, err := e.store.GetEntitlement(ctx, entID)
	if err != nil {
		return err
	}

	return e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetWalletForUpdate(ctx, current.WalletID); err != nil {
			return err
		}
		ents, err := tx.ListEntitlements(ctx, current.WalletID, entitlement.ListOpts{SkuID: current.SkuID, WithDeleted: true})
		if err != nil {
			return err
		}

		for _, ent := range ents {
			if ent.ID.String() != entID.String() {
				continue
			}
			if ent.IsDeleted() {
				return nil
			}
			now := e.now()
			ent.DeletedAt = &now
			if err := tx.UpdateEntitlement(ctx, ent); err != nil {
				return err
			}
			return tx.CreateTransactions(ctx, entitlementTxn(ent, transaction.TypeDeleted, 0, "", now))
		}
		return ErrEntitlementNotFound
	})
}

// GetEntitlement retrieves an entitlement by ID.
func (e *Engine) GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	return e.store.GetEntitlement(ctx, entID)
}

// Entitlements lists the entitlements of a wallet.
func (e *Engine) Entitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	return e.store.ListEntitlements(ctx, walletID, opts)
}

// ObjectEntitlements lists the live entitlements of an object.
func (e *Engine) ObjectEntitlements(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	return e.store.ListEntitlementsByObject(ctx, ref)
}

// PurgeEntitlements hard-deletes settled entitlements deleted before the
// cutoff.
func (e *Engine) PurgeEntitlements(ctx context.Context, before time.Time) (int64, error) {
	n, err := e.store.PurgeEntitlements(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("entitlements purged", "count", n, "before", before)
	}
	return n, nil
}

func entitlementTxn(ent *entitlement.Entitlement, typ transaction.Type, amount int64, description string, at time.Time) *transaction.Transaction {
	return &transaction.Transaction{
		ID:          id.NewTransactionID(),
		WalletID:    ent.WalletID,
		ObjectType:  transaction.ObjectEntitlement,
		ObjectID:    ent.ID.String(),
		Type:        typ,
		Amount:      amount,
		Description: description,
		CreatedAt:   at,
	}
}

// ──────────────────────────────────────────────────
// Charges
// ──────────────────────────────────────────────────

// ExpectedCharges returns what a sweep at asOf would debit from the wallet.
func (e *Engine) ExpectedCharges(ctx context.Context, walletID id.WalletID, asOf time.Time) (int64, error) {
	res, err := e.PreviewCharges(ctx, walletID, asOf)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// PreviewCharges returns the itemized charges a sweep at asOf would book.
func (e *Engine) PreviewCharges(ctx context.Context, walletID id.WalletID, asOf time.Time) (accounting.Result, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return accounting.Result{}, err
	}
	in, err := e.pricing(ctx, e.store, w, asOf)
	if err != nil {
		return accounting.Result{}, err
	}
	return accounting.Compute(in)
}

// BalanceLastsUntil projects the date the balance runs out, nil when it
// is already negative or nothing is charged.
func (e *Engine) BalanceLastsUntil(ctx context.Context, walletID id.WalletID) (*time.Time, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.Restricted {
		return nil, nil
	}

	now := e.now()
	in, err := e.pricing(ctx, e.store, w, now)
	if err != nil {
		return nil, err
	}
	lines, err := accounting.Lines(in)
	if err != nil {
		return nil, err
	}
	return accounting.LastsUntil(w.Balance, lines, in.Discount.Rate(now), now), nil
}

// ChargeEntitlements debits the wallet for every whole period elapsed
// since each entitlement was last charged, itemized per entitlement, and
// advances the charged-through markers. Running it twice within a period
// charges nothing the second time.
func (e *Engine) ChargeEntitlements(ctx context.Context, walletID id.WalletID) (*ChargeResult, error) {
	release, err := e.acquire(ctx, "sweep", walletID)
	if err != nil {
		return nil, err
	}
	defer release()

	out := &ChargeResult{WalletID: walletID}
	var (
		after   effects
		debited *wallet.Wallet
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}

		now := e.now()
		in, err := e.pricing(ctx, tx, w, now)
		if err != nil {
			return err
		}
		res, err := accounting.Compute(in)
		if err != nil {
			return err
		}
		if len(res.Charges) == 0 {
			return nil
		}

		if res.Total > 0 {
			parent, err := e.book(ctx, tx, w, Entry{
				Type:        transaction.TypeDebit,
				Amount:      res.Total,
				Description: "Charges for entitlements",
			}, &after)
			if err != nil {
				return err
			}
			out.Transaction = parent

			items := make([]*transaction.Transaction, 0, len(res.Charges))
			for _, c := range res.Charges {
				if c.Cost == 0 {
					continue
				}
				item := entitlementTxn(c.Entitlement, transaction.TypeBilled, c.Cost, billedDescription(c), now)
				item.ParentID = parent.ID
				items = append(items, item)
			}
			if err := tx.CreateTransactions(ctx, items...); err != nil {
				return err
			}
		}

		for _, c := range res.Charges {
			if c.Periods > 0 {
				out.Charged++
			}
			if !c.Moved() {
				continue
			}
			c.Entitlement.UpdatedAt = c.Through
			if err := tx.UpdateEntitlement(ctx, c.Entitlement); err != nil {
				return err
			}
		}

		if err := e.bookProfit(ctx, tx, w, res.Profit(), &after); err != nil {
			return err
		}

		out.Total = res.Total
		out.Fees = res.Fees
		debited = w
		return tx.UpdateWallet(ctx, w)
	})
	if err != nil {
		if IsIntegrity(err) {
			e.logger.Error("wallet charge aborted", "wallet_id", walletID.String(), "error", err)
		}
		return nil, err
	}

	after.run(ctx)
	if debited != nil {
		e.plugins.EmitEntitlementsCharged(ctx, debited, out.Total, out.Charged)
		e.logger.Info("entitlements charged",
			"wallet_id", walletID.String(),
			"total", out.Total,
			"fees", out.Fees,
			"charged", out.Charged,
			"balance", debited.Balance,
		)
	}
	return out, nil
}

// bookProfit credits the tenant wallet with the reseller margin, or
// debits it when fees exceed what the wallet paid.
func (e *Engine) bookProfit(ctx context.Context, tx store.Tx, w *wallet.Wallet, profit int64, after *effects) error {
	if profit == 0 || w.TenantWalletID.IsNil() || w.TenantWalletID.String() == w.ID.String() {
		return nil
	}

	tw, err := tx.GetWalletForUpdate(ctx, w.TenantWalletID)
	if err != nil {
		return fmt.Errorf("tenant wallet of %s: %w", w.ID, err)
	}

	typ := transaction.TypeCredit
	if profit < 0 {
		typ = transaction.TypeDebit
	}
	if _, err := e.book(ctx, tx, tw, Entry{
		Type:        typ,
		Amount:      profit,
		Description: "Charges of wallet " + w.ID.String(),
	}, after); err != nil {
		return err
	}
	return tx.UpdateWallet(ctx, tw)
}

// pricing loads everything accounting needs to price w at now.
func (e *Engine) pricing(ctx context.Context, r catalogReader, w *wallet.Wallet, now time.Time) (accounting.Input, error) {
	ents, err := r.ListEntitlements(ctx, w.ID, entitlement.ListOpts{WithDeleted: true})
	if err != nil {
		return accounting.Input{}, err
	}

	skus := make(map[string]*sku.Sku)
	for _, ent := range ents {
		key := ent.SkuID.String()
		if _, ok := skus[key]; ok {
			continue
		}
		s, err := r.GetSku(ctx, ent.SkuID)
		if errors.Is(err, ErrSkuNotFound) {
			// accounting reports the dangling reference
			continue
		}
		if err != nil {
			return accounting.Input{}, err
		}
		skus[key] = s
	}

	in := accounting.Input{
		Entitlements: ents,
		Skus:         skus,
		Restricted:   w.Restricted,
		Now:          now,
	}

	if !w.DiscountID.IsNil() {
		d, err := r.GetDiscount(ctx, w.DiscountID)
		if err != nil && !errors.Is(err, ErrDiscountNotFound) {
			return accounting.Input{}, err
		}
		in.Discount = d
	}
	if !w.PlanID.IsNil() {
		p, err := r.GetPlan(ctx, w.PlanID)
		if err != nil && !errors.Is(err, ErrPlanNotFound) {
			return accounting.Input{}, err
		}
		in.Trial = p.Trial(w.CreatedAt)
	}
	return in, nil
}

func billedDescription(c accounting.Charge) string {
	if c.Periods == 1 {
		return c.Sku.Title
	}
	return fmt.Sprintf("%s x%d", c.Sku.Title, c.Periods)
}

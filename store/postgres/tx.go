package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/billing"
	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

var _ store.Tx = (*tx)(nil)

// tx is a unit of work on one database transaction.
type tx struct {
	q pgx.Tx
}

func (t *tx) GetWalletForUpdate(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	rows, err := t.q.Query(ctx, `SELECT `+walletColumns+` FROM billing_wallets WHERE id = $1 FOR UPDATE`, walletID)
	return one(rows, err, scanWallet, billing.ErrWalletNotFound)
}

func (t *tx) UpdateWallet(ctx context.Context, w *wallet.Wallet) error {
	tag, err := t.q.Exec(ctx, `
UPDATE billing_wallets
SET tenant_id = $2, description = $3, balance = $4, currency = $5, country = $6, discount_id = $7,
    plan_id = $8, tenant_wallet_id = $9, controllers = $10, restricted = $11, mandate = $12,
    check_state = $13, updated_at = $14
WHERE id = $1`,
		w.ID, w.TenantID, w.Description, w.Balance, w.Currency, w.Country, w.DiscountID,
		w.PlanID, w.TenantWalletID, controllers(w), w.Restricted, w.Mandate,
		w.Check, w.UpdatedAt,
	)
	return affected(tag, err, "update wallet", billing.ErrWalletNotFound)
}

func (t *tx) CreateTransactions(ctx context.Context, txns ...*transaction.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	_, err := t.q.CopyFrom(ctx,
		pgx.Identifier{"billing_transactions"},
		[]string{"id", "wallet_id", "object_type", "object_id", "type", "amount", "description",
			"parent_id", "payment_id", "user_id", "created_at"},
		pgx.CopyFromSlice(len(txns), func(i int) ([]any, error) {
			x := txns[i]
			var parent any
			if !x.ParentID.IsNil() {
				parent = x.ParentID.String()
			}
			return []any{
				x.ID.String(), x.WalletID.String(), string(x.ObjectType), x.ObjectID, string(x.Type),
				x.Amount, x.Description, parent, x.PaymentID, x.UserID, x.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create transactions: %w", conflict(err))
	}
	return nil
}

func (t *tx) CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO billing_entitlements (`+entitlementColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.WalletID, e.SkuID, e.Object.Type, e.Object.ID, e.Cost, e.Fee,
		e.Description, e.CreatedAt, e.UpdatedAt, e.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create entitlement: %w", conflict(err))
	}
	return nil
}

// ListEntitlements locks the listed rows so that concurrent sweeps of the
// same wallet cannot both advance the same charged-through marker.
func (t *tx) ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	return listEntitlements(ctx, t.q, walletID, opts, true)
}

func (t *tx) ListEntitlementsByObject(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	return listEntitlementsByObject(ctx, t.q, ref)
}

func (t *tx) UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	tag, err := t.q.Exec(ctx, `
UPDATE billing_entitlements
SET cost = $2, fee = $3, description = $4, updated_at = $5, deleted_at = $6
WHERE id = $1`,
		e.ID, e.Cost, e.Fee, e.Description, e.UpdatedAt, e.DeletedAt,
	)
	return affected(tag, err, "update entitlement", billing.ErrEntitlementNotFound)
}

func (t *tx) GetPaymentForUpdate(ctx context.Context, paymentID string) (*payment.Payment, error) {
	rows, err := t.q.Query(ctx, `SELECT `+paymentColumns+` FROM billing_payments WHERE id = $1 FOR UPDATE`, paymentID)
	return one(rows, err, scanPayment, billing.ErrPaymentNotFound)
}

func (t *tx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO billing_payments (`+paymentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.WalletID, p.Provider, p.Type, p.Status, p.Amount, p.CreditAmount,
		p.CurrencyAmount, p.Currency, p.VatRateID, p.Description, p.ParentID, p.CheckoutURL,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create payment: %w", conflict(err))
	}
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	tag, err := t.q.Exec(ctx, `
UPDATE billing_payments
SET status = $2, amount = $3, credit_amount = $4, currency_amount = $5, description = $6,
    checkout_url = $7, updated_at = $8
WHERE id = $1`,
		p.ID, p.Status, p.Amount, p.CreditAmount, p.CurrencyAmount, p.Description,
		p.CheckoutURL, p.UpdatedAt,
	)
	return affected(tag, err, "update payment", billing.ErrPaymentNotFound)
}

func (t *tx) GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error) {
	return getSku(ctx, t.q, skuID)
}

func (t *tx) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return getDiscount(ctx, t.q, discountID)
}

func (t *tx) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return getPlan(ctx, t.q, planID)
}

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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

// tx runs against the session context handed to it by RunInTx, so every
// call joins the surrounding transaction.
type tx struct {
	s *Store
}

func (t *tx) GetWalletForUpdate(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	var m walletModel
	if err := t.lock(ctx, colWallets, walletID.String(), &m); err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrWalletNotFound
		}
		return nil, fmt.Errorf("billing/mongo: lock wallet: %w", err)
	}
	return fromWalletModel(&m)
}

func (t *tx) UpdateWallet(ctx context.Context, w *wallet.Wallet) error {
	m := toWalletModel(w)
	res, err := t.s.mdb.NewUpdate((*walletModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("tenant_id", m.TenantID).
		Set("owner_id", m.OwnerID).
		Set("description", m.Description).
		Set("balance", m.Balance).
		Set("currency", m.Currency).
		Set("country", m.Country).
		Set("discount_id", m.DiscountID).
		Set("plan_id", m.PlanID).
		Set("tenant_wallet_id", m.TenantWalletID).
		Set("controllers", m.Controllers).
		Set("restricted", m.Restricted).
		Set("mandate", m.Mandate).
		Set("check_state", m.Check).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: update wallet: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrWalletNotFound
	}
	return nil
}

func (t *tx) CreateTransactions(ctx context.Context, txns ...*transaction.Transaction) error {
	for _, txn := range txns {
		if err := t.s.insert(ctx, "create transaction", toTransactionModel(txn)); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	return t.s.insert(ctx, "create entitlement", toEntitlementModel(e))
}

func (t *tx) ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	return t.s.ListEntitlements(ctx, walletID, opts)
}

func (t *tx) ListEntitlementsByObject(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	return t.s.ListEntitlementsByObject(ctx, ref)
}

func (t *tx) UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	res, err := t.s.mdb.NewUpdate((*entitlementModel)(nil)).
		Filter(bson.M{"_id": e.ID.String()}).
		Set("cost", e.Cost).
		Set("fee", e.Fee).
		Set("description", e.Description).
		Set("updated_at", e.UpdatedAt).
		Set("deleted_at", e.DeletedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: update entitlement: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrEntitlementNotFound
	}
	return nil
}

func (t *tx) GetPaymentForUpdate(ctx context.Context, paymentID string) (*payment.Payment, error) {
	var m paymentModel
	if err := t.lock(ctx, colPayments, paymentID, &m); err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("billing/mongo: lock payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (t *tx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	return t.s.insert(ctx, "create payment", toPaymentModel(p))
}

func (t *tx) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	res, err := t.s.mdb.NewUpdate((*paymentModel)(nil)).
		Filter(bson.M{"_id": p.ID}).
		Set("status", string(p.Status)).
		Set("amount", p.Amount).
		Set("credit_amount", p.CreditAmount).
		Set("currency_amount", p.CurrencyAmount).
		Set("description", p.Description).
		Set("checkout_url", p.CheckoutURL).
		Set("updated_at", p.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: update payment: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

func (t *tx) GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error) {
	return t.s.GetSku(ctx, skuID)
}

func (t *tx) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return t.s.GetDiscount(ctx, discountID)
}

func (t *tx) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return t.s.GetPlan(ctx, planID)
}

// lock writes to the document so that any other transaction writing it
// before this one commits fails with a write conflict.
func (t *tx) lock(ctx context.Context, col, docID string, out any) error {
	return t.s.mdb.Collection(col).FindOneAndUpdate(ctx,
		bson.M{"_id": docID},
		bson.M{"$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(out)
}


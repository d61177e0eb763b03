package memory

import (
	"context"

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

// tx runs under the store write lock held by RunInTx.
type tx struct {
	s *Store
}

func (t *tx) GetWalletForUpdate(_ context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	return t.s.data.getWallet(walletID)
}

func (t *tx) UpdateWallet(_ context.Context, w *wallet.Wallet) error {
	if _, exists := t.s.data.wallets[w.ID.String()]; !exists {
		return billing.ErrWalletNotFound
	}
	t.s.data.wallets[w.ID.String()] = cloneWallet(w)
	return nil
}

func (t *tx) CreateTransactions(_ context.Context, txns ...*transaction.Transaction) error {
	for _, txn := range txns {
		cp := *txn
		t.s.data.transactions = append(t.s.data.transactions, &cp)
	}
	return nil
}

func (t *tx) CreateEntitlement(_ context.Context, e *entitlement.Entitlement) error {
	if _, exists := t.s.data.entitlements[e.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	t.s.data.entitlements[e.ID.String()] = cloneEntitlement(e)
	return nil
}

func (t *tx) ListEntitlements(_ context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	return t.s.data.listEntitlements(walletID, opts), nil
}

func (t *tx) ListEntitlementsByObject(_ context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	return t.s.data.listEntitlementsByObject(ref), nil
}

func (t *tx) UpdateEntitlement(_ context.Context, e *entitlement.Entitlement) error {
	if _, exists := t.s.data.entitlements[e.ID.String()]; !exists {
		return billing.ErrEntitlementNotFound
	}
	t.s.data.entitlements[e.ID.String()] = cloneEntitlement(e)
	return nil
}

func (t *tx) GetPaymentForUpdate(_ context.Context, paymentID string) (*payment.Payment, error) {
	return t.s.data.getPayment(paymentID)
}

func (t *tx) CreatePayment(_ context.Context, p *payment.Payment) error {
	if _, exists := t.s.data.payments[p.ID]; exists {
		return billing.ErrAlreadyExists
	}
	cp := *p
	t.s.data.payments[p.ID] = &cp
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *payment.Payment) error {
	if _, exists := t.s.data.payments[p.ID]; !exists {
		return billing.ErrPaymentNotFound
	}
	cp := *p
	t.s.data.payments[p.ID] = &cp
	return nil
}

func (t *tx) GetSku(_ context.Context, skuID id.SkuID) (*sku.Sku, error) {
	return t.s.data.getSku(skuID)
}

func (t *tx) GetDiscount(_ context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return t.s.data.getDiscount(discountID)
}

func (t *tx) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	return t.s.data.getPlan(planID)
}

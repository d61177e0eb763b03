package store

import (
	"context"
	"time"

	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

// Store is the unified storage interface for all billing entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Everything that moves money or advances an entitlement marker goes
// through RunInTx; the methods on Store itself only read, or write rows
// that no balance depends on.
type Store interface {
	// Sku methods
	CreateSku(ctx context.Context, s *sku.Sku) error
	GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error)
	GetSkuByTitle(ctx context.Context, tenantID, title string) (*sku.Sku, error)
	ListSkus(ctx context.Context, tenantID string, opts sku.ListOpts) ([]*sku.Sku, error)
	UpdateSku(ctx context.Context, s *sku.Sku) error

	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	ListPlans(ctx context.Context, tenantID string, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error

	// Discount methods
	CreateDiscount(ctx context.Context, d *discount.Discount) error
	GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error)
	GetDiscountByCode(ctx context.Context, tenantID, code string) (*discount.Discount, error)
	ListDiscounts(ctx context.Context, tenantID string, opts discount.ListOpts) ([]*discount.Discount, error)
	UpdateDiscount(ctx context.Context, d *discount.Discount) error

	// VAT methods
	CreateVatRate(ctx context.Context, r *vat.Rate) error
	EffectiveVatRate(ctx context.Context, country string, at time.Time) (*vat.Rate, error)
	ListVatRates(ctx context.Context, country string) ([]*vat.Rate, error)

	// Wallet methods
	CreateWallet(ctx context.Context, w *wallet.Wallet) error
	GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error)
	ListWalletsByOwner(ctx context.Context, ownerID string) ([]*wallet.Wallet, error)
	ListWallets(ctx context.Context, opts wallet.ListOpts) ([]*wallet.Wallet, error)
	DeleteWallet(ctx context.Context, walletID id.WalletID) error

	// Entitlement methods
	GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error)
	ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error)
	ListEntitlementsByObject(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error)
	PurgeEntitlements(ctx context.Context, before time.Time) (int64, error)

	// Transaction methods
	ListTransactions(ctx context.Context, walletID id.WalletID, opts transaction.ListOpts) ([]*transaction.Transaction, error)
	TransactionChildren(ctx context.Context, parentID id.TransactionID) ([]*transaction.Transaction, error)
	SumBalance(ctx context.Context, walletID id.WalletID) (int64, error)

	// Payment methods
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	ListPayments(ctx context.Context, walletID id.WalletID, opts payment.ListOpts) ([]*payment.Payment, error)
	PaymentChildren(ctx context.Context, parentID string) ([]*payment.Payment, error)

	// RunInTx runs fn in one atomic unit of work. Either every write made
	// through tx is committed or none is. fn must not call RunInTx again.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side of a unit of work.
//
// GetWalletForUpdate and GetPaymentForUpdate lock the row until the unit
// of work ends, so that all balance mutations of one wallet and all status
// changes of one payment are serialized.
type Tx interface {
	GetWalletForUpdate(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error)
	// UpdateWallet persists every mutable wallet field, balance included.
	UpdateWallet(ctx context.Context, w *wallet.Wallet) error

	CreateTransactions(ctx context.Context, txns ...*transaction.Transaction) error

	CreateEntitlement(ctx context.Context, e *entitlement.Entitlement) error
	ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error)
	ListEntitlementsByObject(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error)
	// UpdateEntitlement persists the cost override, fee, description,
	// charged-through marker and deletion time.
	UpdateEntitlement(ctx context.Context, e *entitlement.Entitlement) error

	GetPaymentForUpdate(ctx context.Context, paymentID string) (*payment.Payment, error)
	CreatePayment(ctx context.Context, p *payment.Payment) error
	UpdatePayment(ctx context.Context, p *payment.Payment) error

	// Reads of reference data inside the unit of work.
	GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error)
	GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error)
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
}

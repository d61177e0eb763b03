// Package postgres is a PostgreSQL store on a pgx connection pool.
//
// Units of work run in one database transaction. Wallet and payment rows
// are locked with SELECT ... FOR UPDATE so that balance mutations of one
// wallet and status changes of one payment are serialized across
// processes.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/billing"
	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on pool. The pool is shared with the caller, who
// keeps ownership unless Close is called.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
		return fn(ctx, &tx{q: ptx})
	})
}

// ──────────────────────────────────────────────────
// Sku methods
// ──────────────────────────────────────────────────

func (s *Store) CreateSku(ctx context.Context, sk *sku.Sku) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_skus (`+skuColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sk.ID, sk.TenantID, sk.Title, sk.Name, sk.Description, sk.Cost, sk.Fee, sk.Units,
		sk.Period, sk.Handler, sk.Active, sk.CreatedAt, sk.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create sku: %w", conflict(err))
	}
	return nil
}

func (s *Store) GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error) {
	return getSku(ctx, s.pool, skuID)
}

func getSku(ctx context.Context, q querier, skuID id.SkuID) (*sku.Sku, error) {
	rows, err := q.Query(ctx, `SELECT `+skuColumns+` FROM billing_skus WHERE id = $1`, skuID)
	return one(rows, err, scanSku, billing.ErrSkuNotFound)
}

func (s *Store) GetSkuByTitle(ctx context.Context, tenantID, title string) (*sku.Sku, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+skuColumns+` FROM billing_skus WHERE tenant_id = $1 AND title = $2`,
		tenantID, title,
	)
	return one(rows, err, scanSku, billing.ErrSkuNotFound)
}

func (s *Store) ListSkus(ctx context.Context, tenantID string, opts sku.ListOpts) ([]*sku.Sku, error) {
	q := `SELECT ` + skuColumns + ` FROM billing_skus WHERE tenant_id = $1`
	if opts.Active {
		q += ` AND active`
	}
	q += ` ORDER BY title` + page(opts.Offset, opts.Limit)

	rows, err := s.pool.Query(ctx, q, tenantID)
	return all(rows, err, scanSku)
}

func (s *Store) UpdateSku(ctx context.Context, sk *sku.Sku) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE billing_skus
SET title = $2, name = $3, description = $4, cost = $5, fee = $6, units_free = $7,
    period = $8, handler = $9, active = $10, updated_at = $11
WHERE id = $1`,
		sk.ID, sk.Title, sk.Name, sk.Description, sk.Cost, sk.Fee, sk.Units,
		sk.Period, sk.Handler, sk.Active, sk.UpdatedAt,
	)
	return affected(tag, err, "update sku", billing.ErrSkuNotFound)
}

// ──────────────────────────────────────────────────
// Plan methods
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_plans (`+planColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.TenantID, p.Title, p.Name, p.Description, p.Status, p.FreeMonths,
		planItems(p), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create plan: %w", conflict(err))
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return getPlan(ctx, s.pool, planID)
}

func getPlan(ctx context.Context, q querier, planID id.PlanID) (*plan.Plan, error) {
	rows, err := q.Query(ctx, `SELECT `+planColumns+` FROM billing_plans WHERE id = $1`, planID)
	return one(rows, err, scanPlan, billing.ErrPlanNotFound)
}

func (s *Store) ListPlans(ctx context.Context, tenantID string, opts plan.ListOpts) ([]*plan.Plan, error) {
	args := []any{tenantID}
	q := `SELECT ` + planColumns + ` FROM billing_plans WHERE tenant_id = $1`
	if opts.Status != "" {
		args = append(args, opts.Status)
		q += ` AND status = $2`
	}
	q += ` ORDER BY title` + page(opts.Offset, opts.Limit)

	rows, err := s.pool.Query(ctx, q, args...)
	return all(rows, err, scanPlan)
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE billing_plans
SET title = $2, name = $3, description = $4, status = $5, free_months = $6, items = $7, updated_at = $8
WHERE id = $1`,
		p.ID, p.Title, p.Name, p.Description, p.Status, p.FreeMonths, planItems(p), p.UpdatedAt,
	)
	return affected(tag, err, "update plan", billing.ErrPlanNotFound)
}

func planItems(p *plan.Plan) []plan.Item {
	if p.Items == nil {
		return []plan.Item{}
	}
	return p.Items
}

// ──────────────────────────────────────────────────
// Discount methods
// ──────────────────────────────────────────────────

func (s *Store) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_discounts (`+discountColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.TenantID, d.Code, d.Description, d.Percent, d.Active, d.ValidFrom, d.ValidUntil,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create discount: %w", conflict(err))
	}
	return nil
}

func (s *Store) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return getDiscount(ctx, s.pool, discountID)
}

func getDiscount(ctx context.Context, q querier, discountID id.DiscountID) (*discount.Discount, error) {
	rows, err := q.Query(ctx, `SELECT `+discountColumns+` FROM billing_discounts WHERE id = $1`, discountID)
	return one(rows, err, scanDiscount, billing.ErrDiscountNotFound)
}

func (s *Store) GetDiscountByCode(ctx context.Context, tenantID, code string) (*discount.Discount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+discountColumns+` FROM billing_discounts
WHERE tenant_id = $1 AND LOWER(code) = LOWER($2)
ORDER BY created_at LIMIT 1`,
		tenantID, code,
	)
	return one(rows, err, scanDiscount, billing.ErrDiscountNotFound)
}

func (s *Store) ListDiscounts(ctx context.Context, tenantID string, opts discount.ListOpts) ([]*discount.Discount, error) {
	q := `SELECT ` + discountColumns + ` FROM billing_discounts WHERE tenant_id = $1`
	if opts.Active {
		q += ` AND active`
	}
	q += ` ORDER BY percent, id` + page(opts.Offset, opts.Limit)

	rows, err := s.pool.Query(ctx, q, tenantID)
	return all(rows, err, scanDiscount)
}

func (s *Store) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE billing_discounts
SET code = $2, description = $3, percent = $4, active = $5, valid_from = $6, valid_until = $7, updated_at = $8
WHERE id = $1`,
		d.ID, d.Code, d.Description, d.Percent, d.Active, d.ValidFrom, d.ValidUntil, d.UpdatedAt,
	)
	return affected(tag, err, "update discount", billing.ErrDiscountNotFound)
}

// ──────────────────────────────────────────────────
// VAT methods
// ──────────────────────────────────────────────────

func (s *Store) CreateVatRate(ctx context.Context, r *vat.Rate) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_vat_rates (id, country, rate, start)
VALUES ($1, $2, $3::TEXT::NUMERIC, $4)`,
		r.ID, strings.ToUpper(r.Country), r.Rate.String(), r.Start,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create vat rate: %w", conflict(err))
	}
	return nil
}

func (s *Store) EffectiveVatRate(ctx context.Context, country string, at time.Time) (*vat.Rate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+vatColumns+` FROM billing_vat_rates
WHERE country = $1 AND start <= $2
ORDER BY start DESC LIMIT 1`,
		strings.ToUpper(country), at,
	)
	return one(rows, err, scanVatRate, billing.ErrVatRateNotFound)
}

func (s *Store) ListVatRates(ctx context.Context, country string) ([]*vat.Rate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+vatColumns+` FROM billing_vat_rates
WHERE $1 = '' OR country = $1
ORDER BY start DESC`,
		strings.ToUpper(country),
	)
	return all(rows, err, scanVatRate)
}

// ──────────────────────────────────────────────────
// Wallet methods
// ──────────────────────────────────────────────────

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_wallets (`+walletColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		w.ID, w.TenantID, w.OwnerID, w.Description, w.Balance, w.Currency, w.Country,
		w.DiscountID, w.PlanID, w.TenantWalletID, controllers(w), w.Restricted,
		w.Mandate, w.Check, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing/postgres: create wallet: %w", conflict(err))
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+walletColumns+` FROM billing_wallets WHERE id = $1`, walletID)
	return one(rows, err, scanWallet, billing.ErrWalletNotFound)
}

func (s *Store) ListWalletsByOwner(ctx context.Context, ownerID string) ([]*wallet.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+walletColumns+` FROM billing_wallets
WHERE owner_id = $1
ORDER BY created_at, id`,
		ownerID,
	)
	return all(rows, err, scanWallet)
}

func (s *Store) ListWallets(ctx context.Context, opts wallet.ListOpts) ([]*wallet.Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM billing_wallets WHERE ($1 = '' OR tenant_id = $1)`
	if opts.Negative {
		q += ` AND balance < 0`
	}
	q += ` ORDER BY created_at, id` + page(opts.Offset, opts.Limit)

	rows, err := s.pool.Query(ctx, q, opts.TenantID)
	return all(rows, err, scanWallet)
}

func (s *Store) DeleteWallet(ctx context.Context, walletID id.WalletID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM billing_wallets WHERE id = $1`, walletID)
	return affected(tag, err, "delete wallet", billing.ErrWalletNotFound)
}

func controllers(w *wallet.Wallet) []string {
	if w.Controllers == nil {
		return []string{}
	}
	return w.Controllers
}

// ──────────────────────────────────────────────────
// Entitlement methods
// ──────────────────────────────────────────────────

func (s *Store) GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entitlementColumns+` FROM billing_entitlements WHERE id = $1`, entID)
	return one(rows, err, scanEntitlement, billing.ErrEntitlementNotFound)
}

func (s *Store) ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	return listEntitlements(ctx, s.pool, walletID, opts, false)
}

func listEntitlements(ctx context.Context, q querier, walletID id.WalletID, opts entitlement.ListOpts, lock bool) ([]*entitlement.Entitlement, error) {
	args := []any{walletID}
	sql := `SELECT ` + entitlementColumns + ` FROM billing_entitlements WHERE wallet_id = $1`
	if !opts.SkuID.IsNil() {
		args = append(args, opts.SkuID)
		sql += ` AND sku_id = $` + strconv.Itoa(len(args))
	}
	if !opts.WithDeleted {
		sql += ` AND deleted_at IS NULL`
	}
	sql += ` ORDER BY created_at, id`
	if lock {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, args...)
	return all(rows, err, scanEntitlement)
}

func (s *Store) ListEntitlementsByObject(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	return listEntitlementsByObject(ctx, s.pool, ref)
}

func listEntitlementsByObject(ctx context.Context, q querier, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	rows, err := q.Query(ctx, `
SELECT `+entitlementColumns+` FROM billing_entitlements
WHERE object_type = $1 AND object_id = $2 AND deleted_at IS NULL
ORDER BY created_at, id`,
		ref.Type, ref.ID,
	)
	return all(rows, err, scanEntitlement)
}

// PurgeEntitlements removes entitlements deleted before the cutoff whose
// last period has been settled.
func (s *Store) PurgeEntitlements(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM billing_entitlements
WHERE deleted_at IS NOT NULL AND deleted_at < $1 AND updated_at >= deleted_at`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("billing/postgres: purge entitlements: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ──────────────────────────────────────────────────
// Transaction methods
// ──────────────────────────────────────────────────

func (s *Store) ListTransactions(ctx context.Context, walletID id.WalletID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	args := []any{walletID}
	q := `SELECT ` + transactionColumns + ` FROM billing_transactions
WHERE wallet_id = $1 AND COALESCE(parent_id, '') = ''`
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		q += ` AND type = ANY($2)`
	}
	q += ` ORDER BY seq DESC` + page(opts.Offset, opts.Limit)

	rows, err := s.pool.Query(ctx, q, args...)
	return all(rows, err, scanTransaction)
}

func (s *Store) TransactionChildren(ctx context.Context, parentID id.TransactionID) ([]*transaction.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+transactionColumns+` FROM billing_transactions
WHERE parent_id = $1
ORDER BY seq`,
		parentID.String(),
	)
	return all(rows, err, scanTransaction)
}

func (s *Store) SumBalance(ctx context.Context, walletID id.WalletID) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0)::BIGINT FROM billing_transactions
WHERE wallet_id = $1 AND object_type = $2`,
		walletID, transaction.ObjectWallet,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("billing/postgres: sum balance: %w", err)
	}
	return sum, nil
}

// ──────────────────────────────────────────────────
// Payment methods
// ──────────────────────────────────────────────────

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+paymentColumns+` FROM billing_payments WHERE id = $1`, paymentID)
	return one(rows, err, scanPayment, billing.ErrPaymentNotFound)
}

func (s *Store) ListPayments(ctx context.Context, walletID id.WalletID, opts payment.ListOpts) ([]*payment.Payment, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+paymentColumns+` FROM billing_payments
WHERE wallet_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR type = $3)
ORDER BY created_at DESC, id DESC`+page(opts.Offset, opts.Limit),
		walletID, string(opts.Status), string(opts.Type),
	)
	return all(rows, err, scanPayment)
}

func (s *Store) PaymentChildren(ctx context.Context, parentID string) ([]*payment.Payment, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+paymentColumns+` FROM billing_payments
WHERE parent_id = $1
ORDER BY created_at DESC, id DESC`,
		parentID,
	)
	return all(rows, err, scanPayment)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// page renders LIMIT/OFFSET for non-negative integers.
func page(offset, limit int) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	return b.String()
}

// affected maps a zero-row update or delete to notFound.
func affected(tag pgconn.CommandTag, err error, op string, notFound error) error {
	if err != nil {
		return fmt.Errorf("billing/postgres: %s: %w", op, conflict(err))
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/xraph/billing"
	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

const (
	skuColumns = `id, tenant_id, title, name, description, cost, fee, units_free, period, handler, active, created_at, updated_at`

	planColumns = `id, tenant_id, title, name, description, status, free_months, items, created_at, updated_at`

	discountColumns = `id, tenant_id, code, description, percent, active, valid_from, valid_until, created_at, updated_at`

	vatColumns = `id, country, rate::TEXT, start`

	walletColumns = `id, tenant_id, owner_id, description, balance, currency, country, discount_id, plan_id,
	tenant_wallet_id, controllers, restricted, mandate, check_state, created_at, updated_at`

	entitlementColumns = `id, wallet_id, sku_id, object_type, object_id, cost, fee, description, created_at, updated_at, deleted_at`

	transactionColumns = `id, wallet_id, object_type, object_id, type, amount, description, parent_id, payment_id, user_id, created_at`

	paymentColumns = `id, wallet_id, provider, type, status, amount, credit_amount, currency_amount, currency,
	vat_rate_id, description, parent_id, checkout_url, created_at, updated_at`
)

func scanSku(row pgx.CollectableRow) (*sku.Sku, error) {
	var s sku.Sku
	err := row.Scan(&s.ID, &s.TenantID, &s.Title, &s.Name, &s.Description, &s.Cost, &s.Fee,
		&s.Units, &s.Period, &s.Handler, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func scanPlan(row pgx.CollectableRow) (*plan.Plan, error) {
	var p plan.Plan
	err := row.Scan(&p.ID, &p.TenantID, &p.Title, &p.Name, &p.Description, &p.Status,
		&p.FreeMonths, &p.Items, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func scanDiscount(row pgx.CollectableRow) (*discount.Discount, error) {
	var d discount.Discount
	err := row.Scan(&d.ID, &d.TenantID, &d.Code, &d.Description, &d.Percent, &d.Active,
		&d.ValidFrom, &d.ValidUntil, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func scanVatRate(row pgx.CollectableRow) (*vat.Rate, error) {
	var (
		r    vat.Rate
		rate string
	)
	if err := row.Scan(&r.ID, &r.Country, &rate, &r.Start); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, err
	}
	r.Rate = d
	return &r, nil
}

func scanWallet(row pgx.CollectableRow) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := row.Scan(&w.ID, &w.TenantID, &w.OwnerID, &w.Description, &w.Balance, &w.Currency,
		&w.Country, &w.DiscountID, &w.PlanID, &w.TenantWalletID, &w.Controllers, &w.Restricted,
		&w.Mandate, &w.Check, &w.CreatedAt, &w.UpdatedAt)
	return &w, err
}

func scanEntitlement(row pgx.CollectableRow) (*entitlement.Entitlement, error) {
	var e entitlement.Entitlement
	err := row.Scan(&e.ID, &e.WalletID, &e.SkuID, &e.Object.Type, &e.Object.ID, &e.Cost, &e.Fee,
		&e.Description, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	return &e, err
}

func scanTransaction(row pgx.CollectableRow) (*transaction.Transaction, error) {
	var t transaction.Transaction
	err := row.Scan(&t.ID, &t.WalletID, &t.ObjectType, &t.ObjectID, &t.Type, &t.Amount,
		&t.Description, &t.ParentID, &t.PaymentID, &t.UserID, &t.CreatedAt)
	return &t, err
}

func scanPayment(row pgx.CollectableRow) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(&p.ID, &p.WalletID, &p.Provider, &p.Type, &p.Status, &p.Amount, &p.CreditAmount,
		&p.CurrencyAmount, &p.Currency, &p.VatRateID, &p.Description, &p.ParentID, &p.CheckoutURL,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

// one collects a single row, mapping "no rows" to notFound.
func one[T any](rows pgx.Rows, err error, scan pgx.RowToFunc[*T], notFound error) (*T, error) {
	if err != nil {
		return nil, err
	}
	v, err := pgx.CollectExactlyOneRow(rows, scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	return v, err
}

// all collects every row, never returning a nil slice.
func all[T any](rows pgx.Rows, err error, scan pgx.RowToFunc[*T]) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make([]*T, 0)
	}
	return out, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// conflict maps a unique violation to billing.ErrAlreadyExists.
func conflict(err error) error {
	if isUniqueViolation(err) {
		return billing.ErrAlreadyExists
	}
	return err
}

package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/grove"

	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

// ==================== Sku models ====================

type skuModel struct {
	grove.BaseModel `grove:"table:billing_skus"`

	ID          string    `grove:"id,pk"       bson:"_id"`
	TenantID    string    `grove:"tenant_id"   bson:"tenant_id"`
	Title       string    `grove:"title"       bson:"title"`
	Name        string    `grove:"name"        bson:"name"`
	Description string    `grove:"description" bson:"description"`
	Cost        int64     `grove:"cost"        bson:"cost"`
	Fee         int64     `grove:"fee"         bson:"fee"`
	Units       int       `grove:"units_free"  bson:"units_free"`
	Period      string    `grove:"period"      bson:"period"`
	Handler     string    `grove:"handler"     bson:"handler"`
	Active      bool      `grove:"active"      bson:"active"`
	CreatedAt   time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toSkuModel(s *sku.Sku) *skuModel {
	return &skuModel{
		ID:          s.ID.String(),
		TenantID:    s.TenantID,
		Title:       s.Title,
		Name:        s.Name,
		Description: s.Description,
		Cost:        s.Cost,
		Fee:         s.Fee,
		Units:       s.Units,
		Period:      string(s.Period),
		Handler:     string(s.Handler),
		Active:      s.Active,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromSkuModel(m *skuModel) (*sku.Sku, error) {
	skuID, err := id.ParseSkuID(m.ID)
	if err != nil {
		return nil, err
	}
	return &sku.Sku{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          skuID,
		TenantID:    m.TenantID,
		Title:       m.Title,
		Name:        m.Name,
		Description: m.Description,
		Cost:        m.Cost,
		Fee:         m.Fee,
		Units:       m.Units,
		Period:      sku.Period(m.Period),
		Handler:     entitlement.Object(m.Handler),
		Active:      m.Active,
	}, nil
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:billing_plans"`

	ID          string          `grove:"id,pk"       bson:"_id"`
	TenantID    string          `grove:"tenant_id"   bson:"tenant_id"`
	Title       string          `grove:"title"       bson:"title"`
	Name        string          `grove:"name"        bson:"name"`
	Description string          `grove:"description" bson:"description"`
	Status      string          `grove:"status"      bson:"status"`
	FreeMonths  int             `grove:"free_months" bson:"free_months"`
	Items       []planItemModel `grove:"items"       bson:"items"`
	CreatedAt   time.Time       `grove:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"  bson:"updated_at"`
}

type planItemModel struct {
	SkuID string `bson:"sku_id"`
	Qty   int    `bson:"qty"`
	Cost  int64  `bson:"cost"`
}

func toPlanModel(p *plan.Plan) *planModel {
	items := make([]planItemModel, len(p.Items))
	for i, it := range p.Items {
		items[i] = planItemModel{SkuID: it.SkuID.String(), Qty: it.Qty, Cost: it.Cost}
	}
	return &planModel{
		ID:          p.ID.String(),
		TenantID:    p.TenantID,
		Title:       p.Title,
		Name:        p.Name,
		Description: p.Description,
		Status:      string(p.Status),
		FreeMonths:  p.FreeMonths,
		Items:       items,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	items := make([]plan.Item, len(m.Items))
	for i, it := range m.Items {
		skuID, err := id.ParseSkuID(it.SkuID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse plan item sku %q: %w", it.SkuID, err)
		}
		items[i] = plan.Item{SkuID: skuID, Qty: it.Qty, Cost: it.Cost}
	}
	return &plan.Plan{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          planID,
		TenantID:    m.TenantID,
		Title:       m.Title,
		Name:        m.Name,
		Description: m.Description,
		Status:      plan.Status(m.Status),
		FreeMonths:  m.FreeMonths,
		Items:       items,
	}, nil
}

// ==================== Discount models ====================

type discountModel struct {
	grove.BaseModel `grove:"table:billing_discounts"`

	ID          string     `grove:"id,pk"       bson:"_id"`
	TenantID    string     `grove:"tenant_id"   bson:"tenant_id"`
	Code        string     `grove:"code"        bson:"code"`
	CodeLower   string     `grove:"code_lower"  bson:"code_lower"`
	Description string     `grove:"description" bson:"description"`
	Percent     int        `grove:"percent"     bson:"percent"`
	Active      bool       `grove:"active"      bson:"active"`
	ValidFrom   *time.Time `grove:"valid_from"  bson:"valid_from,omitempty"`
	ValidUntil  *time.Time `grove:"valid_until" bson:"valid_until,omitempty"`
	CreatedAt   time.Time  `grove:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"  bson:"updated_at"`
}

func toDiscountModel(d *discount.Discount) *discountModel {
	return &discountModel{
		ID:          d.ID.String(),
		TenantID:    d.TenantID,
		Code:        d.Code,
		CodeLower:   lower(d.Code),
		Description: d.Description,
		Percent:     d.Percent,
		Active:      d.Active,
		ValidFrom:   d.ValidFrom,
		ValidUntil:  d.ValidUntil,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func fromDiscountModel(m *discountModel) (*discount.Discount, error) {
	discountID, err := id.ParseDiscountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &discount.Discount{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          discountID,
		TenantID:    m.TenantID,
		Code:        m.Code,
		Description: m.Description,
		Percent:     m.Percent,
		Active:      m.Active,
		ValidFrom:   utc(m.ValidFrom),
		ValidUntil:  utc(m.ValidUntil),
	}, nil
}

// ==================== VAT models ====================

type vatRateModel struct {
	grove.BaseModel `grove:"table:billing_vat_rates"`

	ID      string    `grove:"id,pk"   bson:"_id"`
	Country string    `grove:"country" bson:"country"`
	Rate    string    `grove:"rate"    bson:"rate"`
	Start   time.Time `grove:"start"   bson:"start"`
}

func toVatRateModel(r *vat.Rate) *vatRateModel {
	return &vatRateModel{
		ID:      r.ID.String(),
		Country: upper(r.Country),
		Rate:    r.Rate.String(),
		Start:   r.Start,
	}
}

func fromVatRateModel(m *vatRateModel) (*vat.Rate, error) {
	rateID, err := id.ParseVatRateID(m.ID)
	if err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(m.Rate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vat rate %q: %w", m.Rate, err)
	}
	return &vat.Rate{ID: rateID, Country: m.Country, Rate: rate, Start: m.Start.UTC()}, nil
}

// ==================== Wallet models ====================

type walletModel struct {
	grove.BaseModel `grove:"table:billing_wallets"`

	ID             string       `grove:"id,pk"            bson:"_id"`
	TenantID       string       `grove:"tenant_id"        bson:"tenant_id"`
	OwnerID        string       `grove:"owner_id"         bson:"owner_id"`
	Description    string       `grove:"description"      bson:"description"`
	Balance        int64        `grove:"balance"          bson:"balance"`
	Currency       string       `grove:"currency"         bson:"currency"`
	Country        string       `grove:"country"          bson:"country"`
	DiscountID     string       `grove:"discount_id"      bson:"discount_id,omitempty"`
	PlanID         string       `grove:"plan_id"          bson:"plan_id,omitempty"`
	TenantWalletID string       `grove:"tenant_wallet_id" bson:"tenant_wallet_id,omitempty"`
	Controllers    []string     `grove:"controllers"      bson:"controllers"`
	Restricted     bool         `grove:"restricted"       bson:"restricted"`
	Mandate        mandateModel `grove:"mandate"          bson:"mandate"`
	Check          checkModel   `grove:"check_state"      bson:"check_state"`
	CreatedAt      time.Time    `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time    `grove:"updated_at"       bson:"updated_at"`
	// Version is bumped by every locking read so that concurrent units
	// of work on the same wallet conflict.
	Version int64 `grove:"version" bson:"version"`
}

type mandateModel struct {
	Provider   string `bson:"provider,omitempty"`
	ID         string `bson:"id,omitempty"`
	CustomerID string `bson:"customer_id,omitempty"`
	Amount     int64  `bson:"amount"`
	Balance    int64  `bson:"balance"`
	Disabled   bool   `bson:"disabled"`
}

type checkModel struct {
	NegativeSince  *time.Time `bson:"negative_since,omitempty"`
	InitialSentAt  *time.Time `bson:"initial_sent_at,omitempty"`
	ReminderSentAt *time.Time `bson:"reminder_sent_at,omitempty"`
	DegradedSentAt *time.Time `bson:"degraded_sent_at,omitempty"`
}

func toWalletModel(w *wallet.Wallet) *walletModel {
	ctrl := w.Controllers
	if ctrl == nil {
		ctrl = []string{}
	}
	return &walletModel{
		ID:             w.ID.String(),
		TenantID:       w.TenantID,
		OwnerID:        w.OwnerID,
		Description:    w.Description,
		Balance:        w.Balance,
		Currency:       w.Currency,
		Country:        w.Country,
		DiscountID:     w.DiscountID.String(),
		PlanID:         w.PlanID.String(),
		TenantWalletID: w.TenantWalletID.String(),
		Controllers:    ctrl,
		Restricted:     w.Restricted,
		Mandate:        mandateModel(w.Mandate),
		Check: checkModel{
			NegativeSince:  w.Check.NegativeSince,
			InitialSentAt:  w.Check.InitialSentAt,
			ReminderSentAt: w.Check.ReminderSentAt,
			DegradedSentAt: w.Check.DegradedSentAt,
		},
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func fromWalletModel(m *walletModel) (*wallet.Wallet, error) {
	walletID, err := id.ParseWalletID(m.ID)
	if err != nil {
		return nil, err
	}
	discountID, err := id.ParseOptional(m.DiscountID, id.PrefixDiscount)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParseOptional(m.PlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}
	tenantWalletID, err := id.ParseOptional(m.TenantWalletID, id.PrefixWallet)
	if err != nil {
		return nil, err
	}
	return &wallet.Wallet{
		Entity:         types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:             walletID,
		TenantID:       m.TenantID,
		OwnerID:        m.OwnerID,
		Description:    m.Description,
		Balance:        m.Balance,
		Currency:       m.Currency,
		Country:        m.Country,
		DiscountID:     discountID,
		PlanID:         planID,
		TenantWalletID: tenantWalletID,
		Controllers:    m.Controllers,
		Restricted:     m.Restricted,
		Mandate:        wallet.Mandate(m.Mandate),
		Check: wallet.CheckState{
			NegativeSince:  utc(m.Check.NegativeSince),
			InitialSentAt:  utc(m.Check.InitialSentAt),
			ReminderSentAt: utc(m.Check.ReminderSentAt),
			DegradedSentAt: utc(m.Check.DegradedSentAt),
		},
	}, nil
}

// ==================== Entitlement models ====================

type entitlementModel struct {
	grove.BaseModel `grove:"table:billing_entitlements"`

	ID          string     `grove:"id,pk"       bson:"_id"`
	WalletID    string     `grove:"wallet_id"   bson:"wallet_id"`
	SkuID       string     `grove:"sku_id"      bson:"sku_id"`
	ObjectType  string     `grove:"object_type" bson:"object_type"`
	ObjectID    string     `grove:"object_id"   bson:"object_id"`
	Cost        *int64     `grove:"cost"        bson:"cost,omitempty"`
	Fee         *int64     `grove:"fee"         bson:"fee,omitempty"`
	Description string     `grove:"description" bson:"description"`
	CreatedAt   time.Time  `grove:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"  bson:"updated_at"`
	DeletedAt   *time.Time `grove:"deleted_at"  bson:"deleted_at"`
}

func toEntitlementModel(e *entitlement.Entitlement) *entitlementModel {
	return &entitlementModel{
		ID:          e.ID.String(),
		WalletID:    e.WalletID.String(),
		SkuID:       e.SkuID.String(),
		ObjectType:  string(e.Object.Type),
		ObjectID:    e.Object.ID,
		Cost:        e.Cost,
		Fee:         e.Fee,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		DeletedAt:   e.DeletedAt,
	}
}

func fromEntitlementModel(m *entitlementModel) (*entitlement.Entitlement, error) {
	entID, err := id.ParseEntitlementID(m.ID)
	if err != nil {
		return nil, err
	}
	walletID, err := id.ParseWalletID(m.WalletID)
	if err != nil {
		return nil, err
	}
	skuID, err := id.ParseSkuID(m.SkuID)
	if err != nil {
		return nil, err
	}
	return &entitlement.Entitlement{
		ID:          entID,
		WalletID:    walletID,
		SkuID:       skuID,
		Object:      entitlement.Ref{Type: entitlement.Object(m.ObjectType), ID: m.ObjectID},
		Cost:        m.Cost,
		Fee:         m.Fee,
		Description: m.Description,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
		DeletedAt:   utc(m.DeletedAt),
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:billing_transactions"`

	ID          string    `grove:"id,pk"       bson:"_id"`
	WalletID    string    `grove:"wallet_id"   bson:"wallet_id"`
	ObjectType  string    `grove:"object_type" bson:"object_type"`
	ObjectID    string    `grove:"object_id"   bson:"object_id"`
	Type        string    `grove:"type"        bson:"type"`
	Amount      int64     `grove:"amount"      bson:"amount"`
	Description string    `grove:"description" bson:"description"`
	ParentID    string    `grove:"parent_id"   bson:"parent_id"`
	PaymentID   string    `grove:"payment_id"  bson:"payment_id"`
	UserID      string    `grove:"user_id"     bson:"user_id"`
	CreatedAt   time.Time `grove:"created_at"  bson:"created_at"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:          t.ID.String(),
		WalletID:    t.WalletID.String(),
		ObjectType:  string(t.ObjectType),
		ObjectID:    t.ObjectID,
		Type:        string(t.Type),
		Amount:      t.Amount,
		Description: t.Description,
		ParentID:    t.ParentID.String(),
		PaymentID:   t.PaymentID,
		UserID:      t.UserID,
		CreatedAt:   t.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	walletID, err := id.ParseWalletID(m.WalletID)
	if err != nil {
		return nil, err
	}
	parentID, err := id.ParseOptional(m.ParentID, id.PrefixTransaction)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:          txnID,
		WalletID:    walletID,
		ObjectType:  transaction.ObjectType(m.ObjectType),
		ObjectID:    m.ObjectID,
		Type:        transaction.Type(m.Type),
		Amount:      m.Amount,
		Description: m.Description,
		ParentID:    parentID,
		PaymentID:   m.PaymentID,
		UserID:      m.UserID,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:billing_payments"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	WalletID       string    `grove:"wallet_id"       bson:"wallet_id"`
	Provider       string    `grove:"provider"        bson:"provider"`
	Type           string    `grove:"type"            bson:"type"`
	Status         string    `grove:"status"          bson:"status"`
	Amount         int64     `grove:"amount"          bson:"amount"`
	CreditAmount   int64     `grove:"credit_amount"   bson:"credit_amount"`
	CurrencyAmount int64     `grove:"currency_amount" bson:"currency_amount"`
	Currency       string    `grove:"currency"        bson:"currency"`
	VatRateID      string    `grove:"vat_rate_id"     bson:"vat_rate_id,omitempty"`
	Description    string    `grove:"description"     bson:"description"`
	ParentID       string    `grove:"parent_id"       bson:"parent_id"`
	CheckoutURL    string    `grove:"checkout_url"    bson:"checkout_url"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
	Version        int64     `grove:"version"         bson:"version"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:             p.ID,
		WalletID:       p.WalletID.String(),
		Provider:       p.Provider,
		Type:           string(p.Type),
		Status:         string(p.Status),
		Amount:         p.Amount,
		CreditAmount:   p.CreditAmount,
		CurrencyAmount: p.CurrencyAmount,
		Currency:       p.Currency,
		VatRateID:      p.VatRateID.String(),
		Description:    p.Description,
		ParentID:       p.ParentID,
		CheckoutURL:    p.CheckoutURL,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	walletID, err := id.ParseWalletID(m.WalletID)
	if err != nil {
		return nil, err
	}
	vatRateID, err := id.ParseOptional(m.VatRateID, id.PrefixVatRate)
	if err != nil {
		return nil, err
	}
	return &payment.Payment{
		Entity:         types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:             m.ID,
		WalletID:       walletID,
		Provider:       m.Provider,
		Type:           payment.Type(m.Type),
		Status:         payment.Status(m.Status),
		Amount:         m.Amount,
		CreditAmount:   m.CreditAmount,
		CurrencyAmount: m.CurrencyAmount,
		Currency:       m.Currency,
		VatRateID:      vatRateID,
		Description:    m.Description,
		ParentID:       m.ParentID,
		CheckoutURL:    m.CheckoutURL,
	}, nil
}

// utc normalizes a decoded BSON time, which comes back in local time.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

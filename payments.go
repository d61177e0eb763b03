package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xraph/billing/fx"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

// PaymentRequest asks for a one-off payment credited to a wallet.
type PaymentRequest struct {
	WalletID id.WalletID
	Provider string
	// Amount is credited to the wallet, in the wallet currency, VAT
	// excluded.
	Amount int64 `validate:"gt=0"`
	// Currency is the currency charged, the wallet currency when empty.
	Currency    string `validate:"omitempty,len=3"`
	MethodID    string
	Description string
	RedirectURL string `validate:"omitempty,url"`
}

// RefundRequest asks a provider to return part of a paid payment. Amount
// is in the currency the payment was charged in.
type RefundRequest struct {
	PaymentID   string `validate:"required"`
	Amount      int64  `validate:"gt=0"`
	Description string
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

// CreatePayment opens a one-off payment with a provider. The wallet is
// credited when the provider reports the payment paid.
func (e *Engine) CreatePayment(ctx context.Context, req PaymentRequest) (*payment.Payment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	w, err := e.store.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if req.Amount < e.config.MinPaymentAmount {
		return nil, ValidationError{
			Field:   "amount",
			Message: "must be at least " + types.New(e.config.MinPaymentAmount, w.Currency).String(),
			Err:     ErrAmountTooLow,
		}
	}
	prov, err := e.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	rate, err := e.vatRate(ctx, w)
	if err != nil {
		return nil, err
	}
	gross := rate.Gross(req.Amount)

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = w.Currency
	}
	charged, err := fx.Convert(ctx, e.rates, gross, w.Currency, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCurrencyMismatch, err)
	}

	description := req.Description
	if description == "" {
		description = "Wallet credit"
	}

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	res, err := prov.CreatePayment(gctx, provider.PaymentRequest{
		WalletID:       w.ID,
		OwnerName:      w.OwnerID,
		CustomerID:     w.Mandate.CustomerID,
		Type:           payment.TypeOneOff,
		Amount:         charged,
		Currency:       currency,
		Description:    description,
		MethodID:       req.MethodID,
		RedirectURL:    req.RedirectURL,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, e.gatewayError(ctx, prov.Name(), "create_payment", err)
	}

	pay := e.newPayment(w, prov.Name(), payment.TypeOneOff, res, description)
	pay.Amount = gross
	pay.CreditAmount = req.Amount
	pay.Currency = currency
	pay.CurrencyAmount = charged
	if rate != nil {
		pay.VatRateID = rate.ID
	}
	overrideCurrency(pay, res)

	if err := e.openPayment(ctx, pay, res); err != nil {
		return nil, err
	}
	return pay, nil
}

// GetPayment retrieves a payment by its gateway ID.
func (e *Engine) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return e.store.GetPayment(ctx, paymentID)
}

// Payments lists the payments of a wallet, newest first.
func (e *Engine) Payments(ctx context.Context, walletID id.WalletID, opts payment.ListOpts) ([]*payment.Payment, error) {
	return e.store.ListPayments(ctx, walletID, opts)
}

// PaymentReversals lists the refunds and chargebacks of a payment.
func (e *Engine) PaymentReversals(ctx context.Context, paymentID string) ([]*payment.Payment, error) {
	return e.store.PaymentChildren(ctx, paymentID)
}

// RefundPayment refunds part of a paid payment through its provider. The
// wallet is debited once the provider reports the refund settled; the
// returned reversal is pending until then.
func (e *Engine) RefundPayment(ctx context.Context, req RefundRequest) (*payment.Payment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	p, err := e.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusPaid {
		return nil, ErrPaymentNotPaid
	}
	if p.ParentID != "" {
		return nil, ValidationError{Field: "payment_id", Message: "cannot refund a reversal"}
	}

	reversals, err := e.store.PaymentChildren(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var refunded int64
	for _, r := range reversals {
		refunded -= r.CurrencyAmount
	}
	if refunded+req.Amount > p.CurrencyAmount {
		return nil, fmt.Errorf("%w: %d of %d already reversed", ErrRefundTooLarge, refunded, p.CurrencyAmount)
	}

	prov, err := e.providers.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Refund of payment " + p.ID
	}

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	rev, err := prov.Refund(gctx, provider.RefundRequest{
		PaymentID:   p.ID,
		Amount:      req.Amount,
		Currency:    p.Currency,
		Description: description,
	})
	if err != nil {
		return nil, e.gatewayError(ctx, prov.Name(), "refund", err)
	}
	if rev.Description == "" {
		rev.Description = description
	}
	if rev.Type == "" {
		rev.Type = payment.TypeRefund
	}

	if _, err := e.Reconcile(ctx, &provider.NormalizedEvent{
		Provider:  p.Provider,
		PaymentID: p.ID,
		Reversals: []provider.Reversal{*rev},
	}); err != nil {
		return nil, err
	}
	return e.store.GetPayment(ctx, rev.ID)
}

// CancelPayment aborts a pending payment at its provider.
func (e *Engine) CancelPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return p, nil
	}

	prov, err := e.providers.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	status, err := prov.Cancel(gctx, p.ID)
	if err != nil {
		return nil, e.gatewayError(ctx, prov.Name(), "cancel", err)
	}

	if _, err := e.Reconcile(ctx, &provider.NormalizedEvent{Provider: p.Provider, PaymentID: p.ID, Status: status}); err != nil {
		return nil, err
	}
	return e.store.GetPayment(ctx, paymentID)
}

// SyncPayment fetches the gateway state of a payment and reconciles it.
func (e *Engine) SyncPayment(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	prov, err := e.providers.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	ev, err := prov.FetchPayment(gctx, p.ID)
	if err != nil {
		return nil, e.gatewayError(ctx, prov.Name(), "fetch_payment", err)
	}
	if ev == nil {
		return &ReconcileResult{PaymentID: p.ID, From: p.Status, To: p.Status}, nil
	}
	if ev.Provider == "" {
		ev.Provider = p.Provider
	}
	if ev.PaymentID == "" {
		ev.PaymentID = p.ID
	}
	return e.Reconcile(ctx, ev)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// vatRate returns the VAT rate of the wallet country, nil when the wallet
// has no country or the country has no rate.
func (e *Engine) vatRate(ctx context.Context, w *wallet.Wallet) (*vat.Rate, error) {
	if w.Country == "" {
		return nil, nil
	}
	r, err := e.store.EffectiveVatRate(ctx, w.Country, e.now())
	if errors.Is(err, ErrVatRateNotFound) {
		return nil, nil
	}
	return r, err
}

func (e *Engine) newPayment(w *wallet.Wallet, providerName string, typ payment.Type, res *provider.Result, description string) *payment.Payment {
	return &payment.Payment{
		Entity:      types.NewEntityAt(e.now()),
		ID:          res.ID,
		WalletID:    w.ID,
		Provider:    providerName,
		Type:        typ,
		Status:      payment.StatusOpen,
		Currency:    w.Currency,
		Description: description,
		CheckoutURL: res.CheckoutURL,
	}
}

// overrideCurrency applies the settlement currency a gateway chose.
func overrideCurrency(p *payment.Payment, res *provider.Result) {
	if res.Currency != "" && res.CurrencyAmount != 0 {
		p.Currency = strings.ToLower(res.Currency)
		p.CurrencyAmount = res.CurrencyAmount
	}
}

// openPayment persists a new open payment and applies the status the
// gateway already reported, if any.
func (e *Engine) openPayment(ctx context.Context, p *payment.Payment, res *provider.Result) error {
	if p.ID == "" {
		return &provider.Error{Provider: p.Provider, Op: "create_payment", Message: "gateway returned no payment id"}
	}
	if err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreatePayment(ctx, p)
	}); err != nil {
		return err
	}
	e.plugins.EmitPaymentCreated(ctx, p)

	if res.Status == "" || res.Status == payment.StatusOpen {
		return nil
	}
	if _, err := e.Reconcile(ctx, &provider.NormalizedEvent{
		Provider:  p.Provider,
		PaymentID: p.ID,
		Status:    res.Status,
		MandateID: res.MandateID,
	}); err != nil {
		return err
	}

	latest, err := e.store.GetPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *latest
	return nil
}

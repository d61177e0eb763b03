package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// MandateRequest configures auto-payment for a wallet. Amount is charged
// whenever the balance drops under Balance. Both are in the wallet
// currency, VAT excluded.
type MandateRequest struct {
	WalletID    id.WalletID
	Provider    string
	Amount      int64
	Balance     int64
	MethodID    string
	RedirectURL string `validate:"omitempty,url"`
}

// MandateInfo is the auto-payment state of a wallet, merged with what the
// gateway reports.
type MandateInfo struct {
	Provider  string `json:"provider"`
	ID        string `json:"id,omitempty"`
	Amount    int64  `json:"amount"`
	Balance   int64  `json:"balance"`
	Disabled  bool   `json:"is_disabled"`
	MinAmount int64  `json:"min_amount"`
	Method    string `json:"method,omitempty"`
	MethodID  string `json:"method_id,omitempty"`
	Pending   bool   `json:"is_pending"`
	Valid     bool   `json:"is_valid"`
}

// ──────────────────────────────────────────────────
// Mandate Management
// ──────────────────────────────────────────────────

// CreateMandate stores the auto-payment settings and opens the mandate
// setup payment. The setup payment charges nothing unless the balance is
// already under the threshold, in which case it charges the top-up amount.
// An existing mandate is revoked at its gateway first.
func (e *Engine) CreateMandate(ctx context.Context, req MandateRequest) (*payment.Payment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	w, err := e.store.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if err := e.checkMandate(ctx, w, req.Amount, req.Balance); err != nil {
		return nil, err
	}
	prov, err := e.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	if w.Mandate.ID != "" && w.Mandate.Provider == prov.Name() {
		gctx, cancel := e.gatewayCtx(ctx)
		err := prov.DeleteMandate(gctx, w.Mandate)
		cancel()
		if err != nil {
			return nil, e.gatewayError(ctx, prov.Name(), "delete_mandate", err)
		}
	}

	var credit int64
	if w.Balance < req.Balance {
		credit = req.Amount
	}
	rate, err := e.vatRate(ctx, w)
	if err != nil {
		return nil, err
	}
	gross := rate.Gross(credit)

	customerID := w.Mandate.CustomerID
	if w.Mandate.Provider != prov.Name() {
		customerID = ""
	}

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	res, err := prov.CreateMandate(gctx, provider.PaymentRequest{
		WalletID:       w.ID,
		OwnerName:      w.OwnerID,
		CustomerID:     customerID,
		Type:           payment.TypeMandate,
		Amount:         gross,
		Currency:       w.Currency,
		Description:    "Auto-payment setup",
		MethodID:       req.MethodID,
		RedirectURL:    req.RedirectURL,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, e.gatewayError(ctx, prov.Name(), "create_mandate", err)
	}
	if res.CustomerID != "" {
		customerID = res.CustomerID
	}

	pay := e.newPayment(w, prov.Name(), payment.TypeMandate, res, "Auto-payment setup")
	pay.Amount = gross
	pay.CreditAmount = credit
	pay.CurrencyAmount = gross
	if rate != nil {
		pay.VatRateID = rate.ID
	}
	overrideCurrency(pay, res)

	if _, err := e.updateWallet(ctx, w.ID, func(w *wallet.Wallet) error {
		w.Mandate = wallet.Mandate{
			Provider:   prov.Name(),
			ID:         res.MandateID,
			CustomerID: customerID,
			Amount:     req.Amount,
			Balance:    req.Balance,
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := e.openPayment(ctx, pay, res); err != nil {
		return nil, err
	}

	e.logger.Info("mandate setup started",
		"wallet_id", w.ID.String(),
		"provider", prov.Name(),
		"payment_id", pay.ID,
		"amount", req.Amount,
		"balance", req.Balance,
	)
	return pay, nil
}

// UpdateMandate changes the top-up amount and threshold, re-enables a
// disabled mandate and tops the wallet up right away when it is already
// under the new threshold.
func (e *Engine) UpdateMandate(ctx context.Context, walletID id.WalletID, amount, balance int64) (*wallet.Wallet, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if err := e.checkMandate(ctx, w, amount, balance); err != nil {
		return nil, err
	}

	w, err = e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		w.Mandate.Amount = amount
		w.Mandate.Balance = balance
		w.Mandate.Disabled = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.Mandate.ID != "" && w.Balance < w.Mandate.Balance {
		e.requestTopUp(ctx, w.ID)
	}
	return w, nil
}

// ResetMandate replaces the mandate, e.g. to change the payment method,
// keeping the configured amount and threshold.
func (e *Engine) ResetMandate(ctx context.Context, walletID id.WalletID, methodID, redirectURL string) (*payment.Payment, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !w.Mandate.Configured() {
		return nil, ErrNoMandate
	}
	return e.CreateMandate(ctx, MandateRequest{
		WalletID:    walletID,
		Provider:    w.Mandate.Provider,
		Amount:      w.Mandate.Amount,
		Balance:     w.Mandate.Balance,
		MethodID:    methodID,
		RedirectURL: redirectURL,
	})
}

// DeleteMandate revokes the mandate at its gateway and clears the
// auto-payment settings. The gateway customer is kept for later mandates.
func (e *Engine) DeleteMandate(ctx context.Context, walletID id.WalletID) error {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if w.Mandate.ID == "" && !w.Mandate.Configured() {
		return ErrNoMandate
	}

	if w.Mandate.ID != "" {
		prov, err := e.providers.Get(w.Mandate.Provider)
		if err != nil {
			return err
		}
		gctx, cancel := e.gatewayCtx(ctx)
		defer cancel()
		if err := prov.DeleteMandate(gctx, w.Mandate); err != nil {
			return e.gatewayError(ctx, prov.Name(), "delete_mandate", err)
		}
	}

	_, err = e.updateWallet(ctx, walletID, func(w *wallet.Wallet) error {
		w.Mandate = wallet.Mandate{Provider: w.Mandate.Provider, CustomerID: w.Mandate.CustomerID}
		return nil
	})
	return err
}

// GetMandate returns the auto-payment state of a wallet.
func (e *Engine) GetMandate(ctx context.Context, walletID id.WalletID) (*MandateInfo, error) {
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	minAmount, err := e.minMandateAmount(ctx, w)
	if err != nil {
		return nil, err
	}

	info := &MandateInfo{
		Provider:  w.Mandate.Provider,
		ID:        w.Mandate.ID,
		Amount:    w.Mandate.Amount,
		Balance:   w.Mandate.Balance,
		Disabled:  w.Mandate.Disabled,
		MinAmount: minAmount,
	}
	if w.Mandate.ID == "" {
		return info, nil
	}

	prov, err := e.providers.Get(w.Mandate.Provider)
	if err != nil {
		return nil, err
	}
	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	m, err := prov.GetMandate(gctx, w.Mandate)
	if err != nil {
		return nil, e.gatewayError(ctx, prov.Name(), "get_mandate", err)
	}
	if m != nil {
		info.Method = m.Method
		info.MethodID = m.MethodID
		info.Pending = m.Pending
		info.Valid = m.Valid
	}
	return info, nil
}

// ──────────────────────────────────────────────────
// Top-up
// ──────────────────────────────────────────────────

// TopUp charges the mandate amount when the wallet balance is under the
// mandate threshold. It reports false, without side effects, when the
// mandate is disabled, the balance is not under the threshold, the amount
// would not clear a negative balance, there is no mandate, an auto-payment
// is still pending, or the gateway has no valid mandate.
//
// A gateway that confirms the charge synchronously gets it credited right
// away; otherwise the payment stays open until its webhook arrives.
func (e *Engine) TopUp(ctx context.Context, walletID id.WalletID) (bool, error) {
	release, err := e.acquire(ctx, "topup", walletID)
	if err != nil {
		return false, err
	}
	defer release()

	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return false, err
	}

	m := w.Mandate
	switch {
	case !m.Configured() || m.Disabled:
		return false, nil
	case w.Balance >= m.Balance:
		return false, nil
	case m.Amount+w.Balance < 0:
		e.logger.Info("top-up skipped, amount does not cover the debt",
			"wallet_id", w.ID.String(),
			"amount", m.Amount,
			"balance", w.Balance,
		)
		return false, nil
	case m.ID == "":
		return false, nil
	}

	pending, err := e.pendingTopUp(ctx, w.ID)
	if err != nil || pending {
		return false, err
	}

	prov, err := e.providers.Get(m.Provider)
	if err != nil {
		return false, err
	}
	rate, err := e.vatRate(ctx, w)
	if err != nil {
		return false, err
	}
	gross := rate.Gross(m.Amount)

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	res, err := prov.Charge(gctx, provider.PaymentRequest{
		WalletID:       w.ID,
		OwnerName:      w.OwnerID,
		CustomerID:     m.CustomerID,
		MandateID:      m.ID,
		Type:           payment.TypeRecurring,
		Amount:         gross,
		Currency:       w.Currency,
		Description:    "Auto-payment",
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return false, e.gatewayError(ctx, prov.Name(), "charge", err)
	}
	if res == nil {
		e.logger.Info("top-up skipped, no valid mandate at the gateway",
			"wallet_id", w.ID.String(),
			"provider", prov.Name(),
		)
		return false, nil
	}

	pay := e.newPayment(w, prov.Name(), payment.TypeRecurring, res, "Auto-payment")
	pay.Amount = gross
	pay.CreditAmount = m.Amount
	pay.CurrencyAmount = gross
	if rate != nil {
		pay.VatRateID = rate.ID
	}
	overrideCurrency(pay, res)

	if err := e.openPayment(ctx, pay, res); err != nil {
		return false, err
	}

	e.plugins.EmitTopUp(ctx, w, pay)
	e.logger.Info("wallet topped up",
		"wallet_id", w.ID.String(),
		"payment_id", pay.ID,
		"amount", m.Amount,
		"status", pay.Status,
	)
	return true, nil
}

// requestTopUp runs a top-up after the current operation, through the
// scheduler when there is one.
func (e *Engine) requestTopUp(ctx context.Context, walletID id.WalletID) {
	if e.scheduler != nil {
		if err := e.scheduler.ScheduleTopUp(ctx, walletID); err != nil {
			e.logger.Warn("top-up scheduling failed", "wallet_id", walletID.String(), "error", err)
		}
		return
	}
	if _, err := e.TopUp(ctx, walletID); err != nil {
		e.logger.Warn("top-up failed", "wallet_id", walletID.String(), "error", err)
	}
}

// pendingTopUp reports whether an auto-payment of the wallet still waits
// for its gateway.
func (e *Engine) pendingTopUp(ctx context.Context, walletID id.WalletID) (bool, error) {
	for _, status := range []payment.Status{payment.StatusOpen, payment.StatusPending, payment.StatusAuthorized} {
		ps, err := e.store.ListPayments(ctx, walletID, payment.ListOpts{
			Status: status,
			Type:   payment.TypeRecurring,
			Limit:  1,
		})
		if err != nil {
			return false, err
		}
		if len(ps) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// checkMandate validates auto-payment settings for w.
func (e *Engine) checkMandate(ctx context.Context, w *wallet.Wallet, amount, balance int64) error {
	if balance < 0 {
		return ValidationError{Field: "balance", Message: "must be at least 0", Err: ErrInvalidThreshold}
	}

	minAmount, err := e.minMandateAmount(ctx, w)
	if err != nil {
		return err
	}
	if amount < minAmount {
		return ValidationError{
			Field:   "amount",
			Message: "must be at least " + types.New(minAmount, w.Currency).String(),
			Err:     ErrAmountTooLow,
		}
	}
	if w.Balance < 0 && amount+w.Balance < 0 {
		return ValidationError{
			Field:   "amount",
			Message: "must cover the debt of " + types.New(-w.Balance, w.Currency).String(),
			Err:     ErrAmountBelowDebt,
		}
	}
	return nil
}

// minMandateAmount is the larger of the minimum payment and the
// discounted monthly plan cost.
func (e *Engine) minMandateAmount(ctx context.Context, w *wallet.Wallet) (int64, error) {
	minAmount := e.config.MinPaymentAmount
	if w.PlanID.IsNil() {
		return minAmount, nil
	}

	p, err := e.store.GetPlan(ctx, w.PlanID)
	if errors.Is(err, ErrPlanNotFound) {
		return minAmount, nil
	}
	if err != nil {
		return 0, err
	}

	cost := p.Cost()
	if !w.DiscountID.IsNil() {
		d, err := e.store.GetDiscount(ctx, w.DiscountID)
		switch {
		case errors.Is(err, ErrDiscountNotFound):
		case err != nil:
			return 0, err
		default:
			cost = types.RoundRate(cost, d.Rate(e.now()))
		}
	}
	return max(minAmount, cost), nil
}

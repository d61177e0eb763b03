package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// ReconcileResult describes what a gateway update changed.
type ReconcileResult struct {
	PaymentID string         `json:"payment_id"`
	From      payment.Status `json:"from"`
	To        payment.Status `json:"to"`
	// Changed is false for duplicate or out-of-order updates.
	Changed bool `json:"changed"`
	// Credited is the amount credited to the wallet by this update.
	Credited int64 `json:"credited"`
	// Reversed counts the refunds and chargebacks applied to the wallet.
	Reversed int `json:"reversed"`
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// HandleWebhook verifies and applies a gateway callback. Callbacks without
// anything to apply succeed without effect.
func (e *Engine) HandleWebhook(ctx context.Context, providerName string, header http.Header, body []byte) (res *ReconcileResult, err error) {
	start := time.Now()
	defer func() {
		e.plugins.EmitWebhookProcessed(ctx, providerName, time.Since(start), err)
	}()

	adapter, err := e.providers.Webhook(providerName)
	if err != nil {
		return nil, err
	}
	if err := adapter.VerifySignature(header, body); err != nil {
		e.logger.Warn("webhook rejected", "provider", providerName, "error", err)
		return nil, err
	}

	ev, err := adapter.ParseEvent(ctx, header, body)
	if err != nil {
		if provider.IsProviderError(err) || provider.IsRateLimited(err) {
			return nil, e.gatewayError(ctx, providerName, "parse_event", err)
		}
		return nil, err
	}
	if ev.Empty() {
		e.logger.Debug("webhook ignored", "provider", providerName)
		return &ReconcileResult{}, nil
	}
	if ev.Provider == "" {
		ev.Provider = providerName
	}
	return e.Reconcile(ctx, ev)
}

// Reconcile applies a normalized gateway update to its payment.
//
// Status changes are monotone: a payment leaves open, pending or
// authorized exactly once, and updates arriving after that are
// acknowledged without effect. A payment turning paid credits its credit
// amount. A recurring payment that fails disables the wallet mandate.
// Reversals are keyed by their gateway id and debit the wallet once they
// are settled.
func (e *Engine) Reconcile(ctx context.Context, ev *provider.NormalizedEvent) (*ReconcileResult, error) {
	if ev == nil || ev.PaymentID == "" {
		return nil, fmt.Errorf("%w: event has no payment id", provider.ErrMalformedPayload)
	}

	var (
		res    = &ReconcileResult{PaymentID: ev.PaymentID}
		after  effects
		before payment.Payment
		paid   *payment.Payment
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		after = nil
		*res = ReconcileResult{PaymentID: ev.PaymentID}

		p, err := tx.GetPaymentForUpdate(ctx, ev.PaymentID)
		if err != nil {
			return err
		}
		if ev.Provider != "" && p.Provider != ev.Provider {
			return fmt.Errorf("%w: %s is a %s payment", ErrProviderMismatch, p.ID, p.Provider)
		}
		if p.ParentID != "" {
			// Reversal rows change through their parent only.
			res.From, res.To = p.Status, p.Status
			return nil
		}

		before = *p
		res.From, res.To = p.Status, p.Status

		var w *wallet.Wallet
		lockWallet := func() (*wallet.Wallet, error) {
			if w != nil {
				return w, nil
			}
			locked, err := tx.GetWalletForUpdate(ctx, p.WalletID)
			if err != nil {
				return nil, err
			}
			w = locked
			return w, nil
		}

		if ev.Status != "" && p.CanTransitionTo(ev.Status) {
			p.Status = ev.Status
			p.TouchAt(e.now())
			res.To = p.Status
			res.Changed = true

			switch {
			case p.Status == payment.StatusPaid:
				lw, err := lockWallet()
				if err != nil {
					return err
				}
				if err := e.settle(ctx, tx, lw, p, ev, res, &after); err != nil {
					return err
				}
				snapshot := *p
				paid = &snapshot
			case p.Status == payment.StatusFailed && p.Type == payment.TypeRecurring:
				lw, err := lockWallet()
				if err != nil {
					return err
				}
				e.disableMandate(lw, p, &after)
			}

			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
		} else if p.Status == payment.StatusPaid && p.Type == payment.TypeMandate && ev.MandateID != "" {
			lw, err := lockWallet()
			if err != nil {
				return err
			}
			if lw.Mandate.ID != ev.MandateID && lw.Mandate.Provider == p.Provider {
				applyMandate(lw, p, ev)
			}
		}

		if len(ev.Reversals) > 0 {
			if p.Status != payment.StatusPaid {
				e.logger.Warn("reversal of an unpaid payment ignored",
					"payment_id", p.ID,
					"status", p.Status,
				)
			} else {
				lw, err := lockWallet()
				if err != nil {
					return err
				}
				for _, rev := range ev.Reversals {
					applied, err := e.reverse(ctx, tx, lw, p, rev, &after)
					if err != nil {
						return err
					}
					if applied {
						res.Reversed++
					}
				}
			}
		}

		if w != nil {
			return tx.UpdateWallet(ctx, w)
		}
		return nil
	})
	if err != nil {
		if !IsNotFound(err) {
			e.logger.Error("reconciliation failed",
				"payment_id", ev.PaymentID,
				"provider", ev.Provider,
				"status", ev.Status,
				"error", err,
			)
		}
		return nil, err
	}

	after.run(ctx)
	if res.Changed {
		p := before
		p.Status = res.To
		e.plugins.EmitPaymentStatusChanged(ctx, &p, res.From)
		e.logger.Info("payment reconciled",
			"payment_id", res.PaymentID,
			"from", res.From,
			"to", res.To,
			"credited", res.Credited,
		)
	}
	if paid != nil && paid.Type == payment.TypeMandate {
		e.topUpAfterSetup(ctx, paid)
	}
	return res, nil
}

// settle credits a payment that turned paid and, for a mandate setup,
// stores the mandate.
func (e *Engine) settle(ctx context.Context, tx store.Tx, w *wallet.Wallet, p *payment.Payment, ev *provider.NormalizedEvent, res *ReconcileResult, after *effects) error {
	if p.CreditAmount != 0 {
		txn, err := e.book(ctx, tx, w, Entry{
			Type:        transaction.TypeCredit,
			Amount:      p.CreditAmount,
			Description: fmt.Sprintf("Payment %s via %s", p.ID, p.Provider),
			PaymentID:   p.ID,
		}, after)
		if err != nil {
			return err
		}
		res.Credited = txn.Amount
	}

	switch p.Type {
	case payment.TypeMandate:
		applyMandate(w, p, ev)
	case payment.TypeRecurring:
		n := notify.Notification{
			Kind:      notify.KindPaymentSuccess,
			WalletID:  w.ID,
			OwnerID:   w.OwnerID,
			PaymentID: p.ID,
			Provider:  p.Provider,
			Amount:    p.CreditAmount,
			Currency:  w.Currency,
			Balance:   w.Balance,
		}
		after.add(func(ctx context.Context) { e.notify(ctx, n) })
	}
	return nil
}

// applyMandate stores the mandate a paid setup payment created.
func applyMandate(w *wallet.Wallet, p *payment.Payment, ev *provider.NormalizedEvent) {
	if ev.MandateID == "" {
		return
	}
	w.Mandate.Provider = p.Provider
	w.Mandate.ID = ev.MandateID
	if ev.CustomerID != "" {
		w.Mandate.CustomerID = ev.CustomerID
	}
	w.Mandate.Disabled = false
}

// disableMandate turns auto-payment off after a failed recurring payment.
func (e *Engine) disableMandate(w *wallet.Wallet, p *payment.Payment, after *effects) {
	w.Mandate.Disabled = true
	w.TouchAt(e.now())

	snapshot := *w
	n := notify.Notification{
		Kind:      notify.KindMandateDisabled,
		WalletID:  w.ID,
		OwnerID:   w.OwnerID,
		PaymentID: p.ID,
		Provider:  p.Provider,
		Amount:    p.CreditAmount,
		Currency:  w.Currency,
		Balance:   w.Balance,
	}
	after.add(func(ctx context.Context) {
		e.logger.Warn("mandate disabled after failed auto-payment",
			"wallet_id", snapshot.ID.String(),
			"payment_id", n.PaymentID,
			"status", p.Status,
		)
		e.plugins.EmitMandateDisabled(ctx, &snapshot)
		e.notify(ctx, n)
	})
}

// reverse records a refund or chargeback of the paid payment p. It
// reports whether the wallet was debited.
func (e *Engine) reverse(ctx context.Context, tx store.Tx, w *wallet.Wallet, p *payment.Payment, rev provider.Reversal, after *effects) (bool, error) {
	if rev.ID == "" || rev.Amount <= 0 {
		return false, fmt.Errorf("%w: reversal of %s without id or amount", provider.ErrMalformedPayload, p.ID)
	}

	existing, err := tx.GetPaymentForUpdate(ctx, rev.ID)
	switch {
	case err == nil:
		if existing.ParentID != p.ID {
			return false, fmt.Errorf("%w: reversal %s belongs to %s", ErrAlreadyExists, rev.ID, existing.ParentID)
		}
		if existing.Status != payment.StatusPending || !rev.Settled {
			return false, nil
		}
		existing.Status = payment.StatusPaid
		existing.TouchAt(e.now())
		if err := tx.UpdatePayment(ctx, existing); err != nil {
			return false, err
		}
		return true, e.debitReversal(ctx, tx, w, p, existing, after)
	case !errors.Is(err, ErrPaymentNotFound):
		return false, err
	}

	typ := rev.Type
	if typ != payment.TypeChargeback {
		typ = payment.TypeRefund
	}
	description := rev.Description
	if description == "" {
		description = "Refund of payment " + p.ID
		if typ == payment.TypeChargeback {
			description = "Chargeback of payment " + p.ID
		}
	}
	amount, credit := p.ConvertRefund(rev.Amount)

	now := e.now()
	child := &payment.Payment{
		Entity:         types.NewEntityAt(now),
		ID:             rev.ID,
		WalletID:       p.WalletID,
		Provider:       p.Provider,
		Type:           typ,
		Status:         payment.StatusPending,
		Amount:         -amount,
		CreditAmount:   -credit,
		CurrencyAmount: -rev.Amount,
		Currency:       p.Currency,
		VatRateID:      p.VatRateID,
		Description:    description,
		ParentID:       p.ID,
	}
	if rev.Settled {
		child.Status = payment.StatusPaid
	}
	if err := tx.CreatePayment(ctx, child); err != nil {
		return false, err
	}

	parent := *p
	created := *child
	after.add(func(ctx context.Context) {
		e.plugins.EmitPaymentReversed(ctx, &parent, &created)
	})

	if !rev.Settled {
		return false, nil
	}
	return true, e.debitReversal(ctx, tx, w, p, child, after)
}

func (e *Engine) debitReversal(ctx context.Context, tx store.Tx, w *wallet.Wallet, p, child *payment.Payment, after *effects) error {
	typ := transaction.TypeRefund
	if child.Type == payment.TypeChargeback {
		typ = transaction.TypeChargeback
	}
	_, err := e.book(ctx, tx, w, Entry{
		Type:        typ,
		Amount:      child.CreditAmount,
		Description: child.Description,
		PaymentID:   child.ID,
	}, after)
	if err == nil {
		e.logger.Info("payment reversed",
			"payment_id", p.ID,
			"reversal_id", child.ID,
			"type", child.Type,
			"amount", child.CreditAmount,
		)
	}
	return err
}

// topUpAfterSetup charges a freshly set up mandate when the balance is
// already under the threshold and the setup payment did not cover it.
func (e *Engine) topUpAfterSetup(ctx context.Context, p *payment.Payment) {
	w, err := e.store.GetWallet(ctx, p.WalletID)
	if err != nil {
		e.logger.Warn("top-up after mandate setup failed", "wallet_id", p.WalletID.String(), "error", err)
		return
	}
	if w.Mandate.ID != "" && w.Balance < w.Mandate.Balance {
		e.requestTopUp(ctx, w.ID)
	}
}

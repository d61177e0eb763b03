package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// VerifySignature implements provider.WebhookAdapter.
func (p *Provider) VerifySignature(header http.Header, body []byte) error {
	if err := webhook.ValidatePayload(body, header.Get(SignatureHeader), p.config.WebhookSecret); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrInvalidSignature, err)
	}
	return nil
}

// ParseEvent implements provider.WebhookAdapter. Events the reconciler
// has no use for yield an empty event.
func (p *Provider) ParseEvent(ctx context.Context, header http.Header, body []byte) (*provider.NormalizedEvent, error) {
	if err := p.VerifySignature(header, body); err != nil {
		return nil, err
	}

	ev, err := webhook.ConstructEventWithOptions(body, header.Get(SignatureHeader), p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", provider.ErrMalformedPayload, ev.ID)
	}

	out := &provider.NormalizedEvent{Provider: Name}
	kind := string(ev.Type)

	switch {
	case strings.HasPrefix(kind, "payment_intent."):
		var pi stripego.PaymentIntent
		if err := decode(ev.Data.Raw, &pi); err != nil {
			return nil, err
		}
		if pi.Metadata[checkoutKey] != "" {
			return out, nil
		}
		switch kind {
		case "payment_intent.succeeded":
			out.Status = payment.StatusPaid
		case "payment_intent.canceled":
			out.Status = payment.StatusCanceled
		case "payment_intent.payment_failed":
			out.Status = payment.StatusFailed
		default:
			return out, nil
		}
		out.PaymentID = pi.ID
		out.Sequence = payment.TypeRecurring

	case strings.HasPrefix(kind, "setup_intent."):
		var si stripego.SetupIntent
		if err := decode(ev.Data.Raw, &si); err != nil {
			return nil, err
		}
		switch kind {
		case "setup_intent.succeeded":
			out.Status = payment.StatusPaid
			out.MandateID = si.ID
		case "setup_intent.canceled":
			out.Status = payment.StatusCanceled
		case "setup_intent.setup_failed":
			out.Status = payment.StatusFailed
		default:
			return out, nil
		}
		out.PaymentID = si.ID
		out.Sequence = payment.TypeMandate
		if si.Customer != nil {
			out.CustomerID = si.Customer.ID
		}

	case strings.HasPrefix(kind, "checkout.session."):
		var s stripego.CheckoutSession
		if err := decode(ev.Data.Raw, &s); err != nil {
			return nil, err
		}
		if s.Mode != stripego.CheckoutSessionModePayment {
			return out, nil
		}
		switch kind {
		case "checkout.session.completed":
			out.Status = sessionStatus(&s)
		case "checkout.session.async_payment_succeeded":
			out.Status = payment.StatusPaid
		case "checkout.session.async_payment_failed":
			out.Status = payment.StatusFailed
		case "checkout.session.expired":
			out.Status = payment.StatusExpired
		default:
			return out, nil
		}
		out.PaymentID = s.ID
		out.Sequence = payment.TypeOneOff

	case kind == "refund.created" || kind == "refund.updated" || kind == "charge.refund.updated":
		var r stripego.Refund
		if err := decode(ev.Data.Raw, &r); err != nil {
			return nil, err
		}
		if r.PaymentIntent == nil {
			return out, nil
		}
		paymentID, err := p.paymentOf(ctx, r.PaymentIntent.ID)
		if err != nil {
			return nil, err
		}
		out.PaymentID = paymentID
		out.Reversals = []provider.Reversal{reversal(&r)}

	case kind == "charge.dispute.funds_withdrawn":
		var d stripego.Dispute
		if err := decode(ev.Data.Raw, &d); err != nil {
			return nil, err
		}
		if d.PaymentIntent == nil {
			return out, nil
		}
		paymentID, err := p.paymentOf(ctx, d.PaymentIntent.ID)
		if err != nil {
			return nil, err
		}
		out.PaymentID = paymentID
		out.Reversals = []provider.Reversal{{
			ID:       d.ID,
			Type:     payment.TypeChargeback,
			Amount:   d.Amount,
			Currency: strings.ToLower(string(d.Currency)),
			Settled:  true,
		}}
	}

	return out, nil
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	return nil
}

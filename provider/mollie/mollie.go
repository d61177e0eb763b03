// Package mollie implements the Mollie payment gateway: one-off payments,
// SEPA/card mandates with recurring charges, refunds and chargebacks.
//
// Mollie webhooks only carry a payment id; the payment is fetched from
// the API before anything is applied.
package mollie

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// Name is the provider name stored on payments.
const Name = "mollie"

// DefaultBaseURL is the Mollie API endpoint.
const DefaultBaseURL = "https://api.mollie.com/v2"

// Config configures the Mollie provider.
type Config struct {
	APIKey      string `json:"api_key" yaml:"api_key"`
	WebhookURL  string `json:"webhook_url" yaml:"webhook_url"`
	RedirectURL string `json:"redirect_url" yaml:"redirect_url"`
}

// Provider talks to the Mollie REST API.
type Provider struct {
	client *provider.Client
	config Config
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.WebhookAdapter = (*Provider)(nil)
)

// New creates a Mollie provider.
func New(cfg Config, opts ...provider.ClientOption) *Provider {
	header := http.Header{"Authorization": {"Bearer " + cfg.APIKey}}
	return &Provider{
		client: provider.NewClient(Name, DefaultBaseURL, header, opts...),
		config: cfg,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// CreatePayment implements provider.Provider.
func (p *Provider) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	customerID, err := p.customer(ctx, req)
	if err != nil {
		return nil, err
	}

	body := p.paymentBody(req, customerID, "oneoff")
	body.RedirectURL = firstNonEmpty(req.RedirectURL, p.config.RedirectURL)

	return p.create(ctx, body, customerID, req.CustomerID)
}

// CreateMandate implements provider.Provider.
func (p *Provider) CreateMandate(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	customerID, err := p.customer(ctx, req)
	if err != nil {
		return nil, err
	}

	body := p.paymentBody(req, customerID, "first")
	body.RedirectURL = firstNonEmpty(req.RedirectURL, p.config.RedirectURL)

	return p.create(ctx, body, customerID, req.CustomerID)
}

// Charge implements provider.Provider. Only a valid mandate is charged.
func (p *Provider) Charge(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	if req.CustomerID == "" || req.MandateID == "" {
		return nil, nil
	}

	m, err := p.GetMandate(ctx, wallet.Mandate{ID: req.MandateID, CustomerID: req.CustomerID})
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Valid {
		return nil, nil
	}

	body := p.paymentBody(req, req.CustomerID, "recurring")
	body.MandateID = m.ID

	return p.create(ctx, body, req.CustomerID, req.CustomerID)
}

// GetMandate implements provider.Provider. A mandate that Mollie reports
// as gone returns nil.
func (p *Provider) GetMandate(ctx context.Context, m wallet.Mandate) (*provider.Mandate, error) {
	if m.CustomerID == "" || m.ID == "" {
		return nil, nil
	}

	var out mandateResponse
	path := fmt.Sprintf("/customers/%s/mandates/%s", url.PathEscape(m.CustomerID), url.PathEscape(m.ID))
	if err := p.client.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if gone(err) {
			return nil, nil
		}
		return nil, err
	}

	return &provider.Mandate{
		ID:       out.ID,
		Method:   out.describe(),
		MethodID: out.Method,
		Pending:  out.Status == "pending",
		Valid:    out.Status == "valid",
	}, nil
}

// DeleteMandate implements provider.Provider.
func (p *Provider) DeleteMandate(ctx context.Context, m wallet.Mandate) error {
	if m.CustomerID == "" || m.ID == "" {
		return nil
	}

	path := fmt.Sprintf("/customers/%s/mandates/%s", url.PathEscape(m.CustomerID), url.PathEscape(m.ID))
	if err := p.client.Do(ctx, http.MethodDelete, path, nil, nil); err != nil && !gone(err) {
		return err
	}
	return nil
}

// Refund implements provider.Provider.
func (p *Provider) Refund(ctx context.Context, req provider.RefundRequest) (*provider.Reversal, error) {
	body := refundRequest{
		Amount:      toAmount(req.Amount, req.Currency),
		Description: req.Description,
	}

	var out refundResponse
	path := fmt.Sprintf("/payments/%s/refunds", url.PathEscape(req.PaymentID))
	if err := p.client.Do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	r, err := out.reversal()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Cancel implements provider.Provider.
func (p *Provider) Cancel(ctx context.Context, paymentID string) (payment.Status, error) {
	var out paymentResponse
	if err := p.client.Do(ctx, http.MethodDelete, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return "", err
	}
	return status(out.Status)
}

// FetchPayment implements provider.Provider. Settled refunds and
// chargebacks of a paid payment are returned as reversals.
func (p *Provider) FetchPayment(ctx context.Context, paymentID string) (*provider.NormalizedEvent, error) {
	var out paymentResponse
	if err := p.client.Do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}

	st, err := status(out.Status)
	if err != nil {
		return nil, err
	}

	ev := &provider.NormalizedEvent{
		Provider:   Name,
		PaymentID:  out.ID,
		Status:     st,
		Sequence:   payment.Type(out.SequenceType),
		CustomerID: out.CustomerID,
	}
	if st != payment.StatusPaid {
		return ev, nil
	}

	if out.SequenceType == "first" && out.MandateID != "" {
		ev.MandateID = out.MandateID
	}

	if out.Links.Refunds != nil {
		var list refundList
		if err := p.client.Do(ctx, http.MethodGet, "/payments/"+url.PathEscape(out.ID)+"/refunds", nil, &list); err != nil {
			return nil, err
		}
		for _, r := range list.Embedded.Refunds {
			rev, err := r.reversal()
			if err != nil {
				return nil, err
			}
			if rev.Settled && rev.Amount != 0 {
				ev.Reversals = append(ev.Reversals, rev)
			}
		}
	}

	if out.Links.Chargebacks != nil {
		var list chargebackList
		if err := p.client.Do(ctx, http.MethodGet, "/payments/"+url.PathEscape(out.ID)+"/chargebacks", nil, &list); err != nil {
			return nil, err
		}
		for _, c := range list.Embedded.Chargebacks {
			amount, err := c.Amount.minor()
			if err != nil {
				return nil, err
			}
			if amount == 0 {
				continue
			}
			ev.Reversals = append(ev.Reversals, provider.Reversal{
				ID:       c.ID,
				Type:     payment.TypeChargeback,
				Amount:   abs(amount),
				Currency: strings.ToLower(c.Amount.Currency),
				Settled:  true,
			})
		}
	}

	return ev, nil
}

// VerifySignature implements provider.WebhookAdapter. Mollie does not sign
// callbacks; the payment is always fetched from the API instead.
func (p *Provider) VerifySignature(http.Header, []byte) error { return nil }

// ParseEvent implements provider.WebhookAdapter. The body is a form with
// the payment id. An empty id yields an empty event.
func (p *Provider) ParseEvent(ctx context.Context, _ http.Header, body []byte) (*provider.NormalizedEvent, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}

	paymentID := form.Get("id")
	if paymentID == "" {
		return &provider.NormalizedEvent{Provider: Name}, nil
	}
	return p.FetchPayment(ctx, paymentID)
}

func (p *Provider) customer(ctx context.Context, req provider.PaymentRequest) (string, error) {
	if req.CustomerID != "" {
		return req.CustomerID, nil
	}

	body := customerRequest{
		Name:     firstNonEmpty(req.OwnerName, req.WalletID.String()),
		Metadata: map[string]string{"wallet_id": req.WalletID.String()},
	}
	var out customerResponse
	if err := p.client.Do(ctx, http.MethodPost, "/customers", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (p *Provider) paymentBody(req provider.PaymentRequest, customerID, sequence string) paymentRequest {
	return paymentRequest{
		Amount:       toAmount(req.Amount, req.Currency),
		Description:  req.Description,
		CustomerID:   customerID,
		SequenceType: sequence,
		Method:       req.MethodID,
		WebhookURL:   firstNonEmpty(req.WebhookURL, p.config.WebhookURL),
		Locale:       "en_US",
		Metadata:     map[string]string{"wallet_id": req.WalletID.String()},
	}
}

func (p *Provider) create(ctx context.Context, body paymentRequest, customerID, knownCustomerID string) (*provider.Result, error) {
	var out paymentResponse
	if err := p.client.Do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}

	st, err := status(out.Status)
	if err != nil {
		return nil, err
	}

	res := &provider.Result{
		ID:        out.ID,
		Status:    st,
		MandateID: out.MandateID,
	}
	if out.Links.Checkout != nil {
		res.CheckoutURL = out.Links.Checkout.Href
	}
	if customerID != knownCustomerID {
		res.CustomerID = customerID
	}
	return res, nil
}

func status(s string) (payment.Status, error) {
	switch st := payment.Status(s); st {
	case payment.StatusOpen, payment.StatusPending, payment.StatusAuthorized,
		payment.StatusPaid, payment.StatusFailed, payment.StatusCanceled, payment.StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown mollie status %q", provider.ErrMalformedPayload, s)
	}
}

// gone reports whether Mollie no longer knows the resource.
func gone(err error) bool {
	code := provider.StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}

func toAmount(minor int64, currency string) amount {
	return amount{
		Currency: strings.ToUpper(currency),
		Value:    types.New(minor, currency).FormatMajor(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

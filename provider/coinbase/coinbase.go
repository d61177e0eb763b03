// Package coinbase implements Coinbase Commerce crypto payments. Charges
// are one-off only: no mandates and no refunds.
package coinbase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// Name is the provider name stored on payments.
const Name = "coinbase"

// DefaultBaseURL is the Coinbase Commerce API endpoint.
const DefaultBaseURL = "https://api.commerce.coinbase.com"

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-CC-Webhook-Signature"

const apiVersion = "2018-03-22"

// Config configures the Coinbase provider.
type Config struct {
	APIKey        string `json:"api_key" yaml:"api_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
	RedirectURL   string `json:"redirect_url" yaml:"redirect_url"`
	// AppName is shown on the hosted checkout page.
	AppName string `json:"app_name" yaml:"app_name"`
}

// Provider talks to the Coinbase Commerce API.
type Provider struct {
	client *provider.Client
	config Config
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.WebhookAdapter = (*Provider)(nil)
)

// New creates a Coinbase provider.
func New(cfg Config, opts ...provider.ClientOption) *Provider {
	header := http.Header{
		"X-CC-Api-Key": {cfg.APIKey},
		"X-CC-Version": {apiVersion},
	}
	return &Provider{
		client: provider.NewClient(Name, DefaultBaseURL, header, opts...),
		config: cfg,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// CreatePayment implements provider.Provider. The charge is priced in the
// requested currency; the bitcoin amount quoted by Coinbase is recorded
// as the currency amount, in satoshi.
func (p *Provider) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	if req.Type == payment.TypeRecurring {
		return nil, provider.ErrNotSupported
	}

	body := chargeRequest{
		Name:        p.config.AppName,
		Description: req.Description,
		PricingType: "fixed_price",
		LocalPrice: money{
			Amount:   types.New(req.Amount, req.Currency).FormatMajor(),
			Currency: strings.ToUpper(req.Currency),
		},
		RedirectURL: firstNonEmpty(req.RedirectURL, p.config.RedirectURL),
		Metadata:    map[string]string{"wallet_id": req.WalletID.String()},
	}

	var out chargeEnvelope
	if err := p.client.Do(ctx, http.MethodPost, "/charges", body, &out); err != nil {
		return nil, err
	}
	if out.Data.Code == "" {
		return nil, &provider.Error{Provider: Name, Op: "POST /charges", Message: "response without charge code"}
	}

	res := &provider.Result{
		ID:          out.Data.Code,
		Status:      payment.StatusOpen,
		CheckoutURL: out.Data.HostedURL,
	}
	if btc, ok := out.Data.Pricing["bitcoin"]; ok && btc.Amount != "" {
		d, err := decimal.NewFromString(btc.Amount)
		if err != nil {
			return nil, &provider.Error{Provider: Name, Op: "POST /charges", Message: "invalid bitcoin amount", Err: err}
		}
		res.Currency = "btc"
		res.CurrencyAmount = types.FromDecimal(d, "btc").Amount
	}
	return res, nil
}

// CreateMandate implements provider.Provider.
func (p *Provider) CreateMandate(context.Context, provider.PaymentRequest) (*provider.Result, error) {
	return nil, provider.ErrNotSupported
}

// Charge implements provider.Provider. Coinbase has no mandates.
func (p *Provider) Charge(context.Context, provider.PaymentRequest) (*provider.Result, error) {
	return nil, nil
}

// GetMandate implements provider.Provider.
func (p *Provider) GetMandate(context.Context, wallet.Mandate) (*provider.Mandate, error) {
	return nil, nil
}

// DeleteMandate implements provider.Provider.
func (p *Provider) DeleteMandate(context.Context, wallet.Mandate) error { return nil }

// Refund implements provider.Provider.
func (p *Provider) Refund(context.Context, provider.RefundRequest) (*provider.Reversal, error) {
	return nil, provider.ErrNotSupported
}

// Cancel implements provider.Provider.
func (p *Provider) Cancel(ctx context.Context, paymentID string) (payment.Status, error) {
	if err := p.client.Do(ctx, http.MethodPost, "/charges/"+url.PathEscape(paymentID)+"/cancel", nil, nil); err != nil {
		return "", err
	}
	return payment.StatusCanceled, nil
}

// FetchPayment implements provider.Provider. The status is the last entry
// of the charge timeline.
func (p *Provider) FetchPayment(ctx context.Context, paymentID string) (*provider.NormalizedEvent, error) {
	var out chargeEnvelope
	if err := p.client.Do(ctx, http.MethodGet, "/charges/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}

	ev := &provider.NormalizedEvent{Provider: Name, PaymentID: out.Data.Code, Sequence: payment.TypeOneOff}
	if n := len(out.Data.Timeline); n > 0 {
		ev.Status = timelineStatus(out.Data.Timeline[n-1].Status)
	}
	return ev, nil
}

// VerifySignature implements provider.WebhookAdapter.
func (p *Provider) VerifySignature(header http.Header, body []byte) error {
	got, err := hex.DecodeString(header.Get(SignatureHeader))
	if err != nil || len(got) == 0 {
		return provider.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.config.WebhookSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return provider.ErrInvalidSignature
	}
	return nil
}

// ParseEvent implements provider.WebhookAdapter. Created and pending
// charges yield an empty event.
func (p *Provider) ParseEvent(_ context.Context, header http.Header, body []byte) (*provider.NormalizedEvent, error) {
	if err := p.VerifySignature(header, body); err != nil {
		return nil, err
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}

	ev := &provider.NormalizedEvent{Provider: Name}
	switch payload.Event.Type {
	case "charge:confirmed", "charge:resolved", "charge:delayed":
		ev.Status = payment.StatusPaid
	case "charge:failed":
		ev.Status = payment.StatusFailed
	default:
		return ev, nil
	}

	if payload.Event.Data.Code == "" {
		return nil, fmt.Errorf("%w: %s event without charge code", provider.ErrMalformedPayload, payload.Event.Type)
	}
	ev.PaymentID = payload.Event.Data.Code
	ev.Sequence = payment.TypeOneOff
	return ev, nil
}

func timelineStatus(s string) payment.Status {
	switch strings.ToUpper(s) {
	case "COMPLETED", "RESOLVED":
		return payment.StatusPaid
	case "PENDING", "UNRESOLVED":
		return payment.StatusPending
	case "EXPIRED":
		return payment.StatusExpired
	case "CANCELED":
		return payment.StatusCanceled
	default:
		return payment.StatusOpen
	}
}

type money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  money             `json:"local_price"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type charge struct {
	Code      string           `json:"code"`
	HostedURL string           `json:"hosted_url"`
	Pricing   map[string]money `json:"pricing"`
	Timeline  []struct {
		Status string `json:"status"`
	} `json:"timeline"`
}

type chargeEnvelope struct {
	Data charge `json:"data"`
}

type webhookPayload struct {
	Event struct {
		Type string `json:"type"`
		Data charge `json:"data"`
	} `json:"event"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

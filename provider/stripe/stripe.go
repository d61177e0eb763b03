// Package stripe implements the Stripe payment gateway on stripe-go.
//
// One-off payments use Checkout sessions and are keyed by the session id.
// Mandates are SetupIntents created through a setup-mode Checkout session
// and are keyed by the SetupIntent id; recurring charges are off-session
// PaymentIntents keyed by the PaymentIntent id.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/wallet"
)

// Name is the provider name stored on payments.
const Name = "stripe"

// checkoutKey marks PaymentIntents created by a Checkout session. Their
// own events are ignored; the session events settle the payment.
const checkoutKey = "billing_checkout"

// Config configures the Stripe provider.
type Config struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
	RedirectURL   string `json:"redirect_url" yaml:"redirect_url"`
}

// Provider talks to the Stripe API.
type Provider struct {
	api    *client.API
	config Config
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.WebhookAdapter = (*Provider)(nil)
)

// Option configures the provider.
type Option func(*stripego.BackendConfig)

// WithBackendURL points the API client at another endpoint, e.g. a test
// server.
func WithBackendURL(u string) Option {
	return func(c *stripego.BackendConfig) { c.URL = stripego.String(u) }
}

// WithHTTPClient replaces the HTTP client of the API backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *stripego.BackendConfig) { c.HTTPClient = hc }
}

// New creates a Stripe provider. The SDK never retries on its own.
func New(cfg Config, opts ...Option) *Provider {
	bc := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: provider.DefaultTimeout},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	for _, opt := range opts {
		opt(bc)
	}

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, bc)
	backends := &stripego.Backends{
		API:     backend,
		Connect: backend,
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, bc),
	}

	return &Provider{
		api:    client.New(cfg.SecretKey, backends),
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

	redirect := firstNonEmpty(req.RedirectURL, p.config.RedirectURL)
	params := &stripego.CheckoutSessionParams{
		Customer:           stripego.String(customerID),
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:         stripego.String(redirect),
		CancelURL:          stripego.String(redirect),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(strings.ToLower(req.Currency)),
				UnitAmount: stripego.Int64(req.Amount),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(req.Description),
				},
			},
			Quantity: stripego.Int64(1),
		}},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Description: stripego.String(req.Description),
			Metadata: map[string]string{
				"wallet_id": req.WalletID.String(),
				checkoutKey: "1",
			},
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrap("create checkout session", err)
	}

	return &provider.Result{
		ID:          s.ID,
		Status:      payment.StatusOpen,
		CheckoutURL: s.URL,
		CustomerID:  newCustomer(customerID, req.CustomerID),
	}, nil
}

// CreateMandate implements provider.Provider. Stripe does not take an
// amount for a mandate setup; a top-up follows once the setup succeeded.
func (p *Provider) CreateMandate(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	customerID, err := p.customer(ctx, req)
	if err != nil {
		return nil, err
	}

	redirect := firstNonEmpty(req.RedirectURL, p.config.RedirectURL)
	params := &stripego.CheckoutSessionParams{
		Customer:           stripego.String(customerID),
		Mode:               stripego.String(string(stripego.CheckoutSessionModeSetup)),
		SuccessURL:         stripego.String(redirect),
		CancelURL:          stripego.String(redirect),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrap("create setup session", err)
	}

	res := &provider.Result{
		ID:          s.ID,
		Status:      payment.StatusOpen,
		CheckoutURL: s.URL,
		CustomerID:  newCustomer(customerID, req.CustomerID),
	}
	if s.SetupIntent != nil && s.SetupIntent.ID != "" {
		res.ID = s.SetupIntent.ID
	}
	return res, nil
}

// Charge implements provider.Provider. The mandate is the SetupIntent that
// saved the customer's payment method.
func (p *Provider) Charge(ctx context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	if req.MandateID == "" {
		return nil, nil
	}

	si, err := p.setupIntent(ctx, req.MandateID)
	if err != nil {
		return nil, err
	}
	if si == nil || si.Status != stripego.SetupIntentStatusSucceeded || si.PaymentMethod == nil {
		return nil, nil
	}

	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(req.Amount),
		Currency:      stripego.String(strings.ToLower(req.Currency)),
		Description:   stripego.String(req.Description),
		PaymentMethod: stripego.String(si.PaymentMethod.ID),
		OffSession:    stripego.Bool(true),
		Confirm:       stripego.Bool(true),
	}
	if si.Customer != nil {
		params.Customer = stripego.String(si.Customer.ID)
	}
	params.AddMetadata("wallet_id", req.WalletID.String())
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		var se *stripego.Error
		if errors.As(err, &se) && se.Type == stripego.ErrorTypeCard && se.PaymentIntent != nil {
			return &provider.Result{ID: se.PaymentIntent.ID, Status: payment.StatusFailed}, nil
		}
		return nil, wrap("create payment intent", err)
	}

	return &provider.Result{ID: pi.ID, Status: intentStatus(pi.Status)}, nil
}

// GetMandate implements provider.Provider.
func (p *Provider) GetMandate(ctx context.Context, m wallet.Mandate) (*provider.Mandate, error) {
	if m.ID == "" {
		return nil, nil
	}

	si, err := p.setupIntent(ctx, m.ID)
	if err != nil || si == nil || si.Status == stripego.SetupIntentStatusCanceled {
		return nil, err
	}

	out := &provider.Mandate{
		ID:      si.ID,
		Method:  "Unknown method",
		Valid:   si.Status == stripego.SetupIntentStatusSucceeded,
		Pending: si.Status != stripego.SetupIntentStatusSucceeded,
	}
	if pm := si.PaymentMethod; pm != nil {
		out.MethodID = string(pm.Type)
		if pm.Card != nil {
			out.Method = fmt.Sprintf("%s (**** %s)", titleCase(string(pm.Card.Brand)), pm.Card.Last4)
		}
	}
	return out, nil
}

// DeleteMandate implements provider.Provider. The saved payment method is
// detached from the customer.
func (p *Provider) DeleteMandate(ctx context.Context, m wallet.Mandate) error {
	if m.ID == "" {
		return nil
	}

	si, err := p.setupIntent(ctx, m.ID)
	if err != nil || si == nil || si.PaymentMethod == nil {
		return err
	}

	params := &stripego.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := p.api.PaymentMethods.Detach(si.PaymentMethod.ID, params); err != nil && !missing(err) {
		return wrap("detach payment method", err)
	}
	return nil
}

// Refund implements provider.Provider.
func (p *Provider) Refund(ctx context.Context, req provider.RefundRequest) (*provider.Reversal, error) {
	intentID, err := p.intentOf(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(intentID),
		Amount:        stripego.Int64(req.Amount),
	}
	if req.Description != "" {
		params.AddMetadata("description", req.Description)
	}
	params.Context = ctx

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, wrap("create refund", err)
	}

	rev := reversal(r)
	rev.Description = req.Description
	return &rev, nil
}

// Cancel implements provider.Provider.
func (p *Provider) Cancel(ctx context.Context, paymentID string) (payment.Status, error) {
	if isSession(paymentID) {
		params := &stripego.CheckoutSessionExpireParams{}
		params.Context = ctx
		s, err := p.api.CheckoutSessions.Expire(paymentID, params)
		if err != nil {
			return "", wrap("expire checkout session", err)
		}
		return sessionStatus(s), nil
	}

	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Cancel(paymentID, params)
	if err != nil {
		return "", wrap("cancel payment intent", err)
	}
	return intentStatus(pi.Status), nil
}

// FetchPayment implements provider.Provider.
func (p *Provider) FetchPayment(ctx context.Context, paymentID string) (*provider.NormalizedEvent, error) {
	ev := &provider.NormalizedEvent{Provider: Name, PaymentID: paymentID}

	switch {
	case isSession(paymentID):
		params := &stripego.CheckoutSessionParams{}
		params.Context = ctx
		s, err := p.api.CheckoutSessions.Get(paymentID, params)
		if err != nil {
			return nil, wrap("get checkout session", err)
		}
		ev.Status = sessionStatus(s)

	case strings.HasPrefix(paymentID, "seti_"):
		si, err := p.setupIntent(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if si == nil {
			return nil, &provider.Error{Provider: Name, Op: "get setup intent", StatusCode: http.StatusNotFound}
		}
		ev.Sequence = payment.TypeMandate
		ev.Status = setupStatus(si.Status)
		if ev.Status == payment.StatusPaid {
			ev.MandateID = si.ID
		}

	default:
		params := &stripego.PaymentIntentParams{}
		params.Context = ctx
		pi, err := p.api.PaymentIntents.Get(paymentID, params)
		if err != nil {
			return nil, wrap("get payment intent", err)
		}
		ev.Status = intentStatus(pi.Status)
	}

	return ev, nil
}

func (p *Provider) customer(ctx context.Context, req provider.PaymentRequest) (string, error) {
	if req.CustomerID != "" {
		return req.CustomerID, nil
	}

	params := &stripego.CustomerParams{
		Name: stripego.String(firstNonEmpty(req.OwnerName, req.WalletID.String())),
	}
	params.AddMetadata("wallet_id", req.WalletID.String())
	params.Context = ctx

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", wrap("create customer", err)
	}
	return c.ID, nil
}

// setupIntent fetches a SetupIntent with its payment method. A SetupIntent
// Stripe no longer knows returns nil.
func (p *Provider) setupIntent(ctx context.Context, setupIntentID string) (*stripego.SetupIntent, error) {
	params := &stripego.SetupIntentParams{}
	params.AddExpand("payment_method")
	params.Context = ctx

	si, err := p.api.SetupIntents.Get(setupIntentID, params)
	if err != nil {
		if missing(err) {
			return nil, nil
		}
		return nil, wrap("get setup intent", err)
	}
	return si, nil
}

// intentOf returns the PaymentIntent behind a payment id.
func (p *Provider) intentOf(ctx context.Context, paymentID string) (string, error) {
	if !isSession(paymentID) {
		return paymentID, nil
	}

	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.api.CheckoutSessions.Get(paymentID, params)
	if err != nil {
		return "", wrap("get checkout session", err)
	}
	if s.PaymentIntent == nil || s.PaymentIntent.ID == "" {
		return "", &provider.Error{Provider: Name, Op: "get checkout session", Message: "session has no payment intent"}
	}
	return s.PaymentIntent.ID, nil
}

// paymentOf returns the payment id under which a PaymentIntent is stored:
// its Checkout session when there is one, the intent itself otherwise.
func (p *Provider) paymentOf(ctx context.Context, intentID string) (string, error) {
	params := &stripego.CheckoutSessionListParams{PaymentIntent: stripego.String(intentID)}
	params.Context = ctx

	it := p.api.CheckoutSessions.List(params)
	if it.Next() {
		return it.CheckoutSession().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", wrap("list checkout sessions", err)
	}
	return intentID, nil
}

func intentStatus(s stripego.PaymentIntentStatus) payment.Status {
	switch s {
	case stripego.PaymentIntentStatusSucceeded:
		return payment.StatusPaid
	case stripego.PaymentIntentStatusCanceled:
		return payment.StatusCanceled
	case stripego.PaymentIntentStatusProcessing:
		return payment.StatusPending
	case stripego.PaymentIntentStatusRequiresCapture:
		return payment.StatusAuthorized
	default:
		return payment.StatusOpen
	}
}

func setupStatus(s stripego.SetupIntentStatus) payment.Status {
	switch s {
	case stripego.SetupIntentStatusSucceeded:
		return payment.StatusPaid
	case stripego.SetupIntentStatusCanceled:
		return payment.StatusCanceled
	case stripego.SetupIntentStatusProcessing:
		return payment.StatusPending
	default:
		return payment.StatusOpen
	}
}

func sessionStatus(s *stripego.CheckoutSession) payment.Status {
	switch string(s.Status) {
	case "expired":
		return payment.StatusExpired
	case "complete":
		if string(s.PaymentStatus) == "unpaid" {
			return payment.StatusPending
		}
		return payment.StatusPaid
	default:
		return payment.StatusOpen
	}
}

func reversal(r *stripego.Refund) provider.Reversal {
	return provider.Reversal{
		ID:       r.ID,
		Type:     payment.TypeRefund,
		Amount:   r.Amount,
		Currency: strings.ToLower(string(r.Currency)),
		Settled:  r.Status == stripego.RefundStatusSucceeded,
	}
}

// wrap converts SDK errors to provider errors.
func wrap(op string, err error) error {
	var se *stripego.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusTooManyRequests {
			return &provider.RateLimitError{Provider: Name, Op: op}
		}
		return &provider.Error{Provider: Name, Op: op, StatusCode: se.HTTPStatusCode, Message: se.Msg, Err: err}
	}
	return &provider.Error{Provider: Name, Op: op, Err: err}
}

func missing(err error) bool {
	var se *stripego.Error
	return errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
}

func isSession(paymentID string) bool {
	return strings.HasPrefix(paymentID, "cs_")
}

func newCustomer(customerID, known string) string {
	if customerID == known {
		return ""
	}
	return customerID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

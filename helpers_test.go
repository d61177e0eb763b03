package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/wallet"
)

const signature = "X-Test-Signature"

// gateway is an in-memory payment provider with webhook support.
type gateway struct {
	mu      sync.Mutex
	seq     int
	charges int
	// chargeStatus is returned by Charge, open when empty.
	chargeStatus payment.Status
	noMandate    bool
	unsettled    bool
}

func (g *gateway) Name() string { return "fake" }

func (g *gateway) next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *gateway) CreatePayment(_ context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return &provider.Result{ID: g.next("tr"), Status: payment.StatusOpen, CheckoutURL: "https://pay.example.org"}, nil
}

func (g *gateway) CreateMandate(_ context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	return &provider.Result{ID: g.next("tr"), Status: payment.StatusOpen, CustomerID: "cst_1"}, nil
}

func (g *gateway) Charge(_ context.Context, req provider.PaymentRequest) (*provider.Result, error) {
	g.mu.Lock()
	noMandate, status := g.noMandate, g.chargeStatus
	if !noMandate {
		g.charges++
	}
	g.mu.Unlock()

	if noMandate {
		return nil, nil
	}
	if status == "" {
		status = payment.StatusOpen
	}
	return &provider.Result{ID: g.next("tr"), Status: status}, nil
}

func (g *gateway) GetMandate(_ context.Context, m wallet.Mandate) (*provider.Mandate, error) {
	return &provider.Mandate{ID: m.ID, Method: "directdebit", Valid: true}, nil
}

func (g *gateway) DeleteMandate(context.Context, wallet.Mandate) error { return nil }

func (g *gateway) Refund(_ context.Context, req provider.RefundRequest) (*provider.Reversal, error) {
	g.mu.Lock()
	settled := !g.unsettled
	g.mu.Unlock()
	return &provider.Reversal{
		ID:       g.next("re"),
		Type:     payment.TypeRefund,
		Amount:   req.Amount,
		Currency: req.Currency,
		Settled:  settled,
	}, nil
}

func (g *gateway) Cancel(context.Context, string) (payment.Status, error) {
	return payment.StatusCanceled, nil
}

func (g *gateway) FetchPayment(_ context.Context, paymentID string) (*provider.NormalizedEvent, error) {
	return &provider.NormalizedEvent{PaymentID: paymentID, Status: payment.StatusPaid}, nil
}

func (g *gateway) VerifySignature(header http.Header, _ []byte) error {
	if header.Get(signature) != "ok" {
		return provider.ErrInvalidSignature
	}
	return nil
}

type event struct {
	ID        string              `json:"id"`
	Status    payment.Status      `json:"status"`
	MandateID string              `json:"mandate_id,omitempty"`
	Reversals []provider.Reversal `json:"reversals,omitempty"`
}

func (g *gateway) ParseEvent(_ context.Context, _ http.Header, body []byte) (*provider.NormalizedEvent, error) {
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrMalformedPayload, err)
	}
	return &provider.NormalizedEvent{
		Provider:  "fake",
		PaymentID: ev.ID,
		Status:    ev.Status,
		MandateID: ev.MandateID,
		Reversals: ev.Reversals,
	}, nil
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mailbox collects notifications.
type mailbox struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (m *mailbox) Notify(_ context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *mailbox) kinds() []notify.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Kind, 0, len(m.sent))
	for _, n := range m.sent {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	engine  *billing.Engine
	store   *memory.Store
	gateway *gateway
	clock   *clock
	mail    *mailbox
}

var epoch = time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.New(),
		gateway: &gateway{},
		clock:   &clock{t: epoch},
		mail:    &mailbox{},
	}
	opts = append([]billing.Option{
		billing.WithProvider(f.gateway),
		billing.WithNotifier(f.mail),
		billing.WithClock(f.clock.Now),
		billing.WithConfig(billing.Config{DefaultProvider: "fake"}),
	}, opts...)
	f.engine = billing.New(f.store, opts...)
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop() })
	return f
}

func (f *fixture) wallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w := &wallet.Wallet{OwnerID: "jane", Currency: "chf"}
	require.NoError(t, f.engine.CreateWallet(context.Background(), w))
	return w
}

func (f *fixture) sku(t *testing.T, title string, cost int64, units int) *sku.Sku {
	t.Helper()
	s := &sku.Sku{Title: title, Cost: cost, Units: units, Handler: entitlement.ObjectMailbox, Active: true}
	require.NoError(t, f.engine.CreateSku(context.Background(), s))
	return s
}

func (f *fixture) entitle(t *testing.T, w *wallet.Wallet, s *sku.Sku, object string) *entitlement.Entitlement {
	t.Helper()
	ent, err := f.engine.Entitle(context.Background(), billing.EntitleRequest{
		WalletID: w.ID,
		SkuID:    s.ID,
		Object:   entitlement.Ref{Type: entitlement.ObjectMailbox, ID: object},
	})
	require.NoError(t, err)
	return ent
}

// edit changes a wallet behind the engine's back.
func (f *fixture) edit(t *testing.T, walletID id.WalletID, fn func(w *wallet.Wallet)) {
	t.Helper()
	err := f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		fn(w)
		return tx.UpdateWallet(ctx, w)
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, walletID id.WalletID) int64 {
	t.Helper()
	w, err := f.engine.GetWallet(context.Background(), walletID)
	require.NoError(t, err)
	require.NoError(t, f.engine.VerifyBalance(context.Background(), walletID))
	return w.Balance
}

func (f *fixture) webhook(t *testing.T, ev event) (*billing.ReconcileResult, error) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	header := http.Header{}
	header.Set(signature, "ok")
	return f.engine.HandleWebhook(context.Background(), "fake", header, body)
}

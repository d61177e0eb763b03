package billing_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

func (f *fixture) openPayment(t *testing.T, w *wallet.Wallet, amount int64) *payment.Payment {
	t.Helper()
	p, err := f.engine.CreatePayment(context.Background(), billing.PaymentRequest{WalletID: w.ID, Amount: amount})
	require.NoError(t, err)
	require.Equal(t, payment.StatusOpen, p.Status)
	return p
}

func (f *fixture) paidPayment(t *testing.T, w *wallet.Wallet, paymentID string, amount int64) {
	t.Helper()
	err := f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreatePayment(ctx, &payment.Payment{
			Entity:         billing.NewEntity(),
			ID:             paymentID,
			WalletID:       w.ID,
			Provider:       "fake",
			Type:           payment.TypeOneOff,
			Status:         payment.StatusPaid,
			Amount:         amount,
			CreditAmount:   amount,
			CurrencyAmount: amount,
			Currency:       w.Currency,
		})
	})
	require.NoError(t, err)
}

func TestWebhookIsIdempotent(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	p := f.openPayment(t, w, 2000)

	res, err := f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, payment.StatusOpen, res.From)
	assert.Equal(t, int64(2000), res.Credited)
	assert.Equal(t, int64(2000), f.balance(t, w.ID))

	res, err = f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Zero(t, res.Credited)

	res, err = f.webhook(t, event{ID: p.ID, Status: payment.StatusFailed})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, payment.StatusPaid, res.To)

	assert.Equal(t, int64(2000), f.balance(t, w.ID))
	txns, err := f.engine.Transactions(context.Background(), w.ID, transaction.ListOpts{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Payment "+p.ID+" via fake", txns[0].Description)
	assert.Equal(t, p.ID, txns[0].PaymentID)
}

func TestWebhookStatusNeverMovesBack(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	p := f.openPayment(t, w, 2000)

	res, err := f.webhook(t, event{ID: p.ID, Status: payment.StatusAuthorized})
	require.NoError(t, err)
	assert.True(t, res.Changed)

	for _, status := range []payment.Status{payment.StatusPending, payment.StatusOpen} {
		res, err = f.webhook(t, event{ID: p.ID, Status: status})
		require.NoError(t, err)
		assert.False(t, res.Changed, status)
		assert.Equal(t, payment.StatusAuthorized, res.To)
	}

	got, err := f.engine.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusAuthorized, got.Status)

	res, err = f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(2000), f.balance(t, w.ID))
}

func TestPaymentTimestampsFollowEngineClock(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	p := f.openPayment(t, w, 2000)
	assert.True(t, epoch.Equal(p.CreatedAt), p.CreatedAt)

	f.clock.Add(time.Hour)
	_, err := f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid})
	require.NoError(t, err)

	got, err := f.engine.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, epoch.Equal(got.CreatedAt), got.CreatedAt)
	assert.True(t, epoch.Add(time.Hour).Equal(got.UpdatedAt), got.UpdatedAt)
}

func TestConcurrentDuplicateWebhooks(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	p := f.openPayment(t, w, 2000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid})
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Changed {
				changed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)
	assert.Equal(t, int64(2000), f.balance(t, w.ID))
}

func TestWebhookRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.HandleWebhook(ctx, "fake", http.Header{}, []byte(`{"id":"tr_1","status":"paid"}`))
	assert.ErrorIs(t, err, provider.ErrInvalidSignature)
	assert.True(t, billing.IsValidation(err))

	_, err = f.webhook(t, event{ID: "tr_unknown", Status: payment.StatusPaid})
	assert.True(t, billing.IsNotFound(err))

	_, err = f.engine.HandleWebhook(ctx, "nope", http.Header{}, nil)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)

	res, err := f.webhook(t, event{ID: "tr_1"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestCreatePaymentMinimum(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	_, err := f.engine.CreatePayment(context.Background(), billing.PaymentRequest{WalletID: w.ID, Amount: 500})
	require.ErrorIs(t, err, billing.ErrAmountTooLow)

	var ve billing.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "minamount", ve.Code())
}

func TestCreatePaymentWithVat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.CreateVatRate(ctx, &vat.Rate{
		Country: "ch",
		Rate:    decimal.RequireFromString("8.1"),
		Start:   epoch.AddDate(-1, 0, 0),
	}))

	w := &wallet.Wallet{OwnerID: "jane", Currency: "chf", Country: "ch"}
	require.NoError(t, f.engine.CreateWallet(ctx, w))

	p := f.openPayment(t, w, 10000)
	assert.Equal(t, int64(10810), p.Amount)
	assert.Equal(t, int64(10000), p.CreditAmount)
	assert.False(t, p.VatRateID.IsNil())

	_, err := f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), f.balance(t, w.ID))
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)
	f.paidPayment(t, w, "tr_paid", 1234)

	rev, err := f.engine.RefundPayment(ctx, billing.RefundRequest{PaymentID: "tr_paid", Amount: 101})
	require.NoError(t, err)
	assert.Equal(t, payment.TypeRefund, rev.Type)
	assert.Equal(t, payment.StatusPaid, rev.Status)
	assert.Equal(t, int64(-101), rev.Amount)
	assert.Equal(t, "tr_paid", rev.ParentID)
	assert.Equal(t, int64(-101), f.balance(t, w.ID))

	txns, err := f.engine.Transactions(ctx, w.ID, transaction.ListOpts{Types: []transaction.Type{transaction.TypeRefund}})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(-101), txns[0].Amount)

	// The gateway reports the same refund again.
	res, err := f.webhook(t, event{ID: "tr_paid", Reversals: []provider.Reversal{
		{ID: rev.ID, Type: payment.TypeRefund, Amount: 101, Settled: true},
	}})
	require.NoError(t, err)
	assert.Zero(t, res.Reversed)
	assert.Equal(t, int64(-101), f.balance(t, w.ID))

	_, err = f.engine.RefundPayment(ctx, billing.RefundRequest{PaymentID: "tr_paid", Amount: 1200})
	assert.ErrorIs(t, err, billing.ErrRefundTooLarge)
}

func TestPendingRefundSettlesLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)
	f.paidPayment(t, w, "tr_paid", 1234)
	f.gateway.unsettled = true

	rev, err := f.engine.RefundPayment(ctx, billing.RefundRequest{PaymentID: "tr_paid", Amount: 101})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, rev.Status)
	assert.Equal(t, int64(0), f.balance(t, w.ID))

	res, err := f.webhook(t, event{ID: "tr_paid", Reversals: []provider.Reversal{
		{ID: rev.ID, Type: payment.TypeRefund, Amount: 101, Settled: true},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reversed)
	assert.Equal(t, int64(-101), f.balance(t, w.ID))
}

func TestChargebackFromWebhook(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	p := f.openPayment(t, w, 2000)

	res, err := f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid, Reversals: []provider.Reversal{
		{ID: "chb_1", Type: payment.TypeChargeback, Amount: 2000, Settled: true},
	}})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Reversed)
	assert.Equal(t, int64(0), f.balance(t, w.ID))

	reversals, err := f.engine.PaymentReversals(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, payment.TypeChargeback, reversals[0].Type)
	assert.Equal(t, int64(-2000), reversals[0].CreditAmount)
}

func TestRefundUnpaidPayment(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	p := f.openPayment(t, w, 2000)

	_, err := f.engine.RefundPayment(context.Background(), billing.RefundRequest{PaymentID: p.ID, Amount: 100})
	assert.ErrorIs(t, err, billing.ErrPaymentNotPaid)
}

func TestCancelAndSyncPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	canceled := f.openPayment(t, w, 2000)
	got, err := f.engine.CancelPayment(ctx, canceled.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCanceled, got.Status)

	synced := f.openPayment(t, w, 3000)
	res, err := f.engine.SyncPayment(ctx, synced.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(3000), f.balance(t, w.ID))
}

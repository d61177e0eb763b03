package billing_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/wallet"
)

// mandateWallet creates a wallet with the given balance and mandate.
func (f *fixture) mandateWallet(t *testing.T, balance int64, m wallet.Mandate) *wallet.Wallet {
	t.Helper()
	ctx := context.Background()
	w := f.wallet(t)
	switch {
	case balance > 0:
		_, err := f.engine.Credit(ctx, w.ID, balance, "Payment")
		require.NoError(t, err)
	case balance < 0:
		_, err := f.engine.Debit(ctx, w.ID, -balance, "Charges")
		require.NoError(t, err)
	}
	m.Provider = "fake"
	f.edit(t, w.ID, func(w *wallet.Wallet) { w.Mandate = m })
	return w
}

func TestTopUpGating(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		mandate wallet.Mandate
		want    bool
	}{
		{
			name:    "mandate disabled",
			mandate: wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000, Disabled: true},
		},
		{
			name:    "balance not under threshold",
			balance: 1500,
			mandate: wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000},
		},
		{
			name:    "amount does not cover the debt",
			balance: -3000,
			mandate: wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000},
		},
		{
			name:    "no mandate id",
			mandate: wallet.Mandate{Amount: 2000, Balance: 1000},
		},
		{
			name:    "due",
			mandate: wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			w := f.mandateWallet(t, tt.balance, tt.mandate)

			ok, err := f.engine.TopUp(ctx, w.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			ps, err := f.engine.Payments(ctx, w.ID, payment.ListOpts{Type: payment.TypeRecurring})
			require.NoError(t, err)
			if !tt.want {
				assert.Zero(t, f.gateway.charges)
				assert.Empty(t, ps)
				assert.Equal(t, tt.balance, f.balance(t, w.ID))
				return
			}
			require.Len(t, ps, 1)
			assert.Equal(t, payment.StatusOpen, ps[0].Status)
			assert.Equal(t, int64(2000), ps[0].CreditAmount)
		})
	}
}

func TestTopUpSkipsWhileAutoPaymentPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.mandateWallet(t, 0, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})

	ok, err := f.engine.TopUp(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.engine.TopUp(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.gateway.charges)
}

func TestTopUpWithoutGatewayMandate(t *testing.T) {
	f := newFixture(t)
	w := f.mandateWallet(t, 0, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})
	f.gateway.noMandate = true

	ok, err := f.engine.TopUp(context.Background(), w.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopUpConfirmedSynchronously(t *testing.T) {
	f := newFixture(t)
	w := f.mandateWallet(t, 0, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})
	f.gateway.chargeStatus = payment.StatusPaid

	ok, err := f.engine.TopUp(context.Background(), w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(2000), f.balance(t, w.ID))
	assert.Equal(t, []notify.Kind{notify.KindPaymentSuccess}, f.mail.kinds())
}

func TestDefaultNotifierUsesEngineLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := newFixture(t, billing.WithNotifier(nil), billing.WithLogger(logger))
	w := f.mandateWallet(t, 0, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})
	f.gateway.chargeStatus = payment.StatusPaid

	ok, err := f.engine.TopUp(context.Background(), w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Contains(t, buf.String(), "msg=notification")
	assert.Contains(t, buf.String(), string(notify.KindPaymentSuccess))
	assert.Empty(t, f.mail.kinds())
}

func TestFailedAutoPaymentDisablesMandate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.mandateWallet(t, 0, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})

	ok, err := f.engine.TopUp(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ps, err := f.engine.Payments(ctx, w.ID, payment.ListOpts{Type: payment.TypeRecurring})
	require.NoError(t, err)
	require.Len(t, ps, 1)

	for range 2 {
		_, err = f.webhook(t, event{ID: ps[0].ID, Status: payment.StatusFailed})
		require.NoError(t, err)
	}

	got, err := f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Mandate.Disabled)
	assert.Equal(t, []notify.Kind{notify.KindMandateDisabled}, f.mail.kinds())
	assert.Equal(t, int64(0), f.balance(t, w.ID))

	ok, err = f.engine.TopUp(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAbandonedAutoPaymentKeepsMandate(t *testing.T) {
	for _, status := range []payment.Status{payment.StatusCanceled, payment.StatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			w := f.mandateWallet(t, 0, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})

			ok, err := f.engine.TopUp(ctx, w.ID)
			require.NoError(t, err)
			require.True(t, ok)

			ps, err := f.engine.Payments(ctx, w.ID, payment.ListOpts{Type: payment.TypeRecurring})
			require.NoError(t, err)
			require.Len(t, ps, 1)

			res, err := f.webhook(t, event{ID: ps[0].ID, Status: status})
			require.NoError(t, err)
			assert.True(t, res.Changed)
			assert.Equal(t, status, res.To)

			got, err := f.engine.GetWallet(ctx, w.ID)
			require.NoError(t, err)
			assert.False(t, got.Mandate.Disabled)
			assert.Equal(t, "mdt_1", got.Mandate.ID)
			assert.Empty(t, f.mail.kinds())
		})
	}
}

func TestCreateMandateFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	p, err := f.engine.CreateMandate(ctx, billing.MandateRequest{WalletID: w.ID, Amount: 2000, Balance: 1000})
	require.NoError(t, err)
	assert.Equal(t, payment.TypeMandate, p.Type)
	assert.Equal(t, int64(2000), p.CreditAmount)

	_, err = f.webhook(t, event{ID: p.ID, Status: payment.StatusPaid, MandateID: "mdt_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), f.balance(t, w.ID))

	info, err := f.engine.GetMandate(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "mdt_1", info.ID)
	assert.Equal(t, int64(2000), info.Amount)
	assert.Equal(t, int64(1000), info.Balance)
	assert.Equal(t, int64(1000), info.MinAmount)
	assert.True(t, info.Valid)

	require.NoError(t, f.engine.DeleteMandate(ctx, w.ID))
	got, err := f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Mandate.ID)
	assert.Equal(t, "cst_1", got.Mandate.CustomerID)
	assert.ErrorIs(t, f.engine.DeleteMandate(ctx, w.ID), billing.ErrNoMandate)
}

func TestCreateMandateSetupChargesNothingAboveThreshold(t *testing.T) {
	f := newFixture(t)
	w := f.mandateWallet(t, 5000, wallet.Mandate{})

	p, err := f.engine.CreateMandate(context.Background(), billing.MandateRequest{WalletID: w.ID, Amount: 2000, Balance: 1000})
	require.NoError(t, err)
	assert.Zero(t, p.Amount)
	assert.Zero(t, p.CreditAmount)
}

func TestCreateMandateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.mandateWallet(t, -5000, wallet.Mandate{})

	tests := []struct {
		name    string
		amount  int64
		balance int64
		err     error
		code    string
	}{
		{"negative threshold", 6000, -1, billing.ErrInvalidThreshold, "threshold"},
		{"below minimum", 500, 0, billing.ErrAmountTooLow, "minamount"},
		{"below debt", 2000, 0, billing.ErrAmountBelowDebt, "minamountdebt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateMandate(ctx, billing.MandateRequest{WalletID: w.ID, Amount: tt.amount, Balance: tt.balance})
			require.ErrorIs(t, err, tt.err)

			var ve billing.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code())
		})
	}
}

func TestMandateMinimumFollowsPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)
	mailbox := f.sku(t, "mailbox", 500, 0)

	p := &plan.Plan{Title: "team", Items: []plan.Item{{SkuID: mailbox.ID, Qty: 3, Cost: 500}}}
	require.NoError(t, f.engine.CreatePlan(ctx, p))
	_, err := f.engine.SetPlan(ctx, w.ID, p.ID)
	require.NoError(t, err)

	info, err := f.engine.GetMandate(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), info.MinAmount)

	_, err = f.engine.CreateMandate(ctx, billing.MandateRequest{WalletID: w.ID, Amount: 1200})
	assert.ErrorIs(t, err, billing.ErrAmountTooLow)
}

func TestUpdateMandateReenablesAndTopsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.mandateWallet(t, 500, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 100, Disabled: true})

	got, err := f.engine.UpdateMandate(ctx, w.ID, 3000, 1000)
	require.NoError(t, err)
	assert.False(t, got.Mandate.Disabled)
	assert.Equal(t, int64(3000), got.Mandate.Amount)
	assert.Equal(t, 1, f.gateway.charges)
}

func TestResetMandateKeepsSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bare := f.wallet(t)
	_, err := f.engine.ResetMandate(ctx, bare.ID, "", "")
	assert.ErrorIs(t, err, billing.ErrNoMandate)

	w := f.mandateWallet(t, 5000, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 1000})
	p, err := f.engine.ResetMandate(ctx, w.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, payment.TypeMandate, p.Type)
	assert.Zero(t, p.Amount)

	got, err := f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Mandate.Amount)
	assert.Equal(t, int64(1000), got.Mandate.Balance)
}

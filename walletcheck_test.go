package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/wallet"
)

func TestCheckWalletSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.mandateWallet(t, -500, wallet.Mandate{})

	steps := []struct {
		at   time.Duration
		want billing.CheckStep
	}{
		{0, billing.CheckNone},
		{2 * time.Hour, billing.CheckInitial},
		{3 * time.Hour, billing.CheckNone},
		{6*24*time.Hour + time.Hour, billing.CheckBeforeReminder},
		{7*24*time.Hour + time.Hour, billing.CheckReminder},
		{8 * 24 * time.Hour, billing.CheckNone},
		{13*24*time.Hour + time.Hour, billing.CheckBeforeDegrade},
		{14*24*time.Hour + time.Hour, billing.CheckDegrade},
		{20 * 24 * time.Hour, billing.CheckNone},
		{28*24*time.Hour + 2*time.Hour, billing.CheckDegradedReminder},
	}
	for _, s := range steps {
		f.clock.Set(epoch.Add(s.at))
		got, err := f.engine.CheckWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, s.want, got, "after %s", s.at)
	}

	assert.Equal(t, []notify.Kind{
		notify.KindNegativeBalance,
		notify.KindNegativeBalanceReminder,
		notify.KindNegativeBalanceDegraded,
		notify.KindDegradedAccountReminder,
	}, f.mail.kinds())

	got, err := f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Restricted)

	_, err = f.engine.Credit(ctx, w.ID, 500, "Payment")
	require.NoError(t, err)
	got, err = f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, got.Restricted)
	assert.Nil(t, got.Check.NegativeSince)
}

func TestCheckWalletsTopsUpBeforeEscalating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.mandateWallet(t, -500, wallet.Mandate{ID: "mdt_1", Amount: 2000, Balance: 0})

	_, err := f.engine.CheckWallets(ctx)
	require.NoError(t, err)

	f.clock.Set(epoch.Add(6*24*time.Hour + time.Hour))
	steps, err := f.engine.CheckWallets(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.CheckBeforeReminder, steps[w.ID.String()])
	assert.Equal(t, 1, f.gateway.charges)
}

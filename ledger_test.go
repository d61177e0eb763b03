package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

func TestRecordKeepsBalanceInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	_, err := f.engine.Credit(ctx, w.ID, 1000, "Payment")
	require.NoError(t, err)
	_, err = f.engine.Debit(ctx, w.ID, 300, "Charges")
	require.NoError(t, err)
	_, err = f.engine.Award(ctx, w.ID, 50, "Goodwill")
	require.NoError(t, err)
	txn, err := f.engine.Penalty(ctx, w.ID, 20, "Late fee")
	require.NoError(t, err)
	assert.Equal(t, int64(-20), txn.Amount)

	assert.Equal(t, int64(730), f.balance(t, w.ID))

	txns, err := f.engine.Transactions(ctx, w.ID, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txns, 4)
}

func TestRecordZeroAmount(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	txn, err := f.engine.Credit(context.Background(), w.ID, 0, "nothing")
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestRecordRejectsNegativeAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	_, err := f.engine.Credit(ctx, w.ID, 1000, "Payment")
	require.NoError(t, err)

	_, err = f.engine.Credit(ctx, w.ID, -500, "Payment")
	require.ErrorIs(t, err, billing.ErrInvalidInput)
	assert.True(t, billing.IsValidation(err))
	var ve billing.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Field)

	_, err = f.engine.Debit(ctx, w.ID, -200, "Charges")
	assert.True(t, billing.IsValidation(err))

	assert.Equal(t, int64(1000), f.balance(t, w.ID))
	txns, err := f.engine.Transactions(ctx, w.ID, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestRecordRejectsEntitlementTypes(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	_, err := f.engine.Record(context.Background(), w.ID, billing.Entry{Type: transaction.TypeBilled, Amount: 10})
	assert.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestCreditLiftsRestriction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	_, err := f.engine.Debit(ctx, w.ID, 500, "Charges")
	require.NoError(t, err)
	_, err = f.engine.Restrict(ctx, w.ID)
	require.NoError(t, err)

	_, err = f.engine.Credit(ctx, w.ID, 200, "Partial payment")
	require.NoError(t, err)
	got, err := f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Restricted)

	_, err = f.engine.Credit(ctx, w.ID, 300, "Payment")
	require.NoError(t, err)
	got, err = f.engine.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, got.Restricted)
	assert.Equal(t, int64(0), got.Balance)
}

func TestDeleteWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	assert.ErrorIs(t, f.engine.DeleteWallet(ctx, w.ID), billing.ErrLastWallet)

	second := f.wallet(t)
	_, err := f.engine.Credit(ctx, second.ID, 100, "Payment")
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.DeleteWallet(ctx, second.ID), billing.ErrWalletNotEmpty)

	require.NoError(t, f.engine.DeleteWallet(ctx, w.ID))
	_, err = f.engine.GetWallet(ctx, w.ID)
	assert.True(t, billing.IsNotFound(err))
}

func TestControllers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	require.NoError(t, f.engine.AddController(ctx, w.ID, "john"))
	assert.True(t, billing.IsValidation(f.engine.AddController(ctx, w.ID, "jane")))

	_, err := f.engine.Authorize(ctx, w.ID, "john")
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, w.ID, "eve")
	assert.ErrorIs(t, err, billing.ErrForbidden)

	require.NoError(t, f.engine.RemoveController(ctx, w.ID, "john"))
	assert.ErrorIs(t, f.engine.RemoveController(ctx, w.ID, "john"), billing.ErrNotController)
}

func TestCreateWalletValidation(t *testing.T) {
	f := newFixture(t)

	err := f.engine.CreateWallet(context.Background(), &wallet.Wallet{Currency: "chf"})
	assert.True(t, billing.IsValidation(err))
}

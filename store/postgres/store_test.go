package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

func TestMigrationsOrdered(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "init", ms[0].Name)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
}

func TestPage(t *testing.T) {
	assert.Equal(t, "", page(0, 0))
	assert.Equal(t, " LIMIT 10", page(0, 10))
	assert.Equal(t, " LIMIT 10 OFFSET 20", page(20, 10))
	assert.Equal(t, "", page(-1, -1))
}

// newStore connects to BILLING_TEST_DATABASE_URL and migrates it.
func newStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("BILLING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BILLING_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.Migrate(ctx))
	// Migrating twice is a no-op.
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestLedgerRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	eng := billing.New(s)

	w := &wallet.Wallet{OwnerID: "owner-" + id.NewWalletID().String(), Currency: "chf", TenantID: "t1"}
	require.NoError(t, eng.CreateWallet(ctx, w))

	_, err := eng.Credit(ctx, w.ID, 1000, "welcome")
	require.NoError(t, err)
	_, err = eng.Debit(ctx, w.ID, 1500, "usage")
	require.NoError(t, err)

	got, err := eng.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-500), got.Balance)
	assert.NoError(t, eng.VerifyBalance(ctx, w.ID))

	txns, err := s.ListTransactions(ctx, w.ID, transaction.ListOpts{Types: []transaction.Type{transaction.TypeDebit}})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(-1500), txns[0].Amount)

	negative, err := s.ListWallets(ctx, wallet.ListOpts{TenantID: "t1", Negative: true})
	require.NoError(t, err)
	var found bool
	for _, nw := range negative {
		found = found || nw.ID.String() == w.ID.String()
	}
	assert.True(t, found)
}

func TestWalletJSONColumns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	w := &wallet.Wallet{
		Entity:   types.Entity{CreatedAt: now, UpdatedAt: now},
		ID:       id.NewWalletID(),
		OwnerID:  "jane",
		Currency: "eur",
	}
	require.NoError(t, s.CreateWallet(ctx, w))

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lw, err := tx.GetWalletForUpdate(ctx, w.ID)
		if err != nil {
			return err
		}
		lw.Mandate = wallet.Mandate{Provider: "mollie", ID: "mdt_1", Amount: 2000, Balance: 500}
		lw.Check.NegativeSince = &now
		lw.Controllers = []string{"bob"}
		return tx.UpdateWallet(ctx, lw)
	})
	require.NoError(t, err)

	got, err := s.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "mdt_1", got.Mandate.ID)
	assert.Equal(t, int64(2000), got.Mandate.Amount)
	assert.Equal(t, []string{"bob"}, got.Controllers)
	require.NotNil(t, got.Check.NegativeSince)
	assert.True(t, now.Equal(*got.Check.NegativeSince))
	assert.True(t, got.DiscountID.IsNil())
}

func TestFailedUnitOfWorkRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w := &wallet.Wallet{Entity: types.Entity{CreatedAt: now, UpdatedAt: now}, ID: id.NewWalletID(), OwnerID: "jane", Currency: "chf"}
	require.NoError(t, s.CreateWallet(ctx, w))

	p := &payment.Payment{
		Entity: types.Entity{CreatedAt: now, UpdatedAt: now},
		ID:     "tr_" + id.NewWalletID().String(), WalletID: w.ID, Provider: "mollie",
		Type: payment.TypeOneOff, Status: payment.StatusOpen, Amount: 1000, CreditAmount: 1000,
		CurrencyAmount: 1000, Currency: "chf",
	}
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		return billing.ErrNothingToDo
	})
	require.ErrorIs(t, err, billing.ErrNothingToDo)

	_, err = s.GetPayment(ctx, p.ID)
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}

func TestEntitlementsByObject(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ref := entitlement.Ref{Type: entitlement.ObjectMailbox, ID: "box-" + id.NewEntitlementID().String()}
	e := &entitlement.Entitlement{
		ID: id.NewEntitlementID(), WalletID: id.NewWalletID(), SkuID: id.NewSkuID(),
		Object: ref, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateEntitlement(ctx, e)
	}))

	got, err := s.ListEntitlementsByObject(ctx, ref)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Cost)
	assert.Equal(t, ref, got[0].Object)
}

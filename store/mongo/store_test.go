package mongo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

func TestWalletModelOptionalIDs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := &wallet.Wallet{
		ID:       id.NewWalletID(),
		OwnerID:  "owner",
		Currency: "chf",
		Balance:  -250,
		Mandate:  wallet.Mandate{Provider: "mollie", ID: "mdt_1", Amount: 5000, Balance: 1000},
		Check:    wallet.CheckState{NegativeSince: &now},
	}
	w.CreatedAt = now
	w.UpdatedAt = now

	m := toWalletModel(w)
	assert.Empty(t, m.DiscountID)
	assert.Empty(t, m.PlanID)
	assert.NotNil(t, m.Controllers)

	got, err := fromWalletModel(m)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.True(t, got.DiscountID.IsNil())
	assert.True(t, got.TenantWalletID.IsNil())
	assert.Equal(t, w.Mandate, got.Mandate)
	require.NotNil(t, got.Check.NegativeSince)
	assert.True(t, now.Equal(*got.Check.NegativeSince))
	assert.Nil(t, got.Check.InitialSentAt)
}

func TestEntitlementModelDeletedAt(t *testing.T) {
	now := time.Now().UTC()
	e := &entitlement.Entitlement{
		ID:        id.NewEntitlementID(),
		WalletID:  id.NewWalletID(),
		SkuID:     id.NewSkuID(),
		Object:    entitlement.Ref{Type: entitlement.ObjectRoom, ID: "room-1"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m := toEntitlementModel(e)
	assert.Nil(t, m.DeletedAt)
	assert.Equal(t, "room", m.ObjectType)

	got, err := fromEntitlementModel(m)
	require.NoError(t, err)
	assert.Equal(t, e.Object, got.Object)
	assert.Nil(t, got.DeletedAt)
}

func TestTransactionModelParent(t *testing.T) {
	parent := &transaction.Transaction{
		ID:         id.NewTransactionID(),
		WalletID:   id.NewWalletID(),
		ObjectType: transaction.ObjectWallet,
		Type:       transaction.TypeDebit,
		Amount:     -100,
	}
	assert.Empty(t, toTransactionModel(parent).ParentID)

	child := &transaction.Transaction{
		ID:         id.NewTransactionID(),
		WalletID:   parent.WalletID,
		ObjectType: transaction.ObjectEntitlement,
		Type:       transaction.TypeBilled,
		ParentID:   parent.ID,
	}
	got, err := fromTransactionModel(toTransactionModel(child))
	require.NoError(t, err)
	assert.Equal(t, parent.ID, got.ParentID)
}

func TestVatRateModelKeepsPrecision(t *testing.T) {
	r := &vat.Rate{
		ID:      id.NewVatRateID(),
		Country: "CH",
		Rate:    decimal.RequireFromString("0.081"),
		Start:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	m := toVatRateModel(r)
	assert.Equal(t, "0.081", m.Rate)

	got, err := fromVatRateModel(m)
	require.NoError(t, err)
	assert.True(t, r.Rate.Equal(got.Rate))
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	for _, col := range []string{colSkus, colPlans, colDiscounts, colVatRates, colWallets, colEntitlements, colTransactions, colPayments} {
		assert.NotEmpty(t, idx[col], col)
	}
	require.Len(t, idx[colSkus], 1)
	assert.NotNil(t, idx[colSkus][0].Options)
}

func TestCaseHelpers(t *testing.T) {
	assert.Equal(t, "spring24", lower("SPRING24"))
	assert.Equal(t, "CH", upper("ch"))
}

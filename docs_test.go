package billing_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// TestDocumentationExamples verifies that the package documentation examples work.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()
		now := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

		engine := billing.New(store,
			billing.WithLogger(slog.Default()),
			billing.WithClock(func() time.Time { return now }),
		)

		ctx := context.Background()
		require.NoError(t, engine.Start(ctx))
		defer engine.Stop()

		w := &wallet.Wallet{OwnerID: "jane", Currency: "chf"}
		require.NoError(t, engine.CreateWallet(ctx, w))

		mailbox := &sku.Sku{TenantID: "acme", Title: "mailbox", Cost: 500, Handler: entitlement.ObjectMailbox, Active: true}
		require.NoError(t, engine.CreateSku(ctx, mailbox))

		_, err := engine.Entitle(ctx, billing.EntitleRequest{
			WalletID: w.ID,
			SkuID:    mailbox.ID,
			Object:   entitlement.Ref{Type: entitlement.ObjectMailbox, ID: "jane@example.org"},
		})
		require.NoError(t, err)

		now = now.AddDate(0, 1, 0)
		res, err := engine.ChargeEntitlements(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.Total)

		got, err := engine.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, "CHF -5.00", got.Money().String())
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.CHF(1000)   // CHF 10.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		// Arithmetic
		m1 := billing.CHF(100)
		m2 := billing.CHF(200)
		assert.Equal(t, int64(300), m1.Add(m2).Amount)
		assert.Equal(t, int64(300), m1.Multiply(3).Amount)

		// Comparison
		assert.True(t, m1.LessThan(m2))

		// Formatting
		assert.Equal(t, "CHF 1.00", m1.String())
		assert.Equal(t, "1.00", m1.FormatMajor())
	})
}

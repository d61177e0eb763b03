// Package billing provides a wallet based billing engine for hosted services.
//
// Billing is designed as a library, not a service. It provides:
//
//   - A wallet ledger whose cached balance always equals the sum of its
//     append-only transactions
//   - Entitlement accounting with calendar-month proration, free units,
//     discounts, plan trials and reseller fees
//   - Payments through pluggable gateways (Mollie, Stripe and Coinbase
//     Commerce built in), with VAT and currency conversion
//   - Auto-payment mandates that top wallets up under a balance threshold
//   - Idempotent webhook reconciliation of payments, refunds and chargebacks
//
// # Quick Start
//
//	store := memory.New()
//	engine := billing.New(store,
//	    billing.WithLogger(slog.Default()),
//	    billing.WithProvider(mollie.New(mollie.Config{APIKey: key})),
//	    billing.WithConfig(billing.Config{DefaultProvider: "mollie"}),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Skus are the billable items of a tenant:
//
//	mailbox := &sku.Sku{TenantID: "acme", Title: "mailbox", Cost: 500, Handler: entitlement.ObjectMailbox, Active: true}
//	err := engine.CreateSku(ctx, mailbox)
//
// Entitlements attach a sku to an object a wallet pays for:
//
//	ent, err := engine.Entitle(ctx, billing.EntitleRequest{
//	    WalletID: w.ID,
//	    SkuID:    mailbox.ID,
//	    Object:   entitlement.Ref{Type: entitlement.ObjectMailbox, ID: "jane@example.org"},
//	})
//
// A periodic sweep charges every whole period elapsed since the last
// charge in one wallet debit, itemized per entitlement:
//
//	res, err := engine.ChargeEntitlements(ctx, w.ID)
//
// Payments credit the wallet once their gateway reports them paid:
//
//	p, err := engine.CreatePayment(ctx, billing.PaymentRequest{WalletID: w.ID, Amount: 2000})
//	// later, from the webhook endpoint
//	res, err := engine.HandleWebhook(ctx, "mollie", r.Header, body)
//
// All monetary calculations use integer arithmetic in the smallest unit of
// the wallet currency. Rates are applied with decimal arithmetic and
// rounded half up.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	wal_01h2xcejqtf2nbrexx3vqjhp41  // Wallet ID
//	ent_01h2xcejqtf2nbrexx3vqjhp41  // Entitlement ID
//	txn_01h455vb4pex5vsknk084sn02q  // Transaction ID
//
// Payments are keyed by the id their gateway assigned.
package billing

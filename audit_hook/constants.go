package audithook

// Action constants for audit events.
const (
	// Wallet actions
	ActionWalletCreated      = "wallet.created"
	ActionWalletDeleted      = "wallet.deleted"
	ActionWalletRestricted   = "wallet.restricted"
	ActionWalletUnrestricted = "wallet.unrestricted"

	// Ledger actions
	ActionTransactionRecorded = "transaction.recorded"
	ActionBalanceMismatch     = "balance.mismatch"
	ActionEntitlementsCharged = "entitlements.charged"

	// Payment actions
	ActionPaymentCreated  = "payment.created"
	ActionPaymentPaid     = "payment.paid"
	ActionPaymentFailed   = "payment.failed"
	ActionPaymentCanceled = "payment.canceled"
	ActionPaymentReversed = "payment.reversed"

	// Mandate actions
	ActionTopUp           = "mandate.topup"
	ActionMandateDisabled = "mandate.disabled"

	// Provider actions
	ActionProviderError = "provider.error"
)

// Resource constants for audit events.
const (
	ResourceWallet      = "wallet"
	ResourceTransaction = "transaction"
	ResourcePayment     = "payment"
	ResourceProvider    = "provider"
)

// Category constants for audit events.
const (
	CategoryBilling     = "billing"
	CategoryLedger      = "ledger"
	CategoryPayment     = "payment"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

package billing

import (
	"errors"
	"fmt"

	"github.com/xraph/billing/accounting"
	"github.com/xraph/billing/lock"
	"github.com/xraph/billing/provider"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("billing: not found")
	ErrAlreadyExists = errors.New("billing: already exists")
	ErrInvalidInput  = errors.New("billing: invalid input")
	ErrForbidden     = errors.New("billing: forbidden")

	// Entity errors
	ErrWalletNotFound      = errors.New("billing: wallet not found")
	ErrSkuNotFound         = errors.New("billing: sku not found")
	ErrEntitlementNotFound = errors.New("billing: entitlement not found")
	ErrPaymentNotFound     = errors.New("billing: payment not found")
	ErrPlanNotFound        = errors.New("billing: plan not found")
	ErrDiscountNotFound    = errors.New("billing: discount not found")
	ErrVatRateNotFound     = errors.New("billing: vat rate not found")

	// Wallet errors
	ErrInvalidAmount    = errors.New("billing: invalid amount")
	ErrCurrencyMismatch = errors.New("billing: currency mismatch")
	ErrWalletNotEmpty   = errors.New("billing: wallet balance is not zero")
	ErrLastWallet       = errors.New("billing: cannot delete the last wallet of an owner")
	ErrNotController    = errors.New("billing: user is not a wallet controller")

	// Payment and mandate errors
	ErrAmountTooLow      = errors.New("billing: amount below the minimum payment")
	ErrAmountBelowDebt   = errors.New("billing: amount does not cover the debt")
	ErrInvalidThreshold  = errors.New("billing: invalid mandate balance threshold")
	ErrNoMandate         = errors.New("billing: no mandate")
	ErrMandateDisabled   = errors.New("billing: mandate disabled")
	ErrPaymentNotPaid    = errors.New("billing: payment is not paid")
	ErrRefundTooLarge    = errors.New("billing: refund exceeds the payment")
	ErrNothingToDo       = errors.New("billing: nothing to do")
	ErrProviderMismatch  = errors.New("billing: payment belongs to another provider")
	ErrNoDefaultProvider = errors.New("billing: no default provider configured")

	// Integrity errors
	ErrBalanceMismatch = errors.New("billing: wallet balance does not match its transactions")

	// Store errors
	ErrStoreNotReady     = errors.New("billing: store not ready")
	ErrStoreClosed       = errors.New("billing: store is closed")
	ErrTransactionFailed = errors.New("billing: transaction failed")
	ErrMigrationFailed   = errors.New("billing: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
	// Err is the sentinel the failure maps to, e.g. ErrAmountTooLow.
	Err error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("billing: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidInput
	}
	return e.Err
}

// Code returns a machine readable code of the failure.
func (e ValidationError) Code() string {
	switch {
	case errors.Is(e.Err, ErrAmountTooLow):
		return "minamount"
	case errors.Is(e.Err, ErrAmountBelowDebt):
		return "minamountdebt"
	case errors.Is(e.Err, ErrInvalidThreshold):
		return "threshold"
	default:
		return "invalid"
	}
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "billing: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("billing: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSkuNotFound) ||
		errors.Is(err, ErrEntitlementNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrDiscountNotFound) ||
		errors.Is(err, ErrVatRateNotFound)
}

// IsValidation returns true if the request was rejected before anything
// was written.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, provider.ErrMalformedPayload) ||
		errors.Is(err, provider.ErrInvalidSignature)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return provider.IsRateLimited(err) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, lock.ErrNotAcquired)
}

// IsIntegrity returns true if the error reveals corrupt billing data. These
// errors are never swallowed.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrBalanceMismatch) ||
		errors.Is(err, accounting.ErrNegativeFreeUnits) ||
		errors.Is(err, accounting.ErrUnknownSku)
}

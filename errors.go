package tally

import "github.com/xraph/tally/errs"

// Re-export the error taxonomy so callers can match failures without
// importing errs.

// Error is a typed Tally failure.
type Error = errs.Error

// ValidationError represents a validation failure with details.
type ValidationError = errs.ValidationError

// MultiError represents multiple errors that occurred.
type MultiError = errs.MultiError

// Sentinel errors for common failure scenarios.
var (
	// Validation errors
	ErrInvalidInput  = errs.ErrInvalidInput
	ErrInvalidAmount = errs.ErrInvalidAmount

	// Wallet errors
	ErrCurrencyMismatch       = errs.ErrCurrencyMismatch
	ErrInsufficientFunds      = errs.ErrInsufficientFunds
	ErrWalletLocked           = errs.ErrWalletLocked
	ErrWalletUnavailable      = errs.ErrWalletUnavailable
	ErrAlreadyAttached        = errs.ErrAlreadyAttached
	ErrDuplicateReference     = errs.ErrDuplicateReference
	ErrInvalidTransition      = errs.ErrInvalidTransition
	ErrAlreadyExists          = errs.ErrAlreadyExists
	ErrBelowMinimumWithdrawal = errs.ErrBelowMinimumWithdrawal
	ErrWithdrawalNotReady     = errs.ErrWithdrawalNotReady

	// Settlement errors
	ErrNotOwner           = errs.ErrNotOwner
	ErrAlreadySettled     = errs.ErrAlreadySettled
	ErrExceedsOutstanding = errs.ErrExceedsOutstanding
	ErrInvoiceCancelled   = errs.ErrInvoiceCancelled
	ErrPaymentPending     = errs.ErrPaymentPending

	// Discount errors
	ErrCodeInactive       = errs.ErrCodeInactive
	ErrCodeNotYetValid    = errs.ErrCodeNotYetValid
	ErrCodeExpired        = errs.ErrCodeExpired
	ErrGlobalLimitReached = errs.ErrGlobalLimitReached
	ErrGroupLimitReached  = errs.ErrGroupLimitReached
	ErrBelowMinimumOrder  = errs.ErrBelowMinimumOrder

	// Not found errors
	ErrNotFound            = errs.ErrNotFound
	ErrWalletNotFound      = errs.ErrWalletNotFound
	ErrTransactionNotFound = errs.ErrTransactionNotFound
	ErrInvoiceNotFound     = errs.ErrInvoiceNotFound
	ErrPaymentNotFound     = errs.ErrPaymentNotFound
	ErrDiscountNotFound    = errs.ErrDiscountNotFound
	ErrWithdrawalNotFound  = errs.ErrWithdrawalNotFound

	// Gateway errors
	ErrGateway              = errs.ErrGateway
	ErrGatewayTimeout       = errs.ErrGatewayTimeout
	ErrGatewayNotConfigured = errs.ErrGatewayNotConfigured

	// Store errors
	ErrConcurrentUpdate = errs.ErrConcurrentUpdate
	ErrStoreClosed      = errs.ErrStoreClosed
)

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool { return errs.IsNotFound(err) }

// IsConflict returns true if the error is a business-rule conflict.
func IsConflict(err error) bool { return errs.IsConflict(err) }

// IsValidation returns true if the input was rejected before any lock.
func IsValidation(err error) bool { return errs.IsValidation(err) }

// IsGateway returns true if the payment gateway failed.
func IsGateway(err error) bool { return errs.IsGateway(err) }

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool { return errs.IsRetryable(err) }

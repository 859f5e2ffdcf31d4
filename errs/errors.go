// Package errs defines the Tally error taxonomy.
//
// Every failure returned by Tally carries a Kind (validation, conflict,
// not_found, gateway, retryable, internal) and a stable Code. Sentinels can be
// matched with errors.Is even when a more detailed copy was returned through
// With.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding how to react.
type Kind string

// Error kinds.
const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindGateway    Kind = "gateway"
	KindRetryable  Kind = "retryable"
	KindInternal   Kind = "internal"
)

// Code is a stable, machine-readable error code.
type Code string

// Error is a typed Tally failure.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tally: %s: %v", e.Message, e.Err)
	}
	return "tally: " + e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func define(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Sentinel errors.
var (
	// Validation errors
	ErrInvalidInput  = define(KindValidation, "invalid_input", "invalid input")
	ErrInvalidAmount = define(KindValidation, "invalid_amount", "amount must be positive")

	// Wallet conflicts
	ErrCurrencyMismatch       = define(KindConflict, "currency_mismatch", "currency mismatch")
	ErrInsufficientFunds      = define(KindConflict, "insufficient_funds", "insufficient funds")
	ErrWalletLocked           = define(KindConflict, "wallet_locked", "wallet is locked")
	ErrWalletUnavailable      = define(KindConflict, "wallet_unavailable", "wallet unavailable")
	ErrAlreadyAttached        = define(KindConflict, "already_attached", "payment already attached")
	ErrDuplicateReference     = define(KindConflict, "duplicate_reference", "reference already used by a different operation")
	ErrInvalidTransition      = define(KindConflict, "invalid_transition", "invalid status transition")
	ErrAlreadyExists          = define(KindConflict, "already_exists", "already exists")
	ErrBelowMinimumWithdrawal = define(KindConflict, "below_minimum_withdrawal", "amount below minimum withdrawal")
	ErrWithdrawalNotReady     = define(KindConflict, "withdrawal_not_approved", "withdrawal is not approved")

	// Settlement conflicts
	ErrNotOwner           = define(KindConflict, "not_owner", "invoice belongs to another user")
	ErrAlreadySettled     = define(KindConflict, "already_settled", "invoice already settled")
	ErrExceedsOutstanding = define(KindConflict, "exceeds_outstanding", "payment exceeds outstanding amount")
	ErrInvoiceCancelled   = define(KindConflict, "invoice_cancelled", "invoice is cancelled")
	ErrPaymentPending     = define(KindConflict, "payment_pending", "a gateway payment is pending for this invoice")

	// Discount conflicts
	ErrCodeInactive       = define(KindConflict, "code_inactive", "discount code is inactive")
	ErrCodeNotYetValid    = define(KindConflict, "code_not_yet_valid", "discount code not yet valid")
	ErrCodeExpired        = define(KindConflict, "code_expired", "discount code expired")
	ErrGlobalLimitReached = define(KindConflict, "global_limit_reached", "discount usage limit reached")
	ErrGroupLimitReached  = define(KindConflict, "group_limit_reached", "discount group usage limit reached")
	ErrBelowMinimumOrder  = define(KindConflict, "below_minimum_order", "order below minimum amount for discount")

	// Not found
	ErrNotFound            = define(KindNotFound, "not_found", "not found")
	ErrWalletNotFound      = define(KindNotFound, "wallet_not_found", "wallet not found")
	ErrTransactionNotFound = define(KindNotFound, "transaction_not_found", "wallet transaction not found")
	ErrInvoiceNotFound     = define(KindNotFound, "invoice_not_found", "invoice not found")
	ErrPaymentNotFound     = define(KindNotFound, "payment_not_found", "payment not found")
	ErrDiscountNotFound    = define(KindNotFound, "discount_not_found", "discount code not found")
	ErrWithdrawalNotFound  = define(KindNotFound, "withdrawal_not_found", "withdrawal request not found")
	ErrSettingsNotFound    = define(KindNotFound, "settings_not_found", "settings not found")

	// Gateway
	ErrGateway              = define(KindGateway, "gateway_error", "payment gateway failure")
	ErrGatewayTimeout       = define(KindGateway, "gateway_timeout", "payment gateway timeout")
	ErrGatewayNotConfigured = define(KindGateway, "gateway_not_configured", "payment gateway not configured")

	// Persistence
	ErrConcurrentUpdate = define(KindRetryable, "concurrent_update", "concurrent update, retry the operation")
	ErrStoreClosed      = define(KindInternal, "store_closed", "store is closed")
)

// With returns a copy of sentinel carrying a more specific message.
// The copy still matches the sentinel with errors.Is.
func With(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: sentinel.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Wrap returns a copy of sentinel wrapping cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Err:     cause,
	}
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MultiError collects several errors, typically field validations.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tally: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tally: %d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is / errors.As.
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

// ErrOrNil returns the MultiError when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// KindOf reports the Kind of err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the stable code of err.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return ErrInvalidInput.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict returns true if the error is a domain conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsValidation returns true if the error is an input validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsGateway returns true if the error came from the payment gateway.
func IsGateway(err error) bool { return KindOf(err) == KindGateway }

// IsRetryable returns true if the operation can be resubmitted with the
// same idempotency reference.
func IsRetryable(err error) bool { return KindOf(err) == KindRetryable }

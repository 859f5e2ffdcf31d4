package audithook

// Action constants for audit events.
const (
	// Wallet actions
	ActionWalletCredited = "wallet.credited"
	ActionWalletDebited  = "wallet.debited"
	ActionWalletLocked   = "wallet.locked"
	ActionWalletUnlocked = "wallet.unlocked"

	// Invoice actions
	ActionInvoiceCreated   = "invoice.created"
	ActionInvoicePaid      = "invoice.paid"
	ActionInvoiceCancelled = "invoice.cancelled"

	// Payment actions
	ActionPaymentSucceeded = "payment.succeeded"
	ActionPaymentFailed    = "payment.failed"

	// Discount actions
	ActionDiscountApplied = "discount.applied"

	// Withdrawal actions
	ActionWithdrawalRequested = "withdrawal.requested"
	ActionWithdrawalApproved  = "withdrawal.approved"
	ActionWithdrawalRejected  = "withdrawal.rejected"
	ActionWithdrawalCancelled = "withdrawal.cancelled"
	ActionWithdrawalProcessed = "withdrawal.processed"
)

// Resource constants for audit events.
const (
	ResourceWallet      = "wallet"
	ResourceTransaction = "wallet_transaction"
	ResourceInvoice     = "invoice"
	ResourcePayment     = "payment"
	ResourceDiscount    = "discount_code"
	ResourceWithdrawal  = "withdrawal"
)

// Category constants for audit events.
const (
	CategoryWallet     = "wallet"
	CategoryBilling    = "billing"
	CategoryPayment    = "payment"
	CategoryPromotion  = "promotion"
	CategoryPayout     = "payout"
	CategoryCompliance = "compliance"
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

// Package invoice defines invoices, their line items and the payments
// attached to them.
//
// An invoice's paid amount is the sum of its succeeded payments and its
// outstanding amount is the grand total minus that, floored at zero. The
// status follows from those two figures:
//
//	pending -> partially_paid -> paid
//	pending | partially_paid -> cancelled (only with no succeeded payment)
package invoice

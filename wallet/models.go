// Package wallet defines wallet accounts and their append-only transaction
// ledger. The balance of an account is never stored: it is the sum of the
// account's succeeded credits minus its succeeded debits.
package wallet

import (
	"time"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Direction is the sign of a wallet transaction.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Status is the lifecycle state of a wallet transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Account is a user's wallet. Its currency is fixed by the first credit.
type Account struct {
	types.Entity
	ID         id.WalletID `json:"id"`
	UserID     string      `json:"user_id"`
	Currency   string      `json:"currency"`
	Locked     bool        `json:"locked"`
	LockReason string      `json:"lock_reason,omitempty"`
}

// Transaction is one immutable movement on an Account.
type Transaction struct {
	types.Entity
	ID          id.WalletTxID     `json:"id"`
	WalletID    id.WalletID       `json:"wallet_id"`
	UserID      string            `json:"user_id"`
	Direction   Direction         `json:"direction"`
	Amount      types.Money       `json:"amount"`
	Reference   string            `json:"reference"`
	Description string            `json:"description,omitempty"`
	InvoiceID   id.InvoiceID      `json:"invoice_id,omitempty"`
	PaymentID   id.PaymentID      `json:"payment_id,omitempty"`
	Status      Status            `json:"status"`
	SourceIP    string            `json:"source_ip,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Signed returns the transaction's contribution to the balance: positive for
// succeeded credits, negative for succeeded debits, zero otherwise.
func (t *Transaction) Signed() int64 {
	if t.Status != StatusSucceeded {
		return 0
	}
	if t.Direction == DirectionDebit {
		return -t.Amount.Amount
	}
	return t.Amount.Amount
}

// Balance sums the signed amounts of txs in currency.
func Balance(currency string, txs []*Transaction) types.Money {
	var total int64
	for _, t := range txs {
		total += t.Signed()
	}
	return types.New(total, currency)
}

// Matches reports whether t is a replay of the same logical operation.
func (t *Transaction) Matches(walletID id.WalletID, dir Direction, amount types.Money) bool {
	return t.WalletID.String() == walletID.String() &&
		t.Direction == dir &&
		t.Amount.Equal(amount)
}

// AttachPayment sets the payment back-reference exactly once.
func (t *Transaction) AttachPayment(paymentID id.PaymentID) error {
	if !t.PaymentID.IsNil() {
		if t.PaymentID.String() == paymentID.String() {
			return nil
		}
		return errs.With(errs.ErrAlreadyAttached, "transaction %s already linked to %s", t.Reference, t.PaymentID)
	}
	t.PaymentID = paymentID
	return nil
}

// Resolve moves a pending transaction to succeeded or failed.
func (t *Transaction) Resolve(status Status, at time.Time, actor string) error {
	if t.Status != StatusPending {
		return errs.With(errs.ErrInvalidTransition, "transaction %s is %s", t.Reference, t.Status)
	}
	if status != StatusSucceeded && status != StatusFailed {
		return errs.Invalid("status", "must be %s or %s", StatusSucceeded, StatusFailed)
	}
	t.Status = status
	t.TouchAt(at, actor)
	return nil
}

// CheckDebit validates a debit of amount against the account and its
// current balance.
func (a *Account) CheckDebit(amount, balance types.Money) error {
	if !amount.IsPositive() {
		return errs.ErrInvalidAmount
	}
	if a.Locked {
		return errs.With(errs.ErrWalletLocked, "wallet of user %s", a.UserID)
	}
	if amount.Currency != a.Currency {
		return errs.With(errs.ErrCurrencyMismatch, "wallet is %s, debit is %s", a.Currency, amount.Currency)
	}
	if balance.Amount-amount.Amount < 0 {
		return errs.With(errs.ErrInsufficientFunds, "balance %s, requested %s", balance, amount)
	}
	return nil
}

// CheckCredit validates a credit of amount against the account.
func (a *Account) CheckCredit(amount types.Money) error {
	if !amount.IsPositive() {
		return errs.ErrInvalidAmount
	}
	if amount.Currency != a.Currency {
		return errs.With(errs.ErrCurrencyMismatch, "wallet is %s, credit is %s", a.Currency, amount.Currency)
	}
	return nil
}

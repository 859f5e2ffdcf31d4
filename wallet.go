package tally

import (
	"context"
	"errors"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
)

// CreditRequest describes a credit to a user's wallet.
type CreditRequest struct {
	UserID string
	// Amount to credit. An empty currency means the default currency.
	Amount types.Money
	// Reference is the idempotency token. Generated when empty.
	Reference   string
	Description string
	InvoiceID   id.InvoiceID
	PaymentID   id.PaymentID
	// Status defaults to succeeded. Pending credits do not count towards
	// the balance until resolved.
	Status   wallet.Status
	Metadata map[string]string
}

// DebitRequest describes a debit from a user's wallet.
type DebitRequest struct {
	UserID      string
	Amount      types.Money
	Reference   string
	Description string
	InvoiceID   id.InvoiceID
	PaymentID   id.PaymentID
	Metadata    map[string]string
}

// ──────────────────────────────────────────────────
// Wallet operations
// ──────────────────────────────────────────────────

// CreditWallet appends a credit to the user's wallet, opening the wallet on
// the first credit. Replaying a reference returns the stored transaction.
func (t *Tally) CreditWallet(ctx context.Context, req CreditRequest) (*wallet.Transaction, error) {
	if err := validateMovement(req.UserID, req.Amount); err != nil {
		return nil, err
	}
	if req.Status != "" && req.Status != wallet.StatusSucceeded && req.Status != wallet.StatusPending {
		return nil, errs.Invalid("status", "must be %s or %s", wallet.StatusSucceeded, wallet.StatusPending)
	}

	var (
		result *wallet.Transaction
		fresh  bool
	)
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "credit_wallet", func(ctx context.Context, tx store.Tx) error {
		var err error
		result, fresh, err = t.credit(ctx, tx, ac, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if fresh {
		t.logger.Debug("wallet credited",
			"user_id", result.UserID,
			"amount", result.Amount,
			"reference", result.Reference,
		)
		if result.Status == wallet.StatusSucceeded {
			t.plugins.EmitWalletCredited(ctx, result)
		}
	}
	return result, nil
}

// DebitWallet appends a succeeded debit to the user's wallet.
func (t *Tally) DebitWallet(ctx context.Context, req DebitRequest) (*wallet.Transaction, error) {
	if err := validateMovement(req.UserID, req.Amount); err != nil {
		return nil, err
	}

	var (
		result *wallet.Transaction
		fresh  bool
	)
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "debit_wallet", func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.LockWallet(ctx, req.UserID)
		if err != nil {
			return err
		}
		result, fresh, err = t.debit(ctx, tx, ac, acct, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if fresh {
		t.logger.Debug("wallet debited",
			"user_id", result.UserID,
			"amount", result.Amount,
			"reference", result.Reference,
		)
		t.plugins.EmitWalletDebited(ctx, result)
	}
	return result, nil
}

// AttachPayment links a wallet transaction to the payment it funded. A
// transaction can be linked to one payment only.
func (t *Tally) AttachPayment(ctx context.Context, txID id.WalletTxID, paymentID id.PaymentID) (*wallet.Transaction, error) {
	if paymentID.IsNil() {
		return nil, errs.Invalid("payment_id", "is required")
	}

	var result *wallet.Transaction
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "attach_payment", func(ctx context.Context, tx store.Tx) error {
		wt, err := t.lockedTransaction(ctx, tx, txID)
		if err != nil {
			return err
		}
		if wt.PaymentID.String() == paymentID.String() {
			result = wt
			return nil
		}
		if err := wt.AttachPayment(paymentID); err != nil {
			return err
		}
		wt.TouchAt(ac.Timestamp, ac.ActorID)
		if err := tx.UpdateWalletTransaction(ctx, wt); err != nil {
			return err
		}
		result = wt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveWalletTransaction moves a pending transaction to succeeded or
// failed.
func (t *Tally) ResolveWalletTransaction(ctx context.Context, txID id.WalletTxID, status wallet.Status) (*wallet.Transaction, error) {
	var result *wallet.Transaction
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "resolve_wallet_transaction", func(ctx context.Context, tx store.Tx) error {
		wt, err := t.lockedTransaction(ctx, tx, txID)
		if err != nil {
			return err
		}
		if err := wt.Resolve(status, ac.Timestamp, ac.ActorID); err != nil {
			return err
		}
		if err := tx.UpdateWalletTransaction(ctx, wt); err != nil {
			return err
		}
		result = wt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Status == wallet.StatusSucceeded {
		switch result.Direction {
		case wallet.DirectionCredit:
			t.plugins.EmitWalletCredited(ctx, result)
		case wallet.DirectionDebit:
			t.plugins.EmitWalletDebited(ctx, result)
		}
	}
	return result, nil
}

// GetWallet returns the wallet of a user.
func (t *Tally) GetWallet(ctx context.Context, userID string) (*wallet.Account, error) {
	var acct *wallet.Account
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		acct, err = tx.GetWallet(ctx, userID)
		return err
	})
	return acct, err
}

// Balance returns the current balance of a user's wallet.
func (t *Tally) Balance(ctx context.Context, userID string) (types.Money, error) {
	var bal types.Money
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		amount, err := tx.WalletBalance(ctx, acct.ID)
		if err != nil {
			return err
		}
		bal = types.New(amount, acct.Currency)
		return nil
	})
	return bal, err
}

// ListWalletTransactions lists the transactions of a user's wallet, newest
// first.
func (t *Tally) ListWalletTransactions(ctx context.Context, userID string, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	var txs []*wallet.Transaction
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		txs, err = tx.ListWalletTransactions(ctx, acct.ID, opts)
		return err
	})
	return txs, err
}

// LockWallet blocks debits from a user's wallet. Credits are still accepted.
func (t *Tally) LockWallet(ctx context.Context, userID, reason string) (*wallet.Account, error) {
	return t.setWalletLock(ctx, userID, true, reason)
}

// UnlockWallet lifts a wallet lock.
func (t *Tally) UnlockWallet(ctx context.Context, userID string) (*wallet.Account, error) {
	return t.setWalletLock(ctx, userID, false, "")
}

func (t *Tally) setWalletLock(ctx context.Context, userID string, locked bool, reason string) (*wallet.Account, error) {
	var (
		acct    *wallet.Account
		changed bool
	)
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "set_wallet_lock", func(ctx context.Context, tx store.Tx) error {
		var err error
		acct, err = tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		changed = acct.Locked != locked || acct.LockReason != reason
		if !changed {
			return nil
		}
		acct.Locked = locked
		acct.LockReason = reason
		acct.TouchAt(ac.Timestamp, ac.ActorID)
		return tx.UpdateWallet(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		t.logger.Info("wallet lock changed",
			"user_id", userID,
			"locked", locked,
			"reason", reason,
		)
		t.plugins.EmitWalletLockChanged(ctx, acct)
	}
	return acct, nil
}

// ──────────────────────────────────────────────────
// Transaction-scoped helpers
// ──────────────────────────────────────────────────

// credit appends a credit inside tx. It reports false when the reference
// was replayed.
func (t *Tally) credit(ctx context.Context, tx store.Tx, ac AuditContext, req CreditRequest) (*wallet.Transaction, bool, error) {
	amount, err := t.resolveCurrency(ctx, tx, req.Amount)
	if err != nil {
		return nil, false, err
	}

	acct, err := tx.LockWallet(ctx, req.UserID)
	switch {
	case errors.Is(err, errs.ErrWalletNotFound):
		acct = &wallet.Account{
			Entity:   types.NewEntityAt(ac.Timestamp, ac.ActorID),
			ID:       id.NewWalletID(),
			UserID:   req.UserID,
			Currency: amount.Currency,
		}
		if err := tx.CreateWallet(ctx, acct); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				// Opened by a concurrent first credit; retry sees it.
				return nil, false, errs.Wrap(errs.ErrConcurrentUpdate, err)
			}
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	}

	status := req.Status
	if status == "" {
		status = wallet.StatusSucceeded
	}

	if prior, err := replay(ctx, tx, req.Reference, acct.ID, wallet.DirectionCredit, amount, status); prior != nil || err != nil {
		return prior, false, err
	}
	if err := acct.CheckCredit(amount); err != nil {
		return nil, false, err
	}
	wt := &wallet.Transaction{
		Entity:      types.NewEntityAt(ac.Timestamp, ac.ActorID),
		ID:          id.NewWalletTxID(),
		WalletID:    acct.ID,
		UserID:      acct.UserID,
		Direction:   wallet.DirectionCredit,
		Amount:      amount,
		Reference:   referenceOr(req.Reference, types.RefWalletCredit, ac),
		Description: req.Description,
		InvoiceID:   req.InvoiceID,
		Status:      status,
		SourceIP:    ac.SourceIP,
		Metadata:    req.Metadata,
	}
	if !req.PaymentID.IsNil() {
		if err := wt.AttachPayment(req.PaymentID); err != nil {
			return nil, false, err
		}
	}
	if err := tx.CreateWalletTransaction(ctx, wt); err != nil {
		return nil, false, err
	}
	return wt, true, nil
}

// debit appends a succeeded debit to acct inside tx. acct must have been
// read with LockWallet in the same transaction.
func (t *Tally) debit(ctx context.Context, tx store.Tx, ac AuditContext, acct *wallet.Account, req DebitRequest) (*wallet.Transaction, bool, error) {
	amount := inCurrency(req.Amount, acct.Currency)

	if prior, err := replay(ctx, tx, req.Reference, acct.ID, wallet.DirectionDebit, amount, wallet.StatusSucceeded); prior != nil || err != nil {
		return prior, false, err
	}

	bal, err := tx.WalletBalance(ctx, acct.ID)
	if err != nil {
		return nil, false, err
	}
	if err := acct.CheckDebit(amount, types.New(bal, acct.Currency)); err != nil {
		return nil, false, err
	}

	wt := &wallet.Transaction{
		Entity:      types.NewEntityAt(ac.Timestamp, ac.ActorID),
		ID:          id.NewWalletTxID(),
		WalletID:    acct.ID,
		UserID:      acct.UserID,
		Direction:   wallet.DirectionDebit,
		Amount:      amount,
		Reference:   referenceOr(req.Reference, types.RefWalletDebit, ac),
		Description: req.Description,
		InvoiceID:   req.InvoiceID,
		Status:      wallet.StatusSucceeded,
		SourceIP:    ac.SourceIP,
		Metadata:    req.Metadata,
	}
	if !req.PaymentID.IsNil() {
		if err := wt.AttachPayment(req.PaymentID); err != nil {
			return nil, false, err
		}
	}
	if err := tx.CreateWalletTransaction(ctx, wt); err != nil {
		return nil, false, err
	}
	return wt, true, nil
}

// replay returns the stored transaction for reference when it describes the
// same movement and has succeeded, or ErrDuplicateReference when it does not.
// A pending prior also replays a pending request. A failed prior never
// replays: its reference stays spent.
func replay(ctx context.Context, tx store.Tx, reference string, walletID id.WalletID, dir wallet.Direction, amount types.Money, want wallet.Status) (*wallet.Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	prior, err := tx.GetWalletTransactionByReference(ctx, reference)
	if errors.Is(err, errs.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !prior.Matches(walletID, dir, amount) {
		return nil, errs.With(errs.ErrDuplicateReference, "reference %s", reference)
	}
	switch {
	case prior.Status == wallet.StatusSucceeded:
		return prior, nil
	case prior.Status == wallet.StatusPending && want == wallet.StatusPending:
		return prior, nil
	default:
		return nil, errs.With(errs.ErrDuplicateReference, "reference %s is %s", reference, prior.Status)
	}
}

// lockedTransaction loads a wallet transaction with its wallet locked.
func (t *Tally) lockedTransaction(ctx context.Context, tx store.Tx, txID id.WalletTxID) (*wallet.Transaction, error) {
	wt, err := tx.GetWalletTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.LockWallet(ctx, wt.UserID); err != nil {
		return nil, err
	}
	return tx.GetWalletTransaction(ctx, txID)
}

// resolveCurrency normalizes the currency of m and fills in the default
// currency when m has none.
func (t *Tally) resolveCurrency(ctx context.Context, tx store.Tx, m types.Money) (types.Money, error) {
	m.Currency = types.NormalizeCurrency(m.Currency)
	if m.Currency != "" {
		return m, nil
	}
	s, err := t.loadSettings(ctx, tx)
	if err != nil {
		return types.Money{}, err
	}
	m.Currency = s.DefaultCurrency
	return m, nil
}

func validateMovement(userID string, amount types.Money) error {
	if userID == "" {
		return errs.Invalid("user_id", "is required")
	}
	if !amount.IsPositive() {
		return errs.With(errs.ErrInvalidAmount, "got %d", amount.Amount)
	}
	return nil
}

func referenceOr(reference, prefix string, ac AuditContext) string {
	if reference != "" {
		return reference
	}
	return types.NewReferenceAt(prefix, ac.Timestamp)
}

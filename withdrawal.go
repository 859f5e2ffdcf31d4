package tally

import (
	"context"
	"errors"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// WithdrawalRequest asks for part of a wallet balance to be paid out.
type WithdrawalRequest struct {
	RequesterID string
	// RequesterType defaults to user.
	RequesterType withdrawal.RequesterType
	// Amount with an empty currency takes the wallet currency.
	Amount      types.Money
	Destination withdrawal.Destination
	Notes       string
}

// ──────────────────────────────────────────────────
// Withdrawal lifecycle
// ──────────────────────────────────────────────────

// RequestWithdrawal opens a pending withdrawal request. The wallet is not
// touched until the request is processed.
func (t *Tally) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*withdrawal.Request, error) {
	if req.RequesterID == "" {
		return nil, errs.Invalid("requester_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errs.With(errs.ErrInvalidAmount, "got %d", req.Amount.Amount)
	}

	var r *withdrawal.Request
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "request_withdrawal", func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetWallet(ctx, req.RequesterID)
		if err != nil {
			return err
		}

		requesterType := req.RequesterType
		if requesterType == "" {
			requesterType = withdrawal.RequesterUser
		}
		r = &withdrawal.Request{
			Entity:        types.NewEntityAt(ac.Timestamp, ac.ActorID),
			ID:            id.NewWithdrawalID(),
			RequesterID:   req.RequesterID,
			RequesterType: requesterType,
			Amount:        inCurrency(req.Amount, acct.Currency),
			Destination:   req.Destination,
			Status:        withdrawal.StatusPending,
			AdminNotes:    req.Notes,
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if r.Amount.Currency != acct.Currency {
			return errs.With(errs.ErrCurrencyMismatch, "wallet is %s, withdrawal is %s", acct.Currency, r.Amount.Currency)
		}

		s, err := t.loadSettings(ctx, tx)
		if err != nil {
			return err
		}
		if minimum := s.MinimumWithdrawalAmount(acct.Currency); r.Amount.LessThan(minimum) {
			return errs.With(errs.ErrBelowMinimumWithdrawal, "minimum is %s", minimum)
		}

		bal, err := tx.WalletBalance(ctx, acct.ID)
		if err != nil {
			return err
		}
		if bal < r.Amount.Amount {
			return errs.With(errs.ErrInsufficientFunds, "balance %s, requested %s", types.New(bal, acct.Currency), r.Amount)
		}
		return tx.CreateWithdrawal(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("withdrawal requested",
		"withdrawal_id", r.ID,
		"requester_id", r.RequesterID,
		"amount", r.Amount,
	)
	t.plugins.EmitWithdrawalRequested(ctx, r)
	return r, nil
}

// ApproveWithdrawal approves a pending request.
func (t *Tally) ApproveWithdrawal(ctx context.Context, withdrawalID id.WithdrawalID, notes string) (*withdrawal.Request, error) {
	ac := t.audit(ctx)
	r, err := t.transitionWithdrawal(ctx, "approve_withdrawal", withdrawalID, func(r *withdrawal.Request) error {
		return r.Approve(ac.Timestamp, ac.ActorID, notes)
	})
	if err != nil {
		return nil, err
	}
	t.plugins.EmitWithdrawalApproved(ctx, r)
	return r, nil
}

// RejectWithdrawal rejects a pending or approved request.
func (t *Tally) RejectWithdrawal(ctx context.Context, withdrawalID id.WithdrawalID, notes string) (*withdrawal.Request, error) {
	ac := t.audit(ctx)
	r, err := t.transitionWithdrawal(ctx, "reject_withdrawal", withdrawalID, func(r *withdrawal.Request) error {
		return r.Reject(ac.Timestamp, ac.ActorID, notes)
	})
	if err != nil {
		return nil, err
	}
	t.plugins.EmitWithdrawalClosed(ctx, r)
	return r, nil
}

// CancelWithdrawal cancels a pending or approved request.
func (t *Tally) CancelWithdrawal(ctx context.Context, withdrawalID id.WithdrawalID) (*withdrawal.Request, error) {
	ac := t.audit(ctx)
	r, err := t.transitionWithdrawal(ctx, "cancel_withdrawal", withdrawalID, func(r *withdrawal.Request) error {
		return r.Cancel(ac.Timestamp, ac.ActorID)
	})
	if err != nil {
		return nil, err
	}
	t.plugins.EmitWithdrawalClosed(ctx, r)
	return r, nil
}

func (t *Tally) transitionWithdrawal(ctx context.Context, op string, withdrawalID id.WithdrawalID, fn func(*withdrawal.Request) error) (*withdrawal.Request, error) {
	var r *withdrawal.Request
	err := t.runInTx(ctx, op, func(ctx context.Context, tx store.Tx) error {
		var err error
		r, err = tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		return tx.UpdateWithdrawal(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("withdrawal status changed",
		"withdrawal_id", r.ID,
		"status", r.Status,
	)
	return r, nil
}

// ProcessWithdrawal pays out an approved request by debiting the wallet.
// Replaying a processed request returns the original debit.
func (t *Tally) ProcessWithdrawal(ctx context.Context, withdrawalID id.WithdrawalID) (*wallet.Transaction, error) {
	var (
		r      *withdrawal.Request
		debit  *wallet.Transaction
		replay bool
	)
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "process_withdrawal", func(ctx context.Context, tx store.Tx) error {
		replay = false

		var err error
		r, err = tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if r.Status == withdrawal.StatusProcessed {
			debit, err = tx.GetWalletTransaction(ctx, r.WalletTransactionID)
			replay = true
			return err
		}
		if r.Status != withdrawal.StatusApproved {
			return errs.With(errs.ErrWithdrawalNotReady, "withdrawal %s is %s", r.ID, r.Status)
		}

		acct, err := tx.LockWallet(ctx, r.RequesterID)
		if err != nil {
			if errors.Is(err, errs.ErrWalletNotFound) {
				return errs.With(errs.ErrWalletUnavailable, "requester %s has no wallet", r.RequesterID)
			}
			return err
		}

		debit, _, err = t.debit(ctx, tx, ac, acct, DebitRequest{
			UserID:      r.RequesterID,
			Amount:      r.Amount,
			Reference:   types.DerivedReference(types.RefWithdrawal, r.ID.String()),
			Description: "Withdrawal " + r.ID.String(),
			Metadata: map[string]string{
				"withdrawal_id":    r.ID.String(),
				"destination_type": string(r.Destination.Type),
			},
		})
		if err != nil {
			return err
		}

		payout := types.NewReferenceAt(types.RefPayout, ac.Timestamp)
		if err := r.MarkProcessed(debit.ID, payout, ac.Timestamp, ac.ActorID); err != nil {
			return err
		}
		return tx.UpdateWithdrawal(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return debit, nil
	}

	t.logger.Info("withdrawal processed",
		"withdrawal_id", r.ID,
		"amount", r.Amount,
		"payout_reference", r.PayoutReference,
	)
	t.plugins.EmitWalletDebited(ctx, debit)
	t.plugins.EmitWithdrawalProcessed(ctx, r, debit)
	return debit, nil
}

// GetWithdrawal returns a withdrawal request.
func (t *Tally) GetWithdrawal(ctx context.Context, withdrawalID id.WithdrawalID) (*withdrawal.Request, error) {
	var r *withdrawal.Request
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		r, err = tx.GetWithdrawal(ctx, withdrawalID)
		return err
	})
	return r, err
}

// ListWithdrawals lists withdrawal requests, newest first.
func (t *Tally) ListWithdrawals(ctx context.Context, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	var rs []*withdrawal.Request
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rs, err = tx.ListWithdrawals(ctx, opts)
		return err
	})
	return rs, err
}

package tally

import (
	"context"
	"errors"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
)

// ManualPayment is an operator-recorded payment, possibly partial.
type ManualPayment struct {
	// Amount with an empty currency takes the invoice currency.
	Amount types.Money
	Method invoice.Method
	// Reference is the idempotency token. Generated when empty.
	Reference   string
	ExternalID  string
	Description string
}

// settled collects what a settlement changed, for events after commit.
type settled struct {
	inv        *invoice.Invoice
	payment    *invoice.Payment
	debit      *wallet.Transaction
	topUp      *wallet.Transaction
	becamePaid bool
	replayed   bool
}

func (s *settled) reset() { *s = settled{} }

// ──────────────────────────────────────────────────
// Wallet settlement
// ──────────────────────────────────────────────────

// SettleInvoiceWithWallet pays the full outstanding amount of an invoice
// from the owner's wallet. The debit and the payment are written in one
// transaction and linked to each other. Replaying a settled invoice returns
// the original payment without debiting again.
func (t *Tally) SettleInvoiceWithWallet(ctx context.Context, invoiceID id.InvoiceID, userID string) (*invoice.Payment, error) {
	if userID == "" {
		return nil, errs.Invalid("user_id", "is required")
	}

	var out settled
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "settle_with_wallet", func(ctx context.Context, tx store.Tx) error {
		out.reset()

		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		out.inv = inv
		if inv.UserID != userID {
			return errs.With(errs.ErrNotOwner, "invoice %s", inv.Number)
		}
		if inv.Kind == invoice.KindWalletTopUp {
			return errs.Invalid("invoice_id", "a wallet top-up cannot be paid from the wallet")
		}

		ref := types.DerivedReference(types.RefWalletPayment, inv.Number)
		if prior := inv.FindPayment(ref); prior != nil && prior.Status == invoice.PaymentSucceeded {
			out.payment = prior
			out.replayed = true
			return nil
		}
		if err := inv.CheckPayable(); err != nil {
			return err
		}

		acct, err := tx.LockWallet(ctx, userID)
		if errors.Is(err, errs.ErrWalletNotFound) {
			return errs.With(errs.ErrWalletUnavailable, "user %s has no wallet", userID)
		}
		if err != nil {
			return err
		}
		if acct.Locked {
			return errs.With(errs.ErrWalletUnavailable, "wallet of user %s is locked", userID)
		}
		if acct.Currency != inv.Currency {
			return errs.With(errs.ErrCurrencyMismatch, "wallet is %s, invoice is %s", acct.Currency, inv.Currency)
		}

		outstanding := inv.Outstanding()
		p := &invoice.Payment{
			Entity:      types.NewEntityAt(ac.Timestamp, ac.ActorID),
			ID:          id.NewPaymentID(),
			Amount:      outstanding,
			Method:      invoice.MethodWallet,
			Status:      invoice.PaymentSucceeded,
			Reference:   ref,
			Description: "Wallet payment for invoice " + inv.Number,
			SourceIP:    ac.SourceIP,
			ResolvedAt:  &ac.Timestamp,
		}

		debit, fresh, err := t.debit(ctx, tx, ac, acct, DebitRequest{
			UserID:      userID,
			Amount:      outstanding,
			Reference:   ref,
			Description: p.Description,
			InvoiceID:   inv.ID,
			PaymentID:   p.ID,
		})
		if err != nil {
			return err
		}
		if !fresh {
			// A debit exists under this reference without its payment.
			return errs.With(errs.ErrDuplicateReference, "reference %s", ref)
		}
		p.WalletTransactionID = debit.ID
		out.debit = debit
		out.payment = p

		return t.recordPayment(ctx, tx, ac, inv, p, &out)
	})
	if err != nil {
		return nil, err
	}

	if out.replayed {
		t.logger.Debug("wallet settlement replayed",
			"invoice_id", invoiceID,
			"payment_id", out.payment.ID,
		)
		return out.payment, nil
	}

	t.logger.Info("invoice settled from wallet",
		"invoice_id", out.inv.ID,
		"user_id", userID,
		"amount", out.payment.Amount,
	)
	t.plugins.EmitWalletDebited(ctx, out.debit)
	t.emitSettled(ctx, &out)
	return out.payment, nil
}

// ──────────────────────────────────────────────────
// Manual payments
// ──────────────────────────────────────────────────

// RecordPayment records a bank transfer or cash payment against an invoice.
// Partial payments are accepted up to the outstanding amount.
func (t *Tally) RecordPayment(ctx context.Context, invoiceID id.InvoiceID, mp ManualPayment) (*invoice.Payment, error) {
	if !mp.Method.IsManual() {
		return nil, errs.Invalid("method", "must be %s or %s", invoice.MethodBankTransfer, invoice.MethodCash)
	}
	if !mp.Amount.IsPositive() {
		return nil, errs.With(errs.ErrInvalidAmount, "got %d", mp.Amount.Amount)
	}

	var out settled
	ac := t.audit(ctx)
	ref := referenceOr(mp.Reference, types.RefManualPayment, ac)
	err := t.runInTx(ctx, "record_payment", func(ctx context.Context, tx store.Tx) error {
		out.reset()

		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		out.inv = inv
		amount := inCurrency(mp.Amount, inv.Currency)

		prior, err := tx.GetPaymentByReference(ctx, ref)
		switch {
		case err == nil:
			if prior.InvoiceID.String() != inv.ID.String() || prior.Method != mp.Method || !prior.Amount.Equal(amount) {
				return errs.With(errs.ErrDuplicateReference, "reference %s", ref)
			}
			out.payment = prior
			out.replayed = true
			return nil
		case !errors.Is(err, errs.ErrPaymentNotFound):
			return err
		}

		if err := inv.CheckPayable(); err != nil {
			return err
		}

		p := &invoice.Payment{
			Entity:      types.NewEntityAt(ac.Timestamp, ac.ActorID),
			ID:          id.NewPaymentID(),
			Amount:      amount,
			Method:      mp.Method,
			Status:      invoice.PaymentSucceeded,
			Reference:   ref,
			ExternalID:  mp.ExternalID,
			Description: mp.Description,
			SourceIP:    ac.SourceIP,
			ResolvedAt:  &ac.Timestamp,
		}
		out.payment = p
		return t.recordPayment(ctx, tx, ac, inv, p, &out)
	})
	if err != nil {
		return nil, err
	}
	if out.replayed {
		return out.payment, nil
	}

	t.logger.Info("payment recorded",
		"invoice_id", out.inv.ID,
		"method", mp.Method,
		"amount", out.payment.Amount,
		"status", out.inv.Status,
	)
	t.emitSettled(ctx, &out)
	return out.payment, nil
}

// ──────────────────────────────────────────────────
// Shared settlement steps
// ──────────────────────────────────────────────────

// recordPayment attaches a new payment to a locked invoice, stores it and
// refreshes the invoice status.
func (t *Tally) recordPayment(ctx context.Context, tx store.Tx, ac AuditContext, inv *invoice.Invoice, p *invoice.Payment, out *settled) error {
	if err := inv.AddPayment(p); err != nil {
		return err
	}
	if err := tx.CreatePayment(ctx, p); err != nil {
		return err
	}
	return t.refreshInvoice(ctx, tx, ac, inv, p, out)
}

// refreshInvoice recomputes the status of a locked invoice after one of its
// payments changed, crediting the wallet when a top-up becomes paid.
func (t *Tally) refreshInvoice(ctx context.Context, tx store.Tx, ac AuditContext, inv *invoice.Invoice, p *invoice.Payment, out *settled) error {
	out.becamePaid = inv.Refresh(ac.Timestamp, ac.ActorID)
	if out.becamePaid && inv.Kind == invoice.KindWalletTopUp {
		credit, _, err := t.credit(ctx, tx, ac, CreditRequest{
			UserID:      inv.UserID,
			Amount:      inv.GrandTotal,
			Reference:   types.DerivedReference(types.RefTopUp, inv.Number),
			Description: "Wallet top-up " + inv.Number,
			InvoiceID:   inv.ID,
			PaymentID:   p.ID,
		})
		if err != nil {
			return err
		}
		out.topUp = credit
	}
	return tx.UpdateInvoice(ctx, inv)
}

// topUpRefusal reports why the wallet would refuse the credit that paying
// the top-up invoice inv triggers. An empty string means it would accept it.
// The wallet is locked after the invoice.
func (t *Tally) topUpRefusal(ctx context.Context, tx store.Tx, inv *invoice.Invoice) (string, error) {
	acct, err := tx.LockWallet(ctx, inv.UserID)
	if errors.Is(err, errs.ErrWalletNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	amount := inCurrency(inv.GrandTotal, inv.Currency)
	ref := types.DerivedReference(types.RefTopUp, inv.Number)
	if _, err := replay(ctx, tx, ref, acct.ID, wallet.DirectionCredit, amount, wallet.StatusSucceeded); err != nil {
		if errors.Is(err, errs.ErrDuplicateReference) {
			return refusalReason(err), nil
		}
		return "", err
	}
	if err := acct.CheckCredit(amount); err != nil {
		return refusalReason(err), nil
	}
	return "", nil
}

func refusalReason(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func (t *Tally) emitSettled(ctx context.Context, out *settled) {
	if out.payment != nil && out.payment.Status == invoice.PaymentSucceeded {
		t.plugins.EmitPaymentSucceeded(ctx, out.inv, out.payment)
	}
	if out.topUp != nil {
		t.plugins.EmitWalletCredited(ctx, out.topUp)
	}
	if out.becamePaid {
		t.logger.Info("invoice paid",
			"invoice_id", out.inv.ID,
			"number", out.inv.Number,
			"grand_total", out.inv.GrandTotal,
		)
		t.plugins.EmitInvoicePaid(ctx, out.inv)
	}
}

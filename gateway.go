package tally

import (
	"context"
	"errors"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/gateway"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// Failure reasons recorded on gateway payments.
const (
	ReasonVerificationTimeout = "verification timeout"
	ReasonSessionNotCreated   = "gateway session was never created"
	ReasonAmountMismatch      = "gateway amount does not match payment"
	ReasonExceedsOutstanding  = "payment exceeds outstanding amount"
	ReasonDeclined            = "declined by gateway"
	ReasonTopUpRejected       = "wallet top-up rejected"
)

// ──────────────────────────────────────────────────
// Gateway sessions
// ──────────────────────────────────────────────────

// CreateGatewayPaymentSession opens an online payment session for the
// outstanding amount of an invoice. The gateway is called between two store
// transactions, never inside one. An open, unexpired session is returned
// as-is.
func (t *Tally) CreateGatewayPaymentSession(ctx context.Context, invoiceID id.InvoiceID) (*gateway.Session, error) {
	if t.gateway == nil {
		return nil, errs.ErrGatewayNotConfigured
	}

	var (
		inv      *invoice.Invoice
		pending  *invoice.Payment
		existing *gateway.Session
		expired  []*invoice.Payment
	)
	ac := t.audit(ctx)

	if err := t.settleExpiredSession(ctx, ac, invoiceID); err != nil {
		return nil, err
	}

	// Phase 1: reserve a pending payment under the invoice lock.
	err := t.runInTx(ctx, "open_gateway_session", func(ctx context.Context, tx store.Tx) error {
		pending, existing, expired = nil, nil, nil

		var err error
		inv, err = tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoice.StatusCancelled {
			return errs.With(errs.ErrInvoiceCancelled, "invoice %s", inv.Number)
		}

		if p := inv.PendingGatewayPayment(); p != nil {
			switch {
			case !p.Expired(ac.Timestamp) && p.GatewayReference != "":
				existing = sessionOf(p)
				return nil
			case !p.Expired(ac.Timestamp):
				return errs.With(errs.ErrPaymentPending, "invoice %s has pending payment %s", inv.Number, p.Reference)
			}
			if p.GatewayReference != "" {
				// Let the gateway decide before the session is replaced.
				return errs.With(errs.ErrPaymentPending, "invoice %s has an expired session awaiting verification", inv.Number)
			}
			if err := p.Fail(ac.Timestamp, ac.ActorID, ReasonSessionNotCreated); err != nil {
				return err
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			expired = append(expired, p)
		}
		if err := inv.CheckPayable(); err != nil {
			return err
		}

		s, err := t.loadSettings(ctx, tx)
		if err != nil {
			return err
		}
		expiresAt := ac.Timestamp.Add(s.GatewaySessionTTL)
		pending = &invoice.Payment{
			Entity:      types.NewEntityAt(ac.Timestamp, ac.ActorID),
			ID:          id.NewPaymentID(),
			Amount:      inv.Outstanding(),
			Method:      invoice.MethodOnlineGateway,
			Status:      invoice.PaymentPending,
			Reference:   types.NewReferenceAt(types.RefGatewayPayment, ac.Timestamp),
			Gateway:     t.gateway.Name(),
			ExpiresAt:   &expiresAt,
			Description: "Online payment for invoice " + inv.Number,
			SourceIP:    ac.SourceIP,
		}
		if err := inv.AddPayment(pending); err != nil {
			return err
		}
		return tx.CreatePayment(ctx, pending)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range expired {
		t.plugins.EmitPaymentFailed(ctx, inv, p)
	}
	if existing != nil {
		return existing, nil
	}

	// Phase 2: call the gateway outside any transaction.
	sess, gwErr := t.gateway.CreateSession(ctx, gateway.SessionRequest{
		PaymentReference: pending.Reference,
		InvoiceNumber:    inv.Number,
		UserID:           inv.UserID,
		Amount:           pending.Amount,
		ExpiresAt:        *pending.ExpiresAt,
	})
	if gwErr == nil && (sess == nil || sess.GatewayReference == "") {
		gwErr = errs.With(errs.ErrGateway, "gateway returned no session reference")
	}
	if gwErr != nil && !errs.IsGateway(gwErr) {
		gwErr = errs.Wrap(errs.ErrGateway, gwErr)
	}

	// Phase 3: store the session, or fail the reserved payment.
	var failed *invoice.Payment
	err = t.runInTx(ctx, "store_gateway_session", func(ctx context.Context, tx store.Tx) error {
		failed = nil

		var err error
		inv, err = tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		p := inv.FindPayment(pending.Reference)
		if p == nil {
			return errs.With(errs.ErrPaymentNotFound, "reference %s", pending.Reference)
		}
		if p.Status != invoice.PaymentPending {
			return errs.With(errs.ErrInvalidTransition, "payment %s is %s", p.Reference, p.Status)
		}

		if gwErr != nil {
			if err := p.Fail(ac.Timestamp, ac.ActorID, gwErr.Error()); err != nil {
				return err
			}
			failed = p
			return tx.UpdatePayment(ctx, p)
		}

		p.GatewayReference = sess.GatewayReference
		p.PaymentURL = sess.PaymentURL
		if !sess.ExpiresAt.IsZero() {
			exp := sess.ExpiresAt.UTC()
			p.ExpiresAt = &exp
		}
		p.TouchAt(ac.Timestamp, ac.ActorID)
		pending = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, errors.Join(err, gwErr)
	}
	if failed != nil {
		t.logger.Warn("gateway session failed",
			"invoice_id", inv.ID,
			"reference", failed.Reference,
			"error", gwErr,
		)
		t.plugins.EmitPaymentFailed(ctx, inv, failed)
		return nil, gwErr
	}

	t.logger.Debug("gateway session opened",
		"invoice_id", inv.ID,
		"reference", pending.Reference,
		"gateway_reference", pending.GatewayReference,
	)
	return sessionOf(pending), nil
}

// ──────────────────────────────────────────────────
// Verification
// ──────────────────────────────────────────────────

// VerifyGatewayPayment resolves a gateway payment. Already resolved
// payments return their stored outcome without calling the gateway.
func (t *Tally) VerifyGatewayPayment(ctx context.Context, gatewayReference string) (*gateway.Receipt, error) {
	if gatewayReference == "" {
		return nil, errs.Invalid("gateway_reference", "is required")
	}

	var p *invoice.Payment
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPaymentByGatewayReference(ctx, gatewayReference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.Status != invoice.PaymentPending {
		return receiptOf(p), nil
	}
	if t.gateway == nil {
		return nil, errs.ErrGatewayNotConfigured
	}

	rcpt, gwErr := t.gateway.Verify(ctx, gatewayReference)
	ac := t.audit(ctx)
	if gwErr != nil {
		if !p.Expired(ac.Timestamp) {
			if !errs.IsGateway(gwErr) {
				gwErr = errs.Wrap(errs.ErrGateway, gwErr)
			}
			return nil, gwErr
		}
		t.logger.Warn("gateway verification failed after expiry",
			"gateway_reference", gatewayReference,
			"error", gwErr,
		)
		rcpt = &gateway.Receipt{GatewayReference: gatewayReference, Status: gateway.ReceiptPending}
	}

	return t.applyReceipt(ctx, ac, p.InvoiceID, p.ID, rcpt)
}

// applyReceipt applies a gateway receipt to a pending payment under the
// invoice lock.
func (t *Tally) applyReceipt(ctx context.Context, ac AuditContext, invoiceID id.InvoiceID, paymentID id.PaymentID, rcpt *gateway.Receipt) (*gateway.Receipt, error) {
	var (
		out      settled
		failed   bool
		rejected error
	)
	err := t.runInTx(ctx, "apply_gateway_receipt", func(ctx context.Context, tx store.Tx) error {
		out.reset()
		failed, rejected = false, nil

		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		out.inv = inv
		p := findPaymentByID(inv, paymentID)
		if p == nil {
			return errs.With(errs.ErrPaymentNotFound, "payment %s", paymentID)
		}
		out.payment = p
		if p.Status != invoice.PaymentPending {
			out.replayed = true
			return nil
		}

		fail := func(reason string) error {
			if err := p.Fail(ac.Timestamp, ac.ActorID, reason); err != nil {
				return err
			}
			failed = true
			return tx.UpdatePayment(ctx, p)
		}

		switch rcpt.Status {
		case gateway.ReceiptSucceeded:
			if rcpt.Amount.Amount != 0 && !rcpt.Amount.Equal(p.Amount) {
				return fail(ReasonAmountMismatch)
			}
			if p.Amount.GreaterThan(inv.Outstanding()) {
				rejected = errs.With(errs.ErrExceedsOutstanding, "payment %s, outstanding %s", p.Amount, inv.Outstanding())
				return fail(ReasonExceedsOutstanding)
			}
			if inv.Kind == invoice.KindWalletTopUp && p.Amount.Equal(inv.Outstanding()) {
				refusal, err := t.topUpRefusal(ctx, tx, inv)
				if err != nil {
					return err
				}
				if refusal != "" {
					return fail(ReasonTopUpRejected + ": " + refusal)
				}
			}
			if err := p.Succeed(ac.Timestamp, ac.ActorID, rcpt.TrackingCode); err != nil {
				return err
			}
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			return t.refreshInvoice(ctx, tx, ac, inv, p, &out)

		case gateway.ReceiptFailed:
			reason := rcpt.Message
			if reason == "" {
				reason = ReasonDeclined
			}
			return fail(reason)

		default:
			if p.Expired(ac.Timestamp) {
				return fail(ReasonVerificationTimeout)
			}
			out.replayed = true
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	switch {
	case failed:
		t.logger.Info("gateway payment failed",
			"invoice_id", out.inv.ID,
			"reference", out.payment.Reference,
			"reason", out.payment.FailureReason,
		)
		t.plugins.EmitPaymentFailed(ctx, out.inv, out.payment)
	case !out.replayed:
		t.logger.Info("gateway payment succeeded",
			"invoice_id", out.inv.ID,
			"reference", out.payment.Reference,
			"amount", out.payment.Amount,
		)
		t.emitSettled(ctx, &out)
	}

	if rejected != nil {
		return receiptOf(out.payment), rejected
	}
	return receiptOf(out.payment), nil
}

// ExpirePendingPayments resolves gateway payments whose session expired,
// verifying each once with the gateway. It returns how many were resolved.
func (t *Tally) ExpirePendingPayments(ctx context.Context) (int, error) {
	ac := t.audit(ctx)

	var due []*invoice.Payment
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		due, err = tx.ListExpiredPayments(ctx, ac.Timestamp, t.sweepBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		var rcpt *gateway.Receipt
		if p.GatewayReference == "" {
			rcpt, err = t.applyReceipt(ctx, ac, p.InvoiceID, p.ID, &gateway.Receipt{
				Status:  gateway.ReceiptFailed,
				Message: ReasonSessionNotCreated,
			})
		} else {
			rcpt, err = t.VerifyGatewayPayment(ctx, p.GatewayReference)
		}
		if err != nil && !errors.Is(err, errs.ErrExceedsOutstanding) {
			t.logger.Warn("expire pending payment failed",
				"reference", p.Reference,
				"error", err,
			)
			continue
		}
		if rcpt != nil && rcpt.Status != gateway.ReceiptPending {
			resolved++
		}
	}
	return resolved, nil
}

// settleExpiredSession verifies an expired session of the invoice so that a
// new one can replace it.
func (t *Tally) settleExpiredSession(ctx context.Context, ac AuditContext, invoiceID id.InvoiceID) error {
	var stale *invoice.Payment
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if p := inv.PendingGatewayPayment(); p != nil && p.GatewayReference != "" && p.Expired(ac.Timestamp) {
			stale = p
		}
		return nil
	})
	if err != nil || stale == nil {
		return err
	}
	_, err = t.VerifyGatewayPayment(ctx, stale.GatewayReference)
	if errors.Is(err, errs.ErrExceedsOutstanding) {
		return nil
	}
	return err
}

func findPaymentByID(inv *invoice.Invoice, paymentID id.PaymentID) *invoice.Payment {
	for _, p := range inv.Payments {
		if p.ID.String() == paymentID.String() {
			return p
		}
	}
	return nil
}

func sessionOf(p *invoice.Payment) *gateway.Session {
	s := &gateway.Session{
		GatewayReference: p.GatewayReference,
		PaymentURL:       p.PaymentURL,
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
	return s
}

func receiptOf(p *invoice.Payment) *gateway.Receipt {
	r := &gateway.Receipt{
		GatewayReference: p.GatewayReference,
		TrackingCode:     p.ExternalID,
		Amount:           p.Amount,
		Message:          p.FailureReason,
	}
	switch p.Status {
	case invoice.PaymentSucceeded:
		r.Status = gateway.ReceiptSucceeded
	case invoice.PaymentFailed:
		r.Status = gateway.ReceiptFailed
	default:
		r.Status = gateway.ReceiptPending
	}
	return r
}

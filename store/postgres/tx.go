package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/settings"
	tallystore "github.com/xraph/tally/store"
	"github.com/xraph/tally/store/internal/sqlmodel"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// compile-time interface check
var _ tallystore.Tx = (*Tx)(nil)

// Tx implements store.Tx inside one grove transaction. Inserts use
// ON CONFLICT DO NOTHING and check the affected row count, so a duplicate
// never aborts the surrounding transaction.
type Tx struct {
	tx *pgdriver.PgTx
}

// filter numbers $N placeholders as conditions are added.
type filter struct {
	q *pgdriver.SelectQuery
	n int
}

func (f *filter) eq(column string, v any) {
	f.n++
	f.q.Where(fmt.Sprintf("%s = $%d", column, f.n), v)
}

func page(q *pgdriver.SelectQuery, limit, offset int) *pgdriver.SelectQuery {
	return q.Limit(limit).Offset(offset)
}

// inserted maps an empty ON CONFLICT DO NOTHING insert to err.
func inserted(rows int64, err error) error {
	if rows == 0 {
		return err
	}
	return nil
}

func affected(res driver.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// ==================== Wallets ====================

func (t *Tx) GetWallet(ctx context.Context, userID string) (*wallet.Account, error) {
	return t.selectWallet(ctx, userID, false)
}

func (t *Tx) LockWallet(ctx context.Context, userID string) (*wallet.Account, error) {
	return t.selectWallet(ctx, userID, true)
}

func (t *Tx) selectWallet(ctx context.Context, userID string, lock bool) (*wallet.Account, error) {
	m := new(sqlmodel.Wallet)
	q := t.tx.NewSelect(m).Where("user_id = $1", userID)
	if lock {
		q = q.ForUpdate()
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, errs.With(errs.ErrWalletNotFound, "user %s", userID)
		}
		return nil, err
	}
	return m.Account(), nil
}

func (t *Tx) CreateWallet(ctx context.Context, a *wallet.Account) error {
	res, err := t.tx.NewInsert(sqlmodel.ToWallet(a)).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	return inserted(affected(res), errs.With(errs.ErrAlreadyExists, "wallet for user %s", a.UserID))
}

func (t *Tx) UpdateWallet(ctx context.Context, a *wallet.Account) error {
	res, err := t.tx.NewUpdate((*sqlmodel.Wallet)(nil)).
		Set("currency = ?", a.Currency).
		Set("locked = ?", a.Locked).
		Set("lock_reason = ?", a.LockReason).
		Set("updated_at = ?", a.UpdatedAt.UTC()).
		Set("updated_by = ?", a.UpdatedBy).
		Where("user_id = ?", a.UserID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return errs.With(errs.ErrWalletNotFound, "user %s", a.UserID)
	}
	return nil
}

func (t *Tx) WalletBalance(ctx context.Context, walletID id.WalletID) (int64, error) {
	var total int64
	err := t.tx.NewRaw(`SELECT COALESCE(SUM(CASE WHEN direction = 'debit' THEN -amount ELSE amount END), 0)::BIGINT
FROM tally_wallet_transactions
WHERE wallet_id = $1 AND status = 'succeeded'`, walletID).Scan(ctx, &total)
	return total, err
}

func (t *Tx) CreateWalletTransaction(ctx context.Context, wt *wallet.Transaction) error {
	m, err := sqlmodel.ToWalletTransaction(wt)
	if err != nil {
		return err
	}
	res, err := t.tx.NewInsert(m).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	return inserted(affected(res), errs.With(errs.ErrDuplicateReference, "reference %s", wt.Reference))
}

func (t *Tx) UpdateWalletTransaction(ctx context.Context, wt *wallet.Transaction) error {
	m, err := sqlmodel.ToWalletTransaction(wt)
	if err != nil {
		return err
	}
	res, err := t.tx.NewUpdate(m).
		Column("status", "description", "invoice_id", "payment_id", "metadata", "updated_at", "updated_by").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return errs.With(errs.ErrTransactionNotFound, "transaction %s", wt.ID)
	}
	return nil
}

func (t *Tx) GetWalletTransaction(ctx context.Context, txID id.WalletTxID) (*wallet.Transaction, error) {
	return t.selectWalletTx(ctx, "id", txID, errs.With(errs.ErrTransactionNotFound, "transaction %s", txID))
}

func (t *Tx) GetWalletTransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error) {
	return t.selectWalletTx(ctx, "reference", reference, errs.With(errs.ErrTransactionNotFound, "reference %s", reference))
}

func (t *Tx) selectWalletTx(ctx context.Context, column string, key any, notFound error) (*wallet.Transaction, error) {
	m := new(sqlmodel.WalletTransaction)
	if err := t.tx.NewSelect(m).Where(column+" = $1", key).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, notFound
		}
		return nil, err
	}
	return m.Transaction()
}

func (t *Tx) ListWalletTransactions(ctx context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	var models []sqlmodel.WalletTransaction
	f := &filter{q: t.tx.NewSelect(&models)}
	f.eq("wallet_id", walletID)
	if opts.Direction != "" {
		f.eq("direction", string(opts.Direction))
	}
	if opts.Status != "" {
		f.eq("status", string(opts.Status))
	}
	if err := page(f.q.OrderExpr("seq DESC"), opts.Limit, opts.Offset).Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*wallet.Transaction, 0, len(models))
	for i := range models {
		wt, err := models[i].Transaction()
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, nil
}

// ==================== Invoices ====================

func (t *Tx) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m, err := sqlmodel.ToInvoice(inv)
	if err != nil {
		return err
	}
	res, err := t.tx.NewInsert(m).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	return inserted(affected(res), errs.With(errs.ErrAlreadyExists, "invoice %s", inv.Number))
}

func (t *Tx) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return t.selectInvoice(ctx, "id", invID, false)
}

func (t *Tx) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return t.selectInvoice(ctx, "number", number, false)
}

// LockInvoice locks the invoice row. Payment rows are only written while
// their invoice is locked, so they need no lock of their own.
func (t *Tx) LockInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return t.selectInvoice(ctx, "id", invID, true)
}

func (t *Tx) selectInvoice(ctx context.Context, column string, key any, lock bool) (*invoice.Invoice, error) {
	m := new(sqlmodel.Invoice)
	q := t.tx.NewSelect(m).Where(column+" = $1", key)
	if lock {
		q = q.ForUpdate()
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, errs.With(errs.ErrInvoiceNotFound, "invoice %v", key)
		}
		return nil, err
	}
	inv, err := m.Invoice()
	if err != nil {
		return nil, err
	}
	if err := t.attachPayments(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (t *Tx) attachPayments(ctx context.Context, inv *invoice.Invoice) error {
	var models []sqlmodel.Payment
	err := t.tx.NewSelect(&models).
		Where("invoice_id = $1", inv.ID).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return err
	}
	for i := range models {
		inv.Payments = append(inv.Payments, models[i].Payment())
	}
	return nil
}

func (t *Tx) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m, err := sqlmodel.ToInvoice(inv)
	if err != nil {
		return err
	}
	res, err := t.tx.NewUpdate(m).
		Column("status", "line_items", "subtotal", "tax_amount", "adjustment", "discount_code",
			"discount_amount", "grand_total", "paid_amount", "due_at", "paid_at", "cancelled_at",
			"cancel_reason", "note", "metadata", "updated_at", "updated_by").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return errs.With(errs.ErrInvoiceNotFound, "invoice %s", inv.ID)
	}
	return nil
}

func (t *Tx) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []sqlmodel.Invoice
	f := &filter{q: t.tx.NewSelect(&models)}
	if opts.UserID != "" {
		f.eq("user_id", opts.UserID)
	}
	if opts.Status != "" {
		f.eq("status", string(opts.Status))
	}
	if opts.Kind != "" {
		f.eq("kind", string(opts.Kind))
	}
	if err := page(f.q.OrderExpr("seq DESC"), opts.Limit, opts.Offset).Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*invoice.Invoice, 0, len(models))
	for i := range models {
		inv, err := models[i].Invoice()
		if err != nil {
			return nil, err
		}
		if err := t.attachPayments(ctx, inv); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (t *Tx) CreatePayment(ctx context.Context, p *invoice.Payment) error {
	n, err := t.tx.NewSelect((*sqlmodel.Invoice)(nil)).Where("id = $1", p.InvoiceID).Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.With(errs.ErrInvoiceNotFound, "invoice %s", p.InvoiceID)
	}
	res, err := t.tx.NewInsert(sqlmodel.ToPayment(p)).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	return inserted(affected(res), errs.With(errs.ErrDuplicateReference, "reference %s", p.Reference))
}

func (t *Tx) UpdatePayment(ctx context.Context, p *invoice.Payment) error {
	if p.GatewayReference != "" {
		n, err := t.tx.NewSelect((*sqlmodel.Payment)(nil)).
			Where("gateway_reference = $1", p.GatewayReference).
			Where("id <> $2", p.ID).
			Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.With(errs.ErrDuplicateReference, "gateway reference %s", p.GatewayReference)
		}
	}
	res, err := t.tx.NewUpdate(sqlmodel.ToPayment(p)).
		Column("status", "gateway", "gateway_reference", "payment_url", "expires_at", "external_id",
			"wallet_transaction_id", "description", "failure_reason", "resolved_at", "updated_at", "updated_by").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return errs.With(errs.ErrPaymentNotFound, "payment %s", p.ID)
	}
	return nil
}

func (t *Tx) GetPaymentByReference(ctx context.Context, reference string) (*invoice.Payment, error) {
	return t.selectPayment(ctx, "reference", reference)
}

func (t *Tx) GetPaymentByGatewayReference(ctx context.Context, gatewayReference string) (*invoice.Payment, error) {
	return t.selectPayment(ctx, "gateway_reference", gatewayReference)
}

func (t *Tx) selectPayment(ctx context.Context, column, key string) (*invoice.Payment, error) {
	m := new(sqlmodel.Payment)
	if err := t.tx.NewSelect(m).Where(column+" = $1", key).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, errs.With(errs.ErrPaymentNotFound, "%s %s", column, key)
		}
		return nil, err
	}
	return m.Payment(), nil
}

func (t *Tx) ListExpiredPayments(ctx context.Context, before time.Time, limit int) ([]*invoice.Payment, error) {
	var models []sqlmodel.Payment
	err := t.tx.NewSelect(&models).
		Where("method = $1", string(invoice.MethodOnlineGateway)).
		Where("status = $2", string(invoice.PaymentPending)).
		Where("expires_at IS NOT NULL AND expires_at < $3", before.UTC()).
		OrderExpr("seq ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*invoice.Payment, 0, len(models))
	for i := range models {
		out = append(out, models[i].Payment())
	}
	return out, nil
}

// ==================== Discount codes ====================

func (t *Tx) CreateDiscountCode(ctx context.Context, c *discount.Code) error {
	m, err := sqlmodel.ToDiscountCode(c)
	if err != nil {
		return err
	}
	res, err := t.tx.NewInsert(m).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	return inserted(affected(res), errs.With(errs.ErrAlreadyExists, "discount code %s", c.Code))
}

func (t *Tx) GetDiscountCode(ctx context.Context, code string) (*discount.Code, error) {
	return t.selectDiscount(ctx, "code", code, false)
}

func (t *Tx) GetDiscountCodeByID(ctx context.Context, codeID id.DiscountID) (*discount.Code, error) {
	return t.selectDiscount(ctx, "id", codeID, false)
}

func (t *Tx) LockDiscountCode(ctx context.Context, code string) (*discount.Code, error) {
	return t.selectDiscount(ctx, "code", code, true)
}

func (t *Tx) selectDiscount(ctx context.Context, column string, key any, lock bool) (*discount.Code, error) {
	m := new(sqlmodel.DiscountCode)
	q := t.tx.NewSelect(m).Where(column+" = $1", key)
	if lock {
		q = q.ForUpdate()
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, errs.With(errs.ErrDiscountNotFound, "%s %v", column, key)
		}
		return nil, err
	}
	return m.Discount()
}

func (t *Tx) UpdateDiscountCode(ctx context.Context, c *discount.Code) error {
	m, err := sqlmodel.ToDiscountCode(c)
	if err != nil {
		return err
	}
	res, err := t.tx.NewUpdate(m).
		Column("description", "type", "value", "currency", "max_discount", "minimum_order", "active",
			"starts_at", "ends_at", "usage_limit", "redemptions", "group_rules", "metadata",
			"updated_at", "updated_by").
		WherePK().
		Where("code = ?", c.Code).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return errs.With(errs.ErrDiscountNotFound, "code %s", c.Code)
	}
	return nil
}

func (t *Tx) ListDiscountCodes(ctx context.Context, opts discount.ListOpts) ([]*discount.Code, error) {
	var models []sqlmodel.DiscountCode
	f := &filter{q: t.tx.NewSelect(&models)}
	if opts.ActiveOnly {
		f.eq("active", true)
	}
	if err := page(f.q.OrderExpr("seq DESC"), opts.Limit, opts.Offset).Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*discount.Code, 0, len(models))
	for i := range models {
		c, err := models[i].Discount()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ==================== Withdrawals ====================

func (t *Tx) CreateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	res, err := t.tx.NewInsert(sqlmodel.ToWithdrawal(r)).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	return inserted(affected(res), errs.With(errs.ErrAlreadyExists, "withdrawal %s", r.ID))
}

func (t *Tx) GetWithdrawal(ctx context.Context, reqID id.WithdrawalID) (*withdrawal.Request, error) {
	return t.selectWithdrawal(ctx, reqID, false)
}

func (t *Tx) LockWithdrawal(ctx context.Context, reqID id.WithdrawalID) (*withdrawal.Request, error) {
	return t.selectWithdrawal(ctx, reqID, true)
}

func (t *Tx) selectWithdrawal(ctx context.Context, reqID id.WithdrawalID, lock bool) (*withdrawal.Request, error) {
	m := new(sqlmodel.Withdrawal)
	q := t.tx.NewSelect(m).Where("id = $1", reqID)
	if lock {
		q = q.ForUpdate()
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, errs.With(errs.ErrWithdrawalNotFound, "withdrawal %s", reqID)
		}
		return nil, err
	}
	return m.Request(), nil
}

func (t *Tx) UpdateWithdrawal(ctx context.Context, r *withdrawal.Request) error {
	res, err := t.tx.NewUpdate(sqlmodel.ToWithdrawal(r)).
		Column("status", "wallet_transaction_id", "payout_reference", "admin_notes", "reviewed_by",
			"reviewed_at", "processed_by", "processed_at", "updated_at", "updated_by").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return errs.With(errs.ErrWithdrawalNotFound, "withdrawal %s", r.ID)
	}
	return nil
}

func (t *Tx) ListWithdrawals(ctx context.Context, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	var models []sqlmodel.Withdrawal
	f := &filter{q: t.tx.NewSelect(&models)}
	if opts.RequesterID != "" {
		f.eq("requester_id", opts.RequesterID)
	}
	if opts.Status != "" {
		f.eq("status", string(opts.Status))
	}
	if err := page(f.q.OrderExpr("seq DESC"), opts.Limit, opts.Offset).Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*withdrawal.Request, 0, len(models))
	for i := range models {
		out = append(out, models[i].Request())
	}
	return out, nil
}

// ==================== Settings ====================

func (t *Tx) GetSettings(ctx context.Context) (*settings.Settings, error) {
	return t.selectSettings(ctx, false)
}

func (t *Tx) LockSettings(ctx context.Context) (*settings.Settings, error) {
	return t.selectSettings(ctx, true)
}

func (t *Tx) selectSettings(ctx context.Context, lock bool) (*settings.Settings, error) {
	m := new(sqlmodel.Settings)
	q := t.tx.NewSelect(m).Where("id = $1", settings.DefaultID)
	if lock {
		q = q.ForUpdate()
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, errs.ErrSettingsNotFound
		}
		return nil, err
	}
	return m.Settings(), nil
}

func (t *Tx) SaveSettings(ctx context.Context, s *settings.Settings) error {
	_, err := t.tx.NewInsert(sqlmodel.ToSettings(s)).
		OnConflict("(id) DO UPDATE").
		Set("default_currency = EXCLUDED.default_currency").
		Set("minimum_withdrawal = EXCLUDED.minimum_withdrawal").
		Set("gateway_session_ttl = EXCLUDED.gateway_session_ttl").
		Set("gateway_name = EXCLUDED.gateway_name").
		Set("updated_at = EXCLUDED.updated_at").
		Set("updated_by = EXCLUDED.updated_by").
		Exec(ctx)
	return err
}

// Package memory provides an in-process store.Store.
//
// A transaction holds the store mutex for its whole duration and works on a
// copy of the state; the copy replaces the committed state only when the
// transaction function returns nil. Records are cloned on the way in and out
// so callers never share memory with the store.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// record keeps insertion order next to the stored value.
type record[T any] struct {
	seq int64
	val *T
}

type state struct {
	seq int64

	// Wallets
	wallets      map[string]record[wallet.Account] // by user id
	walletTxs    map[string]record[wallet.Transaction]
	walletTxRefs map[string]string // reference -> tx id

	// Invoices
	invoices       map[string]record[invoice.Invoice]
	invoiceNumbers map[string]string // number -> invoice id
	payments       map[string]record[invoice.Payment]
	paymentRefs    map[string]string // reference -> payment id
	gatewayRefs    map[string]string // gateway reference -> payment id

	// Discounts
	discounts   map[string]record[discount.Code] // by code
	discountIDs map[string]string                // id -> code

	// Withdrawals
	withdrawals map[string]record[withdrawal.Request]

	settings *settings.Settings
}

func newState() *state {
	return &state{
		wallets:        make(map[string]record[wallet.Account]),
		walletTxs:      make(map[string]record[wallet.Transaction]),
		walletTxRefs:   make(map[string]string),
		invoices:       make(map[string]record[invoice.Invoice]),
		invoiceNumbers: make(map[string]string),
		payments:       make(map[string]record[invoice.Payment]),
		paymentRefs:    make(map[string]string),
		gatewayRefs:    make(map[string]string),
		discounts:      make(map[string]record[discount.Code]),
		discountIDs:    make(map[string]string),
		withdrawals:    make(map[string]record[withdrawal.Request]),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// copies may share them.
func (st *state) clone() *state {
	return &state{
		seq:            st.seq,
		wallets:        maps.Clone(st.wallets),
		walletTxs:      maps.Clone(st.walletTxs),
		walletTxRefs:   maps.Clone(st.walletTxRefs),
		invoices:       maps.Clone(st.invoices),
		invoiceNumbers: maps.Clone(st.invoiceNumbers),
		payments:       maps.Clone(st.payments),
		paymentRefs:    maps.Clone(st.paymentRefs),
		gatewayRefs:    maps.Clone(st.gatewayRefs),
		discounts:      maps.Clone(st.discounts),
		discountIDs:    maps.Clone(st.discountIDs),
		withdrawals:    maps.Clone(st.withdrawals),
		settings:       st.settings,
	}
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

// Store is an in-memory store.Store. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	state  *state
	closed bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{state: newState()}
}

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.ErrStoreClosed
	}

	t := &tx{st: s.state.clone()}
	err := fn(ctx, t)
	t.done = true
	if err != nil {
		return err
	}
	s.state = t.st
	return nil
}

// Migrate implements store.Store. It is a no-op.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrStoreClosed
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tx is a store.Tx over a private copy of the state.
type tx struct {
	st   *state
	done bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) check() error {
	if t.done {
		return errs.ErrStoreClosed
	}
	return nil
}

// ──────────────────────────────────────────────────
// Wallets
// ──────────────────────────────────────────────────

func (t *tx) GetWallet(_ context.Context, userID string) (*wallet.Account, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.st.wallets[userID]
	if !ok {
		return nil, errs.With(errs.ErrWalletNotFound, "user %s", userID)
	}
	return cloneAccount(r.val), nil
}

// LockWallet is GetWallet: the whole store is locked for the transaction.
func (t *tx) LockWallet(ctx context.Context, userID string) (*wallet.Account, error) {
	return t.GetWallet(ctx, userID)
}

func (t *tx) CreateWallet(_ context.Context, a *wallet.Account) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.st.wallets[a.UserID]; exists {
		return errs.With(errs.ErrAlreadyExists, "wallet for user %s", a.UserID)
	}
	t.st.wallets[a.UserID] = record[wallet.Account]{seq: t.st.next(), val: cloneAccount(a)}
	return nil
}

func (t *tx) UpdateWallet(_ context.Context, a *wallet.Account) error {
	if err := t.check(); err != nil {
		return err
	}
	r, ok := t.st.wallets[a.UserID]
	if !ok {
		return errs.With(errs.ErrWalletNotFound, "user %s", a.UserID)
	}
	r.val = cloneAccount(a)
	t.st.wallets[a.UserID] = r
	return nil
}

func (t *tx) WalletBalance(_ context.Context, walletID id.WalletID) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var total int64
	for _, r := range t.st.walletTxs {
		if r.val.WalletID.String() == walletID.String() {
			total += r.val.Signed()
		}
	}
	return total, nil
}

func (t *tx) CreateWalletTransaction(_ context.Context, wt *wallet.Transaction) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.st.walletTxRefs[wt.Reference]; exists {
		return errs.With(errs.ErrDuplicateReference, "reference %s", wt.Reference)
	}
	key := wt.ID.String()
	t.st.walletTxs[key] = record[wallet.Transaction]{seq: t.st.next(), val: cloneWalletTx(wt)}
	t.st.walletTxRefs[wt.Reference] = key
	return nil
}

func (t *tx) UpdateWalletTransaction(_ context.Context, wt *wallet.Transaction) error {
	if err := t.check(); err != nil {
		return err
	}
	key := wt.ID.String()
	r, ok := t.st.walletTxs[key]
	if !ok {
		return errs.With(errs.ErrTransactionNotFound, "transaction %s", key)
	}
	r.val = cloneWalletTx(wt)
	t.st.walletTxs[key] = r
	return nil
}

func (t *tx) GetWalletTransaction(_ context.Context, txID id.WalletTxID) (*wallet.Transaction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.st.walletTxs[txID.String()]
	if !ok {
		return nil, errs.With(errs.ErrTransactionNotFound, "transaction %s", txID)
	}
	return cloneWalletTx(r.val), nil
}

func (t *tx) GetWalletTransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	key, ok := t.st.walletTxRefs[reference]
	if !ok {
		return nil, errs.With(errs.ErrTransactionNotFound, "reference %s", reference)
	}
	return cloneWalletTx(t.st.walletTxs[key].val), nil
}

func (t *tx) ListWalletTransactions(_ context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	matched := filter(t.st.walletTxs, func(wt *wallet.Transaction) bool {
		return wt.WalletID.String() == walletID.String() &&
			(opts.Direction == "" || wt.Direction == opts.Direction) &&
			(opts.Status == "" || wt.Status == opts.Status)
	})
	return cloneAll(paginate(matched, opts.Limit, opts.Offset), cloneWalletTx), nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (t *tx) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	if err := t.check(); err != nil {
		return err
	}
	key := inv.ID.String()
	if _, exists := t.st.invoices[key]; exists {
		return errs.With(errs.ErrAlreadyExists, "invoice %s", key)
	}
	if _, exists := t.st.invoiceNumbers[inv.Number]; exists {
		return errs.With(errs.ErrAlreadyExists, "invoice number %s", inv.Number)
	}
	t.st.invoices[key] = record[invoice.Invoice]{seq: t.st.next(), val: cloneInvoice(inv)}
	t.st.invoiceNumbers[inv.Number] = key
	return nil
}

func (t *tx) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.st.invoices[invID.String()]
	if !ok {
		return nil, errs.With(errs.ErrInvoiceNotFound, "invoice %s", invID)
	}
	return t.loadInvoice(r.val), nil
}

func (t *tx) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	key, ok := t.st.invoiceNumbers[number]
	if !ok {
		return nil, errs.With(errs.ErrInvoiceNotFound, "invoice number %s", number)
	}
	return t.loadInvoice(t.st.invoices[key].val), nil
}

func (t *tx) LockInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return t.GetInvoice(ctx, invID)
}

func (t *tx) UpdateInvoice(_ context.Context, inv *invoice.Invoice) error {
	if err := t.check(); err != nil {
		return err
	}
	key := inv.ID.String()
	r, ok := t.st.invoices[key]
	if !ok {
		return errs.With(errs.ErrInvoiceNotFound, "invoice %s", key)
	}
	r.val = cloneInvoice(inv)
	t.st.invoices[key] = r
	return nil
}

func (t *tx) ListInvoices(_ context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	matched := filter(t.st.invoices, func(inv *invoice.Invoice) bool {
		return (opts.UserID == "" || inv.UserID == opts.UserID) &&
			(opts.Status == "" || inv.Status == opts.Status) &&
			(opts.Kind == "" || inv.Kind == opts.Kind)
	})
	page := paginate(matched, opts.Limit, opts.Offset)
	out := make([]*invoice.Invoice, len(page))
	for i, inv := range page {
		out[i] = t.loadInvoice(inv)
	}
	return out, nil
}

// loadInvoice clones inv and attaches its payments in insertion order.
func (t *tx) loadInvoice(inv *invoice.Invoice) *invoice.Invoice {
	out := cloneInvoice(inv)
	key := inv.ID.String()
	var rs []record[invoice.Payment]
	for _, r := range t.st.payments {
		if r.val.InvoiceID.String() == key {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b record[invoice.Payment]) int { return cmp.Compare(a.seq, b.seq) })
	out.Payments = make([]*invoice.Payment, len(rs))
	for i, r := range rs {
		out.Payments[i] = clonePayment(r.val)
	}
	return out
}

func (t *tx) CreatePayment(_ context.Context, p *invoice.Payment) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.invoices[p.InvoiceID.String()]; !ok {
		return errs.With(errs.ErrInvoiceNotFound, "invoice %s", p.InvoiceID)
	}
	if _, exists := t.st.paymentRefs[p.Reference]; exists {
		return errs.With(errs.ErrDuplicateReference, "reference %s", p.Reference)
	}
	if p.GatewayReference != "" {
		if _, exists := t.st.gatewayRefs[p.GatewayReference]; exists {
			return errs.With(errs.ErrDuplicateReference, "gateway reference %s", p.GatewayReference)
		}
	}
	key := p.ID.String()
	t.st.payments[key] = record[invoice.Payment]{seq: t.st.next(), val: clonePayment(p)}
	t.st.paymentRefs[p.Reference] = key
	if p.GatewayReference != "" {
		t.st.gatewayRefs[p.GatewayReference] = key
	}
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *invoice.Payment) error {
	if err := t.check(); err != nil {
		return err
	}
	key := p.ID.String()
	r, ok := t.st.payments[key]
	if !ok {
		return errs.With(errs.ErrPaymentNotFound, "payment %s", key)
	}
	if p.GatewayReference != r.val.GatewayReference {
		if owner, exists := t.st.gatewayRefs[p.GatewayReference]; exists && owner != key {
			return errs.With(errs.ErrDuplicateReference, "gateway reference %s", p.GatewayReference)
		}
		delete(t.st.gatewayRefs, r.val.GatewayReference)
		if p.GatewayReference != "" {
			t.st.gatewayRefs[p.GatewayReference] = key
		}
	}
	r.val = clonePayment(p)
	t.st.payments[key] = r
	return nil
}

func (t *tx) GetPaymentByReference(_ context.Context, reference string) (*invoice.Payment, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	key, ok := t.st.paymentRefs[reference]
	if !ok {
		return nil, errs.With(errs.ErrPaymentNotFound, "reference %s", reference)
	}
	return clonePayment(t.st.payments[key].val), nil
}

func (t *tx) GetPaymentByGatewayReference(_ context.Context, gatewayReference string) (*invoice.Payment, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	key, ok := t.st.gatewayRefs[gatewayReference]
	if !ok {
		return nil, errs.With(errs.ErrPaymentNotFound, "gateway reference %s", gatewayReference)
	}
	return clonePayment(t.st.payments[key].val), nil
}

func (t *tx) ListExpiredPayments(_ context.Context, before time.Time, limit int) ([]*invoice.Payment, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	matched := filter(t.st.payments, func(p *invoice.Payment) bool {
		return p.Method == invoice.MethodOnlineGateway && p.Expired(before)
	})
	slices.Reverse(matched) // oldest first
	return cloneAll(paginate(matched, limit, 0), clonePayment), nil
}

// ──────────────────────────────────────────────────
// Discount codes
// ──────────────────────────────────────────────────

func (t *tx) CreateDiscountCode(_ context.Context, c *discount.Code) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, exists := t.st.discounts[c.Code]; exists {
		return errs.With(errs.ErrAlreadyExists, "discount code %s", c.Code)
	}
	t.st.discounts[c.Code] = record[discount.Code]{seq: t.st.next(), val: cloneCode(c)}
	t.st.discountIDs[c.ID.String()] = c.Code
	return nil
}

func (t *tx) GetDiscountCode(_ context.Context, code string) (*discount.Code, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.st.discounts[code]
	if !ok {
		return nil, errs.With(errs.ErrDiscountNotFound, "code %s", code)
	}
	return cloneCode(r.val), nil
}

func (t *tx) GetDiscountCodeByID(ctx context.Context, codeID id.DiscountID) (*discount.Code, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	code, ok := t.st.discountIDs[codeID.String()]
	if !ok {
		return nil, errs.With(errs.ErrDiscountNotFound, "discount %s", codeID)
	}
	return t.GetDiscountCode(ctx, code)
}

func (t *tx) LockDiscountCode(ctx context.Context, code string) (*discount.Code, error) {
	return t.GetDiscountCode(ctx, code)
}

func (t *tx) UpdateDiscountCode(_ context.Context, c *discount.Code) error {
	if err := t.check(); err != nil {
		return err
	}
	r, ok := t.st.discounts[c.Code]
	if !ok || r.val.ID.String() != c.ID.String() {
		return errs.With(errs.ErrDiscountNotFound, "code %s", c.Code)
	}
	r.val = cloneCode(c)
	t.st.discounts[c.Code] = r
	return nil
}

func (t *tx) ListDiscountCodes(_ context.Context, opts discount.ListOpts) ([]*discount.Code, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	matched := filter(t.st.discounts, func(c *discount.Code) bool {
		return !opts.ActiveOnly || c.Active
	})
	return cloneAll(paginate(matched, opts.Limit, opts.Offset), cloneCode), nil
}

// ──────────────────────────────────────────────────
// Withdrawals
// ──────────────────────────────────────────────────

func (t *tx) CreateWithdrawal(_ context.Context, r *withdrawal.Request) error {
	if err := t.check(); err != nil {
		return err
	}
	key := r.ID.String()
	if _, exists := t.st.withdrawals[key]; exists {
		return errs.With(errs.ErrAlreadyExists, "withdrawal %s", key)
	}
	t.st.withdrawals[key] = record[withdrawal.Request]{seq: t.st.next(), val: cloneWithdrawal(r)}
	return nil
}

func (t *tx) GetWithdrawal(_ context.Context, reqID id.WithdrawalID) (*withdrawal.Request, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.st.withdrawals[reqID.String()]
	if !ok {
		return nil, errs.With(errs.ErrWithdrawalNotFound, "withdrawal %s", reqID)
	}
	return cloneWithdrawal(r.val), nil
}

func (t *tx) LockWithdrawal(ctx context.Context, reqID id.WithdrawalID) (*withdrawal.Request, error) {
	return t.GetWithdrawal(ctx, reqID)
}

func (t *tx) UpdateWithdrawal(_ context.Context, req *withdrawal.Request) error {
	if err := t.check(); err != nil {
		return err
	}
	key := req.ID.String()
	r, ok := t.st.withdrawals[key]
	if !ok {
		return errs.With(errs.ErrWithdrawalNotFound, "withdrawal %s", key)
	}
	r.val = cloneWithdrawal(req)
	t.st.withdrawals[key] = r
	return nil
}

func (t *tx) ListWithdrawals(_ context.Context, opts withdrawal.ListOpts) ([]*withdrawal.Request, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	matched := filter(t.st.withdrawals, func(r *withdrawal.Request) bool {
		return (opts.RequesterID == "" || r.RequesterID == opts.RequesterID) &&
			(opts.Status == "" || r.Status == opts.Status)
	})
	return cloneAll(paginate(matched, opts.Limit, opts.Offset), cloneWithdrawal), nil
}

// ──────────────────────────────────────────────────
// Settings
// ──────────────────────────────────────────────────

func (t *tx) GetSettings(_ context.Context) (*settings.Settings, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if t.st.settings == nil {
		return nil, errs.ErrSettingsNotFound
	}
	s := *t.st.settings
	return &s, nil
}

func (t *tx) LockSettings(ctx context.Context) (*settings.Settings, error) {
	return t.GetSettings(ctx)
}

func (t *tx) SaveSettings(_ context.Context, s *settings.Settings) error {
	if err := t.check(); err != nil {
		return err
	}
	cp := *s
	t.st.settings = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// filter returns the matching values newest first.
func filter[T any](m map[string]record[T], keep func(*T) bool) []*T {
	rs := make([]record[T], 0, len(m))
	for _, r := range m {
		if keep(r.val) {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b record[T]) int { return cmp.Compare(b.seq, a.seq) })
	out := make([]*T, len(rs))
	for i, r := range rs {
		out[i] = r.val
	}
	return out
}

func paginate[T any](items []T, limit, offset int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}

func cloneAll[T any](items []*T, clone func(*T) *T) []*T {
	out := make([]*T, len(items))
	for i, v := range items {
		out[i] = clone(v)
	}
	return out
}

func cloneAccount(a *wallet.Account) *wallet.Account {
	cp := *a
	return &cp
}

func cloneWalletTx(wt *wallet.Transaction) *wallet.Transaction {
	cp := *wt
	cp.Metadata = maps.Clone(wt.Metadata)
	return &cp
}

// cloneInvoice copies inv without its payments, which are stored separately.
func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	cp := *inv
	cp.Payments = nil
	cp.DueAt = clonePtr(inv.DueAt)
	cp.PaidAt = clonePtr(inv.PaidAt)
	cp.CancelledAt = clonePtr(inv.CancelledAt)
	cp.Metadata = maps.Clone(inv.Metadata)
	cp.LineItems = make([]invoice.LineItem, len(inv.LineItems))
	for i, li := range inv.LineItems {
		li.Metadata = maps.Clone(li.Metadata)
		cp.LineItems[i] = li
	}
	return &cp
}

func clonePayment(p *invoice.Payment) *invoice.Payment {
	cp := *p
	cp.ExpiresAt = clonePtr(p.ExpiresAt)
	cp.ResolvedAt = clonePtr(p.ResolvedAt)
	return &cp
}

func cloneCode(c *discount.Code) *discount.Code {
	cp := *c
	cp.MaxDiscount = clonePtr(c.MaxDiscount)
	cp.MinimumOrder = clonePtr(c.MinimumOrder)
	cp.EndsAt = clonePtr(c.EndsAt)
	cp.UsageLimit = clonePtr(c.UsageLimit)
	cp.Metadata = maps.Clone(c.Metadata)
	cp.Groups = make([]discount.GroupConfiguration, len(c.Groups))
	for i, g := range c.Groups {
		g.Type = clonePtr(g.Type)
		g.Value = clonePtr(g.Value)
		g.MaxDiscount = clonePtr(g.MaxDiscount)
		g.MinimumOrder = clonePtr(g.MinimumOrder)
		g.UsageLimit = clonePtr(g.UsageLimit)
		cp.Groups[i] = g
	}
	return &cp
}

func cloneWithdrawal(r *withdrawal.Request) *withdrawal.Request {
	cp := *r
	cp.ReviewedAt = clonePtr(r.ReviewedAt)
	cp.ProcessedAt = clonePtr(r.ProcessedAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

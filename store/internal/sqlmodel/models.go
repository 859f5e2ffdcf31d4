// Package sqlmodel holds the grove models shared by the PostgreSQL and
// SQLite stores, and the conversions between them and the domain types.
//
// Every table carries a database-generated seq column used for ordering.
// It is not mapped, so grove never writes it.
package sqlmodel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
	"github.com/xraph/tally/withdrawal"
)

// Entity maps types.Entity.
type Entity struct {
	CreatedAt time.Time `grove:"created_at,notnull"`
	UpdatedAt time.Time `grove:"updated_at,notnull"`
	CreatedBy string    `grove:"created_by,notnull"`
	UpdatedBy string    `grove:"updated_by,notnull"`
}

func toEntity(e types.Entity) Entity {
	return Entity{
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
		CreatedBy: e.CreatedBy,
		UpdatedBy: e.UpdatedBy,
	}
}

func (e Entity) entity() types.Entity {
	return types.Entity{
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
		CreatedBy: e.CreatedBy,
		UpdatedBy: e.UpdatedBy,
	}
}

// ==================== Wallets ====================

// Wallet is a tally_wallets row.
type Wallet struct {
	grove.BaseModel `grove:"table:tally_wallets"`

	ID         id.WalletID `grove:"id,pk"`
	UserID     string      `grove:"user_id,notnull"`
	Currency   string      `grove:"currency,notnull"`
	Locked     bool        `grove:"locked,notnull"`
	LockReason string      `grove:"lock_reason,notnull"`
	Entity
}

// ToWallet converts a wallet account.
func ToWallet(a *wallet.Account) *Wallet {
	return &Wallet{
		ID:         a.ID,
		UserID:     a.UserID,
		Currency:   a.Currency,
		Locked:     a.Locked,
		LockReason: a.LockReason,
		Entity:     toEntity(a.Entity),
	}
}

// Account converts the row back to a wallet account.
func (m *Wallet) Account() *wallet.Account {
	return &wallet.Account{
		ID:         m.ID,
		UserID:     m.UserID,
		Currency:   m.Currency,
		Locked:     m.Locked,
		LockReason: m.LockReason,
		Entity:     m.Entity.entity(),
	}
}

// WalletTransaction is a tally_wallet_transactions row.
type WalletTransaction struct {
	grove.BaseModel `grove:"table:tally_wallet_transactions"`

	ID          id.WalletTxID `grove:"id,pk"`
	WalletID    id.WalletID   `grove:"wallet_id,notnull"`
	UserID      string        `grove:"user_id,notnull"`
	Direction   string        `grove:"direction,notnull"`
	Amount      int64         `grove:"amount,notnull"`
	Currency    string        `grove:"currency,notnull"`
	Reference   string        `grove:"reference,notnull"`
	Description string        `grove:"description,notnull"`
	InvoiceID   id.InvoiceID  `grove:"invoice_id"`
	PaymentID   id.PaymentID  `grove:"payment_id"`
	Status      string        `grove:"status,notnull"`
	SourceIP    string        `grove:"source_ip,notnull"`
	Metadata    string        `grove:"metadata,type:jsonb"`
	Entity
}

// ToWalletTransaction converts a wallet ledger transaction.
func ToWalletTransaction(t *wallet.Transaction) (*WalletTransaction, error) {
	meta, err := encodeMap(t.Metadata)
	if err != nil {
		return nil, err
	}
	return &WalletTransaction{
		ID:          t.ID,
		WalletID:    t.WalletID,
		UserID:      t.UserID,
		Direction:   string(t.Direction),
		Amount:      t.Amount.Amount,
		Currency:    t.Amount.Currency,
		Reference:   t.Reference,
		Description: t.Description,
		InvoiceID:   t.InvoiceID,
		PaymentID:   t.PaymentID,
		Status:      string(t.Status),
		SourceIP:    t.SourceIP,
		Metadata:    meta,
		Entity:      toEntity(t.Entity),
	}, nil
}

// Transaction converts the row back to a wallet ledger transaction.
func (m *WalletTransaction) Transaction() (*wallet.Transaction, error) {
	meta, err := decodeMap(m.Metadata)
	if err != nil {
		return nil, err
	}
	return &wallet.Transaction{
		ID:          m.ID,
		WalletID:    m.WalletID,
		UserID:      m.UserID,
		Direction:   wallet.Direction(m.Direction),
		Amount:      types.New(m.Amount, m.Currency),
		Reference:   m.Reference,
		Description: m.Description,
		InvoiceID:   m.InvoiceID,
		PaymentID:   m.PaymentID,
		Status:      wallet.Status(m.Status),
		SourceIP:    m.SourceIP,
		Metadata:    meta,
		Entity:      m.Entity.entity(),
	}, nil
}

// ==================== Invoices ====================

// Invoice is a tally_invoices row. Line items are stored as JSON; payments
// live in their own table.
type Invoice struct {
	grove.BaseModel `grove:"table:tally_invoices"`

	ID             id.InvoiceID `grove:"id,pk"`
	Number         string       `grove:"number,notnull"`
	UserID         string       `grove:"user_id,notnull"`
	Currency       string       `grove:"currency,notnull"`
	Kind           string       `grove:"kind,notnull"`
	Status         string       `grove:"status,notnull"`
	LineItems      string       `grove:"line_items,type:jsonb"`
	Subtotal       int64        `grove:"subtotal,notnull"`
	TaxAmount      int64        `grove:"tax_amount,notnull"`
	Adjustment     int64        `grove:"adjustment,notnull"`
	DiscountCode   string       `grove:"discount_code,notnull"`
	DiscountAmount int64        `grove:"discount_amount,notnull"`
	GrandTotal     int64        `grove:"grand_total,notnull"`
	PaidAmount     int64        `grove:"paid_amount,notnull"`
	DueAt          *time.Time   `grove:"due_at"`
	PaidAt         *time.Time   `grove:"paid_at"`
	CancelledAt    *time.Time   `grove:"cancelled_at"`
	CancelReason   string       `grove:"cancel_reason,notnull"`
	Note           string       `grove:"note,notnull"`
	Metadata       string       `grove:"metadata,type:jsonb"`
	Entity
}

// ToInvoice converts an invoice. Payments are not included.
func ToInvoice(inv *invoice.Invoice) (*Invoice, error) {
	items, err := encodeJSON(inv.LineItems)
	if err != nil {
		return nil, err
	}
	meta, err := encodeMap(inv.Metadata)
	if err != nil {
		return nil, err
	}
	return &Invoice{
		ID:             inv.ID,
		Number:         inv.Number,
		UserID:         inv.UserID,
		Currency:       inv.Currency,
		Kind:           string(inv.Kind),
		Status:         string(inv.Status),
		LineItems:      items,
		Subtotal:       inv.Subtotal.Amount,
		TaxAmount:      inv.TaxAmount.Amount,
		Adjustment:     inv.Adjustment.Amount,
		DiscountCode:   inv.DiscountCode,
		DiscountAmount: inv.DiscountAmount.Amount,
		GrandTotal:     inv.GrandTotal.Amount,
		PaidAmount:     inv.PaidAmount.Amount,
		DueAt:          utcPtr(inv.DueAt),
		PaidAt:         utcPtr(inv.PaidAt),
		CancelledAt:    utcPtr(inv.CancelledAt),
		CancelReason:   inv.CancelReason,
		Note:           inv.Note,
		Metadata:       meta,
		Entity:         toEntity(inv.Entity),
	}, nil
}

// Invoice converts the row back to an invoice with an empty payment list.
func (m *Invoice) Invoice() (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ID:             m.ID,
		Number:         m.Number,
		UserID:         m.UserID,
		Currency:       m.Currency,
		Kind:           invoice.Kind(m.Kind),
		Status:         invoice.Status(m.Status),
		Subtotal:       types.New(m.Subtotal, m.Currency),
		TaxAmount:      types.New(m.TaxAmount, m.Currency),
		Adjustment:     types.New(m.Adjustment, m.Currency),
		DiscountCode:   m.DiscountCode,
		DiscountAmount: types.New(m.DiscountAmount, m.Currency),
		GrandTotal:     types.New(m.GrandTotal, m.Currency),
		PaidAmount:     types.New(m.PaidAmount, m.Currency),
		DueAt:          utcPtr(m.DueAt),
		PaidAt:         utcPtr(m.PaidAt),
		CancelledAt:    utcPtr(m.CancelledAt),
		CancelReason:   m.CancelReason,
		Note:           m.Note,
		Payments:       []*invoice.Payment{},
		Entity:         m.Entity.entity(),
	}
	if err := json.Unmarshal([]byte(m.LineItems), &inv.LineItems); err != nil {
		return nil, fmt.Errorf("tally/sqlmodel: decode line items: %w", err)
	}
	meta, err := decodeMap(m.Metadata)
	if err != nil {
		return nil, err
	}
	inv.Metadata = meta
	return inv, nil
}

// Payment is a tally_payments row. An empty gateway reference is stored as
// NULL so the unique index ignores it.
type Payment struct {
	grove.BaseModel `grove:"table:tally_payments"`

	ID                  id.PaymentID  `grove:"id,pk"`
	InvoiceID           id.InvoiceID  `grove:"invoice_id,notnull"`
	Amount              int64         `grove:"amount,notnull"`
	Currency            string        `grove:"currency,notnull"`
	Method              string        `grove:"method,notnull"`
	Status              string        `grove:"status,notnull"`
	Reference           string        `grove:"reference,notnull"`
	Gateway             string        `grove:"gateway,notnull"`
	GatewayReference    *string       `grove:"gateway_reference"`
	PaymentURL          string        `grove:"payment_url,notnull"`
	ExpiresAt           *time.Time    `grove:"expires_at"`
	ExternalID          string        `grove:"external_id,notnull"`
	WalletTransactionID id.WalletTxID `grove:"wallet_transaction_id"`
	Description         string        `grove:"description,notnull"`
	FailureReason       string        `grove:"failure_reason,notnull"`
	SourceIP            string        `grove:"source_ip,notnull"`
	ResolvedAt          *time.Time    `grove:"resolved_at"`
	Entity
}

// ToPayment converts an invoice payment.
func ToPayment(p *invoice.Payment) *Payment {
	var gatewayRef *string
	if p.GatewayReference != "" {
		ref := p.GatewayReference
		gatewayRef = &ref
	}
	return &Payment{
		ID:                  p.ID,
		InvoiceID:           p.InvoiceID,
		Amount:              p.Amount.Amount,
		Currency:            p.Amount.Currency,
		Method:              string(p.Method),
		Status:              string(p.Status),
		Reference:           p.Reference,
		Gateway:             p.Gateway,
		GatewayReference:    gatewayRef,
		PaymentURL:          p.PaymentURL,
		ExpiresAt:           utcPtr(p.ExpiresAt),
		ExternalID:          p.ExternalID,
		WalletTransactionID: p.WalletTransactionID,
		Description:         p.Description,
		FailureReason:       p.FailureReason,
		SourceIP:            p.SourceIP,
		ResolvedAt:          utcPtr(p.ResolvedAt),
		Entity:              toEntity(p.Entity),
	}
}

// Payment converts the row back to an invoice payment.
func (m *Payment) Payment() *invoice.Payment {
	p := &invoice.Payment{
		ID:                  m.ID,
		InvoiceID:           m.InvoiceID,
		Amount:              types.New(m.Amount, m.Currency),
		Method:              invoice.Method(m.Method),
		Status:              invoice.PaymentStatus(m.Status),
		Reference:           m.Reference,
		Gateway:             m.Gateway,
		PaymentURL:          m.PaymentURL,
		ExpiresAt:           utcPtr(m.ExpiresAt),
		ExternalID:          m.ExternalID,
		WalletTransactionID: m.WalletTransactionID,
		Description:         m.Description,
		FailureReason:       m.FailureReason,
		SourceIP:            m.SourceIP,
		ResolvedAt:          utcPtr(m.ResolvedAt),
		Entity:              m.Entity.entity(),
	}
	if m.GatewayReference != nil {
		p.GatewayReference = *m.GatewayReference
	}
	return p
}

// ==================== Discount codes ====================

// DiscountCode is a tally_discount_codes row. The decimal value is stored as
// text to keep its exact precision.
type DiscountCode struct {
	grove.BaseModel `grove:"table:tally_discount_codes"`

	ID           id.DiscountID `grove:"id,pk"`
	Code         string        `grove:"code,notnull"`
	Description  string        `grove:"description,notnull"`
	Type         string        `grove:"type,notnull"`
	Value        string        `grove:"value,notnull"`
	Currency     string        `grove:"currency,notnull"`
	MaxDiscount  *int64        `grove:"max_discount"`
	MinimumOrder *int64        `grove:"minimum_order"`
	Active       bool          `grove:"active,notnull"`
	StartsAt     time.Time     `grove:"starts_at,notnull"`
	EndsAt       *time.Time    `grove:"ends_at"`
	UsageLimit   *int64        `grove:"usage_limit"`
	Redemptions  int64         `grove:"redemptions,notnull"`
	GroupRules   string        `grove:"group_rules,type:jsonb"`
	Metadata     string        `grove:"metadata,type:jsonb"`
	Entity
}

// ToDiscountCode converts a discount code.
func ToDiscountCode(c *discount.Code) (*DiscountCode, error) {
	groups, err := encodeJSON(c.Groups)
	if err != nil {
		return nil, err
	}
	meta, err := encodeMap(c.Metadata)
	if err != nil {
		return nil, err
	}
	return &DiscountCode{
		ID:           c.ID,
		Code:         c.Code,
		Description:  c.Description,
		Type:         string(c.Type),
		Value:        c.Value.String(),
		Currency:     c.Currency,
		MaxDiscount:  moneyAmount(c.MaxDiscount),
		MinimumOrder: moneyAmount(c.MinimumOrder),
		Active:       c.Active,
		StartsAt:     c.StartsAt.UTC(),
		EndsAt:       utcPtr(c.EndsAt),
		UsageLimit:   c.UsageLimit,
		Redemptions:  c.Redemptions,
		GroupRules:   groups,
		Metadata:     meta,
		Entity:       toEntity(c.Entity),
	}, nil
}

// Discount converts the row back to a discount code.
func (m *DiscountCode) Discount() (*discount.Code, error) {
	v, err := decimal.NewFromString(m.Value)
	if err != nil {
		return nil, fmt.Errorf("tally/sqlmodel: decode discount value %q: %w", m.Value, err)
	}
	c := &discount.Code{
		ID:           m.ID,
		Code:         m.Code,
		Description:  m.Description,
		Type:         discount.Type(m.Type),
		Value:        v,
		Currency:     m.Currency,
		MaxDiscount:  money(m.MaxDiscount, m.Currency),
		MinimumOrder: money(m.MinimumOrder, m.Currency),
		Active:       m.Active,
		StartsAt:     m.StartsAt.UTC(),
		EndsAt:       utcPtr(m.EndsAt),
		UsageLimit:   m.UsageLimit,
		Redemptions:  m.Redemptions,
		Entity:       m.Entity.entity(),
	}
	if m.GroupRules != "" {
		if err := json.Unmarshal([]byte(m.GroupRules), &c.Groups); err != nil {
			return nil, fmt.Errorf("tally/sqlmodel: decode discount groups: %w", err)
		}
	}
	if c.Metadata, err = decodeMap(m.Metadata); err != nil {
		return nil, err
	}
	return c, nil
}

// ==================== Withdrawals ====================

// Withdrawal is a tally_withdrawals row.
type Withdrawal struct {
	grove.BaseModel `grove:"table:tally_withdrawals"`

	ID                  id.WithdrawalID `grove:"id,pk"`
	RequesterID         string          `grove:"requester_id,notnull"`
	RequesterType       string          `grove:"requester_type,notnull"`
	Amount              int64           `grove:"amount,notnull"`
	Currency            string          `grove:"currency,notnull"`
	DestinationType     string          `grove:"destination_type,notnull"`
	DestinationValue    string          `grove:"destination_value,notnull"`
	DestinationHolder   string          `grove:"destination_holder,notnull"`
	Status              string          `grove:"status,notnull"`
	WalletTransactionID id.WalletTxID   `grove:"wallet_transaction_id"`
	PayoutReference     string          `grove:"payout_reference,notnull"`
	AdminNotes          string          `grove:"admin_notes,notnull"`
	ReviewedBy          string          `grove:"reviewed_by,notnull"`
	ReviewedAt          *time.Time      `grove:"reviewed_at"`
	ProcessedBy         string          `grove:"processed_by,notnull"`
	ProcessedAt         *time.Time      `grove:"processed_at"`
	Entity
}

// ToWithdrawal converts a withdrawal request.
func ToWithdrawal(r *withdrawal.Request) *Withdrawal {
	return &Withdrawal{
		ID:                  r.ID,
		RequesterID:         r.RequesterID,
		RequesterType:       string(r.RequesterType),
		Amount:              r.Amount.Amount,
		Currency:            r.Amount.Currency,
		DestinationType:     string(r.Destination.Type),
		DestinationValue:    r.Destination.Value,
		DestinationHolder:   r.Destination.HolderName,
		Status:              string(r.Status),
		WalletTransactionID: r.WalletTransactionID,
		PayoutReference:     r.PayoutReference,
		AdminNotes:          r.AdminNotes,
		ReviewedBy:          r.ReviewedBy,
		ReviewedAt:          utcPtr(r.ReviewedAt),
		ProcessedBy:         r.ProcessedBy,
		ProcessedAt:         utcPtr(r.ProcessedAt),
		Entity:              toEntity(r.Entity),
	}
}

// Request converts the row back to a withdrawal request.
func (m *Withdrawal) Request() *withdrawal.Request {
	return &withdrawal.Request{
		ID:            m.ID,
		RequesterID:   m.RequesterID,
		RequesterType: withdrawal.RequesterType(m.RequesterType),
		Amount:        types.New(m.Amount, m.Currency),
		Destination: withdrawal.Destination{
			Type:       withdrawal.DestinationType(m.DestinationType),
			Value:      m.DestinationValue,
			HolderName: m.DestinationHolder,
		},
		Status:              withdrawal.Status(m.Status),
		WalletTransactionID: m.WalletTransactionID,
		PayoutReference:     m.PayoutReference,
		AdminNotes:          m.AdminNotes,
		ReviewedBy:          m.ReviewedBy,
		ReviewedAt:          utcPtr(m.ReviewedAt),
		ProcessedBy:         m.ProcessedBy,
		ProcessedAt:         utcPtr(m.ProcessedAt),
		Entity:              m.Entity.entity(),
	}
}

// ==================== Settings ====================

// Settings is the single tally_settings row. The gateway session TTL is
// stored in nanoseconds.
type Settings struct {
	grove.BaseModel `grove:"table:tally_settings"`

	ID                string `grove:"id,pk"`
	DefaultCurrency   string `grove:"default_currency,notnull"`
	MinimumWithdrawal int64  `grove:"minimum_withdrawal,notnull"`
	GatewaySessionTTL int64  `grove:"gateway_session_ttl,notnull"`
	GatewayName       string `grove:"gateway_name,notnull"`
	Entity
}

// ToSettings converts the settings, always under settings.DefaultID.
func ToSettings(s *settings.Settings) *Settings {
	return &Settings{
		ID:                settings.DefaultID,
		DefaultCurrency:   s.DefaultCurrency,
		MinimumWithdrawal: s.MinimumWithdrawal,
		GatewaySessionTTL: int64(s.GatewaySessionTTL),
		GatewayName:       s.GatewayName,
		Entity:            toEntity(s.Entity),
	}
}

// Settings converts the row back to the settings.
func (m *Settings) Settings() *settings.Settings {
	return &settings.Settings{
		ID:                m.ID,
		DefaultCurrency:   m.DefaultCurrency,
		MinimumWithdrawal: m.MinimumWithdrawal,
		GatewaySessionTTL: time.Duration(m.GatewaySessionTTL),
		GatewayName:       m.GatewayName,
		Entity:            m.Entity.entity(),
	}
}

// ==================== Helpers ====================

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func moneyAmount(m *types.Money) *int64 {
	if m == nil {
		return nil
	}
	amount := m.Amount
	return &amount
}

func money(amount *int64, currency string) *types.Money {
	if amount == nil {
		return nil
	}
	m := types.New(*amount, currency)
	return &m
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("tally/sqlmodel: encode json: %w", err)
	}
	return string(b), nil
}

func encodeMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return encodeJSON(m)
}

func decodeMap(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("tally/sqlmodel: decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

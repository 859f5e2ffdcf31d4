// Package discount defines discount codes and the pure rule engine that
// evaluates them against an order total.
package discount

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Type selects how a discount value is interpreted.
type Type string

const (
	// TypePercentage takes Value percent of the order total.
	TypePercentage Type = "percentage"
	// TypeFixedAmount takes Value major currency units off the order total.
	TypeFixedAmount Type = "fixed_amount"
)

func (t Type) valid() bool {
	return t == TypePercentage || t == TypeFixedAmount
}

// Code is a redeemable discount code.
type Code struct {
	types.Entity
	ID           id.DiscountID        `json:"id"`
	Code         string               `json:"code"`
	Description  string               `json:"description,omitempty"`
	Type         Type                 `json:"type"`
	Value        decimal.Decimal      `json:"value"`
	Currency     string               `json:"currency"`
	MaxDiscount  *types.Money         `json:"max_discount,omitempty"`
	MinimumOrder *types.Money         `json:"minimum_order,omitempty"`
	Active       bool                 `json:"active"`
	StartsAt     time.Time            `json:"starts_at"`
	EndsAt       *time.Time           `json:"ends_at,omitempty"`
	UsageLimit   *int64               `json:"usage_limit,omitempty"`
	Redemptions  int64                `json:"redemptions"`
	Groups       []GroupConfiguration `json:"groups,omitempty"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
}

// GroupConfiguration overrides a code's rule for one audience. Nil fields
// fall back to the code's base values.
type GroupConfiguration struct {
	Key          string           `json:"key"`
	Type         *Type            `json:"type,omitempty"`
	Value        *decimal.Decimal `json:"value,omitempty"`
	MaxDiscount  *types.Money     `json:"max_discount,omitempty"`
	MinimumOrder *types.Money     `json:"minimum_order,omitempty"`
	UsageLimit   *int64           `json:"usage_limit,omitempty"`
	Redemptions  int64            `json:"redemptions"`
}

// Result is the outcome of evaluating a code against a price.
type Result struct {
	Code          string          `json:"code"`
	AudienceKey   string          `json:"audience_key,omitempty"`
	Type          Type            `json:"type"`
	Value         decimal.Decimal `json:"value"`
	OriginalPrice types.Money     `json:"original_price"`
	Discount      types.Money     `json:"discount"`
	FinalPrice    types.Money     `json:"final_price"`
	WasCapped     bool            `json:"was_capped"`
}

// NormalizeCode canonicalizes a code string for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Group returns the group configuration for audienceKey, or nil.
func (c *Code) Group(audienceKey string) *GroupConfiguration {
	if audienceKey == "" {
		return nil
	}
	for i := range c.Groups {
		if c.Groups[i].Key == audienceKey {
			return &c.Groups[i]
		}
	}
	return nil
}

// Validate checks the code's configuration invariants.
func (c *Code) Validate() error {
	var me errs.MultiError
	if c.Code == "" {
		me.Add(errs.Invalid("code", "is required"))
	}
	if c.Currency == "" {
		me.Add(errs.Invalid("currency", "is required"))
	}
	if !c.Type.valid() {
		me.Add(errs.Invalid("type", "unknown discount type %q", c.Type))
	} else {
		me.Add(validateValue("value", c.Type, c.Value))
	}
	me.Add(validateMoney("max_discount", c.MaxDiscount, c.Currency))
	me.Add(validateMoney("minimum_order", c.MinimumOrder, c.Currency))
	if c.EndsAt != nil && c.EndsAt.Before(c.StartsAt) {
		me.Add(errs.Invalid("ends_at", "must not be before starts_at"))
	}
	me.Add(validateLimit("usage_limit", c.UsageLimit, c.Redemptions))

	seen := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		field := "groups[" + g.Key + "]"
		if g.Key == "" {
			me.Add(errs.Invalid("groups", "group key is required"))
			continue
		}
		if _, dup := seen[g.Key]; dup {
			me.Add(errs.Invalid(field, "duplicate group key"))
		}
		seen[g.Key] = struct{}{}

		if g.Type != nil {
			if !g.Type.valid() {
				me.Add(errs.Invalid(field+".type", "unknown discount type %q", *g.Type))
			} else if g.Value == nil {
				me.Add(errs.Invalid(field+".value", "is required when the type is overridden"))
			}
		}
		if g.Value != nil {
			t := c.Type
			if g.Type != nil {
				t = *g.Type
			}
			me.Add(validateValue(field+".value", t, *g.Value))
		}
		me.Add(validateMoney(field+".max_discount", g.MaxDiscount, c.Currency))
		me.Add(validateMoney(field+".minimum_order", g.MinimumOrder, c.Currency))
		me.Add(validateLimit(field+".usage_limit", g.UsageLimit, g.Redemptions))
	}
	return me.ErrOrNil()
}

func validateValue(field string, t Type, v decimal.Decimal) error {
	if !v.IsPositive() {
		return errs.Invalid(field, "must be positive")
	}
	if t == TypePercentage && v.GreaterThan(decimal.NewFromInt(100)) {
		return errs.Invalid(field, "percentage must not exceed 100")
	}
	return nil
}

func validateMoney(field string, m *types.Money, currency string) error {
	if m == nil {
		return nil
	}
	if m.Currency != currency {
		return errs.Invalid(field, "currency %q differs from code currency %q", m.Currency, currency)
	}
	if m.IsNegative() {
		return errs.Invalid(field, "must not be negative")
	}
	return nil
}

func validateLimit(field string, limit *int64, redemptions int64) error {
	if limit == nil {
		return nil
	}
	if *limit < 0 {
		return errs.Invalid(field, "must not be negative")
	}
	if redemptions > *limit {
		return errs.Invalid(field, "redemptions (%d) exceed the limit (%d)", redemptions, *limit)
	}
	return nil
}

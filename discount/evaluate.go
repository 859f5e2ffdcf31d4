package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/types"
)

// rule is the effective discount rule after group overrides are resolved.
type rule struct {
	typ          Type
	value        decimal.Decimal
	maxDiscount  *types.Money
	minimumOrder *types.Money
	group        *GroupConfiguration
}

// Evaluate computes the discount c grants on price at the given time for an
// optional audience key. It never mutates c.
func Evaluate(c *Code, price types.Money, at time.Time, audienceKey string) (*Result, error) {
	if price.Currency != c.Currency {
		return nil, errs.With(errs.ErrCurrencyMismatch, "code %s is %s, price is %s", c.Code, c.Currency, price.Currency)
	}
	if price.IsNegative() {
		return nil, errs.ErrInvalidAmount
	}

	// Availability.
	if !c.Active {
		return nil, errs.With(errs.ErrCodeInactive, "code %s", c.Code)
	}
	if at.Before(c.StartsAt) {
		return nil, errs.With(errs.ErrCodeNotYetValid, "code %s starts at %s", c.Code, c.StartsAt.Format(time.RFC3339))
	}
	if c.EndsAt != nil && at.After(*c.EndsAt) {
		return nil, errs.With(errs.ErrCodeExpired, "code %s ended at %s", c.Code, c.EndsAt.Format(time.RFC3339))
	}
	if c.UsageLimit != nil && c.Redemptions >= *c.UsageLimit {
		return nil, errs.With(errs.ErrGlobalLimitReached, "code %s used %d of %d times", c.Code, c.Redemptions, *c.UsageLimit)
	}

	r := resolve(c, audienceKey)
	if g := r.group; g != nil && g.UsageLimit != nil && g.Redemptions >= *g.UsageLimit {
		return nil, errs.With(errs.ErrGroupLimitReached, "code %s group %s used %d of %d times", c.Code, g.Key, g.Redemptions, *g.UsageLimit)
	}
	if r.minimumOrder != nil && price.LessThan(*r.minimumOrder) {
		return nil, errs.With(errs.ErrBelowMinimumOrder, "code %s requires %s, order is %s", c.Code, r.minimumOrder, price)
	}

	var amount types.Money
	switch r.typ {
	case TypePercentage:
		amount = price.Percent(r.value)
	case TypeFixedAmount:
		amount = types.FromDecimal(r.value, price.Currency)
	default:
		return nil, errs.Invalid("type", "unknown discount type %q", r.typ)
	}
	amount = amount.Min(price)

	res := &Result{
		Code:          c.Code,
		Type:          r.typ,
		Value:         r.value,
		OriginalPrice: price,
	}
	if r.group != nil {
		res.AudienceKey = r.group.Key
	}
	if r.maxDiscount != nil && amount.GreaterThan(*r.maxDiscount) {
		amount = *r.maxDiscount
		res.WasCapped = true
	}
	res.Discount = amount
	res.FinalPrice = price.Subtract(amount)
	return res, nil
}

// resolve applies the group override for audienceKey field by field. A group
// cap or minimum replaces the base one outright.
func resolve(c *Code, audienceKey string) rule {
	r := rule{
		typ:          c.Type,
		value:        c.Value,
		maxDiscount:  c.MaxDiscount,
		minimumOrder: c.MinimumOrder,
	}
	g := c.Group(audienceKey)
	if g == nil {
		return r
	}
	r.group = g
	if g.Type != nil {
		r.typ = *g.Type
	}
	if g.Value != nil {
		r.value = *g.Value
	}
	if g.MaxDiscount != nil {
		r.maxDiscount = g.MaxDiscount
	}
	if g.MinimumOrder != nil {
		r.minimumOrder = g.MinimumOrder
	}
	return r
}

// Redeem increments the global counter and, when res matched a group, that
// group's counter. Limits are rechecked so a stale Result cannot overrun.
func (c *Code) Redeem(res *Result, at time.Time, actor string) error {
	if c.UsageLimit != nil && c.Redemptions >= *c.UsageLimit {
		return errs.With(errs.ErrGlobalLimitReached, "code %s", c.Code)
	}
	var g *GroupConfiguration
	if res.AudienceKey != "" {
		g = c.Group(res.AudienceKey)
		if g != nil && g.UsageLimit != nil && g.Redemptions >= *g.UsageLimit {
			return errs.With(errs.ErrGroupLimitReached, "code %s group %s", c.Code, g.Key)
		}
	}
	c.Redemptions++
	if g != nil {
		g.Redemptions++
	}
	c.TouchAt(at, actor)
	return nil
}

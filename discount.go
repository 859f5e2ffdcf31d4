package tally

import (
	"context"
	"time"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// DiscountQuery asks what a code is worth against a price.
type DiscountQuery struct {
	Code string
	// Price with an empty currency takes the code's currency.
	Price       types.Money
	AudienceKey string
	// At defaults to the audit timestamp.
	At time.Time
}

// ──────────────────────────────────────────────────
// Discount evaluation
// ──────────────────────────────────────────────────

// PreviewDiscount evaluates a code without redeeming it.
func (t *Tally) PreviewDiscount(ctx context.Context, q DiscountQuery) (*discount.Result, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	var res *discount.Result
	ac := t.audit(ctx)
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetDiscountCode(ctx, discount.NormalizeCode(q.Code))
		if err != nil {
			return err
		}
		res, err = discount.Evaluate(c, inCurrency(q.Price, c.Currency), queryTime(q, ac), q.AudienceKey)
		return err
	})
	return res, err
}

// ApplyDiscount evaluates a code and redeems it, incrementing its counters
// in the same transaction.
func (t *Tally) ApplyDiscount(ctx context.Context, q DiscountQuery) (*discount.Result, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	var res *discount.Result
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "apply_discount", func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = t.redeem(ctx, tx, ac, queryTime(q, ac), q.Code, q.Price, q.AudienceKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	t.plugins.EmitDiscountApplied(ctx, res)
	return res, nil
}

// redeem locks the code, evaluates it at the given time and increments its
// counters. The code is stamped with the audit time, not the evaluation time.
func (t *Tally) redeem(ctx context.Context, tx store.Tx, ac AuditContext, at time.Time, code string, price types.Money, audienceKey string) (*discount.Result, error) {
	c, err := tx.LockDiscountCode(ctx, discount.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	res, err := discount.Evaluate(c, inCurrency(price, c.Currency), at, audienceKey)
	if err != nil {
		return nil, err
	}
	if err := c.Redeem(res, ac.Timestamp, ac.ActorID); err != nil {
		return nil, err
	}
	if err := tx.UpdateDiscountCode(ctx, c); err != nil {
		return nil, err
	}
	return res, nil
}

// ──────────────────────────────────────────────────
// Discount administration
// ──────────────────────────────────────────────────

// CreateDiscountCode stores a new code. Redemption counters start at zero.
func (t *Tally) CreateDiscountCode(ctx context.Context, c *discount.Code) error {
	ac := t.audit(ctx)
	if c.ID.IsNil() {
		c.ID = id.NewDiscountID()
	}
	c.Entity = types.NewEntityAt(ac.Timestamp, ac.ActorID)
	c.Code = discount.NormalizeCode(c.Code)
	c.Currency = types.NormalizeCurrency(c.Currency)
	if c.StartsAt.IsZero() {
		c.StartsAt = ac.Timestamp
	}
	c.Redemptions = 0
	for i := range c.Groups {
		c.Groups[i].Redemptions = 0
	}
	if err := c.Validate(); err != nil {
		return err
	}

	err := t.runInTx(ctx, "create_discount_code", func(ctx context.Context, tx store.Tx) error {
		return tx.CreateDiscountCode(ctx, c)
	})
	if err != nil {
		return err
	}

	t.logger.Debug("discount code created", "code", c.Code, "type", c.Type)
	return nil
}

// UpdateDiscountCode applies an administrative edit to a code. Redemption
// counters are preserved whatever fn does to them.
func (t *Tally) UpdateDiscountCode(ctx context.Context, code string, fn func(*discount.Code) error) (*discount.Code, error) {
	var c *discount.Code
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "update_discount_code", func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = tx.LockDiscountCode(ctx, discount.NormalizeCode(code))
		if err != nil {
			return err
		}

		keep := struct {
			id          id.DiscountID
			code        string
			entity      types.Entity
			redemptions int64
			groups      map[string]int64
		}{c.ID, c.Code, c.Entity, c.Redemptions, make(map[string]int64, len(c.Groups))}
		for _, g := range c.Groups {
			keep.groups[g.Key] = g.Redemptions
		}

		if err := fn(c); err != nil {
			return err
		}

		c.ID, c.Code, c.Entity = keep.id, keep.code, keep.entity
		c.Currency = types.NormalizeCurrency(c.Currency)
		c.Redemptions = keep.redemptions
		for i := range c.Groups {
			c.Groups[i].Redemptions = keep.groups[c.Groups[i].Key]
		}
		c.TouchAt(ac.Timestamp, ac.ActorID)
		if err := c.Validate(); err != nil {
			return err
		}
		return tx.UpdateDiscountCode(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetDiscountCode returns a code by its string.
func (t *Tally) GetDiscountCode(ctx context.Context, code string) (*discount.Code, error) {
	var c *discount.Code
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = tx.GetDiscountCode(ctx, discount.NormalizeCode(code))
		return err
	})
	return c, err
}

// ListDiscountCodes lists codes, newest first.
func (t *Tally) ListDiscountCodes(ctx context.Context, opts discount.ListOpts) ([]*discount.Code, error) {
	var codes []*discount.Code
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		codes, err = tx.ListDiscountCodes(ctx, opts)
		return err
	})
	return codes, err
}

func validateQuery(q DiscountQuery) error {
	if discount.NormalizeCode(q.Code) == "" {
		return errs.Invalid("code", "is required")
	}
	if q.Price.IsNegative() {
		return errs.With(errs.ErrInvalidAmount, "price %d", q.Price.Amount)
	}
	return nil
}

func queryTime(q DiscountQuery, ac AuditContext) time.Time {
	if q.At.IsZero() {
		return ac.Timestamp
	}
	return q.At.UTC()
}

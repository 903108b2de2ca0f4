package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ovenlab/bakeshop/internal/domain/money"
)

// Validator checks a coupon code against an order subtotal and computes the
// resulting discount. It has no side effects: the redemption counter is
// incremented inside the order persistence transaction, not here, so a
// validation that never reaches checkout completion cannot burn a use.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate applies the full rejection ladder for the given code and subtotal
// and returns the computed Application on success.
func (v *Validator) Validate(ctx context.Context, code string, subtotal money.Cents) (*Application, error) {
	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	typ, typeOK := NormalizeType(string(c.Type))

	now := v.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrNotYetActive
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrExpired
	}
	if !c.Active {
		return nil, ErrInactive
	}
	if subtotal < money.FromDecimal(c.MinOrderAmount) {
		return nil, ErrBelowMinimum
	}
	if c.MaxRedemptions > 0 && c.TimesRedeemed >= c.MaxRedemptions {
		return nil, ErrExhausted
	}
	// Checked last: a coupon that is expired or inactive should report that,
	// not a corrupt stored discount type.
	if !typeOK {
		return nil, ErrInvalidType
	}

	discount := computeDiscount(typ, c.Value, subtotal)
	if cap := money.FromDecimal(c.MaxDiscountAmount); cap > 0 && discount > cap {
		discount = cap
	}
	if discount > subtotal {
		discount = subtotal
	}

	return &Application{
		Code:     c.Code,
		Type:     typ,
		Value:    c.Value,
		Discount: discount,
	}, nil
}

// computeDiscount returns the raw discount in cents before caps are applied.
func computeDiscount(typ Type, value decimal.Decimal, subtotal money.Cents) money.Cents {
	switch typ {
	case TypePercent:
		return money.FromDecimal(subtotal.Decimal().Mul(value).Div(hundred))
	case TypeFixed:
		return money.FromDecimal(value)
	default:
		return 0
	}
}

var hundred = decimal.NewFromInt(100)

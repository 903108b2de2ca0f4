package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ovenlab/bakeshop/internal/domain/money"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercent discounts a percentage of the order subtotal.
	TypePercent Type = "PERCENT"
	// TypeFixed discounts a fixed amount, capped at the subtotal.
	TypeFixed Type = "FIXED"
)

// Validation errors, ordered by the check that produces them. The messages
// are shown verbatim to customers on the checkout page.
var (
	ErrNotFound     = errors.New("coupon not found")
	ErrNotYetActive = errors.New("coupon is not active yet")
	ErrExpired      = errors.New("coupon has expired")
	ErrInactive     = errors.New("coupon is not active")
	ErrBelowMinimum = errors.New("order total is below the coupon minimum")
	ErrExhausted    = errors.New("coupon redemption limit reached")
	ErrInvalidType  = errors.New("unsupported coupon discount type")
)

// Coupon is a discount rule created in the admin back office and consumed
// read-only at checkout.
type Coupon struct {
	Code              string
	Type              Type
	Value             decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount decimal.Decimal // zero means no cap
	ValidFrom         *time.Time
	ValidUntil        *time.Time
	Active            bool
	MaxRedemptions    int // zero means unlimited
	TimesRedeemed     int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Application records the outcome of applying a coupon to a subtotal.
// It carries the rule snapshot alongside the computed discount so the order
// metadata can preserve what was applied even if the coupon is later edited.
type Application struct {
	Code     string
	Type     Type
	Value    decimal.Decimal
	Discount money.Cents
}

// Repository provides coupon persistence. FindByCode matches the code
// case-insensitively and returns ErrNotFound when absent.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Upsert(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, code string) error
}

// NormalizeType maps stored discount-type text onto a known Type. The
// persistence layer has historically carried both casings and the long form
// "PERCENTAGE", so the mapping is deliberately tolerant.
func NormalizeType(raw string) (Type, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PERCENT", "PERCENTAGE":
		return TypePercent, true
	case "FIXED":
		return TypeFixed, true
	default:
		return "", false
	}
}

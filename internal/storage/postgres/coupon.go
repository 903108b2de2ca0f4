package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ovenlab/bakeshop/internal/domain/coupon"
)

const (
	couponColumns = `code, discount_type, value, min_order_amount, max_discount_amount,
		valid_from, valid_until, active, max_redemptions, times_redeemed, created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	listCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons ORDER BY created_at DESC`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_order_amount,
			max_discount_amount, valid_from, valid_until, active, max_redemptions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active,
			max_redemptions = EXCLUDED.max_redemptions,
			updated_at = now()`

	deleteCouponSQL = `DELETE FROM coupons WHERE UPPER(code) = UPPER($1)`

	// Redeemed inside the order-upsert transaction, never on its own.
	incrementCouponRedemptionsSQL = `UPDATE coupons SET times_redeemed = times_redeemed + 1
		WHERE UPPER(code) = UPPER($1)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, case-insensitively. Activation
// and validity-window checks are the validator's job, so inactive coupons
// are returned too.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return &c, nil
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Upsert creates or replaces a coupon rule by code. The redemption counter
// is never reset by an upsert.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.Type), c.Value, c.MinOrderAmount, c.MaxDiscountAmount,
		c.ValidFrom, c.ValidUntil, c.Active, c.MaxRedemptions,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Delete removes a coupon rule. Orders that already redeemed it keep their
// metadata snapshot.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, code)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		value          decimal.Decimal
		minOrder       decimal.Decimal
		maxDiscount    decimal.Decimal
		validFrom      *time.Time
		validUntil     *time.Time
		maxRedemptions int32
		timesRedeemed  int32
	)
	err := row.Scan(
		&c.Code, &discountType, &value, &minOrder, &maxDiscount,
		&validFrom, &validUntil, &c.Active, &maxRedemptions, &timesRedeemed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.Type(discountType)
	c.Value = value
	c.MinOrderAmount = minOrder
	c.MaxDiscountAmount = maxDiscount
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	c.MaxRedemptions = int(maxRedemptions)
	c.TimesRedeemed = int(timesRedeemed)
	return c, err
}

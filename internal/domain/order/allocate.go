package order

import (
	"sort"

	"github.com/go-faster/errors"

	"github.com/ovenlab/bakeshop/internal/domain/money"
)

// ErrAllocationMismatch indicates the allocated line discounts failed to
// reconcile with the requested total. It is an internal fault (caller bug or
// arithmetic error), never a user-input condition.
var ErrAllocationMismatch = errors.New("discount allocation mismatch")

// AllocateDiscount spreads a whole-order discount across line-item subtotals
// proportionally, using the largest-remainder method: each line gets the
// floor of its exact proportional share, then the remaining cents go one at
// a time to the lines with the largest fractional remainders. Ties and the
// output ordering follow the input order.
//
// The returned shares always sum to discount exactly, and no line's share
// exceeds its subtotal. A discount that cannot be conserved (negative, or
// larger than the subtotal sum) fails with ErrAllocationMismatch.
func AllocateDiscount(subtotals []money.Cents, discount money.Cents) ([]money.Cents, error) {
	shares := make([]money.Cents, len(subtotals))

	var sum int64
	for _, s := range subtotals {
		if s < 0 {
			return nil, errors.Wrap(ErrAllocationMismatch, "negative line subtotal")
		}
		sum += int64(s)
	}

	if discount == 0 || sum == 0 {
		if discount != 0 {
			return nil, errors.Wrap(ErrAllocationMismatch, "discount against zero subtotal")
		}
		return shares, nil
	}
	if discount < 0 || int64(discount) > sum {
		return nil, errors.Wrap(ErrAllocationMismatch, "discount outside [0, subtotal]")
	}

	type remainder struct {
		idx  int
		frac int64
	}
	remainders := make([]remainder, len(subtotals))

	var allocated int64
	for i, s := range subtotals {
		exact := int64(discount) * int64(s)
		shares[i] = money.Cents(exact / sum)
		allocated += exact / sum
		remainders[i] = remainder{idx: i, frac: exact % sum}
	}

	// Hand out the shortfall cent by cent, largest remainder first. The sort
	// is stable, so equal remainders keep input order.
	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].frac > remainders[b].frac
	})
	for i := int64(0); i < int64(discount)-allocated; i++ {
		shares[remainders[i].idx]++
	}

	var check int64
	for _, s := range shares {
		check += int64(s)
	}
	if check != int64(discount) {
		return nil, errors.Wrap(ErrAllocationMismatch, "shares do not sum to discount")
	}

	return shares, nil
}

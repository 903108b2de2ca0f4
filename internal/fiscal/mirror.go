package fiscal

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/ovenlab/bakeshop/internal/domain/order"
	"github.com/ovenlab/bakeshop/pkg/retry"
)

// defaultTaxGroup is used when a line item carries no tax group; group B is
// the standard-rate VAT group.
const defaultTaxGroup = "B"

// Service projects domain orders into the fiscal schema with bounded
// retries. It implements order.Mirror.
type Service struct {
	repo  Repository
	retry retry.Config
}

// NewService creates a mirror Service over the given Repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		retry: retry.Config{
			Attempts: 3,
			Initial:  200 * time.Millisecond,
			Max:      2 * time.Second,
		},
	}
}

// MirrorOrder projects the order root and its aggregated item set. The
// caller decides what to do with the returned error; by contract it must
// only log it.
func (s *Service) MirrorOrder(ctx context.Context, o *order.Order) error {
	rec := OrderRecord{
		Reference:     o.Reference,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		DeliveryLabel: o.DeliveryLabel,
		PaymentMethod: "card",
		Status:        string(o.Status),
		Total:         o.TotalAmount,
		Discount:      o.Discount,
	}

	items := aggregateItems(o.Items)

	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.UpsertOrder(ctx, rec, items)
	})
	return errors.Wrap(err, "mirror order")
}

// MirrorPayment registers a completed card payment for the reference.
func (s *Service) MirrorPayment(ctx context.Context, reference string, o *order.Order) error {
	rec := PaymentRecord{
		Reference: reference,
		Method:    "card",
		Amount:    o.TotalAmount,
		PaidAt:    time.Now().UTC(),
	}

	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.RecordPayment(ctx, rec)
	})
	return errors.Wrap(err, "mirror payment")
}

// aggregateItems sums quantities and line totals per (name, tax group)
// pair, preserving first-seen order.
func aggregateItems(items []order.LineItem) []ItemRecord {
	type key struct {
		name, taxGroup string
	}

	index := make(map[key]int, len(items))
	out := make([]ItemRecord, 0, len(items))
	for _, item := range items {
		group := item.TaxGroup
		if group == "" {
			group = defaultTaxGroup
		}

		k := key{name: item.Name, taxGroup: group}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, ItemRecord{Name: item.Name, TaxGroup: group})
		}
		out[i].Quantity += item.Quantity
		out[i].Amount = out[i].Amount.Add(item.Total)
	}
	return out
}

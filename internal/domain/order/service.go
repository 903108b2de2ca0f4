package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ovenlab/bakeshop/internal/domain/coupon"
	"github.com/ovenlab/bakeshop/internal/domain/money"
	"github.com/ovenlab/bakeshop/internal/domain/product"
)

// Sentinel errors for checkout validation.
var (
	ErrMissingReference = errors.New("order reference required")
	ErrEmptyItems       = errors.New("items required")
)

// ProductNotFoundError indicates a submitted line references an unknown
// product.
type ProductNotFoundError struct {
	ProductRef string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductRef)
}

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductRef string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductRef)
}

// CouponValidator computes the discount for a coupon code against a subtotal.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal money.Cents) (*coupon.Application, error)
}

// Mirror projects an order into the fiscal compliance schema. Implementations
// run in their own transaction; a returned error must never abort checkout.
type Mirror interface {
	MirrorOrder(ctx context.Context, o *Order) error
}

// CheckoutItem is a submitted line. Only the product reference, quantity and
// option selections are trusted; ClientPrice is used solely for drift logging.
type CheckoutItem struct {
	ProductRef  string
	Quantity    int
	Options     map[string]string
	ClientPrice decimal.Decimal
}

// CheckoutRequest is the validated checkout payload.
type CheckoutRequest struct {
	Reference     string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	DeliveryLabel string
	Items         []CheckoutItem
	CouponCode    string
	// ClientTotal is the client-computed total, logged on drift, never trusted.
	ClientTotal decimal.Decimal
	// UserID is the authenticated session user, empty for anonymous checkout.
	UserID   string
	Metadata map[string]any
}

// CheckoutResult is the outcome of a successful checkout.
type CheckoutResult struct {
	Order           *Order
	Created         bool
	Subtotal        money.Cents
	Discount        money.Cents
	Total           money.Cents
	PaymentRequired bool
}

// Service orchestrates checkout: server-side price re-derivation, coupon
// application, discount allocation, idempotent persistence and the
// best-effort fiscal mirror.
type Service struct {
	products product.Repository
	coupons  CouponValidator
	orders   Repository
	mirror   Mirror
}

// NewService creates a checkout Service. mirror may be nil to disable the
// compliance projection.
func NewService(products product.Repository, coupons CouponValidator, orders Repository, mirror Mirror) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		orders:   orders,
		mirror:   mirror,
	}
}

// Checkout runs the full pricing pipeline and persists the order. It is
// idempotent per reference: retries update the existing order in place. No
// payment-gateway interaction happens here; the caller builds the redirect
// form only when PaymentRequired is set.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	lg := zctx.From(ctx)

	if req.Reference == "" {
		return nil, ErrMissingReference
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	refs := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductRef: item.ProductRef}
		}
		refs[i] = item.ProductRef
	}

	// One batch query; resolve by id or slug.
	fetched, err := s.products.GetByRefs(ctx, refs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byRef := make(map[string]product.Product, len(fetched)*2)
	for _, p := range fetched {
		byRef[p.ID] = p
		byRef[p.Slug] = p
	}

	// Authoritative pricing: unit prices come from the catalog, quantities
	// and options from the client.
	lineSubtotals := make([]money.Cents, len(req.Items))
	products := make([]product.Product, len(req.Items))
	var subtotal money.Cents
	for i, item := range req.Items {
		p, ok := byRef[item.ProductRef]
		if !ok {
			return nil, &ProductNotFoundError{ProductRef: item.ProductRef}
		}
		products[i] = p

		if !item.ClientPrice.IsZero() && !item.ClientPrice.Equal(p.Price) {
			lg.Warn("Client price drift",
				zap.String("reference", req.Reference),
				zap.String("product", p.ID),
				zap.String("client_price", item.ClientPrice.String()),
				zap.String("catalog_price", p.Price.String()),
			)
		}

		lineSubtotals[i] = money.FromDecimal(p.Price) * money.Cents(item.Quantity)
		subtotal += lineSubtotals[i]
	}

	// Coupon application against the server-derived subtotal.
	var applied *coupon.Application
	var discount money.Cents
	if req.CouponCode != "" {
		applied, err = s.coupons.Validate(ctx, req.CouponCode, subtotal)
		if err != nil {
			return nil, err
		}
		discount = applied.Discount
	}

	total := subtotal - discount
	if total < 0 {
		total = 0
	}

	shares, err := AllocateDiscount(lineSubtotals, discount)
	if err != nil {
		return nil, errors.Wrap(err, "allocate discount")
	}

	items := make([]LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = LineItem{
			ProductID: products[i].ID,
			Name:      products[i].Name,
			Quantity:  item.Quantity,
			UnitPrice: products[i].Price,
			TaxGroup:  products[i].TaxGroup,
			Options:   item.Options,
			Discount:  shares[i].Decimal(),
			Total:     (lineSubtotals[i] - shares[i]).Decimal(),
		}
	}

	if !req.ClientTotal.IsZero() && money.FromDecimal(req.ClientTotal) != total {
		lg.Warn("Client total drift",
			zap.String("reference", req.Reference),
			zap.String("client_total", req.ClientTotal.String()),
			zap.String("server_total", total.String()),
		)
	}

	metadata := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}
	if applied != nil {
		metadata["coupon"] = map[string]any{
			"code":     applied.Code,
			"type":     string(applied.Type),
			"value":    applied.Value.String(),
			"discount": applied.Discount.String(),
		}
	}

	o := &Order{
		ID:            uuid.New().String(),
		Reference:     req.Reference,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		DeliveryLabel: req.DeliveryLabel,
		Items:         items,
		CouponCode:    couponCode(applied),
		Discount:      discount.Decimal(),
		TotalAmount:   total.Decimal(),
		Metadata:      metadata,
	}

	performedBy := req.UserID
	if performedBy == "" {
		performedBy = req.CustomerEmail
	}

	created, err := s.orders.Upsert(ctx, o, performedBy)
	if err != nil {
		return nil, errors.Wrap(err, "upsert order")
	}

	// Secondary fiscal projection is best-effort: log and move on.
	if s.mirror != nil {
		if err := s.mirror.MirrorOrder(ctx, o); err != nil {
			lg.Error("Fiscal mirror failed",
				zap.String("reference", o.Reference),
				zap.Error(err),
			)
		}
	}

	return &CheckoutResult{
		Order:           o,
		Created:         created,
		Subtotal:        subtotal,
		Discount:        discount,
		Total:           total,
		PaymentRequired: total > 0,
	}, nil
}

func couponCode(a *coupon.Application) string {
	if a == nil {
		return ""
	}
	return a.Code
}

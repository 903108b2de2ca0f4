package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenlab/bakeshop/internal/domain/coupon"
	"github.com/ovenlab/bakeshop/internal/domain/money"
	"github.com/ovenlab/bakeshop/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	err      error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.err
}

func (m *mockProductRepo) GetByRef(_ context.Context, ref string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == ref || m.products[i].Slug == ref {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetByRefs(_ context.Context, refs []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, p := range m.products {
		for _, ref := range refs {
			if p.ID == ref || p.Slug == ref {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

type mockCouponValidator struct {
	application *coupon.Application
	err         error
	gotSubtotal money.Cents
}

func (m *mockCouponValidator) Validate(_ context.Context, _ string, subtotal money.Cents) (*coupon.Application, error) {
	m.gotSubtotal = subtotal
	return m.application, m.err
}

type mockOrderRepo struct {
	existing  map[string]*Order
	lastOrder *Order
	upserts   int
	err       error
}

func (m *mockOrderRepo) GetByReference(_ context.Context, ref string) (*Order, error) {
	if o, ok := m.existing[ref]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) List(_ context.Context, _, _ int) ([]Order, error) { return nil, nil }

func (m *mockOrderRepo) Upsert(_ context.Context, o *Order, _ string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.upserts++
	m.lastOrder = o
	if m.existing == nil {
		m.existing = make(map[string]*Order)
	}
	_, exists := m.existing[o.Reference]
	m.existing[o.Reference] = o
	return !exists, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, _ string, _ Status, _ string, _ map[string]any) (*StatusChange, error) {
	return nil, nil
}

func (m *mockOrderRepo) UpdateFields(_ context.Context, _ string, _ AdminUpdate, _ string) error {
	return nil
}

func (m *mockOrderRepo) MarkCancelled(_ context.Context, _, _, _ string) error { return nil }

func (m *mockOrderRepo) AuditTrail(_ context.Context, _ string) ([]AuditEntry, error) {
	return nil, nil
}

type mockMirror struct {
	calls int
	err   error
}

func (m *mockMirror) MirrorOrder(_ context.Context, _ *Order) error {
	m.calls++
	return m.err
}

// --- Helpers ---

func bakeryProduct(id, slug, name, price string) product.Product {
	return product.Product{
		ID:       id,
		Slug:     slug,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: "pastry",
		TaxGroup: "B",
		Active:   true,
	}
}

func checkoutReq(items ...CheckoutItem) CheckoutRequest {
	return CheckoutRequest{
		Reference:     "ord-1001",
		CustomerName:  "Mila Petrova",
		CustomerEmail: "mila@example.com",
		DeliveryLabel: "Pickup, Saturday morning",
		Items:         items,
	}
}

// --- Tests ---

func TestCheckout_MissingReference(t *testing.T) {
	svc := NewService(&mockProductRepo{}, &mockCouponValidator{}, &mockOrderRepo{}, nil)

	req := checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1})
	req.Reference = ""

	_, err := svc.Checkout(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingReference)
}

func TestCheckout_EmptyItems(t *testing.T) {
	svc := NewService(&mockProductRepo{}, &mockCouponValidator{}, &mockOrderRepo{}, nil)

	_, err := svc.Checkout(context.Background(), checkoutReq())
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCheckout_InvalidQuantity(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{bakeryProduct("p1", "sourdough", "Sourdough Loaf", "4.80")}}
	svc := NewService(repo, &mockCouponValidator{}, &mockOrderRepo{}, nil)

	_, err := svc.Checkout(context.Background(), checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 0}))

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductRef)
}

func TestCheckout_ProductNotFound(t *testing.T) {
	svc := NewService(&mockProductRepo{}, &mockCouponValidator{}, &mockOrderRepo{}, nil)

	_, err := svc.Checkout(context.Background(), checkoutReq(CheckoutItem{ProductRef: "missing", Quantity: 1}))

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductRef)
}

func TestCheckout_NoCoupon(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "4.80"),
		bakeryProduct("p2", "croissant", "Butter Croissant", "2.20"),
	}}
	orders := &mockOrderRepo{}
	svc := NewService(repo, &mockCouponValidator{}, orders, nil)

	result, err := svc.Checkout(context.Background(), checkoutReq(
		CheckoutItem{ProductRef: "p1", Quantity: 2},
		CheckoutItem{ProductRef: "croissant", Quantity: 3}, // resolve by slug
	))

	require.NoError(t, err)
	assert.Equal(t, money.Cents(1620), result.Subtotal)
	assert.Equal(t, money.Cents(0), result.Discount)
	assert.Equal(t, money.Cents(1620), result.Total)
	assert.True(t, result.PaymentRequired)
	assert.True(t, result.Created)

	require.Len(t, orders.lastOrder.Items, 2)
	assert.Equal(t, "Sourdough Loaf", orders.lastOrder.Items[0].Name)
	assert.Equal(t, "p2", orders.lastOrder.Items[1].ProductID)
}

func TestCheckout_ClientPriceNeverTrusted(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "banitsa", "Banitsa", "6.90"),
	}}
	orders := &mockOrderRepo{}
	svc := NewService(repo, &mockCouponValidator{}, orders, nil)

	result, err := svc.Checkout(context.Background(), checkoutReq(CheckoutItem{
		ProductRef:  "p1",
		Quantity:    2,
		ClientPrice: decimal.NewFromInt(1), // tampered
	}))

	require.NoError(t, err)
	assert.Equal(t, money.Cents(1380), result.Subtotal)
	assert.Equal(t, "13.80", result.Total.String())
	assert.True(t, decimal.RequireFromString("13.80").Equal(orders.lastOrder.TotalAmount))
}

func TestCheckout_WithCoupon(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
		bakeryProduct("p2", "croissant", "Butter Croissant", "5.00"),
	}}
	cv := &mockCouponValidator{application: &coupon.Application{
		Code: "SAVE10", Type: coupon.TypePercent,
		Value:    decimal.NewFromInt(10),
		Discount: 100,
	}}
	orders := &mockOrderRepo{}
	svc := NewService(repo, cv, orders, nil)

	req := checkoutReq(
		CheckoutItem{ProductRef: "p1", Quantity: 1},
		CheckoutItem{ProductRef: "p2", Quantity: 1},
	)
	req.CouponCode = "SAVE10"

	result, err := svc.Checkout(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, money.Cents(1000), cv.gotSubtotal)
	assert.Equal(t, money.Cents(100), result.Discount)
	assert.Equal(t, money.Cents(900), result.Total)

	// Allocation reconciles exactly across the lines.
	o := orders.lastOrder
	assert.Equal(t, "SAVE10", o.CouponCode)
	sumDiscount := decimal.Zero
	sumTotal := decimal.Zero
	for _, item := range o.Items {
		sumDiscount = sumDiscount.Add(item.Discount)
		sumTotal = sumTotal.Add(item.Total)
	}
	assert.True(t, sumDiscount.Equal(o.Discount), "line discounts %s != order discount %s", sumDiscount, o.Discount)
	assert.True(t, sumTotal.Equal(o.TotalAmount), "line totals %s != order total %s", sumTotal, o.TotalAmount)
}

func TestCheckout_CouponRejectionSurfacedVerbatim(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
	}}
	cv := &mockCouponValidator{err: coupon.ErrExpired}
	svc := NewService(repo, cv, &mockOrderRepo{}, nil)

	req := checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1})
	req.CouponCode = "OLD"

	_, err := svc.Checkout(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrExpired)
}

func TestCheckout_ZeroTotalSkipsPayment(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
	}}
	cv := &mockCouponValidator{application: &coupon.Application{
		Code: "FREEBIE", Type: coupon.TypePercent,
		Value:    decimal.NewFromInt(100),
		Discount: 500,
	}}
	svc := NewService(repo, cv, &mockOrderRepo{}, nil)

	req := checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1})
	req.CouponCode = "FREEBIE"

	result, err := svc.Checkout(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), result.Total)
	assert.False(t, result.PaymentRequired)
}

func TestCheckout_ResubmitSameReference(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
	}}
	orders := &mockOrderRepo{}
	svc := NewService(repo, &mockCouponValidator{}, orders, nil)

	req := checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1})

	first, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created, "retry must update, not create")
	assert.Equal(t, 2, orders.upserts)
	assert.Equal(t, first.Total, second.Total)
	assert.Len(t, orders.existing, 1)
}

func TestCheckout_UserIDTagged(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
	}}
	orders := &mockOrderRepo{}
	svc := NewService(repo, &mockCouponValidator{}, orders, nil)

	req := checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1})
	req.UserID = "user-42"

	_, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "user-42", orders.lastOrder.Metadata["user_id"])
}

func TestCheckout_MirrorFailureSwallowed(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
	}}
	mirror := &mockMirror{err: errors.New("fiscal db unavailable")}
	svc := NewService(repo, &mockCouponValidator{}, &mockOrderRepo{}, mirror)

	result, err := svc.Checkout(context.Background(), checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1}))

	require.NoError(t, err, "mirror failure must not fail checkout")
	require.NotNil(t, result)
	assert.Equal(t, 1, mirror.calls)
}

func TestCheckout_UpsertErrorPropagates(t *testing.T) {
	repo := &mockProductRepo{products: []product.Product{
		bakeryProduct("p1", "sourdough", "Sourdough Loaf", "5.00"),
	}}
	orders := &mockOrderRepo{err: errors.New("db write failed")}
	mirror := &mockMirror{}
	svc := NewService(repo, &mockCouponValidator{}, orders, mirror)

	_, err := svc.Checkout(context.Background(), checkoutReq(CheckoutItem{ProductRef: "p1", Quantity: 1}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert order")
	assert.Zero(t, mirror.calls, "mirror must not run when the primary write fails")
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenlab/bakeshop/internal/domain/auth"
	"github.com/ovenlab/bakeshop/internal/domain/coupon"
	"github.com/ovenlab/bakeshop/internal/domain/order"
	"github.com/ovenlab/bakeshop/internal/domain/product"
	"github.com/ovenlab/bakeshop/internal/notify"
	"github.com/ovenlab/bakeshop/internal/payment"
)

type mockProducts struct {
	items []product.Product
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) { return m.items, nil }

func (m *mockProducts) GetByRef(_ context.Context, ref string) (*product.Product, error) {
	for _, p := range m.items {
		if p.ID == ref || p.Slug == ref {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProducts) GetByRefs(_ context.Context, refs []string) ([]product.Product, error) {
	var out []product.Product
	for _, ref := range refs {
		if p, err := m.GetByRef(context.Background(), ref); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	coupons map[string]*coupon.Coupon
}

func (m *mockCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	if c, ok := m.coupons[strings.ToUpper(code)]; ok {
		return c, nil
	}
	return nil, coupon.ErrNotFound
}

func (m *mockCoupons) List(context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCoupons) Upsert(_ context.Context, c *coupon.Coupon) error {
	m.coupons[strings.ToUpper(c.Code)] = c
	return nil
}

func (m *mockCoupons) Delete(_ context.Context, code string) error {
	if _, ok := m.coupons[strings.ToUpper(code)]; !ok {
		return coupon.ErrNotFound
	}
	delete(m.coupons, strings.ToUpper(code))
	return nil
}

type mockOrders struct {
	byRef   map[string]*order.Order
	upserts int
}

func newMockOrders() *mockOrders {
	return &mockOrders{byRef: map[string]*order.Order{}}
}

func (m *mockOrders) GetByReference(_ context.Context, ref string) (*order.Order, error) {
	if o, ok := m.byRef[ref]; ok {
		return o, nil
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) List(context.Context, int, int) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.byRef {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockOrders) Upsert(_ context.Context, o *order.Order, _ string) (bool, error) {
	m.upserts++
	existing, ok := m.byRef[o.Reference]
	if ok {
		o.ID = existing.ID
		o.Status = order.ResubmitStatus(existing.Status)
		m.byRef[o.Reference] = o
		return false, nil
	}
	o.Status = order.StatusPending
	m.byRef[o.Reference] = o
	return true, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, ref string, next order.Status, _ string, _ map[string]any) (*order.StatusChange, error) {
	o, ok := m.byRef[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	change := &order.StatusChange{Previous: o.Status, Current: o.Status}
	if next == o.Status || order.Downgrades(o.Status, next) {
		return change, nil
	}
	o.Status = next
	change.Changed = true
	change.Current = next
	return change, nil
}

func (m *mockOrders) UpdateFields(_ context.Context, id string, upd order.AdminUpdate, _ string) error {
	for _, o := range m.byRef {
		if o.ID == id {
			if upd.CustomerName != nil {
				o.CustomerName = *upd.CustomerName
			}
			if upd.Status != nil {
				o.Status = *upd.Status
			}
			return nil
		}
	}
	return order.ErrNotFound
}

func (m *mockOrders) MarkCancelled(_ context.Context, ref, _, _ string) error {
	o, ok := m.byRef[ref]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = order.StatusCancelled
	return nil
}

func (m *mockOrders) AuditTrail(context.Context, string) ([]order.AuditEntry, error) {
	return nil, nil
}

type mockKeys struct {
	info *auth.APIKeyInfo
}

func (m *mockKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if m.info != nil && m.info.KeyHash == hash {
		return m.info, nil
	}
	return nil, auth.ErrKeyNotFound
}

type mockMailer struct {
	sent []notify.Message
}

func (m *mockMailer) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

const testPepper = "pepper-1"

func newTestHandler(t *testing.T) (*Handler, *mockOrders, *mockMailer) {
	t.Helper()

	products := &mockProducts{items: []product.Product{
		{ID: "p-1", Slug: "sourdough-loaf", Name: "Sourdough Loaf", Price: dec("4.80"), TaxGroup: "B", Active: true},
		{ID: "p-2", Slug: "butter-croissant", Name: "Butter Croissant", Price: dec("2.20"), TaxGroup: "B", Active: true},
	}}
	coupons := &mockCoupons{coupons: map[string]*coupon.Coupon{
		"FULLHOUSE": {Code: "FULLHOUSE", Type: coupon.TypePercent, Value: dec("100"), Active: true},
	}}
	orders := newMockOrders()
	mailer := &mockMailer{}

	gateway := payment.New(payment.Config{
		Endpoint:   "https://pay.example.com/checkout",
		MerchantID: "MIN1",
		Secret:     []byte("secret"),
		SuccessURL: "https://bakeshop.example.com/payment/return",
		CancelURL:  "https://bakeshop.example.com/payment/cancel",
	})

	keyHash := auth.HashKey([]byte(testPepper), "admin-key")
	keys := &mockKeys{info: &auth.APIKeyInfo{ID: "k-1", KeyHash: keyHash, Name: "ops"}}

	svc := order.NewService(products, coupon.NewValidator(coupons), orders, nil)
	h := New(
		Config{SuccessRedirect: "https://bakeshop.example.com/thanks", APIKeyPepper: []byte(testPepper)},
		products, coupons, svc, orders, gateway, notify.NewNotifier(mailer, ""), nil, keys,
	)
	return h, orders, mailer
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Routes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestCheckout_ReturnsSignedForm(t *testing.T) {
	h, orders, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{
		"reference": "ord-1",
		"customer_name": "Mila Petrova",
		"customer_email": "mila@example.com",
		"items": [
			{"product_id": "sourdough-loaf", "quantity": 2},
			{"product_id": "p-2", "quantity": 3}
		]
	}`))
	w := serve(h, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["payment_required"])
	assert.Equal(t, "ord-1", body["reference"])
	assert.Equal(t, "16.20", body["total"])

	form := body["form"].(map[string]any)
	assert.Equal(t, "https://pay.example.com/checkout", form["endpoint"])
	fields := form["fields"].(map[string]any)
	assert.Equal(t, "paylogin", fields["PAGE"])
	assert.NotEmpty(t, fields["ENCODED"])
	assert.NotEmpty(t, fields["CHECKSUM"])

	require.Contains(t, orders.byRef, "ord-1")
	assert.Equal(t, order.StatusPending, orders.byRef["ord-1"].Status)
}

func TestCheckout_NumericPricesDecodeAsCents(t *testing.T) {
	h, orders, _ := newTestHandler(t)

	// Storefront clients send prices and totals as bare JSON numbers; they
	// must land on exact cents, not binary-float noise.
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{
		"reference": "ord-num",
		"total": 16.2,
		"items": [
			{"product_id": "p-1", "quantity": 2, "price": 4.8},
			{"product_id": "p-2", "quantity": 3, "price": 2.2}
		]
	}`))
	w := serve(h, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "16.20", body["total"])
	require.Contains(t, orders.byRef, "ord-num")
}

func TestCheckout_ZeroTotalSkipsGateway(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{
		"reference": "ord-2",
		"coupon_code": "FULLHOUSE",
		"items": [{"product_id": "p-1", "quantity": 1}]
	}`))
	w := serve(h, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["payment_required"])
	assert.Equal(t, "0.00", body["total"])
	assert.NotContains(t, body, "form")
}

func TestCheckout_UnknownProduct(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{
		"reference": "ord-3",
		"items": [{"product_id": "focaccia", "quantity": 1}]
	}`))
	w := serve(h, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["message"], "focaccia")
}

func TestCheckout_MalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"items": [`))
	w := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout_CouponRejectionVerbatim(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{
		"reference": "ord-4",
		"coupon_code": "NOPE",
		"items": [{"product_id": "p-1", "quantity": 1}]
	}`))
	w := serve(h, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "coupon not found", body["message"])
}

func TestPaymentReturn_MarksPaidOnce(t *testing.T) {
	h, orders, mailer := newTestHandler(t)
	orders.byRef["ord-5"] = &order.Order{
		ID: "id-5", Reference: "ord-5", Status: order.StatusPending,
		CustomerEmail: "mila@example.com", CustomerName: "Mila",
		TotalAmount: dec("9.60"),
	}

	w := serve(h, httptest.NewRequest(http.MethodGet, "/payment/return?INVOICE=ord-5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "https://bakeshop.example.com/thanks")

	assert.Equal(t, order.StatusPaid, orders.byRef["ord-5"].Status)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Your order ord-5 is paid", mailer.sent[0].Subject)

	// Gateway retry: still 200, no duplicate email.
	w = serve(h, httptest.NewRequest(http.MethodGet, "/payment/return?invoice=ord-5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, mailer.sent, 1)
}

func TestPaymentReturn_UnknownReferenceStill200(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/payment/return?INVOICE=missing", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "thanks")
}

func TestPaymentNotify_FailureAlertsAdmin(t *testing.T) {
	h, orders, _ := newTestHandler(t)
	orders.byRef["ord-6"] = &order.Order{ID: "id-6", Reference: "ord-6", Status: order.StatusPending}

	req := httptest.NewRequest(http.MethodPost, "/payment/notify",
		strings.NewReader("INVOICE=ord-6&STATUS=DENIED"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := serve(h, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INVOICE=ord-6:OK", w.Body.String())
	assert.Equal(t, order.StatusFailed, orders.byRef["ord-6"].Status)
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.Header.Set("api_key", "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.Header.Set("api_key", "admin-key")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestAdmin_CouponLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/coupons", strings.NewReader(`{
		"code": "SPRING10",
		"type": "percentage",
		"value": 10,
		"min_order_amount": "50.00"
	}`))
	req.Header.Set("api_key", "admin-key")
	w := serve(h, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/coupons/SPRING10", nil)
	req.Header.Set("api_key", "admin-key")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/coupons/SPRING10", nil)
	req.Header.Set("api_key", "admin-key")
	assert.Equal(t, http.StatusNotFound, serve(h, req).Code)
}

func TestAdmin_CancelIsSoftDelete(t *testing.T) {
	h, orders, _ := newTestHandler(t)
	orders.byRef["ord-7"] = &order.Order{ID: "id-7", Reference: "ord-7", Status: order.StatusPending}

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/orders/ord-7?reason=test+bake", nil)
	req.Header.Set("api_key", "admin-key")
	w := serve(h, req)

	require.Equal(t, http.StatusOK, w.Code)
	// The row still exists, only the status changed.
	require.Contains(t, orders.byRef, "ord-7")
	assert.Equal(t, order.StatusCancelled, orders.byRef["ord-7"].Status)
}

func TestGetProduct_BySlug(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/products/butter-croissant", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "p-2", body["id"])
	assert.Equal(t, "2.20", body["price"])

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/products/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

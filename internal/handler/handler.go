// Package handler exposes the HTTP API: storefront catalog and checkout,
// payment gateway callbacks, and the API-key protected admin surface.
package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/ovenlab/bakeshop/internal/domain/auth"
	"github.com/ovenlab/bakeshop/internal/domain/coupon"
	"github.com/ovenlab/bakeshop/internal/domain/order"
	"github.com/ovenlab/bakeshop/internal/domain/product"
	"github.com/ovenlab/bakeshop/internal/fiscal"
	"github.com/ovenlab/bakeshop/internal/notify"
	"github.com/ovenlab/bakeshop/internal/payment"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// SuccessRedirect is where the payment return page sends the browser
	// after clearing the local cart.
	SuccessRedirect string
	// APIKeyPepper is the HMAC pepper for admin API key hashing.
	APIKeyPepper []byte
}

// Handler serves the HTTP API, delegating business logic to the domain
// services and repositories.
type Handler struct {
	cfg      Config
	products product.Repository
	coupons  coupon.Repository
	checkout *order.Service
	orders   order.Repository
	gateway  *payment.Gateway
	notifier *notify.Notifier
	fiscal   *fiscal.Service
	apikeys  auth.Repository
}

// New constructs a Handler. notifier and fiscalSvc may be nil to disable
// e-mail and the payment mirror respectively.
func New(
	cfg Config,
	products product.Repository,
	coupons coupon.Repository,
	checkoutSvc *order.Service,
	orders order.Repository,
	gateway *payment.Gateway,
	notifier *notify.Notifier,
	fiscalSvc *fiscal.Service,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		cfg:      cfg,
		products: products,
		coupons:  coupons,
		checkout: checkoutSvc,
		orders:   orders,
		gateway:  gateway,
		notifier: notifier,
		fiscal:   fiscalSvc,
		apikeys:  apikeys,
	}
}

// Routes registers all API routes on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{ref}", h.getProduct)
	mux.HandleFunc("POST /api/checkout", h.placeCheckout)
	mux.HandleFunc("GET /api/orders/{reference}", h.getOrder)

	mux.HandleFunc("GET /payment/return", h.paymentReturn)
	mux.HandleFunc("POST /payment/return", h.paymentReturn)
	mux.HandleFunc("POST /payment/notify", h.paymentNotify)

	mux.Handle("GET /api/admin/orders", h.requireAPIKey(h.adminListOrders))
	mux.Handle("GET /api/admin/orders/{reference}/audit", h.requireAPIKey(h.adminAuditTrail))
	mux.Handle("PATCH /api/admin/orders/{id}", h.requireAPIKey(h.adminUpdateOrder))
	mux.Handle("DELETE /api/admin/orders/{reference}", h.requireAPIKey(h.adminCancelOrder))
	mux.Handle("GET /api/admin/coupons", h.requireAPIKey(h.adminListCoupons))
	mux.Handle("POST /api/admin/coupons", h.requireAPIKey(h.adminUpsertCoupon))
	mux.Handle("DELETE /api/admin/coupons/{code}", h.requireAPIKey(h.adminDeleteCoupon))
}

// writeJSON encodes one JSON object built by fill.
func writeJSON(w http.ResponseWriter, status int, fill func(e *jx.Encoder)) {
	var e jx.Encoder
	fill(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError responds with the code+message error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

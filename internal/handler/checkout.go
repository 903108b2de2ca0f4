package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ovenlab/bakeshop/internal/domain/coupon"
	"github.com/ovenlab/bakeshop/internal/domain/money"
	"github.com/ovenlab/bakeshop/internal/domain/order"
	"github.com/ovenlab/bakeshop/internal/domain/product"
)

// placeCheckout runs the checkout pipeline and responds with either an
// immediate confirmation (zero total) or a signed payment-gateway form.
func (h *Handler) placeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeCheckoutRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = r.Header.Get("X-User-ID")

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("order.reference", req.Reference),
		attribute.Int("order.items", len(req.Items)),
		attribute.Bool("order.coupon", req.CouponCode != ""),
	)

	result, err := h.checkout.Checkout(ctx, *req)
	if err != nil {
		status, msg := mapCheckoutError(err)
		writeError(w, status, msg)
		return
	}

	if !result.PaymentRequired {
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("ok", func(e *jx.Encoder) { e.Bool(true) })
				e.Field("payment_required", func(e *jx.Encoder) { e.Bool(false) })
				e.Field("reference", func(e *jx.Encoder) { e.Str(result.Order.Reference) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(result.Order.Status)) })
				e.Field("total", func(e *jx.Encoder) { e.Str(result.Total.String()) })
			})
		})
		return
	}

	// With a coupon the form carries the amount only; cart detail would
	// trip the gateway's own total validation against the discounted amount.
	form, err := h.gateway.CheckoutForm(result.Order, result.Total, result.Discount == 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building payment form")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("ok", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("payment_required", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("reference", func(e *jx.Encoder) { e.Str(result.Order.Reference) })
			e.Field("total", func(e *jx.Encoder) { e.Str(result.Total.String()) })
			e.Field("form", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("endpoint", func(e *jx.Encoder) { e.Str(form.Endpoint) })
					e.Field("fields", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							for _, name := range []string{"PAGE", "ENCODED", "CHECKSUM", "URL_OK", "URL_CANCEL"} {
								if v, ok := form.Fields[name]; ok {
									e.Field(name, func(e *jx.Encoder) { e.Str(v) })
								}
							}
						})
					})
				})
			})
		})
	})
}

// getOrder returns a compact public view of an order by reference.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByReference(r.Context(), r.PathValue("reference"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "getting order")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("reference", func(e *jx.Encoder) { e.Str(o.Reference) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("total", func(e *jx.Encoder) { e.Str(o.TotalAmount.StringFixed(2)) })
			e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		})
	})
}

// decodeCheckoutRequest parses the checkout payload. Unknown keys are
// skipped so storefront clients can evolve independently.
func decodeCheckoutRequest(r *http.Request) (*order.CheckoutRequest, error) {
	var req order.CheckoutRequest

	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reference":
			v, err := d.Str()
			req.Reference = v
			return err
		case "customer_name":
			v, err := d.Str()
			req.CustomerName = v
			return err
		case "customer_email":
			v, err := d.Str()
			req.CustomerEmail = v
			return err
		case "customer_phone":
			v, err := d.Str()
			req.CustomerPhone = v
			return err
		case "delivery":
			v, err := d.Str()
			req.DeliveryLabel = v
			return err
		case "coupon_code":
			v, err := d.Str()
			req.CouponCode = v
			return err
		case "total":
			v, err := decodeDecimal(d)
			req.ClientTotal = v
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeCheckoutItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid checkout payload")
	}
	return &req, nil
}

func decodeCheckoutItem(d *jx.Decoder) (order.CheckoutItem, error) {
	var item order.CheckoutItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id", "product":
			v, err := d.Str()
			item.ProductRef = v
			return err
		case "quantity":
			v, err := d.Int()
			item.Quantity = v
			return err
		case "price":
			v, err := decodeDecimal(d)
			item.ClientPrice = v
			return err
		case "options":
			if item.Options == nil {
				item.Options = make(map[string]string)
			}
			return d.Obj(func(d *jx.Decoder, opt string) error {
				v, err := d.Str()
				item.Options[opt] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	return item, err
}

// decodeDecimal reads a JSON number (or numeric string) as a decimal. Bare
// numbers are floats on the wire, so they go through money.FromFloat to land
// on exact cents instead of carrying binary-float noise into the drift logs.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		f, err := d.Float64()
		if err != nil {
			return decimal.Zero, err
		}
		cents, err := money.FromFloat(f)
		if err != nil {
			return decimal.Zero, err
		}
		return cents.Decimal(), nil
	}
}

// mapCheckoutError maps pipeline failures onto responses. Everything the
// customer can fix is a 400 with the message verbatim; internal faults
// (allocation mismatch, storage errors) stay opaque 500s.
func mapCheckoutError(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrMissingReference),
		errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest, err.Error()
	}

	var iqErr *order.InvalidQuantityError
	if errors.As(err, &iqErr) {
		return http.StatusBadRequest, iqErr.Error()
	}
	var pnfErr *order.ProductNotFoundError
	if errors.As(err, &pnfErr) {
		return http.StatusBadRequest, pnfErr.Error()
	}
	if errors.Is(err, product.ErrNotFound) {
		return http.StatusBadRequest, "product not found"
	}

	for _, couponErr := range []error{
		coupon.ErrNotFound, coupon.ErrNotYetActive, coupon.ErrExpired,
		coupon.ErrInactive, coupon.ErrBelowMinimum, coupon.ErrExhausted,
		coupon.ErrInvalidType,
	} {
		if errors.Is(err, couponErr) {
			return http.StatusBadRequest, couponErr.Error()
		}
	}

	return http.StatusInternalServerError, "internal error"
}

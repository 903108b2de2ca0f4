package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/ovenlab/bakeshop/internal/domain/coupon"
	"github.com/ovenlab/bakeshop/internal/domain/order"
)

// adminListOrders returns orders newest first, paginated with limit/offset
// query parameters.
func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(r, "offset", 0)

	orders, err := h.orders.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing orders")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, o := range orders {
				encodeOrderSummary(e, o)
			}
		})
	})
}

// adminAuditTrail returns the append-only audit entries for an order.
func (h *Handler) adminAuditTrail(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByReference(r.Context(), r.PathValue("reference"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "getting order")
		return
	}

	entries, err := h.orders.AuditTrail(r.Context(), o.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading audit trail")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, entry := range entries {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Int64(entry.ID) })
					e.Field("action", func(e *jx.Encoder) { e.Str(string(entry.Action)) })
					e.Field("performed_by", func(e *jx.Encoder) { e.Str(entry.PerformedBy) })
					e.Field("created_at", func(e *jx.Encoder) { e.Str(entry.CreatedAt.UTC().Format(time.RFC3339)) })
					if len(entry.Previous) > 0 {
						e.Field("previous", func(e *jx.Encoder) { e.Raw(entry.Previous) })
					}
					if len(entry.Next) > 0 {
						e.Field("next", func(e *jx.Encoder) { e.Raw(entry.Next) })
					}
				})
			}
		})
	})
}

// adminUpdateOrder applies a partial update; only the supplied fields are
// touched. Status strings are validated before reaching the repository.
func (h *Handler) adminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	upd, err := decodeAdminUpdate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upd.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	err = h.orders.UpdateFields(r.Context(), r.PathValue("id"), *upd, performedBy(r.Context()))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "updating order")
		return
	}
	writeOK(w)
}

// adminCancelOrder soft-deletes: the order is marked CANCELLED and kept.
func (h *Handler) adminCancelOrder(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled via admin API"
	}

	err := h.orders.MarkCancelled(r.Context(), r.PathValue("reference"), performedBy(r.Context()), reason)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancelling order")
		return
	}
	writeOK(w)
}

// adminListCoupons returns all coupon rules.
func (h *Handler) adminListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing coupons")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, c := range coupons {
				encodeCoupon(e, c)
			}
		})
	})
}

// adminUpsertCoupon creates or replaces a coupon rule.
func (h *Handler) adminUpsertCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCoupon(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.Code == "" {
		writeError(w, http.StatusBadRequest, "coupon code required")
		return
	}
	typ, ok := coupon.NormalizeType(string(c.Type))
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported coupon discount type")
		return
	}
	c.Type = typ

	if err := h.coupons.Upsert(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "saving coupon")
		return
	}
	writeOK(w)
}

// adminDeleteCoupon removes a coupon rule by code.
func (h *Handler) adminDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	err := h.coupons.Delete(r.Context(), r.PathValue("code"))
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deleting coupon")
		return
	}
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("ok", func(e *jx.Encoder) { e.Bool(true) })
		})
	})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func encodeOrderSummary(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("reference", func(e *jx.Encoder) { e.Str(o.Reference) })
		e.Field("customer_name", func(e *jx.Encoder) { e.Str(o.CustomerName) })
		e.Field("customer_email", func(e *jx.Encoder) { e.Str(o.CustomerEmail) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.TotalAmount.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		if o.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("items", func(e *jx.Encoder) { e.Int(len(o.Items)) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

func encodeCoupon(e *jx.Encoder, c coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { e.Str(c.Value.String()) })
		e.Field("min_order_amount", func(e *jx.Encoder) { e.Str(c.MinOrderAmount.StringFixed(2)) })
		e.Field("max_discount_amount", func(e *jx.Encoder) { e.Str(c.MaxDiscountAmount.StringFixed(2)) })
		if c.ValidFrom != nil {
			e.Field("valid_from", func(e *jx.Encoder) { e.Str(c.ValidFrom.UTC().Format(time.RFC3339)) })
		}
		if c.ValidUntil != nil {
			e.Field("valid_until", func(e *jx.Encoder) { e.Str(c.ValidUntil.UTC().Format(time.RFC3339)) })
		}
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
		e.Field("max_redemptions", func(e *jx.Encoder) { e.Int(c.MaxRedemptions) })
		e.Field("times_redeemed", func(e *jx.Encoder) { e.Int(c.TimesRedeemed) })
	})
}

func decodeAdminUpdate(r *http.Request) (*order.AdminUpdate, error) {
	var upd order.AdminUpdate

	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_name":
			v, err := d.Str()
			upd.CustomerName = &v
			return err
		case "customer_email":
			v, err := d.Str()
			upd.CustomerEmail = &v
			return err
		case "customer_phone":
			v, err := d.Str()
			upd.CustomerPhone = &v
			return err
		case "delivery":
			v, err := d.Str()
			upd.DeliveryLabel = &v
			return err
		case "total":
			v, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			upd.TotalAmount = &v
			return nil
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			status, ok := order.ParseStatus(v)
			if !ok {
				return errors.Errorf("unknown status %q", v)
			}
			upd.Status = &status
			return nil
		case "metadata":
			if upd.Metadata == nil {
				upd.Metadata = make(map[string]any)
			}
			return d.Obj(func(d *jx.Decoder, mk string) error {
				raw, err := d.Raw()
				if err != nil {
					return err
				}
				var v any
				if err := json.Unmarshal(raw, &v); err != nil {
					return err
				}
				upd.Metadata[mk] = v
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid update payload")
	}
	return &upd, nil
}

func decodeCoupon(r *http.Request) (*coupon.Coupon, error) {
	var c coupon.Coupon
	c.Active = true

	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			c.Code = v
			return err
		case "type":
			v, err := d.Str()
			c.Type = coupon.Type(v)
			return err
		case "value":
			v, err := decodeDecimal(d)
			c.Value = v
			return err
		case "min_order_amount":
			v, err := decodeDecimal(d)
			c.MinOrderAmount = v
			return err
		case "max_discount_amount":
			v, err := decodeDecimal(d)
			c.MaxDiscountAmount = v
			return err
		case "valid_from":
			t, err := decodeTime(d)
			c.ValidFrom = t
			return err
		case "valid_until":
			t, err := decodeTime(d)
			c.ValidUntil = t
			return err
		case "active":
			v, err := d.Bool()
			c.Active = v
			return err
		case "max_redemptions":
			v, err := d.Int()
			c.MaxRedemptions = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid coupon payload")
	}
	return &c, nil
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid timestamp")
	}
	return &t, nil
}

package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ovenlab/bakeshop/internal/domain/order"
	"github.com/ovenlab/bakeshop/internal/payment"
)

// returnPage is served to the customer's browser after the gateway
// redirects back. It clears the locally stored cart and moves on; the page
// itself never reports failure, the order status does.
const returnPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Order received</title></head>
<body><p>Thank you! Redirecting&hellip;</p>
<script>
try { localStorage.removeItem("cart"); } catch (e) {}
window.location.replace(%q);
</script></body></html>`

// paymentReturn handles the browser redirect back from the gateway. The
// response is always 200 with the self-clearing page: callbacks are
// retried by gateways and customers refresh, so the handler must be
// idempotent and never scare the customer with an error page for a
// bookkeeping problem on our side.
func (h *Handler) paymentReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	values := callbackValues(r)
	ref := payment.ExtractReference(values)
	if ref == "" {
		lg.Warn("Payment return without reference", zap.String("query", r.URL.RawQuery))
		h.renderReturnPage(w)
		return
	}

	h.markPaid(r, ref)
	h.renderReturnPage(w)
}

// paymentNotify handles the gateway's server-to-server callback. The
// gateway retries until it sees the acknowledgement body.
func (h *Handler) paymentNotify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	values := callbackValues(r)
	ref := payment.ExtractReference(values)
	if ref == "" {
		lg.Warn("Payment notify without reference")
		fmt.Fprint(w, "ERR")
		return
	}

	status := strings.ToUpper(firstValue(values, "STATUS", "status"))
	switch status {
	case "DENIED", "FAILED", "EXPIRED":
		if _, err := h.orders.UpdateStatus(ctx, ref, order.StatusFailed, "gateway-notify", map[string]any{
			"payment_outcome": status,
		}); err != nil && !errors.Is(err, order.ErrNotFound) {
			lg.Error("Recording failed payment", zap.String("reference", ref), zap.Error(err))
		}
		if h.notifier != nil {
			h.notifier.AdminAlert(ctx, "Payment failed for "+ref, "Gateway reported "+status+" for order "+ref+".")
		}
	default:
		h.markPaid(r, ref)
	}

	fmt.Fprintf(w, "INVOICE=%s:OK", ref)
}

// markPaid transitions the order to PAID and fires the one-time
// notifications. Repeated callbacks hit the status_checked no-op branch
// and stay silent.
func (h *Handler) markPaid(r *http.Request, ref string) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	change, err := h.orders.UpdateStatus(ctx, ref, order.StatusPaid, "gateway-success", nil)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Payment callback for unknown order", zap.String("reference", ref))
		} else {
			lg.Error("Updating order status", zap.String("reference", ref), zap.Error(err))
		}
		return
	}
	if !change.Changed {
		return
	}

	o, err := h.orders.GetByReference(ctx, ref)
	if err != nil {
		lg.Error("Loading paid order", zap.String("reference", ref), zap.Error(err))
		return
	}

	if h.notifier != nil {
		h.notifier.StatusChanged(ctx, o, order.StatusPaid)
	}
	if h.fiscal != nil {
		if err := h.fiscal.MirrorPayment(ctx, ref, o); err != nil {
			lg.Error("Fiscal payment mirror failed", zap.String("reference", ref), zap.Error(err))
		}
	}
}

func (h *Handler) renderReturnPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, returnPage, h.cfg.SuccessRedirect)
}

// callbackValues merges query and form parameters; gateways use both.
func callbackValues(r *http.Request) url.Values {
	_ = r.ParseForm()
	values := url.Values{}
	for k, vs := range r.Form {
		values[k] = vs
	}
	return values
}

func firstValue(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := values.Get(key); v != "" {
			return v
		}
	}
	return ""
}

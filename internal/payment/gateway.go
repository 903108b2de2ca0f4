// Package payment builds the signed redirect form for the card-payment
// gateway and parses its return callbacks. The gateway itself is an external
// collaborator: this package only implements the documented form contract
// (base64 ENCODED payload plus an HMAC-SHA256 CHECKSUM over it).
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/ovenlab/bakeshop/internal/domain/money"
	"github.com/ovenlab/bakeshop/internal/domain/order"
)

// ErrInvalidAmount is returned when a form is requested for a non-positive
// amount; zero-total orders skip the gateway entirely.
var ErrInvalidAmount = errors.New("payment amount must be positive")

// Config holds the merchant-side gateway settings.
type Config struct {
	Endpoint   string
	MerchantID string
	Secret     []byte
	Currency   string
	SuccessURL string
	CancelURL  string
	// Expiry is how long the payment request stays valid at the gateway.
	Expiry time.Duration
}

// Form describes the synchronous POST redirect the browser must follow.
type Form struct {
	Endpoint string
	Fields   map[string]string
}

// Gateway builds and verifies signed gateway payloads.
type Gateway struct {
	cfg Config
	now func() time.Time
}

// New creates a Gateway. Currency defaults to EUR and Expiry to 24h.
func New(cfg Config) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = 24 * time.Hour
	}
	return &Gateway{cfg: cfg, now: time.Now}
}

// CheckoutForm builds the signed redirect form for an order. When
// includeCart is false (a coupon was applied), the payload carries the
// amount only: sending line-item detail would trip the gateway's own
// cart-total validation against the discounted amount.
func (g *Gateway) CheckoutForm(o *order.Order, amount money.Cents, includeCart bool) (*Form, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	lines := []string{
		"MIN=" + g.cfg.MerchantID,
		"INVOICE=" + o.Reference,
		"AMOUNT=" + amount.String(),
		"CURRENCY=" + g.cfg.Currency,
		"EXP_TIME=" + g.now().Add(g.cfg.Expiry).UTC().Format("02.01.2006 15:04:05"),
		"DESCR=" + describe(o, includeCart),
	}
	if o.CustomerEmail != "" {
		lines = append(lines, "EMAIL="+o.CustomerEmail)
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n")))

	return &Form{
		Endpoint: g.cfg.Endpoint,
		Fields: map[string]string{
			"PAGE":       "paylogin",
			"ENCODED":    encoded,
			"CHECKSUM":   g.Sign(encoded),
			"URL_OK":     g.cfg.SuccessURL,
			"URL_CANCEL": g.cfg.CancelURL,
		},
	}, nil
}

// Sign returns the hex HMAC-SHA256 of the payload under the merchant secret.
func (g *Gateway) Sign(payload string) string {
	mac := hmac.New(sha256.New, g.cfg.Secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a gateway-supplied checksum in constant time.
func (g *Gateway) Verify(payload, checksum string) bool {
	want, err := hex.DecodeString(g.Sign(payload))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(checksum)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// describe builds the DESCR field. Descriptions are truncated to the
// gateway's 100-character field limit on a rune boundary, so Cyrillic
// product names never produce a broken multi-byte sequence.
func describe(o *order.Order, includeCart bool) string {
	if !includeCart {
		return "Order " + o.Reference
	}

	parts := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	descr := strings.Join(parts, ", ")
	if runes := []rune(descr); len(runes) > 100 {
		descr = string(runes[:97]) + "..."
	}
	return descr
}

// referenceKeys lists the field names gateways have been observed to carry
// the order reference under, in lookup order.
var referenceKeys = []string{"INVOICE", "invoice", "reference", "ref", "order"}

// ExtractReference pulls the order reference out of return/notify values,
// tolerating the gateway-specific naming variance.
func ExtractReference(values url.Values) string {
	for _, key := range referenceKeys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Package fiscal mirrors orders into the normalized audit schema required
// for fiscal reporting (modeled on the Bulgarian NRA Ordinance N-18 layout:
// orders, order items, payments, shipments, sales documents). The mirror is
// a best-effort secondary projection: it runs in its own transaction after
// the primary order write has committed, and its failures are retried,
// logged and swallowed — never surfaced to checkout.
package fiscal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is the fiscal projection of an order root.
type OrderRecord struct {
	Reference     string
	CustomerName  string
	CustomerEmail string
	DeliveryLabel string
	PaymentMethod string
	Status        string
	Total         decimal.Decimal
	Discount      decimal.Decimal
}

// ItemRecord is one aggregated item row: quantities and amounts are summed
// per distinct (name, tax group) pair.
type ItemRecord struct {
	Name     string
	TaxGroup string
	Quantity int
	Amount   decimal.Decimal
}

// PaymentRecord registers a completed payment against an order reference.
type PaymentRecord struct {
	Reference string
	Method    string
	Amount    decimal.Decimal
	PaidAt    time.Time
}

// ShipmentRecord registers a carrier handover against an order reference.
type ShipmentRecord struct {
	Reference      string
	Carrier        string
	TrackingNumber string
	ShippedAt      time.Time
}

// SalesDocumentRecord registers an issued fiscal document (receipt, invoice,
// credit note) against an order reference.
type SalesDocumentRecord struct {
	Reference string
	Kind      string
	Number    string
	IssuedAt  time.Time
}

// Repository writes the fiscal projection. Each call runs in its own
// transaction, independent of the primary order transaction. UpsertOrder
// re-upserts the item set wholesale: rows for pairs absent from items are
// zeroed rather than deleted, so a concurrent mirror never destroys data.
type Repository interface {
	UpsertOrder(ctx context.Context, rec OrderRecord, items []ItemRecord) error
	RecordPayment(ctx context.Context, rec PaymentRecord) error
	RecordShipment(ctx context.Context, rec ShipmentRecord) error
	RecordSalesDocument(ctx context.Context, rec SalesDocumentRecord) error
}

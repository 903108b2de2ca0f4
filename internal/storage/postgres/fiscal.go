package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ovenlab/bakeshop/internal/fiscal"
)

const (
	upsertFiscalOrderSQL = `INSERT INTO fiscal_orders (reference, customer_name, customer_email,
			delivery_label, payment_method, status, total, discount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			customer_email = EXCLUDED.customer_email,
			delivery_label = EXCLUDED.delivery_label,
			payment_method = EXCLUDED.payment_method,
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			discount = EXCLUDED.discount,
			updated_at = now()`

	upsertFiscalItemSQL = `INSERT INTO fiscal_order_items (reference, name, tax_group, quantity, amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference, name, tax_group) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			amount = EXCLUDED.amount,
			updated_at = now()`

	// Rows for (name, tax_group) pairs absent from the current item set are
	// zeroed, not deleted, so a stale concurrent mirror cannot destroy data.
	// Matching on the pair matters: when an item's tax group changes between
	// mirror calls, the old pair's row must be zeroed or the product is
	// double-counted in the reports.
	zeroAbsentFiscalItemsSQL = `UPDATE fiscal_order_items SET quantity = 0, amount = 0, updated_at = now()
		WHERE reference = $1
			AND (name, tax_group) NOT IN (SELECT unnest($2::text[]), unnest($3::text[]))`

	insertFiscalPaymentSQL = `INSERT INTO fiscal_payments (reference, method, amount, paid_at)
		VALUES ($1, $2, $3, $4)`

	insertFiscalShipmentSQL = `INSERT INTO fiscal_shipments (reference, carrier, tracking_number, shipped_at)
		VALUES ($1, $2, $3, $4)`

	insertFiscalSalesDocumentSQL = `INSERT INTO fiscal_sales_documents (reference, kind, number, issued_at)
		VALUES ($1, $2, $3, $4)`
)

var _ fiscal.Repository = (*FiscalRepository)(nil)

// FiscalRepository implements fiscal.Repository backed by PostgreSQL. Its
// transactions are independent of the primary order transaction: a mirror
// failure never rolls back a committed order.
type FiscalRepository struct {
	pool *pgxpool.Pool
}

// NewFiscalRepository returns a FiscalRepository that uses the given pool.
func NewFiscalRepository(pool *pgxpool.Pool) *FiscalRepository {
	return &FiscalRepository{pool: pool}
}

// UpsertOrder writes the order root and re-upserts its aggregated item set
// wholesale, zeroing rows that dropped out of the set.
func (r *FiscalRepository) UpsertOrder(ctx context.Context, rec fiscal.OrderRecord, items []fiscal.ItemRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning fiscal upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, upsertFiscalOrderSQL,
		rec.Reference, rec.CustomerName, rec.CustomerEmail, rec.DeliveryLabel,
		rec.PaymentMethod, rec.Status, rec.Total, rec.Discount,
	)
	if err != nil {
		return fmt.Errorf("upserting fiscal order %q: %w", rec.Reference, err)
	}

	names := make([]string, 0, len(items))
	groups := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
		groups = append(groups, item.TaxGroup)
		_, err := tx.Exec(ctx, upsertFiscalItemSQL,
			rec.Reference, item.Name, item.TaxGroup, item.Quantity, item.Amount,
		)
		if err != nil {
			return fmt.Errorf("upserting fiscal item %q: %w", item.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, zeroAbsentFiscalItemsSQL, rec.Reference, names, groups); err != nil {
		return fmt.Errorf("zeroing absent fiscal items for %q: %w", rec.Reference, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing fiscal upsert: %w", err)
	}
	return nil
}

// RecordPayment appends a payment row for the reference.
func (r *FiscalRepository) RecordPayment(ctx context.Context, rec fiscal.PaymentRecord) error {
	_, err := r.pool.Exec(ctx, insertFiscalPaymentSQL, rec.Reference, rec.Method, rec.Amount, rec.PaidAt)
	if err != nil {
		return fmt.Errorf("recording fiscal payment for %q: %w", rec.Reference, err)
	}
	return nil
}

// RecordShipment appends a shipment row for the reference.
func (r *FiscalRepository) RecordShipment(ctx context.Context, rec fiscal.ShipmentRecord) error {
	_, err := r.pool.Exec(ctx, insertFiscalShipmentSQL, rec.Reference, rec.Carrier, rec.TrackingNumber, rec.ShippedAt)
	if err != nil {
		return fmt.Errorf("recording fiscal shipment for %q: %w", rec.Reference, err)
	}
	return nil
}

// RecordSalesDocument appends an issued-document row for the reference.
func (r *FiscalRepository) RecordSalesDocument(ctx context.Context, rec fiscal.SalesDocumentRecord) error {
	_, err := r.pool.Exec(ctx, insertFiscalSalesDocumentSQL, rec.Reference, rec.Kind, rec.Number, rec.IssuedAt)
	if err != nil {
		return fmt.Errorf("recording fiscal document for %q: %w", rec.Reference, err)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ovenlab/bakeshop/internal/domain/order"
)

const (
	orderColumns = `id, reference, customer_name, customer_email, customer_phone,
		delivery_label, items, coupon_code, discount, total, status, metadata,
		created_at, updated_at`

	getOrderByReferenceSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE reference = $1`

	lockOrderByReferenceSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE reference = $1 FOR UPDATE`

	lockOrderByIDSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE id = $1 FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	insertOrderSQL = `INSERT INTO orders (id, reference, customer_name, customer_email,
			customer_phone, delivery_label, items, coupon_code, discount, total, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	updateOrderSQL = `UPDATE orders SET customer_name = $2, customer_email = $3,
			customer_phone = $4, delivery_label = $5, items = $6, coupon_code = $7,
			discount = $8, total = $9, status = $10, metadata = $11, updated_at = now()
		WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, metadata = $3, updated_at = now()
		WHERE id = $1`

	insertAuditEntrySQL = `INSERT INTO order_audit_log (order_id, action, performed_by, previous, next)
		VALUES ($1, $2, $3, $4, $5)`

	auditTrailSQL = `SELECT id, order_id, action, performed_by, previous, next, created_at
		FROM order_audit_log WHERE order_id = $1 ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// mutation locks the order row, applies the change and appends an audit
// entry in one transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByReference returns the order for an external reference.
func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByReferenceSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", reference, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", reference, err)
	}
	return &o, nil
}

// List returns orders newest first.
func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Upsert creates or updates the order for its reference. New orders start at
// PENDING and redeem their coupon in the same transaction; re-submissions
// keep the existing id, creation time and a ResubmitStatus-derived status,
// so a paid order is never knocked back to PENDING by a duplicate checkout.
func (r *OrderRepository) Upsert(ctx context.Context, o *order.Order, performedBy string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := lockOrder(ctx, tx, lockOrderByReferenceSQL, o.Reference)
	if err != nil && !errors.Is(err, order.ErrNotFound) {
		return false, err
	}

	created := existing == nil
	if created {
		o.Status = order.StatusPending
		itemsJSON, metadataJSON, err := encodeOrderJSON(o)
		if err != nil {
			return false, err
		}

		_, err = tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Reference, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
			o.DeliveryLabel, itemsJSON, o.CouponCode, o.Discount, o.TotalAmount,
			string(o.Status), metadataJSON,
		)
		if err != nil {
			return false, fmt.Errorf("inserting order %q: %w", o.Reference, err)
		}

		if o.CouponCode != "" {
			if _, err := tx.Exec(ctx, incrementCouponRedemptionsSQL, o.CouponCode); err != nil {
				return false, fmt.Errorf("redeeming coupon %q: %w", o.CouponCode, err)
			}
		}

		next, err := snapshot(o)
		if err != nil {
			return false, err
		}
		if err := appendAudit(ctx, tx, o.ID, order.ActionOrderCreated, performedBy, nil, next); err != nil {
			return false, err
		}
	} else {
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
		o.Status = order.ResubmitStatus(existing.Status)

		itemsJSON, metadataJSON, err := encodeOrderJSON(o)
		if err != nil {
			return false, err
		}

		_, err = tx.Exec(ctx, updateOrderSQL,
			o.ID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
			o.DeliveryLabel, itemsJSON, o.CouponCode, o.Discount, o.TotalAmount,
			string(o.Status), metadataJSON,
		)
		if err != nil {
			return false, fmt.Errorf("updating order %q: %w", o.Reference, err)
		}

		prev, err := snapshot(existing)
		if err != nil {
			return false, err
		}
		next, err := snapshot(o)
		if err != nil {
			return false, err
		}
		if err := appendAudit(ctx, tx, o.ID, order.ActionOrderUpdated, performedBy, prev, next); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing upsert: %w", err)
	}
	return created, nil
}

// UpdateStatus transitions the order's status. A repeat of the current
// status or a downgrade of a finished order is recorded as status_checked
// and leaves the row untouched.
func (r *OrderRepository) UpdateStatus(ctx context.Context, reference string, next order.Status, performedBy string, extra map[string]any) (*order.StatusChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning status update: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, lockOrderByReferenceSQL, reference)
	if err != nil {
		return nil, err
	}

	change := &order.StatusChange{Previous: o.Status, Current: o.Status}

	if next == o.Status || order.Downgrades(o.Status, next) {
		note, err := json.Marshal(map[string]any{
			"requested_status": string(next),
			"extra":            extra,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding status check: %w", err)
		}
		if err := appendAudit(ctx, tx, o.ID, order.ActionStatusChecked, performedBy, nil, note); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing status check: %w", err)
		}
		return change, nil
	}

	prev, err := snapshot(o)
	if err != nil {
		return nil, err
	}

	if len(extra) > 0 {
		if o.Metadata == nil {
			o.Metadata = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			o.Metadata[k] = v
		}
	}
	o.Status = next

	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if _, err := tx.Exec(ctx, updateOrderStatusSQL, o.ID, string(next), metadataJSON); err != nil {
		return nil, fmt.Errorf("updating status of %q: %w", reference, err)
	}

	nextSnap, err := snapshot(o)
	if err != nil {
		return nil, err
	}
	if err := appendAudit(ctx, tx, o.ID, order.ActionStatusChanged, performedBy, prev, nextSnap); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing status update: %w", err)
	}

	change.Changed = true
	change.Current = next
	return change, nil
}

// UpdateFields applies an admin partial update by order id.
func (r *OrderRepository) UpdateFields(ctx context.Context, id string, upd order.AdminUpdate, performedBy string) error {
	if upd.Empty() {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning field update: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, lockOrderByIDSQL, id)
	if err != nil {
		return err
	}

	prev, err := snapshot(o)
	if err != nil {
		return err
	}

	if upd.CustomerName != nil {
		o.CustomerName = *upd.CustomerName
	}
	if upd.CustomerEmail != nil {
		o.CustomerEmail = *upd.CustomerEmail
	}
	if upd.CustomerPhone != nil {
		o.CustomerPhone = *upd.CustomerPhone
	}
	if upd.DeliveryLabel != nil {
		o.DeliveryLabel = *upd.DeliveryLabel
	}
	if upd.TotalAmount != nil {
		o.TotalAmount = *upd.TotalAmount
	}
	if upd.Status != nil && !order.Downgrades(o.Status, *upd.Status) {
		o.Status = *upd.Status
	}
	if upd.Metadata != nil {
		if o.Metadata == nil {
			o.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			o.Metadata[k] = v
		}
	}

	itemsJSON, metadataJSON, err := encodeOrderJSON(o)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, updateOrderSQL,
		o.ID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
		o.DeliveryLabel, itemsJSON, o.CouponCode, o.Discount, o.TotalAmount,
		string(o.Status), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}

	next, err := snapshot(o)
	if err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, o.ID, order.ActionAdminUpdated, performedBy, prev, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing field update: %w", err)
	}
	return nil
}

// MarkCancelled soft-deletes an order: status CANCELLED plus a cancellation
// record in metadata. Rows are never physically removed.
func (r *OrderRepository) MarkCancelled(ctx context.Context, reference, performedBy, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cancellation: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, lockOrderByReferenceSQL, reference)
	if err != nil {
		return err
	}

	prev, err := snapshot(o)
	if err != nil {
		return err
	}

	if o.Metadata == nil {
		o.Metadata = make(map[string]any, 1)
	}
	o.Metadata["cancellation"] = map[string]any{
		"reason":       reason,
		"cancelled_by": performedBy,
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	}
	o.Status = order.StatusCancelled

	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if _, err := tx.Exec(ctx, updateOrderStatusSQL, o.ID, string(o.Status), metadataJSON); err != nil {
		return fmt.Errorf("cancelling order %q: %w", reference, err)
	}

	next, err := snapshot(o)
	if err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, o.ID, order.ActionSoftCancelled, performedBy, prev, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cancellation: %w", err)
	}
	return nil
}

// AuditTrail returns the append-only audit entries for an order, oldest
// first.
func (r *OrderRepository) AuditTrail(ctx context.Context, orderID string) ([]order.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, auditTrailSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("reading audit trail for %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.AuditEntry, error) {
		var (
			e      order.AuditEntry
			action string
		)
		err := row.Scan(&e.ID, &e.OrderID, &action, &e.PerformedBy, &e.Previous, &e.Next, &e.CreatedAt)
		e.Action = order.AuditAction(action)
		return e, err
	})
}

// lockOrder selects and row-locks one order inside tx. Returns
// order.ErrNotFound when no row matches.
func lockOrder(ctx context.Context, tx pgx.Tx, query, arg string) (*order.Order, error) {
	rows, err := tx.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("locking order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", arg, err)
	}
	return &o, nil
}

func appendAudit(ctx context.Context, tx pgx.Tx, orderID string, action order.AuditAction, performedBy string, prev, next []byte) error {
	_, err := tx.Exec(ctx, insertAuditEntrySQL, orderID, string(action), performedBy, prev, next)
	if err != nil {
		return fmt.Errorf("appending audit entry %s: %w", action, err)
	}
	return nil
}

// orderSnapshot is the JSON shape stored in audit-log previous/next columns.
type orderSnapshot struct {
	ID            string           `json:"id"`
	Reference     string           `json:"reference"`
	CustomerName  string           `json:"customer_name,omitempty"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	CustomerPhone string           `json:"customer_phone,omitempty"`
	DeliveryLabel string           `json:"delivery_label,omitempty"`
	Items         []order.LineItem `json:"items"`
	CouponCode    string           `json:"coupon_code,omitempty"`
	Discount      string           `json:"discount"`
	Total         string           `json:"total"`
	Status        string           `json:"status"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

func snapshot(o *order.Order) ([]byte, error) {
	raw, err := json.Marshal(orderSnapshot{
		ID:            o.ID,
		Reference:     o.Reference,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		CustomerPhone: o.CustomerPhone,
		DeliveryLabel: o.DeliveryLabel,
		Items:         o.Items,
		CouponCode:    o.CouponCode,
		Discount:      o.Discount.StringFixed(2),
		Total:         o.TotalAmount.StringFixed(2),
		Status:        string(o.Status),
		Metadata:      o.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding order snapshot: %w", err)
	}
	return raw, nil
}

func encodeOrderJSON(o *order.Order) (items, metadata []byte, err error) {
	items, err = json.Marshal(o.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding order items: %w", err)
	}
	metadata, err = json.Marshal(o.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding order metadata: %w", err)
	}
	return items, metadata, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		status       string
		itemsJSON    []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.Reference, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&o.DeliveryLabel, &itemsJSON, &o.CouponCode, &o.Discount, &o.TotalAmount,
		&status, &metadataJSON, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return o, fmt.Errorf("decoding order items: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &o.Metadata); err != nil {
			return o, fmt.Errorf("decoding order metadata: %w", err)
		}
	}
	return o, nil
}

// Package order holds the checkout pricing core: order and audit entities,
// the status machine, proportional discount allocation, and the checkout
// orchestration service.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no order exists for a reference.
var ErrNotFound = errors.New("order not found")

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// ParseStatus maps external text onto a known Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusPaid, StatusFailed, StatusCancelled:
		return Status(s), true
	default:
		return "", false
	}
}

// Sticky reports whether the status marks a finished order that a late
// checkout re-submission or status callback must not downgrade.
func (s Status) Sticky() bool {
	return s == StatusPaid || s == StatusCompleted
}

// Downgrades reports whether applying next to an order currently in current
// would downgrade a finished order. Everything else is intentionally
// permitted so admins can correct wrongly-transitioned orders by hand.
func Downgrades(current, next Status) bool {
	return current.Sticky() && (next == StatusPending || next == StatusInProgress)
}

// ResubmitStatus returns the status an existing order keeps when the same
// reference is checked out again: finished orders stay finished, in-progress
// stays in progress, anything else falls back to PENDING.
func ResubmitStatus(current Status) Status {
	switch current {
	case StatusPaid, StatusCompleted, StatusInProgress:
		return current
	default:
		return StatusPending
	}
}

// LineItem is a priced order line. UnitPrice is the catalog price captured at
// checkout time; Discount is this line's share of the whole-order discount;
// Total is always Quantity*UnitPrice minus Discount, to the cent.
type LineItem struct {
	ProductID string            `json:"product_id"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice decimal.Decimal   `json:"price"`
	TaxGroup  string            `json:"tax_group,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
	Discount  decimal.Decimal   `json:"discount"`
	Total     decimal.Decimal   `json:"total"`
}

// Order is the root entity. Reference is the caller-supplied external
// identifier; re-submitting a checkout with the same reference updates the
// existing row instead of creating a duplicate.
type Order struct {
	ID            string
	Reference     string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	DeliveryLabel string
	Items         []LineItem
	CouponCode    string
	Discount      decimal.Decimal
	TotalAmount   decimal.Decimal
	Status        Status
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditAction tags an audit-log entry with the mutation that produced it.
type AuditAction string

const (
	ActionOrderCreated  AuditAction = "order_created"
	ActionOrderUpdated  AuditAction = "order_updated"
	ActionStatusChanged AuditAction = "status_changed"
	ActionStatusChecked AuditAction = "status_checked"
	ActionAdminUpdated  AuditAction = "order_updated_admin"
	ActionSoftCancelled AuditAction = "order_marked_cancelled_instead_of_delete"
)

// AuditEntry is one append-only audit-log row. Previous and Next carry JSON
// snapshots of the order around the mutation; entries are never updated or
// deleted.
type AuditEntry struct {
	ID          int64
	OrderID     string
	Action      AuditAction
	PerformedBy string
	Previous    []byte
	Next        []byte
	CreatedAt   time.Time
}

// StatusChange reports the outcome of a status update. Changed is false when
// the request was a no-op (already at the requested status, or a downgrade
// attempt against a finished order); callers use it to fire the
// status-change notification exactly once.
type StatusChange struct {
	Changed  bool
	Previous Status
	Current  Status
}

// AdminUpdate is a partial order update from the back office. Nil fields are
// left untouched; the repository builds the column list from what is set.
type AdminUpdate struct {
	CustomerName  *string
	CustomerEmail *string
	CustomerPhone *string
	DeliveryLabel *string
	TotalAmount   *decimal.Decimal
	Status        *Status
	Metadata      map[string]any
}

// Empty reports whether the update carries no fields at all.
func (u AdminUpdate) Empty() bool {
	return u.CustomerName == nil && u.CustomerEmail == nil && u.CustomerPhone == nil &&
		u.DeliveryLabel == nil && u.TotalAmount == nil && u.Status == nil && u.Metadata == nil
}

// Repository defines persistence for orders and their audit trail. Every
// mutating operation appends an audit entry within the same transaction as
// the order write.
type Repository interface {
	GetByReference(ctx context.Context, reference string) (*Order, error)
	List(ctx context.Context, limit, offset int) ([]Order, error)

	// Upsert creates the order for its reference, or updates the existing
	// row in place. On create the order starts at PENDING and, when a coupon
	// code is attached, the coupon's redemption counter is incremented in
	// the same transaction. On update the existing status is recomputed via
	// ResubmitStatus so finished orders are never downgraded.
	Upsert(ctx context.Context, o *Order, performedBy string) (created bool, err error)

	// UpdateStatus transitions the order's status, recording status_changed
	// on a real transition and status_checked on a no-op.
	UpdateStatus(ctx context.Context, reference string, next Status, performedBy string, extra map[string]any) (*StatusChange, error)

	// UpdateFields applies an admin partial update by order id.
	UpdateFields(ctx context.Context, id string, upd AdminUpdate, performedBy string) error

	// MarkCancelled soft-deletes: status CANCELLED plus a cancellation
	// record in metadata. Orders are never physically removed.
	MarkCancelled(ctx context.Context, reference, performedBy, reason string) error

	AuditTrail(ctx context.Context, orderID string) ([]AuditEntry, error)
}

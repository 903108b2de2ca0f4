package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item. Price is the authoritative unit price: checkout
// always re-reads it here and never trusts client-submitted values.
type Product struct {
	ID          string
	Slug        string
	Name        string
	Price       decimal.Decimal
	Category    string
	Description string
	TaxGroup    string
	Active      bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	// GetByRef resolves a product by id or slug, whichever matches.
	GetByRef(ctx context.Context, ref string) (*Product, error)
	// GetByRefs resolves a batch of id-or-slug references in one query.
	GetByRefs(ctx context.Context, refs []string) ([]Product, error)
}

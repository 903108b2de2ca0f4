package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ovenlab/bakeshop/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, slug, name, price, category, description, tax_group, active
		FROM products WHERE active = TRUE ORDER BY category, name`

	getProductByRefSQL = `SELECT id, slug, name, price, category, description, tax_group, active
		FROM products WHERE (id = $1 OR slug = $1) AND active = TRUE`

	getProductsByRefsSQL = `SELECT id, slug, name, price, category, description, tax_group, active
		FROM products WHERE (id = ANY($1) OR slug = ANY($1)) AND active = TRUE`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active catalog products grouped by category.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByRef resolves a single active product by id or slug.
func (r *ProductRepository) GetByRef(ctx context.Context, ref string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByRefSQL, ref)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", ref, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", ref, err)
	}
	return &p, nil
}

// GetByRefs resolves a batch of id-or-slug references in one query. Unknown
// references are simply absent from the result; the caller decides whether
// that is an error.
func (r *ProductRepository) GetByRefs(ctx context.Context, refs []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByRefsSQL, refs)
	if err != nil {
		return nil, fmt.Errorf("getting products by refs: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &price,
		&p.Category, &p.Description, &p.TaxGroup, &p.Active,
	)
	p.Price = price
	return p, err
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/woolpilot/wool-pilot/internal/models"
	"github.com/woolpilot/wool-pilot/internal/storage"
)

// ProductRepo persists scraped products in Postgres. Upserts are keyed
// on the product name, so re-scraping a term replaces records instead
// of duplicating them.
type ProductRepo struct {
	db *DB
}

func NewProductRepo(db *DB) *ProductRepo {
	return &ProductRepo{db: db}
}

func (r *ProductRepo) Upsert(ctx context.Context, p *models.Product) error {
	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	query := `
		INSERT INTO products (
			site_id, url, name, price_amount, price_currency,
			composition, needle_size, availability, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (name) DO UPDATE SET
			site_id = EXCLUDED.site_id,
			url = EXCLUDED.url,
			price_amount = EXCLUDED.price_amount,
			price_currency = EXCLUDED.price_currency,
			composition = EXCLUDED.composition,
			needle_size = EXCLUDED.needle_size,
			availability = EXCLUDED.availability,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
		RETURNING name`

	var name string
	err := r.db.pool.QueryRow(ctx, query,
		p.Meta.ID, p.Meta.URL, p.Name, p.Price.Amount, p.Price.Currency,
		p.Composition, p.NeedleSize, p.Availability, scrapedAt,
	).Scan(&name)

	if err != nil {
		return fmt.Errorf("failed to upsert product %q: %w", p.Name, err)
	}

	return nil
}

const productColumns = `site_id, url, name, price_amount, price_currency, composition, needle_size, availability, scraped_at`

func (r *ProductRepo) FindAll(ctx context.Context) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY name ASC`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

func (r *ProductRepo) FindByID(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE site_id = $1 LIMIT 1`

	p, err := scanProduct(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product by id: %w", err)
	}

	return p, nil
}

func (r *ProductRepo) FindByName(ctx context.Context, name string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE LOWER(name) = LOWER($1) LIMIT 1`

	p, err := scanProduct(r.db.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product by name: %w", err)
	}

	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	err := row.Scan(
		&p.Meta.ID, &p.Meta.URL, &p.Name, &p.Price.Amount, &p.Price.Currency,
		&p.Composition, &p.NeedleSize, &p.Availability, &p.ScrapedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

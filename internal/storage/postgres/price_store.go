// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	sku  TEXT
)`,
	`CREATE TABLE IF NOT EXISTS competitors (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS price_records (
	id            BIGSERIAL PRIMARY KEY,
	product_id    BIGINT NOT NULL REFERENCES products(id),
	competitor_id BIGINT NOT NULL REFERENCES competitors(id),
	price         DOUBLE PRECISION NOT NULL CHECK (price >= 0),
	date          DATE NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS price_records_product_date_idx ON price_records (product_id, date)`,
}

// PriceStore implements tracker.Store on Postgres.
type PriceStore struct {
	pool pool
}

// NewPriceStore connects a pgx pool using cfg.
func NewPriceStore(ctx context.Context, cfg Config) (*PriceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PriceStore{pool: p}, nil
}

// NewPriceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPriceStoreWithPool(p pool) (*PriceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PriceStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *PriceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *PriceStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetProduct fetches a product by ID.
func (s *PriceStore) GetProduct(ctx context.Context, id int64) (tracker.Product, error) {
	var p tracker.Product
	err := s.pool.QueryRow(ctx, `SELECT id, name, COALESCE(sku, '') FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.SKU)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Product{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ListProducts returns all products ordered by ID.
func (s *PriceStore) ListProducts(ctx context.Context) ([]tracker.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, COALESCE(sku, '') FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []tracker.Product
	for rows.Next() {
		var p tracker.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// GetCompetitorByName looks up a competitor by its unique name.
func (s *PriceStore) GetCompetitorByName(ctx context.Context, name string) (tracker.Competitor, error) {
	var c tracker.Competitor
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM competitors WHERE name = $1`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Competitor{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Competitor{}, fmt.Errorf("get competitor %q: %w", name, err)
	}
	return c, nil
}

// EnsureCompetitor returns the named competitor, creating it if needed.
func (s *PriceStore) EnsureCompetitor(ctx context.Context, name string) (tracker.Competitor, error) {
	var c tracker.Competitor
	err := s.pool.QueryRow(ctx, `
INSERT INTO competitors (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name`, name).Scan(&c.ID, &c.Name)
	if err != nil {
		return tracker.Competitor{}, fmt.Errorf("ensure competitor %q: %w", name, err)
	}
	return c, nil
}

// InsertPriceObservation appends a price row. Foreign keys are enforced by
// the database.
func (s *PriceStore) InsertPriceObservation(
	ctx context.Context,
	obs tracker.PriceObservation,
) (tracker.PriceObservation, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO price_records (product_id, competitor_id, price, date)
VALUES ($1, $2, $3, $4)
RETURNING id`, obs.ProductID, obs.CompetitorID, obs.Price, obs.Date).Scan(&obs.ID)
	if err != nil {
		return tracker.PriceObservation{}, fmt.Errorf("insert price record: %w", err)
	}
	return obs, nil
}

// SetProductSKUIfEmpty records the SKU unless one is already set.
func (s *PriceStore) SetProductSKUIfEmpty(ctx context.Context, productID int64, sku string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET sku = $2 WHERE id = $1 AND (sku IS NULL OR sku = '')`, productID, sku)
	if err != nil {
		return false, fmt.Errorf("set product sku: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPriceObservations returns a product's price rows, oldest first.
func (s *PriceStore) ListPriceObservations(ctx context.Context, productID int64) ([]tracker.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, product_id, competitor_id, price, date
FROM price_records WHERE product_id = $1 ORDER BY date, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list price records: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.PriceObservation, 0)
	for rows.Next() {
		var obs tracker.PriceObservation
		if err := rows.Scan(&obs.ID, &obs.ProductID, &obs.CompetitorID, &obs.Price, &obs.Date); err != nil {
			return nil, fmt.Errorf("scan price record: %w", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list price records: %w", err)
	}
	return out, nil
}

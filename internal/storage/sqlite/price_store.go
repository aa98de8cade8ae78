// Package sqlite provides a single-file SQLite store for local deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

const dateLayout = "2006-01-02"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	sku  TEXT
)`,
	`CREATE TABLE IF NOT EXISTS competitors (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS price_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id    INTEGER NOT NULL REFERENCES products(id),
	competitor_id INTEGER NOT NULL REFERENCES competitors(id),
	price         REAL NOT NULL CHECK (price >= 0),
	date          TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS price_records_product_date_idx ON price_records (product_id, date)`,
}

// PriceStore implements tracker.Store on SQLite.
type PriceStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with foreign keys enforced.
func Open(path string) (*PriceStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store.sqlite.path is required")
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	return &PriceStore{db: db}, nil
}

// Close closes the database handle.
func (s *PriceStore) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *PriceStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetProduct fetches a product by ID.
func (s *PriceStore) GetProduct(ctx context.Context, id int64) (tracker.Product, error) {
	var p tracker.Product
	err := s.db.QueryRowContext(ctx, `SELECT id, name, COALESCE(sku, '') FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.SKU)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Product{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ListProducts returns all products ordered by ID.
func (s *PriceStore) ListProducts(ctx context.Context) ([]tracker.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE(sku, '') FROM products ORDER BY id`)
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
	return out, rows.Err()
}

// GetCompetitorByName looks up a competitor by its unique name.
func (s *PriceStore) GetCompetitorByName(ctx context.Context, name string) (tracker.Competitor, error) {
	var c tracker.Competitor
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM competitors WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Competitor{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Competitor{}, fmt.Errorf("get competitor %q: %w", name, err)
	}
	return c, nil
}

// EnsureCompetitor returns the named competitor, creating it if needed.
func (s *PriceStore) EnsureCompetitor(ctx context.Context, name string) (tracker.Competitor, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO competitors (name) VALUES (?)`, name); err != nil {
		return tracker.Competitor{}, fmt.Errorf("ensure competitor %q: %w", name, err)
	}
	return s.GetCompetitorByName(ctx, name)
}

// InsertPriceObservation appends a price row. Foreign keys are enforced by
// the database.
func (s *PriceStore) InsertPriceObservation(
	ctx context.Context,
	obs tracker.PriceObservation,
) (tracker.PriceObservation, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO price_records (product_id, competitor_id, price, date) VALUES (?, ?, ?, ?)`,
		obs.ProductID, obs.CompetitorID, obs.Price, obs.Date.Format(dateLayout))
	if err != nil {
		return tracker.PriceObservation{}, fmt.Errorf("insert price record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return tracker.PriceObservation{}, fmt.Errorf("insert price record: %w", err)
	}
	obs.ID = id
	return obs, nil
}

// SetProductSKUIfEmpty records the SKU unless one is already set.
func (s *PriceStore) SetProductSKUIfEmpty(ctx context.Context, productID int64, sku string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET sku = ? WHERE id = ? AND (sku IS NULL OR sku = '')`, sku, productID)
	if err != nil {
		return false, fmt.Errorf("set product sku: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set product sku: %w", err)
	}
	return n > 0, nil
}

// ListPriceObservations returns a product's price rows, oldest first.
func (s *PriceStore) ListPriceObservations(ctx context.Context, productID int64) ([]tracker.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, product_id, competitor_id, price, date
FROM price_records WHERE product_id = ? ORDER BY date, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list price records: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.PriceObservation, 0)
	for rows.Next() {
		var (
			obs tracker.PriceObservation
			day string
		)
		if err := rows.Scan(&obs.ID, &obs.ProductID, &obs.CompetitorID, &obs.Price, &day); err != nil {
			return nil, fmt.Errorf("scan price record: %w", err)
		}
		if obs.Date, err = time.Parse(dateLayout, day); err != nil {
			return nil, fmt.Errorf("parse price record date %q: %w", day, err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

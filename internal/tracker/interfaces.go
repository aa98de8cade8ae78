package tracker

import (
	"context"
	"io"
	"time"
)

// Browser opens isolated sessions against the competitor marketplace.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a single-owner browsing context. Sessions are never shared
// between acquisitions and must be closed by the caller.
type Session interface {
	// Locate searches for query and returns up to maxResults distinct
	// listing URLs in page order.
	Locate(ctx context.Context, query string, maxResults int) ([]string, error)
	// Extract loads a listing page and reads its offer data.
	Extract(ctx context.Context, listingURL string) (OfferRecord, error)
	Close() error
}

// ProductReader resolves catalog products.
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Store persists products, competitors and price observations.
type Store interface {
	ProductReader
	GetCompetitorByName(ctx context.Context, name string) (Competitor, error)
	EnsureCompetitor(ctx context.Context, name string) (Competitor, error)
	InsertPriceObservation(ctx context.Context, obs PriceObservation) (PriceObservation, error)
	// SetProductSKUIfEmpty writes sku only when the product has none yet and
	// reports whether a row changed.
	SetProductSKUIfEmpty(ctx context.Context, productID int64, sku string) (bool, error)
	ListPriceObservations(ctx context.Context, productID int64) ([]PriceObservation, error)
}

// TaskQueue is the FIFO of pending acquisitions.
type TaskQueue interface {
	Enqueue(ctx context.Context, task AcquisitionTask) error
	// Poll pops one task without waiting. ok is false when the queue is empty.
	Poll(ctx context.Context) (task AcquisitionTask, ok bool, err error)
}

// Archiver writes raw listing snapshots and returns a URI.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces correlation IDs.
type IDGenerator interface {
	NewID() (string, error)
}

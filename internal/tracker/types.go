package tracker

import "time"

// Product is a catalog item whose competitor price is tracked.
type Product struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// SKU is the competitor's identifier for the product. Empty until the
	// first successful extraction reports one.
	SKU string `json:"sku,omitempty"`
}

// Competitor is a marketplace that prices are observed on.
type Competitor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PriceObservation is one append-only price sample.
type PriceObservation struct {
	ID           int64     `json:"id"`
	ProductID    int64     `json:"product_id"`
	CompetitorID int64     `json:"competitor_id"`
	Price        float64   `json:"price"`
	Date         time.Time `json:"date"`
}

// OfferSource identifies which part of the page an offer was read from.
type OfferSource string

const (
	// OfferSourceStructured marks data read from a JSON-LD Product block.
	OfferSourceStructured OfferSource = "json-ld"
	// OfferSourceMarkup marks data scraped from visible DOM elements.
	OfferSourceMarkup OfferSource = "dom"
)

// OfferRecord is what an extractor could read from a listing page. Every
// field is optional.
type OfferRecord struct {
	URL         string      `json:"url"`
	SKU         string      `json:"sku,omitempty"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	PriceText   string      `json:"price_text,omitempty"`
	Currency    string      `json:"currency,omitempty"`
	Rating      *float64    `json:"rating,omitempty"`
	ReviewCount *int        `json:"review_count,omitempty"`
	Source      OfferSource `json:"source,omitempty"`
	// HTML is the page markup the record was parsed from.
	HTML []byte `json:"-"`
}

// HasPrice reports whether the page exposed any price text.
func (o OfferRecord) HasPrice() bool {
	return o.PriceText != ""
}

// AcquisitionTask asks the worker to acquire the price of one product.
type AcquisitionTask struct {
	ProductID  int64     `json:"product_id"`
	Attempt    int       `json:"attempt,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
}

// AcquisitionResult is one slot of a bulk acquisition run.
type AcquisitionResult struct {
	ProductID   int64             `json:"product_id"`
	Observation *PriceObservation `json:"observation,omitempty"`
	Err         error             `json:"-"`
}

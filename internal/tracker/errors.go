package tracker

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Acquisition failures. Each one is terminal for a single attempt.
var (
	ErrProductNotFound         = errors.New("product not found")
	ErrCompetitorNotConfigured = errors.New("competitor not configured")
	ErrNoListingFound          = errors.New("no listing found")
	ErrExtraction              = errors.New("listing extraction failed")
	ErrPriceFormat             = errors.New("unparseable price")
)

// Error kinds reported in logs, metrics and API responses.
const (
	KindProductNotFound         = "product_not_found"
	KindCompetitorNotConfigured = "competitor_not_configured"
	KindNoListing               = "no_listing"
	KindExtraction              = "extraction"
	KindPriceFormat             = "price_format"
	KindCanceled                = "canceled"
	KindInternal                = "internal"
)

// ErrorKind maps err to a stable label. A nil error maps to "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ErrCompetitorNotConfigured):
		return KindCompetitorNotConfigured
	case errors.Is(err, ErrNoListingFound):
		return KindNoListing
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrPriceFormat):
		return KindPriceFormat
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// PriceUnavailable reports whether err means the marketplace could not
// provide a usable price, as opposed to a catalog or infrastructure fault.
func PriceUnavailable(err error) bool {
	switch ErrorKind(err) {
	case KindNoListing, KindExtraction, KindPriceFormat:
		return true
	default:
		return false
	}
}

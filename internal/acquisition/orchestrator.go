// Package acquisition runs the end-to-end price acquisition for catalog
// products: locate a competitor listing, extract its offer, normalize the
// price and append an observation.
package acquisition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/metrics"
	"github.com/JakeFAU/pricespy/internal/price"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// EventPriceObserved is the type field of published observation events.
const EventPriceObserved = "price.observed"

// Config controls Orchestrator behavior.
type Config struct {
	// CompetitorName is the well-known name of the marketplace competitor row.
	CompetitorName string
	// MaxResults is how many search candidates the locator is asked for. Only
	// the first is used.
	MaxResults int
	// Location decides which calendar day an observation belongs to.
	Location       *time.Location
	SnapshotPrefix string
	Topic          string
}

// Orchestrator implements the acquisition pipeline. It is safe for
// concurrent use; every call opens its own browser session.
type Orchestrator struct {
	store     tracker.Store
	browser   tracker.Browser
	clock     tracker.Clock
	ids       tracker.IDGenerator
	archiver  tracker.Archiver
	hasher    tracker.Hasher
	publisher tracker.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. archiver, hasher and publisher may be nil,
// which disables snapshots and events respectively.
func New(
	store tracker.Store,
	browser tracker.Browser,
	clock tracker.Clock,
	ids tracker.IDGenerator,
	archiver tracker.Archiver,
	hasher tracker.Hasher,
	publisher tracker.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxResults < 1 {
		cfg.MaxResults = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "listings"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		browser:   browser,
		clock:     clock,
		ids:       ids,
		archiver:  archiver,
		hasher:    hasher,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("acquisition"),
	}
}

// AcquirePrice acquires today's competitor price for one product and stores
// it as a new observation. Failures carry one of the tracker sentinel errors.
func (o *Orchestrator) AcquirePrice(ctx context.Context, productID int64) (tracker.PriceObservation, error) {
	acquisitionID := o.newID()
	logger := o.logger.With(zap.Int64("product_id", productID), zap.String("acquisition_id", acquisitionID))
	started := o.clock.Now()

	obs, err := o.acquire(ctx, productID, acquisitionID, logger)
	metrics.ObserveStage("total", o.clock.Now().Sub(started))
	if err != nil {
		metrics.ObserveAcquisition(tracker.ErrorKind(err))
		return tracker.PriceObservation{}, err
	}
	metrics.ObserveAcquisition("success")
	return obs, nil
}

// AcquireAll runs AcquirePrice for every catalog product in catalog order.
// One product's failure is recorded in its slot and does not stop the batch.
// An error is returned only when the catalog itself cannot be listed or ctx
// ends; results gathered so far are returned with it.
func (o *Orchestrator) AcquireAll(ctx context.Context) ([]tracker.AcquisitionResult, error) {
	products, err := o.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	results := make([]tracker.AcquisitionResult, 0, len(products))
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		obs, err := o.AcquirePrice(ctx, p.ID)
		result := tracker.AcquisitionResult{ProductID: p.ID, Err: err}
		if err == nil {
			result.Observation = &obs
		}
		results = append(results, result)
	}
	o.logger.Info("bulk acquisition finished",
		zap.Int("products", len(products)),
		zap.Int("succeeded", countSucceeded(results)),
	)
	return results, nil
}

func (o *Orchestrator) acquire(
	ctx context.Context,
	productID int64,
	acquisitionID string,
	logger *zap.Logger,
) (tracker.PriceObservation, error) {
	product, err := o.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return tracker.PriceObservation{}, fmt.Errorf("%w: id %d", tracker.ErrProductNotFound, productID)
		}
		return tracker.PriceObservation{}, fmt.Errorf("get product: %w", err)
	}

	offer, err := o.browse(ctx, product, logger)
	if err != nil {
		return tracker.PriceObservation{}, err
	}
	if !offer.HasPrice() {
		return tracker.PriceObservation{}, fmt.Errorf("%w: no price on %s", tracker.ErrExtraction, offer.URL)
	}

	amount, err := price.Normalize(offer.PriceText)
	if err != nil {
		return tracker.PriceObservation{}, err
	}

	competitor, err := o.store.GetCompetitorByName(ctx, o.cfg.CompetitorName)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return tracker.PriceObservation{}, fmt.Errorf("%w: %q", tracker.ErrCompetitorNotConfigured, o.cfg.CompetitorName)
		}
		return tracker.PriceObservation{}, fmt.Errorf("get competitor: %w", err)
	}

	obs, err := o.store.InsertPriceObservation(ctx, tracker.PriceObservation{
		ProductID:    product.ID,
		CompetitorID: competitor.ID,
		Price:        amount,
		Date:         o.today(),
	})
	if err != nil {
		return tracker.PriceObservation{}, fmt.Errorf("insert price observation: %w", err)
	}

	if offer.SKU != "" && product.SKU == "" {
		updated, err := o.store.SetProductSKUIfEmpty(ctx, product.ID, offer.SKU)
		if err != nil {
			// The observation is already stored; a missed SKU is picked up next time.
			logger.Warn("set product sku failed", zap.String("sku", offer.SKU), zap.Error(err))
		} else if updated {
			logger.Info("product sku recorded", zap.String("sku", offer.SKU))
		}
	}

	snapshotURI := o.snapshot(ctx, offer, logger)
	o.publish(ctx, acquisitionID, product, competitor, obs, offer, snapshotURI, logger)

	logger.Info("price observation stored",
		zap.String("competitor", competitor.Name),
		zap.Float64("price", obs.Price),
		zap.String("currency", offer.Currency),
		zap.String("url", offer.URL),
		zap.String("source", string(offer.Source)),
	)
	return obs, nil
}

// browse locates and extracts the listing inside one session that is closed
// on every path.
func (o *Orchestrator) browse(ctx context.Context, product tracker.Product, logger *zap.Logger) (tracker.OfferRecord, error) {
	session, err := o.browser.Open(ctx)
	if err != nil {
		return tracker.OfferRecord{}, classify(ctx, tracker.ErrNoListingFound, "open browser session", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("close browser session", zap.Error(err))
		}
	}()

	started := o.clock.Now()
	candidates, err := session.Locate(ctx, product.Name, o.cfg.MaxResults)
	metrics.ObserveStage("locate", o.clock.Now().Sub(started))
	if err != nil {
		return tracker.OfferRecord{}, classify(ctx, tracker.ErrNoListingFound, "locate listing", err)
	}
	if len(candidates) == 0 {
		return tracker.OfferRecord{}, fmt.Errorf("%w: search %q returned nothing", tracker.ErrNoListingFound, product.Name)
	}
	listingURL := candidates[0]
	logger.Debug("listing located", zap.String("url", listingURL), zap.Int("candidates", len(candidates)))

	started = o.clock.Now()
	offer, err := session.Extract(ctx, listingURL)
	metrics.ObserveStage("extract", o.clock.Now().Sub(started))
	if err != nil {
		return tracker.OfferRecord{}, classify(ctx, tracker.ErrExtraction, "extract listing", err)
	}
	if offer.URL == "" {
		offer.URL = listingURL
	}
	return offer, nil
}

// classify tags a step failure with its sentinel. Cancellation of the
// caller's own context is reported as such rather than as a step failure.
func classify(ctx context.Context, sentinel error, step string, err error) error {
	if errors.Is(err, sentinel) {
		return fmt.Errorf("%s: %w", step, err)
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, step, err)
}

// today is the current calendar day in the configured location, as UTC
// midnight so every store persists the same date.
func (o *Orchestrator) today() time.Time {
	y, m, d := o.clock.Now().In(o.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (o *Orchestrator) snapshot(ctx context.Context, offer tracker.OfferRecord, logger *zap.Logger) string {
	if o.archiver == nil || o.hasher == nil || len(offer.HTML) == 0 {
		return ""
	}
	hash, err := o.hasher.Hash(offer.HTML)
	if err != nil {
		metrics.ObserveSnapshotFailure()
		logger.Warn("hash listing snapshot", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s.html", strings.Trim(o.cfg.SnapshotPrefix, "/"), o.today().Format(time.DateOnly), hash)
	uri, err := o.archiver.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(offer.HTML))
	if err != nil {
		metrics.ObserveSnapshotFailure()
		logger.Warn("archive listing snapshot", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) publish(
	ctx context.Context,
	acquisitionID string,
	product tracker.Product,
	competitor tracker.Competitor,
	obs tracker.PriceObservation,
	offer tracker.OfferRecord,
	snapshotURI string,
	logger *zap.Logger,
) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"type":           EventPriceObserved,
		"acquisition_id": acquisitionID,
		"observation_id": obs.ID,
		"product_id":     product.ID,
		"product_name":   product.Name,
		"competitor_id":  competitor.ID,
		"competitor":     competitor.Name,
		"price":          obs.Price,
		"currency":       offer.Currency,
		"date":           obs.Date.Format(time.DateOnly),
		"url":            offer.URL,
		"source":         string(offer.Source),
		"snapshot_uri":   snapshotURI,
		"timestamp":      o.clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		logger.Warn("publish observation event", zap.String("topic", o.cfg.Topic), zap.Error(err))
	}
}

func (o *Orchestrator) newID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("generate acquisition id", zap.Error(err))
		return ""
	}
	return id
}

func countSucceeded(results []tracker.AcquisitionResult) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

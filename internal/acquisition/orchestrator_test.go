package acquisition

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pubmemory "github.com/JakeFAU/pricespy/internal/publisher/memory"
	"github.com/JakeFAU/pricespy/internal/storage/memory"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

const listingURL = "https://site/listing/1"

func TestAcquirePriceStoresObservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStore(t, true)
	browser := &fakeBrowser{
		links: []string{listingURL, "https://site/listing/2"},
		offer: tracker.OfferRecord{PriceText: "1 299,90 ₽", SKU: "987", Currency: "RUB", HTML: []byte("<html/>")},
	}
	archive := memory.NewBlobStore()
	events := pubmemory.New()
	o := New(store, browser, fakeClock{}, fakeIDs{}, archive, fakeHasher{}, events, Config{
		CompetitorName: "Ozon",
		MaxResults:     3,
		Topic:          "prices",
	}, zap.NewNop())

	obs, err := o.AcquirePrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), obs.ProductID)
	assert.Equal(t, int64(7), obs.CompetitorID)
	assert.InDelta(t, 1299.90, obs.Price, 1e-9)
	assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), obs.Date)

	assert.Equal(t, []string{listingURL}, browser.extracted)
	assert.Equal(t, "Widget X", browser.query)
	assert.Equal(t, 3, browser.maxResults)
	assert.Equal(t, 1, browser.closed)

	product, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "987", product.SKU)

	_, ok := archive.Object("listings/2024-05-17/deadbeef.html")
	assert.True(t, ok)

	published := events.Topic("prices")
	require.Len(t, published, 1)
	event := published[0].(map[string]any)
	assert.Equal(t, EventPriceObserved, event["type"])
	assert.Equal(t, "acq-1", event["acquisition_id"])
	assert.Equal(t, "memory://listings/2024-05-17/deadbeef.html", event["snapshot_uri"])
}

func TestAcquirePriceNoListing(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{}
	o := New(store, browser, fakeClock{}, fakeIDs{}, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrNoListingFound)
	assert.Empty(t, browser.extracted)
	assert.Equal(t, 1, browser.closed)
	assertNoObservations(t, store)
}

func TestAcquirePriceLocateFailure(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{locateErr: context.DeadlineExceeded}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrNoListingFound)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, tracker.KindNoListing, tracker.ErrorKind(err))
	assert.Equal(t, 1, browser.closed)
}

func TestAcquirePriceOpenFailure(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{openErr: errors.New("chrome not found")}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrNoListingFound)
	assert.Zero(t, browser.closed)
}

func TestAcquirePriceMissingPrice(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{SKU: "987"}}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrExtraction)
	assertNoObservations(t, store)

	product, err := store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, product.SKU)
}

func TestAcquirePriceExtractFailure(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, extractErr: errors.New("navigation failed")}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrExtraction)
	assert.Equal(t, 1, browser.closed)
}

func TestAcquirePriceUnparseablePrice(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{PriceText: "по запросу"}}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrPriceFormat)
	assertNoObservations(t, store)
}

func TestAcquirePriceUnknownProduct(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{PriceText: "100"}}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 404)
	require.ErrorIs(t, err, tracker.ErrProductNotFound)
	assert.Zero(t, browser.opened)
	assertNoObservations(t, store)
}

func TestAcquirePriceCompetitorMissing(t *testing.T) {
	t.Parallel()

	store := newStore(t, false)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{PriceText: "100", SKU: "987"}}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	_, err := o.AcquirePrice(context.Background(), 1)
	require.ErrorIs(t, err, tracker.ErrCompetitorNotConfigured)
	assertNoObservations(t, store)

	product, err := store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, product.SKU)
}

func TestAcquirePriceRepeatedCallsAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{PriceText: "100", SKU: "first"}}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	const calls = 3
	ids := make(map[int64]struct{})
	for i := 0; i < calls; i++ {
		obs, err := o.AcquirePrice(ctx, 1)
		require.NoError(t, err)
		ids[obs.ID] = struct{}{}
		browser.offer.SKU = "changed"
	}
	assert.Len(t, ids, calls)

	all, err := store.ListPriceObservations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, calls)

	product, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", product.SKU)
}

func TestAcquirePriceSideEffectFailuresAreSoft(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{PriceText: "5", HTML: []byte("x")}}
	o := New(store, browser, fakeClock{}, nil, failingArchiver{}, fakeHasher{}, failingPublisher{},
		Config{CompetitorName: "Ozon", Topic: "prices"}, nil)

	obs, err := o.AcquirePrice(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, obs.Price, 1e-9)
}

func TestAcquirePriceUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{links: []string{listingURL}, offer: tracker.OfferRecord{PriceText: "5"}}
	clock := fakeClock{now: time.Date(2024, 5, 17, 22, 30, 0, 0, time.UTC)}
	o := New(store, browser, clock, nil, nil, nil, nil, Config{
		CompetitorName: "Ozon",
		Location:       time.FixedZone("MSK", 3*60*60),
	}, nil)

	obs, err := o.AcquirePrice(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC), obs.Date)
}

func TestAcquirePriceCanceled(t *testing.T) {
	t.Parallel()

	store := newStore(t, true)
	browser := &fakeBrowser{locateErr: context.Canceled}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.AcquirePrice(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, tracker.KindCanceled, tracker.ErrorKind(err))
}

func TestAcquireAllIsFailSoft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStore(t, true)
	_, err := store.AddProduct(tracker.Product{ID: 2, Name: "Missing Thing"})
	require.NoError(t, err)
	_, err = store.AddProduct(tracker.Product{ID: 3, Name: "Widget Z"})
	require.NoError(t, err)

	browser := &fakeBrowser{
		links:   []string{listingURL},
		offer:   tracker.OfferRecord{PriceText: "10,50"},
		noMatch: map[string]bool{"Missing Thing": true},
	}
	o := New(store, browser, fakeClock{}, nil, nil, nil, nil, Config{CompetitorName: "Ozon"}, nil)

	results, err := o.AcquireAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(1), results[0].ProductID)
	require.NoError(t, results[0].Err)
	assert.InDelta(t, 10.5, results[0].Observation.Price, 1e-9)

	assert.Equal(t, int64(2), results[1].ProductID)
	require.ErrorIs(t, results[1].Err, tracker.ErrNoListingFound)
	assert.Nil(t, results[1].Observation)

	assert.Equal(t, int64(3), results[2].ProductID)
	require.NoError(t, results[2].Err)
	assert.Equal(t, 3, browser.closed)
}

func newStore(t *testing.T, withCompetitor bool) *memory.PriceStore {
	t.Helper()
	store := memory.NewPriceStore()
	_, err := store.AddProduct(tracker.Product{ID: 1, Name: "Widget X"})
	require.NoError(t, err)
	if withCompetitor {
		store.AddCompetitor(tracker.Competitor{ID: 7, Name: "Ozon"})
	}
	return store
}

func assertNoObservations(t *testing.T, store *memory.PriceStore) {
	t.Helper()
	all, err := store.ListPriceObservations(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, all)
}

type fakeBrowser struct {
	mu         sync.Mutex
	links      []string
	noMatch    map[string]bool
	offer      tracker.OfferRecord
	openErr    error
	locateErr  error
	extractErr error

	opened     int
	closed     int
	query      string
	maxResults int
	extracted  []string
}

func (b *fakeBrowser) Open(context.Context) (tracker.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened++
	return &fakeSession{b: b}, nil
}

type fakeSession struct {
	b *fakeBrowser
}

func (s *fakeSession) Locate(_ context.Context, query string, maxResults int) ([]string, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.query = query
	s.b.maxResults = maxResults
	if s.b.locateErr != nil {
		return nil, s.b.locateErr
	}
	if s.b.noMatch[query] {
		return nil, nil
	}
	return s.b.links, nil
}

func (s *fakeSession) Extract(_ context.Context, url string) (tracker.OfferRecord, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.extracted = append(s.b.extracted, url)
	if s.b.extractErr != nil {
		return tracker.OfferRecord{}, s.b.extractErr
	}
	offer := s.b.offer
	offer.URL = url
	return offer, nil
}

func (s *fakeSession) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.closed++
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	if c.now.IsZero() {
		return time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	}
	return c.now
}

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) { return "acq-1", nil }

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "deadbeef", nil }

type failingArchiver struct{}

func (failingArchiver) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker down")
}

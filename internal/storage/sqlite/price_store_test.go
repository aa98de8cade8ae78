package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

func newTestStore(t *testing.T) *PriceStore {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	// migrations are idempotent
	require.NoError(t, store.Migrate(context.Background()))

	_, err = store.db.Exec(`INSERT INTO products (id, name) VALUES (1, 'Widget X'), (2, 'Widget Y')`)
	require.NoError(t, err)
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open("")
	require.Error(t, err)
}

func TestProducts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, tracker.Product{ID: 1, Name: "Widget X"}, p)

	_, err = store.GetProduct(ctx, 42)
	require.ErrorIs(t, err, tracker.ErrNotFound)

	all, err := store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSKUIsSetOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	changed, err := store.SetProductSKUIfEmpty(ctx, 1, "SKU-1")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.SetProductSKUIfEmpty(ctx, 1, "SKU-2")
	require.NoError(t, err)
	require.False(t, changed)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "SKU-1", p.SKU)
}

func TestCompetitors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetCompetitorByName(ctx, "Ozon")
	require.ErrorIs(t, err, tracker.ErrNotFound)

	first, err := store.EnsureCompetitor(ctx, "Ozon")
	require.NoError(t, err)
	second, err := store.EnsureCompetitor(ctx, "Ozon")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestObservations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	ozon, err := store.EnsureCompetitor(ctx, "Ozon")
	require.NoError(t, err)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.InsertPriceObservation(ctx, tracker.PriceObservation{
			ProductID: 1, CompetitorID: ozon.ID, Price: 1299.90, Date: day,
		})
		require.NoError(t, err)
	}

	rows, err := store.ListPriceObservations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, day, rows[0].Date)
	require.InDelta(t, 1299.90, rows[0].Price, 1e-9)

	none, err := store.ListPriceObservations(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestObservationForeignKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.InsertPriceObservation(ctx, tracker.PriceObservation{
		ProductID: 1, CompetitorID: 99, Price: 10, Date: time.Now(),
	})
	require.Error(t, err)
}

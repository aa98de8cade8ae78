package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

func newMockStore(t *testing.T) (*PriceStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPriceStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewPriceStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPriceStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewPriceStoreWithPool(nil)
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS competitors").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS price_records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sku"}).AddRow(int64(1), "Widget X", ""))

	p, err := store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, tracker.Product{ID: 1, Name: "Widget X"}, p)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name").WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetProduct(context.Background(), 9)
	require.ErrorIs(t, err, tracker.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sku"}).
			AddRow(int64(1), "Widget X", "SKU-1").
			AddRow(int64(2), "Widget Y", ""))

	products, err := store.ListProducts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []tracker.Product{{ID: 1, Name: "Widget X", SKU: "SKU-1"}, {ID: 2, Name: "Widget Y"}}, products)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompetitorByName(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name FROM competitors").
		WithArgs("Ozon").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int64(7), "Ozon"))
	mock.ExpectQuery("SELECT id, name FROM competitors").
		WithArgs("Wildberries").
		WillReturnError(pgx.ErrNoRows)

	c, err := store.GetCompetitorByName(context.Background(), "Ozon")
	require.NoError(t, err)
	require.Equal(t, tracker.Competitor{ID: 7, Name: "Ozon"}, c)

	_, err = store.GetCompetitorByName(context.Background(), "Wildberries")
	require.ErrorIs(t, err, tracker.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureCompetitor(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO competitors").
		WithArgs("Ozon").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int64(7), "Ozon"))

	c, err := store.EnsureCompetitor(context.Background(), "Ozon")
	require.NoError(t, err)
	require.Equal(t, int64(7), c.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPriceObservation(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO price_records").
		WithArgs(int64(1), int64(7), 1299.90, day).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	obs, err := store.InsertPriceObservation(context.Background(), tracker.PriceObservation{
		ProductID: 1, CompetitorID: 7, Price: 1299.90, Date: day,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), obs.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPriceObservationForeignKeyViolation(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO price_records").
		WithArgs(int64(1), int64(99), 10.0, day).
		WillReturnError(errors.New("violates foreign key constraint"))

	_, err := store.InsertPriceObservation(context.Background(), tracker.PriceObservation{
		ProductID: 1, CompetitorID: 99, Price: 10, Date: day,
	})
	require.ErrorContains(t, err, "insert price record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProductSKUIfEmpty(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE products SET sku").
		WithArgs(int64(1), "SKU-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE products SET sku").
		WithArgs(int64(1), "SKU-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := store.SetProductSKUIfEmpty(context.Background(), 1, "SKU-1")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.SetProductSKUIfEmpty(context.Background(), 1, "SKU-2")
	require.NoError(t, err)
	require.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPriceObservations(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, product_id, competitor_id, price, date").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "competitor_id", "price", "date"}).
			AddRow(int64(10), int64(1), int64(7), 1299.90, day).
			AddRow(int64(11), int64(1), int64(7), 1199.00, day))

	rows, err := store.ListPriceObservations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(11), rows[1].ID)
	require.Equal(t, day, rows[0].Date)
	require.NoError(t, mock.ExpectationsWereMet())
}

package market

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null"
)

var marketColumns = []string{
	"id", "name", "base", "quote", "exchange_id", "last", "bid", "ask", "open", "close",
	"high", "low", "volume", "updated",
}

func newMock(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestByExchangeForUpdate(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT "+selectColumns+" FROM markets WHERE exchange_id = $1 ORDER BY id FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(marketColumns).
			AddRow(1, "BTC-USD", "BTC", "USD", 3, 30000.0, 29990.0, 30010.0, 0.0, 0.0, 0.0, 0.0, 10.0, now).
			AddRow(2, "ETH-BTC", "ETH", "BTC", 3, 0.06, 0.059, 0.061, 0.0, 0.0, 0.0, 0.0, 100.0, now))

	out, err := r.ByExchangeForUpdate(context.Background(), r.db, 3)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "BTC-USD", out[0].Name)
	assert.Equal(t, 30000.0, out[0].Last)
	assert.Equal(t, int64(3), out[1].ExchangeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)
	now := time.Now()

	m := &Market{
		ID: 5, Name: "BTC-USD", Base: "BTC", Quote: "USD", ExchangeID: 3,
		Last: 31000, Bid: 30990, Ask: 31010, Volume: 12, Updated: now,
	}
	mock.ExpectExec("UPDATE markets SET name").
		WithArgs(int64(5), "BTC-USD", "BTC", "USD", 31000.0, 30990.0, 31010.0,
			0.0, 0.0, 0.0, 0.0, 12.0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.Update(context.Background(), r.db, m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)
	now := time.Now()

	m := &Market{
		Name: "ETH-USD", Base: "ETH", Quote: "USD", ExchangeID: 3,
		Last: 1800, Volume: 7, Updated: now,
	}
	mock.ExpectQuery("INSERT INTO markets .+ RETURNING id").
		WithArgs("ETH-USD", "ETH", "USD", int64(3), 1800.0, 0.0, 0.0, 0.0, 0.0,
			0.0, 0.0, 7.0, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	require.NoError(t, r.Insert(context.Background(), r.db, m))
	assert.Equal(t, int64(11), m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFiatQuoted(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT "+selectColumns+" FROM markets WHERE quote = ANY($1) ORDER BY name")).
		WithArgs(pq.Array([]string{"EUR", "USD"})).
		WillReturnRows(sqlmock.NewRows(marketColumns).
			AddRow(1, "BTC-USD", "BTC", "USD", 3, 30000.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 10.0, now))

	out, err := r.FiatQuoted(context.Background(), []string{"EUR", "USD"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "USD", out[0].Quote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStale(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)
	horizon := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM markets WHERE updated < $1")).
		WithArgs(horizon).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.DeleteStale(context.Background(), horizon)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM markets WHERE exchange_id = $1 AND (base ILIKE $2 OR quote ILIKE $2)")).
		WithArgs(int64(3), "%btc%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(
		" FROM markets WHERE exchange_id = $1 AND (base ILIKE $2 OR quote ILIKE $2) ORDER BY volume DESC LIMIT $3")).
		WithArgs(int64(3), "%btc%", 10).
		WillReturnRows(sqlmock.NewRows(marketColumns).
			AddRow(1, "BTC-USD", "BTC", "USD", 3, 30000.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 10.0, now).
			AddRow(2, "ETH-BTC", "ETH", "BTC", 3, 0.06, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 100.0, now))

	out, count, err := r.List(context.Background(), Filter{
		ExchangeID: null.Int64From(3),
		Search:     "btc",
		Ordering:   "-volume",
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.Len(t, out, 2)
	assert.Equal(t, "ETH-BTC", out[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

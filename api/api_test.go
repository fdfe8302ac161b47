package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/fiatprice"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/manager"
	"github.com/coinpulse/marketmanager/timeseries"
)

type fakeExchanges struct {
	rows       []exchange.Details
	total      int64
	err        error
	lastFilter exchange.Filter
	listCalls  int
}

func (f *fakeExchanges) One(_ context.Context, id int64) (*exchange.Details, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i], nil
		}
	}
	return nil, exchange.ErrExchangeNotFound
}

func (f *fakeExchanges) List(_ context.Context, flt exchange.Filter) ([]exchange.Details, int64, error) {
	f.listCalls++
	f.lastFilter = flt
	return f.rows, f.total, f.err
}

type fakeMarkets struct {
	rows       []market.Market
	total      int64
	err        error
	lastFilter market.Filter
}

func (f *fakeMarkets) List(_ context.Context, flt market.Filter) ([]market.Market, int64, error) {
	f.lastFilter = flt
	return f.rows, f.total, f.err
}

type fakeStatuses struct {
	statuses   map[int64]*exchangestatus.Status
	rows       []exchangestatus.Status
	total      int64
	err        error
	lastFilter exchangestatus.Filter
}

func (f *fakeStatuses) GetOrCreate(_ context.Context, exchangeID int64) (*exchangestatus.Status, error) {
	if st, ok := f.statuses[exchangeID]; ok {
		return st, nil
	}
	return &exchangestatus.Status{ExchangeID: exchangeID, Timeout: 300}, nil
}

func (f *fakeStatuses) List(_ context.Context, flt exchangestatus.Filter) ([]exchangestatus.Status, int64, error) {
	f.lastFilter = flt
	return f.rows, f.total, f.err
}

type fakeFiat struct {
	rows       []fiatprice.Price
	total      int64
	err        error
	lastFilter fiatprice.Filter
}

func (f *fakeFiat) List(_ context.Context, flt fiatprice.Filter) ([]fiatprice.Price, int64, error) {
	f.lastFilter = flt
	return f.rows, f.total, f.err
}

type fakeHistory struct {
	points    []timeseries.Point
	err       error
	lastQuery timeseries.Query
}

func (f *fakeHistory) QueryPairs(_ context.Context, q timeseries.Query) ([]timeseries.Point, error) {
	f.lastQuery = q
	return f.points, f.err
}

func (f *fakeHistory) QueryFiat(_ context.Context, q timeseries.Query) ([]timeseries.Point, error) {
	f.lastQuery = q
	return f.points, f.err
}

type enqueueCall struct {
	exchangeID int64
	runID      string
	timeout    time.Duration
}

type fakeQueue struct {
	calls []enqueueCall
	err   error
}

func (f *fakeQueue) EnqueueFetch(_ context.Context, exchangeID int64, runID string, timeout time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, enqueueCall{exchangeID, runID, timeout})
	return nil
}

type fakeDaemon struct {
	stats *manager.Stats
	err   error
}

func (f *fakeDaemon) Status(context.Context) (*manager.Stats, error) {
	return f.stats, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fixtures struct {
	exchanges *fakeExchanges
	markets   *fakeMarkets
	statuses  *fakeStatuses
	fiat      *fakeFiat
	history   *fakeHistory
	queue     *fakeQueue
	daemon    *fakeDaemon
	db        *fakePinger
	influx    *fakePinger
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *fixtures) {
	t.Helper()
	fx := &fixtures{
		exchanges: &fakeExchanges{},
		markets:   &fakeMarkets{},
		statuses:  &fakeStatuses{statuses: make(map[int64]*exchangestatus.Status)},
		fiat:      &fakeFiat{},
		history:   &fakeHistory{},
		queue:     &fakeQueue{},
		daemon:    &fakeDaemon{stats: &manager.Stats{Dispatched: 42}},
		db:        &fakePinger{},
		influx:    &fakePinger{},
	}
	cfg := Config{
		Exchanges:  fx.exchanges,
		Markets:    fx.markets,
		Statuses:   fx.statuses,
		FiatPrices: fx.fiat,
		History:    fx.history,
		Queue:      fx.queue,
		Daemon:     fx.daemon,
		DB:         fx.db,
		Timeseries: fx.influx,
		Log:        zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s, fx
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	return w
}

type envelope struct {
	Count    int64           `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  json.RawMessage `json:"results"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestNewServerRejectsMissingWiring(t *testing.T) {
	base := Config{
		Exchanges:  &fakeExchanges{},
		Markets:    &fakeMarkets{},
		Statuses:   &fakeStatuses{},
		FiatPrices: &fakeFiat{},
		Queue:      &fakeQueue{},
	}

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"exchanges", func(c *Config) { c.Exchanges = nil }, ErrNilExchangeStore},
		{"markets", func(c *Config) { c.Markets = nil }, ErrNilMarketStore},
		{"statuses", func(c *Config) { c.Statuses = nil }, ErrNilStatusStore},
		{"fiat", func(c *Config) { c.FiatPrices = nil }, ErrNilFiatStore},
		{"queue", func(c *Config) { c.Queue = nil }, ErrNilEnqueuer},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewServer(cfg)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := NewServer(base)
	assert.NoError(t, err)
}

func TestGetExchangesPagination(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.exchanges.rows = []exchange.Details{{ID: 1, Name: "kraken"}, {ID: 2, Name: "bitfinex"}}
	fx.exchanges.total = 450

	w := do(t, s, http.MethodGet, "/exchanges", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	env := decodeEnvelope(t, w)
	assert.Equal(t, int64(450), env.Count)
	require.NotNil(t, env.Next)
	assert.Equal(t, "/exchanges?limit=100&offset=100", *env.Next)
	assert.Nil(t, env.Previous)

	var rows []exchange.Details
	require.NoError(t, json.Unmarshal(env.Results, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "kraken", rows[0].Name)
}

func TestGetExchangesPaginationWindow(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.exchanges.total = 450

	w := do(t, s, http.MethodGet, "/exchanges?limit=100&offset=150", nil)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Next)
	assert.Equal(t, "/exchanges?limit=100&offset=250", *env.Next)
	require.NotNil(t, env.Previous)
	assert.Equal(t, "/exchanges?limit=100&offset=50", *env.Previous)

	assert.Equal(t, 100, fx.exchanges.lastFilter.Limit)
	assert.Equal(t, 150, fx.exchanges.lastFilter.Offset)
}

func TestGetExchangesClampsPageSize(t *testing.T) {
	s, fx := newTestServer(t, nil)

	do(t, s, http.MethodGet, "/exchanges?limit=9000", nil)
	assert.Equal(t, maxPageSize, fx.exchanges.lastFilter.Limit)

	do(t, s, http.MethodGet, "/exchanges?limit=bogus&offset=-3", nil)
	assert.Equal(t, defaultPageSize, fx.exchanges.lastFilter.Limit)
	assert.Equal(t, 0, fx.exchanges.lastFilter.Offset)
}

func TestGetExchangesFilterMapping(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/exchanges?name=kraken&enabled=true&volume__gte=5.5&volume__lte=100"+
		"&last_updated__gte=2026-01-02T00:00:00Z&interval=300&interval__lte=600&created__gte=2026-01-01&ordering=-volume", nil)

	require.Equal(t, http.StatusOK, w.Code)
	f := fx.exchanges.lastFilter
	assert.Equal(t, "kraken", f.Name)
	require.True(t, f.Enabled.Valid)
	assert.True(t, f.Enabled.Bool)
	require.True(t, f.VolumeGT.Valid)
	assert.Equal(t, 5.5, f.VolumeGT.Float64)
	require.True(t, f.VolumeLT.Valid)
	assert.Equal(t, float64(100), f.VolumeLT.Float64)
	require.True(t, f.LastFetchGT.Valid)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), f.LastFetchGT.Time)
	require.True(t, f.Interval.Valid)
	assert.Equal(t, int64(300), f.Interval.Int64)
	require.True(t, f.IntervalLT.Valid)
	assert.Equal(t, int64(600), f.IntervalLT.Int64)
	require.True(t, f.CreatedGT.Valid)
	assert.Equal(t, "-volume", f.Ordering)
}

func TestGetExchangesRejectsBadParams(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, target := range []string{
		"/exchanges?enabled=maybe",
		"/exchanges?volume__gte=lots",
		"/exchanges?last_updated__gte=yesterday",
		"/exchanges?interval=5m",
	} {
		w := do(t, s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Contains(t, w.Body.String(), "invalid value", target)
	}
}

func TestGetExchangesStorageError(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.exchanges.err = errors.New("connection refused")

	w := do(t, s, http.MethodGet, "/exchanges", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetExchangesEmptyResultsIsArray(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/exchanges", nil)

	assert.Contains(t, w.Body.String(), `"results":[]`)
}

func TestGetMarketsFilterMapping(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.markets.rows = []market.Market{{ID: 9, Name: "BTC-USD", Base: "BTC", Quote: "USD"}}
	fx.markets.total = 1

	w := do(t, s, http.MethodGet,
		"/markets?exchange=3&base=BTC&quote=USD&search=btc&volume__gte=1&last__lte=70000&bid__gte=0.5&ask__lte=2", nil)

	require.Equal(t, http.StatusOK, w.Code)
	f := fx.markets.lastFilter
	require.True(t, f.ExchangeID.Valid)
	assert.Equal(t, int64(3), f.ExchangeID.Int64)
	assert.Equal(t, "BTC", f.Base)
	assert.Equal(t, "USD", f.Quote)
	assert.Equal(t, "btc", f.Search)
	require.True(t, f.VolumeGT.Valid)
	require.True(t, f.LastLT.Valid)
	assert.Equal(t, float64(70000), f.LastLT.Float64)
	require.True(t, f.BidGT.Valid)
	require.True(t, f.AskLT.Valid)

	env := decodeEnvelope(t, w)
	assert.Equal(t, int64(1), env.Count)
	assert.Nil(t, env.Next)
}

func TestGetStatusesFilterMapping(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet,
		"/exchange_statuses?exchange=7&running=true&last_run__gte=2026-08-01&time_started__lte=2026-08-20T12:00:00Z", nil)

	require.Equal(t, http.StatusOK, w.Code)
	f := fx.statuses.lastFilter
	require.True(t, f.ExchangeID.Valid)
	assert.Equal(t, int64(7), f.ExchangeID.Int64)
	require.True(t, f.Running.Valid)
	assert.True(t, f.Running.Bool)
	require.True(t, f.LastRunGT.Valid)
	require.True(t, f.TimeStartedLT.Valid)
}

func TestGetFiatPricesFilterMapping(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/fiat_prices?currency=EUR&exchange=2&price__gte=0.5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	f := fx.fiat.lastFilter
	assert.Equal(t, "EUR", f.Currency)
	require.True(t, f.ExchangeID.Valid)
	require.True(t, f.PriceGT.Valid)
}

func TestHistoricalMarkets(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.history.points = []timeseries.Point{{
		Time:   time.Now(),
		Tags:   map[string]string{"base": "BTC", "quote": "USD"},
		Fields: map[string]float64{"last": 64000},
	}}

	w := do(t, s, http.MethodGet, "/historical/markets?base=btc&quote=usd&time_start=1h&time_end=30m&exchange_id=3", nil)

	require.Equal(t, http.StatusOK, w.Code)
	q := fx.history.lastQuery
	assert.Equal(t, "1h", q.Start)
	assert.Equal(t, "30m", q.Stop)
	assert.Equal(t, map[string]string{"base": "BTC", "quote": "USD", "exchange_id": "3"}, q.Tags)

	var points []timeseries.Point
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, float64(64000), points[0].Fields["last"])
}

func TestHistoricalMarketsValidation(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/historical/markets?quote=usd&time_start=1h", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/historical/markets?base=btc&quote=usd", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "time_start")

	w = do(t, s, http.MethodGet, "/historical/markets?base=btc&quote=usd&time_start=1h&exchange_id=three", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	fx.history.err = fmt.Errorf("%w: start \"never\"", timeseries.ErrBadTimeRange)
	w = do(t, s, http.MethodGet, "/historical/markets?base=btc&quote=usd&time_start=never", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	fx.history.err = errors.New("influx down")
	w = do(t, s, http.MethodGet, "/historical/markets?base=btc&quote=usd&time_start=1h", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoricalFiat(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/historical/fiat?currency=eur&time_start=7d", nil)

	require.Equal(t, http.StatusOK, w.Code)
	q := fx.history.lastQuery
	assert.Equal(t, "7d", q.Start)
	assert.Equal(t, map[string]string{"currency": "EUR"}, q.Tags)
	assert.Equal(t, "[]\n", w.Body.String())

	w = do(t, s, http.MethodGet, "/historical/fiat?time_start=7d", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "currency")
}

func TestHistoricalUnavailableWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config) { cfg.History = nil })

	w := do(t, s, http.MethodGet, "/historical/markets?base=btc&quote=usd&time_start=1h", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunExchange(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.exchanges.rows = []exchange.Details{{ID: 3, Name: "kraken", Enabled: true}}
	fx.statuses.statuses[3] = &exchangestatus.Status{ExchangeID: 3, Timeout: 120}

	w := do(t, s, http.MethodPost, "/run_exchange", []byte(`{"exchange_id":3}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.ExchangeID)
	assert.NotEmpty(t, resp.RunID)

	require.Len(t, fx.queue.calls, 1)
	assert.Equal(t, int64(3), fx.queue.calls[0].exchangeID)
	assert.Equal(t, resp.RunID, fx.queue.calls[0].runID)
	assert.Equal(t, 120*time.Second, fx.queue.calls[0].timeout)
}

func TestRunExchangeValidation(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.exchanges.rows = []exchange.Details{{ID: 3, Name: "kraken"}}

	w := do(t, s, http.MethodPost, "/run_exchange", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exchange_id required")

	w = do(t, s, http.MethodPost, "/run_exchange", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/run_exchange", []byte(`{"exchange_id":99}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, fx.queue.calls)
}

func TestRunExchangeEnqueueFailure(t *testing.T) {
	s, fx := newTestServer(t, nil)
	fx.exchanges.rows = []exchange.Details{{ID: 3, Name: "kraken"}}
	fx.queue.err = errors.New("redis down")

	w := do(t, s, http.MethodPost, "/run_exchange", []byte(`{"exchange_id":3}`))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDaemonStatus(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/daemon_status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dispatched_jobs":42`)

	fx.daemon.err = manager.ErrDaemonUnreachable
	w = do(t, s, http.MethodGet, "/daemon_status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDaemonStatusWithoutProbe(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config) { cfg.Daemon = nil })

	w := do(t, s, http.MethodGet, "/daemon_status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	s, fx := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "ok", report["database"])
	assert.Equal(t, "ok", report["timeseries"])

	fx.db.err = errors.New("no connection to database")
	w = do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestResponseCacheMissThenHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s, fx := newTestServer(t, func(cfg *Config) {
		cfg.Cache = client
		cfg.CacheTTL = time.Minute
	})
	fx.exchanges.total = 1
	fx.exchanges.rows = []exchange.Details{{ID: 1, Name: "kraken"}}

	key := cacheKeyPrefix + "/exchanges"
	mock.ExpectGet(key).RedisNil()
	mock.Regexp().ExpectSet(regexp.QuoteMeta(key), `(?s).*"name":"kraken".*`, time.Minute).SetVal("OK")

	w := do(t, s, http.MethodGet, "/exchanges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 1, fx.exchanges.listCalls)

	cached := w.Body.String()
	mock.ExpectGet(key).SetVal(cached)

	w = do(t, s, http.MethodGet, "/exchanges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, cached, w.Body.String())
	assert.Equal(t, 1, fx.exchanges.listCalls, "cache hit must not reach storage")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseCacheSkipsErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s, fx := newTestServer(t, func(cfg *Config) {
		cfg.Cache = client
		cfg.CacheTTL = time.Minute
	})
	fx.exchanges.err = errors.New("boom")

	mock.ExpectGet(cacheKeyPrefix + "/exchanges").RedisNil()

	w := do(t, s, http.MethodGet, "/exchanges", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// No Set expectation: a non-200 must not be stored.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseCacheDownDegradesGracefully(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s, fx := newTestServer(t, func(cfg *Config) {
		cfg.Cache = client
		cfg.CacheTTL = time.Minute
	})
	fx.exchanges.total = 1

	mock.ExpectGet(cacheKeyPrefix + "/exchanges").SetErr(errors.New("connection refused"))
	mock.Regexp().ExpectSet(regexp.QuoteMeta(cacheKeyPrefix+"/exchanges"), `(?s).*`, time.Minute).
		SetErr(errors.New("connection refused"))

	w := do(t, s, http.MethodGet, "/exchanges", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fx.exchanges.listCalls)
}

func TestResponseCacheInProcessFallback(t *testing.T) {
	s, fx := newTestServer(t, func(cfg *Config) {
		cfg.CacheTTL = time.Minute // no Redis client configured
	})
	fx.exchanges.total = 1
	fx.exchanges.rows = []exchange.Details{{ID: 1, Name: "kraken"}}

	w := do(t, s, http.MethodGet, "/exchanges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	first := w.Body.String()
	w = do(t, s, http.MethodGet, "/exchanges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, first, w.Body.String())
	assert.Equal(t, 1, fx.exchanges.listCalls, "cache hit must not reach storage")

	// Different query strings are distinct entries.
	w = do(t, s, http.MethodGet, "/exchanges?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, fx.exchanges.listCalls)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.set(ctx, "k", []byte("v"), 50*time.Millisecond))
	body, err := store.get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), body)

	time.Sleep(60 * time.Millisecond)
	_, err = store.get(ctx, "k")
	assert.ErrorIs(t, err, errCacheMiss)
}

func TestUncachedRoutesBypassCache(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s, _ := newTestServer(t, func(cfg *Config) {
		cfg.Cache = client
		cfg.CacheTTL = time.Minute
	})

	// No expectations registered: any Redis call would fail the test.
	w := do(t, s, http.MethodGet, "/daemon_status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServerLifecycle(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config) { cfg.ListenAddr = "127.0.0.1:0" })

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

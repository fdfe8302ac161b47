// Package api serves the read side over REST: paginated snapshot listings,
// historical timeseries reads, manual run triggers and daemon liveness.
// Everything here is stateless; the handlers only compose repository filters
// and shape responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/fiatprice"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/manager"
	"github.com/coinpulse/marketmanager/timeseries"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	pingTimeout     = 5 * time.Second
)

// Server lifecycle and wiring errors
var (
	ErrAlreadyStarted = errors.New("api server already started")
	ErrNotStarted     = errors.New("api server not started")

	ErrNilExchangeStore = errors.New("nil exchange store")
	ErrNilMarketStore   = errors.New("nil market store")
	ErrNilStatusStore   = errors.New("nil status store")
	ErrNilFiatStore     = errors.New("nil fiat price store")
	ErrNilEnqueuer      = errors.New("nil enqueuer")
)

// ExchangeStore lists and resolves exchange rows
type ExchangeStore interface {
	One(ctx context.Context, id int64) (*exchange.Details, error)
	List(ctx context.Context, f exchange.Filter) ([]exchange.Details, int64, error)
}

// MarketStore lists market snapshot rows
type MarketStore interface {
	List(ctx context.Context, f market.Filter) ([]market.Market, int64, error)
}

// StatusStore lists run-state rows and resolves per-exchange timeouts
type StatusStore interface {
	GetOrCreate(ctx context.Context, exchangeID int64) (*exchangestatus.Status, error)
	List(ctx context.Context, f exchangestatus.Filter) ([]exchangestatus.Status, int64, error)
}

// FiatStore lists fiat valuation rows
type FiatStore interface {
	List(ctx context.Context, f fiatprice.Filter) ([]fiatprice.Price, int64, error)
}

// History reads the timeseries measurements
type History interface {
	QueryPairs(ctx context.Context, q timeseries.Query) ([]timeseries.Point, error)
	QueryFiat(ctx context.Context, q timeseries.Query) ([]timeseries.Point, error)
}

// Enqueuer submits fetch jobs for manual runs
type Enqueuer interface {
	EnqueueFetch(ctx context.Context, exchangeID int64, runID string, timeout time.Duration) error
}

// DaemonProbe reports whether the scheduling daemon is reachable
type DaemonProbe interface {
	Status(ctx context.Context) (*manager.Stats, error)
}

// Pinger is a health-checkable backend
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires a Server. History, Daemon, Timeseries and Cache are optional;
// their routes degrade to 503 when absent.
type Config struct {
	Exchanges  ExchangeStore
	Markets    MarketStore
	Statuses   StatusStore
	FiatPrices FiatStore
	History    History
	Queue      Enqueuer
	Daemon     DaemonProbe

	// DB and Timeseries back the health endpoint
	DB         Pinger
	Timeseries Pinger

	// Cache backs the response cache on list routes. A zero TTL disables
	// caching entirely; a nil client with a TTL falls back to an
	// in-process store.
	Cache    *redis.Client
	CacheTTL time.Duration

	ListenAddr string
	Log        zerolog.Logger
}

// Server is the REST read API
type Server struct {
	started int32
	ln      net.Listener
	srv     *http.Server

	exchanges  ExchangeStore
	markets    MarketStore
	statuses   StatusStore
	fiatPrices FiatStore
	history    History
	queue      Enqueuer
	daemon     DaemonProbe
	db         Pinger
	timeseries Pinger
	cache      *responseCache

	listenAddr string
	log        zerolog.Logger
}

// NewServer validates the wiring and returns a stopped Server
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Exchanges == nil:
		return nil, ErrNilExchangeStore
	case cfg.Markets == nil:
		return nil, ErrNilMarketStore
	case cfg.Statuses == nil:
		return nil, ErrNilStatusStore
	case cfg.FiatPrices == nil:
		return nil, ErrNilFiatStore
	case cfg.Queue == nil:
		return nil, ErrNilEnqueuer
	}
	s := &Server{
		exchanges:  cfg.Exchanges,
		markets:    cfg.Markets,
		statuses:   cfg.Statuses,
		fiatPrices: cfg.FiatPrices,
		history:    cfg.History,
		queue:      cfg.Queue,
		daemon:     cfg.Daemon,
		db:         cfg.DB,
		timeseries: cfg.Timeseries,
		listenAddr: cfg.ListenAddr,
		log:        cfg.Log.With().Str("component", "api").Logger(),
	}
	if cfg.CacheTTL > 0 {
		var store cacheStore = newMemoryStore()
		if cfg.Cache != nil {
			store = &redisStore{client: cfg.Cache}
		}
		s.cache = newResponseCache(store, cfg.CacheTTL, s.log)
	}
	return s, nil
}

// Route ties one endpoint to its handler. Cached routes go through the
// response cache when one is configured.
type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
	Cached      bool
}

// Routes is the server's route table
type Routes []Route

func (s *Server) routes() Routes {
	return Routes{
		{"Exchanges", http.MethodGet, "/exchanges", s.getExchanges, true},
		{"Markets", http.MethodGet, "/markets", s.getMarkets, true},
		{"ExchangeStatuses", http.MethodGet, "/exchange_statuses", s.getStatuses, true},
		{"FiatPrices", http.MethodGet, "/fiat_prices", s.getFiatPrices, true},
		{"HistoricalMarkets", http.MethodGet, "/historical/markets", s.getHistoricalMarkets, true},
		{"HistoricalFiat", http.MethodGet, "/historical/fiat", s.getHistoricalFiat, true},
		{"RunExchange", http.MethodPost, "/run_exchange", s.runExchange, false},
		{"DaemonStatus", http.MethodGet, "/daemon_status", s.daemonStatus, false},
		{"Health", http.MethodGet, "/healthz", s.health, false},
	}
}

// Router assembles the mux with logging and caching middleware applied per
// route
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	for _, route := range s.routes() {
		var handler http.Handler = route.HandlerFunc
		if route.Cached && s.cache != nil {
			handler = s.cache.middleware(handler)
		}
		router.Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(restLogger(handler, route.Name, s.log))
	}
	return router
}

// restLogger reports every served request with its route name and latency
func restLogger(inner http.Handler, name string, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("route", name).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		atomic.StoreInt32(&s.started, 0)
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api server stopped unexpectedly")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("rest api listening")
	return nil
}

// Stop drains in-flight requests and closes the listener
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return ErrNotStarted
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Addr reports the bound address, which differs from the configured one when
// the port was 0
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // headers are gone; nothing useful left to do
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// Package manager runs the control plane: the scheduler that dispatches due
// exchange fetches, the poller that reaps stuck runs, the stale-market sweep
// and the TCP control socket. The loops share nothing in memory but the
// stores; any one of them can be restarted without the others noticing.
package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/volatiletech/null"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/exchanges"
	"github.com/coinpulse/marketmanager/metrics"
)

const (
	// passTimeout bounds the storage work of one loop pass
	passTimeout = time.Minute

	// sweepCadence is how often stale market rows are collected
	sweepCadence = 6 * time.Hour

	// timeoutDiagnostic is recorded when the poller reaps a run
	timeoutDiagnostic = "Timeout reached"
)

// Subsystem lifecycle errors
var (
	ErrAlreadyStarted = errors.New("manager already started")
	ErrNotStarted     = errors.New("manager not started")

	ErrNilExchangeStore = errors.New("nil exchange store")
	ErrNilStatusStore   = errors.New("nil status store")
	ErrNilDispatcher    = errors.New("nil dispatcher")
)

// ExchangeStore is the manager's view of exchange rows
type ExchangeStore interface {
	One(ctx context.Context, id int64) (*exchange.Details, error)
	OneByName(ctx context.Context, name string) (*exchange.Details, error)
	Enabled(ctx context.Context) ([]exchange.Details, error)
	Insert(ctx context.Context, d *exchange.Details) error
}

// StatusStore is the manager's view of run-state rows
type StatusStore interface {
	GetOrCreate(ctx context.Context, exchangeID int64) (*exchangestatus.Status, error)
	Claim(ctx context.Context, exchangeID int64, runID string, now time.Time) (bool, error)
	Running(ctx context.Context) ([]exchangestatus.Status, error)
	Fail(ctx context.Context, exchangeID int64, diagnostic string) error
	ClearRunning(ctx context.Context, exchangeID int64) error
}

// Dispatcher is the producer side of the job queue plus the revocation
// surface the poller needs
type Dispatcher interface {
	EnqueueFetch(ctx context.Context, exchangeID int64, runID string, timeout time.Duration) error
	Cancel(runID string)
}

// MarketJanitor deletes snapshot rows past the staleness horizon
type MarketJanitor interface {
	DeleteStale(ctx context.Context, horizon time.Time) (int64, error)
}

// DriverFactory resolves an exchange name to its venue driver
type DriverFactory func(name string) (exchanges.Exchange, error)

// Config wires a Manager
type Config struct {
	Exchanges ExchangeStore
	Statuses  StatusStore
	Queue     Dispatcher
	Markets   MarketJanitor
	Drivers   DriverFactory

	// EnabledExchanges are created with default settings on startup when
	// missing from the store
	EnabledExchanges []string
	DefaultInterval  time.Duration
	DefaultTimeout   time.Duration
	SchedulerTick    time.Duration
	PollerTick       time.Duration

	// StaleAfter is the market GC horizon; zero disables the sweep
	StaleAfter time.Duration

	// ControlAddr is the TCP control socket address; empty disables it
	ControlAddr string

	Metrics *metrics.Set
	Log     zerolog.Logger
}

// Manager owns the daemon's long-running loops
type Manager struct {
	started  int32
	shutdown chan struct{}
	wg       sync.WaitGroup

	exchanges ExchangeStore
	statuses  StatusStore
	queue     Dispatcher
	markets   MarketJanitor
	drivers   DriverFactory
	metrics   *metrics.Set
	log       zerolog.Logger

	enabledExchanges []string
	defaultInterval  time.Duration
	defaultTimeout   time.Duration
	schedulerTick    time.Duration
	pollerTick       time.Duration
	staleAfter       time.Duration
	controlAddr      string

	control *controlServer

	startTime     time.Time
	dispatched    atomic.Int64
	reaped        atomic.Int64
	lastScheduler atomic.Int64
	lastPoller    atomic.Int64
}

// New validates the wiring and returns a stopped Manager. Ticks default to
// ten seconds, matching the cadence the poller's reap latency is quoted in.
func New(cfg Config) (*Manager, error) {
	switch {
	case cfg.Exchanges == nil:
		return nil, ErrNilExchangeStore
	case cfg.Statuses == nil:
		return nil, ErrNilStatusStore
	case cfg.Queue == nil:
		return nil, ErrNilDispatcher
	}
	if cfg.SchedulerTick <= 0 {
		cfg.SchedulerTick = 10 * time.Second
	}
	if cfg.PollerTick <= 0 {
		cfg.PollerTick = 10 * time.Second
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 300 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 300 * time.Second
	}
	if cfg.Drivers == nil {
		cfg.Drivers = func(name string) (exchanges.Exchange, error) {
			return nil, exchanges.ErrNoSymbols
		}
	}
	return &Manager{
		exchanges:        cfg.Exchanges,
		statuses:         cfg.Statuses,
		queue:            cfg.Queue,
		markets:          cfg.Markets,
		drivers:          cfg.Drivers,
		metrics:          cfg.Metrics,
		log:              cfg.Log.With().Str("component", "manager").Logger(),
		enabledExchanges: cfg.EnabledExchanges,
		defaultInterval:  cfg.DefaultInterval,
		defaultTimeout:   cfg.DefaultTimeout,
		schedulerTick:    cfg.SchedulerTick,
		pollerTick:       cfg.PollerTick,
		staleAfter:       cfg.StaleAfter,
		controlAddr:      cfg.ControlAddr,
	}, nil
}

// IsRunning safely checks whether the manager is running
func (m *Manager) IsRunning() bool {
	if m == nil {
		return false
	}
	return atomic.LoadInt32(&m.started) == 1
}

// Start bootstraps the configured exchanges and launches the scheduler,
// poller, sweep and control loops
func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return ErrAlreadyStarted
	}
	m.shutdown = make(chan struct{})
	m.startTime = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	m.ensureEnabledExchanges(ctx)

	if m.controlAddr != "" {
		srv, err := newControlServer(m, m.controlAddr, m.log)
		if err != nil {
			atomic.StoreInt32(&m.started, 0)
			return err
		}
		m.control = srv
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			srv.serve(m.shutdown)
		}()
	}

	m.wg.Add(2)
	go m.schedulerLoop()
	go m.pollerLoop()
	if m.markets != nil && m.staleAfter > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	m.log.Info().Dur("scheduler_tick", m.schedulerTick).Dur("poller_tick", m.pollerTick).
		Msg("manager started")
	return nil
}

// Stop terminates every loop and waits for them to exit
func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return ErrNotStarted
	}
	close(m.shutdown)
	if m.control != nil {
		m.control.close()
	}
	m.wg.Wait()
	m.log.Info().Msg("manager stopped")
	return nil
}

func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	m.pass(m.schedulerPass)
	ticker := time.NewTicker(m.schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.pass(m.schedulerPass)
		}
	}
}

func (m *Manager) pollerLoop() {
	defer m.wg.Done()
	m.pass(m.pollerPass)
	ticker := time.NewTicker(m.pollerTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.pass(m.pollerPass)
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepCadence)
	defer ticker.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.pass(m.sweepPass)
		}
	}
}

// pass runs one loop iteration under its own deadline
func (m *Manager) pass(fn func(ctx context.Context, now time.Time)) {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	fn(ctx, time.Now())
}

// sweepPass deletes market rows whose update watermark fell behind the
// staleness horizon. Pairs an exchange stopped listing survive until here.
func (m *Manager) sweepPass(ctx context.Context, now time.Time) {
	n, err := m.markets.DeleteStale(ctx, now.Add(-m.staleAfter))
	if err != nil {
		m.log.Warn().Err(err).Msg("stale market sweep failed")
		return
	}
	if n > 0 {
		m.log.Info().Int64("deleted", n).Msg("swept stale markets")
	}
}

// ensureEnabledExchanges creates a row for every configured exchange name
// missing from the store. Names without an upstream driver are skipped; a
// row nothing can fetch would only clutter the scheduler.
func (m *Manager) ensureEnabledExchanges(ctx context.Context) {
	for _, name := range m.enabledExchanges {
		_, err := m.exchanges.OneByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, exchange.ErrExchangeNotFound) {
			m.log.Warn().Err(err).Str("exchange", name).Msg("could not check configured exchange")
			continue
		}
		drv, err := m.drivers(name)
		if err != nil {
			m.log.Warn().Str("exchange", name).Msg("configured exchange has no driver, skipping")
			continue
		}
		info := drv.Details()
		row := exchange.Details{
			Name:     name,
			Interval: int64(m.defaultInterval.Seconds()),
			Enabled:  true,
			URL:      null.NewString(info.URL, info.URL != ""),
			APIURL:   null.NewString(info.APIURL, info.APIURL != ""),
			Logo:     null.NewString(info.Logo, info.Logo != ""),
		}
		if err := m.exchanges.Insert(ctx, &row); err != nil {
			m.log.Error().Err(err).Str("exchange", name).Msg("could not create configured exchange")
			continue
		}
		m.log.Info().Str("exchange", name).Int64("id", row.ID).Msg("created configured exchange")
	}
}

// Stats is the control socket's status payload
type Stats struct {
	StartTime     time.Time `json:"start_time"`
	Uptime        string    `json:"uptime"`
	SchedulerPass time.Time `json:"scheduler_last_pass"`
	PollerPass    time.Time `json:"poller_last_pass"`
	Dispatched    int64     `json:"dispatched_jobs"`
	Reaped        int64     `json:"reaped_jobs"`
}

// Stats reports the daemon's liveness counters
func (m *Manager) Stats() Stats {
	return Stats{
		StartTime:     m.startTime,
		Uptime:        time.Since(m.startTime).Round(time.Second).String(),
		SchedulerPass: time.Unix(m.lastScheduler.Load(), 0),
		PollerPass:    time.Unix(m.lastPoller.Load(), 0),
		Dispatched:    m.dispatched.Load(),
		Reaped:        m.reaped.Load(),
	}
}

// Package worker executes fetch jobs end to end: load the exchange, pull its
// tickers, normalise them and reconcile both stores.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/exchanges"
	"github.com/coinpulse/marketmanager/exchanges/ticker"
	"github.com/coinpulse/marketmanager/metrics"
	"github.com/coinpulse/marketmanager/queue"
	"github.com/coinpulse/marketmanager/rates"
)

// Construction errors
var (
	ErrNilExchangeStore = errors.New("nil exchange store")
	ErrNilStatusStore   = errors.New("nil status store")
	ErrNilUpdater       = errors.New("nil snapshot updater")
	ErrNilResolver      = errors.New("nil rate resolver")
	ErrNilDrivers       = errors.New("nil driver factory")
	ErrNilFiatSet       = errors.New("nil fiat set")
)

// ExchangeStore is the worker's view of exchange rows
type ExchangeStore interface {
	One(ctx context.Context, id int64) (*exchange.Details, error)
	SetFiatMarkets(ctx context.Context, id int64) error
}

// StatusStore is the worker's view of run-state rows. MarkRunning must be
// idempotent with respect to a prior scheduler claim.
type StatusStore interface {
	MarkRunning(ctx context.Context, exchangeID int64, runID string, now time.Time) error
	Finish(ctx context.Context, exchangeID int64, diagnostic string, now time.Time) error
	Fail(ctx context.Context, exchangeID int64, diagnostic string) error
}

// SnapshotUpdater reconciles one batch into the relational store. Its result
// alone decides whether the job succeeded.
type SnapshotUpdater interface {
	Run(ctx context.Context, exchangeID int64, batch ticker.Batch, res rates.Result) error
}

// HistoryWriter appends one run's points to the timeseries store, returning
// only a failed-write count
type HistoryWriter interface {
	WriteBatch(ctx context.Context, exchangeID int64, batch ticker.Batch, fiatPairs map[string]float64) int
}

// RateResolver derives the per-run fiat rate map
type RateResolver interface {
	Resolve(ctx context.Context, batch ticker.Batch) rates.Result
}

// DriverFactory resolves an exchange name to its venue driver
type DriverFactory func(name string) (exchanges.Exchange, error)

// Config wires a Worker
type Config struct {
	Exchanges ExchangeStore
	Statuses  StatusStore
	Updater   SnapshotUpdater
	History   HistoryWriter
	Resolver  RateResolver
	Drivers   DriverFactory
	FiatSet   *currency.FiatSet
	Metrics   *metrics.Set
	Log       zerolog.Logger
}

// Worker runs fetch jobs. One instance is shared by every queue worker
// goroutine; all state lives in the stores.
type Worker struct {
	exchanges ExchangeStore
	statuses  StatusStore
	updater   SnapshotUpdater
	history   HistoryWriter
	resolver  RateResolver
	drivers   DriverFactory
	fiat      *currency.FiatSet
	metrics   *metrics.Set
	log       zerolog.Logger
}

// New validates the wiring and returns a Worker. History and Metrics may be
// nil; history writes are then skipped entirely.
func New(cfg Config) (*Worker, error) {
	switch {
	case cfg.Exchanges == nil:
		return nil, ErrNilExchangeStore
	case cfg.Statuses == nil:
		return nil, ErrNilStatusStore
	case cfg.Updater == nil:
		return nil, ErrNilUpdater
	case cfg.Resolver == nil:
		return nil, ErrNilResolver
	case cfg.Drivers == nil:
		return nil, ErrNilDrivers
	case cfg.FiatSet == nil:
		return nil, ErrNilFiatSet
	}
	return &Worker{
		exchanges: cfg.Exchanges,
		statuses:  cfg.Statuses,
		updater:   cfg.Updater,
		history:   cfg.History,
		resolver:  cfg.Resolver,
		drivers:   cfg.Drivers,
		fiat:      cfg.FiatSet,
		metrics:   cfg.Metrics,
		log:       cfg.Log.With().Str("component", "worker").Logger(),
	}, nil
}

// ProcessTask implements asynq.Handler for fetch jobs. The queue task id is
// the run id the scheduler recorded at dispatch.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseFetchPayload(t)
	if err != nil {
		return err
	}
	runID, ok := asynq.GetTaskID(ctx)
	if !ok || runID == "" {
		runID = uuid.Must(uuid.NewV4()).String()
	}
	return w.Fetch(ctx, payload.ExchangeID, runID)
}

// Fetch runs the full pipeline for one exchange. Ticker fetching, parsing and
// rate resolution never fail the run on single malformed entries; the
// snapshot updater's verdict is the job's verdict.
func (w *Worker) Fetch(ctx context.Context, exchangeID int64, runID string) error {
	start := time.Now()
	log := w.log.With().Str("job_id", runID).Int64("exchange_id", exchangeID).Logger()

	if w.metrics != nil {
		w.metrics.RunningFetches.Inc()
		defer w.metrics.RunningFetches.Dec()
	}

	exc, err := w.exchanges.One(ctx, exchangeID)
	if err != nil {
		return w.fastFail(ctx, log, start, exchangeID, metrics.OutcomeUnknown,
			fmt.Sprintf("exchange %d not found", exchangeID), err)
	}
	log = log.With().Str("exchange", exc.Name).Logger()

	drv, err := w.drivers(exc.Name)
	if err != nil {
		return w.fastFail(ctx, log, start, exchangeID, metrics.OutcomeUnknown,
			fmt.Sprintf("exchange %s has no upstream driver", exc.Name), err)
	}

	if err := w.statuses.MarkRunning(ctx, exchangeID, runID, time.Now()); err != nil {
		return fmt.Errorf("marking exchange %d running: %w", exchangeID, err)
	}
	log.Info().Msg("fetch started")

	if !exc.FiatMarkets {
		w.probeFiatMarkets(ctx, log, drv, exc)
	}

	raw, err := fetchTickers(ctx, drv, exc, w.fiat, log)
	if err != nil {
		return w.fail(ctx, log, start, exchangeID, err)
	}

	batch, dropped := ticker.Parse(raw, exchangeID, log)
	if w.metrics != nil {
		w.metrics.TickersParsed.Add(float64(len(batch)))
		w.metrics.TickersDropped.Add(float64(dropped))
	}
	log.Info().Int("pairs", len(batch)).Int("dropped", dropped).Msg("tickers parsed")

	res := w.resolver.Resolve(ctx, batch)

	if w.history != nil {
		if failed := w.history.WriteBatch(ctx, exchangeID, batch, res.FiatPairs); failed > 0 && w.metrics != nil {
			w.metrics.TimeseriesFailed.Add(float64(failed))
		}
	}

	if err := w.updater.Run(ctx, exchangeID, batch, res); err != nil {
		return w.fail(ctx, log, start, exchangeID, err)
	}

	diagnostic := fmt.Sprintf("Data update successful for exchange: %s", exc.Name)
	if err := w.statuses.Finish(statusContext(ctx), exchangeID, diagnostic, time.Now()); err != nil {
		return fmt.Errorf("finishing exchange %d: %w", exchangeID, err)
	}
	if w.metrics != nil {
		w.metrics.ObserveFetch(metrics.OutcomeOK, time.Since(start))
	}
	log.Info().Dur("took", time.Since(start)).Msg("fetch finished")
	return nil
}

// probeFiatMarkets raises the sticky fiat_markets flag when the venue lists
// any configured fiat symbol. Probe failures only cost the flag, never the
// run.
func (w *Worker) probeFiatMarkets(ctx context.Context, log zerolog.Logger, drv exchanges.Exchange, exc *exchange.Details) {
	found := false
	currencies, err := drv.FetchCurrencies(ctx)
	if err == nil {
		for _, c := range currencies {
			if w.fiat.ContainsString(c) {
				found = true
				break
			}
		}
	}
	if !found {
		markets, mErr := drv.FetchMarkets(ctx)
		if mErr != nil {
			if err != nil {
				log.Warn().AnErr("currencies", err).AnErr("markets", mErr).
					Msg("fiat market probe failed")
			}
			return
		}
		for i := range markets {
			if w.fiat.ContainsString(markets[i].Quote) {
				found = true
				break
			}
		}
	}
	if !found {
		return
	}
	if err := w.exchanges.SetFiatMarkets(ctx, exc.ID); err != nil {
		log.Warn().Err(err).Msg("could not persist fiat_markets flag")
		return
	}
	exc.FiatMarkets = true
	log.Info().Msg("exchange lists fiat markets")
}

// fastFail records a diagnostic for jobs that never really started. The run
// lock drops but nothing else changes; the job is consumed, not retried.
func (w *Worker) fastFail(ctx context.Context, log zerolog.Logger, start time.Time, exchangeID int64, outcome, diagnostic string, cause error) error {
	log.Error().Err(cause).Msg(diagnostic)
	if err := w.statuses.Fail(statusContext(ctx), exchangeID, diagnostic); err != nil {
		log.Error().Err(err).Msg("could not record fast failure")
	}
	if w.metrics != nil {
		w.metrics.ObserveFetch(outcome, time.Since(start))
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, log zerolog.Logger, start time.Time, exchangeID int64, cause error) error {
	log.Error().Err(cause).Msg("fetch failed")
	if err := w.statuses.Fail(statusContext(ctx), exchangeID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("could not record failure")
	}
	if w.metrics != nil {
		w.metrics.ObserveFetch(metrics.OutcomeFailed, time.Since(start))
	}
	return cause
}

// statusContext detaches status writes from job cancellation so a revoked or
// timed-out run can still drop its running flag. The poller backstops the
// cases where even that write is lost.
func statusContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

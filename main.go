// MarketManager daemon. Runs the fetch scheduler, the timeout poller, the
// queue worker pool and the TCP control socket in one process; the REST read
// API ships separately in cmd/apiserver.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/coinmanager"
	"github.com/coinpulse/marketmanager/config"
	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database"
	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/exchanges"
	"github.com/coinpulse/marketmanager/exchanges/registry"
	"github.com/coinpulse/marketmanager/logger"
	"github.com/coinpulse/marketmanager/manager"
	"github.com/coinpulse/marketmanager/metrics"
	"github.com/coinpulse/marketmanager/queue"
	"github.com/coinpulse/marketmanager/rates"
	"github.com/coinpulse/marketmanager/signaler"
	"github.com/coinpulse/marketmanager/timeseries"
	"github.com/coinpulse/marketmanager/updater"
	"github.com/coinpulse/marketmanager/worker"
)

func main() {
	var envFile string
	flag.StringVar(&envFile, "env", "", "env file to load (defaults to .env in the working directory)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.LoadFile(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("daemon exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			return fmt.Errorf("writing pid file: %w", err)
		}
		defer os.Remove(cfg.PidFile)
	}

	db, err := database.Connect(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.CloseConnection()

	history := timeseries.NewStore(timeseries.Config{
		URL:              cfg.InfluxURL,
		Token:            cfg.InfluxToken,
		Org:              cfg.InfluxOrg,
		Bucket:           cfg.InfluxBucket,
		MeasurementPairs: cfg.MeasurementPairs,
		MeasurementFiat:  cfg.MeasurementFiat,
	}, log)
	defer history.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := history.Ping(pingCtx); err != nil {
		// History is best effort everywhere else too; the daemon can run
		// on a flapping timeseries store.
		log.Warn().Err(err).Msg("timeseries store unreachable at startup")
	}
	cancel()

	fiatSet, err := currency.NewFiatSet(cfg.FiatSymbols...)
	if err != nil {
		return fmt.Errorf("building fiat set: %w", err)
	}
	exchangeRepo := exchange.NewRepo(db.SQL)
	statusRepo := exchangestatus.NewRepo(db.SQL, cfg.ExchangeTimeout)
	marketRepo := market.NewRepo(db.SQL)

	coins := coinmanager.New(cfg.CoinManagerURL, nil)
	resolver := rates.NewResolver(fiatSet, marketRepo, coins, log)
	snapshots := updater.New(db.SQL, fiatSet, log)
	mset := metrics.New()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	drivers := func(name string) (exchanges.Exchange, error) {
		return registry.New(name, httpClient)
	}

	fetcher, err := worker.New(worker.Config{
		Exchanges: exchangeRepo,
		Statuses:  statusRepo,
		Updater:   snapshots,
		History:   history,
		Resolver:  resolver,
		Drivers:   drivers,
		FiatSet:   fiatSet,
		Metrics:   mset,
		Log:       log,
	})
	if err != nil {
		return err
	}

	pool := queue.NewServer(cfg.RedisAddr, cfg.WorkerConcurrency, log)
	pool.HandleFetch(fetcher)
	if err := pool.Start(); err != nil {
		return err
	}
	defer pool.Shutdown()

	jobs := queue.New(cfg.RedisAddr, log)
	defer jobs.Close()

	mgr, err := manager.New(manager.Config{
		Exchanges:        exchangeRepo,
		Statuses:         statusRepo,
		Queue:            jobs,
		Markets:          marketRepo,
		Drivers:          drivers,
		EnabledExchanges: cfg.EnabledExchanges,
		DefaultInterval:  cfg.DefaultFetchInterval,
		DefaultTimeout:   cfg.ExchangeTimeout,
		SchedulerTick:    cfg.SchedulerTick,
		PollerTick:       cfg.PollerTick,
		StaleAfter:       time.Duration(cfg.MarketStaleDays) * 24 * time.Hour,
		ControlAddr:      cfg.DaemonAddr(),
		Metrics:          mset,
		Log:              log,
	})
	if err != nil {
		return err
	}
	if err := mgr.Start(); err != nil {
		return err
	}
	defer mgr.Stop()

	if cfg.MetricsListen != "" {
		msrv := &http.Server{Addr: cfg.MetricsListen, Handler: mset.Handler()}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
		defer msrv.Close()
		log.Info().Str("addr", cfg.MetricsListen).Msg("metrics listening")
	}

	log.Info().
		Str("control", cfg.DaemonAddr()).
		Int("worker_concurrency", cfg.WorkerConcurrency).
		Msg("marketmanager daemon ready")

	received := <-signaler.WaitForInterrupt()
	log.Info().Str("signal", received.String()).Msg("shutting down")
	return nil
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

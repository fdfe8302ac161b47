// apiserver serves the MarketManager REST read API. It talks to the same
// Postgres, InfluxDB and Redis instances as the daemon but shares no process
// state with it; daemon liveness is probed over the control socket.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/api"
	"github.com/coinpulse/marketmanager/config"
	"github.com/coinpulse/marketmanager/database"
	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/fiatprice"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/logger"
	"github.com/coinpulse/marketmanager/manager"
	"github.com/coinpulse/marketmanager/queue"
	"github.com/coinpulse/marketmanager/signaler"
	"github.com/coinpulse/marketmanager/timeseries"
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
		log.Error().Err(err).Msg("api server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
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

	jobs := queue.New(cfg.RedisAddr, log)
	defer jobs.Close()

	cache := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer cache.Close()

	srv, err := api.NewServer(api.Config{
		Exchanges:  exchange.NewRepo(db.SQL),
		Markets:    market.NewRepo(db.SQL),
		Statuses:   exchangestatus.NewRepo(db.SQL, cfg.ExchangeTimeout),
		FiatPrices: fiatprice.NewRepo(db.SQL),
		History:    history,
		Queue:      jobs,
		Daemon:     manager.NewClient(cfg.DaemonAddr()),
		DB:         db,
		Timeseries: history,
		Cache:      cache,
		CacheTTL:   cfg.HTTPCacheTTL,
		ListenAddr: cfg.APIListen,
		Log:        log,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	received := <-signaler.WaitForInterrupt()
	log.Info().Str("signal", received.String()).Msg("shutting down")
	return nil
}

package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/urfave/cli/v2"

	"github.com/coinpulse/marketmanager/coinmanager"
	"github.com/coinpulse/marketmanager/config"
	"github.com/coinpulse/marketmanager/currency"
	"github.com/coinpulse/marketmanager/database"
	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/database/repository/exchangestatus"
	"github.com/coinpulse/marketmanager/database/repository/market"
	"github.com/coinpulse/marketmanager/exchanges"
	"github.com/coinpulse/marketmanager/exchanges/registry"
	"github.com/coinpulse/marketmanager/queue"
	"github.com/coinpulse/marketmanager/rates"
	"github.com/coinpulse/marketmanager/timeseries"
	"github.com/coinpulse/marketmanager/updater"
	"github.com/coinpulse/marketmanager/worker"

	"github.com/rs/zerolog"
)

var fetchExchangeDataCommand = &cli.Command{
	Name:      "fetch_exchange_data",
	Usage:     "fetch ticker data for exchanges, either inline or via the job queue",
	ArgsUsage: "EXCHANGE_ID [EXCHANGE_ID...]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "background", Usage: "enqueue instead of fetching inline"},
	},
	Action: fetchExchangeData,
}

func fetchExchangeData(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one exchange id is required", 1)
	}
	ids := make([]int64, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return cli.Exit(fmt.Sprintf("invalid exchange id %q", arg), 1)
		}
		ids = append(ids, id)
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	db, err := connectDB(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer db.CloseConnection()

	if c.Bool("background") {
		return enqueueFetches(c, cfg, db, log, ids)
	}
	return fetchInline(c, cfg, db, log, ids)
}

func enqueueFetches(c *cli.Context, cfg *config.Config, db *database.Instance, log zerolog.Logger, ids []int64) error {
	statuses := exchangestatus.NewRepo(db.SQL, cfg.ExchangeTimeout)
	jobs := queue.New(cfg.RedisAddr, log)
	defer jobs.Close()

	for _, id := range ids {
		status, err := statuses.GetOrCreate(c.Context, id)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		timeout := time.Duration(status.Timeout) * time.Second
		if timeout <= 0 {
			timeout = cfg.ExchangeTimeout
		}
		runID := uuid.Must(uuid.NewV4()).String()
		if err := jobs.EnqueueFetch(c.Context, id, runID, timeout); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Printf("queued fetch for exchange %d as run %s\n", id, runID)
	}
	return nil
}

// fetchInline runs the full fetch pipeline in this process, the same path
// the queue workers take. Useful for debugging one venue without a daemon.
func fetchInline(c *cli.Context, cfg *config.Config, db *database.Instance, log zerolog.Logger, ids []int64) error {
	history := timeseries.NewStore(timeseries.Config{
		URL:              cfg.InfluxURL,
		Token:            cfg.InfluxToken,
		Org:              cfg.InfluxOrg,
		Bucket:           cfg.InfluxBucket,
		MeasurementPairs: cfg.MeasurementPairs,
		MeasurementFiat:  cfg.MeasurementFiat,
	}, log)
	defer history.Close()

	fiatSet, err := currency.NewFiatSet(cfg.FiatSymbols...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	marketRepo := market.NewRepo(db.SQL)
	client := &http.Client{Timeout: 30 * time.Second}

	fetcher, err := worker.New(worker.Config{
		Exchanges: exchange.NewRepo(db.SQL),
		Statuses:  exchangestatus.NewRepo(db.SQL, cfg.ExchangeTimeout),
		Updater:   updater.New(db.SQL, fiatSet, log),
		History:   history,
		Resolver: rates.NewResolver(fiatSet, marketRepo,
			coinmanager.New(cfg.CoinManagerURL, nil), log),
		Drivers: func(name string) (exchanges.Exchange, error) {
			return registry.New(name, client)
		},
		FiatSet: fiatSet,
		Log:     log,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	failed := 0
	for _, id := range ids {
		runID := uuid.Must(uuid.NewV4()).String()
		if err := fetcher.Fetch(c.Context, id, runID); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "exchange %d: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("exchange %d fetched\n", id)
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d fetches failed", failed, len(ids)), 1)
	}
	return nil
}

// mmcli administers a MarketManager deployment: seeding and toggling
// exchanges, triggering fetches and controlling the daemon process.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/coinpulse/marketmanager/config"
	"github.com/coinpulse/marketmanager/database"
	"github.com/coinpulse/marketmanager/logger"
)

var envFile string

func main() {
	app := cli.NewApp()
	app.Name = "mmcli"
	app.Usage = "MarketManager admin utility"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "env",
			Usage:       "env file to load (defaults to .env in the working directory)",
			Destination: &envFile,
		},
	}
	app.Commands = []*cli.Command{
		addExchangeCommand,
		enableExchangesCommand,
		disableExchangesCommand,
		getExchangesCommand,
		fetchExchangeDataCommand,
		fiatRatesCommand,
		daemonCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
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
		return nil, zerolog.Nop(), err
	}
	// CLI output goes to stdout; keep the log channel quiet unless asked.
	log := logger.Setup(cfg.LogLevel, "console")
	return cfg, log, nil
}

func connectDB(cfg *config.Config) (*database.Instance, error) {
	db, err := database.Connect(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

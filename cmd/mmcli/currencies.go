package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/coinpulse/marketmanager/coinmanager"
)

var fiatRatesCommand = &cli.Command{
	Name:  "fiat_rates",
	Usage: "list the currency service's fiat conversion rates and check the configured symbols against them",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "emit JSON instead of a table"},
	},
	Action: getFiatRates,
}

func getFiatRates(c *cli.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if cfg.CoinManagerURL == "" {
		return cli.Exit("COIN_MANAGER_URL is not configured", 1)
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	rates, err := coinmanager.New(cfg.CoinManagerURL, nil).FiatRates(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("json") {
		if err := printJSON(rates); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SYMBOL\tRATE")
		for _, r := range rates {
			fmt.Fprintf(tw, "%s\t%g\n", r.Symbol, r.Rate)
		}
		tw.Flush()
	}

	known := make(map[string]struct{}, len(rates))
	for _, r := range rates {
		known[strings.ToUpper(r.Symbol)] = struct{}{}
	}
	var missing []string
	for _, sym := range cfg.FiatSymbols {
		if _, ok := known[strings.ToUpper(sym)]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		return cli.Exit(fmt.Sprintf("configured fiat symbols unknown to the currency service: %s",
			strings.Join(missing, ", ")), 1)
	}
	return nil
}

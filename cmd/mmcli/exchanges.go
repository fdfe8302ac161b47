package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/volatiletech/null"

	"github.com/coinpulse/marketmanager/database/repository/exchange"
	"github.com/coinpulse/marketmanager/exchanges/registry"
)

var addExchangeCommand = &cli.Command{
	Name:  "add_exchange",
	Usage: "create exchange rows for one or all supported venues",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "exchange to add"},
		&cli.BoolFlag{Name: "all", Usage: "add every venue with a driver"},
		&cli.Int64Flag{Name: "interval", Usage: "fetch interval in seconds (defaults to EXCHANGE_DEFAULT_FETCH_INTERVAL)"},
	},
	Action: addExchange,
}

var enableExchangesCommand = &cli.Command{
	Name:  "enable_exchanges",
	Usage: "enable exchanges so the scheduler dispatches them",
	Flags: []cli.Flag{
		&cli.Int64SliceFlag{Name: "id", Usage: "exchange id (repeatable)"},
		&cli.BoolFlag{Name: "all", Usage: "enable every exchange"},
	},
	Action: func(c *cli.Context) error { return setEnabled(c, true) },
}

var disableExchangesCommand = &cli.Command{
	Name:  "disable_exchanges",
	Usage: "disable exchanges so the scheduler skips them",
	Flags: []cli.Flag{
		&cli.Int64SliceFlag{Name: "id", Usage: "exchange id (repeatable)"},
		&cli.BoolFlag{Name: "all", Usage: "disable every exchange"},
	},
	Action: func(c *cli.Context) error { return setEnabled(c, false) },
}

var getExchangesCommand = &cli.Command{
	Name:  "get_exchanges",
	Usage: "list exchanges",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "enabled", Usage: "only enabled exchanges"},
		&cli.BoolFlag{Name: "disabled", Usage: "only disabled exchanges"},
		&cli.BoolFlag{Name: "available", Usage: "list venues with a driver instead of stored rows"},
		&cli.BoolFlag{Name: "json", Usage: "print JSON"},
	},
	Action: getExchanges,
}

func addExchange(c *cli.Context) error {
	if !c.Bool("all") && c.String("name") == "" {
		return cli.Exit("either --name or --all is required", 1)
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	db, err := connectDB(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer db.CloseConnection()
	repo := exchange.NewRepo(db.SQL)

	names := []string{c.String("name")}
	if c.Bool("all") {
		names = registry.Available()
	}
	interval := c.Int64("interval")
	if interval <= 0 {
		interval = int64(cfg.DefaultFetchInterval.Seconds())
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for _, name := range names {
		if _, err := repo.OneByName(c.Context, name); err == nil {
			fmt.Printf("%s already exists\n", name)
			continue
		} else if !errors.Is(err, exchange.ErrExchangeNotFound) {
			return cli.Exit(err.Error(), 1)
		}
		drv, err := registry.New(name, client)
		if err != nil {
			return cli.Exit(fmt.Sprintf("%s: no driver available", name), 1)
		}
		info := drv.Details()
		row := exchange.Details{
			Name:     name,
			Interval: interval,
			Enabled:  true,
			URL:      null.NewString(info.URL, info.URL != ""),
			APIURL:   null.NewString(info.APIURL, info.APIURL != ""),
			Logo:     null.NewString(info.Logo, info.Logo != ""),
		}
		if err := repo.Insert(c.Context, &row); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Printf("added %s (id %d)\n", name, row.ID)
	}
	return nil
}

func setEnabled(c *cli.Context, enabled bool) error {
	ids := c.Int64Slice("id")
	if !c.Bool("all") && len(ids) == 0 {
		return cli.Exit("either --id or --all is required", 1)
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	db, err := connectDB(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer db.CloseConnection()
	repo := exchange.NewRepo(db.SQL)

	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}
	if c.Bool("all") {
		n, err := repo.SetEnabledAll(c.Context, enabled)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Printf("%s %d exchanges\n", verb, n)
		return nil
	}
	for _, id := range ids {
		if err := repo.SetEnabled(c.Context, id, enabled); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Printf("%s exchange %d\n", verb, id)
	}
	return nil
}

func getExchanges(c *cli.Context) error {
	if c.Bool("available") {
		names := registry.Available()
		if c.Bool("json") {
			return printJSON(names)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	db, err := connectDB(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer db.CloseConnection()

	rows, err := exchange.NewRepo(db.SQL).All(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.Bool("enabled") || c.Bool("disabled") {
		keep := rows[:0]
		for _, row := range rows {
			if row.Enabled == c.Bool("enabled") {
				keep = append(keep, row)
			}
		}
		rows = keep
	}

	if c.Bool("json") {
		return printJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tINTERVAL\tVOLUME\tLAST FETCH")
	for _, row := range rows {
		lastFetch := "never"
		if row.LastDataFetch.Valid {
			lastFetch = row.LastDataFetch.Time.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%ds\t%.2f\t%s\n",
			row.ID, row.Name, row.Enabled, row.Interval, row.Volume.Float64, lastFetch)
	}
	return w.Flush()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println(string(out))
	return nil
}

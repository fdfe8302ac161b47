package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thrasher-corp/goose"

	"github.com/coinpulse/marketmanager/config"
	"github.com/coinpulse/marketmanager/database"
)

var (
	command      string
	args         string
	envFile      string
	migrationDir string
)

func main() {
	fmt.Println("MarketManager database migration tool")
	fmt.Println()

	flag.StringVar(&command, "command", "", "command to run status|up|up-by-one|up-to|down|create")
	flag.StringVar(&args, "args", "", "arguments to pass to goose")
	flag.StringVar(&envFile, "env", "", "env file to load configuration from")
	flag.StringVar(&migrationDir, "migrationdir", database.MigrationDir, "override migration folder")
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
		fmt.Println(err)
		os.Exit(1)
	}

	db, err := database.Connect(cfg.DBDSN)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer db.CloseConnection()

	if command == "" {
		_ = goose.Run("status", db.SQL.DB, "postgres", migrationDir, "")
		fmt.Println()
		flag.Usage()
		return
	}

	if err = goose.Run(command, db.SQL.DB, "postgres", migrationDir, args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Command mqlbt compiles trading scripts and backtests them over CSV or
// Parquet price history.
//
// Usage:
//
//	mqlbt [--config mqlbt.yaml] compile script.mq4
//	mqlbt run --candles EURUSD.csv script.mq4
//	mqlbt ticks import --symbol EURUSD ticks.csv
//	mqlbt runs
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"mqlbt/internal/config"
	"mqlbt/internal/util"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
)

// setup loads the configuration and installs the default logger. Flags
// given on the command line win over the file and the environment.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MQLBT_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = logLevel
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "mqlbt"
	app.Version = version
	app.Usage = "compile and backtest trading scripts"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to the YAML configuration (default $MQLBT_CONFIG)",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "info",
			Usage:       "debug, info, warn or error",
			Destination: &logLevel,
		},
	}
	app.Commands = []*cli.Command{
		compileCommand,
		runCommand,
		ticksCommand,
		runsCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

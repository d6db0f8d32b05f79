package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"mqlbt/internal/backtest"
	"mqlbt/internal/compiler"
	"mqlbt/internal/config"
	"mqlbt/internal/market"
	"mqlbt/internal/preprocess"
	"mqlbt/internal/store"
	"mqlbt/pkg/mqlbt"
)

var errUsage = errors.New("expected exactly one script path")

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "check a script and list its diagnostics",
	ArgsUsage: "<script>",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "include", Aliases: []string{"I"}, Usage: "extra include directory"},
		&cli.BoolFlag{Name: "warnings-as-errors", Aliases: []string{"W"}, Usage: "fail on warnings"},
	},
	Action: func(c *cli.Context) error {
		cfg, logger, err := setup(c)
		if err != nil {
			return err
		}
		path, src, err := readScript(c)
		if err != nil {
			return err
		}
		res := compiler.Compile(src, compiler.Options{
			FileName:         path,
			FileProvider:     provider(path, c.StringSlice("include")),
			WarningsAsErrors: c.Bool("warnings-as-errors") || cfg.Backtest.WarningsAsErrors,
			Logger:           logger,
		})
		for _, w := range res.Warnings {
			fmt.Fprintln(c.App.ErrWriter, w.Error())
		}
		for _, e := range res.Errors {
			fmt.Fprintln(c.App.ErrWriter, e.Error())
		}
		if !res.OK() {
			return cli.Exit(fmt.Sprintf("%s: %d error(s)", path, len(res.Errors)), 1)
		}
		fmt.Fprintf(c.App.Writer, "%s: %s, %d warning(s)\n", path, res.Kind, len(res.Warnings))
		return nil
	},
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "backtest a script",
	ArgsUsage: "<script>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "symbol", Usage: "primary symbol"},
		&cli.StringFlag{Name: "candles", Usage: "candle CSV of the primary symbol"},
		&cli.StringFlag{Name: "ticks", Usage: "tick CSV of the primary symbol"},
		&cli.StringFlag{Name: "from", Usage: "first tick time to read from the Parquet tick store"},
		&cli.StringFlag{Name: "to", Usage: "last tick time to read from the Parquet tick store"},
		&cli.Int64Flag{Name: "timeframe", Usage: "bar length in minutes"},
		&cli.Float64Flag{Name: "balance", Usage: "initial balance"},
		&cli.StringSliceFlag{Name: "input", Aliases: []string{"i"}, Usage: "input override name=value"},
		&cli.StringSliceFlag{Name: "include", Aliases: []string{"I"}, Usage: "extra include directory"},
		&cli.BoolFlag{Name: "warnings-as-errors", Aliases: []string{"W"}, Usage: "fail on warnings"},
		&cli.BoolFlag{Name: "export", Usage: "write the order list to Parquet under the data dir"},
	},
	Action: runAction,
}

func runAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	path, src, err := readScript(c)
	if err != nil {
		return err
	}
	bt := cfg.Backtest
	if c.IsSet("symbol") {
		bt.Symbol = c.String("symbol")
	}
	if c.IsSet("candles") {
		bt.CandlesCSV = c.String("candles")
	}
	if c.IsSet("timeframe") {
		bt.Timeframe = int(c.Int64("timeframe"))
	}
	if c.IsSet("balance") {
		bt.InitialBalance = c.Float64("balance")
	}
	inputs, err := parseInputs(bt.Inputs, c.StringSlice("input"))
	if err != nil {
		return err
	}

	opts := mqlbt.Options{
		InitialBalance:   bt.InitialBalance,
		InitialMargin:    bt.InitialMargin,
		Currency:         bt.Currency,
		Leverage:         bt.Leverage,
		Symbol:           bt.Symbol,
		Timeframe:        int64(bt.Timeframe),
		FileName:         path,
		FileProvider:     provider(path, c.StringSlice("include")),
		Inputs:           inputs,
		WarningsAsErrors: c.Bool("warnings-as-errors") || bt.WarningsAsErrors,
		Logger:           logger,
		LogSink:          func(s string) { fmt.Fprintln(c.App.Writer, s) },
	}
	if err := loadPrices(c, cfg, bt, &opts); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	db, err := store.NewSQLiteStore(sqlitePath(cfg))
	if err != nil {
		return err
	}
	defer db.Close()
	opts.Storage = db

	rep, runErr := mqlbt.Backtest(c.Context, src, opts)
	if rep == nil {
		return runErr
	}
	printReport(c, rep)

	run := &store.Run{
		ID:           rep.RunID,
		Script:       filepath.Base(path),
		Symbol:       bt.Symbol,
		Bars:         rep.Bars,
		Orders:       len(rep.Orders),
		Balance:      rep.Account.Balance,
		Equity:       rep.Account.Equity,
		ClosedProfit: rep.Account.ClosedProfit,
		FinishedAt:   time.Now().Unix(),
	}
	if err := db.SaveRun(c.Context, run); err != nil {
		logger.Warn("saving run", "run_id", rep.RunID, "error", err)
	}
	if c.Bool("export") {
		pq := store.NewParquetStore(cfg.Storage.DataDir)
		if err := pq.WriteOrders(c.Context, rep.RunID, rep.Orders); err != nil {
			return errors.Join(runErr, err)
		}
		logger.Info("orders exported", "run_id", rep.RunID, "orders", len(rep.Orders))
	}
	return runErr
}

// loadPrices fills the price history of opts from the tick CSV, the
// candle CSV, or the Parquet tick store, in that order of preference.
func loadPrices(c *cli.Context, cfg *config.Config, bt config.Backtest, opts *mqlbt.Options) error {
	switch {
	case c.IsSet("ticks"):
		ticks, err := market.LoadTickCSV(c.String("ticks"))
		if err != nil {
			return err
		}
		opts.Ticks = map[string][]market.Tick{bt.Symbol: ticks}
	case bt.CandlesCSV != "":
		candles, err := market.LoadCSV(bt.CandlesCSV)
		if err != nil {
			return err
		}
		opts.Candles = map[string][]market.Candle{bt.Symbol: candles}
	default:
		if !c.IsSet("from") || !c.IsSet("to") {
			return cli.Exit("no prices: give --candles, --ticks, or --from and --to for the tick store", 2)
		}
		from, err := market.ParseTime(c.String("from"))
		if err != nil {
			return err
		}
		to, err := market.ParseTime(c.String("to"))
		if err != nil {
			return err
		}
		ticks, err := store.NewParquetStore(ticksDir(cfg)).ReadTicks(c.Context, bt.Symbol, from, to)
		if err != nil {
			return err
		}
		opts.Ticks = map[string][]market.Tick{bt.Symbol: ticks}
	}
	return nil
}

func printReport(c *cli.Context, rep *mqlbt.Report) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", rep.RunID)
	fmt.Fprintf(w, "bars\t%d\n", rep.Bars)
	fmt.Fprintf(w, "orders\t%d\n", len(rep.Orders))
	fmt.Fprintf(w, "balance\t%.2f %s\n", rep.Account.Balance, rep.Account.Currency)
	fmt.Fprintf(w, "equity\t%.2f\n", rep.Account.Equity)
	fmt.Fprintf(w, "closed profit\t%.2f\n", rep.Account.ClosedProfit)
	fmt.Fprintf(w, "open profit\t%.2f\n", rep.Account.OpenProfit)
	w.Flush()
}

// ---------------------------------------------------------------------------
// ticks
// ---------------------------------------------------------------------------

var ticksCommand = &cli.Command{
	Name:  "ticks",
	Usage: "manage the Parquet tick store",
	Subcommands: []*cli.Command{
		{
			Name:      "import",
			Usage:     "convert a tick CSV into the tick store",
			ArgsUsage: "<csv>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "symbol", Required: true, Usage: "symbol of the ticks"},
			},
			Action: func(c *cli.Context) error {
				cfg, logger, err := setup(c)
				if err != nil {
					return err
				}
				if c.NArg() != 1 {
					return cli.Exit("expected exactly one CSV path", 2)
				}
				ticks, err := market.LoadTickCSV(c.Args().First())
				if err != nil {
					return err
				}
				symbol := c.String("symbol")
				if err := store.NewParquetStore(ticksDir(cfg)).WriteTicks(c.Context, symbol, ticks); err != nil {
					return err
				}
				logger.Info("ticks imported", "symbol", symbol, "ticks", len(ticks))
				return nil
			},
		},
		{
			Name:  "symbols",
			Usage: "list the symbols in the tick store",
			Action: func(c *cli.Context) error {
				cfg, _, err := setup(c)
				if err != nil {
					return err
				}
				symbols, err := store.NewParquetStore(ticksDir(cfg)).ListSymbols(c.Context)
				if err != nil {
					return err
				}
				for _, s := range symbols {
					fmt.Fprintln(c.App.Writer, s)
				}
				return nil
			},
		},
	},
}

// ---------------------------------------------------------------------------
// runs
// ---------------------------------------------------------------------------

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "list recent backtest runs",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of runs to show"},
	},
	Action: func(c *cli.Context) error {
		cfg, _, err := setup(c)
		if err != nil {
			return err
		}
		db, err := store.NewSQLiteStore(sqlitePath(cfg))
		if err != nil {
			return err
		}
		defer db.Close()
		runs, err := db.ListRuns(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FINISHED\tSCRIPT\tSYMBOL\tBARS\tORDERS\tBALANCE\tRUN")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\t%s\n",
				time.Unix(r.FinishedAt, 0).UTC().Format(time.DateTime),
				r.Script, r.Symbol, r.Bars, r.Orders, r.Balance, r.ID)
		}
		return w.Flush()
	},
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func readScript(c *cli.Context) (string, string, error) {
	if c.NArg() != 1 {
		return "", "", cli.Exit(errUsage.Error(), 2)
	}
	path := c.Args().First()
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return path, string(b), nil
}

// provider resolves imports next to the script, then in its Include
// directory, then in the extra directories.
func provider(script string, extra []string) preprocess.FileProvider {
	dir := filepath.Dir(script)
	dirs := append([]string{dir, filepath.Join(dir, "Include")}, extra...)
	return preprocess.DirProvider(dirs...)
}

// parseInputs merges name=value overrides over the configured inputs.
func parseInputs(base map[string]string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("input %q: want name=value", p)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}

func sqlitePath(cfg *config.Config) string {
	if cfg.Storage.SQLitePath != "" {
		return cfg.Storage.SQLitePath
	}
	return filepath.Join(cfg.Storage.DataDir, backtest.GlobalsFile)
}

func ticksDir(cfg *config.Config) string {
	if cfg.Backtest.TicksDir != "" {
		return cfg.Backtest.TicksDir
	}
	return cfg.Storage.DataDir
}

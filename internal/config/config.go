package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for mqlbt.
type Config struct {
	Backtest Backtest `yaml:"backtest"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
}

// Backtest holds the defaults of a backtest run.
type Backtest struct {
	Symbol           string            `yaml:"symbol"`
	Timeframe        int               `yaml:"timeframe"` // minutes; 0 uses the data's period
	InitialBalance   float64           `yaml:"initial_balance"`
	InitialMargin    float64           `yaml:"initial_margin"`
	Currency         string            `yaml:"currency"`
	Leverage         int64             `yaml:"leverage"`
	CandlesCSV       string            `yaml:"candles_csv"`
	TicksDir         string            `yaml:"ticks_dir"`
	Inputs           map[string]string `yaml:"inputs"`
	WarningsAsErrors bool              `yaml:"warnings_as_errors"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backtest: Backtest{
			Symbol:         "EURUSD",
			InitialBalance: 10000,
			Currency:       "USD",
			Leverage:       100,
		},
		Storage: Storage{DataDir: "data"},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, and then applies environment variable overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQLBT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MQLBT_SYMBOL"); v != "" {
		cfg.Backtest.Symbol = v
	}

	if v := os.Getenv("MQLBT_INITIAL_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.InitialBalance = f
		}
	}
}

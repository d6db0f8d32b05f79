package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mqlbt.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
backtest:
  symbol: "GBPUSD"
  timeframe: 60
  initial_balance: 5000
  initial_margin: 100
  currency: "EUR"
  candles_csv: "data/gbpusd_h1.csv"
  ticks_dir: "data/ticks"
  inputs:
    Period: "20"
    Lots: "0.5"
  warnings_as_errors: true
storage:
  data_dir: "/tmp/mqlbt/data"
  sqlite_path: "/tmp/mqlbt/globals.db"
logging:
  level: "debug"
  format: "text"
`)
	for _, k := range []string{"MQLBT_DATA_DIR", "SQLITE_PATH", "LOG_LEVEL", "MQLBT_SYMBOL", "MQLBT_INITIAL_BALANCE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Backtest --
	bt := cfg.Backtest
	if bt.Symbol != "GBPUSD" {
		t.Errorf("Backtest.Symbol = %q, want %q", bt.Symbol, "GBPUSD")
	}
	if bt.Timeframe != 60 {
		t.Errorf("Backtest.Timeframe = %d, want 60", bt.Timeframe)
	}
	if bt.InitialBalance != 5000 || bt.InitialMargin != 100 {
		t.Errorf("Backtest balance/margin = %v/%v, want 5000/100", bt.InitialBalance, bt.InitialMargin)
	}
	if bt.Currency != "EUR" {
		t.Errorf("Backtest.Currency = %q, want %q", bt.Currency, "EUR")
	}
	if bt.Leverage != 100 {
		t.Errorf("Backtest.Leverage = %d, want the default 100", bt.Leverage)
	}
	if bt.Inputs["Period"] != "20" || bt.Inputs["Lots"] != "0.5" {
		t.Errorf("Backtest.Inputs = %v", bt.Inputs)
	}
	if !bt.WarningsAsErrors {
		t.Error("Backtest.WarningsAsErrors = false, want true")
	}
	if bt.CandlesCSV != "data/gbpusd_h1.csv" || bt.TicksDir != "data/ticks" {
		t.Errorf("Backtest data paths = %q, %q", bt.CandlesCSV, bt.TicksDir)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/mqlbt/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/mqlbt/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/mqlbt/globals.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/mqlbt/globals.db")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MQLBT_SYMBOL", "")
	t.Setenv("MQLBT_INITIAL_BALANCE", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MQLBT_DATA_DIR", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Backtest.Symbol != "EURUSD" || cfg.Backtest.InitialBalance != 10000 {
		t.Errorf("defaults = %+v", cfg.Backtest)
	}
	if cfg.Logging.Level != "info" || cfg.Storage.DataDir != "data" {
		t.Errorf("defaults: logging %+v, storage %+v", cfg.Logging, cfg.Storage)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "backtest:\n  symbol: \"GBPUSD\"\n")

	t.Setenv("MQLBT_DATA_DIR", "/env/data")
	t.Setenv("SQLITE_PATH", "/env/globals.db")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("MQLBT_SYMBOL", "XAUUSD")
	t.Setenv("MQLBT_INITIAL_BALANCE", "250.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"data dir", cfg.Storage.DataDir, "/env/data"},
		{"sqlite path", cfg.Storage.SQLitePath, "/env/globals.db"},
		{"log level", cfg.Logging.Level, "warn"},
		{"symbol", cfg.Backtest.Symbol, "XAUUSD"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if cfg.Backtest.InitialBalance != 250.5 {
		t.Errorf("InitialBalance = %v, want 250.5", cfg.Backtest.InitialBalance)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file returned no error")
	}
	if _, err := Load(writeConfig(t, "backtest: [unclosed")); err == nil {
		t.Error("Load of invalid YAML returned no error")
	}
}

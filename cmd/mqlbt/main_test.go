package main

import (
	"path/filepath"
	"testing"

	"mqlbt/internal/config"
)

func TestParseInputs(t *testing.T) {
	got, err := parseInputs(map[string]string{"Lots": "0.1", "Period": "14"}, []string{"Period=20", " Name =a=b"})
	if err != nil {
		t.Fatalf("parseInputs: %v", err)
	}
	want := map[string]string{"Lots": "0.1", "Period": "20", "Name": "a=b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	if _, err := parseInputs(nil, []string{"novalue"}); err == nil {
		t.Error("expected an error for a pair without '='")
	}
}

func TestStoragePaths(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = "data"

	if got, want := sqlitePath(cfg), filepath.Join("data", "globals.db"); got != want {
		t.Errorf("sqlitePath = %q, want %q", got, want)
	}
	if got := ticksDir(cfg); got != "data" {
		t.Errorf("ticksDir = %q, want %q", got, "data")
	}

	cfg.Storage.SQLitePath = "/tmp/x.db"
	cfg.Backtest.TicksDir = "ticks"
	if got := sqlitePath(cfg); got != "/tmp/x.db" {
		t.Errorf("sqlitePath = %q, want /tmp/x.db", got)
	}
	if got := ticksDir(cfg); got != "ticks" {
		t.Errorf("ticksDir = %q, want ticks", got)
	}
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"mqlbt/internal/terminal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ terminal.Storage = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS global_variables (
	name       TEXT PRIMARY KEY,
	value      REAL NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	script        TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	bars          INTEGER NOT NULL,
	orders        INTEGER NOT NULL,
	balance       REAL NOT NULL,
	equity        REAL NOT NULL,
	closed_profit REAL NOT NULL,
	finished_at   INTEGER NOT NULL
);`

// SQLiteStore persists terminal global variables and run summaries in a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// terminal.Storage implementation
// ---------------------------------------------------------------------------

// LoadGlobals returns every stored global variable.
func (s *SQLiteStore) LoadGlobals() (map[string]terminal.Global, error) {
	rows, err := s.db.Query(`SELECT name, value, updated_at FROM global_variables`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]terminal.Global)
	for rows.Next() {
		var (
			name string
			g    terminal.Global
		)
		if err := rows.Scan(&name, &g.Value, &g.Time); err != nil {
			return nil, err
		}
		out[name] = g
	}
	return out, rows.Err()
}

// SaveGlobals replaces the stored global variables with globals.
func (s *SQLiteStore) SaveGlobals(globals map[string]terminal.Global) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM global_variables`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO global_variables (name, value, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for name, g := range globals {
		if _, err := stmt.Exec(name, g.Value, g.Time); err != nil {
			return fmt.Errorf("saving global %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a run summary.
func (s *SQLiteStore) SaveRun(ctx context.Context, r *Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, script, symbol, bars, orders, balance, equity, closed_profit, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Script, r.Symbol, r.Bars, r.Orders, r.Balance, r.Equity, r.ClosedProfit, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, script, symbol, bars, orders, balance, equity, closed_profit, finished_at
		FROM runs ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Script, &r.Symbol, &r.Bars, &r.Orders, &r.Balance, &r.Equity, &r.ClosedProfit, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

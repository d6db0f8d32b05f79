// Package terminal simulates the client terminal a script runs in: global
// variables, a private file area, timers and custom chart events. All state
// belongs to one Terminal, which lives for one backtest run.
package terminal

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Retention is how long, in seconds, a global variable survives after it was
// last set.
const Retention int64 = 4 * 7 * 24 * 60 * 60

// Global is a terminal global variable.
type Global struct {
	Value float64
	Time  int64 // Unix seconds of the last set
}

// Storage persists global variables between runs.
type Storage interface {
	LoadGlobals() (map[string]Global, error)
	SaveGlobals(globals map[string]Global) error
}

// Terminal is the per-run terminal state. The clock is the simulated time
// set by the backtest through SetTime.
type Terminal struct {
	now     int64
	globals map[string]Global
	storage Storage
	logger  *slog.Logger

	files   map[string][]byte
	handles map[int]*handle
	nextFD  int

	timer  timer
	events []ChartEvent
}

// Option configures New.
type Option func(*Terminal)

// WithStorage sets the global-variable store used by Load and Flush.
func WithStorage(s Storage) Option {
	return func(t *Terminal) { t.storage = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Terminal) { t.logger = l }
}

// New returns an empty Terminal.
func New(opts ...Option) *Terminal {
	t := &Terminal{
		globals: make(map[string]Global),
		files:   make(map[string][]byte),
		handles: make(map[int]*handle),
		nextFD:  1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetTime moves the terminal clock to sec.
func (t *Terminal) SetTime(sec int64) { t.now = sec }

// Now returns the terminal clock.
func (t *Terminal) Now() int64 { return t.now }

// ---------------------------------------------------------------------------
// Global variables
// ---------------------------------------------------------------------------

// expired is the single retention rule shared by reads and Flush.
func expired(g Global, now int64) bool {
	return now-g.Time > Retention
}

// lookup returns a live global, dropping it when it has expired.
func (t *Terminal) lookup(name string) (Global, bool) {
	g, ok := t.globals[name]
	if !ok {
		return Global{}, false
	}
	if expired(g, t.now) {
		delete(t.globals, name)
		return Global{}, false
	}
	return g, true
}

func (t *Terminal) purge() {
	for name, g := range t.globals {
		if expired(g, t.now) {
			delete(t.globals, name)
		}
	}
}

// GlobalSet stores value under name and returns the set time.
func (t *Terminal) GlobalSet(name string, value float64) int64 {
	t.globals[name] = Global{Value: value, Time: t.now}
	return t.now
}

// GlobalGet returns the value of a live global.
func (t *Terminal) GlobalGet(name string) (float64, bool) {
	g, ok := t.lookup(name)
	return g.Value, ok
}

// GlobalCheck reports whether a live global exists.
func (t *Terminal) GlobalCheck(name string) bool {
	_, ok := t.lookup(name)
	return ok
}

// GlobalTime returns when a live global was last set.
func (t *Terminal) GlobalTime(name string) (int64, bool) {
	g, ok := t.lookup(name)
	return g.Time, ok
}

// GlobalDel removes a global and reports whether it existed.
func (t *Terminal) GlobalDel(name string) bool {
	_, ok := t.lookup(name)
	delete(t.globals, name)
	return ok
}

// GlobalSetOnCondition sets name to value only when its current value equals
// check.
func (t *Terminal) GlobalSetOnCondition(name string, value, check float64) bool {
	g, ok := t.lookup(name)
	if !ok || g.Value != check {
		return false
	}
	t.GlobalSet(name, value)
	return true
}

// GlobalsDeleteAll removes globals whose name starts with prefix and, when
// before is positive, that were last set before it. It returns the count.
func (t *Terminal) GlobalsDeleteAll(prefix string, before int64) int {
	t.purge()
	n := 0
	for name, g := range t.globals {
		if !strings.HasPrefix(name, prefix) || (before > 0 && g.Time >= before) {
			continue
		}
		delete(t.globals, name)
		n++
	}
	return n
}

// GlobalNames returns the live global names, sorted.
func (t *Terminal) GlobalNames() []string {
	t.purge()
	names := make([]string, 0, len(t.globals))
	for name := range t.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Globals returns a copy of the live globals.
func (t *Terminal) Globals() map[string]Global {
	t.purge()
	out := make(map[string]Global, len(t.globals))
	for name, g := range t.globals {
		out[name] = g
	}
	return out
}

// Load reads persisted globals, skipping expired ones. It is a no-op without
// storage.
func (t *Terminal) Load() error {
	if t.storage == nil {
		return nil
	}
	loaded, err := t.storage.LoadGlobals()
	if err != nil {
		return fmt.Errorf("loading globals: %w", err)
	}
	for name, g := range loaded {
		if !expired(g, t.now) {
			t.globals[name] = g
		}
	}
	t.logger.Debug("globals loaded", "count", len(t.globals))
	return nil
}

// Flush writes the live globals to storage. It is a no-op without storage.
func (t *Terminal) Flush() error {
	if t.storage == nil {
		return nil
	}
	live := t.Globals()
	if err := t.storage.SaveGlobals(live); err != nil {
		return fmt.Errorf("saving globals: %w", err)
	}
	t.logger.Debug("globals flushed", "count", len(live))
	return nil
}

// Package mqlbt is the host API for compiling trading scripts, calling
// their functions and backtesting them over historical prices.
package mqlbt

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mqlbt/internal/backtest"
	"mqlbt/internal/compiler"
	"mqlbt/internal/market"
	"mqlbt/internal/runtime"
)

type (
	// CompileOptions configures Compile and Interpret.
	CompileOptions = compiler.Options
	// CompileResult holds the declarations, diagnostics and runtime of a
	// compiled source.
	CompileResult = compiler.Result
	// Context selects the entry point Interpret calls.
	Context = compiler.Context
	// Runtime is a loaded program.
	Runtime = runtime.Runtime
	// Registry maps builtin names to host functions.
	Registry = runtime.Registry
	// BuiltinFunc is a host function callable from scripts.
	BuiltinFunc = runtime.BuiltinFunc

	// Options configures a backtest.
	Options = backtest.Options
	// Report is the outcome of a backtest.
	Report = backtest.Report
	// Runner steps a backtest bar by bar.
	Runner = backtest.Runner

	Candle = market.Candle
	Tick   = market.Tick
)

// Compile preprocesses, parses and checks source and builds its runtime.
func Compile(source string, opts CompileOptions) *CompileResult {
	return compiler.Compile(source, opts)
}

// Interpret compiles source, refusing it on any error, and calls the entry
// point named by ctx.
func Interpret(source string, ctx Context, opts CompileOptions) (*Runtime, error) {
	return compiler.Interpret(source, ctx, opts)
}

// NewRunner compiles source for a backtest the caller steps itself.
func NewRunner(source string, opts Options) (*Runner, error) {
	return backtest.New(source, opts)
}

// Backtest runs source over the prices in opts. Cancelling ctx stops the
// run between bars; the partial report is returned with the context error.
func Backtest(ctx context.Context, source string, opts Options) (*Report, error) {
	r, err := backtest.New(source, opts)
	if err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			stopErr := r.Stop()
			if stopErr != nil {
				return r.Report(), fmt.Errorf("%w (stopping: %v)", err, stopErr)
			}
			return r.Report(), err
		}
		more, err := r.Step()
		if err != nil {
			if stopErr := r.Stop(); stopErr != nil {
				err = fmt.Errorf("%w (stopping: %v)", err, stopErr)
			}
			return r.Report(), err
		}
		if !more {
			return r.Report(), nil
		}
	}
}

// Sweep backtests source once per input set, at most parallel runs at a
// time. Reports are returned in the order of inputs. Each run gets its own
// runner; base.Storage is shared and must be safe for concurrent use, and
// base.DataDir should be empty since every run would open the same SQLite
// file.
func Sweep(ctx context.Context, source string, base Options, inputs []map[string]string, parallel int) ([]*Report, error) {
	if parallel <= 0 {
		parallel = 1
	}
	reports := make([]*Report, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, in := range inputs {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		opts := base
		opts.Inputs = merge(base.Inputs, in)
		g.Go(func() error {
			rep, err := Backtest(gctx, source, opts)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func merge(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

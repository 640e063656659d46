// Package query executes SpeakQuery queries.
//
// The Engine resolves the search part of a query into a dataset (index
// files, time window, row filter, union of blocks), then threads that
// dataset through the directive pipeline. Directives are compiled before
// any data is read: malformed arguments abort the query with a
// DirectiveArgumentError. A directive that fails against the data yields a
// DirectiveRuntimeError, is logged, and leaves the dataset unchanged.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"speakquery/internal/config"
	"speakquery/internal/dataset"
	"speakquery/internal/jobstore"
	"speakquery/internal/logging"
	"speakquery/internal/lookup"
	"speakquery/internal/querylang"
	"speakquery/internal/resolver"
)

// Config wires an Engine to its data sources.
type Config struct {
	Resolver *resolver.Resolver
	Lookups  *lookup.Registry // nil disables lookup directives
	Jobs     *jobstore.Store  // nil disables loadjob

	// Macros maps a macro name to pipeline text; $name$ placeholders are
	// replaced by call arguments.
	Macros map[string]string

	// MaxGroups caps the distinct groups of one aggregation.
	// Zero means config.DefaultMaxGroups.
	MaxGroups int

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine runs queries. It is safe for concurrent use; per-query state lives
// in an ExecutionContext.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	macros map[string]Macro
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.MaxGroups <= 0 {
		cfg.MaxGroups = config.DefaultMaxGroups
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "query-engine"),
		macros: builtinMacros(),
	}
	for name, body := range cfg.Macros {
		e.macros[strings.ToLower(name)] = textMacro(body)
	}
	return e
}

// RegisterMacro adds or replaces a macro. Not safe to call while queries
// are running.
func (e *Engine) RegisterMacro(name string, m Macro) {
	e.macros[strings.ToLower(name)] = m
}

// Result is the outcome of a query together with its non-fatal problems.
type Result struct {
	Data     *dataset.Dataset
	Warnings []*resolver.ResolutionWarning
	Failures []*DirectiveRuntimeError
}

// Execute parses and runs a query and returns its dataset.
func (e *Engine) Execute(ctx context.Context, query string) (*dataset.Dataset, error) {
	res, err := e.Run(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Run parses and runs a query.
func (e *Engine) Run(ctx context.Context, query string) (*Result, error) {
	q, err := querylang.Parse(query)
	if err != nil {
		return nil, err
	}
	return e.RunQuery(ctx, q)
}

// RunQuery runs a parsed query.
func (e *Engine) RunQuery(ctx context.Context, q *querylang.Query) (*Result, error) {
	start := time.Now()
	ec := newExecutionContext(e.cfg.Now())
	e.logger.Info("query started", "query", q.String())

	ds, err := e.run(ctx, q, ec)
	if err != nil {
		e.logger.Info("query failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	e.logger.Info("query finished",
		"rows", ds.Len(),
		"columns", len(ds.Columns),
		"warnings", len(ec.Warnings),
		"failures", len(ec.Failures),
		"elapsed", time.Since(start))
	return &Result{Data: ds, Warnings: ec.Warnings, Failures: ec.Failures}, nil
}

// run compiles and executes q within ec.
func (e *Engine) run(ctx context.Context, q *querylang.Query, ec *ExecutionContext) (*dataset.Dataset, error) {
	p, err := e.compileQuery(q, 0)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, p, ec)
}

// rowKey identifies a physical row across filter blocks.
type rowKey struct {
	file   string
	offset int
}

// search resolves the pre-pipe search: one resolution per filter block,
// each row filtered by its block's filter, blocks unioned with every
// physical row kept once.
func (e *Engine) search(ctx context.Context, search querylang.Node, ec *ExecutionContext) (*dataset.Dataset, error) {
	if e.cfg.Resolver == nil {
		return nil, fmt.Errorf("index resolver: %w", ErrNotConfigured)
	}
	blocks, err := querylang.ExtractBlocks(search, ec.Now)
	if err != nil {
		return nil, err
	}

	out := dataset.New()
	seen := make(map[rowKey]bool)
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.cfg.Resolver.Resolve(ctx, block)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", block, err)
		}
		ec.Warnings = append(ec.Warnings, res.Warnings...)

		for _, b := range res.Batches {
			for _, c := range b.Data.Columns {
				out.AddColumn(c)
			}
			for i, row := range b.Data.Rows {
				key := rowKey{file: b.File, offset: b.Offsets[i]}
				if seen[key] || !ec.eval.Match(block.Filter, row) {
					continue
				}
				seen[key] = true
				out.Rows = append(out.Rows, row)
			}
		}
	}
	e.logger.Debug("search resolved", "blocks", len(blocks), "rows", out.Len())
	return out, nil
}

// subsearch runs a compiled subsearch as an independent query in a child
// context.
func (e *Engine) subsearch(ctx context.Context, sub *plan, ec *ExecutionContext) (*dataset.Dataset, error) {
	child, err := ec.child()
	if err != nil {
		return nil, err
	}
	ds, err := e.execute(ctx, sub, child)
	ec.absorb(child)
	if err != nil {
		return nil, fmt.Errorf("subsearch: %w", err)
	}
	return ds, nil
}

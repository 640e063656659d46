package query

import (
	"context"
	"fmt"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// plan is a compiled query: a source (search or generator) plus its
// pipeline. Subsearches are compiled into plans together with their parent,
// so argument errors anywhere abort the whole query before data is read.
type plan struct {
	query  *querylang.Query
	source op // generating directive; nil when the query has a search
	stages pipeline
}

// compileQuery compiles q. depth counts macro expansions.
func (e *Engine) compileQuery(q *querylang.Query, depth int) (*plan, error) {
	p := &plan{query: q}
	if q.Source != nil {
		src, err := e.compileDirective(q.Source, depth)
		if err != nil {
			return nil, err
		}
		p.source = src
	}
	stages, err := e.compile(q.Directives, depth)
	if err != nil {
		return nil, err
	}
	p.stages = stages
	return p, nil
}

// execute runs a compiled plan.
func (e *Engine) execute(ctx context.Context, p *plan, ec *ExecutionContext) (*dataset.Dataset, error) {
	var (
		ds  *dataset.Dataset
		err error
	)
	switch {
	case p.source != nil:
		// A failing generator has no previous dataset to fall back on.
		ds, err = p.source.apply(ctx, dataset.New(), ec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.query.Source.Name, err)
		}
	case p.query.Search != nil:
		ds, err = e.search(ctx, p.query.Search, ec)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoSearch
	}
	return e.runPipeline(ctx, ds, p.stages, ec)
}

// Plan describes how a query will run without reading any data.
type Plan struct {
	Query  string
	Blocks []querylang.FilterBlock // empty for generating queries
	Source string                  // generating directive, if any
	Stages []string                // directives after macro expansion
}

// Explain parses and compiles a query and reports its filter blocks and
// pipeline stages. It fails exactly when Run would fail before reading data.
func (e *Engine) Explain(query string) (*Plan, error) {
	q, err := querylang.Parse(query)
	if err != nil {
		return nil, err
	}
	p, err := e.compileQuery(q, 0)
	if err != nil {
		return nil, err
	}
	out := &Plan{Query: q.String()}
	if q.Search != nil {
		out.Blocks, err = querylang.ExtractBlocks(q.Search, e.cfg.Now())
		if err != nil {
			return nil, err
		}
	}
	if q.Source != nil {
		out.Source = q.Source.String()
	}
	for _, s := range p.stages {
		out.Stages = append(out.Stages, s.dir.String())
	}
	return out, nil
}

package query

import (
	"context"
	"errors"
	"maps"
	"slices"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// op is a compiled directive. apply returns the dataset for the next stage.
// An op either succeeds or returns an error with ds unchanged: all work
// that can fail is done before ds is touched.
type op interface {
	apply(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error)
}

// opFunc adapts a function to op.
type opFunc func(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error)

func (f opFunc) apply(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
	return f(ctx, ds, ec)
}

// rowFunc builds an op that rewrites rows in place. fn computes the new
// cells for one row; they are committed only after every row succeeded.
func rowFunc(fn func(row dataset.Row, ec *ExecutionContext) (dataset.Row, error)) op {
	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			u, err := fn(row, ec)
			if err != nil {
				return nil, err
			}
			updates[i] = u
		}
		commitUpdates(ds, updates)
		return ds, nil
	})
}

// commitUpdates writes per-row cell updates. Columns not yet present are
// added in name order; callers wanting another order add them first.
func commitUpdates(ds *dataset.Dataset, updates []dataset.Row) {
	for i, u := range updates {
		for _, k := range slices.Sorted(maps.Keys(u)) {
			ds.AddColumn(k)
			ds.Rows[i][k] = u[k]
		}
	}
}

// stage is one compiled directive in a pipeline.
type stage struct {
	dir *querylang.Directive
	op  op
}

type pipeline []stage

// compile compiles directives in order, splicing in macro expansions.
func (e *Engine) compile(dirs []*querylang.Directive, depth int) (pipeline, error) {
	p := make(pipeline, 0, len(dirs))
	for _, d := range dirs {
		if d.Name == querylang.MacroDirective {
			expanded, err := e.expandMacro(d, depth)
			if err != nil {
				return nil, err
			}
			sub, err := e.compile(expanded, depth+1)
			if err != nil {
				return nil, err
			}
			p = append(p, sub...)
			continue
		}
		o, err := e.compileDirective(d, depth)
		if err != nil {
			return nil, err
		}
		p = append(p, stage{dir: d, op: o})
	}
	return p, nil
}

// compileDirective compiles one directive. Names with no handler are
// compiled as expressions.
func (e *Engine) compileDirective(d *querylang.Directive, depth int) (op, error) {
	compile, ok := directives[d.Name]
	if !ok {
		compile = compileExpression
	}
	o, err := compile(e, d, depth)
	if err != nil {
		var ae *DirectiveArgumentError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, argError(d, err)
	}
	return o, nil
}

// runPipeline applies stages in order. The context is checked between
// stages. A stage that fails is recorded and skipped.
func (e *Engine) runPipeline(ctx context.Context, ds *dataset.Dataset, p pipeline, ec *ExecutionContext) (*dataset.Dataset, error) {
	for _, s := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.op.apply(ctx, ds, ec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			rerr := &DirectiveRuntimeError{Directive: s.dir.Name, Pos: s.dir.Pos, Err: err}
			e.logger.Warn("directive failed", "directive", s.dir.String(), "error", err)
			ec.Failures = append(ec.Failures, rerr)
			continue
		}
		ds = out
	}
	return ds, nil
}

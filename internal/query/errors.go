package query

import (
	"errors"
	"fmt"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

var (
	// ErrTooManyGroups is returned when an aggregation exceeds the group
	// cardinality limit.
	ErrTooManyGroups = errors.New("too many groups")
	// ErrUnknownMacro is returned for a macro call with no registered macro.
	ErrUnknownMacro = errors.New("unknown macro")
	// ErrMacroDepth is returned when macros expand into each other too deeply.
	ErrMacroDepth = errors.New("macro expansion too deep")
	// ErrSubsearchDepth is returned when subsearches nest too deeply.
	ErrSubsearchDepth = errors.New("subsearch nesting too deep")
	// ErrNoSearch is returned when a query has neither a search nor a
	// generating directive.
	ErrNoSearch = errors.New("query has no search")
	// ErrNotConfigured is returned when a directive needs a component the
	// engine was built without.
	ErrNotConfigured = errors.New("not configured")
)

// DirectiveArgumentError reports malformed directive arguments. It is found
// while compiling the pipeline and aborts the query.
type DirectiveArgumentError struct {
	Directive string
	Pos       int
	Message   string
	Err       error
}

func (e *DirectiveArgumentError) Error() string {
	return fmt.Sprintf("%s at position %d: %s", e.Directive, e.Pos, e.Message)
}

func (e *DirectiveArgumentError) Unwrap() error {
	return e.Err
}

// argErrorf builds a DirectiveArgumentError for d.
func argErrorf(d *querylang.Directive, format string, args ...any) *DirectiveArgumentError {
	return &DirectiveArgumentError{Directive: d.Name, Pos: d.Pos, Message: fmt.Sprintf(format, args...)}
}

// argError wraps err as a DirectiveArgumentError for d.
func argError(d *querylang.Directive, err error) *DirectiveArgumentError {
	return &DirectiveArgumentError{Directive: d.Name, Pos: d.Pos, Message: err.Error(), Err: err}
}

// DirectiveRuntimeError reports a directive that failed against the data.
// The pipeline logs it and passes the previous dataset through.
type DirectiveRuntimeError struct {
	Directive string
	Pos       int
	Err       error
}

func (e *DirectiveRuntimeError) Error() string {
	return fmt.Sprintf("%s at position %d: %v", e.Directive, e.Pos, e.Err)
}

func (e *DirectiveRuntimeError) Unwrap() error {
	return e.Err
}

// missingColumn is the runtime error for a column that does not exist.
func missingColumn(name string) error {
	return &dataset.MissingColumnError{Name: name}
}

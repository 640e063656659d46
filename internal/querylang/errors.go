package querylang

import (
	"errors"
	"fmt"
)

// Lexer errors.
var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrUnterminatedRaw    = errors.New("unterminated raw literal")
	ErrInvalidGlob        = errors.New("invalid glob pattern")
)

// Parser errors.
var (
	ErrEmptyQuery      = errors.New("empty query")
	ErrUnmatchedParen  = errors.New("unmatched parenthesis")
	ErrUnexpectedToken = errors.New("unexpected token")
	ErrUnexpectedEOF   = errors.New("unexpected end of query")
	ErrNoIndex         = errors.New("query names no index")
	ErrNegatedIndex    = errors.New("index or time bound under NOT")
)

// SyntaxError provides detailed error information including position.
// A syntax error aborts the whole query.
type SyntaxError struct {
	Pos     int    // byte offset in input
	Message string // human-readable error message
	Err     error  // underlying sentinel error (for errors.Is)
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// newSyntaxError creates a SyntaxError with the given position and sentinel error.
func newSyntaxError(pos int, err error, msgFmt string, args ...any) *SyntaxError {
	return &SyntaxError{
		Pos:     pos,
		Message: fmt.Sprintf(msgFmt, args...),
		Err:     err,
	}
}

package lm

import (
	"errors"
	"fmt"
)

var (
	ErrModelClosed       = errors.New("model is closed")
	ErrForeignState      = errors.New("state was produced by a different model")
	ErrWordOutOfRange    = errors.New("word index out of range")
	ErrUnsupportedOrder  = errors.New("unsupported n-gram order")
	ErrUnsupportedFormat = errors.New("unsupported model format")
)

// LoadError is returned by Load for any failure. No model is returned
// alongside it.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// FormatError reports malformed model data.
type FormatError struct {
	// Line is the 1-based line number in ARPA input, or 0 for binary input.
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}

	return e.Msg
}

func formatErrorf(line int, format string, args ...any) error {
	return &FormatError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds of a cache run. The typed errors
// below match them through errors.Is.
var (
	// ErrParse indicates a malformed or missing required element in an XML document
	ErrParse = errors.New("parse error")

	// ErrFormat indicates a sensor text line that could not be decoded
	ErrFormat = errors.New("format error")

	// ErrNotFound indicates a referenced file or directory does not exist
	ErrNotFound = errors.New("not found")

	// ErrWrite indicates a cache table could not be fully persisted
	ErrWrite = errors.New("write error")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingElement indicates a required element is absent from a document
	ErrMissingElement = errors.New("required element missing")

	// ErrItemsSkipped is returned by a run that completed but skipped items
	ErrItemsSkipped = errors.New("completed with skipped items")
)

// ParseError describes a structural problem in the export or a route document.
type ParseError struct {
	Path    string // document the problem was found in
	Element string // element being read, e.g. "trkpt[12]"
	Field   string // offending attribute or child, if any
	Err     error
}

func (e *ParseError) Error() string {
	msg := "parse"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Element != "" {
		msg += ": " + e.Element
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// FormatError reports a sensor text line that failed numeric decoding.
type FormatError struct {
	Line int // 1-based line number
	Text string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// NotFoundError reports a missing route document or sensor directory.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Path
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// WriteError reports a cache table that could not be persisted.
type WriteError struct {
	Table string
	Path  string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write table %s (%s): %v", e.Table, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// Package db implements the public embedded key-value store: Open/Close,
// Put/Delete/Write, Get, snapshots, range iteration, compaction control, and
// size estimation, on top of the internal memtable/WAL/SSTable/version
// machinery (§4.11, §6).
package db

import (
	"errors"
	"fmt"
)

// Code classifies an error into the taxonomy a caller should branch on,
// rather than on the specific error value (§7). NotFound is not returned
// through this type: a missing key is reported as a nil value, not an error.
type Code int

const (
	CodeCorruption Code = iota + 1
	CodeIoError
	CodeInvalidArgument
	CodeNotSupported
	CodeShuttingDown
)

func (c Code) String() string {
	switch c {
	case CodeCorruption:
		return "corruption"
	case CodeIoError:
		return "io error"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeNotSupported:
		return "not supported"
	case CodeShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// Sentinels matching each Code, for errors.Is checks against a class rather
// than a specific wrapped message.
var (
	ErrCorruption      = errors.New("db: corruption")
	ErrIoError         = errors.New("db: io error")
	ErrInvalidArgument = errors.New("db: invalid argument")
	ErrNotSupported    = errors.New("db: not supported")
	ErrShuttingDown    = errors.New("db: shutting down")
)

func sentinelFor(c Code) error {
	switch c {
	case CodeCorruption:
		return ErrCorruption
	case CodeIoError:
		return ErrIoError
	case CodeInvalidArgument:
		return ErrInvalidArgument
	case CodeNotSupported:
		return ErrNotSupported
	case CodeShuttingDown:
		return ErrShuttingDown
	default:
		return nil
	}
}

// Error wraps an underlying cause with the Code a caller should switch on.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("db: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("db: %s: %s", e.Code, e.Msg)
}

// Unwrap exposes both the wrapped cause (if any) and the Code's sentinel, so
// errors.Is(err, ErrCorruption) works even when Err is nil.
func (e *Error) Unwrap() []error {
	sentinel := sentinelFor(e.Code)
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

func corruptionf(format string, args ...any) error {
	return newError(CodeCorruption, fmt.Sprintf(format, args...), nil)
}

func ioErrorf(err error, format string, args ...any) error {
	return newError(CodeIoError, fmt.Sprintf(format, args...), err)
}

func invalidArgf(format string, args ...any) error {
	return newError(CodeInvalidArgument, fmt.Sprintf(format, args...), nil)
}

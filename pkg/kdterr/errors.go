// Package kdterr carries the two error tiers used by the kdt tools.
//
// Fatal conditions travel as *Error values up to the single handler in each
// command's main, which prints them and exits. Soft failures never become
// errors: they are reported as booleans by the runner and handled in place.
package kdterr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a fatal error.
type Kind string

const (
	// KindConfig is a missing or malformed key in ~/.kdt or boards_config.
	KindConfig Kind = "config"
	// KindBoard is an unknown board/arch selection or an invalid config source.
	KindBoard Kind = "board"
	// KindToolchain is an external executable that could not be started.
	KindToolchain Kind = "toolchain"
	// KindCommand is a subprocess failure the caller escalated.
	KindCommand Kind = "command"
	// KindUsage is a bad command line.
	KindUsage Kind = "usage"
)

// Error wraps an underlying error with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// Unwrap lets errors.Is/As reach the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf formats a message into an error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ExitError requests a specific exit status without an error message.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Exit returns nil for code 0 and an *ExitError otherwise.
func Exit(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

// Code maps an error returned to main onto a process exit status.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// Silent reports whether err only carries an exit status.
func Silent(err error) bool {
	var exit *ExitError
	return errors.As(err, &exit)
}

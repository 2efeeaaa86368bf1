// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"errors"
	"fmt"
)

// Code identifies a failure kind. Codes are stable and travel on the gateway
// wire.
type Code int32

const (
	CodeUnknown Code = iota
	CodeRange
	CodeFormat
	CodeAuthorization
	CodeNotFound
	CodeBackendUnavailable
)

var codeNames = [...]string{
	CodeUnknown:            "unknown",
	CodeRange:              "range error",
	CodeFormat:             "format error",
	CodeAuthorization:      "authorization error",
	CodeNotFound:           "not found",
	CodeBackendUnavailable: "backend unavailable",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return "invalid"
	}
	return codeNames[c]
}

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrRange              = &Error{Code: CodeRange}
	ErrFormat             = &Error{Code: CodeFormat}
	ErrAuthorization      = &Error{Code: CodeAuthorization}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrBackendUnavailable = &Error{Code: CodeBackendUnavailable}
)

// Error represents an fhevm error
type Error struct {
	Code Code
	// Op is the operation that failed, e.g. "encrypt".
	Op string
	// Err carries the underlying cause, including backend messages.
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return fmt.Sprintf("fhevm: %s", e.Code)
	case e.Err == nil:
		return fmt.Sprintf("fhevm: %s: %s", e.Op, e.Code)
	case e.Op == "":
		return fmt.Sprintf("fhevm: %s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("fhevm: %s: %s: %v", e.Op, e.Code, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so that wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// NewError builds an *Error for backends that need to report a specific
// kind.
func NewError(code Code, op string, err error) error {
	return newError(code, op, err)
}

// Errorf is NewError with a formatted cause.
func Errorf(code Code, op string, format string, args ...any) error {
	return newError(code, op, fmt.Errorf(format, args...))
}

// CodeOf returns the kind of err, or CodeUnknown when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether err is worth retrying with backoff. Only
// backend availability failures qualify; authorization and input failures
// will fail the same way again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// Classify re-wraps a backend failure into the taxonomy. Errors that
// already carry a kind keep it, along with any outer wrapping text. Deadline and cancellation become
// BackendUnavailable, as does anything else, with the original message
// preserved.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			cause := err
			if err == error(e) {
				cause = e.Err
			}
			return newError(e.Code, op, cause)
		}
		return err
	}
	return newError(CodeBackendUnavailable, op, err)
}

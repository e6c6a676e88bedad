// Package errors provides a unified, HTTP-aware error taxonomy used at the
// boundary between the sync engine and any surface that needs to report a
// machine-readable code alongside a human message (progress events, the
// optional connector-validation surface).
package errors

import (
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	// Source errors (1xxx)
	CodeSourceAuth      Code = "SRC_1001"
	CodeSourceTransient Code = "SRC_1002"
	CodeSourceFatal     Code = "SRC_1003"

	// Entity/DAG/config validation errors (2xxx)
	CodeInvalidEntity Code = "VAL_2001"
	CodeInvalidDAG    Code = "VAL_2002"
	CodeInvalidConfig Code = "VAL_2003"

	// Destination errors (3xxx)
	CodeDestinationTransient Code = "DST_3001"
	CodeDestinationFatal     Code = "DST_3002"

	// Ledger errors (4xxx)
	CodeLedger Code = "LDG_4001"

	// Transformer errors (5xxx)
	CodeTransformer Code = "XFM_5001"

	// Job lifecycle (6xxx)
	CodeCancelled Code = "JOB_6001"
	CodeInternal  Code = "JOB_6002"
)

// Error is a structured error with a stable code, an HTTP status for
// surfaces that need one, and optional structured details.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches a key/value detail pair and returns e for chaining.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New builds an Error with no wrapped cause.
func New(code Code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap builds an Error around an existing cause.
func Wrap(code Code, message string, httpStatus int, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func SourceAuth(err error) *Error {
	return Wrap(CodeSourceAuth, "source credential invalid", http.StatusUnauthorized, err)
}

func SourceTransient(err error) *Error {
	return Wrap(CodeSourceTransient, "source temporarily unavailable", http.StatusServiceUnavailable, err)
}

func SourceFatal(err error) *Error {
	return Wrap(CodeSourceFatal, "source failed permanently", http.StatusInternalServerError, err)
}

func InvalidEntity(entityID, reason string) *Error {
	return New(CodeInvalidEntity, "invalid entity", http.StatusBadRequest).
		WithDetails("entity_id", entityID).
		WithDetails("reason", reason)
}

func InvalidDAG(reason string) *Error {
	return New(CodeInvalidDAG, "invalid sync dag", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func InvalidConfig(reason string) *Error {
	return New(CodeInvalidConfig, "invalid configuration", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func DestinationTransient(err error) *Error {
	return Wrap(CodeDestinationTransient, "destination write failed, retrying", http.StatusServiceUnavailable, err)
}

func DestinationFatal(err error) *Error {
	return Wrap(CodeDestinationFatal, "destination failed permanently", http.StatusInternalServerError, err)
}

func Ledger(err error) *Error {
	return Wrap(CodeLedger, "ledger operation failed", http.StatusInternalServerError, err)
}

func Transformer(name string, err error) *Error {
	return Wrap(CodeTransformer, "transformer failed", http.StatusInternalServerError, err).
		WithDetails("transformer", name)
}

func Cancelled() *Error {
	return New(CodeCancelled, "job was cancelled", http.StatusOK)
}

func Internal(err error) *Error {
	return Wrap(CodeInternal, "internal error", http.StatusInternalServerError, err)
}

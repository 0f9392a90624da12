// Package brokererr defines the typed error taxonomy shared by every
// subsystem. The dispatcher is the only place that converts one of these
// into a wire error envelope.
package brokererr

import (
	"errors"
	"fmt"
)

// Code is a stable, wire-visible error identifier.
type Code string

const (
	CodeInvalidArgs      Code = "INVALID_ARGS"
	CodeDaemonNotRunning Code = "DAEMON_NOT_RUNNING"
	CodeIBDisconnected   Code = "IB_DISCONNECTED"
	CodeIBRejected       Code = "IB_REJECTED"
	CodeInvalidSymbol    Code = "INVALID_SYMBOL"
	CodeRiskCheckFailed  Code = "RISK_CHECK_FAILED"
	CodeRiskHalted       Code = "RISK_HALTED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeDuplicateOrder   Code = "DUPLICATE_ORDER"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// exitCodes mirrors the client-convenience mapping in spec.md §7.
var exitCodes = map[Code]int{
	CodeInvalidArgs:      2,
	CodeDaemonNotRunning: 3,
	CodeIBDisconnected:   4,
	CodeRiskCheckFailed:  5,
	CodeRiskHalted:       6,
	CodeTimeout:          10,
}

// Error is the typed exception threaded from risk/provider/order manager
// through to the dispatcher, carrying enough context to render the wire
// error envelope without further lookups.
type Error struct {
	Code       Code
	Message    string
	Details    map[string]any
	Suggestion string
}

func New(code Code, message string, opts ...Option) *Error {
	e := &Error{Code: code, Message: message, Details: map[string]any{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures optional Error fields.
type Option func(*Error)

func WithDetails(details map[string]any) Option {
	return func(e *Error) { e.Details = details }
}

func WithSuggestion(suggestion string) Option {
	return func(e *Error) { e.Suggestion = suggestion }
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ExitCode returns the client-facing process exit code for this error,
// defaulting to 1 for anything not in the explicit mapping.
func (e *Error) ExitCode() int {
	if code, ok := exitCodes[e.Code]; ok {
		return code
	}
	return 1
}

// Payload renders the {code, message, details, suggestion} wire shape.
func (e *Error) Payload() map[string]any {
	payload := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
		"details": e.Details,
	}
	if e.Suggestion != "" {
		payload["suggestion"] = e.Suggestion
	}
	return payload
}

// As reports whether err (or something it wraps) is a *Error, mirroring the
// errors.As contract so callers can use errors.As(err, &brokerErr) too.
func As(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies provider failures for retry and reporting decisions.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrAuth      ErrorKind = "auth"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrMalformed ErrorKind = "malformed"
)

// Error wraps a backend failure with its classification.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(kind ErrorKind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Classify maps a raw backend error to the taxonomy. Unknown errors are
// reported as malformed since the exchange cannot continue either way.
func Classify(providerName string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	kind := ErrMalformed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case isNetTimeout(err):
		kind = ErrTimeout
	case containsAny(err, "401", "403", "unauthorized", "invalid api key", "authentication"):
		kind = ErrAuth
	case containsAny(err, "429", "rate limit", "quota", "overloaded"):
		kind = ErrRateLimit
	}
	return NewError(kind, providerName, err)
}

func isNetTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func containsAny(err error, needles ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

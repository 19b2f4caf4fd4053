package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies adapter failures so callers can pick a fallback without
// inspecting transport details.
type Kind int

const (
	KindFailed Kind = iota
	KindUnavailable
	KindModelMissing
	KindTimeout
	KindMalformed
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindModelMissing:
		return "model_missing"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// Sentinels for errors.Is matching against an *Error's kind.
var (
	ErrFailed       = &Error{Kind: KindFailed}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
	ErrModelMissing = &Error{Kind: KindModelMissing}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrMalformed    = &Error{Kind: KindMalformed}
	ErrRateLimited  = &Error{Kind: KindRateLimited}
)

// Error is the only error type providers return.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Transient marks failures worth one retry (connection reset, 5xx).
	Transient bool
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so errors.Is(err, ErrTimeout)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindFailed for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFailed
}

// IsTransient reports whether a retry might succeed.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRateLimited:
		return true
	case KindUnavailable, KindFailed:
		return e.Transient
	}
	return false
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// transportError converts an error from an HTTP round trip into an *Error.
func transportError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(op, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(op, KindTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return newError(op, KindUnavailable, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		e := newError(op, KindUnavailable, err)
		e.Transient = true
		return e
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newError(op, KindUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return newError(op, KindUnavailable, err)
	}
	e := newError(op, KindFailed, err)
	e.Transient = true
	return e
}

// statusError converts a non-2xx HTTP status into an *Error.
func statusError(op string, status int, body string) *Error {
	err := fmt.Errorf("status %d: %s", status, body)
	switch {
	case status == 404:
		return newError(op, KindModelMissing, err)
	case status == 429:
		return newError(op, KindRateLimited, err)
	case status == 408 || status == 504:
		return newError(op, KindTimeout, err)
	case status == 502 || status == 503:
		e := newError(op, KindUnavailable, err)
		e.Transient = true
		return e
	case status >= 500:
		e := newError(op, KindFailed, err)
		e.Transient = true
		return e
	}
	return newError(op, KindFailed, err)
}

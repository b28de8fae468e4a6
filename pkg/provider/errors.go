package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a failed provider call for retry decisions.
type ErrorKind int

const (
	// KindTransient covers network errors, timeouts and provider 5xx.
	KindTransient ErrorKind = iota + 1
	// KindRateLimited means the request budget is exhausted; RetryAfter
	// carries the suggested wait.
	KindRateLimited
	// KindNotFound means the asset is unknown to the provider.
	KindNotFound
	// KindMalformed means the payload did not match the expected shape.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	default:
		return "unclassified"
	}
}

// Error is a kinded provider failure.
type Error struct {
	Kind       ErrorKind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a taxonomy kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the taxonomy kind carried by err, or zero when it has none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// Retryable reports whether a later attempt may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// RetryAfterOf returns the provider-suggested wait, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ErrorFromStatus maps a non-2xx HTTP response to the taxonomy.
func ErrorFromStatus(op string, status int, header http.Header, body []byte) *Error {
	err := fmt.Errorf("http status %d: %s", status, truncate(body, 256))
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Op: op, RetryAfter: retryAfterHeader(header), Err: err}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	case status >= 500:
		return &Error{Kind: KindTransient, Op: op, Err: err}
	default:
		return &Error{Kind: KindMalformed, Op: op, Err: err}
	}
}

func retryAfterHeader(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package upstream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an upstream failure so C5 can decide whether to
// retry, fail the endpoint, or abort the deliberation outright.
type ErrorKind int

const (
	// KindRetryableStatus is an HTTP status the upstream itself flags as
	// transient (429, 500, 502, 503, 504 — openrouter.py's RETRYABLE_STATUS_CODES).
	KindRetryableStatus ErrorKind = iota
	// KindNetwork is a transport-level failure (timeout, connection reset, DNS).
	KindNetwork
	// KindFatal is a non-retryable response (4xx other than 429, malformed body).
	KindFatal
)

var retryableStatusCodes = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 504: true,
}

func IsRetryableStatus(code int) bool {
	return retryableStatusCodes[code]
}

// Error wraps an upstream call failure with the endpoint id and kind so
// callers can log and branch without string matching.
type Error struct {
	Endpoint   string
	Kind       ErrorKind
	StatusCode int // zero for network errors
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether C1's single retry should fire for this error.
func (e *Error) Retryable() bool {
	return e.Kind == KindRetryableStatus || e.Kind == KindNetwork
}

var ErrAllEndpointsFailed = errors.New("all upstream endpoints failed")

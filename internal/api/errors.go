package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an API failure. Callers branch on the kind, never on
// the message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth              // 401/403, aborts the run
	KindNotFound          // 404, callers may probe alternates
	KindConflict          // 409, surfaced for batch splitting and idempotency checks
	KindRateLimited
	KindServer   // 5xx
	KindNetwork  // connect/read failure, reset
	KindProtocol // non-JSON 2xx body or malformed JSON
	KindValidation
	KindUnmappedReference
	KindDataIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "authentication"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate limited"
	case KindServer:
		return "server error"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindUnmappedReference:
		return "unmapped reference"
	case KindDataIntegrity:
		return "data integrity"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by the client and migrators.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Method     string
	Path       string
	Detail     string
	RetryAfter time.Duration // server hint from a 429, zero when absent
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: %s (HTTP %d): %s", e.Method, e.Path, e.Kind, e.StatusCode, e.Detail)
	}
	if e.Method != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Retryable reports whether the client should retry this error in place.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	}
	return false
}

func kindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool { return kindOf(err) == KindAuth }

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsConflict reports whether err is a 409.
func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// IsRateLimited reports whether err is a 429.
func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimited }

// AsError extracts the tagged error, or nil when err carries none.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindConflict
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

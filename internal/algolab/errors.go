package algolab

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind partitions every brokerage failure into one of a closed set of
// categories. Callers branch on Kind, never on raw status codes or message
// text.
type Kind string

const (
	KindAuthentication Kind = "AUTHENTICATION"
	KindValidation     Kind = "VALIDATION"
	KindOrder          Kind = "ORDER"
	KindMarketData     Kind = "MARKET_DATA"
	KindRateLimit      Kind = "RATE_LIMIT"
	KindTimeout        Kind = "TIMEOUT"
	KindConnection     Kind = "CONNECTION"
	KindServer         Kind = "SERVER"
	KindUnknown        Kind = "UNKNOWN"
)

// Error is the classified form of any brokerage failure. HTTPStatus is zero
// for transport-level failures; RetryAfter is zero unless the endpoint
// supplied a throttling hint.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Kind, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with no HTTP context.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ClassifyStatus maps a non-2xx endpoint response to a classified error.
func ClassifyStatus(status int, message string, retryAfter time.Duration) *Error {
	var kind Kind
	switch status {
	case 400:
		kind = KindValidation
	case 401, 403:
		kind = KindAuthentication
	case 422:
		kind = KindOrder
	case 429:
		kind = KindRateLimit
	case 502:
		kind = KindServer
	case 503:
		kind = KindMarketData
	case 504:
		kind = KindTimeout
	default:
		if status >= 500 {
			kind = KindServer
		} else {
			kind = KindUnknown
		}
	}

	if kind == KindRateLimit {
		if message == "" {
			message = "rate limit exceeded"
		} else {
			message = "rate limit exceeded: " + message
		}
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}

	return &Error{Kind: kind, HTTPStatus: status, Message: message, RetryAfter: retryAfter}
}

// Classify maps an arbitrary error to a classified one. Errors that are
// already classified pass through unchanged. Transport failures are
// recognized by type where possible and by message text as a fallback.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	case strings.Contains(msg, "connection"):
		return &Error{Kind: KindConnection, Message: err.Error(), Err: err}
	default:
		return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
	}
}

// IsRetryable reports whether a failure of this kind may succeed on retry
// without operator intervention.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindConnection, KindServer:
		return true
	default:
		return false
	}
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxMessageLen bounds how much of an error body is kept.
const maxMessageLen = 512

// ErrUnavailable is wrapped by errors from providers that cannot serve at all.
var ErrUnavailable = errors.New("no provider available")

// Kind classifies a provider failure.
type Kind string

const (
	KindNetwork           Kind = "network"
	KindUnauthorized      Kind = "unauthorized"
	KindRateLimited       Kind = "rate_limited"
	KindServerError       Kind = "server_error"
	KindMalformedResponse Kind = "malformed_response"
	KindTimeout           Kind = "timeout"
	KindInvalidRequest    Kind = "invalid_request"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindRateLimited, KindServerError, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the error type returned by every provider.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	RetryAfter time.Duration // zero when the provider sent no hint
	Message    string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		fmt.Fprintf(&b, "[%s] ", e.Provider)
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a provider error of the given kind.
func NewError(provider string, kind Kind, message string, err error) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// Malformed reports a 200 response that carried no usable content.
func Malformed(provider, message string) *Error {
	return NewError(provider, KindMalformedResponse, message, nil)
}

// InvalidRequest reports a request the provider cannot serve.
func InvalidRequest(provider, message string) *Error {
	return NewError(provider, KindInvalidRequest, message, nil)
}

// KindOf returns the kind of a provider error, or KindNetwork for any other
// non-nil error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindNetwork
}

// FromStatus classifies a non-200 response.
func FromStatus(provider string, status int, header http.Header, body []byte) *Error {
	e := &Error{
		Provider:   provider,
		StatusCode: status,
		Message:    errorMessage(body, status),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindUnauthorized
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if header != nil {
			e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case status >= 500:
		e.Kind = KindServerError
	case status >= 400:
		e.Kind = KindInvalidRequest
	default:
		// 1xx and 3xx that escaped the client are not content.
		e.Kind = KindMalformedResponse
	}
	return e
}

// Classify maps a transport error to a provider error. Errors that already
// are provider errors pass through unchanged.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(provider, KindTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(provider, KindTimeout, "request timed out", err)
	}
	return NewError(provider, KindNetwork, err.Error(), err)
}

// maxRetryAfter bounds a server's Retry-After hint.
const maxRetryAfter = 24 * time.Hour

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. It returns zero for missing or unparseable values.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		switch {
		case secs < 0:
			return 0
		case secs > int64(maxRetryAfter/time.Second):
			return maxRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage prefers a JSON error.message field and falls back to the raw
// body, truncated.
func errorMessage(body []byte, status int) string {
	msg := ""
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
				msg = r.String()
				break
			}
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "…"
	}
	return msg
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/relay/pkg/models"
)

// Reason classifies a provider failure for retry and reporting decisions.
type Reason string

const (
	ReasonRateLimited    Reason = "rate_limited"
	ReasonAuth           Reason = "auth"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonServer         Reason = "server_error"
	ReasonNetwork        Reason = "network"
	ReasonAborted        Reason = "aborted"
	ReasonUnknown        Reason = "unknown"
)

// Retryable reports whether requests failing for this reason are worth
// reissuing. Only rate limits qualify; server and network blips surface to
// the user instead of stalling the turn.
func (r Reason) Retryable() bool {
	return r == ReasonRateLimited
}

// Error is a classified provider failure.
type Error struct {
	Reason   Reason
	Provider models.Provider
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Provider, e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " (model %s)", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// newError wraps cause with a classified reason, passing through errors that
// are already classified.
func newError(provider models.Provider, model string, cause error) *Error {
	var perr *Error
	if errors.As(cause, &perr) {
		return perr
	}
	e := &Error{
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
	e.Reason, e.Status = classify(cause)
	return e
}

// classify maps an SDK error to a failure reason by status hints in the
// message. SDK error types differ per backend, so string inspection is the
// common denominator.
func classify(err error) (Reason, int) {
	if err == nil {
		return ReasonUnknown, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonAborted, 0
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "quota"):
		return ReasonRateLimited, http.StatusTooManyRequests
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "invalid_api_key"):
		return ReasonAuth, http.StatusUnauthorized
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		return ReasonAuth, http.StatusForbidden
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "invalid argument"):
		return ReasonInvalidRequest, http.StatusBadRequest
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return ReasonInvalidRequest, http.StatusNotFound
	case strings.Contains(msg, "500"), strings.Contains(msg, "internal server error"):
		return ReasonServer, http.StatusInternalServerError
	case strings.Contains(msg, "502"), strings.Contains(msg, "bad gateway"):
		return ReasonServer, http.StatusBadGateway
	case strings.Contains(msg, "503"), strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "overloaded"):
		return ReasonServer, http.StatusServiceUnavailable
	case strings.Contains(msg, "504"), strings.Contains(msg, "gateway timeout"):
		return ReasonServer, http.StatusGatewayTimeout
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "broken pipe"):
		return ReasonNetwork, 0
	}
	return ReasonUnknown, 0
}

// invalidRequestError builds a local validation failure that never reaches
// the wire.
func invalidRequestError(provider models.Provider, model, format string, args ...any) *Error {
	return &Error{
		Reason:   ReasonInvalidRequest,
		Provider: provider,
		Model:    model,
		Message:  fmt.Sprintf(format, args...),
	}
}

// IsAbort reports whether err is a cancellation, either raw context errors
// or a classified abort.
func IsAbort(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var perr *Error
	return errors.As(err, &perr) && perr.Reason == ReasonAborted
}

// IsRateLimited reports whether err is a classified rate limit.
func IsRateLimited(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Reason == ReasonRateLimited
}

// retryable is the classifier handed to the retry loop. Aborts are never
// retried regardless of the underlying cause.
func retryable(err error) bool {
	if IsAbort(err) {
		return false
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason.Retryable()
	}
	reason, _ := classify(err)
	return reason.Retryable()
}

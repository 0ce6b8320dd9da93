package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason Reason
		wantStatus int
	}{
		{"rate limit status", errors.New("error, status code: 429, message: slow down"), ReasonRateLimited, http.StatusTooManyRequests},
		{"rate limit words", errors.New("rate limit exceeded"), ReasonRateLimited, http.StatusTooManyRequests},
		{"quota", errors.New("quota exhausted for project"), ReasonRateLimited, http.StatusTooManyRequests},
		{"auth", errors.New("401 unauthenticated"), ReasonAuth, http.StatusUnauthorized},
		{"forbidden", errors.New("permission denied"), ReasonAuth, http.StatusForbidden},
		{"bad request", errors.New("invalid request: unknown field"), ReasonInvalidRequest, http.StatusBadRequest},
		{"server", errors.New("503 service unavailable"), ReasonServer, http.StatusServiceUnavailable},
		{"network", errors.New("dial tcp: connection refused"), ReasonNetwork, 0},
		{"canceled", context.Canceled, ReasonAborted, 0},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ReasonAborted, 0},
		{"unknown", errors.New("something odd"), ReasonUnknown, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reason, status := classify(tc.err)
			if reason != tc.wantReason || status != tc.wantStatus {
				t.Errorf("classify() = (%s, %d), want (%s, %d)", reason, status, tc.wantReason, tc.wantStatus)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(errors.New("429 too many requests")) {
		t.Error("rate limit should be retryable")
	}
	if retryable(errors.New("503 service unavailable")) {
		t.Error("server errors should not be retryable")
	}
	if retryable(errors.New("401 unauthenticated")) {
		t.Error("auth errors should not be retryable")
	}
	// An abort is never retried even when the cause looks transient.
	abort := &Error{Reason: ReasonAborted, Cause: errors.New("429")}
	if retryable(abort) {
		t.Error("aborts must never be retried")
	}
	if retryable(context.Canceled) {
		t.Error("context cancellation must never be retried")
	}
}

func TestNewErrorPassthrough(t *testing.T) {
	orig := &Error{Reason: ReasonRateLimited, Provider: models.ProviderPrimary}
	wrapped := fmt.Errorf("outer: %w", orig)
	if got := newError(models.ProviderRouter, "m", wrapped); got != orig {
		t.Errorf("newError() rewrapped an already classified error: %v", got)
	}
}

func TestIsAbort(t *testing.T) {
	if !IsAbort(context.Canceled) {
		t.Error("context.Canceled")
	}
	if !IsAbort(&Error{Reason: ReasonAborted}) {
		t.Error("classified abort")
	}
	if IsAbort(&Error{Reason: ReasonServer}) {
		t.Error("server error is not an abort")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{
		Reason:   ReasonRateLimited,
		Provider: models.ProviderRouter,
		Model:    "kimi-k2",
		Status:   429,
		Message:  "slow down",
	}
	got := err.Error()
	for _, want := range []string{"router", "rate_limited", "kimi-k2", "429", "slow down"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

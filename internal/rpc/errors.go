package rpc

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/runtime"
)

// JSON-RPC 2.0 error codes. Domain failures share -32000 and are
// distinguished by data.reason.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeDomain         = -32000
)

// Reason tags carried in error data.
const (
	ReasonMethodNotFound     = "method_not_found"
	ReasonInvalidParams      = "invalid_params"
	ReasonInternal           = "internal_error"
	ReasonBusy               = "busy"
	ReasonUnknownSession     = "unknown_session"
	ReasonProviderNotEnabled = "provider_not_enabled"
	ReasonMissingCredential  = "missing_credential"
	ReasonUnsupportedProto   = "unsupported_protocol_version"
	ReasonUpstream           = "upstream"
)

// ErrorData is the structured error payload.
type ErrorData struct {
	Reason string `json:"reason"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newError(code int, reason, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Data:    &ErrorData{Reason: reason},
	}
}

func errMethodNotFound(method string) *Error {
	return newError(CodeMethodNotFound, ReasonMethodNotFound, "method not found: %s", method)
}

func errInvalidParams(field, reason string) *Error {
	return newError(CodeInvalidParams, ReasonInvalidParams, "invalid params: %s: %s", field, reason)
}

func errInternal(err error) *Error {
	return newError(CodeInternal, ReasonInternal, "internal error: %v", err)
}

// mapError converts a runtime/provider failure into its RPC shape.
func mapError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	switch {
	case errors.Is(err, runtime.ErrBusy), errors.Is(err, runtime.ErrShuttingDown):
		return newError(CodeDomain, ReasonBusy, "%v", err)
	case errors.Is(err, runtime.ErrUnknownSession):
		return newError(CodeDomain, ReasonUnknownSession, "%v", err)
	case errors.Is(err, runtime.ErrProviderNotEnabled), errors.Is(err, auth.ErrNoFlow):
		return newError(CodeDomain, ReasonProviderNotEnabled, "%v", err)
	case errors.Is(err, runtime.ErrMissingCredential), errors.Is(err, auth.ErrNotConnected):
		return newError(CodeDomain, ReasonMissingCredential, "%v", err)
	case errors.Is(err, runtime.ErrEmptyPrompt):
		return errInvalidParams("text", "prompt needs text or images")
	}

	var perr *providers.Error
	if errors.As(err, &perr) {
		return newError(CodeDomain, ReasonUpstream, "%v", err)
	}
	return errInternal(err)
}

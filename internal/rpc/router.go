// Package rpc implements the JSON-RPC 2.0 method surface over the session
// runtime. The router owns only request dispatch; events reach clients
// through the gateway's runtime subscription.
package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/relay/internal/commands"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/runtime"
)

// ProtocolVersion is the wire protocol generation advertised by the
// handshake.
const ProtocolVersion = "1"

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Handler executes one method.
type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// Options configures a Router.
type Options struct {
	// StrictProtocol rejects handshakes with a mismatched protocol
	// version instead of answering best-effort.
	StrictProtocol bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Router dispatches JSON-RPC requests to the runtime.
type Router struct {
	rt       *runtime.Runtime
	commands *commands.Registry
	opts     Options
	methods  map[string]Handler
}

// NewRouter builds the full method table.
func NewRouter(rt *runtime.Runtime, registry *commands.Registry, opts Options) *Router {
	r := &Router{
		rt:       rt,
		commands: registry,
		opts:     opts,
		methods:  make(map[string]Handler),
	}
	r.registerMethods()
	return r
}

// Methods returns the sorted dispatchable method names. The handshake's
// method list is exactly this set.
func (r *Router) Methods() []string {
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HandleMessage parses and dispatches one request frame. Notifications
// (requests without an id) still produce a response here; the transport
// decides whether to deliver it.
func (r *Router) HandleMessage(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{
			JSONRPC: "2.0",
			Error:   newError(CodeParse, ReasonInvalidParams, "parse error: %v", err),
		}
	}
	return r.Handle(ctx, req)
}

// Handle dispatches one parsed request.
func (r *Router) Handle(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = newError(CodeInvalidRequest, ReasonInvalidParams, "invalid request")
		return resp
	}

	handler, ok := r.methods[req.Method]
	if !ok {
		resp.Error = errMethodNotFound(req.Method)
		return resp
	}

	if r.opts.Tracer != nil {
		var span trace.Span
		ctx, span = r.opts.Tracer.TraceRPC(ctx, req.Method)
		defer span.End()
	}

	started := time.Now()
	result, rpcErr := handler(ctx, req.Params)
	if r.opts.Metrics != nil {
		status := "ok"
		if rpcErr != nil {
			status = "error"
		}
		r.opts.Metrics.RecordRPCRequest(req.Method, status, time.Since(started).Seconds())
	}
	if rpcErr != nil {
		if r.opts.Logger != nil {
			r.opts.Logger.Warn(ctx, "rpc request failed",
				"method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		}
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

// decodeParams unmarshals params into v. Absent params decode as the zero
// value so methods with all-optional fields accept a bare call.
func decodeParams(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidParams("params", err.Error())
	}
	return nil
}

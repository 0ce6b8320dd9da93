package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/commands"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/rollout"
	"github.com/haasonsaas/relay/internal/runtime"
	"github.com/haasonsaas/relay/internal/state"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	store, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rollouts, err := rollout.NewStore(store.RolloutsDir())
	if err != nil {
		t.Fatal(err)
	}

	rt, err := runtime.New(runtime.Options{
		State:    store,
		Catalog:  catalog.New(),
		Rollouts: rollouts,
		Tools:    tools.NewRegistry(),
		Auth:     auth.NewService(store, logger),
		Usage:    usage.NewTracker(),
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	registry := commands.NewRegistry()
	if err := commands.RegisterBuiltins(registry, rt); err != nil {
		t.Fatal(err)
	}
	return NewRouter(rt, registry, Options{StrictProtocol: true, Logger: logger})
}

func call(t *testing.T, r *Router, method, params string) Response {
	t.Helper()
	req := Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return r.Handle(context.Background(), req)
}

func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHandshakeMethodsMatchDispatch(t *testing.T) {
	r := newTestRouter(t)

	resp := call(t, r, "rpc.handshake", `{"protocol_version":"1","client":"test"}`)
	if resp.Error != nil {
		t.Fatalf("handshake error: %+v", resp.Error)
	}
	result, ok := resp.Result.(HandshakeResult)
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol = %s", result.ProtocolVersion)
	}
	if !result.Capabilities.Events || !result.Capabilities.CommandExecute ||
		!result.Capabilities.MultiSession || !result.Capabilities.ImageInputs {
		t.Errorf("capabilities = %+v", result.Capabilities)
	}

	// The advertised list is exactly the dispatchable set.
	methods := r.Methods()
	if len(result.Methods) != len(methods) {
		t.Fatalf("method count %d != %d", len(result.Methods), len(methods))
	}
	for i := range methods {
		if result.Methods[i] != methods[i] {
			t.Errorf("method[%d] = %s, want %s", i, result.Methods[i], methods[i])
		}
		if i > 0 && methods[i-1] >= methods[i] {
			t.Errorf("methods not sorted at %d: %s >= %s", i, methods[i-1], methods[i])
		}
	}
	for _, method := range result.Methods {
		resp := call(t, r, method, "")
		if resp.Error != nil && resp.Error.Code == CodeMethodNotFound {
			t.Errorf("advertised method %s does not dispatch", method)
		}
	}
}

func TestStrictProtocolMismatch(t *testing.T) {
	r := newTestRouter(t)
	resp := call(t, r, "rpc.handshake", `{"protocol_version":"999"}`)
	if resp.Error == nil || resp.Error.Code != CodeDomain || resp.Error.Data.Reason != ReasonUnsupportedProto {
		t.Errorf("error = %+v", resp.Error)
	}

	// Omitting the version is accepted even in strict mode.
	if resp := call(t, r, "rpc.handshake", `{}`); resp.Error != nil {
		t.Errorf("bare handshake rejected: %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	r := newTestRouter(t)
	resp := call(t, r, "nope.nothing", "")
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound || resp.Error.Data.Reason != ReasonMethodNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestInvalidRequestAndParseError(t *testing.T) {
	r := newTestRouter(t)

	resp := r.Handle(context.Background(), Request{JSONRPC: "1.0", Method: "system.ping"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("invalid request error = %+v", resp.Error)
	}

	resp = r.HandleMessage(context.Background(), []byte("{not json"))
	if resp.Error == nil || resp.Error.Code != CodeParse {
		t.Errorf("parse error = %+v", resp.Error)
	}
}

func TestInvalidParamsNamesField(t *testing.T) {
	r := newTestRouter(t)
	tests := []struct {
		method, params, field string
	}{
		{"session.get", `{}`, "session_id"},
		{"session.send", `{"session_id":"x"}`, "text"},
		{"session.steer", `{"session_id":"x"}`, "text"},
		{"auth.set.router_key", `{}`, "key"},
		{"history.get", `{}`, "id"},
		{"command.execute", `{}`, "command"},
	}
	for _, tc := range tests {
		resp := call(t, r, tc.method, tc.params)
		if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
			t.Errorf("%s: error = %+v", tc.method, resp.Error)
			continue
		}
		if !strings.Contains(resp.Error.Message, tc.field) {
			t.Errorf("%s: message %q does not name %s", tc.method, resp.Error.Message, tc.field)
		}
	}
}

func TestDomainErrorMapping(t *testing.T) {
	r := newTestRouter(t)
	resp := call(t, r, "session.get", `{"session_id":"missing"}`)
	if resp.Error == nil || resp.Error.Code != CodeDomain || resp.Error.Data.Reason != ReasonUnknownSession {
		t.Errorf("error = %+v", resp.Error)
	}

	tests := []struct {
		err    error
		code   int
		reason string
	}{
		{runtime.ErrBusy, CodeDomain, ReasonBusy},
		{runtime.ErrUnknownSession, CodeDomain, ReasonUnknownSession},
		{runtime.ErrProviderNotEnabled, CodeDomain, ReasonProviderNotEnabled},
		{runtime.ErrMissingCredential, CodeDomain, ReasonMissingCredential},
		{auth.ErrNotConnected, CodeDomain, ReasonMissingCredential},
		{&providers.Error{Reason: providers.ReasonServer, Provider: models.ProviderPrimary}, CodeDomain, ReasonUpstream},
		{errors.New("boom"), CodeInternal, ReasonInternal},
	}
	for _, tc := range tests {
		got := mapError(tc.err)
		if got.Code != tc.code || got.Data.Reason != tc.reason {
			t.Errorf("mapError(%v) = %d/%s, want %d/%s", tc.err, got.Code, got.Data.Reason, tc.code, tc.reason)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRouter(t)

	created := resultMap(t, call(t, r, "session.create", `{"title":"scratch"}`))
	id, _ := created["session_id"].(string)
	if id == "" || created["state"] != "ready" {
		t.Fatalf("created = %v", created)
	}

	got := resultMap(t, call(t, r, "session.get", `{"session_id":"`+id+`"}`))
	if got["session_id"] != id || got["title"] != "scratch" {
		t.Errorf("get = %v", got)
	}

	queue := resultMap(t, call(t, r, "session.queue.list", `{"session_id":"`+id+`"}`))
	if items, ok := queue["items"].([]any); !ok || len(items) != 0 {
		t.Errorf("queue = %v", queue)
	}

	cleared := resultMap(t, call(t, r, "history.clear_session", `{"session_id":"`+id+`"}`))
	if cleared["cleared"] != true {
		t.Errorf("clear = %v", cleared)
	}

	// Sending without any usable provider surfaces an availability error.
	resp := call(t, r, "session.send", `{"session_id":"`+id+`","text":"hi"}`)
	if resp.Error == nil || resp.Error.Code != CodeDomain {
		t.Errorf("send error = %+v", resp.Error)
	}
}

func TestCommandExecute(t *testing.T) {
	r := newTestRouter(t)

	help := resultMap(t, call(t, r, "command.execute", `{"command":"/help"}`))
	if text, _ := help["text"].(string); !strings.Contains(text, "/model") {
		t.Errorf("help = %v", help)
	}

	// Unknown commands are structured results, not RPC errors.
	unknown := resultMap(t, call(t, r, "command.execute", `{"command":"/bogus"}`))
	if msg, _ := unknown["error"].(string); !strings.Contains(msg, "bogus") {
		t.Errorf("unknown = %v", unknown)
	}
}

func TestModelSelect(t *testing.T) {
	r := newTestRouter(t)

	selected := resultMap(t, call(t, r, "model.select", `{"model":"gpt-5.2","thinking_level":"high"}`))
	if selected["selected"] != "gpt-5.2" || selected["thinking_level"] != "high" {
		t.Errorf("select = %v", selected)
	}

	resp := call(t, r, "model.select", `{"model":"never-heard-of-it"}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("bad model error = %+v", resp.Error)
	}

	list := resultMap(t, call(t, r, "model.list", ""))
	if list["selected"] != "gpt-5.2" {
		t.Errorf("list = %v", list)
	}
}

func TestOnboardingAndDebug(t *testing.T) {
	r := newTestRouter(t)

	status := resultMap(t, call(t, r, "onboarding.status", ""))
	if status["done"] != false {
		t.Errorf("status = %v", status)
	}
	done := resultMap(t, call(t, r, "onboarding.complete", ""))
	if done["done"] != true {
		t.Errorf("complete = %v", done)
	}

	debug := resultMap(t, call(t, r, "debug.set", `{"enabled":true}`))
	if debug["enabled"] != true {
		t.Errorf("debug = %v", debug)
	}
}

func TestRouterProvidersListsAnyFirst(t *testing.T) {
	r := newTestRouter(t)
	got := resultMap(t, call(t, r, "model.router.providers", ""))
	providersList, ok := got["providers"].([]any)
	if !ok || len(providersList) == 0 || providersList[0] != "any" {
		t.Errorf("providers = %v", got)
	}
	if got["selected"] != "any" {
		t.Errorf("selected = %v", got["selected"])
	}
}

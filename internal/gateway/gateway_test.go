package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/commands"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/rollout"
	"github.com/haasonsaas/relay/internal/rpc"
	"github.com/haasonsaas/relay/internal/runtime"
	"github.com/haasonsaas/relay/internal/state"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
)

func newTestServer(t *testing.T) *Server {
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
	router := rpc.NewRouter(rt, registry, rpc.Options{Logger: logger})
	return NewServer(rt, router, Options{Logger: logger, EnableMetrics: true})
}

// wireFrame is the union of response and event frames as seen by a client.
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpc.Error      `json:"error"`

	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rpc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, id int, method, params string) {
	t.Helper()
	frame := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != "" {
		frame["params"] = json.RawMessage(params)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
}

// readUntil reads frames until pred matches, skipping everything else.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(wireFrame) bool) wireFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if pred(frame) {
			return frame
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
	}
}

func responseWithID(id string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.JSONRPC == "2.0" && string(f.ID) == id }
}

func TestWebsocketRPCAndEvents(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)

	sendRequest(t, conn, 1, "rpc.handshake", `{"protocol_version":"1"}`)
	hs := readUntil(t, conn, responseWithID("1"))
	if hs.Error != nil {
		t.Fatalf("handshake error: %+v", hs.Error)
	}
	var handshake rpc.HandshakeResult
	if err := json.Unmarshal(hs.Result, &handshake); err != nil {
		t.Fatal(err)
	}
	if handshake.ProtocolVersion != rpc.ProtocolVersion || len(handshake.Methods) == 0 {
		t.Errorf("handshake = %+v", handshake)
	}

	sendRequest(t, conn, 2, "session.create", `{"title":"ws"}`)
	created := readUntil(t, conn, responseWithID("2"))
	if created.Error != nil {
		t.Fatalf("create error: %+v", created.Error)
	}

	// Session creation also lands as an out-of-band event frame.
	event := readUntil(t, conn, func(f wireFrame) bool {
		return f.Type == "event" && f.Event == "session.status"
	})
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["state"] != "ready" {
		t.Errorf("event payload = %v", payload)
	}

	// A malformed frame yields a parse error response, not a dropped
	// connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	parseErr := readUntil(t, conn, func(f wireFrame) bool { return f.Error != nil })
	if parseErr.Error.Code != rpc.CodeParse {
		t.Errorf("parse error = %+v", parseErr.Error)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	metrics, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", metrics.StatusCode)
	}
}

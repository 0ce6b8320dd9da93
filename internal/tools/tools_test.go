package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func echoHandler(ctx context.Context, input json.RawMessage) (Result, error) {
	return Result{OK: true, Output: string(input)}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	decl := Declaration{Name: "echo", Description: "echoes input"}
	if err := reg.Register(decl, echoHandler); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, handler, ok := reg.Lookup("echo")
	if !ok || handler == nil {
		t.Fatal("Lookup(echo) failed")
	}
	if got.Description != "echoes input" {
		t.Errorf("declaration = %+v", got)
	}
	if _, _, ok := reg.Lookup("other"); ok {
		t.Error("Lookup(other) should miss")
	}
}

func TestRegistryConflict(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Declaration{Name: "dup"}, echoHandler); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(Declaration{Name: "dup"}, echoHandler); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := reg.Register(Declaration{Name: "  "}, echoHandler); err == nil {
		t.Error("blank name should fail")
	}
	if err := reg.Register(Declaration{Name: "nohandler"}, nil); err == nil {
		t.Error("nil handler should fail")
	}
}

func TestRegistryDeclarationsOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(Declaration{Name: name}, echoHandler); err != nil {
			t.Fatal(err)
		}
	}
	decls := reg.Declarations()
	if len(decls) != 3 || decls[0].Name != "zeta" || decls[2].Name != "mid" {
		t.Errorf("Declarations() = %+v, want registration order", decls)
	}
	names := reg.Names()
	if names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("Names() = %v, want sorted", names)
	}
}

func TestLocalRuntimeUnknownTool(t *testing.T) {
	rt := NewLocalRuntime(NewRegistry(), nil, RuntimeOptions{})
	res := rt.Execute(context.Background(), Call{ID: "c1", Name: "missing"})
	if res.OK {
		t.Error("unknown tool should be ok=false")
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestLocalRuntimeValidation(t *testing.T) {
	reg := NewRegistry()
	decl := Declaration{
		Name:       "shout",
		Parameters: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
	if err := reg.Register(decl, echoHandler); err != nil {
		t.Fatal(err)
	}
	rt := NewLocalRuntime(reg, nil, RuntimeOptions{ValidateArgs: true})

	res := rt.Execute(context.Background(), Call{Name: "shout", Input: json.RawMessage(`{"text":"hi"}`)})
	if !res.OK {
		t.Errorf("valid args rejected: %+v", res)
	}

	res = rt.Execute(context.Background(), Call{Name: "shout", Input: json.RawMessage(`{"text":7}`)})
	if res.OK || !strings.Contains(res.Error, "invalid arguments") {
		t.Errorf("bad args = %+v, want validation failure", res)
	}

	res = rt.Execute(context.Background(), Call{Name: "shout", Input: json.RawMessage(`not-json`)})
	if res.OK {
		t.Errorf("garbage args accepted: %+v", res)
	}
}

func TestLocalRuntimeHandlerError(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Declaration{Name: "boom"}, func(ctx context.Context, input json.RawMessage) (Result, error) {
		return Result{}, errors.New("kaput")
	}); err != nil {
		t.Fatal(err)
	}
	rt := NewLocalRuntime(reg, nil, RuntimeOptions{})

	res := rt.Execute(context.Background(), Call{Name: "boom"})
	if res.OK || res.Error != "kaput" {
		t.Errorf("result = %+v", res)
	}
}

func TestResultOutputText(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"string", Result{OK: true, Output: "/tmp"}, "/tmp"},
		{"json value", Result{OK: true, Output: map[string]any{"a": 1}}, `{"a":1}`},
		{"error only", Result{OK: false, Error: "denied"}, "denied"},
		{"mixed content", Result{OK: true, Output: []Content{
			{Type: ContentText, Text: "line1"},
			{Type: ContentImage, ImageURL: "data:image/png;base64,AA=="},
			{Type: ContentText, Text: "line2"},
		}}, "line1\nline2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.res.OutputText(); got != tc.want {
				t.Errorf("OutputText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuiltinCurrentTime(t *testing.T) {
	reg := NewRegistry()
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if err := RegisterBuiltins(reg, func() time.Time { return fixed }); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	decl, _, ok := reg.Lookup("current_time")
	if !ok {
		t.Fatal("current_time not registered")
	}
	if len(decl.Parameters) == 0 {
		t.Error("current_time has no schema")
	}

	rt := NewLocalRuntime(reg, nil, RuntimeOptions{ValidateArgs: true})
	res := rt.Execute(context.Background(), Call{Name: "current_time", Input: json.RawMessage(`{}`)})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	out, ok := res.Output.(map[string]any)
	if !ok || out["iso"] != "2026-08-25T12:00:00Z" {
		t.Errorf("Output = %+v", res.Output)
	}

	res = rt.Execute(context.Background(), Call{Name: "current_time", Input: json.RawMessage(`{"timezone":"Not/AZone"}`)})
	if res.OK || !strings.Contains(res.Error, "unknown timezone") {
		t.Errorf("result = %+v", res)
	}
}

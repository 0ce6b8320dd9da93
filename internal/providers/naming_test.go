package providers

import (
	"strings"
	"testing"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "current_time", "current_time"},
		{"hyphen kept", "my-tool", "my-tool"},
		{"dots replaced", "ns.tool.run", "ns_tool_run"},
		{"spaces replaced", "do thing", "do_thing"},
		{"unicode replaced", "héllo", "h_llo"},
		{"leading digit prefixed", "2fast", "_2fast"},
		{"leading hyphen prefixed", "-x", "_-x"},
		{"empty", "", "tool"},
		{"long capped", strings.Repeat("a", 80), strings.Repeat("a", 64)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeToolName(tc.in); got != tc.want {
				t.Errorf("sanitizeToolName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNameTableCollisions(t *testing.T) {
	table := newNameTable([]string{"a.b", "a b", "a-b", "a_b"})

	wires := map[string]bool{}
	for _, name := range []string{"a.b", "a b", "a-b", "a_b"} {
		wire := table.Wire(name)
		if wires[wire] {
			t.Fatalf("wire name %q assigned twice", wire)
		}
		wires[wire] = true
		if back := table.Runtime(wire); back != name {
			t.Errorf("Runtime(%q) = %q, want %q", wire, back, name)
		}
	}
}

func TestNameTableCollisionWithinCap(t *testing.T) {
	long := strings.Repeat("x", 63) + "."
	table := newNameTable([]string{long, long + "b"})
	for _, name := range []string{long, long + "b"} {
		wire := table.Wire(name)
		if len(wire) > maxToolNameLen {
			t.Errorf("wire name %q exceeds %d chars", wire, maxToolNameLen)
		}
		if table.Runtime(wire) != name {
			t.Errorf("round trip failed for %q", name)
		}
	}
}

func TestNameTableUnknownPassthrough(t *testing.T) {
	table := newNameTable([]string{"known"})
	if got := table.Runtime("never_advertised"); got != "never_advertised" {
		t.Errorf("Runtime() = %q", got)
	}
	if got := table.Wire("other.tool"); got != "other_tool" {
		t.Errorf("Wire() = %q", got)
	}
}

package providers

import (
	"strconv"
	"strings"
)

// maxToolNameLen is the strictest advertised-name limit across backends.
const maxToolNameLen = 64

// nameTable maps runtime tool names to wire-safe names and back for one
// request. Backends reject names outside [A-Za-z0-9_-], so declarations are
// sanitized on the way out and calls translated on the way back.
type nameTable struct {
	toWire   map[string]string
	fromWire map[string]string
}

func newNameTable(names []string) *nameTable {
	t := &nameTable{
		toWire:   make(map[string]string, len(names)),
		fromWire: make(map[string]string, len(names)),
	}
	for _, name := range names {
		wire := sanitizeToolName(name)
		for t.fromWire[wire] != "" && t.fromWire[wire] != name {
			wire = collisionSuffix(wire)
		}
		t.toWire[name] = wire
		t.fromWire[wire] = name
	}
	return t
}

// Wire returns the wire-safe name for a runtime tool name.
func (t *nameTable) Wire(name string) string {
	if wire, ok := t.toWire[name]; ok {
		return wire
	}
	return sanitizeToolName(name)
}

// Runtime translates a wire name back; unknown names pass through so the
// turn engine can report the unknown-tool failure itself.
func (t *nameTable) Runtime(wire string) string {
	if name, ok := t.fromWire[wire]; ok {
		return name
	}
	return wire
}

// sanitizeToolName rewrites name to ASCII letters, digits, underscores and
// hyphens, forces a letter or underscore first, and caps the length.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "tool"
	}
	if c := out[0]; !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
		out = "_" + out
	}
	if len(out) > maxToolNameLen {
		out = out[:maxToolNameLen]
	}
	return out
}

// collisionSuffix appends "_2" (then "_3", ...) within the length cap.
func collisionSuffix(wire string) string {
	base, n := wire, 1
	if i := strings.LastIndex(wire, "_"); i > 0 {
		if v, err := strconv.Atoi(wire[i+1:]); err == nil && v > 0 {
			base, n = wire[:i], v
		}
	}
	suffix := "_" + strconv.Itoa(n+1)
	if len(base)+len(suffix) > maxToolNameLen {
		base = base[:maxToolNameLen-len(suffix)]
	}
	return base + suffix
}

// Package commands implements the slash-command surface reached through
// command.execute. Commands run against a narrow runtime dependency
// interface so the registry stays testable with fakes.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Invocation is one parsed command call.
type Invocation struct {
	Ctx       context.Context
	SessionID string
	Args      []string
}

// Result is a command outcome. Error carries a user-facing failure without
// becoming an RPC error; unknown commands and bad arguments land here.
type Result struct {
	Text  string `json:"text,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Errorf builds an error result.
func Errorf(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Handler executes one command.
type Handler func(Invocation) Result

// Command is a registered slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Hidden      bool
	Handler     Handler
}

// Registry maps command names and aliases to handlers.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	byName   []*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command; name or alias conflicts are errors.
func (r *Registry) Register(cmd Command) error {
	name := normalize(cmd.Name)
	if name == "" {
		return fmt.Errorf("command name must not be empty")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{name}, cmd.Aliases...)
	for i, key := range keys {
		keys[i] = normalize(key)
		if existing, ok := r.commands[keys[i]]; ok {
			return fmt.Errorf("command %s conflicts with %s", keys[i], existing.Name)
		}
	}

	stored := cmd
	stored.Name = name
	for _, key := range keys {
		r.commands[key] = &stored
	}
	r.byName = append(r.byName, &stored)
	sort.Slice(r.byName, func(i, j int) bool { return r.byName[i].Name < r.byName[j].Name })
	return nil
}

// List returns the visible commands sorted by name.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		if cmd.Hidden {
			continue
		}
		out = append(out, *cmd)
	}
	return out
}

// Execute parses and runs a command line. A line that is not a slash
// command, or names no registered command, yields an error Result.
func (r *Registry) Execute(ctx context.Context, sessionID, line string) Result {
	name, args, ok := ParseLine(line)
	if !ok {
		return Errorf("not a command: %q", strings.TrimSpace(line))
	}

	r.mu.RLock()
	cmd := r.commands[name]
	r.mu.RUnlock()
	if cmd == nil {
		return Errorf("unknown command /%s (try /help)", name)
	}

	return cmd.Handler(Invocation{Ctx: ctx, SessionID: sessionID, Args: args})
}

// ParseLine splits a "/name arg arg" line. ok is false when the line does
// not start with a slash or has no name.
func ParseLine(line string) (name string, args []string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return normalize(fields[0]), fields[1:], true
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "/")))
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// LocalRuntime executes registered tools in-process. Unknown tools and
// invalid arguments surface as ok=false results, never as errors: the model
// sees the failure text and can recover.
type LocalRuntime struct {
	registry     *Registry
	logger       *slog.Logger
	validateArgs bool
	execTimeout  time.Duration

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// RuntimeOptions configures a LocalRuntime.
type RuntimeOptions struct {
	// ValidateArgs checks call input against the declared schema before
	// dispatch.
	ValidateArgs bool

	// ExecTimeout bounds one execution. Zero leaves the call bounded
	// only by the turn's abort signal.
	ExecTimeout time.Duration
}

// NewLocalRuntime wraps a registry in a validating executor.
func NewLocalRuntime(registry *Registry, logger *slog.Logger, opts RuntimeOptions) *LocalRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRuntime{
		registry:     registry,
		logger:       logger.With("component", "tools"),
		validateArgs: opts.ValidateArgs,
		execTimeout:  opts.ExecTimeout,
		schemas:      make(map[string]*jsonschema.Schema),
	}
}

// Execute runs one call.
func (rt *LocalRuntime) Execute(ctx context.Context, call Call) Result {
	decl, handler, ok := rt.registry.Lookup(call.Name)
	if !ok {
		return Result{OK: false, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	if rt.validateArgs && len(decl.Parameters) > 0 {
		if err := rt.validate(decl, input); err != nil {
			return Result{OK: false, Error: fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)}
		}
	}

	execCtx := ctx
	if rt.execTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, rt.execTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := handler(execCtx, input)
	if err != nil {
		// Context errors pass through so the turn engine can tell an
		// abort from a tool failure.
		if ctx.Err() != nil {
			return Result{OK: false, Error: ctx.Err().Error()}
		}
		rt.logger.Warn("tool execution failed",
			"tool", call.Name, "call_id", call.ID,
			"duration", time.Since(started), "error", err)
		return Result{OK: false, Error: err.Error()}
	}
	if !result.OK && result.Error == "" {
		result.Error = "tool reported failure"
	}
	return result
}

func (rt *LocalRuntime) validate(decl Declaration, input json.RawMessage) error {
	schema, err := rt.compiled(decl)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}

// compiled returns the cached schema for a declaration, compiling once per
// tool name.
func (rt *LocalRuntime) compiled(decl Declaration) (*jsonschema.Schema, error) {
	rt.schemaMu.Lock()
	defer rt.schemaMu.Unlock()
	if schema, ok := rt.schemas[decl.Name]; ok {
		return schema, nil
	}
	schema, err := jsonschema.CompileString(decl.Name+".schema.json", string(decl.Parameters))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", decl.Name, err)
	}
	rt.schemas[decl.Name] = schema
	return schema, nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// currentTimeParams are the arguments for the builtin current_time tool.
type currentTimeParams struct {
	// Timezone is an IANA zone name like "America/New_York". Empty means
	// UTC.
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
}

var (
	currentTimeSchemaOnce sync.Once
	currentTimeSchema     json.RawMessage
)

func currentTimeDeclaration() Declaration {
	currentTimeSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			Anonymous:      true,
		}
		schema := r.Reflect(&currentTimeParams{})
		schema.Version = ""
		data, err := json.Marshal(schema)
		if err != nil {
			data = []byte(`{"type":"object"}`)
		}
		currentTimeSchema = data
	})
	return Declaration{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in a given IANA timezone.",
		Parameters:  currentTimeSchema,
	}
}

// RegisterBuiltins installs the tools every install ships with. The clock is
// injectable for tests; pass nil for time.Now.
func RegisterBuiltins(registry *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return registry.Register(currentTimeDeclaration(), func(ctx context.Context, input json.RawMessage) (Result, error) {
		var params currentTimeParams
		if err := json.Unmarshal(input, &params); err != nil {
			return Result{}, fmt.Errorf("decode arguments: %w", err)
		}
		loc := time.UTC
		if params.Timezone != "" {
			parsed, err := time.LoadLocation(params.Timezone)
			if err != nil {
				return Result{OK: false, Error: fmt.Sprintf("unknown timezone %q", params.Timezone)}, nil
			}
			loc = parsed
		}
		t := now().In(loc)
		return Result{OK: true, Output: map[string]any{
			"iso":      t.Format(time.RFC3339),
			"timezone": loc.String(),
			"weekday":  t.Weekday().String(),
		}}, nil
	})
}

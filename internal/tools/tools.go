// Package tools defines the tool contract the turn engine consumes: named
// declarations with JSON-schema parameters, a registry, and a runtime that
// executes calls. Tool semantics stay opaque to the engine; it only converts
// results into provider function-call-output bodies.
package tools

import (
	"context"
	"encoding/json"
)

// Declaration advertises one callable tool to the model.
type Declaration struct {
	// Name is the runtime-facing tool name. Provider adapters may
	// sanitize it on the wire; the runtime name is what handlers and the
	// UI see.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Parameters is the JSON schema for the call arguments.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Call is one function call emitted by the model.
type Call struct {
	// ID is the provider call id, preserved verbatim for replay.
	ID string `json:"id"`

	Name string `json:"name"`

	// Input is the raw JSON arguments string as the model produced it.
	Input json.RawMessage `json:"input"`
}

// ContentType tags one part of a mixed-content tool output.
type ContentType string

const (
	ContentText  ContentType = "input_text"
	ContentImage ContentType = "input_image"
)

// Content is one part of a mixed-content tool output.
type Content struct {
	Type ContentType `json:"type"`

	// Text carries input_text parts.
	Text string `json:"text,omitempty"`

	// ImageURL carries input_image parts as a data URL.
	ImageURL string `json:"image_url,omitempty"`
}

// Result is the outcome of one tool execution. OK=false still carries an
// output body so the model observes the failure instead of the turn dying.
type Result struct {
	OK bool `json:"ok"`

	// Output is a string, a JSON-marshalable value, or a []Content list.
	Output any `json:"output,omitempty"`

	Error string `json:"error,omitempty"`
}

// OutputText flattens a Result's output into the text body sent back to the
// provider. Mixed-content lists keep only their text parts here; adapters
// that support image outputs read the parts directly via OutputParts.
func (r Result) OutputText() string {
	switch out := r.Output.(type) {
	case nil:
		if !r.OK && r.Error != "" {
			return r.Error
		}
		return ""
	case string:
		return out
	case []Content:
		text := ""
		for _, part := range out {
			if part.Type == ContentText {
				if text != "" {
					text += "\n"
				}
				text += part.Text
			}
		}
		return text
	default:
		data, err := json.Marshal(out)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// OutputParts returns the output as mixed-content parts.
func (r Result) OutputParts() []Content {
	if parts, ok := r.Output.([]Content); ok {
		return parts
	}
	if text := r.OutputText(); text != "" {
		return []Content{{Type: ContentText, Text: text}}
	}
	return nil
}

// Runtime executes tool calls. The turn engine holds one for the whole
// process; implementations must be safe for concurrent use.
type Runtime interface {
	Execute(ctx context.Context, call Call) Result
}

// Handler is the function backing one registered tool.
type Handler func(ctx context.Context, input json.RawMessage) (Result, error)

// Package providers contains the three inference backend adapters behind one
// streaming contract. An adapter drives a single round: it drains steering
// once before issuing the request, forwards every thought and answer delta as
// it arrives, and returns the collected output items for replay.
package providers

import (
	"context"
	"strings"

	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

// ItemKind tags a request/response input item.
type ItemKind string

const (
	// ItemMessage is a plain conversation message.
	ItemMessage ItemKind = "message"

	// ItemFunctionCall is a tool call the model emitted.
	ItemFunctionCall ItemKind = "function_call"

	// ItemFunctionCallOutput is the result body for one call.
	ItemFunctionCallOutput ItemKind = "function_call_output"
)

// Item is one element of a round's input or output. Exactly the fields for
// its Kind are set. Arguments stay verbatim JSON strings so replay reproduces
// what the model produced byte for byte.
type Item struct {
	Kind ItemKind

	// Message fields.
	Role   models.Role
	Text   string
	Images []models.ChatImageAttachment

	// Function-call fields. Status carries the provider's call status
	// when it reports one (in_progress, failed, ...).
	CallID    string
	Name      string
	Arguments string
	Status    string

	// Function-call-output fields.
	Output []tools.Content
}

// MessageItem builds a message input item.
func MessageItem(msg models.ChatMessage) Item {
	return Item{Kind: ItemMessage, Role: msg.Role, Text: msg.Text, Images: msg.Images}
}

// Request is one round issued to an adapter.
type Request struct {
	// Credential is the bearer secret for this provider: an OAuth
	// access token for primary/secondary, an API key for the router.
	Credential string

	Model             string
	SystemInstruction string

	// Input is the ordered item list assembled by the turn engine.
	Input []Item

	// Tools are the advertised declarations, runtime names.
	Tools []tools.Declaration

	Thinking        models.ThinkingLevel
	IncludeThoughts bool

	// RouterProvider forces an aggregator sub-provider; "any" or empty
	// lets the aggregator route.
	RouterProvider string

	// DrainSteering is invoked exactly once per Stream call, before the
	// request is issued. Returned messages join the round input as user
	// messages.
	DrainSteering func() []models.ChatMessage
}

// SegmentKind distinguishes streamed delta types.
type SegmentKind string

const (
	SegmentThought SegmentKind = "thought"
	SegmentAnswer  SegmentKind = "answer"
)

// Segment is one streamed delta.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text"`
}

// Chunk is one onChunk callback payload.
type Chunk struct {
	Segments []Segment `json:"segments"`
}

// AnswerText concatenates the chunk's answer segments.
func (c Chunk) AnswerText() string {
	var b strings.Builder
	for _, seg := range c.Segments {
		if seg.Kind == SegmentAnswer {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// DebugEvent is a low-volume diagnostic record forwarded to session.debug.
type DebugEvent struct {
	Provider models.Provider `json:"provider"`
	Stage    string          `json:"stage"`
	Detail   string          `json:"detail,omitempty"`
}

// Result is the outcome of one completed stream.
type Result struct {
	// Answer is the text the adapter collected, streamed or final.
	Answer string

	// Items are the output items in emission order: function calls and
	// any assistant message context needed for replay.
	Items []Item

	// Completed reports a terminal provider success. False forces the
	// turn engine to issue another round.
	Completed bool

	// Status is the provider's terminal status token when not completed
	// ("failed", "cancelled", ...).
	Status string

	Usage usage.Usage
}

// FunctionCalls filters the result's function-call items.
func (r *Result) FunctionCalls() []Item {
	var out []Item
	for _, item := range r.Items {
		if item.Kind == ItemFunctionCall {
			out = append(out, item)
		}
	}
	return out
}

// Adapter is the per-provider streaming contract.
type Adapter interface {
	Provider() models.Provider
	Stream(ctx context.Context, req *Request, onChunk func(Chunk), onDebug func(DebugEvent)) (*Result, error)
}

// ActionableCalls deduplicates a round's function calls for execution.
// Duplicates collapse by call id, falling back to name:arguments when the
// provider omitted ids; calls already failed, cancelled, or still in
// progress are dropped, as are non-call items.
func ActionableCalls(items []Item) []Item {
	seen := make(map[string]bool)
	var out []Item
	for _, item := range items {
		if item.Kind != ItemFunctionCall {
			continue
		}
		switch item.Status {
		case "failed", "cancelled", "in_progress":
			continue
		}
		key := item.CallID
		if key == "" {
			key = item.Name + ":" + item.Arguments
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// drainSteeringItems runs the request's steering callback once and converts
// the drained messages to input items.
func drainSteeringItems(req *Request) []Item {
	if req.DrainSteering == nil {
		return nil
	}
	msgs := req.DrainSteering()
	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, MessageItem(msg))
	}
	return items
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/retry"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

// openAICore is the chat-completions streaming engine shared by the primary
// adapter and the router adapter. The two differ only in base URL, model
// tagging, and provider label.
type openAICore struct {
	provider models.Provider
	baseURL  string
	logger   *observability.Logger
	retry    retry.Config
}

func (c *openAICore) stream(ctx context.Context, req *Request, onChunk func(Chunk), onDebug func(DebugEvent)) (*Result, error) {
	if req.Credential == "" {
		return nil, &Error{Reason: ReasonAuth, Provider: c.provider, Model: req.Model, Message: "no credential configured"}
	}

	input := append(append([]Item(nil), req.Input...), drainSteeringItems(req)...)
	table := newNameTable(declarationNames(req.Tools))

	chatReq := openai.ChatCompletionRequest{
		Model:         c.wireModel(req),
		Messages:      convertItems(req.SystemInstruction, input, table),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertDeclarations(req.Tools, table)
		chatReq.ParallelToolCalls = false
	}
	if effort := reasoningEffort(req.Thinking); effort != "" {
		chatReq.ReasoningEffort = effort
	}

	clientConfig := openai.DefaultConfig(req.Credential)
	if c.baseURL != "" {
		clientConfig.BaseURL = c.baseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	var stream *openai.ChatCompletionStream
	res := retry.Do(ctx, c.retry, retryable, func(attempt int) error {
		if attempt > 0 && onDebug != nil {
			onDebug(DebugEvent{Provider: c.provider, Stage: "retry", Detail: fmt.Sprintf("attempt %d", attempt+1)})
		}
		s, err := client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return newError(c.provider, req.Model, err)
		}
		stream = s
		return nil
	})
	if res.Err != nil {
		return nil, res.Err
	}
	defer stream.Close()

	return c.consume(ctx, stream, req, table, onChunk)
}

// consume drains the stream, forwarding deltas and accumulating the
// per-index tool call fragments until the provider finishes. On abort the
// partial result collected so far is returned alongside the error so the
// caller can preserve streamed text.
func (c *openAICore) consume(ctx context.Context, stream *openai.ChatCompletionStream, req *Request, table *nameTable, onChunk func(Chunk)) (*Result, error) {
	var (
		answer    strings.Builder
		calls     = make(map[int]*Item)
		tokens    usage.Usage
		finish    openai.FinishReason
		callOrder []int
	)

	build := func() *Result {
		out := &Result{Answer: answer.String(), Usage: tokens}
		sort.Ints(callOrder)
		for _, idx := range callOrder {
			item := calls[idx]
			if item.Name == "" {
				continue
			}
			item.Name = table.Runtime(item.Name)
			if item.Arguments == "" {
				item.Arguments = "{}"
			}
			out.Items = append(out.Items, *item)
		}
		return out
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				out := build()
				out.Completed = true
				out.Status = "completed"
				if finish == openai.FinishReasonLength || finish == openai.FinishReasonContentFilter {
					out.Completed = false
					out.Status = string(finish)
				}
				return out, nil
			}
			perr := newError(c.provider, req.Model, err)
			if perr.Reason == ReasonAborted {
				out := build()
				out.Status = "cancelled"
				return out, perr
			}
			return nil, perr
		}

		if resp.Usage != nil {
			tokens.InputTokens = int64(resp.Usage.PromptTokens)
			tokens.OutputTokens = int64(resp.Usage.CompletionTokens)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}

		delta := choice.Delta
		var segments []Segment
		if delta.ReasoningContent != "" && req.IncludeThoughts {
			segments = append(segments, Segment{Kind: SegmentThought, Text: delta.ReasoningContent})
		}
		if delta.Content != "" {
			answer.WriteString(delta.Content)
			segments = append(segments, Segment{Kind: SegmentAnswer, Text: delta.Content})
		}
		if len(segments) > 0 && onChunk != nil {
			onChunk(Chunk{Segments: segments})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			item, ok := calls[index]
			if !ok {
				item = &Item{Kind: ItemFunctionCall}
				calls[index] = item
				callOrder = append(callOrder, index)
			}
			if tc.ID != "" {
				item.CallID = tc.ID
			}
			if tc.Function.Name != "" {
				item.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				item.Arguments += tc.Function.Arguments
			}
		}
	}
}

// wireModel resolves the model string sent on the wire. Aggregator requests
// pinned to one sub-provider carry it as a model tag.
func (c *openAICore) wireModel(req *Request) string {
	if c.provider == models.ProviderRouter && req.RouterProvider != "" && req.RouterProvider != "any" {
		return req.Model + "@" + req.RouterProvider
	}
	return req.Model
}

// reasoningEffort maps a thinking level to the wire effort value. Off omits
// the field; xhigh collapses to the highest supported effort.
func reasoningEffort(level models.ThinkingLevel) string {
	switch level {
	case models.ThinkingOff, "":
		return ""
	case models.ThinkingXHigh:
		return "high"
	default:
		return string(level)
	}
}

func declarationNames(decls []tools.Declaration) []string {
	names := make([]string, 0, len(decls))
	for _, d := range decls {
		names = append(names, d.Name)
	}
	return names
}

func convertDeclarations(decls []tools.Declaration, table *nameTable) []openai.Tool {
	out := make([]openai.Tool, 0, len(decls))
	for _, d := range decls {
		params := any(map[string]any{"type": "object", "properties": map[string]any{}})
		if len(d.Parameters) > 0 {
			params = d.Parameters
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        table.Wire(d.Name),
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// convertItems renders the round input as chat-completions messages. The
// system instruction leads, consecutive function calls fold into a single
// assistant tool-calls message, and each output becomes a tool message.
// Image parts in tool outputs ride in a follow-up user message because the
// tool role only carries text.
func convertItems(system string, items []Item, table *nameTable) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(items)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for i := 0; i < len(items); i++ {
		item := items[i]
		switch item.Kind {
		case ItemMessage:
			out = append(out, convertMessageItem(item))

		case ItemFunctionCall:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for ; i < len(items) && items[i].Kind == ItemFunctionCall; i++ {
				call := items[i]
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      table.Wire(call.Name),
						Arguments: call.Arguments,
					},
				})
			}
			i--
			out = append(out, msg)

		case ItemFunctionCallOutput:
			text, imageParts := splitOutputParts(item.Output)
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    text,
				ToolCallID: item.CallID,
			})
			if len(imageParts) > 0 {
				out = append(out, openai.ChatCompletionMessage{MultiContent: imageParts, Role: openai.ChatMessageRoleUser})
			}
		}
	}
	return out
}

func convertMessageItem(item Item) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: string(item.Role)}
	if len(item.Images) == 0 {
		msg.Content = item.Text
		return msg
	}

	parts := make([]openai.ChatMessagePart, 0, len(item.Images)+1)
	if item.Text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: item.Text,
		})
	}
	for _, img := range item.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    img.DataURL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	msg.MultiContent = parts
	return msg
}

// splitOutputParts joins a tool result's text parts and collects its image
// parts as chat message parts.
func splitOutputParts(parts []tools.Content) (string, []openai.ChatMessagePart) {
	var texts []string
	var images []openai.ChatMessagePart
	for _, p := range parts {
		switch p.Type {
		case tools.ContentText:
			texts = append(texts, p.Text)
		case tools.ContentImage:
			images = append(images, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    p.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return strings.Join(texts, "\n"), images
}

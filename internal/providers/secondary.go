package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/relay/internal/images"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/retry"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

// thinkingBudgets maps a thinking level to the secondary backend's token
// budget. Zero disables thinking outright.
var thinkingBudgets = map[models.ThinkingLevel]int32{
	models.ThinkingOff:     0,
	models.ThinkingMinimal: 1024,
	models.ThinkingLow:     4096,
	models.ThinkingMedium:  16384,
	models.ThinkingHigh:    32768,
	models.ThinkingXHigh:   65536,
}

// SecondaryAdapter streams against the secondary backend through the genai
// SDK. Function calls arrive whole rather than as fragments, and the backend
// assigns no call ids, so the adapter synthesizes them.
type SecondaryAdapter struct {
	logger *observability.Logger
	retry  retry.Config
	now    func() time.Time
}

func NewSecondaryAdapter(logger *observability.Logger) *SecondaryAdapter {
	return &SecondaryAdapter{
		logger: logger,
		retry:  retry.Providers(),
		now:    time.Now,
	}
}

func (a *SecondaryAdapter) Provider() models.Provider { return models.ProviderSecondary }

func (a *SecondaryAdapter) Stream(ctx context.Context, req *Request, onChunk func(Chunk), onDebug func(DebugEvent)) (*Result, error) {
	if req.Credential == "" {
		return nil, &Error{Reason: ReasonAuth, Provider: models.ProviderSecondary, Model: req.Model, Message: "no credential configured"}
	}
	if err := a.checkThinking(req); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.Credential,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, newError(models.ProviderSecondary, req.Model, err)
	}

	input := append(append([]Item(nil), req.Input...), drainSteeringItems(req)...)
	table := newNameTable(declarationNames(req.Tools))
	contents := a.convertItems(input, table)
	config := a.buildConfig(req, table)

	var out *Result
	res := retry.Do(ctx, a.retry, retryable, func(attempt int) error {
		if attempt > 0 && onDebug != nil {
			onDebug(DebugEvent{Provider: models.ProviderSecondary, Stage: "retry", Detail: fmt.Sprintf("attempt %d", attempt+1)})
		}
		r, emitted, err := a.consume(ctx, client, req, contents, config, table, onChunk)
		if err != nil {
			perr := newError(models.ProviderSecondary, req.Model, err)
			if emitted && perr.Reason != ReasonAborted {
				// Output already reached the client; reissuing would
				// duplicate it.
				return retry.Permanent(perr)
			}
			out = r
			return perr
		}
		out = r
		return nil
	})
	if res.Err != nil {
		return out, res.Err
	}
	return out, nil
}

// consume runs one stream and collects the result. The second return
// reports whether any delta was forwarded before the error.
func (a *SecondaryAdapter) consume(ctx context.Context, client *genai.Client, req *Request, contents []*genai.Content, config *genai.GenerateContentConfig, table *nameTable, onChunk func(Chunk)) (*Result, bool, error) {
	var (
		answer  strings.Builder
		items   []Item
		tokens  usage.Usage
		emitted bool
	)

	build := func() *Result {
		return &Result{Answer: answer.String(), Items: items, Usage: tokens}
	}

	for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if ctx.Err() != nil {
			out := build()
			out.Status = "cancelled"
			return out, emitted, ctx.Err()
		}
		if err != nil {
			if IsAbort(err) {
				out := build()
				out.Status = "cancelled"
				return out, emitted, err
			}
			return nil, emitted, err
		}
		if resp == nil {
			continue
		}
		if meta := resp.UsageMetadata; meta != nil {
			tokens.InputTokens = int64(meta.PromptTokenCount)
			tokens.OutputTokens = int64(meta.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			var segments []Segment
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if part.Thought {
						if req.IncludeThoughts {
							segments = append(segments, Segment{Kind: SegmentThought, Text: part.Text})
						}
						continue
					}
					answer.WriteString(part.Text)
					segments = append(segments, Segment{Kind: SegmentAnswer, Text: part.Text})
				}
				if part.FunctionCall != nil {
					args, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						args = []byte("{}")
					}
					name := table.Runtime(part.FunctionCall.Name)
					items = append(items, Item{
						Kind:      ItemFunctionCall,
						CallID:    a.callID(name),
						Name:      name,
						Arguments: string(args),
					})
				}
			}
			if len(segments) > 0 {
				emitted = true
				if onChunk != nil {
					onChunk(Chunk{Segments: segments})
				}
			}
		}
	}

	out := build()
	out.Completed = true
	out.Status = "completed"
	return out, emitted, nil
}

// checkThinking rejects level and model combinations the backend does not
// accept. Flash-tier models stop at high.
func (a *SecondaryAdapter) checkThinking(req *Request) error {
	level := req.Thinking
	if level == "" {
		return nil
	}
	if _, ok := thinkingBudgets[level]; !ok {
		return invalidRequestError(models.ProviderSecondary, req.Model, "unknown thinking level %q", level)
	}
	if level == models.ThinkingXHigh && strings.Contains(req.Model, "flash") {
		return invalidRequestError(models.ProviderSecondary, req.Model, "model %s does not support thinking level %s", req.Model, level)
	}
	return nil
}

func (a *SecondaryAdapter) buildConfig(req *Request, table *nameTable) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}
	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, d := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        table.Wire(d.Name),
				Description: d.Description,
			}
			if len(d.Parameters) > 0 {
				decl.ParametersJsonSchema = json.RawMessage(d.Parameters)
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, decl)
		}
		config.Tools = []*genai.Tool{tool}
	}
	if req.Thinking != "" {
		budget := thinkingBudgets[req.Thinking]
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget:  &budget,
			IncludeThoughts: req.IncludeThoughts && budget > 0,
		}
	}
	return config
}

// convertItems renders the round input as genai contents. System text is
// carried in the config, assistant turns use the model role, and tool
// outputs ride as user-role function responses.
func (a *SecondaryAdapter) convertItems(items []Item, table *nameTable) []*genai.Content {
	var out []*genai.Content
	for _, item := range items {
		switch item.Kind {
		case ItemMessage:
			if item.Role == models.RoleSystem {
				continue
			}
			role := genai.RoleUser
			if item.Role == models.RoleAssistant {
				role = genai.RoleModel
			}
			content := &genai.Content{Role: role}
			if item.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: item.Text})
			}
			for _, img := range item.Images {
				part, err := inlineImagePart(img)
				if err != nil {
					continue
				}
				content.Parts = append(content.Parts, part)
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}

		case ItemFunctionCall:
			var args map[string]any
			if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			out = append(out, &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{
						Name: table.Wire(item.Name),
						Args: args,
					},
				}},
			})

		case ItemFunctionCallOutput:
			text, _ := splitOutputParts(item.Output)
			var response map[string]any
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]any{"result": text}
			}
			content := &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     table.Wire(callName(item)),
						Response: response,
					},
				}},
			}
			for _, part := range item.Output {
				if part.Type != tools.ContentImage {
					continue
				}
				if imgPart, err := inlineImagePart(models.ChatImageAttachment{DataURL: part.ImageURL}); err == nil {
					content.Parts = append(content.Parts, imgPart)
				}
			}
			out = append(out, content)
		}
	}
	return out
}

// callID synthesizes a call id; the backend does not assign them.
func (a *SecondaryAdapter) callID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, a.now().UnixNano())
}

// callName resolves the tool name for an output item, falling back to the
// synthesized id format when the item carries no name.
func callName(item Item) string {
	if item.Name != "" {
		return item.Name
	}
	trimmed := strings.TrimPrefix(item.CallID, "call_")
	if i := strings.LastIndex(trimmed, "_"); i > 0 {
		return trimmed[:i]
	}
	return trimmed
}

func inlineImagePart(img models.ChatImageAttachment) (*genai.Part, error) {
	mime, payload, err := images.ParseDataURL(img.DataURL)
	if err != nil {
		return nil, err
	}
	return &genai.Part{
		InlineData: &genai.Blob{Data: payload, MIMEType: mime},
	}, nil
}

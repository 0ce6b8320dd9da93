package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/compaction"
	"github.com/haasonsaas/relay/internal/images"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// maxToolRounds bounds one turn's model round-trips.
const maxToolRounds = 32

const baseSystemPrompt = "You are Relay, a coding and research assistant running inside a " +
	"terminal session. Prefer using the available tools over guessing. Keep " +
	"answers direct and grounded in tool output."

// startTurnLocked validates the prompt against the active model, runs any
// required compression, appends the user message, transitions to pending,
// and spawns the turn goroutine. Called with the runtime mutex held.
func (r *Runtime) startTurnLocked(s *session, turnID, text string, attachments []models.ChatImageAttachment) error {
	opt, ok := r.selectedModelLocked()
	if !ok {
		return fmt.Errorf("no model available: %w", ErrProviderNotEnabled)
	}
	adapter := r.adapters[opt.Provider]
	if adapter == nil || !r.selection.ProviderEnabled(opt.Provider) {
		return fmt.Errorf("%s: %w", opt.Provider, ErrProviderNotEnabled)
	}
	credential, err := r.auth.Credential(opt.Provider)
	if err != nil {
		return fmt.Errorf("%s: %w", opt.Provider, ErrMissingCredential)
	}

	window := catalog.ContextWindow(opt)
	autoLimit := catalog.AutoCompactLimit(window)

	// Histories built against another backend are condensed before the
	// new provider sees them.
	if s.conversationProvider != "" && s.conversationProvider != opt.Provider && len(s.history) > 0 {
		outcome, did := compaction.Compress(s.history, compaction.Params{
			Reason:    compaction.ReasonProviderSwitch,
			Model:     opt.ID,
			Window:    window,
			AutoLimit: autoLimit,
		})
		if did {
			previous := s.conversationProvider
			s.history = outcome.History
			if s.activeRollout != nil {
				_ = s.activeRollout.Close()
				s.activeRollout = nil
			}
			r.systemNoticeLocked(s, fmt.Sprintf("provider switched: %s -> %s. context compressed (~%d -> ~%d tokens)",
				previous, opt.Provider, outcome.BeforeTokens, outcome.AfterTokens))
			if r.metrics != nil {
				r.metrics.RecordCompression(string(compaction.ReasonProviderSwitch))
			}
		}
	}
	s.conversationProvider = opt.Provider

	text = images.AppendPlaceholders(text, len(attachments))
	prompt := models.ChatMessage{Role: models.RoleUser, Text: text, Images: attachments}

	if compaction.EstimateHistoryTokens(s.history)+compaction.EstimateMessageTokens(prompt) > autoLimit {
		outcome, did := compaction.Compress(s.history, compaction.Params{
			Reason:    compaction.ReasonAuto,
			Model:     opt.ID,
			Window:    window,
			AutoLimit: autoLimit,
		})
		if did {
			s.history = outcome.History
			r.systemNoticeLocked(s, fmt.Sprintf("context compressed (~%d -> ~%d tokens)",
				outcome.BeforeTokens, outcome.AfterTokens))
			if r.metrics != nil {
				r.metrics.RecordCompression(string(compaction.ReasonAuto))
			}
		}
	}

	s.history = append(s.history, prompt)
	r.appendUILocked(s, models.RoleUser, text, attachments)

	// Rollout persistence is best effort: a failure surfaces as a notice
	// and the turn continues without a file.
	if s.activeRollout == nil && r.rollouts != nil {
		ro, createErr := r.rollouts.Create(s.id)
		if createErr != nil {
			r.systemNoticeLocked(s, "conversation logging unavailable: "+createErr.Error())
		} else {
			s.activeRollout = ro
			if appendErr := ro.AppendAll(s.history); appendErr != nil {
				r.systemNoticeLocked(s, "conversation logging unavailable: "+appendErr.Error())
				_ = ro.Close()
				s.activeRollout = nil
			}
		}
	} else if s.activeRollout != nil {
		if appendErr := s.activeRollout.Append(prompt); appendErr != nil {
			r.systemNoticeLocked(s, "conversation logging unavailable: "+appendErr.Error())
			_ = s.activeRollout.Close()
			s.activeRollout = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = observability.AddSessionID(ctx, s.id)
	ctx = observability.AddTurnID(ctx, turnID)

	s.abort = cancel
	s.activeTurnID = turnID
	r.setStatusLocked(s, models.SessionPending, "thinking")

	params := turnParams{
		session:    s,
		turnID:     turnID,
		adapter:    adapter,
		option:     opt,
		credential: credential,
		thinking:   catalog.ClampThinking(opt, r.selection.ThinkingLevel),
		router:     r.selection.RouterProvider,
		history:    models.CloneMessages(s.history),
	}
	if params.thinking == "" {
		params.thinking = catalog.DefaultThinking(opt)
	}

	r.turns.Add(1)
	go r.runTurn(ctx, cancel, params)
	return nil
}

type turnParams struct {
	session    *session
	turnID     string
	adapter    providers.Adapter
	option     models.ModelOption
	credential string
	thinking   models.ThinkingLevel
	router     string
	history    []models.ChatMessage
}

// runTurn drives the tool-calling round loop for one prompt.
func (r *Runtime) runTurn(ctx context.Context, cancel context.CancelFunc, p turnParams) {
	defer r.turns.Done()
	defer cancel()

	provider := string(p.option.Provider)
	started := time.Now()
	if r.metrics != nil {
		r.metrics.TurnStarted(provider)
	}

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.TraceTurn(ctx, p.session.id, provider, p.option.ID)
		defer span.End()
	}

	input := make([]providers.Item, 0, len(p.history)+8)
	for _, msg := range p.history {
		input = append(input, providers.MessageItem(msg))
	}

	debug := r.debugEnabled()
	var declarations []tools.Declaration
	if r.tools != nil {
		declarations = r.tools.Declarations()
	}

	var finalAnswer string

	for round := 1; ; round++ {
		if round > maxToolRounds {
			r.finishError(p, fmt.Errorf("turn exceeded %d tool rounds", maxToolRounds), started)
			return
		}
		if r.metrics != nil {
			r.metrics.RecordRound(provider, p.option.ID)
		}

		var drained []models.ChatMessage
		var streamed strings.Builder

		req := &providers.Request{
			Credential:        p.credential,
			Model:             p.option.ID,
			SystemInstruction: r.systemInstruction(),
			Input:             input,
			Tools:             declarations,
			Thinking:          p.thinking,
			IncludeThoughts:   debug,
			RouterProvider:    p.router,
			DrainSteering: func() []models.ChatMessage {
				drained = r.drainSteering(p.session)
				return drained
			},
		}

		onChunk := func(ch providers.Chunk) {
			if answer := ch.AnswerText(); answer != "" {
				streamed.WriteString(answer)
			}
			r.emitter.Emit(Event{Type: EventStreamChunk, Payload: map[string]any{
				"session_id": p.session.id,
				"turn_id":    p.turnID,
				"segments":   ch.Segments,
			}})
		}
		onDebug := func(ev providers.DebugEvent) {
			if !debug {
				return
			}
			r.emitter.Emit(Event{Type: EventSessionDebug, Payload: map[string]any{
				"session_id": p.session.id,
				"turn_id":    p.turnID,
				"provider":   ev.Provider,
				"stage":      ev.Stage,
				"detail":     ev.Detail,
			}})
		}

		roundStart := time.Now()
		result, err := p.adapter.Stream(ctx, req, onChunk, onDebug)

		if result != nil {
			if r.usage != nil {
				r.usage.Add(p.option.Provider, p.option.ID, result.Usage)
			}
			if r.metrics != nil {
				status := "completed"
				if err != nil {
					status = "error"
				}
				r.metrics.RecordModelRequest(provider, p.option.ID, status, time.Since(roundStart).Seconds(),
					int(result.Usage.InputTokens), int(result.Usage.OutputTokens))
			}
		}

		if err != nil {
			if providers.IsAbort(err) || ctx.Err() != nil {
				partial := streamed.String()
				if result != nil {
					partial = reconcileAnswer(result.Answer, partial)
				}
				r.finishInterrupted(p, partial, started)
				return
			}
			if span != nil {
				r.tracer.RecordError(span, err)
			}
			r.finishError(p, err, started)
			return
		}

		// Providers that return more answer text than they streamed get
		// the tail replayed as one final delta.
		if delta := computeUnstreamedAnswerDelta(result.Answer, streamed.String()); delta != "" {
			r.emitter.Emit(Event{Type: EventStreamChunk, Payload: map[string]any{
				"session_id": p.session.id,
				"turn_id":    p.turnID,
				"segments":   []providers.Segment{{Kind: providers.SegmentAnswer, Text: delta}},
			}})
		}
		calls := providers.ActionableCalls(result.Items)
		if len(calls) == 0 {
			if !result.Completed {
				// Premature end without tool calls: keep whatever
				// text arrived as context and ask again.
				for _, msg := range drained {
					input = append(input, providers.MessageItem(msg))
				}
				if result.Answer != "" {
					input = append(input, providers.Item{Kind: providers.ItemMessage, Role: models.RoleAssistant, Text: result.Answer})
				}
				continue
			}
			finalAnswer = reconcileAnswer(result.Answer, streamed.String())
			break
		}

		outputs, execErr := r.executeCalls(ctx, p, calls)
		if execErr != nil {
			r.finishInterrupted(p, reconcileAnswer(result.Answer, streamed.String()), started)
			return
		}

		for _, msg := range drained {
			input = append(input, providers.MessageItem(msg))
		}
		if result.Answer != "" {
			input = append(input, providers.Item{Kind: providers.ItemMessage, Role: models.RoleAssistant, Text: result.Answer})
		}
		input = append(input, calls...)
		input = append(input, outputs...)

		r.mu.Lock()
		if p.session.state == models.SessionPending {
			r.setStatusLocked(p.session, models.SessionPending, "thinking")
		}
		r.mu.Unlock()
	}

	r.finishCompleted(p, finalAnswer, started)
}

// executeCalls runs a round's tool calls sequentially, emitting lifecycle
// events for each. A context cancellation stops the batch.
func (r *Runtime) executeCalls(ctx context.Context, p turnParams, calls []providers.Item) ([]providers.Item, error) {
	outputs := make([]providers.Item, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.mu.Lock()
		if p.session.state == models.SessionPending {
			r.setStatusLocked(p.session, models.SessionPending, "running tool: "+call.Name)
		}
		r.mu.Unlock()

		r.emitter.Emit(Event{Type: EventToolCallStarted, Payload: map[string]any{
			"session_id": p.session.id,
			"turn_id":    p.turnID,
			"call_id":    call.CallID,
			"name":       call.Name,
			"arguments":  call.Arguments,
		}})

		start := time.Now()
		var result tools.Result
		if r.toolRun != nil {
			result = r.toolRun.Execute(ctx, tools.Call{ID: call.CallID, Name: call.Name, Input: json.RawMessage(call.Arguments)})
		} else {
			result = tools.Result{OK: false, Error: "no tool runtime configured"}
		}
		if r.metrics != nil {
			status := "ok"
			if !result.OK {
				status = "error"
			}
			r.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
		}

		r.emitter.Emit(Event{Type: EventToolCallCompleted, Payload: map[string]any{
			"session_id": p.session.id,
			"turn_id":    p.turnID,
			"call_id":    call.CallID,
			"name":       call.Name,
			"ok":         result.OK,
			"output":     result.OutputText(),
			"error":      result.Error,
		}})

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outputs = append(outputs, providers.Item{
			Kind:   providers.ItemFunctionCallOutput,
			CallID: call.CallID,
			Name:   call.Name,
			Output: result.OutputParts(),
		})
	}

	r.emitter.Emit(Event{Type: EventToolResults, Payload: map[string]any{
		"session_id": p.session.id,
		"turn_id":    p.turnID,
		"count":      len(outputs),
	}})
	return outputs, nil
}

// finishCompleted records the final assistant message and releases the
// session back to ready.
func (r *Runtime) finishCompleted(p turnParams, answer string, started time.Time) {
	r.mu.Lock()
	s := p.session
	assistant := models.ChatMessage{Role: models.RoleAssistant, Text: answer}
	s.history = append(s.history, assistant)
	r.appendUILocked(s, models.RoleAssistant, answer, nil)
	if s.activeRollout != nil {
		_ = s.activeRollout.Append(assistant)
	}
	r.finalizeLocked(s)
	next := r.popQueueLocked(s)
	r.mu.Unlock()

	r.emitter.Emit(Event{Type: EventSessionCompleted, Payload: map[string]any{
		"session_id":    s.id,
		"turn_id":       p.turnID,
		"answer_length": len(answer),
	}})
	if r.metrics != nil {
		r.metrics.TurnFinished(string(p.option.Provider), "completed", time.Since(started).Seconds())
	}
	r.advance(s, next)
}

// finishInterrupted keeps any partial text as an assistant message and
// reports the interruption.
func (r *Runtime) finishInterrupted(p turnParams, partial string, started time.Time) {
	r.mu.Lock()
	s := p.session
	if partial != "" {
		assistant := models.ChatMessage{Role: models.RoleAssistant, Text: partial}
		s.history = append(s.history, assistant)
		r.appendUILocked(s, models.RoleAssistant, partial, nil)
		if s.activeRollout != nil {
			_ = s.activeRollout.Append(assistant)
		}
	}
	r.finalizeLocked(s)
	next := r.popQueueLocked(s)
	r.mu.Unlock()

	r.emitter.Emit(Event{Type: EventSessionInterrupted, Payload: map[string]any{
		"session_id":     s.id,
		"turn_id":        p.turnID,
		"partial_output": partial != "",
	}})
	if r.metrics != nil {
		r.metrics.TurnFinished(string(p.option.Provider), "interrupted", time.Since(started).Seconds())
	}
	r.advance(s, next)
}

// finishError surfaces the failure as a notice and an error event.
func (r *Runtime) finishError(p turnParams, err error, started time.Time) {
	reason := "internal"
	var perr *providers.Error
	if errors.As(err, &perr) {
		reason = string(perr.Reason)
	}

	r.mu.Lock()
	s := p.session
	r.systemNoticeLocked(s, "turn failed: "+err.Error())
	r.finalizeLocked(s)
	next := r.popQueueLocked(s)
	r.mu.Unlock()

	r.logger.Error(context.Background(), "turn failed",
		"session_id", s.id, "turn_id", p.turnID, "reason", reason, "error", err.Error())
	r.emitter.Emit(Event{Type: EventSessionError, Payload: map[string]any{
		"session_id": s.id,
		"turn_id":    p.turnID,
		"reason":     reason,
		"error":      err.Error(),
	}})
	if r.metrics != nil {
		r.metrics.TurnFinished(string(p.option.Provider), "error", time.Since(started).Seconds())
		r.metrics.RecordError("turn", reason)
	}
	r.advance(s, next)
}

// finalizeLocked reports undelivered steering, clears the turn handle, and
// returns the session to ready.
func (r *Runtime) finalizeLocked(s *session) {
	if leftover := len(s.steering); leftover > 0 {
		r.systemNoticeLocked(s, fmt.Sprintf("%d steering message(s) arrived after the turn ended and were not delivered", leftover))
		s.steering = nil
	}
	s.abort = nil
	s.activeTurnID = ""
	r.setStatusLocked(s, models.SessionReady, "idle")
}

// popQueueLocked takes the next queued prompt, if any.
func (r *Runtime) popQueueLocked(s *session) *models.QueueItem {
	if len(s.queued) == 0 {
		return nil
	}
	item := s.queued[0]
	s.queued = append([]models.QueueItem(nil), s.queued[1:]...)
	if r.metrics != nil {
		r.metrics.SetQueueDepth(len(s.queued))
	}
	return &item
}

// advance starts the next queued prompt. Queued prompts only ever run
// through here; the queue item id becomes the turn id.
func (r *Runtime) advance(s *session, item *models.QueueItem) {
	for item != nil {
		if r.shuttingDown.Load() {
			return
		}

		r.mu.Lock()
		if s.state != models.SessionReady {
			r.mu.Unlock()
			return
		}
		err := r.startTurnLocked(s, item.ID, item.Text, item.Images)
		var next *models.QueueItem
		if err != nil {
			r.systemNoticeLocked(s, "queued prompt failed to start: "+err.Error())
			next = r.popQueueLocked(s)
		}
		r.mu.Unlock()

		if err != nil {
			r.emitter.Emit(Event{Type: EventSessionError, Payload: map[string]any{
				"session_id": s.id,
				"turn_id":    item.ID,
				"reason":     "dispatch",
				"error":      err.Error(),
			}})
		}
		item = next
	}
}

// drainSteering moves queued steering into history and the transcript,
// returning the drained messages for the in-flight request.
func (r *Runtime) drainSteering(s *session) []models.ChatMessage {
	r.mu.Lock()
	msgs := s.steering
	s.steering = nil
	for _, msg := range msgs {
		s.history = append(s.history, msg)
		r.appendUILocked(s, msg.Role, msg.Text, msg.Images)
	}
	active := s.activeRollout
	r.mu.Unlock()

	if active != nil && len(msgs) > 0 {
		_ = active.AppendAll(msgs)
	}
	return msgs
}

// systemInstruction builds the system prompt, listing discovered skills.
func (r *Runtime) systemInstruction() string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	if r.skills != nil {
		if list := r.skills.List(); len(list) > 0 {
			b.WriteString("\n\nAvailable skills:")
			for _, skill := range list {
				b.WriteString("\n- ")
				b.WriteString(skill.Name)
				b.WriteString(": ")
				b.WriteString(skill.Description)
			}
		}
	}
	return b.String()
}

// reconcileAnswer picks the text recorded in history: the provider's final
// answer only when it extends the streamed draft, otherwise the draft the
// client already watched arrive.
func reconcileAnswer(answer, streamed string) string {
	if streamed == "" || strings.HasPrefix(answer, streamed) {
		return answer
	}
	return streamed
}

// computeUnstreamedAnswerDelta returns the answer suffix that never went out
// as a streamed delta. A final answer that is not an extension of the
// streamed text yields nothing; replaying it would duplicate output.
func computeUnstreamedAnswerDelta(answer, streamed string) string {
	if streamed == "" {
		return answer
	}
	if strings.HasPrefix(answer, streamed) {
		return answer[len(streamed):]
	}
	return ""
}

package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/relay/internal/images"
	"github.com/haasonsaas/relay/pkg/models"
)

// Capabilities advertises what this server supports.
type Capabilities struct {
	Events         bool `json:"events"`
	CommandExecute bool `json:"command_execute"`
	MultiSession   bool `json:"multi_session"`
	ImageInputs    bool `json:"image_inputs"`
}

// HandshakeResult is the rpc.handshake response.
type HandshakeResult struct {
	ProtocolVersion string       `json:"protocol_version"`
	Capabilities    Capabilities `json:"capabilities"`
	Methods         []string     `json:"methods"`
}

func (r *Router) registerMethods() {
	r.methods["rpc.handshake"] = r.handleHandshake
	r.methods["system.ping"] = r.handlePing
	r.methods["system.shutdown"] = r.handleShutdown
	r.methods["state.get"] = r.handleStateGet

	r.methods["session.create"] = r.handleSessionCreate
	r.methods["session.get"] = r.handleSessionGet
	r.methods["session.send"] = r.handleSessionSend
	r.methods["session.steer"] = r.handleSessionSteer
	r.methods["session.interrupt"] = r.handleSessionInterrupt
	r.methods["session.queue.list"] = r.handleQueueList
	r.methods["session.queue.clear"] = r.handleQueueClear

	r.methods["command.execute"] = r.handleCommandExecute

	r.methods["auth.status"] = r.handleAuthStatus
	r.methods["auth.connect.primary"] = r.handleConnectPrimary
	r.methods["auth.connect.secondary"] = r.handleConnectSecondary
	r.methods["auth.set.router_key"] = r.handleSetRouterKey
	r.methods["auth.set.search_key"] = r.handleSetSearchKey

	r.methods["onboarding.status"] = r.handleOnboardingStatus
	r.methods["onboarding.complete"] = r.handleOnboardingComplete

	r.methods["model.list"] = r.handleModelList
	r.methods["model.select"] = r.handleModelSelect
	r.methods["model.router.providers"] = r.handleRouterProviders

	r.methods["limits.get"] = r.handleLimitsGet

	r.methods["history.list"] = r.handleHistoryList
	r.methods["history.get"] = r.handleHistoryGet
	r.methods["history.clear_session"] = r.handleHistoryClearSession

	r.methods["skills.list"] = r.handleSkillsList
	r.methods["tools.list"] = r.handleToolsList
	r.methods["debug.set"] = r.handleDebugSet
}

func (r *Router) handleHandshake(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		ProtocolVersion string `json:"protocol_version"`
		Client          string `json:"client"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if r.opts.StrictProtocol && params.ProtocolVersion != "" && params.ProtocolVersion != ProtocolVersion {
		return nil, newError(CodeDomain, ReasonUnsupportedProto,
			"unsupported protocol version %q, server speaks %q", params.ProtocolVersion, ProtocolVersion)
	}
	return HandshakeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Events:         true,
			CommandExecute: true,
			MultiSession:   true,
			ImageInputs:    true,
		},
		Methods: r.Methods(),
	}, nil
}

func (r *Router) handlePing(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return map[string]any{"pong": true, "time": time.Now().UTC().Format(time.RFC3339)}, nil
}

func (r *Router) handleShutdown(ctx context.Context, raw json.RawMessage) (any, *Error) {
	r.rt.RequestShutdown()
	return map[string]bool{"shutting_down": true}, nil
}

func (r *Router) handleStateGet(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return r.rt.Snapshot(), nil
}

func (r *Router) handleSessionCreate(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		Title string `json:"title"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	info, err := r.rt.CreateSession(params.Title)
	if err != nil {
		return nil, mapError(err)
	}
	return info, nil
}

func (r *Router) handleSessionGet(ctx context.Context, raw json.RawMessage) (any, *Error) {
	id, rpcErr := requireSessionID(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	snap, err := r.rt.GetSession(id)
	if err != nil {
		return nil, mapError(err)
	}
	return snap, nil
}

func (r *Router) handleSessionSend(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		SessionID string         `json:"session_id"`
		Text      string         `json:"text"`
		Images    []images.Input `json:"images"`
		Enqueue   bool           `json:"enqueue"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, errInvalidParams("session_id", "required")
	}
	if params.Text == "" && len(params.Images) == 0 {
		return nil, errInvalidParams("text", "text or images required")
	}
	res, err := r.rt.Send(params.SessionID, params.Text, params.Images, params.Enqueue)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (r *Router) handleSessionSteer(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, errInvalidParams("session_id", "required")
	}
	if params.Text == "" {
		return nil, errInvalidParams("text", "required")
	}
	accepted, err := r.rt.Steer(params.SessionID, params.Text)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"accepted": accepted}, nil
}

func (r *Router) handleSessionInterrupt(ctx context.Context, raw json.RawMessage) (any, *Error) {
	id, rpcErr := requireSessionID(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	interrupted, err := r.rt.Interrupt(id)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"interrupted": interrupted}, nil
}

func (r *Router) handleQueueList(ctx context.Context, raw json.RawMessage) (any, *Error) {
	id, rpcErr := requireSessionID(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	items, err := r.rt.QueueList(id)
	if err != nil {
		return nil, mapError(err)
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	return map[string]any{"items": items}, nil
}

func (r *Router) handleQueueClear(ctx context.Context, raw json.RawMessage) (any, *Error) {
	id, rpcErr := requireSessionID(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	removed, err := r.rt.QueueClear(id)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]int{"removed": removed}, nil
}

func (r *Router) handleCommandExecute(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		Command   string `json:"command"`
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Command == "" {
		return nil, errInvalidParams("command", "required")
	}
	return r.commands.Execute(ctx, params.SessionID, params.Command), nil
}

func (r *Router) handleAuthStatus(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return map[string]any{"providers": r.rt.AuthStatus()}, nil
}

func (r *Router) handleConnectPrimary(ctx context.Context, raw json.RawMessage) (any, *Error) {
	if err := r.rt.ConnectPrimary(ctx); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"connected": true}, nil
}

func (r *Router) handleConnectSecondary(ctx context.Context, raw json.RawMessage) (any, *Error) {
	if err := r.rt.ConnectSecondary(ctx); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"connected": true}, nil
}

func (r *Router) handleSetRouterKey(ctx context.Context, raw json.RawMessage) (any, *Error) {
	key, rpcErr := requireKey(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := r.rt.SetRouterKey(key); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"saved": true}, nil
}

func (r *Router) handleSetSearchKey(ctx context.Context, raw json.RawMessage) (any, *Error) {
	key, rpcErr := requireKey(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := r.rt.SetSearchKey(key); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"saved": true}, nil
}

func (r *Router) handleOnboardingStatus(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return map[string]bool{"done": r.rt.OnboardingDone()}, nil
}

func (r *Router) handleOnboardingComplete(ctx context.Context, raw json.RawMessage) (any, *Error) {
	if err := r.rt.CompleteOnboarding(); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"done": true}, nil
}

func (r *Router) handleModelList(ctx context.Context, raw json.RawMessage) (any, *Error) {
	sel := r.rt.Selection()
	return map[string]any{
		"models":         r.rt.ListModels(),
		"selected":       sel.ModelID,
		"thinking_level": sel.ThinkingLevel,
	}, nil
}

func (r *Router) handleModelSelect(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		Model         string               `json:"model"`
		ThinkingLevel models.ThinkingLevel `json:"thinking_level"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Model == "" && params.ThinkingLevel == "" {
		return nil, errInvalidParams("model", "model or thinking_level required")
	}

	var selected models.ModelOption
	if params.Model != "" {
		opt, err := r.rt.SelectModel(params.Model)
		if err != nil {
			return nil, errInvalidParams("model", err.Error())
		}
		selected = opt
	}
	if params.ThinkingLevel != "" {
		if _, err := r.rt.SetThinkingLevel(params.ThinkingLevel); err != nil {
			return nil, errInvalidParams("thinking_level", err.Error())
		}
	}

	sel := r.rt.Selection()
	return map[string]any{
		"model":          selected,
		"selected":       sel.ModelID,
		"thinking_level": sel.ThinkingLevel,
	}, nil
}

func (r *Router) handleRouterProviders(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		Select string `json:"select"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Select != "" {
		if err := r.rt.SetRouterProvider(params.Select); err != nil {
			return nil, errInvalidParams("select", err.Error())
		}
	}
	return map[string]any{
		"providers": r.rt.RouterProviders(),
		"selected":  r.rt.Selection().RouterProvider,
	}, nil
}

func (r *Router) handleLimitsGet(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return r.rt.UsageSnapshot(), nil
}

// historySummary is one history.list row; full messages come from
// history.get.
type historySummary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

func (r *Router) handleHistoryList(ctx context.Context, raw json.RawMessage) (any, *Error) {
	loaded, err := r.rt.ListRollouts()
	if err != nil {
		return nil, mapError(err)
	}
	summaries := make([]historySummary, 0, len(loaded))
	for _, l := range loaded {
		summaries = append(summaries, historySummary{
			ID:           l.Meta.ID,
			SessionID:    l.Meta.SessionID,
			CreatedAt:    l.Meta.CreatedAt,
			MessageCount: len(l.Messages),
		})
	}
	return map[string]any{"rollouts": summaries}, nil
}

func (r *Router) handleHistoryGet(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, errInvalidParams("id", "required")
	}
	loaded, err := r.rt.LoadRollout(params.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return loaded, nil
}

func (r *Router) handleHistoryClearSession(ctx context.Context, raw json.RawMessage) (any, *Error) {
	id, rpcErr := requireSessionID(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := r.rt.ClearSession(id); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"cleared": true}, nil
}

func (r *Router) handleSkillsList(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return map[string]any{"skills": r.rt.ListSkills()}, nil
}

func (r *Router) handleToolsList(ctx context.Context, raw json.RawMessage) (any, *Error) {
	return map[string]any{"tools": r.rt.ToolDeclarations()}, nil
}

func (r *Router) handleDebugSet(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	r.rt.SetDebug(params.Enabled)
	return map[string]bool{"enabled": params.Enabled}, nil
}

func requireSessionID(raw json.RawMessage) (string, *Error) {
	var params struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return "", err
	}
	if params.SessionID == "" {
		return "", errInvalidParams("session_id", "required")
	}
	return params.SessionID, nil
}

func requireKey(raw json.RawMessage) (string, *Error) {
	var params struct {
		Key string `json:"key"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return "", err
	}
	if params.Key == "" {
		return "", errInvalidParams("key", "required")
	}
	return params.Key, nil
}

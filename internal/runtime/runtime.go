// Package runtime is the session engine: it owns the concurrent sessions,
// drives tool-calling turns against the provider adapters, applies
// compression, persists rollouts, and broadcasts events.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/rollout"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/state"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

// Domain errors surfaced through the RPC error taxonomy.
var (
	ErrBusy               = errors.New("session is busy")
	ErrUnknownSession     = errors.New("unknown session")
	ErrProviderNotEnabled = errors.New("provider not enabled")
	ErrMissingCredential  = errors.New("missing credential")
	ErrShuttingDown       = errors.New("runtime is shutting down")
	ErrEmptyPrompt        = errors.New("prompt needs text or images")
)

// Options wires the runtime's collaborators.
type Options struct {
	State    *state.Store
	Catalog  *catalog.Catalog
	Rollouts *rollout.Store
	Tools    *tools.Registry
	ToolRun  tools.Runtime
	Adapters []providers.Adapter
	Auth     *auth.Service
	Skills   *skills.Manager
	Usage    *usage.Tracker
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Logger   *observability.Logger
}

// Runtime owns the session map and everything a turn needs.
type Runtime struct {
	state    *state.Store
	catalog  *catalog.Catalog
	rollouts *rollout.Store
	tools    *tools.Registry
	toolRun  tools.Runtime
	adapters map[models.Provider]providers.Adapter
	auth     *auth.Service
	skills   *skills.Manager
	usage    *usage.Tracker
	emitter  *Emitter
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *observability.Logger

	mu        sync.Mutex
	sessions  map[string]*session
	selection state.Selection
	debug     bool

	shuttingDown atomic.Bool
	turns        sync.WaitGroup
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func New(opts Options) (*Runtime, error) {
	if opts.State == nil || opts.Catalog == nil || opts.Auth == nil {
		return nil, errors.New("runtime: state store, catalog, and auth service are required")
	}
	sel, err := opts.State.LoadSelection()
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{Output: io.Discard, Level: "error"})
	}

	r := &Runtime{
		state:      opts.State,
		catalog:    opts.Catalog,
		rollouts:   opts.Rollouts,
		tools:      opts.Tools,
		toolRun:    opts.ToolRun,
		adapters:   make(map[models.Provider]providers.Adapter),
		auth:       opts.Auth,
		skills:     opts.Skills,
		usage:      opts.Usage,
		emitter:    NewEmitter(opts.Metrics),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
		sessions:   make(map[string]*session),
		selection:  sel,
		shutdownCh: make(chan struct{}),
	}
	for _, adapter := range opts.Adapters {
		r.adapters[adapter.Provider()] = adapter
	}
	return r, nil
}

// Events exposes the runtime's event stream.
func (r *Runtime) Events() *Emitter { return r.emitter }

// RuntimeSnapshot is the state.get projection.
type RuntimeSnapshot struct {
	EnabledProviders []models.Provider    `json:"enabled_providers"`
	HasCredential    map[string]bool      `json:"has_credential"`
	OnboardingDone   bool                 `json:"onboarding_done"`
	ModelID          string               `json:"model_id"`
	ThinkingLevel    models.ThinkingLevel `json:"thinking_level"`
	RouterProvider   string               `json:"router_provider"`
	SessionIDs       []string             `json:"session_ids"`
	SkillsCount      int                  `json:"skills_count"`
}

// Snapshot returns the current runtime projection.
func (r *Runtime) Snapshot() RuntimeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runtime) snapshotLocked() RuntimeSnapshot {
	snap := RuntimeSnapshot{
		EnabledProviders: append([]models.Provider(nil), r.selection.EnabledProviders...),
		HasCredential:    make(map[string]bool, 3),
		OnboardingDone:   r.selection.OnboardingDone,
		ModelID:          r.selection.ModelID,
		ThinkingLevel:    r.selection.ThinkingLevel,
		RouterProvider:   r.selection.RouterProvider,
		SessionIDs:       make([]string, 0, len(r.sessions)),
	}
	for _, status := range r.auth.Status() {
		snap.HasCredential[string(status.Provider)] = status.Connected
	}
	for id := range r.sessions {
		snap.SessionIDs = append(snap.SessionIDs, id)
	}
	sort.Strings(snap.SessionIDs)
	if r.skills != nil {
		snap.SkillsCount = r.skills.Len()
	}
	return snap
}

// emitStateChanged broadcasts the snapshot with a reason tag.
func (r *Runtime) emitStateChanged(reason string) {
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.emitter.Emit(Event{Type: EventStateChanged, Payload: map[string]any{
		"reason":   reason,
		"snapshot": snap,
	}})
}

// Selection returns the current selection record.
func (r *Runtime) Selection() state.Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selection
}

// ListModels lists the catalog in provider order.
func (r *Runtime) ListModels() []models.ModelOption { return r.catalog.List() }

// RouterProviders lists the routing sub-provider tags, "any" first.
func (r *Runtime) RouterProviders() []string { return r.catalog.RouterProviders() }

// SelectModel switches the active model by id or label and clamps the
// thinking level to what the model supports.
func (r *Runtime) SelectModel(idOrLabel string) (models.ModelOption, error) {
	opt, ok := r.catalog.Resolve(idOrLabel)
	if !ok {
		return models.ModelOption{}, fmt.Errorf("unknown model %q", idOrLabel)
	}

	sel, err := r.state.UpdateSelection(func(s *state.Selection) {
		s.ModelID = opt.ID
		s.ThinkingLevel = catalog.ClampThinking(opt, s.ThinkingLevel)
	})
	if err != nil {
		return models.ModelOption{}, err
	}

	r.mu.Lock()
	r.selection = sel
	r.mu.Unlock()
	r.emitStateChanged("model_selected")
	return opt, nil
}

// SetThinkingLevel sets the thinking level, clamped to the active model.
func (r *Runtime) SetThinkingLevel(level models.ThinkingLevel) (models.ThinkingLevel, error) {
	if !level.Valid() {
		return "", fmt.Errorf("unknown thinking level %q", level)
	}
	opt, ok := r.selectedModel()
	if ok {
		level = catalog.ClampThinking(opt, level)
	}
	sel, err := r.state.UpdateSelection(func(s *state.Selection) {
		s.ThinkingLevel = level
	})
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.selection = sel
	r.mu.Unlock()
	r.emitStateChanged("thinking_selected")
	return level, nil
}

// SetRouterProvider pins the aggregator sub-provider ("any" auto-routes).
func (r *Runtime) SetRouterProvider(name string) error {
	found := false
	for _, candidate := range r.catalog.RouterProviders() {
		if candidate == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown router provider %q", name)
	}
	sel, err := r.state.UpdateSelection(func(s *state.Selection) {
		s.RouterProvider = name
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.selection = sel
	r.mu.Unlock()
	r.emitStateChanged("router_provider_selected")
	return nil
}

// selectedModel resolves the active model option, falling back to the
// primary default when nothing is selected yet.
func (r *Runtime) selectedModel() (models.ModelOption, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectedModelLocked()
}

func (r *Runtime) selectedModelLocked() (models.ModelOption, bool) {
	if r.selection.ModelID != "" {
		if opt, ok := r.catalog.Resolve(r.selection.ModelID); ok {
			return opt, true
		}
	}
	return r.catalog.DefaultOption(models.ProviderPrimary)
}

// --- auth surface -----------------------------------------------------

// AuthStatus reports provider credential status.
func (r *Runtime) AuthStatus() []auth.ProviderStatus { return r.auth.Status() }

// ConnectPrimary runs the primary login flow, forwarding flow events.
func (r *Runtime) ConnectPrimary(ctx context.Context) error {
	return r.connect(ctx, models.ProviderPrimary, r.auth.ConnectPrimary)
}

// ConnectSecondary runs the secondary login flow, forwarding flow events.
func (r *Runtime) ConnectSecondary(ctx context.Context) error {
	return r.connect(ctx, models.ProviderSecondary, r.auth.ConnectSecondary)
}

func (r *Runtime) connect(ctx context.Context, provider models.Provider, connect func(context.Context, func(auth.FlowEvent)) error) error {
	r.emitter.Emit(Event{Type: EventAuthFlowStarted, Payload: map[string]any{"provider": provider}})
	err := connect(ctx, func(ev auth.FlowEvent) {
		payload := map[string]any{"provider": provider, "stage": ev.Stage}
		switch {
		case ev.URL != "":
			payload["url"] = ev.URL
			r.emitter.Emit(Event{Type: EventAuthFlowURL, Payload: payload})
		case ev.Code != "":
			payload["code"] = ev.Code
			r.emitter.Emit(Event{Type: EventAuthFlowDeviceCode, Payload: payload})
		default:
			if ev.Detail != "" {
				payload["detail"] = ev.Detail
			}
			r.emitter.Emit(Event{Type: EventAuthFlowStarted, Payload: payload})
		}
	})
	if err != nil {
		r.emitter.Emit(Event{Type: EventAuthFlowFailed, Payload: map[string]any{
			"provider": provider, "error": err.Error(),
		}})
		return err
	}
	r.emitter.Emit(Event{Type: EventAuthFlowCompleted, Payload: map[string]any{"provider": provider}})
	r.reloadSelection()
	r.emitStateChanged("auth_connected")
	return nil
}

// SetRouterKey stores the aggregator key and enables the router.
func (r *Runtime) SetRouterKey(key string) error {
	if err := r.auth.SetRouterKey(key); err != nil {
		return err
	}
	r.reloadSelection()
	r.emitStateChanged("router_key_set")
	return nil
}

// SetSearchKey stores the web-search key.
func (r *Runtime) SetSearchKey(key string) error {
	return r.auth.SetSearchKey(key)
}

func (r *Runtime) reloadSelection() {
	sel, err := r.state.LoadSelection()
	if err != nil {
		return
	}
	r.mu.Lock()
	r.selection = sel
	r.mu.Unlock()
}

// --- onboarding, usage, history, skills, tools ------------------------

func (r *Runtime) OnboardingDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selection.OnboardingDone
}

func (r *Runtime) CompleteOnboarding() error {
	sel, err := r.state.UpdateSelection(func(s *state.Selection) {
		s.OnboardingDone = true
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.selection = sel
	r.mu.Unlock()
	r.emitStateChanged("onboarding_complete")
	return nil
}

// ForgetEverything resets persisted state, secrets, and in-memory sessions.
func (r *Runtime) ForgetEverything() error {
	r.mu.Lock()
	for _, s := range r.sessions {
		if s.abort != nil {
			s.abort()
		}
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	if err := r.state.ResetAll(); err != nil {
		return err
	}
	if r.usage != nil {
		r.usage.Reset()
	}
	r.reloadSelection()
	r.emitStateChanged("forget_everything")
	return nil
}

func (r *Runtime) UsageSnapshot() usage.Snapshot {
	if r.usage == nil {
		return usage.Snapshot{}
	}
	return r.usage.Snapshot()
}

// ListRollouts loads every saved rollout, newest first.
func (r *Runtime) ListRollouts() ([]rollout.Loaded, error) {
	if r.rollouts == nil {
		return nil, nil
	}
	metas, err := r.rollouts.List()
	if err != nil {
		return nil, err
	}
	out := make([]rollout.Loaded, 0, len(metas))
	for _, meta := range metas {
		loaded, loadErr := r.rollouts.LoadByID(meta.ID)
		if loadErr != nil {
			continue
		}
		out = append(out, *loaded)
	}
	return out, nil
}

func (r *Runtime) LoadRollout(id string) (rollout.Loaded, error) {
	if r.rollouts == nil {
		return rollout.Loaded{}, errors.New("rollouts disabled")
	}
	loaded, err := r.rollouts.LoadByID(id)
	if err != nil {
		return rollout.Loaded{}, err
	}
	return *loaded, nil
}

func (r *Runtime) ListSkills() []*skills.Skill {
	if r.skills == nil {
		return nil
	}
	return r.skills.List()
}

func (r *Runtime) ToolNames() []string {
	if r.tools == nil {
		return nil
	}
	return r.tools.Names()
}

func (r *Runtime) ToolDeclarations() []tools.Declaration {
	if r.tools == nil {
		return nil
	}
	return r.tools.Declarations()
}

// SetDebug toggles forwarding of session.debug events and thought deltas.
func (r *Runtime) SetDebug(enabled bool) {
	r.mu.Lock()
	r.debug = enabled
	r.mu.Unlock()
}

func (r *Runtime) debugEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.debug
}

// --- shutdown ----------------------------------------------------------

// RequestShutdown asks the process owner to stop; /quit and system.shutdown
// land here.
func (r *Runtime) RequestShutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdownCh) })
}

// ShutdownRequested signals when a shutdown was requested from inside.
func (r *Runtime) ShutdownRequested() <-chan struct{} { return r.shutdownCh }

// Shutdown aborts every active turn, clears queues, waits for turns to
// settle, and emits the final state change.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shuttingDown.Store(true)

	r.mu.Lock()
	for _, s := range r.sessions {
		s.queued = nil
		s.steering = nil
		if s.abort != nil {
			s.abort()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.emitStateChanged("shutdown")
	r.emitter.Close()
	return nil
}

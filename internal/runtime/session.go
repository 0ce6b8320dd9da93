package runtime

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/compaction"
	"github.com/haasonsaas/relay/internal/images"
	"github.com/haasonsaas/relay/internal/rollout"
	"github.com/haasonsaas/relay/pkg/models"
)

// session is one conversation's mutable state. All fields are guarded by
// the runtime mutex.
type session struct {
	id        string
	title     string
	createdAt time.Time
	updatedAt time.Time

	state       models.SessionState
	statusLabel string

	history    []models.ChatMessage
	uiMessages []models.UIMessage
	nextUIID   int64

	queued   []models.QueueItem
	steering []models.ChatMessage

	// conversationProvider tags which backend the history was built
	// against; a mismatch with the active model forces compression.
	conversationProvider models.Provider
	activeRollout        *rollout.Rollout

	abort        func()
	activeTurnID string
}

// SessionInfo is the create/list projection.
type SessionInfo struct {
	ID        string              `json:"session_id"`
	Title     string              `json:"title,omitempty"`
	State     models.SessionState `json:"state"`
	CreatedAt time.Time           `json:"created_at"`
}

// SessionSnapshot is the full session.get projection.
type SessionSnapshot struct {
	ID        string              `json:"session_id"`
	Title     string              `json:"title,omitempty"`
	State     models.SessionState `json:"state"`
	Status    string              `json:"status,omitempty"`
	Provider  models.Provider     `json:"provider,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Messages  []models.UIMessage  `json:"messages"`
	Queue     []models.QueueItem  `json:"queue"`
}

// SendResult reports how a prompt was dispatched. A queued prompt's TurnID
// is the queue item ID, which becomes the turn ID when it auto-advances.
type SendResult struct {
	TurnID   string `json:"turn_id"`
	Accepted bool   `json:"accepted"`
	Queued   bool   `json:"queued"`
}

// CreateSession registers a new idle session.
func (r *Runtime) CreateSession(title string) (SessionInfo, error) {
	if r.shuttingDown.Load() {
		return SessionInfo{}, ErrShuttingDown
	}

	now := time.Now()
	s := &session{
		id:          uuid.NewString(),
		title:       title,
		createdAt:   now,
		updatedAt:   now,
		state:       models.SessionReady,
		statusLabel: "idle",
		nextUIID:    1,
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionCreated()
	}
	r.emitter.Emit(Event{Type: EventSessionStatus, Payload: map[string]any{
		"session_id": s.id,
		"state":      s.state,
		"status":     s.statusLabel,
	}})
	r.emitStateChanged("session_created")
	return SessionInfo{ID: s.id, Title: title, State: s.state, CreatedAt: now}, nil
}

// ListSessions returns every live session, oldest first.
func (r *Runtime) ListSessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{ID: s.id, Title: s.title, State: s.state, CreatedAt: s.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetSession returns the session's transcript and queue.
func (r *Runtime) GetSession(id string) (SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return SessionSnapshot{}, ErrUnknownSession
	}
	snap := SessionSnapshot{
		ID:        s.id,
		Title:     s.title,
		State:     s.state,
		Status:    s.statusLabel,
		Provider:  s.conversationProvider,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Messages:  append([]models.UIMessage(nil), s.uiMessages...),
		Queue:     append([]models.QueueItem(nil), s.queued...),
	}
	return snap, nil
}

// Send dispatches a prompt. On a ready session the turn starts immediately;
// on a busy session the prompt is queued when enqueue is set and rejected
// with ErrBusy otherwise.
func (r *Runtime) Send(sessionID, text string, imgInputs []images.Input, enqueue bool) (SendResult, error) {
	if r.shuttingDown.Load() {
		return SendResult{}, ErrShuttingDown
	}

	attachments, err := images.LoadAll(imgInputs)
	if err != nil {
		return SendResult{}, err
	}
	if text == "" && len(attachments) == 0 {
		return SendResult{}, ErrEmptyPrompt
	}

	// Composer recall survives restarts; losing an entry is not worth
	// failing the send.
	_ = r.state.AppendInputHistory(text)

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return SendResult{}, ErrUnknownSession
	}

	if s.state != models.SessionReady {
		if !enqueue {
			r.mu.Unlock()
			return SendResult{}, ErrBusy
		}
		item := models.QueueItem{
			ID:         uuid.NewString(),
			Text:       text,
			Images:     attachments,
			EnqueuedAt: time.Now(),
		}
		s.queued = append(s.queued, item)
		depth := len(s.queued)
		r.setStatusLocked(s, s.state, fmt.Sprintf("queued (%d)", depth))
		r.mu.Unlock()

		if r.metrics != nil {
			r.metrics.SetQueueDepth(depth)
		}
		return SendResult{TurnID: item.ID, Accepted: true, Queued: true}, nil
	}

	turnID := uuid.NewString()
	err = r.startTurnLocked(s, turnID, text, attachments)
	r.mu.Unlock()
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{TurnID: turnID, Accepted: true}, nil
}

// Steer injects guidance into the in-flight turn. A session with no turn
// running reports accepted=false rather than an error.
func (r *Runtime) Steer(sessionID, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, ErrEmptyPrompt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false, ErrUnknownSession
	}
	if s.state != models.SessionPending {
		return false, nil
	}
	s.steering = append(s.steering, models.ChatMessage{Role: models.RoleUser, Text: text})
	return true, nil
}

// Interrupt aborts the in-flight turn. Interrupting an idle session is a
// no-op reported as interrupted=false.
func (r *Runtime) Interrupt(sessionID string) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false, ErrUnknownSession
	}
	if s.state != models.SessionPending || s.abort == nil {
		r.mu.Unlock()
		return false, nil
	}
	abort := s.abort
	r.setStatusLocked(s, models.SessionInterrupting, "interrupting")
	r.mu.Unlock()

	abort()
	return true, nil
}

// QueueList returns the pending prompts in FIFO order.
func (r *Runtime) QueueList(sessionID string) ([]models.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return append([]models.QueueItem(nil), s.queued...), nil
}

// QueueClear drops every pending prompt and reports how many were removed.
func (r *Runtime) QueueClear(sessionID string) (int, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return 0, ErrUnknownSession
	}
	removed := len(s.queued)
	s.queued = nil
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetQueueDepth(0)
	}
	return removed, nil
}

// ClearSession wipes the session's history and transcript and detaches the
// rollout so the next turn starts a fresh file.
func (r *Runtime) ClearSession(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	if s.state != models.SessionReady {
		r.mu.Unlock()
		return ErrBusy
	}
	active := s.activeRollout
	s.activeRollout = nil
	s.history = nil
	s.uiMessages = nil
	s.steering = nil
	s.updatedAt = time.Now()
	r.mu.Unlock()

	if active != nil {
		_ = active.Close()
	}
	return nil
}

// CompressSession manually compresses the session history.
func (r *Runtime) CompressSession(sessionID string) (int, int, error) {
	opt, _ := r.selectedModel()
	window := catalog.ContextWindow(opt)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, 0, ErrUnknownSession
	}
	if s.state != models.SessionReady {
		return 0, 0, ErrBusy
	}

	outcome, did := compaction.Compress(s.history, compaction.Params{
		Reason:    compaction.ReasonManual,
		Model:     opt.ID,
		Window:    window,
		AutoLimit: catalog.AutoCompactLimit(window),
	})
	if !did {
		tokens := compaction.EstimateHistoryTokens(s.history)
		return tokens, tokens, nil
	}

	s.history = outcome.History
	s.updatedAt = time.Now()
	if r.metrics != nil {
		r.metrics.RecordCompression(string(compaction.ReasonManual))
	}
	return outcome.BeforeTokens, outcome.AfterTokens, nil
}

// setStatusLocked transitions the session state machine and broadcasts it.
func (r *Runtime) setStatusLocked(s *session, state models.SessionState, label string) {
	s.state = state
	s.statusLabel = label
	s.updatedAt = time.Now()
	r.emitter.Emit(Event{Type: EventSessionStatus, Payload: map[string]any{
		"session_id": s.id,
		"state":      state,
		"status":     label,
	}})
}

// appendUILocked adds a transcript row and broadcasts it.
func (r *Runtime) appendUILocked(s *session, kind models.Role, text string, imgs []models.ChatImageAttachment) models.UIMessage {
	msg := models.UIMessage{ID: s.nextUIID, Kind: kind, Text: text, Images: imgs}
	s.nextUIID++
	s.uiMessages = append(s.uiMessages, msg)
	s.updatedAt = time.Now()
	r.emitter.Emit(Event{Type: EventMessageAppended, Payload: map[string]any{
		"session_id": s.id,
		"message":    msg,
	}})
	return msg
}

// systemNoticeLocked adds a UI-only system row; it never enters history.
func (r *Runtime) systemNoticeLocked(s *session, text string) {
	r.appendUILocked(s, models.RoleSystem, text, nil)
}

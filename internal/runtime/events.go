package runtime

import (
	"sync"

	"github.com/haasonsaas/relay/internal/observability"
)

// Event types delivered out-of-band to RPC clients.
const (
	EventStateChanged       = "state.changed"
	EventSessionStatus      = "session.status"
	EventMessageAppended    = "session.message.appended"
	EventStreamChunk        = "session.stream.chunk"
	EventToolCallStarted    = "session.tool.call.started"
	EventToolCallCompleted  = "session.tool.call.completed"
	EventToolResults        = "session.tool.results"
	EventSessionCompleted   = "session.completed"
	EventSessionInterrupted = "session.interrupted"
	EventSessionError       = "session.error"
	EventSessionDebug       = "session.debug"

	EventAuthFlowStarted    = "auth.flow.started"
	EventAuthFlowURL        = "auth.flow.url"
	EventAuthFlowDeviceCode = "auth.flow.device_code"
	EventAuthFlowCompleted  = "auth.flow.completed"
	EventAuthFlowFailed     = "auth.flow.failed"
)

// subscriberBuffer is the per-client event channel depth. A subscriber that
// falls this far behind starts losing events rather than stalling turns.
const subscriberBuffer = 64

// Event is one runtime notification.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Emitter fans events out to subscribers without ever blocking the caller.
type Emitter struct {
	metrics *observability.Metrics

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewEmitter(metrics *observability.Metrics) *Emitter {
	return &Emitter{
		metrics: metrics,
		subs:    make(map[int]chan Event),
	}
}

// Subscribe returns an event channel and its cancel function. The channel
// closes on cancel or emitter close.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	ch := make(chan Event, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			if e.metrics != nil {
				e.metrics.RecordDroppedEvent(ev.Type)
			}
		}
	}
}

// Close closes every subscriber channel. Further Emits are no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

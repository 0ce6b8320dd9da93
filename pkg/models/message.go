package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleSystem is used only for UI notice rows; it never enters the
	// persisted conversation history.
	RoleSystem Role = "system"
)

// ChatImageAttachment is a validated image carried on a user message.
type ChatImageAttachment struct {
	// Path is the originating file path, empty for inline data URLs.
	Path string `json:"path,omitempty"`

	// MimeType is one of image/png, image/jpeg, image/webp, image/gif.
	MimeType string `json:"mime_type"`

	// DataURL is the full data:<mime>;base64,<payload> form sent to
	// providers.
	DataURL string `json:"data_url"`

	// ByteSize is the decoded payload size. Capped at 8 MiB.
	ByteSize int64 `json:"byte_size"`

	// Width and Height are probed from the image header when decodable.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// ChatMessage is one entry of a session's persisted history. Tool exchanges
// are not modeled here; they exist only inside a single turn's provider
// input.
type ChatMessage struct {
	Role   Role                  `json:"role"`
	Text   string                `json:"text"`
	Images []ChatImageAttachment `json:"images,omitempty"`
}

// Clone returns a deep copy.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if len(m.Images) > 0 {
		out.Images = make([]ChatImageAttachment, len(m.Images))
		copy(out.Images, m.Images)
	}
	return out
}

// CloneMessages deep-copies a history slice.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// UIMessage is one display row of a session transcript. Rows are
// monotonically ID'd per session and are not necessarily 1:1 with history
// entries: system rows are UI-only.
type UIMessage struct {
	ID     int64                 `json:"id"`
	Kind   Role                  `json:"kind"`
	Text   string                `json:"text"`
	Images []ChatImageAttachment `json:"images,omitempty"`
}

// QueueItem is a prompt parked while a turn is in flight.
type QueueItem struct {
	ID         string                `json:"id"`
	Text       string                `json:"text"`
	Images     []ChatImageAttachment `json:"images,omitempty"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
}

// SessionState is the per-session turn state machine.
type SessionState string

const (
	// SessionReady means no turn is in flight.
	SessionReady SessionState = "ready"

	// SessionPending means a turn is streaming or executing tools.
	SessionPending SessionState = "pending"

	// SessionInterrupting means an abort was requested and the turn is
	// settling.
	SessionInterrupting SessionState = "interrupting"
)

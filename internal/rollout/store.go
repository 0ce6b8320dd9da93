// Package rollout persists each chat session as an append-only JSONL file:
// one session_meta header line followed by one line per message. Rollouts are
// best-effort by contract: create and write failures are reported to the
// caller, which keeps the turn running rollout-less.
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/pkg/models"
)

// Version identifies the on-disk record layout.
const Version = 1

const fileExt = ".jsonl"

// Meta is the header line of a rollout file.
type Meta struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`
}

// Record is one persisted message line.
type Record struct {
	Type       string    `json:"type"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	ImageCount int       `json:"image_count,omitempty"`
	At         time.Time `json:"at"`
}

// Store manages rollout files under one directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates the rollout directory if needed.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("rollout dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create rollout dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Rollout is one open append-only session record. Writes are serialized by a
// per-rollout mutex; the file stays open until Close.
type Rollout struct {
	meta Meta
	path string

	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// Create opens a new rollout file for a session and writes the header.
func (s *Store) Create(sessionID string) (*Rollout, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	meta := Meta{
		Type:      "session_meta",
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: s.now().UTC(),
		Version:   Version,
	}
	path := filepath.Join(s.dir, fileName(meta))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create rollout: %w", err)
	}

	r := &Rollout{meta: meta, path: path, file: file, now: s.now}
	if err := r.writeLine(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return r, nil
}

// ID returns the rollout id.
func (r *Rollout) ID() string { return r.meta.ID }

// Path returns the on-disk location.
func (r *Rollout) Path() string { return r.path }

// Append writes one message line.
func (r *Rollout) Append(msg models.ChatMessage) error {
	return r.writeLine(Record{
		Type:       "message",
		Role:       string(msg.Role),
		Text:       msg.Text,
		ImageCount: len(msg.Images),
		At:         r.now().UTC(),
	})
}

// AppendAll writes messages in order, stopping at the first failure.
func (r *Rollout) AppendAll(msgs []models.ChatMessage) error {
	for _, msg := range msgs {
		if err := r.Append(msg); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and closes the file. Further appends fail.
func (r *Rollout) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	file := r.file
	r.file = nil
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (r *Rollout) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode rollout line: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return fmt.Errorf("rollout %s is closed", r.meta.ID)
	}
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write rollout line: %w", err)
	}
	return nil
}

// Loaded is a rollout read back from disk.
type Loaded struct {
	Meta     Meta
	Messages []models.ChatMessage
	Path     string
}

// List returns metadata for every rollout on disk, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		meta, err := readMeta(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// LoadPath reads one rollout file.
func (s *Store) LoadPath(path string) (*Loaded, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	loaded := &Loaded{Path: path}
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal([]byte(line), &loaded.Meta); err != nil {
				return nil, fmt.Errorf("decode rollout header: %w", err)
			}
			if loaded.Meta.Type != "session_meta" {
				return nil, fmt.Errorf("rollout %s: missing session_meta header", path)
			}
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode rollout line: %w", err)
		}
		if rec.Type != "message" {
			continue
		}
		loaded.Messages = append(loaded.Messages, models.ChatMessage{
			Role: models.Role(rec.Role),
			Text: rec.Text,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, fmt.Errorf("rollout %s is empty", path)
	}
	return loaded, nil
}

// LoadByID finds a rollout by its id or by the session id it records.
func (s *Store) LoadByID(id string) (*Loaded, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if meta.ID == id || meta.SessionID == id {
			return s.LoadPath(filepath.Join(s.dir, fileName(meta)))
		}
	}
	return nil, fmt.Errorf("rollout %s not found", id)
}

// Latest returns the most recently created rollout, or nil when none exist.
func (s *Store) Latest() (*Loaded, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}
	return s.LoadPath(filepath.Join(s.dir, fileName(metas[0])))
}

func fileName(meta Meta) string {
	return fmt.Sprintf("%s-%s%s", meta.CreatedAt.Format("20060102T150405"), meta.ID, fileExt)
}

func readMeta(path string) (Meta, error) {
	file, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return Meta{}, fmt.Errorf("rollout %s is empty", path)
	}
	var meta Meta
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return Meta{}, err
	}
	if meta.Type != "session_meta" {
		return Meta{}, fmt.Errorf("rollout %s: missing session_meta header", path)
	}
	return meta, nil
}

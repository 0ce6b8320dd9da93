// Package state persists the runtime's selection record and credential
// secrets under a single state directory. The layout is opaque to callers:
// everything else addresses state through the Store API.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// MaxInputHistory bounds the persisted composer recall buffer.
const MaxInputHistory = 200

const (
	selectionFile = "selection.json"
	secretsDir    = "secrets"
)

var secretNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Selection is the small record of user-facing runtime choices. One file,
// rewritten whole on every change.
type Selection struct {
	EnabledProviders []models.Provider    `json:"enabled_providers,omitempty"`
	ModelID          string               `json:"model_id,omitempty"`
	ThinkingLevel    models.ThinkingLevel `json:"thinking_level,omitempty"`
	RouterProvider   string               `json:"router_provider,omitempty"`
	OnboardingDone   bool                 `json:"onboarding_done,omitempty"`
	InputHistory     []string             `json:"input_history,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at,omitempty"`
}

// DefaultSelection returns the record used before anything was saved.
func DefaultSelection() Selection {
	return Selection{RouterProvider: "any"}
}

// ProviderEnabled reports whether the selection marks a provider enabled.
func (s Selection) ProviderEnabled(p models.Provider) bool {
	for _, enabled := range s.EnabledProviders {
		if enabled == p {
			return true
		}
	}
	return false
}

// EnableProvider adds a provider to the enabled set, preserving the
// canonical provider order and ignoring duplicates.
func (s *Selection) EnableProvider(p models.Provider) {
	if s.ProviderEnabled(p) {
		return
	}
	s.EnabledProviders = append(s.EnabledProviders, p)
	ordered := make([]models.Provider, 0, len(s.EnabledProviders))
	for _, candidate := range models.ProviderOrder() {
		for _, enabled := range s.EnabledProviders {
			if enabled == candidate {
				ordered = append(ordered, candidate)
				break
			}
		}
	}
	s.EnabledProviders = ordered
}

// Store is the persistence gateway. All reads and writes are serialized by
// a store-level mutex; writes land atomically (temp file + rename) so a
// load after a completed save always observes that save.
type Store struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("state dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the root state directory.
func (s *Store) Dir() string { return s.dir }

// RolloutsDir returns the directory that holds per-session rollout files.
func (s *Store) RolloutsDir() string { return filepath.Join(s.dir, "rollouts") }

// LoadSelection returns the persisted selection record, or the defaults if
// nothing was saved yet.
func (s *Store) LoadSelection() (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSelectionLocked()
}

// SaveSelection persists the selection record, clamping the input history to
// the last MaxInputHistory entries.
func (s *Store) SaveSelection(sel Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSelectionLocked(sel)
}

// UpdateSelection loads the record, applies fn, and saves the result, all
// under the store lock. Returns the saved record.
func (s *Store) UpdateSelection(fn func(*Selection)) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.loadSelectionLocked()
	if err != nil {
		return Selection{}, err
	}
	fn(&sel)
	if err := s.saveSelectionLocked(sel); err != nil {
		return Selection{}, err
	}
	return sel, nil
}

// AppendInputHistory records one composer entry, skipping blanks and
// immediate duplicates.
func (s *Store) AppendInputHistory(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	_, err := s.UpdateSelection(func(sel *Selection) {
		if n := len(sel.InputHistory); n > 0 && sel.InputHistory[n-1] == entry {
			return
		}
		sel.InputHistory = append(sel.InputHistory, entry)
	})
	return err
}

// SaveSecret persists one credential under its own file so individual
// secrets can be absent, replaced, or deleted independently.
func (s *Store) SaveSecret(name string, payload any) error {
	path, err := s.secretPath(name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secret %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(path, data, 0o600)
}

// LoadSecret reads one credential into out. The second return is false when
// the secret file does not exist.
func (s *Store) LoadSecret(name string, out any) (bool, error) {
	path, err := s.secretPath(name)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode secret %s: %w", name, err)
	}
	return true, nil
}

// HasSecret reports whether a credential file exists without reading it.
func (s *Store) HasSecret(name string) bool {
	path, err := s.secretPath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DeleteSecret removes one credential. Missing files are not an error.
func (s *Store) DeleteSecret(name string) error {
	path, err := s.secretPath(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ResetAll removes the selection record and every secret. Rollout files are
// left in place; they are owned by the rollout store.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, selectionFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.dir, secretsDir)); err != nil {
		return err
	}
	return nil
}

func (s *Store) loadSelectionLocked() (Selection, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, selectionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSelection(), nil
		}
		return Selection{}, err
	}
	if len(data) == 0 {
		return DefaultSelection(), nil
	}

	var sel Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		return Selection{}, fmt.Errorf("decode selection: %w", err)
	}
	if sel.RouterProvider == "" {
		sel.RouterProvider = "any"
	}
	return sel, nil
}

func (s *Store) saveSelectionLocked(sel Selection) error {
	if n := len(sel.InputHistory); n > MaxInputHistory {
		sel.InputHistory = append([]string(nil), sel.InputHistory[n-MaxInputHistory:]...)
	}
	sel.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, selectionFile), data, 0o600)
}

func (s *Store) secretPath(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !secretNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(s.dir, secretsDir, name+".json"), nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

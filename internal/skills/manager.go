package skills

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/relay/internal/observability"
)

// defaultDebounce coalesces bursts of filesystem events into one rescan.
const defaultDebounce = 250 * time.Millisecond

// Manager holds the discovered skill set and keeps it fresh while watching.
type Manager struct {
	dirs     []string
	logger   *observability.Logger
	debounce time.Duration

	mu     sync.RWMutex
	skills map[string]*Skill

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager over the configured skill directories and
// runs an initial scan.
func NewManager(dirs []string, logger *observability.Logger) *Manager {
	m := &Manager{
		dirs:     dirs,
		logger:   logger,
		debounce: defaultDebounce,
		skills:   make(map[string]*Skill),
	}
	m.Reload()
	return m
}

// Reload rescans every configured directory. Later directories win name
// conflicts, matching their precedence in the configuration.
func (m *Manager) Reload() {
	found := make(map[string]*Skill)
	for _, dir := range m.dirs {
		for _, skill := range discoverDir(dir) {
			found[skill.Name] = skill
		}
	}

	m.mu.Lock()
	m.skills = found
	m.mu.Unlock()
}

// List returns the discovered skills sorted by name.
func (m *Manager) List() []*Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Skill, 0, len(m.skills))
	for _, skill := range m.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a skill by name.
func (m *Manager) Get(name string) (*Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	skill, ok := m.skills[name]
	return skill, ok
}

// Len returns the number of discovered skills.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.skills)
}

// StartWatching watches the configured directories and rescans after a
// debounce window on create, write, remove, and rename events. Missing
// directories are skipped; they are picked up on the next restart.
func (m *Manager) StartWatching(ctx context.Context) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range m.dirs {
		if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
			continue
		}
		if addErr := watcher.Add(dir); addErr != nil {
			m.logger.Warn(ctx, "skill watch add failed", "dir", dir, "error", addErr)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.cancel = cancel
	m.wg.Add(1)
	go m.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if running.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	watcher := m.watcher
	cancel := m.cancel
	m.watcher = nil
	m.cancel = nil
	m.watchMu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	m.wg.Wait()
	return err
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.wg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, func() {
			m.Reload()
			m.logger.Debug(ctx, "skills rescanned", "count", m.Len())
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn(ctx, "skill watch error", "error", err)
		}
	}
}

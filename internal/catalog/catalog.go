// Package catalog provides the built-in model catalog and the selection
// policy around it: id normalization, model-to-provider resolution, allowed
// thinking levels, and context-window budgets.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/pkg/models"
)

// Context-window policy. The catalog value wins when present; otherwise the
// window is inferred from the model id/label, then clamped.
const (
	MinContextWindow     = 8_000
	MaxContextWindow     = 2_000_000
	DefaultContextWindow = 272_000
	miniContextWindow    = 128_000
	nanoContextWindow    = 64_000

	// MinAutoCompactLimit floors the auto-compression trigger so tiny
	// windows still leave room for a few turns.
	MinAutoCompactLimit = 6_000
)

// Catalog manages the set of selectable models.
type Catalog struct {
	mu      sync.RWMutex
	options []models.ModelOption
	byID    map[string]int
	byLabel map[string]int
}

// New creates a catalog seeded with the built-in models.
func New() *Catalog {
	c := &Catalog{
		byID:    make(map[string]int),
		byLabel: make(map[string]int),
	}
	for _, opt := range builtinOptions() {
		c.register(opt)
	}
	return c
}

// Normalize canonicalizes a user-supplied model id or label for lookup.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register adds a model option, replacing any existing option with the
// same id.
func (c *Catalog) Register(opt models.ModelOption) error {
	if Normalize(opt.ID) == "" {
		return fmt.Errorf("model option requires an id")
	}
	if !opt.Provider.Valid() {
		return fmt.Errorf("model %s: unknown provider %q", opt.ID, opt.Provider)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.register(opt)
	return nil
}

func (c *Catalog) register(opt models.ModelOption) {
	id := Normalize(opt.ID)
	if idx, ok := c.byID[id]; ok {
		delete(c.byLabel, Normalize(c.options[idx].Label))
		c.options[idx] = opt
		if label := Normalize(opt.Label); label != "" {
			c.byLabel[label] = idx
		}
		return
	}
	c.options = append(c.options, opt)
	idx := len(c.options) - 1
	c.byID[id] = idx
	if label := Normalize(opt.Label); label != "" {
		c.byLabel[label] = idx
	}
}

// Resolve finds a model by id or label. Lookup is case-insensitive and
// whitespace-tolerant.
func (c *Catalog) Resolve(idOrLabel string) (models.ModelOption, bool) {
	key := Normalize(idOrLabel)
	if key == "" {
		return models.ModelOption{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if idx, ok := c.byID[key]; ok {
		return c.options[idx], true
	}
	if idx, ok := c.byLabel[key]; ok {
		return c.options[idx], true
	}
	return models.ModelOption{}, false
}

// List returns all options sorted by provider order, then label.
func (c *Catalog) List() []models.ModelOption {
	c.mu.RLock()
	out := make([]models.ModelOption, len(c.options))
	copy(out, c.options)
	c.mu.RUnlock()

	rank := make(map[models.Provider]int, 3)
	for i, p := range models.ProviderOrder() {
		rank[p] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return rank[out[i].Provider] < rank[out[j].Provider]
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// ListByProvider returns the options for one provider, sorted by label.
func (c *Catalog) ListByProvider(p models.Provider) []models.ModelOption {
	var out []models.ModelOption
	for _, opt := range c.List() {
		if opt.Provider == p {
			out = append(out, opt)
		}
	}
	return out
}

// DefaultOption returns the first option for the given provider, which the
// runtime selects when a provider is enabled without an explicit model.
func (c *Catalog) DefaultOption(p models.Provider) (models.ModelOption, bool) {
	opts := c.ListByProvider(p)
	if len(opts) == 0 {
		return models.ModelOption{}, false
	}
	return opts[0], true
}

// RouterProviders returns the union of routing sub-providers across router
// options, with "any" first.
func (c *Catalog) RouterProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := map[string]bool{"any": true}
	out := []string{"any"}
	for _, opt := range c.options {
		if opt.Provider != models.ProviderRouter {
			continue
		}
		for _, rp := range opt.RoutingProviders {
			rp = Normalize(rp)
			if rp == "" || seen[rp] {
				continue
			}
			seen[rp] = true
			out = append(out, rp)
		}
	}
	sort.Strings(out[1:])
	return out
}

// AllowedThinking returns the thinking levels a model accepts. Models that
// declare no levels accept only OFF.
func AllowedThinking(opt models.ModelOption) []models.ThinkingLevel {
	if len(opt.SupportedThinkingLevels) == 0 {
		return []models.ThinkingLevel{models.ThinkingOff}
	}
	out := make([]models.ThinkingLevel, len(opt.SupportedThinkingLevels))
	copy(out, opt.SupportedThinkingLevels)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// SupportsThinking reports whether a model accepts the given level.
func SupportsThinking(opt models.ModelOption, level models.ThinkingLevel) bool {
	for _, allowed := range AllowedThinking(opt) {
		if allowed == level {
			return true
		}
	}
	return false
}

// ClampThinking maps a requested level onto the model's allowed set: the
// level itself when allowed, otherwise the highest allowed level at or
// below the request, otherwise the lowest allowed level.
func ClampThinking(opt models.ModelOption, level models.ThinkingLevel) models.ThinkingLevel {
	allowed := AllowedThinking(opt)
	best := allowed[0]
	for _, candidate := range allowed {
		if candidate == level {
			return level
		}
		if candidate.Rank() <= level.Rank() {
			best = candidate
		}
	}
	return best
}

// DefaultThinking returns the model's declared default level clamped to its
// allowed set.
func DefaultThinking(opt models.ModelOption) models.ThinkingLevel {
	if opt.DefaultThinkingLevel != "" && SupportsThinking(opt, opt.DefaultThinkingLevel) {
		return opt.DefaultThinkingLevel
	}
	return AllowedThinking(opt)[0]
}

// ContextWindow computes the usable context window for a model: the catalog
// value when present, otherwise inferred from the id/label, clamped to
// [MinContextWindow, MaxContextWindow].
func ContextWindow(opt models.ModelOption) int {
	window := opt.ContextWindowTokens
	if window <= 0 {
		window = inferContextWindow(opt)
	}
	if window < MinContextWindow {
		return MinContextWindow
	}
	if window > MaxContextWindow {
		return MaxContextWindow
	}
	return window
}

func inferContextWindow(opt models.ModelOption) int {
	hint := Normalize(opt.ID) + " " + Normalize(opt.Label)
	switch {
	case strings.Contains(hint, "nano"):
		return nanoContextWindow
	case strings.Contains(hint, "mini"):
		return miniContextWindow
	default:
		return DefaultContextWindow
	}
}

// AutoCompactLimit computes the token estimate at which the turn engine
// compresses history automatically: 95% of the window, floored at
// MinAutoCompactLimit and never above the window itself.
func AutoCompactLimit(window int) int {
	limit := window * 95 / 100
	if limit < MinAutoCompactLimit {
		limit = MinAutoCompactLimit
	}
	if limit > window {
		limit = window
	}
	return limit
}

// overridesFile is the shape of an optional user catalog override file.
type overridesFile struct {
	Models []overrideOption `yaml:"models"`
}

type overrideOption struct {
	ID               string   `yaml:"id"`
	Provider         string   `yaml:"provider"`
	Label            string   `yaml:"label"`
	Description      string   `yaml:"description"`
	ThinkingLevels   []string `yaml:"thinking_levels"`
	DefaultThinking  string   `yaml:"default_thinking"`
	ContextWindow    int      `yaml:"context_window"`
	RoutingProviders []string `yaml:"routing_providers"`
}

func (o overrideOption) toModelOption() (models.ModelOption, error) {
	provider, err := models.ParseProvider(o.Provider)
	if err != nil {
		return models.ModelOption{}, fmt.Errorf("model %s: %w", o.ID, err)
	}
	opt := models.ModelOption{
		ID:                  o.ID,
		Provider:            provider,
		Label:               o.Label,
		Description:         o.Description,
		ContextWindowTokens: o.ContextWindow,
		RoutingProviders:    o.RoutingProviders,
	}
	for _, raw := range o.ThinkingLevels {
		level, err := models.ParseThinkingLevel(raw)
		if err != nil {
			return models.ModelOption{}, fmt.Errorf("model %s: %w", o.ID, err)
		}
		opt.SupportedThinkingLevels = append(opt.SupportedThinkingLevels, level)
	}
	if o.DefaultThinking != "" {
		level, err := models.ParseThinkingLevel(o.DefaultThinking)
		if err != nil {
			return models.ModelOption{}, fmt.Errorf("model %s: %w", o.ID, err)
		}
		opt.DefaultThinkingLevel = level
	}
	return opt, nil
}

// LoadOverrides merges model options from a yaml/json5 override file over
// the built-ins. Entries with ids already in the catalog replace them.
func (c *Catalog) LoadOverrides(path string) error {
	raw, err := config.LoadRaw(path)
	if err != nil {
		return err
	}
	var file overridesFile
	if err := config.Decode(raw, &file); err != nil {
		return fmt.Errorf("catalog overrides: %w", err)
	}
	for _, entry := range file.Models {
		opt, err := entry.toModelOption()
		if err != nil {
			return fmt.Errorf("catalog overrides: %w", err)
		}
		if err := c.Register(opt); err != nil {
			return fmt.Errorf("catalog overrides: %w", err)
		}
	}
	return nil
}

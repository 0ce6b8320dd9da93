// Package models defines the shared domain types for the relay runtime:
// providers, model options, thinking levels, and conversation messages.
package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Provider identifies one of the three inference backends.
type Provider string

const (
	// ProviderPrimary is the OAuth-based primary backend.
	ProviderPrimary Provider = "primary"

	// ProviderSecondary is the cloud-OAuth backend with the
	// function-call streaming protocol.
	ProviderSecondary Provider = "secondary"

	// ProviderRouter is the third-party routing aggregator. It may
	// multiplex further sub-providers.
	ProviderRouter Provider = "router"
)

// ProviderOrder returns the canonical display order of the backends.
// Catalog listings and status output follow this order.
func ProviderOrder() []Provider {
	return []Provider{ProviderPrimary, ProviderSecondary, ProviderRouter}
}

// ParseProvider normalizes a provider tag.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderPrimary:
		return ProviderPrimary, nil
	case ProviderSecondary:
		return ProviderSecondary, nil
	case ProviderRouter:
		return ProviderRouter, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

var titleCaser = cases.Title(language.English)

// Title returns the display form of the provider tag.
func (p Provider) Title() string {
	return titleCaser.String(string(p))
}

// Valid reports whether p is one of the three known backends.
func (p Provider) Valid() bool {
	switch p {
	case ProviderPrimary, ProviderSecondary, ProviderRouter:
		return true
	}
	return false
}

// ThinkingLevel is a reasoning-effort hint sent to the model. Levels are
// ordered; providers support model-specific subsets.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// thinkingRanks orders levels from least to most effort.
var thinkingRanks = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1,
	ThinkingLow:     2,
	ThinkingMedium:  3,
	ThinkingHigh:    4,
	ThinkingXHigh:   5,
}

// Rank returns the position of the level in the effort ordering,
// or -1 for an unknown level.
func (t ThinkingLevel) Rank() int {
	if r, ok := thinkingRanks[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is a known level.
func (t ThinkingLevel) Valid() bool {
	return t.Rank() >= 0
}

// ParseThinkingLevel normalizes a thinking-level tag.
func ParseThinkingLevel(s string) (ThinkingLevel, error) {
	level := ThinkingLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown thinking level %q", s)
	}
	return level, nil
}

// ThinkingLevels returns all levels in effort order.
func ThinkingLevels() []ThinkingLevel {
	return []ThinkingLevel{
		ThinkingOff, ThinkingMinimal, ThinkingLow,
		ThinkingMedium, ThinkingHigh, ThinkingXHigh,
	}
}

// ModelOption describes one selectable model as presented by the catalog.
type ModelOption struct {
	// ID is the stable identifier sent to the provider.
	ID string `json:"id"`

	// Provider is the backend that serves this model.
	Provider Provider `json:"provider"`

	// Label is the human-readable name.
	Label string `json:"label"`

	// Description is a short blurb for pickers.
	Description string `json:"description,omitempty"`

	// SupportedThinkingLevels lists the levels the model accepts.
	// Empty means the model takes no thinking hint.
	SupportedThinkingLevels []ThinkingLevel `json:"supported_thinking_levels,omitempty"`

	// DefaultThinkingLevel is used when the selection record has none.
	DefaultThinkingLevel ThinkingLevel `json:"default_thinking_level,omitempty"`

	// ContextWindowTokens is the model's context window, when known.
	ContextWindowTokens int `json:"context_window_tokens,omitempty"`

	// RoutingProviders lists the aggregator's sub-provider tags
	// (router models only). "any" lets the aggregator choose.
	RoutingProviders []string `json:"routing_providers,omitempty"`
}

// SupportsThinking reports whether the option accepts the given level.
func (m ModelOption) SupportsThinking(level ThinkingLevel) bool {
	for _, l := range m.SupportedThinkingLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Package usage accumulates per-provider token counts as streams report
// them. The tracker backs limits.get and the /limits command; it does no
// provider-side accounting of its own.
package usage

import (
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// maxRecords bounds the recent-request ring.
const maxRecords = 256

// Usage is the token count one stream reported.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Record is one tracked request.
type Record struct {
	Provider models.Provider `json:"provider"`
	Model    string          `json:"model"`
	Usage    Usage           `json:"usage"`
	At       time.Time       `json:"at"`
}

// Totals aggregates one provider:model pair.
type Totals struct {
	Provider models.Provider `json:"provider"`
	Model    string          `json:"model"`
	Requests int64           `json:"requests"`
	Usage    Usage           `json:"usage"`
}

// Tracker accumulates usage. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	totals  map[string]*Totals
	records []Record
	now     func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		totals: make(map[string]*Totals),
		now:    time.Now,
	}
}

// Add records one request's reported usage.
func (t *Tracker) Add(provider models.Provider, model string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := string(provider) + ":" + model
	totals, ok := t.totals[key]
	if !ok {
		totals = &Totals{Provider: provider, Model: model}
		t.totals[key] = totals
	}
	totals.Requests++
	totals.Usage.InputTokens += u.InputTokens
	totals.Usage.OutputTokens += u.OutputTokens

	t.records = append(t.records, Record{
		Provider: provider, Model: model, Usage: u, At: t.now().UTC(),
	})
	if len(t.records) > maxRecords {
		t.records = t.records[len(t.records)-maxRecords:]
	}
}

// Snapshot is the tracker state served by limits.get.
type Snapshot struct {
	Totals []Totals `json:"totals"`
	Recent []Record `json:"recent"`
}

// Snapshot returns a copy of the accumulated state. Totals follow provider
// order, then model.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Snapshot{
		Totals: make([]Totals, 0, len(t.totals)),
		Recent: append([]Record(nil), t.records...),
	}
	for _, totals := range t.totals {
		out.Totals = append(out.Totals, *totals)
	}

	rank := make(map[models.Provider]int, 3)
	for i, p := range models.ProviderOrder() {
		rank[p] = i
	}
	sort.Slice(out.Totals, func(i, j int) bool {
		if out.Totals[i].Provider != out.Totals[j].Provider {
			return rank[out.Totals[i].Provider] < rank[out.Totals[j].Provider]
		}
		return out.Totals[i].Model < out.Totals[j].Model
	})
	return out
}

// Reset clears the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = make(map[string]*Totals)
	t.records = nil
}

package usage

import (
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestTrackerAccumulates(t *testing.T) {
	tracker := NewTracker()
	tracker.Add(models.ProviderPrimary, "gpt-5.2", Usage{InputTokens: 100, OutputTokens: 20})
	tracker.Add(models.ProviderPrimary, "gpt-5.2", Usage{InputTokens: 50, OutputTokens: 10})
	tracker.Add(models.ProviderRouter, "kimi-k2", Usage{InputTokens: 7})

	snap := tracker.Snapshot()
	if len(snap.Totals) != 2 {
		t.Fatalf("totals = %d, want 2", len(snap.Totals))
	}

	primary := snap.Totals[0]
	if primary.Provider != models.ProviderPrimary || primary.Requests != 2 {
		t.Errorf("totals[0] = %+v", primary)
	}
	if primary.Usage.InputTokens != 150 || primary.Usage.OutputTokens != 30 {
		t.Errorf("primary usage = %+v", primary.Usage)
	}
	if primary.Usage.Total() != 180 {
		t.Errorf("Total() = %d", primary.Usage.Total())
	}

	if snap.Totals[1].Provider != models.ProviderRouter {
		t.Errorf("totals not in provider order: %+v", snap.Totals)
	}
	if len(snap.Recent) != 3 {
		t.Errorf("recent = %d, want 3", len(snap.Recent))
	}
	for _, rec := range snap.Recent {
		if rec.At.IsZero() {
			t.Error("record missing timestamp")
		}
	}
}

func TestTrackerRecordRing(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < maxRecords+10; i++ {
		tracker.Add(models.ProviderPrimary, "m", Usage{InputTokens: int64(i)})
	}
	snap := tracker.Snapshot()
	if len(snap.Recent) != maxRecords {
		t.Fatalf("recent = %d, want %d", len(snap.Recent), maxRecords)
	}
	if snap.Recent[0].Usage.InputTokens != 10 {
		t.Errorf("oldest kept record = %+v, want input 10", snap.Recent[0])
	}
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker()
	tracker.Add(models.ProviderSecondary, "gemini-3-pro", Usage{InputTokens: 5})
	tracker.Reset()
	snap := tracker.Snapshot()
	if len(snap.Totals) != 0 || len(snap.Recent) != 0 {
		t.Errorf("snapshot after reset = %+v", snap)
	}
}

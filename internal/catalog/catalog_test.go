package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestResolveByIDAndLabel(t *testing.T) {
	c := New()

	cases := []struct {
		in     string
		wantID string
		ok     bool
	}{
		{"gpt-5.2", "gpt-5.2", true},
		{"GPT-5.2", "gpt-5.2", true},
		{"  Gemini 3 Pro  ", "gemini-3-pro", true},
		{"kimi k2", "kimi-k2", true},
		{"", "", false},
		{"gpt-9000", "", false},
	}
	for _, tc := range cases {
		opt, ok := c.Resolve(tc.in)
		if ok != tc.ok {
			t.Errorf("Resolve(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && opt.ID != tc.wantID {
			t.Errorf("Resolve(%q) = %s, want %s", tc.in, opt.ID, tc.wantID)
		}
	}
}

func TestListOrderedByProviderThenLabel(t *testing.T) {
	c := New()
	opts := c.List()
	if len(opts) == 0 {
		t.Fatal("empty catalog")
	}

	rank := make(map[models.Provider]int)
	for i, p := range models.ProviderOrder() {
		rank[p] = i
	}
	for i := 1; i < len(opts); i++ {
		prev, cur := opts[i-1], opts[i]
		if rank[prev.Provider] > rank[cur.Provider] {
			t.Fatalf("provider order broken at %d: %s before %s", i, prev.ID, cur.ID)
		}
		if prev.Provider == cur.Provider && prev.Label > cur.Label {
			t.Fatalf("label order broken at %d: %q before %q", i, prev.Label, cur.Label)
		}
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	c := New()
	if err := c.Register(models.ModelOption{
		ID:       "gpt-5.2",
		Provider: models.ProviderPrimary,
		Label:    "Renamed",
	}); err != nil {
		t.Fatal(err)
	}

	opt, ok := c.Resolve("renamed")
	if !ok || opt.ID != "gpt-5.2" {
		t.Fatalf("Resolve(renamed) = %+v, %v", opt, ok)
	}
	if _, ok := c.Resolve("GPT-5.2"); !ok {
		t.Error("lookup by id lost after replace")
	}

	if err := c.Register(models.ModelOption{ID: " ", Provider: models.ProviderPrimary}); err == nil {
		t.Error("blank id accepted")
	}
	if err := c.Register(models.ModelOption{ID: "x", Provider: models.Provider("bogus")}); err == nil {
		t.Error("bogus provider accepted")
	}
}

func TestDefaultOptionPerProvider(t *testing.T) {
	c := New()
	for _, p := range models.ProviderOrder() {
		opt, ok := c.DefaultOption(p)
		if !ok {
			t.Errorf("no default for %s", p)
			continue
		}
		if opt.Provider != p {
			t.Errorf("default for %s came from %s", p, opt.Provider)
		}
	}
}

func TestContextWindowInference(t *testing.T) {
	cases := []struct {
		name string
		opt  models.ModelOption
		want int
	}{
		{"explicit", models.ModelOption{ID: "m", ContextWindowTokens: 200_000}, 200_000},
		{"nano by id", models.ModelOption{ID: "gpt-5.2-nano"}, nanoContextWindow},
		{"mini by label", models.ModelOption{ID: "m", Label: "Something Mini"}, miniContextWindow},
		{"default", models.ModelOption{ID: "kimi-k2"}, DefaultContextWindow},
		{"clamped low", models.ModelOption{ID: "m", ContextWindowTokens: 100}, MinContextWindow},
		{"clamped high", models.ModelOption{ID: "m", ContextWindowTokens: 5_000_000}, MaxContextWindow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ContextWindow(tc.opt); got != tc.want {
				t.Errorf("ContextWindow = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAutoCompactLimit(t *testing.T) {
	cases := []struct {
		window, want int
	}{
		{272_000, 258_400},
		{MinContextWindow, 7_600},
		{6_000, 6_000},
		{4_000, 4_000},
	}
	for _, tc := range cases {
		if got := AutoCompactLimit(tc.window); got != tc.want {
			t.Errorf("AutoCompactLimit(%d) = %d, want %d", tc.window, got, tc.want)
		}
	}
}

func TestThinkingClamp(t *testing.T) {
	opt := models.ModelOption{
		ID: "m",
		SupportedThinkingLevels: []models.ThinkingLevel{
			models.ThinkingLow, models.ThinkingHigh,
		},
	}
	cases := []struct {
		in, want models.ThinkingLevel
	}{
		{models.ThinkingHigh, models.ThinkingHigh},
		{models.ThinkingMedium, models.ThinkingLow},
		{models.ThinkingOff, models.ThinkingLow},
		{models.ThinkingXHigh, models.ThinkingHigh},
	}
	for _, tc := range cases {
		if got := ClampThinking(opt, tc.in); got != tc.want {
			t.Errorf("ClampThinking(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}

	// No declared levels means OFF only.
	bare := models.ModelOption{ID: "m"}
	if got := ClampThinking(bare, models.ThinkingHigh); got != models.ThinkingOff {
		t.Errorf("ClampThinking(bare, high) = %s", got)
	}
	if got := DefaultThinking(bare); got != models.ThinkingOff {
		t.Errorf("DefaultThinking(bare) = %s", got)
	}
}

func TestDefaultThinkingFallsBackWhenUnsupported(t *testing.T) {
	opt := models.ModelOption{
		ID:                      "m",
		SupportedThinkingLevels: []models.ThinkingLevel{models.ThinkingMedium, models.ThinkingLow},
		DefaultThinkingLevel:    models.ThinkingXHigh,
	}
	if got := DefaultThinking(opt); got != models.ThinkingLow {
		t.Errorf("DefaultThinking = %s, want low", got)
	}

	opt.DefaultThinkingLevel = models.ThinkingMedium
	if got := DefaultThinking(opt); got != models.ThinkingMedium {
		t.Errorf("DefaultThinking = %s, want medium", got)
	}
}

func TestRouterProvidersAnyFirstSortedRest(t *testing.T) {
	c := New()
	got := c.RouterProviders()
	if len(got) == 0 || got[0] != "any" {
		t.Fatalf("RouterProviders = %v", got)
	}
	rest := got[1:]
	for i := 1; i < len(rest); i++ {
		if rest[i-1] > rest[i] {
			t.Fatalf("sub-providers unsorted: %v", rest)
		}
	}
	want := []string{"any", "deepinfra", "fireworks", "groq", "together"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RouterProviders = %v, want %v", got, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	doc := `models:
  - id: gpt-5.2
    provider: primary
    label: Tuned 5.2
    context_window: 400000
  - id: glm-5
    provider: router
    label: GLM-5
    routing_providers: [any, zhipu]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New()
	before := len(c.List())
	if err := c.LoadOverrides(path); err != nil {
		t.Fatal(err)
	}

	opt, ok := c.Resolve("gpt-5.2")
	if !ok || opt.Label != "Tuned 5.2" || opt.ContextWindowTokens != 400_000 {
		t.Errorf("override not applied: %+v", opt)
	}
	if _, ok := c.Resolve("glm-5"); !ok {
		t.Error("new model not registered")
	}
	if got := len(c.List()); got != before+1 {
		t.Errorf("catalog size = %d, want %d", got, before+1)
	}

	found := false
	for _, rp := range c.RouterProviders() {
		if rp == "zhipu" {
			found = true
		}
	}
	if !found {
		t.Error("zhipu missing from router providers")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("models:\n  - id: x\n    provider: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadOverrides(bad); err == nil {
		t.Error("bad provider accepted")
	}
}

package compaction

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/haasonsaas/relay/pkg/models"
)

func userMsg(text string) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleUser, Text: text}
}

func assistantMsg(text string) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleAssistant, Text: text}
}

func convo(n int) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, userMsg(fmt.Sprintf("question %d with some padding text", i)))
		} else {
			out = append(out, assistantMsg(fmt.Sprintf("answer %d with some padding text", i)))
		}
	}
	return out
}

func TestEstimateMessageTokens(t *testing.T) {
	tests := []struct {
		name string
		msg  models.ChatMessage
		want int
	}{
		{"empty", models.ChatMessage{}, 20},
		{"four chars", userMsg("abcd"), 21},
		{"five chars rounds up", userMsg("abcde"), 22},
		{"whitespace collapsed", userMsg("a   b\n\nc"), 20 + 2}, // "a b c" = 5 chars
		{"image", models.ChatMessage{Role: models.RoleUser, Images: []models.ChatImageAttachment{{}}}, 870},
		{"text and two images", models.ChatMessage{
			Role:   models.RoleUser,
			Text:   "abcd",
			Images: []models.ChatImageAttachment{{}, {}},
		}, 20 + 1 + 1700},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EstimateMessageTokens(tc.msg); got != tc.want {
				t.Errorf("EstimateMessageTokens() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  a \t b\n\nc  "); got != "a b c" {
		t.Errorf("CollapseWhitespace() = %q", got)
	}
}

func TestCompressNoopWhenShort(t *testing.T) {
	if _, ok := Compress(convo(8), Params{Reason: ReasonAuto}); ok {
		t.Error("8 messages with keep 8 should be a no-op")
	}
	if _, ok := Compress(nil, Params{Reason: ReasonProviderSwitch}); ok {
		t.Error("empty history should be a no-op")
	}
}

func TestCompressAuto(t *testing.T) {
	history := convo(12)
	out, ok := Compress(history, Params{
		Reason: ReasonAuto, Model: "gpt-5.2", Window: 272000, AutoLimit: 258400,
	})
	if !ok {
		t.Fatal("Compress() declined")
	}
	if out.KeptRecent != 8 {
		t.Errorf("KeptRecent = %d, want 8", out.KeptRecent)
	}
	if len(out.History) != 9 {
		t.Fatalf("len(History) = %d, want 9", len(out.History))
	}
	if out.History[0].Role != models.RoleAssistant {
		t.Errorf("summary role = %s", out.History[0].Role)
	}
	if !strings.HasPrefix(out.History[0].Text, SummaryHeader) {
		t.Errorf("summary text = %.60q, want %s prefix", out.History[0].Text, SummaryHeader)
	}
	if !strings.Contains(out.Summary.Text, "reason: auto") {
		t.Errorf("summary missing reason: %s", out.Summary.Text)
	}
	if !strings.Contains(out.Summary.Text, "gpt-5.2") {
		t.Errorf("summary missing model: %s", out.Summary.Text)
	}

	// The tail is preserved verbatim.
	for i := 0; i < 8; i++ {
		want := history[len(history)-8+i]
		got := out.History[i+1]
		if got.Role != want.Role || got.Text != want.Text {
			t.Errorf("tail[%d] = %+v, want %+v", i, got, want)
		}
	}
}

func TestCompressMonotonic(t *testing.T) {
	history := convo(40)
	out, ok := Compress(history, Params{Reason: ReasonAuto})
	if !ok {
		t.Fatal("Compress() declined")
	}
	if out.AfterTokens >= out.BeforeTokens {
		t.Errorf("AfterTokens = %d, not below BeforeTokens = %d", out.AfterTokens, out.BeforeTokens)
	}
	if out.BeforeTokens != EstimateHistoryTokens(history) {
		t.Error("BeforeTokens disagrees with estimator")
	}
	if out.AfterTokens != EstimateHistoryTokens(out.History) {
		t.Error("AfterTokens disagrees with estimator")
	}
}

func TestCompressProviderSwitchKeep(t *testing.T) {
	tests := []struct {
		name     string
		history  int
		wantKeep int
		wantOK   bool
	}{
		{"long history keeps 4", 10, 4, true},
		{"four messages keeps 1", 4, 1, true},
		{"two messages keeps 1", 2, 1, true},
		{"single message summarizes everything", 1, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, ok := Compress(convo(tc.history), Params{Reason: ReasonProviderSwitch})
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if out.KeptRecent != tc.wantKeep {
				t.Errorf("KeptRecent = %d, want %d", out.KeptRecent, tc.wantKeep)
			}
			if len(out.History) != tc.wantKeep+1 {
				t.Errorf("len(History) = %d", len(out.History))
			}
		})
	}
}

func TestSummaryEntryRendering(t *testing.T) {
	long := strings.Repeat("x", 500)
	history := []models.ChatMessage{
		userMsg(long),
		{Role: models.RoleUser, Text: "with picture", Images: []models.ChatImageAttachment{{}, {}}},
		assistantMsg("short"),
		userMsg("a"), userMsg("b"), userMsg("c"), userMsg("d"),
		userMsg("e"), userMsg("f"), userMsg("g"), userMsg("h"),
	}
	out, ok := Compress(history, Params{Reason: ReasonAuto})
	if !ok {
		t.Fatal("Compress() declined")
	}
	if strings.Contains(out.Summary.Text, long) {
		t.Error("entry not clipped")
	}
	if !strings.Contains(out.Summary.Text, strings.Repeat("x", 240)) {
		t.Error("clipped entry missing")
	}
	if !strings.Contains(out.Summary.Text, "[images: 2]") {
		t.Errorf("image marker missing: %s", out.Summary.Text)
	}
}

func TestSummaryElidesLongPrefix(t *testing.T) {
	history := convo(60)
	out, ok := Compress(history, Params{Reason: ReasonAuto})
	if !ok {
		t.Fatal("Compress() declined")
	}
	if !strings.Contains(out.Summary.Text, "\n- ...") {
		t.Error("long prefix not elided")
	}
	if len(out.Summary.Text) > 3600 {
		t.Errorf("summary length = %d, cap is 3600", len(out.Summary.Text))
	}
}

func TestClipsFallOnRuneBoundaries(t *testing.T) {
	// "界" is three bytes, and the leading "a" keeps every rune start off
	// the 240-byte clip offset.
	long := "a" + strings.Repeat("界", 300)
	history := make([]models.ChatMessage, 0, 28)
	for i := 0; i < 28; i++ {
		history = append(history, userMsg(long))
	}
	out, ok := Compress(history, Params{Reason: ReasonAuto})
	if !ok {
		t.Fatal("Compress() declined")
	}
	if !utf8.ValidString(out.Summary.Text) {
		t.Error("summary contains a split rune")
	}
	if len(out.Summary.Text) > 3600 {
		t.Errorf("summary length = %d, cap is 3600", len(out.Summary.Text))
	}
}

func TestClipBytes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short unchanged", "abc", 10, "abc"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"cut backs off mid-rune", "ab界", 3, "ab"},
		{"cut on boundary", "ab界", 2, "ab"},
		{"multibyte kept whole", "界界", 3, "界"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := clipBytes(tc.in, tc.max); got != tc.want {
				t.Errorf("clipBytes(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}

func TestSummaryLengthCap(t *testing.T) {
	history := make([]models.ChatMessage, 0, 24)
	for i := 0; i < 24; i++ {
		history = append(history, userMsg(strings.Repeat("word ", 100)))
	}
	out, ok := Compress(history, Params{Reason: ReasonAuto})
	if !ok {
		t.Fatal("Compress() declined")
	}
	if len(out.Summary.Text) > 3600 {
		t.Errorf("summary length = %d, cap is 3600", len(out.Summary.Text))
	}
}

// Package compaction estimates conversation size and condenses session
// history into a single summary message plus a verbatim tail. The turn
// engine triggers it automatically near the context window, on provider
// switches, and on manual request.
package compaction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/relay/pkg/models"
)

// Reason tags why a compression ran.
type Reason string

const (
	ReasonAuto           Reason = "auto"
	ReasonManual         Reason = "manual"
	ReasonProviderSwitch Reason = "provider_switch"
)

const (
	// messageOverheadTokens is the per-message framing cost.
	messageOverheadTokens = 20

	// imageTokens is the flat estimate per attachment.
	imageTokens = 850

	// entryClipChars caps one rendered history entry in the summary.
	entryClipChars = 240

	// maxRenderedEntries bounds the bulleted list; longer prefixes keep
	// the first third and the tail around an elision marker.
	maxRenderedEntries = 16

	// maxSummaryChars caps the whole summary message text.
	maxSummaryChars = 3600

	// SummaryHeader starts every summary message.
	SummaryHeader = "[conversation compression]"
)

// CollapseWhitespace folds runs of whitespace into single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// EstimateMessageTokens is the deterministic per-message heuristic:
// overhead + ceil(collapsed-text/4) + 850 per image.
func EstimateMessageTokens(msg models.ChatMessage) int {
	text := CollapseWhitespace(msg.Text)
	return messageOverheadTokens + (len(text)+3)/4 + imageTokens*len(msg.Images)
}

// EstimateHistoryTokens sums the per-message estimates.
func EstimateHistoryTokens(history []models.ChatMessage) int {
	total := 0
	for _, msg := range history {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// Params configures one compression run.
type Params struct {
	Reason    Reason
	Model     string
	Window    int
	AutoLimit int
}

// Outcome is the result of a compression run.
type Outcome struct {
	// Summary is the condensed assistant message.
	Summary models.ChatMessage

	// History is the replacement history: summary followed by the kept
	// tail, cloned from the input.
	History []models.ChatMessage

	// KeptRecent is how many tail messages survived verbatim.
	KeptRecent int

	// BeforeTokens and AfterTokens are the estimates around the run.
	BeforeTokens int
	AfterTokens  int
}

// keepRecent picks how many tail messages survive. Provider switches keep a
// shorter tail, and force at least one summarized message even for short
// histories because the old provider's context must not be replayed as-is.
func keepRecent(reason Reason, historyLen int) int {
	keep := 8
	if reason == ReasonProviderSwitch {
		keep = 4
		if historyLen <= keep {
			keep = 1
		}
		if historyLen <= 1 {
			keep = 0
		}
	}
	return keep
}

// Compress condenses history. The second return is false when there is
// nothing to summarize (history already fits the tail).
func Compress(history []models.ChatMessage, p Params) (Outcome, bool) {
	keep := keepRecent(p.Reason, len(history))
	if len(history) == 0 || len(history) <= keep {
		return Outcome{}, false
	}

	prefix := history[:len(history)-keep]
	recent := models.CloneMessages(history[len(history)-keep:])

	summary := models.ChatMessage{
		Role: models.RoleAssistant,
		Text: buildSummaryText(prefix, p),
	}

	out := Outcome{
		Summary:      summary,
		History:      append([]models.ChatMessage{summary}, recent...),
		KeptRecent:   keep,
		BeforeTokens: EstimateHistoryTokens(history),
	}
	out.AfterTokens = EstimateHistoryTokens(out.History)
	return out, true
}

func buildSummaryText(prefix []models.ChatMessage, p Params) string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	b.WriteString(fmt.Sprintf("\nreason: %s", p.Reason))
	if p.Model != "" {
		b.WriteString(fmt.Sprintf("\nmodel: %s", p.Model))
	}
	if p.Window > 0 {
		b.WriteString(fmt.Sprintf("\ncontext window: %d tokens, auto limit: %d", p.Window, p.AutoLimit))
	}
	b.WriteString(fmt.Sprintf("\ncondensed %d earlier message(s):\n", len(prefix)))

	for _, entry := range renderEntries(prefix) {
		b.WriteString("- ")
		b.WriteString(entry)
		b.WriteString("\n")
	}

	return clipBytes(strings.TrimRight(b.String(), "\n"), maxSummaryChars)
}

// clipBytes truncates s to at most max bytes, backing the cut up to a rune
// boundary so it never leaves a partial UTF-8 sequence.
func clipBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// renderEntries renders each prefix message as "role: clipped [images: N]",
// eliding the middle of long prefixes.
func renderEntries(prefix []models.ChatMessage) []string {
	render := func(msg models.ChatMessage) string {
		text := clipBytes(CollapseWhitespace(msg.Text), entryClipChars)
		entry := fmt.Sprintf("%s: %s", msg.Role, text)
		if n := len(msg.Images); n > 0 {
			entry += fmt.Sprintf(" [images: %d]", n)
		}
		return entry
	}

	if len(prefix) <= maxRenderedEntries {
		out := make([]string, 0, len(prefix))
		for _, msg := range prefix {
			out = append(out, render(msg))
		}
		return out
	}

	head := maxRenderedEntries / 3
	tail := maxRenderedEntries - head - 1
	out := make([]string, 0, maxRenderedEntries)
	for _, msg := range prefix[:head] {
		out = append(out, render(msg))
	}
	out = append(out, "...")
	for _, msg := range prefix[len(prefix)-tail:] {
		out = append(out, render(msg))
	}
	return out
}

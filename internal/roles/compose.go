package roles

import (
	"fmt"
	"strings"
)

// History size bounds applied when ComposeOptions leaves them zero.
const (
	DefaultMaxHistoryTurns = 16
	DefaultMaxHistoryBytes = 48 * 1024
)

// Placeholders a template may use to control where history and task are
// injected. Templates without placeholders get the fixed section order:
// template text, history, task.
const (
	PlaceholderHistory = "{{HISTORY}}"
	PlaceholderTask    = "{{TASK}}"
)

// Exchange is one prior turn rendered into a composed prompt. The task
// text is the caller's original ask, not the full composed prompt, so
// histories do not nest.
type Exchange struct {
	Agent  string
	Role   string
	Task   string
	Answer string
}

// ComposeOptions tune prompt composition.
type ComposeOptions struct {
	MaxHistoryTurns int
	MaxHistoryBytes int

	// AnnounceTruncation inserts a marker ahead of the retained history
	// so the external agent knows context was cut. The caller always
	// learns about truncation through Composed.Truncated.
	AnnounceTruncation bool
}

// Composed is the result of prompt composition.
type Composed struct {
	Prompt        string
	Truncated     bool
	IncludedTurns int
}

// Compose assembles the final prompt for a template: role text first,
// then prior exchanges oldest-first, then the new task. The external
// agent always sees history before the new ask.
func Compose(tmpl Template, task string, history []Exchange, opts ComposeOptions) Composed {
	maxTurns := opts.MaxHistoryTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxHistoryTurns
	}
	maxBytes := opts.MaxHistoryBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxHistoryBytes
	}

	kept, truncated := trimHistory(history, maxTurns, maxBytes)
	historySection := renderHistory(kept, truncated, opts.AnnounceTruncation)
	taskSection := "=== USER REQUEST ===\n" + strings.TrimSpace(task)

	text := tmpl.Text
	var prompt string
	if strings.Contains(text, PlaceholderTask) || strings.Contains(text, PlaceholderHistory) {
		prompt = strings.ReplaceAll(text, PlaceholderHistory, historySection)
		prompt = strings.ReplaceAll(prompt, PlaceholderTask, taskSection)
	} else {
		sections := make([]string, 0, 4)
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			sections = append(sections, trimmed)
		}
		if historySection != "" {
			sections = append(sections, historySection)
		}
		sections = append(sections, taskSection)
		sections = append(sections, "Provide your response below, using your own tools as needed:")
		prompt = strings.Join(sections, "\n\n")
	}

	return Composed{
		Prompt:        prompt,
		Truncated:     truncated,
		IncludedTurns: len(kept),
	}
}

// trimHistory keeps the most recent turns that fit both bounds.
func trimHistory(history []Exchange, maxTurns, maxBytes int) ([]Exchange, bool) {
	if len(history) == 0 {
		return nil, false
	}

	start := 0
	if len(history) > maxTurns {
		start = len(history) - maxTurns
	}

	// Walk backwards from the newest turn until the byte budget is spent.
	size := 0
	for i := len(history) - 1; i >= start; i-- {
		size += len(history[i].Task) + len(history[i].Answer)
		if size > maxBytes {
			start = i + 1
			break
		}
	}

	// Never drop everything: the most recent turn is always included.
	if start >= len(history) {
		start = len(history) - 1
	}
	return history[start:], start > 0
}

// renderHistory renders prior exchanges oldest-first as compact blocks.
func renderHistory(kept []Exchange, truncated, announce bool) string {
	if len(kept) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== CONVERSATION HISTORY (oldest first) ===\n")
	if truncated && announce {
		b.WriteString("[earlier exchanges omitted to fit the context budget]\n")
	}
	for i, ex := range kept {
		origin := ex.Agent
		if ex.Role != "" {
			origin += "/" + ex.Role
		}
		fmt.Fprintf(&b, "--- exchange %d (%s) ---\n", i+1, origin)
		b.WriteString(strings.TrimSpace(ex.Task))
		b.WriteString("\n--- response ---\n")
		b.WriteString(strings.TrimSpace(ex.Answer))
		b.WriteString("\n")
	}
	b.WriteString("=== END HISTORY ===")
	return b.String()
}

// Package ledger provides a per-session, append-only record of a turn's
// routing and tool decisions, rendered compactly back into the system
// prompt so the model can see its own recent reasoning and tool history.
package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Outcome classifies how a recorded decision resolved.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one decision recorded during a turn.
type Entry struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Action      string    `json:"action"`
	Outcome     Outcome   `json:"outcome"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Turn is one user turn's worth of ledger state: the history length and
// latest user text it started from, the tool names available at the time,
// and the decisions recorded during it.
type Turn struct {
	Index          int       `json:"index"`
	HistoryLen     int       `json:"history_len"`
	LatestUserText string    `json:"latest_user_text"`
	AvailableTools []string  `json:"available_tools,omitempty"`
	Entries        []Entry   `json:"entries"`
	StartedAt      time.Time `json:"started_at"`
}

// Config controls whether the ledger is active and how much of it is
// surfaced back into the system prompt.
type Config struct {
	// Enabled turns the ledger on. When false, RecordDecision/RecordOutcome
	// are no-ops and RenderBrief returns "".
	Enabled bool
	// MaxEntries bounds how many of the most recent entries RenderBrief
	// includes, across all turns. Zero means no brief is rendered.
	MaxEntries int
}

// DefaultConfig returns the ledger's default settings: enabled, with a
// brief of the last 12 entries.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxEntries: 12}
}

// Ledger is a live, in-memory, append-only log of one session's turns.
// It is distinct from the tape recorder (internal/agent/tape): the ledger
// is surfaced to the model itself as part of the prompt, while the tape is
// an offline recording used for replay and is never injected back into a
// request.
type Ledger struct {
	mu     sync.Mutex
	cfg    Config
	turns  []*Turn
	nextID int
}

// New creates a Ledger with the given config.
func New(cfg Config) *Ledger {
	return &Ledger{cfg: cfg}
}

// StartTurn begins a new turn record and returns its index.
func (l *Ledger) StartTurn(historyLen int, latestUserText string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	turn := &Turn{
		Index:          len(l.turns),
		HistoryLen:     historyLen,
		LatestUserText: latestUserText,
		StartedAt:      time.Now(),
	}
	l.turns = append(l.turns, turn)
	return turn.Index
}

// UpdateAvailableTools records the tool names available to the current
// (most recently started) turn.
func (l *Ledger) UpdateAvailableTools(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return
	}
	current := l.turns[len(l.turns)-1]
	current.AvailableTools = append([]string(nil), names...)
}

// RecordDecision appends a pending decision to the current turn and
// returns a decision ID for a later RecordOutcome call. No-op (returns "")
// if the ledger is disabled or no turn has been started.
func (l *Ledger) RecordDecision(description, action string) string {
	if !l.cfg.Enabled {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return ""
	}
	current := l.turns[len(l.turns)-1]
	l.nextID++
	id := fmt.Sprintf("d-%d", l.nextID)
	current.Entries = append(current.Entries, Entry{
		ID:          id,
		Description: description,
		Action:      action,
		Outcome:     OutcomePending,
		RecordedAt:  time.Now(),
	})
	return id
}

// RecordOutcome updates a previously-recorded decision's outcome. A blank
// or unknown decisionID is silently ignored.
func (l *Ledger) RecordOutcome(decisionID string, outcome Outcome) {
	if decisionID == "" || !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, turn := range l.turns {
		for i := range turn.Entries {
			if turn.Entries[i].ID == decisionID {
				turn.Entries[i].Outcome = outcome
				return
			}
		}
	}
}

// RenderBrief renders a compact enumeration of the last maxN entries
// (across all turns, oldest of the window first) suitable for injection
// into the system prompt. Returns "" if the ledger is disabled, maxN <= 0,
// or nothing has been recorded yet.
func (l *Ledger) RenderBrief(maxN int) string {
	if !l.cfg.Enabled || maxN <= 0 {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []Entry
	for _, turn := range l.turns {
		all = append(all, turn.Entries...)
	}
	if len(all) == 0 {
		return ""
	}
	if len(all) > maxN {
		all = all[len(all)-maxN:]
	}

	var sb strings.Builder
	sb.WriteString("Recent decisions:\n")
	for _, e := range all {
		sb.WriteString(fmt.Sprintf("- [%s] %s -> %s (%s)\n", e.ID, e.Description, e.Action, e.Outcome))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// MaxEntries returns the configured brief size, for callers that want to
// pass it straight through to RenderBrief.
func (l *Ledger) MaxEntries() int {
	return l.cfg.MaxEntries
}

// Enabled reports whether the ledger is recording.
func (l *Ledger) Enabled() bool {
	return l.cfg.Enabled
}

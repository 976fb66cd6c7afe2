package ledger

import (
	"strings"
	"testing"
)

func TestStartTurnAndRecordDecision(t *testing.T) {
	l := New(DefaultConfig())
	idx := l.StartTurn(3, "refactor the parser")
	if idx != 0 {
		t.Fatalf("expected first turn index 0, got %d", idx)
	}
	l.UpdateAvailableTools([]string{"read_file", "edit_file"})

	decisionID := l.RecordDecision("read main.go", "call read_file")
	if decisionID == "" {
		t.Fatalf("expected non-empty decision id")
	}
	l.RecordOutcome(decisionID, OutcomeSuccess)

	if len(l.turns) != 1 || len(l.turns[0].Entries) != 1 {
		t.Fatalf("expected one turn with one entry, got %+v", l.turns)
	}
	if l.turns[0].Entries[0].Outcome != OutcomeSuccess {
		t.Errorf("expected outcome success, got %s", l.turns[0].Entries[0].Outcome)
	}
}

func TestRenderBriefTruncatesToMaxN(t *testing.T) {
	l := New(Config{Enabled: true, MaxEntries: 2})
	l.StartTurn(0, "first")
	l.RecordDecision("d1", "a1")
	l.RecordDecision("d2", "a2")
	l.RecordDecision("d3", "a3")

	brief := l.RenderBrief(2)
	lines := strings.Split(brief, "\n")
	// 1 header line + 2 entry lines
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines (header + 2 entries), got %d: %q", len(lines), brief)
	}
	if strings.Contains(brief, "d1") {
		t.Errorf("expected oldest entry dropped from brief, got %q", brief)
	}
	if !strings.Contains(brief, "d3") {
		t.Errorf("expected most recent entry present, got %q", brief)
	}
}

func TestDisabledLedgerIsNoop(t *testing.T) {
	l := New(Config{Enabled: false, MaxEntries: 10})
	l.StartTurn(0, "hi")
	id := l.RecordDecision("desc", "action")
	if id != "" {
		t.Errorf("expected empty decision id when disabled, got %q", id)
	}
	if brief := l.RenderBrief(10); brief != "" {
		t.Errorf("expected empty brief when disabled, got %q", brief)
	}
}

func TestRenderBriefEmptyWhenNothingRecorded(t *testing.T) {
	l := New(DefaultConfig())
	if brief := l.RenderBrief(l.MaxEntries()); brief != "" {
		t.Errorf("expected empty brief before any decisions, got %q", brief)
	}
}

func TestRecordOutcomeUnknownIDIsIgnored(t *testing.T) {
	l := New(DefaultConfig())
	l.StartTurn(0, "hi")
	l.RecordDecision("d1", "a1")
	l.RecordOutcome("not-a-real-id", OutcomeFailure)
	if l.turns[0].Entries[0].Outcome != OutcomePending {
		t.Errorf("expected unrelated entry outcome unchanged, got %s", l.turns[0].Entries[0].Outcome)
	}
}

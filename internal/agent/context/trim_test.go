package context

import (
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func userMsg(id, content string) *models.Message {
	return &models.Message{ID: id, Role: models.RoleUser, Content: content}
}

func assistantText(id, content string) *models.Message {
	return &models.Message{ID: id, Role: models.RoleAssistant, Content: content}
}

func assistantToolCall(id, callID, toolName string) *models.Message {
	return &models.Message{
		ID:   id,
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: callID, Name: toolName, Input: []byte(`{}`)},
		},
	}
}

func toolResponse(id, callID, content string) *models.Message {
	return &models.Message{
		ID:   id,
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: callID, Content: content},
		},
	}
}

func TestPruneToolResponses_DropsOldPairsKeepsRecent(t *testing.T) {
	messages := []*models.Message{
		userMsg("m1", "hello"),
		assistantToolCall("m2", "call-1", "read_file"),
		toolResponse("m3", "call-1", "old content"),
		assistantText("m4", "done with old task"),
		userMsg("m5", "do another thing"),
		assistantToolCall("m6", "call-2", "read_file"),
		toolResponse("m7", "call-2", "recent content"),
		assistantText("m8", "done"),
	}

	out, removed := PruneToolResponses(messages, 4)
	if removed == 0 {
		t.Fatalf("expected some messages removed, got 0")
	}

	var ids []string
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	joined := strings.Join(ids, ",")
	if strings.Contains(joined, "m3") {
		t.Errorf("expected old tool response m3 dropped, got %v", ids)
	}
	if !strings.Contains(joined, "m7") {
		t.Errorf("expected recent tool response m7 kept, got %v", ids)
	}

	// No orphaned tool message should remain: every Tool message's call id
	// must be answered by a ToolCall from some Assistant message in out.
	knownCalls := map[string]bool{}
	for _, m := range out {
		for _, tc := range m.ToolCalls {
			knownCalls[tc.ID] = true
		}
	}
	for _, m := range out {
		for _, tr := range m.ToolResults {
			if !knownCalls[tr.ToolCallID] {
				t.Errorf("orphaned tool result for call %q survived pruning", tr.ToolCallID)
			}
		}
	}
}

func TestPruneToolResponses_NeverTouchesFloor(t *testing.T) {
	messages := []*models.Message{
		userMsg("m1", "hi"),
		assistantToolCall("m2", "call-1", "x"),
		toolResponse("m3", "call-1", "y"),
	}
	out, removed := PruneToolResponses(messages, 10)
	if removed != 0 {
		t.Fatalf("expected no removal when preserveRecentTurns exceeds history length, got %d", removed)
	}
	if len(out) != len(messages) {
		t.Fatalf("expected unchanged history, got %d messages", len(out))
	}
}

func TestEnforceWindow_DropsOldestUntilUnderTarget(t *testing.T) {
	var messages []*models.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, userMsg("u"+string(rune('a'+i)), strings.Repeat("x", 400)))
	}

	budget := TrimBudget{MaxTokens: 100, TrimToPercent: 80, PreserveRecentTurns: 3}
	out, removed := EnforceWindow(messages, budget)

	if removed == 0 {
		t.Fatalf("expected messages to be dropped under a tight budget")
	}
	if len(out) < budget.PreserveRecentTurns {
		t.Fatalf("expected at least the preserve-recent floor retained, got %d", len(out))
	}
	// Relative order preserved: last retained message must be the original
	// last message.
	if out[len(out)-1].ID != messages[len(messages)-1].ID {
		t.Errorf("expected most recent message retained last, got %q", out[len(out)-1].ID)
	}
}

func TestEnforceWindow_UnderBudgetIsNoop(t *testing.T) {
	messages := []*models.Message{userMsg("m1", "short")}
	budget := TrimBudget{MaxTokens: 100000, TrimToPercent: 80, PreserveRecentTurns: 3}
	out, removed := EnforceWindow(messages, budget)
	if removed != 0 || len(out) != 1 {
		t.Fatalf("expected no-op under budget, got removed=%d len=%d", removed, len(out))
	}
}

func TestEnforceWindow_RepairsOrphanedPairAtCutBoundary(t *testing.T) {
	messages := []*models.Message{
		assistantToolCall("m1", "call-1", "big_tool"),
		toolResponse("m2", "call-1", strings.Repeat("z", 5000)),
		userMsg("m3", "next"),
		assistantText("m4", "ok"),
	}
	budget := TrimBudget{MaxTokens: 50, TrimToPercent: 80, PreserveRecentTurns: 1}
	out, _ := EnforceWindow(messages, budget)

	knownCalls := map[string]bool{}
	for _, m := range out {
		for _, tc := range m.ToolCalls {
			knownCalls[tc.ID] = true
		}
	}
	for _, m := range out {
		for _, tr := range m.ToolResults {
			if !knownCalls[tr.ToolCallID] {
				t.Errorf("orphaned tool result for %q survived EnforceWindow", tr.ToolCallID)
			}
		}
	}
}

func TestAggressiveTrim_KeepsOnlyTailAndRepairsPairs(t *testing.T) {
	var messages []*models.Message
	for i := 0; i < 15; i++ {
		messages = append(messages, userMsg("u"+string(rune('a'+i)), "hi"))
	}
	messages = append(messages, assistantToolCall("last-call", "call-x", "t"))

	out, removed := AggressiveTrim(messages)
	if removed == 0 {
		t.Fatalf("expected trimming when history exceeds the aggressive floor")
	}
	if len(out) > AggressivePreserveRecentTurns {
		t.Fatalf("expected at most %d messages retained, got %d", AggressivePreserveRecentTurns, len(out))
	}
}

func TestAggressiveTrim_NoopUnderFloor(t *testing.T) {
	messages := []*models.Message{userMsg("m1", "hi"), userMsg("m2", "there")}
	out, removed := AggressiveTrim(messages)
	if removed != 0 || len(out) != 2 {
		t.Fatalf("expected no-op under the floor, got removed=%d len=%d", removed, len(out))
	}
}

func TestEstimateMessageTokens_NonZeroForNonEmptyContent(t *testing.T) {
	m := userMsg("m1", "hello world")
	if EstimateMessageTokens(m) <= 0 {
		t.Errorf("expected positive token estimate for non-empty content")
	}
	if EstimateMessageTokens(nil) != 0 {
		t.Errorf("expected zero tokens for nil message")
	}
}

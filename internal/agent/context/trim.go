package context

import (
	"github.com/haasonsaas/nexus/pkg/models"
)

// AggressivePreserveRecentTurns is the floor used by AggressiveTrim, larger
// than the configurable preserve_recent_turns used by the two softer
// operations so a retry after a context-overflow error still leaves the
// model enough of the conversation to make sense of what happened.
const AggressivePreserveRecentTurns = 10

// TrimBudget controls the three context-trim operations below. MaxTokens
// and TrimToPercent drive EnforceWindow; PreserveRecentTurns is the floor
// both PruneToolResponses and EnforceWindow respect.
type TrimBudget struct {
	MaxTokens          int
	TrimToPercent      int // e.g. 80 means trim down to 80% of MaxTokens
	PreserveRecentTurns int
}

// EstimateMessageTokens approximates the token cost of one message by
// summing content length, a small role-tag overhead, and the serialized
// size of its tool calls and tool responses, then applying the shared
// characters-per-token ratio. This mirrors EstimateTokens' ratio rather
// than calling it directly so overhead bytes (role tag, JSON punctuation)
// are counted once per message instead of per text fragment.
func EstimateMessageTokens(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content) + len(string(msg.Role)) + 2
	for _, tc := range msg.ToolCalls {
		chars += len(tc.ID) + len(tc.Name) + len(tc.Input) + 8
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.ToolCallID) + len(tr.Content) + 8
	}
	tokens := int(float64(chars) * TokensPerChar)
	if tokens == 0 && chars > 0 {
		return 1
	}
	return tokens
}

// EstimateHistoryTokens sums EstimateMessageTokens over a slice.
func EstimateHistoryTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(m)
	}
	return total
}

// PruneToolResponses drops Tool messages (and Assistant messages that carry
// only tool_calls whose responses were dropped) once they fall more than
// preserveRecentTurns messages from the end of history. It never touches
// the last preserveRecentTurns messages. Returns the pruned slice and the
// count of messages removed.
func PruneToolResponses(messages []*models.Message, preserveRecentTurns int) ([]*models.Message, int) {
	if len(messages) == 0 {
		return messages, 0
	}
	cutoff := len(messages) - preserveRecentTurns
	if cutoff <= 0 {
		return messages, 0
	}

	droppedCallIDs := make(map[string]bool)
	keep := make([]bool, len(messages))
	for i := range messages {
		keep[i] = true
	}

	for i := 0; i < cutoff; i++ {
		msg := messages[i]
		if msg == nil {
			continue
		}
		if msg.Role == models.RoleTool && len(msg.ToolResults) > 0 {
			keep[i] = false
			continue
		}
		if msg.Role == models.RoleAssistant && msg.Content == "" && len(msg.ToolCalls) > 0 {
			// An assistant message that only issued tool calls; drop it once
			// we know (from the forward pass below) that all of its calls'
			// responses were themselves dropped.
			for _, tc := range msg.ToolCalls {
				droppedCallIDs[tc.ID] = true
			}
		}
	}

	// Second pass: an assistant-with-only-tool-calls message is dropped only
	// if every one of its tool_calls had a matching dropped Tool response
	// (or no response at all within the pruned window); never drop it if any
	// call is still answered by a message we're keeping.
	answeredCallIDs := make(map[string]bool)
	for i := cutoff; i < len(messages); i++ {
		msg := messages[i]
		if msg == nil {
			continue
		}
		for _, tr := range msg.ToolResults {
			answeredCallIDs[tr.ToolCallID] = true
		}
	}

	removed := 0
	var out []*models.Message
	for i, msg := range messages {
		if !keep[i] {
			removed++
			continue
		}
		if i < cutoff && msg != nil && msg.Role == models.RoleAssistant && msg.Content == "" && len(msg.ToolCalls) > 0 {
			allDropped := true
			for _, tc := range msg.ToolCalls {
				if answeredCallIDs[tc.ID] {
					allDropped = false
					break
				}
			}
			if allDropped {
				removed++
				continue
			}
		}
		out = append(out, msg)
	}
	return out, removed
}

// EnforceWindow drops messages from the oldest end until the history's
// estimated token total is at or below target = max * trimToPercent / 100,
// without ever leaving fewer than preserveRecentTurns messages (or a single
// message, whichever floor is higher) in the returned history. Orphaned
// tool_call/tool_response pairs created by a drop are removed together so
// no response ever survives without its call.
func EnforceWindow(messages []*models.Message, budget TrimBudget) ([]*models.Message, int) {
	if len(messages) == 0 || budget.MaxTokens <= 0 {
		return messages, 0
	}

	total := int64(EstimateHistoryTokens(messages))
	max := int64(budget.MaxTokens)
	if total <= max {
		return messages, 0
	}

	percent := int64(budget.TrimToPercent)
	if percent <= 0 || percent > 100 {
		percent = 100
	}
	target := max * percent / 100

	floor := budget.PreserveRecentTurns
	if floor < 1 {
		floor = 1
	}

	out := append([]*models.Message(nil), messages...)

	// Drop from the oldest end while we're both over target and still above
	// the preserve-recent floor. Once the floor is reached, stop even if
	// target hasn't been hit yet — EnforceWindow trades window size for a
	// guaranteed minimum of recent context, it doesn't guarantee the target.
	for total > target && len(out) > floor && len(out) > 1 {
		dropped := out[0]
		total -= int64(EstimateMessageTokens(dropped))
		out = out[1:]
	}

	out = repairOrphanedToolPairs(out)
	removed := len(messages) - len(out)
	return out, removed
}

// AggressiveTrim keeps only the last AggressivePreserveRecentTurns messages.
// Used on retry after a provider reports context overflow.
func AggressiveTrim(messages []*models.Message) ([]*models.Message, int) {
	if len(messages) <= AggressivePreserveRecentTurns {
		return messages, 0
	}
	cut := len(messages) - AggressivePreserveRecentTurns
	out := append([]*models.Message(nil), messages[cut:]...)
	out = repairOrphanedToolPairs(out)
	return out, len(messages) - len(out)
}

// repairOrphanedToolPairs drops any Tool message whose originating
// Assistant-with-tool_calls message is no longer present, and any
// Assistant-with-only-tool-calls message none of whose calls have a
// surviving response. Order of the remaining messages is preserved.
func repairOrphanedToolPairs(messages []*models.Message) []*models.Message {
	if len(messages) == 0 {
		return messages
	}

	knownCallIDs := make(map[string]bool)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, tc := range msg.ToolCalls {
			knownCallIDs[tc.ID] = true
		}
	}

	answered := make(map[string]bool)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, tr := range msg.ToolResults {
			if knownCallIDs[tr.ToolCallID] {
				answered[tr.ToolCallID] = true
			}
		}
	}

	out := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.Role == models.RoleTool {
			keepAny := false
			for _, tr := range msg.ToolResults {
				if knownCallIDs[tr.ToolCallID] {
					keepAny = true
					break
				}
			}
			if msg.ToolCallID != "" && knownCallIDs[msg.ToolCallID] {
				keepAny = true
			}
			if !keepAny {
				continue
			}
		}
		if msg.Role == models.RoleAssistant && msg.Content == "" && len(msg.ToolCalls) > 0 {
			anyAnswered := false
			for _, tc := range msg.ToolCalls {
				if answered[tc.ID] {
					anyAnswered = true
					break
				}
			}
			if !anyAnswered {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}

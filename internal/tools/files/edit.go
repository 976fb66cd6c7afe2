package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// EditTool implements edit_file: a single find/replace or line-range edit
// applied to one file in the workspace. Multi-edit batches belong to
// apply_patch; this tool stays deliberately narrow so a model can reason
// about exactly one change at a time.
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit_file tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *EditTool) Name() string {
	return "edit_file"
}

// Description returns the tool description.
func (t *EditTool) Description() string {
	return "Apply a single find/replace or line-range edit to a file in the workspace."
}

// Schema returns the JSON schema for the tool parameters.
func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to workspace).",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace. Mutually exclusive with start_line/end_line.",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace all occurrences of old_text (default: false, replaces the first).",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed first line of a line-range edit. Mutually exclusive with old_text.",
				"minimum":     1,
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed last line (inclusive) of a line-range edit.",
				"minimum":     1,
			},
		},
		"required": []string{"path", "new_text"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute applies the edit to the file.
func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path       string `json:"path"`
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
		StartLine  int    `json:"start_line"`
		EndLine    int    `json:"end_line"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	usesFindReplace := input.OldText != ""
	usesLineRange := input.StartLine > 0 || input.EndLine > 0
	if usesFindReplace && usesLineRange {
		return toolError("old_text and start_line/end_line are mutually exclusive"), nil
	}
	if !usesFindReplace && !usesLineRange {
		return toolError("one of old_text or start_line/end_line is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)

	var updated string
	replacements := 0

	if usesFindReplace {
		if !strings.Contains(content, input.OldText) {
			return toolError("old_text not found"), nil
		}
		if input.ReplaceAll {
			replacements = strings.Count(content, input.OldText)
			updated = strings.ReplaceAll(content, input.OldText, input.NewText)
		} else {
			replacements = 1
			updated = strings.Replace(content, input.OldText, input.NewText, 1)
		}
	} else {
		if input.EndLine == 0 {
			input.EndLine = input.StartLine
		}
		if input.StartLine > input.EndLine {
			return toolError("start_line must be <= end_line"), nil
		}
		hadTrailing := strings.HasSuffix(content, "\n")
		trimmed := strings.TrimSuffix(content, "\n")
		var lines []string
		if trimmed != "" {
			lines = strings.Split(trimmed, "\n")
		}
		if input.StartLine < 1 || input.EndLine > len(lines) {
			return toolError(fmt.Sprintf("line range %d-%d out of bounds (file has %d lines)", input.StartLine, input.EndLine, len(lines))), nil
		}
		replacement := strings.Split(input.NewText, "\n")
		if input.NewText == "" {
			replacement = nil
		}
		newLines := make([]string, 0, len(lines)-(input.EndLine-input.StartLine+1)+len(replacement))
		newLines = append(newLines, lines[:input.StartLine-1]...)
		newLines = append(newLines, replacement...)
		newLines = append(newLines, lines[input.EndLine:]...)
		updated = strings.Join(newLines, "\n")
		if hadTrailing && updated != "" {
			updated += "\n"
		}
		replacements = 1
	}

	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]interface{}{
		"path":           input.Path,
		"replacements":   replacements,
		"modified_files": []string{t.resolver.RelativeTo(resolved)},
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

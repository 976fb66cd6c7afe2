package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// WriteTool implements write_file: writes content to a file in the
// workspace, overwriting by default. Parent directories are only created
// when the caller explicitly sets create_parents, so a typo'd nested path
// fails loudly instead of silently creating new directory structure.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates a write_file tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *WriteTool) Name() string {
	return "write_file"
}

// Description returns the tool description.
func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace (overwrites by default)."
}

// Schema returns the JSON schema for the tool parameters.
func (t *WriteTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to write (relative to workspace).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File contents to write.",
			},
			"append": map[string]interface{}{
				"type":        "boolean",
				"description": "Append instead of overwrite (default: false).",
			},
			"create_parents": map[string]interface{}{
				"type":        "boolean",
				"description": "Create missing parent directories (default: false; otherwise a missing parent is an error).",
			},
		},
		"required": []string{"path", "content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute writes file contents.
func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path          string `json:"path"`
		Content       string `json:"content"`
		Append        bool   `json:"append"`
		CreateParents bool   `json:"create_parents"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	parent := filepath.Dir(resolved)
	if _, statErr := os.Stat(parent); statErr != nil {
		if !os.IsNotExist(statErr) {
			return toolError(fmt.Sprintf("stat parent directory: %v", statErr)), nil
		}
		if !input.CreateParents {
			return toolError(fmt.Sprintf("parent directory for %q does not exist (set create_parents to create it)", input.Path)), nil
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return toolError(fmt.Sprintf("create directory: %v", err)), nil
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]interface{}{
		"path":           input.Path,
		"bytes_written":  n,
		"append":         input.Append,
		"modified_files": []string{t.resolver.RelativeTo(resolved)},
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/haasonsaas/nexus/internal/agent"
)

// ListTool implements list_files: lists directory entries under a
// workspace-relative path, optionally recursive, bounded by a configured
// max-results count so a large tree can't blow out the context window.
type ListTool struct {
	resolver   Resolver
	maxResults int
}

// listEntry is one row of a list_files response.
type listEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// NewListTool creates a list_files tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	limit := cfg.MaxListResults
	if limit <= 0 {
		limit = 1000
	}
	return &ListTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxResults: limit,
	}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "list_files"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List directory entries in the workspace, optionally recursive."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (relative to workspace; default: workspace root).",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Recurse into subdirectories (default: false).",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum entries to return (capped by tool default).",
				"minimum":     0,
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute lists directory entries.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path       string `json:"path"`
		Recursive  bool   `json:"recursive"`
		MaxResults int    `json:"max_results"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("stat directory: %v", err)), nil
	}
	if !info.IsDir() {
		return toolError(fmt.Sprintf("%q is not a directory", input.Path)), nil
	}

	limit := t.maxResults
	if input.MaxResults > 0 && input.MaxResults < limit {
		limit = input.MaxResults
	}

	var entries []listEntry
	truncated := false

	if input.Recursive {
		err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == resolved {
				return nil
			}
			if len(entries) >= limit {
				truncated = true
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			fi, statErr := d.Info()
			var size int64
			if statErr == nil {
				size = fi.Size()
			}
			entries = append(entries, listEntry{
				Path:  t.resolver.RelativeTo(p),
				IsDir: d.IsDir(),
				Size:  size,
			})
			return nil
		})
		if err != nil {
			return toolError(fmt.Sprintf("walk directory: %v", err)), nil
		}
	} else {
		dirEntries, err := os.ReadDir(resolved)
		if err != nil {
			return toolError(fmt.Sprintf("read directory: %v", err)), nil
		}
		sort.Slice(dirEntries, func(i, j int) bool {
			return dirEntries[i].Name() < dirEntries[j].Name()
		})
		for _, d := range dirEntries {
			if len(entries) >= limit {
				truncated = true
				break
			}
			fi, statErr := d.Info()
			var size int64
			if statErr == nil {
				size = fi.Size()
			}
			entries = append(entries, listEntry{
				Path:  t.resolver.RelativeTo(filepath.Join(resolved, d.Name())),
				IsDir: d.IsDir(),
				Size:  size,
			})
		}
	}

	result := map[string]interface{}{
		"path":      input.Path,
		"entries":   entries,
		"truncated": truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

// Package policy implements the tool policy engine: a persistent, per-tool
// allow/prompt/deny decision store with interactive confirmation for the
// prompt case.
package policy

import (
	"fmt"
)

// Decision is the three-state policy value for a single tool.
type Decision string

const (
	Allow  Decision = "allow"
	Prompt Decision = "prompt"
	Deny   Decision = "deny"
)

func (d Decision) valid() bool {
	switch d {
	case Allow, Prompt, Deny:
		return true
	default:
		return false
	}
}

// autoAllowTools are read-only or otherwise low-risk tools that default to
// Allow instead of Prompt the first time they're seen.
var autoAllowTools = map[string]bool{
	"read_file":  true,
	"list_files": true,
}

// Constraints holds optional per-tool limits enforced by the Tool Registry
// before tool-specific logic runs.
type Constraints struct {
	MaxBytesPerRead    int      `json:"max_bytes_per_read,omitempty" yaml:"max_bytes_per_read,omitempty"`
	MaxItemsPerCall    int      `json:"max_items_per_call,omitempty" yaml:"max_items_per_call,omitempty"`
	AllowedModes       []string `json:"allowed_modes,omitempty" yaml:"allowed_modes,omitempty"`
	DefaultResponseFmt string   `json:"default_response_format,omitempty" yaml:"default_response_format,omitempty"`

	// DenySubstrings is preserved opaquely from a legacy policy file's
	// args_policy.deny_substrings field. It is round-tripped on save but
	// never enforced: its target argument field is undocumented upstream,
	// so guessing which argument to check against it would silently change
	// tool behavior. See ToolPolicyRecord in the store's schema notes.
	DenySubstrings []string `json:"deny_substrings,omitempty" yaml:"deny_substrings,omitempty"`
}

// ToolPolicyRecord is the persistent per-tool policy entry.
type ToolPolicyRecord struct {
	Decision    Decision     `json:"decision" yaml:"decision"`
	Constraints *Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// DeniedError is returned when a tool invocation is blocked by policy. It is
// non-fatal: the run-loop appends it to history as a tool response rather
// than aborting the turn.
type DeniedError struct {
	ToolName string
	Reason   string
}

func (e *DeniedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tool %q denied by policy: %s", e.ToolName, e.Reason)
	}
	return fmt.Sprintf("tool %q denied by policy", e.ToolName)
}

package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is the on-disk schema version written by this store.
const CurrentSchemaVersion = 2

// fileSchema is the current on-disk representation.
type fileSchema struct {
	Version     int                         `yaml:"version"`
	Policies    map[string]ToolPolicyRecord `yaml:"policies"`
	Constraints map[string]*Constraints     `yaml:"constraints,omitempty"`
}

// legacySchema is the alternative shape accepted at load time and
// transparently converted: `default.*` plus per-tool allow/fs_write/network/
// args_policy fields.
type legacySchema struct {
	Default struct {
		Allow bool `yaml:"allow"`
	} `yaml:"default"`
	Tools map[string]legacyToolEntry `yaml:"tools"`
}

type legacyToolEntry struct {
	Allow      bool `yaml:"allow"`
	FSWrite    bool `yaml:"fs_write"`
	Network    bool `yaml:"network"`
	ArgsPolicy struct {
		DenySubstrings []string `yaml:"deny_substrings"`
	} `yaml:"args_policy"`
}

// Store is the persistent, thread-safe policy record store.
type Store struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	policies map[string]ToolPolicyRecord
}

// NewStore creates a Store backed by the file at path. The file is not read
// until Load is called.
func NewStore(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: path, log: log, policies: make(map[string]ToolPolicyRecord)}
}

// Load reads the policy file, converting a legacy schema if present.
// Unknown or corrupt files are backed up to "<path>.bak" and reset to
// an empty default store rather than aborting the agent.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.policies = make(map[string]ToolPolicyRecord)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", s.path, err)
	}

	var fs fileSchema
	if err := yaml.Unmarshal(data, &fs); err == nil && fs.Version > 0 {
		s.mu.Lock()
		s.policies = fs.Policies
		if s.policies == nil {
			s.policies = make(map[string]ToolPolicyRecord)
		}
		for name, c := range fs.Constraints {
			if rec, ok := s.policies[name]; ok {
				rec.Constraints = c
				s.policies[name] = rec
			}
		}
		s.mu.Unlock()
		return nil
	}

	var legacy legacySchema
	if err := yaml.Unmarshal(data, &legacy); err == nil && len(legacy.Tools) > 0 {
		converted := make(map[string]ToolPolicyRecord, len(legacy.Tools))
		for name, entry := range legacy.Tools {
			dec := Deny
			if entry.Allow {
				dec = Allow
			}
			var constraints *Constraints
			if len(entry.ArgsPolicy.DenySubstrings) > 0 {
				constraints = &Constraints{DenySubstrings: entry.ArgsPolicy.DenySubstrings}
			}
			converted[name] = ToolPolicyRecord{Decision: dec, Constraints: constraints}
		}
		s.mu.Lock()
		s.policies = converted
		s.mu.Unlock()
		s.log.Warn("policy: converted legacy policy schema", "path", s.path, "tools", len(converted))
		return s.Save()
	}

	backupPath := s.path + ".bak"
	if werr := os.WriteFile(backupPath, data, 0o600); werr != nil {
		s.log.Warn("policy: failed to back up corrupt policy file", "path", s.path, "error", werr)
	} else {
		s.log.Warn("policy: corrupt or unrecognized policy file backed up, resetting to defaults", "backup", backupPath)
	}
	s.mu.Lock()
	s.policies = make(map[string]ToolPolicyRecord)
	s.mu.Unlock()
	return nil
}

// Save persists the current policy set to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	fs := fileSchema{Version: CurrentSchemaVersion, Policies: s.policies}
	s.mu.RUnlock()

	data, err := yaml.Marshal(fs)
	if err != nil {
		return fmt.Errorf("policy: marshal: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("policy: mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Get returns the stored record for a tool, or ok=false if none exists.
func (s *Store) Get(tool string) (ToolPolicyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.policies[tool]
	return rec, ok
}

// Set stores a record for a tool. The caller must call Save to persist.
func (s *Store) Set(tool string, rec ToolPolicyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[tool] = rec
}

// Reconcile ensures every tool in knownTools has a stored record: new tools
// default to Prompt, except the small auto-allow set (read-only tools),
// which default to Allow. Tools no longer present in knownTools are pruned.
func (s *Store) Reconcile(knownTools []string) (added, removed int) {
	known := make(map[string]bool, len(knownTools))
	for _, name := range knownTools {
		known[name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range known {
		if _, ok := s.policies[name]; !ok {
			dec := Prompt
			if autoAllowTools[name] {
				dec = Allow
			}
			s.policies[name] = ToolPolicyRecord{Decision: dec}
			added++
		}
	}
	for name := range s.policies {
		if !known[name] {
			delete(s.policies, name)
			removed++
		}
	}
	return added, removed
}

// All returns a snapshot copy of every stored policy record.
func (s *Store) All() map[string]ToolPolicyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ToolPolicyRecord, len(s.policies))
	for k, v := range s.policies {
		out[k] = v
	}
	return out
}

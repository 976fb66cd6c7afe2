// Package config loads and hot-reloads the on-disk runtime configuration:
// provider credentials, the router's per-task-class budget table, the
// context window policy, and decision-ledger settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// contextTokenLimitEnvVar overrides Context.MaxContextTokens when set,
// taking precedence over both the file value and the compiled default.
const contextTokenLimitEnvVar = "VTAGENT_CONTEXT_TOKEN_LIMIT"

// ProviderConfig holds the credentials and defaults for one LLM provider
// adapter (anthropic, openai, google, bedrock).
type ProviderConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url,omitempty"`
	DefaultModel    string `yaml:"default_model,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	MaxRetries      int    `yaml:"max_retries,omitempty"`
}

// ContextPolicy mirrors internal/agent/context.TrimBudget on disk.
type ContextPolicy struct {
	MaxContextTokens    int `yaml:"max_context_tokens"`
	TrimToPercent       int `yaml:"trim_to_percent"`
	PreserveRecentTurns int `yaml:"preserve_recent_turns"`
}

// LedgerPolicy mirrors internal/agent/ledger.Config on disk, plus the
// prompt-inclusion flag the ledger brief uses.
type LedgerPolicy struct {
	Enabled         bool `yaml:"enabled"`
	MaxEntries      int  `yaml:"max_entries"`
	IncludeInPrompt bool `yaml:"include_in_prompt"`
}

// RefinerPolicy governs whether the Run-Loop rewrites the raw user prompt
// through a cheap model before starting a turn, and which provider/model to
// use for that rewrite (empty Provider falls back to the default provider).
type RefinerPolicy struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// ClassBudget mirrors internal/agent/routing.ClassBudget on disk. Kept as a
// plain struct (not routing.ClassBudget) so this package never imports
// internal/agent/routing; callers convert at the wiring point.
type ClassBudget struct {
	Model            string `yaml:"model,omitempty"`
	MaxTokens        int    `yaml:"max_tokens,omitempty"`
	MaxParallelTools int    `yaml:"max_parallel_tools,omitempty"`
}

// Config is the full on-disk runtime configuration.
type Config struct {
	Workspace         string                    `yaml:"workspace,omitempty"`
	PolicyPath        string                    `yaml:"policy_path,omitempty"`
	TapePath          string                    `yaml:"tape_path,omitempty"`
	SkipConfirmations bool                      `yaml:"skip_confirmations,omitempty"`
	DefaultProvider   string                    `yaml:"default_provider,omitempty"`
	Providers         map[string]ProviderConfig `yaml:"providers,omitempty"`
	Context           ContextPolicy             `yaml:"context"`
	Ledger            LedgerPolicy              `yaml:"ledger"`
	RouterBudgets     map[string]ClassBudget    `yaml:"router_budgets,omitempty"`

	// SessionsDSN, when set, points session persistence at a CockroachDB
	// connection string instead of the default in-process memory store.
	SessionsDSN string `yaml:"sessions_dsn,omitempty"`

	// Refiner governs the optional prompt-refinement pass.
	Refiner RefinerPolicy `yaml:"refiner"`

	// MetricsAddr, when set, starts a Prometheus /metrics HTTP listener on
	// this address (e.g. "127.0.0.1:9090"). Empty disables metrics
	// collection entirely rather than collecting into an unserved registry.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns the compiled-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Workspace: ".",
		Context: ContextPolicy{
			MaxContextTokens:    180_000,
			TrimToPercent:       70,
			PreserveRecentTurns: 6,
		},
		Ledger: LedgerPolicy{Enabled: true, MaxEntries: 12, IncludeInPrompt: true},
	}
}

// Load reads path, falling back to Default() when it does not exist.
// VTAGENT_CONTEXT_TOKEN_LIMIT, when set, always overrides the resulting
// Context.MaxContextTokens regardless of the file's value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if raw := os.Getenv(contextTokenLimitEnvVar); raw != "" {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && n > 0 {
			cfg.Context.MaxContextTokens = n
		}
	}
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	return cfg, nil
}

// Watcher reloads a Config from disk whenever the backing file changes and
// invokes onChange with the freshly parsed value. It is the same
// fsnotify-based pattern the policy store's callers use for live reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewWatcher starts watching path's parent directory (fsnotify cannot watch
// a not-yet-existing file directly, and editors commonly replace files via
// rename-into-place) and calls onChange after each write or create event
// that resolves to path.
func NewWatcher(path string, onChange func(*Config), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}
	w := &Watcher{path: path, watcher: fw, onChange: onChange, log: log}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	abs, _ := filepath.Abs(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventAbs, _ := filepath.Abs(event.Name)
			if eventAbs != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config: reload failed, keeping previous configuration", "path", w.path, "error", err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}

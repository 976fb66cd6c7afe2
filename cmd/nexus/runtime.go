package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/ledger"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/agent/refine"
	"github.com/haasonsaas/nexus/internal/agent/routing"
	"github.com/haasonsaas/nexus/internal/config"
	ctxwindow "github.com/haasonsaas/nexus/internal/context"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tools/files"
	"github.com/haasonsaas/nexus/internal/tools/policy"
)

// buildProviders wires up every provider with a configured or env-supplied
// API key. Providers without credentials are skipped rather than failing the
// whole run: a workspace that only has an OpenAI key should still work.
func buildProviders(cfg *config.Config) (map[string]agent.LLMProvider, error) {
	out := make(map[string]agent.LLMProvider)

	if pc, ok := providerConfig(cfg, "anthropic", "ANTHROPIC_API_KEY"); ok {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			DefaultModel: pc.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		out["anthropic"] = p
	}

	if pc, ok := providerConfig(cfg, "openai", "OPENAI_API_KEY"); ok {
		out["openai"] = providers.NewOpenAIProvider(pc.APIKey)
	}

	if pc, ok := providerConfig(cfg, "google", "GOOGLE_API_KEY"); ok {
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       pc.APIKey,
			MaxRetries:   pc.MaxRetries,
			DefaultModel: pc.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		out["google"] = p
	}

	if pc, ok := cfg.Providers["bedrock"]; ok {
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:          pc.Region,
			AccessKeyID:     pc.AccessKeyID,
			SecretAccessKey: pc.SecretAccessKey,
			DefaultModel:    pc.DefaultModel,
			MaxRetries:      pc.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		out["bedrock"] = p
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no provider has credentials configured; set one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY or configure providers in %s", resolveConfigPath())
	}
	return out, nil
}

// providerConfig merges the config file entry for name with the given
// environment variable, env taking precedence over the file's api_key.
func providerConfig(cfg *config.Config, name, envVar string) (config.ProviderConfig, bool) {
	pc := cfg.Providers[name]
	if v := os.Getenv(envVar); v != "" {
		pc.APIKey = v
	}
	if pc.APIKey == "" {
		return pc, false
	}
	return pc, true
}

// buildToolRegistry registers the filesystem tool set, workspace-rooted
// at cfg.Workspace. metrics may be nil, in which case tools silently skip
// recording.
func buildToolRegistry(cfg *config.Config, metrics *observability.Metrics) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	fcfg := files.Config{Workspace: cfg.Workspace, MaxReadBytes: 1 << 20, MaxListResults: 2000, Metrics: metrics}
	registry.Register(files.NewReadTool(fcfg))
	registry.Register(files.NewWriteTool(fcfg))
	registry.Register(files.NewEditTool(fcfg))
	registry.Register(files.NewListTool(fcfg))
	registry.Register(files.NewApplyPatchTool(fcfg))
	return registry
}

// buildPolicyEngine loads (and reconciles against the live tool set) the
// policy store at cfg.PolicyPath.
func buildPolicyEngine(cfg *config.Config, registry *agent.ToolRegistry) (*policy.Engine, error) {
	path := cfg.PolicyPath
	if path == "" {
		path = "nexus-policy.yaml"
	}
	store := policy.NewStore(path, slog.Default())
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load policy store: %w", err)
	}
	engine := policy.NewEngine(store, nil)
	if err := engine.ReconcileAndSave(registry.Names()); err != nil {
		return nil, fmt.Errorf("reconcile policy store: %w", err)
	}
	return engine, nil
}

// buildTaskRouter assembles a primary routing.Router over the configured
// providers plus a routing.TaskRouter that layers the class-budget table on
// top of it.
// buildRouter returns the *routing.Router, which itself implements
// agent.LLMProvider by selecting among llmProviders per request.
func buildRouter(cfg *config.Config, llmProviders map[string]agent.LLMProvider) *routing.Router {
	defaultProvider := cfg.DefaultProvider
	if defaultProvider == "" {
		for name := range llmProviders {
			defaultProvider = name
			break
		}
	}
	return routing.NewRouter(routing.Config{DefaultProvider: defaultProvider}, llmProviders)
}

// buildTaskRouter layers the task-class budget table on top of router.
func buildTaskRouter(cfg *config.Config, router *routing.Router) *routing.TaskRouter {
	budgets := make(map[routing.TaskClass]routing.ClassBudget, len(cfg.RouterBudgets))
	for class, b := range cfg.RouterBudgets {
		budgets[routing.TaskClass(class)] = routing.ClassBudget{
			Model: b.Model, MaxTokens: b.MaxTokens, MaxParallelTools: b.MaxParallelTools,
		}
	}
	if len(budgets) == 0 {
		budgets = routing.DefaultClassBudgets()
	}
	return routing.NewTaskRouter(router, routing.TaskRouterConfig{Budgets: budgets})
}

// buildLoopConfig converts the on-disk context/ledger policy into a
// *agent.LoopConfig.
func buildLoopConfig(cfg *config.Config, skipConfirmations bool) *agent.LoopConfig {
	lc := agent.DefaultLoopConfig()
	lc.SkipConfirmations = skipConfirmations
	lc.Window = context.TrimBudget{
		MaxTokens:           resolveContextWindow(cfg),
		TrimToPercent:       cfg.Context.TrimToPercent,
		PreserveRecentTurns: cfg.Context.PreserveRecentTurns,
	}
	if lc.Window.TrimToPercent <= 0 {
		lc.Window.TrimToPercent = agent.DefaultLoopConfig().Window.TrimToPercent
	}
	if lc.Window.PreserveRecentTurns <= 0 {
		lc.Window.PreserveRecentTurns = agent.DefaultLoopConfig().Window.PreserveRecentTurns
	}
	return lc
}

// resolveContextWindow picks the effective max-context-tokens budget: the
// configured value if set, otherwise the default provider's configured
// model's known window size, otherwise a conservative global default.
func resolveContextWindow(cfg *config.Config) int {
	if cfg.Context.MaxContextTokens > 0 {
		return cfg.Context.MaxContextTokens
	}
	if pc, ok := cfg.Providers[cfg.DefaultProvider]; ok && pc.DefaultModel != "" {
		if tokens, ok := ctxwindow.GetModelContextWindow(pc.DefaultModel); ok {
			return tokens
		}
	}
	return ctxwindow.DefaultContextWindow
}

// buildLedger constructs the decision ledger from the on-disk policy.
func buildLedger(cfg *config.Config) *ledger.Ledger {
	return ledger.New(ledger.Config{Enabled: cfg.Ledger.Enabled, MaxEntries: cfg.Ledger.MaxEntries})
}

// buildRefiner constructs the optional prompt-refiner, preferring the
// configured refiner provider and falling back to whichever provider this
// run already has credentials for.
func buildRefiner(cfg *config.Config, llmProviders map[string]agent.LLMProvider) *refine.Refiner {
	provider := llmProviders[cfg.Refiner.Provider]
	if provider == nil {
		provider = llmProviders[cfg.DefaultProvider]
	}
	if provider == nil {
		for _, p := range llmProviders {
			provider = p
			break
		}
	}
	return refine.New(provider, cfg.Refiner.Model, cfg.Refiner.Enabled)
}

// buildMetrics returns a fresh Prometheus metrics set when cfg.MetricsAddr is
// configured, so a bare workspace doesn't pay for registry bookkeeping it
// never serves. nil is a valid, fully-functional Metrics for every recorder.
func buildMetrics(cfg *config.Config) *observability.Metrics {
	if cfg.MetricsAddr == "" {
		return nil
	}
	return observability.NewMetrics()
}

// serveMetrics starts a background HTTP listener exposing /metrics in
// Prometheus text format, returning a stop func the caller should defer.
// metrics is accepted (rather than relying solely on the default
// registerer) so a future caller could serve a scoped registry instead.
func serveMetrics(addr string, metrics *observability.Metrics) (stop func(), err error) {
	_ = metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)

	return func() {
		_ = server.Close()
	}, nil
}

// buildSessionStore opens CockroachDB-backed persistence when cfg.SessionsDSN
// is set, otherwise falls back to an in-process memory store so a bare
// workspace with no database still has session history within one run.
func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.SessionsDSN == "" {
		return sessions.NewMemoryStore(), nil
	}
	store, err := sessions.NewCockroachStoreFromDSN(cfg.SessionsDSN, nil)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return store, nil
}

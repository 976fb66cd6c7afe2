package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and outcomes through the run-loop
//   - LLM request performance and response times across provider adapters
//   - Tool execution patterns and latencies
//   - Tool policy decisions (allow/prompt/deny)
//   - Router model selection by task class
//   - Patch Applicator outcomes
//   - Error rates categorized by type and component
//   - Active session counts for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TurnStarted("anthropic")
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter tracks completed turns by provider and outcome.
	// Labels: provider, outcome (completed|error|denied|loop_cap)
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|google|bedrock), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (provider|router|tool|session|patch), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	// Labels: surface (the ChannelType a session is bound to)
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures session lifetime in seconds.
	// Labels: surface
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration *prometheus.HistogramVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// PolicyDecisionCounter counts tool policy engine decisions.
	// Labels: tool_name, decision (allow|prompt|deny)
	PolicyDecisionCounter *prometheus.CounterVec

	// ToolLoopDepth tracks the current tool-call iteration within a turn's
	// run-loop, so the max_tool_loops cap can be observed approaching.
	// Labels: provider
	ToolLoopDepth *prometheus.GaugeVec

	// RouterDecisionCounter counts model selections made by the router.
	// Labels: task_class (simple|standard|complex|...), selected_model
	RouterDecisionCounter *prometheus.CounterVec

	// PatchApplyCounter counts patch-apply operations by outcome.
	// Labels: outcome (applied|conflict|error)
	PatchApplyCounter *prometheus.CounterVec

	// PatchApplyDuration measures patch-apply latency in seconds.
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s
	PatchApplyDuration *prometheus.HistogramVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec

	// TapeOperationCounter counts tape recorder/replayer operations.
	// Labels: operation (record|replay), status (success|error)
	TapeOperationCounter *prometheus.CounterVec

	// TapeOperationDuration measures tape record/replay latency in seconds.
	// Labels: operation
	TapeOperationDuration *prometheus.HistogramVec

	// SessionStuck counts sessions stuck in processing (no turn progress
	// within the expected window).
	// Labels: surface
	SessionStuck *prometheus.CounterVec

	// RunAttempts counts run attempts (for retry tracking).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_turns_total",
				Help: "Total number of run-loop turns by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_active_sessions",
				Help: "Current number of active sessions by surface",
			},
			[]string{"surface"},
		),

		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
			[]string{"surface"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		PolicyDecisionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_policy_decisions_total",
				Help: "Total number of tool policy engine decisions by tool and decision",
			},
			[]string{"tool_name", "decision"},
		),

		ToolLoopDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_tool_loop_depth",
				Help: "Current tool-call iteration depth within a turn's run-loop",
			},
			[]string{"provider"},
		),

		RouterDecisionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_router_decisions_total",
				Help: "Total number of router model selections by task class and selected model",
			},
			[]string{"task_class", "selected_model"},
		),

		PatchApplyCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_patch_apply_total",
				Help: "Total number of patch-apply operations by outcome",
			},
			[]string{"outcome"},
		),

		PatchApplyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_patch_apply_duration_seconds",
				Help:    "Duration of patch-apply operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"outcome"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_context_window_tokens",
				Help:    "Context window tokens used",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		TapeOperationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_tape_operations_total",
				Help: "Total number of tape recorder/replayer operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		TapeOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_tape_operation_duration_seconds",
				Help:    "Duration of tape record/replay operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		SessionStuck: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_session_stuck_total",
				Help: "Number of sessions stuck in processing",
			},
			[]string{"surface"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RecordTurn increments the turn counter for a given provider and outcome.
// Turns are only counted on completion, since their outcome isn't known
// until the run-loop finishes.
//
// Example:
//
//	metrics.RecordTurn("anthropic", "completed")
//	metrics.RecordTurn("anthropic", "denied")
func (m *Metrics) RecordTurn(provider, outcome string) {
	m.TurnCounter.WithLabelValues(provider, outcome).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("apply_patch", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("provider", "rate_limit")
//	metrics.RecordError("router", "no_model_for_class")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
//
// Example:
//
//	metrics.SessionStarted("api")
func (m *Metrics) SessionStarted(surface string) {
	m.ActiveSessions.WithLabelValues(surface).Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
//
// Example:
//
//	start := time.Now()
//	// ... session lifecycle ...
//	metrics.SessionEnded("api", time.Since(start).Seconds())
func (m *Metrics) SessionEnded(surface string, durationSeconds float64) {
	m.ActiveSessions.WithLabelValues(surface).Dec()
	m.SessionDuration.WithLabelValues(surface).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "sessions", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordPolicyDecision records a tool policy engine decision.
//
// Example:
//
//	metrics.RecordPolicyDecision("shell_exec", "prompt")
//	metrics.RecordPolicyDecision("read_file", "allow")
func (m *Metrics) RecordPolicyDecision(toolName, decision string) {
	m.PolicyDecisionCounter.WithLabelValues(toolName, decision).Inc()
}

// SetToolLoopDepth records the current tool-call iteration within a turn.
//
// Example:
//
//	metrics.SetToolLoopDepth("anthropic", 3)
func (m *Metrics) SetToolLoopDepth(provider string, depth int) {
	m.ToolLoopDepth.WithLabelValues(provider).Set(float64(depth))
}

// RecordRouterDecision records a router model selection for a task class.
//
// Example:
//
//	metrics.RecordRouterDecision("complex", "claude-3-opus")
func (m *Metrics) RecordRouterDecision(taskClass, selectedModel string) {
	m.RouterDecisionCounter.WithLabelValues(taskClass, selectedModel).Inc()
}

// RecordPatchApply records a patch-apply operation outcome and latency.
//
// Example:
//
//	start := time.Now()
//	// ... apply patch ...
//	metrics.RecordPatchApply("applied", time.Since(start).Seconds())
func (m *Metrics) RecordPatchApply(outcome string, durationSeconds float64) {
	m.PatchApplyCounter.WithLabelValues(outcome).Inc()
	m.PatchApplyDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordLLMCost records estimated API cost.
//
// Example:
//
//	metrics.RecordLLMCost("anthropic", "claude-3-opus", 0.015)
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
//
// Example:
//
//	metrics.RecordContextWindow("anthropic", "claude-3-opus", 45000)
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordTapeOperation records a tape recorder/replayer operation.
//
// Example:
//
//	start := time.Now()
//	// ... record or replay a turn ...
//	metrics.RecordTapeOperation("replay", "success", time.Since(start).Seconds())
func (m *Metrics) RecordTapeOperation(operation, status string, durationSeconds float64) {
	m.TapeOperationCounter.WithLabelValues(operation, status).Inc()
	m.TapeOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSessionStuck records a session detected as stuck.
//
// Example:
//
//	metrics.RecordSessionStuck("api")
func (m *Metrics) RecordSessionStuck(surface string) {
	m.SessionStuck.WithLabelValues(surface).Inc()
}

// RecordRunAttempt records a run attempt.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

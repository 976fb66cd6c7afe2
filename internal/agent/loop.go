package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	trimctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/ledger"
	"github.com/haasonsaas/nexus/internal/agent/routing"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// maxToolLoopsEnvVar lets an operator override the inner-loop bound without
// touching config; it always wins over LoopConfig.MaxToolLoops.
const maxToolLoopsEnvVar = "NEXUS_MAX_TOOL_LOOPS"

const defaultMaxToolLoops = 6

// writeEffectTools names the tools whose successful execution counts as a
// write to the workspace, for the turn-level "claimed a write but didn't
// make one" advisory check.
var writeEffectTools = map[string]bool{
	"write_file":  true,
	"edit_file":   true,
	"create_file": true,
	"delete_file": true,
	"apply_patch": true,
}

// fallbackToolCallPattern recognizes a textual tool-call convention for
// providers/models that didn't emit a native tool call: a <tool_call>...
// </tool_call> block wrapping a JSON object with "name" and "input" fields.
// This is the documented fallback format for this runtime; it has no
// relationship to any specific provider's own text conventions.
var fallbackToolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// contextOverflowPatterns are substrings (checked case-insensitively) known
// to appear in provider error text when a request exceeded the model's
// context window.
var contextOverflowPatterns = []string{
	"context_length_exceeded",
	"context length exceeded",
	"maximum context length",
	"prompt is too long",
	"input is too long",
	"too many tokens",
	"reduce the length of the messages",
}

// LoopConfig bounds a single run-loop turn.
type LoopConfig struct {
	// MaxToolLoops bounds the inner loop (model call -> tool execution ->
	// model call). Resolved via resolveMaxToolLoops: env var, then this
	// field, then defaultMaxToolLoops.
	MaxToolLoops int

	// MaxContextRetries bounds how many times a single model call may be
	// retried after a context-overflow error, each retry preceded by an
	// aggressive trim of working_history.
	MaxContextRetries int

	// EnableLedgerBrief includes the decision ledger's rendered brief in
	// the composed system prompt.
	EnableLedgerBrief bool

	// SkipConfirmations bypasses the diff-preview confirmation hook for
	// tool calls that report modified files.
	SkipConfirmations bool

	// Window bounds EnforceWindow/AggressiveTrim calls against
	// working_history during the inner loop.
	Window trimctx.TrimBudget
}

// DefaultLoopConfig returns conservative defaults: a six-iteration tool
// loop, two context-overflow retries, and a 180k-token window budget
// trimmed back to 70% on overflow.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxToolLoops:      defaultMaxToolLoops,
		MaxContextRetries: 2,
		EnableLedgerBrief: true,
		Window: trimctx.TrimBudget{
			MaxTokens:           180_000,
			TrimToPercent:       70,
			PreserveRecentTurns: 6,
		},
	}
}

func resolveMaxToolLoops(configured int) int {
	if raw := strings.TrimSpace(os.Getenv(maxToolLoopsEnvVar)); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	if configured > 0 {
		return configured
	}
	return defaultMaxToolLoops
}

// Refiner optionally rewrites raw user text before it enters the
// conversation. A nil Refiner on the Runtime skips this step.
type Refiner interface {
	Refine(ctx context.Context, text string) (string, error)
}

// SelfReviewer runs a single, bounded critique pass over a draft final
// answer before it is surfaced to the user.
type SelfReviewer interface {
	Review(ctx context.Context, draft string) (revised string, changed bool, err error)
}

// DiffConfirmer asks a human to confirm a set of file modifications before
// they are treated as final. Declining does not roll back the tool call
// (the filesystem tools already applied atomically); it only annotates the
// tool response so the model and user both see the change wasn't confirmed.
type DiffConfirmer interface {
	ConfirmChanges(ctx context.Context, toolName string, modifiedFiles []string, preview string) (approved bool, err error)
}

// RuntimeOptions configures a Runtime's optional collaborators. Provider
// and ToolRegistry are the only required pieces (passed directly to
// NewRuntime); everything here degrades gracefully when left zero.
type RuntimeOptions struct {
	PolicyEngine  *policy.Engine
	Ledger        *ledger.Ledger
	Router        *routing.TaskRouter
	Refiner       Refiner
	Reviewer      SelfReviewer
	Confirmer     DiffConfirmer
	Config        *LoopConfig
	DefaultModel  string
	DefaultSystem string
	Metrics       *observability.Metrics
}

// Runtime is the turn engine: it drives one user turn through the
// Routing -> BuildingRequest -> CallingModel -> InspectingResponse ->
// (ExecutingTools | Finalizing) state machine, bounded by MaxToolLoops.
type Runtime struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *ToolExecutor

	policyEngine *policy.Engine
	ledger       *ledger.Ledger
	router       *routing.TaskRouter
	refiner      Refiner
	reviewer     SelfReviewer
	confirmer    DiffConfirmer

	config        *LoopConfig
	defaultModel  string
	defaultSystem string
	metrics       *observability.Metrics
}

// NewRuntime constructs a Runtime. A nil opts.Ledger gets a disabled ledger
// (RecordDecision becomes a no-op) rather than a nil pointer, so callers
// never need to nil-check it.
func NewRuntime(provider LLMProvider, registry *ToolRegistry, opts RuntimeOptions) *Runtime {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultLoopConfig()
	}
	led := opts.Ledger
	if led == nil {
		led = ledger.New(ledger.Config{Enabled: false})
	}
	return &Runtime{
		provider:      provider,
		registry:      registry,
		executor:      NewToolExecutor(registry, DefaultToolExecConfig()),
		policyEngine:  opts.PolicyEngine,
		ledger:        led,
		router:        opts.Router,
		refiner:       opts.Refiner,
		reviewer:      opts.Reviewer,
		confirmer:     opts.Confirmer,
		config:        cfg,
		defaultModel:  opts.DefaultModel,
		defaultSystem: opts.DefaultSystem,
		metrics:       opts.Metrics,
	}
}

// SetDefaultModel overrides the model used when routing is unavailable or
// returns no selection.
func (rt *Runtime) SetDefaultModel(model string) { rt.defaultModel = model }

// SetDefaultSystem overrides the base system prompt.
func (rt *Runtime) SetDefaultSystem(system string) { rt.defaultSystem = system }

// TurnResult is what RunTurn returns: the committed conversation, the final
// assistant text, and bookkeeping about the turn.
type TurnResult struct {
	Messages  []*models.Message
	FinalText string
	ToolLoops int
	Advisory  string
}

// writeClaimPattern recognizes first-person claims of having written,
// edited, or deleted files, used only for the end-of-turn advisory check.
var writeClaimPattern = regexp.MustCompile(`(?i)\bI('ve| have)?\s+(updated|wrote|modified|edited|created|deleted|removed)\s+(the\s+)?file`)

// RunTurn drives one complete user turn to completion, returning the
// updated canonical conversation. history is never mutated in place; the
// returned Messages slice is the new canonical history.
func (rt *Runtime) RunTurn(ctx context.Context, history []*models.Message, userText string) (result *TurnResult, err error) {
	if rt.provider == nil {
		return nil, NewAgentError(KindProvider, ErrNoProvider)
	}
	if rt.metrics != nil {
		defer func() {
			outcome := "completed"
			if err != nil {
				outcome = "error"
			}
			rt.metrics.RecordTurn(rt.provider.Name(), outcome)
		}()
	}

	refined := userText
	if rt.refiner != nil {
		if r, err := rt.refiner.Refine(ctx, userText); err == nil && strings.TrimSpace(r) != "" {
			refined = r
		}
	}

	canonical := cloneMessages(history)
	canonical = append(canonical, newUserMessage(refined))
	canonical, _ = trimctx.PruneToolResponses(canonical, rt.windowFloor())
	canonical, _ = trimctx.EnforceWindow(canonical, rt.config.Window)

	workingHistory := cloneMessages(canonical)

	maxLoops := resolveMaxToolLoops(rt.config.MaxToolLoops)
	turnHadWriteEffect := false
	var finalText string
	var advisory string
	loopsRun := 0

	for loopsRun = 0; loopsRun < maxLoops; loopsRun++ {
		workingHistory, _ = trimctx.EnforceWindow(workingHistory, rt.config.Window)
		if rt.metrics != nil {
			rt.metrics.SetToolLoopDepth(rt.provider.Name(), loopsRun)
		}

		rt.ledger.StartTurn(len(workingHistory), refined)
		rt.ledger.UpdateAvailableTools(rt.registry.Names())

		decision := rt.decideForTurn(ctx, refined)
		system := rt.composeSystemPrompt()

		text, toolCalls, err := rt.callModel(ctx, &workingHistory, system, decision)
		if err != nil {
			return nil, err
		}

		if len(toolCalls) == 0 {
			if synthesized, remainder := parseFallbackToolCall(text); synthesized != nil {
				toolCalls = []models.ToolCall{*synthesized}
				text = remainder
			}
		}

		if len(toolCalls) == 0 {
			workingHistory = append(workingHistory, newAssistantTextMessage(text))
			finalText = text
			if rt.reviewer != nil {
				if revised, changed, err := rt.reviewer.Review(ctx, text); err == nil && changed {
					finalText = revised
				}
			}
			break
		}

		assistantMsg := newAssistantToolCallMessage(text, toolCalls)
		workingHistory = append(workingHistory, assistantMsg)

		results := rt.executeToolCallsSequentially(ctx, toolCalls, &turnHadWriteEffect)
		workingHistory = append(workingHistory, newToolResultsMessage(results))
	}

	if loopsRun >= maxLoops && finalText == "" {
		finalText = "reached the tool-call limit for this turn without a final answer; state has been preserved for the next turn"
	}

	canonical = workingHistory
	canonical, _ = trimctx.PruneToolResponses(canonical, rt.windowFloor())
	canonical, _ = trimctx.EnforceWindow(canonical, rt.config.Window)

	if !turnHadWriteEffect && writeClaimPattern.MatchString(finalText) {
		advisory = "the assistant's reply describes file changes, but no write-effect tool ran during this turn"
	}

	return &TurnResult{
		Messages:  canonical,
		FinalText: finalText,
		ToolLoops: loopsRun,
		Advisory:  advisory,
	}, nil
}

func (rt *Runtime) windowFloor() int {
	if rt.config.Window.PreserveRecentTurns > 0 {
		return rt.config.Window.PreserveRecentTurns
	}
	return trimctx.AggressivePreserveRecentTurns
}

func (rt *Runtime) decideForTurn(ctx context.Context, text string) routing.RouterDecision {
	if rt.router == nil {
		return routing.RouterDecision{SelectedModel: rt.defaultModel, MaxTokens: 4096, MaxParallelTools: 1}
	}
	decision := rt.router.Decide(ctx, text)
	if decision.SelectedModel == "" {
		decision.SelectedModel = rt.defaultModel
	}
	if rt.metrics != nil {
		rt.metrics.RecordRouterDecision(string(decision.Class), decision.SelectedModel)
	}
	return decision
}

func (rt *Runtime) composeSystemPrompt() string {
	system := rt.defaultSystem
	if !rt.config.EnableLedgerBrief {
		return system
	}
	brief := rt.ledger.RenderBrief(rt.ledger.MaxEntries())
	if brief == "" {
		return system
	}
	if system == "" {
		return brief
	}
	return system + "\n\n" + brief
}

// callModel builds the CompletionRequest from workingHistory and streams a
// response, retrying after a prune + aggressive trim if the provider
// reports a context-overflow error.
func (rt *Runtime) callModel(ctx context.Context, workingHistory *[]*models.Message, system string, decision routing.RouterDecision) (string, []models.ToolCall, error) {
	var lastErr error
	for attempt := 0; attempt <= rt.config.MaxContextRetries; attempt++ {
		req := &CompletionRequest{
			Model:              decision.SelectedModel,
			System:             system,
			Messages:           toCompletionMessages(*workingHistory),
			Tools:              toolDefinitionsFor(rt.registry),
			MaxTokens:          decision.MaxTokens,
			ToolChoice:         ToolChoice{Mode: ToolChoiceAuto},
			ParallelToolConfig: ParallelToolConfig{MaxParallel: maxInt(decision.MaxParallelTools, 1)},
		}

		chunks, err := rt.provider.Complete(ctx, req)
		if err != nil {
			lastErr = err
			if isContextOverflowError(err) && attempt < rt.config.MaxContextRetries {
				pruned, _ := trimctx.PruneToolResponses(*workingHistory, rt.windowFloor())
				trimmed, _ := trimctx.AggressiveTrim(pruned)
				*workingHistory = trimmed
				continue
			}
			return "", nil, NewAgentErrorFromCause(KindProvider, err)
		}

		text, toolCalls, streamErr := collectChunks(chunks)
		if streamErr != nil {
			lastErr = streamErr
			if isContextOverflowError(streamErr) && attempt < rt.config.MaxContextRetries {
				pruned, _ := trimctx.PruneToolResponses(*workingHistory, rt.windowFloor())
				trimmed, _ := trimctx.AggressiveTrim(pruned)
				*workingHistory = trimmed
				continue
			}
			return "", nil, NewAgentErrorFromCause(KindProvider, streamErr)
		}
		return text, toolCalls, nil
	}
	return "", nil, NewAgentError(KindContextOverflow, lastErr)
}

func collectChunks(chunks <-chan *CompletionChunk) (string, []models.ToolCall, error) {
	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}
	return text.String(), toolCalls, nil
}

// executeToolCallsSequentially runs each call in declared order (never
// concurrently: ordering and deterministic transcripts matter more than
// latency here), gating every call through policy and constraints before
// dispatch, and recording a ledger decision/outcome pair per call.
func (rt *Runtime) executeToolCallsSequentially(ctx context.Context, toolCalls []models.ToolCall, hadWriteEffect *bool) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(toolCalls))
	for _, tc := range toolCalls {
		preview := previewArgs(tc.Input)
		decisionID := rt.ledger.RecordDecision(fmt.Sprintf("call %s", tc.Name), preview)

		if rt.policyEngine != nil {
			if err := rt.policyEngine.Decide(ctx, tc.Name, preview); err != nil {
				if rt.metrics != nil {
					rt.metrics.RecordPolicyDecision(tc.Name, "denied")
				}
				rt.ledger.RecordOutcome(decisionID, ledger.OutcomeFailure)
				results = append(results, errorToolResult(tc.ID, err))
				continue
			}
			if rt.metrics != nil {
				rt.metrics.RecordPolicyDecision(tc.Name, "allowed")
			}
		}

		if violation := rt.enforceConstraints(tc.Name, tc.Input); violation != "" {
			rt.ledger.RecordOutcome(decisionID, ledger.OutcomeFailure)
			results = append(results, errorToolResult(tc.ID, fmt.Errorf("%s", violation)))
			continue
		}

		result, err := rt.executor.ExecuteSingle(ctx, tc.Name, tc.Input)
		if err != nil {
			rt.ledger.RecordOutcome(decisionID, ledger.OutcomeFailure)
			results = append(results, errorToolResult(tc.ID, err))
			continue
		}
		if result.IsError {
			rt.ledger.RecordOutcome(decisionID, ledger.OutcomeFailure)
			results = append(results, models.ToolResult{ToolCallID: tc.ID, Content: result.Content, IsError: true})
			continue
		}

		rt.ledger.RecordOutcome(decisionID, ledger.OutcomeSuccess)
		if writeEffectTools[tc.Name] {
			*hadWriteEffect = true
		}
		content := result.Content
		if files := extractModifiedFiles(content); len(files) > 0 && !rt.config.SkipConfirmations && rt.confirmer != nil {
			approved, cErr := rt.confirmer.ConfirmChanges(ctx, tc.Name, files, content)
			if cErr == nil && !approved {
				content += "\nnote: change was not confirmed by the user"
			}
		}
		results = append(results, models.ToolResult{ToolCallID: tc.ID, Content: content})
	}
	return results
}

// enforceConstraints applies a tool's stored policy Constraints generically
// over its JSON arguments. Field names (mode/limit/format) follow the
// conventions the filesystem tool set already uses for its own
// parameters; a constraint referencing a field a tool doesn't have is
// simply inert for that tool.
func (rt *Runtime) enforceConstraints(toolName string, rawArgs json.RawMessage) string {
	if rt.policyEngine == nil {
		return ""
	}
	constraints := rt.policyEngine.Constraints(toolName)
	if constraints == nil {
		return ""
	}
	var args map[string]any
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if len(constraints.AllowedModes) > 0 {
		if mode, ok := args["mode"].(string); ok && mode != "" {
			allowed := false
			for _, m := range constraints.AllowedModes {
				if m == mode {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Sprintf("mode %q is not in the allowed set for %s", mode, toolName)
			}
		}
	}
	if constraints.MaxBytesPerRead > 0 {
		if limit, ok := numericField(args, "max_bytes", "limit", "byte_limit"); ok && limit > float64(constraints.MaxBytesPerRead) {
			return fmt.Sprintf("requested read size exceeds the %d byte limit configured for %s", constraints.MaxBytesPerRead, toolName)
		}
	}
	if constraints.MaxItemsPerCall > 0 {
		if count, ok := numericField(args, "count", "max_items", "limit"); ok && count > float64(constraints.MaxItemsPerCall) {
			return fmt.Sprintf("requested item count exceeds the %d item limit configured for %s", constraints.MaxItemsPerCall, toolName)
		}
	}
	return ""
}

func numericField(args map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func errorToolResult(toolCallID string, err error) models.ToolResult {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		payload = []byte(`{"error":"tool execution failed"}`)
	}
	return models.ToolResult{ToolCallID: toolCallID, Content: string(payload), IsError: true}
}

func previewArgs(raw json.RawMessage) string {
	const maxPreview = 200
	s := string(raw)
	if len(s) > maxPreview {
		return s[:maxPreview] + "..."
	}
	return s
}

func isContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range contextOverflowPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// parseFallbackToolCall looks for the documented <tool_call>{...}</tool_call>
// textual convention and, if found, synthesizes a models.ToolCall from it.
// The matched block is stripped from the returned remainder text.
func parseFallbackToolCall(text string) (*models.ToolCall, string) {
	match := fallbackToolCallPattern.FindStringSubmatchIndex(text)
	if match == nil {
		return nil, text
	}
	jsonBlob := text[match[2]:match[3]]
	var parsed struct {
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal([]byte(jsonBlob), &parsed); err != nil || parsed.Name == "" {
		return nil, text
	}
	remainder := text[:match[0]] + text[match[1]:]
	return &models.ToolCall{ID: "fallback-" + uuid.NewString(), Name: parsed.Name, Input: parsed.Input}, strings.TrimSpace(remainder)
}

// extractModifiedFiles does a best-effort parse of a tool result's content
// looking for a top-level "modified_files" array, the convention this
// runtime's filesystem tools use to report what they changed.
func extractModifiedFiles(content string) []string {
	var probe struct {
		ModifiedFiles []string `json:"modified_files"`
	}
	if json.Unmarshal([]byte(content), &probe) != nil {
		return nil
	}
	return probe.ModifiedFiles
}

func toolDefinitionsFor(registry *ToolRegistry) []Tool {
	if registry == nil {
		return nil
	}
	return registry.AsLLMTools()
}

func toCompletionMessages(messages []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	copy(out, messages)
	return out
}

func newUserMessage(text string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}
}

func newAssistantTextMessage(text string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
}

func newAssistantToolCallMessage(text string, toolCalls []models.ToolCall) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
}

func newToolResultsMessage(results []models.ToolResult) *models.Message {
	var toolCallID string
	if len(results) == 1 {
		toolCallID = results[0].ToolCallID
	}
	return &models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: results,
		ToolCallID:  toolCallID,
		CreatedAt:   time.Now(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

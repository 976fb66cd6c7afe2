package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/internal/agent/ledger"
	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// scriptedProvider replays a fixed sequence of responses, one per Complete
// call, so a run-loop turn can be driven deterministically without a real
// LLM backend.
type scriptedProvider struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	text      string
	toolCalls []models.ToolCall
	err       error
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.responses) {
		ch := make(chan *CompletionChunk, 1)
		ch <- &CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	if resp.err != nil {
		return nil, resp.err
	}
	ch := make(chan *CompletionChunk, 1+len(resp.toolCalls))
	if resp.text != "" {
		ch <- &CompletionChunk{Text: resp.text}
	}
	for i := range resp.toolCalls {
		tc := resp.toolCalls[i]
		ch <- &CompletionChunk{ToolCall: &tc}
	}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

type echoTool struct{ calls int }

func (t *echoTool) Name() string            { return "echo" }
func (t *echoTool) Description() string     { return "echoes its input" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls++
	return &ToolResult{Content: string(params)}, nil
}

func newTestPolicyEngine(t *testing.T, decisions map[string]policy.Decision) *policy.Engine {
	t.Helper()
	store := policy.NewStore(filepath.Join(t.TempDir(), "policy.yaml"), nil)
	if err := store.Load(); err != nil {
		t.Fatalf("load empty policy store: %v", err)
	}
	for tool, d := range decisions {
		store.Set(tool, policy.ToolPolicyRecord{Decision: d})
	}
	return policy.NewEngine(store, nil)
}

func TestRunTurn_NoToolCallsReturnsFinalText(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "hello there"},
	}}
	registry := NewToolRegistry()
	rt := NewRuntime(provider, registry, RuntimeOptions{})

	result, err := rt.RunTurn(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.FinalText != "hello there" {
		t.Errorf("expected final text %q, got %q", "hello there", result.FinalText)
	}
	if result.ToolLoops != 0 {
		t.Errorf("expected 0 tool loops, got %d", result.ToolLoops)
	}
	// User message + assistant message committed.
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 committed messages, got %d: %+v", len(result.Messages), result.Messages)
	}
	if result.Messages[0].Role != models.RoleUser || result.Messages[1].Role != models.RoleAssistant {
		t.Errorf("unexpected roles: %q, %q", result.Messages[0].Role, result.Messages[1].Role)
	}
}

func TestRunTurn_ExecutesToolThenFinalizes(t *testing.T) {
	tool := &echoTool{}
	registry := NewToolRegistry()
	registry.Register(tool)

	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []models.ToolCall{{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"msg":"hi"}`)}}},
		{text: "done"},
	}}

	engine := newTestPolicyEngine(t, map[string]policy.Decision{"echo": policy.Allow})
	led := ledger.New(ledger.DefaultConfig())
	rt := NewRuntime(provider, registry, RuntimeOptions{PolicyEngine: engine, Ledger: led})

	result, err := rt.RunTurn(context.Background(), nil, "please echo hi")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected echo tool called once, got %d", tool.calls)
	}
	if result.FinalText != "done" {
		t.Errorf("expected final text %q, got %q", "done", result.FinalText)
	}
	if result.ToolLoops != 1 {
		t.Errorf("expected 1 tool loop, got %d", result.ToolLoops)
	}

	// user, assistant+tool_call, tool-response, assistant(final) = 4 messages.
	if len(result.Messages) != 4 {
		t.Fatalf("expected 4 committed messages, got %d", len(result.Messages))
	}
	toolMsg := result.Messages[2]
	if toolMsg.Role != models.RoleTool || len(toolMsg.ToolResults) != 1 {
		t.Fatalf("expected a single tool-result message, got %+v", toolMsg)
	}
	if toolMsg.ToolResults[0].ToolCallID != "call-1" {
		t.Errorf("expected tool result to reference call-1, got %q", toolMsg.ToolResults[0].ToolCallID)
	}
}

func TestRunTurn_DeniedToolProducesErrorResultNotAbort(t *testing.T) {
	tool := &echoTool{}
	registry := NewToolRegistry()
	registry.Register(tool)

	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []models.ToolCall{{ID: "call-1", Name: "echo", Input: json.RawMessage(`{}`)}}},
		{text: "acknowledged the denial"},
	}}

	engine := newTestPolicyEngine(t, map[string]policy.Decision{"echo": policy.Deny})
	rt := NewRuntime(provider, registry, RuntimeOptions{PolicyEngine: engine})

	result, err := rt.RunTurn(context.Background(), nil, "echo something")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if tool.calls != 0 {
		t.Errorf("expected echo tool never actually invoked when denied, got %d calls", tool.calls)
	}
	toolMsg := result.Messages[2]
	if !toolMsg.ToolResults[0].IsError {
		t.Errorf("expected denied tool call to produce an error result")
	}
	if !strings.Contains(toolMsg.ToolResults[0].Content, "denied") {
		t.Errorf("expected denial reason in tool result content, got %q", toolMsg.ToolResults[0].Content)
	}
	if result.FinalText != "acknowledged the denial" {
		t.Errorf("expected loop to continue to a final answer, got %q", result.FinalText)
	}
}

func TestRunTurn_MaxToolLoopsBoundsTheInnerLoop(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&echoTool{})

	// Always returns a tool call, never a final answer - should hit the cap.
	responses := make([]scriptedResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, scriptedResponse{
			toolCalls: []models.ToolCall{{ID: "call", Name: "echo", Input: json.RawMessage(`{}`)}},
		})
	}
	provider := &scriptedProvider{responses: responses}
	engine := newTestPolicyEngine(t, map[string]policy.Decision{"echo": policy.Allow})

	cfg := DefaultLoopConfig()
	cfg.MaxToolLoops = 3
	rt := NewRuntime(provider, registry, RuntimeOptions{PolicyEngine: engine, Config: cfg})

	result, err := rt.RunTurn(context.Background(), nil, "loop forever")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolLoops != 3 {
		t.Errorf("expected exactly 3 tool loops (the configured cap), got %d", result.ToolLoops)
	}
	if result.FinalText == "" {
		t.Errorf("expected a fallback final text when the loop cap is hit")
	}
}

func TestRunTurn_AdvisoryWhenClaimingWritesWithoutWriteEffect(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "I've updated the file to fix the bug."},
	}}
	registry := NewToolRegistry()
	rt := NewRuntime(provider, registry, RuntimeOptions{})

	result, err := rt.RunTurn(context.Background(), nil, "fix the bug")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Advisory == "" {
		t.Errorf("expected an advisory note when the model claims writes it didn't perform")
	}
}

func TestRunTurn_NoAdvisoryWhenWriteEffectToolRan(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeWriteTool{})
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []models.ToolCall{{ID: "call-1", Name: "write_file", Input: json.RawMessage(`{"path":"a.txt"}`)}}},
		{text: "I've updated the file to fix the bug."},
	}}
	engine := newTestPolicyEngine(t, map[string]policy.Decision{"write_file": policy.Allow})
	rt := NewRuntime(provider, registry, RuntimeOptions{PolicyEngine: engine})

	result, err := rt.RunTurn(context.Background(), nil, "fix the bug")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Advisory != "" {
		t.Errorf("expected no advisory when a write-effect tool actually ran, got %q", result.Advisory)
	}
}

type fakeWriteTool struct{}

func (fakeWriteTool) Name() string            { return "write_file" }
func (fakeWriteTool) Description() string     { return "writes a file" }
func (fakeWriteTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (fakeWriteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: `{"modified_files":["a.txt"]}`}, nil
}

func TestParseFallbackToolCall(t *testing.T) {
	text := `here you go <tool_call>{"name":"echo","input":{"msg":"hi"}}</tool_call> thanks`
	tc, remainder := parseFallbackToolCall(text)
	if tc == nil {
		t.Fatalf("expected a synthesized tool call")
	}
	if tc.Name != "echo" {
		t.Errorf("expected name echo, got %q", tc.Name)
	}
	if strings.Contains(remainder, "tool_call") {
		t.Errorf("expected the tool_call block stripped from remainder, got %q", remainder)
	}
}

func TestIsContextOverflowError(t *testing.T) {
	cases := map[string]bool{
		"this model's maximum context length is 200000 tokens": true,
		"rate limited, try again later":                         false,
		"prompt is too long for this model":                     true,
	}
	for msg, want := range cases {
		got := isContextOverflowError(&fakeErr{msg: msg})
		if got != want {
			t.Errorf("isContextOverflowError(%q) = %v, want %v", msg, got, want)
		}
	}
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

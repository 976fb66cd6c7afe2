package refine

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/haasonsaas/nexus/internal/agent"
)

// scriptedProvider returns a single fixed response (or error) to every
// Complete call, matching internal/agent's own test-provider style.
type scriptedProvider struct {
	text string
	err  error
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: p.text, Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

func TestRefine_Disabled_ReturnsOriginal(t *testing.T) {
	r := New(&scriptedProvider{text: "rewritten"}, "", false)
	got, err := r.Refine(context.Background(), "raw prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "raw prompt" {
		t.Errorf("got %q, want original prompt unchanged", got)
	}
}

func TestRefine_NilProvider_ReturnsOriginal(t *testing.T) {
	r := New(nil, "", true)
	got, err := r.Refine(context.Background(), "raw prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "raw prompt" {
		t.Errorf("got %q, want original prompt unchanged", got)
	}
}

func TestRefine_Success_ReturnsRewrittenText(t *testing.T) {
	r := New(&scriptedProvider{text: "  rewritten prompt  "}, "cheap-model", true)
	got, err := r.Refine(context.Background(), "raw prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "rewritten prompt" {
		t.Errorf("got %q, want trimmed rewritten text", got)
	}
}

func TestRefine_ProviderError_FallsBackToOriginal(t *testing.T) {
	r := New(&scriptedProvider{err: errors.New("boom")}, "", true)
	got, err := r.Refine(context.Background(), "raw prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "raw prompt" {
		t.Errorf("got %q, want fallback to original on provider error", got)
	}
}

func TestRefine_EmptyResponse_FallsBackToOriginal(t *testing.T) {
	r := New(&scriptedProvider{text: "   "}, "", true)
	got, err := r.Refine(context.Background(), "raw prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "raw prompt" {
		t.Errorf("got %q, want fallback to original on blank response", got)
	}
}

func TestRefine_StubEnvVar_OverridesProvider(t *testing.T) {
	t.Setenv("NEXUS_REFINER_STUB", "stubbed output")
	r := New(&scriptedProvider{text: "should not be used"}, "", true)
	got, err := r.Refine(context.Background(), "raw prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "stubbed output" {
		t.Errorf("got %q, want stub env var value", got)
	}
	_ = os.Unsetenv("NEXUS_REFINER_STUB")
}

func TestRefine_EmptyInput_ReturnsOriginal(t *testing.T) {
	r := New(&scriptedProvider{text: "rewritten"}, "", true)
	got, err := r.Refine(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "   " {
		t.Errorf("got %q, want blank input returned unchanged", got)
	}
}

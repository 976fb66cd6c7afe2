// Package refine implements the optional prompt-refinement pass: a single
// cheap-model call that rewrites the user's raw prompt into a clearer one
// before the run-loop's turn begins.
package refine

import (
	"context"
	"os"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// stubEnvVar, when set, is returned verbatim by Refine instead of calling the
// configured model — a deterministic hook for tests that don't want to stand
// up a live provider just to exercise the Run-Loop's refine step.
const stubEnvVar = "NEXUS_REFINER_STUB"

const systemInstruction = `You improve user prompts for an AI coding agent. Rewrite the
given prompt to be clearer and more specific without changing its meaning or adding
requirements the user didn't ask for. Reply with only the rewritten prompt, nothing else.`

// Refiner implements agent.Refiner by sending the raw prompt to a configured
// model with a short rewrite instruction. A refiner with Enabled false, or
// given a nil provider, returns the input unchanged.
type Refiner struct {
	Provider agent.LLMProvider
	Model    string
	Enabled  bool
}

// New builds a Refiner. model may be empty to use the provider's default.
func New(provider agent.LLMProvider, model string, enabled bool) *Refiner {
	return &Refiner{Provider: provider, Model: model, Enabled: enabled}
}

// Refine returns a rewritten prompt, or the original text on any failure,
// including a disabled refiner, a nil provider, an empty response, or a
// provider error. Refine never returns an error itself for that reason —
// the Run-Loop's caller treats a refine failure as "use the raw prompt".
func (r *Refiner) Refine(ctx context.Context, text string) (string, error) {
	if stub := os.Getenv(stubEnvVar); stub != "" {
		return stub, nil
	}
	if r == nil || !r.Enabled || r.Provider == nil || strings.TrimSpace(text) == "" {
		return text, nil
	}

	req := &agent.CompletionRequest{
		Model:  r.Model,
		System: systemInstruction,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: text},
		},
		MaxTokens: 512,
	}

	chunks, err := r.Provider.Complete(ctx, req)
	if err != nil {
		return text, nil
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return text, nil
		}
		out.WriteString(chunk.Text)
	}

	refined := strings.TrimSpace(out.String())
	if refined == "" {
		return text, nil
	}
	return refined, nil
}

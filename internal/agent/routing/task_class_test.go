package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
)

func TestHeuristicTaskClassifier(t *testing.T) {
	h := HeuristicTaskClassifier{}
	cases := map[string]TaskClass{
		"":                                       TaskSimple,
		"hi":                                     TaskSimple,
		"implement a retry wrapper for the client": TaskCodegenHeavy,
		"```go\nfunc main() {}\n```":              TaskCodegenHeavy,
		"search the repo for where config is loaded": TaskRetrievalHeavy,
		"what are the tradeoffs of migrating to postgres, considering cost, risk, and team familiarity": TaskComplex,
		"could you walk me through how the scheduler decides which job runs next and why":              TaskStandard,
	}
	for input, want := range cases {
		got := h.Classify(input)
		if got != want {
			t.Errorf("Classify(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestClassifyAsyncFallsBackOnError(t *testing.T) {
	fallback := HeuristicTaskClassifier{}
	llm := func(ctx context.Context, text string) (TaskClass, error) {
		return "", errors.New("provider unavailable")
	}
	got := ClassifyAsync(context.Background(), "implement the parser", llm, fallback)
	if got != TaskCodegenHeavy {
		t.Errorf("expected fallback to heuristic result, got %q", got)
	}
}

func TestClassifyAsyncUsesLLMResultWhenValid(t *testing.T) {
	fallback := HeuristicTaskClassifier{}
	llm := func(ctx context.Context, text string) (TaskClass, error) {
		return TaskRetrievalHeavy, nil
	}
	got := ClassifyAsync(context.Background(), "hi", llm, fallback)
	if got != TaskRetrievalHeavy {
		t.Errorf("expected LLM-classified result, got %q", got)
	}
}

func TestClassifyAsyncRejectsInvalidClass(t *testing.T) {
	fallback := HeuristicTaskClassifier{}
	llm := func(ctx context.Context, text string) (TaskClass, error) {
		return TaskClass("not_a_real_class"), nil
	}
	got := ClassifyAsync(context.Background(), "hi", llm, fallback)
	if got != TaskSimple {
		t.Errorf("expected fallback on invalid class, got %q", got)
	}
}

func TestTaskRouterDecideUsesBudgetAndHealthyModel(t *testing.T) {
	provider := &stubProvider{name: "primary", supportsTools: true}
	fallbackProvider := &stubProvider{name: "fallback", supportsTools: true}
	router := NewRouter(Config{
		DefaultProvider: "primary",
		FailureCooldown: time.Minute,
	}, map[string]agent.LLMProvider{
		"primary":  provider,
		"fallback": fallbackProvider,
	})

	budgets := map[TaskClass]ClassBudget{
		TaskSimple: {Model: "cheap-model", MaxTokens: 512, MaxParallelTools: 1},
	}
	tr := NewTaskRouter(router, TaskRouterConfig{
		Budgets: budgets,
		FallbacksByClass: map[TaskClass][]Target{
			TaskSimple: {{Provider: "fallback", Model: "fallback-model"}},
		},
	})

	decision := tr.Decide(context.Background(), "hi")
	if decision.Class != TaskSimple {
		t.Fatalf("expected TaskSimple, got %q", decision.Class)
	}
	if decision.MaxTokens != 512 || decision.MaxParallelTools != 1 {
		t.Errorf("expected budget carried through, got %+v", decision)
	}
	if decision.SelectedModel != "cheap-model" {
		t.Errorf("expected primary model selected while healthy, got %q", decision.SelectedModel)
	}

	// Mark primary unhealthy and confirm fallback is selected instead.
	router.markUnhealthy("primary")
	decision = tr.Decide(context.Background(), "hi")
	if decision.SelectedModel != "fallback-model" {
		t.Errorf("expected fallback model after primary marked unhealthy, got %q", decision.SelectedModel)
	}
}

package routing

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// TaskClass classifies the complexity/shape of a single user turn, driving
// model selection and generation budgets for that turn.
type TaskClass string

const (
	TaskSimple         TaskClass = "simple"
	TaskStandard       TaskClass = "standard"
	TaskComplex        TaskClass = "complex"
	TaskCodegenHeavy   TaskClass = "codegen_heavy"
	TaskRetrievalHeavy TaskClass = "retrieval_heavy"
)

// ClassBudget bounds generation for one TaskClass.
type ClassBudget struct {
	Model            string
	MaxTokens        int
	MaxParallelTools int
}

// RouterDecision is the outcome of routing one turn: which TaskClass it was
// assigned, which model to use (after health/fallback resolution), and the
// generation budget to apply.
type RouterDecision struct {
	Class            TaskClass
	SelectedModel    string
	MaxTokens        int
	MaxParallelTools int
}

// DefaultClassBudgets returns a conservative per-class budget table. Model
// names are left blank by default — callers are expected to override them
// from configuration, since model identifiers are provider-specific.
func DefaultClassBudgets() map[TaskClass]ClassBudget {
	return map[TaskClass]ClassBudget{
		TaskSimple:         {MaxTokens: 1024, MaxParallelTools: 1},
		TaskStandard:       {MaxTokens: 4096, MaxParallelTools: 3},
		TaskComplex:        {MaxTokens: 8192, MaxParallelTools: 5},
		TaskCodegenHeavy:   {MaxTokens: 8192, MaxParallelTools: 5},
		TaskRetrievalHeavy: {MaxTokens: 4096, MaxParallelTools: 8},
	}
}

var (
	codeFenceRegex  = regexp.MustCompile("```")
	codegenVerbs    = regexp.MustCompile(`(?i)\b(implement|refactor|write a function|add a method|fix the bug|generate code|write tests?)\b`)
	retrievalVerbs  = regexp.MustCompile(`(?i)\b(search|find|look up|grep|where is|locate|list all)\b`)
	complexityVerbs = regexp.MustCompile(`(?i)\b(design|architecture|tradeoffs?|migrate|redesign|compare approaches)\b`)
)

// TaskClassifier assigns a TaskClass to raw user text.
type TaskClassifier interface {
	Classify(text string) TaskClass
}

// HeuristicTaskClassifier classifies using a small set of rules over
// length, code fences, and request verbs — no model call required.
type HeuristicTaskClassifier struct{}

// Classify implements TaskClassifier.
func (HeuristicTaskClassifier) Classify(text string) TaskClass {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return TaskSimple
	}

	hasCodeFence := codeFenceRegex.MatchString(trimmed)
	isCodegen := hasCodeFence || codegenVerbs.MatchString(trimmed)
	isRetrieval := retrievalVerbs.MatchString(trimmed)
	isComplex := complexityVerbs.MatchString(trimmed)

	switch {
	case isCodegen:
		return TaskCodegenHeavy
	case isRetrieval:
		return TaskRetrievalHeavy
	case isComplex:
		return TaskComplex
	case len(trimmed) < 80:
		return TaskSimple
	default:
		return TaskStandard
	}
}

// LLMClassifyFunc sends text to a cheap classification model and parses its
// answer into a TaskClass. Implementations should themselves respect ctx
// cancellation/timeout; ClassifyAsync does not impose its own timeout.
type LLMClassifyFunc func(ctx context.Context, text string) (TaskClass, error)

// ValidTaskClass reports whether c is one of the five known variants.
func ValidTaskClass(c TaskClass) bool {
	switch c {
	case TaskSimple, TaskStandard, TaskComplex, TaskCodegenHeavy, TaskRetrievalHeavy:
		return true
	default:
		return false
	}
}

// ClassifyAsync classifies via llmClassify if provided, falling back to the
// heuristic classifier on any error (including ctx deadline) or an
// out-of-range result.
func ClassifyAsync(ctx context.Context, text string, llmClassify LLMClassifyFunc, fallback TaskClassifier) TaskClass {
	if llmClassify == nil {
		return fallback.Classify(text)
	}
	class, err := llmClassify(ctx, text)
	if err != nil || !ValidTaskClass(class) {
		return fallback.Classify(text)
	}
	return class
}

// TaskRouter resolves a TaskClass and its generation budget into a
// RouterDecision, consulting the underlying Router's model health/cooldown
// state so an unhealthy selected model falls through to the configured
// fallback chain for its class.
type TaskRouter struct {
	router          *Router
	heuristic       TaskClassifier
	llmClassify     LLMClassifyFunc
	budgets         map[TaskClass]ClassBudget
	fallbacksByClass map[TaskClass][]Target
	classifyTimeout time.Duration
}

// TaskRouterConfig configures a TaskRouter.
type TaskRouterConfig struct {
	Budgets         map[TaskClass]ClassBudget
	FallbacksByClass map[TaskClass][]Target
	LLMClassify     LLMClassifyFunc
	ClassifyTimeout time.Duration // bounds the LLM-assisted classification call
}

// NewTaskRouter creates a TaskRouter backed by router for health/fallback
// resolution.
func NewTaskRouter(router *Router, cfg TaskRouterConfig) *TaskRouter {
	budgets := cfg.Budgets
	if budgets == nil {
		budgets = DefaultClassBudgets()
	}
	timeout := cfg.ClassifyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TaskRouter{
		router:           router,
		heuristic:        HeuristicTaskClassifier{},
		llmClassify:      cfg.LLMClassify,
		budgets:          budgets,
		fallbacksByClass: cfg.FallbacksByClass,
		classifyTimeout:  timeout,
	}
}

// Decide classifies text and returns the resolved RouterDecision for this
// turn: the assigned TaskClass, a health-checked model selection, and the
// class's generation budget.
func (tr *TaskRouter) Decide(ctx context.Context, text string) RouterDecision {
	class := tr.classify(ctx, text)
	budget, ok := tr.budgets[class]
	if !ok {
		budget = DefaultClassBudgets()[TaskStandard]
	}

	model := budget.Model
	if tr.router != nil {
		primary := Target{Provider: tr.router.defaultProvider, Model: budget.Model}
		resolved := tr.router.HealthyCandidate(primary, tr.fallbacksByClass[class])
		model = resolved.Model
		if model == "" {
			model = budget.Model
		}
	}

	return RouterDecision{
		Class:            class,
		SelectedModel:    model,
		MaxTokens:        budget.MaxTokens,
		MaxParallelTools: budget.MaxParallelTools,
	}
}

func (tr *TaskRouter) classify(ctx context.Context, text string) TaskClass {
	if tr.llmClassify == nil {
		return tr.heuristic.Classify(text)
	}
	cctx, cancel := context.WithTimeout(ctx, tr.classifyTimeout)
	defer cancel()
	return ClassifyAsync(cctx, text, tr.llmClassify, tr.heuristic)
}

// Classify runs only the synchronous heuristic classifier, per the router's
// `Classify` entry point (distinct from the LLM-assisted `ClassifyAsync`).
func (tr *TaskRouter) Classify(text string) TaskClass {
	return tr.heuristic.Classify(text)
}

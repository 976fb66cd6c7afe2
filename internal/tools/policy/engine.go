package policy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user to approve a single tool invocation. The default
// implementation checks for a TTY and reads a yes/no answer; non-interactive
// contexts auto-approve.
type Prompter interface {
	Confirm(ctx context.Context, toolName string, argsPreview string) (bool, error)
}

// TTYPrompter implements Prompter against the process's stdin/stdout. When
// stdin/stdout are not a terminal, it auto-approves (documented
// non-interactive behavior) rather than blocking forever.
type TTYPrompter struct {
	In  io.Reader
	Out io.Writer
}

// NewTTYPrompter returns a Prompter wired to the process's stdin/stdout.
func NewTTYPrompter() *TTYPrompter {
	return &TTYPrompter{In: os.Stdin, Out: os.Stdout}
}

func (p *TTYPrompter) Confirm(ctx context.Context, toolName string, argsPreview string) (bool, error) {
	stdinFd, stdinIsTTY := fileDescriptor(p.In)
	_, stdoutIsTTY := fileDescriptor(p.Out)
	if !stdinIsTTY || !stdoutIsTTY || !term.IsTerminal(stdinFd) {
		// Non-interactive: auto-approve current invocation only.
		return true, nil
	}

	fmt.Fprintf(p.Out, "Allow tool %q to run with args %s? [y/N]: ", toolName, argsPreview)
	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func fileDescriptor(v any) (int, bool) {
	type fder interface{ Fd() uintptr }
	if f, ok := v.(fder); ok {
		return int(f.Fd()), true
	}
	return 0, false
}

// Engine mediates tool invocations against the policy store. The store
// itself is the synchronization point: Engine holds no mutable state.
type Engine struct {
	store    *Store
	prompter Prompter
}

// NewEngine creates an Engine over a loaded Store.
func NewEngine(store *Store, prompter Prompter) *Engine {
	if prompter == nil {
		prompter = NewTTYPrompter()
	}
	return &Engine{store: store, prompter: prompter}
}

// Decide resolves the stored policy for a tool and, for Prompt, interactively
// confirms the current invocation. It never mutates the persisted decision:
// a Prompt answer applies to this invocation only.
func (e *Engine) Decide(ctx context.Context, toolName string, argsPreview string) error {
	rec, ok := e.store.Get(toolName)
	if !ok {
		rec = ToolPolicyRecord{Decision: Prompt}
	}

	switch rec.Decision {
	case Allow:
		return nil
	case Deny:
		return &DeniedError{ToolName: toolName, Reason: "policy set to deny"}
	case Prompt:
		approved, err := e.prompter.Confirm(ctx, toolName, argsPreview)
		if err != nil {
			return fmt.Errorf("policy: prompting for %q: %w", toolName, err)
		}
		if !approved {
			return &DeniedError{ToolName: toolName, Reason: "user declined prompt"}
		}
		return nil
	default:
		return &DeniedError{ToolName: toolName, Reason: fmt.Sprintf("unrecognized decision %q", rec.Decision)}
	}
}

// Constraints returns the stored constraints for a tool, or nil if none.
func (e *Engine) Constraints(toolName string) *Constraints {
	rec, ok := e.store.Get(toolName)
	if !ok {
		return nil
	}
	return rec.Constraints
}

// SetDecision persistently updates a tool's policy and saves the store.
func (e *Engine) SetDecision(toolName string, decision Decision) error {
	if !decision.valid() {
		return fmt.Errorf("policy: invalid decision %q", decision)
	}
	rec, _ := e.store.Get(toolName)
	rec.Decision = decision
	e.store.Set(toolName, rec)
	return e.store.Save()
}

// ReconcileAndSave reconciles the store against the live tool set and
// persists the result.
func (e *Engine) ReconcileAndSave(knownTools []string) error {
	e.store.Reconcile(knownTools)
	return e.store.Save()
}

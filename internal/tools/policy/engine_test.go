package policy

import (
	"context"
	"errors"
	"testing"
)

type fakePrompter struct {
	approve bool
	err     error
	calls   int
}

func (f *fakePrompter) Confirm(ctx context.Context, toolName string, argsPreview string) (bool, error) {
	f.calls++
	return f.approve, f.err
}

func newTestEngine(t *testing.T, prompter Prompter) *Engine {
	t.Helper()
	store := NewStore(t.TempDir()+"/policy.yaml", nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return NewEngine(store, prompter)
}

func TestEngine_Decide_Allow(t *testing.T) {
	prompter := &fakePrompter{approve: false}
	e := newTestEngine(t, prompter)
	e.store.Set("read_file", ToolPolicyRecord{Decision: Allow})

	if err := e.Decide(context.Background(), "read_file", "{}"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if prompter.calls != 0 {
		t.Fatalf("expected no prompt for allow decision, got %d calls", prompter.calls)
	}
}

func TestEngine_Decide_Deny(t *testing.T) {
	prompter := &fakePrompter{approve: true}
	e := newTestEngine(t, prompter)
	e.store.Set("exec_shell", ToolPolicyRecord{Decision: Deny})

	err := e.Decide(context.Background(), "exec_shell", "{}")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %v", err)
	}
	if denied.ToolName != "exec_shell" {
		t.Fatalf("unexpected tool name %q", denied.ToolName)
	}
	if prompter.calls != 0 {
		t.Fatalf("expected no prompt for deny decision, got %d calls", prompter.calls)
	}
}

func TestEngine_Decide_PromptApproved(t *testing.T) {
	prompter := &fakePrompter{approve: true}
	e := newTestEngine(t, prompter)
	e.store.Set("write_file", ToolPolicyRecord{Decision: Prompt})

	if err := e.Decide(context.Background(), "write_file", "{}"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected exactly one prompt, got %d", prompter.calls)
	}
}

func TestEngine_Decide_PromptDeclined(t *testing.T) {
	prompter := &fakePrompter{approve: false}
	e := newTestEngine(t, prompter)
	e.store.Set("write_file", ToolPolicyRecord{Decision: Prompt})

	err := e.Decide(context.Background(), "write_file", "{}")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %v", err)
	}
	if denied.Reason != "user declined prompt" {
		t.Fatalf("unexpected reason %q", denied.Reason)
	}
}

func TestEngine_Decide_PromptError(t *testing.T) {
	wantErr := errors.New("read failed")
	prompter := &fakePrompter{err: wantErr}
	e := newTestEngine(t, prompter)
	e.store.Set("write_file", ToolPolicyRecord{Decision: Prompt})

	err := e.Decide(context.Background(), "write_file", "{}")
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
}

func TestEngine_Decide_UnknownToolDefaultsToPrompt(t *testing.T) {
	prompter := &fakePrompter{approve: true}
	e := newTestEngine(t, prompter)

	if err := e.Decide(context.Background(), "new_tool", "{}"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected a prompt for an unknown tool, got %d calls", prompter.calls)
	}
}

func TestEngine_SetDecision(t *testing.T) {
	e := newTestEngine(t, &fakePrompter{})

	if err := e.SetDecision("read_file", Allow); err != nil {
		t.Fatalf("SetDecision: %v", err)
	}
	rec, ok := e.store.Get("read_file")
	if !ok || rec.Decision != Allow {
		t.Fatalf("expected stored Allow decision, got %+v ok=%v", rec, ok)
	}

	if err := e.SetDecision("read_file", Decision("bogus")); err == nil {
		t.Fatal("expected error for invalid decision")
	}
}

func TestEngine_Constraints(t *testing.T) {
	e := newTestEngine(t, &fakePrompter{})
	if c := e.Constraints("unknown"); c != nil {
		t.Fatalf("expected nil constraints for unknown tool, got %+v", c)
	}

	e.store.Set("read_file", ToolPolicyRecord{Decision: Allow, Constraints: &Constraints{MaxBytesPerRead: 4096}})
	c := e.Constraints("read_file")
	if c == nil || c.MaxBytesPerRead != 4096 {
		t.Fatalf("unexpected constraints %+v", c)
	}
}

func TestEngine_ReconcileAndSave(t *testing.T) {
	e := newTestEngine(t, &fakePrompter{})

	if err := e.ReconcileAndSave([]string{"read_file", "write_file", "exec_shell"}); err != nil {
		t.Fatalf("ReconcileAndSave: %v", err)
	}

	rec, ok := e.store.Get("read_file")
	if !ok || rec.Decision != Allow {
		t.Fatalf("expected read_file to auto-allow, got %+v ok=%v", rec, ok)
	}
	rec, ok = e.store.Get("write_file")
	if !ok || rec.Decision != Prompt {
		t.Fatalf("expected write_file to default to prompt, got %+v ok=%v", rec, ok)
	}

	reloaded := NewStore(e.store.path, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.Get("exec_shell"); !ok {
		t.Fatal("expected reconciled policy to persist across reload")
	}
}

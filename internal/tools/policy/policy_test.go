package policy

import "testing"

func TestDecision_Valid(t *testing.T) {
	cases := []struct {
		d    Decision
		want bool
	}{
		{Allow, true},
		{Prompt, true},
		{Deny, true},
		{Decision("maybe"), false},
		{Decision(""), false},
	}
	for _, tc := range cases {
		if got := tc.d.valid(); got != tc.want {
			t.Errorf("Decision(%q).valid() = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestDeniedError_Error(t *testing.T) {
	err := &DeniedError{ToolName: "exec_shell", Reason: "policy set to deny"}
	want := `tool "exec_shell" denied by policy: policy set to deny`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &DeniedError{ToolName: "exec_shell"}
	want = `tool "exec_shell" denied by policy`
	if got := bare.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAutoAllowTools(t *testing.T) {
	if !autoAllowTools["read_file"] || !autoAllowTools["list_files"] {
		t.Fatal("expected read_file and list_files in auto-allow set")
	}
	if autoAllowTools["exec_shell"] {
		t.Fatal("exec_shell must not be auto-allowed")
	}
}

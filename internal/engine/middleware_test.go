package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEffectivePolicy_ResolutionOrder(t *testing.T) {
	m := newTestMiddleware()

	def := Policy{Temperature: 0.1}
	toolP := Policy{Temperature: 0.2, MaxOutputTokens: 100}
	clientP := Policy{Temperature: 0.3, AllowPCC: true}

	if err := m.SetDefaultPolicy(def); err != nil {
		t.Fatal(err)
	}
	if err := m.SetToolPolicy("summarize_text", toolP); err != nil {
		t.Fatal(err)
	}
	if err := m.SetClientPolicy("client-1", clientP); err != nil {
		t.Fatal(err)
	}

	if got := m.EffectivePolicy("summarize_text", "client-1"); got != clientP {
		t.Fatalf("expected client override, got %+v", got)
	}

	m.RemoveClientPolicy("client-1")
	if got := m.EffectivePolicy("summarize_text", "client-1"); got != toolP {
		t.Fatalf("expected tool override, got %+v", got)
	}

	m.RemoveToolPolicy("summarize_text")
	if got := m.EffectivePolicy("summarize_text", "client-1"); got != def {
		t.Fatalf("expected default, got %+v", got)
	}
}

func TestSetPolicy_LastWriteWins(t *testing.T) {
	m := newTestMiddleware()
	_ = m.SetToolPolicy("echo", Policy{MaxOutputTokens: 1})
	_ = m.SetToolPolicy("echo", Policy{MaxOutputTokens: 2})

	if got := m.EffectivePolicy("echo", "anyone"); got.MaxOutputTokens != 2 {
		t.Fatalf("expected last write to win, got %d", got.MaxOutputTokens)
	}
}

func TestSetPolicy_RejectsInvalid(t *testing.T) {
	m := newTestMiddleware()
	tests := []struct {
		name string
		p    Policy
	}{
		{"negative tokens", Policy{MaxOutputTokens: -1}},
		{"temperature too high", Policy{Temperature: 2.5}},
		{"negative temperature", Policy{Temperature: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetClientPolicy("client-1", tt.p)
			var v *Violation
			if !errors.As(err, &v) || v.Kind != ViolationInvalidPolicy {
				t.Fatalf("expected INVALID_POLICY, got %v", err)
			}
		})
	}
}

func TestOverrideByScope(t *testing.T) {
	m := newTestMiddleware()
	toolP := Policy{MaxOutputTokens: 7}
	clientP := Policy{AllowPCC: true}

	if err := m.ApplyOverride(Override{Scope: ScopeTool, Key: "echo", Policy: toolP}); err != nil {
		t.Fatal(err)
	}
	if err := m.ApplyOverride(Override{Scope: ScopeClient, Key: "vip", Policy: clientP}); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := m.LookupOverride(ScopeTool, "echo"); !ok || got != toolP {
		t.Fatalf("tool lookup = %+v, %v", got, ok)
	}
	if got := m.EffectivePolicy("echo", "vip"); got != clientP {
		t.Fatalf("expected client override, got %+v", got)
	}

	removed, err := m.RemoveOverride(ScopeClient, "vip")
	if err != nil || !removed {
		t.Fatalf("remove = %v, %v", removed, err)
	}
	if removed, _ := m.RemoveOverride(ScopeClient, "vip"); removed {
		t.Fatal("second remove reported an override")
	}
	if got := m.EffectivePolicy("echo", "vip"); got != toolP {
		t.Fatalf("expected tool override, got %+v", got)
	}

	if err := m.ApplyOverride(Override{Scope: "tenant", Key: "x"}); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
	if _, _, err := m.LookupOverride("tenant", "x"); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
	if err := m.ApplyOverride(Override{Scope: ScopeTool, Key: "echo", Policy: Policy{Temperature: 9}}); err == nil {
		t.Fatal("expected invalid policy to be rejected")
	}
}

type staticOverrides []Override

func (s staticOverrides) ListOverrides(context.Context) ([]Override, error) { return s, nil }

func TestLoadOverrides(t *testing.T) {
	m := newTestMiddleware()
	n, err := m.LoadOverrides(context.Background(), staticOverrides{
		{Scope: ScopeTool, Key: "echo", Policy: Policy{MaxOutputTokens: 5}},
		{Scope: ScopeClient, Key: "vip", Policy: Policy{AllowPCC: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 overrides, got %d", n)
	}
	if got := m.EffectivePolicy("echo", "someone"); got.MaxOutputTokens != 5 {
		t.Fatalf("tool override not installed: %+v", got)
	}
	if got := m.EffectivePolicy("echo", "vip"); !got.AllowPCC {
		t.Fatalf("client override not installed: %+v", got)
	}
}

func TestLoadOverrides_InvalidAbortsWholeLoad(t *testing.T) {
	m := newTestMiddleware()
	_, err := m.LoadOverrides(context.Background(), staticOverrides{
		{Scope: ScopeTool, Key: "echo", Policy: Policy{MaxOutputTokens: 5}},
		{Scope: ScopeTool, Key: "bad", Policy: Policy{MaxOutputTokens: -5}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := m.EffectivePolicy("echo", "someone"); got != m.DefaultPolicy() {
		t.Fatal("no override should be installed when the load fails")
	}
}

func TestExecuteText_TruncatesAndRedacts(t *testing.T) {
	m := newTestMiddleware()
	p := Policy{PIIRedact: true, MaxOutputTokens: 10}

	out, err := m.ExecuteText(context.Background(), Request{Exec: testExec("echo"), Override: &p},
		func(context.Context) (string, error) {
			return "mail a@b.com " + strings.Repeat("x", 1000), nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "a@b.com") {
		t.Fatalf("expected email to be redacted: %q", out)
	}
	if !strings.HasSuffix(out, TruncationMarker) {
		t.Fatalf("expected truncation marker: %q", out)
	}
	if len(out) > 10*CharsPerToken+len(TruncationMarker) {
		t.Fatalf("output too long: %d", len(out))
	}
}

func TestExecuteText_UsesEffectivePolicyWithoutOverride(t *testing.T) {
	m := newTestMiddleware()
	_ = m.SetClientPolicy("client-1", Policy{PIIRedact: false})

	out, err := m.ExecuteText(context.Background(), Request{Exec: testExec("echo")},
		func(context.Context) (string, error) { return "a@b.com", nil })
	if err != nil {
		t.Fatal(err)
	}
	if out != "a@b.com" {
		t.Fatalf("client policy disables redaction, got %q", out)
	}
}

func TestExecuteText_InvalidOverride(t *testing.T) {
	m := newTestMiddleware()
	p := Policy{MaxOutputTokens: -3}
	ran := false

	_, err := m.ExecuteText(context.Background(), Request{Exec: testExec("echo"), Override: &p},
		func(context.Context) (string, error) { ran = true; return "", nil })

	var v *Violation
	if !errors.As(err, &v) || v.Kind != ViolationInvalidPolicy {
		t.Fatalf("expected INVALID_POLICY, got %v", err)
	}
	if ran {
		t.Fatal("operation must not run with an invalid policy")
	}
}

func TestExecuteText_OperationErrorPropagates(t *testing.T) {
	m := newTestMiddleware()
	boom := errors.New("boom")

	_, err := m.ExecuteText(context.Background(), Request{Exec: testExec("echo")},
		func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected operation error, got %v", err)
	}
}

func TestExecuteText_MaxExecutionTime(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(`
requirements:
  - match: slow
    max_execution_time: 10ms
`))
	if err != nil {
		t.Fatal(err)
	}
	m := NewMiddleware(nil, rules, time.Second, zap.NewNop())

	_, err = m.ExecuteText(context.Background(), Request{Exec: testExec("slow_tool")},
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	var v *Violation
	if !errors.As(err, &v) || v.Kind != ViolationMaxExecutionTimeExceeded {
		t.Fatalf("expected MAX_EXECUTION_TIME_EXCEEDED, got %v", err)
	}
}

func TestExecuteText_ContentTooLarge(t *testing.T) {
	rules, err := LoadRules(strings.NewReader("max_content_bytes: 8\n"))
	if err != nil {
		t.Fatal(err)
	}
	m := NewMiddleware(nil, rules, time.Second, zap.NewNop())

	_, err = m.ExecuteText(context.Background(), Request{Exec: testExec("echo")},
		func(context.Context) (string, error) { return "0123456789", nil })
	var v *Violation
	if !errors.As(err, &v) || v.Kind != ViolationContentTooLarge {
		t.Fatalf("expected CONTENT_TOO_LARGE, got %v", err)
	}
	if v.Tool != "echo" {
		t.Fatalf("expected tool on violation, got %q", v.Tool)
	}
}

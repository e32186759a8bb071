package engine

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultRules_Summarize(t *testing.T) {
	r := DefaultRules()
	req, ok := r.RequirementFor("Summarize_Document")
	if !ok {
		t.Fatal("expected summarize requirement")
	}
	if req.MinMemoryMB != 512 || req.MaxExecutionTime != 30*time.Second || req.RequiresNetwork {
		t.Fatalf("unexpected requirement: %+v", req)
	}
}

func TestDefaultRules_HighRisk(t *testing.T) {
	r := DefaultRules()
	for _, name := range []string{"delete_file", "SystemInfo", "admin_panel", "format_disk", "remove_user", "rootkit_scan"} {
		if _, ok := r.HighRiskKeyword(name); !ok {
			t.Errorf("expected %s to be high risk", name)
		}
	}
	if _, ok := r.HighRiskKeyword("summarize_text"); ok {
		t.Error("summarize_text should not be high risk")
	}
}

func TestDefaultRules_PCC(t *testing.T) {
	r := DefaultRules()
	if !r.RequiresPCC("pcc_summarize") {
		t.Error("expected pcc marker match")
	}
	if r.RequiresPCC("echo") {
		t.Error("echo should not require pcc")
	}
}

func TestLoadRules_FirstRequirementWins(t *testing.T) {
	r, err := LoadRules(strings.NewReader(`
requirements:
  - match: Fetch
    min_memory_mb: 1
  - match: fetch_page
    min_memory_mb: 2
`))
	if err != nil {
		t.Fatal(err)
	}
	req, ok := r.RequirementFor("fetch_page")
	if !ok || req.MinMemoryMB != 1 {
		t.Fatalf("expected first match, got %+v", req)
	}
}

func TestLoadRules_RejectsUnknownFields(t *testing.T) {
	if _, err := LoadRules(strings.NewReader("bogus: 1\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadRules_RejectsEmptyMatch(t *testing.T) {
	if _, err := LoadRules(strings.NewReader("requirements:\n  - match: ' '\n")); err == nil {
		t.Fatal("expected error for empty match")
	}
}

func TestLoadRules_Empty(t *testing.T) {
	r, err := LoadRules(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.RequirementFor("anything"); ok {
		t.Fatal("empty table should match nothing")
	}
}

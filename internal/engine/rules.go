package engine

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Requirement is the resource envelope a class of tools needs to run.
type Requirement struct {
	Match            string        `yaml:"match"`
	MinMemoryMB      uint64        `yaml:"min_memory_mb"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	RequiresNetwork  bool          `yaml:"requires_network"`
}

// Rules is the declarative table that classifies tools by name.
// Loaded once at start-up; read-only afterwards.
type Rules struct {
	PCCMarkers          []string      `yaml:"pcc_markers"`
	HighRiskKeywords    []string      `yaml:"high_risk_keywords"`
	HighRiskTemperature float64       `yaml:"high_risk_temperature"`
	Requirements        []Requirement `yaml:"requirements"`
	MaxContentBytes     int           `yaml:"max_content_bytes"`
}

// LoadRules decodes a rule table and normalizes its patterns.
func LoadRules(r io.Reader) (*Rules, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rules Rules
	if err := dec.Decode(&rules); err != nil && err != io.EOF {
		return nil, fmt.Errorf("LoadRules: %w", err)
	}

	rules.PCCMarkers = normalizePatterns(rules.PCCMarkers)
	rules.HighRiskKeywords = normalizePatterns(rules.HighRiskKeywords)
	for i := range rules.Requirements {
		req := &rules.Requirements[i]
		req.Match = strings.ToLower(strings.TrimSpace(req.Match))
		if req.Match == "" {
			return nil, fmt.Errorf("LoadRules: requirement %d has empty match", i)
		}
		if req.MaxExecutionTime < 0 {
			return nil, fmt.Errorf("LoadRules: requirement %q has negative max_execution_time", req.Match)
		}
	}
	if rules.MaxContentBytes < 0 {
		return nil, fmt.Errorf("LoadRules: max_content_bytes must be >= 0")
	}
	return &rules, nil
}

// LoadRulesFile reads a rule table from disk.
func LoadRulesFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRulesFile: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadRules(f)
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *Rules {
	rules, err := LoadRules(bytes.NewReader(defaultRulesYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded rules are invalid: %v", err))
	}
	return rules
}

// RequiresPCC reports whether the tool name carries a PCC marker.
func (r *Rules) RequiresPCC(toolName string) bool {
	_, ok := firstMatch(toolName, r.PCCMarkers)
	return ok
}

// HighRiskKeyword returns the first high-risk keyword found in the tool name.
func (r *Rules) HighRiskKeyword(toolName string) (string, bool) {
	return firstMatch(toolName, r.HighRiskKeywords)
}

// RequirementFor returns the first requirement whose pattern the tool name contains.
func (r *Rules) RequirementFor(toolName string) (Requirement, bool) {
	name := strings.ToLower(toolName)
	for _, req := range r.Requirements {
		if strings.Contains(name, req.Match) {
			return req, true
		}
	}
	return Requirement{}, false
}

func firstMatch(toolName string, patterns []string) (string, bool) {
	name := strings.ToLower(toolName)
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return p, true
		}
	}
	return "", false
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

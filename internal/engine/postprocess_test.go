package engine

import (
	"regexp"
	"strings"
	"testing"
)

var (
	emailShape = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneShape = regexp.MustCompile(`\d{3}[-\s.]?\d{3}[-\s.]?\d{4}`)
)

func TestRedactPII_EmailAndPhone(t *testing.T) {
	out := RedactPII("contact a@b.com or 555-123-4567")

	if emailShape.MatchString(out) {
		t.Fatalf("email survived redaction: %q", out)
	}
	if phoneShape.MatchString(out) {
		t.Fatalf("phone survived redaction: %q", out)
	}
	if out != "contact [EMAIL] or [PHONE]" {
		t.Fatalf("unexpected redaction: %q", out)
	}
}

func TestRedactPII_Idempotent(t *testing.T) {
	once := RedactPII("contact a@b.com or 555-123-4567")
	twice := RedactPII(once)
	if once != twice {
		t.Fatalf("redaction not idempotent: %q vs %q", once, twice)
	}
}

func TestRedactPII_Formats(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"email with plus", "user+tag@company.org"},
		{"phone with parens", "Call (555) 123-4567 now"},
		{"phone with dots", "555.123.4567"},
		{"phone with country code", "+1-555-123-4567"},
		{"email in sentence", "Send the report to alice@bigcorp.io please"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RedactPII(tt.payload)
			if ContainsPII(out) {
				t.Fatalf("PII survived: %q", out)
			}
			if out == tt.payload {
				t.Fatalf("expected a change for %q", tt.payload)
			}
		})
	}
}

func TestRedactPII_LeavesPlainTextAlone(t *testing.T) {
	in := "The meeting is at 10:30 in room 42."
	if out := RedactPII(in); out != in {
		t.Fatalf("plain text changed: %q", out)
	}
}

func TestTruncate_LengthBound(t *testing.T) {
	in := strings.Repeat("a", 1000)
	out, truncated := Truncate(in, 10)

	if !truncated {
		t.Fatal("expected truncation")
	}
	if len(out) > 10*CharsPerToken+len(TruncationMarker) {
		t.Fatalf("output too long: %d", len(out))
	}
	if !strings.HasSuffix(out, TruncationMarker) {
		t.Fatalf("expected marker suffix: %q", out)
	}
}

func TestTruncate_WithinLimit(t *testing.T) {
	in := strings.Repeat("a", 40)
	out, truncated := Truncate(in, 10)
	if truncated || out != in {
		t.Fatal("text at the limit must not be truncated")
	}
}

func TestTruncate_Unlimited(t *testing.T) {
	in := strings.Repeat("a", 5000)
	if out, truncated := Truncate(in, 0); truncated || out != in {
		t.Fatal("zero tokens means unlimited")
	}
}

func TestTruncate_MultiByteSafe(t *testing.T) {
	in := strings.Repeat("é", 100)
	out, truncated := Truncate(in, 2)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if got := strings.TrimSuffix(out, TruncationMarker); got != strings.Repeat("é", 8) {
		t.Fatalf("expected 8 runes kept, got %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

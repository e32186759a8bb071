package engine

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// TruncationMarker is appended to text cut at the token limit.
	TruncationMarker = "...[truncated]"

	// CharsPerToken is the token estimate used for output limits.
	CharsPerToken = 4

	EmailPlaceholder = "[EMAIL]"
	PhonePlaceholder = "[PHONE]"
)

// Pre-compiled redaction patterns. Order matters: emails first so that digit
// runs inside an address are not taken for phone numbers.
var redactionPatterns = []struct {
	re          *regexp.Regexp
	placeholder string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), EmailPlaceholder},
	// (123) 456-7890, 123-456-7890, +1 123.456.7890
	{regexp.MustCompile(`(\+1[-\s]?)?\(?\b\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`), PhonePlaceholder},
}

// RedactPII replaces email- and phone-shaped substrings with placeholders.
// Idempotent: placeholders never match a pattern.
func RedactPII(text string) string {
	for _, p := range redactionPatterns {
		text = p.re.ReplaceAllString(text, p.placeholder)
	}
	return text
}

// ContainsPII reports whether any redaction pattern matches.
func ContainsPII(text string) bool {
	for _, p := range redactionPatterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// EstimateTokens estimates the token count of text.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Truncate cuts text to maxTokens*CharsPerToken runes and appends the
// marker when the estimate exceeds maxTokens. maxTokens <= 0 is unlimited.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text, false
	}
	limit := maxTokens * CharsPerToken
	count := 0
	for i := range text {
		if count == limit {
			return text[:i] + TruncationMarker, true
		}
		count++
	}
	return text, false
}

// postProcessText applies the policy to a textual result. Redaction runs
// before truncation so that a cut never leaves a partial address behind.
func (m *Middleware) postProcessText(text string, p Policy) (string, bool, error) {
	if max := m.rules.MaxContentBytes; max > 0 && len(text) > max {
		return "", false, &Violation{
			Kind:   ViolationContentTooLarge,
			Detail: fmt.Sprintf("result is %d bytes, limit is %d", len(text), max),
		}
	}

	altered := false
	if p.PIIRedact {
		redacted := RedactPII(text)
		if ContainsPII(redacted) {
			return "", false, &ProcessingError{
				Kind:   ProcessingPIIRedactionFailed,
				Detail: "redacted output still matches a PII pattern",
			}
		}
		altered = redacted != text
		text = redacted
	}

	if truncated, ok := Truncate(text, p.MaxOutputTokens); ok {
		m.logger.Debug("output truncated",
			zap.String("reason", ProcessingContentTruncated.String()),
			zap.Int("max_output_tokens", p.MaxOutputTokens),
			zap.Int("estimated_tokens", EstimateTokens(text)),
		)
		text = truncated
		altered = true
	}
	return text, altered, nil
}

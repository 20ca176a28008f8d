package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Outbound screens. A respond payload that trips one of these never reaches
// the user; the loop records a blocked action and feeds a correction back to
// the model instead.

var errorShapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)insufficient credits`),
	regexp.MustCompile(`(?i)status\s*_?code["':=\s]*[45]\d\d`),
	regexp.MustCompile(`"error"\s*:\s*\{`),
	regexp.MustCompile(`openrouter\.ai/settings/credits`),
	regexp.MustCompile(`(?i)\b(applying|running|pending)\s+migrations?\b`),
	regexp.MustCompile(`(?i)\bmigrations?\s+(applied|failed)\b`),
	regexp.MustCompile(`(?i)rate limit(ed)?\s*(exceeded|reached|hit)?`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`\b(ENOENT|EACCES|EPERM|EEXIST|ENOTDIR)\b`),
	regexp.MustCompile(`(?m)^\s+at\s+\S+\s*\(.*:\d+:\d+\)`),
	regexp.MustCompile(`goroutine \d+ \[`),
	regexp.MustCompile(`(?i)socket hang up`),
	regexp.MustCompile(`\b(ECONNRESET|ETIMEDOUT|ECONNREFUSED|EPIPE)\b`),
}

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[insert[^\]]*\]`),
	regexp.MustCompile(`(?i)\[actual[^\]]*\]`),
	regexp.MustCompile(`(?i)\[timestamp\]`),
	regexp.MustCompile(`(?i)\[data here\]`),
	regexp.MustCompile(`(?i)\[message content\]`),
	regexp.MustCompile(`(?i)\[placeholder[^\]]*\]`),
	regexp.MustCompile(`(?i)\[fill in[^\]]*\]`),
	regexp.MustCompile(`(?i)\[replace with[^\]]*\]`),
	regexp.MustCompile(`(?i)\[todo[^\]]*\]`),
	regexp.MustCompile(`(?i)\[from tool results?[^\]]*\]`),
	regexp.MustCompile(`\{\{[^{}]+\}\}`),
}

const (
	errorShapeFeedback = "That message looked like a raw error dump and was not sent. " +
		"Explain what happened in plain language, or fix the problem and try again."
	placeholderFeedback = "That message still contained template placeholders and was not sent. " +
		"Use data tools first, then respond with the actual results; never send template text."
)

// IsErrorShaped reports whether text reads like a raw provider or transport
// error rather than something an agent should say to a person.
func IsErrorShaped(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if looksLikeErrorJSON(t) {
		return true
	}
	for _, p := range errorShapePatterns {
		if p.MatchString(t) {
			return true
		}
	}
	return false
}

// IsPlaceholderShaped reports whether text still carries template slots the
// model was supposed to fill with real data.
func IsPlaceholderShaped(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	for _, p := range placeholderPatterns {
		if p.MatchString(t) {
			return true
		}
	}
	return false
}

// looksLikeErrorJSON catches whole responses that are a serialized error
// object, the classic symptom of a provider error pasted straight into a
// reply.
func looksLikeErrorJSON(text string) bool {
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return false
	}
	if _, ok := doc["error"]; ok {
		return true
	}
	if sc, ok := doc["statusCode"].(float64); ok && sc >= 400 {
		return true
	}
	if sc, ok := doc["status_code"].(float64); ok && sc >= 400 {
		return true
	}
	if code, ok := doc["code"].(string); ok {
		switch code {
		case "ECONNREFUSED", "ECONNRESET", "ETIMEDOUT":
			return true
		}
	}
	return false
}

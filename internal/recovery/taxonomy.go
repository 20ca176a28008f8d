package recovery

import (
	"fmt"
	"strings"
)

// ErrorType buckets a failed tool execution so the loop can tell the model
// what kind of failure it is looking at.
type ErrorType string

const (
	ErrorTimeout     ErrorType = "timeout"
	ErrorRateLimited ErrorType = "rate_limited"
	ErrorNetwork     ErrorType = "network"
	ErrorUpstream    ErrorType = "upstream"
	ErrorAuth        ErrorType = "auth"
	ErrorPermission  ErrorType = "permission"
	ErrorUnavailable ErrorType = "unavailable"
	ErrorBadParams   ErrorType = "invalid_params"
	ErrorNotFound    ErrorType = "not_found"
	ErrorUnknown     ErrorType = "unknown"
)

// Transient reports whether retrying the same call can plausibly succeed.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorTimeout, ErrorRateLimited, ErrorNetwork, ErrorUpstream:
		return true
	}
	return false
}

// Substitutable reports whether switching to a mapped alternative tool is
// worth trying. Parameter and permission problems follow the tool, so only
// infrastructure failures qualify.
func (t ErrorType) Substitutable() bool {
	return t.Transient() || t == ErrorUnavailable
}

// classifyRules are checked in order; the first needle hit wins. Network
// shapes come before not-found so "no such host" lands in the right bucket.
var classifyRules = []struct {
	etype   ErrorType
	needles []string
}{
	{ErrorTimeout, []string{"deadline exceeded", "timed out", "timeout", "etimedout"}},
	{ErrorRateLimited, []string{"rate limit", "too many requests", "quota exceeded", "insufficient credits", "overloaded"}},
	{ErrorNetwork, []string{"econnreset", "econnrefused", "connection refused", "connection reset", "no such host", "socket hang up", "broken pipe", "network is unreachable", "unexpected eof"}},
	{ErrorUpstream, []string{"internal server error", "bad gateway", "service unavailable", "status 500", "status 502", "status 503", "status 504", "upstream"}},
	{ErrorAuth, []string{"unauthorized", "forbidden", "invalid api key", "authentication failed", "status 401", "status 403"}},
	{ErrorPermission, []string{"permission denied", "not permitted", "not allowed", "approval required", "out of scope"}},
	{ErrorUnavailable, []string{"not connected", "offline", "not configured", "unavailable", "no active", "disabled"}},
	{ErrorBadParams, []string{"invalid parameter", "invalid argument", "bad request", "missing required", "validation failed", "status 400"}},
	{ErrorNotFound, []string{"not found", "no such", "does not exist", "status 404"}},
}

// Classify maps a failure message to its error type.
func Classify(message string) ErrorType {
	msg := strings.ToLower(message)
	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.etype
			}
		}
	}
	return ErrorUnknown
}

func suggestionFor(t ErrorType, toolID string) string {
	switch t {
	case ErrorTimeout:
		return "The call timed out even after retries. Narrow the request or take a different approach."
	case ErrorRateLimited:
		return "The provider is rate limiting. Leave this tool alone for now and come back later, or use an alternative."
	case ErrorNetwork:
		return "The service could not be reached. It may be down; try an alternative."
	case ErrorUpstream:
		return "The upstream service is failing on its side. Waiting and retrying later may help."
	case ErrorAuth:
		return "Credentials were rejected. Do not retry; tell your master the account needs attention."
	case ErrorPermission:
		return "The action is not permitted. Request approval instead of retrying."
	case ErrorUnavailable:
		return "The tool is not available right now. Use an alternative."
	case ErrorBadParams:
		return fmt.Sprintf("The parameters were rejected. Fix them before calling %s again.", toolID)
	case ErrorNotFound:
		return "The target was not found. Check the name or ID before calling again."
	default:
		return "The tool failed. Try a different approach rather than repeating the same call."
	}
}

// ToolError is a classified tool failure carrying advice the loop hands
// back to the model as the action's feedback message.
type ToolError struct {
	Tool         string
	Type         ErrorType
	Suggestion   string
	Alternatives []string
	Err          error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Tool, e.Type, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Advice renders the suggestion plus any alternative tools as one line.
func (e *ToolError) Advice() string {
	if len(e.Alternatives) == 0 {
		return e.Suggestion
	}
	return e.Suggestion + " Alternatives: " + strings.Join(e.Alternatives, ", ") + "."
}

// DefaultAlternatives maps tools to fallbacks suggested when they fail.
// Only pairs that accept identical parameters appear in defaultSubstitutes
// and are tried automatically; everything here is hint material for the
// model.
func DefaultAlternatives() map[string][]string {
	return map[string][]string{
		"searchWeb":          {"searchMemory"},
		"sendTelegram":       {"sendWhatsApp", "sendEmail"},
		"sendWhatsApp":       {"sendTelegram", "sendEmail"},
		"sendEmail":          {"sendTelegram", "sendWhatsApp"},
		"sendTelegramMedia":  {"sendWhatsAppMedia"},
		"sendWhatsAppMedia":  {"sendTelegramMedia"},
		"querySMS":           {"queryNotifications"},
		"queryNotifications": {"querySMS"},
		"generateDocument":   {"respond"},
		"orchestrate":        {"createTask"},
	}
}

// defaultSubstitutes name the one tool tried automatically with the same
// params when the primary keeps failing for infrastructure reasons.
var defaultSubstitutes = map[string]string{
	"sendTelegram":       "sendWhatsApp",
	"sendWhatsApp":       "sendTelegram",
	"sendTelegramMedia":  "sendWhatsAppMedia",
	"sendWhatsAppMedia":  "sendTelegramMedia",
	"querySMS":           "queryNotifications",
	"queryNotifications": "querySMS",
}

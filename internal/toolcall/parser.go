// Package toolcall extracts structured tool invocations from model output
// and validates them against the tools actually offered, correcting the
// near-misses models habitually produce.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/pkg/models"
)

// Parse converts a model response into tool calls. When the provider used
// native function calling the structured calls are authoritative and the
// text content is ignored; otherwise the text is scanned with ParseText.
func Parse(content string, nativeCalls []ai.NativeToolCall, usedNative bool) []models.ToolCall {
	if usedNative {
		calls := make([]models.ToolCall, 0, len(nativeCalls))
		for _, nc := range nativeCalls {
			if nc.Name == "" {
				continue
			}
			calls = append(calls, models.ToolCall{
				Action:           nc.Name,
				Params:           decodeArguments(nc.Arguments),
				NativeToolCallID: nc.ID,
			})
		}
		return calls
	}
	return ParseText(content)
}

// decodeArguments accepts native arguments as a JSON object or as a
// JSON-encoded string holding one. Some providers double-encode.
func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err == nil {
		return params
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if err := json.Unmarshal([]byte(s), &params); err == nil {
			return params
		}
	}
	return map[string]any{}
}

// ParseText scans free-form model text for tool calls. Strategies run in
// order; the structural passes (whole response, balanced objects, fenced
// blocks) are all applied and their hits merged, so multi-call outputs
// survive. The lossier recovery passes only run when nothing surfaced.
func ParseText(content string) []models.ToolCall {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}

	set := newCallSet()

	// Whole response is one JSON object.
	if call, ok := decodeCall(text); ok {
		set.add(call)
	}

	// Every balanced top-level object anywhere in the text.
	for _, frag := range balancedObjects(text) {
		if call, ok := decodeCall(frag); ok {
			set.add(call)
		}
	}

	// Fenced blocks, most specific info string first. Isolating the fence
	// body rescues calls the raw scan lost to stray braces in prose.
	for _, lang := range []string{"tool", "json", ""} {
		for _, body := range fencedBlocks(text, lang) {
			for _, frag := range balancedObjects(body) {
				if call, ok := decodeCall(frag); ok {
					set.add(call)
				}
			}
		}
	}

	if len(set.calls) > 0 {
		return set.calls
	}

	// Flat object matched by regex, tolerating trailing prose damage.
	if m := flatCallPattern.FindString(text); m != "" {
		if call, ok := decodeCall(m); ok {
			set.add(call)
		}
	}

	// Balanced extraction around an "action" key, for objects buried in
	// prose with unmatched braces elsewhere.
	if len(set.calls) == 0 {
		if frag := braceAroundAction(text); frag != "" {
			if call, ok := decodeCall(frag); ok {
				set.add(call)
			}
		}
	}

	// A fence that opens and never closes still has the object in its tail.
	if len(set.calls) == 0 {
		for _, frag := range balancedObjects(unclosedFenceTail(text)) {
			if call, ok := decodeCall(frag); ok {
				set.add(call)
			}
		}
	}

	// Double-escaped output: the object arrives as an escaped string.
	if len(set.calls) == 0 {
		for _, frag := range recoverDoubleEscaped(text) {
			if call, ok := decodeCall(frag); ok {
				set.add(call)
			}
		}
	}

	return set.calls
}

// callSet accumulates calls in discovery order, deduplicated by action and
// canonical parameter encoding. Reasoning does not participate in identity.
type callSet struct {
	calls []models.ToolCall
	seen  map[string]struct{}
}

func newCallSet() *callSet {
	return &callSet{seen: make(map[string]struct{})}
}

func (s *callSet) add(call models.ToolCall) {
	enc, err := json.Marshal(call.Params)
	if err != nil {
		enc = []byte("{}")
	}
	key := call.Action + "|" + string(enc)
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.calls = append(s.calls, call)
}

// decodeCall parses one JSON fragment into a tool call. The canonical shape
// is {"action": ..., "params": {...}, "reasoning": ...}; flat objects that
// carry parameters beside the action key are accepted too.
func decodeCall(fragment string) (models.ToolCall, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(fragment), &obj); err != nil {
		return models.ToolCall{}, false
	}
	action, _ := obj["action"].(string)
	action = strings.TrimSpace(action)
	if action == "" {
		return models.ToolCall{}, false
	}

	call := models.ToolCall{Action: action}
	if r, ok := obj["reasoning"].(string); ok {
		call.Reasoning = r
	}
	if p, ok := obj["params"].(map[string]any); ok {
		call.Params = p
	} else if p, ok := obj["parameters"].(map[string]any); ok {
		call.Params = p
	}
	if call.Params == nil {
		params := make(map[string]any)
		for k, v := range obj {
			switch k {
			case "action", "params", "parameters", "reasoning":
				continue
			}
			params[k] = v
		}
		call.Params = params
	}
	return call, true
}

// balancedObjects returns every top-level {...} region in text. The scan is
// string-aware inside objects so braces in values do not break balancing;
// quotes in surrounding prose are ignored.
func balancedObjects(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}

var (
	fenceOpenPattern  = regexp.MustCompile("(?m)^[ \t]*```([^`\n]*)\n")
	fenceClosePattern = regexp.MustCompile("(?m)^[ \t]*```[ \t]*$")

	// flatCallPattern matches a single-level JSON object containing an
	// "action" key, the shape models fall back to under prompt pressure.
	flatCallPattern = regexp.MustCompile(`\{[^{}]*"action"\s*:\s*"[^"]+"[^{}]*\}`)
)

// fencedBlocks returns the bodies of closed fenced code blocks whose info
// string equals lang ("" matches bare fences).
func fencedBlocks(text, lang string) []string {
	var out []string
	rest := text
	for {
		open := fenceOpenPattern.FindStringSubmatchIndex(rest)
		if open == nil {
			return out
		}
		info := strings.TrimSpace(rest[open[2]:open[3]])
		body := rest[open[1]:]
		closeLoc := fenceClosePattern.FindStringIndex(body)
		if closeLoc == nil {
			return out
		}
		if info == lang {
			out = append(out, body[:closeLoc[0]])
		}
		rest = body[closeLoc[1]:]
	}
}

// unclosedFenceTail returns everything after the last fence opener when that
// fence never closes, else "".
func unclosedFenceTail(text string) string {
	opens := fenceOpenPattern.FindAllStringIndex(text, -1)
	if len(opens) == 0 {
		return ""
	}
	tail := text[opens[len(opens)-1][1]:]
	if fenceClosePattern.MatchString(tail) {
		return ""
	}
	return tail
}

// braceAroundAction walks outward from an "action" key: each opening brace
// before it is balanced forward, nearest first, until one spans the key.
// Prose can mention "action" too, so every occurrence gets a try.
func braceAroundAction(text string) string {
	offset := 0
	for {
		rel := strings.Index(text[offset:], `"action"`)
		if rel < 0 {
			return ""
		}
		actionIdx := offset + rel
		for start := strings.LastIndex(text[:actionIdx], "{"); start >= 0; start = strings.LastIndex(text[:start], "{") {
			frag, end := balanceForward(text, start)
			if end > actionIdx {
				return frag
			}
		}
		offset = actionIdx + len(`"action"`)
	}
}

// balanceForward balances braces from an opening brace at start, returning
// the fragment and the index just past its close, or ("", -1).
func balanceForward(text string, start int) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], i + 1
			}
		}
	}
	return "", -1
}

var doubleEscapeReplacer = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n", `\t`, "\t")

// recoverDoubleEscaped handles output where the call arrived as an escaped
// string: either one properly JSON-encoded string, or raw text riddled with
// literal \" and \n sequences.
func recoverDoubleEscaped(text string) []string {
	var s string
	if err := json.Unmarshal([]byte(text), &s); err == nil && s != "" {
		if objs := balancedObjects(s); len(objs) > 0 {
			return objs
		}
	}
	unescaped := doubleEscapeReplacer.Replace(text)
	if unescaped == text {
		return nil
	}
	return balancedObjects(unescaped)
}

var (
	metaIntentPattern = regexp.MustCompile(`(?i)\b(i['’]?ll|i will|let me|going to|i need to|i should|i intend to)\b`)
	metaToolPattern   = regexp.MustCompile(`(?i)\b(tool|function|action|command)s?\b`)
)

// IsMetaTalk reports whether text talks about invoking tools without
// containing anything parseable as a call. The reasoning loop uses it to
// decide when a correction prompt is worth one more iteration.
func IsMetaTalk(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.Contains(t, `"action"`) {
		return false
	}
	return metaIntentPattern.MatchString(t) && metaToolPattern.MatchString(t)
}

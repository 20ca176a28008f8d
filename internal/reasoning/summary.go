package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/legionruntime/legion/internal/ai"
)

const (
	maxSummaryChars = 800
	maxFieldChars   = 200
	maxSliceItems   = 3

	// Transcript truncation: keep the opening exchange and the recent tail,
	// preserve a few tool results from the middle.
	keepHead        = 3
	keepTail        = 5
	keepToolResults = 4
	toolResultCap   = 300
)

// SummarizeResult renders a tool result into a bounded feedback string. Long
// fields are cut individually before the whole string is capped at maxChars;
// file-producing results get a file-first summary so the model knows what
// already reached the user.
func SummarizeResult(toolID string, result any, maxChars int) string {
	if maxChars <= 0 {
		maxChars = maxSummaryChars
	}
	if result == nil {
		return "(no output)"
	}

	if s, ok := summarizeFiles(toolID, result); ok {
		return capString(s, maxChars)
	}

	switch v := result.(type) {
	case string:
		return capString(strings.TrimSpace(v), maxChars)
	case error:
		return capString(v.Error(), maxChars)
	case []any:
		return capString(summarizeSlice(v), maxChars)
	case map[string]any:
		return capString(summarizeMap(v), maxChars)
	}

	// Typed payloads go through JSON so per-field truncation applies.
	raw, err := json.Marshal(result)
	if err != nil {
		return capString(fmt.Sprintf("%v", result), maxChars)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err == nil {
		switch v := doc.(type) {
		case []any:
			return capString(summarizeSlice(v), maxChars)
		case map[string]any:
			return capString(summarizeMap(v), maxChars)
		case string:
			return capString(v, maxChars)
		}
	}
	return capString(string(raw), maxChars)
}

type createdFile struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	FullPath      string `json:"fullPath"`
	Size          string `json:"size"`
	SizeHuman     string `json:"sizeHuman"`
	MimeType      string `json:"mimeType"`
	AutoDelivered bool   `json:"autoDelivered"`
}

// summarizeFiles handles results that carry a createdFiles list, typically
// from CLI providers that wrote artifacts to the workspace.
func summarizeFiles(toolID string, result any) (string, bool) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", false
	}
	var payload struct {
		CreatedFiles []createdFile `json:"createdFiles"`
		Response     string        `json:"response"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.CreatedFiles) == 0 {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tool %q created %d file(s):\n", toolID, len(payload.CreatedFiles))
	delivered := false
	for _, f := range payload.CreatedFiles {
		name := f.Name
		if name == "" {
			name = f.Path
		}
		fmt.Fprintf(&b, "- %s", name)
		if size := firstNonEmpty(f.SizeHuman, f.Size); size != "" {
			fmt.Fprintf(&b, " (%s", size)
			if f.MimeType != "" {
				fmt.Fprintf(&b, ", %s", f.MimeType)
			}
			b.WriteString(")")
		} else if f.MimeType != "" {
			fmt.Fprintf(&b, " (%s)", f.MimeType)
		}
		if path := firstNonEmpty(f.FullPath, f.Path); path != "" {
			fmt.Fprintf(&b, " at %s", path)
		}
		if f.AutoDelivered {
			b.WriteString(" [already delivered to the user]")
			delivered = true
		}
		b.WriteString("\n")
	}
	if r := strings.TrimSpace(payload.Response); r != "" {
		fmt.Fprintf(&b, "Provider response: %s\n", capString(r, toolResultCap))
	}
	if delivered {
		b.WriteString("Files marked as delivered are already with the user; do not send them again.")
	}
	return strings.TrimRight(b.String(), "\n"), true
}

func summarizeSlice(items []any) string {
	n := len(items)
	if n == 0 {
		return "[0 items]"
	}
	show := n
	if show > maxSliceItems {
		show = maxSliceItems
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%d items] First %d: ", n, show)
	for i := 0; i < show; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(compactJSON(trimValue(items[i])))
	}
	if n > show {
		fmt.Fprintf(&b, " ... and %d more", n-show)
	}
	return b.String()
}

func summarizeMap(doc map[string]any) string {
	trimmed := make(map[string]any, len(doc))
	for k, v := range doc {
		trimmed[k] = trimValue(v)
	}
	return compactJSON(trimmed)
}

// trimValue cuts long strings and oversized arrays inside a payload so one
// verbose field cannot eat the whole summary budget.
func trimValue(v any) any {
	switch t := v.(type) {
	case string:
		if len(t) > maxFieldChars {
			return capString(t, maxFieldChars)
		}
		return t
	case []any:
		if len(t) > maxSliceItems {
			out := make([]any, 0, maxSliceItems+1)
			for _, item := range t[:maxSliceItems] {
				out = append(out, trimValue(item))
			}
			out = append(out, fmt.Sprintf("... +%d more", len(t)-maxSliceItems))
			return out
		}
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, trimValue(item))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = trimValue(item)
		}
		return out
	}
	return v
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... [truncated, %d chars total]", len(s))
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// truncateConversation bounds the transcript sent to the model. The system
// prompt at index 0 always survives. The head and tail of the conversation
// are kept verbatim; from the middle, the most recent tool-result messages
// are preserved (clipped when long) and the rest collapses into one marker.
func truncateConversation(msgs []ai.Message) []ai.Message {
	if len(msgs) == 0 || msgs[0].Role != "system" {
		return msgs
	}
	conv := msgs[1:]
	if len(conv) <= keepHead+keepTail {
		return msgs
	}

	head := conv[:keepHead]
	tail := conv[len(conv)-keepTail:]
	middle := conv[keepHead : len(conv)-keepTail]

	var kept []ai.Message
	for i := len(middle) - 1; i >= 0 && len(kept) < keepToolResults; i-- {
		m := middle[i]
		if !strings.HasPrefix(m.Content, `Tool "`) {
			continue
		}
		if len(m.Content) > toolResultCap {
			m.Content = m.Content[:toolResultCap] + "..."
		}
		kept = append([]ai.Message{m}, kept...)
	}

	marker := ai.Message{
		Role: "system",
		Content: fmt.Sprintf("[%d earlier messages trimmed; %d tool results preserved below]",
			len(middle)-len(kept), len(kept)),
	}

	out := make([]ai.Message, 0, 2+keepHead+len(kept)+keepTail)
	out = append(out, msgs[0])
	out = append(out, head...)
	out = append(out, marker)
	out = append(out, kept...)
	out = append(out, tail...)
	return out
}

package toolcall

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/pkg/models"
)

func TestParse_NativeCalls(t *testing.T) {
	native := []ai.NativeToolCall{
		{ID: "call_1", Name: "respond", Arguments: json.RawMessage(`{"message":"hi"}`)},
		{ID: "call_2", Name: "searchWeb", Arguments: json.RawMessage(`{"query":"go 1.24 release notes"}`)},
	}

	calls := Parse("ignored text content", native, true)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Action != "respond" || calls[0].NativeToolCallID != "call_1" {
		t.Errorf("first call = %+v", calls[0])
	}
	if got := calls[0].Params["message"]; got != "hi" {
		t.Errorf("message param = %v", got)
	}
	if calls[1].Action != "searchWeb" || calls[1].NativeToolCallID != "call_2" {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestParse_NativeStringEncodedArguments(t *testing.T) {
	native := []ai.NativeToolCall{
		{ID: "call_9", Name: "searchWeb", Arguments: json.RawMessage(`"{\"query\":\"latest news\"}"`)},
	}

	calls := Parse("", native, true)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := calls[0].Params["query"]; got != "latest news" {
		t.Errorf("query param = %v", got)
	}
}

func TestParse_NativeEmptyAndUnnamed(t *testing.T) {
	native := []ai.NativeToolCall{
		{ID: "call_1", Name: "", Arguments: json.RawMessage(`{}`)},
		{ID: "call_2", Name: "done"},
	}

	calls := Parse("", native, true)
	if len(calls) != 1 {
		t.Fatalf("expected unnamed call skipped, got %d calls", len(calls))
	}
	if calls[0].Action != "done" {
		t.Errorf("action = %q", calls[0].Action)
	}
	if calls[0].Params == nil || len(calls[0].Params) != 0 {
		t.Errorf("missing arguments should decode to empty params, got %v", calls[0].Params)
	}
}

func TestParse_TextPathWhenNativeUnused(t *testing.T) {
	calls := Parse(`{"action": "done", "params": {}}`, nil, false)
	if len(calls) != 1 || calls[0].Action != "done" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].NativeToolCallID != "" {
		t.Errorf("text-path call should carry no native ID")
	}
}

func TestParseText_Corpus(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []models.ToolCall
	}{
		{
			name: "bare object",
			in:   `{"action": "respond", "params": {"message": "hi"}, "reasoning": "greet back"}`,
			want: []models.ToolCall{
				{Action: "respond", Params: map[string]any{"message": "hi"}, Reasoning: "greet back"},
			},
		},
		{
			name: "object surrounded by prose",
			in:   "Here is what I will do next.\n\n{\"action\": \"searchWeb\", \"params\": {\"query\": \"tokyo weather\"}, \"reasoning\": \"user asked\"}",
			want: []models.ToolCall{
				{Action: "searchWeb", Params: map[string]any{"query": "tokyo weather"}, Reasoning: "user asked"},
			},
		},
		{
			name: "fenced tool block",
			in:   "```tool\n{\"action\": \"generatePlan\", \"params\": {\"goal\": \"ship onboarding\"}}\n```",
			want: []models.ToolCall{
				{Action: "generatePlan", Params: map[string]any{"goal": "ship onboarding"}},
			},
		},
		{
			name: "fenced json block",
			in:   "Sure!\n```json\n{\"action\": \"createSchedule\", \"params\": {\"time\": \"09:00\", \"repeat\": true}}\n```",
			want: []models.ToolCall{
				{Action: "createSchedule", Params: map[string]any{"time": "09:00", "repeat": true}},
			},
		},
		{
			name: "nested params survive balancing",
			in:   `{"action": "sendEmail", "params": {"contactName": "John", "draft": {"subject": "Hi", "body": "checking in"}}}`,
			want: []models.ToolCall{
				{Action: "sendEmail", Params: map[string]any{
					"contactName": "John",
					"draft":       map[string]any{"subject": "Hi", "body": "checking in"},
				}},
			},
		},
		{
			name: "multiple objects in order",
			in:   "{\"action\": \"saveMemory\", \"params\": {\"content\": \"prefers jazz\"}}\nAnd then:\n```json\n{\"action\": \"respond\", \"params\": {\"message\": \"Noted!\"}}\n```",
			want: []models.ToolCall{
				{Action: "saveMemory", Params: map[string]any{"content": "prefers jazz"}},
				{Action: "respond", Params: map[string]any{"message": "Noted!"}},
			},
		},
		{
			name: "duplicate call collapses",
			in:   "{\"action\": \"done\", \"params\": {}}\n```json\n{\"action\": \"done\", \"params\": {}}\n```",
			want: []models.ToolCall{
				{Action: "done", Params: map[string]any{}},
			},
		},
		{
			name: "fence isolation beats stray prose brace",
			in:   "An object looks like {\n```json\n{\"action\": \"done\", \"params\": {}}\n```",
			want: []models.ToolCall{
				{Action: "done", Params: map[string]any{}},
			},
		},
		{
			name: "flat object after unmatched brace",
			in:   "Unmatched brace { in my explanation.\n{\"action\": \"silent\"}",
			want: []models.ToolCall{
				{Action: "silent", Params: map[string]any{}},
			},
		},
		{
			name: "balanced extraction around action key",
			in:   "JSON objects start with {.\n{\"action\": \"sendTelegram\", \"params\": {\"contactName\": \"Maya\", \"message\": \"on my way\"}}",
			want: []models.ToolCall{
				{Action: "sendTelegram", Params: map[string]any{"contactName": "Maya", "message": "on my way"}},
			},
		},
		{
			name: "unclosed fence recovery",
			in:   "The \"action\" field is required. Example: {\n```json\n{\"action\": \"respond\", \"params\": {\"message\": \"recovered\"}}",
			want: []models.ToolCall{
				{Action: "respond", Params: map[string]any{"message": "recovered"}},
			},
		},
		{
			name: "double escaped object",
			in:   `{\"action\": \"respond\", \"params\": {\"message\": \"hello again\"}}`,
			want: []models.ToolCall{
				{Action: "respond", Params: map[string]any{"message": "hello again"}},
			},
		},
		{
			name: "object encoded as json string",
			in:   `"{\"action\": \"done\", \"params\": {}}"`,
			want: []models.ToolCall{
				{Action: "done", Params: map[string]any{}},
			},
		},
		{
			name: "flat params hoisted",
			in:   `{"action": "respond", "message": "hi there", "reasoning": "smalltalk"}`,
			want: []models.ToolCall{
				{Action: "respond", Params: map[string]any{"message": "hi there"}, Reasoning: "smalltalk"},
			},
		},
		{
			name: "parameters key accepted",
			in:   `{"action": "searchWeb", "parameters": {"query": "go generics"}}`,
			want: []models.ToolCall{
				{Action: "searchWeb", Params: map[string]any{"query": "go generics"}},
			},
		},
		{
			name: "meta talk yields nothing",
			in:   "I'll use the searchWeb tool to look that up first.",
			want: nil,
		},
		{
			name: "plain answer yields nothing",
			in:   "Tokyo will be 22 degrees and sunny tomorrow.",
			want: nil,
		},
		{
			name: "object without action ignored",
			in:   `{"params": {"query": "x"}}`,
			want: nil,
		},
		{
			name: "unquoted pseudo json ignored",
			in:   "{action: respond}",
			want: nil,
		},
		{
			name: "empty input",
			in:   "   \n  ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseText(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d calls %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i].Action != tt.want[i].Action {
					t.Errorf("call %d action = %q, want %q", i, got[i].Action, tt.want[i].Action)
				}
				if !reflect.DeepEqual(got[i].Params, tt.want[i].Params) {
					t.Errorf("call %d params = %#v, want %#v", i, got[i].Params, tt.want[i].Params)
				}
				if got[i].Reasoning != tt.want[i].Reasoning {
					t.Errorf("call %d reasoning = %q, want %q", i, got[i].Reasoning, tt.want[i].Reasoning)
				}
			}
		})
	}
}

func TestIsMetaTalk(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"announces tool use", "I'll use the searchWeb tool to look that up.", true},
		{"let me run", "Let me run the respond function now.", true},
		{"going to with tools", "I am going to use my tools to help with this.", true},
		{"contains action json", `{"action": "respond"}`, false},
		{"plain answer", "Tokyo will be 22 degrees and sunny tomorrow.", false},
		{"intent without tool words", "I should check with you first. Which city?", false},
		{"tool words without intent", "That tool is not available on this platform.", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMetaTalk(tt.in); got != tt.want {
				t.Errorf("IsMetaTalk(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

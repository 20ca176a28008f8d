package toolcall

import (
	"errors"
	"reflect"
	"testing"

	"github.com/legionruntime/legion/pkg/models"
)

var testTools = []string{
	"respond", "searchWeb", "done", "generatePlan",
	"saveMemory", "sendTelegram", "requestHumanInput",
}

var testSchemas = map[string]Schema{
	"respond":    {Required: []string{"message"}},
	"searchWeb":  {Required: []string{"query"}, Optional: []string{"maxResults"}},
	"sendEmail":  {Required: []string{"contactName", "subject", "body"}},
	"createTask": {Required: []string{"description"}, Optional: []string{"due_date"}},
}

func TestValidate_DirectMatch(t *testing.T) {
	call := models.ToolCall{
		Action:           "respond",
		Params:           map[string]any{"message": "hi"},
		Reasoning:        "greet",
		NativeToolCallID: "call_7",
	}

	got, err := Validate(call, testTools, testSchemas)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Action != "respond" {
		t.Errorf("action = %q", got.Action)
	}
	if got.Reasoning != "greet" || got.NativeToolCallID != "call_7" {
		t.Errorf("metadata not preserved: %+v", got)
	}
	if got.Params["message"] != "hi" {
		t.Errorf("params = %v", got.Params)
	}
}

func TestValidate_CaseInsensitiveMatch(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Respond", "respond"},
		{"RESPOND", "respond"},
		{"SearchWeb", "searchWeb"},
	}
	for _, tt := range tests {
		got, err := Validate(models.ToolCall{Action: tt.in}, testTools, nil)
		if err != nil {
			t.Fatalf("Validate(%q): %v", tt.in, err)
		}
		if got.Action != tt.want {
			t.Errorf("Validate(%q) = %q, want %q", tt.in, got.Action, tt.want)
		}
	}
}

func TestValidate_Aliases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"respondToUser", "respond"},
		{"respond_to_user", "respond"},
		{"web_search", "searchWeb"},
		{"search", "searchWeb"},
		{"finish", "done"},
		{"complete", "done"},
		{"createPlan", "generatePlan"},
		{"remember", "saveMemory"},
		{"save_memory", "saveMemory"},
		{"ask_human", "requestHumanInput"},
		{"ASK_HUMAN", "requestHumanInput"},
		{"send_telegram", "sendTelegram"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Validate(models.ToolCall{Action: tt.in}, testTools, nil)
			if err != nil {
				t.Fatalf("Validate(%q): %v", tt.in, err)
			}
			if got.Action != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.in, got.Action, tt.want)
			}
		})
	}
}

func TestValidate_AliasTargetUnavailable(t *testing.T) {
	_, err := Validate(models.ToolCall{Action: "search"}, []string{"respond", "done"}, nil)
	var ute *UnknownToolError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if ute.Tool != "search" {
		t.Errorf("Tool = %q", ute.Tool)
	}
}

func TestValidate_FuzzyMatch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"serchWeb", "searchWeb"},
		{"respnd", "respond"},
		{"generatePlam", "generatePlan"},
		{"dones", "done"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Validate(models.ToolCall{Action: tt.in}, testTools, nil)
			if err != nil {
				t.Fatalf("Validate(%q): %v", tt.in, err)
			}
			if got.Action != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.in, got.Action, tt.want)
			}
		})
	}
}

func TestValidate_UnknownReturnsSuggestions(t *testing.T) {
	_, err := Validate(models.ToolCall{Action: "zzzzzz"}, testTools, nil)
	var ute *UnknownToolError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if ute.Tool != "zzzzzz" {
		t.Errorf("Tool = %q", ute.Tool)
	}
	want := []string{"done", "respond", "searchWeb", "saveMemory", "generatePlan"}
	if !reflect.DeepEqual(ute.Suggestions, want) {
		t.Errorf("Suggestions = %v, want %v", ute.Suggestions, want)
	}
	if ute.Error() == "" {
		t.Error("error string empty")
	}
}

func TestValidate_EmptyAction(t *testing.T) {
	if _, err := Validate(models.ToolCall{}, testTools, nil); err == nil {
		t.Fatal("expected error for empty action")
	}
}

func TestValidate_ParamCorrection(t *testing.T) {
	avail := append([]string{"sendEmail", "createTask"}, testTools...)

	tests := []struct {
		name   string
		call   models.ToolCall
		want   string
		params map[string]any
	}{
		{
			name:   "alias rename",
			call:   models.ToolCall{Action: "respond", Params: map[string]any{"text": "hi"}},
			want:   "respond",
			params: map[string]any{"message": "hi"},
		},
		{
			name: "schema owns the name so no rename",
			call: models.ToolCall{Action: "sendEmail", Params: map[string]any{
				"to": "Bob", "subject": "Yo", "body": "hello",
			}},
			want: "sendEmail",
			params: map[string]any{
				"contactName": "Bob", "subject": "Yo", "body": "hello",
			},
		},
		{
			name:   "canonical already present",
			call:   models.ToolCall{Action: "respond", Params: map[string]any{"message": "x", "text": "y"}},
			want:   "respond",
			params: map[string]any{"message": "x", "text": "y"},
		},
		{
			name:   "snake case flipped to camel",
			call:   models.ToolCall{Action: "searchWeb", Params: map[string]any{"query": "go", "max_results": 5}},
			want:   "searchWeb",
			params: map[string]any{"query": "go", "maxResults": 5},
		},
		{
			name:   "camel case flipped to snake",
			call:   models.ToolCall{Action: "createTask", Params: map[string]any{"description": "d", "dueDate": "tomorrow"}},
			want:   "createTask",
			params: map[string]any{"description": "d", "due_date": "tomorrow"},
		},
		{
			name:   "competing aliases resolve deterministically",
			call:   models.ToolCall{Action: "respond", Params: map[string]any{"msg": "a", "text": "b"}},
			want:   "respond",
			params: map[string]any{"message": "a", "text": "b"},
		},
		{
			name:   "no schema entry leaves params alone",
			call:   models.ToolCall{Action: "done", Params: map[string]any{"text": "x"}},
			want:   "done",
			params: map[string]any{"text": "x"},
		},
		{
			name:   "unknown extras kept",
			call:   models.ToolCall{Action: "searchWeb", Params: map[string]any{"query": "ok", "foo": "bar"}},
			want:   "searchWeb",
			params: map[string]any{"query": "ok", "foo": "bar"},
		},
		{
			name:   "correction after fuzzy resolution",
			call:   models.ToolCall{Action: "serchWeb", Params: map[string]any{"q": "news"}},
			want:   "searchWeb",
			params: map[string]any{"query": "news"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.call, avail, testSchemas)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got.Action != tt.want {
				t.Errorf("action = %q, want %q", got.Action, tt.want)
			}
			if !reflect.DeepEqual(got.Params, tt.params) {
				t.Errorf("params = %#v, want %#v", got.Params, tt.params)
			}
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"serchweb", "searchweb", 1},
		{"respnd", "respond", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := levenshtein(tt.a, tt.b); got != tt.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

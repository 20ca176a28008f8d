package reasoning

import "testing"

func TestIsErrorShaped(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "plain answer",
			text: "The weather in Tokyo is 22C and sunny.",
			want: false,
		},
		{
			name: "empty",
			text: "",
			want: false,
		},
		{
			name: "insufficient credits",
			text: "Insufficient credits. Add more at openrouter.ai/settings/credits",
			want: true,
		},
		{
			name: "http status code",
			text: `Request failed with statusCode: 429`,
			want: true,
		},
		{
			name: "embedded error object",
			text: `something went wrong: {"error": {"message": "bad gateway"}}`,
			want: true,
		},
		{
			name: "whole json error payload",
			text: `{"error":{"message":"rate limited","code":429}}`,
			want: true,
		},
		{
			name: "whole json status code",
			text: `{"status_code": 503, "detail": "upstream unavailable"}`,
			want: true,
		},
		{
			name: "whole json benign",
			text: `{"result": "ok", "count": 3}`,
			want: false,
		},
		{
			name: "migration noise",
			text: "Applying migrations... done. 4 migrations applied.",
			want: true,
		},
		{
			name: "rate limit prose",
			text: "We hit a rate limit exceeded response from the provider.",
			want: true,
		},
		{
			name: "too many requests",
			text: "429 Too Many Requests",
			want: true,
		},
		{
			name: "errno code",
			text: "open /tmp/x: ENOENT",
			want: true,
		},
		{
			name: "node stack trace",
			text: "Error: boom\n    at Object.run (/app/index.js:10:5)",
			want: true,
		},
		{
			name: "goroutine dump",
			text: "panic: nil deref\n\ngoroutine 12 [running]:",
			want: true,
		},
		{
			name: "socket hang up",
			text: "request failed: socket hang up",
			want: true,
		},
		{
			name: "connection reset",
			text: "read tcp: ECONNRESET",
			want: true,
		},
		{
			name: "mentions the word error casually",
			text: "I double-checked and there was no error in the report.",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErrorShaped(tt.text); got != tt.want {
				t.Fatalf("IsErrorShaped(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsPlaceholderShaped(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "real content",
			text: "Your meeting with Dana is at 3pm tomorrow.",
			want: false,
		},
		{
			name: "insert marker",
			text: "Here are your results: [Insert results here]",
			want: true,
		},
		{
			name: "actual marker",
			text: "The total is [actual amount].",
			want: true,
		},
		{
			name: "timestamp marker",
			text: "Last sync at [timestamp].",
			want: true,
		},
		{
			name: "mustache template",
			text: "Hello {{userName}}, your order shipped.",
			want: true,
		},
		{
			name: "from tool results marker",
			text: "Summary: [from tool results]",
			want: true,
		},
		{
			name: "square brackets with real content",
			text: "Put the report in the [Q3] folder.",
			want: false,
		},
		{
			name: "empty",
			text: "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPlaceholderShaped(tt.text); got != tt.want {
				t.Fatalf("IsPlaceholderShaped(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

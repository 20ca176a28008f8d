// Package aitest provides a scripted ai.Router for tests.
package aitest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/legionruntime/legion/internal/ai"
)

// Router replays queued responses in order. When the queue is empty it
// returns Default, or a plain done call if Default is nil. Safe for
// concurrent use.
type Router struct {
	mu       sync.Mutex
	queue    []step
	requests []*ai.Request

	// Default is returned once the queue is drained.
	Default *ai.Response
}

type step struct {
	resp *ai.Response
	err  error
}

// NewRouter returns an empty scripted router.
func NewRouter() *Router {
	return &Router{}
}

// Enqueue appends a scripted response.
func (r *Router) Enqueue(resp *ai.Response) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, step{resp: resp})
	return r
}

// EnqueueError appends a scripted failure.
func (r *Router) EnqueueError(err error) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, step{err: err})
	return r
}

// Process pops the next scripted step and records the request.
func (r *Router) Process(ctx context.Context, req *ai.Request, opts *ai.Options) (*ai.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)

	if len(r.queue) == 0 {
		if r.Default != nil {
			return r.Default, nil
		}
		return ToolCall("done", map[string]any{"summary": "done"}, ""), nil
	}
	next := r.queue[0]
	r.queue = r.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

// Requests returns every request seen so far.
func (r *Router) Requests() []*ai.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ai.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// Calls returns how many times Process ran.
func (r *Router) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Text builds a plain-text response with no tool call.
func Text(content string) *ai.Response {
	return &ai.Response{
		Content:      content,
		FinishReason: ai.FinishStop,
		Usage:        ai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Provider:     "fake",
		Model:        "fake-model",
	}
}

// ToolCall builds a text-mode response carrying one fenced tool block.
func ToolCall(action string, params map[string]any, reasoning string) *ai.Response {
	body := map[string]any{"action": action}
	if params != nil {
		body["params"] = params
	}
	if reasoning != "" {
		body["reasoning"] = reasoning
	}
	raw, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("aitest: marshal tool call: %v", err))
	}
	resp := Text("```tool\n" + string(raw) + "\n```")
	return resp
}

// NativeToolCall builds a response using the provider-native tool path.
func NativeToolCall(id, name string, args map[string]any) *ai.Response {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("aitest: marshal native args: %v", err))
	}
	return &ai.Response{
		NativeToolCalls: []ai.NativeToolCall{{ID: id, Name: name, Arguments: raw}},
		UsedNativeTools: true,
		FinishReason:    ai.FinishToolCalls,
		Usage:           ai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Provider:        "fake",
		Model:           "fake-model",
	}
}

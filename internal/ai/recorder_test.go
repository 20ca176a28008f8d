package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

type stubRouter struct {
	resp *Response
	err  error
}

func (s *stubRouter) Process(ctx context.Context, req *Request, opts *Options) (*Response, error) {
	return s.resp, s.err
}

type capturingRecorder struct {
	records []*models.UsageRecord
	err     error
}

func (c *capturingRecorder) Record(ctx context.Context, rec *models.UsageRecord) error {
	c.records = append(c.records, rec)
	return c.err
}

func TestRecordingRouter_RecordsUsage(t *testing.T) {
	inner := &stubRouter{resp: &Response{
		Content:      "done",
		FinishReason: FinishStop,
		Usage:        Usage{PromptTokens: 200, CompletionTokens: 80, TotalTokens: 280},
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-20250514",
	}}
	recorder := &capturingRecorder{}
	router := NewRecordingRouter(inner, recorder, nil, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	router.now = func() time.Time { return fixed }

	resp, err := router.Process(context.Background(), &Request{
		AgentID:        "agent-1",
		UserID:         "user-1",
		TaskID:         "task-9",
		ConversationID: "conv-3",
		Source:         "telegram",
		RequestType:    "synthesis",
	}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("content = %q, want passthrough", resp.Content)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("records = %d, want 1", len(recorder.records))
	}
	rec := recorder.records[0]
	if rec.ID == "" {
		t.Error("record ID not set")
	}
	if rec.AgentID != "agent-1" || rec.UserID != "user-1" {
		t.Errorf("attribution = (%q, %q), want (agent-1, user-1)", rec.AgentID, rec.UserID)
	}
	if rec.RequestType != "synthesis" {
		t.Errorf("request type = %q, want synthesis", rec.RequestType)
	}
	if rec.Provider != "anthropic" || rec.Model != "claude-sonnet-4-20250514" {
		t.Errorf("provenance = (%q, %q)", rec.Provider, rec.Model)
	}
	if rec.InputTokens != 200 || rec.OutputTokens != 80 || rec.TotalTokens != 280 {
		t.Errorf("tokens = (%d, %d, %d), want (200, 80, 280)", rec.InputTokens, rec.OutputTokens, rec.TotalTokens)
	}
	if rec.TaskID != "task-9" || rec.ConversationID != "conv-3" || rec.Source != "telegram" {
		t.Errorf("context = (%q, %q, %q)", rec.TaskID, rec.ConversationID, rec.Source)
	}
	if !rec.CreatedAt.Equal(fixed) {
		t.Errorf("created at = %v, want %v", rec.CreatedAt, fixed)
	}
}

func TestRecordingRouter_DefaultsRequestType(t *testing.T) {
	inner := &stubRouter{resp: &Response{Provider: "openai", Model: "gpt-4o"}}
	recorder := &capturingRecorder{}
	router := NewRecordingRouter(inner, recorder, nil, nil)

	if _, err := router.Process(context.Background(), &Request{AgentID: "a"}, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := recorder.records[0].RequestType; got != "reasoning" {
		t.Errorf("request type = %q, want reasoning default", got)
	}
}

func TestRecordingRouter_ErrorSkipsRecord(t *testing.T) {
	inner := &stubRouter{err: errors.New("boom")}
	recorder := &capturingRecorder{}
	router := NewRecordingRouter(inner, recorder, nil, nil)

	if _, err := router.Process(context.Background(), &Request{}, nil); err == nil {
		t.Fatal("expected error")
	}
	if len(recorder.records) != 0 {
		t.Errorf("records = %d, want 0 on error", len(recorder.records))
	}
}

func TestRecordingRouter_RecordFailureDoesNotPropagate(t *testing.T) {
	inner := &stubRouter{resp: &Response{Provider: "openai", Model: "gpt-4o"}}
	recorder := &capturingRecorder{err: errors.New("db closed")}
	router := NewRecordingRouter(inner, recorder, nil, nil)

	resp, err := router.Process(context.Background(), &Request{}, nil)
	if err != nil {
		t.Fatalf("Process() error = %v, accounting must not fail the request", err)
	}
	if resp == nil {
		t.Fatal("response dropped")
	}
}

func TestRecordingRouter_NilSinks(t *testing.T) {
	inner := &stubRouter{resp: &Response{Provider: "openai", Model: "gpt-4o"}}
	router := NewRecordingRouter(inner, nil, nil, nil)

	if _, err := router.Process(context.Background(), &Request{}, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
}

package agentcomm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

var commBase = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, store.StoreSet) {
	t.Helper()
	stores := store.NewMemoryStores()
	svc := NewService(stores, nil)
	svc.now = func() time.Time { return commBase }

	agents := []*models.Agent{
		{ID: "agent-a", UserID: "user-1", Name: "Atlas", Status: models.AgentActive},
		{ID: "agent-b", UserID: "user-1", Name: "Beacon", Status: models.AgentActive},
		{ID: "agent-c", UserID: "user-2", Name: "Cinder", Status: models.AgentActive},
	}
	for _, a := range agents {
		if err := stores.Agents.Create(context.Background(), a); err != nil {
			t.Fatalf("seed agent %s: %v", a.ID, err)
		}
	}
	return svc, stores
}

func mustSend(t *testing.T, svc *Service, p SendParams) *models.AgentMessage {
	t.Helper()
	msg, err := svc.Send(context.Background(), p)
	if err != nil {
		t.Fatalf("Send(%s -> %s): %v", p.From, p.To, err)
	}
	return msg
}

func TestSend_DeliversIntoSharedThread(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	first := mustSend(t, svc, SendParams{
		From: "agent-a", To: "agent-b", Type: models.AgentMsgCoordination,
		Subject: "Standup", Content: "Who owns the weekly report?",
	})
	if first.Status != models.AgentMsgDelivered {
		t.Fatalf("status = %s, want delivered", first.Status)
	}

	stored, err := stores.Messages.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.Status != models.AgentMsgDelivered {
		t.Fatalf("stored status = %s, want delivered", stored.Status)
	}
	if stored.Priority != models.PriorityNormal {
		t.Fatalf("priority = %s, want the normal default", stored.Priority)
	}
	if !stored.CreatedAt.Equal(commBase) {
		t.Fatalf("created at = %v", stored.CreatedAt)
	}

	// The return leg lands in the same thread.
	second := mustSend(t, svc, SendParams{
		From: "agent-b", To: "agent-a", Type: models.AgentMsgCoordination,
		Content: "I do.",
	})
	if second.ThreadID != first.ThreadID {
		t.Fatalf("threads differ: %s vs %s", second.ThreadID, first.ThreadID)
	}

	thread, err := stores.Messages.GetThread(ctx, first.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", thread.MessageCount)
	}
	if !thread.LastMessageAt.Equal(commBase) {
		t.Fatalf("last message at = %v", thread.LastMessageAt)
	}

	for agent, want := range map[string]int{"agent-a": 1, "agent-b": 1} {
		n, err := svc.Unread(ctx, agent)
		if err != nil {
			t.Fatalf("Unread(%s): %v", agent, err)
		}
		if n != want {
			t.Errorf("Unread(%s) = %d, want %d", agent, n, want)
		}
	}
}

func TestSend_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Send(ctx, SendParams{To: "agent-b", Content: "x"}); err == nil {
		t.Fatal("accepted missing sender")
	}
	if _, err := svc.Send(ctx, SendParams{From: "agent-a", Content: "x"}); err == nil {
		t.Fatal("accepted missing receiver")
	}
	if _, err := svc.Send(ctx, SendParams{From: "agent-a", To: "agent-a", Content: "x"}); !errors.Is(err, ErrSelfSend) {
		t.Fatalf("self send err = %v", err)
	}
	if _, err := svc.Send(ctx, SendParams{From: "agent-a", To: "agent-b", Content: "  "}); err == nil {
		t.Fatal("accepted blank content")
	}
}

func TestSend_CrossUserRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Send(context.Background(), SendParams{From: "agent-a", To: "agent-c", Content: "psst"})
	if !errors.Is(err, ErrCrossUser) {
		t.Fatalf("err = %v, want ErrCrossUser", err)
	}
}

func TestSend_UnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Send(context.Background(), SendParams{From: "agent-a", To: "ghost", Content: "hello"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSend_TaskThreadIsSeparate(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	direct := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "hi"})
	tasked := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "status?", TaskID: "task-7"})
	if direct.ThreadID == tasked.ThreadID {
		t.Fatal("task traffic must not share the direct thread")
	}

	thread, err := stores.Messages.GetThread(ctx, tasked.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.ThreadType != models.ThreadTask || thread.TaskID != "task-7" {
		t.Fatalf("thread = %+v, want a task thread for task-7", thread)
	}
}

func TestSend_CorrelationFollowsResponseExpectation(t *testing.T) {
	svc, _ := newTestService(t)

	ask := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Type: models.AgentMsgRequest, Content: "Can you cover Friday?"})
	if ask.CorrelationID != ask.ID {
		t.Fatalf("request correlation = %q, want its own id", ask.CorrelationID)
	}

	fyi := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Type: models.AgentMsgNotification, Content: "Deploy done."})
	if fyi.CorrelationID != "" {
		t.Fatalf("notification correlation = %q, want empty", fyi.CorrelationID)
	}
}

func TestReply(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	orig := mustSend(t, svc, SendParams{
		From: "agent-a", To: "agent-b", Type: models.AgentMsgRequest,
		Subject: "Coverage", Content: "Can you cover Friday?", Priority: models.PriorityUrgent,
	})

	reply, err := svc.Reply(ctx, orig.ID, "Yes, I have capacity.", nil)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.FromAgentID != "agent-b" || reply.ToAgentID != "agent-a" {
		t.Fatalf("reply direction = %s -> %s", reply.FromAgentID, reply.ToAgentID)
	}
	if reply.ThreadID != orig.ThreadID {
		t.Fatal("reply left the thread")
	}
	if reply.Type != models.AgentMsgResponse {
		t.Fatalf("reply type = %s", reply.Type)
	}
	if reply.Priority != models.PriorityUrgent {
		t.Fatalf("reply priority = %s, want the original's", reply.Priority)
	}
	if reply.Subject != "Re: Coverage" {
		t.Fatalf("reply subject = %q", reply.Subject)
	}
	if reply.ReplyTo != orig.ID || reply.CorrelationID != orig.ID {
		t.Fatalf("reply linkage = %+v", reply)
	}

	updated, err := stores.Messages.GetMessage(ctx, orig.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if updated.Status != models.AgentMsgResponded {
		t.Fatalf("original status = %s, want responded", updated.Status)
	}

	n, _ := svc.Unread(ctx, "agent-a")
	if n != 1 {
		t.Fatalf("Unread(agent-a) = %d, want the reply only", n)
	}
}

func TestReply_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Reply(ctx, "ghost", "hello", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	orig := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "ping"})
	if _, err := svc.Reply(ctx, orig.ID, "  ", nil); err == nil {
		t.Fatal("accepted blank reply")
	}
}

func TestInbox_ExpiresStaleMessages(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	fresh := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "still good"})
	stale := commBase.Add(-time.Minute)
	expired := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "too late", ExpiresAt: &stale})

	inbox, err := svc.Inbox(ctx, "agent-b", InboxOptions{})
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].ID != fresh.ID {
		t.Fatalf("inbox = %+v, want only the fresh message", inbox)
	}

	swept, err := stores.Messages.GetMessage(ctx, expired.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if swept.Status != models.AgentMsgExpired {
		t.Fatalf("stale status = %s, want expired", swept.Status)
	}
}

func TestInbox_StatusFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	msg := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "read me"})
	if err := svc.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	delivered, err := svc.Inbox(ctx, "agent-b", InboxOptions{Statuses: []models.AgentMessageStatus{models.AgentMsgDelivered}})
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("delivered filter returned %d messages", len(delivered))
	}

	read, err := svc.Inbox(ctx, "agent-b", InboxOptions{Statuses: []models.AgentMessageStatus{models.AgentMsgRead}})
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(read) != 1 || read[0].ID != msg.ID {
		t.Fatalf("read filter = %+v", read)
	}
}

func TestStatusTransitionsOnlyAdvance(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	msg := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "lifecycle"})

	if err := svc.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	got, _ := stores.Messages.GetMessage(ctx, msg.ID)
	if got.Status != models.AgentMsgRead || got.ReadAt == nil {
		t.Fatalf("after MarkRead = %+v", got)
	}

	if err := svc.Acknowledge(ctx, msg.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	// A later read must not claw the status back.
	if err := svc.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("repeat MarkRead: %v", err)
	}
	got, _ = stores.Messages.GetMessage(ctx, msg.ID)
	if got.Status != models.AgentMsgAcknowledged {
		t.Fatalf("status regressed to %s", got.Status)
	}
}

func TestStatusTransitionsRejectTerminalStates(t *testing.T) {
	svc, stores := newTestService(t)
	ctx := context.Background()

	msg := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "doomed"})
	if err := stores.Messages.UpdateStatus(ctx, msg.ID, models.AgentMsgExpired); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := svc.MarkRead(ctx, msg.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
}

func TestDelegateTask(t *testing.T) {
	svc, _ := newTestService(t)
	deadline := commBase.Add(48 * time.Hour)

	msg, err := svc.DelegateTask(context.Background(), "agent-a", "agent-b", "task-9", "Quarterly numbers", "Pull the Q3 revenue summary.", &deadline)
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	if msg.Type != models.AgentMsgTaskDelegation || msg.TaskID != "task-9" {
		t.Fatalf("delegation = %+v", msg)
	}
	if msg.Priority != models.PriorityHigh {
		t.Fatalf("priority = %s, want high", msg.Priority)
	}
	if msg.CorrelationID != msg.ID {
		t.Fatal("delegation must carry a correlation id")
	}
	if msg.DeadlineAt == nil || !msg.DeadlineAt.Equal(deadline) {
		t.Fatalf("deadline = %v", msg.DeadlineAt)
	}

	if _, err := svc.DelegateTask(context.Background(), "agent-a", "agent-b", "  ", "x", "y", nil); err == nil {
		t.Fatal("accepted blank task id")
	}
}

func TestHandoffAndShareContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	handoff, err := svc.Handoff(ctx, "agent-a", "agent-b", "task-3", "Taking PTO, state attached.", map[string]any{"step": 4})
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if handoff.Type != models.AgentMsgHandoff || handoff.Metadata["step"] != 4 {
		t.Fatalf("handoff = %+v", handoff)
	}

	share, err := svc.ShareContext(ctx, "agent-a", "agent-b", "Customer prefers evening calls.", map[string]any{"customer": "acme"})
	if err != nil {
		t.Fatalf("ShareContext: %v", err)
	}
	if share.Type != models.AgentMsgContextShare || share.Priority != models.PriorityNormal {
		t.Fatalf("share = %+v", share)
	}
	if share.CorrelationID != "" {
		t.Fatal("context share expects no response")
	}
}

func TestThreadsAndTranscript(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "one"})
	mustSend(t, svc, SendParams{From: "agent-b", To: "agent-a", Content: "two"})
	svc.now = func() time.Time { return commBase.Add(time.Minute) }
	mustSend(t, svc, SendParams{From: "agent-a", To: "agent-b", Content: "task talk", TaskID: "task-1"})

	threads, err := svc.Threads(ctx, "agent-a", 10)
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("threads = %d, want 2", len(threads))
	}
	if threads[0].ThreadType != models.ThreadTask {
		t.Fatalf("most recent thread = %+v, want the task thread first", threads[0])
	}

	transcript, err := svc.Transcript(ctx, first.ThreadID, 10)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("transcript = %d messages, want 2", len(transcript))
	}
	if transcript[0].Content != "one" || transcript[1].Content != "two" {
		t.Fatalf("transcript order: %q then %q", transcript[0].Content, transcript[1].Content)
	}
}

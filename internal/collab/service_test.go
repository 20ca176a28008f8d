package collab

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

var collabBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type runCall struct {
	agentID string
	trigger *models.TriggerContext
}

// fakeRunner replies with a canned final thought per agent.
type fakeRunner struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []runCall
}

func (f *fakeRunner) Run(ctx context.Context, agentID string, trigger *models.TriggerContext) (*models.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{agentID: agentID, trigger: trigger})
	reply := f.replies[agentID]
	err := f.errs[agentID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.RunResult{FinalThought: reply, Iterations: 1}, nil
}

func (f *fakeRunner) callFor(agentID string) (runCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.agentID == agentID {
			return c, true
		}
	}
	return runCall{}, false
}

type fakeMemoryWriter struct {
	mu    sync.Mutex
	saved []*models.Memory
	err   error
}

func (f *fakeMemoryWriter) Create(ctx context.Context, m *models.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *m
	f.saved = append(f.saved, &cp)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeRunner, *fakeMemoryWriter, store.StoreSet) {
	t.Helper()
	stores := store.NewMemoryStores()
	runner := &fakeRunner{replies: map[string]string{}, errs: map[string]error{}}
	memories := &fakeMemoryWriter{}
	svc := NewService(stores, runner, memories, nil)
	svc.now = func() time.Time { return collabBase }

	agents := []*models.Agent{
		{ID: "agent-a", UserID: "user-1", Name: "Atlas", Status: models.AgentActive},
		{ID: "agent-b", UserID: "user-1", Name: "Beacon", Status: models.AgentActive},
		{ID: "agent-d", UserID: "user-1", Name: "Drift", Status: models.AgentActive},
		{ID: "agent-e", UserID: "user-1", Name: "Ember", Status: models.AgentActive},
		{ID: "agent-p", UserID: "user-1", Name: "Pale", Status: models.AgentPaused},
		{ID: "agent-c", UserID: "user-2", Name: "Cinder", Status: models.AgentActive},
	}
	for _, a := range agents {
		if err := stores.Agents.Create(context.Background(), a); err != nil {
			t.Fatalf("seed agent %s: %v", a.ID, err)
		}
	}
	return svc, runner, memories, stores
}

func TestStartConsultation(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "Use the staging cluster; production data is off limits."

	conv, err := svc.StartConsultation(ctx, ConsultParams{
		FromAgentID: "agent-a", ToAgentID: "agent-b", UserID: "user-1",
		Question: "Where should I run the load test?",
		Context:  map[string]any{"deadline": "friday"},
	})
	if err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}
	if conv.Status != models.ConversationCompleted {
		t.Fatalf("status = %s, want completed", conv.Status)
	}
	if got := conv.Result["response"]; got != "Use the staging cluster; production data is off limits." {
		t.Fatalf("response = %v", got)
	}
	if conv.Result["responder_id"] != "agent-b" {
		t.Fatalf("responder_id = %v", conv.Result["responder_id"])
	}
	if conv.CompletedAt == nil || !conv.CompletedAt.Equal(collabBase) {
		t.Fatalf("completed at = %v", conv.CompletedAt)
	}

	call, ok := runner.callFor("agent-b")
	if !ok {
		t.Fatal("consulted agent's loop never ran")
	}
	if call.trigger.Type != models.TriggerEvent || call.trigger.EventKind != models.EventConsultation {
		t.Fatalf("trigger = %s/%s", call.trigger.Type, call.trigger.EventKind)
	}
	if !strings.Contains(call.trigger.CustomPrompt, "Atlas is consulting you") {
		t.Fatalf("prompt missing initiator: %q", call.trigger.CustomPrompt)
	}
	if !strings.Contains(call.trigger.CustomPrompt, "deadline: friday") {
		t.Fatalf("prompt missing context: %q", call.trigger.CustomPrompt)
	}

	msgs, err := stores.Conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != models.CollabQuestion || msgs[0].AgentID != "agent-a" {
		t.Fatalf("first message = %s from %s", msgs[0].Type, msgs[0].AgentID)
	}
	if msgs[1].Type != models.CollabResponse || msgs[1].AgentID != "agent-b" {
		t.Fatalf("second message = %s from %s", msgs[1].Type, msgs[1].AgentID)
	}
}

func TestStartConsultation_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    ConsultParams
	}{
		{"blank question", ConsultParams{FromAgentID: "agent-a", ToAgentID: "agent-b", UserID: "user-1", Question: "  "}},
		{"self consult", ConsultParams{FromAgentID: "agent-a", ToAgentID: "agent-a", UserID: "user-1", Question: "hm?"}},
		{"cross user", ConsultParams{FromAgentID: "agent-a", ToAgentID: "agent-c", UserID: "user-1", Question: "hm?"}},
		{"unknown agent", ConsultParams{FromAgentID: "agent-a", ToAgentID: "agent-zz", UserID: "user-1", Question: "hm?"}},
	}
	for _, tc := range cases {
		if _, err := svc.StartConsultation(ctx, tc.p); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	_, err := svc.StartConsultation(ctx, ConsultParams{FromAgentID: "agent-a", ToAgentID: "agent-c", UserID: "user-1", Question: "hm?"})
	if !errors.Is(err, ErrCrossUser) {
		t.Fatalf("cross-user error = %v", err)
	}
	_, err = svc.StartConsultation(ctx, ConsultParams{FromAgentID: "agent-a", ToAgentID: "agent-zz", UserID: "user-1", Question: "hm?"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown-agent error = %v", err)
	}
}

func TestStartConsultation_RunFailureMarksFailed(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.errs["agent-b"] = errors.New("model unavailable")

	conv, err := svc.StartConsultation(ctx, ConsultParams{
		FromAgentID: "agent-a", ToAgentID: "agent-b", UserID: "user-1", Question: "Thoughts?",
	})
	if err == nil {
		t.Fatal("expected error from failed run")
	}
	stored, getErr := stores.Conversations.Get(ctx, conv.ID)
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if stored.Status != models.ConversationFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if reason, _ := stored.Result["error"].(string); !strings.Contains(reason, "consultant run failed") {
		t.Fatalf("failure reason = %v", stored.Result["error"])
	}

	// An empty answer also fails the consultation.
	runner.errs = map[string]error{}
	runner.replies["agent-b"] = "   "
	conv, err = svc.StartConsultation(ctx, ConsultParams{
		FromAgentID: "agent-a", ToAgentID: "agent-b", UserID: "user-1", Question: "Thoughts?",
	})
	if err == nil {
		t.Fatal("expected error from empty answer")
	}
	stored, _ = stores.Conversations.Get(ctx, conv.ID)
	if stored.Status != models.ConversationFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
}

func TestRequestConsensus(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "2 - phasing the rollout is safer"
	runner.replies["agent-d"] = "I pick 2 because we can watch error rates"
	runner.replies["agent-e"] = "1, we have waited long enough"

	conv, err := svc.RequestConsensus(ctx, ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b", "agent-d", "agent-e"},
		UserID:      "user-1",
		Topic:       "How do we release v2?",
		Options:     []string{"Ship now", "Phase the rollout"},
	})
	if err != nil {
		t.Fatalf("RequestConsensus: %v", err)
	}
	if conv.Status != models.ConversationCompleted {
		t.Fatalf("status = %s, want completed", conv.Status)
	}
	if conv.Result["winner"] != "Phase the rollout" || conv.Result["winner_idx"] != 1 {
		t.Fatalf("winner = %v (%v)", conv.Result["winner"], conv.Result["winner_idx"])
	}
	if conv.Result["total_votes"] != 3 || conv.Result["unanimous"] != false {
		t.Fatalf("total = %v unanimous = %v", conv.Result["total_votes"], conv.Result["unanimous"])
	}
	tallies := conv.Result["tallies"].(map[string]int)
	if tallies["Phase the rollout"] != 2 || tallies["Ship now"] != 1 {
		t.Fatalf("tallies = %v", tallies)
	}

	call, ok := runner.callFor("agent-d")
	if !ok {
		t.Fatal("voter agent-d never ran")
	}
	if call.trigger.EventKind != models.EventConsensusVote {
		t.Fatalf("event kind = %s", call.trigger.EventKind)
	}
	if !strings.Contains(call.trigger.CustomPrompt, "1. Ship now") {
		t.Fatalf("ballot missing options: %q", call.trigger.CustomPrompt)
	}

	msgs, _ := stores.Conversations.ListMessages(ctx, conv.ID)
	if len(msgs) != 5 {
		t.Fatalf("transcript has %d messages, want question + 3 votes + result", len(msgs))
	}
	wantVotes := map[string]int{"agent-b": 1, "agent-d": 1, "agent-e": 0}
	for _, m := range msgs[1:4] {
		if m.Type != models.CollabVote || m.VoteOption == nil {
			t.Fatalf("expected recorded vote, got %s (option %v)", m.Type, m.VoteOption)
		}
		if *m.VoteOption != wantVotes[m.AgentID] {
			t.Fatalf("%s voted %d, want %d", m.AgentID, *m.VoteOption, wantVotes[m.AgentID])
		}
	}
	if msgs[4].Type != models.CollabResult {
		t.Fatalf("last message = %s, want result", msgs[4].Type)
	}
}

func TestRequestConsensus_SkipsInvalidAndFailedVotes(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "abstain"
	runner.replies["agent-d"] = "2 because staged rollouts catch regressions"
	runner.errs["agent-e"] = errors.New("loop busy")

	conv, err := svc.RequestConsensus(ctx, ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b", "agent-d", "agent-e"},
		UserID:      "user-1",
		Topic:       "Release plan",
		Options:     []string{"Ship now", "Phase the rollout"},
	})
	if err != nil {
		t.Fatalf("RequestConsensus: %v", err)
	}
	if conv.Result["winner"] != "Phase the rollout" || conv.Result["total_votes"] != 1 {
		t.Fatalf("winner = %v total = %v", conv.Result["winner"], conv.Result["total_votes"])
	}

	// The abstention is kept in the transcript without a parsed option;
	// the failed voter leaves no message at all.
	msgs, _ := stores.Conversations.ListMessages(ctx, conv.ID)
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages, want 4", len(msgs))
	}
	if msgs[1].AgentID != "agent-b" || msgs[1].VoteOption != nil {
		t.Fatalf("abstention recorded wrong: %s option %v", msgs[1].AgentID, msgs[1].VoteOption)
	}
}

func TestRequestConsensus_NoValidVotesFails(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "no opinion"
	runner.errs["agent-d"] = errors.New("loop busy")

	conv, err := svc.RequestConsensus(ctx, ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b", "agent-d"},
		UserID:      "user-1",
		Topic:       "Release plan",
		Options:     []string{"Ship now", "Phase the rollout"},
	})
	if err == nil {
		t.Fatal("expected error when nobody votes")
	}
	stored, _ := stores.Conversations.Get(ctx, conv.ID)
	if stored.Status != models.ConversationFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
}

func TestRequestConsensus_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    ConsensusParams
	}{
		{"one option", ConsensusParams{InitiatorID: "agent-a", VoterIDs: []string{"agent-b"}, UserID: "user-1", Topic: "t", Options: []string{"only"}}},
		{"no voters", ConsensusParams{InitiatorID: "agent-a", UserID: "user-1", Topic: "t", Options: []string{"x", "y"}}},
		{"blank topic", ConsensusParams{InitiatorID: "agent-a", VoterIDs: []string{"agent-b"}, UserID: "user-1", Topic: " ", Options: []string{"x", "y"}}},
		{"cross-user voter", ConsensusParams{InitiatorID: "agent-a", VoterIDs: []string{"agent-c"}, UserID: "user-1", Topic: "t", Options: []string{"x", "y"}}},
	}
	for _, tc := range cases {
		if _, err := svc.RequestConsensus(ctx, tc.p); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestRequestAsyncConsensus_AllVotesFinalize(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "ship now"
	runner.replies["agent-d"] = "Ship Now"
	runner.replies["agent-e"] = "wait a week"
	deadline := collabBase.Add(time.Hour)

	conv, err := svc.RequestAsyncConsensus(ctx, ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b", "agent-d", "agent-e"},
		UserID:      "user-1",
		Topic:       "Release timing",
		Options:     []string{"Ship now", "Wait a week"},
		Deadline:    deadline,
	})
	if err != nil {
		t.Fatalf("RequestAsyncConsensus: %v", err)
	}
	if conv.Deadline == nil || !conv.Deadline.Equal(deadline) {
		t.Fatalf("deadline = %v", conv.Deadline)
	}
	svc.Wait()

	stored, err := stores.Conversations.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != models.ConversationCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Result["winner"] != "ship now" {
		t.Fatalf("winner = %v, want the normalized majority text", stored.Result["winner"])
	}
	if stored.Result["decided_by"] != "all_votes_in" || stored.Result["total_votes"] != 3 {
		t.Fatalf("decided_by = %v total = %v", stored.Result["decided_by"], stored.Result["total_votes"])
	}

	status, err := svc.CheckConsensusResult(ctx, conv.ID)
	if err != nil {
		t.Fatalf("CheckConsensusResult: %v", err)
	}
	if !status.Done || status.VotesIn != 3 || status.Expected != 3 {
		t.Fatalf("status = %+v", status)
	}
	if status.Tallies["ship now"] != 2 || status.Tallies["wait a week"] != 1 {
		t.Fatalf("tallies = %v", status.Tallies)
	}
}

func TestRequestAsyncConsensus_DeadlineFinalizesPartialVote(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "apple pie"
	runner.replies["agent-d"] = "apple pie"
	runner.errs["agent-e"] = errors.New("loop busy")
	deadline := collabBase.Add(30 * time.Minute)

	conv, err := svc.RequestAsyncConsensus(ctx, ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b", "agent-d", "agent-e"},
		UserID:      "user-1",
		Topic:       "Dessert",
		Options:     []string{"Apple pie", "Banana split"},
		Deadline:    deadline,
	})
	if err != nil {
		t.Fatalf("RequestAsyncConsensus: %v", err)
	}
	svc.Wait()

	status, err := svc.CheckConsensusResult(ctx, conv.ID)
	if err != nil {
		t.Fatalf("CheckConsensusResult: %v", err)
	}
	if status.Done {
		t.Fatal("vote finalized before deadline with a voter outstanding")
	}
	if status.VotesIn != 2 || status.Expected != 3 {
		t.Fatalf("progress = %d/%d", status.VotesIn, status.Expected)
	}

	svc.now = func() time.Time { return deadline.Add(time.Minute) }
	status, err = svc.CheckConsensusResult(ctx, conv.ID)
	if err != nil {
		t.Fatalf("CheckConsensusResult after deadline: %v", err)
	}
	if !status.Done || status.Winner != "apple pie" {
		t.Fatalf("status = %+v", status)
	}
}

func TestRecordAsyncVote_Guards(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.errs["agent-b"] = errors.New("offline")
	runner.errs["agent-d"] = errors.New("offline")
	runner.errs["agent-e"] = errors.New("offline")

	conv, err := svc.RequestAsyncConsensus(ctx, ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b", "agent-d", "agent-e"},
		UserID:      "user-1",
		Topic:       "Quorum",
		Options:     []string{"Yes", "No"},
		Deadline:    collabBase.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("RequestAsyncConsensus: %v", err)
	}
	svc.Wait()

	if err := svc.RecordAsyncVote(ctx, conv.ID, "agent-x", "yes"); err == nil {
		t.Fatal("non-participant vote accepted")
	}

	if err := svc.RecordAsyncVote(ctx, conv.ID, "agent-b", "yes"); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	// A repeat vote is ignored, not an error.
	if err := svc.RecordAsyncVote(ctx, conv.ID, "agent-b", "changed my mind"); err != nil {
		t.Fatalf("duplicate vote: %v", err)
	}
	msgs, _ := stores.Conversations.ListMessages(ctx, conv.ID)
	votes := filterVotes(msgs)
	if len(votes) != 1 || votes[0].Content != "yes" {
		t.Fatalf("votes = %d, first = %q", len(votes), votes[0].Content)
	}

	if err := svc.RecordAsyncVote(ctx, conv.ID, "agent-d", "yes"); err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if err := svc.RecordAsyncVote(ctx, conv.ID, "agent-e", "no"); err != nil {
		t.Fatalf("third vote: %v", err)
	}

	// All expected votes are in, so the conversation is closed to stragglers.
	if err := svc.RecordAsyncVote(ctx, conv.ID, "agent-a", "yes"); !errors.Is(err, ErrVoteClosed) {
		t.Fatalf("late vote error = %v, want ErrVoteClosed", err)
	}

	stored, _ := stores.Conversations.Get(ctx, conv.ID)
	if stored.Status != models.ConversationCompleted || stored.Result["winner"] != "yes" {
		t.Fatalf("status = %s winner = %v", stored.Status, stored.Result["winner"])
	}
}

func TestCheckConsensusResult_WrongType(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "sure"

	conv, err := svc.StartConsultation(ctx, ConsultParams{
		FromAgentID: "agent-a", ToAgentID: "agent-b", UserID: "user-1", Question: "ok?",
	})
	if err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}
	if _, err := svc.CheckConsensusResult(ctx, conv.ID); !errors.Is(err, ErrNotConsensus) {
		t.Fatalf("error = %v, want ErrNotConsensus", err)
	}
}

func TestResolveConflict_Concession(t *testing.T) {
	svc, runner, _, stores := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "CONCEDE, a single file database fits our deployment model"
	runner.replies["agent-d"] = "An embedded database needs no extra infrastructure"

	conv, err := svc.ResolveConflict(ctx, ConflictParams{
		InitiatorID: "agent-a",
		UserID:      "user-1",
		Topic:       "Which database do we standardize on?",
		Positions: []Position{
			{AgentID: "agent-b", Statement: "Use a managed Postgres"},
			{AgentID: "agent-d", Statement: "Use embedded SQLite"},
		},
	})
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if conv.Status != models.ConversationCompleted {
		t.Fatalf("status = %s", conv.Status)
	}
	if conv.Result["outcome"] != "resolved" || conv.Result["method"] != "concession" {
		t.Fatalf("result = %v", conv.Result)
	}
	if conv.Result["winner_agent_id"] != "agent-d" || conv.Result["winning_position"] != "Use embedded SQLite" {
		t.Fatalf("winner = %v (%v)", conv.Result["winner_agent_id"], conv.Result["winning_position"])
	}

	msgs, _ := stores.Conversations.ListMessages(ctx, conv.ID)
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages, want question + 2 rebuttals + result", len(msgs))
	}
}

func TestResolveConflict_Escalation(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "Managed Postgres scales with the team"
	runner.replies["agent-d"] = "Embedded SQLite keeps operations trivial"
	runner.replies["agent-e"] = "2 - the operational argument is stronger for our size"

	conv, err := svc.ResolveConflict(ctx, ConflictParams{
		InitiatorID: "agent-a",
		UserID:      "user-1",
		Topic:       "Which database do we standardize on?",
		Positions: []Position{
			{AgentID: "agent-b", Statement: "Use a managed Postgres"},
			{AgentID: "agent-d", Statement: "Use embedded SQLite"},
		},
		EscalateTo: "agent-e",
	})
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if conv.Result["method"] != "escalation" || conv.Result["decided_by"] != "agent-e" {
		t.Fatalf("result = %v", conv.Result)
	}
	if conv.Result["winner_agent_id"] != "agent-d" {
		t.Fatalf("winner = %v", conv.Result["winner_agent_id"])
	}

	call, ok := runner.callFor("agent-e")
	if !ok {
		t.Fatal("arbiter never ran")
	}
	if !strings.Contains(call.trigger.CustomPrompt, "neutral arbiter") {
		t.Fatalf("arbiter prompt = %q", call.trigger.CustomPrompt)
	}
	if !strings.Contains(call.trigger.CustomPrompt, "Defense: Managed Postgres scales with the team") {
		t.Fatalf("arbiter prompt missing defenses: %q", call.trigger.CustomPrompt)
	}
}

func TestResolveConflict_NeedsHuman(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "My position stands"
	runner.replies["agent-d"] = "So does mine"

	conv, err := svc.ResolveConflict(ctx, ConflictParams{
		InitiatorID: "agent-a",
		UserID:      "user-1",
		Topic:       "Naming the new service",
		Positions: []Position{
			{AgentID: "agent-b", Statement: "Call it herald"},
			{AgentID: "agent-d", Statement: "Call it courier"},
		},
	})
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if conv.Status != models.ConversationCompleted || conv.Result["outcome"] != "needs_human" {
		t.Fatalf("status = %s result = %v", conv.Status, conv.Result)
	}
}

func TestResolveConflict_ArbiterWithoutVerdictNeedsHuman(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "Mine is right"
	runner.replies["agent-d"] = "No, mine"
	runner.replies["agent-e"] = "both positions have merit"

	conv, err := svc.ResolveConflict(ctx, ConflictParams{
		InitiatorID: "agent-a",
		UserID:      "user-1",
		Topic:       "Retry policy",
		Positions: []Position{
			{AgentID: "agent-b", Statement: "Exponential backoff"},
			{AgentID: "agent-d", Statement: "Fixed interval"},
		},
		EscalateTo: "agent-e",
	})
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if conv.Result["outcome"] != "needs_human" {
		t.Fatalf("outcome = %v", conv.Result["outcome"])
	}
}

func TestResolveConflict_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    ConflictParams
	}{
		{"one position", ConflictParams{InitiatorID: "agent-a", UserID: "user-1", Topic: "t", Positions: []Position{{AgentID: "agent-b", Statement: "x"}}}},
		{"duplicate owner", ConflictParams{InitiatorID: "agent-a", UserID: "user-1", Topic: "t", Positions: []Position{{AgentID: "agent-b", Statement: "x"}, {AgentID: "agent-b", Statement: "y"}}}},
		{"blank statement", ConflictParams{InitiatorID: "agent-a", UserID: "user-1", Topic: "t", Positions: []Position{{AgentID: "agent-b", Statement: " "}, {AgentID: "agent-d", Statement: "y"}}}},
		{"arbiter holds a position", ConflictParams{InitiatorID: "agent-a", UserID: "user-1", Topic: "t", Positions: []Position{{AgentID: "agent-b", Statement: "x"}, {AgentID: "agent-d", Statement: "y"}}, EscalateTo: "agent-d"}},
		{"cross-user owner", ConflictParams{InitiatorID: "agent-a", UserID: "user-1", Topic: "t", Positions: []Position{{AgentID: "agent-b", Statement: "x"}, {AgentID: "agent-c", Statement: "y"}}}},
	}
	for _, tc := range cases {
		if _, err := svc.ResolveConflict(ctx, tc.p); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestPropagateKnowledge_FiltersBySkillCategory(t *testing.T) {
	svc, _, memories, stores := newTestService(t)
	ctx := context.Background()
	skills := []*models.Skill{
		{ID: "s1", AgentID: "agent-b", Category: models.SkillAnalysis, Level: 2},
		{ID: "s2", AgentID: "agent-d", Category: models.SkillAutomation, Level: 1},
		{ID: "s3", AgentID: "agent-p", Category: models.SkillAnalysis, Level: 3},
	}
	for _, sk := range skills {
		if err := stores.Skills.Save(ctx, sk); err != nil {
			t.Fatalf("seed skill: %v", err)
		}
	}

	shared, err := svc.PropagateKnowledge(ctx, ShareParams{
		SourceAgentID: "agent-a",
		UserID:        "user-1",
		Learning:      "Quarterly numbers hide seasonality; always compare year over year.",
		Tags:          []string{"analysis", "finance"},
		Importance:    0.9,
	})
	if err != nil {
		t.Fatalf("PropagateKnowledge: %v", err)
	}
	if len(shared) != 1 || shared[0] != "agent-b" {
		t.Fatalf("shared with %v, want only the analysis-skilled active peer", shared)
	}

	if len(memories.saved) != 1 {
		t.Fatalf("memories written = %d", len(memories.saved))
	}
	mem := memories.saved[0]
	if mem.AgentID != "agent-b" || mem.Kind != models.MemorySharedLearning {
		t.Fatalf("memory = %s/%s", mem.AgentID, mem.Kind)
	}
	if mem.Importance != 0.9 || mem.RelatedEntity != "Atlas" {
		t.Fatalf("importance = %v related = %q", mem.Importance, mem.RelatedEntity)
	}
}

func TestPropagateKnowledge_ReachesAllActivePeersWithoutCategoryTags(t *testing.T) {
	svc, _, memories, _ := newTestService(t)
	ctx := context.Background()

	shared, err := svc.PropagateKnowledge(ctx, ShareParams{
		SourceAgentID: "agent-a",
		UserID:        "user-1",
		Learning:      "The vendor API rate limits at 30 requests per minute.",
		Tags:          []string{"ops"},
	})
	if err != nil {
		t.Fatalf("PropagateKnowledge: %v", err)
	}
	// Paused peers and other users' agents are skipped.
	want := map[string]bool{"agent-b": true, "agent-d": true, "agent-e": true}
	if len(shared) != len(want) {
		t.Fatalf("shared with %v", shared)
	}
	for _, id := range shared {
		if !want[id] {
			t.Fatalf("unexpected recipient %s", id)
		}
	}
	for _, mem := range memories.saved {
		if mem.Importance != shareImportance {
			t.Fatalf("importance = %v, want the default", mem.Importance)
		}
	}
}

func TestPropagateKnowledge_Validation(t *testing.T) {
	svc, _, _, stores := newTestService(t)
	ctx := context.Background()

	if _, err := svc.PropagateKnowledge(ctx, ShareParams{SourceAgentID: "agent-a", UserID: "user-1", Learning: "  "}); err == nil {
		t.Fatal("expected error for blank learning")
	}

	bare := NewService(stores, &fakeRunner{}, nil, nil)
	if _, err := bare.PropagateKnowledge(ctx, ShareParams{SourceAgentID: "agent-a", UserID: "user-1", Learning: "x"}); err == nil {
		t.Fatal("expected error without a memory manager")
	}
}

func TestConversationsAndTranscript(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	ctx := context.Background()
	runner.replies["agent-b"] = "go ahead"

	conv, err := svc.StartConsultation(ctx, ConsultParams{
		FromAgentID: "agent-a", ToAgentID: "agent-b", UserID: "user-1", Question: "Deploy?",
	})
	if err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}

	convs, err := svc.Conversations(ctx, "agent-b", 10)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Fatalf("conversations = %d", len(convs))
	}

	msgs, err := svc.Transcript(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("transcript = %d messages", len(msgs))
	}
	if _, err := svc.Transcript(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing transcript error = %v", err)
	}
}

func TestParseVote(t *testing.T) {
	cases := []struct {
		reply string
		n     int
		want  int
		ok    bool
	}{
		{"2 - safer option", 3, 1, true},
		{"I choose option 1 because it is fastest", 3, 0, true},
		{"3", 3, 2, true},
		{"4 all the way", 3, 0, false},
		{"0 none of these", 3, 0, false},
		{"-1", 3, 0, false},
		{"no preference", 3, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseVote(tc.reply, tc.n)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("parseVote(%q, %d) = %d,%v want %d,%v", tc.reply, tc.n, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIsConcession(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{"CONCEDE", true},
		{"concede, the other approach is better", true},
		{"Concede. Theirs handles the edge cases.", true},
		{"I will not concede", false},
		{"We should not CONCEDE anything here", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isConcession(tc.reply); got != tc.want {
			t.Fatalf("isConcession(%q) = %v, want %v", tc.reply, got, tc.want)
		}
	}
}

func TestTextTallyTiesGoToEarliestVote(t *testing.T) {
	mk := func(content string) *models.ConversationMessage {
		return &models.ConversationMessage{Type: models.CollabVote, Content: content}
	}
	winner, tallies := textTally([]*models.ConversationMessage{
		mk("  Banana   Split "), mk("apple pie"), mk("banana split"),
		mk("APPLE PIE"), mk(""),
	})
	if winner != "banana split" {
		t.Fatalf("winner = %q, want the earliest of the tied texts", winner)
	}
	if tallies["banana split"] != 2 || tallies["apple pie"] != 2 {
		t.Fatalf("tallies = %v", tallies)
	}
}

func TestRequestAsyncConsensus_RequiresFutureDeadline(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.RequestAsyncConsensus(context.Background(), ConsensusParams{
		InitiatorID: "agent-a",
		VoterIDs:    []string{"agent-b"},
		UserID:      "user-1",
		Topic:       "t",
		Options:     []string{"x", "y"},
		Deadline:    collabBase.Add(-time.Minute),
	})
	if err == nil {
		t.Fatal("expected error for past deadline")
	}
}

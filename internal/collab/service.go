// Package collab coordinates structured collaborations between agents that
// share an owner: one-off consultations, synchronous and asynchronous
// consensus votes, conflict resolution with an optional arbiter, and
// propagation of learnings to peer agents. Every collaboration is recorded
// as a conversation with a full message transcript.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

var (
	// ErrCrossUser rejects collaborations that would span user boundaries.
	ErrCrossUser = errors.New("collab: agents belong to different users")
	// ErrNotConsensus flags consensus reads against other conversation types.
	ErrNotConsensus = errors.New("collab: conversation is not a consensus vote")
	// ErrVoteClosed rejects votes that arrive after finalization.
	ErrVoteClosed = errors.New("collab: consensus already finalized")
)

// Runner executes one reasoning run for an agent. The reasoning loop
// satisfies it; tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, agentID string, trigger *models.TriggerContext) (*models.RunResult, error)
}

// MemoryWriter is the slice of the memory manager knowledge propagation needs.
type MemoryWriter interface {
	Create(ctx context.Context, m *models.Memory) error
}

// asyncVoteTimeout bounds one deferred voter run. It sits above the
// reasoning loop's own budget so the loop times out first.
const asyncVoteTimeout = 5 * time.Minute

// shareImportance is the memory importance used when the caller passes none.
const shareImportance = 0.6

// Service runs collaboration protocols over the conversation store.
type Service struct {
	stores   store.StoreSet
	loop     Runner
	memories MemoryWriter
	logger   *slog.Logger
	now      func() time.Time

	// mu makes async consensus finalization single-writer: votes may land
	// concurrently but only one caller consolidates the result.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewService wires the collaboration service. memories may be nil when no
// memory manager is configured; knowledge propagation then fails cleanly.
func NewService(stores store.StoreSet, loop Runner, memories MemoryWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stores:   stores,
		loop:     loop,
		memories: memories,
		logger:   logger.With("component", "collab"),
		now:      time.Now,
	}
}

// Wait blocks until all deferred vote dispatches have finished. Used on
// shutdown and in tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// ConsultParams describe a one-question consultation between two agents.
type ConsultParams struct {
	FromAgentID string
	ToAgentID   string
	UserID      string
	Question    string
	// Context carries optional background the consultant should see.
	Context map[string]any
}

// StartConsultation asks one agent a question on behalf of another. The
// consulted agent's reasoning loop runs synchronously; its final answer is
// recorded on the conversation and returned in Result["response"].
func (s *Service) StartConsultation(ctx context.Context, p ConsultParams) (*models.Conversation, error) {
	question := strings.TrimSpace(p.Question)
	if question == "" {
		return nil, fmt.Errorf("collab: question is required")
	}
	if p.FromAgentID == p.ToAgentID {
		return nil, fmt.Errorf("collab: consultation needs two distinct agents")
	}
	agents, err := s.agentsForUser(ctx, p.UserID, p.FromAgentID, p.ToAgentID)
	if err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:           uuid.New().String(),
		UserID:       p.UserID,
		Type:         models.ConversationConsultation,
		Status:       models.ConversationActive,
		InitiatorID:  p.FromAgentID,
		Participants: []string{p.FromAgentID, p.ToAgentID},
		Topic:        question,
		Metadata:     map[string]any{},
		CreatedAt:    s.now().UTC(),
	}
	if len(p.Context) > 0 {
		conv.Metadata["context"] = p.Context
	}
	if err := s.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("collab: create conversation: %w", err)
	}
	s.addMessage(ctx, conv.ID, p.FromAgentID, models.CollabQuestion, question, nil)

	trigger := &models.TriggerContext{
		Type:         models.TriggerEvent,
		EventKind:    models.EventConsultation,
		SenderID:     p.FromAgentID,
		SenderName:   agents[p.FromAgentID].Name,
		Preview:      question,
		CustomPrompt: consultPrompt(agents[p.FromAgentID].Name, question, p.Context),
		Extra:        map[string]any{"conversation_id": conv.ID},
	}
	res, err := s.loop.Run(ctx, p.ToAgentID, trigger)
	if err != nil {
		s.fail(ctx, conv, fmt.Sprintf("consultant run failed: %v", err))
		return conv, fmt.Errorf("collab: consult %s: %w", p.ToAgentID, err)
	}
	answer := strings.TrimSpace(res.FinalThought)
	if answer == "" {
		s.fail(ctx, conv, "consultant produced no answer")
		return conv, fmt.Errorf("collab: consult %s: empty response", p.ToAgentID)
	}

	s.addMessage(ctx, conv.ID, p.ToAgentID, models.CollabResponse, answer, nil)
	s.complete(ctx, conv, map[string]any{
		"response":     answer,
		"responder_id": p.ToAgentID,
	})
	return conv, nil
}

// ConsensusParams describe a vote across several agents. Deadline applies to
// asynchronous votes only.
type ConsensusParams struct {
	InitiatorID string
	VoterIDs    []string
	UserID      string
	Topic       string
	Options     []string
	Deadline    time.Time
}

func (s *Service) consensusConversation(ctx context.Context, p ConsensusParams, typ models.ConversationType) (*models.Conversation, []string, string, error) {
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		return nil, nil, "", fmt.Errorf("collab: topic is required")
	}
	if len(p.Options) < 2 {
		return nil, nil, "", fmt.Errorf("collab: consensus needs at least two options")
	}
	voters := dedupe(p.VoterIDs)
	if len(voters) == 0 {
		return nil, nil, "", fmt.Errorf("collab: at least one voter is required")
	}
	agents, err := s.agentsForUser(ctx, p.UserID, append([]string{p.InitiatorID}, voters...)...)
	if err != nil {
		return nil, nil, "", err
	}

	conv := &models.Conversation{
		ID:           uuid.New().String(),
		UserID:       p.UserID,
		Type:         typ,
		Status:       models.ConversationActive,
		InitiatorID:  p.InitiatorID,
		Participants: dedupe(append([]string{p.InitiatorID}, voters...)),
		Topic:        topic,
		Metadata: map[string]any{
			"options":        p.Options,
			"expected_votes": len(voters),
		},
		CreatedAt: s.now().UTC(),
	}
	if typ == models.ConversationAsyncConsensus {
		dl := p.Deadline.UTC()
		conv.Deadline = &dl
	}
	if err := s.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, nil, "", fmt.Errorf("collab: create conversation: %w", err)
	}
	initiatorName := agents[p.InitiatorID].Name
	s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabQuestion, ballot(initiatorName, topic, p.Options), nil)
	return conv, voters, initiatorName, nil
}

// RequestConsensus runs every voter's reasoning loop in parallel, parses
// each reply's option number, and finalizes the majority winner before
// returning. Ties go to the lowest option index.
func (s *Service) RequestConsensus(ctx context.Context, p ConsensusParams) (*models.Conversation, error) {
	conv, voters, initiatorName, err := s.consensusConversation(ctx, p, models.ConversationConsensus)
	if err != nil {
		return nil, err
	}

	replies := make([]string, len(voters))
	errs := make([]error, len(voters))
	var wg sync.WaitGroup
	for i, voter := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.loop.Run(ctx, voter, s.voteTrigger(conv, initiatorName, p.Options))
			if err != nil {
				errs[i] = err
				return
			}
			replies[i] = strings.TrimSpace(res.FinalThought)
		}()
	}
	wg.Wait()

	var picks []int
	for i, voter := range voters {
		if errs[i] != nil {
			s.logger.Warn("consensus voter failed", "conversation_id", conv.ID, "agent_id", voter, "error", errs[i])
			continue
		}
		if replies[i] == "" {
			continue
		}
		var votePtr *int
		if idx, ok := parseVote(replies[i], len(p.Options)); ok {
			vote := idx
			votePtr = &vote
			picks = append(picks, idx)
		}
		s.addMessage(ctx, conv.ID, voter, models.CollabVote, replies[i], votePtr)
	}

	res := models.TallyVotes(p.Options, picks)
	if res.TotalVotes == 0 {
		s.fail(ctx, conv, "no valid votes were cast")
		return conv, fmt.Errorf("collab: no valid votes were cast")
	}
	s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabResult,
		fmt.Sprintf("Winner: %s (%d of %d votes)", res.Winner, res.Tallies[res.Winner], res.TotalVotes), nil)
	s.complete(ctx, conv, map[string]any{
		"winner":      res.Winner,
		"winner_idx":  res.WinnerIdx,
		"tallies":     res.Tallies,
		"total_votes": res.TotalVotes,
		"unanimous":   res.Unanimous,
	})
	return conv, nil
}

// RequestAsyncConsensus creates the vote and returns immediately. Each
// voter's run is dispatched in the background; votes are recorded as they
// arrive and the result consolidates once all votes are in or the deadline
// passes, whichever comes first.
func (s *Service) RequestAsyncConsensus(ctx context.Context, p ConsensusParams) (*models.Conversation, error) {
	if !p.Deadline.After(s.now()) {
		return nil, fmt.Errorf("collab: deadline must be in the future")
	}
	conv, voters, initiatorName, err := s.consensusConversation(ctx, p, models.ConversationAsyncConsensus)
	if err != nil {
		return nil, err
	}

	for _, voter := range voters {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			runCtx, cancel := context.WithTimeout(context.Background(), asyncVoteTimeout)
			defer cancel()
			res, err := s.loop.Run(runCtx, voter, s.voteTrigger(conv, initiatorName, p.Options))
			if err != nil {
				s.logger.Warn("async voter failed", "conversation_id", conv.ID, "agent_id", voter, "error", err)
				return
			}
			if err := s.RecordAsyncVote(runCtx, conv.ID, voter, res.FinalThought); err != nil {
				s.logger.Warn("record async vote", "conversation_id", conv.ID, "agent_id", voter, "error", err)
			}
		}()
	}
	return conv, nil
}

// RecordAsyncVote writes one agent's vote into an open async consensus and
// finalizes the conversation if it was the last one outstanding. A second
// vote from the same agent is ignored.
func (s *Service) RecordAsyncVote(ctx context.Context, conversationID, agentID, vote string) error {
	vote = strings.TrimSpace(vote)
	if vote == "" {
		return fmt.Errorf("collab: vote is required")
	}
	conv, err := s.stores.Conversations.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("collab: conversation %s: %w", conversationID, err)
	}
	if conv.Type != models.ConversationAsyncConsensus {
		return ErrNotConsensus
	}
	if conv.Status != models.ConversationActive {
		return ErrVoteClosed
	}
	if !contains(conv.Participants, agentID) {
		return fmt.Errorf("collab: agent %s is not part of this vote", agentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, err := s.stores.Conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("collab: list messages: %w", err)
	}
	for _, m := range msgs {
		if m.Type == models.CollabVote && m.AgentID == agentID {
			return nil
		}
	}
	msg := &models.ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		AgentID:        agentID,
		Type:           models.CollabVote,
		Content:        vote,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.stores.Conversations.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("collab: record vote: %w", err)
	}
	s.finalizeAsyncLocked(ctx, conversationID)
	return nil
}

// finalizeAsyncLocked consolidates an async vote when every expected vote is
// in or the deadline has passed. Callers must hold s.mu.
func (s *Service) finalizeAsyncLocked(ctx context.Context, conversationID string) {
	conv, err := s.stores.Conversations.Get(ctx, conversationID)
	if err != nil || conv.Type != models.ConversationAsyncConsensus || conv.Status != models.ConversationActive {
		return
	}
	msgs, err := s.stores.Conversations.ListMessages(ctx, conversationID)
	if err != nil {
		s.logger.Warn("finalize consensus", "conversation_id", conversationID, "error", err)
		return
	}
	votes := filterVotes(msgs)
	expected := metadataInt(conv.Metadata, "expected_votes")
	if len(votes) < expected && !conv.PastDeadline(s.now()) {
		return
	}
	if len(votes) == 0 {
		s.fail(ctx, conv, "deadline passed with no votes")
		return
	}

	winner, tallies := textTally(votes)
	decidedBy := "all_votes_in"
	if len(votes) < expected {
		decidedBy = "deadline"
	}
	s.addMessage(ctx, conv.ID, conv.InitiatorID, models.CollabResult,
		fmt.Sprintf("Winner: %q (%d of %d votes)", winner, tallies[winner], len(votes)), nil)
	s.complete(ctx, conv, map[string]any{
		"winner":      winner,
		"tallies":     tallies,
		"total_votes": len(votes),
		"decided_by":  decidedBy,
	})
}

// ConsensusStatus is the live view of a consensus vote.
type ConsensusStatus struct {
	ConversationID string         `json:"conversation_id"`
	Done           bool           `json:"done"`
	Winner         string         `json:"winner,omitempty"`
	VotesIn        int            `json:"votes_in"`
	Expected       int            `json:"expected"`
	Tallies        map[string]int `json:"tallies,omitempty"`
}

// CheckConsensusResult reports vote progress. For async votes whose deadline
// has passed it finalizes the result first, so polling this is enough to
// drive a vote to completion.
func (s *Service) CheckConsensusResult(ctx context.Context, conversationID string) (*ConsensusStatus, error) {
	conv, err := s.stores.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("collab: conversation %s: %w", conversationID, err)
	}
	if conv.Type != models.ConversationConsensus && conv.Type != models.ConversationAsyncConsensus {
		return nil, ErrNotConsensus
	}
	if conv.Type == models.ConversationAsyncConsensus && conv.Status == models.ConversationActive {
		s.mu.Lock()
		s.finalizeAsyncLocked(ctx, conversationID)
		s.mu.Unlock()
		if conv, err = s.stores.Conversations.Get(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("collab: conversation %s: %w", conversationID, err)
		}
	}

	msgs, err := s.stores.Conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("collab: list messages: %w", err)
	}
	votes := filterVotes(msgs)
	status := &ConsensusStatus{
		ConversationID: conv.ID,
		Done:           conv.Status != models.ConversationActive,
		VotesIn:        len(votes),
		Expected:       metadataInt(conv.Metadata, "expected_votes"),
	}
	if w, ok := conv.Result["winner"].(string); ok {
		status.Winner = w
	}
	if conv.Type == models.ConversationConsensus {
		var picks []int
		for _, v := range votes {
			if v.VoteOption != nil {
				picks = append(picks, *v.VoteOption)
			}
		}
		status.Tallies = models.TallyVotes(metadataStrings(conv.Metadata, "options"), picks).Tallies
	} else {
		_, status.Tallies = textTally(votes)
	}
	return status, nil
}

// Position is one side of a conflict under resolution.
type Position struct {
	AgentID   string `json:"agent_id"`
	Statement string `json:"statement"`
}

// ConflictParams describe a disagreement between agents. EscalateTo names an
// optional neutral arbiter consulted when nobody concedes.
type ConflictParams struct {
	InitiatorID string
	UserID      string
	Topic       string
	Positions   []Position
	EscalateTo  string
}

// ResolveConflict runs one rebuttal round: every position owner sees the
// other positions and either defends its own or opens its reply with
// CONCEDE. A single surviving position wins. Otherwise the arbiter picks a
// winner, and with no arbiter the outcome is needs_human.
func (s *Service) ResolveConflict(ctx context.Context, p ConflictParams) (*models.Conversation, error) {
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		return nil, fmt.Errorf("collab: topic is required")
	}
	if len(p.Positions) < 2 {
		return nil, fmt.Errorf("collab: conflict needs at least two positions")
	}
	owners := make([]string, 0, len(p.Positions))
	seen := make(map[string]struct{}, len(p.Positions))
	for _, pos := range p.Positions {
		if pos.AgentID == "" || strings.TrimSpace(pos.Statement) == "" {
			return nil, fmt.Errorf("collab: every position needs an owner and a statement")
		}
		if _, dup := seen[pos.AgentID]; dup {
			return nil, fmt.Errorf("collab: agent %s holds more than one position", pos.AgentID)
		}
		seen[pos.AgentID] = struct{}{}
		owners = append(owners, pos.AgentID)
	}
	if _, isOwner := seen[p.EscalateTo]; isOwner {
		return nil, fmt.Errorf("collab: arbiter %s holds a position in the conflict", p.EscalateTo)
	}
	ids := append([]string{p.InitiatorID}, owners...)
	if p.EscalateTo != "" {
		ids = append(ids, p.EscalateTo)
	}
	agents, err := s.agentsForUser(ctx, p.UserID, ids...)
	if err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:           uuid.New().String(),
		UserID:       p.UserID,
		Type:         models.ConversationConflict,
		Status:       models.ConversationActive,
		InitiatorID:  p.InitiatorID,
		Participants: dedupe(ids),
		Topic:        topic,
		Metadata: map[string]any{
			"positions":   p.Positions,
			"escalate_to": p.EscalateTo,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("collab: create conversation: %w", err)
	}
	s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabQuestion, renderPositions(topic, p.Positions, agents), nil)

	rebuttals := make([]string, len(p.Positions))
	var wg sync.WaitGroup
	for i, pos := range p.Positions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trigger := &models.TriggerContext{
				Type:         models.TriggerEvent,
				EventKind:    models.EventConflictRebuttal,
				Preview:      topic,
				CustomPrompt: rebuttalPrompt(topic, pos, p.Positions, agents),
				Extra:        map[string]any{"conversation_id": conv.ID},
			}
			res, err := s.loop.Run(ctx, pos.AgentID, trigger)
			if err != nil {
				s.logger.Warn("rebuttal failed", "conversation_id", conv.ID, "agent_id", pos.AgentID, "error", err)
				return
			}
			rebuttals[i] = strings.TrimSpace(res.FinalThought)
		}()
	}
	wg.Wait()

	var remaining []Position
	for i, pos := range p.Positions {
		if rebuttals[i] != "" {
			s.addMessage(ctx, conv.ID, pos.AgentID, models.CollabResponse, rebuttals[i], nil)
		}
		if !isConcession(rebuttals[i]) {
			remaining = append(remaining, pos)
		}
	}

	if len(remaining) == 1 {
		winner := remaining[0]
		s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabResult,
			fmt.Sprintf("Resolved by concession: %s prevails", agentName(agents, winner.AgentID)), nil)
		s.complete(ctx, conv, map[string]any{
			"outcome":          "resolved",
			"method":           "concession",
			"winner_agent_id":  winner.AgentID,
			"winning_position": winner.Statement,
		})
		return conv, nil
	}

	if p.EscalateTo != "" {
		return s.escalateConflict(ctx, conv, p, agents, rebuttals)
	}

	s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabResult,
		"No position conceded and no arbiter is set; a human decision is required", nil)
	s.complete(ctx, conv, map[string]any{"outcome": "needs_human"})
	return conv, nil
}

func (s *Service) escalateConflict(ctx context.Context, conv *models.Conversation, p ConflictParams, agents map[string]*models.Agent, rebuttals []string) (*models.Conversation, error) {
	trigger := &models.TriggerContext{
		Type:         models.TriggerEvent,
		EventKind:    models.EventConflictRebuttal,
		Preview:      conv.Topic,
		CustomPrompt: arbiterPrompt(conv.Topic, p.Positions, agents, rebuttals),
		Extra:        map[string]any{"conversation_id": conv.ID},
	}
	res, err := s.loop.Run(ctx, p.EscalateTo, trigger)
	if err != nil {
		s.fail(ctx, conv, fmt.Sprintf("arbiter run failed: %v", err))
		return conv, fmt.Errorf("collab: arbiter %s: %w", p.EscalateTo, err)
	}
	verdict := strings.TrimSpace(res.FinalThought)
	idx, ok := parseVote(verdict, len(p.Positions))
	if !ok {
		s.addMessage(ctx, conv.ID, p.EscalateTo, models.CollabResponse, verdict, nil)
		s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabResult,
			"Arbiter did not pick a position; a human decision is required", nil)
		s.complete(ctx, conv, map[string]any{"outcome": "needs_human"})
		return conv, nil
	}
	winner := p.Positions[idx]
	s.addMessage(ctx, conv.ID, p.EscalateTo, models.CollabResponse, verdict, &idx)
	s.addMessage(ctx, conv.ID, p.InitiatorID, models.CollabResult,
		fmt.Sprintf("Resolved by arbiter: %s prevails", agentName(agents, winner.AgentID)), nil)
	s.complete(ctx, conv, map[string]any{
		"outcome":          "resolved",
		"method":           "escalation",
		"winner_agent_id":  winner.AgentID,
		"winning_position": winner.Statement,
		"decided_by":       p.EscalateTo,
	})
	return conv, nil
}

// ShareParams describe a learning pushed from one agent to its peers.
type ShareParams struct {
	SourceAgentID string
	UserID        string
	Learning      string
	Tags          []string
	Importance    float64
}

// PropagateKnowledge copies a learning into the long-term memory of every
// active peer agent of the same user. Tags that name skill categories narrow
// the audience to peers holding at least one of those skills. Returns the
// IDs of the agents that received the learning.
func (s *Service) PropagateKnowledge(ctx context.Context, p ShareParams) ([]string, error) {
	learning := strings.TrimSpace(p.Learning)
	if learning == "" {
		return nil, fmt.Errorf("collab: learning is required")
	}
	if s.memories == nil {
		return nil, fmt.Errorf("collab: no memory manager configured")
	}
	source, err := s.agentForUser(ctx, p.SourceAgentID, p.UserID)
	if err != nil {
		return nil, err
	}
	peers, _, err := s.stores.Agents.List(ctx, p.UserID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("collab: list agents: %w", err)
	}

	categories := skillCategories(p.Tags)
	importance := p.Importance
	if importance <= 0 {
		importance = shareImportance
	}

	var shared []string
	for _, peer := range peers {
		if peer.ID == p.SourceAgentID || peer.Status != models.AgentActive {
			continue
		}
		if len(categories) > 0 {
			ok, err := s.hasAnySkill(ctx, peer.ID, categories)
			if err != nil {
				s.logger.Warn("skill lookup failed", "agent_id", peer.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		mem := &models.Memory{
			AgentID:       peer.ID,
			UserID:        p.UserID,
			Kind:          models.MemorySharedLearning,
			Content:       learning,
			Importance:    importance,
			Tags:          p.Tags,
			RelatedEntity: source.Name,
		}
		if err := s.memories.Create(ctx, mem); err != nil {
			s.logger.Warn("share learning", "agent_id", peer.ID, "error", err)
			continue
		}
		shared = append(shared, peer.ID)
	}
	s.logger.Info("knowledge propagated", "source_agent_id", p.SourceAgentID, "peers", len(shared))
	return shared, nil
}

// Conversations lists an agent's collaborations, newest first.
func (s *Service) Conversations(ctx context.Context, agentID string, limit int) ([]*models.Conversation, error) {
	return s.stores.Conversations.ListByParticipant(ctx, agentID, limit)
}

// Transcript returns a collaboration's messages in insertion order.
func (s *Service) Transcript(ctx context.Context, conversationID string) ([]*models.ConversationMessage, error) {
	if _, err := s.stores.Conversations.Get(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("collab: conversation %s: %w", conversationID, err)
	}
	return s.stores.Conversations.ListMessages(ctx, conversationID)
}

func (s *Service) agentForUser(ctx context.Context, agentID, userID string) (*models.Agent, error) {
	agent, err := s.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("collab: agent %s: %w", agentID, err)
	}
	if agent.UserID != userID {
		return nil, fmt.Errorf("%w: agent %s", ErrCrossUser, agentID)
	}
	return agent, nil
}

func (s *Service) agentsForUser(ctx context.Context, userID string, ids ...string) (map[string]*models.Agent, error) {
	out := make(map[string]*models.Agent, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		agent, err := s.agentForUser(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		out[id] = agent
	}
	return out, nil
}

func (s *Service) voteTrigger(conv *models.Conversation, initiatorName string, options []string) *models.TriggerContext {
	return &models.TriggerContext{
		Type:         models.TriggerEvent,
		EventKind:    models.EventConsensusVote,
		SenderName:   initiatorName,
		Preview:      conv.Topic,
		CustomPrompt: ballot(initiatorName, conv.Topic, options),
		Extra:        map[string]any{"conversation_id": conv.ID},
	}
}

func (s *Service) addMessage(ctx context.Context, conversationID, agentID string, typ models.ConversationMessageType, content string, vote *int) {
	msg := &models.ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		AgentID:        agentID,
		Type:           typ,
		Content:        content,
		VoteOption:     vote,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.stores.Conversations.AddMessage(ctx, msg); err != nil {
		s.logger.Warn("record collaboration message", "conversation_id", conversationID, "error", err)
	}
}

func (s *Service) complete(ctx context.Context, conv *models.Conversation, result map[string]any) {
	conv.Status = models.ConversationCompleted
	conv.Result = result
	done := s.now().UTC()
	conv.CompletedAt = &done
	if err := s.stores.Conversations.Update(ctx, conv); err != nil {
		s.logger.Warn("complete conversation", "conversation_id", conv.ID, "error", err)
	}
}

func (s *Service) fail(ctx context.Context, conv *models.Conversation, reason string) {
	conv.Status = models.ConversationFailed
	conv.Result = map[string]any{"error": reason}
	done := s.now().UTC()
	conv.CompletedAt = &done
	if err := s.stores.Conversations.Update(ctx, conv); err != nil {
		s.logger.Warn("fail conversation", "conversation_id", conv.ID, "error", err)
	}
}

func (s *Service) hasAnySkill(ctx context.Context, agentID string, categories map[models.SkillCategory]struct{}) (bool, error) {
	skills, err := s.stores.Skills.ListByAgent(ctx, agentID)
	if err != nil {
		return false, err
	}
	for _, sk := range skills {
		if _, ok := categories[sk.Category]; ok {
			return true, nil
		}
	}
	return false, nil
}

var firstInt = regexp.MustCompile(`-?\d+`)

// parseVote extracts the first integer from a reply and maps it to a
// zero-based option index. Numbers outside 1..n are invalid.
func parseVote(reply string, optionCount int) (int, bool) {
	m := firstInt.FindString(reply)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 || n > optionCount {
		return 0, false
	}
	return n - 1, true
}

// isConcession reports whether a rebuttal yields. The rebuttal prompt asks
// yielding agents to open their reply with the word CONCEDE, so only the
// first word counts; "I will not concede" is a defense.
func isConcession(reply string) bool {
	fields := strings.Fields(strings.ToUpper(reply))
	if len(fields) == 0 {
		return false
	}
	return strings.Trim(fields[0], ".,:;!") == "CONCEDE"
}

// normalizeVote collapses case and whitespace so free-text votes that mean
// the same thing tally together.
func normalizeVote(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// textTally groups votes by normalized text. Ties go to the earliest vote so
// the result is deterministic.
func textTally(votes []*models.ConversationMessage) (string, map[string]int) {
	tallies := make(map[string]int)
	var order []string
	for _, v := range votes {
		key := normalizeVote(v.Content)
		if key == "" {
			continue
		}
		if _, seen := tallies[key]; !seen {
			order = append(order, key)
		}
		tallies[key]++
	}
	winner, best := "", 0
	for _, key := range order {
		if tallies[key] > best {
			winner, best = key, tallies[key]
		}
	}
	return winner, tallies
}

func filterVotes(msgs []*models.ConversationMessage) []*models.ConversationMessage {
	var votes []*models.ConversationMessage
	for _, m := range msgs {
		if m.Type == models.CollabVote {
			votes = append(votes, m)
		}
	}
	return votes
}

func skillCategories(tags []string) map[models.SkillCategory]struct{} {
	out := make(map[models.SkillCategory]struct{})
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if models.ValidSkillCategory(t) {
			out[models.SkillCategory(t)] = struct{}{}
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func agentName(agents map[string]*models.Agent, id string) string {
	if a, ok := agents[id]; ok && a.Name != "" {
		return a.Name
	}
	return id
}

func metadataInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func metadataStrings(md map[string]any, key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func consultPrompt(fromName, question string, background map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is consulting you.\n\nQuestion: %s\n", fromName, question)
	if len(background) > 0 {
		b.WriteString("\nContext:\n")
		keys := make([]string, 0, len(background))
		for k := range background {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, background[k])
		}
	}
	b.WriteString("\nAnswer directly and concisely from your own expertise.")
	return b.String()
}

func ballot(initiatorName, topic string, options []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s called a vote on: %s\n\nOptions:\n", initiatorName, topic)
	for i, opt := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	b.WriteString("\nRespond with the number of your chosen option followed by a short reason.")
	return b.String()
}

func renderPositions(topic string, positions []Position, agents map[string]*models.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conflict: %s\n\nPositions:\n", topic)
	for i, pos := range positions {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, agentName(agents, pos.AgentID), pos.Statement)
	}
	return strings.TrimRight(b.String(), "\n")
}

func rebuttalPrompt(topic string, own Position, all []Position, agents map[string]*models.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A conflict needs resolution: %s\n\nYour position: %s\n\nOther positions:\n", topic, own.Statement)
	for _, pos := range all {
		if pos.AgentID == own.AgentID {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", agentName(agents, pos.AgentID), pos.Statement)
	}
	b.WriteString("\nDefend your position with your strongest argument, or open your reply with CONCEDE if another position is better.")
	return b.String()
}

func arbiterPrompt(topic string, positions []Position, agents map[string]*models.Agent, rebuttals []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the neutral arbiter of a conflict: %s\n\nPositions:\n", topic)
	for i, pos := range positions {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, agentName(agents, pos.AgentID), pos.Statement)
		if i < len(rebuttals) && rebuttals[i] != "" {
			fmt.Fprintf(&b, "   Defense: %s\n", rebuttals[i])
		}
	}
	b.WriteString("\nRespond with the number of the winning position and a short justification.")
	return b.String()
}

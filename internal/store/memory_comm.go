package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/pkg/models"
)

// MemoryApprovalStore provides an in-memory ApprovalStore.
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ApprovalRequest
	order    []string
}

// NewMemoryApprovalStore creates an in-memory approval store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*models.ApprovalRequest)}
}

func cloneApproval(r *models.ApprovalRequest) *models.ApprovalRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Params = maps.Clone(r.Params)
	out.ModifiedParams = maps.Clone(r.ModifiedParams)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	if r.ResumedRunAt != nil {
		t := *r.ResumedRunAt
		out.ResumedRunAt = &t
	}
	return &out
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return ErrAlreadyExists
	}
	s.requests[req.ID] = cloneApproval(req)
	s.order = append(s.order, req.ID)
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApproval(req), nil
}

func (s *MemoryApprovalStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; !exists {
		return ErrNotFound
	}
	s.requests[req.ID] = cloneApproval(req)
	return nil
}

func (s *MemoryApprovalStore) ListPending(ctx context.Context, agentID string) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApprovalRequest
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if req == nil || req.Status != models.ApprovalPending {
			continue
		}
		if agentID != "" && req.AgentID != agentID {
			continue
		}
		out = append(out, cloneApproval(req))
	}
	return out, nil
}

func (s *MemoryApprovalStore) LatestPendingForContact(ctx context.Context, masterContact string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if req == nil || req.Status != models.ApprovalPending {
			continue
		}
		if req.MasterContact == masterContact {
			return cloneApproval(req), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryApprovalStore) ExpirePending(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*models.ApprovalRequest
	for _, req := range s.requests {
		if req.Status != models.ApprovalPending || !now.After(req.ExpiresAt) {
			continue
		}
		req.Status = models.ApprovalExpired
		t := now
		req.ResolvedAt = &t
		expired = append(expired, cloneApproval(req))
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	return expired, nil
}

// MemoryAgentMessageStore provides an in-memory AgentMessageStore.
type MemoryAgentMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.AgentMessage
	order    []string
	threads  map[string]*models.Thread // by key
	byID     map[string]*models.Thread
}

// NewMemoryAgentMessageStore creates an in-memory agent message store.
func NewMemoryAgentMessageStore() *MemoryAgentMessageStore {
	return &MemoryAgentMessageStore{
		messages: make(map[string]*models.AgentMessage),
		threads:  make(map[string]*models.Thread),
		byID:     make(map[string]*models.Thread),
	}
}

func cloneAgentMessage(m *models.AgentMessage) *models.AgentMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.Metadata = maps.Clone(m.Metadata)
	if m.DeadlineAt != nil {
		t := *m.DeadlineAt
		out.DeadlineAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	return &out
}

func cloneThread(t *models.Thread) *models.Thread {
	if t == nil {
		return nil
	}
	out := *t
	out.Participants = slices.Clone(t.Participants)
	out.Context = maps.Clone(t.Context)
	return &out
}

func (s *MemoryAgentMessageStore) SaveMessage(ctx context.Context, msg *models.AgentMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.order = append(s.order, msg.ID)
		if thread := s.byID[msg.ThreadID]; thread != nil {
			thread.MessageCount++
			thread.LastMessageAt = msg.CreatedAt
		}
	}
	s.messages[msg.ID] = cloneAgentMessage(msg)
	return nil
}

func (s *MemoryAgentMessageStore) GetMessage(ctx context.Context, id string) (*models.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgentMessage(msg), nil
}

func (s *MemoryAgentMessageStore) UpdateStatus(ctx context.Context, id string, status models.AgentMessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	if status == models.AgentMsgRead && msg.ReadAt == nil {
		now := time.Now().UTC()
		msg.ReadAt = &now
	}
	return nil
}

func (s *MemoryAgentMessageStore) ListInbox(ctx context.Context, agentID string, statuses []models.AgentMessageStatus, limit int) ([]*models.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[models.AgentMessageStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []*models.AgentMessage
	for _, id := range s.order {
		msg := s.messages[id]
		if msg == nil || msg.ToAgentID != agentID {
			continue
		}
		if len(wanted) > 0 && !wanted[msg.Status] {
			continue
		}
		out = append(out, cloneAgentMessage(msg))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAgentMessageStore) ListSent(ctx context.Context, agentID string, limit int) ([]*models.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AgentMessage
	for i := len(s.order) - 1; i >= 0; i-- {
		msg := s.messages[s.order[i]]
		if msg == nil || msg.FromAgentID != agentID {
			continue
		}
		out = append(out, cloneAgentMessage(msg))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAgentMessageStore) CountUnread(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msg := range s.messages {
		if msg.ToAgentID != agentID {
			continue
		}
		if msg.Status == models.AgentMsgPending || msg.Status == models.AgentMsgDelivered {
			n++
		}
	}
	return n, nil
}

func threadStoreKey(threadType models.ThreadType, taskID string, participants []string) string {
	key := models.ThreadKey(participants...)
	if threadType == models.ThreadTask && taskID != "" {
		key += "|task:" + taskID
	}
	return key
}

func (s *MemoryAgentMessageStore) FindOrCreateThread(ctx context.Context, threadType models.ThreadType, taskID string, participants ...string) (*models.Thread, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("participants are required")
	}
	key := threadStoreKey(threadType, taskID, participants)
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread, ok := s.threads[key]; ok {
		return cloneThread(thread), nil
	}
	sorted := slices.Clone(participants)
	sort.Strings(sorted)
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:            uuid.NewString(),
		Key:           key,
		ThreadType:    threadType,
		Participants:  sorted,
		TaskID:        taskID,
		IsActive:      true,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	s.threads[key] = thread
	s.byID[thread.ID] = thread
	return cloneThread(thread), nil
}

func (s *MemoryAgentMessageStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(thread), nil
}

func (s *MemoryAgentMessageStore) ListThreads(ctx context.Context, agentID string, limit int) ([]*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Thread
	for _, thread := range s.byID {
		if !slices.Contains(thread.Participants, agentID) {
			continue
		}
		out = append(out, cloneThread(thread))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryAgentMessageStore) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]*models.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AgentMessage
	for _, id := range s.order {
		msg := s.messages[id]
		if msg == nil || msg.ThreadID != threadID {
			continue
		}
		out = append(out, cloneAgentMessage(msg))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryConversationStore provides an in-memory ConversationStore.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.ConversationMessage
	order         []string
}

// NewMemoryConversationStore creates an in-memory collaboration store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.ConversationMessage),
	}
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = slices.Clone(c.Participants)
	out.Metadata = maps.Clone(c.Metadata)
	out.Result = maps.Clone(c.Result)
	if c.Deadline != nil {
		t := *c.Deadline
		out.Deadline = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func cloneConversationMessage(m *models.ConversationMessage) *models.ConversationMessage {
	if m == nil {
		return nil
	}
	out := *m
	if m.VoteOption != nil {
		v := *m.VoteOption
		out.VoteOption = &v
	}
	return &out
}

func (s *MemoryConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return ErrAlreadyExists
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	s.order = append(s.order, conv.ID)
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; !exists {
		return ErrNotFound
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryConversationStore) AddMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("conversation message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[msg.ConversationID]; !exists {
		return ErrNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], cloneConversationMessage(msg))
	return nil
}

func (s *MemoryConversationStore) ListMessages(ctx context.Context, conversationID string) ([]*models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]*models.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cloneConversationMessage(m))
	}
	return out, nil
}

func (s *MemoryConversationStore) ListActiveByParticipant(ctx context.Context, agentID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, id := range s.order {
		conv := s.conversations[id]
		if conv == nil || conv.Status != models.ConversationActive {
			continue
		}
		if conv.InitiatorID != agentID && !slices.Contains(conv.Participants, agentID) {
			continue
		}
		out = append(out, cloneConversation(conv))
	}
	return out, nil
}

func (s *MemoryConversationStore) ListByParticipant(ctx context.Context, agentID string, limit int) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for i := len(s.order) - 1; i >= 0; i-- {
		conv := s.conversations[s.order[i]]
		if conv == nil {
			continue
		}
		if conv.InitiatorID != agentID && !slices.Contains(conv.Participants, agentID) {
			continue
		}
		out = append(out, cloneConversation(conv))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryNotificationStore provides an in-memory NotificationStore.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*models.MasterNotification
	order         []string
}

// NewMemoryNotificationStore creates an in-memory notification store.
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{notifications: make(map[string]*models.MasterNotification)}
}

func cloneNotification(n *models.MasterNotification) *models.MasterNotification {
	if n == nil {
		return nil
	}
	out := *n
	out.Context = maps.Clone(n.Context)
	if n.SentAt != nil {
		t := *n.SentAt
		out.SentAt = &t
	}
	if n.DeliveredAt != nil {
		t := *n.DeliveredAt
		out.DeliveredAt = &t
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		out.ReadAt = &t
	}
	return &out
}

func (s *MemoryNotificationStore) Create(ctx context.Context, n *models.MasterNotification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notifications[n.ID]; exists {
		return ErrAlreadyExists
	}
	s.notifications[n.ID] = cloneNotification(n)
	s.order = append(s.order, n.ID)
	return nil
}

func (s *MemoryNotificationStore) Update(ctx context.Context, n *models.MasterNotification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notifications[n.ID]; !exists {
		return ErrNotFound
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (s *MemoryNotificationStore) Get(ctx context.Context, id string) (*models.MasterNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNotification(n), nil
}

func (s *MemoryNotificationStore) ListPending(ctx context.Context, limit int) ([]*models.MasterNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MasterNotification
	for _, id := range s.order {
		n := s.notifications[id]
		if n == nil || n.Status != models.DeliveryPending {
			continue
		}
		out = append(out, cloneNotification(n))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryNotificationStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.MasterNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MasterNotification
	for i := len(s.order) - 1; i >= 0; i-- {
		n := s.notifications[s.order[i]]
		if n == nil || n.AgentID != agentID {
			continue
		}
		out = append(out, cloneNotification(n))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

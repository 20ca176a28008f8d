// Package agentcomm routes directed messages between agents of the same
// user. Messages land in threads keyed by the participant set, insert as
// pending and deliver in the same call; replies stay in the original's
// thread and close the loop on the message they answer.
package agentcomm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

var (
	ErrCrossUser = errors.New("agentcomm: sender and receiver belong to different users")
	ErrSelfSend  = errors.New("agentcomm: sender and receiver are the same agent")
	ErrTerminal  = errors.New("agentcomm: message is in a terminal state")
)

// Service sends, reads and threads AI-to-AI messages.
type Service struct {
	stores store.StoreSet
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the messaging service.
func NewService(stores store.StoreSet, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stores: stores,
		logger: logger.With("component", "agentcomm"),
		now:    time.Now,
	}
}

// SendParams describes one outgoing message.
type SendParams struct {
	From    string
	To      string
	Type    models.AgentMessageType
	Subject string
	Content string

	Priority models.ApprovalPriority

	// TaskID puts the message in a task thread instead of the direct one.
	TaskID string

	Metadata   map[string]any
	DeadlineAt *time.Time
	ExpiresAt  *time.Time
}

// Send validates the pair, resolves the thread and delivers the message.
// The row is inserted as pending and transitions to delivered before Send
// returns; cross-process delivery is not a concern because both agents
// share the database.
func (s *Service) Send(ctx context.Context, p SendParams) (*models.AgentMessage, error) {
	if strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" {
		return nil, errors.New("agentcomm: sender and receiver are required")
	}
	if p.From == p.To {
		return nil, ErrSelfSend
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, errors.New("agentcomm: content is required")
	}

	sender, err := s.stores.Agents.Get(ctx, p.From)
	if err != nil {
		return nil, fmt.Errorf("agentcomm: sender %s: %w", p.From, err)
	}
	receiver, err := s.stores.Agents.Get(ctx, p.To)
	if err != nil {
		return nil, fmt.Errorf("agentcomm: receiver %s: %w", p.To, err)
	}
	if sender.UserID != receiver.UserID {
		return nil, ErrCrossUser
	}

	threadType := models.ThreadDirect
	if p.TaskID != "" {
		threadType = models.ThreadTask
	}
	thread, err := s.stores.Messages.FindOrCreateThread(ctx, threadType, p.TaskID, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("agentcomm: resolve thread: %w", err)
	}

	msgType := p.Type
	if msgType == "" {
		msgType = models.AgentMsgNotification
	}
	priority := p.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	msg := &models.AgentMessage{
		ID:          uuid.New().String(),
		ThreadID:    thread.ID,
		FromAgentID: p.From,
		ToAgentID:   p.To,
		Type:        msgType,
		Subject:     strings.TrimSpace(p.Subject),
		Content:     p.Content,
		Status:      models.AgentMsgPending,
		Priority:    priority,
		TaskID:      p.TaskID,
		Metadata:    p.Metadata,
		DeadlineAt:  p.DeadlineAt,
		ExpiresAt:   p.ExpiresAt,
		CreatedAt:   s.now().UTC(),
	}
	if msg.ExpectsResponse() {
		msg.CorrelationID = msg.ID
	}

	if err := s.stores.Messages.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("agentcomm: save message: %w", err)
	}
	if err := s.stores.Messages.UpdateStatus(ctx, msg.ID, models.AgentMsgDelivered); err != nil {
		return nil, fmt.Errorf("agentcomm: deliver message: %w", err)
	}
	msg.Status = models.AgentMsgDelivered

	s.logger.Debug("message delivered",
		"from", p.From,
		"to", p.To,
		"type", string(msgType),
		"thread_id", thread.ID)
	return msg, nil
}

// Reply answers an existing message in its thread. The reply copies the
// original's priority and task linkage, and the original is marked
// responded.
func (s *Service) Reply(ctx context.Context, originalID, content string, metadata map[string]any) (*models.AgentMessage, error) {
	orig, err := s.stores.Messages.GetMessage(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("agentcomm: original %s: %w", originalID, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("agentcomm: content is required")
	}

	subject := orig.Subject
	if subject != "" && !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	correlation := orig.CorrelationID
	if correlation == "" {
		correlation = orig.ID
	}

	reply := &models.AgentMessage{
		ID:            uuid.New().String(),
		ThreadID:      orig.ThreadID,
		FromAgentID:   orig.ToAgentID,
		ToAgentID:     orig.FromAgentID,
		Type:          models.AgentMsgResponse,
		Subject:       subject,
		Content:       content,
		Status:        models.AgentMsgPending,
		Priority:      orig.Priority,
		TaskID:        orig.TaskID,
		CorrelationID: correlation,
		ReplyTo:       orig.ID,
		Metadata:      metadata,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.stores.Messages.SaveMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("agentcomm: save reply: %w", err)
	}
	if err := s.stores.Messages.UpdateStatus(ctx, reply.ID, models.AgentMsgDelivered); err != nil {
		return nil, fmt.Errorf("agentcomm: deliver reply: %w", err)
	}
	reply.Status = models.AgentMsgDelivered

	if err := s.stores.Messages.UpdateStatus(ctx, orig.ID, models.AgentMsgResponded); err != nil {
		s.logger.Warn("mark original responded", "message_id", orig.ID, "error", err)
	}
	return reply, nil
}

// DelegateTask sends a task_delegation message in the task's thread.
func (s *Service) DelegateTask(ctx context.Context, from, to, taskID, subject, content string, deadline *time.Time) (*models.AgentMessage, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("agentcomm: task id is required for delegation")
	}
	return s.Send(ctx, SendParams{
		From:       from,
		To:         to,
		Type:       models.AgentMsgTaskDelegation,
		Subject:    subject,
		Content:    content,
		Priority:   models.PriorityHigh,
		TaskID:     taskID,
		DeadlineAt: deadline,
	})
}

// Handoff transfers ownership of in-flight work, carrying the
// accumulated state in the message metadata.
func (s *Service) Handoff(ctx context.Context, from, to, taskID, content string, state map[string]any) (*models.AgentMessage, error) {
	return s.Send(ctx, SendParams{
		From:     from,
		To:       to,
		Type:     models.AgentMsgHandoff,
		Subject:  "Work handoff",
		Content:  content,
		Priority: models.PriorityHigh,
		TaskID:   taskID,
		Metadata: state,
	})
}

// ShareContext pushes background knowledge to a peer without expecting a
// reply.
func (s *Service) ShareContext(ctx context.Context, from, to, note string, shared map[string]any) (*models.AgentMessage, error) {
	return s.Send(ctx, SendParams{
		From:     from,
		To:       to,
		Type:     models.AgentMsgContextShare,
		Subject:  "Context share",
		Content:  note,
		Metadata: shared,
	})
}

// InboxOptions filter inbox reads.
type InboxOptions struct {
	// Statuses restricts results; empty means every status.
	Statuses []models.AgentMessageStatus

	Limit int
}

// Inbox lists messages addressed to the agent, oldest first. Messages
// past their expiry are transitioned to expired and dropped from the
// result on the way out.
func (s *Service) Inbox(ctx context.Context, agentID string, opts InboxOptions) ([]*models.AgentMessage, error) {
	msgs, err := s.stores.Messages.ListInbox(ctx, agentID, opts.Statuses, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("agentcomm: list inbox: %w", err)
	}
	now := s.now()
	out := msgs[:0]
	for _, msg := range msgs {
		if s.expireIfStale(ctx, msg, now) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// expireIfStale lazily expires an overdue undelivered-or-unread message.
func (s *Service) expireIfStale(ctx context.Context, msg *models.AgentMessage, now time.Time) bool {
	if msg.ExpiresAt == nil || now.Before(*msg.ExpiresAt) {
		return false
	}
	if msg.Status != models.AgentMsgPending && msg.Status != models.AgentMsgDelivered {
		return false
	}
	if err := s.stores.Messages.UpdateStatus(ctx, msg.ID, models.AgentMsgExpired); err != nil {
		s.logger.Warn("expire message", "message_id", msg.ID, "error", err)
		return false
	}
	return true
}

// Sent lists messages the agent sent, newest first.
func (s *Service) Sent(ctx context.Context, agentID string, limit int) ([]*models.AgentMessage, error) {
	return s.stores.Messages.ListSent(ctx, agentID, limit)
}

// Unread counts receiver-side messages still pending or delivered.
func (s *Service) Unread(ctx context.Context, agentID string) (int, error) {
	return s.stores.Messages.CountUnread(ctx, agentID)
}

// statusRank orders the delivery lifecycle; transitions never go back.
var statusRank = map[models.AgentMessageStatus]int{
	models.AgentMsgPending:      0,
	models.AgentMsgDelivered:    1,
	models.AgentMsgRead:         2,
	models.AgentMsgAcknowledged: 3,
	models.AgentMsgResponded:    4,
}

func (s *Service) advance(ctx context.Context, messageID string, to models.AgentMessageStatus) error {
	msg, err := s.stores.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("agentcomm: message %s: %w", messageID, err)
	}
	cur, ok := statusRank[msg.Status]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTerminal, msg.Status)
	}
	if cur >= statusRank[to] {
		return nil
	}
	return s.stores.Messages.UpdateStatus(ctx, messageID, to)
}

// MarkRead advances a message to read. Already-read messages are left
// alone.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	return s.advance(ctx, messageID, models.AgentMsgRead)
}

// Acknowledge advances a message to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, messageID string) error {
	return s.advance(ctx, messageID, models.AgentMsgAcknowledged)
}

// Threads lists the agent's threads, most recently active first.
func (s *Service) Threads(ctx context.Context, agentID string, limit int) ([]*models.Thread, error) {
	return s.stores.Messages.ListThreads(ctx, agentID, limit)
}

// Transcript returns a thread's messages, oldest first.
func (s *Service) Transcript(ctx context.Context, threadID string, limit int) ([]*models.AgentMessage, error) {
	return s.stores.Messages.ListThreadMessages(ctx, threadID, limit)
}

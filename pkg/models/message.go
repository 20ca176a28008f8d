package models

import (
	"sort"
	"strings"
	"time"
)

// AgentMessageType classifies AI-to-AI traffic.
type AgentMessageType string

const (
	AgentMsgTaskDelegation AgentMessageType = "task_delegation"
	AgentMsgTaskUpdate     AgentMessageType = "task_update"
	AgentMsgContextShare   AgentMessageType = "context_share"
	AgentMsgRequest        AgentMessageType = "request"
	AgentMsgResponse       AgentMessageType = "response"
	AgentMsgNotification   AgentMessageType = "notification"
	AgentMsgHandoff        AgentMessageType = "handoff"
	AgentMsgCoordination   AgentMessageType = "coordination"
)

// AgentMessageStatus is the delivery state of an AI-to-AI message.
type AgentMessageStatus string

const (
	AgentMsgPending      AgentMessageStatus = "pending"
	AgentMsgDelivered    AgentMessageStatus = "delivered"
	AgentMsgRead         AgentMessageStatus = "read"
	AgentMsgAcknowledged AgentMessageStatus = "acknowledged"
	AgentMsgResponded    AgentMessageStatus = "responded"
	AgentMsgFailed       AgentMessageStatus = "failed"
	AgentMsgExpired      AgentMessageStatus = "expired"
)

// AgentMessage is one message between two agents. Delegations expect a
// response message carrying the same correlation ID; ReplyTo chains
// follow-ups inside a thread.
type AgentMessage struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"thread_id"`
	FromAgentID string           `json:"from_agent_id"`
	ToAgentID   string           `json:"to_agent_id"`
	Type        AgentMessageType `json:"type"`
	Subject     string           `json:"subject,omitempty"`
	Content     string           `json:"content"`

	Status   AgentMessageStatus `json:"status"`
	Priority ApprovalPriority   `json:"priority,omitempty"`

	// TaskID links delegation traffic to the delegated task record.
	TaskID        string `json:"task_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	DeadlineAt *time.Time `json:"deadline_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// ExpectsResponse reports whether the sender is waiting on a reply.
func (m *AgentMessage) ExpectsResponse() bool {
	switch m.Type {
	case AgentMsgTaskDelegation, AgentMsgRequest, AgentMsgHandoff:
		return true
	}
	return false
}

// ThreadType classifies what a thread is for.
type ThreadType string

const (
	ThreadDirect        ThreadType = "direct"
	ThreadTask          ThreadType = "task"
	ThreadCollaboration ThreadType = "collaboration"
)

// Thread groups messages between a fixed set of agents. The key is the
// sorted participant set so A->B and B->A land in the same thread.
type Thread struct {
	ID           string     `json:"id"`
	Key          string     `json:"key"`
	ThreadType   ThreadType `json:"thread_type"`
	Participants []string   `json:"participants"`
	Subject      string     `json:"subject,omitempty"`

	// TaskID is set for task threads; Context carries shared state the
	// participants have agreed on.
	TaskID  string         `json:"task_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`

	IsActive      bool      `json:"is_active"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// ThreadKey builds the canonical key for a participant set. Order of the
// input does not matter.
func ThreadKey(participants ...string) string {
	ids := make([]string, len(participants))
	copy(ids, participants)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

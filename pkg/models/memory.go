package models

import "time"

// MemoryKind classifies stored memories.
type MemoryKind string

const (
	MemoryConversation   MemoryKind = "conversation"
	MemoryTransaction    MemoryKind = "transaction"
	MemoryDecision       MemoryKind = "decision"
	MemoryLearning       MemoryKind = "learning"
	MemoryContext        MemoryKind = "context"
	MemoryEntity         MemoryKind = "entity"
	MemoryPreference     MemoryKind = "preference"
	MemorySharedLearning MemoryKind = "shared_learning"
	MemoryPlanExecution  MemoryKind = "plan_execution"
	MemoryReflection     MemoryKind = "reflection"
)

// Memory is one durable item in an agent's long-term store. Importance and
// recency drive retrieval ranking; consolidation merges near-duplicates and
// expires entries whose ExpiresAt has passed.
type Memory struct {
	ID      string     `json:"id"`
	AgentID string     `json:"agent_id"`
	UserID  string     `json:"user_id"`
	Kind    MemoryKind `json:"kind"`
	Content string     `json:"content"`
	Summary string     `json:"summary,omitempty"`

	Importance float64  `json:"importance"` // 0..1
	Valence    float64  `json:"valence"`    // -1..1
	Tags       []string `json:"tags,omitempty"`

	// RelatedEntity names the contact, task, or agent this memory is about.
	RelatedEntity string `json:"related_entity,omitempty"`
	// SessionID groups memories captured during one reasoning run.
	SessionID string `json:"session_id,omitempty"`

	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Expired reports whether the memory has an expiry in the past.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

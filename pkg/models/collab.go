package models

import "time"

// ConversationType is the collaboration pattern in play.
type ConversationType string

const (
	ConversationConsultation   ConversationType = "consultation"
	ConversationConsensus      ConversationType = "consensus"
	ConversationAsyncConsensus ConversationType = "async_consensus"
	ConversationConflict       ConversationType = "conflict_resolution"
)

// ConversationStatus tracks a collaboration to completion.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationFailed    ConversationStatus = "failed"
)

// Conversation is one multi-agent collaboration: a consultation between two
// agents, a consensus vote across several, or a conflict resolution.
// Metadata carries pattern-specific state such as vote options or the
// positions under dispute; Result holds the outcome once finished.
type Conversation struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Type         ConversationType   `json:"type"`
	Status       ConversationStatus `json:"status"`
	InitiatorID  string             `json:"initiator_id"`
	Participants []string           `json:"participants"`
	Topic        string             `json:"topic"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Result   map[string]any `json:"result,omitempty"`

	Deadline    *time.Time `json:"deadline,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PastDeadline reports whether an async collaboration has run out of time.
func (c *Conversation) PastDeadline(now time.Time) bool {
	return c.Deadline != nil && now.After(*c.Deadline)
}

// ConversationMessageType classifies entries inside a collaboration.
type ConversationMessageType string

const (
	CollabQuestion ConversationMessageType = "question"
	CollabResponse ConversationMessageType = "response"
	CollabVote     ConversationMessageType = "vote"
	CollabResult   ConversationMessageType = "result"
)

// ConversationMessage is one entry in a collaboration transcript. Vote
// messages carry the chosen option index in VoteOption.
type ConversationMessage struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversation_id"`
	AgentID        string                  `json:"agent_id"`
	Type           ConversationMessageType `json:"type"`
	Content        string                  `json:"content"`
	VoteOption     *int                    `json:"vote_option,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// ConsensusResult summarizes a finished vote.
type ConsensusResult struct {
	Winner     string         `json:"winner"`
	WinnerIdx  int            `json:"winner_idx"`
	Tallies    map[string]int `json:"tallies"`
	TotalVotes int            `json:"total_votes"`
	Unanimous  bool           `json:"unanimous"`
}

// TallyVotes counts option picks and returns the majority winner. Ties go
// to the lowest option index so the result is deterministic.
func TallyVotes(options []string, picks []int) ConsensusResult {
	res := ConsensusResult{Tallies: make(map[string]int), WinnerIdx: -1}
	counts := make([]int, len(options))
	for _, p := range picks {
		if p < 0 || p >= len(options) {
			continue
		}
		counts[p]++
		res.TotalVotes++
	}
	best := -1
	for i, n := range counts {
		res.Tallies[options[i]] = n
		if n > best {
			best = n
			res.WinnerIdx = i
		}
	}
	if res.WinnerIdx >= 0 {
		res.Winner = options[res.WinnerIdx]
		res.Unanimous = res.TotalVotes > 0 && counts[res.WinnerIdx] == res.TotalVotes
	}
	return res
}

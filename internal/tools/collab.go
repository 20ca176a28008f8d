package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

// AgentPosition is one side of a conflict handed to resolveConflict.
type AgentPosition struct {
	AgentID   string `json:"agentId"`
	Statement string `json:"statement"`
}

// ConsensusReport is the live view of a vote returned by checkConsensus.
type ConsensusReport struct {
	ConversationID string         `json:"conversationId"`
	Done           bool           `json:"done"`
	Winner         string         `json:"winner,omitempty"`
	VotesIn        int            `json:"votesIn"`
	Expected       int            `json:"expected"`
	Tallies        map[string]int `json:"tallies,omitempty"`
}

// Collaborator runs structured protocols between agents of the same user.
// The collaboration service implements it.
type Collaborator interface {
	Consult(ctx context.Context, tctx *models.ToolContext, toAgentID, question string, background map[string]any) (*models.Conversation, error)
	Consensus(ctx context.Context, tctx *models.ToolContext, topic string, options, voterIDs []string) (*models.Conversation, error)
	AsyncConsensus(ctx context.Context, tctx *models.ToolContext, topic string, options, voterIDs []string, deadline time.Time) (*models.Conversation, error)
	ConsensusStatus(ctx context.Context, conversationID string) (*ConsensusReport, error)
	ResolveConflict(ctx context.Context, tctx *models.ToolContext, topic string, positions []AgentPosition, escalateTo string) (*models.Conversation, error)
	ShareLearning(ctx context.Context, tctx *models.ToolContext, learning string, tags []string, importance float64) ([]string, error)
}

func collaborationTools(collab Collaborator) []Tool {
	return []Tool{
		consultAgentTool(collab),
		requestConsensusTool(collab),
		checkConsensusTool(collab),
		resolveConflictTool(collab),
		shareLearningTool(collab),
	}
}

func consultAgentTool(collab Collaborator) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "consultAgent",
			Description: "Ask another of your user's agents a question and get its answer.",
			Required:    []string{"agentId", "question"},
			Optional:    []string{"context"},
			ParamDocs: map[string]string{
				"agentId":  "ID of the agent to consult.",
				"question": "The question to ask.",
				"context":  "Background facts the consulted agent should see.",
			},
			ParamTypes: map[string]string{"context": "object"},
			Group:      GroupOrchestration,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				AgentID  string         `json:"agentId"`
				Question string         `json:"question"`
				Context  map[string]any `json:"context"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			if strings.TrimSpace(input.Question) == "" {
				return errResult("question is required"), nil
			}
			if strings.TrimSpace(input.AgentID) == "" {
				return errResult("agentId is required"), nil
			}

			conv, err := collab.Consult(ctx, tctx, strings.TrimSpace(input.AgentID), input.Question, input.Context)
			if err != nil {
				return nil, fmt.Errorf("consult agent: %w", err)
			}
			return okResult(map[string]any{
				"conversationId": conv.ID,
				"response":       conv.Result["response"],
			}), nil
		},
	}
}

func requestConsensusTool(collab Collaborator) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "requestConsensus",
			Description: "Put a decision to a vote among your user's agents.",
			Required:    []string{"topic", "options", "voterIds"},
			Optional:    []string{"deadlineMinutes"},
			ParamDocs: map[string]string{
				"topic":           "The decision being voted on.",
				"options":         "At least two choices.",
				"voterIds":        "IDs of the agents that should vote.",
				"deadlineMinutes": "Collect votes in the background and finalize after this many minutes; omit to wait for every vote now.",
			},
			ParamTypes: map[string]string{
				"options":         "array",
				"voterIds":        "array",
				"deadlineMinutes": "number",
			},
			Group: GroupOrchestration,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Topic           string   `json:"topic"`
				Options         []string `json:"options"`
				VoterIDs        []string `json:"voterIds"`
				DeadlineMinutes float64  `json:"deadlineMinutes"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			if strings.TrimSpace(input.Topic) == "" {
				return errResult("topic is required"), nil
			}
			if len(input.Options) < 2 {
				return errResult("at least two options are required"), nil
			}
			if len(input.VoterIDs) == 0 {
				return errResult("voterIds is required"), nil
			}

			if input.DeadlineMinutes > 0 {
				deadline := time.Now().Add(time.Duration(input.DeadlineMinutes * float64(time.Minute)))
				conv, err := collab.AsyncConsensus(ctx, tctx, input.Topic, input.Options, input.VoterIDs, deadline)
				if err != nil {
					return nil, fmt.Errorf("request consensus: %w", err)
				}
				return okResult(map[string]any{
					"conversationId": conv.ID,
					"status":         "voting",
					"deadline":       conv.Deadline,
				}), nil
			}

			conv, err := collab.Consensus(ctx, tctx, input.Topic, input.Options, input.VoterIDs)
			if err != nil {
				return nil, fmt.Errorf("request consensus: %w", err)
			}
			return okResult(map[string]any{
				"conversationId": conv.ID,
				"winner":         conv.Result["winner"],
				"tallies":        conv.Result["tallies"],
				"totalVotes":     conv.Result["total_votes"],
				"unanimous":      conv.Result["unanimous"],
			}), nil
		},
	}
}

func checkConsensusTool(collab Collaborator) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "checkConsensus",
			Description: "Check the progress or result of a consensus vote.",
			Required:    []string{"conversationId"},
			ParamDocs: map[string]string{
				"conversationId": "ID returned by requestConsensus.",
			},
			Group: GroupOrchestration,
			Safe:  true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				ConversationID string `json:"conversationId"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			if strings.TrimSpace(input.ConversationID) == "" {
				return errResult("conversationId is required"), nil
			}

			report, err := collab.ConsensusStatus(ctx, strings.TrimSpace(input.ConversationID))
			if err != nil {
				return nil, fmt.Errorf("check consensus: %w", err)
			}
			return okResult(report), nil
		},
	}
}

func resolveConflictTool(collab Collaborator) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "resolveConflict",
			Description: "Resolve a disagreement between agents through a rebuttal round.",
			Required:    []string{"topic", "positions"},
			Optional:    []string{"escalateToAgentId"},
			ParamDocs: map[string]string{
				"topic":             "What the conflict is about.",
				"positions":         "The competing positions as {agentId, statement} pairs.",
				"escalateToAgentId": "Neutral agent that decides if nobody concedes.",
			},
			ParamTypes: map[string]string{"positions": "array"},
			Group:      GroupOrchestration,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Topic             string          `json:"topic"`
				Positions         []AgentPosition `json:"positions"`
				EscalateToAgentID string          `json:"escalateToAgentId"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			if strings.TrimSpace(input.Topic) == "" {
				return errResult("topic is required"), nil
			}
			if len(input.Positions) < 2 {
				return errResult("at least two positions are required"), nil
			}

			conv, err := collab.ResolveConflict(ctx, tctx, input.Topic, input.Positions, strings.TrimSpace(input.EscalateToAgentID))
			if err != nil {
				return nil, fmt.Errorf("resolve conflict: %w", err)
			}
			payload := map[string]any{
				"conversationId": conv.ID,
				"outcome":        conv.Result["outcome"],
			}
			for _, key := range []string{"method", "winner_agent_id", "winning_position"} {
				if v, ok := conv.Result[key]; ok {
					payload[key] = v
				}
			}
			return okResult(payload), nil
		},
	}
}

func shareLearningTool(collab Collaborator) Tool {
	return &Func{
		Desc: Descriptor{
			ID:          "shareLearning",
			Description: "Share a learning with your user's other agents so they remember it too.",
			Required:    []string{"learning"},
			Optional:    []string{"tags", "importance"},
			ParamDocs: map[string]string{
				"learning":   "The insight worth sharing.",
				"tags":       "Labels for the learning; skill category names narrow who receives it.",
				"importance": "How important the memory is, 0 to 1.",
			},
			ParamTypes: map[string]string{
				"tags":       "array",
				"importance": "number",
			},
			Group:    GroupStandard,
			Baseline: false,
			Safe:     true,
		},
		Run: func(ctx context.Context, params map[string]any, tctx *models.ToolContext) (*models.ToolResult, error) {
			var input struct {
				Learning   string   `json:"learning"`
				Tags       []string `json:"tags"`
				Importance float64  `json:"importance"`
			}
			if err := decodeParams(params, &input); err != nil {
				return errResult("invalid parameters: %v", err), nil
			}
			if strings.TrimSpace(input.Learning) == "" {
				return errResult("learning is required"), nil
			}

			shared, err := collab.ShareLearning(ctx, tctx, input.Learning, input.Tags, input.Importance)
			if err != nil {
				return nil, fmt.Errorf("share learning: %w", err)
			}
			return okResult(map[string]any{
				"sharedWith": shared,
				"count":      len(shared),
			}), nil
		},
	}
}

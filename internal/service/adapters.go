package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/collab"
	"github.com/legionruntime/legion/internal/notify"
	"github.com/legionruntime/legion/internal/rag"
	"github.com/legionruntime/legion/internal/reasoning"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/pkg/models"
)

// collabAdapter exposes the collaboration service through the tool-facing
// Collaborator interface. The field is bound after the loop exists, since
// collaboration protocols run the loop themselves.
type collabAdapter struct {
	svc *collab.Service
}

func (a *collabAdapter) ready() error {
	if a.svc == nil {
		return fmt.Errorf("collaboration is not available")
	}
	return nil
}

func (a *collabAdapter) Consult(ctx context.Context, tctx *models.ToolContext, toAgentID, question string, background map[string]any) (*models.Conversation, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.svc.StartConsultation(ctx, collab.ConsultParams{
		FromAgentID: tctx.AgentID,
		ToAgentID:   toAgentID,
		UserID:      tctx.UserID,
		Question:    question,
		Context:     background,
	})
}

func (a *collabAdapter) Consensus(ctx context.Context, tctx *models.ToolContext, topic string, options, voterIDs []string) (*models.Conversation, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.svc.RequestConsensus(ctx, collab.ConsensusParams{
		InitiatorID: tctx.AgentID,
		VoterIDs:    voterIDs,
		UserID:      tctx.UserID,
		Topic:       topic,
		Options:     options,
	})
}

func (a *collabAdapter) AsyncConsensus(ctx context.Context, tctx *models.ToolContext, topic string, options, voterIDs []string, deadline time.Time) (*models.Conversation, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.svc.RequestAsyncConsensus(ctx, collab.ConsensusParams{
		InitiatorID: tctx.AgentID,
		VoterIDs:    voterIDs,
		UserID:      tctx.UserID,
		Topic:       topic,
		Options:     options,
		Deadline:    deadline,
	})
}

func (a *collabAdapter) ConsensusStatus(ctx context.Context, conversationID string) (*tools.ConsensusReport, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	st, err := a.svc.CheckConsensusResult(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &tools.ConsensusReport{
		ConversationID: st.ConversationID,
		Done:           st.Done,
		Winner:         st.Winner,
		VotesIn:        st.VotesIn,
		Expected:       st.Expected,
		Tallies:        st.Tallies,
	}, nil
}

func (a *collabAdapter) ResolveConflict(ctx context.Context, tctx *models.ToolContext, topic string, positions []tools.AgentPosition, escalateTo string) (*models.Conversation, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	ps := make([]collab.Position, len(positions))
	for i, p := range positions {
		ps[i] = collab.Position{AgentID: p.AgentID, Statement: p.Statement}
	}
	return a.svc.ResolveConflict(ctx, collab.ConflictParams{
		InitiatorID: tctx.AgentID,
		UserID:      tctx.UserID,
		Topic:       topic,
		Positions:   ps,
		EscalateTo:  escalateTo,
	})
}

func (a *collabAdapter) ShareLearning(ctx context.Context, tctx *models.ToolContext, learning string, tags []string, importance float64) ([]string, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.svc.PropagateKnowledge(ctx, collab.ShareParams{
		SourceAgentID: tctx.AgentID,
		UserID:        tctx.UserID,
		Learning:      learning,
		Tags:          tags,
		Importance:    importance,
	})
}

// knowledgeAdapter maps knowledge retrieval onto the tool-facing snippet
// shape.
type knowledgeAdapter struct {
	svc *rag.Service
}

func (a *knowledgeAdapter) Retrieve(ctx context.Context, agentID, query string, topK int, minScore float64) ([]tools.KnowledgeSnippet, error) {
	snips, err := a.svc.Retrieve(ctx, agentID, query, topK, minScore)
	if err != nil {
		return nil, err
	}
	out := make([]tools.KnowledgeSnippet, len(snips))
	for i, s := range snips {
		out[i] = tools.KnowledgeSnippet{
			Library:  s.Library,
			Document: s.Document,
			Source:   s.Source,
			Content:  s.Content,
			Score:    s.Score,
		}
	}
	return out, nil
}

// messenger delivers outbound platform messages through the notification
// channel senders, resolving contacts by display name.
type messenger struct {
	contacts store.ContactStore
	senders  map[string]notify.Sender
	logger   *slog.Logger
}

func (m *messenger) Send(ctx context.Context, tctx *models.ToolContext, msg *tools.OutboundMessage) (string, error) {
	sender, ok := m.senders[msg.Platform]
	if !ok {
		return "", fmt.Errorf("no %s channel is configured", msg.Platform)
	}

	contacts, err := m.contacts.ListContacts(ctx, tctx.UserID)
	if err != nil {
		return "", fmt.Errorf("resolve contact: %w", err)
	}

	var targets []*models.Contact
	for _, c := range contacts {
		if c.Platform != msg.Platform {
			continue
		}
		if msg.Broadcast || strings.EqualFold(c.DisplayName, msg.ContactName) {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return "", fmt.Errorf("no contact named %q on %s", msg.ContactName, msg.Platform)
	}

	body := msg.Body
	if msg.Subject != "" {
		body = msg.Subject + "\n\n" + body
	}
	for _, c := range targets {
		if err := sender.Send(ctx, c.Address, body); err != nil {
			return "", fmt.Errorf("send to %s: %w", c.DisplayName, err)
		}
		m.logger.Info("outbound message delivered",
			"platform", msg.Platform, "contact", c.DisplayName, "agent_id", tctx.AgentID)
	}
	return uuid.NewString(), nil
}

// orchestrator hands tasks to child agents. The child runs asynchronously;
// its answer comes back to the parent as a task_response event.
type orchestrator struct {
	stores store.StoreSet
	loop   *reasoning.Loop
	logger *slog.Logger

	// spawn runs the child cycle; tests replace it to run inline.
	spawn func(fn func())
}

func (o *orchestrator) children(ctx context.Context, parent *models.ToolContext) ([]*models.Agent, error) {
	agents, _, err := o.stores.Agents.List(ctx, parent.UserID, 200, 0)
	if err != nil {
		return nil, err
	}
	var kids []*models.Agent
	for _, a := range agents {
		if a.ParentID == parent.AgentID && a.Status == models.AgentActive {
			kids = append(kids, a)
		}
	}
	return kids, nil
}

func (o *orchestrator) Orchestrate(ctx context.Context, tctx *models.ToolContext, task, specialist string) (string, error) {
	kids, err := o.children(ctx, tctx)
	if err != nil {
		return "", fmt.Errorf("list specialists: %w", err)
	}
	if len(kids) == 0 {
		return "", fmt.Errorf("no specialist agents available; create one first")
	}

	child := kids[0]
	if specialist != "" {
		child = nil
		for _, k := range kids {
			if strings.EqualFold(k.Name, specialist) {
				child = k
				break
			}
		}
		if child == nil {
			return "", fmt.Errorf("no specialist named %q", specialist)
		}
	}

	trackingID := uuid.NewString()
	parentID := tctx.AgentID
	depth := tctx.OrchestrationDepth + 1
	childID := child.ID

	o.spawn(func() {
		runCtx := context.Background()
		out, err := o.loop.Run(runCtx, childID, &models.TriggerContext{
			Type:               models.TriggerEvent,
			EventKind:          models.EventOrchestratedTask,
			SubAgentTask:       task,
			OrchestrationDepth: depth,
			Extra:              map[string]any{"tracking_id": trackingID, "parent_agent_id": parentID},
		})
		answer := ""
		if err != nil {
			answer = "Task failed: " + err.Error()
		} else if out != nil {
			answer = out.FinalThought
		}
		// Report back to the parent through its own reasoning loop.
		_, err = o.loop.Run(runCtx, parentID, &models.TriggerContext{
			Type:      models.TriggerEvent,
			EventKind: models.EventTaskResponse,
			Preview:   answer,
			Extra:     map[string]any{"tracking_id": trackingID, "sub_agent_id": childID},
		})
		if err != nil {
			o.logger.Warn("task response delivery failed",
				"parent_id", parentID, "tracking_id", trackingID, "error", err)
		}
	})
	return trackingID, nil
}

func (o *orchestrator) CreateSpecialist(ctx context.Context, tctx *models.ToolContext, name, role, systemPrompt string) (*models.Agent, error) {
	parent, err := o.stores.Agents.Get(ctx, tctx.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load parent agent: %w", err)
	}
	if !parent.CanCreateChildren {
		return nil, fmt.Errorf("agent %s may not create sub-agents", parent.Name)
	}
	if parent.MaxChildren > 0 {
		kids, err := o.children(ctx, tctx)
		if err != nil {
			return nil, err
		}
		if len(kids) >= parent.MaxChildren {
			return nil, fmt.Errorf("sub-agent limit reached (%d)", parent.MaxChildren)
		}
	}

	now := time.Now().UTC()
	child := &models.Agent{
		ID:           uuid.NewString(),
		UserID:       parent.UserID,
		Name:         name,
		Role:         role,
		SystemPrompt: systemPrompt,
		Status:       models.AgentActive,
		Autonomy:     parent.Autonomy,
		Provider:     parent.Provider,
		Model:        parent.Model,
		Master:       parent.Master,
		ParentID:     parent.ID,
		DailyBudget:  parent.DailyBudget / 2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.stores.Agents.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("create specialist: %w", err)
	}
	o.logger.Info("specialist created", "parent_id", parent.ID, "child_id", child.ID, "name", name)
	return child, nil
}

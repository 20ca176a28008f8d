package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

var (
	ErrNoMaster         = errors.New("approval: agent has no master contact")
	ErrNotPending       = errors.New("approval: request is not pending")
	ErrExpired          = errors.New("approval: request expired")
	ErrNoPendingRequest = errors.New("approval: no pending request matches")
)

// DefaultEscalation is the deadline applied when the agent profile does not
// carry an escalation timeout.
const DefaultEscalation = time.Hour

// Notifier delivers master notifications. The notify service implements it.
type Notifier interface {
	Notify(ctx context.Context, n *models.MasterNotification) error
}

// Service manages approval requests: creation with master notification,
// decisions, master reply parsing, contact-scope checks, and the expiry
// sweep.
type Service struct {
	stores   store.StoreSet
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewService wires the approval service. notifier may be nil; requests are
// then created without announcing them.
func NewService(stores store.StoreSet, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stores:   stores,
		notifier: notifier,
		logger:   logger.With("component", "approval"),
		now:      time.Now,
	}
}

// Wait blocks until background work (announcements, the expiry sweeper)
// has finished. Cancel the contexts that started them first.
func (s *Service) Wait() {
	s.wg.Wait()
}

// CreateParams describes the tool call being queued for a decision.
type CreateParams struct {
	Profile     *models.Agent
	ToolID      string
	Params      map[string]any
	Reasoning   string
	TriggeredBy models.TriggerType
	Priority    models.ApprovalPriority

	// ExpiresAt overrides the escalation deadline when set.
	ExpiresAt *time.Time
}

// Create persists a pending approval request and announces it to the master
// asynchronously. The agent must have a master contact configured.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.ApprovalRequest, error) {
	if p.Profile == nil || !p.Profile.HasMaster() {
		return nil, ErrNoMaster
	}
	if strings.TrimSpace(p.ToolID) == "" {
		return nil, fmt.Errorf("approval: tool id is required")
	}

	now := s.now().UTC()
	expires := now.Add(DefaultEscalation)
	if p.Profile.EscalationTimeout > 0 {
		expires = now.Add(p.Profile.EscalationTimeout)
	}
	if p.ExpiresAt != nil {
		expires = p.ExpiresAt.UTC()
	}
	priority := p.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	req := &models.ApprovalRequest{
		ID:                  uuid.NewString(),
		AgentID:             p.Profile.ID,
		UserID:              p.Profile.UserID,
		ActionType:          "tool_call",
		ToolID:              p.ToolID,
		Params:              p.Params,
		Reason:              p.Reasoning,
		TriggeredBy:         p.TriggeredBy,
		Priority:            priority,
		Status:              models.ApprovalPending,
		MasterContact:       p.Profile.Master.ContactID,
		NotificationChannel: p.Profile.Master.Channel,
		ExpiresAt:           expires,
		CreatedAt:           now,
	}
	if err := s.stores.Approvals.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("approval: create: %w", err)
	}

	if s.notifier != nil {
		master := *p.Profile.Master
		agentName := p.Profile.Name
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.announce(req, master, agentName)
		}()
	}
	return req, nil
}

func (s *Service) announce(req *models.ApprovalRequest, master models.MasterContact, agentName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n := &models.MasterNotification{
		AgentID:       req.AgentID,
		UserID:        req.UserID,
		Type:          models.NotifyApprovalNeeded,
		Title:         "Approval needed: " + req.ToolID,
		Body:          renderApprovalBody(req, agentName),
		Channel:       master.Channel,
		Address:       master.Address,
		Context:       map[string]any{"approval_id": req.ID, "tool": req.ToolID},
		ReferenceType: "approval",
		ReferenceID:   req.ID,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("approval announcement failed",
			"approval_id", req.ID, "channel", master.Channel, "error", err)
	}
}

func renderApprovalBody(req *models.ApprovalRequest, agentName string) string {
	if agentName == "" {
		agentName = "Your agent"
	}
	lines := make([]string, 0, 4)
	lines = append(lines, fmt.Sprintf("%s wants to run %s.", agentName, req.ToolID))
	if req.Reason != "" {
		lines = append(lines, "Why: "+req.Reason)
	}
	if len(req.Params) > 0 {
		if raw, err := json.Marshal(req.Params); err == nil {
			params := string(raw)
			if len(params) > 400 {
				params = params[:397] + "..."
			}
			lines = append(lines, "Params: "+params)
		}
	}
	lines = append(lines, fmt.Sprintf("Reply APPROVE %s or REJECT %s <reason>. Expires %s.",
		req.ID, req.ID, req.ExpiresAt.UTC().Format("Jan 2 15:04 MST")))
	return strings.Join(lines, "\n")
}

var priorityRank = map[models.ApprovalPriority]int{
	models.PriorityUrgent: 3,
	models.PriorityHigh:   2,
	models.PriorityNormal: 1,
	models.PriorityLow:    0,
}

// ListPending returns open requests ordered urgent first, newest first
// within a priority. Empty agentID means all agents; limit zero means no
// cap.
func (s *Service) ListPending(ctx context.Context, agentID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	pending, err := s.stores.Approvals.ListPending(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		ri, rj := priorityRank[pending[i].Priority], priorityRank[pending[j].Priority]
		if ri != rj {
			return ri > rj
		}
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(pending) {
			return nil, nil
		}
		pending = pending[offset:]
	}
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Approve resolves a pending request. A request past its deadline is moved
// to expired instead and ErrExpired is returned alongside the updated row.
// modified, when non-empty, is stored as the params execution must use.
func (s *Service) Approve(ctx context.Context, id, resolvedBy, note string, modified map[string]any) (*models.ApprovalRequest, error) {
	req, err := s.stores.Approvals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approval: get: %w", err)
	}
	if req.Status != models.ApprovalPending {
		return req, fmt.Errorf("%w: status is %s", ErrNotPending, req.Status)
	}

	ts := s.now().UTC()
	if req.ExpiredBy(ts) {
		req.Status = models.ApprovalExpired
		req.ResolvedAt = &ts
		if err := s.stores.Approvals.Update(ctx, req); err != nil {
			return nil, fmt.Errorf("approval: expire: %w", err)
		}
		return req, ErrExpired
	}

	req.Status = models.ApprovalApproved
	req.ResolvedBy = resolvedBy
	req.ResolveNote = note
	req.ResolvedAt = &ts
	if len(modified) > 0 {
		req.ModifiedParams = modified
	}
	if err := s.stores.Approvals.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("approval: update: %w", err)
	}
	return req, nil
}

// Reject resolves a pending request negatively. Deadline handling matches
// Approve.
func (s *Service) Reject(ctx context.Context, id, resolvedBy, reason string) (*models.ApprovalRequest, error) {
	req, err := s.stores.Approvals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approval: get: %w", err)
	}
	if req.Status != models.ApprovalPending {
		return req, fmt.Errorf("%w: status is %s", ErrNotPending, req.Status)
	}

	ts := s.now().UTC()
	if req.ExpiredBy(ts) {
		req.Status = models.ApprovalExpired
		req.ResolvedAt = &ts
		if err := s.stores.Approvals.Update(ctx, req); err != nil {
			return nil, fmt.Errorf("approval: expire: %w", err)
		}
		return req, ErrExpired
	}

	req.Status = models.ApprovalRejected
	req.ResolvedBy = resolvedBy
	req.ResolveNote = reason
	req.ResolvedAt = &ts
	if err := s.stores.Approvals.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("approval: update: %w", err)
	}
	return req, nil
}

// CheckContactScope decides whether the agent may reach the contact on the
// given platform account. The master contact is always allowed; otherwise
// the cascading scope rule applies, and an out-of-scope contact requires
// approval only when the rule says to notify instead of refuse.
func (s *Service) CheckContactScope(ctx context.Context, agentID, contactID, platformAccountID string) (models.ScopeDecision, error) {
	profile, err := s.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return models.ScopeDecision{}, fmt.Errorf("approval: agent: %w", err)
	}
	if profile.HasMaster() && profile.Master.ContactID == contactID {
		return models.ScopeDecision{Allowed: true, Reason: "master contact"}, nil
	}

	rule, err := s.stores.Contacts.GetScopeRule(ctx, agentID, platformAccountID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ScopeDecision{Allowed: true, Reason: "no scope rule configured"}, nil
	}
	if err != nil {
		return models.ScopeDecision{}, fmt.Errorf("approval: scope rule: %w", err)
	}

	contact, err := s.stores.Contacts.GetContact(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ScopeDecision{
			RequiresApproval: rule.NotifyOutOfScope,
			Reason:           "unknown contact",
		}, nil
	}
	if err != nil {
		return models.ScopeDecision{}, fmt.Errorf("approval: contact: %w", err)
	}

	team, err := s.isTeamMember(ctx, profile.UserID, contact)
	if err != nil {
		return models.ScopeDecision{}, err
	}
	if rule.AllowTeamMembers && team {
		return models.ScopeDecision{Allowed: true, Reason: "team member"}, nil
	}

	allowed := false
	switch rule.Scope {
	case models.ScopeUnrestricted:
		allowed = true
	case models.ScopeAllContacts:
		allowed = contact.UserID == profile.UserID
	case models.ScopeWhitelist:
		for _, id := range rule.AllowedContactIDs {
			if id == contact.ID {
				allowed = true
				break
			}
		}
	case models.ScopeTags:
		allowed = tagsIntersect(contact.Tags, rule.AllowedTags)
	default: // team_only
		allowed = team
	}

	if allowed {
		return models.ScopeDecision{Allowed: true, Reason: string(rule.Scope)}, nil
	}
	return models.ScopeDecision{
		RequiresApproval: rule.NotifyOutOfScope,
		Reason:           fmt.Sprintf("contact outside %s scope", rule.Scope),
	}, nil
}

func (s *Service) isTeamMember(ctx context.Context, userID string, contact *models.Contact) (bool, error) {
	if contact.IsTeam {
		return true, nil
	}
	team, err := s.stores.Contacts.ListTeam(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("approval: team: %w", err)
	}
	for _, m := range team {
		if m.ContactID == contact.ID {
			return true, nil
		}
	}
	return false, nil
}

func tagsIntersect(contactTags, allowedTags []string) bool {
	for _, have := range contactTags {
		for _, want := range allowedTags {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// ReplyOutcome reports what a master's chat reply did. Handled is false
// when the message is not an approval reply (or no request was awaiting
// one) and should flow on as a normal message.
type ReplyOutcome struct {
	Handled  bool
	Approved bool
	Request  *models.ApprovalRequest
}

var (
	approveRe = regexp.MustCompile(`(?i)^(approve|yes|ok|confirm)\b\s*(.*)$`)
	rejectRe  = regexp.MustCompile(`(?i)^(reject|no|deny|decline)\b\s*(.*)$`)
)

// ProcessReply parses APPROVE [id] / REJECT [id] [reason] replies from a
// master contact. Without an explicit ID the most recent pending request
// for that contact is targeted. A bare token after the verb counts as an
// ID only when it resolves; otherwise it reads as the resolution note.
func (s *Service) ProcessReply(ctx context.Context, contactID, userID, message string) (ReplyOutcome, error) {
	msg := strings.TrimSpace(message)

	var approve bool
	var rest string
	if m := approveRe.FindStringSubmatch(msg); m != nil {
		approve, rest = true, m[2]
	} else if m := rejectRe.FindStringSubmatch(msg); m != nil {
		approve, rest = false, m[2]
	} else {
		return ReplyOutcome{}, nil
	}

	req, note, explicit, err := s.resolveTarget(ctx, contactID, rest)
	if errors.Is(err, store.ErrNotFound) {
		if explicit {
			return ReplyOutcome{Handled: true}, ErrNoPendingRequest
		}
		// Nothing pending; "ok" was just conversation.
		return ReplyOutcome{}, nil
	}
	if err != nil {
		return ReplyOutcome{Handled: true}, err
	}
	if req.UserID != userID {
		return ReplyOutcome{Handled: true}, ErrNoPendingRequest
	}

	resolvedBy := "master:" + contactID
	if approve {
		if note == "" {
			note = "approved via reply"
		}
		updated, err := s.Approve(ctx, req.ID, resolvedBy, note, nil)
		return ReplyOutcome{Handled: true, Approved: err == nil, Request: updated}, err
	}
	if note == "" {
		note = "rejected via reply"
	}
	updated, err := s.Reject(ctx, req.ID, resolvedBy, note)
	return ReplyOutcome{Handled: true, Request: updated}, err
}

func (s *Service) resolveTarget(ctx context.Context, contactID, rest string) (req *models.ApprovalRequest, note string, explicit bool, err error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		req, err = s.stores.Approvals.LatestPendingForContact(ctx, contactID)
		return req, "", false, err
	}

	token, remainder, _ := strings.Cut(rest, " ")
	if id, ok := strings.CutPrefix(token, "#"); ok {
		req, err = s.stores.Approvals.Get(ctx, id)
		return req, strings.TrimSpace(remainder), true, err
	}
	if req, err = s.stores.Approvals.Get(ctx, token); err == nil {
		return req, strings.TrimSpace(remainder), true, nil
	}

	req, err = s.stores.Approvals.LatestPendingForContact(ctx, contactID)
	return req, rest, false, err
}

// ProcessExpired sweeps pending requests past their deadline to expired and
// notifies the master per request. It returns how many rows changed.
func (s *Service) ProcessExpired(ctx context.Context) (int, error) {
	expired, err := s.stores.Approvals.ExpirePending(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("approval: expire pending: %w", err)
	}
	for _, req := range expired {
		s.notifyExpired(ctx, req)
	}
	return len(expired), nil
}

func (s *Service) notifyExpired(ctx context.Context, req *models.ApprovalRequest) {
	if s.notifier == nil {
		return
	}
	profile, err := s.stores.Agents.Get(ctx, req.AgentID)
	if err != nil || !profile.HasMaster() {
		if err != nil {
			s.logger.Warn("expired approval agent lookup failed", "approval_id", req.ID, "error", err)
		}
		return
	}
	n := &models.MasterNotification{
		AgentID:       req.AgentID,
		UserID:        req.UserID,
		Type:          models.NotifyApprovalExpired,
		Title:         "Approval expired: " + req.ToolID,
		Body:          fmt.Sprintf("The request to run %s expired without a decision. The action was not executed.", req.ToolID),
		Channel:       profile.Master.Channel,
		Address:       profile.Master.Address,
		ReferenceType: "approval",
		ReferenceID:   req.ID,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("expiry notification failed", "approval_id", req.ID, "error", err)
	}
}

// StartSweeper runs ProcessExpired on an interval until ctx is cancelled.
// Zero interval defaults to one minute.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.ProcessExpired(ctx)
				if err != nil {
					s.logger.Warn("approval sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Info("approvals expired", "count", n)
				}
			}
		}
	}()
}

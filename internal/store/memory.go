package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/legionruntime/legion/pkg/models"
)

// NewMemoryStores constructs a StoreSet backed by memory. Suitable for
// tests and single-process experiments; nothing survives a restart.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Agents:         NewMemoryAgentStore(),
		Tasks:          NewMemoryTaskStore(),
		Goals:          NewMemoryGoalStore(),
		Schedules:      NewMemoryScheduleStore(),
		Jobs:           NewMemoryJobStore(),
		Approvals:      NewMemoryApprovalStore(),
		Messages:       NewMemoryAgentMessageStore(),
		Conversations:  NewMemoryConversationStore(),
		Notifications:  NewMemoryNotificationStore(),
		Usage:          NewMemoryUsageStore(),
		Memories:       NewMemoryMemoryStore(),
		Skills:         NewMemorySkillStore(),
		Checkpoints:    NewMemoryCheckpointStore(),
		Plans:          NewMemoryPlanStore(),
		Activity:       NewMemoryActivityStore(),
		ToolExecutions: NewMemoryToolExecutionStore(),
		Contacts:       NewMemoryContactStore(),
		Devices:        NewMemoryDeviceStore(),
	}
}

func paginate[T any](items []*T, limit, offset int) []*T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// MemoryAgentStore provides an in-memory AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewMemoryAgentStore creates an in-memory agent store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*models.Agent)}
}

func cloneAgent(a *models.Agent) *models.Agent {
	if a == nil {
		return nil
	}
	out := *a
	if a.Master != nil {
		master := *a.Master
		out.Master = &master
	}
	out.NotifyOn = slices.Clone(a.NotifyOn)
	out.RequireApprovalFor = slices.Clone(a.RequireApprovalFor)
	return &out
}

func (s *MemoryAgentStore) Create(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; exists {
		return ErrAlreadyExists
	}
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (s *MemoryAgentStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Agent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make([]*models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if userID != "" && agent.UserID != userID {
			continue
		}
		agents = append(agents, cloneAgent(agent))
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.After(agents[j].CreatedAt)
	})
	return paginate(agents, limit, offset), len(agents), nil
}

func (s *MemoryAgentStore) Update(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; !exists {
		return ErrNotFound
	}
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *MemoryAgentStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[id]; !exists {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryAgentStore) IncrementInteractions(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	agent.InteractionCount++
	return nil
}

func (s *MemoryAgentStore) AddBudgetUsed(ctx context.Context, id string, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return 0, ErrNotFound
	}
	agent.DailyBudgetUsed += amount
	return agent.DailyBudgetUsed, nil
}

func (s *MemoryAgentStore) ResetDailyBudgets(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, agent := range s.agents {
		if agent.DailyBudgetUsed != 0 {
			agent.DailyBudgetUsed = 0
			n++
		}
	}
	return n, nil
}

// MemoryTaskStore provides an in-memory TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemoryTaskStore creates an in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.Task)}
}

func cloneTask(t *models.Task) *models.Task {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func (s *MemoryTaskStore) Create(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryTaskStore) Update(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		return ErrNotFound
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryTaskStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if userID != "" && task.UserID != userID {
			continue
		}
		tasks = append(tasks, cloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return paginate(tasks, limit, offset), len(tasks), nil
}

func (s *MemoryTaskStore) ListByAssignee(ctx context.Context, assigneeID string, statuses []models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[models.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var tasks []*models.Task
	for _, task := range s.tasks {
		if task.AssigneeID != assigneeID {
			continue
		}
		if len(wanted) > 0 && !wanted[task.Status] {
			continue
		}
		tasks = append(tasks, cloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// MemoryGoalStore provides an in-memory GoalStore.
type MemoryGoalStore struct {
	mu    sync.RWMutex
	goals map[string]*models.Goal
}

// NewMemoryGoalStore creates an in-memory goal store.
func NewMemoryGoalStore() *MemoryGoalStore {
	return &MemoryGoalStore{goals: make(map[string]*models.Goal)}
}

func (s *MemoryGoalStore) Create(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.ID == "" {
		return fmt.Errorf("goal is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.goals[goal.ID]; exists {
		return ErrAlreadyExists
	}
	g := *goal
	s.goals[goal.ID] = &g
	return nil
}

func (s *MemoryGoalStore) ListActive(ctx context.Context, agentID string) ([]*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var goals []*models.Goal
	for _, goal := range s.goals {
		if goal.AgentID != agentID || !goal.Active {
			continue
		}
		g := *goal
		goals = append(goals, &g)
	}
	sort.Slice(goals, func(i, j int) bool {
		return goals[i].CreatedAt.Before(goals[j].CreatedAt)
	})
	return goals, nil
}

func (s *MemoryGoalStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	goal, ok := s.goals[id]
	if !ok {
		return ErrNotFound
	}
	goal.Active = false
	return nil
}

// MemoryActivityStore provides an in-memory ActivityStore.
type MemoryActivityStore struct {
	mu      sync.RWMutex
	entries []*models.ActivityEntry
}

// NewMemoryActivityStore creates an in-memory activity store.
func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{}
}

func (s *MemoryActivityStore) Append(ctx context.Context, entry *models.ActivityEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("entry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	e.Detail = maps.Clone(entry.Detail)
	s.entries = append(s.entries, &e)
	return nil
}

func (s *MemoryActivityStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ActivityEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if agentID != "" && entry.AgentID != agentID {
			continue
		}
		e := *entry
		e.Detail = maps.Clone(entry.Detail)
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

// MemoryUsageStore provides an in-memory UsageStore.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	records []*models.UsageRecord
}

// NewMemoryUsageStore creates an in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Record(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("usage record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.records = append(s.records, &r)
	return nil
}

func (s *MemoryUsageStore) Summarize(ctx context.Context, agentID string, from, to time.Time) (*models.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &models.UsageSummary{
		AgentID: agentID,
		From:    from,
		To:      to,
		ByModel: make(map[string]*models.UsageBucket),
		ByType:  make(map[string]*models.UsageBucket),
	}
	daily := make(map[string]*models.DailyUsage)
	for _, rec := range s.records {
		if agentID != "" && rec.AgentID != agentID {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		sum.Calls++
		sum.InputTokens += rec.InputTokens
		sum.OutputTokens += rec.OutputTokens
		sum.TotalTokens += rec.TotalTokens
		sum.CostUSD += rec.CostUSD

		mb := sum.ByModel[rec.Model]
		if mb == nil {
			mb = &models.UsageBucket{}
			sum.ByModel[rec.Model] = mb
		}
		mb.Calls++
		mb.TotalTokens += rec.TotalTokens
		mb.CostUSD += rec.CostUSD

		tb := sum.ByType[rec.RequestType]
		if tb == nil {
			tb = &models.UsageBucket{}
			sum.ByType[rec.RequestType] = tb
		}
		tb.Calls++
		tb.TotalTokens += rec.TotalTokens
		tb.CostUSD += rec.CostUSD

		day := rec.CreatedAt.UTC().Format("2006-01-02")
		db := daily[day]
		if db == nil {
			db = &models.DailyUsage{Day: day}
			daily[day] = db
		}
		db.Calls++
		db.TotalTokens += rec.TotalTokens
		db.CostUSD += rec.CostUSD
	}
	days := make([]string, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		sum.Daily = append(sum.Daily, *daily[day])
	}
	return sum, nil
}

func (s *MemoryUsageStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UsageRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if agentID != "" && rec.AgentID != agentID {
			continue
		}
		r := *rec
		out = append(out, &r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryMemoryStore provides an in-memory MemoryStore.
type MemoryMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*models.Memory
	order    []string
}

// NewMemoryMemoryStore creates an in-memory memory store.
func NewMemoryMemoryStore() *MemoryMemoryStore {
	return &MemoryMemoryStore{memories: make(map[string]*models.Memory)}
}

func cloneMemory(m *models.Memory) *models.Memory {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = slices.Clone(m.Tags)
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		out.LastAccessedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

func (s *MemoryMemoryStore) Create(ctx context.Context, m *models.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("memory is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.memories[m.ID]; exists {
		return ErrAlreadyExists
	}
	s.memories[m.ID] = cloneMemory(m)
	s.order = append(s.order, m.ID)
	return nil
}

func (s *MemoryMemoryStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMemory(m), nil
}

func (s *MemoryMemoryStore) Update(ctx context.Context, m *models.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("memory is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.memories[m.ID]; !exists {
		return ErrNotFound
	}
	s.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *MemoryMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.memories[id]; !exists {
		return ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *MemoryMemoryStore) Search(ctx context.Context, agentID, query string, limit int) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []*models.Memory
	for _, id := range s.order {
		m := s.memories[id]
		if m == nil || m.AgentID != agentID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(m.Content), q) &&
			!strings.Contains(strings.ToLower(m.Summary), q) {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryMemoryStore) ListByKind(ctx context.Context, agentID string, kind models.MemoryKind, limit int) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Memory
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.memories[s.order[i]]
		if m == nil || m.AgentID != agentID || m.Kind != kind {
			continue
		}
		out = append(out, cloneMemory(m))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryMemoryStore) ListAll(ctx context.Context, agentID string) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Memory
	for _, id := range s.order {
		m := s.memories[id]
		if m != nil && m.AgentID == agentID {
			out = append(out, cloneMemory(m))
		}
	}
	return out, nil
}

func (s *MemoryMemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return ErrNotFound
	}
	m.AccessCount++
	t := at
	m.LastAccessedAt = &t
	return nil
}

func (s *MemoryMemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.memories {
		if m.Expired(now) {
			delete(s.memories, id)
			n++
		}
	}
	return n, nil
}

// MemorySkillStore provides an in-memory SkillStore.
type MemorySkillStore struct {
	mu      sync.RWMutex
	skills  map[string]*models.Skill // agentID|category
	history []*models.SkillHistory
}

// NewMemorySkillStore creates an in-memory skill store.
func NewMemorySkillStore() *MemorySkillStore {
	return &MemorySkillStore{skills: make(map[string]*models.Skill)}
}

func skillKey(agentID string, category models.SkillCategory) string {
	return agentID + "|" + string(category)
}

func (s *MemorySkillStore) Get(ctx context.Context, agentID string, category models.SkillCategory) (*models.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skill, ok := s.skills[skillKey(agentID, category)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *skill
	return &out, nil
}

func (s *MemorySkillStore) Save(ctx context.Context, skill *models.Skill) error {
	if skill == nil || skill.AgentID == "" {
		return fmt.Errorf("skill is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *skill
	s.skills[skillKey(skill.AgentID, skill.Category)] = &cp
	return nil
}

func (s *MemorySkillStore) ListByAgent(ctx context.Context, agentID string) ([]*models.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Skill
	for _, skill := range s.skills {
		if skill.AgentID == agentID {
			cp := *skill
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (s *MemorySkillStore) AddHistory(ctx context.Context, h *models.SkillHistory) error {
	if h == nil || h.ID == "" {
		return fmt.Errorf("skill history is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.history = append(s.history, &cp)
	return nil
}

func (s *MemorySkillStore) ListHistory(ctx context.Context, agentID string, limit int) ([]*models.SkillHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SkillHistory
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if agentID != "" && h.AgentID != agentID {
			continue
		}
		cp := *h
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryCheckpointStore provides an in-memory CheckpointStore. One active
// checkpoint per agent.
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	active map[string]*models.Checkpoint // by agentID
	byID   map[string]*models.Checkpoint
}

// NewMemoryCheckpointStore creates an in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		active: make(map[string]*models.Checkpoint),
		byID:   make(map[string]*models.Checkpoint),
	}
}

func cloneCheckpoint(cp *models.Checkpoint) *models.Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	out.Actions = slices.Clone(cp.Actions)
	if cp.TriggerContext != nil {
		tc := *cp.TriggerContext
		out.TriggerContext = &tc
	}
	return &out
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.AgentID == "" {
		return fmt.Errorf("checkpoint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneCheckpoint(cp)
	stored.Status = models.CheckpointActive
	s.active[cp.AgentID] = stored
	s.byID[cp.ID] = stored
	return nil
}

func (s *MemoryCheckpointStore) GetActive(ctx context.Context, agentID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.active[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(cp), nil
}

func (s *MemoryCheckpointStore) Complete(ctx context.Context, id string) error {
	return s.finish(id, models.CheckpointCompleted)
}

func (s *MemoryCheckpointStore) Fail(ctx context.Context, id string) error {
	return s.finish(id, models.CheckpointFailed)
}

func (s *MemoryCheckpointStore) finish(id string, status models.CheckpointStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	cp.Status = status
	if cur := s.active[cp.AgentID]; cur != nil && cur.ID == id {
		delete(s.active, cp.AgentID)
	}
	return nil
}

func (s *MemoryCheckpointStore) ClearActive(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, agentID)
	return nil
}

// MemoryPlanStore provides an in-memory PlanStore.
type MemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]*models.Plan
}

// NewMemoryPlanStore creates an in-memory plan store.
func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]*models.Plan)}
}

func clonePlan(p *models.Plan) *models.Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]models.PlanStep, len(p.Steps))
	copy(out.Steps, p.Steps)
	for i := range out.Steps {
		out.Steps[i].RequiredTools = slices.Clone(p.Steps[i].RequiredTools)
		out.Steps[i].RequiredSkills = slices.Clone(p.Steps[i].RequiredSkills)
		out.Steps[i].DependsOn = slices.Clone(p.Steps[i].DependsOn)
	}
	out.ExecutionOrder = slices.Clone(p.ExecutionOrder)
	out.ParallelGroups = make([][]string, len(p.ParallelGroups))
	for i := range p.ParallelGroups {
		out.ParallelGroups[i] = slices.Clone(p.ParallelGroups[i])
	}
	return &out
}

func (s *MemoryPlanStore) Create(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.ID]; exists {
		return ErrAlreadyExists
	}
	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (s *MemoryPlanStore) Get(ctx context.Context, id string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlan(plan), nil
}

func (s *MemoryPlanStore) Update(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.ID]; !exists {
		return ErrNotFound
	}
	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (s *MemoryPlanStore) GetActiveByAgent(ctx context.Context, agentID string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.Plan
	for _, plan := range s.plans {
		if plan.AgentID != agentID {
			continue
		}
		if plan.Status != models.PlanRunning && plan.Status != models.PlanWaiting {
			continue
		}
		if newest == nil || plan.CreatedAt.After(newest.CreatedAt) {
			newest = plan
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return clonePlan(newest), nil
}

// MemoryToolExecutionStore provides an in-memory ToolExecutionStore.
type MemoryToolExecutionStore struct {
	mu    sync.RWMutex
	execs []*models.ToolExecution
}

// NewMemoryToolExecutionStore creates an in-memory tool execution store.
func NewMemoryToolExecutionStore() *MemoryToolExecutionStore {
	return &MemoryToolExecutionStore{}
}

func (s *MemoryToolExecutionStore) Record(ctx context.Context, exec *models.ToolExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("tool execution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	cp.Params = slices.Clone(exec.Params)
	s.execs = append(s.execs, &cp)
	return nil
}

func (s *MemoryToolExecutionStore) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ToolExecution
	for i := len(s.execs) - 1; i >= 0; i-- {
		exec := s.execs[i]
		if agentID != "" && exec.AgentID != agentID {
			continue
		}
		cp := *exec
		cp.Params = slices.Clone(exec.Params)
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/legionruntime/legion/pkg/models"
)

// MemoryScheduleStore provides an in-memory ScheduleStore.
type MemoryScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]*models.Schedule
}

// NewMemoryScheduleStore creates an in-memory schedule store.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string]*models.Schedule)}
}

func cloneSchedule(s *models.Schedule) *models.Schedule {
	if s == nil {
		return nil
	}
	out := *s
	out.ActionParams = maps.Clone(s.ActionParams)
	if s.RunAt != nil {
		t := *s.RunAt
		out.RunAt = &t
	}
	if s.NextRunAt != nil {
		t := *s.NextRunAt
		out.NextRunAt = &t
	}
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		out.LastRunAt = &t
	}
	return &out
}

func (s *MemoryScheduleStore) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil || schedule.ID == "" {
		return fmt.Errorf("schedule is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.ID]; exists {
		return ErrAlreadyExists
	}
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (s *MemoryScheduleStore) Get(ctx context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

func (s *MemoryScheduleStore) Update(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil || schedule.ID == "" {
		return fmt.Errorf("schedule is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.ID]; !exists {
		return ErrNotFound
	}
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (s *MemoryScheduleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[id]; !exists {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryScheduleStore) ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*models.Schedule
	for _, schedule := range s.schedules {
		if !schedule.Active || schedule.NextRunAt == nil {
			continue
		}
		if schedule.NextRunAt.After(now) {
			continue
		}
		due = append(due, cloneSchedule(schedule))
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})
	return due, nil
}

func (s *MemoryScheduleStore) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []*models.Schedule
	for _, schedule := range s.schedules {
		if schedule.Active {
			active = append(active, cloneSchedule(schedule))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (s *MemoryScheduleStore) ListByAgent(ctx context.Context, agentID string) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Schedule
	for _, schedule := range s.schedules {
		if schedule.AgentID == agentID {
			out = append(out, cloneSchedule(schedule))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryJobStore provides an in-memory JobStore.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*models.JobHistory
	order []string
}

// NewMemoryJobStore creates an in-memory job history store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.JobHistory)}
}

func cloneJob(j *models.JobHistory) *models.JobHistory {
	if j == nil {
		return nil
	}
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (s *MemoryJobStore) Create(ctx context.Context, job *models.JobHistory) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *models.JobHistory) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*models.JobHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*models.JobHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.JobHistory
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job == nil || job.ScheduleID != scheduleID {
			continue
		}
		out = append(out, cloneJob(job))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryJobStore) FailRunning(ctx context.Context, errText string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status != models.JobRunning {
			continue
		}
		job.Status = models.JobFailed
		job.Error = errText
		n++
	}
	return n, nil
}

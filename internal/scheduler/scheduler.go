// Package scheduler drives recurring agent work from the schedules table:
// it polls for due rows, fires their action handlers under a concurrency
// cap and an AI semaphore, writes one job_history row per firing, and
// recovers cleanly from restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/legionruntime/legion/internal/observability"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/pkg/models"
)

// restartErrText is written into job_history rows found running at boot.
const restartErrText = "Server restarted while job was running"

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ErrUnknownAction marks a schedule pointing at no registered handler.
var ErrUnknownAction = errors.New("scheduler: unknown action type")

// NextRun computes a schedule's next firing time after now. Cron schedules
// follow their expression, interval schedules fire a fixed number of minutes
// out, once and event schedules have no next run.
func NextRun(s *models.Schedule, now time.Time) (*time.Time, error) {
	switch s.Type {
	case models.ScheduleCron:
		spec, err := cronParser.Parse(s.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron %q: %w", s.CronExpression, err)
		}
		next := spec.Next(now)
		if next.IsZero() {
			return nil, nil
		}
		return &next, nil
	case models.ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("scheduler: interval schedule %s has no interval", s.ID)
		}
		next := now.Add(time.Duration(s.IntervalMinutes) * time.Minute)
		return &next, nil
	case models.ScheduleOnce, models.ScheduleEvent:
		return nil, nil
	default:
		return nil, fmt.Errorf("scheduler: unknown schedule type %q", s.Type)
	}
}

// Config bounds the scheduler. Zero values take defaults matching the
// config package.
type Config struct {
	TickInterval   time.Duration
	FirstTickDelay time.Duration
	JobTimeout     time.Duration
	MaxConcurrent  int
	SemaphoreWait  time.Duration
	RestartStagger time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.FirstTickDelay <= 0 {
		c.FirstTickDelay = 5 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.SemaphoreWait <= 0 {
		c.SemaphoreWait = 30 * time.Second
	}
	if c.RestartStagger <= 0 {
		c.RestartStagger = 30 * time.Second
	}
	return c
}

// Notifier delivers job results to the master contact. The notify service
// implements it.
type Notifier interface {
	Notify(ctx context.Context, n *models.MasterNotification) error
}

// Scheduler polls the schedule store and fires due jobs. One instance runs
// per process; duplicate firings are prevented by the in-memory running map
// plus the status=running job row.
type Scheduler struct {
	stores   store.StoreSet
	handlers *Handlers
	notifier Notifier
	metrics  *observability.Metrics
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// aiSem bounds outstanding AI work across concurrent jobs.
	aiSem chan struct{}

	mu      sync.Mutex
	running map[string]string // scheduleID -> jobID
	started bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier sets the master-notification sink for job results.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithMetrics sets the metrics collection.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New builds a scheduler over the stores and handler registry.
func New(stores store.StoreSet, handlers *Handlers, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		stores:   stores,
		handlers: handlers,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		running:  map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.aiSem = make(chan struct{}, s.cfg.MaxConcurrent)
	return s
}

// Start performs restart recovery and begins the tick loop. The first tick
// is delayed a few seconds so boot-time work settles first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.recover(ctx)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.FirstTickDelay):
		}
		s.tick(ctx)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the tick loop and waits for in-flight jobs to finish or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes one tick synchronously and waits for the jobs it
// launched. Tests drive the scheduler through this.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tick(ctx)
	s.wg.Wait()
}

// recover repairs state left by an unclean shutdown, in order: backfill
// missing interval next-runs, rewrite running job rows to failed, stagger
// past-due schedules so the first tick does not fire them all at once.
// Every step is best-effort.
func (s *Scheduler) recover(ctx context.Context) {
	now := s.now().UTC()

	active, err := s.stores.Schedules.ListActive(ctx)
	if err != nil {
		s.logger.Warn("recovery: list active schedules failed", "error", err)
		active = nil
	}
	for _, sched := range active {
		if sched.Type != models.ScheduleInterval || sched.NextRunAt != nil {
			continue
		}
		next := now.Add(time.Duration(sched.IntervalMinutes) * time.Minute)
		sched.NextRunAt = &next
		if err := s.stores.Schedules.Update(ctx, sched); err != nil {
			s.logger.Warn("recovery: backfill next_run_at failed", "schedule_id", sched.ID, "error", err)
		}
	}

	if n, err := s.stores.Jobs.FailRunning(ctx, restartErrText); err != nil {
		s.logger.Warn("recovery: rewrite running jobs failed", "error", err)
	} else if n > 0 {
		s.logger.Info("recovery: rewrote running jobs to failed", "count", n)
	}

	due, err := s.stores.Schedules.ListDue(ctx, now)
	if err != nil {
		s.logger.Warn("recovery: list due schedules failed", "error", err)
		return
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextRunAt, due[j].NextRunAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	for i, sched := range due {
		next := now.Add(time.Duration(i) * s.cfg.RestartStagger)
		sched.NextRunAt = &next
		if err := s.stores.Schedules.Update(ctx, sched); err != nil {
			s.logger.Warn("recovery: stagger failed", "schedule_id", sched.ID, "error", err)
		}
	}
	if len(due) > 0 {
		s.logger.Info("recovery: staggered past-due schedules", "count", len(due), "step", s.cfg.RestartStagger)
	}
}

// tick selects due schedules up to the free concurrency slots and launches
// each without awaiting it.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	capacity := s.cfg.MaxConcurrent - len(s.running)
	s.mu.Unlock()
	if capacity <= 0 {
		return
	}

	due, err := s.stores.Schedules.ListDue(ctx, now)
	if err != nil {
		s.logger.Warn("tick: list due schedules failed", "error", err)
		return
	}

	launched := 0
	for _, sched := range due {
		if launched >= capacity {
			break
		}
		agent, err := s.stores.Agents.Get(ctx, sched.AgentID)
		if err != nil {
			s.logger.Warn("tick: agent lookup failed", "schedule_id", sched.ID, "agent_id", sched.AgentID, "error", err)
			continue
		}
		if agent.Status != models.AgentActive && agent.Status != models.AgentRunning {
			continue
		}

		s.mu.Lock()
		if _, busy := s.running[sched.ID]; busy {
			s.mu.Unlock()
			continue
		}
		jobID := uuid.NewString()
		s.running[sched.ID] = jobID
		s.mu.Unlock()

		launched++
		s.wg.Add(1)
		go func(sched *models.Schedule, agent *models.Agent, jobID string) {
			defer s.wg.Done()
			s.executeJob(ctx, sched, agent, jobID)
		}(sched, agent, jobID)
	}
}

// executeJob runs one schedule firing end to end: the running job row, the
// AI semaphore, the handler raced against the hard timeout, the outcome row,
// and the next-run recomputation.
func (s *Scheduler) executeJob(ctx context.Context, sched *models.Schedule, agent *models.Agent, jobID string) {
	defer func() {
		s.mu.Lock()
		delete(s.running, sched.ID)
		s.mu.Unlock()
	}()

	started := s.now().UTC()
	scheduledAt := started
	if sched.NextRunAt != nil {
		scheduledAt = sched.NextRunAt.UTC()
	}
	job := &models.JobHistory{
		ID:          jobID,
		ScheduleID:  sched.ID,
		AgentID:     sched.AgentID,
		ActionType:  sched.ActionType,
		Status:      models.JobRunning,
		ScheduledAt: scheduledAt,
		StartedAt:   started,
	}
	if err := s.stores.Jobs.Create(ctx, job); err != nil {
		s.logger.Error("job row create failed", "schedule_id", sched.ID, "error", err)
		return
	}

	if !s.acquireAI(ctx) {
		s.finishJob(ctx, sched, job, nil, fmt.Errorf("scheduler: AI capacity wait exceeded %s", s.cfg.SemaphoreWait), models.JobSkipped)
		return
	}
	defer func() { <-s.aiSem }()

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	res, err := s.handlers.Handle(jobCtx, sched, agent)
	switch {
	case err == nil:
		s.finishJob(ctx, sched, job, res, nil, models.JobSuccess)
	case errors.Is(err, context.DeadlineExceeded) && jobCtx.Err() != nil:
		s.finishJob(ctx, sched, job, res, fmt.Errorf("scheduler: job exceeded %s", s.cfg.JobTimeout), models.JobFailed)
	default:
		s.finishJob(ctx, sched, job, res, err, models.JobFailed)
	}
}

func (s *Scheduler) acquireAI(ctx context.Context) bool {
	select {
	case s.aiSem <- struct{}{}:
		return true
	default:
	}
	wait := time.NewTimer(s.cfg.SemaphoreWait)
	defer wait.Stop()
	select {
	case s.aiSem <- struct{}{}:
		return true
	case <-wait.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// finishJob closes the job row, advances the schedule, and reports the
// outcome. The next run is recomputed even after a failure so a broken
// handler cannot stall its schedule.
func (s *Scheduler) finishJob(ctx context.Context, sched *models.Schedule, job *models.JobHistory, res *Result, jobErr error, status models.JobStatus) {
	now := s.now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.DurationMS = now.Sub(job.StartedAt).Milliseconds()
	if res != nil {
		job.Result = res.Summary
		job.TokensUsed = res.Tokens
		job.Provider = res.Provider
		job.Model = res.Model
	}
	if jobErr != nil {
		job.Error = jobErr.Error()
	}
	if err := s.stores.Jobs.Update(ctx, job); err != nil {
		s.logger.Warn("job row update failed", "job_id", job.ID, "error", err)
	}

	sched.LastRunAt = &now
	next, nextErr := NextRun(sched, now)
	if nextErr != nil {
		s.logger.Warn("next run computation failed", "schedule_id", sched.ID, "error", nextErr)
	}
	sched.NextRunAt = next
	if sched.Type == models.ScheduleOnce {
		sched.Active = false
	}
	if err := s.stores.Schedules.Update(ctx, sched); err != nil {
		s.logger.Warn("schedule advance failed", "schedule_id", sched.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.SchedulerJobs.WithLabelValues(sched.ActionType, string(status)).Inc()
		s.metrics.SchedulerJobDuration.WithLabelValues(sched.ActionType).Observe(float64(job.DurationMS) / 1000)
	}

	switch {
	case jobErr != nil:
		s.logger.Error("scheduled job failed", "schedule_id", sched.ID, "action", sched.ActionType, "status", status, "error", jobErr)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("scheduler", "job_failed").Inc()
		}
	default:
		s.logger.Info("scheduled job finished", "schedule_id", sched.ID, "action", sched.ActionType, "duration_ms", job.DurationMS)
	}

	s.dispatchResult(ctx, sched, job, res, jobErr)
}

// dispatchResult forwards the outcome to the master contact when the
// schedule asks for it (action_params.notify_master).
func (s *Scheduler) dispatchResult(ctx context.Context, sched *models.Schedule, job *models.JobHistory, res *Result, jobErr error) {
	if s.notifier == nil {
		return
	}
	want, _ := sched.ActionParams["notify_master"].(bool)
	if !want {
		return
	}
	agent, err := s.stores.Agents.Get(ctx, sched.AgentID)
	if err != nil || !agent.HasMaster() {
		return
	}

	n := &models.MasterNotification{
		AgentID: agent.ID,
		UserID:  agent.UserID,
		Channel: agent.Master.Channel,
		Address: agent.Master.Address,
		Context: map[string]any{
			"schedule_id": sched.ID,
			"action_type": sched.ActionType,
			"job_id":      job.ID,
		},
	}
	if jobErr != nil {
		n.Type = models.NotifyCriticalError
		n.Title = fmt.Sprintf("Scheduled %s failed", sched.ActionType)
		n.Body = jobErr.Error()
	} else {
		n.Type = models.NotifyDailyReport
		n.Title = fmt.Sprintf("Scheduled %s finished", sched.ActionType)
		if res != nil && res.Summary != "" {
			n.Body = res.Summary
		} else {
			n.Body = "Completed with no summary."
		}
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("job result notification failed", "schedule_id", sched.ID, "error", err)
	}
}

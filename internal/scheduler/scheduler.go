package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultInterval is how often the scheduler checks for due jobs.
const DefaultInterval = 60 * time.Second

// Job status values recorded after each run.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Runner is the interface the scheduler uses to run workflows.
// Satisfied by a workflow catalog adapter (avoids import cycle).
type Runner interface {
	RunWorkflow(ctx context.Context, workflow string, trigger map[string]any) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, workflow string, trigger map[string]any) error

// RunWorkflow calls f.
func (f RunnerFunc) RunWorkflow(ctx context.Context, workflow string, trigger map[string]any) error {
	return f(ctx, workflow, trigger)
}

// Job fires a run of Workflow with Trigger on every Cron tick.
type Job struct {
	ID            string         `json:"id"`
	Workflow      string         `json:"workflow"`
	Cron          string         `json:"cron"`
	Trigger       map[string]any `json:"trigger,omitempty"`
	Enabled       bool           `json:"enabled"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus string         `json:"last_run_status,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler polls its job table for due jobs and runs them.
type Scheduler struct {
	runner   Runner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: DefaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. The cron expression is checked up front and, unless
// the job already carries one, NextRunAt is computed from now.
func (s *Scheduler) Add(job Job) error {
	prepared, err := s.prepare(job)
	if err != nil {
		return err
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	s.jobs[job.ID] = prepared
	return nil
}

// SetWorkflowJobs replaces every job of workflow with jobs. All of them are
// checked before the table changes; an empty list unschedules the workflow.
func (s *Scheduler) SetWorkflowJobs(workflow string, jobs []Job) error {
	prepared := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Workflow != workflow {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"scheduled job %q belongs to workflow %q, not %q", job.ID, job.Workflow, workflow)
		}
		p, err := s.prepare(job)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, p := range prepared {
		if existing, ok := s.jobs[p.ID]; ok && existing.Workflow != workflow {
			return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", p.ID)
		}
	}
	for id, job := range s.jobs {
		if job.Workflow == workflow {
			delete(s.jobs, id)
		}
	}
	for _, p := range prepared {
		s.jobs[p.ID] = p
	}
	return nil
}

// JobsFor builds enabled jobs for a workflow's schedules, with IDs
// "<workflow>#<index>".
func JobsFor(workflow string, schedules []schema.ScheduleDefinition) []Job {
	jobs := make([]Job, len(schedules))
	for i, sd := range schedules {
		jobs[i] = Job{
			ID:       fmt.Sprintf("%s#%d", workflow, i),
			Workflow: workflow,
			Cron:     sd.Cron,
			Trigger:  sd.Trigger,
			Enabled:  true,
		}
	}
	return jobs
}

func (s *Scheduler) prepare(job Job) (*Job, error) {
	if job.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduled job requires an id")
	}
	if job.Workflow == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q requires a workflow", job.ID)
	}
	if job.NextRunAt == nil {
		next, err := s.CalculateNextRun(job.Cron, s.now())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q: %s", job.ID, err.Error()).WithCause(err)
		}
		job.NextRunAt = &next
	} else if _, err := s.parser.Parse(job.Cron); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q: invalid cron %q", job.ID, job.Cron).WithCause(err)
	}
	return &job, nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// SetEnabled enables or disables a job.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	job.Enabled = enabled
	return nil
}

// Job returns a copy of one job.
func (s *Scheduler) Job(id string) (Job, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of all jobs sorted by ID.
func (s *Scheduler) Jobs() []Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job that is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, job := range s.dueJobs(now) {
		if ctx.Err() != nil {
			return
		}
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// dueJobs snapshots enabled jobs whose NextRunAt is not after now. A job
// with no NextRunAt is treated as overdue.
func (s *Scheduler) dueJobs(now time.Time) []Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	var due []Job
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			due = append(due, *job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow", job.Workflow),
	)

	err := s.runner.RunWorkflow(ctx, job.Workflow, copyTrigger(job.Trigger))
	status := StatusSuccess
	if err != nil {
		status = StatusError
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateJobStatus(job, now, status, err)
}

func (s *Scheduler) updateJobStatus(job Job, now time.Time, status string, runErr error) error {
	nextRun, err := s.CalculateNextRun(job.Cron, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return nil // removed while running
	}
	stored.LastRunAt = &now
	stored.NextRunAt = &nextRun
	stored.LastRunStatus = status
	stored.LastError = ""
	if runErr != nil {
		stored.LastError = runErr.Error()
	}
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// copyTrigger gives each run its own top-level trigger map.
func copyTrigger(trigger map[string]any) map[string]any {
	if trigger == nil {
		return nil
	}
	out := make(map[string]any, len(trigger))
	for k, v := range trigger {
		out[k] = v
	}
	return out
}

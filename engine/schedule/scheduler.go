package schedule

import (
	"context"
	"time"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/metrics"
	"github.com/compozy/orchestra/engine/workflow"
	"github.com/compozy/orchestra/pkg/logger"
)

const defaultTickInterval = 60 * time.Second

// Executor is the narrow orchestrator surface the scheduler drives: fire a
// workflow asynchronously for a due schedule.
type Executor interface {
	ExecuteWorkflowAsync(ctx context.Context, workflowID core.ID, triggerData map[string]any) error
}

// Repository persists WorkflowSchedule rows.
type Repository interface {
	ListDue(ctx context.Context, now time.Time) ([]*workflow.Schedule, error)
	// AdvanceTick atomically stamps last_run_at and next_run_at, matching the
	// optimistic `UPDATE ... WHERE next_run_at=<observed>` transition pattern;
	// affected==0 means another scheduler instance already claimed this tick.
	AdvanceTick(ctx context.Context, id core.ID, observedNextRunAt, lastRunAt, nextRunAt time.Time) (int64, error)
}

// Locker is a distributed mutual-exclusion lock guarding a single tick across
// multiple scheduler instances (backed by engine/infra/cache's Redis lock).
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (unlock func(context.Context), ok bool, err error)
}

// Scheduler polls due schedules and fires workflow executions.
type Scheduler struct {
	repo         Repository
	executor     Executor
	locker       Locker
	tickInterval time.Duration
	metrics      *metrics.Metrics
	log          logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the default 60s poll interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLocker attaches a distributed lock so only one instance executes a
// given tick at a time.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithMetrics records a fire counter for every submitted execution.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New builds a Scheduler.
func New(repo Repository, executor Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:         repo,
		executor:     executor,
		tickInterval: defaultTickInterval,
		log:          logger.FromContext(context.Background()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, ticking every s.tickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick performs one poll-and-fire pass: select all due, enabled schedules
// and for each, atomically advance next_run_at and submit an async execution.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "scheduler:tick", s.tickInterval)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer unlock(ctx)
	}
	now := core.Now()
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return err
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, sched *workflow.Schedule, now time.Time) {
	next, err := NextFireAfter(sched.CronExpr, now)
	if err != nil {
		s.log.Error("invalid cron on schedule", "schedule_id", sched.ID, "error", err)
		return
	}
	observedNext := sched.NextRunAt
	affected, err := s.repo.AdvanceTick(ctx, sched.ID, observedNext, now, next)
	if err != nil {
		s.log.Error("failed to advance schedule tick", "schedule_id", sched.ID, "error", err)
		return
	}
	if affected == 0 {
		// Another instance already claimed this tick.
		return
	}
	if err := s.executor.ExecuteWorkflowAsync(ctx, sched.WorkflowID, sched.TriggerData); err != nil {
		// Submission failure does not disable the schedule row.
		s.log.Error("failed to submit scheduled workflow execution", "schedule_id", sched.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.SchedulerFires.Inc()
	}
}

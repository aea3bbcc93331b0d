// Package scheduler turns the cron expressions of SCHEDULE workflows into
// trigger events. It polls persisted schedules on a fixed tick, fires the ones
// that are due and never replays a backlog.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/custodychain/custodyflow/pkg/metrics"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Source tag on events emitted by the scheduler.
const eventSource = "scheduler"

// Dispatcher receives the SCHEDULE events the scheduler emits.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.TriggerEvent) *models.DispatchResult
}

// Config holds scheduler settings.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig polls once a minute, the resolution of a cron expression.
func DefaultConfig() Config {
	return Config{TickInterval: time.Minute}
}

// Scheduler owns the WorkflowSchedule records.
type Scheduler struct {
	logger     *slog.Logger
	store      persistence.ScheduleRepository
	dispatcher Dispatcher
	metrics    *metrics.Collector
	config     Config
	now        func() time.Time

	// mu serializes ticks, recovery and sync so a schedule fires at most once per due time.
	mu     sync.Mutex
	missed atomic.Int64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	inflight  sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records fires and missed fires on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = collector
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithConfig replaces the default configuration.
func WithConfig(config Config) Option {
	return func(s *Scheduler) {
		if config.TickInterval > 0 {
			s.config = config
		}
	}
}

// NewScheduler creates a scheduler emitting to dispatcher.
func NewScheduler(logger *slog.Logger, store persistence.ScheduleRepository, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:     logger.With("module", "scheduler"),
		store:      store,
		dispatcher: dispatcher,
		config:     DefaultConfig(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sync reconciles stored schedules with the SCHEDULE workflows in workflows.
// New workflows get a schedule, changed cron expressions or timezones are
// recomputed from now, and schedules whose workflow is gone or inactive are
// deactivated.
func (s *Scheduler) Sync(ctx context.Context, workflows []*models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	byWorkflow := make(map[string]*models.WorkflowSchedule, len(existing))
	for _, schedule := range existing {
		byWorkflow[schedule.WorkflowID] = schedule
	}

	now := s.now().UTC()
	wanted := make(map[string]bool)

	for _, workflow := range workflows {
		if workflow.TriggerType != models.TriggerSchedule || !workflow.IsActive {
			continue
		}

		wanted[workflow.ID] = true
		config := workflow.ScheduleConfig()
		current, ok := byWorkflow[workflow.ID]

		switch {
		case !ok:
			schedule, err := models.NewWorkflowSchedule(workflow.ID, config.Cron, config.Timezone, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to create schedule", "workflow_id", workflow.ID, "error", err)

				continue
			}

			if err := s.store.SaveSchedule(ctx, schedule); err != nil {
				return err
			}

			s.logger.InfoContext(ctx, "Schedule created",
				"workflow_id", workflow.ID,
				"cron", config.Cron,
				"timezone", config.Timezone,
				"next_run", schedule.NextRun)

		case current.CronExpression != config.Cron || current.Timezone != config.Timezone || !current.Active:
			current.CronExpression = config.Cron
			current.Timezone = config.Timezone
			current.Active = true

			if err := current.Advance(now); err != nil {
				s.logger.ErrorContext(ctx, "Failed to update schedule", "workflow_id", workflow.ID, "error", err)

				continue
			}

			if err := s.store.SaveSchedule(ctx, current); err != nil {
				return err
			}

			s.logger.InfoContext(ctx, "Schedule updated", "workflow_id", workflow.ID, "next_run", current.NextRun)
		}
	}

	for workflowID, schedule := range byWorkflow {
		if wanted[workflowID] || !schedule.Active {
			continue
		}

		schedule.Active = false
		schedule.UpdatedAt = now

		if err := s.store.SaveSchedule(ctx, schedule); err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "Schedule deactivated", "workflow_id", workflowID)
	}

	return nil
}

// Start runs a recovery pass and then ticks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	if _, err := s.Recover(ctx, s.now()); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)

	s.logger.InfoContext(ctx, "Scheduler started", "tick_interval", s.config.TickInterval)

	return nil
}

// Stop ends the tick loop and waits for in-flight emissions until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycle.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	emitted := make(chan struct{})

	go func() {
		s.inflight.Wait()
		close(emitted)
	}()

	select {
	case <-emitted:
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled dispatches: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, s.now()); err != nil {
				s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
			}
		}
	}
}

// Recover handles schedules that fell overdue while the process was down:
// their occurrences are counted as missed and nextRun moves strictly after now.
// Nothing fires.
func (s *Scheduler) Recover(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading schedules: %w", err)
	}

	recovered := 0

	for _, schedule := range schedules {
		if !schedule.IsDue(now) {
			continue
		}

		missed, err := schedule.MissedSince(now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Invalid schedule", "schedule_id", schedule.ID, "error", err)

			continue
		}

		if err := schedule.Advance(now); err != nil {
			continue
		}

		if err := s.store.SaveSchedule(ctx, schedule); err != nil {
			return recovered, err
		}

		s.recordMissed(schedule.WorkflowID, missed)
		recovered++

		s.logger.WarnContext(ctx, "Skipped overdue schedule",
			"workflow_id", schedule.WorkflowID,
			"missed", missed,
			"next_run", schedule.NextRun)
	}

	return recovered, nil
}

// Tick fires every active schedule due at now exactly once, however many
// occurrences it missed, and moves its nextRun strictly after now before the
// event is emitted. It returns the number of fires.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading schedules: %w", err)
	}

	fired := 0

	for _, schedule := range schedules {
		if !schedule.IsDue(now) {
			continue
		}

		occurrences, err := schedule.MissedSince(now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Invalid schedule", "schedule_id", schedule.ID, "error", err)

			continue
		}

		dueAt := schedule.NextRun
		firedAt := now.UTC()
		schedule.LastFiredAt = &firedAt

		if err := schedule.Advance(now); err != nil {
			continue
		}

		if err := s.store.SaveSchedule(ctx, schedule); err != nil {
			return fired, err
		}

		if occurrences > 1 {
			s.recordMissed(schedule.WorkflowID, occurrences-1)
		}

		s.metrics.RecordScheduleFire(schedule.WorkflowID)
		s.emit(ctx, s.event(schedule, dueAt, now))
		fired++

		s.logger.InfoContext(ctx, "Schedule fired",
			"workflow_id", schedule.WorkflowID,
			"due_at", dueAt,
			"next_run", schedule.NextRun)
	}

	return fired, nil
}

// MissedFires is the number of occurrences skipped since the scheduler was created.
func (s *Scheduler) MissedFires() int64 {
	return s.missed.Load()
}

func (s *Scheduler) recordMissed(workflowID string, count int) {
	s.missed.Add(int64(count))
	s.metrics.RecordScheduleMissed(workflowID, count)
}

func (s *Scheduler) event(schedule *models.WorkflowSchedule, dueAt, now time.Time) models.TriggerEvent {
	return models.TriggerEvent{
		ID:          uuid.NewString(),
		TriggerType: models.TriggerSchedule,
		OccurredAt:  now.UTC(),
		EntitySnapshot: map[string]any{
			models.SnapshotWorkflowID: schedule.WorkflowID,
			"schedule_id":             schedule.ID,
			"cron_expression":         schedule.CronExpression,
			"scheduled_for":           dueAt.UTC().Format(time.RFC3339),
		},
		CorrelationID: fmt.Sprintf("schedule:%s:%d", schedule.WorkflowID, dueAt.Unix()),
		Source:        eventSource,
	}
}

// emit hands the event to the dispatcher on its own goroutine so a slow
// workflow never delays the next tick.
func (s *Scheduler) emit(ctx context.Context, event models.TriggerEvent) {
	if s.dispatcher == nil {
		return
	}

	dispatchCtx := context.WithoutCancel(ctx)

	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()

		result := s.dispatcher.Dispatch(dispatchCtx, event)
		if result != nil && result.Error != "" {
			s.logger.WarnContext(dispatchCtx, "Scheduled dispatch failed",
				"correlation_id", event.CorrelationID,
				"error", result.Error)
		}
	}()
}

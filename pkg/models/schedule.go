package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// maxMissedCount bounds how many missed occurrences are counted for a single
// overdue schedule, so a per-minute cron left idle for months stays cheap.
const maxMissedCount = 100_000

var (
	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseCron parses a standard 5-field cron expression (descriptors such as
// "@hourly" are accepted too).
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// LoadLocation resolves a schedule timezone; the empty string means UTC.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(tz)
}

// WorkflowSchedule materializes a SCHEDULE workflow's cron expression into a
// concrete next-run timestamp. It is owned by the scheduler.
type WorkflowSchedule struct {
	ID             string     `json:"id"                      validate:"required"`
	WorkflowID     string     `json:"workflow_id"             validate:"required"`
	CronExpression string     `json:"cron_expression"         validate:"required"`
	Timezone       string     `json:"timezone"`
	NextRun        time.Time  `json:"next_run"                validate:"required"`
	LastFiredAt    *time.Time `json:"last_fired_at,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewWorkflowSchedule creates a schedule whose first run is strictly after now.
func NewWorkflowSchedule(workflowID, cronExpression, timezone string, now time.Time) (*WorkflowSchedule, error) {
	s := &WorkflowSchedule{
		ID:             "schedule-" + workflowID,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		Active:         true,
		CreatedAt:      now.UTC(),
	}

	if err := s.Advance(now); err != nil {
		return nil, err
	}

	return s, nil
}

// Advance recomputes NextRun as the first occurrence strictly after now in the
// schedule timezone. Missed occurrences between the old NextRun and now are skipped.
func (s *WorkflowSchedule) Advance(now time.Time) error {
	sched, loc, err := s.parse()
	if err != nil {
		return err
	}

	s.NextRun = sched.Next(now.In(loc)).UTC()
	s.UpdatedAt = now.UTC()

	return nil
}

// IsDue reports whether the schedule should fire at now.
func (s *WorkflowSchedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextRun.After(now)
}

// MissedSince counts the occurrences in [NextRun, now]. A schedule that is due
// exactly once returns 1.
func (s *WorkflowSchedule) MissedSince(now time.Time) (int, error) {
	if s.NextRun.After(now) {
		return 0, nil
	}

	sched, loc, err := s.parse()
	if err != nil {
		return 0, err
	}

	count := 1
	for next := sched.Next(s.NextRun.In(loc)); !next.After(now) && count < maxMissedCount; next = sched.Next(next) {
		count++
	}

	return count, nil
}

// Validate performs validation on the schedule fields.
func (s *WorkflowSchedule) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	_, _, err := s.parse()

	return err
}

func (s *WorkflowSchedule) parse() (cron.Schedule, *time.Location, error) {
	sched, err := ParseCron(s.CronExpression)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cron %q: %w", ErrInvalidSchedule, s.CronExpression, err)
	}

	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, s.Timezone, err)
	}

	return sched, loc, nil
}

package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
)

// ScheduleRepository stores the materialized schedules of SCHEDULE workflows.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

func (r *ScheduleRepository) Schedules(ctx context.Context) ([]*models.WorkflowSchedule, error) {
	query := `
		SELECT id, workflow_id, cron_expression, timezone, next_run, last_fired_at, active, created_at, updated_at
		FROM workflow_schedules
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	schedules := make([]*models.WorkflowSchedule, 0)

	for rows.Next() {
		var (
			schedule    models.WorkflowSchedule
			lastFiredAt sql.NullTime
		)

		err := rows.Scan(
			&schedule.ID,
			&schedule.WorkflowID,
			&schedule.CronExpression,
			&schedule.Timezone,
			&schedule.NextRun,
			&lastFiredAt,
			&schedule.Active,
			&schedule.CreatedAt,
			&schedule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		if lastFiredAt.Valid {
			t := lastFiredAt.Time
			schedule.LastFiredAt = &t
		}

		schedules = append(schedules, &schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func (r *ScheduleRepository) SaveSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	query := `
		INSERT INTO workflow_schedules (id, workflow_id, cron_expression, timezone, next_run,
			last_fired_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			next_run = EXCLUDED.next_run,
			last_fired_at = EXCLUDED.last_fired_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.WorkflowID,
		schedule.CronExpression,
		schedule.Timezone,
		schedule.NextRun,
		schedule.LastFiredAt,
		schedule.Active,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("schedule %s: %w", id, persistence.ErrScheduleNotFound)
	}

	return nil
}

// Package postgresql provides PostgreSQL persistence for workflows, schedules
// and approval requests.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/custodychain/custodyflow/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	*WorkflowRepository
	*ScheduleRepository
	*ApprovalRepository

	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects to databaseURL and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p, err := NewPersistenceFromDB(ctx, logger, database)
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return p, nil
}

// NewPersistenceFromDB migrates the schema of an open database and returns a
// persistence layer over it.
func NewPersistenceFromDB(ctx context.Context, logger *slog.Logger, database *sql.DB) (*Persistence, error) {
	logger = logger.With("module", "postgresql")

	err := sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		WorkflowRepository: NewWorkflowRepository(database, logger),
		ScheduleRepository: NewScheduleRepository(database, logger),
		ApprovalRepository: NewApprovalRepository(database, logger),
		db:                 database,
		logger:             logger,
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
)

// ApprovalRepository stores approval requests as JSON documents next to the
// columns used to find pending requests.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

func (r *ApprovalRepository) SaveApproval(ctx context.Context, request *models.ApprovalRequest) error {
	document, err := json.Marshal(request)
	if err != nil {
		return persistence.NewApprovalError("SaveApproval", request.ID, err)
	}

	query := `
		INSERT INTO approval_requests (id, workflow_id, correlation_id, state, deadline,
			document, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			deadline = EXCLUDED.deadline,
			document = EXCLUDED.document,
			resolved_at = EXCLUDED.resolved_at
	`

	_, err = r.db.ExecContext(ctx, query,
		request.ID,
		request.WorkflowID,
		request.CorrelationID,
		string(request.State),
		request.Deadline,
		document,
		request.CreatedAt,
		request.ResolvedAt,
	)
	if err != nil {
		return persistence.NewApprovalError("SaveApproval", request.ID, err)
	}

	return nil
}

func (r *ApprovalRepository) ApprovalByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `SELECT document FROM approval_requests WHERE id = $1`, id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewApprovalError("ApprovalByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("ApprovalByID", id, err)
	}

	var request models.ApprovalRequest

	err = json.Unmarshal(document, &request)
	if err != nil {
		return nil, persistence.NewApprovalError("ApprovalByID", id, err)
	}

	return &request, nil
}

// PendingApprovals returns PENDING requests ordered by deadline.
func (r *ApprovalRepository) PendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	query := `
		SELECT document
		FROM approval_requests
		WHERE state = 'PENDING'
		ORDER BY deadline
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	requests := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		var request models.ApprovalRequest

		err = json.Unmarshal(document, &request)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval: %w", err)
		}

		requests = append(requests, &request)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return requests, nil
}

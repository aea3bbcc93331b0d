package actions

import (
	"context"

	"github.com/custodychain/custodyflow/pkg/models"
)

// StateStore mutates subject state on behalf of QUARANTINE and UPDATE actions.
type StateStore interface {
	ApplyUpdate(ctx context.Context, entityID string, fields map[string]any) error
}

// Notifier delivers NOTIFY and ALERT messages to every holder of the given roles.
type Notifier interface {
	Notify(ctx context.Context, roles []string, message string) error
}

// Ledger mints reward tokens. Calls are best-effort.
type Ledger interface {
	MintReward(ctx context.Context, address string, amount float64, reason string) error
}

// ApprovalGate takes ownership of an approval request opened by an APPROVE
// action: it stores the request with its continuation and arms the deadline.
type ApprovalGate interface {
	Open(ctx context.Context, request *models.ApprovalRequest) error
}

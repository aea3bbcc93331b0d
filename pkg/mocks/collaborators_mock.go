package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/custodychain/custodyflow/pkg/models"
)

// MockStateStore is a mock implementation of actions.StateStore interface.
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) ApplyUpdate(ctx context.Context, entityID string, fields map[string]any) error {
	args := m.Called(ctx, entityID, fields)

	return args.Error(0)
}

// MockNotifier is a mock implementation of actions.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, roles []string, message string) error {
	args := m.Called(ctx, roles, message)

	return args.Error(0)
}

// MockLedger is a mock implementation of actions.Ledger interface.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) MintReward(ctx context.Context, address string, amount float64, reason string) error {
	args := m.Called(ctx, address, amount, reason)

	return args.Error(0)
}

// MockApprovalGate is a mock implementation of actions.ApprovalGate interface.
type MockApprovalGate struct {
	mock.Mock
}

func (m *MockApprovalGate) Open(ctx context.Context, request *models.ApprovalRequest) error {
	args := m.Called(ctx, request)

	return args.Error(0)
}

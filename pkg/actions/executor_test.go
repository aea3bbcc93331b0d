package actions

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/custodychain/custodyflow/pkg/mocks"
	"github.com/custodychain/custodyflow/pkg/models"
)

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func specimen() map[string]any {
	return map[string]any{
		"entity_id": "item-1",
		"metric":    "TEMP_HIGH",
		"value":     9,
		"item.type": "LAB_SPECIMEN",
	}
}

func notify(message string) models.Action {
	return models.Action{Type: models.ActionNotify, Config: map[string]any{"roles": []any{"lab"}, "message": message}}
}

func TestExecutor_RunsActionsInOrder(t *testing.T) {
	state := &mocks.MockStateStore{}
	notifier := &mocks.MockNotifier{}

	var order []string

	state.On("ApplyUpdate", mock.Anything, "item-1", map[string]any{"status": "QUARANTINED"}).
		Run(func(mock.Arguments) { order = append(order, "QUARANTINE") }).
		Return(nil)
	notifier.On("Notify", mock.Anything, []string{"lab"}, "Specimen item-1 quarantined").
		Run(func(mock.Arguments) { order = append(order, "NOTIFY") }).
		Return(nil)
	notifier.On("Notify", mock.Anything, []string{"lab"}, "[CRITICAL] TEMP_HIGH at 9").
		Run(func(mock.Arguments) { order = append(order, "ALERT") }).
		Return(nil)

	executor := NewExecutor(testLogger(), state, notifier, WithClock(func() time.Time { return fixedNow }))

	outcomes := executor.Run(context.Background(), []models.Action{
		{Type: models.ActionQuarantine},
		notify("Specimen {{entity_id}} quarantined"),
		{Type: models.ActionAlert, Config: map[string]any{"roles": []any{"lab"}, "message": "{{metric}} at {{value}}", "severity": "CRITICAL"}},
	}, specimen())

	require.Len(t, outcomes, 3)

	for i, outcome := range outcomes {
		assert.Equal(t, i, outcome.Index)
		assert.Equal(t, models.ActionSucceeded, outcome.Status)
	}

	assert.Equal(t, []string{"QUARANTINE", "NOTIFY", "ALERT"}, order)
	assert.Equal(t, models.WorkflowCompleted, models.SummarizeActions(outcomes))
	state.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestExecutor_FailureDoesNotAbortChain(t *testing.T) {
	state := &mocks.MockStateStore{}
	notifier := &mocks.MockNotifier{}

	state.On("ApplyUpdate", mock.Anything, "item-1", mock.Anything).Return(errors.New("backend unavailable"))
	notifier.On("Notify", mock.Anything, []string{"lab"}, "still told").Return(nil)

	executor := NewExecutor(testLogger(), state, notifier)
	result := executor.Execute(context.Background(), Plan{
		EntityID: "item-1",
		Actions:  []models.Action{{Type: models.ActionQuarantine}, notify("still told")},
		Subject:  specimen(),
	})

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, models.ActionFailed, result.Outcomes[0].Status)
	assert.Contains(t, result.Outcomes[0].Error, "backend unavailable")
	assert.Equal(t, models.ActionSucceeded, result.Outcomes[1].Status)
	assert.Equal(t, models.WorkflowCompletedPartial, result.Status)
	assert.False(t, result.Mutated())
}

func TestExecutor_MintRewardIsBestEffort(t *testing.T) {
	ledger := &mocks.MockLedger{}
	ledger.On("MintReward", mock.Anything, "0xfeed", 25.0, "custody of item-1").Return(errors.New("ledger paused"))

	executor := NewExecutor(testLogger(), nil, nil, WithLedger(ledger))
	result := executor.Execute(context.Background(), Plan{
		Actions: []models.Action{{Type: models.ActionMintReward, Config: map[string]any{
			"address": "0xfeed",
			"amount":  25,
			"reason":  "custody of {{entity_id}}",
		}}},
		Subject: specimen(),
	})

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.ActionFailed, result.Outcomes[0].Status)
	assert.True(t, result.Outcomes[0].BestEffort)
	assert.Equal(t, models.WorkflowCompleted, result.Status)
	ledger.AssertExpectations(t)
}

func TestExecutor_MutationsFlowIntoLaterActions(t *testing.T) {
	state := &mocks.MockStateStore{}
	notifier := &mocks.MockNotifier{}

	state.On("ApplyUpdate", mock.Anything, "item-1", map[string]any{"status": "HELD", "hold_count": 1}).Return(nil)
	notifier.On("Notify", mock.Anything, []string{"lab"}, "item-1 is now HELD").Return(nil)

	executor := NewExecutor(testLogger(), state, notifier)
	subject := specimen()

	result := executor.Execute(context.Background(), Plan{
		EntityID: "item-1",
		Actions: []models.Action{
			{Type: models.ActionUpdate, Config: map[string]any{"fields": map[string]any{"status": "HELD", "hold_count": 1}}},
			notify("{{entity_id}} is now {{status}}"),
		},
		Subject: subject,
	})

	assert.Equal(t, models.WorkflowCompleted, result.Status)
	assert.True(t, result.Mutated())
	assert.Equal(t, map[string]any{"status": "HELD", "hold_count": 1}, result.Mutations)
	assert.Equal(t, "HELD", result.Subject["status"])

	_, touched := subject["status"]
	assert.False(t, touched, "caller snapshot must not be modified")
	notifier.AssertExpectations(t)
}

func TestExecutor_ApproveSuspendsRemainder(t *testing.T) {
	gate := &mocks.MockApprovalGate{}
	notifier := &mocks.MockNotifier{}

	var opened *models.ApprovalRequest

	gate.On("Open", mock.Anything, mock.AnythingOfType("*models.ApprovalRequest")).
		Run(func(args mock.Arguments) { opened = args.Get(1).(*models.ApprovalRequest) }).
		Return(nil)

	executor := NewExecutor(testLogger(), nil, notifier,
		WithApprovalGate(gate),
		WithClock(func() time.Time { return fixedNow }))

	result := executor.Execute(context.Background(), Plan{
		WorkflowID:      "high-value",
		WorkflowVersion: 3,
		CorrelationID:   "item-1",
		TriggerType:     models.TriggerCustodyEvent,
		EntityID:        "item-1",
		Actions: []models.Action{
			{Type: models.ActionApprove, Config: map[string]any{
				"required_approvals": 2.0,
				"approver_roles":     []any{"supervisor", "auditor"},
				"timeout":            "2h",
			}},
			notify("approved"),
		},
		Subject: specimen(),
	})

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.ActionSuspended, result.Outcomes[0].Status)
	assert.Equal(t, models.WorkflowSuspended, result.Status)
	require.NotNil(t, result.Approval)
	require.Same(t, opened, result.Approval)

	assert.Equal(t, opened.ID, result.Outcomes[0].ApprovalID)
	assert.Equal(t, 2, opened.RequiredApprovals)
	assert.Equal(t, []string{"supervisor", "auditor"}, opened.ApproverRoles)
	assert.Equal(t, fixedNow.Add(2*time.Hour), opened.Deadline)
	assert.Equal(t, models.ApprovalPending, opened.State)
	assert.Equal(t, models.Continuation{
		WorkflowID:      "high-value",
		WorkflowVersion: 3,
		CorrelationID:   "item-1",
		TriggerType:     models.TriggerCustodyEvent,
		NextAction:      1,
		Subject:         specimen(),
	}, opened.Continuation)

	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_ResumeFromIndex(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "second").Return(nil)

	executor := NewExecutor(testLogger(), nil, notifier)
	result := executor.Execute(context.Background(), Plan{
		Actions: []models.Action{notify("first"), notify("second")},
		Start:   1,
		Subject: specimen(),
	})

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, 1, result.Outcomes[0].Index)
	notifier.AssertExpectations(t)
}

func TestExecutor_CancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := &mocks.MockStateStore{}
	state.On("ApplyUpdate", mock.Anything, "item-1", mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			// The in-flight call keeps a live context.
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(nil)

	notifier := &mocks.MockNotifier{}

	executor := NewExecutor(testLogger(), state, notifier)
	result := executor.Execute(ctx, Plan{
		EntityID: "item-1",
		Actions:  []models.Action{{Type: models.ActionQuarantine}, notify("one"), notify("two")},
		Subject:  specimen(),
	})

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, models.ActionSucceeded, result.Outcomes[0].Status)
	assert.Equal(t, models.ActionCancelled, result.Outcomes[1].Status)
	assert.Equal(t, models.ActionCancelled, result.Outcomes[2].Status)
	assert.Equal(t, models.WorkflowCancelled, result.Status)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_MissingCollaborators(t *testing.T) {
	executor := NewExecutor(testLogger(), nil, nil)

	tests := []struct {
		action   models.Action
		expected error
	}{
		{action: models.Action{Type: models.ActionQuarantine}, expected: ErrNoStateStore},
		{action: notify("x"), expected: ErrNoNotifier},
		{action: models.Action{Type: models.ActionMintReward, Config: map[string]any{"address": "a", "amount": 1}}, expected: ErrNoLedger},
		{action: models.Action{Type: models.ActionApprove, Config: map[string]any{"approver_roles": []any{"x"}}}, expected: ErrNoApprovalGate},
	}

	for _, tt := range tests {
		t.Run(string(tt.action.Type), func(t *testing.T) {
			outcomes := executor.Run(context.Background(), []models.Action{tt.action}, specimen())

			require.Len(t, outcomes, 1)
			assert.Equal(t, models.ActionFailed, outcomes[0].Status)
			assert.Contains(t, outcomes[0].Error, tt.expected.Error())
		})
	}
}

func TestExecutor_FailedApprovalSkipsGatedActions(t *testing.T) {
	approve := models.Action{Type: models.ActionApprove, Config: map[string]any{
		"required_approvals": 2.0,
		"approver_roles":     []any{"supervisor"},
	}}
	release := models.Action{Type: models.ActionUpdate, Config: map[string]any{
		"fields": map[string]any{"status": "RELEASED"},
	}}

	tests := []struct {
		name          string
		gate          func() ApprovalGate
		expectedError string
	}{
		{
			name: "gate fails",
			gate: func() ApprovalGate {
				gate := &mocks.MockApprovalGate{}
				gate.On("Open", mock.Anything, mock.Anything).Return(errors.New("approval store unavailable"))

				return gate
			},
			expectedError: "approval store unavailable",
		},
		{
			name:          "no gate",
			gate:          func() ApprovalGate { return nil },
			expectedError: ErrNoApprovalGate.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &mocks.MockStateStore{}
			notifier := &mocks.MockNotifier{}

			opts := []Option{WithClock(func() time.Time { return fixedNow })}
			if gate := tt.gate(); gate != nil {
				opts = append(opts, WithApprovalGate(gate))
			}

			executor := NewExecutor(testLogger(), state, notifier, opts...)

			result := executor.Execute(context.Background(), Plan{
				WorkflowID:    "high-value",
				CorrelationID: "item-1",
				EntityID:      "item-1",
				Actions:       []models.Action{approve, release, notify("released")},
				Subject:       specimen(),
			})

			require.Len(t, result.Outcomes, 3)
			assert.Equal(t, models.ActionFailed, result.Outcomes[0].Status)
			assert.Contains(t, result.Outcomes[0].Error, tt.expectedError)
			assert.Equal(t, models.ActionNotApproved, result.Outcomes[1].Status)
			assert.Equal(t, models.ActionNotApproved, result.Outcomes[2].Status)
			assert.Equal(t, models.WorkflowNotApproved, result.Status)
			assert.Nil(t, result.Approval)
			assert.Empty(t, result.Mutations)

			state.AssertNotCalled(t, "ApplyUpdate", mock.Anything, mock.Anything, mock.Anything)
			notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSummarizeActions_FailedApprovalIsNotApproved(t *testing.T) {
	outcomes := []models.ActionOutcome{
		{Index: 0, Type: models.ActionQuarantine, Status: models.ActionSucceeded},
		{Index: 1, Type: models.ActionApprove, Status: models.ActionFailed, Error: "no approval gate configured"},
	}

	assert.Equal(t, models.WorkflowNotApproved, models.SummarizeActions(outcomes))
}

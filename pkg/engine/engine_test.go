package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/custodychain/custodyflow/pkg/actions"
	"github.com/custodychain/custodyflow/pkg/approval"
	"github.com/custodychain/custodyflow/pkg/mocks"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence/memory"
	"github.com/custodychain/custodyflow/pkg/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingSink struct {
	results chan *models.DispatchResult
}

func newRecordingSink() *recordingSink {
	return &recordingSink{results: make(chan *models.DispatchResult, 16)}
}

func (s *recordingSink) RecordDispatch(_ context.Context, result *models.DispatchResult) error {
	s.results <- result

	return nil
}

func (s *recordingSink) resumed(t *testing.T) *models.DispatchResult {
	t.Helper()

	timeout := time.After(2 * time.Second)

	for {
		select {
		case result := <-s.results:
			if result.ResumedApproval != "" {
				return result
			}
		case <-timeout:
			t.Fatal("no resumed result recorded")

			return nil
		}
	}
}

func loadRegistry(t *testing.T, workflows ...*models.Workflow) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(testLogger())
	reg.Load(workflows)
	require.Empty(t, reg.Rejected())

	return reg
}

func notify(message string) models.Action {
	return models.Action{Type: models.ActionNotify, Config: map[string]any{"roles": []any{"lab"}, "message": message}}
}

func iotWorkflow(id string, priority int, metric string, conditions []models.Condition, acts ...models.Action) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		Name:          "workflow " + id,
		Priority:      priority,
		IsActive:      true,
		TriggerType:   models.TriggerIoTAlert,
		TriggerConfig: map[string]any{"metric": metric},
		Conditions:    conditions,
		Actions:       acts,
	}
}

func iotEvent(snapshot map[string]any) models.TriggerEvent {
	return models.TriggerEvent{
		TriggerType:    models.TriggerIoTAlert,
		CorrelationID:  "item-1",
		EntitySnapshot: snapshot,
	}
}

func TestEngine_ColdChainScenario(t *testing.T) {
	workflow := iotWorkflow("cold-chain", 10, "TEMP_HIGH",
		[]models.Condition{
			{Field: "metric", Operator: models.OperatorEquals, Value: "TEMP_HIGH"},
			{Field: "item.type", Operator: models.OperatorEquals, Value: "LAB_SPECIMEN"},
		},
		models.Action{Type: models.ActionQuarantine},
		notify("Specimen {{entity_id}} quarantined"),
		models.Action{Type: models.ActionAlert, Config: map[string]any{"roles": []any{"lab"}, "message": "{{metric}} at {{value}}"}},
	)

	state := &mocks.MockStateStore{}
	notifier := &mocks.MockNotifier{}

	var order []string

	state.On("ApplyUpdate", mock.Anything, "item-1", map[string]any{"status": "QUARANTINED"}).
		Run(func(mock.Arguments) { order = append(order, "QUARANTINE") }).
		Return(nil)
	notifier.On("Notify", mock.Anything, []string{"lab"}, "Specimen item-1 quarantined").
		Run(func(mock.Arguments) { order = append(order, "NOTIFY") }).
		Return(nil)
	notifier.On("Notify", mock.Anything, []string{"lab"}, "[HIGH] TEMP_HIGH at 9").
		Run(func(mock.Arguments) { order = append(order, "ALERT") }).
		Return(nil)

	e := NewEngine(testLogger(), loadRegistry(t, workflow), actions.NewExecutor(testLogger(), state, notifier))

	result := e.Dispatch(context.Background(), iotEvent(map[string]any{
		"entity_id": "item-1",
		"metric":    "TEMP_HIGH",
		"value":     9,
		"item.type": "LAB_SPECIMEN",
	}))

	assert.Equal(t, models.DispatchCompleted, result.State)
	assert.Equal(t, []models.DispatchState{
		models.DispatchReceived,
		models.DispatchCandidatesSelected,
		models.DispatchEvaluating,
		models.DispatchExecuting,
		models.DispatchCompleted,
	}, result.Transitions)
	assert.Equal(t, []string{"QUARANTINE", "NOTIFY", "ALERT"}, order)

	first, ok := result.Outcome("cold-chain", 0)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowCompleted, first.Status)
	assert.Len(t, first.Actions, 3)

	// The quarantine re-injects the subject; the workflow matching again is a cycle.
	second, ok := result.Outcome("cold-chain", 1)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowRejectedCycle, second.Status)

	state.AssertNumberOfCalls(t, "ApplyUpdate", 1)
}

func TestEngine_PriorityOrderAcrossWorkflows(t *testing.T) {
	notifier := &mocks.MockNotifier{}

	var order []string

	notifier.On("Notify", mock.Anything, []string{"lab"}, mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, args.String(2)) }).
		Return(nil)

	reg := loadRegistry(t,
		iotWorkflow("low", 5, "TEMP_HIGH", nil, notify("low")),
		iotWorkflow("high", 10, "TEMP_HIGH", nil, notify("high")),
		iotWorkflow("high-later", 10, "TEMP_HIGH", nil, notify("high-later")),
	)

	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), nil, notifier))
	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"metric": "TEMP_HIGH"}))

	assert.Equal(t, models.DispatchCompleted, result.State)
	assert.Equal(t, 3, result.Candidates)
	assert.Equal(t, []string{"high", "high-later", "low"}, order)
}

func TestEngine_TriggerConfigFiltersCandidates(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	reg := loadRegistry(t, iotWorkflow("cold-chain", 10, "TEMP_HIGH", nil, notify("hot")))

	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), nil, notifier))
	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"metric": "BATTERY_LOW"}))

	assert.Equal(t, models.DispatchSkipped, result.State)
	assert.Zero(t, result.Candidates)
	assert.Equal(t, []models.DispatchState{
		models.DispatchReceived,
		models.DispatchCandidatesSelected,
		models.DispatchSkipped,
	}, result.Transitions)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_BatteryLowWithoutConditions(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "replace battery").Return(nil)

	reg := loadRegistry(t, iotWorkflow("battery-low", 1, "BATTERY_LOW", []models.Condition{}, notify("replace battery")))
	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), nil, notifier))

	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"metric": "BATTERY_LOW"}))

	assert.Equal(t, models.DispatchCompleted, result.State)
	notifier.AssertExpectations(t)
}

func TestEngine_NonMatchingConditionsSkip(t *testing.T) {
	reg := loadRegistry(t, iotWorkflow("specimens-only", 1, "TEMP_HIGH",
		[]models.Condition{{Field: "item.type", Operator: models.OperatorEquals, Value: "LAB_SPECIMEN"}},
		notify("never")))

	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), nil, &mocks.MockNotifier{}))
	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"metric": "TEMP_HIGH"}))

	assert.Equal(t, models.DispatchSkipped, result.State)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.WorkflowSkipped, result.Outcomes[0].Status)
}

func TestEngine_UpdateCycleIsRejected(t *testing.T) {
	state := &mocks.MockStateStore{}
	state.On("ApplyUpdate", mock.Anything, "item-1", mock.Anything).Return(nil)

	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "review item-1").Return(nil)

	flagger := iotWorkflow("flagger", 10, "TEMP_HIGH",
		[]models.Condition{{Field: "metric", Operator: models.OperatorEquals, Value: "TEMP_HIGH"}},
		models.Action{Type: models.ActionUpdate, Config: map[string]any{"fields": map[string]any{"flagged": true}}},
	)
	reviewer := iotWorkflow("reviewer", 5, "TEMP_HIGH",
		[]models.Condition{{Field: "flagged", Operator: models.OperatorEquals, Value: true}},
		notify("review {{entity_id}}"),
	)

	e := NewEngine(testLogger(), loadRegistry(t, flagger, reviewer), actions.NewExecutor(testLogger(), state, notifier))
	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"entity_id": "item-1", "metric": "TEMP_HIGH"}))

	tests := []struct {
		workflowID string
		depth      int
		expected   models.WorkflowStatus
	}{
		{workflowID: "flagger", depth: 0, expected: models.WorkflowCompleted},
		{workflowID: "reviewer", depth: 0, expected: models.WorkflowSkipped},
		{workflowID: "flagger", depth: 1, expected: models.WorkflowRejectedCycle},
		{workflowID: "reviewer", depth: 1, expected: models.WorkflowCompleted},
	}

	for _, tt := range tests {
		outcome, ok := result.Outcome(tt.workflowID, tt.depth)
		require.True(t, ok, "%s at depth %d", tt.workflowID, tt.depth)
		assert.Equal(t, tt.expected, outcome.Status, "%s at depth %d", tt.workflowID, tt.depth)
	}

	assert.Len(t, result.Outcomes, 4)
	assert.Equal(t, models.DispatchCompleted, result.State)
	state.AssertNumberOfCalls(t, "ApplyUpdate", 1)
	notifier.AssertExpectations(t)
}

func TestEngine_MaxChainDepthStopsReinjection(t *testing.T) {
	state := &mocks.MockStateStore{}
	state.On("ApplyUpdate", mock.Anything, "item-1", mock.Anything).Return(nil)

	flagger := iotWorkflow("flagger", 10, "TEMP_HIGH", nil,
		models.Action{Type: models.ActionUpdate, Config: map[string]any{"fields": map[string]any{"flagged": true}}})

	e := NewEngine(testLogger(), loadRegistry(t, flagger), actions.NewExecutor(testLogger(), state, nil),
		WithConfig(Config{MaxChainDepth: 0}))

	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"entity_id": "item-1", "metric": "TEMP_HIGH"}))

	assert.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.DispatchCompleted, result.State)
}

func TestEngine_PartialFailureDoesNotBlockSiblings(t *testing.T) {
	state := &mocks.MockStateStore{}
	state.On("ApplyUpdate", mock.Anything, "item-1", mock.Anything).Return(assert.AnError)

	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "sibling").Return(nil)

	reg := loadRegistry(t,
		iotWorkflow("broken", 10, "TEMP_HIGH", nil, models.Action{Type: models.ActionQuarantine}),
		iotWorkflow("sibling", 5, "TEMP_HIGH", nil, notify("sibling")),
	)

	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), state, notifier))
	result := e.Dispatch(context.Background(), iotEvent(map[string]any{"entity_id": "item-1", "metric": "TEMP_HIGH"}))

	assert.Equal(t, models.DispatchCompletedPartial, result.State)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, models.WorkflowCompletedPartial, result.Outcomes[0].Status)
	assert.Equal(t, models.WorkflowCompleted, result.Outcomes[1].Status)
	notifier.AssertExpectations(t)
}

func TestEngine_CancellationStopsRemainingWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "one").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil)

	reg := loadRegistry(t,
		iotWorkflow("first", 10, "TEMP_HIGH", nil, notify("one"), notify("two")),
		iotWorkflow("second", 5, "TEMP_HIGH", nil, notify("three")),
	)

	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), nil, notifier))
	result := e.Dispatch(ctx, iotEvent(map[string]any{"metric": "TEMP_HIGH"}))

	assert.Equal(t, models.DispatchCancelled, result.State)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, models.WorkflowCancelled, result.Outcomes[0].Status)
	assert.Equal(t, models.ActionSucceeded, result.Outcomes[0].Actions[0].Status)
	assert.Equal(t, models.ActionCancelled, result.Outcomes[0].Actions[1].Status)
	assert.Equal(t, models.WorkflowCancelled, result.Outcomes[1].Status)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngine_InvalidEvent(t *testing.T) {
	e := NewEngine(testLogger(), loadRegistry(t), actions.NewExecutor(testLogger(), nil, nil))

	tests := []struct {
		name  string
		event models.TriggerEvent
	}{
		{name: "missing correlation id", event: models.TriggerEvent{TriggerType: models.TriggerManual}},
		{name: "missing trigger type", event: models.TriggerEvent{CorrelationID: "item-1"}},
		{name: "unknown trigger type", event: models.TriggerEvent{TriggerType: "WEBHOOK", CorrelationID: "item-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Dispatch(context.Background(), tt.event)

			assert.Equal(t, models.DispatchInvalid, result.State)
			assert.NotEmpty(t, result.Error)
			assert.NotEmpty(t, result.EventID)
		})
	}
}

type blockingNotifier struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (n *blockingNotifier) Notify(context.Context, []string, string) error {
	current := n.active.Add(1)
	defer n.active.Add(-1)

	for {
		seen := n.maxSeen.Load()
		if current <= seen || n.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	time.Sleep(20 * time.Millisecond)

	return nil
}

func TestEngine_SameCorrelationIsSerialized(t *testing.T) {
	notifier := &blockingNotifier{}
	reg := loadRegistry(t, iotWorkflow("watch", 1, "TEMP_HIGH", nil, notify("hot")))
	e := NewEngine(testLogger(), reg, actions.NewExecutor(testLogger(), nil, notifier))

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result := e.Dispatch(context.Background(), iotEvent(map[string]any{"metric": "TEMP_HIGH"}))
			assert.Equal(t, models.DispatchCompleted, result.State)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), notifier.maxSeen.Load())
}

func highValueWorkflow(timeout string) *models.Workflow {
	return &models.Workflow{
		ID:            "high-value",
		Name:          "High value transfer",
		Priority:      20,
		IsActive:      true,
		TriggerType:   models.TriggerCustodyEvent,
		TriggerConfig: map[string]any{"event_type": "TRANSFER"},
		Conditions: []models.Condition{
			{Field: "item.metadata.value", Operator: models.OperatorGreaterThan, Value: 10000},
		},
		Actions: []models.Action{
			{Type: models.ActionApprove, Config: map[string]any{
				"required_approvals": 2,
				"approver_roles":     []any{"supervisor"},
				"timeout":            timeout,
			}},
			notify("{{entity_id}} released"),
		},
	}
}

func transferEvent() models.TriggerEvent {
	return models.TriggerEvent{
		TriggerType:   models.TriggerCustodyEvent,
		CorrelationID: "item-7",
		EntitySnapshot: map[string]any{
			"entity_id":  "item-7",
			"event_type": "TRANSFER",
			"item": map[string]any{
				"metadata": map[string]any{"value": 15000},
			},
		},
	}
}

func TestEngine_HighValueApprovalScenario(t *testing.T) {
	ctx := context.Background()
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "item-7 released").Return(nil)

	sink := newRecordingSink()
	manager := approval.NewManager(testLogger(), memory.NewPersistence())
	defer manager.Close()

	executor := actions.NewExecutor(testLogger(), nil, notifier, actions.WithApprovalGate(manager))
	e := NewEngine(testLogger(), loadRegistry(t, highValueWorkflow("1h")), executor, WithAuditSink(sink))
	manager.OnResolution(e.HandleResolution)

	result := e.Dispatch(ctx, transferEvent())
	<-sink.results

	assert.Equal(t, models.DispatchCompleted, result.State)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.WorkflowSuspended, result.Outcomes[0].Status)

	approvalID := result.Outcomes[0].ApprovalID
	require.NotEmpty(t, approvalID)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)

	request, err := manager.Resolve(ctx, approvalID, "alice", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, request.State)

	request, err = manager.Resolve(ctx, approvalID, "bob", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, request.State)

	request, err = manager.Resolve(ctx, approvalID, "alice", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, request.ReceivedApprovals)

	resumed := sink.resumed(t)
	assert.Equal(t, approvalID, resumed.ResumedApproval)
	require.Len(t, resumed.Outcomes, 1)
	assert.Equal(t, models.WorkflowCompleted, resumed.Outcomes[0].Status)
	require.Len(t, resumed.Outcomes[0].Actions, 1)
	assert.Equal(t, 1, resumed.Outcomes[0].Actions[0].Index)
	notifier.AssertExpectations(t)
}

func TestEngine_ExpiredApprovalIsNotApproved(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	sink := newRecordingSink()
	manager := approval.NewManager(testLogger(), memory.NewPersistence())
	defer manager.Close()

	executor := actions.NewExecutor(testLogger(), nil, notifier, actions.WithApprovalGate(manager))
	e := NewEngine(testLogger(), loadRegistry(t, highValueWorkflow("50ms")), executor, WithAuditSink(sink))
	manager.OnResolution(e.HandleResolution)

	result := e.Dispatch(context.Background(), transferEvent())
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.WorkflowSuspended, result.Outcomes[0].Status)

	resumed := sink.resumed(t)
	require.Len(t, resumed.Outcomes, 1)
	assert.Equal(t, models.WorkflowNotApproved, resumed.Outcomes[0].Status)
	assert.Equal(t, models.ActionNotApproved, resumed.Outcomes[0].Actions[0].Status)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_ResumeRequiresRetainedVersion(t *testing.T) {
	e := NewEngine(testLogger(), loadRegistry(t), actions.NewExecutor(testLogger(), nil, nil))

	result := e.Resume(context.Background(), &models.ApprovalRequest{
		ID:            "req-1",
		CorrelationID: "item-1",
		State:         models.ApprovalApproved,
		Continuation:  models.Continuation{WorkflowID: "gone", WorkflowVersion: 3, NextAction: 1},
	})

	assert.Equal(t, models.DispatchInvalid, result.State)
	assert.Contains(t, result.Error, "gone")
}

func TestEngine_ApprovalResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	require.NoError(t, store.SaveWorkflow(ctx, highValueWorkflow("1h")))

	newRegistry := func() *registry.Registry {
		reg := registry.NewRegistry(testLogger(),
			registry.WithSource(store),
			registry.WithVersionStore(store),
			registry.WithRetention(store))

		_, err := reg.Reload(ctx)
		require.NoError(t, err)

		return reg
	}

	// First process: the definition is edited once, so the approval pins version 2.
	first := newRegistry()
	revised := highValueWorkflow("1h")
	revised.Name = "High value transfer, revised"
	require.NoError(t, store.SaveWorkflow(ctx, revised))

	_, err := first.Reload(ctx)
	require.NoError(t, err)

	firstManager := approval.NewManager(testLogger(), store)
	firstSink := newRecordingSink()
	e := NewEngine(testLogger(), first,
		actions.NewExecutor(testLogger(), nil, &mocks.MockNotifier{}, actions.WithApprovalGate(firstManager)),
		WithAuditSink(firstSink))
	firstManager.OnResolution(e.HandleResolution)

	result := e.Dispatch(ctx, transferEvent())
	<-firstSink.results
	require.Len(t, result.Outcomes, 1)
	require.Equal(t, models.WorkflowSuspended, result.Outcomes[0].Status)
	assert.Equal(t, 2, result.Outcomes[0].WorkflowVersion)

	approvalID := result.Outcomes[0].ApprovalID
	firstManager.Close()

	// Second process on the same store.
	second := newRegistry()
	current, ok := second.Get("high-value")
	require.True(t, ok)
	assert.Equal(t, 2, current.Version)

	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, []string{"lab"}, "item-7 released").Return(nil)

	manager := approval.NewManager(testLogger(), store)
	defer manager.Close()

	sink := newRecordingSink()
	e = NewEngine(testLogger(), second,
		actions.NewExecutor(testLogger(), nil, notifier, actions.WithApprovalGate(manager)),
		WithAuditSink(sink))
	manager.OnResolution(e.HandleResolution)

	restored, err := manager.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	_, err = manager.Resolve(ctx, approvalID, "alice", models.DecisionAccept)
	require.NoError(t, err)
	_, err = manager.Resolve(ctx, approvalID, "bob", models.DecisionAccept)
	require.NoError(t, err)

	resumed := sink.resumed(t)
	require.Len(t, resumed.Outcomes, 1)
	assert.Equal(t, models.WorkflowCompleted, resumed.Outcomes[0].Status)
	assert.Equal(t, 2, resumed.Outcomes[0].WorkflowVersion)
	notifier.AssertExpectations(t)
}

func TestEngine_ResumeFallsBackToCurrentDefinition(t *testing.T) {
	approved := func(version int) *models.ApprovalRequest {
		return &models.ApprovalRequest{
			ID:            "req-1",
			CorrelationID: "item-7",
			State:         models.ApprovalApproved,
			Continuation: models.Continuation{
				WorkflowID:      "high-value",
				WorkflowVersion: version,
				TriggerType:     models.TriggerCustodyEvent,
				NextAction:      1,
				Subject:         map[string]any{"entity_id": "item-7"},
			},
		}
	}

	t.Run("current definition gates the same action", func(t *testing.T) {
		notifier := &mocks.MockNotifier{}
		notifier.On("Notify", mock.Anything, []string{"lab"}, "item-7 released").Return(nil)

		e := NewEngine(testLogger(), loadRegistry(t, highValueWorkflow("1h")), actions.NewExecutor(testLogger(), nil, notifier))

		result := e.Resume(context.Background(), approved(7))

		assert.Equal(t, models.DispatchCompleted, result.State)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, models.WorkflowCompleted, result.Outcomes[0].Status)
		assert.Equal(t, 1, result.Outcomes[0].WorkflowVersion)
		notifier.AssertExpectations(t)
	})

	t.Run("current definition no longer gates", func(t *testing.T) {
		notifier := &mocks.MockNotifier{}
		ungated := highValueWorkflow("1h")
		ungated.Actions = ungated.Actions[1:]

		e := NewEngine(testLogger(), loadRegistry(t, ungated), actions.NewExecutor(testLogger(), nil, notifier))

		result := e.Resume(context.Background(), approved(7))

		assert.Equal(t, models.DispatchInvalid, result.State)
		assert.Contains(t, result.Error, "version 7")
		notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	})
}

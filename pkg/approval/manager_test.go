package approval

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodychain/custodyflow/pkg/actions"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence/memory"
)

var _ actions.ApprovalGate = (*Manager)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRequest(id string, required int, deadline time.Time) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ID:                id,
		WorkflowID:        "high-value",
		CorrelationID:     "item-1",
		RequiredApprovals: required,
		ApproverRoles:     []string{"supervisor"},
		ReceivedApprovals: []string{},
		Deadline:          deadline,
		State:             models.ApprovalPending,
		CreatedAt:         deadline.Add(-time.Hour),
		Continuation: models.Continuation{
			WorkflowID:    "high-value",
			CorrelationID: "item-1",
			NextAction:    1,
			Subject:       map[string]any{"entity_id": "item-1"},
		},
	}
}

type resolutions struct {
	mu   sync.Mutex
	seen []*models.ApprovalRequest
	ch   chan *models.ApprovalRequest
}

func newResolutions() *resolutions {
	return &resolutions{ch: make(chan *models.ApprovalRequest, 10)}
}

func (r *resolutions) handle(_ context.Context, request *models.ApprovalRequest) {
	r.mu.Lock()
	r.seen = append(r.seen, request)
	r.mu.Unlock()

	r.ch <- request
}

func (r *resolutions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.seen)
}

func (r *resolutions) wait(t *testing.T) *models.ApprovalRequest {
	t.Helper()

	select {
	case request := <-r.ch:
		return request
	case <-time.After(2 * time.Second):
		t.Fatal("resolution handler was not called")

		return nil
	}
}

func TestManager_TwoApproversReachApproved(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewPersistence()
	handled := newResolutions()

	m := NewManager(testLogger(), store, WithClock(func() time.Time { return now }))
	m.OnResolution(handled.handle)
	defer m.Close()

	require.NoError(t, m.Open(ctx, newRequest("req-1", 2, now.Add(time.Hour))))

	request, err := m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, request.State)

	// Same approver twice counts once.
	request, err = m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, request.ReceivedApprovals)

	request, err = m.Resolve(ctx, "req-1", "bob", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, request.State)

	resolved := handled.wait(t)
	assert.Equal(t, models.ApprovalApproved, resolved.State)
	assert.Equal(t, 1, resolved.Continuation.NextAction)

	stored, err := m.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, stored.State)
	assert.NotNil(t, stored.ResolvedAt)
}

func TestManager_DecisionsAfterTerminal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	handled := newResolutions()

	m := NewManager(testLogger(), memory.NewPersistence(), WithClock(func() time.Time { return now }))
	m.OnResolution(handled.handle)
	defer m.Close()

	require.NoError(t, m.Open(ctx, newRequest("req-1", 1, now.Add(time.Hour))))

	_, err := m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	require.NoError(t, err)
	handled.wait(t)

	tests := []struct {
		name     string
		approver string
		decision models.Decision
		expected error
	}{
		{name: "duplicate approval is a no-op", approver: "alice", decision: models.DecisionAccept},
		{name: "new approver is rejected", approver: "bob", decision: models.DecisionAccept, expected: models.ErrApprovalClosed},
		{name: "reject after approval", approver: "bob", decision: models.DecisionReject, expected: models.ErrApprovalClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request, err := m.Resolve(ctx, "req-1", tt.approver, tt.decision)
			if tt.expected != nil {
				assert.ErrorIs(t, err, tt.expected)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, models.ApprovalApproved, request.State)
		})
	}

	assert.Equal(t, 1, handled.count(), "handler must run exactly once per request")
}

func TestManager_RejectClosesRequest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	handled := newResolutions()

	m := NewManager(testLogger(), memory.NewPersistence(), WithClock(func() time.Time { return now }))
	m.OnResolution(handled.handle)
	defer m.Close()

	require.NoError(t, m.Open(ctx, newRequest("req-1", 2, now.Add(time.Hour))))

	request, err := m.Resolve(ctx, "req-1", "carol", models.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, request.State)
	assert.Equal(t, "carol", request.RejectedBy)

	assert.Equal(t, models.ApprovalRejected, handled.wait(t).State)
}

func TestManager_InvalidInput(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testLogger(), memory.NewPersistence())
	defer m.Close()

	_, err := m.Resolve(ctx, "req-1", "  ", models.DecisionAccept)
	assert.ErrorIs(t, err, ErrMissingApprover)

	_, err = m.Resolve(ctx, "req-1", "alice", models.Decision("MAYBE"))
	assert.ErrorIs(t, err, models.ErrInvalidDecision)

	invalid := newRequest("", 1, time.Now().Add(time.Hour))
	assert.Error(t, m.Open(ctx, invalid))

	closed := newRequest("req-2", 1, time.Now().Add(time.Hour))
	closed.State = models.ApprovalApproved
	assert.Error(t, m.Open(ctx, closed))
}

func TestManager_DeadlineTimerExpiresRequest(t *testing.T) {
	ctx := context.Background()
	handled := newResolutions()

	m := NewManager(testLogger(), memory.NewPersistence())
	m.OnResolution(handled.handle)
	defer m.Close()

	require.NoError(t, m.Open(ctx, newRequest("req-1", 2, time.Now().Add(50*time.Millisecond))))

	resolved := handled.wait(t)
	assert.Equal(t, models.ApprovalExpired, resolved.State)

	_, err := m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	assert.ErrorIs(t, err, models.ErrApprovalClosed)
}

func TestManager_LateDecisionExpiresFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	handled := newResolutions()

	m := NewManager(testLogger(), memory.NewPersistence(), WithClock(func() time.Time { return clock }))
	m.OnResolution(handled.handle)
	defer m.Close()

	require.NoError(t, m.Open(ctx, newRequest("req-1", 1, now.Add(time.Hour))))

	clock = now.Add(2 * time.Hour)

	request, err := m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	assert.ErrorIs(t, err, models.ErrApprovalClosed)
	assert.Equal(t, models.ApprovalExpired, request.State)
	assert.Equal(t, models.ApprovalExpired, handled.wait(t).State)
}

func TestManager_Restore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewPersistence()

	require.NoError(t, store.SaveApproval(ctx, newRequest("overdue", 1, now.Add(-time.Minute))))
	require.NoError(t, store.SaveApproval(ctx, newRequest("waiting", 1, now.Add(time.Hour))))

	handled := newResolutions()
	m := NewManager(testLogger(), store, WithClock(func() time.Time { return now }))
	m.OnResolution(handled.handle)
	defer m.Close()

	restored, err := m.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	expired := handled.wait(t)
	assert.Equal(t, "overdue", expired.ID)
	assert.Equal(t, models.ApprovalExpired, expired.State)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "waiting", pending[0].ID)
}

func TestManager_CloseStopsTimers(t *testing.T) {
	ctx := context.Background()
	handled := newResolutions()

	m := NewManager(testLogger(), memory.NewPersistence())
	m.OnResolution(handled.handle)

	require.NoError(t, m.Open(ctx, newRequest("req-1", 1, time.Now().Add(30*time.Millisecond))))
	m.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, handled.count())
	assert.ErrorIs(t, m.Open(ctx, newRequest("req-2", 1, time.Now().Add(time.Hour))), ErrManagerClosed)
}

func TestManager_DecisionsAfterCloseAreRefused(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewPersistence()
	handled := newResolutions()

	m := NewManager(testLogger(), store, WithClock(func() time.Time { return now }))
	m.OnResolution(handled.handle)

	require.NoError(t, m.Open(ctx, newRequest("req-1", 1, now.Add(time.Hour))))
	m.Close()

	request, err := m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	require.ErrorIs(t, err, ErrManagerClosed)
	assert.Nil(t, request)

	_, err = m.Expire(ctx, "req-1")
	require.ErrorIs(t, err, ErrManagerClosed)

	stored, err := m.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, stored.State)
	assert.Empty(t, stored.ReceivedApprovals)
	assert.Zero(t, handled.count())
}

func TestManager_CloseWaitsForRunningHandlers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	finished := make(chan struct{})

	m := NewManager(testLogger(), memory.NewPersistence(), WithClock(func() time.Time { return now }))
	m.OnResolution(func(context.Context, *models.ApprovalRequest) {
		<-release
		close(finished)
	})

	require.NoError(t, m.Open(ctx, newRequest("req-1", 1, now.Add(time.Hour))))

	_, err := m.Resolve(ctx, "req-1", "alice", models.DecisionAccept)
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a resolution handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the handler finished")
	}

	<-finished
}

// Package approval owns the lifecycle of approval requests opened by APPROVE
// actions: persistence, deadline timers and idempotent resolution.
//
// A request waits without holding a goroutine. Its deadline is a registered
// timer and its terminal transition invokes the ResolutionHandler, which
// resumes or abandons the suspended continuation.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/custodychain/custodyflow/pkg/lease"
	"github.com/custodychain/custodyflow/pkg/metrics"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
)

var (
	// ErrManagerClosed is returned once Close has been called.
	ErrManagerClosed = errors.New("approval manager is closed")

	// ErrMissingApprover is returned for a decision without an approver identity.
	ErrMissingApprover = errors.New("approver identity is required")
)

// ResolutionHandler is invoked, on its own goroutine, once per request that
// reaches a terminal state.
type ResolutionHandler func(ctx context.Context, request *models.ApprovalRequest)

// Manager is safe for concurrent use. Decisions on one request are serialized
// by a lock on the request id.
type Manager struct {
	logger   *slog.Logger
	store    persistence.ApprovalRepository
	locks    lease.Leaser
	metrics  *metrics.Collector
	validate *validator.Validate
	now      func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	handler ResolutionHandler
	closed  bool

	inflight sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records transitions on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = collector
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLeaser replaces the in-process request lock, e.g. to share it across replicas.
func WithLeaser(leaser lease.Leaser) Option {
	return func(m *Manager) {
		m.locks = leaser
	}
}

// NewManager creates a manager storing requests in store.
func NewManager(logger *slog.Logger, store persistence.ApprovalRepository, opts ...Option) *Manager {
	m := &Manager{
		logger:   logger.With("module", "approval_manager"),
		store:    store,
		locks:    lease.NewLocalLeaser(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnResolution sets the handler for terminal transitions.
func (m *Manager) OnResolution(handler ResolutionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = handler
}

// Open persists a new PENDING request and arms its deadline timer.
func (m *Manager) Open(ctx context.Context, request *models.ApprovalRequest) error {
	if err := m.validate.Struct(request); err != nil {
		return fmt.Errorf("invalid approval request: %w", err)
	}

	if request.State != models.ApprovalPending {
		return fmt.Errorf("invalid approval request: state %s", request.State)
	}

	done, err := m.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := m.store.SaveApproval(ctx, request); err != nil {
		return err
	}

	m.arm(request.ID, request.Deadline)
	m.metrics.RecordApprovalTransition(string(models.ApprovalPending))

	m.logger.InfoContext(ctx, "Approval request opened",
		"approval_id", request.ID,
		"workflow_id", request.WorkflowID,
		"correlation_id", request.CorrelationID,
		"required_approvals", request.RequiredApprovals,
		"deadline", request.Deadline)

	return nil
}

// Resolve applies a decision. Repeating an approval that was already counted is
// a no-op, including after the request was APPROVED. Other decisions on a
// closed request return models.ErrApprovalClosed. A decision arriving after the
// deadline expires the request first.
func (m *Manager) Resolve(ctx context.Context, id, approver string, decision models.Decision) (*models.ApprovalRequest, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, ErrMissingApprover
	}

	if decision != models.DecisionAccept && decision != models.DecisionReject {
		return nil, models.ErrInvalidDecision
	}

	done, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	release, err := m.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	request, err := m.store.ApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()

	if request.Expire(now) {
		if err := m.close(ctx, request); err != nil {
			return nil, err
		}

		return request, models.ErrApprovalClosed
	}

	var changed bool

	switch decision {
	case models.DecisionAccept:
		changed, err = request.Approve(approver, now)
	case models.DecisionReject:
		changed, err = request.Reject(approver, now)
	}

	if err != nil {
		return request, err
	}

	if !changed {
		m.logger.DebugContext(ctx, "Duplicate approval decision ignored", "approval_id", id, "approver", approver)

		return request, nil
	}

	if !request.IsTerminal() {
		if err := m.store.SaveApproval(ctx, request); err != nil {
			return nil, err
		}

		m.logger.InfoContext(ctx, "Approval recorded",
			"approval_id", id,
			"approver", approver,
			"received", len(request.ReceivedApprovals),
			"required", request.RequiredApprovals)

		return request, nil
	}

	if err := m.close(ctx, request); err != nil {
		return nil, err
	}

	return request, nil
}

// Expire closes the request as EXPIRED if its deadline has passed. It returns
// the current state of the request either way.
func (m *Manager) Expire(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	done, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	release, err := m.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	request, err := m.store.ApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if request.IsTerminal() {
		m.disarm(id)

		return request, nil
	}

	if !request.Expire(m.now().UTC()) {
		m.arm(id, request.Deadline)

		return request, nil
	}

	return request, m.close(ctx, request)
}

// Get returns a request by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return m.store.ApprovalByID(ctx, id)
}

// Pending lists the requests awaiting a decision.
func (m *Manager) Pending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return m.store.PendingApprovals(ctx)
}

// Restore re-arms the timers of stored pending requests after a restart.
// Requests whose deadline passed while the process was down expire now.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	pending, err := m.store.PendingApprovals(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading pending approvals: %w", err)
	}

	now := m.now().UTC()
	expired := 0

	for _, request := range pending {
		if now.After(request.Deadline) {
			if _, err := m.Expire(ctx, request.ID); err != nil {
				m.logger.ErrorContext(ctx, "Failed to expire overdue approval", "approval_id", request.ID, "error", err)

				continue
			}

			expired++

			continue
		}

		m.arm(request.ID, request.Deadline)
	}

	m.logger.InfoContext(ctx, "Approval requests restored", "pending", len(pending)-expired, "expired", expired)

	return len(pending), nil
}

// Close stops every timer and waits for running operations and resolution
// handlers. Later operations return ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true

	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.inflight.Wait()
}

// close persists a terminal request and hands it to the resolution handler.
func (m *Manager) close(ctx context.Context, request *models.ApprovalRequest) error {
	if err := m.store.SaveApproval(ctx, request); err != nil {
		return err
	}

	m.disarm(request.ID)
	m.metrics.RecordApprovalTransition(string(request.State))

	m.logger.InfoContext(ctx, "Approval request closed",
		"approval_id", request.ID,
		"workflow_id", request.WorkflowID,
		"state", request.State)

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return nil
	}

	resolved := *request
	handlerCtx := context.WithoutCancel(ctx)

	m.inflight.Add(1)

	go func() {
		defer m.inflight.Done()

		handler(handlerCtx, &resolved)
	}()

	return nil
}

func (m *Manager) arm(id string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if existing, ok := m.timers[id]; ok {
		existing.Stop()
	}

	// Expiry needs now strictly after the deadline.
	wait := deadline.Sub(m.now()) + time.Millisecond
	if wait < time.Millisecond {
		wait = time.Millisecond
	}

	m.timers[id] = time.AfterFunc(wait, func() {
		m.onDeadline(id)
	})

	m.metrics.SetApprovalsPending(len(m.timers))
}

func (m *Manager) disarm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}

	m.metrics.SetApprovalsPending(len(m.timers))
}

func (m *Manager) onDeadline(id string) {
	if m.isClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.Expire(ctx, id); err != nil {
		m.logger.ErrorContext(ctx, "Failed to expire approval request", "approval_id", id, "error", err)
	}
}

// enter registers a running operation so Close waits for it and for any
// resolution handler it starts. It fails once the manager is closed.
func (m *Manager) enter() (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	m.inflight.Add(1)

	return m.inflight.Done, nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

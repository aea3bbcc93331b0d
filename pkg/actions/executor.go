// Package actions executes workflow action chains against external collaborators.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/custodychain/custodyflow/pkg/metrics"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/template"
)

var (
	// ErrNoStateStore is recorded when a mutating action runs without a state store.
	ErrNoStateStore = errors.New("no state store configured")

	// ErrNoNotifier is recorded when NOTIFY or ALERT runs without a notifier.
	ErrNoNotifier = errors.New("no notifier configured")

	// ErrNoLedger is recorded when MINT_REWARD runs without a ledger.
	ErrNoLedger = errors.New("no ledger configured")

	// ErrNoApprovalGate is recorded when APPROVE runs without an approval gate.
	ErrNoApprovalGate = errors.New("no approval gate configured")
)

const (
	statusQuarantined = "QUARANTINED"
	defaultSeverity   = "HIGH"
)

// Plan is one action chain to execute, possibly resuming after an approval.
type Plan struct {
	WorkflowID      string
	WorkflowVersion int
	CorrelationID   string
	TriggerType     models.TriggerType
	EntityID        string
	Actions         []models.Action
	// Start is the index of the first action to run.
	Start   int
	Subject map[string]any
}

// ExecutionResult is what a chain produced.
type ExecutionResult struct {
	Outcomes []models.ActionOutcome
	// Subject is the working snapshot with every successful mutation applied.
	Subject map[string]any
	// Mutations merges the fields changed by successful mutating actions.
	Mutations map[string]any
	// Approval is set when the chain suspended on an APPROVE action.
	Approval *models.ApprovalRequest
	Status   models.WorkflowStatus
}

// Mutated reports whether any mutating action succeeded.
func (r ExecutionResult) Mutated() bool {
	return len(r.Mutations) > 0
}

// Executor runs actions strictly in their configured order.
type Executor struct {
	logger    *slog.Logger
	state     StateStore
	notifier  Notifier
	ledger    Ledger
	approvals ApprovalGate
	metrics   *metrics.Collector
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLedger sets the ledger used by MINT_REWARD.
func WithLedger(ledger Ledger) Option {
	return func(e *Executor) {
		e.ledger = ledger
	}
}

// WithApprovalGate sets the gate APPROVE actions open requests on.
func WithApprovalGate(gate ApprovalGate) Option {
	return func(e *Executor) {
		e.approvals = gate
	}
}

// WithMetrics records action outcomes on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = collector
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor.
func NewExecutor(logger *slog.Logger, state StateStore, notifier Notifier, opts ...Option) *Executor {
	e := &Executor{
		logger:   logger.With("module", "action_executor"),
		state:    state,
		notifier: notifier,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes actions against subject and returns one outcome per action
// that was attempted, cancelled or suspended.
func (e *Executor) Run(ctx context.Context, actions []models.Action, subject map[string]any) []models.ActionOutcome {
	entityID := models.TriggerEvent{EntitySnapshot: subject}.EntityID()

	return e.Execute(ctx, Plan{
		CorrelationID: entityID,
		EntityID:      entityID,
		Actions:       actions,
		Subject:       subject,
	}).Outcomes
}

// Execute runs plan.Actions from plan.Start. A failed action never stops the
// chain. Cancellation of ctx is checked before each action: the action in
// flight completes, the remaining ones are recorded as CANCELLED. An APPROVE
// action suspends the chain; the rest is carried by the approval's continuation.
func (e *Executor) Execute(ctx context.Context, plan Plan) ExecutionResult {
	logger := e.logger.With(
		"workflow_id", plan.WorkflowID,
		"correlation_id", plan.CorrelationID)

	result := ExecutionResult{Subject: cloneSubject(plan.Subject)}

	for i := plan.Start; i < len(plan.Actions); i++ {
		if err := ctx.Err(); err != nil {
			logger.WarnContext(ctx, "Action chain cancelled", "remaining", len(plan.Actions)-i, "error", err)

			for j := i; j < len(plan.Actions); j++ {
				result.Outcomes = append(result.Outcomes, models.ActionOutcome{
					Index:  j,
					Type:   plan.Actions[j].Type,
					Status: models.ActionCancelled,
					Error:  err.Error(),
				})
				e.metrics.RecordActionOutcome(string(plan.Actions[j].Type), string(models.ActionCancelled))
			}

			break
		}

		outcome, approval := e.runAction(ctx, plan, i, result.Subject)
		result.Outcomes = append(result.Outcomes, outcome)
		e.metrics.RecordActionOutcome(string(outcome.Type), string(outcome.Status))

		switch outcome.Status {
		case models.ActionSucceeded:
			if len(outcome.Mutation) > 0 {
				maps.Copy(result.Subject, outcome.Mutation)

				if result.Mutations == nil {
					result.Mutations = make(map[string]any, len(outcome.Mutation))
				}

				maps.Copy(result.Mutations, outcome.Mutation)
			}
		case models.ActionFailed:
			logger.WarnContext(ctx, "Action failed",
				"action_index", i,
				"action_type", outcome.Type,
				"best_effort", outcome.BestEffort,
				"error", outcome.Error)
		}

		if outcome.Type == models.ActionApprove && outcome.Status == models.ActionFailed {
			logger.WarnContext(ctx, "Approval could not be requested, gated actions not run",
				"action_index", i,
				"remaining", len(plan.Actions)-i-1)

			for j := i + 1; j < len(plan.Actions); j++ {
				result.Outcomes = append(result.Outcomes, models.ActionOutcome{
					Index:  j,
					Type:   plan.Actions[j].Type,
					Status: models.ActionNotApproved,
					Error:  fmt.Sprintf("approval request of action %d failed", i),
				})
				e.metrics.RecordActionOutcome(string(plan.Actions[j].Type), string(models.ActionNotApproved))
			}

			break
		}

		if outcome.Status == models.ActionSuspended {
			result.Approval = approval

			logger.InfoContext(ctx, "Action chain suspended pending approval",
				"approval_id", approval.ID,
				"remaining", len(plan.Actions)-i-1)

			break
		}
	}

	result.Status = models.SummarizeActions(result.Outcomes)

	return result
}

func (e *Executor) runAction(ctx context.Context, plan Plan, index int, subject map[string]any) (models.ActionOutcome, *models.ApprovalRequest) {
	action := plan.Actions[index]
	outcome := models.ActionOutcome{
		Index:     index,
		Type:      action.Type,
		StartedAt: e.now(),
	}

	// The action in flight is allowed to finish even when the chain is cancelled.
	callCtx := context.WithoutCancel(ctx)

	var (
		mutation map[string]any
		approval *models.ApprovalRequest
		err      error
	)

	switch action.Type {
	case models.ActionQuarantine:
		mutation, err = e.quarantine(callCtx, plan.EntityID, action, subject)
	case models.ActionUpdate:
		mutation, err = e.update(callCtx, plan.EntityID, action, subject)
	case models.ActionNotify:
		err = e.notify(callCtx, action, subject, "")
	case models.ActionAlert:
		severity := action.String("severity")
		if severity == "" {
			severity = defaultSeverity
		}

		err = e.notify(callCtx, action, subject, "["+severity+"] ")
	case models.ActionMintReward:
		outcome.BestEffort = true
		err = e.mintReward(callCtx, action, subject)
	case models.ActionApprove:
		approval, err = e.requestApproval(callCtx, plan, index, action, subject)
	default:
		err = fmt.Errorf("unsupported action type %q", action.Type)
	}

	outcome.FinishedAt = e.now()

	switch {
	case err != nil:
		outcome.Status = models.ActionFailed
		outcome.Error = err.Error()
	case approval != nil:
		outcome.Status = models.ActionSuspended
		outcome.ApprovalID = approval.ID
	default:
		outcome.Status = models.ActionSucceeded
		outcome.Mutation = mutation
	}

	return outcome, approval
}

func (e *Executor) quarantine(ctx context.Context, entityID string, action models.Action, subject map[string]any) (map[string]any, error) {
	fields := map[string]any{"status": statusQuarantined}

	if reason := action.String("reason"); reason != "" {
		rendered, err := template.Render(reason, subject)
		if err != nil {
			return nil, err
		}

		fields["quarantine_reason"] = rendered
	}

	return fields, e.applyUpdate(ctx, entityID, fields)
}

func (e *Executor) update(ctx context.Context, entityID string, action models.Action, subject map[string]any) (map[string]any, error) {
	configured, _ := action.Config["fields"].(map[string]any)
	if len(configured) == 0 {
		return nil, errors.New("update action has no fields")
	}

	fields := make(map[string]any, len(configured))

	for key, value := range configured {
		if s, ok := value.(string); ok && template.NeedsTemplating(s) {
			rendered, err := template.RenderValue(s, subject)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}

			value = rendered
		}

		fields[key] = value
	}

	return fields, e.applyUpdate(ctx, entityID, fields)
}

func (e *Executor) applyUpdate(ctx context.Context, entityID string, fields map[string]any) error {
	if e.state == nil {
		return ErrNoStateStore
	}

	if entityID == "" {
		return errors.New("no entity id to update")
	}

	if err := e.state.ApplyUpdate(ctx, entityID, fields); err != nil {
		return fmt.Errorf("applying update to %s: %w", entityID, err)
	}

	return nil
}

func (e *Executor) notify(ctx context.Context, action models.Action, subject map[string]any, prefix string) error {
	if e.notifier == nil {
		return ErrNoNotifier
	}

	message, err := template.Render(action.String("message"), subject)
	if err != nil {
		return err
	}

	return e.notifier.Notify(ctx, action.Strings("roles"), prefix+message)
}

func (e *Executor) mintReward(ctx context.Context, action models.Action, subject map[string]any) error {
	if e.ledger == nil {
		return ErrNoLedger
	}

	address, err := template.Render(action.String("address"), subject)
	if err != nil {
		return err
	}

	amount, ok := action.Float("amount")
	if !ok || amount <= 0 {
		return errors.New("reward amount must be a positive number")
	}

	reason, err := template.Render(action.String("reason"), subject)
	if err != nil {
		return err
	}

	return e.ledger.MintReward(ctx, address, amount, reason)
}

func (e *Executor) requestApproval(
	ctx context.Context,
	plan Plan,
	index int,
	action models.Action,
	subject map[string]any,
) (*models.ApprovalRequest, error) {
	if e.approvals == nil {
		return nil, ErrNoApprovalGate
	}

	required, ok := action.Int("required_approvals")
	if !ok {
		required = 1
	}

	timeout, err := action.Duration("timeout", models.DefaultApprovalTimeout)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	request := &models.ApprovalRequest{
		ID:                uuid.NewString(),
		WorkflowID:        plan.WorkflowID,
		CorrelationID:     plan.CorrelationID,
		RequiredApprovals: required,
		ApproverRoles:     action.Strings("approver_roles"),
		ReceivedApprovals: []string{},
		Deadline:          now.Add(timeout),
		State:             models.ApprovalPending,
		CreatedAt:         now,
		Continuation: models.Continuation{
			WorkflowID:      plan.WorkflowID,
			WorkflowVersion: plan.WorkflowVersion,
			CorrelationID:   plan.CorrelationID,
			TriggerType:     plan.TriggerType,
			NextAction:      index + 1,
			Subject:         cloneSubject(subject),
		},
	}

	if err := e.approvals.Open(ctx, request); err != nil {
		return nil, fmt.Errorf("opening approval request: %w", err)
	}

	return request, nil
}

func cloneSubject(subject map[string]any) map[string]any {
	out := make(map[string]any, len(subject))
	maps.Copy(out, subject)

	return out
}

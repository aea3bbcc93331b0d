// Package engine orchestrates a dispatch: it selects the candidate workflows
// for a trigger event, evaluates their conditions and runs their action
// chains under a per-correlation lease.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodychain/custodyflow/pkg/actions"
	"github.com/custodychain/custodyflow/pkg/conditions"
	"github.com/custodychain/custodyflow/pkg/lease"
	"github.com/custodychain/custodyflow/pkg/log"
	"github.com/custodychain/custodyflow/pkg/metrics"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/otelhelper"
)

// ErrUnknownTriggerType is reported for events whose trigger type is not supported.
var ErrUnknownTriggerType = errors.New("unknown trigger type")

// Config holds engine settings.
type Config struct {
	// MaxChainDepth bounds how many follow-up events a dispatch re-injects
	// after state mutations. The visited set stops cycles; this stops long chains.
	MaxChainDepth int
	// LeaseTimeout bounds the wait for the correlation lease. Zero waits as long as ctx allows.
	LeaseTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxChainDepth: 8,
		LeaseTimeout:  30 * time.Second,
	}
}

// Candidates is the read side of the workflow registry.
type Candidates interface {
	CandidatesFor(triggerType models.TriggerType) []*models.Workflow
	Version(id string, version int) (*models.Workflow, bool)
	Get(id string) (*models.Workflow, bool)
}

// Runner executes an action chain.
type Runner interface {
	Execute(ctx context.Context, plan actions.Plan) actions.ExecutionResult
}

// AuditSink receives every dispatch and resumption result.
type AuditSink interface {
	RecordDispatch(ctx context.Context, result *models.DispatchResult) error
}

// Engine is safe for concurrent dispatch. Dispatches for the same correlation
// id are serialized by the leaser.
type Engine struct {
	logger    *slog.Logger
	registry  Candidates
	runner    Runner
	evaluator *conditions.Evaluator
	leaser    lease.Leaser
	audit     AuditSink
	metrics   *metrics.Collector
	tracer    trace.Tracer
	validate  *validator.Validate
	config    Config
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithLeaser replaces the in-process correlation lease.
func WithLeaser(leaser lease.Leaser) Option {
	return func(e *Engine) {
		e.leaser = leaser
	}
}

// WithAuditSink publishes every result to sink.
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) {
		e.audit = sink
	}
}

// WithMetrics records dispatches on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithTracer opens spans on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine reading workflows from registry and running actions with runner.
func NewEngine(logger *slog.Logger, registry Candidates, runner Runner, opts ...Option) *Engine {
	e := &Engine{
		logger:    logger.With("module", "engine"),
		registry:  registry,
		runner:    runner,
		evaluator: conditions.NewEvaluator(logger),
		leaser:    lease.NewLocalLeaser(),
		tracer:    otelhelper.NoopTracer(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		config:    DefaultConfig(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Dispatch runs one event through RECEIVED → CANDIDATES_SELECTED → EVALUATING →
// EXECUTING → terminal state. It never returns nil; failures are described by
// the result's state and error.
func (e *Engine) Dispatch(ctx context.Context, event models.TriggerEvent) *models.DispatchResult {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}

	result := &models.DispatchResult{
		EventID:       event.ID,
		TriggerType:   event.TriggerType,
		CorrelationID: event.CorrelationID,
		Outcomes:      []models.WorkflowOutcome{},
		StartedAt:     e.now(),
	}
	result.Transition(models.DispatchReceived)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.dispatch",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(event.TriggerType)),
		attribute.String(otelhelper.CorrelationIDKey, event.CorrelationID))
	defer span.End()

	logger := e.logger.With(
		"event_id", event.ID,
		"trigger_type", event.TriggerType,
		"correlation_id", event.CorrelationID)

	if err := e.validateEvent(&event); err != nil {
		logger.WarnContext(ctx, "Rejected invalid trigger event", "error", err)

		return e.fail(ctx, span, result, models.DispatchInvalid, err)
	}

	release, err := e.acquire(ctx, event.CorrelationID)
	if err != nil {
		logger.WarnContext(ctx, "Could not acquire correlation lease", "error", err)

		return e.fail(ctx, span, result, models.DispatchCancelled, err)
	}
	defer release()

	ctx = log.WithLogger(ctx, logger)

	e.runChain(ctx, result, event, make(map[string]bool), 0)
	result.Transition(result.Conclude())

	return e.finish(ctx, span, result)
}

// runChain dispatches event at depth and keeps re-injecting follow-up events of
// the same trigger type while workflows mutate the subject.
func (e *Engine) runChain(ctx context.Context, result *models.DispatchResult, event models.TriggerEvent, visited map[string]bool, depth int) {
	logger := log.FromContext(ctx, e.logger)
	snapshot := event.EntitySnapshot

	for ; ; depth++ {
		event.EntitySnapshot = snapshot
		matched := e.selectCandidates(event)

		if depth == 0 && result.ResumedApproval == "" {
			result.Candidates = len(matched)
			result.Transition(models.DispatchCandidatesSelected)

			if len(matched) > 0 {
				result.Transition(models.DispatchEvaluating)
			}
		}

		mutations := make(map[string]any)

		for _, workflow := range matched {
			outcome := e.runWorkflow(ctx, result, event, workflow, visited, depth)
			result.Outcomes = append(result.Outcomes, outcome.WorkflowOutcome)
			maps.Copy(mutations, outcome.mutations)
		}

		if len(mutations) == 0 || ctx.Err() != nil {
			return
		}

		if depth+1 > e.config.MaxChainDepth {
			logger.WarnContext(ctx, "Chain depth limit reached, follow-up event dropped",
				"depth", depth,
				"max_chain_depth", e.config.MaxChainDepth)

			return
		}

		snapshot = mergeSnapshot(snapshot, mutations)

		logger.DebugContext(ctx, "Re-injecting mutated subject", "depth", depth+1, "fields", len(mutations))
	}
}

type workflowRun struct {
	models.WorkflowOutcome
	mutations map[string]any
}

func (e *Engine) runWorkflow(
	ctx context.Context,
	result *models.DispatchResult,
	event models.TriggerEvent,
	workflow *models.Workflow,
	visited map[string]bool,
	depth int,
) workflowRun {
	logger := log.FromContext(ctx, e.logger).With("workflow_id", workflow.ID, "depth", depth)

	run := workflowRun{WorkflowOutcome: models.WorkflowOutcome{
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		WorkflowName:    workflow.Name,
		Priority:        workflow.Priority,
		CorrelationID:   event.CorrelationID,
		Depth:           depth,
	}}

	if err := ctx.Err(); err != nil {
		run.Status = models.WorkflowCancelled
		run.Reason = err.Error()

		return run
	}

	if ok, _ := e.evaluator.Matches(event.EntitySnapshot, workflow.Conditions); !ok {
		run.Status = models.WorkflowSkipped
		run.Reason = "conditions not met"

		return run
	}

	if visited[workflow.ID] {
		logger.WarnContext(ctx, "Workflow already ran for this correlation id, cycle rejected")

		run.Status = models.WorkflowRejectedCycle
		run.Reason = "workflow already ran for this correlation id"

		return run
	}

	visited[workflow.ID] = true

	if result.State != models.DispatchExecuting {
		result.Transition(models.DispatchExecuting)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.workflow",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.Int(otelhelper.WorkflowVersionKey, workflow.Version),
		attribute.Int(otelhelper.ChainDepthKey, depth))
	defer span.End()

	execution := e.runner.Execute(ctx, actions.Plan{
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		CorrelationID:   event.CorrelationID,
		TriggerType:     event.TriggerType,
		EntityID:        event.EntityID(),
		Actions:         workflow.Actions,
		Subject:         event.EntitySnapshot,
	})

	run.Status = execution.Status
	run.Actions = execution.Outcomes
	run.mutations = execution.Mutations

	if execution.Approval != nil {
		run.ApprovalID = execution.Approval.ID
		span.SetAttributes(attribute.String(otelhelper.ApprovalIDKey, execution.Approval.ID))
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowStatusKey, string(run.Status)))
	logger.InfoContext(ctx, "Workflow executed", "status", run.Status, "actions", len(run.Actions))

	return run
}

// selectCandidates returns the active workflows for the event's trigger type
// whose trigger config accepts it, in priority then registration order.
func (e *Engine) selectCandidates(event models.TriggerEvent) []*models.Workflow {
	candidates := e.registry.CandidatesFor(event.TriggerType)
	matched := make([]*models.Workflow, 0, len(candidates))

	for _, workflow := range candidates {
		if TriggerMatches(workflow, event) {
			matched = append(matched, workflow)
		}
	}

	return matched
}

func (e *Engine) validateEvent(event *models.TriggerEvent) error {
	if err := e.validate.Struct(event); err != nil {
		return fmt.Errorf("invalid trigger event: %w", err)
	}

	if !event.TriggerType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownTriggerType, event.TriggerType)
	}

	if event.EntitySnapshot == nil {
		event.EntitySnapshot = map[string]any{}
	}

	return nil
}

func (e *Engine) acquire(ctx context.Context, correlationID string) (lease.Release, error) {
	if e.config.LeaseTimeout <= 0 {
		return e.leaser.Acquire(ctx, correlationID)
	}

	leaseCtx, cancel := context.WithTimeout(ctx, e.config.LeaseTimeout)
	defer cancel()

	return e.leaser.Acquire(leaseCtx, correlationID)
}

func (e *Engine) fail(ctx context.Context, span trace.Span, result *models.DispatchResult, state models.DispatchState, err error) *models.DispatchResult {
	result.Error = err.Error()
	result.Transition(state)
	otelhelper.SetError(span, err)

	return e.finish(ctx, span, result)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, result *models.DispatchResult) *models.DispatchResult {
	result.FinishedAt = e.now()
	duration := result.FinishedAt.Sub(result.StartedAt)

	span.SetAttributes(attribute.String(otelhelper.DispatchStateKey, string(result.State)))

	e.metrics.RecordDispatch(string(result.TriggerType), string(result.State), duration)

	for _, outcome := range result.Outcomes {
		e.metrics.RecordWorkflowOutcome(outcome.WorkflowID, string(outcome.Status))
	}

	if e.audit != nil {
		if err := e.audit.RecordDispatch(context.WithoutCancel(ctx), result); err != nil {
			e.logger.ErrorContext(ctx, "Failed to record dispatch result",
				"event_id", result.EventID,
				"error", err)
		}
	}

	e.logger.InfoContext(ctx, "Dispatch finished",
		"event_id", result.EventID,
		"correlation_id", result.CorrelationID,
		"state", result.State,
		"workflows", len(result.Outcomes),
		"duration", duration)

	return result
}

func mergeSnapshot(snapshot, mutations map[string]any) map[string]any {
	merged := make(map[string]any, len(snapshot)+len(mutations))
	maps.Copy(merged, snapshot)
	maps.Copy(merged, mutations)

	return merged
}

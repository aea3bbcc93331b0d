// Package web provides the HTTP surface: event submission, manual triggers,
// approval resolution and workflow administration.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/registry"
)

const resolveTimeout = 30 * time.Second

type Dispatcher interface {
	Dispatch(ctx context.Context, event models.TriggerEvent) *models.DispatchResult
}

type Approvals interface {
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Pending(ctx context.Context) ([]*models.ApprovalRequest, error)
	Resolve(ctx context.Context, id, approver string, decision models.Decision) (*models.ApprovalRequest, error)
}

type Workflows interface {
	All() []*models.Workflow
	Get(id string) (*models.Workflow, bool)
	Rejected() []*models.ConfigError
	Reload(ctx context.Context) (registry.LoadResult, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	dispatcher Dispatcher
	approvals  Approvals
	workflows  Workflows
	health     HealthChecker
	validator  *validator.Validate
	now        func() time.Time
}

func NewAPIHandlers(
	dispatcher Dispatcher,
	approvals Approvals,
	workflows Workflows,
	health HealthChecker,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		dispatcher: dispatcher,
		approvals:  approvals,
		workflows:  workflows,
		health:     health,
		validator:  validator,
		now:        time.Now,
	}
}

// SubmitEvent dispatches a trigger event and returns its dispatch result.
func (h *APIHandlers) SubmitEvent(c fiber.Ctx) error {
	var req SubmitEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.dispatch(c, req.toEvent(h.now().UTC()))
}

// TriggerManual dispatches a MANUAL event about one entity.
func (h *APIHandlers) TriggerManual(c fiber.Ctx) error {
	var req ManualTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.dispatch(c, req.toEvent(h.now().UTC()))
}

func (h *APIHandlers) dispatch(c fiber.Ctx, event models.TriggerEvent) error {
	result := h.dispatcher.Dispatch(c.Context(), event)

	if result.State == models.DispatchInvalid {
		return badRequest(c, result.Error)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows := h.workflows.All()

	summaries := make([]WorkflowSummary, 0, len(workflows))
	for _, w := range workflows {
		summaries = append(summaries, summarize(w))
	}

	return c.JSON(fiber.Map{
		"workflows": summaries,
		"rejected":  rejectedWorkflows(h.workflows.Rejected()),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, ok := h.workflows.Get(c.Params("id"))
	if !ok {
		return notFound(c, "Workflow not found")
	}

	return c.JSON(workflow)
}

// ReloadWorkflows re-reads workflow definitions from storage and swaps in the
// new registry snapshot.
func (h *APIHandlers) ReloadWorkflows(c fiber.Ctx) error {
	result, err := h.workflows.Reload(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(ReloadResponse{
		Generation: result.Generation,
		Accepted:   result.Accepted,
		Rejected:   rejectedWorkflows(result.Rejected),
	})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	request, err := h.approvals.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	requests, err := h.approvals.Pending(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": requests})
}

// ResolveApproval records one approver's decision. Repeating a decision
// already counted returns the unchanged request.
func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// Resolution may resume the workflow after the response is written, so it
	// must not inherit the pooled request context.
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	request, err := h.approvals.Resolve(ctx, c.Params("id"), req.Approver, models.Decision(req.Decision))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	check := "ok"

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"workflows": len(h.workflows.All()),
		"timestamp": h.now().UTC(),
	})
}

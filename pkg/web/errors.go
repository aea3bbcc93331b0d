package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/custodychain/custodyflow/pkg/approval"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
	"github.com/custodychain/custodyflow/pkg/registry"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps domain errors to problem documents.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsApprovalNotFound(err):
		return notFound(c, "approval request not found")

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case errors.Is(err, models.ErrApprovalClosed):
		return conflict(c, "approval_closed", err.Error())

	case errors.Is(err, approval.ErrMissingApprover), errors.Is(err, models.ErrInvalidDecision):
		return badRequest(c, err.Error())

	case errors.Is(err, registry.ErrNoSource):
		return conflict(c, "reload_unavailable", err.Error())

	case errors.Is(err, approval.ErrManagerClosed):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, err)
	}
}

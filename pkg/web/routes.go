package web

import "github.com/gofiber/fiber/v3"

// Register mounts the API routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Post("/events", h.SubmitEvent)
	router.Post("/triggers/manual", h.TriggerManual)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/reload", h.ReloadWorkflows)
	w.Get("/:id", h.GetWorkflow)

	a := router.Group("/approvals")
	a.Get("/", h.GetPendingApprovals)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/resolve", h.ResolveApproval)

	router.Get("/health", h.HealthCheck)
}

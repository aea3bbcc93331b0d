package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/custodychain/custodyflow/pkg/persistence"
	"github.com/custodychain/custodyflow/pkg/web"
)

const readinessTimeout = 2 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  web.Dispatcher
	approvals   web.Approvals
	workflows   web.Workflows
	validate    *validator.Validate
	app         *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	dispatcher web.Dispatcher,
	approvals web.Approvals,
	workflows web.Workflows,
) *API {
	return &API{
		logger:      logger.With("module", "api"),
		persistence: persistence,
		dispatcher:  dispatcher,
		approvals:   approvals,
		workflows:   workflows,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.dispatcher, a.approvals, a.workflows, a.persistence, a.validate)

	app := fiber.New(fiber.Config{AppName: "custodyflow"})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer cancel()

			return a.persistence.HealthCheck(ctx) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("custodyflow")
	})

	handlers.Register(app)

	a.app = app

	return app
}

// Start serves the API until Shutdown is called.
func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.App().Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.App().ShutdownWithContext(ctx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodychain/custodyflow/pkg/actions"
	"github.com/custodychain/custodyflow/pkg/adapters"
	"github.com/custodychain/custodyflow/pkg/approval"
	"github.com/custodychain/custodyflow/pkg/cmd"
	"github.com/custodychain/custodyflow/pkg/config"
	"github.com/custodychain/custodyflow/pkg/engine"
	"github.com/custodychain/custodyflow/pkg/eventbus"
	"github.com/custodychain/custodyflow/pkg/events"
	"github.com/custodychain/custodyflow/pkg/lease"
	"github.com/custodychain/custodyflow/pkg/log"
	"github.com/custodychain/custodyflow/pkg/metrics"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/otelhelper"
	"github.com/custodychain/custodyflow/pkg/persistence"
	"github.com/custodychain/custodyflow/pkg/registry"
	"github.com/custodychain/custodyflow/pkg/scheduler"
)

const (
	defaultPort        = 9091
	defaultMetricsPort = 9092
	shutdownTimeout    = 15 * time.Second
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the workflow engine, scheduler, event consumer and API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (memory://, file://dir, postgres://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "lease",
				Usage:   "Correlation lease (local, redis://host:port/db)",
				Value:   "local",
				Sources: cli.EnvVars("LEASE_URL"),
			},
			&cli.StringFlag{
				Name:    "state-store-url",
				Usage:   "Subject state service (empty for in-process, bus, http(s)://...)",
				Sources: cli.EnvVars("STATE_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "workflows",
				Aliases: []string{"w"},
				Usage:   "JSON or YAML workflow file saved to persistence before the first load",
				Sources: cli.EnvVars("WORKFLOWS_FILE"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port for the Prometheus metrics endpoint (0 disables it)",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.IntFlag{
				Name:    "max-chain-depth",
				Usage:   "Maximum number of follow-up events one dispatch may re-inject",
				Value:   engine.DefaultConfig().MaxChainDepth,
				Sources: cli.EnvVars("MAX_CHAIN_DEPTH"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Schedule poll interval",
				Value:   scheduler.DefaultConfig().TickInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP (configured by OTEL_EXPORTER_OTLP_*)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runService,
	}
}

func runService(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("custodyflow")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing custodyflow")

	collector := metrics.NewCollector("custodyflow")

	tracer, shutdownTracer, err := setupTracer(ctx, command.Bool("tracing"))
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	if path := command.String("workflows"); path != "" {
		if err := seedWorkflows(ctx, store, path); err != nil {
			return err
		}
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	leaser, closeLeaser, err := cmd.NewLeaser(ctx, command.String("lease"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeLeaser(); err != nil {
			logger.ErrorContext(ctx, "Failed to close leaser", "error", err)
		}
	}()

	stateStore, err := cmd.NewStateStore(command.String("state-store-url"), bus, logger)
	if err != nil {
		return err
	}

	svc := newService(logger, store, bus, leaser, stateStore, collector, tracer, serviceConfig{
		MaxChainDepth: int(command.Int("max-chain-depth")),
		TickInterval:  command.Duration("tick-interval"),
	})

	if err := svc.Start(ctx); err != nil {
		return err
	}

	api := NewAPI(logger, store, svc.engine, svc.approvals, svc.registry)
	errs := make(chan error, 2)

	go func() {
		errs <- api.Start(int(command.Int("port")))
	}()

	var metricsServer *http.Server

	if port := command.Int("metrics-port"); port > 0 {
		metricsServer = &http.Server{
			Addr:              ":" + strconv.Itoa(int(port)),
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.InfoContext(ctx, "Serving metrics", "port", port)

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	case runErr = <-errs:
		logger.ErrorContext(ctx, "Server stopped", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "Failed to stop API server", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Failed to stop metrics server", "error", err)
		}
	}

	svc.Stop(shutdownCtx)

	return runErr
}

// nolint:ireturn
func setupTracer(ctx context.Context, enabled bool) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "custodyflow")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

func seedWorkflows(ctx context.Context, store persistence.WorkflowRepository, path string) error {
	workflows, err := config.LoadWorkflowFile(path)
	if err != nil {
		return err
	}

	for _, workflow := range workflows {
		if err := store.SaveWorkflow(ctx, workflow); err != nil {
			return fmt.Errorf("seed workflow %s: %w", workflow.ID, err)
		}
	}

	return nil
}

type serviceConfig struct {
	MaxChainDepth int
	TickInterval  time.Duration
}

// service holds the engine and the components feeding it: the registry, the
// approval manager, the scheduler and the trigger consumer.
type service struct {
	logger    *slog.Logger
	store     persistence.Persistence
	bus       eventbus.EventBus
	audit     *eventbus.AuditPublisher
	registry  *registry.Registry
	approvals *approval.Manager
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
}

func newService(
	logger *slog.Logger,
	store persistence.Persistence,
	bus eventbus.EventBus,
	leaser lease.Leaser,
	stateStore actions.StateStore,
	collector *metrics.Collector,
	tracer trace.Tracer,
	settings serviceConfig,
) *service {
	audit := eventbus.NewAuditPublisher(bus, logger)

	reg := registry.NewRegistry(logger,
		registry.WithSource(store),
		registry.WithVersionStore(store),
		registry.WithRetention(store),
		registry.WithMetrics(collector),
	)

	approvals := approval.NewManager(logger, store,
		approval.WithMetrics(collector),
		approval.WithLeaser(leaser),
	)

	executor := actions.NewExecutor(logger, stateStore, adapters.NewBusNotifier(bus),
		actions.WithLedger(adapters.NewBusLedger(bus)),
		actions.WithApprovalGate(&announcingGate{manager: approvals, audit: audit, logger: logger}),
		actions.WithMetrics(collector),
	)

	engineConfig := engine.DefaultConfig()
	if settings.MaxChainDepth > 0 {
		engineConfig.MaxChainDepth = settings.MaxChainDepth
	}

	eng := engine.NewEngine(logger, reg, executor,
		engine.WithConfig(engineConfig),
		engine.WithLeaser(leaser),
		engine.WithAuditSink(audit),
		engine.WithMetrics(collector),
		engine.WithTracer(tracer),
	)

	approvals.OnResolution(func(ctx context.Context, request *models.ApprovalRequest) {
		audit.ApprovalResolved(ctx, request)
		eng.HandleResolution(ctx, request)
	})

	schedulerConfig := scheduler.DefaultConfig()
	if settings.TickInterval > 0 {
		schedulerConfig.TickInterval = settings.TickInterval
	}

	sched := scheduler.NewScheduler(logger, store, eng,
		scheduler.WithMetrics(collector),
		scheduler.WithConfig(schedulerConfig),
	)

	return &service{
		logger:    logger,
		store:     store,
		bus:       bus,
		audit:     audit,
		registry:  reg,
		approvals: approvals,
		engine:    eng,
		scheduler: sched,
	}
}

// Start loads the workflows, restores pending approvals, starts the
// scheduler and subscribes to submitted triggers.
func (s *service) Start(ctx context.Context) error {
	result, err := s.registry.Reload(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}

	s.logger.InfoContext(ctx, "Workflows loaded",
		"accepted", result.Accepted, "rejected", len(result.Rejected), "generation", result.Generation)

	restored, err := s.approvals.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore approvals: %w", err)
	}

	s.logger.InfoContext(ctx, "Pending approvals restored", "count", restored)

	if err := s.scheduler.Sync(ctx, s.registry.All()); err != nil {
		return fmt.Errorf("sync schedules: %w", err)
	}

	s.registry.OnSwap(func(snapshot *registry.Snapshot) {
		if err := s.scheduler.Sync(ctx, snapshot.All()); err != nil {
			s.logger.ErrorContext(ctx, "Failed to sync schedules after reload", "error", err)
		}
	})

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if err := s.bus.Handle(events.TriggerSubmittedEvent, s.handleTrigger); err != nil {
		return err
	}

	if err := s.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe to triggers: %w", err)
	}

	return nil
}

func (s *service) Stop(ctx context.Context) {
	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
	}

	s.approvals.Close()
}

// handleTrigger dispatches a trigger received from the bus. A cancelled
// dispatch is reported as an error so the message is redelivered.
func (s *service) handleTrigger(ctx context.Context, event any) error {
	submitted, ok := event.(*events.TriggerSubmitted)
	if !ok {
		return fmt.Errorf("%w: %T", eventbus.ErrUnknownEventType, event)
	}

	result := s.engine.Dispatch(ctx, submitted.Trigger)

	s.logger.DebugContext(ctx, "Trigger dispatched",
		"event_id", result.EventID, "correlation_id", result.CorrelationID, "state", result.State)

	if result.State == models.DispatchCancelled {
		return fmt.Errorf("dispatch of %s cancelled: %s", result.EventID, result.Error)
	}

	return nil
}

// announcingGate opens approval requests and announces them on the audit topic.
type announcingGate struct {
	manager *approval.Manager
	audit   *eventbus.AuditPublisher
	logger  *slog.Logger
}

func (g *announcingGate) Open(ctx context.Context, request *models.ApprovalRequest) error {
	if err := g.manager.Open(ctx, request); err != nil {
		return err
	}

	if err := g.audit.ApprovalRequested(ctx, request); err != nil {
		g.logger.WarnContext(ctx, "Failed to announce approval request",
			"approval_id", request.ID, "error", err)
	}

	return nil
}

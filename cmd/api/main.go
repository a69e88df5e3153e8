package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-mail/internal/api/http"
	"github.com/spec-kit/helpdesk-mail/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-mail/internal/auth"
	"github.com/spec-kit/helpdesk-mail/internal/config"
	"github.com/spec-kit/helpdesk-mail/internal/events"
	"github.com/spec-kit/helpdesk-mail/internal/inbound"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/ingest"
	"github.com/spec-kit/helpdesk-mail/internal/mailbox"
	"github.com/spec-kit/helpdesk-mail/internal/notify"
	"github.com/spec-kit/helpdesk-mail/internal/observability"
	"github.com/spec-kit/helpdesk-mail/internal/persistence"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
	"github.com/spec-kit/helpdesk-mail/internal/repository/memstore"
	"github.com/spec-kit/helpdesk-mail/internal/service"
	"github.com/spec-kit/helpdesk-mail/internal/sla"
	"github.com/spec-kit/helpdesk-mail/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	checks := map[string]handlers.Pinger{}
	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewPostgresStore(pool)
		checks["postgres"] = pg
	} else {
		store = memstore.New()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	if redis.Enabled() {
		checks["redis"] = redis
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger).RegisterHandlers()

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger.Named("notify")}
	if cfg.SMTP.Enabled() {
		notifier = notify.NewSMTPNotifier(cfg.SMTP, logger)
	}

	ticketService := service.NewTicketService(service.TicketConfig{
		SystemAddress:   cfg.Ingestion.SystemAddress,
		MessageIDDomain: cfg.Ingestion.MessageIDDomain,
	}, service.TicketDependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Logger:     logger,
	})

	var poller *inbound.Poller
	if cfg.Mailbox.Enabled() {
		ingestor := ingest.New(ingest.Config{
			SystemAddress: cfg.Ingestion.SystemAddress,
			SLAWindow:     cfg.Ingestion.SLAWindow(),
		}, ingest.Dependencies{
			Store:      store,
			Dispatcher: dispatcher,
			Logger:     logger.Named("ingest"),
			Metrics:    metrics,
		})
		deps := inbound.PollerDependencies{
			Dial:     inbound.Dialer(mailbox.NewDialer(cfg.Mailbox, logger)),
			Ingester: ingestor,
			Logger:   logger,
			Metrics:  metrics,
		}
		if redis.Enabled() {
			deps.Queue = inbound.NewRetryQueue(redis.Client)
			deps.Lock = inbound.NewLock(redis.Client, cfg.Ingestion.PollLockTTL())
		}
		poller = inbound.NewPoller(inbound.PollerConfig{
			Folder:      cfg.Mailbox.Folder,
			BatchLimit:  cfg.Mailbox.BatchLimit,
			MaxAttempts: cfg.Ingestion.MaxAttempts,
		}, deps)
	} else {
		logger.Warn("IMAP_HOST or IMAP_USER not provided; mailbox polling disabled")
	}

	monitor := sla.NewMonitor(sla.Dependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})

	schedulerDeps := worker.Dependencies{Monitor: monitor, Logger: logger}
	var trigger handlers.PollTrigger
	if poller != nil {
		schedulerDeps.Poller = poller
		trigger = poller
	}
	scheduler, err := worker.NewScheduler(worker.Config{
		PollSchedule: cfg.Ingestion.PollSchedule,
		SLASchedule:  cfg.Ingestion.SLASchedule,
		PollTimeout:  cfg.Ingestion.PollLockTTL(),
	}, schedulerDeps)
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}
	scheduler.Start(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Inbox:          handlers.NewInboxHandler(trigger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop cleanly", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rampart/pkg/archive"
	"github.com/platinummonkey/rampart/pkg/audit"
	"github.com/platinummonkey/rampart/pkg/config"
	"github.com/platinummonkey/rampart/pkg/database"
	"github.com/platinummonkey/rampart/pkg/observability"
	"github.com/platinummonkey/rampart/pkg/rbac"
	"github.com/platinummonkey/rampart/pkg/seed"
	"github.com/platinummonkey/rampart/pkg/webhooks"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rampart: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting rampart")
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	dbOpts := cfg.DatabaseOptions()
	db, err := database.Open(ctx, dbOpts)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, dbOpts.Driver, logger); err != nil {
			db.Close()
			return err
		}
	}

	var redisClient *redis.Client
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return err
	}
	if redisOpts != nil {
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup, continuing")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var recorders []rbac.Recorder
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OTel metrics: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}

	var (
		auditor    rbac.Auditor
		auditLog   audit.Logger
		dispatcher *webhooks.Dispatcher
		archiver   *archive.S3Archiver
		admin      []routeRegistrar
	)
	if cfg.Audit.Enabled {
		dbLog, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}
		sinks := []audit.Logger{dbLog}
		if fileOpts := cfg.AuditFileOptions(); fileOpts != nil {
			if archiveOpts := cfg.AuditArchiveOptions(); archiveOpts != nil {
				archiver, err = archive.NewS3Archiver(ctx, *archiveOpts, logger.WithField("component", "archive"))
				if err != nil {
					return err
				}
				fileOpts.OnRotate = archiver.Enqueue
			}
			fileLog, err := audit.NewFileLogger(*fileOpts)
			if err != nil {
				return err
			}
			sinks = append(sinks, fileLog)
		}
		if cfg.Webhooks.Enabled {
			webhookStore := webhooks.NewStore(db)
			dispatcher = webhooks.NewDispatcher(ctx, webhookStore, cfg.WebhookOptions(), logger)
			sinks = append(sinks, dispatcher)
			admin = append(admin, webhooks.NewHandlers(webhookStore, dispatcher))
		}
		auditLog = audit.NewMultiLogger(sinks...)
		auditor = audit.NewTrail(auditLog, logger.WithField("component", "audit"))
		admin = append(admin, audit.NewHandlers(dbLog))
	}

	manager, err := rbac.NewManager(rbac.Deps{
		DB:        db,
		Redis:     redisClient,
		Logger:    logger,
		Metrics:   metrics,
		Recorders: recorders,
		Auditor:   auditor,
	}, cfg.EngineConfig())
	if err != nil {
		return err
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	applySeed := func(ctx context.Context, f *seed.File) error {
		res, err := seed.Apply(ctx, manager.Store(), manager.Assignments(), f)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"permissions": res.Permissions,
			"roles":       res.Roles,
			"assignments": res.Assignments,
		}).Info("Seed applied")
		return nil
	}
	if cfg.RBAC.SeedFile != "" {
		f, err := seed.Load(cfg.RBAC.SeedFile)
		if err != nil {
			return err
		}
		if err := applySeed(ctx, f); err != nil {
			return fmt.Errorf("failed to apply seed: %w", err)
		}
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      newAPIHandler(ctx, cfg, manager, admin, metrics, redisClient, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	checker := observability.NewHealthChecker(db, redisClient, version)
	if archiver != nil {
		checker.AddProbe("audit_archive", false, archiver.HealthCheck)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           newHealthHandler(checker, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(manager.Stop)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if auditLog != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			err := auditLog.Close()
			if archiver != nil {
				err = errors.Join(err, archiver.Close(cfg.Server.ShutdownTimeout))
			}
			return err
		})
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		if redisClient != nil {
			redisClient.Close()
		}
		return db.Close()
	})

	if err := manager.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		return serve(healthServer)
	})
	if metrics != nil {
		g.Go(func() error {
			reportDBStats(gctx, db, metrics)
			return nil
		})
	}
	if dispatcher != nil {
		g.Go(func() error {
			return dispatcher.RunRetries(gctx)
		})
	}
	if cfg.RBAC.SeedFile != "" && cfg.RBAC.WatchSeed {
		g.Go(func() error {
			return seed.NewWatcher(cfg.RBAC.SeedFile, applySeed, logger).Run(gctx)
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", server.Addr, err)
	}
	return nil
}

func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(db.Stats())
		}
	}
}

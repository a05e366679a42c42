// Package server assembles the application's dependencies and runs the
// ingestion service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/adapters"
	"github.com/grantwell/scholarship-ingest/internal/api"
	"github.com/grantwell/scholarship-ingest/internal/audit"
	auditsinks "github.com/grantwell/scholarship-ingest/internal/audit/sinks"
	"github.com/grantwell/scholarship-ingest/internal/breaker"
	"github.com/grantwell/scholarship-ingest/internal/clock/system"
	"github.com/grantwell/scholarship-ingest/internal/config"
	"github.com/grantwell/scholarship-ingest/internal/id/uuid"
	"github.com/grantwell/scholarship-ingest/internal/monitor"
	"github.com/grantwell/scholarship-ingest/internal/orchestrator"
	"github.com/grantwell/scholarship-ingest/internal/pipeline"
	memorypublisher "github.com/grantwell/scholarship-ingest/internal/publisher/memory"
	gcppublisher "github.com/grantwell/scholarship-ingest/internal/publisher/pubsub"
	"github.com/grantwell/scholarship-ingest/internal/ratelimit"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
	gcssnapshot "github.com/grantwell/scholarship-ingest/internal/snapshot/gcs"
	localsnapshot "github.com/grantwell/scholarship-ingest/internal/snapshot/local"
	memorysnapshot "github.com/grantwell/scholarship-ingest/internal/snapshot/memory"
	memorystorage "github.com/grantwell/scholarship-ingest/internal/storage/memory"
	pgstorage "github.com/grantwell/scholarship-ingest/internal/storage/postgres"
	"github.com/grantwell/scholarship-ingest/internal/validator"
	"github.com/grantwell/scholarship-ingest/internal/validator/headless"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	orch         *orchestrator.Orchestrator
	mon          *monitor.Monitor
	scheduler    *monitor.Scheduler
	auditHub     *audit.Hub
	pgStore      *pgstorage.Store
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	gcsClient    *storage.Client
	headless     *headless.Prober
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("sources", len(cfg.Sources)),
	)

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, err
	}
	snapshots, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter := setupAudit(ctx, app)
	checker := setupValidator(app)

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.BreakerCooldown(),
	}, clock)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
		MinDelay:     time.Duration(cfg.RateLimit.MinDelayMs) * time.Millisecond,
		JitterMax:    time.Duration(cfg.RateLimit.JitterMaxMs) * time.Millisecond,
	})

	pipe, err := pipeline.New(pipeline.Config{
		AcceptedTopic:   cfg.PubSub.AcceptedTopic,
		RejectedTopic:   cfg.PubSub.RejectedTopic,
		SnapshotRejects: cfg.Snapshot.Enabled,
	}, store, checker, publisher, snapshots, emitter, clock, ids, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	registry, err := setupSources(app)
	if err != nil {
		return nil, err
	}

	app.orch, err = orchestrator.New(orchestrator.Config{
		MaxConcurrentSources: cfg.Scraper.MaxConcurrentSources,
		IngestWorkers:        cfg.Scraper.IngestWorkers,
		SourceTimeout:        cfg.SourceTimeout(),
		CandidateBuffer:      cfg.Scraper.CandidateBuffer,
	}, registry, breakers, limiter, pipe, emitter, clock, ids, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	repairer, err := monitor.NewSourceURLRepairer(checker)
	if err != nil {
		return nil, fmt.Errorf("repairer init failed: %w", err)
	}
	repairers := monitor.NewRepairerRegistry(repairer)
	app.mon, err = monitor.New(store, checker, repairers, emitter, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("monitor init failed: %w", err)
	}
	if cfg.Monitor.Enabled {
		app.scheduler, err = monitor.NewScheduler(monitor.SchedulerConfig{
			Interval:     cfg.SweepInterval(),
			InitialDelay: cfg.SweepInitialDelay(),
		}, app.mon, logger)
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(app.orch, breakers, store, app.mon, cfg, logger)
	return app, nil
}

// Run starts the HTTP server and the sweep scheduler, blocking until the
// context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		go func() {
			a.logger.Info("sweep scheduler started",
				zap.Duration("interval", a.cfg.SweepInterval()))
			if err := a.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("sweep scheduler stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close gracefully releases the application's resources.
func (a *App) Close(ctx context.Context) error {
	if a.auditHub != nil {
		if err := a.auditHub.Close(ctx); err != nil {
			a.logger.Warn("audit hub close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupStore(ctx context.Context, app *App) (scholar.Store, error) {
	switch app.cfg.Storage.Backend {
	case "postgres":
		store, err := pgstorage.NewStore(ctx, pgstorage.Config{
			DSN:             app.cfg.Database.DSN,
			Table:           app.cfg.Database.Table,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetime) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.pgStore = store
		app.logger.Info("using postgres storage backend",
			zap.String("table", app.cfg.Database.Table))
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewStore(), nil
	}
}

func setupSnapshots(ctx context.Context, app *App) (scholar.SnapshotStore, error) {
	if !app.cfg.Snapshot.Enabled {
		app.logger.Info("snapshot archiving disabled")
		return nil, nil
	}
	switch app.cfg.Snapshot.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		snaps, err := gcssnapshot.New(client, gcssnapshot.Config{
			Bucket: app.cfg.Snapshot.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot backend",
			zap.String("bucket", app.cfg.Snapshot.GCSBucket))
		return snaps, nil
	case "local":
		snaps, err := localsnapshot.New(localsnapshot.Config{
			BaseDir: app.cfg.Snapshot.BaseDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		app.logger.Info("using local snapshot backend",
			zap.String("base_dir", app.cfg.Snapshot.BaseDir))
		return snaps, nil
	default:
		app.logger.Info("using in-memory snapshot backend")
		return memorysnapshot.NewSnapshotStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scholar.Publisher, error) {
	if !app.cfg.PubSub.Enabled || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("pub/sub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	pub, err := gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.gcpPublisher = pub
	app.logger.Info("pub/sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("accepted_topic", app.cfg.PubSub.AcceptedTopic),
		zap.String("rejected_topic", app.cfg.PubSub.RejectedTopic),
	)
	return pub, nil
}

func setupAudit(ctx context.Context, app *App) audit.Emitter {
	sinkList := []audit.Sink{
		auditsinks.NewLogSink(app.logger.Named("audit_log")),
	}
	if promSink, err := auditsinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		app.logger.Warn("prometheus audit sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	app.auditHub = audit.NewHub(audit.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("audit_hub"),
	}, sinkList...)
	return app.auditHub
}

func setupValidator(app *App) *validator.Validator {
	var mobile validator.MobileProber
	if app.cfg.Validator.HeadlessMobile {
		prober, err := headless.NewProber(headless.Config{
			MaxParallel:       app.cfg.Validator.HeadlessMaxParallel,
			UserAgent:         app.cfg.Validator.MobileUserAgent,
			NavigationTimeout: app.cfg.ValidatorTimeout(),
		})
		if err != nil {
			app.logger.Warn("headless prober init failed, falling back to user-agent probe",
				zap.Error(err))
		} else {
			app.headless = prober
			mobile = prober
			app.logger.Info("headless mobile prober enabled",
				zap.Int("max_parallel", app.cfg.Validator.HeadlessMaxParallel))
		}
	}
	return validator.New(validator.Config{
		Timeout:         app.cfg.ValidatorTimeout(),
		MaxRedirects:    app.cfg.Validator.MaxRedirects,
		MaxBodyBytes:    app.cfg.Validator.MaxBodyBytes,
		UserAgent:       app.cfg.Validator.UserAgent,
		MobileUserAgent: app.cfg.Validator.MobileUserAgent,
		SkipMobileProbe: app.cfg.Validator.SkipMobileProbe,
	}, nil, mobile, app.logger)
}

func setupSources(app *App) (*adapters.Registry, error) {
	registry := adapters.NewRegistry()
	for _, src := range app.cfg.Sources {
		cfg := src
		if cfg.UserAgent == "" {
			cfg.UserAgent = app.cfg.Scraper.UserAgent
		}
		if cfg.Delay <= 0 && app.cfg.RateLimit.SourceDelayMs > 0 {
			cfg.Delay = time.Duration(app.cfg.RateLimit.SourceDelayMs) * time.Millisecond
		}
		adapter, err := adapters.NewListingAdapter(cfg, app.logger)
		if err != nil {
			return nil, fmt.Errorf("source %q init failed: %w", src.Name, err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("source %q registration failed: %w", src.Name, err)
		}
		app.logger.Info("source registered",
			zap.String("name", src.Name),
			zap.Int("priority", src.Priority),
			zap.Strings("start_urls", src.StartURLs),
		)
	}
	return registry, nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/panelcheck/internal"
	"github.com/DukeRupert/panelcheck/internal/alert"
	"github.com/DukeRupert/panelcheck/internal/archive"
	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/handler"
	"github.com/DukeRupert/panelcheck/internal/inspector"
	"github.com/DukeRupert/panelcheck/internal/inspector/internalapi"
	"github.com/DukeRupert/panelcheck/internal/inspector/mock"
	"github.com/DukeRupert/panelcheck/internal/inspector/scopito"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/lock"
	"github.com/DukeRupert/panelcheck/internal/metrics"
	"github.com/DukeRupert/panelcheck/internal/middleware"
	"github.com/DukeRupert/panelcheck/internal/queue"
	"github.com/DukeRupert/panelcheck/internal/storage"
	"github.com/DukeRupert/panelcheck/internal/upload"
	"github.com/DukeRupert/panelcheck/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	version, err := internal.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "schema_version", version)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================

	jobs := jobstore.NewPostgresStore(db, logger.With("component", "jobstore"))
	projects := catalog.NewPostgresCatalog(db)

	objects, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("alert initialization failed: %w", err)
	}

	backends, err := newBackends(cfg, objects, logger)
	if err != nil {
		return fmt.Errorf("inspector initialization failed: %w", err)
	}

	locker := lock.New(objects, lock.Config{Strict: cfg.LockStrict}, logger.With("component", "lock"))
	archiver := archive.NewService(projects, objects, locker, archive.Config{
		ReadConcurrency: cfg.ArchiveReadConcurrency,
	}, logger)
	uploads := upload.NewService(projects, objects, upload.NewImagingProcessor(), archiver, logger)

	// ==========================================================================
	// Inspection queue
	// ==========================================================================

	coordinator := queue.NewCoordinator(jobs, logger)
	dispatcher := queue.NewDispatcher(jobs, projects, backends, notifier, cfg.DispatchTimeout, logger)
	advancer := queue.NewAdvancer(coordinator, dispatcher, logger)
	statusService := queue.NewStatusService(jobs, projects, advancer, logger)
	enqueuer := queue.NewEnqueuer(jobs, projects, logger)
	reaper := queue.NewReaper(jobs, projects, notifier, advancer, queue.ReaperConfig{
		PendingTimeout: cfg.PendingAlertTimeout,
		StuckTimeout:   cfg.StuckJobTimeout,
	}, logger)

	// Periodic sweeps
	runner, err := worker.New(worker.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	sweeps := []worker.Task{
		worker.NewTask("reaper-pending", cfg.ReaperInterval, func(ctx context.Context) error {
			_, err := reaper.SweepPending(ctx)
			return err
		}),
		worker.NewTask("reaper-running", cfg.ReaperInterval, func(ctx context.Context) error {
			_, err := reaper.SweepRunning(ctx)
			return err
		}),
	}
	for _, task := range sweeps {
		if err := runner.Register(task); err != nil {
			return fmt.Errorf("register %s: %w", task.Name(), err)
		}
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	requestLog := middleware.NewRequestLoggingMiddleware(logger)
	apiHeaders := middleware.NewAPIHeadersMiddleware(cfg.IsProduction())
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)
	callbackAuth := middleware.NewCallbackAuthMiddleware(cfg.CallbackToken, logger)
	enqueueLimit := middleware.NewRateLimitMiddleware(
		middleware.NewRateLimiter(cfg.EnqueueRateLimit, time.Minute),
		logger,
	)

	if !callbackAuth.Enabled() {
		logger.Warn("CALLBACK_TOKEN is not set, status callbacks are unauthenticated")
	}
	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("METRICS_USERNAME and METRICS_PASSWORD are not set, /metrics is unprotected")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(db, logger).RegisterRoutes(mux)
	handler.NewCallbackHandler(statusService, logger).RegisterRoutes(mux, callbackAuth.Handler)
	handler.NewJobHandler(enqueuer, advancer, coordinator, jobs, logger).RegisterRoutes(mux, enqueueLimit.Limit)
	handler.NewProjectHandler(projects, uploads, archiver, logger).RegisterRoutes(mux)

	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Local storage serves its objects so backends can download images
	if cfg.StorageProvider == storage.ProviderLocal {
		files := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	stack := middleware.Stack(requestLog.Handler, metrics.Middleware, apiHeaders.Handler)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // image uploads
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	runner.Start(ctx)

	// Wait for interrupt signal or a server failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	runner.Stop()

	// Let in-flight archive runs release their lock markers
	archiver.Wait()

	logger.Info("Graceful shutdown complete")
	return nil
}

func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

func newNotifier(cfg *internal.Config, logger *slog.Logger) (alert.Notifier, error) {
	if len(cfg.AlertEmails) == 0 {
		logger.Warn("ALERT_EMAILS is not set, operator alerts are logged only")
		return alert.NewLogNotifier(logger), nil
	}
	return alert.NewSMTPNotifier(alert.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.AlertEmails, logger)
}

func newBackends(cfg *internal.Config, objects storage.Storage, logger *slog.Logger) (inspector.Router, error) {
	if cfg.InspectorProvider == "mock" {
		logger.Info("Using mock inspection backends")
		return inspector.Router{
			Internal:   mock.New("internal", logger),
			ThirdParty: mock.New("scopito", logger),
		}, nil
	}

	internalClient, err := internalapi.New(internalapi.Config{
		BaseURL: cfg.InternalInspectorURL,
		Timeout: cfg.DispatchTimeout,
	}, objects, logger)
	if err != nil {
		return inspector.Router{}, err
	}
	scopitoClient, err := scopito.New(scopito.Config{
		BaseURL: cfg.ScopitoAPIURL,
		APIKey:  cfg.ScopitoAPIKey,
		Timeout: cfg.DispatchTimeout,
	}, logger)
	if err != nil {
		return inspector.Router{}, err
	}
	return inspector.Router{Internal: internalClient, ThirdParty: scopitoClient}, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

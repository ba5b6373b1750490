// Package main is the entrypoint for the casefile API server and pipeline workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/ai"
	"github.com/kiranshivaraju/casefile/internal/api"
	"github.com/kiranshivaraju/casefile/internal/api/handler"
	mw "github.com/kiranshivaraju/casefile/internal/api/middleware"
	"github.com/kiranshivaraju/casefile/internal/api/response"
	"github.com/kiranshivaraju/casefile/internal/blob"
	"github.com/kiranshivaraju/casefile/internal/cache"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/internal/media"
	"github.com/kiranshivaraju/casefile/internal/pipeline"
	"github.com/kiranshivaraju/casefile/internal/queue"
	"github.com/kiranshivaraju/casefile/internal/sampler"
	"github.com/kiranshivaraju/casefile/internal/stages"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/internal/telemetry"
	"github.com/kiranshivaraju/casefile/internal/worker"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	shutdownTimeout = 30 * time.Second
	uploadTimeout   = 15 * time.Minute
	localQueueSize  = 256
	statusTTL       = 30 * time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"transcriber", cfg.Transcriber.Backend,
		"storage", cfg.Storage.Backend,
		"queue", cfg.Queue.Backend,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Tracing (optional)
	tp, err := telemetry.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
		slog.Info("tracing disabled")
	case err != nil:
		return fmt.Errorf("init tracing: %w", err)
	default:
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				slog.Warn("tracer shutdown", "error", err)
			}
		}()
		slog.Info("tracing enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	// 3. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 4. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 5. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 6. Blob storage
	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	slog.Info("blob storage ready", "backend", cfg.Storage.Backend)

	// 7. AI provider and transcriber
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	transcriber, err := ai.NewTranscriber(*cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("create transcriber: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name(), "transcriber", transcriber.Name())

	// 8. Store and bootstrap key
	pgStore := store.NewPostgresStore(pool)
	if err := ensureBootstrapKey(ctx, pgStore, cfg.Server.BootstrapAPIKey); err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}

	// 9. Queue
	q, err := newQueue(cfg.Queue)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()
	slog.Info("queue ready", "backend", cfg.Queue.Backend)

	// 10. Pipeline and workers
	opener := media.NewVideoOpener(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)
	frameSampler := sampler.New(opener,
		sampler.WithMaxFrames(cfg.Pipeline.MaxFrames),
		sampler.WithLogger(slog.Default()),
	)
	orchestrator := pipeline.New(pipeline.Deps{
		Store:       pgStore,
		Blobs:       blobs,
		Audio:       media.NewAudioExtractor(cfg.Pipeline.FFmpegPath, slog.Default()),
		Sampler:     frameSampler,
		Transcriber: transcriber,
		Stages:      stages.New(aiProvider, cfg.AI.InferenceTimeout, slog.Default()),
		Cache:       redisCache,
		Logger:      slog.Default(),
	}, pipeline.Options{
		WorkDir:       cfg.Pipeline.WorkDir,
		SampleRate:    cfg.Pipeline.SampleRateFPS,
		StatusTTL:     statusTTL,
		KeepArtifacts: cfg.Pipeline.KeepArtifacts,
	})

	var pending []uuid.UUID
	if cfg.Queue.Backend == "local" {
		pending, err = recoverUnfinished(ctx, pgStore, redisCache)
		if err != nil {
			return fmt.Errorf("recover unfinished reports: %w", err)
		}
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers := worker.NewPool(q, orchestrator, worker.NewCacheLocker(redisCache, cfg.Queue.RunLockTTL), worker.Config{
		Workers: cfg.Queue.WorkerCount,
	}, slog.Default())

	var workersDone sync.WaitGroup
	workersDone.Add(1)
	go func() {
		defer workersDone.Done()
		if err := workers.Start(workerCtx); err != nil {
			slog.Error("worker pool stopped", "error", err)
		}
	}()

	go enqueueAll(ctx, q, pending)

	// 11. Build router with dependencies
	reportDeps := handler.ReportDeps{
		Store:          pgStore,
		Blobs:          blobs,
		Queue:          q,
		Cache:          redisCache,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler:    healthHandler(pgStore, redisCache),
		UploadReport:     handler.NewUploadReportHandler(reportDeps),
		ListReports:      handler.NewListReportsHandler(pgStore),
		GetReport:        handler.NewGetReportHandler(pgStore),
		ReportStatus:     handler.NewReportStatusHandler(pgStore, redisCache),
		UpdateReport:     handler.NewUpdateReportHandler(pgStore),
		RerunReport:      handler.NewRerunReportHandler(reportDeps),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
	})

	// 12. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      uploadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}

	// In-flight runs are cancelled and end as failed; they can be rerun.
	stopWorkers()
	workersDone.Wait()

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "minio":
		s, err := blob.NewMinIOStore(blob.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return blob.NewLocalStore(cfg.LocalDir)
	}
}

func newQueue(cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Backend {
	case "rabbitmq":
		return queue.NewRabbitQueue(queue.RabbitConfig{
			URL:      cfg.RabbitMQURL,
			Queue:    cfg.RabbitMQQueue,
			Prefetch: cfg.Prefetch,
		})
	default:
		return queue.NewLocalQueue(localQueueSize), nil
	}
}

// keyBootstrapper is the part of store.Store used to seed the first admin key.
type keyBootstrapper interface {
	CountAPIKeys(ctx context.Context) (int, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// ensureBootstrapKey creates an admin key when none exists. A configured raw
// key is stored as given; otherwise one is generated and logged once.
func ensureBootstrapKey(ctx context.Context, s keyBootstrapper, raw string) error {
	n, err := s.CountAPIKeys(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	key, generated, err := handler.NewAPIKey("bootstrap", []string{models.ScopeAdmin})
	if err != nil {
		return err
	}
	if raw != "" {
		if len(raw) < mw.KeyPrefixLen {
			return fmt.Errorf("BOOTSTRAP_API_KEY must be at least %d characters", mw.KeyPrefixLen)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing bootstrap key: %w", err)
		}
		key.KeyHash = string(hashed)
		key.KeyPrefix = raw[:mw.KeyPrefixLen]
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return err
	}

	if raw == "" {
		slog.Warn("created bootstrap admin API key; store it now, it is not shown again", "key", generated)
	} else {
		slog.Info("created bootstrap admin API key from BOOTSTRAP_API_KEY", "key_prefix", key.KeyPrefix)
	}
	return nil
}

// reportLister is the part of store.Store used to recover after a restart.
type reportLister interface {
	ListReports(ctx context.Context, filter store.ReportFilter) ([]*models.Report, int, error)
	UpdateReportStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus, opts ...store.StatusUpdateOption) error
}

// statusCache is the part of cache.RedisCache that mirrors report statuses.
type statusCache interface {
	SetReportStatus(ctx context.Context, reportID uuid.UUID, status string, ttl time.Duration) error
	DeleteReportStatus(ctx context.Context, reportID uuid.UUID) error
}

// recoverUnfinished fails runs that a previous process left mid-stage and
// returns the ids of reports still pending. The cached status of each failed
// run is replaced so pollers stop seeing the dead process's last stage. It
// must run before the worker pool starts, and only with the in-process queue,
// where no other process can own those runs.
func recoverUnfinished(ctx context.Context, s reportLister, c statusCache) ([]uuid.UUID, error) {
	var unfinished []*models.Report
	for page := 1; ; page++ {
		reports, total, err := s.ListReports(ctx, store.ReportFilter{State: store.StateInProgress, Page: page, Limit: 100})
		if err != nil {
			return nil, err
		}
		unfinished = append(unfinished, reports...)
		if len(reports) == 0 || page*100 >= total {
			break
		}
	}

	var pending []uuid.UUID
	for _, r := range unfinished {
		if r.Status == models.StatusPending {
			pending = append(pending, r.ID)
			continue
		}
		err := s.UpdateReportStatus(ctx, r.ID, models.StatusFailed,
			store.WithStatusMessage(fmt.Sprintf("%s: interrupted by server restart", r.Status)))
		if err != nil {
			return nil, fmt.Errorf("failing interrupted report %s: %w", r.ID, err)
		}
		if err := c.SetReportStatus(ctx, r.ID, string(models.StatusFailed), statusTTL); err != nil {
			slog.Warn("caching recovered status", "report_id", r.ID, "error", err)
			if err := c.DeleteReportStatus(ctx, r.ID); err != nil {
				return nil, fmt.Errorf("dropping cached status of %s: %w", r.ID, err)
			}
		}
		slog.Warn("marked interrupted report failed", "report_id", r.ID, "stage", r.Status)
	}
	return pending, nil
}

func enqueueAll(ctx context.Context, q queue.Queue, ids []uuid.UUID) {
	for _, id := range ids {
		if err := q.Publish(ctx, queue.Message{ReportID: id}); err != nil {
			slog.Error("re-enqueueing pending report", "report_id", id, "error", err)
			return
		}
	}
	if len(ids) > 0 {
		slog.Info("re-enqueued pending reports", "count", len(ids))
	}
}

// pinger is satisfied by store.Store and cache.Cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(s, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

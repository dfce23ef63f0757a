// Package app builds the scrape pipeline from configuration and owns the
// long-lived clients behind it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/api"
	"github.com/JakeFAU/page-scraper/internal/clock/system"
	"github.com/JakeFAU/page-scraper/internal/config"
	"github.com/JakeFAU/page-scraper/internal/dispatcher"
	"github.com/JakeFAU/page-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/page-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/page-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/page-scraper/internal/hash/sha256"
	"github.com/JakeFAU/page-scraper/internal/headless/detector"
	"github.com/JakeFAU/page-scraper/internal/id/uuid"
	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/page-scraper/internal/policy/robots"
	gcppublisher "github.com/JakeFAU/page-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/page-scraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/page-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/page-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/page-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/page-scraper/internal/storage/postgres"
	redisstore "github.com/JakeFAU/page-scraper/internal/storage/redis"
	"github.com/JakeFAU/page-scraper/internal/telemetry"
	"github.com/JakeFAU/page-scraper/internal/worker"
)

const serviceName = "page-scraper"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock
	ids    *uuid.Generator

	blobs        scraper.BlobStore
	records      scraper.RecordStore
	lastRequests scraper.LastRequestStore
	publisher    scraper.Publisher
	worker       *worker.Worker
	dispatch     *dispatcher.Dispatcher
	checks       map[string]api.ReadinessCheck

	gcs      *gcsstorage.BlobStore
	postgres *pgstore.RecordStore
	redis    *redisstore.LastRequestStore
	pubsub   *gcppublisher.Publisher
	headless *headlessfetcher.Fetcher
	tracer   *sdktrace.TracerProvider
}

// Build creates the application's dependencies. Clients opened before a
// failure are closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		checks: make(map[string]api.ReadinessCheck),
	}
	if err := a.build(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	var err error
	if a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	}); err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	if a.blobs, err = a.setupStorage(ctx); err != nil {
		return err
	}
	if a.records, err = a.setupRecords(ctx); err != nil {
		return err
	}
	if a.lastRequests, err = a.setupLastRequests(ctx); err != nil {
		return err
	}
	if a.publisher, err = a.setupPublisher(ctx); err != nil {
		return err
	}
	return a.setupPipeline()
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the wall clock shared by the pipeline.
func (a *App) Clock() scraper.Clock { return a.clock }

// Blobs returns the configured blob store.
func (a *App) Blobs() scraper.BlobStore { return a.blobs }

// Handler builds the HTTP API for this app.
func (a *App) Handler(version string) http.Handler {
	return api.NewServer(api.Dependencies{
		Scraper: a.worker,
		Batch:   a.dispatch,
		Exports: a.blobs,
		IDs:     a.ids,
		Clock:   a.clock,
		Checks:  a.checks,
	}, a.cfg, version, a.logger.Named("api")).Handler()
}

// Serve runs the HTTP API until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context, version string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(version),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
		close(errCh)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err, ok := <-errCh; ok && err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases every client the app opened. It is safe to call more than
// once.
func (a *App) Close(ctx context.Context) {
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.postgres != nil {
		a.postgres.Close()
		a.postgres = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
	_ = a.logger.Sync()
}

func (a *App) setupStorage(ctx context.Context) (scraper.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		return store, nil
	}
}

func (a *App) setupRecords(ctx context.Context) (scraper.RecordStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no DSN configured; page records are not persisted")
		return nil, nil
	}
	store, err := pgstore.NewRecordStore(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	}, a.ids)
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}
	a.postgres = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("record store schema: %w", err)
	}
	a.checks["postgres"] = store.Ping
	a.logger.Info("record store initialized", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) setupLastRequests(ctx context.Context) (scraper.LastRequestStore, error) {
	if a.cfg.Redis.Addr == "" {
		return memorystorage.NewLastRequestStore(), nil
	}
	store, err := redisstore.New(ctx, redisstore.Config{
		Addr:      a.cfg.Redis.Addr,
		Password:  a.cfg.Redis.Password,
		DB:        a.cfg.Redis.DB,
		KeyPrefix: a.cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = store
	a.checks["redis"] = store.Ping
	a.logger.Info("sharing politeness clock through redis", zap.String("addr", a.cfg.Redis.Addr))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (scraper.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured; scrape events are not published")
		return nil, nil
	}
	pub, err := gcppublisher.New(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicName: a.cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupPipeline() error {
	cfg := a.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Scraper.MaxBodyBytes,
	})

	var renderer scraper.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = hf
		renderer = hf
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	} else {
		renderer = headlessfetcher.NewNoop()
	}

	gate := robots.NewGate(robots.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   time.Duration(cfg.Robots.TimeoutSeconds) * time.Second,
		CacheTTL:  time.Duration(cfg.Robots.CacheTTLSeconds) * time.Second,
		Clock:     a.clock,
	}, a.logger.Named("robots"))

	w, err := worker.New(worker.Dependencies{
		Fetcher:      fetcher,
		Renderer:     renderer,
		Detector:     detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Robots:       gate,
		Limiter:      ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.MaxRPSPerOrigin}),
		LastRequests: a.lastRequests,
		Assembler:    extract.NewAssembler(a.logger.Named("extract"), a.clock),
		Records:      a.records,
		Blobs:        a.blobs,
		Publisher:    a.publisher,
		Hasher:       sha256.New(),
		Clock:        a.clock,
		Sleeper:      a.clock,
		Retry: worker.NewRetryPolicy(
			cfg.HTTP.MaxRetries,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
	}, worker.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		FetchTimeout: cfg.FetchTimeout(),
		ArchiveRaw:   cfg.Scraper.ArchiveRaw,
	}, a.logger.Named("worker"))
	if err != nil {
		return fmt.Errorf("worker init failed: %w", err)
	}
	a.worker = w
	a.dispatch = dispatcher.New(w, cfg.Scraper.Concurrency, a.logger.Named("dispatcher"))
	a.logger.Info("pipeline ready",
		zap.String("user_agent", cfg.Scraper.UserAgent),
		zap.Int("concurrency", cfg.Scraper.Concurrency),
		zap.Int("max_retries", cfg.HTTP.MaxRetries),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("archive_raw", cfg.Scraper.ArchiveRaw),
	)
	return nil
}

// ScrapeAll scrapes urls through the dispatcher.
func (a *App) ScrapeAll(ctx context.Context, urls []string, opts scraper.Options) []scraper.PageRecord {
	return a.dispatch.ScrapeAll(ctx, urls, opts)
}

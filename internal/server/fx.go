// Package server builds the pipeline's dependency graph and runs the long-lived process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/api"
	"github.com/JakeFAU/localnews-pipeline/internal/clock"
	"github.com/JakeFAU/localnews-pipeline/internal/config"
	"github.com/JakeFAU/localnews-pipeline/internal/fetcher/feed"
	"github.com/JakeFAU/localnews-pipeline/internal/fetcher/headless"
	"github.com/JakeFAU/localnews-pipeline/internal/fetcher/static"
	"github.com/JakeFAU/localnews-pipeline/internal/hash/md5"
	"github.com/JakeFAU/localnews-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/localnews-pipeline/internal/id/uuid"
	"github.com/JakeFAU/localnews-pipeline/internal/imagecapture"
	"github.com/JakeFAU/localnews-pipeline/internal/logging"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
	"github.com/JakeFAU/localnews-pipeline/internal/pipeline"
	"github.com/JakeFAU/localnews-pipeline/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/localnews-pipeline/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/localnews-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/localnews-pipeline/internal/rewrite"
	anthropicgen "github.com/JakeFAU/localnews-pipeline/internal/rewrite/anthropic"
	openaigen "github.com/JakeFAU/localnews-pipeline/internal/rewrite/openai"
	"github.com/JakeFAU/localnews-pipeline/internal/schedule"
	gcsstorage "github.com/JakeFAU/localnews-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/localnews-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/localnews-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/localnews-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/localnews-pipeline/internal/telemetry"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	orchestrator *pipeline.Orchestrator
	images       *imagecapture.Service
	scheduler    *schedule.Scheduler
	store        news.Store
	pgStore      *pgstore.Store
	gcsClient    *storage.Client
	pubsub       *gcppublisher.Publisher
	headless     *headless.Fetcher
	telemetry    *telemetry.Provider
}

// Orchestrator exposes the pipeline for one-shot commands.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orchestrator
}

// Images exposes the image capture service for one-shot sweeps.
func (a *App) Images() *imagecapture.Service {
	return a.images
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the HTTP server and scheduler and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("scheduler started",
			zap.String("cron", a.cfg.Schedule.Cron),
			zap.String("sweep_cron", a.cfg.Schedule.SweepCron),
		)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("sources_seeded", len(cfg.Sources)),
		zap.String("images_backend", cfg.Images.Backend),
		zap.String("rewrite_provider", cfg.Rewrite.Provider),
	)

	app := &App{cfg: cfg, logger: logger}

	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	if err := wire(ctx, app); err != nil {
		app.closeInfrastructure()
		app.closeObservability(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

// wire opens the adapters and assembles the pipeline. Resources opened before a failure stay on app.
func wire(ctx context.Context, app *App) error {
	cfg := app.cfg
	logger := app.logger
	if err := setupStore(ctx, app); err != nil {
		return err
	}
	objects, err := setupObjectStore(ctx, app)
	if err != nil {
		return err
	}
	sys := clock.New()
	app.images = imagecapture.New(
		objects,
		static.New(static.Config{
			UserAgent: cfg.Images.UserAgent,
			Timeout:   seconds(cfg.Images.TimeoutSeconds),
			MaxBytes:  cfg.Images.MaxBytes,
		}),
		sys,
		imagecapture.Config{
			CacheControl: cfg.Images.CacheControl,
			Pool:         imagecapture.MergePool(cfg.Images.Defaults),
		},
		logger.Named("images"),
	)

	rewriter, err := setupRewriter(app)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return err
	}

	app.orchestrator, err = pipeline.New(pipeline.Deps{
		Store:     app.store,
		Feeds:     feed.New(feed.Config{UserAgent: cfg.Feed.UserAgent, Timeout: seconds(cfg.Feed.TimeoutSeconds)}, logger.Named("feed")),
		Pages:     setupHeadless(app),
		Images:    app.images,
		Rewriter:  rewriter,
		Validator: rewrite.NewValidator(validatorConfig(cfg.Validation)),
		Publisher: publisher,
		Limiter:   setupLimiter(app),
		Hasher:    setupHasher(cfg.Pipeline.Fingerprint),
		IDs:       uuid.New(),
		Clock:     sys,
	}, pipeline.Config{
		Concurrency:          cfg.Pipeline.Concurrency,
		BatchSize:            cfg.Pipeline.BatchSize,
		PublishThreshold:     cfg.Pipeline.PublishThreshold,
		RejectBelow:          cfg.Pipeline.RejectBelow,
		AutoPublish:          cfg.Pipeline.AutoPublish,
		MaxConsecutiveErrors: cfg.Pipeline.MaxConsecutiveErrors,
		RunTimeout:           cfg.RunTimeout(),
		EnrichFromArticle:    cfg.Pipeline.EnrichFromArticle,
		EnrichMinChars:       cfg.Pipeline.EnrichMinChars,
	}, logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	var ready []api.Pinger
	if app.pgStore != nil {
		ready = append(ready, app.pgStore)
	}
	app.apiServer = api.NewServer(app.orchestrator, app.images, *cfg, logger.Named("api"), ready...)

	if cfg.Schedule.Enabled {
		app.scheduler, err = schedule.New(schedule.Config{
			RunSpec:   cfg.Schedule.Cron,
			SweepSpec: cfg.Schedule.SweepCron,
			Retention: cfg.Retention(),
		}, app.orchestrator, app.images, logger.Named("schedule"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}
	return nil
}

func setupStore(ctx context.Context, app *App) error {
	cfg := app.cfg
	if cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory store")
		seeded := make([]news.Source, 0, len(cfg.Sources))
		for _, src := range cfg.Sources {
			seeded = append(seeded, src.Source())
		}
		app.store = memorystorage.NewStore(seeded...)
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	app.pgStore = pg
	app.store = pg
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.logger.Info("database schema applied")
	}
	for _, src := range cfg.Sources {
		if err := pg.UpsertSource(ctx, src.Source()); err != nil {
			return fmt.Errorf("seed source %s: %w", src.ID, err)
		}
	}
	app.logger.Info("postgres store initialized", zap.Int("sources_seeded", len(cfg.Sources)))
	return nil
}

func setupObjectStore(ctx context.Context, app *App) (news.ObjectStore, error) {
	cfg := app.cfg.Images
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, PublicBaseURL: cfg.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("gcs object store init failed: %w", err)
		}
		app.logger.Info("using GCS image storage", zap.String("bucket", cfg.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir, PublicBaseURL: cfg.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("local object store init failed: %w", err)
		}
		app.logger.Info("using local image storage", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	default:
		app.logger.Info("using in-memory image storage")
		return memorystorage.NewObjectStore(cfg.PublicBaseURL, nil), nil
	}
}

func setupRewriter(app *App) (*rewrite.Service, error) {
	cfg := app.cfg.Rewrite
	var gen rewrite.Generator
	switch cfg.Provider {
	case "anthropic":
		client, err := anthropicgen.New(anthropicgen.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: seconds(cfg.TimeoutSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic client init failed: %w", err)
		}
		gen = client
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		client, err := openaigen.New(openaigen.Config{
			BaseURL: baseURL,
			APIKey:  cfg.APIKey,
			Timeout: seconds(cfg.TimeoutSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("openai client init failed: %w", err)
		}
		gen = client
	}
	links := make([]rewrite.Link, 0, len(cfg.InternalLinks))
	for _, l := range cfg.InternalLinks {
		links = append(links, rewrite.Link{Phrase: l.Phrase, URL: l.URL})
	}
	svc, err := rewrite.New(gen, rewrite.Config{
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		ContentBudget: cfg.ContentBudget,
		MinWords:      cfg.MinWords,
		Locality:      cfg.Locality,
		LocalKeywords: cfg.LocalKeywords,
		Links:         links,
		MaxLinks:      cfg.MaxLinks,
	}, app.logger.Named("rewrite"))
	if err != nil {
		return nil, fmt.Errorf("rewrite service init failed: %w", err)
	}
	app.logger.Info("rewrite stage configured", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	return svc, nil
}

func setupPublisher(ctx context.Context, app *App) (news.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, cfg.ProjectID, cfg.TopicName, app.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return pub, nil
}

func setupHeadless(app *App) news.PageFetcher {
	cfg := app.cfg.Headless
	if !cfg.Enabled {
		app.logger.Info("headless fetcher disabled, page sources will fail")
		return headless.NewNoop()
	}
	fetcher, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.MaxParallel,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: seconds(cfg.NavTimeoutSec),
		ContainerWait:     seconds(cfg.ContainerWaitSec),
		MaxItems:          cfg.MaxItems,
	}, app.logger.Named("headless"))
	if err != nil {
		app.logger.Warn("headless fetcher init failed, page sources will fail", zap.Error(err))
		return headless.NewNoop()
	}
	app.headless = fetcher
	app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.MaxParallel))
	return fetcher
}

func setupLimiter(app *App) news.RateLimiter {
	cfg := app.cfg.RateLimit
	if !cfg.Enabled {
		app.logger.Info("rate limiter disabled")
		return ratelimit.Noop{}
	}
	app.logger.Info("rate limiter enabled",
		zap.Float64("default_rps", cfg.DefaultRPS),
		zap.Int("default_burst", cfg.DefaultBurst),
	)
	return ratelimit.New(ratelimit.Config{DefaultRPS: cfg.DefaultRPS, DefaultBurst: cfg.DefaultBurst})
}

func setupHasher(kind string) news.Hasher {
	if kind == "sha256" {
		return sha256.New()
	}
	return md5.New()
}

func validatorConfig(cfg config.ValidationConfig) rewrite.ValidatorConfig {
	out := rewrite.DefaultValidatorConfig()
	if cfg.TitleMax > 0 {
		out.TitleMax = cfg.TitleMax
	}
	if cfg.MetaMax > 0 {
		out.MetaMax = cfg.MetaMax
	}
	if cfg.ContentMin > 0 {
		out.ContentMin = cfg.ContentMin
	}
	if cfg.ExcerptMin > 0 {
		out.ExcerptMin = cfg.ExcerptMin
	}
	if cfg.KeywordsMin > 0 {
		out.KeywordsMin = cfg.KeywordsMin
	}
	if len(cfg.LocalityTerms) > 0 {
		out.LocalityTerms = cfg.LocalityTerms
	}
	return out
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

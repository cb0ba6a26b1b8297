package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/config"
	"github.com/vrsandeep/extract-go/internal/convert"
	"github.com/vrsandeep/extract-go/internal/db"
	"github.com/vrsandeep/extract-go/internal/jobs"
	"github.com/vrsandeep/extract-go/internal/llm"
	"github.com/vrsandeep/extract-go/internal/logger"
	"github.com/vrsandeep/extract-go/internal/storage"
	"github.com/vrsandeep/extract-go/internal/store"
	"github.com/vrsandeep/extract-go/internal/websocket"
)

// Source names under which the storage backends are registered.
const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Log     *zap.Logger
	Version string

	Store        *store.Store
	Hub          *websocket.Hub
	Storages     *storage.Registry
	Orchestrator *jobs.Orchestrator
	Scheduler    *jobs.Scheduler
	Manager      *jobs.Manager
}

// Option adjusts how the App is wired.
type Option func(*options)

type options struct {
	withoutModel bool
}

// WithoutModel skips building the model client, so a process that only
// reads or changes job state needs no model credentials. Jobs run by such
// an App fail their files with llm.ErrNoModel.
func WithoutModel() Option {
	return func(o *options) { o.withoutModel = true }
}

// New sets up and returns a new App instance. It handles loading the
// configuration, building the logger, initializing the database connection,
// and running migrations.
func New(ctx context.Context, opts ...Option) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return NewWithConfig(ctx, cfg, log, opts...)
}

// NewWithConfig wires the application from an already loaded configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database, log); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := &App{
		Config:  cfg,
		DB:      database,
		Log:     log,
		Version: "dev",
		Store:   store.New(database),
		Hub:     websocket.NewHub(log.Named("ws")),
	}
	if err := app.wire(ctx, o); err != nil {
		database.Close()
		return nil, err
	}

	log.Info("Core application setup complete",
		zap.Strings("sources", app.Storages.Sources()),
		zap.String("llm_provider", cfg.LLM.Provider),
	)
	return app, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg := a.Config

	a.Storages = storage.NewRegistry()
	local, err := storage.NewLocal(cfg.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open local storage: %w", err)
	}
	a.Storages.Register(SourceLocal, local)
	if cfg.Storage.S3.Bucket != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:   cfg.Storage.S3.Bucket,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to open s3 storage: %w", err)
		}
		a.Storages.Register(SourceS3, s3)
	}

	converter, err := convert.New(convert.Config{
		CacheDir:         cfg.Storage.CachePath,
		HTMLContentXPath: cfg.Extraction.HTMLContentXPath,
	}, a.Log.Named("convert"))
	if err != nil {
		return err
	}

	var extractor llm.Extractor = llm.Unavailable{}
	if !o.withoutModel {
		extractor, err = newExtractor(cfg, a.Log)
		if err != nil {
			return err
		}
	}

	a.Orchestrator = jobs.NewOrchestrator(jobs.OrchestratorConfig{
		MaxChunkSize: cfg.Extraction.MaxChunkSize,
		MaxRetries:   cfg.Extraction.MaxRetries,
		RetryInitial: time.Duration(cfg.Extraction.RetryInitialMs) * time.Millisecond,
		RetryMax:     time.Duration(cfg.Extraction.RetryMaxMs) * time.Millisecond,
		CallTimeout:  cfg.LLMTimeout(),
	}, a.Store, a.Storages, converter, extractor, a.Hub, a.Log.Named("orchestrator"))

	a.Scheduler = jobs.NewScheduler(jobs.SchedulerConfig{
		Interval:          cfg.ScanInterval(),
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
	}, a.Store, a.Orchestrator, a.Hub, a.Log.Named("scheduler"))

	a.Manager = jobs.NewManager(a.Store, a.Storages, a.Hub, a.Scheduler, a.Log.Named("manager"))
	return nil
}

func newExtractor(cfg *config.Config, log *zap.Logger) (llm.Extractor, error) {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLMTimeout(),
		}, log.Named("llm")), nil
	case "mock":
		log.Warn("Using the mock extractor; results are not produced by a model")
		return llm.NewMockExtractor(), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

// Start runs the websocket hub and the job scheduler.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Run()
	return a.Scheduler.Start(ctx)
}

// Close gracefully stops background work and closes the application's
// resources, like the DB connection.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}

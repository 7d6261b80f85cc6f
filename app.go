package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"script-studio/artifacts"
	"script-studio/blob"
	"script-studio/config"
	"script-studio/llm"
	"script-studio/pipeline"
	"script-studio/projects"
	"script-studio/prompts"
	"script-studio/queue"
	"script-studio/research"
	"script-studio/series"
	"script-studio/store"
	"script-studio/validate"
	"script-studio/worker"
)

// app holds every long-lived component. Commands build it once and share it.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	pool     *pgxpool.Pool
	store    store.Store
	blobs    *blob.Local
	registry *artifacts.Registry
	series   *series.Service
	prompts  *prompts.Builder

	backend      queue.Backend
	router       *queue.Router
	orchestrator *pipeline.Orchestrator
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	logger := log.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	loader := prompts.NewLoader(cfg.Paths.ConfigDir)
	if err := loader.Check(); err != nil {
		return nil, fmt.Errorf("prompt files: %w", err)
	}

	if cfg.Database.DSN != "" {
		a.pool, err = store.OpenPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.store = store.NewPostgres(a.pool)
		logger.Printf("[app] using postgres store")
	} else {
		a.store = store.NewMemory()
		logger.Printf("[app] ⚠️  no DATABASE_URL, projects are kept in memory")
	}

	a.blobs, err = blob.NewLocal(cfg.Paths.StorageDir)
	if err != nil {
		a.close()
		return nil, err
	}
	a.registry = artifacts.New(a.store, a.blobs)
	a.series = series.New(a.store, logger)
	a.prompts = prompts.NewBuilder(loader, a.series, a.registry, cfg.Script, cfg.Segments)

	hooks := queue.LogHooks(logger)
	switch cfg.Queue.Backend {
	case "postgres":
		if a.pool == nil {
			a.close()
			return nil, errors.New("queue.backend postgres needs DATABASE_URL")
		}
		a.backend = queue.NewPostgres(a.pool, cfg.Database.DSN, cfg.Queue, hooks, logger)
	default:
		a.backend = queue.NewMemory(cfg.Queue, hooks)
	}
	a.router, err = queue.NewRouter(a.backend, cfg.Queue)
	if err != nil {
		a.close()
		return nil, err
	}

	a.orchestrator = pipeline.NewOrchestrator(a.store, a.router, graphLoader(cfg.Paths.PipelineFile, logger), logger)
	steps, err := a.orchestrator.Plan()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logger.Printf("[app] pipeline order: %v", steps)
	return a, nil
}

// graphLoader reads pipeline.yaml on every run, or uses the built-in graph
// when the file does not exist.
func graphLoader(path string, logger *log.Logger) pipeline.GraphLoader {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Printf("[app] %s not found, using the default pipeline", path)
		return pipeline.StaticGraph(config.DefaultPipeline())
	}
	return pipeline.FileGraph(path)
}

func (a *app) projects() *projects.Service {
	return projects.New(projects.Deps{
		Store:     a.store,
		Blobs:     a.blobs,
		Artifacts: a.registry,
		Series:    a.series,
		Prompts:   a.prompts,
		Runner:    a.orchestrator,
		Jobs:      a.router,
		Limits:    validate.LimitsFrom(a.cfg.Validation),
		Script:    a.cfg.Script,
		Logger:    a.logger,
	})
}

func (a *app) completer() (llm.Completer, error) {
	c := a.cfg.LLM
	if c.APIKey == "" {
		return nil, fmt.Errorf("no API key for llm provider %s", c.Provider)
	}
	switch c.Provider {
	case "groq":
		return llm.NewGroq(c.APIKey, c.GroqModel, c.Temperature, c.MaxTokens), nil
	default:
		return llm.NewAnthropic(c.APIKey, c.Model, c.Temperature, c.MaxTokens), nil
	}
}

func (a *app) dispatcher(ctx context.Context) (*worker.Dispatcher, error) {
	completer, err := a.completer()
	if err != nil {
		return nil, err
	}
	collector := research.FromEnv(ctx, a.cfg.Research, a.logger)
	a.logger.Printf("[app] research sources: %v", collector.Sources())

	return worker.New(worker.Deps{
		Store:     a.store,
		Artifacts: a.registry,
		Prompts:   a.prompts,
		LLM:       completer,
		Series:    a.series,
		Queue:     a.router,
		Research:  collector,
		Limits:    validate.LimitsFrom(a.cfg.Validation),
		Script:    a.cfg.Script,
		Segments:  a.cfg.Segments,
		Logger:    a.logger,
	}), nil
}

// runWorkers consumes every lane until ctx is cancelled.
func (a *app) runWorkers(ctx context.Context) error {
	d, err := a.dispatcher(ctx)
	if err != nil {
		return err
	}
	if pg, ok := a.backend.(*queue.Postgres); ok {
		n, err := pg.RecoverStuck(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.Printf("[worker] ⚠️  recovered %d stuck jobs", n)
		}
	}
	return worker.Run(ctx, a.backend, d, queue.Lanes, a.cfg.Queue.Concurrency)
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

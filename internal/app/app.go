// -----------------------------------------------------------------------
// Application wiring - storage, services, pipeline, handlers, scheduler
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/handlers"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/services/auth"
	"github.com/ternarybob/gusto/internal/services/events"
	"github.com/ternarybob/gusto/internal/services/jobs"
	"github.com/ternarybob/gusto/internal/services/llm"
	"github.com/ternarybob/gusto/internal/services/pipeline"
	"github.com/ternarybob/gusto/internal/services/places"
	"github.com/ternarybob/gusto/internal/services/scheduler"
	"github.com/ternarybob/gusto/internal/storage"
	"github.com/ternarybob/gusto/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Core services
	EventService     interfaces.EventService
	AuthService      interfaces.SessionAuthorizer
	PlacesService    interfaces.PlacesService
	SearchService    interfaces.SearchService
	SchedulerService interfaces.SchedulerService

	// Pipeline components
	ProviderFactory *llm.ProviderFactory
	Prompts         *pipeline.PromptRegistry
	Runner          *pipeline.Runner
	Narrator        *pipeline.Narrator

	// HTTP handlers
	SearchHandler *handlers.SearchHandler
	StreamHandler *handlers.AssistantStreamHandler
	PhotoHandler  *handlers.PhotoHandler
	HealthHandler *handlers.HealthHandler
	WSHandler     *handlers.WebSocketHandler

	logBridge *handlers.WebSocketLogBridge
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Event hub and WS console come up before the services that publish
	// through them
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, &cfg.WebSocket, app.Logger)

	app.logBridge = handlers.NewWebSocketLogBridge(app.WSHandler, &cfg.WebSocket)
	app.Logger.SetChannel("ws", app.logBridge.Channel())
	app.logBridge.Start()

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	logger.Info().
		Str("pipeline_version", cfg.Pipeline.Version).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger) and loads keys into
// the KV store
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	ctx := context.Background()
	kv := a.StorageManager.KeyValueStorage()

	// Seed defaults only where no value exists, so operator overrides
	// survive restarts
	for _, def := range common.GetDefaultKVValues() {
		if _, err := kv.Get(ctx, def.Key); err == nil {
			continue
		}
		if _, err := kv.Upsert(ctx, def.Key, def.Value, def.Description); err != nil {
			a.Logger.Warn().Err(err).Str("key", def.Key).Msg("Failed to seed default key")
		}
	}

	// Load keys from TOML files, then .env overrides
	if loader, ok := storageManager.(*badger.Manager); ok {
		if err := loader.LoadKeysFromFiles(ctx, a.Config.Keys.Dir); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to load keys from files")
		}
		if err := loader.LoadEnvFile(ctx, ".env"); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to load .env file")
		}
	}

	// {key-name} replacement in config values. Must run before the LLM
	// and places services capture their credentials.
	kvMap, err := kv.GetAll(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
	} else if len(kvMap) > 0 {
		if err := common.ReplaceInStruct(a.Config, kvMap, a.Logger); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to replace key references in config")
		} else {
			a.Logger.Debug().Int("keys", len(kvMap)).Msg("Applied key/value replacements to config")
		}
	}

	return nil
}

// initServices initializes business services in dependency order
func (a *App) initServices() error {
	a.AuthService = auth.NewService(a.Logger)

	// The provider factory tolerates missing credentials: stages fall back
	// to their deterministic paths when no model can be reached
	a.ProviderFactory = llm.NewProviderFactory(
		&a.Config.Gemini,
		&a.Config.Claude,
		&a.Config.LLM,
		a.StorageManager.KeyValueStorage(),
		a.Logger,
	)

	a.Prompts = pipeline.NewPromptRegistry(a.Config.Pipeline.PromptsDir, a.Logger)

	a.PlacesService = places.NewService(&a.Config.Places, a.StorageManager, a.Logger)
	a.Logger.Debug().Msg("Places service initialized")

	a.Runner = pipeline.NewRunner(
		a.ProviderFactory,
		a.Prompts,
		a.StorageManager.JobStorage(),
		a.PlacesService,
		a.EventService,
		a.AuthService,
		&a.Config.Pipeline,
		a.Logger,
	)

	stageTimeout := common.ParseDurationOr(a.Config.Pipeline.StageTimeout, 6*time.Second)
	a.Narrator = pipeline.NewNarrator(a.ProviderFactory, a.Prompts, stageTimeout, a.Logger)

	a.SearchService = jobs.NewService(
		a.StorageManager.JobStorage(),
		a.Runner,
		a.AuthService,
		&a.Config.Dedup,
		&a.Config.Jobs,
		a.Config.Pipeline.Version,
		a.Logger,
	)
	a.Logger.Debug().Msg("Search service initialized")

	return nil
}

// initHandlers initializes the HTTP handlers
func (a *App) initHandlers() error {
	a.SearchHandler = handlers.NewSearchHandler(a.SearchService, a.AuthService, a.Logger)
	a.StreamHandler = handlers.NewAssistantStreamHandler(a.SearchService, a.AuthService, a.Narrator, &a.Config.Stream, a.Logger)
	a.PhotoHandler = handlers.NewPhotoHandler(a.PlacesService, &a.Config.Photos, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(a.StorageManager, a.SearchService, a.Config, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// initScheduler registers the maintenance jobs and starts the cron runner
func (a *App) initScheduler() error {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled by configuration")
		return nil
	}

	sched := scheduler.NewService(a.Logger)
	jobStorage := a.StorageManager.JobStorage()

	if err := sched.RegisterJob(
		scheduler.JobCachePurge,
		a.Config.Scheduler.CachePurgeSchedule,
		"Purge expired provider cache entries",
		scheduler.CachePurgeHandler(a.StorageManager.CacheStorage(), a.Logger),
	); err != nil {
		return err
	}

	// RUNNING jobs silent for two heartbeat windows are presumed dead
	heartbeatWindow := common.ParseDurationOr(a.Config.Dedup.HeartbeatWindow, 45*time.Second)
	if err := sched.RegisterJob(
		scheduler.JobStaleSweep,
		a.Config.Scheduler.StaleSweepSchedule,
		"Fail RUNNING jobs with dead heartbeats",
		scheduler.StaleSweepHandler(jobStorage, heartbeatWindow*2, a.Logger),
	); err != nil {
		return err
	}

	jobTTL := common.ParseDurationOr(a.Config.Jobs.TTL, 24*time.Hour)
	if err := sched.RegisterJob(
		scheduler.JobTerminalPurge,
		a.Config.Scheduler.JobPurgeSchedule,
		"Delete terminal jobs past their retention",
		scheduler.TerminalPurgeHandler(jobStorage, jobTTL, a.Logger),
	); err != nil {
		return err
	}

	// Badger leaves value log reclamation to its caller
	if store, ok := a.StorageManager.DB().(*badgerhold.Store); ok {
		if err := sched.RegisterJob(
			scheduler.JobValueGC,
			a.Config.Scheduler.ValueGCSchedule,
			"Reclaim Badger value log space",
			scheduler.ValueLogGCHandler(store.Badger(), a.Logger),
		); err != nil {
			return err
		}
	}

	if err := sched.Start(); err != nil {
		return err
	}
	a.SchedulerService = sched

	return nil
}

// Close closes all application resources in reverse dependency order
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WSHandler != nil {
		if err := a.WSHandler.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close WebSocket hub")
		}
	}

	if a.logBridge != nil {
		if err := a.logBridge.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log bridge")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

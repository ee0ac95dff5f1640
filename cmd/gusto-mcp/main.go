package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/services/auth"
	"github.com/ternarybob/gusto/internal/services/events"
	"github.com/ternarybob/gusto/internal/services/jobs"
	"github.com/ternarybob/gusto/internal/services/llm"
	"github.com/ternarybob/gusto/internal/services/pipeline"
	"github.com/ternarybob/gusto/internal/services/places"
	"github.com/ternarybob/gusto/internal/storage"
	"github.com/ternarybob/gusto/internal/storage/badger"
)

func main() {
	// Load configuration
	configPath := os.Getenv("GUSTO_CONFIG")
	if configPath == "" {
		configPath = "gusto.toml"
	}

	// Phase 1: Load config without KV replacement (storage not initialized yet)
	config, err := common.LoadFromFile(nil, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Console-only warn logger; stdout carries the MCP protocol
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	// Initialize storage
	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storageManager.Close()

	// Phase 2: key files and {key-name} replacement, same order as the
	// HTTP server. The pipeline resolves provider credentials from the KV
	// store, so this must run before any service captures its config.
	ctx := context.Background()
	kv := storageManager.KeyValueStorage()
	for _, def := range common.GetDefaultKVValues() {
		if _, err := kv.Get(ctx, def.Key); err == nil {
			continue
		}
		if _, err := kv.Upsert(ctx, def.Key, def.Value, def.Description); err != nil {
			logger.Warn().Err(err).Str("key", def.Key).Msg("Failed to seed default key")
		}
	}
	if loader, ok := storageManager.(*badger.Manager); ok {
		if err := loader.LoadKeysFromFiles(ctx, config.Keys.Dir); err != nil {
			logger.Warn().Err(err).Msg("Failed to load keys from files")
		}
		if err := loader.LoadEnvFile(ctx, ".env"); err != nil {
			logger.Warn().Err(err).Msg("Failed to load .env file")
		}
	}
	if kvMap, err := kv.GetAll(ctx); err == nil && len(kvMap) > 0 {
		if err := common.ReplaceInStruct(config, kvMap, logger); err != nil {
			logger.Warn().Err(err).Msg("Failed to replace key references in config")
		}
	}

	// Wire the search pipeline in-process; no HTTP surface, no scheduler
	authService := auth.NewService(logger)
	eventService := events.NewService(logger)
	defer eventService.Close()

	providerFactory := llm.NewProviderFactory(&config.Gemini, &config.Claude, &config.LLM, kv, logger)
	prompts := pipeline.NewPromptRegistry(config.Pipeline.PromptsDir, logger)
	placesService := places.NewService(&config.Places, storageManager, logger)
	runner := pipeline.NewRunner(
		providerFactory,
		prompts,
		storageManager.JobStorage(),
		placesService,
		eventService,
		authService,
		&config.Pipeline,
		logger,
	)
	searchService := jobs.NewService(
		storageManager.JobStorage(),
		runner,
		authService,
		&config.Dedup,
		&config.Jobs,
		config.Pipeline.Version,
		logger,
	)

	// Create MCP server
	mcpServer := server.NewMCPServer(
		"gusto",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	// Register search tools
	mcpServer.AddTool(createSearchRestaurantsTool(), handleSearchRestaurants(searchService, logger))
	mcpServer.AddTool(createRecentSearchesTool(), handleRecentSearches(searchService, logger))

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}

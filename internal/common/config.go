package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gusto/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Places      PlacesConfig    `toml:"places"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Dedup       DedupConfig     `toml:"dedup"`
	Jobs        JobsConfig      `toml:"jobs"`
	Photos      PhotosConfig    `toml:"photos"`
	Stream      StreamConfig    `toml:"stream"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Keys        KeysDirConfig   `toml:"keys"` // Directory of TOML key files loaded into the KV store
}

type ServerConfig struct {
	Port         int    `toml:"port"`
	Host         string `toml:"host"`
	LegacySunset string `toml:"legacy_sunset"` // RFC 8594 Sunset date announced on the legacy /api mount
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// PlacesConfig contains the upstream Places API configuration
type PlacesConfig struct {
	APIKey            string        `toml:"api_key"`             // Upstream Places API key (never echoed to clients)
	SearchBaseURL     string        `toml:"search_base_url"`     // Text/nearby search endpoint base
	GeocodeBaseURL    string        `toml:"geocode_base_url"`    // Geocoding endpoint base
	PhotoBaseURL      string        `toml:"photo_base_url"`      // Photo media endpoint base
	RequestTimeout    time.Duration `toml:"request_timeout"`     // Per upstream call
	MaxResults        int           `toml:"max_results"`         // Pagination cap per search
	BiasRadiusMeters  int           `toml:"bias_radius_meters"`  // Default bias circle radius for geocoded cities
	CacheTTL          time.Duration `toml:"cache_ttl"`           // L2 result cache TTL
	CacheGuardTimeout time.Duration `toml:"cache_guard_timeout"` // Cache-wrap race timeout before direct fetch
	L1MaxEntries      int           `toml:"l1_max_entries"`      // In-process cache bound
	GeocodeTTL        time.Duration `toml:"geocode_ttl"`         // City geocode cache TTL
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // Default: "gemini-3-flash-preview"
	Timeout     string  `toml:"timeout"`     // Per-stage call timeout as duration string
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`      // Default: "claude-haiku-3-5-20241022"
	MaxTokens   int     `toml:"max_tokens"` // Maximum tokens in response
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude" (default: "gemini")
}

// PipelineConfig tunes the per-request search pipeline
type PipelineConfig struct {
	Deadline          string `toml:"deadline"`           // Hard deadline per search job (default "30s")
	HeartbeatInterval string `toml:"heartbeat_interval"` // Job heartbeat refresh cadence (default "15s")
	StageTimeout      string `toml:"stage_timeout"`      // Per LLM-stage timeout before deterministic fallback
	PromptsDir        string `toml:"prompts_dir"`        // Directory of YAML prompt templates
	Version           string `toml:"version"`            // Participates in idempotency keys and cache fingerprints

	// Deterministic ranking weight profiles; absent-signal weights are
	// forced to zero at scoring time regardless of these values.
	RelevanceWeights RankWeightsConfig `toml:"relevance_weights"`
	DistanceWeights  RankWeightsConfig `toml:"distance_weights"`
}

// RankWeightsConfig is one weighted-sum scoring profile
type RankWeightsConfig struct {
	Rating       float64 `toml:"rating"`
	Reviews      float64 `toml:"reviews"`
	Distance     float64 `toml:"distance"`
	OpenBoost    float64 `toml:"open_boost"`
	CuisineMatch float64 `toml:"cuisine_match"`
}

// DedupConfig tunes the idempotent-reuse decision
type DedupConfig struct {
	HeartbeatWindow string `toml:"heartbeat_window"` // RUNNING jobs older than this are presumed dead (default "45s")
	MaxAge          string `toml:"max_age"`          // RUNNING jobs older than this are never reused (default "5m")
}

// JobsConfig tunes job retention
type JobsConfig struct {
	TTL              string `toml:"ttl"`                // Terminal jobs older than this are purged (default "24h")
	SessionListLimit int    `toml:"session_list_limit"` // Max jobs returned by the per-session listing
}

// PhotosConfig tunes the photo proxy
type PhotosConfig struct {
	RatePerMinute int `toml:"rate_per_minute"` // Per-remote-address upstream budget
	MinWidthPx    int `toml:"min_width_px"`
	MaxWidthPx    int `toml:"max_width_px"`
	DefaultWidth  int `toml:"default_width"`
}

// StreamConfig tunes the assistant SSE stream
type StreamConfig struct {
	PollInterval string `toml:"poll_interval"` // Job store poll cadence while waiting (default "150ms")
	Timeout      string `toml:"timeout"`       // Give up waiting for a terminal state (default "35s")
}

// WebSocketConfig contains configuration for the WS event channel and log streaming
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns []string `toml:"exclude_patterns"` // Log message patterns to exclude from broadcasting
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	// Example: {"progress": "250ms"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// SchedulerConfig holds cron schedules for the maintenance jobs
type SchedulerConfig struct {
	Enabled            bool   `toml:"enabled"`
	CachePurgeSchedule string `toml:"cache_purge_schedule"` // Purge expired L2 cache entries
	StaleSweepSchedule string `toml:"stale_sweep_schedule"` // Fail RUNNING jobs with dead heartbeats
	JobPurgeSchedule   string `toml:"job_purge_schedule"`   // Delete terminal jobs past their TTL
	ValueGCSchedule    string `toml:"value_gc_schedule"`    // Reclaim Badger value log space
}

// KeysDirConfig contains configuration for key/value file loading
type KeysDirConfig struct {
	Dir string `toml:"dir"` // Directory containing key files (TOML), loaded into the KV store at startup
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in gusto.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         8080,
			Host:         "localhost",
			LegacySunset: "2026-12-31", // Announced on the legacy /api mount
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Places: PlacesConfig{
			APIKey:            "", // User must provide API key in config, env, or KV store
			SearchBaseURL:     "https://places.googleapis.com/v1",
			GeocodeBaseURL:    "https://maps.googleapis.com/maps/api/geocode/json",
			PhotoBaseURL:      "https://places.googleapis.com/v1",
			RequestTimeout:    8 * time.Second,
			MaxResults:        20, // Provider pagination cap
			BiasRadiusMeters:  20000,
			CacheTTL:          15 * time.Minute,
			CacheGuardTimeout: 10 * time.Second,
			L1MaxEntries:      512,
			GeocodeTTL:        24 * time.Hour,
		},
		Gemini: GeminiConfig{
			APIKey:      "",
			Model:       "gemini-3-flash-preview",
			Timeout:     "10s",
			Temperature: 0.2, // Classification favors determinism over creativity
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   2048,
			Timeout:     "10s",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Pipeline: PipelineConfig{
			Deadline:          "30s",
			HeartbeatInterval: "15s",
			StageTimeout:      "6s",
			PromptsDir:        "./prompts",
			Version:           "p1",
			RelevanceWeights: RankWeightsConfig{
				Rating:       0.35,
				Reviews:      0.25,
				Distance:     0.15,
				OpenBoost:    0.10,
				CuisineMatch: 0.15,
			},
			DistanceWeights: RankWeightsConfig{
				Rating:       0.20,
				Reviews:      0.10,
				Distance:     0.50,
				OpenBoost:    0.10,
				CuisineMatch: 0.10,
			},
		},
		Dedup: DedupConfig{
			HeartbeatWindow: "45s",
			MaxAge:          "5m",
		},
		Jobs: JobsConfig{
			TTL:              "24h",
			SessionListLimit: 20,
		},
		Photos: PhotosConfig{
			RatePerMinute: 60,
			MinWidthPx:    100,
			MaxWidthPx:    1600,
			DefaultWidth:  800,
		},
		Stream: StreamConfig{
			PollInterval: "150ms",
			Timeout:      "35s",
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
				"Publishing event",
			},
			// Empty AllowedEvents allows all events
			AllowedEvents: []string{},
			// Throttle high-frequency frames so a chatty pipeline cannot flood clients
			ThrottleIntervals: map[string]string{
				"progress":  "250ms",
				"narration": "250ms",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			CachePurgeSchedule: "*/10 * * * *", // Every 10 minutes
			StaleSweepSchedule: "* * * * *",    // Every minute
			JobPurgeSchedule:   "0 * * * *",    // Hourly
			ValueGCSchedule:    "30 * * * *",   // Hourly, offset from the job purge
		},
		Keys: KeysDirConfig{
			Dir: "./keys",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI.
// kvStorage can be nil (key replacement will be skipped).
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles(kvStorage)
	}
	return LoadFromFiles(kvStorage, path)
}

// LoadFromFiles loads configuration from multiple files, later files overriding
// earlier ones. Priority: CLI flags > environment variables > last config file >
// ... > first config file > defaults.
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Perform {key-name} replacement if KV storage is available
	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		if err != nil {
			logger := arbor.NewLogger()
			logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
		} else {
			logger := arbor.NewLogger()
			if err := ReplaceInStruct(config, kvMap, logger); err != nil {
				logger.Warn().Err(err).Msg("Failed to replace key references in config")
			}
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GUSTO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("GUSTO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GUSTO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if sunset := os.Getenv("GUSTO_SERVER_LEGACY_SUNSET"); sunset != "" {
		config.Server.LegacySunset = sunset
	}

	// Storage configuration
	if badgerPath := os.Getenv("GUSTO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("GUSTO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("GUSTO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("GUSTO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Places configuration
	if apiKey := os.Getenv("GUSTO_PLACES_API_KEY"); apiKey != "" {
		config.Places.APIKey = apiKey
	}
	if timeout := os.Getenv("GUSTO_PLACES_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Places.RequestTimeout = d
		}
	}
	if maxResults := os.Getenv("GUSTO_PLACES_MAX_RESULTS"); maxResults != "" {
		if mr, err := strconv.Atoi(maxResults); err == nil && mr > 0 {
			config.Places.MaxResults = mr
		}
	}
	if radius := os.Getenv("GUSTO_PLACES_BIAS_RADIUS_METERS"); radius != "" {
		if r, err := strconv.Atoi(radius); err == nil && r > 0 {
			config.Places.BiasRadiusMeters = r
		}
	}
	if ttl := os.Getenv("GUSTO_PLACES_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Places.CacheTTL = d
		}
	}

	// Gemini configuration
	if apiKey := os.Getenv("GUSTO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GUSTO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if timeout := os.Getenv("GUSTO_GEMINI_TIMEOUT"); timeout != "" {
		config.Gemini.Timeout = timeout
	}
	if temperature := os.Getenv("GUSTO_GEMINI_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.Gemini.Temperature = float32(t)
		}
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("GUSTO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // GUSTO_ prefix takes priority
	}
	if model := os.Getenv("GUSTO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("GUSTO_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = mt
		}
	}

	// LLM provider configuration
	if provider := os.Getenv("GUSTO_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}

	// Pipeline configuration
	if deadline := os.Getenv("GUSTO_PIPELINE_DEADLINE"); deadline != "" {
		config.Pipeline.Deadline = deadline
	}
	if heartbeat := os.Getenv("GUSTO_PIPELINE_HEARTBEAT_INTERVAL"); heartbeat != "" {
		config.Pipeline.HeartbeatInterval = heartbeat
	}
	if stageTimeout := os.Getenv("GUSTO_PIPELINE_STAGE_TIMEOUT"); stageTimeout != "" {
		config.Pipeline.StageTimeout = stageTimeout
	}
	if promptsDir := os.Getenv("GUSTO_PIPELINE_PROMPTS_DIR"); promptsDir != "" {
		config.Pipeline.PromptsDir = promptsDir
	}

	// Dedup configuration
	if window := os.Getenv("GUSTO_DEDUP_HEARTBEAT_WINDOW"); window != "" {
		config.Dedup.HeartbeatWindow = window
	}
	if maxAge := os.Getenv("GUSTO_DEDUP_MAX_AGE"); maxAge != "" {
		config.Dedup.MaxAge = maxAge
	}

	// Photos configuration
	if rate := os.Getenv("GUSTO_PHOTOS_RATE_PER_MINUTE"); rate != "" {
		if r, err := strconv.Atoi(rate); err == nil && r > 0 {
			config.Photos.RatePerMinute = r
		}
	}

	// Stream configuration
	if poll := os.Getenv("GUSTO_STREAM_POLL_INTERVAL"); poll != "" {
		config.Stream.PollInterval = poll
	}
	if timeout := os.Getenv("GUSTO_STREAM_TIMEOUT"); timeout != "" {
		config.Stream.Timeout = timeout
	}

	// Scheduler configuration
	if enabled := os.Getenv("GUSTO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}

	// Keys configuration
	if keysDir := os.Getenv("GUSTO_KEYS_DIR"); keysDir != "" {
		config.Keys.Dir = keysDir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ResolveAPIKey resolves an API key by name with environment variable priority.
// Resolution order: environment variables → KV store → config fallback → error.
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"places_api_key":    {"GUSTO_PLACES_API_KEY"},
		"gemini_api_key":    {"GUSTO_GEMINI_API_KEY"},
		"anthropic_api_key": {"GUSTO_CLAUDE_API_KEY"},
		"claude_api_key":    {"GUSTO_CLAUDE_API_KEY"},
	}

	// For Claude, also honor the standard ANTHROPIC_API_KEY env var
	if name == "anthropic_api_key" || name == "claude_api_key" {
		if envValue := os.Getenv("ANTHROPIC_API_KEY"); envValue != "" {
			return envValue, nil
		}
	}

	if envVarNames, hasMappedEnv := keyToEnvMapping[name]; hasMappedEnv {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	// KV store (medium priority - operator-set variables)
	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment, KV store, or config", name)
}

// ParseDurationOr parses a duration string, returning the fallback when the
// value is empty or malformed. Config durations stored as strings route
// through here so a bad value degrades to a sane default instead of failing.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

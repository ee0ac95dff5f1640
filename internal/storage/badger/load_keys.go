package badger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
)

// KeyFile represents one entry in a keys TOML file.
// Format:
//
//	[places_api_key]
//	value = "some-value"
//	description = "optional description"
type KeyFile struct {
	Value       string `toml:"value"`
	Description string `toml:"description"`
}

// LoadKeysFromFiles loads API keys and other secrets from TOML files into
// the KV store at startup. It first checks for a keys.toml file directly in
// the given directory, then loads any additional .toml files found there.
// Environment variables still win at resolution time (see ResolveAPIKey);
// this only seeds the store so keys survive restarts.
func LoadKeysFromFiles(ctx context.Context, kv interfaces.KeyValueStorage, dirPath string, logger arbor.ILogger) error {
	if dirPath == "" {
		return nil
	}

	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		logger.Debug().Str("dir", dirPath).Msg("Keys directory not found, skipping")
		return nil
	}

	logger.Debug().Str("dir", dirPath).Msg("Loading keys from files")

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read keys directory")
		return nil
	}

	loadedCount := 0
	skippedCount := 0
	errorCount := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		loaded, skipped, errs := loadKeysFromFile(ctx, kv, filepath.Join(dirPath, entry.Name()), logger)
		loadedCount += loaded
		skippedCount += skipped
		errorCount += errs
	}

	logger.Debug().
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", errorCount).
		Msg("Finished loading keys from files")

	return nil
}

// loadKeysFromFile loads keys from a single TOML file
func loadKeysFromFile(ctx context.Context, kv interfaces.KeyValueStorage, filePath string, logger arbor.ILogger) (loaded, skipped, errors int) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		logger.Warn().Err(err).Str("file", filePath).Msg("Failed to read key file")
		return 0, 0, 1
	}

	// Map of section name (key) to KeyFile struct
	var keys map[string]KeyFile
	if err := toml.Unmarshal(content, &keys); err != nil {
		logger.Warn().Err(err).Str("file", filePath).Msg("Failed to parse key file")
		return 0, 0, 1
	}

	fileName := filepath.Base(filePath)
	for key, entry := range keys {
		if entry.Value == "" {
			logger.Warn().Str("file", fileName).Str("key", key).Msg("Skipping key with empty value")
			skipped++
			continue
		}

		description := entry.Description
		if description == "" {
			description = "Loaded from " + fileName
		}

		isNew, err := kv.Upsert(ctx, key, entry.Value, description)
		if err != nil {
			logger.Error().Err(err).Str("key", key).Msg("Failed to store key")
			errors++
			continue
		}

		// Never log key values
		if isNew {
			logger.Debug().Str("key", key).Msg("Loaded new key")
		} else {
			logger.Debug().Str("key", key).Msg("Updated existing key")
		}
		loaded++
	}

	return loaded, skipped, errors
}

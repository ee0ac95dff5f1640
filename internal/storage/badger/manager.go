package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	job    interfaces.SearchJobStorage
	kv     interfaces.KeyValueStorage
	cache  interfaces.CacheStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		job:    NewJobStorage(db, logger),
		kv:     NewKVStorage(db, logger),
		cache:  NewCacheStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the search job storage interface
func (m *Manager) JobStorage() interfaces.SearchJobStorage {
	return m.job
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// CacheStorage returns the TTL cache storage interface
func (m *Manager) CacheStorage() interfaces.CacheStorage {
	return m.cache
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// LoadKeysFromFiles loads key/value pairs from TOML files in the keys
// directory into the KV store at startup.
func (m *Manager) LoadKeysFromFiles(ctx context.Context, dirPath string) error {
	return LoadKeysFromFiles(ctx, m.kv, dirPath, m.logger)
}

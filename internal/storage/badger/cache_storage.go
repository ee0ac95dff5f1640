package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// CacheEntry is a TTL-bound value in the result cache. Entries are opaque
// bytes keyed by the provider gateway fingerprint (or geocode city key).
type CacheEntry struct {
	Key       string `badgerhold:"key"`
	Value     []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the entry's TTL has elapsed at the given instant
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// CacheStorage implements the CacheStorage interface for Badger.
// Expiry is enforced on read (lazy eviction) and by the scheduled purge;
// a stale entry is never served even if the purge has not run yet.
type CacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCacheStorage creates a new CacheStorage instance
func NewCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CacheStorage {
	return &CacheStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the value and true when present and unexpired. Expired entries
// are evicted on the way out.
func (s *CacheStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry CacheEntry
	if err := s.db.Store().Get(key, &entry); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		if err := s.db.Store().Delete(key, &CacheEntry{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to evict expired cache entry")
		}
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a value with a TTL. Non-positive TTLs are rejected rather than
// silently stored as already-expired entries.
func (s *CacheStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	now := time.Now()
	entry := CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.db.Store().Upsert(key, entry); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete removes an entry (explicit eviction)
func (s *CacheStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.Store().Delete(key, &CacheEntry{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// PurgeExpired removes expired entries, returning the count removed. Expiry
// comparison runs in memory over the full set; the cache is bounded by the
// provider TTLs so the scan stays small.
func (s *CacheStorage) PurgeExpired(ctx context.Context) (int, error) {
	var entries []CacheEntry
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	now := time.Now()
	purged := 0
	for i := range entries {
		if !entries[i].Expired(now) {
			continue
		}
		if err := s.db.Store().Delete(entries[i].Key, &CacheEntry{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", entries[i].Key).Msg("Failed to purge cache entry")
			continue
		}
		purged++
	}

	if purged > 0 {
		s.logger.Debug().Int("purged_count", purged).Msg("BadgerDB: Purged expired cache entries")
	}
	return purged, nil
}

// Count returns the number of live (unexpired) entries
func (s *CacheStorage) Count(ctx context.Context) (int, error) {
	var entries []CacheEntry
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}

	now := time.Now()
	live := 0
	for i := range entries {
		if !entries[i].Expired(now) {
			live++
		}
	}
	return live, nil
}

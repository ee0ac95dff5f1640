package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestCacheStorage_SetGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := cache.Set(ctx, "fp:abc", []byte(`{"results":[]}`), time.Minute); err != nil {
		t.Fatalf("Failed to set cache entry: %v", err)
	}

	value, found, err := cache.Get(ctx, "fp:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected cache hit")
	}
	if string(value) != `{"results":[]}` {
		t.Errorf("Unexpected cached value: %s", value)
	}
}

func TestCacheStorage_MissOnUnknownKey(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())

	_, found, err := cache.Get(context.Background(), "fp:unknown")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected cache miss for unknown key")
	}
}

func TestCacheStorage_ExpiredEntryIsEvictedOnRead(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// Plant an already-expired entry directly; Set rejects non-positive TTLs
	entry := CacheEntry{
		Key:       "fp:expired",
		Value:     []byte("stale"),
		ExpiresAt: time.Now().Add(-time.Second),
		CreatedAt: time.Now().Add(-time.Minute),
	}
	if err := db.Store().Upsert(entry.Key, entry); err != nil {
		t.Fatal(err)
	}

	_, found, err := cache.Get(ctx, "fp:expired")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected expired entry to be a miss")
	}

	// The read should have evicted it
	var gone CacheEntry
	if err := db.Store().Get("fp:expired", &gone); err == nil {
		t.Error("Expected expired entry to be evicted on read")
	}
}

func TestCacheStorage_RejectsNonPositiveTTL(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())

	if err := cache.Set(context.Background(), "fp:bad", []byte("x"), 0); err == nil {
		t.Error("Expected error for zero TTL")
	}
	if err := cache.Set(context.Background(), "fp:bad", []byte("x"), -time.Second); err == nil {
		t.Error("Expected error for negative TTL")
	}
}

func TestCacheStorage_PurgeExpired(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := cache.Set(ctx, "fp:live", []byte("live"), time.Hour); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"fp:dead-1", "fp:dead-2"} {
		entry := CacheEntry{
			Key:       key,
			Value:     []byte("stale"),
			ExpiresAt: time.Now().Add(-time.Minute),
			CreatedAt: time.Now().Add(-time.Hour),
		}
		if err := db.Store().Upsert(entry.Key, entry); err != nil {
			t.Fatal(err)
		}
	}

	purged, err := cache.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if purged != 2 {
		t.Errorf("Expected 2 purged entries, got %d", purged)
	}

	count, err := cache.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 live entry after purge, got %d", count)
	}

	_, found, err := cache.Get(ctx, "fp:live")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("Expected live entry to survive purge")
	}
}

func TestCacheStorage_DeleteIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := cache.Set(ctx, "fp:del", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := cache.Delete(ctx, "fp:del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Second delete of a missing key must not error
	if err := cache.Delete(ctx, "fp:del"); err != nil {
		t.Fatalf("Repeated delete failed: %v", err)
	}

	_, found, _ := cache.Get(ctx, "fp:del")
	if found {
		t.Error("Expected deleted entry to be gone")
	}
}

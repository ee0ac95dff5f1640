package places

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// cachedOutcome is the serialized form of a search result in both cache
// tiers. Provenance (ServedFrom) is attached on read, never stored.
type cachedOutcome struct {
	Results       []models.Place `json:"results"`
	Pages         int            `json:"pages"`
	DroppedClosed int            `json:"dropped_closed"`
}

// l1Entry is one in-process cache slot
type l1Entry struct {
	outcome   cachedOutcome
	expiresAt time.Time
}

// l1Cache is the bounded in-process tier. Eviction is FIFO: precision
// doesn't matter at this size, staying allocation-free on the read path does.
type l1Cache struct {
	mu      sync.Mutex
	entries map[string]l1Entry
	order   []string
	max     int
}

func newL1Cache(maxEntries int) *l1Cache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &l1Cache{
		entries: make(map[string]l1Entry),
		max:     maxEntries,
	}
}

func (c *l1Cache) get(key string, now time.Time) (cachedOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return cachedOutcome{}, false
	}
	if !entry.expiresAt.After(now) {
		delete(c.entries, key)
		return cachedOutcome{}, false
	}
	return entry.outcome, true
}

func (c *l1Cache) put(key string, outcome cachedOutcome, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.max && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = l1Entry{outcome: outcome, expiresAt: expiresAt}
}

func (c *l1Cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// resultCache wraps the fetch path in two tiers: L1 in-process, L2 badger.
// Every L2 interaction races a guard timeout; when the store is slow the
// caller proceeds as a miss (reads) or abandons the write, with a warning,
// rather than stalling the pipeline.
type resultCache struct {
	l1     *l1Cache
	l2     interfaces.CacheStorage
	ttl    time.Duration
	guard  time.Duration
	logger arbor.ILogger
}

func newResultCache(l2 interfaces.CacheStorage, ttl, guard time.Duration, l1MaxEntries int, logger arbor.ILogger) *resultCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if guard <= 0 {
		guard = 10 * time.Second
	}
	return &resultCache{
		l1:     newL1Cache(l1MaxEntries),
		l2:     l2,
		ttl:    ttl,
		guard:  guard,
		logger: logger,
	}
}

// Get returns the cached outcome for a fingerprint. Results are deep-ish
// copies: callers own the slice and may reorder it freely.
func (c *resultCache) Get(ctx context.Context, fingerprint string) (*cachedOutcome, bool) {
	now := time.Now()

	if outcome, ok := c.l1.get(fingerprint, now); ok {
		return copyOutcome(outcome), true
	}

	data, ok := c.l2Get(ctx, fingerprint)
	if !ok {
		return nil, false
	}

	var outcome cachedOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint[:12]).Msg("Discarding undecodable cache entry")
		return nil, false
	}

	// Promote to L1 with the remaining-unknown TTL; full TTL is the
	// worst case and only affects the in-process tier.
	c.l1.put(fingerprint, outcome, now.Add(c.ttl))
	return copyOutcome(outcome), true
}

// Put stores the outcome in both tiers
func (c *resultCache) Put(ctx context.Context, fingerprint string, outcome *cachedOutcome) {
	now := time.Now()
	c.l1.put(fingerprint, *copyOutcome(*outcome), now.Add(c.ttl))

	data, err := json.Marshal(outcome)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode cache entry")
		return
	}
	c.l2Put(ctx, fingerprint, data)
}

// l2Get reads the badger tier, racing the guard timeout
func (c *resultCache) l2Get(ctx context.Context, key string) ([]byte, bool) {
	type readResult struct {
		value []byte
		found bool
		err   error
	}
	ch := make(chan readResult, 1)
	go func() {
		value, found, err := c.l2.Get(ctx, key)
		ch <- readResult{value, found, err}
	}()

	timer := time.NewTimer(c.guard)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			c.logger.Warn().Err(r.err).Msg("Result cache read failed")
			return nil, false
		}
		return r.value, r.found
	case <-timer.C:
		c.logger.Warn().Dur("guard", c.guard).Msg("Result cache read raced out, proceeding to upstream")
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// l2Put writes the badger tier, racing the guard timeout. A raced-out
// write finishes in the background; the entry may still land.
func (c *resultCache) l2Put(ctx context.Context, key string, data []byte) {
	ch := make(chan error, 1)
	go func() {
		ch <- c.l2.Set(ctx, key, data, c.ttl)
	}()

	timer := time.NewTimer(c.guard)
	defer timer.Stop()

	select {
	case err := <-ch:
		if err != nil {
			c.logger.Warn().Err(err).Msg("Result cache write failed")
		}
	case <-timer.C:
		c.logger.Warn().Dur("guard", c.guard).Msg("Result cache write raced out")
	case <-ctx.Done():
	}
}

func copyOutcome(outcome cachedOutcome) *cachedOutcome {
	results := make([]models.Place, len(outcome.Results))
	copy(results, outcome.Results)
	return &cachedOutcome{
		Results:       results,
		Pages:         outcome.Pages,
		DroppedClosed: outcome.DroppedClosed,
	}
}

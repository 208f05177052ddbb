// Package resultcache stores search results keyed by a normalized query and
// filter signature, expiring them after a fixed TTL. Writes are best effort:
// a failed write never fails the search that produced the results.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/l0p7/recipectl/internal/metrics"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/storage"
)

const (
	DefaultTTL = time.Hour
	keyPrefix  = "recipe_cache:"
)

// Entry is the persisted form of a cached search.
type Entry struct {
	Query    string           `json:"query"`
	Filters  recipe.FilterSet `json:"filters"`
	Results  []recipe.Hit     `json:"results"`
	StoredAt time.Time        `json:"storedAt"`
}

// Options configures a Cache.
type Options struct {
	Store     storage.Store
	TTL       time.Duration
	Namespace string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Stats summarises cache usage. Hits and misses count lookups made by this
// process only.
type Stats struct {
	Entries int   `json:"entries"`
	Expired int   `json:"expired"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

type Cache struct {
	store   storage.Store
	ttl     time.Duration
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Recorder

	hits   atomic.Int64
	misses atomic.Int64
}

func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("resultcache: store required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   opts.Store,
		ttl:     ttl,
		prefix:  opts.Namespace + keyPrefix,
		logger:  logger.With(slog.String("agent", "result_cache")),
		metrics: opts.Metrics,
	}, nil
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Key derives the deterministic signature for a search. The filter set is a
// fixed struct, so the encoding does not depend on how callers assembled it.
func Key(query string, filters recipe.FilterSet) string {
	payload, _ := json.Marshal(struct {
		Query   string           `json:"q"`
		Filters recipe.FilterSet `json:"f"`
	}{
		Query:   recipe.NormalizeQuery(query),
		Filters: filters.Normalize(),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) storageKey(query string, filters recipe.FilterSet) string {
	return c.prefix + Key(query, filters)
}

// Get returns cached results while now-storedAt < TTL. Stale or unreadable
// entries are deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, query string, filters recipe.FilterSet, now time.Time) ([]recipe.Hit, bool) {
	start := time.Now()
	key := c.storageKey(query, filters)
	payload, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", slog.String("cache_key", key), slog.Any("error", err))
		c.metrics.ObserveCacheLookup(metrics.CacheLookupError, time.Since(start))
		c.misses.Add(1)
		return nil, false
	}
	if !ok {
		c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss, time.Since(start))
		c.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		c.logger.Warn("discarding unreadable cache entry", slog.String("cache_key", key), slog.Any("error", err))
		c.purge(ctx, key)
		c.metrics.ObserveCacheLookup(metrics.CacheLookupError, time.Since(start))
		c.misses.Add(1)
		return nil, false
	}
	if c.expired(entry, now) {
		c.purge(ctx, key)
		c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss, time.Since(start))
		c.misses.Add(1)
		return nil, false
	}

	c.metrics.ObserveCacheLookup(metrics.CacheLookupHit, time.Since(start))
	c.hits.Add(1)
	if entry.Results == nil {
		entry.Results = []recipe.Hit{}
	}
	return entry.Results, true
}

// Put writes results with a fresh storedAt, replacing any previous entry. On
// a quota failure it sweeps expired entries and retries once. The return
// value reports whether the entry was persisted.
func (c *Cache) Put(ctx context.Context, query string, filters recipe.FilterSet, results []recipe.Hit, now time.Time) bool {
	start := time.Now()
	key := c.storageKey(query, filters)
	if results == nil {
		results = []recipe.Hit{}
	}
	payload, err := json.Marshal(Entry{
		Query:    recipe.NormalizeQuery(query),
		Filters:  filters.Normalize(),
		Results:  results,
		StoredAt: now.UTC(),
	})
	if err != nil {
		c.logger.Error("cache entry encode failed", slog.String("cache_key", key), slog.Any("error", err))
		c.metrics.ObserveCacheStore(metrics.CacheStoreError, time.Since(start))
		return false
	}

	err = c.store.Set(ctx, key, payload)
	if errors.Is(err, storage.ErrQuotaExceeded) {
		removed, sweepErr := c.EvictExpired(ctx, now)
		if sweepErr != nil {
			c.logger.Warn("cache sweep after quota failure failed", slog.Any("error", sweepErr))
		}
		c.logger.Info("cache quota reached, evicted expired entries", slog.Int("removed", removed))
		err = c.store.Set(ctx, key, payload)
	}
	if err != nil {
		outcome := metrics.CacheStoreError
		if errors.Is(err, storage.ErrQuotaExceeded) {
			outcome = metrics.CacheStoreQuota
		}
		c.metrics.ObserveCacheStore(outcome, time.Since(start))
		c.logger.Warn("cache store failed", slog.String("cache_key", key), slog.Any("error", err))
		return false
	}
	c.metrics.ObserveCacheStore(metrics.CacheStoreStored, time.Since(start))
	return true
}

// EvictExpired removes every expired or unreadable entry under the cache
// namespace and returns how many were deleted.
func (c *Cache) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	removed, err := c.sweep(ctx, func(entry Entry, readable bool) bool {
		return !readable || c.expired(entry, now)
	})
	c.metrics.ObserveCacheEviction(removed, time.Since(start))
	return removed, err
}

// Clear removes every cache entry regardless of age.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	return c.sweep(ctx, func(Entry, bool) bool { return true })
}

// Stats counts entries under the namespace, flagging those already expired.
func (c *Cache) Stats(ctx context.Context, now time.Time) (Stats, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	for _, key := range keys {
		entry, found, readable, err := c.read(ctx, key)
		if err != nil {
			return Stats{}, err
		}
		if !found {
			continue
		}
		stats.Entries++
		if !readable || c.expired(entry, now) {
			stats.Expired++
		}
	}
	return stats, nil
}

func (c *Cache) sweep(ctx context.Context, shouldDelete func(Entry, bool) bool) (int, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, key := range keys {
		entry, found, readable, err := c.read(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found || !shouldDelete(entry, readable) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// read loads an entry; keys deleted between listing and reading come back
// as not found.
func (c *Cache) read(ctx context.Context, key string) (entry Entry, found, readable bool, err error) {
	payload, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, false, err
	}
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, true, false, nil
	}
	return entry, true, true, nil
}

func (c *Cache) expired(entry Entry, now time.Time) bool {
	return now.Sub(entry.StoredAt) >= c.ttl
}

func (c *Cache) purge(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache purge failed", slog.String("cache_key", key), slog.Any("error", err))
	}
}

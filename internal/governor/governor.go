// Package governor decides whether a recipe search is served from cache,
// admitted to the provider, or rejected with a wait time.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/recipectl/internal/clock"
	"github.com/l0p7/recipectl/internal/metrics"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/storage"
	"github.com/l0p7/recipectl/internal/upstream"
)

// LimiterWindowKey holds the persisted limiter window when persistence is on.
const LimiterWindowKey = "ratelimit:window"

// ResultCache is the slice of *resultcache.Cache the governor needs.
type ResultCache interface {
	Get(ctx context.Context, query string, filters recipe.FilterSet, now time.Time) ([]recipe.Hit, bool)
	Put(ctx context.Context, query string, filters recipe.FilterSet, results []recipe.Hit, now time.Time) bool
}

// Limiter is the slice of *limiter.SlidingWindow the governor needs.
type Limiter interface {
	CanAdmit(now time.Time) bool
	Record(now time.Time)
	TimeUntilNextSlot(now time.Time) time.Duration
	RemainingCapacity(now time.Time) int
	MaxRequests() int
	Window() time.Duration
}

// Fetcher issues provider requests. *upstream.Client satisfies it.
type Fetcher interface {
	Search(ctx context.Context, query string, filters recipe.FilterSet) (*upstream.Response, error)
}

type reloader interface {
	Reload(upstream.Config) error
}

type windowSnapshotter interface {
	Snapshot() []time.Time
	Restore([]time.Time)
}

type Options struct {
	Cache    ResultCache
	Limiter  Limiter
	Upstream Fetcher
	Clock    clock.Clock
	// Store receives the limiter window when PersistLimiter is set.
	Store          storage.Store
	PersistLimiter bool
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
}

// Result is a successful search. Remaining is only populated for network
// searches; cache hits never consult the limiter.
type Result struct {
	Hits      []recipe.Hit
	FromCache bool
	Remaining int
}

// Status reports limiter capacity for diagnostics.
type Status struct {
	Remaining   int
	MaxRequests int
	Window      time.Duration
	NextSlot    time.Duration
}

type Governor struct {
	cache    ResultCache
	limiter  Limiter
	upstream Fetcher
	clock    clock.Clock
	store    storage.Store
	persist  bool
	logger   *slog.Logger
	metrics  *metrics.Recorder

	// admission serialises CanAdmit and Record so two callers cannot both
	// claim the last slot.
	admission sync.Mutex
}

func New(ctx context.Context, opts Options) (*Governor, error) {
	if opts.Cache == nil {
		return nil, errors.New("governor: result cache required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("governor: limiter required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("governor: upstream required")
	}
	if opts.PersistLimiter && opts.Store == nil {
		return nil, errors.New("governor: limiter persistence requires a store")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Governor{
		cache:    opts.Cache,
		limiter:  opts.Limiter,
		upstream: opts.Upstream,
		clock:    clk,
		store:    opts.Store,
		persist:  opts.PersistLimiter,
		logger:   logger.With(slog.String("agent", "governor")),
		metrics:  opts.Metrics,
	}
	if g.persist {
		g.restoreWindow(ctx)
	}
	return g, nil
}

// Search resolves query and filters to a result list. It never retries.
func (g *Governor) Search(ctx context.Context, query string, filters recipe.FilterSet) (Result, error) {
	start := time.Now()
	result, err := g.search(ctx, query, filters)
	outcome := "success"
	if kind, ok := KindOf(err); ok {
		outcome = string(kind)
	}
	g.metrics.ObserveSearch(outcome, result.FromCache, time.Since(start))
	return result, err
}

func (g *Governor) search(ctx context.Context, query string, filters recipe.FilterSet) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, &SearchError{Kind: KindInvalidInput}
	}
	filters = filters.Normalize()
	logger := g.logger.With(slog.String("query", query))

	now := g.clock.Now()
	if hits, ok := g.cache.Get(ctx, query, filters, now); ok {
		logger.Debug("search served from cache", slog.Int("hits", len(hits)))
		return Result{Hits: hits, FromCache: true}, nil
	}

	if wait, admitted := g.admit(ctx, now); !admitted {
		seconds := int(math.Ceil(wait.Seconds()))
		logger.Info("search denied by client rate limit", slog.Int("wait_seconds", seconds))
		return Result{}, &SearchError{Kind: KindRateLimited, Source: SourceClient, WaitSeconds: seconds}
	}

	resp, err := g.upstream.Search(ctx, query, filters)
	if err != nil {
		logger.Warn("provider request failed", slog.Any("error", err))
		return Result{}, &SearchError{Kind: KindNetwork, Err: err}
	}
	if classified := classify(resp); classified != nil {
		logger.Warn("provider rejected search",
			slog.Int("status", resp.Status),
			slog.String("kind", string(classified.Kind)),
		)
		return Result{}, classified
	}

	hits, err := upstream.DecodeHits(resp.Body)
	if err != nil {
		logger.Warn("provider payload unreadable", slog.Int("status", resp.Status), slog.Any("error", err))
		return Result{}, &SearchError{Kind: KindHTTP, Status: resp.Status, Err: err}
	}

	g.cache.Put(ctx, query, filters, hits, g.clock.Now())
	remaining := g.limiter.RemainingCapacity(g.clock.Now())
	logger.Debug("search fetched from provider", slog.Int("hits", len(hits)), slog.Int("remaining", remaining))
	return Result{Hits: hits, Remaining: remaining}, nil
}

// admit claims a slot before the provider is contacted so failed calls are
// still billed.
func (g *Governor) admit(ctx context.Context, now time.Time) (time.Duration, bool) {
	g.admission.Lock()
	defer g.admission.Unlock()

	if !g.limiter.CanAdmit(now) {
		wait := g.limiter.TimeUntilNextSlot(now)
		g.metrics.ObserveLimiter(metrics.LimiterDenied, 0)
		return wait, false
	}
	g.limiter.Record(now)
	g.metrics.ObserveLimiter(metrics.LimiterAdmitted, g.limiter.RemainingCapacity(now))
	if g.persist {
		g.saveWindow(ctx)
	}
	return 0, true
}

func classify(resp *upstream.Response) *SearchError {
	if resp.OK() {
		return nil
	}
	switch resp.Status {
	case http.StatusTooManyRequests:
		wait := DefaultServerWait
		if resp.RetryAfter > 0 {
			wait = int(math.Ceil(resp.RetryAfter.Seconds()))
		}
		return &SearchError{Kind: KindRateLimited, Source: SourceServer, WaitSeconds: wait, Status: resp.Status}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &SearchError{Kind: KindAuthentication, Status: resp.Status}
	case http.StatusNotFound:
		return &SearchError{Kind: KindEndpointNotFound, Status: resp.Status}
	default:
		return &SearchError{Kind: KindHTTP, Status: resp.Status}
	}
}

// Status reports the limiter state at the current clock reading.
func (g *Governor) Status() Status {
	now := g.clock.Now()
	g.admission.Lock()
	defer g.admission.Unlock()
	return Status{
		Remaining:   g.limiter.RemainingCapacity(now),
		MaxRequests: g.limiter.MaxRequests(),
		Window:      g.limiter.Window(),
		NextSlot:    g.limiter.TimeUntilNextSlot(now),
	}
}

// Reload swaps provider credentials or endpoint for later searches.
func (g *Governor) Reload(cfg upstream.Config) error {
	r, ok := g.upstream.(reloader)
	if !ok {
		return errors.New("governor: upstream does not support reload")
	}
	if err := r.Reload(cfg); err != nil {
		return fmt.Errorf("governor: reload upstream: %w", err)
	}
	g.logger.Info("upstream configuration reloaded")
	return nil
}

func (g *Governor) restoreWindow(ctx context.Context) {
	snap, ok := g.limiter.(windowSnapshotter)
	if !ok {
		g.logger.Warn("limiter does not support persistence")
		return
	}
	payload, found, err := g.store.Get(ctx, LimiterWindowKey)
	if err != nil {
		g.logger.Warn("limiter window restore failed", slog.Any("error", err))
		return
	}
	if !found {
		return
	}
	var timestamps []time.Time
	if err := json.Unmarshal(payload, &timestamps); err != nil {
		g.logger.Warn("discarding unreadable limiter window", slog.Any("error", err))
		return
	}
	snap.Restore(timestamps)
}

func (g *Governor) saveWindow(ctx context.Context) {
	snap, ok := g.limiter.(windowSnapshotter)
	if !ok {
		return
	}
	payload, err := json.Marshal(snap.Snapshot())
	if err != nil {
		g.logger.Warn("limiter window encode failed", slog.Any("error", err))
		return
	}
	if err := g.store.Set(ctx, LimiterWindowKey, payload); err != nil {
		g.logger.Warn("limiter window persist failed", slog.Any("error", err))
	}
}

package governor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/recipectl/internal/clock"
	"github.com/l0p7/recipectl/internal/limiter"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/resultcache"
	"github.com/l0p7/recipectl/internal/storage"
	"github.com/l0p7/recipectl/internal/upstream"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const twoHits = `{"count":2,"hits":[
	{"recipe":{"uri":"urn:r1","label":"Pasta One"}},
	{"recipe":{"uri":"urn:r2","label":"Pasta Two"}}
]}`

type countingLimiter struct {
	*limiter.SlidingWindow
	mu       sync.Mutex
	canAdmit int
	record   int
}

func (c *countingLimiter) CanAdmit(now time.Time) bool {
	c.mu.Lock()
	c.canAdmit++
	c.mu.Unlock()
	return c.SlidingWindow.CanAdmit(now)
}

func (c *countingLimiter) Record(now time.Time) {
	c.mu.Lock()
	c.record++
	c.mu.Unlock()
	c.SlidingWindow.Record(now)
}

func (c *countingLimiter) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAdmit, c.record
}

type countingCache struct {
	*resultcache.Cache
	gets atomic.Int32
	puts atomic.Int32
}

func (c *countingCache) Get(ctx context.Context, q string, f recipe.FilterSet, now time.Time) ([]recipe.Hit, bool) {
	c.gets.Add(1)
	return c.Cache.Get(ctx, q, f, now)
}

func (c *countingCache) Put(ctx context.Context, q string, f recipe.FilterSet, hits []recipe.Hit, now time.Time) bool {
	c.puts.Add(1)
	return c.Cache.Put(ctx, q, f, hits, now)
}

type scriptedFetcher struct {
	mu          sync.Mutex
	calls       int
	resp        *upstream.Response
	err         error
	lastQuery   string
	lastFilters recipe.FilterSet
}

func (f *scriptedFetcher) Search(_ context.Context, query string, filters recipe.FilterSet) (*upstream.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQuery = query
	f.lastFilters = filters
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okResponse(body string) *upstream.Response {
	return &upstream.Response{Status: http.StatusOK, Body: []byte(body)}
}

type fixture struct {
	gov     *Governor
	clock   *clock.Manual
	limiter *countingLimiter
	cache   *countingCache
	fetcher *scriptedFetcher
	store   storage.Store
}

func newFixture(t *testing.T, max int, resp *upstream.Response) *fixture {
	t.Helper()
	store := storage.NewMemory(0)
	sw, err := limiter.New(limiter.Config{Window: time.Minute, MaxRequests: max})
	require.NoError(t, err)
	rc, err := resultcache.New(resultcache.Options{Store: store})
	require.NoError(t, err)

	f := &fixture{
		clock:   clock.NewManual(t0),
		limiter: &countingLimiter{SlidingWindow: sw},
		cache:   &countingCache{Cache: rc},
		fetcher: &scriptedFetcher{resp: resp},
		store:   store,
	}
	f.gov, err = New(context.Background(), Options{
		Cache:    f.cache,
		Limiter:  f.limiter,
		Upstream: f.fetcher,
		Clock:    f.clock,
	})
	require.NoError(t, err)
	return f
}

func requireKind(t *testing.T, err error, kind Kind) *SearchError {
	t.Helper()
	var searchErr *SearchError
	require.ErrorAs(t, err, &searchErr)
	require.Equal(t, kind, searchErr.Kind)
	return searchErr
}

func TestNewValidatesCollaborators(t *testing.T) {
	sw, _ := limiter.New(limiter.Config{})
	rc, _ := resultcache.New(resultcache.Options{Store: storage.NewMemory(0)})
	ctx := context.Background()

	_, err := New(ctx, Options{Limiter: sw, Upstream: &scriptedFetcher{}})
	require.Error(t, err)
	_, err = New(ctx, Options{Cache: rc, Upstream: &scriptedFetcher{}})
	require.Error(t, err)
	_, err = New(ctx, Options{Cache: rc, Limiter: sw})
	require.Error(t, err)
	_, err = New(ctx, Options{Cache: rc, Limiter: sw, Upstream: &scriptedFetcher{}, PersistLimiter: true})
	require.Error(t, err)
}

func TestEmptyQueryTouchesNothing(t *testing.T) {
	f := newFixture(t, 10, okResponse(twoHits))

	_, err := f.gov.Search(context.Background(), "   \t", recipe.FilterSet{Diet: "balanced"})
	requireKind(t, err, KindInvalidInput)
	require.ErrorIs(t, err, ErrInvalidInput)

	canAdmit, record := f.limiter.counts()
	assert.Zero(t, canAdmit)
	assert.Zero(t, record)
	assert.Zero(t, f.cache.gets.Load())
	assert.Zero(t, f.cache.puts.Load())
	assert.Zero(t, f.fetcher.callCount())
}

func TestSuccessfulSearchPopulatesCacheAndReportsRemaining(t *testing.T) {
	f := newFixture(t, 10, okResponse(twoHits))
	ctx := context.Background()

	res, err := f.gov.Search(ctx, "  pasta ", recipe.FilterSet{Cuisine: " Italian "})
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.Len(t, res.Hits, 2)
	require.Equal(t, "urn:r2", res.Hits[1].Recipe.URI)
	require.Equal(t, 9, res.Remaining)
	require.Equal(t, "pasta", f.fetcher.lastQuery)
	require.Equal(t, "Italian", f.fetcher.lastFilters.Cuisine)
	require.EqualValues(t, 1, f.cache.puts.Load())

	f.clock.Advance(10 * time.Minute)
	again, err := f.gov.Search(ctx, "PASTA", recipe.FilterSet{Cuisine: "Italian"})
	require.NoError(t, err)
	require.True(t, again.FromCache)
	require.Len(t, again.Hits, 2)
	require.Equal(t, 1, f.fetcher.callCount())
}

func TestCacheHitNeverBillsLimiter(t *testing.T) {
	f := newFixture(t, 10, okResponse(twoHits))
	ctx := context.Background()
	f.cache.Cache.Put(ctx, "soup", recipe.FilterSet{}, nil, t0)

	for i := 0; i < 25; i++ {
		res, err := f.gov.Search(ctx, "soup", recipe.FilterSet{})
		require.NoError(t, err)
		require.True(t, res.FromCache)
		require.NotNil(t, res.Hits)
	}

	canAdmit, record := f.limiter.counts()
	require.Zero(t, canAdmit)
	require.Zero(t, record)
	require.Zero(t, f.fetcher.callCount())
	require.Equal(t, 10, f.gov.Status().Remaining)
}

func TestServerRateLimitIsNotCached(t *testing.T) {
	f := newFixture(t, 10, &upstream.Response{Status: http.StatusTooManyRequests})

	_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
	searchErr := requireKind(t, err, KindRateLimited)
	require.Equal(t, SourceServer, searchErr.Source)
	require.Equal(t, DefaultServerWait, searchErr.WaitSeconds)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Zero(t, f.cache.puts.Load())

	_, record := f.limiter.counts()
	require.Equal(t, 1, record)
}

func TestServerRateLimitHonoursRetryAfter(t *testing.T) {
	f := newFixture(t, 10, &upstream.Response{Status: http.StatusTooManyRequests, RetryAfter: 12500 * time.Millisecond})

	_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
	searchErr := requireKind(t, err, KindRateLimited)
	require.Equal(t, 13, searchErr.WaitSeconds)
}

func TestAuthenticationFailureStillConsumesSlot(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		f := newFixture(t, 10, &upstream.Response{Status: status})

		_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
		searchErr := requireKind(t, err, KindAuthentication)
		require.Equal(t, status, searchErr.Status)
		require.ErrorIs(t, err, ErrAuthentication)
		require.Zero(t, f.cache.puts.Load())

		_, record := f.limiter.counts()
		require.Equal(t, 1, record)
		require.Equal(t, 9, f.gov.Status().Remaining)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusNotFound, KindEndpointNotFound},
		{http.StatusInternalServerError, KindHTTP},
		{http.StatusBadGateway, KindHTTP},
		{http.StatusBadRequest, KindHTTP},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			f := newFixture(t, 10, &upstream.Response{Status: tc.status})
			_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
			searchErr := requireKind(t, err, tc.kind)
			require.Equal(t, tc.status, searchErr.Status)
			require.Zero(t, f.cache.puts.Load())
		})
	}
}

func TestMalformedPayloadIsHTTPError(t *testing.T) {
	f := newFixture(t, 10, okResponse(`{"count":3}`))

	_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
	searchErr := requireKind(t, err, KindHTTP)
	require.Equal(t, http.StatusOK, searchErr.Status)
	require.ErrorIs(t, err, upstream.ErrMalformedPayload)
	require.Zero(t, f.cache.puts.Load())
}

func TestIrregularHitsAreReturnedAndCached(t *testing.T) {
	body := `{"hits":[
		{"recipe":{"uri":"urn:r1","yield":"4 servings"}},
		{"recipe":{"uri":"urn:r2","label":{"en":"Soup"}}},
		{"_links":{"self":{"href":"https://api/3"}}}
	]}`
	f := newFixture(t, 10, okResponse(body))
	ctx := context.Background()

	res, err := f.gov.Search(ctx, "pasta", recipe.FilterSet{})
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)
	require.Equal(t, "urn:r1", res.Hits[0].Recipe.URI)
	require.EqualValues(t, 1, f.cache.puts.Load())

	cached, err := f.gov.Search(ctx, "pasta", recipe.FilterSet{})
	require.NoError(t, err)
	require.True(t, cached.FromCache)
	require.Len(t, cached.Hits, 3)
	require.Equal(t, 1, f.fetcher.callCount())

	out, err := json.Marshal(cached.Hits[2])
	require.NoError(t, err)
	require.JSONEq(t, `{"_links":{"self":{"href":"https://api/3"}}}`, string(out))
}

func TestNetworkFailureConsumesSlot(t *testing.T) {
	f := newFixture(t, 10, nil)
	cause := &upstream.TransportError{Err: errors.New("dial tcp: refused")}
	f.fetcher.err = cause

	_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
	requireKind(t, err, KindNetwork)
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, cause)

	_, record := f.limiter.counts()
	require.Equal(t, 1, record)
}

func TestClientRateLimitReportsWait(t *testing.T) {
	f := newFixture(t, 2, okResponse(twoHits))
	ctx := context.Background()

	_, err := f.gov.Search(ctx, "a", recipe.FilterSet{})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	res, err := f.gov.Search(ctx, "b", recipe.FilterSet{})
	require.NoError(t, err)
	require.Zero(t, res.Remaining)

	f.clock.Advance(10 * time.Second)
	_, err = f.gov.Search(ctx, "c", recipe.FilterSet{})
	searchErr := requireKind(t, err, KindRateLimited)
	require.Equal(t, SourceClient, searchErr.Source)
	require.Equal(t, 40, searchErr.WaitSeconds)
	require.Equal(t, 2, f.fetcher.callCount())

	// Cached searches are still served while saturated.
	hit, err := f.gov.Search(ctx, "a", recipe.FilterSet{})
	require.NoError(t, err)
	require.True(t, hit.FromCache)

	f.clock.Advance(40 * time.Second)
	_, err = f.gov.Search(ctx, "c", recipe.FilterSet{})
	require.NoError(t, err)
	require.Equal(t, 3, f.fetcher.callCount())
}

func TestConcurrentSearchesCannotOverbook(t *testing.T) {
	f := newFixture(t, 3, okResponse(twoHits))
	ctx := context.Background()
	queries := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		okCount int
		limited int
	)
	for _, q := range queries {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, err := f.gov.Search(ctx, q, recipe.FilterSet{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				okCount++
			} else if errors.Is(err, ErrRateLimited) {
				limited++
			}
		}(q)
	}
	wg.Wait()

	require.Equal(t, 3, okCount)
	require.Equal(t, 7, limited)
	require.Equal(t, 3, f.fetcher.callCount())
}

func TestStatusReportsCapacity(t *testing.T) {
	f := newFixture(t, 10, okResponse(twoHits))
	_, err := f.gov.Search(context.Background(), "pasta", recipe.FilterSet{})
	require.NoError(t, err)

	f.clock.Advance(15 * time.Second)
	status := f.gov.Status()
	require.Equal(t, 9, status.Remaining)
	require.Equal(t, 10, status.MaxRequests)
	require.Equal(t, time.Minute, status.Window)
	require.Equal(t, 45*time.Second, status.NextSlot)
}

func TestLimiterWindowPersistence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	manual := clock.NewManual(t0)
	rc, err := resultcache.New(resultcache.Options{Store: store})
	require.NoError(t, err)

	build := func() *Governor {
		sw, err := limiter.New(limiter.Config{Window: time.Minute, MaxRequests: 5})
		require.NoError(t, err)
		gov, err := New(ctx, Options{
			Cache:          rc,
			Limiter:        sw,
			Upstream:       &scriptedFetcher{resp: okResponse(twoHits)},
			Clock:          manual,
			Store:          store,
			PersistLimiter: true,
		})
		require.NoError(t, err)
		return gov
	}

	first := build()
	for _, q := range []string{"a", "b"} {
		_, err := first.Search(ctx, q, recipe.FilterSet{})
		require.NoError(t, err)
	}
	_, found, err := store.Get(ctx, LimiterWindowKey)
	require.NoError(t, err)
	require.True(t, found)

	second := build()
	require.Equal(t, 3, second.Status().Remaining)

	manual.Advance(time.Minute)
	require.Equal(t, 5, second.Status().Remaining)
}

func TestUnreadablePersistedWindowIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	require.NoError(t, store.Set(ctx, LimiterWindowKey, []byte("not json")))
	sw, err := limiter.New(limiter.Config{})
	require.NoError(t, err)
	rc, err := resultcache.New(resultcache.Options{Store: store})
	require.NoError(t, err)

	gov, err := New(ctx, Options{Cache: rc, Limiter: sw, Upstream: &scriptedFetcher{}, Store: store, PersistLimiter: true})
	require.NoError(t, err)
	require.Equal(t, limiter.DefaultMaxRequests, gov.Status().Remaining)
}

func TestReloadSwitchesUpstream(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen[name] = r.URL.Query().Get("app_key")
			mu.Unlock()
			_, _ = w.Write([]byte(twoHits))
		}
	}
	oldServer := httptest.NewServer(handler("old"))
	defer oldServer.Close()
	newServer := httptest.NewServer(handler("new"))
	defer newServer.Close()

	client, err := upstream.New(upstream.Config{BaseURL: oldServer.URL, AppID: "id", AppKey: "k1"}, http.DefaultClient)
	require.NoError(t, err)
	sw, err := limiter.New(limiter.Config{})
	require.NoError(t, err)
	rc, err := resultcache.New(resultcache.Options{Store: storage.NewMemory(0)})
	require.NoError(t, err)
	gov, err := New(context.Background(), Options{Cache: rc, Limiter: sw, Upstream: client})
	require.NoError(t, err)

	_, err = gov.Search(context.Background(), "a", recipe.FilterSet{})
	require.NoError(t, err)
	require.NoError(t, gov.Reload(upstream.Config{BaseURL: newServer.URL, AppID: "id", AppKey: "k2"}))
	_, err = gov.Search(context.Background(), "b", recipe.FilterSet{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{"old": "k1", "new": "k2"}, seen)
}

func TestReloadRequiresReloadableUpstream(t *testing.T) {
	f := newFixture(t, 10, okResponse(twoHits))
	require.Error(t, f.gov.Reload(upstream.Config{}))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(&SearchError{Kind: KindNetwork})
	require.True(t, ok)
	require.Equal(t, KindNetwork, kind)

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)

	require.Contains(t, (&SearchError{Kind: KindRateLimited, Source: SourceClient, WaitSeconds: 5}).Error(), "retry in 5s")
}

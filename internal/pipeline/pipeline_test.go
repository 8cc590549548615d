package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/provider"
	"github.com/nightlight-labs/lullaby/internal/records"
)

type fakeGate struct {
	network atomic.Bool
	sync    atomic.Bool
}

func newGate(network, sync bool) *fakeGate {
	g := &fakeGate{}
	g.network.Store(network)
	g.sync.Store(sync)
	return g
}

func (g *fakeGate) CanPerformNetworkRequest() bool { return g.network.Load() }
func (g *fakeGate) CanPerformSync() bool           { return g.network.Load() && g.sync.Load() }

type memRecorder struct {
	mu   sync.Mutex
	recs map[string]records.Record
}

func newRecorder() *memRecorder {
	return &memRecorder{recs: make(map[string]records.Record)}
}

func (r *memRecorder) Save(_ context.Context, rec records.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.Category+"/"+rec.Key] = rec
	return nil
}

func (r *memRecorder) Find(_ context.Context, key, category string) (*records.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[category+"/"+key]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &rec, nil
}

func (r *memRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

type delayRecorder struct {
	delays []time.Duration
	mu     sync.Mutex
}

func (d *delayRecorder) sleep(_ context.Context, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays = append(d.delays, delay)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, clock *testClock) *cache.Store {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.CompressionLevel = 0
	cfg.DefaultLimits = cache.Limits{MaxBytes: 1 << 20, MaxAge: time.Hour}
	if clock != nil {
		cfg.Now = clock.Now
	}
	s, err := cache.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var story = provider.StoryPrompt{Theme: "space", Character: "Luna", Length: provider.LengthShort, ChildAge: 5}

func ok(data string) provider.Step {
	return provider.Step{Data: []byte(data), ContentType: "text/plain"}
}

func fail(kind provider.Kind, status int) provider.Step {
	return provider.Step{Err: &provider.Error{Kind: kind, StatusCode: status, Provider: "test"}}
}

func TestFetch_CacheHitSkipsProviders(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary")
	req := StoryRequest(story)
	_, err := store.Put(req.Key(), cache.CategoryStory, []byte("cached story"))
	require.NoError(t, err)

	p := New(store, newGate(false, false), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, DefaultBackoff())

	o := p.Fetch(context.Background(), req)
	assert.Equal(t, KindHit, o.Kind)
	assert.Equal(t, "cached story", string(o.Content))
	assert.False(t, o.Stale)
	assert.Zero(t, primary.CallCount())
}

func TestFetch_OfflineNeverCallsProviders(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary")
	fallback := provider.NewScripted("fallback")

	p := New(store, newGate(false, false), map[cache.Category]Route{
		cache.CategoryStory:  {Primary: primary, Fallback: fallback},
		cache.CategorySpeech: {Primary: primary, Fallback: fallback},
	}, DefaultBackoff())

	for _, req := range []Request{
		StoryRequest(story),
		SpeechRequest(provider.SpeechInput{Text: "Goodnight", Voice: "aria", Rate: 1}),
	} {
		o := p.Fetch(context.Background(), req)
		assert.Equal(t, KindFailed, o.Kind)
		assert.Equal(t, ReasonOffline, o.Reason)
	}
	assert.Zero(t, primary.CallCount())
	assert.Zero(t, fallback.CallCount())
}

func TestFetch_OfflineServesExpiredEntry(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)}
	store := newStore(t, clock)
	req := StoryRequest(story)
	_, err := store.Put(req.Key(), cache.CategoryStory, []byte("old story"))
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	primary := provider.NewScripted("primary")
	p := New(store, newGate(false, false), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, DefaultBackoff(), WithClock(clock.Now))

	o := p.Fetch(context.Background(), req)
	assert.Equal(t, KindHit, o.Kind)
	assert.True(t, o.Stale)
	assert.Equal(t, "old story", string(o.Content))
	assert.Zero(t, primary.CallCount())
}

func TestFetch_OfflineFreshHitIsARead(t *testing.T) {
	store := newStore(t, nil)
	req := StoryRequest(story)
	_, err := store.Put(req.Key(), cache.CategoryStory, []byte("fresh story"))
	require.NoError(t, err)

	p := New(store, newGate(false, false), map[cache.Category]Route{
		cache.CategoryStory: {Primary: provider.NewScripted("primary")},
	}, DefaultBackoff())

	for range 3 {
		o := p.Fetch(context.Background(), req)
		require.Equal(t, KindHit, o.Kind)
		assert.False(t, o.Stale)
	}

	entries := store.Entries(cache.CategoryStory)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].AccessCount)
	for _, s := range store.Stats() {
		if s.Category == cache.CategoryStory {
			assert.EqualValues(t, 3, s.Memory.Hits)
		}
	}
}

func TestFetch_OfflineServesRecord(t *testing.T) {
	store := newStore(t, nil)
	rec := newRecorder()
	req := StoryRequest(story)
	require.NoError(t, rec.Save(context.Background(), records.Record{
		Key: req.Key(), Category: "story", Provider: "chat", ContentType: "text/plain", Data: []byte("kept story"),
	}))

	p := New(store, newGate(false, false), map[cache.Category]Route{
		cache.CategoryStory: {Primary: provider.NewScripted("primary")},
	}, DefaultBackoff(), WithRecorder(rec))

	o := p.Fetch(context.Background(), req)
	assert.Equal(t, KindHit, o.Kind)
	assert.True(t, o.Stale)
	assert.Equal(t, "kept story", string(o.Content))
	assert.Equal(t, "chat", o.ProviderName)
}

func TestFetch_RateLimitedTwiceThenSuccess(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary",
		fail(provider.KindRateLimited, 429),
		fail(provider.KindRateLimited, 429),
		ok("a story"),
	)
	fallback := provider.NewScripted("fallback")
	sleeper := &delayRecorder{}
	backoff := Backoff{Base: 100 * time.Millisecond, Max: 10 * time.Second, MaxRetries: 3}

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary, Fallback: fallback},
	}, backoff, WithSleeper(sleeper.sleep))

	o := p.Fetch(context.Background(), StoryRequest(story))
	require.Equal(t, KindSynthesized, o.Kind, o.String())
	assert.Equal(t, RolePrimary, o.ProviderUsed)
	assert.Equal(t, "primary", o.ProviderName)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, sleeper.delays)
	assert.Zero(t, fallback.CallCount())

	cached, hit := store.Get(StoryRequest(story).Key(), cache.CategoryStory)
	assert.True(t, hit)
	assert.Equal(t, "a story", string(cached))
}

func TestFetch_RetryAfterHintIsHonored(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary",
		provider.Step{Err: &provider.Error{Kind: provider.KindRateLimited, StatusCode: 429, RetryAfter: 7 * time.Second}},
		ok("a story"),
	)
	sleeper := &delayRecorder{}

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, DefaultBackoff(), WithSleeper(sleeper.sleep))

	o := p.Fetch(context.Background(), StoryRequest(story))
	assert.Equal(t, KindSynthesized, o.Kind)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.delays)
}

func TestFetch_UnauthorizedGoesStraightToFallback(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary", fail(provider.KindUnauthorized, 401))
	fallback := provider.NewScripted("fallback", ok("fallback audio"))
	sleeper := &delayRecorder{}

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategorySpeech: {Primary: primary, Fallback: fallback},
	}, DefaultBackoff(), WithSleeper(sleeper.sleep))

	o := p.Fetch(context.Background(), SpeechRequest(provider.SpeechInput{Text: "Sleep tight", Voice: "aria"}))
	require.Equal(t, KindSynthesized, o.Kind)
	assert.Equal(t, RoleFallback, o.ProviderUsed)
	assert.Equal(t, "fallback", o.ProviderName)
	assert.Equal(t, "fallback audio", string(o.Content))
	assert.Equal(t, 1, primary.CallCount())
	assert.Equal(t, 1, fallback.CallCount())
	assert.Empty(t, sleeper.delays)
}

func TestFetch_FallbackFailureReportsPrimaryReason(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary",
		fail(provider.KindServerError, 503),
		fail(provider.KindServerError, 503),
		fail(provider.KindServerError, 503),
		fail(provider.KindServerError, 503),
	)
	sleeper := &delayRecorder{}

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary, Fallback: provider.Unavailable{}},
	}, DefaultBackoff(), WithSleeper(sleeper.sleep))

	o := p.Fetch(context.Background(), StoryRequest(story))
	assert.Equal(t, KindFailed, o.Kind)
	assert.Equal(t, ReasonProviderError, o.Reason)
	assert.Equal(t, 503, o.Code)
	assert.Equal(t, 4, primary.CallCount())
	assert.Equal(t, 5, o.Attempts)
	assert.Len(t, sleeper.delays, 3)
}

func TestFetch_TimeoutReason(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary",
		fail(provider.KindTimeout, 0),
		fail(provider.KindTimeout, 0),
	)

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, Backoff{Base: time.Millisecond, Max: time.Millisecond, MaxRetries: 1}, WithSleeper((&delayRecorder{}).sleep))

	o := p.Fetch(context.Background(), StoryRequest(story))
	assert.Equal(t, ReasonTimeout, o.Reason)
	assert.Equal(t, 2, o.Attempts)
}

type emptyProvider struct{ calls atomic.Int32 }

func (e *emptyProvider) Name() string { return "empty" }
func (e *emptyProvider) Fetch(context.Context, provider.Request) (provider.Content, error) {
	e.calls.Add(1)
	return provider.Content{}, nil
}

func TestFetch_EmptyResponseIsMalformedAndNotCached(t *testing.T) {
	store := newStore(t, nil)
	primary := &emptyProvider{}

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, DefaultBackoff(), WithSleeper((&delayRecorder{}).sleep))

	req := StoryRequest(story)
	o := p.Fetch(context.Background(), req)
	assert.Equal(t, KindFailed, o.Kind)
	assert.Equal(t, ReasonProviderError, o.Reason)
	assert.Equal(t, provider.KindMalformedResponse, provider.KindOf(o.Err))
	assert.Equal(t, int32(1), primary.calls.Load(), "malformed responses are not retried")

	_, cached := store.Get(req.Key(), cache.CategoryStory)
	assert.False(t, cached)
}

func TestFetch_ForceRefreshBypassesRead(t *testing.T) {
	store := newStore(t, nil)
	req := StoryRequest(story)
	_, _ = store.Put(req.Key(), cache.CategoryStory, []byte("old"))
	primary := provider.NewScripted("primary", ok("new"))

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, DefaultBackoff())

	req.ForceRefresh = true
	o := p.Fetch(context.Background(), req)
	assert.Equal(t, KindSynthesized, o.Kind)
	assert.Equal(t, "new", string(o.Content))

	got, _ := store.Get(req.Key(), cache.CategoryStory)
	assert.Equal(t, "new", string(got))
}

func TestFetch_SyncSensitiveRoute(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary")

	p := New(store, newGate(true, false), map[cache.Category]Route{
		cache.CategorySpeech: {Primary: primary, SyncSensitive: true},
		cache.CategoryStory:  {Primary: primary},
	}, DefaultBackoff())

	o := p.Fetch(context.Background(), SpeechRequest(provider.SpeechInput{Text: "hi"}))
	assert.Equal(t, ReasonOffline, o.Reason)
	assert.Zero(t, primary.CallCount())

	o = p.Fetch(context.Background(), StoryRequest(story))
	assert.Equal(t, KindSynthesized, o.Kind)
}

func TestFetch_PreferFallbackSwapsRoles(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("remote")
	local := provider.NewScripted("local", ok("local audio"))

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategorySpeech: {Primary: primary, Fallback: local, PreferFallback: true},
	}, DefaultBackoff())

	o := p.Fetch(context.Background(), SpeechRequest(provider.SpeechInput{Text: "hi"}))
	assert.Equal(t, KindSynthesized, o.Kind)
	assert.Equal(t, RolePrimary, o.ProviderUsed)
	assert.Equal(t, "local", o.ProviderName)
	assert.Zero(t, primary.CallCount())
}

func TestFetch_NoRouteAndInvalidRequest(t *testing.T) {
	store := newStore(t, nil)
	p := New(store, newGate(true, true), map[cache.Category]Route{}, DefaultBackoff())

	o := p.Fetch(context.Background(), StoryRequest(story))
	assert.Equal(t, ReasonNoCache, o.Reason)

	o = p.Fetch(context.Background(), Request{Category: cache.CategoryStory})
	assert.Equal(t, ReasonInvalidRequest, o.Reason)
	assert.ErrorIs(t, o.Err, ErrInvalidRequest)

	o = p.Fetch(context.Background(), SpeechRequest(provider.SpeechInput{Text: "  "}))
	assert.Equal(t, ReasonInvalidRequest, o.Reason)
}

func TestFetch_SavesRecordAsynchronously(t *testing.T) {
	store := newStore(t, nil)
	rec := newRecorder()
	primary := provider.NewScripted("primary", ok("a story"))

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary},
	}, DefaultBackoff(), WithRecorder(rec))

	o := p.Fetch(context.Background(), StoryRequest(story))
	require.Equal(t, KindSynthesized, o.Kind)
	p.Wait()

	saved, err := rec.Find(context.Background(), StoryRequest(story).Key(), "story")
	require.NoError(t, err)
	assert.Equal(t, "a story", string(saved.Data))
	assert.Equal(t, "primary", saved.Provider)
	assert.Equal(t, "space", saved.Attributes["theme"])
}

func TestFetch_CancelledDuringBackoff(t *testing.T) {
	store := newStore(t, nil)
	primary := provider.NewScripted("primary", fail(provider.KindServerError, 500))
	fallback := provider.NewScripted("fallback")

	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: primary, Fallback: fallback},
	}, Backoff{Base: time.Hour, Max: time.Hour, MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := p.Fetch(ctx, StoryRequest(story))
	assert.Equal(t, KindFailed, o.Kind)
	assert.Equal(t, 1, primary.CallCount())
	assert.Zero(t, fallback.CallCount())
}

// gatedProvider blocks every call until release is closed.
type gatedProvider struct {
	calls   atomic.Int32
	release chan struct{}
}

func (g *gatedProvider) Name() string { return "gated" }
func (g *gatedProvider) Fetch(ctx context.Context, _ provider.Request) (provider.Content, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return provider.Content{Data: []byte("story")}, nil
	case <-ctx.Done():
		return provider.Content{}, ctx.Err()
	}
}

func runConcurrent(p *Pipeline, n int) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Fetch(context.Background(), StoryRequest(story))
		}()
	}
	return &wg
}

func TestFetch_ConcurrentCallersAreNotDeduplicatedByDefault(t *testing.T) {
	store := newStore(t, nil)
	prov := &gatedProvider{release: make(chan struct{})}
	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: prov},
	}, DefaultBackoff())

	wg := runConcurrent(p, 4)
	require.Eventually(t, func() bool { return prov.calls.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	close(prov.release)
	wg.Wait()
}

func TestFetch_SingleFlightSharesOneCall(t *testing.T) {
	store := newStore(t, nil)
	prov := &gatedProvider{release: make(chan struct{})}
	p := New(store, newGate(true, true), map[cache.Category]Route{
		cache.CategoryStory: {Primary: prov},
	}, DefaultBackoff(), WithSingleFlight())

	wg := runConcurrent(p, 4)
	require.Eventually(t, func() bool { return prov.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(prov.release)
	wg.Wait()

	assert.Equal(t, int32(1), prov.calls.Load())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "hit (stale)", Outcome{Kind: KindHit, Stale: true}.String())
	assert.Equal(t, "failed: rate_limited (429)", Outcome{Kind: KindFailed, Reason: ReasonRateLimited, Code: 429}.String())
	assert.True(t, Outcome{Kind: KindSynthesized}.OK())
	assert.False(t, failed(ReasonOffline, errors.New("x")).OK())
}

// Package pipeline turns a content request into a cached result: cache
// lookup, network gate, primary provider with backoff, one fallback call,
// then cache write and durable hand-off.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/metrics"
	"github.com/nightlight-labs/lullaby/internal/provider"
	"github.com/nightlight-labs/lullaby/internal/records"
)

var logger = logging.New("pipeline")

// saveTimeout bounds one asynchronous record save.
const saveTimeout = 30 * time.Second

// Cache is the subset of the cache store the pipeline uses.
type Cache interface {
	Get(key string, cat cache.Category) ([]byte, bool)
	Peek(key string, cat cache.Category) ([]byte, cache.Entry, bool)
	Expired(key string, cat cache.Category) bool
	Put(key string, cat cache.Category, data []byte) (*cache.Handle, error)
}

// Gate says whether network work is allowed.
type Gate interface {
	CanPerformNetworkRequest() bool
	CanPerformSync() bool
}

// Recorder stores finished content durably.
type Recorder interface {
	Save(ctx context.Context, r records.Record) error
	Find(ctx context.Context, key, category string) (*records.Record, error)
}

// Route names the providers for one category.
type Route struct {
	Primary  provider.Provider
	Fallback provider.Provider // optional

	// SyncSensitive routes also require CanPerformSync.
	SyncSensitive bool

	// PreferFallback swaps the roles of Primary and Fallback.
	PreferFallback bool
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSleeper replaces the backoff wait.
func WithSleeper(s Sleeper) Option {
	return func(p *Pipeline) { p.sleep = s }
}

// WithRecorder hands every synthesized result to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMetrics records outcomes and provider calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSingleFlight shares one pipeline run between concurrent callers that
// ask for the same key.
func WithSingleFlight() Option {
	return func(p *Pipeline) { p.group = &singleflight.Group{} }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cache   Cache
	gate    Gate
	routes  map[cache.Category]Route
	backoff Backoff

	sleep    Sleeper
	recorder Recorder
	metrics  *metrics.Metrics
	group    *singleflight.Group
	now      func() time.Time

	saves sync.WaitGroup
}

// New creates a pipeline.
func New(c Cache, gate Gate, routes map[cache.Category]Route, backoff Backoff, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:   c,
		gate:    gate,
		routes:  routes,
		backoff: backoff,
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch runs the pipeline for one request.
func (p *Pipeline) Fetch(ctx context.Context, req Request) Outcome {
	if err := req.Validate(); err != nil {
		return p.finish(req, failed(ReasonInvalidRequest, err))
	}
	key := req.Key()

	if p.group == nil {
		return p.finish(req, p.fetch(ctx, req, key))
	}

	flightKey := string(req.Category) + "/" + key
	if req.ForceRefresh {
		flightKey += "/refresh"
	}
	v, _, shared := p.group.Do(flightKey, func() (any, error) {
		return p.fetch(ctx, req, key), nil
	})
	if shared {
		logger.Debug("Shared in-flight fetch", "category", req.Category, "key", key)
	}
	return p.finish(req, v.(Outcome))
}

// Wait blocks until pending record saves finish.
func (p *Pipeline) Wait() {
	p.saves.Wait()
}

func (p *Pipeline) fetch(ctx context.Context, req Request, key string) Outcome {
	cat := req.Category
	route, routed := p.routes[cat]

	allowed := p.allowed(route)

	// Get deletes expired entries, which must survive while gated.
	if !req.ForceRefresh && (allowed || !p.cache.Expired(key, cat)) {
		if data, ok := p.cache.Get(key, cat); ok {
			logger.Debug("Cache hit", "category", cat, "key", key)
			return hit(data)
		}
	}

	// While gated the cache is the only source, so expired copies count.
	if !allowed {
		if o, ok := p.stale(ctx, req, key); ok {
			logger.Info("Serving cached content while offline", "category", cat, "key", key, "stale", o.Stale)
			return o
		}
		return failed(ReasonOffline, errors.New("network requests are not allowed"))
	}

	primary, fallback := route.Primary, route.Fallback
	if route.PreferFallback && fallback != nil {
		primary, fallback = fallback, primary
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	if !routed || primary == nil {
		return failed(ReasonNoCache, errors.New("no provider configured for "+string(cat)))
	}

	preq := req.providerRequest()

	content, attempts, err := p.withRetry(ctx, cat, primary, preq)
	if err == nil {
		return p.store(req, key, content, RolePrimary, primary.Name(), attempts)
	}
	primaryErr := err

	if fallback == nil || ctx.Err() != nil {
		return failure(primaryErr, attempts)
	}

	logger.Info("Primary provider failed, trying fallback",
		"category", cat,
		"primary", primary.Name(),
		"fallback", fallback.Name(),
		"err", primaryErr,
	)
	content, err = p.call(ctx, fallback, preq)
	attempts++
	if err != nil {
		logger.Warn("Fallback provider failed", "category", cat, "fallback", fallback.Name(), "err", err)
		return failure(primaryErr, attempts)
	}
	return p.store(req, key, content, RoleFallback, fallback.Name(), attempts)
}

// allowed applies the network gate for a route.
func (p *Pipeline) allowed(route Route) bool {
	if p.gate == nil {
		return true
	}
	if !p.gate.CanPerformNetworkRequest() {
		return false
	}
	return !route.SyncSensitive || p.gate.CanPerformSync()
}

// stale looks for content that may be served while gated: the persisted
// entry regardless of age, a memory-only entry, then the durable record.
func (p *Pipeline) stale(ctx context.Context, req Request, key string) (Outcome, bool) {
	if data, entry, ok := p.cache.Peek(key, req.Category); ok && len(data) > 0 {
		o := hit(data)
		o.Stale = entry.ExpiresAt != nil && p.now().After(*entry.ExpiresAt)
		return o, true
	}
	if data, ok := p.cache.Get(key, req.Category); ok {
		return hit(data), true
	}

	if p.recorder == nil {
		return Outcome{}, false
	}
	rec, err := p.recorder.Find(ctx, key, string(req.Category))
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			logger.Debug("Record lookup failed", "category", req.Category, "key", key, "err", err)
		}
		return Outcome{}, false
	}
	if len(rec.Data) == 0 {
		return Outcome{}, false
	}

	o := hit(rec.Data)
	o.Stale = true
	o.ContentType = rec.ContentType
	o.ProviderName = rec.Provider
	return o, true
}

// withRetry calls prov until it succeeds, fails permanently, or runs out of
// retries.
func (p *Pipeline) withRetry(ctx context.Context, cat cache.Category, prov provider.Provider, req provider.Request) (provider.Content, int, error) {
	attempts := 0
	for attempt := 0; ; attempt++ {
		content, err := p.call(ctx, prov, req)
		attempts++
		if err == nil {
			return content, attempts, nil
		}

		kind := provider.KindOf(err)
		if !kind.Transient() || attempt >= p.backoff.MaxRetries {
			return provider.Content{}, attempts, err
		}

		delay := p.backoff.Delay(attempt, err)
		logger.Debug("Retrying provider",
			"provider", prov.Name(),
			"category", cat,
			"attempt", attempt+1,
			"kind", kind,
			"delay", delay,
		)
		p.metrics.ObserveRetry(string(cat))

		if serr := p.sleep(ctx, delay); serr != nil {
			return provider.Content{}, attempts, err
		}
	}
}

// call makes one provider call and normalizes its error.
func (p *Pipeline) call(ctx context.Context, prov provider.Provider, req provider.Request) (provider.Content, error) {
	start := p.now()
	content, err := prov.Fetch(ctx, req)
	if err == nil && len(content.Data) == 0 {
		err = provider.Malformed(prov.Name(), "empty response")
	}

	result := "ok"
	if err != nil {
		err = provider.Classify(prov.Name(), err)
		result = string(provider.KindOf(err))
	}
	p.metrics.ObserveProviderCall(prov.Name(), result, p.now().Sub(start))

	if err != nil {
		return provider.Content{}, err
	}
	if content.Provider == "" {
		content.Provider = prov.Name()
	}
	return content, nil
}

// store writes the cache and hands the result to the recorder without
// waiting for it.
func (p *Pipeline) store(req Request, key string, content provider.Content, role Role, name string, attempts int) Outcome {
	// A failed persistent write is logged by the store; the memory tier
	// still holds the value.
	_, _ = p.cache.Put(key, req.Category, content.Data)

	if p.recorder != nil {
		rec := records.Record{
			Key:         key,
			Category:    string(req.Category),
			Provider:    name,
			ContentType: content.ContentType,
			Data:        content.Data,
			Attributes:  req.attributes(),
			CreatedAt:   p.now(),
		}
		p.saves.Add(1)
		go func() {
			defer p.saves.Done()
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			if err := p.recorder.Save(ctx, rec); err != nil {
				logger.Warn("Could not save record", "category", rec.Category, "key", rec.Key, "err", err)
			}
		}()
	}

	return Outcome{
		Kind:         KindSynthesized,
		Content:      content.Data,
		ContentType:  content.ContentType,
		ProviderUsed: role,
		ProviderName: name,
		Attempts:     attempts,
	}
}

func (p *Pipeline) finish(req Request, o Outcome) Outcome {
	p.metrics.ObserveFetch(string(req.Category), string(o.Kind), string(o.Reason))
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package app wires the cache, providers, network gate, pipeline, records
// and prefetch scheduler into one unit for the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/config"
	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/metrics"
	"github.com/nightlight-labs/lullaby/internal/network"
	"github.com/nightlight-labs/lullaby/internal/pipeline"
	"github.com/nightlight-labs/lullaby/internal/prefetch"
	"github.com/nightlight-labs/lullaby/internal/provider"
	"github.com/nightlight-labs/lullaby/internal/records"
)

var logger = logging.New("app")

// App holds the constructed components. Fields are read-only after New.
type App struct {
	Config   config.Config
	Cache    *cache.Store
	Records  *records.Store // nil when the database could not be opened
	State    *config.StateStore
	Network  *network.Coordinator
	Monitor  *network.Monitor
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Pipeline
	Prefetch *prefetch.Scheduler
}

// Option adjusts construction.
type Option func(*options)

type options struct {
	monitor network.MonitorConfig
	sleeper pipeline.Sleeper
	clock   func() time.Time
}

// WithMonitorConfig overrides the probe settings, including the dial and
// interface functions.
func WithMonitorConfig(mc network.MonitorConfig) Option {
	return func(o *options) { o.monitor = mc }
}

// WithSleeper replaces the pipeline's backoff wait.
func WithSleeper(s pipeline.Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// WithClock replaces time.Now for the cache and pipeline.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New builds every component. Only a cache that cannot be created is fatal;
// a broken records database is logged and the app runs without it.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{
		monitor: network.MonitorConfig{
			Address:  cfg.Network.ProbeAddress,
			Interval: cfg.Network.ProbeInterval,
			Timeout:  cfg.Network.ProbeTimeout,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	storeCfg := StoreConfig(cfg)
	if o.clock != nil {
		storeCfg.Now = o.clock
	}
	store, err := cache.New(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize cache: %w", err)
	}

	a := &App{
		Config:  cfg,
		Cache:   store,
		State:   config.NewStateStore(cfg.Network.StateFile),
		Metrics: metrics.New(),
	}

	if rec, err := records.Open(cfg.Records.Path); err != nil {
		logger.Warn("Records unavailable, continuing without them", "path", cfg.Records.Path, "err", err)
	} else {
		a.Records = rec
	}

	if err := a.Metrics.RegisterCache(store); err != nil {
		logger.Debug("Could not register cache metrics", "err", err)
	}

	a.Network = network.NewCoordinator(a.State, cfg.SyncOnWifiOnly())
	a.Monitor = network.NewMonitor(a.Network, o.monitor)

	popts := []pipeline.Option{pipeline.WithMetrics(a.Metrics)}
	if a.Records != nil {
		popts = append(popts, pipeline.WithRecorder(a.Records))
	}
	if cfg.SingleFlight {
		popts = append(popts, pipeline.WithSingleFlight())
	}
	if o.sleeper != nil {
		popts = append(popts, pipeline.WithSleeper(o.sleeper))
	}
	if o.clock != nil {
		popts = append(popts, pipeline.WithClock(o.clock))
	}
	a.Pipeline = pipeline.New(store, a.Network, Routes(cfg), Backoff(cfg), popts...)

	a.Prefetch = prefetch.NewScheduler(a.Pipeline, a.Network, Pacing(cfg), prefetch.WithMetrics(a.Metrics))

	return a, nil
}

// Probe derives connectivity once. One-shot commands call it before
// fetching since connectivity starts unknown.
func (a *App) Probe(ctx context.Context) network.State {
	a.Monitor.Probe(ctx)
	return a.Network.State()
}

// Fetch runs one request through the pipeline.
func (a *App) Fetch(ctx context.Context, req pipeline.Request) pipeline.Outcome {
	return a.Pipeline.Fetch(ctx, req)
}

// Dimensions returns the configured prefetch axes.
func (a *App) Dimensions() prefetch.Dimensions {
	p := a.Config.Prefetch
	// Validated by config.Load.
	length, _ := provider.ParseLength(p.Length)
	return prefetch.Dimensions{
		Subjects: p.Subjects,
		Themes:   p.Themes,
		Voices:   p.Voices,
		Length:   length,
		ChildAge: p.ChildAge,
		Rate:     p.Rate,
	}
}

// Close stops background work and releases the stores.
func (a *App) Close() error {
	a.Prefetch.Cancel()
	a.Prefetch.Wait()
	a.Pipeline.Wait()

	var errs []error
	if a.Records != nil {
		if err := a.Records.Close(); err != nil {
			errs = append(errs, fmt.Errorf("records: %w", err))
		}
	}
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	return errors.Join(errs...)
}

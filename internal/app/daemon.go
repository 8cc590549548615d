package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nightlight-labs/lullaby/internal/network"
	"github.com/nightlight-labs/lullaby/internal/prefetch"
	"github.com/nightlight-labs/lullaby/internal/schedule"
	"github.com/nightlight-labs/lullaby/internal/server"
)

// Job names used by the daemon.
const (
	JobPrefetch = "prefetch"
	JobSweep    = "sweep"
)

// Jobs returns the daemon's recurring jobs.
func (a *App) Jobs() []schedule.Job {
	return []schedule.Job{
		{
			Name: JobPrefetch,
			Spec: a.Config.Prefetch.Schedule,
			Run:  a.runPrefetch,
		},
		{
			Name: JobSweep,
			Spec: a.Config.Cache.SweepSchedule,
			Run: func(context.Context) error {
				removed := a.Cache.Sweep()
				logger.Info("Swept cache", "removed", removed)
				return nil
			},
		},
	}
}

func (a *App) runPrefetch(ctx context.Context) error {
	if !a.Network.CanPerformSync() {
		logger.Info("Skipping scheduled prefetch", "network", a.Network.State())
		return nil
	}
	if err := a.Prefetch.Start(ctx, a.Dimensions(), nil, nil); err != nil {
		return err
	}
	report := a.Prefetch.Wait()
	if report.Status == prefetch.StatusOffline {
		return fmt.Errorf("prefetch stopped early: went offline after %d of %d jobs", report.Completed, report.Total)
	}
	return nil
}

// Daemon runs the monitor, preference watcher, scheduled jobs and the HTTP
// endpoint until ctx is done.
func (a *App) Daemon(ctx context.Context, listen string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Monitor.Start(ctx)
	defer a.Monitor.Wait()

	watcher := network.NewPreferenceWatcher(a.State.Path(), a.Network)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("Offline preference will not be watched", "err", err)
	} else {
		defer watcher.Close() //nolint:errcheck
	}

	states, unsubscribe := a.Network.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range states {
			logger.Info("Network state", "state", s)
		}
	}()

	sched := schedule.New()
	for _, job := range a.Jobs() {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	errc := make(chan error, 1)
	var srv *server.Server
	if listen != "" {
		srv = server.New(server.Config{
			Network:     a.Network,
			Cache:       a.Cache,
			Prefetch:    a.Prefetch,
			Dimensions:  a.Dimensions,
			Metrics:     a.Metrics.Handler(),
			BaseContext: ctx,
		})
		go func() {
			if err := srv.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	logger.Info("Daemon running", "network", a.Network.State())

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	cancel()

	a.Prefetch.Cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), server.ShutdownTimeout)
		defer done()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("HTTP shutdown failed", "err", serr)
		}
	}
	logger.Info("Daemon stopped")
	return err
}

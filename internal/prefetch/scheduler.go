package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nightlight-labs/lullaby/internal/metrics"
	"github.com/nightlight-labs/lullaby/internal/pipeline"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

// ErrBusy is returned by Start while a run is in progress.
var ErrBusy = errors.New("prefetch already running")

// Fetcher runs one request through the fetch pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

// Gate reports whether network work is allowed.
type Gate interface {
	CanPerformNetworkRequest() bool
}

// Status is how a run ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusOffline   Status = "offline"
)

// Progress is reported after every job.
type Progress struct {
	Completed int
	Total     int
	Job       Job
	Outcome   pipeline.Outcome
	Skipped   bool
}

// Report is the final result of a run.
type Report struct {
	Status    Status
	Completed int // jobs processed, including failed and skipped ones
	Failed    int
	Skipped   int
	Total     int
	Duration  time.Duration
}

// Config controls pacing.
type Config struct {
	Delay      time.Duration // minimum gap between job starts
	PauseEvery int           // take a longer pause after this many jobs; 0 disables
	Pause      time.Duration
}

// DefaultConfig returns the default pacing.
func DefaultConfig() Config {
	return Config{
		Delay:      500 * time.Millisecond,
		PauseEvery: 5,
		Pause:      3 * time.Second,
	}
}

// Scheduler runs one prefetch at a time.
type Scheduler struct {
	fetcher Fetcher
	gate    Gate
	config  Config
	metrics *metrics.Metrics

	cancelled atomic.Bool

	mu        sync.Mutex
	running   bool
	stopWaits context.CancelFunc
	done      chan struct{}
	last      Report
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records job results and the running gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler.
func NewScheduler(fetcher Fetcher, gate Gate, config Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher: fetcher,
		gate:    gate,
		config:  config,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a run in the background. onProgress and onComplete may be nil
// and are called from the run goroutine.
func (s *Scheduler) Start(ctx context.Context, dims Dimensions, onProgress func(Progress), onComplete func(Report)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrBusy
	}

	jobs := BuildJobs(dims)
	waitCtx, stopWaits := context.WithCancel(ctx)

	s.running = true
	s.cancelled.Store(false)
	s.stopWaits = stopWaits
	s.done = make(chan struct{})
	done := s.done

	s.metrics.SetPrefetchRunning(true)
	logger.Info("Starting prefetch", "jobs", len(jobs))

	go func() {
		defer close(done)
		defer stopWaits()

		report := s.run(ctx, waitCtx, jobs, onProgress)

		s.mu.Lock()
		s.running = false
		s.last = report
		s.mu.Unlock()
		s.metrics.SetPrefetchRunning(false)

		logger.Info("Prefetch finished",
			"status", report.Status,
			"completed", report.Completed,
			"failed", report.Failed,
			"skipped", report.Skipped,
			"total", report.Total,
			"duration", report.Duration.Round(time.Millisecond),
		)
		if onComplete != nil {
			onComplete(report)
		}
	}()
	return nil
}

// Cancel asks the current run to stop before its next job. A job already
// in flight finishes.
func (s *Scheduler) Cancel() {
	s.cancelled.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopWaits != nil {
		s.stopWaits()
	}
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last returns the report of the most recent finished run.
func (s *Scheduler) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Wait blocks until the current run, if any, has delivered its report, and
// returns the most recent report.
func (s *Scheduler) Wait() Report {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) run(ctx, waitCtx context.Context, jobs []Job, onProgress func(Progress)) Report {
	start := time.Now()
	report := Report{Status: StatusCompleted, Total: len(jobs)}

	limit := rate.Inf
	if s.config.Delay > 0 {
		limit = rate.Every(s.config.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	stories := make(map[int]pipeline.Outcome)

	for i, job := range jobs {
		s.pace(waitCtx, limiter, i)

		if s.cancelled.Load() || ctx.Err() != nil {
			report.Status = StatusCancelled
			break
		}
		if s.gate != nil && !s.gate.CanPerformNetworkRequest() {
			logger.Warn("Network unavailable, stopping prefetch", "completed", report.Completed, "total", report.Total)
			report.Status = StatusOffline
			break
		}

		progress := Progress{Job: job, Total: len(jobs)}

		req, ok := s.request(job, stories)
		if !ok {
			progress.Skipped = true
			report.Skipped++
			s.metrics.ObservePrefetchJob("skipped")
			logger.Debug("Skipping narration of failed story", "job", job.Index, "story", job.DependsOn)
		} else {
			o := s.fetcher.Fetch(ctx, req)
			progress.Outcome = o
			if job.Kind == JobStory {
				stories[job.Index] = o
			}
			if o.OK() {
				s.metrics.ObservePrefetchJob("ok")
			} else {
				report.Failed++
				s.metrics.ObservePrefetchJob("failed")
				logger.Debug("Prefetch job failed", "job", job.Index, "kind", job.Kind, "outcome", o.String())
			}
		}

		report.Completed++
		progress.Completed = report.Completed
		if onProgress != nil {
			onProgress(progress)
		}
	}

	report.Duration = time.Since(start)
	return report
}

// pace waits before job i; the first job starts immediately. Errors only mean the wait was cut short by
// cancellation, which the caller checks next.
func (s *Scheduler) pace(ctx context.Context, limiter *rate.Limiter, i int) {
	if err := limiter.Wait(ctx); err != nil {
		return
	}
	if s.config.PauseEvery > 0 && s.config.Pause > 0 && i > 0 && i%s.config.PauseEvery == 0 {
		t := time.NewTimer(s.config.Pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

// request builds the pipeline request for a job. Speech jobs narrate their
// story's text and are skipped when that story is unavailable.
func (s *Scheduler) request(job Job, stories map[int]pipeline.Outcome) (pipeline.Request, bool) {
	if job.Kind == JobStory {
		return pipeline.StoryRequest(job.Story), true
	}

	story, ok := stories[job.DependsOn]
	if !ok || !story.OK() || len(story.Content) == 0 {
		return pipeline.Request{}, false
	}
	return pipeline.SpeechRequest(provider.SpeechInput{
		Text:  string(story.Content),
		Voice: job.Voice,
		Rate:  job.Rate,
	}), true
}

// Package schedule runs the daemon's recurring jobs on cron expressions with
// a seconds field.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/nightlight-labs/lullaby/internal/logging"
)

var logger = logging.New("schedule")

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// stopTimeout bounds how long Stop waits for running jobs.
const stopTimeout = 5 * time.Second

// Job is a named recurring task.
type Job struct {
	Name string
	Spec string // cron expression with seconds, or a descriptor such as @hourly
	Run  func(ctx context.Context) error
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Service owns the cron runner.
type Service struct {
	cron *rcron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    map[string]Job
	entries map[string]rcron.EntryID
}

// New creates a stopped service. A job that is still running when its next
// tick arrives skips that tick.
func New() *Service {
	l := cronLogger{}
	return &Service{
		cron: rcron.New(
			rcron.WithSeconds(),
			rcron.WithLogger(l),
			rcron.WithChain(rcron.Recover(l), rcron.SkipIfStillRunning(l)),
		),
		ctx:     context.Background(),
		jobs:    make(map[string]Job),
		entries: make(map[string]rcron.EntryID),
	}
}

// Add registers a job. An empty spec disables the job.
func (s *Service) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a function")
	}
	if job.Spec == "" {
		logger.Debug("Job disabled", "job", job.Name)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.Name]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Spec, job.Name, err)
	}
	s.jobs[job.Name] = job
	s.entries[job.Name] = id
	return nil
}

// Start begins running jobs until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	logger.Info("Scheduler started", "jobs", n)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts the runner and waits briefly for running jobs. It is safe to
// call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(stopTimeout):
		logger.Warn("Timed out waiting for running jobs")
	}
	logger.Info("Scheduler stopped")
}

// RunNow runs a job synchronously outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return job.Run(ctx)
}

// Entries lists registered jobs with their next and previous run times.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{
			Name: name,
			Spec: s.jobs[name].Spec,
			Next: e.Next,
			Prev: e.Prev,
		})
	}
	return out
}

func (s *Service) execute(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	logger.Debug("Running job", "job", job.Name)
	if err := job.Run(ctx); err != nil {
		logger.Error("Job failed", "job", job.Name, "err", err, "duration", time.Since(start))
		return
	}
	logger.Info("Job finished", "job", job.Name, "duration", time.Since(start).Round(time.Millisecond))
}

// cronLogger routes the runner's own messages to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error(msg, append(keysAndValues, "err", err)...)
}

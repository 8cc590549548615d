package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_Validation(t *testing.T) {
	s := New()

	assert.Error(t, s.Add(Job{Spec: "@hourly", Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Job{Name: "x", Spec: "@hourly"}))
	assert.Error(t, s.Add(Job{Name: "bad", Spec: "not a schedule", Run: func(context.Context) error { return nil }}))

	// An empty spec disables the job.
	require.NoError(t, s.Add(Job{Name: "off", Run: func(context.Context) error { return nil }}))
	assert.Empty(t, s.Entries())

	require.NoError(t, s.Add(Job{Name: "sweep", Spec: "0 0 * * * *", Run: func(context.Context) error { return nil }}))
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "sweep", entries[0].Name)
	assert.Equal(t, "0 0 * * * *", entries[0].Spec)
}

func TestAdd_ReplacesSameName(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add(Job{Name: "sweep", Spec: "@hourly", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "sweep", Spec: "@daily", Run: noop}))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "@daily", entries[0].Spec)
}

func TestRunNow(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	var ran atomic.Int32
	require.NoError(t, s.Add(Job{Name: "prefetch", Spec: "@daily", Run: func(context.Context) error {
		ran.Add(1)
		return boom
	}}))

	assert.ErrorIs(t, s.RunNow(context.Background(), "prefetch"), boom)
	assert.Equal(t, int32(1), ran.Load())
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)
}

func TestStart_RunsOnSchedule(t *testing.T) {
	s := New()
	var ran atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "* * * * * *", Run: func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ran.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return ran.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	s.Stop()
}

package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nightlight-labs/lullaby/internal/provider"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second, MaxRetries: 5}
	server := &provider.Error{Kind: provider.KindServerError}
	limited := &provider.Error{Kind: provider.KindRateLimited}

	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{"first retry", 0, server, time.Second},
		{"second retry", 1, server, 2 * time.Second},
		{"third retry", 2, server, 4 * time.Second},
		{"rate limit doubles", 1, limited, 4 * time.Second},
		{"capped", 10, server, 30 * time.Second},
		{"capped rate limit", 4, limited, 30 * time.Second},
		{"retry-after wins", 0, &provider.Error{Kind: provider.KindRateLimited, RetryAfter: 9 * time.Second}, 9 * time.Second},
		{"retry-after capped", 0, &provider.Error{Kind: provider.KindRateLimited, RetryAfter: time.Hour}, 30 * time.Second},
		{"plain error", 1, errors.New("boom"), 2 * time.Second},
		{"negative attempt", -1, server, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.attempt, tt.err))
		})
	}
}

func TestBackoff_NonDecreasingAndBounded(t *testing.T) {
	for _, b := range []Backoff{
		DefaultBackoff(),
		{Base: 250 * time.Millisecond, Max: 5 * time.Second},
		{Base: 3 * time.Second, Max: 4 * time.Second},
	} {
		for _, err := range []error{
			&provider.Error{Kind: provider.KindServerError},
			&provider.Error{Kind: provider.KindRateLimited},
			&provider.Error{Kind: provider.KindNetwork},
		} {
			prev := time.Duration(0)
			for attempt := 0; attempt < 40; attempt++ {
				d := b.Delay(attempt, err)
				assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
				assert.LessOrEqual(t, d, b.Max, "attempt %d", attempt)
				prev = d
			}
		}
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 1500*time.Millisecond, b.Base)
	assert.Equal(t, 30*time.Second, b.Max)
	assert.Equal(t, 3, b.MaxRetries)
}

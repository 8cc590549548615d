package pipeline

import (
	"errors"
	"math"
	"time"

	"github.com/nightlight-labs/lullaby/internal/provider"
)

const (
	DefaultBaseDelay  = 1500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 3
)

// Backoff is the retry policy for primary providers.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first call
}

// DefaultBackoff returns the default policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       DefaultBaseDelay,
		Max:        DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Delay returns the wait before retry number attempt+1. The delay is
// Base·2^attempt, doubled for rate limits, replaced by a provider's
// Retry-After hint when one was sent, and never above Max.
func (b Backoff) Delay(attempt int, err error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Base) * math.Pow(2, float64(attempt))

	var perr *provider.Error
	if errors.As(err, &perr) {
		if perr.Kind == provider.KindRateLimited {
			d *= 2
		}
		if perr.RetryAfter > 0 {
			d = float64(perr.RetryAfter)
		}
	}

	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

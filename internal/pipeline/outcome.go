package pipeline

import (
	"errors"
	"fmt"

	"github.com/nightlight-labs/lullaby/internal/provider"
)

// Kind is the shape of a fetch result.
type Kind string

const (
	KindHit         Kind = "hit"
	KindSynthesized Kind = "synthesized"
	KindFailed      Kind = "failed"
)

// Role says which provider produced synthesized content.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Reason explains a failed fetch.
type Reason string

const (
	ReasonOffline        Reason = "offline"
	ReasonNoCache        Reason = "no_cache"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonProviderError  Reason = "provider_error"
	ReasonTimeout        Reason = "timeout"
	ReasonInvalidRequest Reason = "invalid_request"
)

// Outcome is the result of one fetch. Failures are values, never panics.
type Outcome struct {
	Kind    Kind
	Content []byte

	// ContentType is set when a provider or record supplied one.
	ContentType string

	ProviderUsed Role   // synthesized only
	ProviderName string // synthesized, or a stale record's provider
	Stale        bool   // a hit served past its age limit while gated

	Reason   Reason // failed only
	Code     int    // provider status code for provider errors
	Err      error
	Attempts int // provider calls made, across primary and fallback
}

// OK reports whether the outcome carries content.
func (o Outcome) OK() bool {
	return o.Kind == KindHit || o.Kind == KindSynthesized
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o.Kind {
	case KindHit:
		if o.Stale {
			return "hit (stale)"
		}
		return "hit"
	case KindSynthesized:
		return fmt.Sprintf("synthesized by %s (%s)", o.ProviderName, o.ProviderUsed)
	case KindFailed:
		if o.Code != 0 {
			return fmt.Sprintf("failed: %s (%d)", o.Reason, o.Code)
		}
		return fmt.Sprintf("failed: %s", o.Reason)
	default:
		return string(o.Kind)
	}
}

func hit(data []byte) Outcome {
	return Outcome{Kind: KindHit, Content: data}
}

func failed(reason Reason, err error) Outcome {
	return Outcome{Kind: KindFailed, Reason: reason, Err: err}
}

// failure converts a provider error into a failed outcome.
func failure(err error, attempts int) Outcome {
	o := failed(ReasonProviderError, err)
	o.Attempts = attempts

	var perr *provider.Error
	if !errors.As(err, &perr) {
		return o
	}
	o.Code = perr.StatusCode
	switch perr.Kind {
	case provider.KindRateLimited:
		o.Reason = ReasonRateLimited
	case provider.KindTimeout:
		o.Reason = ReasonTimeout
	case provider.KindInvalidRequest:
		o.Reason = ReasonInvalidRequest
	}
	return o
}

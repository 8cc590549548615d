package app

import (
	"time"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/config"
	"github.com/nightlight-labs/lullaby/internal/pipeline"
	"github.com/nightlight-labs/lullaby/internal/prefetch"
	"github.com/nightlight-labs/lullaby/internal/provider"
	"github.com/nightlight-labs/lullaby/internal/provider/speech"
	"github.com/nightlight-labs/lullaby/internal/provider/story"
)

const (
	megabyte = 1024 * 1024
	day      = 24 * time.Hour
)

// StoreConfig converts the cache settings.
func StoreConfig(c config.Config) cache.Config {
	sc := cache.DefaultConfig()
	sc.BaseDir = c.Cache.Dir
	sc.DefaultLimits = cache.Limits{
		MaxBytes: int64(c.MaxCacheSizeMB()) * megabyte,
		MaxAge:   time.Duration(c.CacheExpiryDays()) * day,
	}
	sc.MemoryEntries = c.Cache.MemoryEntries
	sc.MemoryCapacity = int64(c.Cache.MemoryMB) * megabyte
	sc.CompressionLevel = c.Cache.Compression

	for name, l := range c.Cache.Categories {
		cat, err := cache.ParseCategory(name)
		if err != nil {
			logger.Warn("Ignoring limits for unknown cache category", "category", name)
			continue
		}
		limits := sc.DefaultLimits
		if l.MaxSizeMB > 0 {
			limits.MaxBytes = int64(l.MaxSizeMB) * megabyte
		}
		if l.ExpiryDays > 0 {
			limits.MaxAge = time.Duration(l.ExpiryDays) * day
		}
		if sc.Limits == nil {
			sc.Limits = make(map[cache.Category]cache.Limits)
		}
		sc.Limits[cat] = limits
	}
	return sc
}

// Backoff converts the retry settings.
func Backoff(c config.Config) pipeline.Backoff {
	b := pipeline.Backoff{
		Base:       config.Seconds(c.RetryDelayBaseSeconds()),
		Max:        config.Seconds(c.Retry.MaxDelaySeconds),
		MaxRetries: c.RetryCount(),
	}
	if b.Max <= 0 {
		b.Max = pipeline.DefaultMaxDelay
	}
	return b
}

// Pacing converts the prefetch throttle settings.
func Pacing(c config.Config) prefetch.Config {
	return prefetch.Config{
		Delay:      c.Prefetch.Delay,
		PauseEvery: c.Prefetch.PauseEvery,
		Pause:      c.Prefetch.Pause,
	}
}

// Routes builds the provider routes. Stories have no second provider, so
// their fallback only records that none is left; speech falls back to the
// secondary provider and is restricted by the Wi-Fi setting.
func Routes(c config.Config) map[cache.Category]pipeline.Route {
	return map[cache.Category]pipeline.Route{
		cache.CategoryStory: {
			Primary:  storyProvider(c),
			Fallback: provider.Unavailable{Reason: "no fallback story provider"},
		},
		cache.CategorySpeech: {
			Primary:        speechProvider(c),
			Fallback:       fallbackSpeechProvider(c),
			SyncSensitive:  true,
			PreferFallback: c.UseLocalFallbackByDefault(),
		},
	}
}

func storyProvider(c config.Config) provider.Provider {
	if c.Story.Provider == "mock" {
		return provider.NewScripted("mock")
	}
	return story.NewChatProvider(story.Config{
		Endpoint:    c.StoryEndpoint(),
		APIKey:      c.Secrets.StoryAPIKey,
		Model:       c.Story.Model,
		Temperature: c.Story.Temperature,
		UserAgent:   c.Secrets.UserAgent,
	}, provider.NewHTTPClient(c.Story.Timeout))
}

func speechProvider(c config.Config) provider.Provider {
	client := provider.NewHTTPClient(c.Speech.Timeout)
	switch c.Speech.Provider {
	case "mock":
		return provider.NewScripted("mock")
	case "json":
		return speech.NewJSONSpeechProvider(speech.JSONConfig{
			Endpoint:     c.SpeechEndpoint(),
			APIKey:       c.Secrets.SpeechAPIKey,
			Model:        c.Speech.Fallback.Model,
			DefaultVoice: c.Speech.Voice,
			UserAgent:    c.Secrets.UserAgent,
		}, client)
	default:
		return speech.NewSSMLProvider(speech.SSMLConfig{
			Endpoint:        c.SpeechEndpoint(),
			SubscriptionKey: c.Secrets.SpeechAPIKey,
			OutputFormat:    c.Speech.OutputFormat,
			Language:        c.Speech.Language,
			DefaultVoice:    c.Speech.Voice,
			UserAgent:       c.Secrets.UserAgent,
		}, client)
	}
}

func fallbackSpeechProvider(c config.Config) provider.Provider {
	f := c.Speech.Fallback
	switch f.Provider {
	case "json":
		return speech.NewJSONSpeechProvider(speech.JSONConfig{
			Name:         "json-speech-fallback",
			Endpoint:     f.Endpoint,
			APIKey:       c.Secrets.FallbackSpeechAPIKey,
			Model:        f.Model,
			DefaultVoice: f.Voice,
			UserAgent:    c.Secrets.UserAgent,
		}, provider.NewHTTPClient(c.Speech.Timeout))
	case "mock":
		return provider.NewScripted("local")
	default:
		return nil
	}
}

// Package config loads lullaby's read-only settings and provider secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

var logger = logging.New("config")

// AppName names the config, cache and data directories.
const AppName = "lullaby"

// Config is the full set of settings. No component mutates it after Load.
type Config struct {
	Story    StoryConfig    `mapstructure:"story"`
	Speech   SpeechConfig   `mapstructure:"speech"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Network  NetworkConfig  `mapstructure:"network"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Records  RecordsConfig  `mapstructure:"records"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// UseLocalFallback puts the fallback speech provider first.
	UseLocalFallback bool `mapstructure:"use_local_fallback_by_default"`
	// SingleFlight shares one fetch between concurrent identical requests.
	SingleFlight bool `mapstructure:"single_flight"`

	Secrets Secrets `mapstructure:"-"`
}

type StoryConfig struct {
	Provider    string        `mapstructure:"provider"` // chat or mock
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SpeechConfig struct {
	Provider     string        `mapstructure:"provider"` // ssml, json or mock
	Endpoint     string        `mapstructure:"endpoint"`
	Voice        string        `mapstructure:"voice"`
	Language     string        `mapstructure:"language"`
	OutputFormat string        `mapstructure:"output_format"`
	Timeout      time.Duration `mapstructure:"timeout"`

	Fallback FallbackSpeechConfig `mapstructure:"fallback"`
}

type FallbackSpeechConfig struct {
	Provider string `mapstructure:"provider"` // json, mock or none
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	Voice    string `mapstructure:"voice"`
}

type CacheConfig struct {
	Dir             string `mapstructure:"dir"`
	MaxCacheSizeMB  int    `mapstructure:"max_size_mb"`
	CacheExpiryDays int    `mapstructure:"expiry_days"`
	MemoryEntries   int    `mapstructure:"memory_entries"`
	MemoryMB        int    `mapstructure:"memory_mb"`
	Compression     int    `mapstructure:"compression"`
	SweepSchedule   string `mapstructure:"sweep_schedule"`

	// Categories overrides the limits of single categories.
	Categories map[string]CategoryLimits `mapstructure:"categories"`
}

type CategoryLimits struct {
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	ExpiryDays int `mapstructure:"expiry_days"`
}

type RetryConfig struct {
	RetryCount            int     `mapstructure:"count"`
	RetryDelayBaseSeconds float64 `mapstructure:"delay_base_seconds"`
	MaxDelaySeconds       float64 `mapstructure:"max_delay_seconds"`
}

type NetworkConfig struct {
	SyncOnWifiOnly bool          `mapstructure:"sync_on_wifi_only"`
	ProbeAddress   string        `mapstructure:"probe_address"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	StateFile      string        `mapstructure:"state_file"`
}

type PrefetchConfig struct {
	Subjects   []string      `mapstructure:"subjects"`
	Themes     []string      `mapstructure:"themes"`
	Voices     []string      `mapstructure:"voices"`
	Length     string        `mapstructure:"length"`
	ChildAge   int           `mapstructure:"child_age"`
	Rate       float64       `mapstructure:"rate"`
	Delay      time.Duration `mapstructure:"delay"`
	PauseEvery int           `mapstructure:"pause_every"`
	Pause      time.Duration `mapstructure:"pause"`
	Schedule   string        `mapstructure:"schedule"`
}

type RecordsConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("story.provider", "chat")
	v.SetDefault("story.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("story.model", "gpt-4o-mini")
	v.SetDefault("story.temperature", 0.8)
	v.SetDefault("story.timeout", 30*time.Second)

	v.SetDefault("speech.provider", "ssml")
	v.SetDefault("speech.endpoint", "https://eastus.tts.speech.microsoft.com/cognitiveservices/v1")
	v.SetDefault("speech.voice", "en-US-AriaNeural")
	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.output_format", "audio-24khz-48kbitrate-mono-mp3")
	v.SetDefault("speech.timeout", 30*time.Second)
	v.SetDefault("speech.fallback.provider", "json")
	v.SetDefault("speech.fallback.endpoint", "https://api.openai.com/v1/audio/speech")
	v.SetDefault("speech.fallback.model", "tts-1")
	v.SetDefault("speech.fallback.voice", "alloy")

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_size_mb", 500)
	v.SetDefault("cache.expiry_days", 30)
	v.SetDefault("cache.memory_entries", 64)
	v.SetDefault("cache.memory_mb", 64)
	v.SetDefault("cache.compression", 3)
	v.SetDefault("cache.sweep_schedule", "0 0 * * * *")

	v.SetDefault("retry.count", 3)
	v.SetDefault("retry.delay_base_seconds", 1.5)
	v.SetDefault("retry.max_delay_seconds", 30)

	v.SetDefault("network.sync_on_wifi_only", false)
	v.SetDefault("network.probe_address", "1.1.1.1:443")
	v.SetDefault("network.probe_interval", 30*time.Second)
	v.SetDefault("network.probe_timeout", 3*time.Second)
	v.SetDefault("network.state_file", "")

	v.SetDefault("prefetch.length", "medium")
	v.SetDefault("prefetch.child_age", 5)
	v.SetDefault("prefetch.rate", 1.0)
	v.SetDefault("prefetch.delay", 500*time.Millisecond)
	v.SetDefault("prefetch.pause_every", 5)
	v.SetDefault("prefetch.pause", 3*time.Second)
	v.SetDefault("prefetch.schedule", "0 30 19 * * *")

	v.SetDefault("records.path", "")
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("use_local_fallback_by_default", false)
	v.SetDefault("single_flight", false)
}

// Load decodes v into a Config, fills in directory defaults and validates
// the result. Secrets are loaded separately.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}

	scope := gap.NewScope(gap.User, AppName)
	if c.Cache.Dir == "" {
		dir, err := scope.CacheDir()
		if err != nil {
			return Config{}, fmt.Errorf("unable to locate cache directory: %w", err)
		}
		c.Cache.Dir = dir
	}
	if c.Records.Path == "" {
		p, err := scope.DataPath("records.db")
		if err != nil {
			return Config{}, fmt.Errorf("unable to locate data directory: %w", err)
		}
		c.Records.Path = p
	}
	if c.Network.StateFile == "" {
		p, err := scope.DataPath("state.yml")
		if err != nil {
			return Config{}, fmt.Errorf("unable to locate data directory: %w", err)
		}
		c.Network.StateFile = p
	}

	c.Cache.Dir = ExpandPath(c.Cache.Dir)
	c.Records.Path = ExpandPath(c.Records.Path)
	c.Network.StateFile = ExpandPath(c.Network.StateFile)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Cache.MaxCacheSizeMB < 0 {
		errs = append(errs, fmt.Errorf("cache max_size_mb must not be negative, got %d", c.Cache.MaxCacheSizeMB))
	}
	if c.Cache.CacheExpiryDays < 0 {
		errs = append(errs, fmt.Errorf("cache expiry_days must not be negative, got %d", c.Cache.CacheExpiryDays))
	}
	if c.Cache.Compression < 0 || c.Cache.Compression > 22 {
		errs = append(errs, fmt.Errorf("cache compression must be between 0 and 22, got %d", c.Cache.Compression))
	}
	for name, l := range c.Cache.Categories {
		if l.MaxSizeMB < 0 || l.ExpiryDays < 0 {
			errs = append(errs, fmt.Errorf("cache limits for %q must not be negative", name))
		}
	}
	if c.Retry.RetryCount < 0 || c.Retry.RetryCount > 10 {
		errs = append(errs, fmt.Errorf("retry count must be between 0 and 10, got %d", c.Retry.RetryCount))
	}
	if c.Retry.RetryDelayBaseSeconds < 0 {
		errs = append(errs, fmt.Errorf("retry delay_base_seconds must not be negative, got %.2f", c.Retry.RetryDelayBaseSeconds))
	}
	if _, err := provider.ParseLength(c.Prefetch.Length); err != nil {
		errs = append(errs, fmt.Errorf("prefetch length: %w", err))
	}
	if c.Prefetch.ChildAge < 0 {
		errs = append(errs, fmt.Errorf("prefetch child_age must not be negative, got %d", c.Prefetch.ChildAge))
	}
	if c.Prefetch.Rate < 0.5 || c.Prefetch.Rate > 2 {
		errs = append(errs, fmt.Errorf("prefetch rate must be between 0.5 and 2.0, got %.2f", c.Prefetch.Rate))
	}
	switch c.Story.Provider {
	case "chat", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown story provider %q", c.Story.Provider))
	}
	switch c.Speech.Provider {
	case "ssml", "json", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown speech provider %q", c.Speech.Provider))
	}
	switch c.Speech.Fallback.Provider {
	case "json", "mock", "none", "":
	default:
		errs = append(errs, fmt.Errorf("unknown fallback speech provider %q", c.Speech.Fallback.Provider))
	}
	return errors.Join(errs...)
}

// MaxCacheSizeMB is the default per-category byte budget in megabytes.
func (c Config) MaxCacheSizeMB() int { return c.Cache.MaxCacheSizeMB }

// CacheExpiryDays is the default entry lifetime in days.
func (c Config) CacheExpiryDays() int { return c.Cache.CacheExpiryDays }

// RetryCount is the number of primary retries after the first call.
func (c Config) RetryCount() int { return c.Retry.RetryCount }

// RetryDelayBaseSeconds is the backoff base delay.
func (c Config) RetryDelayBaseSeconds() float64 { return c.Retry.RetryDelayBaseSeconds }

// SyncOnWifiOnly restricts sync-sensitive work to Wi-Fi.
func (c Config) SyncOnWifiOnly() bool { return c.Network.SyncOnWifiOnly }

// UseLocalFallbackByDefault prefers the fallback speech provider.
func (c Config) UseLocalFallbackByDefault() bool { return c.UseLocalFallback }

// StoryEndpoint returns the story provider endpoint.
func (c Config) StoryEndpoint() string { return c.Story.Endpoint }

// SpeechEndpoint returns the primary speech provider endpoint.
func (c Config) SpeechEndpoint() string { return c.Speech.Endpoint }

// Seconds converts a fractional number of seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	return os.ExpandEnv(path)
}

// SearchPaths lists the directories searched for lullaby.yml, highest
// priority first.
func SearchPaths() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("unable to find configuration directory: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("LULLABY_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// Locate points v at lullaby.yml and reads it if one exists. It returns the
// file in use, or the default location when none was found.
func Locate(v *viper.Viper) (string, error) {
	dirs, err := SearchPaths()
	if err != nil {
		return "", err
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("Using configuration file", "path", used)
		return used, nil
	}
	return filepath.Join(dirs[0], AppName+".yml"), nil
}

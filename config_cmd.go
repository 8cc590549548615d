package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nightlight-labs/lullaby/internal/config"
)

const defaultConfig = `# Story generation
story:
  # chat or mock
  provider: "chat"
  endpoint: "https://api.openai.com/v1/chat/completions"
  model: "gpt-4o-mini"
  temperature: 0.8
  timeout: "30s"

# Narration
speech:
  # ssml, json or mock
  provider: "ssml"
  endpoint: "https://eastus.tts.speech.microsoft.com/cognitiveservices/v1"
  voice: "en-US-AriaNeural"
  language: "en-US"
  output_format: "audio-24khz-48kbitrate-mono-mp3"
  timeout: "30s"
  # used when the primary voice provider fails; json, mock or none
  fallback:
    provider: "json"
    endpoint: "https://api.openai.com/v1/audio/speech"
    model: "tts-1"
    voice: "alloy"

# try the fallback voice provider first
use_local_fallback_by_default: false
# share one request between identical concurrent fetches
single_flight: false

cache:
  # defaults to the user cache directory
  # dir: "~/.cache/lullaby"
  max_size_mb: 500
  expiry_days: 30
  memory_entries: 64
  memory_mb: 64
  # zstd level, 0 disables compression
  compression: 3
  sweep_schedule: "0 0 * * * *"
  # categories:
  #   speech:
  #     max_size_mb: 400
  #     expiry_days: 60

retry:
  count: 3
  delay_base_seconds: 1.5
  max_delay_seconds: 30

network:
  # only narrate (and prefetch) on Wi-Fi or wired links
  sync_on_wifi_only: false
  probe_address: "1.1.1.1:443"
  probe_interval: "30s"
  probe_timeout: "3s"

prefetch:
  subjects: ["a sleepy dragon", "a brave little owl"]
  themes: ["friendship", "the moon"]
  voices: ["en-US-AriaNeural"]
  length: "medium"
  child_age: 5
  rate: 1.0
  delay: "500ms"
  pause_every: 5
  pause: "3s"
  schedule: "0 30 19 * * *"

metrics:
  listen: "127.0.0.1:9464"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the lullaby config file",
	Long:    paragraph(fmt.Sprintf("\n%s the lullaby config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("lullaby config\nlullaby config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Lullaby", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and show the settings in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, label("file"), configFile)
		fmt.Fprintln(w, label("story"), cfg.Story.Provider, faint(cfg.StoryEndpoint()))
		fmt.Fprintln(w, label("speech"), cfg.Speech.Provider, faint(cfg.SpeechEndpoint()))
		fmt.Fprintln(w, label("fallback"), cfg.Speech.Fallback.Provider)
		fmt.Fprintln(w, label("cache"), cfg.Cache.Dir, faint(fmt.Sprintf("%d MB, %d days", cfg.MaxCacheSizeMB(), cfg.CacheExpiryDays())))
		fmt.Fprintln(w, label("retries"), cfg.RetryCount(), faint(fmt.Sprintf("base %.1fs", cfg.RetryDelayBaseSeconds())))
		fmt.Fprintln(w, label("wifi only"), cfg.SyncOnWifiOnly())
		fmt.Fprintln(w, label("keys"),
			"story", config.Redacted(cfg.Secrets.StoryAPIKey),
			"speech", config.Redacted(cfg.Secrets.SpeechAPIKey),
			"fallback", config.Redacted(cfg.Secrets.FallbackSpeechAPIKey),
		)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

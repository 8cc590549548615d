// Package main provides the entry point for the lullaby CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nightlight-labs/lullaby/internal/app"
	"github.com/nightlight-labs/lullaby/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	envFile    string
	debug      bool
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "lullaby",
		Short: "Bedtime stories and narration that keep working offline",
		Long: paragraph(
			fmt.Sprintf("\nGenerate bedtime stories and narration, %s.", keyword("cached for the nights the Wi-Fi sleeps")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configureLog(cmd)
		},
	}
)

// loadConfig reads the explicit --config file, if any, and decodes the
// settings and secrets.
func loadConfig() (config.Config, error) {
	v := viper.GetViper()
	if configFile != "" && configFile != v.ConfigFileUsed() && configReadable() {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("unable to read %s: %w", configFile, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	secrets, err := config.LoadSecrets(envFile)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Secrets = secrets
	return cfg, nil
}

// configReadable reports whether configFile should be read: it exists, or the
// user named it explicitly.
func configReadable() bool {
	if rootCmd.PersistentFlags().Changed("config") {
		return true
	}
	_, err := os.Stat(configFile)
	return err == nil
}

// openApp loads the configuration and builds the application.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// probedApp opens the application and derives connectivity once, for
// commands that fetch.
func probedApp(ctx context.Context) (*app.App, error) {
	a, err := openApp()
	if err != nil {
		return nil, err
	}
	a.Probe(ctx)
	return a, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	_ = closer()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(viper.GetViper())
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file to read API keys from")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json or logfmt)")

	rootCmd.AddCommand(
		configCmd,
		manCmd,
		storyCmd,
		speakCmd,
		prefetchCmd,
		cacheCmd,
		offlineCmd,
		daemonCmd,
	)
}

func tryLoadConfigFromDefaultPlaces() {
	path, err := config.Locate(viper.GetViper())
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}
	configFile = path

	if viper.ConfigFileUsed() != "" {
		return
	}
	if err := ensureConfigFile(); err != nil {
		logger.Error("Could not create default configuration", "error", err)
	}
}

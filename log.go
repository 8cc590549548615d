package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"

	"github.com/nightlight-labs/lullaby/internal/config"
	"github.com/nightlight-labs/lullaby/internal/logging"
)

var (
	logger = logging.New(config.AppName)

	// logFile receives every log line; nil until setupLog succeeds.
	logFile io.Writer
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

func setupLog() (func() error, error) {
	logging.Configure(io.Discard, log.InfoLevel)

	path, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	logFile = f
	logging.Configure(f, log.InfoLevel)
	return f.Close, nil
}

// configureLog applies --debug and --log-format. The daemon always mirrors
// its log to stderr.
func configureLog(cmd *cobra.Command) error {
	switch logFormat {
	case "", "text":
		logging.SetFormatter(log.TextFormatter)
	case "json":
		logging.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logging.SetFormatter(log.LogfmtFormatter)
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}

	if !debug && cmd.Name() != "daemon" {
		return nil
	}

	lvl := log.InfoLevel
	if debug {
		lvl = log.DebugLevel
	}
	w := io.Writer(os.Stderr)
	if logFile != nil {
		w = io.MultiWriter(logFile, os.Stderr)
	}
	logging.Configure(w, lvl)
	return nil
}

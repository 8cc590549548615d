package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const offlineKey = "offline_mode"

// StateStore persists the user's offline preference in its own YAML file,
// separate from the read-only configuration.
type StateStore struct {
	path string

	mu sync.Mutex
	v  *viper.Viper
}

// NewStateStore creates a store backed by path. The file is created on the
// first write.
func NewStateStore(path string) *StateStore {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &StateStore{path: path, v: v}
}

// Path returns the backing file.
func (s *StateStore) Path() string { return s.path }

// OfflineMode reads the preference from disk. A missing file means false.
func (s *StateStore) OfflineMode() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("unable to read state file: %w", err)
	}
	return s.v.GetBool(offlineKey), nil
}

// SetOfflineMode writes the preference.
func (s *StateStore) SetOfflineMode(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("unable to create state directory: %w", err)
	}
	// A fresh instance keeps the write out of the reader's overrides, so
	// later reads still see changes made by other processes.
	w := viper.New()
	w.SetConfigType("yaml")
	w.Set(offlineKey, enabled)
	if err := w.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("unable to write state file: %w", err)
	}
	logger.Debug("Saved offline preference", "path", s.path, "offline", enabled)
	return nil
}

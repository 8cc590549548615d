package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secrets holds provider credentials. They only come from the environment
// or a .env file, never from lullaby.yml.
type Secrets struct {
	StoryAPIKey          string `env:"LULLABY_STORY_API_KEY"`
	SpeechAPIKey         string `env:"LULLABY_SPEECH_API_KEY"`
	FallbackSpeechAPIKey string `env:"LULLABY_FALLBACK_SPEECH_API_KEY"`
	UserAgent            string `env:"LULLABY_USER_AGENT" envDefault:"lullaby"`
}

// LoadSecrets reads the given .env files, when present, into the process
// environment and parses Secrets from it. Variables already set win.
func LoadSecrets(dotenv ...string) (Secrets, error) {
	for _, path := range dotenv {
		if err := godotenv.Load(ExpandPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, fmt.Errorf("unable to read %s: %w", path, err)
		}
	}
	s, err := env.ParseAs[Secrets]()
	if err != nil {
		return Secrets{}, fmt.Errorf("error parsing secrets: %w", err)
	}
	return s, nil
}

// Redacted returns a masked form of a credential for display.
func Redacted(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) <= 8:
		return "********"
	default:
		return secret[:4] + "…" + secret[len(secret)-2:]
	}
}

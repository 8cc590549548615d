package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nightlight-labs/lullaby/internal/provider"
)

// JSONConfig configures a JSONSpeechProvider.
type JSONConfig struct {
	Name         string
	Endpoint     string
	APIKey       string
	Model        string
	DefaultVoice string
	UserAgent    string
}

type speechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// JSONSpeechProvider synthesizes speech through a JSON endpoint that
// answers with raw audio. It is the secondary speech provider.
type JSONSpeechProvider struct {
	config JSONConfig
	client *http.Client
}

// NewJSONSpeechProvider creates the secondary speech provider.
func NewJSONSpeechProvider(config JSONConfig, client *http.Client) *JSONSpeechProvider {
	if config.Name == "" {
		config.Name = "json-speech"
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = "alloy"
	}
	if config.UserAgent == "" {
		config.UserAgent = "lullaby"
	}
	if client == nil {
		client = provider.NewHTTPClient(provider.DefaultTimeout)
	}
	return &JSONSpeechProvider{config: config, client: client}
}

// Name returns the provider name.
func (p *JSONSpeechProvider) Name() string { return p.config.Name }

// Fetch synthesizes one clip.
func (p *JSONSpeechProvider) Fetch(ctx context.Context, req provider.Request) (provider.Content, error) {
	in, err := speechInput(p.Name(), req)
	if err != nil {
		return provider.Content{}, err
	}
	if p.config.APIKey == "" {
		return provider.Content{}, provider.NewError(p.Name(), provider.KindUnauthorized, "missing API key", nil)
	}

	voice := in.Voice
	if voice == "" {
		voice = p.config.DefaultVoice
	}
	speed := in.Rate
	if speed <= 0 {
		speed = 1
	}

	body, err := json.Marshal(speechRequest{
		Model: p.config.Model,
		Input: in.Text,
		Voice: voice,
		Speed: speed,
	})
	if err != nil {
		return provider.Content{}, provider.NewError(p.Name(), provider.KindInvalidRequest, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return provider.Content{}, provider.NewError(p.Name(), provider.KindInvalidRequest, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := provider.Send(ctx, p.client, p.Name(), httpReq)
	if err != nil {
		return provider.Content{}, err
	}
	if len(resp.Body) == 0 {
		return provider.Content{}, provider.Malformed(p.Name(), "empty audio")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "audio/mpeg"
	}
	if strings.HasPrefix(contentType, "application/json") {
		return provider.Content{}, provider.Malformed(p.Name(), "expected audio, got JSON")
	}

	return provider.Content{Data: resp.Body, ContentType: contentType, Provider: p.Name()}, nil
}

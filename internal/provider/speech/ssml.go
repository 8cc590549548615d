// Package speech implements the speech synthesis providers.
package speech

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

var logger = logging.New("speech")

const (
	DefaultOutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	DefaultLanguage     = "en-US"
	DefaultVoice        = "en-US-AriaNeural"
)

// SSMLConfig configures an SSMLProvider.
type SSMLConfig struct {
	Name            string
	Endpoint        string
	SubscriptionKey string
	OutputFormat    string
	Language        string
	DefaultVoice    string
	UserAgent       string
}

// SSMLProvider synthesizes speech from an SSML document authenticated with
// a subscription key.
type SSMLProvider struct {
	config SSMLConfig
	client *http.Client
}

// NewSSMLProvider creates the primary speech provider.
func NewSSMLProvider(config SSMLConfig, client *http.Client) *SSMLProvider {
	if config.Name == "" {
		config.Name = "ssml"
	}
	if config.OutputFormat == "" {
		config.OutputFormat = DefaultOutputFormat
	}
	if config.Language == "" {
		config.Language = DefaultLanguage
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = DefaultVoice
	}
	if config.UserAgent == "" {
		config.UserAgent = "lullaby"
	}
	if client == nil {
		client = provider.NewHTTPClient(provider.DefaultTimeout)
	}
	return &SSMLProvider{config: config, client: client}
}

// Name returns the provider name.
func (p *SSMLProvider) Name() string { return p.config.Name }

// Fetch synthesizes one clip.
func (p *SSMLProvider) Fetch(ctx context.Context, req provider.Request) (provider.Content, error) {
	in, err := speechInput(p.Name(), req)
	if err != nil {
		return provider.Content{}, err
	}
	if p.config.SubscriptionKey == "" {
		return provider.Content{}, provider.NewError(p.Name(), provider.KindUnauthorized, "missing subscription key", nil)
	}

	voice := in.Voice
	if voice == "" {
		voice = p.config.DefaultVoice
	}
	doc := BuildSSML(in.Text, voice, in.Rate, p.config.Language)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, strings.NewReader(doc))
	if err != nil {
		return provider.Content{}, provider.NewError(p.Name(), provider.KindInvalidRequest, "failed to create request", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.config.SubscriptionKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", p.config.OutputFormat)
	httpReq.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := provider.Send(ctx, p.client, p.Name(), httpReq)
	if err != nil {
		return provider.Content{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		logger.Debug("Unexpected content type", "provider", p.Name(), "type", contentType)
		return provider.Content{}, provider.Malformed(p.Name(), fmt.Sprintf("expected audio, got %q", contentType))
	}
	if len(resp.Body) == 0 {
		return provider.Content{}, provider.Malformed(p.Name(), "empty audio")
	}

	return provider.Content{Data: resp.Body, ContentType: contentType, Provider: p.Name()}, nil
}

// BuildSSML renders the SSML document for text spoken by voice. A rate other
// than 1.0 adds a prosody wrapper with a relative percentage.
func BuildSSML(text, voice string, rate float64, lang string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s">`, escape(lang))
	fmt.Fprintf(&b, `<voice name="%s">`, escape(voice))

	body := escape(text)
	if pct := ratePercent(rate); pct != 0 {
		fmt.Fprintf(&b, `<prosody rate="%+d%%">%s</prosody>`, pct, body)
	} else {
		b.WriteString(body)
	}

	b.WriteString(`</voice></speak>`)
	return b.String()
}

func ratePercent(rate float64) int {
	if rate <= 0 {
		return 0
	}
	return int(math.Round((rate - 1) * 100))
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func speechInput(name string, req provider.Request) (*provider.SpeechInput, error) {
	if req.Speech == nil {
		return nil, provider.InvalidRequest(name, "speech input required")
	}
	if strings.TrimSpace(req.Speech.Text) == "" {
		return nil, provider.InvalidRequest(name, "empty text")
	}
	return req.Speech, nil
}

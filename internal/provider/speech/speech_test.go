package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightlight-labs/lullaby/internal/provider"
)

func TestBuildSSML(t *testing.T) {
	doc := BuildSSML(`Tom & "Jerry" <sleep>`, "en-US-AriaNeural", 1.0, "en-US")
	assert.Contains(t, doc, `<voice name="en-US-AriaNeural">`)
	assert.Contains(t, doc, "Tom &amp; &#34;Jerry&#34; &lt;sleep&gt;")
	assert.NotContains(t, doc, "prosody")

	slow := BuildSSML("hush", "v", 0.8, "en-US")
	assert.Contains(t, slow, `<prosody rate="-20%">hush</prosody>`)

	fast := BuildSSML("hush", "v", 1.15, "en-US")
	assert.Contains(t, fast, `<prosody rate="+15%">`)
}

func TestSSMLProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "application/ssml+xml", r.Header.Get("Content-Type"))
		assert.Equal(t, DefaultOutputFormat, r.Header.Get("X-Microsoft-OutputFormat"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `<voice name="en-GB-SoniaNeural">`)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xff, 0xfb, 0x90})
	}))
	defer server.Close()

	p := NewSSMLProvider(SSMLConfig{Endpoint: server.URL, SubscriptionKey: "secret"}, server.Client())
	content, err := p.Fetch(context.Background(), provider.Request{Speech: &provider.SpeechInput{
		Text: "Goodnight", Voice: "en-GB-SoniaNeural", Rate: 1,
	}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, content.Data)
	assert.Equal(t, "audio/mpeg", content.ContentType)
	assert.Equal(t, "ssml", content.Provider)
}

func TestSSMLProvider_NonAudioIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	defer server.Close()

	p := NewSSMLProvider(SSMLConfig{Endpoint: server.URL, SubscriptionKey: "k"}, server.Client())
	_, err := p.Fetch(context.Background(), provider.Request{Speech: &provider.SpeechInput{Text: "hi"}})
	assert.Equal(t, provider.KindMalformedResponse, provider.KindOf(err))
}

func TestSSMLProvider_Validation(t *testing.T) {
	p := NewSSMLProvider(SSMLConfig{Endpoint: "http://127.0.0.1:0", SubscriptionKey: "k"}, nil)

	_, err := p.Fetch(context.Background(), provider.Request{Speech: &provider.SpeechInput{Text: "  "}})
	assert.Equal(t, provider.KindInvalidRequest, provider.KindOf(err))

	_, err = p.Fetch(context.Background(), provider.Request{Story: &provider.StoryPrompt{}})
	assert.Equal(t, provider.KindInvalidRequest, provider.KindOf(err))

	p = NewSSMLProvider(SSMLConfig{Endpoint: "http://127.0.0.1:0"}, nil)
	_, err = p.Fetch(context.Background(), provider.Request{Speech: &provider.SpeechInput{Text: "hi"}})
	assert.Equal(t, provider.KindUnauthorized, provider.KindOf(err))
}

func TestJSONSpeechProvider_Fetch(t *testing.T) {
	var got speechRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer server.Close()

	p := NewJSONSpeechProvider(JSONConfig{Endpoint: server.URL, APIKey: "sk", Model: "tts-1"}, server.Client())
	content, err := p.Fetch(context.Background(), provider.Request{Speech: &provider.SpeechInput{Text: "Sleep tight", Rate: 0.9}})
	require.NoError(t, err)

	assert.Equal(t, "RIFFdata", string(content.Data))
	assert.Equal(t, "tts-1", got.Model)
	assert.Equal(t, "Sleep tight", got.Input)
	assert.Equal(t, "alloy", got.Voice)
	assert.InDelta(t, 0.9, got.Speed, 1e-9)
}

func TestJSONSpeechProvider_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		kind        provider.Kind
	}{
		{name: "empty audio", status: 200, kind: provider.KindMalformedResponse},
		{name: "json instead of audio", status: 200, contentType: "application/json", body: `{"ok":true}`, kind: provider.KindMalformedResponse},
		{name: "forbidden", status: 403, kind: provider.KindUnauthorized},
		{name: "bad gateway", status: 502, kind: provider.KindServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewJSONSpeechProvider(JSONConfig{Endpoint: server.URL, APIKey: "sk"}, server.Client())
			_, err := p.Fetch(context.Background(), provider.Request{Speech: &provider.SpeechInput{Text: "hi"}})
			assert.Equal(t, tt.kind, provider.KindOf(err))
		})
	}
}

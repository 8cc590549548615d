// Package story implements the chat-completion story provider.
package story

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

var logger = logging.New("story")

// contentPath locates the generated text in a chat-completion response.
const contentPath = "choices.0.message.content"

// DefaultMaxTokens maps story length to the completion budget.
var DefaultMaxTokens = map[provider.Length]int{
	provider.LengthShort:  400,
	provider.LengthMedium: 800,
	provider.LengthLong:   1400,
}

// Config configures a ChatProvider.
type Config struct {
	Name        string
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   map[provider.Length]int // overrides DefaultMaxTokens per length
	UserAgent   string
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// ChatProvider generates stories through a chat-completion endpoint.
type ChatProvider struct {
	config Config
	client *http.Client
}

// NewChatProvider creates a story provider. A nil client gets the default
// provider client.
func NewChatProvider(config Config, client *http.Client) *ChatProvider {
	if config.Name == "" {
		config.Name = "chat"
	}
	if config.UserAgent == "" {
		config.UserAgent = "lullaby"
	}
	if client == nil {
		client = provider.NewHTTPClient(provider.DefaultTimeout)
	}
	return &ChatProvider{config: config, client: client}
}

// Name returns the provider name.
func (p *ChatProvider) Name() string { return p.config.Name }

// Fetch generates one story.
func (p *ChatProvider) Fetch(ctx context.Context, req provider.Request) (provider.Content, error) {
	if req.Story == nil {
		return provider.Content{}, provider.InvalidRequest(p.Name(), "story prompt required")
	}
	if p.config.APIKey == "" {
		return provider.Content{}, provider.NewError(p.Name(), provider.KindUnauthorized, "missing API key", nil)
	}

	body, err := json.Marshal(chatRequest{
		Model:       p.config.Model,
		Messages:    BuildMessages(*req.Story),
		MaxTokens:   p.maxTokens(req.Story.Length),
		Temperature: p.config.Temperature,
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

	result := gjson.GetBytes(resp.Body, contentPath)
	if !result.Exists() {
		logger.Debug("Response has no message content", "provider", p.Name(), "bytes", len(resp.Body))
		return provider.Content{}, provider.Malformed(p.Name(), "response has no message content")
	}
	text := strings.TrimSpace(result.String())
	if text == "" {
		return provider.Content{}, provider.Malformed(p.Name(), "empty story")
	}

	return provider.Content{
		Data:        []byte(text),
		ContentType: "text/plain; charset=utf-8",
		Provider:    p.Name(),
	}, nil
}

func (p *ChatProvider) maxTokens(l provider.Length) int {
	if n, ok := p.config.MaxTokens[l]; ok && n > 0 {
		return n
	}
	if n, ok := DefaultMaxTokens[l]; ok {
		return n
	}
	return DefaultMaxTokens[provider.LengthMedium]
}

// BuildMessages assembles the system and user messages for a prompt.
func BuildMessages(p provider.StoryPrompt) []Message {
	age := p.ChildAge
	if age <= 0 {
		age = 5
	}
	length := p.Length
	if length == "" {
		length = provider.LengthMedium
	}

	system := fmt.Sprintf(
		"You are a gentle bedtime storyteller for a %d-year-old child. "+
			"Use simple words, a calm pace and a warm, reassuring ending. "+
			"Avoid anything frightening.", age)
	user := fmt.Sprintf(
		"Tell a %s bedtime story about %s. The main character is %s.",
		length, strings.TrimSpace(p.Theme), strings.TrimSpace(p.Character))

	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

// ErrInvalidRequest is wrapped by every validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request identifies the content a caller wants.
type Request struct {
	Category cache.Category
	Story    *provider.StoryPrompt
	Speech   *provider.SpeechInput

	// ForceRefresh skips the cache read. The result is still written.
	ForceRefresh bool
}

// StoryRequest builds a story request.
func StoryRequest(p provider.StoryPrompt) Request {
	return Request{Category: cache.CategoryStory, Story: &p}
}

// SpeechRequest builds a speech request.
func SpeechRequest(in provider.SpeechInput) Request {
	return Request{Category: cache.CategorySpeech, Speech: &in}
}

// Validate checks that the parameters match the category.
func (r Request) Validate() error {
	switch r.Category {
	case cache.CategoryStory:
		if r.Story == nil || r.Speech != nil {
			return fmt.Errorf("%w: story requests carry a story prompt only", ErrInvalidRequest)
		}
		if strings.TrimSpace(r.Story.Theme) == "" && strings.TrimSpace(r.Story.Character) == "" {
			return fmt.Errorf("%w: theme or character required", ErrInvalidRequest)
		}
		if r.Story.ChildAge < 0 {
			return fmt.Errorf("%w: negative child age", ErrInvalidRequest)
		}
	case cache.CategorySpeech:
		if r.Speech == nil || r.Story != nil {
			return fmt.Errorf("%w: speech requests carry speech input only", ErrInvalidRequest)
		}
		if strings.TrimSpace(r.Speech.Text) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidRequest)
		}
		if r.Speech.Rate < 0 {
			return fmt.Errorf("%w: negative rate", ErrInvalidRequest)
		}
	case "":
		return fmt.Errorf("%w: missing category", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unsupported category %q", ErrInvalidRequest, r.Category)
	}
	return nil
}

// Key derives the cache key. It is only meaningful for a valid request.
func (r Request) Key() string {
	switch {
	case r.Story != nil:
		return cache.StoryKey(r.Story.Theme, r.Story.Character, string(r.Story.Length), r.Story.ChildAge)
	case r.Speech != nil:
		return cache.SpeechKey(r.Speech.Text, r.Speech.Voice, rate(r.Speech.Rate))
	default:
		return ""
	}
}

func (r Request) providerRequest() provider.Request {
	return provider.Request{Story: r.Story, Speech: r.Speech}
}

// attributes describes the request for the record store.
func (r Request) attributes() map[string]string {
	switch {
	case r.Story != nil:
		return map[string]string{
			"theme":     r.Story.Theme,
			"character": r.Story.Character,
			"length":    string(r.Story.Length),
			"child_age": strconv.Itoa(r.Story.ChildAge),
		}
	case r.Speech != nil:
		return map[string]string{
			"text_hash": cache.TextHash(strings.TrimSpace(r.Speech.Text)),
			"voice":     r.Speech.Voice,
			"rate":      strconv.FormatFloat(rate(r.Speech.Rate), 'f', 2, 64),
		}
	default:
		return nil
	}
}

// rate treats an unset rate as normal speed so both spellings share a key.
func rate(r float64) float64 {
	if r == 0 {
		return 1
	}
	return r
}

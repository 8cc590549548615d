// Package provider defines the contract every content provider satisfies and
// the error taxonomy the fetch pipeline retries on.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider produces content for a single request. Implementations hold no
// cache state and are safe for concurrent use.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) (Content, error)
}

// Length is the requested story length.
type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// ParseLength returns the Length named by s, ignoring case.
func ParseLength(s string) (Length, error) {
	switch l := Length(strings.ToLower(strings.TrimSpace(s))); l {
	case LengthShort, LengthMedium, LengthLong:
		return l, nil
	case "":
		return LengthMedium, nil
	default:
		return "", fmt.Errorf("unknown story length %q", s)
	}
}

// StoryPrompt describes a story to generate.
type StoryPrompt struct {
	Theme     string
	Character string
	Length    Length
	ChildAge  int
}

// SpeechInput describes a clip to synthesize.
type SpeechInput struct {
	Text  string
	Voice string
	Rate  float64 // 1.0 is normal speed
}

// Request carries exactly one of Story or Speech.
type Request struct {
	Story  *StoryPrompt
	Speech *SpeechInput
}

// Content is a successful provider result.
type Content struct {
	Data        []byte
	ContentType string
	Provider    string
}

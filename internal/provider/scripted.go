package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Step is one scripted provider result.
type Step struct {
	Data        []byte
	ContentType string
	Err         error
	Delay       time.Duration // simulated processing time
}

// Scripted replays a fixed sequence of results and records every call. Once
// the script runs out it synthesizes placeholder content from the request,
// which makes it usable as an offline demo provider.
type Scripted struct {
	name string

	mu    sync.Mutex
	steps []Step
	calls []Request
}

// NewScripted creates a scripted provider.
func NewScripted(name string, steps ...Step) *Scripted {
	if name == "" {
		name = "mock"
	}
	return &Scripted{name: name, steps: steps}
}

// Name returns the provider name.
func (s *Scripted) Name() string { return s.name }

// Fetch returns the next scripted result.
func (s *Scripted) Fetch(ctx context.Context, req Request) (Content, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	var step Step
	scripted := len(s.steps) > 0
	if scripted {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()

	if !scripted {
		step = placeholder(req)
	}

	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return Content{}, Classify(s.name, ctx.Err())
		case <-time.After(step.Delay):
		}
	}

	if step.Err != nil {
		return Content{}, step.Err
	}
	if len(step.Data) == 0 {
		return Content{}, Malformed(s.name, "empty response")
	}
	return Content{Data: step.Data, ContentType: step.ContentType, Provider: s.name}, nil
}

// Push appends steps to the script.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns how many times Fetch was called.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func placeholder(req Request) Step {
	switch {
	case req.Story != nil:
		p := req.Story
		text := fmt.Sprintf(
			"Once upon a time, %s went on a %s adventure. It was a %s story for a child of %d, and it ended with a quiet goodnight.",
			orDefault(p.Character, "a sleepy fox"),
			orDefault(strings.ToLower(p.Theme), "gentle"),
			orDefault(string(p.Length), string(LengthMedium)),
			p.ChildAge,
		)
		return Step{Data: []byte(text), ContentType: "text/plain; charset=utf-8"}
	case req.Speech != nil:
		// Silence, sized loosely after the text.
		return Step{Data: make([]byte, 64+len(req.Speech.Text)*16), ContentType: "audio/wav"}
	default:
		return Step{Err: InvalidRequest("mock", "request carries neither story nor speech")}
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

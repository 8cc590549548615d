// Package prefetch fills the cache ahead of time. A run walks an ordered job
// list built from subjects, themes and voices on one background goroutine,
// throttled so the remote providers never see a burst.
package prefetch

import (
	"strings"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/logging"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

var logger = logging.New("prefetch")

// JobKind is the category of content a job produces.
type JobKind string

const (
	JobStory  JobKind = "story"
	JobSpeech JobKind = "speech"
)

// Dimensions are the axes of a prefetch run.
type Dimensions struct {
	Subjects []string // story characters
	Themes   []string
	Voices   []string // one narration per voice; none means stories only
	Length   provider.Length
	ChildAge int
	Rate     float64
}

// Job is one entry of the ordered work list.
type Job struct {
	Index int
	Kind  JobKind
	Story provider.StoryPrompt // the story, or the story being narrated
	Voice string
	Rate  float64

	// DependsOn is the index of the story a speech job narrates, or -1.
	DependsOn int
}

// Category returns the cache category the job fills.
func (j Job) Category() cache.Category {
	if j.Kind == JobSpeech {
		return cache.CategorySpeech
	}
	return cache.CategoryStory
}

// BuildJobs expands the dimensions into an ordered job list: for every
// subject and theme a story job, immediately followed by one speech job per
// voice.
func BuildJobs(d Dimensions) []Job {
	subjects := nonEmpty(d.Subjects)
	themes := nonEmpty(d.Themes)
	voices := nonEmpty(d.Voices)
	if voices[0] == "" {
		voices = nil
	}

	var jobs []Job
	for _, subject := range subjects {
		for _, theme := range themes {
			if subject == "" && theme == "" {
				continue
			}
			prompt := provider.StoryPrompt{
				Theme:     theme,
				Character: subject,
				Length:    d.Length,
				ChildAge:  d.ChildAge,
			}
			storyIndex := len(jobs)
			jobs = append(jobs, Job{Index: storyIndex, Kind: JobStory, Story: prompt, DependsOn: -1})

			for _, voice := range voices {
				jobs = append(jobs, Job{
					Index:     len(jobs),
					Kind:      JobSpeech,
					Story:     prompt,
					Voice:     voice,
					Rate:      d.Rate,
					DependsOn: storyIndex,
				})
			}
		}
	}
	return jobs
}

// nonEmpty trims and dedupes values, keeping order. An empty list becomes a
// single blank so the other axes still expand.
func nonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

package prefetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

func TestBuildJobs_StoryThenNarrations(t *testing.T) {
	jobs := BuildJobs(Dimensions{
		Subjects: []string{"Luna", "Milo"},
		Themes:   []string{"space"},
		Voices:   []string{"aria", "guy"},
		Length:   provider.LengthShort,
		ChildAge: 4,
	})
	require.Len(t, jobs, 6)

	kinds := make([]JobKind, len(jobs))
	for i, j := range jobs {
		assert.Equal(t, i, j.Index)
		kinds[i] = j.Kind
	}
	assert.Equal(t, []JobKind{JobStory, JobSpeech, JobSpeech, JobStory, JobSpeech, JobSpeech}, kinds)

	assert.Equal(t, -1, jobs[0].DependsOn)
	assert.Equal(t, 0, jobs[1].DependsOn)
	assert.Equal(t, 0, jobs[2].DependsOn)
	assert.Equal(t, 3, jobs[5].DependsOn)

	assert.Equal(t, "Milo", jobs[3].Story.Character)
	assert.Equal(t, "space", jobs[3].Story.Theme)
	assert.Equal(t, 4, jobs[3].Story.ChildAge)
	assert.Equal(t, "guy", jobs[5].Voice)
	assert.Equal(t, cache.CategorySpeech, jobs[5].Category())
	assert.Equal(t, cache.CategoryStory, jobs[3].Category())
}

func TestBuildJobs_Axes(t *testing.T) {
	tests := []struct {
		name string
		dims Dimensions
		want int
	}{
		{"empty", Dimensions{}, 0},
		{"themes only", Dimensions{Themes: []string{"sea", "forest"}}, 2},
		{"subjects only", Dimensions{Subjects: []string{"Luna"}}, 1},
		{"no voices", Dimensions{Subjects: []string{"a", "b"}, Themes: []string{"x", "y"}}, 4},
		{"duplicates collapse", Dimensions{Themes: []string{"Sea", "sea ", " "}, Voices: []string{"aria", "aria"}}, 2},
		{"blank voices ignored", Dimensions{Themes: []string{"sea"}, Voices: []string{" "}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, BuildJobs(tt.dims), tt.want)
		})
	}
}

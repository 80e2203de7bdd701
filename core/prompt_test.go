package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPromptAssignsIDs(t *testing.T) {
	p, err := NewPrompt("Tell me about the All In podcast.")
	require.NoError(t, err)

	assert.NotEmpty(t, p.PromptID)
	assert.NotEmpty(t, p.TrackingID)
	assert.Nil(t, p.RepoIDsFilters)
}

func TestNewPromptRejectsEmptyRepoFilters(t *testing.T) {
	_, err := NewPrompt("x", WithRepoFilters([]string{}))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestEffectiveRepoFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		want    []string
	}{
		{name: "nil means default repo", filters: nil, want: []string{DefaultRepoID}},
		{name: "explicit filters pass through", filters: []string{"repo-a", "repo-b"}, want: []string{"repo-a", "repo-b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []PromptOption
			if tt.filters != nil {
				opts = append(opts, WithRepoFilters(tt.filters))
			}
			p, err := NewPrompt("x", opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.EffectiveRepoFilters())
		})
	}
}

func TestWithTrackingIDKept(t *testing.T) {
	p, err := NewPrompt("x", WithTrackingID("track-1"))
	require.NoError(t, err)
	assert.Equal(t, "track-1", p.TrackingID)
}

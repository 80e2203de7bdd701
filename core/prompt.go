package core

import (
	"github.com/google/uuid"
)

// ThinkingLevel controls how much deliberation the response model is asked
// to spend on a prompt.
type ThinkingLevel int

const (
	ThinkingLevelNone ThinkingLevel = iota
	ThinkingLevelLow
	ThinkingLevelMedium
	ThinkingLevelHigh
)

// DefaultRepoID is the reserved repo id used when a prompt carries no repo
// filter. The name "null" is reserved and may not be used by real repos.
const DefaultRepoID = "null"

// Prompt is a user or internally generated request. It is immutable after
// publication on the bus.
type Prompt struct {
	PromptID  string `json:"prompt_id"`
	PromptStr string `json:"prompt_str"`

	// RepoIDsFilters limits retrieval to the named repos. nil means "default
	// repo only"; an empty non-nil list is rejected at construction.
	RepoIDsFilters []string `json:"repo_ids_filters,omitempty"`

	TrainingMode     bool           `json:"training_mode"`
	IsLesson         bool           `json:"is_lesson"`
	TrackingID       string         `json:"tracking_id"`
	ParentID         string         `json:"parent_id,omitempty"`
	ThinkingLevel    ThinkingLevel  `json:"thinking_level"`
	TargetSingleFile string         `json:"target_single_file,omitempty"`
	InputData        map[string]any `json:"input_data,omitempty"`
}

// PromptOption mutates a prompt during construction.
type PromptOption func(*Prompt)

// WithRepoFilters restricts the prompt to the given repo ids.
func WithRepoFilters(repoIDs []string) PromptOption {
	return func(p *Prompt) { p.RepoIDsFilters = repoIDs }
}

// WithTrainingMode marks the prompt for the Codify validation loop.
func WithTrainingMode(enabled bool) PromptOption {
	return func(p *Prompt) { p.TrainingMode = enabled }
}

// WithTrackingID overrides the generated tracking correlation id.
func WithTrackingID(id string) PromptOption {
	return func(p *Prompt) { p.TrackingID = id }
}

// WithThinkingLevel sets the deliberation level for the response model.
func WithThinkingLevel(level ThinkingLevel) PromptOption {
	return func(p *Prompt) { p.ThinkingLevel = level }
}

// NewPrompt constructs a prompt, assigning ids where absent. An empty
// non-nil repo filter list is a validation error: the caller either wants the
// default repo (nil) or a concrete set of repos, never "no repos at all".
func NewPrompt(promptStr string, opts ...PromptOption) (*Prompt, error) {
	p := &Prompt{
		PromptID:  uuid.NewString(),
		PromptStr: promptStr,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.RepoIDsFilters != nil && len(p.RepoIDsFilters) == 0 {
		return nil, NewValidationError("repo_ids_filters must be nil or non-empty")
	}
	if p.TrackingID == "" {
		p.TrackingID = uuid.NewString()
	}

	return p, nil
}

// EffectiveRepoFilters returns the repo filters a vector query should use:
// the reserved default repo when no filter is set, the explicit set otherwise.
func (p *Prompt) EffectiveRepoFilters() []string {
	if p.RepoIDsFilters == nil {
		return []string{DefaultRepoID}
	}
	return p.RepoIDsFilters
}

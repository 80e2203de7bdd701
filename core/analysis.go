package core

// ConversationDirection is the first retrieval step's reading of where the
// conversation is going.
type ConversationDirection struct {
	WorkingMemory   string `json:"working_memory,omitempty"`
	UserIntent      string `json:"user_intent"`
	PerformResearch bool   `json:"perform_research"`
}

// PromptAnalysis is the structured result of analyzing a prompt against the
// candidate metas: expected response shape plus the generated lookup phrases.
type PromptAnalysis struct {
	ResponseLength string   `json:"response_length"`
	UserPromptType string   `json:"user_prompt_type"`
	ThinkingSteps  string   `json:"thinking_steps,omitempty"`
	Indices        []string `json:"indices,omitempty"`
}

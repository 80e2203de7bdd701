package core

// RetrieveResult is the output of the Retrieve stage: the candidate engram
// ids for a prompt plus the conversation direction that guided the search.
type RetrieveResult struct {
	AskID                 string                `json:"ask_id"`
	EngramIDArray         []string              `json:"engram_id_array"`
	ConversationDirection ConversationDirection `json:"conversation_direction"`
}

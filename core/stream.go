package core

// StreamPacket is one fragment of a streaming LLM answer, relayed verbatim
// to the WebSocket surface.
type StreamPacket struct {
	Text       string `json:"text"`
	IsTerminal bool   `json:"is_terminal"`
	Marker     string `json:"marker,omitempty"`
}

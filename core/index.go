package core

// Index pairs a lookup phrase with its dense embedding. The text is what the
// generating model produced; the embedding is attached by Consolidate before
// the index is inserted into the vector store.
type Index struct {
	Text      string    `json:"text" toml:"text"`
	Embedding []float64 `json:"embedding,omitempty" toml:"embedding,omitempty"`
}

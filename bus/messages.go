package bus

import (
	"github.com/engramic/engramic-go/core"
)

// Payload structs for the pipeline topics. Every message is correlated by a
// tracking id that survives the whole prompt or document lifecycle.

// RetrieveComplete is published after retrieval selects engrams for a prompt.
type RetrieveComplete struct {
	AskID          string              `json:"ask_id"`
	Prompt         core.Prompt         `json:"prompt"`
	Analysis       core.PromptAnalysis `json:"analysis"`
	RetrieveResult core.RetrieveResult `json:"retrieve_result"`
}

// IndexComplete carries the generated indices for one engram.
type IndexComplete struct {
	EngramID   string       `json:"engram_id"`
	IndexList  []core.Index `json:"index_list"`
	RepoIDs    []string     `json:"repo_ids,omitempty"`
	TrackingID string       `json:"tracking_id"`
}

// LessonCreated registers a lesson root in the progress tree.
type LessonCreated struct {
	LessonID   string `json:"lesson_id"`
	TargetID   string `json:"target_id"`
	TrackingID string `json:"tracking_id"`
}

// PromptCreated registers a prompt root in the progress tree.
type PromptCreated struct {
	PromptID   string `json:"prompt_id"`
	TargetID   string `json:"target_id"`
	TrackingID string `json:"tracking_id"`
}

// DocumentCreated registers a document node. ParentID is empty unless the
// document belongs to a lesson.
type DocumentCreated struct {
	DocumentID string `json:"document_id"`
	ParentID   string `json:"parent_id,omitempty"`
	TargetID   string `json:"target_id"`
	TrackingID string `json:"tracking_id"`
}

// ObservationCreated hangs an observation under its document or prompt.
type ObservationCreated struct {
	ObservationID string `json:"observation_id"`
	ParentID      string `json:"parent_id"`
	TrackingID    string `json:"tracking_id"`
}

// EngramsCreated hangs a batch of engrams under their observation.
type EngramsCreated struct {
	EngramIDs  []string `json:"engram_ids"`
	ParentID   string   `json:"parent_id"`
	TrackingID string   `json:"tracking_id"`
}

// IndicesCreated grows the index total for a tracking id.
type IndicesCreated struct {
	EngramID   string   `json:"engram_id"`
	IndexIDs   []string `json:"index_ids"`
	TrackingID string   `json:"tracking_id"`
}

// IndicesInserted reports indices landed in the vector store.
type IndicesInserted struct {
	EngramID   string   `json:"engram_id"`
	IndexIDs   []string `json:"index_ids"`
	TrackingID string   `json:"tracking_id"`
}

// DocumentInserted fires when every index under a document is inserted.
type DocumentInserted struct {
	DocumentID string `json:"document_id"`
	TargetID   string `json:"target_id"`
	TrackingID string `json:"tracking_id"`
}

// ProgressUpdated reports completion progress for a root node. A non-empty
// FailedMessage marks the unit of work failed.
type ProgressUpdated struct {
	ID              string  `json:"id"`
	TargetID        string  `json:"target_id"`
	ProgressType    string  `json:"progress_type"`
	PercentComplete float64 `json:"percent_complete"`
	TrackingID      string  `json:"tracking_id"`
	FailedMessage   string  `json:"failed_message,omitempty"`
}

// RepoSubmitIDs announces the known repositories.
type RepoSubmitIDs struct {
	Repos []core.Repo `json:"repos"`
}

// RepoDirectoryScanned closes out one repository scan pass.
type RepoDirectoryScanned struct {
	RepoID    string `json:"repo_id"`
	FileCount int    `json:"file_count"`
}

// RepoFileFound announces one scanned file or folder.
type RepoFileFound struct {
	Node core.FileNode `json:"node"`
}

// RepoTreeUpdated carries a full re-scan of a repository tree.
type RepoTreeUpdated struct {
	RepoID string          `json:"repo_id"`
	Nodes  []core.FileNode `json:"nodes"`
}

// SubmitDocument asks Sense to ingest a file.
type SubmitDocument struct {
	Node          core.FileNode `json:"node"`
	OverwriteScan bool          `json:"overwrite_scan,omitempty"`
}

// ResponseMessage is a user-facing text message relayed to the gateway,
// used for streamed fragments and plain-language failure explanations.
type ResponseMessage struct {
	Packet     core.StreamPacket `json:"packet"`
	TrackingID string            `json:"tracking_id"`
}

// Acknowledge is the heartbeat ping; every service answers with Status.
type Acknowledge struct {
	RequestID string `json:"request_id"`
}

// Status is one service's heartbeat reply: the work it counted since the
// previous ping.
type Status struct {
	RequestID string           `json:"request_id"`
	Service   string           `json:"service"`
	Timestamp int64            `json:"timestamp"`
	Metrics   map[string]int64 `json:"metrics"`
}

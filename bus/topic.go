// Package bus provides topic pub/sub between services. The default transport
// delivers in process; a NATS transport is available for multi-process runs.
package bus

// Topic identifies a message stream. The set is closed: publishing or
// subscribing to an unknown topic is an error.
type Topic string

const (
	TopicSubmitPrompt   Topic = "submit_prompt"
	TopicSubmitDocument Topic = "submit_document"

	TopicRetrieveComplete    Topic = "retrieve_complete"
	TopicMainPromptComplete  Topic = "main_prompt_complete"
	TopicObservationComplete Topic = "observation_complete"
	TopicEngramComplete      Topic = "engram_complete"
	TopicMetaComplete        Topic = "meta_complete"
	TopicIndexComplete       Topic = "index_complete"

	TopicLessonCreated      Topic = "lesson_created"
	TopicLessonCompleted    Topic = "lesson_completed"
	TopicPromptCreated      Topic = "prompt_created"
	TopicPromptInserted     Topic = "prompt_inserted"
	TopicDocumentCreated    Topic = "document_created"
	TopicDocumentInserted   Topic = "document_inserted"
	TopicObservationCreated Topic = "observation_created"
	TopicEngramsCreated     Topic = "engrams_created"
	TopicIndicesCreated     Topic = "indices_created"
	TopicIndicesInserted    Topic = "indices_inserted"

	TopicRepoSubmitIDs         Topic = "repo_submit_ids"
	TopicRepoDirectoryScanned  Topic = "repo_directory_scanned"
	TopicRepoFileFound         Topic = "repo_file_found"
	TopicRepoTreeUpdated       Topic = "repo_file_folder_tree_updated"
	TopicProgressUpdated       Topic = "progress_updated"
	TopicResponseSubmitMessage Topic = "response_submit_response"

	TopicStatus        Topic = "status"
	TopicAcknowledge   Topic = "acknowledge"
	TopicStartProfiler Topic = "start_profiler"
	TopicEndProfiler   Topic = "end_profiler"
)

var knownTopics = map[Topic]bool{
	TopicSubmitPrompt:          true,
	TopicSubmitDocument:        true,
	TopicRetrieveComplete:      true,
	TopicMainPromptComplete:    true,
	TopicObservationComplete:   true,
	TopicEngramComplete:        true,
	TopicMetaComplete:          true,
	TopicIndexComplete:         true,
	TopicLessonCreated:         true,
	TopicLessonCompleted:       true,
	TopicPromptCreated:         true,
	TopicPromptInserted:        true,
	TopicDocumentCreated:       true,
	TopicDocumentInserted:      true,
	TopicObservationCreated:    true,
	TopicEngramsCreated:        true,
	TopicIndicesCreated:        true,
	TopicIndicesInserted:       true,
	TopicRepoSubmitIDs:         true,
	TopicRepoDirectoryScanned:  true,
	TopicRepoFileFound:         true,
	TopicRepoTreeUpdated:       true,
	TopicProgressUpdated:       true,
	TopicResponseSubmitMessage: true,
	TopicStatus:                true,
	TopicAcknowledge:           true,
	TopicStartProfiler:         true,
	TopicEndProfiler:           true,
}

// Known reports whether the topic belongs to the closed set.
func Known(t Topic) bool {
	return knownTopics[t]
}

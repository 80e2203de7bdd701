package core

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/google/uuid"
)

// Response is a completed answer from the Response stage. Hash is the md5 of
// the response text and doubles as the source id for engrams derived from it.
type Response struct {
	ID             string         `json:"id"`
	Response       string         `json:"response"`
	RetrieveResult RetrieveResult `json:"retrieve_result"`
	PromptStr      string         `json:"prompt_str"`
	Analysis       PromptAnalysis `json:"analysis"`
	Model          string         `json:"model"`
	Hash           string         `json:"hash"`
	TrackingID     string         `json:"tracking_id,omitempty"`
	TrainingMode   bool           `json:"training_mode"`
	CreatedAt      int64          `json:"created_at"`
}

// NewResponse builds a response, computing the content hash.
func NewResponse(text string, retrieve RetrieveResult, promptStr string, analysis PromptAnalysis, model string) Response {
	return Response{
		ID:             uuid.NewString(),
		Response:       text,
		RetrieveResult: retrieve,
		PromptStr:      promptStr,
		Analysis:       analysis,
		Model:          model,
		Hash:           HashText(text),
		CreatedAt:      NowUnix(),
	}
}

// HashText returns the hex md5 digest of a string.
func HashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

package core

import (
	"time"

	"github.com/google/uuid"
)

// ProcessStatus is the lifecycle state of a multi-pass workflow.
type ProcessStatus string

const (
	ProcessStatusInit    ProcessStatus = "init"
	ProcessStatusPrep    ProcessStatus = "prep"
	ProcessStatusRunning ProcessStatus = "running"
	ProcessStatusDone    ProcessStatus = "done"
	ProcessStatusFailed  ProcessStatus = "failed"
)

// Process tracks a multi-pass workflow over a document or prompt. Memory is
// free-form state carried between passes.
type Process struct {
	ID                string         `json:"id"`
	ProcessName       string         `json:"process_name"`
	PassArray         []string       `json:"pass_array"`
	CurrentPass       int            `json:"current_pass"`
	PercentComplete   float64        `json:"percent_complete"`
	Status            ProcessStatus  `json:"status"`
	Memory            map[string]any `json:"memory,omitempty"`
	FailedMessage     string         `json:"failed_message,omitempty"`
	CurrentTrackingID string         `json:"current_tracking_id,omitempty"`
	StartTime         int64          `json:"start_time"`
}

// NewProcess builds a process in the init state.
func NewProcess(name string, passes []string) *Process {
	return &Process{
		ID:          uuid.NewString(),
		ProcessName: name,
		PassArray:   passes,
		Status:      ProcessStatusInit,
		Memory:      map[string]any{},
		StartTime:   time.Now().Unix(),
	}
}

// Fail marks the process failed with a user-facing explanation.
func (p *Process) Fail(message string) {
	p.Status = ProcessStatusFailed
	p.FailedMessage = message
}

// Advance moves to the next pass, updating percent complete. Returns false
// when every pass has run.
func (p *Process) Advance() bool {
	if p.CurrentPass+1 >= len(p.PassArray) {
		p.CurrentPass = len(p.PassArray)
		p.PercentComplete = 1.0
		p.Status = ProcessStatusDone
		return false
	}
	p.CurrentPass++
	p.PercentComplete = float64(p.CurrentPass) / float64(len(p.PassArray))
	p.Status = ProcessStatusRunning
	return true
}

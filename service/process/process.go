// Package process tracks the workflow behind each submitted document: it
// registers a scan process, follows its progress to done or failed, and
// persists every state change so the run survives a restart.
package process

import (
	"context"
	"log/slog"
	"sync"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

// scanPass is the single pass a document scan runs. Workflows persist their
// full pass array so multi-pass processes share the same shape.
const scanPass = "scan_file"

type outcome int

const (
	outcomeRunning outcome = iota
	outcomeAdvanced
	outcomeDone
	outcomeFailed
)

// Service is the workflow tracker.
type Service struct {
	service.Base
	processes *repository.Processes

	mu     sync.Mutex
	active map[string]*core.Process // keyed by tracking id
}

// New creates the process tracker.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, processes *repository.Processes) *Service {
	return &Service{
		Base:      service.NewBase("process", logger, b, executor),
		processes: processes,
		active:    map[string]*core.Process{},
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	if err := s.Bus.Subscribe(bus.TopicSubmitDocument, s.onSubmitDocument); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicProgressUpdated, s.onProgressUpdated)
}

// onSubmitDocument registers a scan workflow for the submitted file. Folders
// and already-stored files never reach this topic, so every registered
// process is backed by a real scan.
func (s *Service) onSubmitDocument(ctx context.Context, data []byte) {
	var msg bus.SubmitDocument
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad document payload", "error", err)
		return
	}
	if msg.Node.TrackingID == "" {
		s.Log.Warn("submitted document has no tracking id", "id", msg.Node.ID)
		return
	}

	p := core.NewProcess(scanPass, []string{scanPass})
	p.CurrentTrackingID = msg.Node.TrackingID
	p.Memory["document_id"] = msg.Node.ID

	s.mu.Lock()
	s.active[p.CurrentTrackingID] = p
	snap := *p
	s.mu.Unlock()

	s.Track("processes_started")
	s.save(ctx, &snap)
}

// onProgressUpdated drives the workflow owning the tracking id. Progress for
// prompts and lessons flows through here too; those tracking ids are not ours.
func (s *Service) onProgressUpdated(ctx context.Context, data []byte) {
	var msg bus.ProgressUpdated
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad progress payload", "error", err)
		return
	}

	s.mu.Lock()
	p, ok := s.active[msg.TrackingID]
	if !ok {
		s.mu.Unlock()
		return
	}

	result := outcomeRunning
	switch {
	case msg.FailedMessage != "":
		p.Fail(msg.FailedMessage)
		delete(s.active, msg.TrackingID)
		result = outcomeFailed
	case msg.PercentComplete >= 1.0:
		if p.Advance() {
			result = outcomeAdvanced
		} else {
			delete(s.active, msg.TrackingID)
			result = outcomeDone
		}
	default:
		p.Status = core.ProcessStatusRunning
		p.PercentComplete = (float64(p.CurrentPass) + msg.PercentComplete) / float64(len(p.PassArray))
	}
	snap := *p
	s.mu.Unlock()

	switch result {
	case outcomeFailed:
		s.Track("processes_failed")
		s.save(ctx, &snap)
		s.explainFailure(ctx, msg.TrackingID, msg.FailedMessage)
	case outcomeDone:
		s.Track("processes_completed")
		s.save(ctx, &snap)
		s.Log.Info("process complete", "name", snap.ProcessName, "id", snap.ID)
	case outcomeAdvanced:
		s.save(ctx, &snap)
	}
}

// save persists the workflow state. A storage failure never interrupts the
// pipeline.
func (s *Service) save(ctx context.Context, p *core.Process) {
	if err := s.processes.Save(ctx, p); err != nil {
		s.Log.Error("cannot save process", "id", p.ID, "error", err)
	}
}

// explainFailure tells the user in plain language why the workflow stopped.
func (s *Service) explainFailure(ctx context.Context, trackingID, reason string) {
	err := s.Bus.Publish(ctx, bus.TopicResponseSubmitMessage, bus.ResponseMessage{
		Packet: core.StreamPacket{
			Text:       "Processing failed: " + reason,
			IsTerminal: true,
		},
		TrackingID: trackingID,
	})
	if err != nil {
		s.Log.Error("failed to publish failure message", "error", err)
	}
}

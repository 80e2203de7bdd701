// Package response implements the answer stage: it renders the main prompt
// from retrieved engrams and conversation history, streams the completion to
// the gateway, and publishes the finished response.
package response

import (
	"context"
	"log/slog"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

const usageMain = "response_main"

// Service is the response stage.
type Service struct {
	service.Base
	plugins      *plugin.Manager
	engrams      *repository.Engrams
	history      *repository.History
	historyLimit int
}

// New creates the response service. historyLimit is how many prior
// exchanges are rendered into the main prompt.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, plugins *plugin.Manager, engrams *repository.Engrams, history *repository.History, historyLimit int) *Service {
	return &Service{
		Base:         service.NewBase("response", logger, b, executor),
		plugins:      plugins,
		engrams:      engrams,
		history:      history,
		historyLimit: historyLimit,
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicRetrieveComplete, s.onRetrieveComplete)
}

func (s *Service) onRetrieveComplete(ctx context.Context, data []byte) {
	var msg bus.RetrieveComplete
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad retrieve payload", "error", err)
		return
	}

	s.Exec.RunBackground("response_generate", func(ctx context.Context) error {
		return s.Generate(ctx, &msg)
	})
}

type fetched struct {
	engrams []core.Engram
	history []core.Response
}

// Generate produces and publishes the answer for one retrieval result.
func (s *Service) Generate(ctx context.Context, msg *bus.RetrieveComplete) error {
	inputs, err := s.fetchInputs(ctx, msg)
	if err != nil {
		return err
	}

	mainPrompt := renderMainPrompt(&msg.Prompt, msg.Analysis, msg.RetrieveResult.ConversationDirection, inputs.engrams, inputs.history)
	s.Log.Debug("main prompt rendered",
		"tracking_id", msg.Prompt.TrackingID,
		"engrams", len(inputs.engrams),
		"history", len(inputs.history),
		"prompt", mainPrompt)

	handle, err := s.plugins.Get(config.CategoryLLM, usageMain)
	if err != nil {
		return err
	}
	llm, err := handle.LLM()
	if err != nil {
		return err
	}

	text, err := llm.SubmitStreaming(ctx, mainPrompt, handle.Args, &busSink{
		bus:        s.Bus,
		ctx:        ctx,
		trackingID: msg.Prompt.TrackingID,
	})
	if err != nil {
		return err
	}

	response := core.NewResponse(text, msg.RetrieveResult, msg.Prompt.PromptStr, msg.Analysis, handle.Args.String("model", ""))
	response.TrackingID = msg.Prompt.TrackingID
	response.TrainingMode = msg.Prompt.TrainingMode

	s.Track("responses_generated")
	return s.Bus.Publish(ctx, bus.TopicMainPromptComplete, response)
}

// fetchInputs loads the engram batch and the recent history in parallel.
func (s *Service) fetchInputs(ctx context.Context, msg *bus.RetrieveComplete) (*fetched, error) {
	engramsFuture := exec.RunTask(s.Exec, func(ctx context.Context) ([]core.Engram, error) {
		return s.engrams.LoadBatch(ctx, msg.RetrieveResult.EngramIDArray)
	})
	historyFuture := exec.RunTask(s.Exec, func(ctx context.Context) ([]core.Response, error) {
		return s.history.FetchRecent(ctx, s.historyLimit)
	})

	engrams, err := engramsFuture.Wait(ctx)
	if err != nil {
		return nil, err
	}
	history, err := historyFuture.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &fetched{engrams: engrams, history: history}, nil
}

// busSink relays streamed fragments to the gateway topic.
type busSink struct {
	bus        bus.Bus
	ctx        context.Context
	trackingID string
}

func (s *busSink) Send(packet core.StreamPacket) error {
	return s.bus.Publish(s.ctx, bus.TopicResponseSubmitMessage, bus.ResponseMessage{
		Packet:     packet,
		TrackingID: s.trackingID,
	})
}

// Package codify implements the training stage: it validates a finished
// answer against its sources and turns the memorable parts into a new
// observation.
package codify

import (
	"context"
	"log/slog"

	"github.com/pelletier/go-toml/v2"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

const usageValidate = "codify_validate"

// Minimum scores an engram needs to feed a later merge.
const (
	DefaultAccuracyThreshold  = 3
	DefaultRelevancyThreshold = 3
)

// Service is the codify stage.
type Service struct {
	service.Base
	plugins      *plugin.Manager
	engrams      *repository.Engrams
	metas        *repository.Metas
	observations *repository.Observations
}

// New creates the codify service.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, plugins *plugin.Manager, engrams *repository.Engrams, metas *repository.Metas, observations *repository.Observations) *Service {
	return &Service{
		Base:         service.NewBase("codify", logger, b, executor),
		plugins:      plugins,
		engrams:      engrams,
		metas:        metas,
		observations: observations,
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicMainPromptComplete, s.onMainPromptComplete)
}

func (s *Service) onMainPromptComplete(ctx context.Context, data []byte) {
	var response core.Response
	if err := bus.Decode(data, &response); err != nil {
		s.Log.Error("bad response payload", "error", err)
		return
	}
	if !response.TrainingMode {
		return
	}

	s.Exec.RunBackground("codify_validate", func(ctx context.Context) error {
		return s.Validate(ctx, &response)
	})
}

// Validate runs the training loop for one answer. A [not_memorable] verdict
// ends the stage quietly; it is an outcome, not a failure.
func (s *Service) Validate(ctx context.Context, response *core.Response) error {
	sources, err := s.engrams.LoadBatch(ctx, response.RetrieveResult.EngramIDArray)
	if err != nil {
		return err
	}
	metas, err := s.metas.LoadBatch(ctx, metaIDsOf(sources))
	if err != nil {
		return err
	}

	handle, err := s.plugins.Get(config.CategoryLLM, usageValidate)
	if err != nil {
		return err
	}
	llm, err := handle.LLM()
	if err != nil {
		return err
	}

	raw, err := llm.Submit(ctx, renderValidatePrompt(response, sources, metas), nil, handle.Args)
	if err != nil {
		return err
	}

	dict := map[string]any{}
	if err := toml.Unmarshal([]byte(raw), &dict); err != nil {
		return core.NewValidationError("validate response is not valid TOML: %v", err)
	}

	if _, notMemorable := dict["not_memorable"]; notMemorable {
		s.Log.Info("answer judged not memorable", "tracking_id", response.TrackingID)
		return nil
	}

	if err := s.observations.ValidateTOMLDict(dict); err != nil {
		return err
	}
	dict = s.observations.NormalizeTOMLDict(dict, response)

	obs, err := s.observations.LoadTOMLDict(dict)
	if err != nil {
		return err
	}
	obs.TrackingID = response.TrackingID
	obs.ParentID = response.ID

	s.Track("observations_codified")
	s.Log.Info("observation codified", "observation_id", obs.ID, "engrams", len(obs.EngramList), "tracking_id", obs.TrackingID)
	return s.Bus.Publish(ctx, bus.TopicObservationComplete, obs)
}

// metaIDsOf collects the distinct meta ids referenced by the source engrams.
func metaIDsOf(engrams []core.Engram) []string {
	seen := map[string]bool{}
	var out []string
	for i := range engrams {
		for _, id := range engrams[i].MetaIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// MergeCandidates filters engrams that score at or above both thresholds.
// Merged engrams become derived and union the source sets of their parents.
func MergeCandidates(engrams []core.Engram, accuracyThreshold, relevancyThreshold int) []core.Engram {
	var out []core.Engram
	for i := range engrams {
		if engrams[i].Accuracy >= accuracyThreshold && engrams[i].RelevancyScore >= relevancyThreshold {
			out = append(out, engrams[i])
		}
	}
	return out
}

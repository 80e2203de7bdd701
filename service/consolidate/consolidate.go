// Package consolidate implements the indexing stage: it summarizes and
// embeds a new observation's meta, generates lookup indices for every
// engram, and embeds them for vector insertion.
package consolidate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/service"
)

const (
	usageSummary  = "consolidate_summary"
	usageGenIndex = "consolidate_gen_index"
)

// Service is the consolidate stage. It owns the in-flight engram map
// between "engram emitted" and "indices embedded".
type Service struct {
	service.Base
	plugins *plugin.Manager

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates the consolidate service.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, plugins *plugin.Manager) *Service {
	return &Service{
		Base:     service.NewBase("consolidate", logger, b, executor),
		plugins:  plugins,
		inFlight: map[string]bool{},
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicObservationComplete, s.onObservationComplete)
}

func (s *Service) onObservationComplete(ctx context.Context, data []byte) {
	var obs core.Observation
	if err := bus.Decode(data, &obs); err != nil {
		s.Log.Error("bad observation payload", "error", err)
		return
	}

	s.Exec.RunBackground("consolidate_observation", func(ctx context.Context) error {
		return s.Consolidate(ctx, &obs)
	})
}

// Consolidate processes one observation end to end.
func (s *Service) Consolidate(ctx context.Context, obs *core.Observation) error {
	if err := s.registerInFlight(obs); err != nil {
		return err
	}
	s.Track("observations_consolidated")

	if err := s.publishProgressNodes(ctx, obs); err != nil {
		return err
	}

	if err := s.completeMeta(ctx, obs); err != nil {
		return err
	}

	indexLists, err := s.generateIndices(ctx, obs)
	if err != nil {
		return err
	}
	if err := s.embedIndices(ctx, obs, indexLists); err != nil {
		return err
	}

	for i := range obs.EngramList {
		engram := &obs.EngramList[i]

		indexIDs := make([]string, len(engram.Indices))
		for j, idx := range engram.Indices {
			indexIDs[j] = core.HashText(idx.Text)
		}
		if err := s.Bus.Publish(ctx, bus.TopicIndicesCreated, bus.IndicesCreated{
			EngramID:   engram.ID,
			IndexIDs:   indexIDs,
			TrackingID: obs.TrackingID,
		}); err != nil {
			return err
		}

		if err := s.Bus.Publish(ctx, bus.TopicIndexComplete, bus.IndexComplete{
			EngramID:   engram.ID,
			IndexList:  engram.Indices,
			RepoIDs:    engram.LibraryIDs,
			TrackingID: obs.TrackingID,
		}); err != nil {
			return err
		}
		if err := s.Bus.Publish(ctx, bus.TopicEngramComplete, engram); err != nil {
			return err
		}

		s.mu.Lock()
		delete(s.inFlight, engram.ID)
		s.mu.Unlock()
	}

	return nil
}

// registerInFlight claims every engram id in the observation. A duplicate id
// means two consolidations are racing on the same engram, which is a logic
// bug, not an environment fault.
func (s *Service) registerInFlight(obs *core.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range obs.EngramList {
		id := obs.EngramList[i].ID
		if s.inFlight[id] {
			return core.NewInvariantError("engram %s is already being consolidated", id)
		}
	}
	for i := range obs.EngramList {
		s.inFlight[obs.EngramList[i].ID] = true
	}
	return nil
}

// publishProgressNodes registers the observation and its engram batch in
// the progress tree before any completion event can arrive for them.
func (s *Service) publishProgressNodes(ctx context.Context, obs *core.Observation) error {
	if obs.TrackingID == "" {
		return nil
	}

	if err := s.Bus.Publish(ctx, bus.TopicObservationCreated, bus.ObservationCreated{
		ObservationID: obs.ID,
		ParentID:      obs.ParentID,
		TrackingID:    obs.TrackingID,
	}); err != nil {
		return err
	}

	ids := make([]string, len(obs.EngramList))
	for i := range obs.EngramList {
		ids[i] = obs.EngramList[i].ID
	}
	return s.Bus.Publish(ctx, bus.TopicEngramsCreated, bus.EngramsCreated{
		EngramIDs:  ids,
		ParentID:   obs.ID,
		TrackingID: obs.TrackingID,
	})
}

// completeMeta summarizes the meta when it arrived without a full summary,
// embeds the summary text, and publishes meta_complete.
func (s *Service) completeMeta(ctx context.Context, obs *core.Observation) error {
	meta := &obs.Meta

	if meta.SummaryFull.Text == "" {
		handle, err := s.plugins.Get(config.CategoryLLM, usageSummary)
		if err != nil {
			return err
		}
		llm, err := handle.LLM()
		if err != nil {
			return err
		}
		raw, err := llm.Submit(ctx, renderSummaryPrompt(obs), map[string]string{
			"summary":  "string",
			"keywords": "list[string]",
		}, handle.Args)
		if err != nil {
			return err
		}
		var parsed struct {
			Summary  string   `json:"summary"`
			Keywords []string `json:"keywords"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return core.NewValidationError("summary response is not valid JSON: %v", err)
		}
		meta.SummaryFull.Text = parsed.Summary
		if len(meta.Keywords) == 0 {
			meta.Keywords = parsed.Keywords
		}
	}

	embeddings, err := s.embed(ctx, []string{meta.SummaryFull.Text})
	if err != nil {
		return err
	}
	if len(embeddings) > 0 {
		meta.SummaryFull.Embedding = embeddings[0]
	}

	return s.Bus.Publish(ctx, bus.TopicMetaComplete, meta)
}

// generateIndices runs one index-generation call per engram in parallel and
// returns the phrase lists keyed by engram id.
func (s *Service) generateIndices(ctx context.Context, obs *core.Observation) (map[string][]string, error) {
	tasks := map[string]exec.Task[[]string]{}
	for i := range obs.EngramList {
		engram := obs.EngramList[i]
		tasks[engram.ID] = func(ctx context.Context) ([]string, error) {
			handle, err := s.plugins.Get(config.CategoryLLM, usageGenIndex)
			if err != nil {
				return nil, err
			}
			llm, err := handle.LLM()
			if err != nil {
				return nil, err
			}
			raw, err := llm.Submit(ctx, renderGenIndexPrompt(&engram), map[string]string{
				"indices": "list[string]",
			}, handle.Args)
			if err != nil {
				return nil, err
			}
			var parsed struct {
				Indices []string `json:"indices"`
			}
			if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
				return nil, core.NewValidationError("index response is not valid JSON: %v", err)
			}
			return parsed.Indices, nil
		}
	}

	return exec.RunTasks(ctx, s.Exec, tasks)
}

// embedIndices embeds each engram's phrase batch in parallel and attaches
// the resulting Index objects, preserving phrase order.
func (s *Service) embedIndices(ctx context.Context, obs *core.Observation, indexLists map[string][]string) error {
	tasks := map[string]exec.Task[[]core.Index]{}
	for i := range obs.EngramList {
		engramID := obs.EngramList[i].ID
		phrases := indexLists[engramID]
		tasks[engramID] = func(ctx context.Context) ([]core.Index, error) {
			if len(phrases) == 0 {
				return nil, nil
			}
			embeddings, err := s.embed(ctx, phrases)
			if err != nil {
				return nil, err
			}
			if len(embeddings) != len(phrases) {
				return nil, core.NewInvariantError("embedding count mismatch for engram %s", engramID)
			}
			indices := make([]core.Index, len(phrases))
			for j := range phrases {
				indices[j] = core.Index{Text: phrases[j], Embedding: embeddings[j]}
			}
			return indices, nil
		}
	}

	results, err := exec.RunTasks(ctx, s.Exec, tasks)
	if err != nil {
		return err
	}
	for i := range obs.EngramList {
		obs.EngramList[i].Indices = results[obs.EngramList[i].ID]
	}
	return nil
}

func (s *Service) embed(ctx context.Context, inputs []string) ([][]float64, error) {
	handle, err := s.plugins.Get(config.CategoryEmbedding, "default")
	if err != nil {
		return nil, err
	}
	emb, err := handle.Embedding()
	if err != nil {
		return nil, err
	}
	return emb.GenEmbed(ctx, inputs, handle.Args)
}

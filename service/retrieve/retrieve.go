// Package retrieve implements the retrieval stage: it turns a prompt into a
// set of candidate engram ids by directing, analyzing, and vector-searching
// against the memory collections.
package retrieve

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

// Plugin usage slots this service resolves through the active profile.
const (
	usageDirection = "retrieve_direction"
	usageAnalyze   = "retrieve_analyze"
	usageGenIndex  = "retrieve_gen_index"
)

var (
	promptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engramic_retrieve_prompts_total",
		Help: "Prompts submitted to the retrieve stage.",
	})
	vectorInsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engramic_vector_inserts_total",
		Help: "Index batches inserted into the vector store.",
	}, []string{"collection"})
)

// Service is the retrieve stage.
type Service struct {
	service.Base
	plugins *plugin.Manager
	metas   *repository.Metas
}

// New creates the retrieve service.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, plugins *plugin.Manager, metas *repository.Metas) *Service {
	return &Service{
		Base:    service.NewBase("retrieve", logger, b, executor),
		plugins: plugins,
		metas:   metas,
	}
}

// InitAsync subscribes the stage's topics. Vector insertion also lives here:
// this service owns the vector store, so completed indices and metas come
// back to it to land in their collections.
func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	if err := s.Bus.Subscribe(bus.TopicSubmitPrompt, s.onSubmitPrompt); err != nil {
		return err
	}
	if err := s.Bus.Subscribe(bus.TopicMetaComplete, s.onMetaComplete); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicIndexComplete, s.onIndexComplete)
}

func (s *Service) onSubmitPrompt(ctx context.Context, data []byte) {
	var prompt core.Prompt
	if err := bus.Decode(data, &prompt); err != nil {
		s.Log.Error("bad prompt payload", "error", err)
		return
	}

	s.Exec.RunBackground("retrieve_submit", func(ctx context.Context) error {
		return s.Submit(ctx, &prompt)
	})
}

// direction is the structured result of the first retrieval LLM call.
type direction struct {
	UserIntent      string `json:"user_intent"`
	PerformResearch bool   `json:"perform_research"`
}

type analysis struct {
	ResponseLength string `json:"response_length"`
	UserPromptType string `json:"user_prompt_type"`
	ThinkingSteps  string `json:"thinking_steps"`
}

type generatedIndices struct {
	Indices []string `json:"indices"`
}

// Submit runs the retrieval pipeline for one prompt and publishes
// retrieve_complete.
func (s *Service) Submit(ctx context.Context, prompt *core.Prompt) error {
	promptsTotal.Inc()
	s.Track("prompts_submitted")
	s.Log.Info("retrieving", "prompt_id", prompt.PromptID, "tracking_id", prompt.TrackingID)

	dir, err := s.generateDirection(ctx, prompt)
	if err != nil {
		return err
	}

	metaIDs, err := s.queryMetaCollection(ctx, prompt, dir.UserIntent)
	if err != nil {
		return err
	}
	metas, err := s.metas.LoadBatch(ctx, metaIDs)
	if err != nil {
		return err
	}

	ana, phrases, err := s.analyzeAndIndex(ctx, prompt, metas, dir)
	if err != nil {
		return err
	}

	engramIDs, err := s.queryMainCollection(ctx, prompt, phrases)
	if err != nil {
		return err
	}

	result := core.RetrieveResult{
		AskID:         uuid.NewString(),
		EngramIDArray: engramIDs,
		ConversationDirection: core.ConversationDirection{
			UserIntent:      dir.UserIntent,
			PerformResearch: dir.PerformResearch,
		},
	}

	return s.Bus.Publish(ctx, bus.TopicRetrieveComplete, bus.RetrieveComplete{
		AskID:          result.AskID,
		Prompt:         *prompt,
		Analysis:       core.PromptAnalysis{ResponseLength: ana.ResponseLength, UserPromptType: ana.UserPromptType, ThinkingSteps: ana.ThinkingSteps, Indices: phrases},
		RetrieveResult: result,
	})
}

func (s *Service) generateDirection(ctx context.Context, prompt *core.Prompt) (*direction, error) {
	handle, err := s.plugins.Get(config.CategoryLLM, usageDirection)
	if err != nil {
		return nil, err
	}
	llm, err := handle.LLM()
	if err != nil {
		return nil, err
	}

	raw, err := llm.Submit(ctx, directionPrompt(prompt), map[string]string{
		"user_intent":      "string",
		"perform_research": "bool",
	}, handle.Args)
	if err != nil {
		return nil, err
	}

	var dir direction
	if err := json.Unmarshal([]byte(raw), &dir); err != nil {
		return nil, core.NewValidationError("direction response is not valid JSON: %v", err)
	}
	return &dir, nil
}

// queryMetaCollection embeds the user intent and returns candidate meta ids.
func (s *Service) queryMetaCollection(ctx context.Context, prompt *core.Prompt, userIntent string) ([]string, error) {
	embeddings, err := s.embed(ctx, []string{userIntent})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	handle, err := s.plugins.Get(config.CategoryVectorDB, "default")
	if err != nil {
		return nil, err
	}
	vdb, err := handle.VectorDB()
	if err != nil {
		return nil, err
	}

	return vdb.Query(ctx, plugin.CollectionMeta, embeddings[0],
		prompt.EffectiveRepoFilters(), nil, nil, queryArgs(handle.Args))
}

// analyzeAndIndex runs the prompt analysis and the index generation in
// parallel; both use the candidate metas as domain hints.
func (s *Service) analyzeAndIndex(ctx context.Context, prompt *core.Prompt, metas []core.Meta, dir *direction) (*analysis, []string, error) {
	results, err := exec.RunTasks(ctx, s.Exec, map[string]exec.Task[string]{
		"analyze": func(ctx context.Context) (string, error) {
			handle, err := s.plugins.Get(config.CategoryLLM, usageAnalyze)
			if err != nil {
				return "", err
			}
			llm, err := handle.LLM()
			if err != nil {
				return "", err
			}
			return llm.Submit(ctx, analyzePrompt(prompt, metas), map[string]string{
				"response_length":  "string",
				"user_prompt_type": "string",
				"thinking_steps":   "string",
			}, handle.Args)
		},
		"gen_index": func(ctx context.Context) (string, error) {
			handle, err := s.plugins.Get(config.CategoryLLM, usageGenIndex)
			if err != nil {
				return "", err
			}
			llm, err := handle.LLM()
			if err != nil {
				return "", err
			}
			return llm.Submit(ctx, genIndexPrompt(prompt, metas, dir), map[string]string{
				"indices": "list[string]",
			}, handle.Args)
		},
	})
	if err != nil {
		return nil, nil, err
	}

	var ana analysis
	if err := json.Unmarshal([]byte(results["analyze"]), &ana); err != nil {
		return nil, nil, core.NewValidationError("analysis response is not valid JSON: %v", err)
	}
	var gen generatedIndices
	if err := json.Unmarshal([]byte(results["gen_index"]), &gen); err != nil {
		return nil, nil, core.NewValidationError("index response is not valid JSON: %v", err)
	}
	return &ana, gen.Indices, nil
}

// queryMainCollection embeds every index phrase and unions the engram ids
// returned for each, preserving phrase order for deterministic replay.
func (s *Service) queryMainCollection(ctx context.Context, prompt *core.Prompt, phrases []string) ([]string, error) {
	if len(phrases) == 0 {
		return nil, nil
	}

	embeddings, err := s.embed(ctx, phrases)
	if err != nil {
		return nil, err
	}

	handle, err := s.plugins.Get(config.CategoryVectorDB, "default")
	if err != nil {
		return nil, err
	}
	vdb, err := handle.VectorDB()
	if err != nil {
		return nil, err
	}

	var locationFilters []string
	if prompt.TargetSingleFile != "" {
		locationFilters = []string{prompt.TargetSingleFile}
	}

	seen := map[string]bool{}
	var union []string
	for _, embedding := range embeddings {
		ids, err := vdb.Query(ctx, plugin.CollectionMain, embedding,
			prompt.EffectiveRepoFilters(), nil, locationFilters, queryArgs(handle.Args))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			union = append(union, id)
		}
	}
	return union, nil
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

// onMetaComplete lands a consolidated meta's summary index in the meta
// collection.
func (s *Service) onMetaComplete(ctx context.Context, data []byte) {
	var meta core.Meta
	if err := bus.Decode(data, &meta); err != nil {
		s.Log.Error("bad meta payload", "error", err)
		return
	}

	s.Exec.RunBackground("insert_meta_index", func(ctx context.Context) error {
		if len(meta.SummaryFull.Embedding) == 0 {
			s.Log.Warn("meta arrived without an embedding, skipping insert", "meta_id", meta.ID)
			return nil
		}
		handle, err := s.plugins.Get(config.CategoryVectorDB, "default")
		if err != nil {
			return err
		}
		vdb, err := handle.VectorDB()
		if err != nil {
			return err
		}
		repoIDs := meta.RepoIDs
		if len(repoIDs) == 0 {
			repoIDs = []string{core.DefaultRepoID}
		}
		if err := vdb.Insert(ctx, plugin.CollectionMeta, []core.Index{meta.SummaryFull}, meta.ID, repoIDs, string(meta.Type), meta.Locations); err != nil {
			return err
		}
		vectorInsertsTotal.WithLabelValues(plugin.CollectionMeta).Inc()
		return nil
	})
}

// onIndexComplete lands an engram's indices in the main collection, then
// reports insertion so the progress tree can bubble up.
func (s *Service) onIndexComplete(ctx context.Context, data []byte) {
	var msg bus.IndexComplete
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad index payload", "error", err)
		return
	}

	s.Exec.RunBackground("insert_engram_indices", func(ctx context.Context) error {
		handle, err := s.plugins.Get(config.CategoryVectorDB, "default")
		if err != nil {
			return err
		}
		vdb, err := handle.VectorDB()
		if err != nil {
			return err
		}

		repoIDs := msg.RepoIDs
		if len(repoIDs) == 0 {
			repoIDs = []string{core.DefaultRepoID}
		}
		if err := vdb.Insert(ctx, plugin.CollectionMain, msg.IndexList, msg.EngramID, repoIDs, "engram", nil); err != nil {
			return err
		}
		vectorInsertsTotal.WithLabelValues(plugin.CollectionMain).Inc()

		indexIDs := make([]string, len(msg.IndexList))
		for i, idx := range msg.IndexList {
			indexIDs[i] = core.HashText(idx.Text)
		}
		return s.Bus.Publish(ctx, bus.TopicIndicesInserted, bus.IndicesInserted{
			EngramID:   msg.EngramID,
			IndexIDs:   indexIDs,
			TrackingID: msg.TrackingID,
		})
	})
}

func queryArgs(args plugin.Args) plugin.QueryArgs {
	return plugin.QueryArgs{
		Threshold: args.Float("threshold", 0),
		NResults:  args.Int("n_results", 0),
	}
}

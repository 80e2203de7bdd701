// Package sense implements the perception stage: it scans a document into
// annotated text, chunks it into native engrams, and emits the observation
// that feeds consolidation.
package sense

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

const (
	usageInitialScan = "sense_initial_scan"
	usageScan        = "sense_scan"
	usageFullSummary = "sense_full_summary"
)

// PageRasterizer turns a document into one encoded PNG string per page.
// PDF rendering lives behind this interface so the pipeline does not bind
// to a rendering toolkit.
type PageRasterizer interface {
	Rasterize(ctx context.Context, path string, maxPages int) ([]string, error)
}

// RasterizerFunc adapts a function to the PageRasterizer interface.
type RasterizerFunc func(ctx context.Context, path string, maxPages int) ([]string, error)

func (f RasterizerFunc) Rasterize(ctx context.Context, path string, maxPages int) ([]string, error) {
	return f(ctx, path, maxPages)
}

// Service is the sense stage.
type Service struct {
	service.Base
	plugins    *plugin.Manager
	documents  *repository.Documents
	rasterizer PageRasterizer
	chunker    *Chunker
	cfg        config.SenseConfig
	root       string
}

// New creates the sense service. root is the filesystem prefix resource
// paths resolve against.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, plugins *plugin.Manager, documents *repository.Documents, rasterizer PageRasterizer, cfg config.SenseConfig, root string) *Service {
	return &Service{
		Base:       service.NewBase("sense", logger, b, executor),
		plugins:    plugins,
		documents:  documents,
		rasterizer: rasterizer,
		chunker:    NewChunker(cfg.MaxChunkSize),
		cfg:        cfg,
		root:       root,
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicSubmitDocument, s.onSubmitDocument)
}

func (s *Service) onSubmitDocument(ctx context.Context, data []byte) {
	var msg bus.SubmitDocument
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad document payload", "error", err)
		return
	}

	s.Exec.RunBackground("sense_scan_document", func(ctx context.Context) error {
		err := s.ScanDocument(ctx, &msg.Node)
		if core.IsValidation(err) {
			// A bad document fails its own unit of work, not the host.
			s.Log.Warn("document rejected", "path", msg.Node.FilePath(), "error", err)
			return s.Bus.Publish(ctx, bus.TopicProgressUpdated, bus.ProgressUpdated{
				ID:            msg.Node.ID,
				TargetID:      msg.Node.ID,
				ProgressType:  "document",
				TrackingID:    msg.Node.TrackingID,
				FailedMessage: err.Error(),
			})
		}
		return err
	})
}

// ScanDocument runs the perception pipeline for one file node.
func (s *Service) ScanDocument(ctx context.Context, node *core.FileNode) error {
	s.Track("documents_scanned")
	s.Log.Info("scanning document", "path", node.FilePath(), "tracking_id", node.TrackingID)

	if err := s.Bus.Publish(ctx, bus.TopicDocumentCreated, bus.DocumentCreated{
		DocumentID: node.ID,
		ParentID:   node.RepoID,
		TargetID:   node.ID,
		TrackingID: node.TrackingID,
	}); err != nil {
		return err
	}
	if err := s.documents.Save(ctx, node); err != nil {
		return err
	}

	fullPath := filepath.Join(s.root, node.FilePath())
	var annotated string
	var initial *initialScan
	var err error

	switch strings.ToLower(filepath.Ext(node.FileName)) {
	case ".engram":
		return s.ingestEngramFile(ctx, node, fullPath)
	case ".html", ".htm":
		annotated, initial, err = s.scanHTML(ctx, node, fullPath)
	default:
		annotated, initial, err = s.scanPages(ctx, node, fullPath)
	}
	if err != nil {
		return err
	}

	obs, err := s.buildObservation(ctx, node, annotated, initial)
	if err != nil {
		return err
	}
	return s.Bus.Publish(ctx, bus.TopicObservationComplete, obs)
}

// initialScan is the structured result of the first-pages meta call.
type initialScan struct {
	Subject        string `json:"subject"`
	Audience       string `json:"audience"`
	DocumentTitle  string `json:"document_title"`
	Format         string `json:"format"`
	Type           string `json:"type"`
	TOC            string `json:"toc"`
	SummaryInitial string `json:"summary_initial"`
	Author         string `json:"author"`
	Date           string `json:"date"`
	Version        string `json:"version"`
}

// scanPages rasterizes the document and runs the initial and per-page scan
// calls.
func (s *Service) scanPages(ctx context.Context, node *core.FileNode, fullPath string) (string, *initialScan, error) {
	pages, err := s.rasterizer.Rasterize(ctx, fullPath, s.cfg.MaxPages)
	if err != nil {
		return "", nil, err
	}
	if len(pages) == 0 {
		return "", nil, core.NewValidationError("document %s has zero pages", node.FilePath())
	}

	leading := pages
	if len(leading) > s.cfg.InitialScanPages {
		leading = leading[:s.cfg.InitialScanPages]
	}
	initial, err := s.initialScan(ctx, node, leading)
	if err != nil {
		return "", nil, err
	}

	// One scan call per page; page order is preserved in the output.
	tasks := map[string]exec.Task[string]{}
	order := make([]string, len(pages))
	for i, page := range pages {
		name := "page_" + uuid.NewString()
		order[i] = name
		page := page
		tasks[name] = func(ctx context.Context) (string, error) {
			handle, err := s.plugins.Get(config.CategoryLLM, usageScan)
			if err != nil {
				return "", err
			}
			llm, err := handle.LLM()
			if err != nil {
				return "", err
			}
			args := plugin.Args{}
			for k, v := range handle.Args {
				args[k] = v
			}
			args["images"] = []string{page}
			return llm.Submit(ctx, renderScanPrompt(), nil, args)
		}
	}

	results, err := exec.RunTasks(ctx, s.Exec, tasks)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	for _, name := range order {
		b.WriteString("<page>")
		b.WriteString(results[name])
		b.WriteString("</page>\n")
	}
	return b.String(), initial, nil
}

func (s *Service) initialScan(ctx context.Context, node *core.FileNode, pages []string) (*initialScan, error) {
	handle, err := s.plugins.Get(config.CategoryLLM, usageInitialScan)
	if err != nil {
		return nil, err
	}
	llm, err := handle.LLM()
	if err != nil {
		return nil, err
	}

	args := plugin.Args{}
	for k, v := range handle.Args {
		args[k] = v
	}
	args["images"] = pages

	raw, err := llm.Submit(ctx, renderInitialScanPrompt(node), map[string]string{
		"subject":         "string",
		"audience":        "string",
		"document_title":  "string",
		"format":          "string",
		"type":            "string",
		"toc":             "string",
		"summary_initial": "string",
		"author":          "string",
		"date":            "string",
		"version":         "string",
	}, args)
	if err != nil {
		return nil, err
	}

	var scan initialScan
	if err := json.Unmarshal([]byte(raw), &scan); err != nil {
		return nil, core.NewValidationError("initial scan response is not valid JSON: %v", err)
	}
	return &scan, nil
}

// buildObservation chunks the annotated text into native engrams, runs the
// full summary, and assembles the observation.
func (s *Service) buildObservation(ctx context.Context, node *core.FileNode, annotated string, initial *initialScan) (*core.Observation, error) {
	chunks := s.chunker.Chunk(annotated)
	if len(chunks) == 0 {
		return nil, core.NewValidationError("document %s produced no content", node.FilePath())
	}

	metaID := uuid.NewString()
	now := core.NowUnix()
	location := string(node.RootDirectory) + ":" + node.FilePath()

	engrams := make([]core.Engram, 0, len(chunks))
	for _, chunk := range chunks {
		engrams = append(engrams, core.Engram{
			ID:             uuid.NewString(),
			Content:        chunk.Content,
			Context:        chunk.Context,
			IsNativeSource: true,
			Locations:      []string{location},
			SourceIDs:      []string{node.ID},
			MetaIDs:        []string{metaID},
			LibraryIDs:     repoIDsOf(node),
			CreatedDate:    now,
		})
	}

	summary, keywords, err := s.fullSummary(ctx, node, initial, engrams)
	if err != nil {
		return nil, err
	}

	meta := core.Meta{
		ID:          metaID,
		Type:        core.MetaTypeDocument,
		Locations:   []string{location},
		SourceIDs:   []string{node.ID},
		Keywords:    keywords,
		SummaryFull: core.Index{Text: summary},
		ParentID:    node.ID,
		RepoIDs:     repoIDsOf(node),
	}
	if initial != nil {
		meta.SummaryInitial = initial.SummaryInitial
	}

	obs := core.NewObservation(meta, engrams)
	obs.ParentID = node.ID
	obs.TrackingID = node.TrackingID

	s.Log.Info("document sensed", "path", node.FilePath(), "engrams", len(engrams))
	return &obs, nil
}

func (s *Service) fullSummary(ctx context.Context, node *core.FileNode, initial *initialScan, engrams []core.Engram) (string, []string, error) {
	handle, err := s.plugins.Get(config.CategoryLLM, usageFullSummary)
	if err != nil {
		return "", nil, err
	}
	llm, err := handle.LLM()
	if err != nil {
		return "", nil, err
	}

	raw, err := llm.Submit(ctx, renderFullSummaryPrompt(node, initial, engrams), map[string]string{
		"summary_full": "string",
		"keywords":     "list[string]",
	}, handle.Args)
	if err != nil {
		return "", nil, err
	}

	var parsed struct {
		SummaryFull string   `json:"summary_full"`
		Keywords    []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", nil, core.NewValidationError("full summary response is not valid JSON: %v", err)
	}
	return parsed.SummaryFull, parsed.Keywords, nil
}

func repoIDsOf(node *core.FileNode) []string {
	if node.RepoID == "" {
		return []string{core.DefaultRepoID}
	}
	return []string{node.RepoID}
}

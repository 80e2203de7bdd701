package sense

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/core"
)

// engramFile is the .engram seed format: one [meta] table and one
// [[engram]] table per engram.
type engramFile struct {
	Meta   core.Meta     `toml:"meta"`
	Engram []core.Engram `toml:"engram"`
}

// ingestEngramFile seeds memory from a .engram file without scanning. The
// file's engrams go straight to consolidation as a native observation.
func (s *Service) ingestEngramFile(ctx context.Context, node *core.FileNode, fullPath string) error {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return core.NewValidationError("failed to read %s: %v", node.FilePath(), err)
	}

	var file engramFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return core.NewValidationError("%s is not a valid engram file: %v", node.FilePath(), err)
	}
	if len(file.Engram) == 0 {
		return core.NewValidationError("%s contains no engrams", node.FilePath())
	}

	meta := file.Meta
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Type == "" {
		meta.Type = core.MetaTypeDocument
	}
	if len(meta.SourceIDs) == 0 {
		meta.SourceIDs = []string{node.ID}
	}
	if len(meta.RepoIDs) == 0 {
		meta.RepoIDs = repoIDsOf(node)
	}

	now := core.NowUnix()
	location := string(node.RootDirectory) + ":" + node.FilePath()
	for i := range file.Engram {
		engram := &file.Engram[i]
		if engram.ID == "" {
			engram.ID = uuid.NewString()
		}
		if engram.CreatedDate == 0 {
			engram.CreatedDate = now
		}
		if len(engram.Locations) == 0 {
			engram.Locations = []string{location}
		}
		if len(engram.SourceIDs) == 0 {
			engram.SourceIDs = []string{node.ID}
		}
		if len(engram.MetaIDs) == 0 {
			engram.MetaIDs = []string{meta.ID}
		}
		if len(engram.LibraryIDs) == 0 {
			engram.LibraryIDs = repoIDsOf(node)
		}
	}

	obs := core.NewObservation(meta, file.Engram)
	obs.ParentID = node.ID
	obs.TrackingID = node.TrackingID
	if err := obs.Validate(); err != nil {
		return err
	}

	s.Log.Info("engram file ingested", "path", node.FilePath(), "engrams", len(obs.EngramList))
	return s.Bus.Publish(ctx, bus.TopicObservationComplete, &obs)
}

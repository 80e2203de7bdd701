// Package repo discovers repositories under the configured root, scans their
// file trees into FileNodes, and submits new documents for sensing. A live
// watcher picks up files that appear after the initial scan.
package repo

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

// markerFile names a directory as a repository.
const markerFile = ".repo"

var filesSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "engramic_repo_files_submitted_total",
	Help: "New files submitted for document scanning.",
})

// markerConfig is the shape of a .repo marker file.
type markerConfig struct {
	Repository struct {
		ID        string `toml:"id"`
		Name      string `toml:"name"`
		IsDefault bool   `toml:"is_default"`
	} `toml:"repository"`
}

// Service is the repository scanner.
type Service struct {
	service.Base
	documents *repository.Documents
	cfg       config.RepoConfig
	root      string

	mu    sync.Mutex
	repos map[string]core.Repo // keyed by directory name
	seen  map[string]bool      // node ids already submitted

	watcher *fsnotify.Watcher
}

// New creates the repo scanner. The root comes from the config, falling back
// to REPO_ROOT.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, documents *repository.Documents, cfg config.RepoConfig) *Service {
	root := cfg.Root
	if root == "" {
		root = config.RepoRoot()
	}
	return &Service{
		Base:      service.NewBase("repo", logger, b, executor),
		documents: documents,
		cfg:       cfg,
		root:      root,
		repos:     map[string]core.Repo{},
		seen:      map[string]bool{},
	}
}

// Root returns the resolved repository root, empty when unconfigured.
func (s *Service) Root() string {
	return s.root
}

// Start discovers repositories, runs the initial scan, and starts the
// watcher when enabled.
func (s *Service) Start(ctx context.Context) error {
	if s.root == "" {
		s.Log.Info("no repository root configured, scanner idle")
		return nil
	}

	if err := s.discover(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	dirs := make([]string, 0, len(s.repos))
	for dir := range s.repos {
		dirs = append(dirs, dir)
	}
	s.mu.Unlock()

	// Repositories scan independently; one bad tree fails the start.
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			return s.scanRepo(gctx, dir)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if s.cfg.Watch {
		return s.startWatcher(ctx, dirs)
	}
	return nil
}

// Stop closes the watcher.
func (s *Service) Stop(timeout time.Duration) error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// discover finds subdirectories with a .repo marker and announces them. A
// marker without repository.id, or one claiming the reserved id, is skipped
// with a warning; other repositories continue.
func (s *Service) discover(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return config.NewConfigError("cannot read repository root %s: %v", s.root, err)
	}

	var repos []core.Repo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		markerPath := filepath.Join(s.root, entry.Name(), markerFile)
		raw, err := os.ReadFile(markerPath)
		if err != nil {
			continue
		}

		var marker markerConfig
		if err := toml.Unmarshal(raw, &marker); err != nil {
			s.Log.Warn("unreadable repo marker, skipping", "path", markerPath, "error", err)
			continue
		}
		if marker.Repository.ID == "" {
			s.Log.Warn("repo marker has no repository.id, skipping", "path", markerPath)
			continue
		}
		if marker.Repository.ID == core.DefaultRepoID {
			s.Log.Warn("repository.id is reserved, skipping", "path", markerPath, "id", marker.Repository.ID)
			continue
		}

		name := marker.Repository.Name
		if name == "" {
			name = entry.Name()
		}
		repo := core.Repo{
			Name:      name,
			RepoID:    marker.Repository.ID,
			IsDefault: marker.Repository.IsDefault,
		}
		s.mu.Lock()
		s.repos[entry.Name()] = repo
		s.mu.Unlock()
		repos = append(repos, repo)
	}

	s.Log.Info("repositories discovered", "count", len(repos))
	return s.Bus.Publish(ctx, bus.TopicRepoSubmitIDs, bus.RepoSubmitIDs{Repos: repos})
}

// scanRepo walks one repository directory, announces every node, publishes
// the full tree, and submits files not seen before.
func (s *Service) scanRepo(ctx context.Context, dir string) error {
	s.mu.Lock()
	repo, ok := s.repos[dir]
	s.mu.Unlock()
	if !ok {
		return core.NewInvariantError("scan of unknown repository directory %s", dir)
	}

	repoPath := filepath.Join(s.root, dir)
	var nodes []core.FileNode
	fileCount := 0

	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == repoPath {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if s.ignored(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		node, err := s.buildNode(rel, d.IsDir(), repo.RepoID)
		if err != nil {
			return err
		}
		nodes = append(nodes, *node)

		if err := s.Bus.Publish(ctx, bus.TopicRepoFileFound, bus.RepoFileFound{Node: *node}); err != nil {
			return err
		}
		if !d.IsDir() {
			fileCount++
			if err := s.maybeSubmit(ctx, node); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.Bus.Publish(ctx, bus.TopicRepoTreeUpdated, bus.RepoTreeUpdated{
		RepoID: repo.RepoID,
		Nodes:  nodes,
	}); err != nil {
		return err
	}
	return s.Bus.Publish(ctx, bus.TopicRepoDirectoryScanned, bus.RepoDirectoryScanned{
		RepoID:    repo.RepoID,
		FileCount: fileCount,
	})
}

// buildNode makes a FileNode for a path relative to the repository root.
func (s *Service) buildNode(rel string, isDir bool, repoID string) (*core.FileNode, error) {
	nodeType := core.NodeTypeFile
	if isDir {
		nodeType = core.NodeTypeFolder
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	dirs := parts[:len(parts)-1]
	name := parts[len(parts)-1]
	return core.NewFileNode(core.FileRootData, dirs, name, nodeType, repoID)
}

// maybeSubmit publishes submit_document for a file the store has not seen.
// Node ids are content hashes of the path, so a re-scan never enqueues the
// same file twice.
func (s *Service) maybeSubmit(ctx context.Context, node *core.FileNode) error {
	s.mu.Lock()
	already := s.seen[node.ID]
	s.seen[node.ID] = true
	s.mu.Unlock()
	if already {
		return nil
	}

	stored, err := s.documents.Load(ctx, node.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		return nil
	}

	filesSubmittedTotal.Inc()
	s.Track("files_submitted")
	s.Log.Info("submitting document", "path", node.FilePath(), "repo_id", node.RepoID)
	return s.Bus.Publish(ctx, bus.TopicSubmitDocument, bus.SubmitDocument{Node: *node})
}

func (s *Service) ignored(rel string) bool {
	for _, pattern := range s.cfg.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// startWatcher watches every repository directory tree and feeds create and
// write events back through the scanner.
func (s *Service) startWatcher(ctx context.Context, dirs []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	for _, dir := range dirs {
		repoPath := filepath.Join(s.root, dir)
		err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.Exec.RunBackground("repo_watch", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					s.handleEvent(ctx, event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				s.Log.Warn("watcher error", "error", err)
			}
		}
	})
	return nil
}

// handleEvent classifies one filesystem event. New directories are added to
// the watch set; new files go through the same dedupe as the initial scan.
func (s *Service) handleEvent(ctx context.Context, path string) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	relSlash := filepath.ToSlash(rel)
	if s.ignored(relSlash) {
		return
	}

	parts := strings.Split(relSlash, "/")
	s.mu.Lock()
	repo, known := s.repos[parts[0]]
	s.mu.Unlock()
	if !known || len(parts) < 2 {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := s.watcher.Add(path); err != nil {
			s.Log.Warn("cannot watch new directory", "path", path, "error", err)
		}
		return
	}

	node, err := s.buildNode(rel, false, repo.RepoID)
	if err != nil {
		s.Log.Warn("cannot build node for new file", "path", path, "error", err)
		return
	}
	if err := s.Bus.Publish(ctx, bus.TopicRepoFileFound, bus.RepoFileFound{Node: *node}); err != nil {
		s.Log.Error("failed to announce file", "error", err)
		return
	}
	if err := s.maybeSubmit(ctx, node); err != nil {
		s.Log.Error("failed to submit file", "error", err)
	}
}

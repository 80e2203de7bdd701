package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Register plugin backends via init()
	_ "github.com/engramic/engramic-go/plugin/backends/filedb"
	_ "github.com/engramic/engramic-go/plugin/backends/localvec"
	_ "github.com/engramic/engramic-go/plugin/backends/mock"
	_ "github.com/engramic/engramic-go/plugin/backends/openai"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/host"
	"github.com/engramic/engramic-go/plugin"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service/codify"
	"github.com/engramic/engramic-go/service/consolidate"
	"github.com/engramic/engramic-go/service/process"
	"github.com/engramic/engramic-go/service/profiler"
	"github.com/engramic/engramic-go/service/progress"
	reposcanner "github.com/engramic/engramic-go/service/repo"
	"github.com/engramic/engramic-go/service/response"
	"github.com/engramic/engramic-go/service/retrieve"
	"github.com/engramic/engramic-go/service/sense"
	"github.com/engramic/engramic-go/service/storage"
	"github.com/engramic/engramic-go/wsgateway"
)

// defaultCacheSize bounds each repository LRU.
const defaultCacheSize = 1024

// app is the assembled engine: config, plugins, repositories, and the host
// holding every service.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	collector   *plugin.Collector
	plugins     *plugin.Manager
	host        *host.Host
	storageRoot string
}

// buildOptions tweaks assembly per command.
type buildOptions struct {
	// senseRoot overrides the filesystem prefix document paths resolve
	// against. Empty means the repository root (or cwd without one).
	senseRoot string
	// withGateway controls whether the WebSocket surface is included.
	withGateway bool
}

// buildApp wires the full engine from a loaded config.
func buildApp(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts buildOptions) (*app, error) {
	raw, err := os.ReadFile(cfg.Profile.Path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	profiles, err := config.ParseProfiles(raw)
	if err != nil {
		return nil, err
	}
	profile, err := profiles.Resolve(cfg.Profile.Name)
	if err != nil {
		return nil, err
	}

	storageRoot := config.LocalStorageRoot(cfg)

	collector := plugin.NewCollector(cfg.Profile.GenerateMockData)
	fixtureDirs := append(config.PluginPaths(), storageRoot, filepath.Dir(cfg.Profile.Path))
	if path, err := collector.LoadFromPaths(fixtureDirs); err != nil {
		return nil, err
	} else if path != "" {
		logger.Info("mock fixtures loaded", "path", path)
	}

	plugins := plugin.NewManager(logger, profile, plugin.Deps{
		StorageRoot: storageRoot,
		Collector:   collector,
	})

	dbHandle, err := plugins.Get(config.CategoryDB, "document")
	if err != nil {
		return nil, err
	}
	db, err := dbHandle.DB()
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}

	engrams, err := repository.NewEngrams(db, defaultCacheSize)
	if err != nil {
		return nil, err
	}
	metas, err := repository.NewMetas(db, defaultCacheSize)
	if err != nil {
		return nil, err
	}
	observations, err := repository.NewObservations(db, defaultCacheSize)
	if err != nil {
		return nil, err
	}
	history, err := repository.NewHistory(db, defaultCacheSize)
	if err != nil {
		return nil, err
	}
	documents, err := repository.NewDocuments(db, defaultCacheSize)
	if err != nil {
		return nil, err
	}
	processes, err := repository.NewProcesses(db, defaultCacheSize)
	if err != nil {
		return nil, err
	}

	var b bus.Bus
	switch cfg.Bus.Transport {
	case "nats":
		b = bus.NewNATS(cfg.Bus.URL, logger)
	default:
		b = bus.NewInProc(logger)
	}
	executor := exec.New(logger)

	scanner := reposcanner.New(logger, b, executor, documents, cfg.Repo)
	senseRoot := opts.senseRoot
	if senseRoot == "" {
		senseRoot = scanner.Root()
	}
	if senseRoot == "" {
		senseRoot, _ = os.Getwd()
	}

	services := []host.Service{
		progress.New(logger, b, executor),
		process.New(logger, b, executor, processes),
		profiler.New(logger, b, executor, storageRoot),
		storage.New(logger, b, executor, history, observations, engrams, metas),
		retrieve.New(logger, b, executor, plugins, metas),
		response.New(logger, b, executor, plugins, engrams, history, cfg.Response.HistoryLimit),
		codify.New(logger, b, executor, plugins, engrams, metas, observations),
		consolidate.New(logger, b, executor, plugins),
		sense.New(logger, b, executor, plugins, documents, textRasterizer(), cfg.Sense, senseRoot),
		scanner,
	}

	if opts.withGateway {
		secret, err := config.JWTSecret()
		if err != nil {
			logger.Warn("websocket surface disabled", "error", err)
		} else {
			services = append(services, wsgateway.New(logger, b, executor, cfg.WebSocket, []byte(secret)))
		}
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		collector:   collector,
		plugins:     plugins,
		host:        host.New(logger, b, executor, services...),
		storageRoot: storageRoot,
	}, nil
}

// close flushes recorded mock data and releases the backends.
func (a *app) close() {
	if a.cfg.Profile.GenerateMockData {
		if err := a.collector.Flush(a.storageRoot); err != nil {
			a.logger.Error("failed to flush mock data", "error", err)
		}
	}
	if err := a.plugins.Close(); err != nil {
		a.logger.Error("failed to close backends", "error", err)
	}
}

// textRasterizer is the built-in fallback rasterizer: it serves a text file
// as a single page. Real page rendering (PDF and friends) plugs in behind
// the PageRasterizer interface.
func textRasterizer() sense.PageRasterizer {
	return sense.RasterizerFunc(func(ctx context.Context, path string, maxPages int) ([]string, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, core.NewValidationError("cannot read document %s: %v", path, err)
		}
		if len(raw) == 0 {
			return nil, nil
		}
		return []string{string(raw)}, nil
	})
}

// shutdownTimeout bounds the ingest command's wait for pipeline completion.
const shutdownTimeout = 10 * time.Minute

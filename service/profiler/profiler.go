// Package profiler toggles CPU profiling over the bus, so a long-running
// engine can be profiled without restarting it.
package profiler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/service"
)

// ProfileFileName is the output written under the profile directory.
const ProfileFileName = "profile_output.prof"

// Service listens for start_profiler and end_profiler.
type Service struct {
	service.Base
	dir string

	mu   sync.Mutex
	file *os.File
}

// New creates the profiler service. Profiles are written under dir.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, dir string) *Service {
	return &Service{
		Base: service.NewBase("profiler", logger, b, executor),
		dir:  dir,
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	if err := s.Bus.Subscribe(bus.TopicStartProfiler, s.onStart); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicEndProfiler, s.onEnd)
}

func (s *Service) onStart(_ context.Context, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.Log.Warn("profiler already running")
		return
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.Log.Error("cannot create profile directory", "path", s.dir, "error", err)
		return
	}
	path := filepath.Join(s.dir, ProfileFileName)
	f, err := os.Create(path)
	if err != nil {
		s.Log.Error("cannot create profile file", "path", path, "error", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		s.Log.Error("cannot start cpu profile", "error", err)
		return
	}
	s.file = f
	s.Log.Info("cpu profile started", "path", path)
}

func (s *Service) onEnd(_ context.Context, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish()
}

// Stop flushes a profile still running at shutdown.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish()
	return nil
}

// finish stops the profile and closes the file. Callers hold mu.
func (s *Service) finish() {
	if s.file == nil {
		return
	}
	pprof.StopCPUProfile()
	path := s.file.Name()
	if err := s.file.Close(); err != nil {
		s.Log.Error("cannot close profile file", "path", path, "error", err)
	} else {
		s.Log.Info("cpu profile written", "path", path)
	}
	s.file = nil
}

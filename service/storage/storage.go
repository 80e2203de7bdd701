// Package storage is the write-behind stage: it listens for completed
// pipeline artifacts and persists them. It never reads; the other stages go
// through their repositories for that.
package storage

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/repository"
	"github.com/engramic/engramic-go/service"
)

var writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "engramic_storage_writes_total",
	Help: "Records persisted by the storage stage.",
}, []string{"table"})

// Service is the storage stage.
type Service struct {
	service.Base
	history      *repository.History
	observations *repository.Observations
	engrams      *repository.Engrams
	metas        *repository.Metas
}

// New creates the storage service.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor,
	history *repository.History, observations *repository.Observations,
	engrams *repository.Engrams, metas *repository.Metas) *Service {
	return &Service{
		Base:         service.NewBase("storage", logger, b, executor),
		history:      history,
		observations: observations,
		engrams:      engrams,
		metas:        metas,
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}

	subs := map[bus.Topic]bus.Handler{
		bus.TopicMainPromptComplete:  s.onMainPromptComplete,
		bus.TopicObservationComplete: s.onObservationComplete,
		bus.TopicEngramComplete:      s.onEngramComplete,
		bus.TopicMetaComplete:        s.onMetaComplete,
	}
	for topic, handler := range subs {
		if err := s.Bus.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onMainPromptComplete(ctx context.Context, data []byte) {
	var response core.Response
	if err := bus.Decode(data, &response); err != nil {
		s.Log.Error("bad response payload", "error", err)
		return
	}

	s.Exec.RunBackground("store_response", func(ctx context.Context) error {
		if err := s.history.Save(ctx, &response); err != nil {
			return err
		}
		writesTotal.WithLabelValues("history").Inc()
			s.Track("responses_saved")
		return nil
	})
}

func (s *Service) onObservationComplete(ctx context.Context, data []byte) {
	var obs core.Observation
	if err := bus.Decode(data, &obs); err != nil {
		s.Log.Error("bad observation payload", "error", err)
		return
	}

	s.Exec.RunBackground("store_observation", func(ctx context.Context) error {
		if err := s.observations.Save(ctx, &obs); err != nil {
			return err
		}
		writesTotal.WithLabelValues("observation").Inc()
			s.Track("observations_saved")
		return nil
	})
}

func (s *Service) onEngramComplete(ctx context.Context, data []byte) {
	var engram core.Engram
	if err := bus.Decode(data, &engram); err != nil {
		s.Log.Error("bad engram payload", "error", err)
		return
	}

	s.Exec.RunBackground("store_engram", func(ctx context.Context) error {
		if err := s.engrams.Save(ctx, &engram); err != nil {
			return err
		}
		writesTotal.WithLabelValues("engram").Inc()
			s.Track("engrams_saved")
		return nil
	})
}

func (s *Service) onMetaComplete(ctx context.Context, data []byte) {
	var meta core.Meta
	if err := bus.Decode(data, &meta); err != nil {
		s.Log.Error("bad meta payload", "error", err)
		return
	}

	s.Exec.RunBackground("store_meta", func(ctx context.Context) error {
		if err := s.metas.Save(ctx, &meta); err != nil {
			return err
		}
		writesTotal.WithLabelValues("meta").Inc()
			s.Track("metas_saved")
		return nil
	})
}

package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/exec"
)

type fakeService struct {
	name string
	log  *eventLog

	initErr  error
	startErr error
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) InitAsync(ctx context.Context) error {
	s.log.add("init:" + s.name)
	return s.initErr
}

func (s *fakeService) Start(ctx context.Context) error {
	s.log.add("start:" + s.name)
	return s.startErr
}

func (s *fakeService) Stop(timeout time.Duration) error {
	s.log.add("stop:" + s.name)
	return nil
}

func TestHostLifecycleOrder(t *testing.T) {
	log := &eventLog{}
	a := &fakeService{name: "a", log: log}
	b := &fakeService{name: "b", log: log}

	h := New(nil, bus.NewInProc(nil), exec.New(nil), a, b)
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))

	assert.Equal(t, []string{
		"init:a", "init:b",
		"start:a", "start:b",
		"stop:b", "stop:a",
	}, log.all(), "all inits precede starts; stops run in reverse")
}

func TestHostInitFailureStopsStartedServices(t *testing.T) {
	log := &eventLog{}
	a := &fakeService{name: "a", log: log}
	b := &fakeService{name: "b", log: log, initErr: errors.New("no profile")}

	h := New(nil, bus.NewInProc(nil), exec.New(nil), a, b)
	err := h.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
}

func TestHostShutdownSurfacesBackgroundFailure(t *testing.T) {
	executor := exec.New(nil)
	h := New(nil, bus.NewInProc(nil), executor)
	require.NoError(t, h.Start(context.Background()))

	executor.RunBackground("embed", func(ctx context.Context) error {
		return errors.New("vector store unreachable")
	})
	time.Sleep(20 * time.Millisecond)

	err := h.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector store unreachable")
}

func TestHostShutdownIsIdempotent(t *testing.T) {
	log := &eventLog{}
	a := &fakeService{name: "a", log: log}

	h := New(nil, bus.NewInProc(nil), exec.New(nil), a)
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))

	stops := 0
	for _, e := range log.all() {
		if e == "stop:a" {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

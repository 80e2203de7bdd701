// Package host supervises the service lifecycle: it owns the bus and the
// executor, brings services up in declaration order, and coordinates an
// orderly shutdown.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/exec"
)

// Service is the lifecycle contract every pipeline component implements.
type Service interface {
	// Name identifies the service in logs and heartbeat replies.
	Name() string
	// InitAsync sets up subscriptions and internal state. The bus is
	// already started when this runs, so subscriptions registered here
	// see traffic from the first Start onward.
	InitAsync(ctx context.Context) error
	// Start begins active work.
	Start(ctx context.Context) error
	// Stop shuts the service down, bounded by timeout.
	Stop(timeout time.Duration) error
}

// Host constructs services once and tears them down once. Reentrant
// construction is not supported.
type Host struct {
	logger   *slog.Logger
	bus      bus.Bus
	executor *exec.Executor
	services []Service

	mu       sync.Mutex
	started  []Service
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// New creates a host owning the given bus and executor. Services start in
// the order given and stop in reverse.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, services ...Service) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		logger:   logger.With("component", "host"),
		bus:      b,
		executor: executor,
		services: services,
		done:     make(chan struct{}),
	}
}

// Bus exposes the bus to callers that submit work from outside a service,
// such as the CLI.
func (h *Host) Bus() bus.Bus {
	return h.bus
}

// Start brings the bus, the executor, and every service up. Initialization
// runs before any Start so every subscription exists before traffic flows.
func (h *Host) Start(ctx context.Context) error {
	if err := h.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}
	if err := h.executor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}

	for _, svc := range h.services {
		if err := svc.InitAsync(ctx); err != nil {
			h.shutdown(ctx)
			return fmt.Errorf("failed to init %s: %w", svc.Name(), err)
		}
		h.logger.Debug("service initialized", "service", svc.Name())
	}

	for _, svc := range h.services {
		if err := svc.Start(ctx); err != nil {
			h.shutdown(ctx)
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}
		h.mu.Lock()
		h.started = append(h.started, svc)
		h.mu.Unlock()
		h.logger.Info("service started", "service", svc.Name())
	}
	return nil
}

// Shutdown stops services in reverse order, then the executor and the bus.
// The executor's exception queue is drained; a non-empty queue makes
// Shutdown return the first cause.
func (h *Host) Shutdown(ctx context.Context) error {
	h.shutdown(ctx)
	return h.stopErr
}

func (h *Host) shutdown(ctx context.Context) {
	h.stopOnce.Do(func() {
		const stopTimeout = 10 * time.Second

		h.mu.Lock()
		started := make([]Service, len(h.started))
		copy(started, h.started)
		h.mu.Unlock()

		for i := len(started) - 1; i >= 0; i-- {
			svc := started[i]
			if err := svc.Stop(stopTimeout); err != nil {
				h.logger.Error("service stop failed", "service", svc.Name(), "error", err)
			} else {
				h.logger.Info("service stopped", "service", svc.Name())
			}
		}

		if err := h.executor.Stop(stopTimeout); err != nil {
			h.logger.Error("executor stop failed", "error", err)
		}
		if err := h.bus.Stop(stopTimeout); err != nil {
			h.logger.Error("bus stop failed", "error", err)
		}

		// Background failures accumulated during the run surface here.
		var first error
		for {
			select {
			case err := <-h.executor.Exceptions():
				h.logger.Error("background task failed", "error", err)
				if first == nil {
					first = err
				}
				continue
			default:
			}
			break
		}
		if first != nil {
			h.stopErr = fmt.Errorf("background task failed during run: %w", first)
		}
		close(h.done)
	})
}

// WaitForShutdown blocks until SIGINT/SIGTERM or timeout, then performs an
// orderly shutdown. A zero timeout waits indefinitely.
func (h *Host) WaitForShutdown(ctx context.Context, timeout time.Duration) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case s := <-sig:
		h.logger.Info("signal received, shutting down", "signal", s.String())
	case <-timer:
		h.logger.Info("run timeout reached, shutting down", "timeout", timeout)
	case <-ctx.Done():
	case <-h.done:
	}

	return h.Shutdown(ctx)
}

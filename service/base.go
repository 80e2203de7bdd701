// Package service provides the shared lifecycle base the pipeline services
// are built on.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/exec"
)

// metricsPacket accumulates per-service work counts between heartbeats.
type metricsPacket struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *metricsPacket) track(name string) {
	m.mu.Lock()
	m.counts[name]++
	m.mu.Unlock()
}

// drain hands the accumulated counts over and resets them.
func (m *metricsPacket) drain() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	packet := m.counts
	m.counts = map[string]int64{}
	return packet
}

// Base carries the pieces every service needs and implements the common
// lifecycle: the status heartbeat and default start/stop behavior. Services
// embed it and extend InitAsync with their own subscriptions.
type Base struct {
	ServiceName string
	Log         *slog.Logger
	Bus         bus.Bus
	Exec        *exec.Executor

	metrics *metricsPacket
}

// NewBase wires the shared fields.
func NewBase(name string, logger *slog.Logger, b bus.Bus, executor *exec.Executor) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{
		ServiceName: name,
		Log:         logger.With("service", name),
		Bus:         b,
		Exec:        executor,
		metrics:     &metricsPacket{counts: map[string]int64{}},
	}
}

// Name identifies the service.
func (b *Base) Name() string {
	return b.ServiceName
}

// Track counts one unit of work toward the next heartbeat packet.
func (b *Base) Track(metric string) {
	b.metrics.track(metric)
}

// InitAsync subscribes the heartbeat: an acknowledge ping is answered with a
// status reply carrying the service's metrics since the previous ping.
func (b *Base) InitAsync(ctx context.Context) error {
	return b.Bus.Subscribe(bus.TopicAcknowledge, func(ctx context.Context, data []byte) {
		var msg bus.Acknowledge
		if err := bus.Decode(data, &msg); err != nil {
			b.Log.Error("bad acknowledge message", "error", err)
			return
		}
		if err := b.Bus.Publish(ctx, bus.TopicStatus, bus.Status{
			RequestID: msg.RequestID,
			Service:   b.ServiceName,
			Timestamp: time.Now().Unix(),
			Metrics:   b.metrics.drain(),
		}); err != nil {
			b.Log.Error("failed to report status", "error", err)
		}
	})
}

// Start is a no-op by default.
func (b *Base) Start(ctx context.Context) error {
	return nil
}

// Stop is a no-op by default.
func (b *Base) Stop(timeout time.Duration) error {
	return nil
}

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "engramic."

// NATS is the multi-process transport. Topics map to subjects under the
// engramic. prefix; ordering per publisher follows NATS subject semantics.
type NATS struct {
	logger *slog.Logger
	url    string

	mu      sync.Mutex
	conn    *nats.Conn
	subs    []*nats.Subscription
	pending []pendingSub
	started bool
}

type pendingSub struct {
	topic   Topic
	handler Handler
}

// NewNATS creates a NATS-backed bus for the given server URL.
func NewNATS(url string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{
		logger: logger.With("component", "bus", "transport", "nats"),
		url:    url,
	}
}

// Subscribe registers a handler. Before Start the subscription is queued and
// bound once the connection is up.
func (b *NATS) Subscribe(topic Topic, handler Handler) error {
	if !Known(topic) {
		return fmt.Errorf("unknown topic: %s", topic)
	}
	if handler == nil {
		return fmt.Errorf("nil handler for topic %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.pending = append(b.pending, pendingSub{topic: topic, handler: handler})
		return nil
	}
	return b.bind(topic, handler)
}

func (b *NATS) bind(topic Topic, handler Handler) error {
	sub, err := b.conn.Subscribe(natsSubjectPrefix+string(topic), func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("handler panic", "topic", topic, "panic", r)
			}
		}()
		handler(context.Background(), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Publish serializes and publishes the payload.
func (b *NATS) Publish(ctx context.Context, topic Topic, payload any) error {
	if !Known(topic) {
		return fmt.Errorf("unknown topic: %s", topic)
	}

	data, err := Encode(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bus is not started")
	}

	if err := conn.Publish(natsSubjectPrefix+string(topic), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Start connects to the server and binds queued subscriptions.
func (b *NATS) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("bus already started")
	}

	conn, err := nats.Connect(b.url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats at %s: %w", b.url, err)
	}

	b.conn = conn
	b.started = true
	for _, p := range b.pending {
		if err := b.bind(p.topic, p.handler); err != nil {
			conn.Close()
			b.conn = nil
			b.started = false
			return err
		}
	}
	b.pending = nil
	b.logger.Info("bus started", "url", b.url)
	return nil
}

// Stop flushes and closes the connection.
func (b *NATS) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}

	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil

	if err := b.conn.FlushTimeout(timeout); err != nil {
		b.logger.Warn("nats flush timed out", "error", err)
	}
	b.conn.Close()
	b.conn = nil
	b.started = false
	return nil
}

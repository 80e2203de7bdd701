package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type delivery struct {
	ctx   context.Context
	topic Topic
	data  []byte
}

// InProc is the default transport: a single worker drains one queue, so a
// publisher's messages arrive in publication order even across topics.
// Publishing never blocks; handlers may publish from inside a delivery.
type InProc struct {
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	handlers map[Topic][]Handler
	queue    []delivery
	started  bool
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewInProc creates an in-process bus.
func NewInProc(logger *slog.Logger) *InProc {
	if logger == nil {
		logger = slog.Default()
	}
	b := &InProc{
		logger:   logger.With("component", "bus"),
		handlers: map[Topic][]Handler{},
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscribe registers a handler. Safe to call before or after Start.
func (b *InProc) Subscribe(topic Topic, handler Handler) error {
	if !Known(topic) {
		return fmt.Errorf("unknown topic: %s", topic)
	}
	if handler == nil {
		return fmt.Errorf("nil handler for topic %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Publish enqueues the payload for asynchronous delivery.
func (b *InProc) Publish(ctx context.Context, topic Topic, payload any) error {
	if !Known(topic) {
		return fmt.Errorf("unknown topic: %s", topic)
	}

	data, err := Encode(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.stopping {
		return fmt.Errorf("bus is not started")
	}
	b.queue = append(b.queue, delivery{ctx: ctx, topic: topic, data: data})
	b.cond.Signal()
	return nil
}

// Start begins delivery.
func (b *InProc) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("bus already started")
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.started = true
	b.stopping = false
	b.wg.Add(1)
	go b.run()
	b.logger.Debug("bus started")
	return nil
}

// Stop drains in-flight deliveries, bounded by timeout.
func (b *InProc) Stop(timeout time.Duration) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	cancel := b.cancel
	b.cond.Broadcast()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		cancel()
		return fmt.Errorf("bus stop timed out after %s", timeout)
	}

	b.mu.Lock()
	b.started = false
	b.mu.Unlock()
	cancel()
	b.logger.Debug("bus stopped")
	return nil
}

// run is the bus worker. It owns delivery order: everything enqueued before
// Stop is handed to every subscriber before the worker exits.
func (b *InProc) run() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopping {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		if len(b.queue) == 0 {
			b.queue = nil
		}
		handlers := append([]Handler(nil), b.handlers[d.topic]...)
		b.mu.Unlock()

		for _, h := range handlers {
			b.invoke(d.topic, h, d)
		}
	}
}

// invoke runs one handler with panic containment. A failing handler stays
// subscribed.
func (b *InProc) invoke(topic Topic, h Handler, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic",
				"topic", topic,
				"panic", r)
		}
	}()

	ctx := d.ctx
	if ctx == nil {
		ctx = b.ctx
	}
	h(ctx, d.data)
}

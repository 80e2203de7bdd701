package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler consumes one message. Handlers must not block; long work belongs on
// the executor. A handler panic is contained and logged by the transport.
type Handler func(ctx context.Context, data []byte)

// Bus is the pub/sub contract shared by the in-process and NATS transports.
//
// Ordering guarantee: per (publisher, topic), subscribers see messages in
// publication order. No ordering is guaranteed across topics or publishers.
type Bus interface {
	// Subscribe registers a handler for a topic. A topic may have any
	// number of handlers; a handler failure never unsubscribes it.
	Subscribe(topic Topic, handler Handler) error

	// Publish serializes the payload and delivers it asynchronously to
	// every subscriber of the topic.
	Publish(ctx context.Context, topic Topic, payload any) error

	// Start begins delivery. Subscriptions may be registered before or
	// after Start.
	Start(ctx context.Context) error

	// Stop drains in-flight deliveries and shuts the transport down.
	Stop(timeout time.Duration) error
}

// Encode serializes a payload for the wire.
func Encode(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Decode deserializes a payload into out.
func Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// Package transport wraps a pub/sub primitive behind a small capability
// interface: publish, subscribe, unsubscribe. It hides reconnection and
// turns transient connection failures into ConnectionError so callers
// never need to know which pub/sub backend is underneath.
package transport

import (
	"context"
	"fmt"
)

// MessageHandler is invoked once per message delivered on a subscribed
// channel. It must not block the adapter's own delivery loop; callers that
// need to do real work hand the message off to an independently-scheduled
// task (see public/rpc's Client and Server).
type MessageHandler func(channel string, data []byte)

// Adapter is the transport capability surface the Client and Server
// depend on. One Adapter instance is shared by its owning Client or
// Server for that owner's lifetime.
type Adapter interface {
	// Publish completes when the backend has accepted the message.
	Publish(ctx context.Context, channel string, data []byte) error
	// Subscribe installs handler for channel, invoked for each incoming
	// message, and completes once the subscription is active.
	Subscribe(ctx context.Context, channel string, handler MessageHandler) error
	// Unsubscribe removes the handler for channel and completes when
	// quiescent. Unsubscribing a channel with no active subscription is a
	// no-op.
	Unsubscribe(ctx context.Context, channel string) error
	// Close releases the underlying connection. No further calls are
	// valid after Close returns.
	Close() error
}

// ConnectionError wraps a transport-level failure — a failed publish, a
// failed subscribe, or a dropped connection. It is distinct from any
// application-level RPC error because it can occur before a Request or
// Response ever reaches the wire.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

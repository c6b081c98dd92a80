package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tenzoki/redisrpc/internal/envelope"
	"github.com/tenzoki/redisrpc/internal/registry"
	"github.com/tenzoki/redisrpc/internal/transport"
)

// ClientOptions configures a Client. Zero values fall back to the fabric's
// documented defaults, except MaxPayloadBytes, where zero disables
// chunking.
type ClientOptions struct {
	ChannelPrefix    string
	DefaultTimeoutMs int64
	MaxPayloadBytes  int
	Logger           *log.Logger
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.ChannelPrefix == "" {
		o.ChannelPrefix = DefaultChannelPrefix
	}
	if o.DefaultTimeoutMs <= 0 {
		o.DefaultTimeoutMs = 30000
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Client is the public entry point for invoking methods on servers
// reachable over the transport's channels. One Client owns exactly one
// response channel, lazily subscribed on the first call.
type Client struct {
	transport transport.Adapter
	opts      ClientOptions
	registry  *registry.Registry

	responseChannel string

	subscribed atomic.Bool

	mu          sync.Mutex
	disposed    bool
	reassembler *envelope.Reassembler
}

// NewClient creates a Client over adapter. The response channel name is
// computed once here and reused for the Client's lifetime.
func NewClient(adapter transport.Adapter, opts ClientOptions) (*Client, error) {
	opts = opts.withDefaults()
	respChan, err := newResponseChannel(opts.ChannelPrefix)
	if err != nil {
		return nil, err
	}
	return &Client{
		transport:       adapter,
		opts:            opts,
		registry:        registry.New(),
		responseChannel: respChan,
		reassembler:     envelope.NewReassembler(),
	}, nil
}

// RequestOptions carries the optional per-call overrides for SendRequest and
// SendRequestAs: an explicit timeout and an external cancellation channel.
type RequestOptions struct {
	TimeoutMs *int64
	Cancel    <-chan struct{}
}

// SendRequest sends method on channel with params and returns the raw
// decoded result, coercible by the caller via envelope.CoerceResult. This is
// the untyped variant of the protocol in spec §4.3.
func (c *Client) SendRequest(ctx context.Context, channel, method string, params any, opts RequestOptions) (json.RawMessage, error) {
	return c.sendRequest(ctx, channel, method, params, opts)
}

// SendRequestAs sends method on channel with params and coerces the result
// into T. It cannot be a method because Go forbids generic methods.
func SendRequestAs[T any](ctx context.Context, c *Client, channel, method string, params any, opts RequestOptions) (T, error) {
	var zero T
	raw, err := c.sendRequest(ctx, channel, method, params, opts)
	if err != nil {
		return zero, err
	}
	var out T
	if err := envelope.CoerceResult(raw, &out); err != nil {
		return zero, SerializationErr(err)
	}
	return out, nil
}

// SendNotification publishes a fire-and-forget request: no response is
// awaited, and the server never publishes a reply for it.
func (c *Client) SendNotification(ctx context.Context, channel, method string, params any) error {
	if err := c.precondition(channel, method); err != nil {
		return err
	}

	id := uuid.New().String()
	req, err := envelope.NewRequest(id, method, params, "", nil)
	if err != nil {
		return SerializationErr(err)
	}
	return c.publishRequest(ctx, channel, req)
}

// Dispose cancels every outstanding call with a disposal error, best-effort
// unsubscribes the response channel, and marks the Client unusable.
func (c *Client) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	c.registry.CancelAll()

	if c.subscribed.Load() {
		return c.transport.Unsubscribe(ctx, c.responseChannel)
	}
	return nil
}

func (c *Client) precondition(channel, method string) error {
	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if channel == "" {
		return &ErrArgument{Field: "channel"}
	}
	if method == "" {
		return &ErrArgument{Field: "method"}
	}
	return nil
}

func (c *Client) sendRequest(ctx context.Context, channel, method string, params any, opts RequestOptions) (json.RawMessage, error) {
	if err := c.precondition(channel, method); err != nil {
		return nil, err
	}

	if err := c.ensureSubscribed(ctx); err != nil {
		return nil, ConnectionErr(err)
	}

	timeoutMs := c.opts.DefaultTimeoutMs
	if opts.TimeoutMs != nil {
		timeoutMs = *opts.TimeoutMs
	}

	id := uuid.New().String()
	req, err := envelope.NewRequest(id, method, params, c.responseChannel, &timeoutMs)
	if err != nil {
		return nil, SerializationErr(err)
	}

	// Register before publish: avoids the lost-wakeup race where the
	// response arrives before the slot exists.
	slot, err := c.registry.Register(id)
	if err != nil {
		return nil, SerializationErr(err)
	}
	defer c.registry.Remove(id)

	if err := c.publishRequest(ctx, channel, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case resp, ok := <-slot.Done():
		if !ok || resp == nil {
			return nil, &Error{Code: CodeUnknown, Message: "rpc: call cancelled", Err: ErrDisposed}
		}
		if resp.Success {
			return resp.Result, nil
		}
		return nil, errorFromWire(resp.Error)
	case <-timer.C:
		return nil, Timeout(timeoutMs)
	case <-opts.Cancel:
		return nil, &Error{Code: CodeUnknown, Message: "rpc: call cancelled by caller"}
	case <-ctx.Done():
		return nil, &Error{Code: CodeUnknown, Message: "rpc: call cancelled", Err: ctx.Err()}
	}
}

func (c *Client) publishRequest(ctx context.Context, channel string, req *envelope.Request) error {
	encoded, err := envelope.EncodeRequest(req)
	if err != nil {
		return SerializationErr(err)
	}
	wire := requestChannel(c.opts.ChannelPrefix, channel)
	return c.publish(ctx, wire, encoded, req.ID)
}

// publish sends encoded, splitting it into chunk envelopes first if it
// exceeds MaxPayloadBytes.
func (c *Client) publish(ctx context.Context, wireChannel string, encoded []byte, originalID string) error {
	maxBytes := c.opts.MaxPayloadBytes
	if !envelope.NeedsChunking(encoded, maxBytes) {
		if err := c.transport.Publish(ctx, wireChannel, encoded); err != nil {
			return ConnectionErr(err)
		}
		return nil
	}

	chunks, err := envelope.Split(encoded, originalID, maxBytes)
	if err != nil {
		return SerializationErr(err)
	}
	for _, chunk := range chunks {
		data, err := envelope.EncodeChunk(chunk)
		if err != nil {
			return SerializationErr(err)
		}
		if err := c.transport.Publish(ctx, wireChannel, data); err != nil {
			return ConnectionErr(err)
		}
	}
	return nil
}

// ensureSubscribed is double-checked: the fast path on every call after the
// first is a single atomic load with no lock.
func (c *Client) ensureSubscribed(ctx context.Context) error {
	if c.subscribed.Load() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed.Load() {
		return nil
	}
	if err := c.transport.Subscribe(ctx, c.responseChannel, c.onMessage); err != nil {
		return err
	}
	c.subscribed.Store(true)
	return nil
}

// onMessage is the response-channel delivery callback. It must not block:
// reassembly and registry lookups are non-blocking, so no handoff to a
// separate task is needed here, unlike the server's handler dispatch.
func (c *Client) onMessage(_ string, data []byte) {
	full := data
	if chunk, ok := envelope.DecodeChunk(data); ok {
		c.mu.Lock()
		merged, complete, err := c.reassembler.Add(chunk)
		c.mu.Unlock()
		if err != nil {
			c.opts.Logger.Printf("rpc: client: chunk reassembly failed: %v", err)
			return
		}
		if !complete {
			return
		}
		full = merged
	}

	resp, err := envelope.DecodeResponse(full)
	if err != nil {
		c.opts.Logger.Printf("rpc: client: dropping undecodable response: %v", err)
		return
	}
	c.registry.Complete(resp.ID, resp)
}

func errorFromWire(wireErr *envelope.ResponseError) *Error {
	if wireErr == nil {
		return &Error{Code: CodeUnknown, Message: "rpc: failure response with no error detail"}
	}
	var details any
	if len(wireErr.Details) > 0 {
		var v any
		if json.Unmarshal(wireErr.Details, &v) == nil {
			details = v
		}
	}
	return &Error{
		Code:    Code(wireErr.Code),
		Message: wireErr.Message,
		Details: details,
		Err:     fmt.Errorf("%s", wireErr.Message),
	}
}

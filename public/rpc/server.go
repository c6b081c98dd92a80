package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tenzoki/redisrpc/internal/envelope"
	"github.com/tenzoki/redisrpc/internal/transport"
)

// ServerOptions configures a Server. Zero values fall back to the fabric's
// documented defaults, except MaxPayloadBytes, where zero disables
// chunking.
type ServerOptions struct {
	ChannelPrefix             string
	DefaultTimeoutMs          int64
	MaxConcurrentRequests     int64
	MaxPayloadBytes           int
	IncludeStackTraceInErrors bool
	Logger                    *log.Logger
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.ChannelPrefix == "" {
		o.ChannelPrefix = DefaultChannelPrefix
	}
	if o.DefaultTimeoutMs <= 0 {
		o.DefaultTimeoutMs = 30000
	}
	if o.MaxConcurrentRequests <= 0 {
		o.MaxConcurrentRequests = 100
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Server dispatches inbound requests to registered Handlers under a bounded
// concurrency pool. One Server owns its handler registry, listening set,
// and permit pool for its whole lifetime.
type Server struct {
	transport transport.Adapter
	opts      ServerOptions
	permits   *semaphore.Weighted

	mu          sync.Mutex
	handlers    map[string]Handler
	listening   map[string]struct{}
	reassembler *envelope.Reassembler
	disposed    bool

	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// NewServer creates a Server over adapter.
func NewServer(adapter transport.Adapter, opts ServerOptions) *Server {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		transport:   adapter,
		opts:        opts,
		permits:     semaphore.NewWeighted(opts.MaxConcurrentRequests),
		handlers:    make(map[string]Handler),
		listening:   make(map[string]struct{}),
		reassembler: envelope.NewReassembler(),
		closeCtx:    ctx,
		closeCancel: cancel,
	}
}

// RegisterHandler installs h under every method name it supports. Lookup is
// case-insensitive; re-registering a method name replaces the prior
// handler.
func (s *Server) RegisterHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, method := range h.SupportedMethods() {
		s.handlers[strings.ToLower(method)] = h
	}
}

// StartListening subscribes to the request channel for each logical channel
// not already in the listening set. A channel that fails to subscribe
// surfaces as a ConnectionError and is not added to the listening set.
func (s *Server) StartListening(ctx context.Context, channels ...string) error {
	for _, logical := range channels {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			return ErrDisposed
		}
		_, already := s.listening[logical]
		s.mu.Unlock()
		if already {
			continue
		}

		wire := requestChannel(s.opts.ChannelPrefix, logical)
		if err := s.transport.Subscribe(ctx, wire, s.onMessage); err != nil {
			return ConnectionErr(err)
		}

		s.mu.Lock()
		s.listening[logical] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

// StopListening unsubscribes every channel in the listening set and clears
// it.
func (s *Server) StopListening(ctx context.Context) error {
	s.mu.Lock()
	channels := make([]string, 0, len(s.listening))
	for logical := range s.listening {
		channels = append(channels, logical)
	}
	s.listening = make(map[string]struct{})
	s.mu.Unlock()

	var firstErr error
	for _, logical := range channels {
		wire := requestChannel(s.opts.ChannelPrefix, logical)
		if err := s.transport.Unsubscribe(ctx, wire); err != nil && firstErr == nil {
			firstErr = ConnectionErr(err)
		}
	}
	return firstErr
}

// Dispose stops listening, releases the permit pool, and marks the Server
// unusable. In-flight handler invocations are left to finish; their
// deadlines are bounded by closeCtx's cancellation.
func (s *Server) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	err := s.StopListening(ctx)
	s.closeCancel()
	return err
}

// onMessage is the transport's delivery callback. It must not block the
// transport's own dispatch loop: reassembly is fast and non-blocking, but
// handler invocation is handed off to an independently-scheduled goroutine.
func (s *Server) onMessage(channel string, data []byte) {
	full := data
	if chunk, ok := envelope.DecodeChunk(data); ok {
		s.mu.Lock()
		merged, complete, err := s.reassembler.Add(chunk)
		s.mu.Unlock()
		if err != nil {
			s.opts.Logger.Printf("rpc: server: chunk reassembly failed on %s: %v", channel, err)
			return
		}
		if !complete {
			return
		}
		full = merged
	}

	go s.dispatch(full)
}

// dispatch runs one request end to end: permit acquisition, decode,
// handler invocation, response publish. It is always run on its own
// goroutine, never on the transport's delivery path.
func (s *Server) dispatch(data []byte) {
	if err := s.permits.Acquire(s.closeCtx, 1); err != nil {
		return // server disposed while waiting for a permit
	}
	defer s.permits.Release(1)

	req, err := envelope.DecodeRequest(data)
	if err != nil {
		s.reportUndecodable(data, err)
		return
	}

	isNotification := req.IsNotification()

	timeoutMs := s.opts.DefaultTimeoutMs
	if req.TimeoutMs != nil && *req.TimeoutMs < timeoutMs {
		timeoutMs = *req.TimeoutMs
	}
	ctx, cancel := context.WithTimeout(s.closeCtx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	resp := s.invoke(ctx, req)

	if isNotification {
		if !resp.Success {
			s.opts.Logger.Printf("rpc: server: notification %q failed: %s", req.Method, resp.Error.Message)
		}
		return
	}

	if err := s.publish(context.Background(), req.ResponseChannel, resp); err != nil {
		s.opts.Logger.Printf("rpc: server: failed to publish response for %s: %v", req.ID, err)
	}
}

func (s *Server) invoke(ctx context.Context, req *envelope.Request) *envelope.Response {
	s.mu.Lock()
	handler, ok := s.handlers[strings.ToLower(req.Method)]
	s.mu.Unlock()

	if !ok {
		return failureResponse(req.ID, MethodNotFound(req.Method), s.opts.IncludeStackTraceInErrors, "")
	}

	result, rpcErr, stack := s.runHandler(handler, req.Method, req.Parameters, ctx.Done())
	if rpcErr != nil {
		return failureResponse(req.ID, rpcErr, s.opts.IncludeStackTraceInErrors, stack)
	}

	resp, err := envelope.NewSuccessResponse(req.ID, result)
	if err != nil {
		return failureResponse(req.ID, SerializationErr(err), s.opts.IncludeStackTraceInErrors, "")
	}
	return resp
}

// runHandler invokes handler.Handle, converting a panic into an
// InternalError the same as any other non-RPC exception would be.
func (s *Server) runHandler(handler Handler, method string, params json.RawMessage, cancel <-chan struct{}) (result any, rpcErr *Error, stack string) {
	defer func() {
		if r := recover(); r != nil {
			rpcErr = InternalErrorFrom(fmt.Errorf("panic: %v", r))
			if s.opts.IncludeStackTraceInErrors {
				stack = string(debug.Stack())
			}
		}
	}()

	res, err := handler.Handle(method, params, cancel)
	if err == nil {
		return res, nil, ""
	}
	if rpcE, ok := err.(*Error); ok {
		return nil, rpcE, ""
	}
	e := InternalErrorFrom(err)
	if s.opts.IncludeStackTraceInErrors {
		stack = string(debug.Stack())
	}
	return nil, e, stack
}

func failureResponse(id string, rpcErr *Error, includeStack bool, stack string) *envelope.Response {
	var details json.RawMessage
	if rpcErr.Details != nil {
		if b, err := json.Marshal(rpcErr.Details); err == nil {
			details = b
		}
	}
	wireErr := envelope.ResponseError{
		Code:    int(rpcErr.Code),
		Message: rpcErr.Message,
		Details: details,
	}
	if includeStack && stack != "" {
		wireErr.StackTrace = stack
	}
	return envelope.NewErrorResponse(id, wireErr)
}

// reportUndecodable handles a Request that failed to decode. If a
// responseChannel can still be recovered from the raw bytes, a
// SerializationError response is published under id=""; otherwise the
// message is logged and dropped.
func (s *Server) reportUndecodable(data []byte, decodeErr error) {
	channel, ok := recoverResponseChannel(data)
	if !ok || channel == "" {
		s.opts.Logger.Printf("rpc: server: dropping undecodable request: %v", decodeErr)
		return
	}
	resp := failureResponse("", SerializationErr(decodeErr), s.opts.IncludeStackTraceInErrors, "")
	if err := s.publish(context.Background(), channel, resp); err != nil {
		s.opts.Logger.Printf("rpc: server: failed to report decode failure: %v", err)
	}
}

func recoverResponseChannel(data []byte) (string, bool) {
	var partial struct {
		ResponseChannel string `json:"responseChannel"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return "", false
	}
	return partial.ResponseChannel, true
}

// publish encodes resp and sends it on channel, splitting into chunk
// envelopes first if it exceeds MaxPayloadBytes.
func (s *Server) publish(ctx context.Context, channel string, resp *envelope.Response) error {
	encoded, err := envelope.EncodeResponse(resp)
	if err != nil {
		return SerializationErr(err)
	}

	if !envelope.NeedsChunking(encoded, s.opts.MaxPayloadBytes) {
		if err := s.transport.Publish(ctx, channel, encoded); err != nil {
			return ConnectionErr(err)
		}
		return nil
	}

	chunks, err := envelope.Split(encoded, resp.ID, s.opts.MaxPayloadBytes)
	if err != nil {
		return SerializationErr(err)
	}
	for _, chunk := range chunks {
		data, err := envelope.EncodeChunk(chunk)
		if err != nil {
			return SerializationErr(err)
		}
		if err := s.transport.Publish(ctx, channel, data); err != nil {
			return ConnectionErr(err)
		}
	}
	return nil
}

package transport

import (
	"context"
	"sync"
)

// FakeAdapter is an in-process Adapter backed by plain Go maps and
// mutexes instead of a real pub/sub server. It fans a Publish out to every
// handler currently Subscribed on the same channel, synchronously on the
// publishing goroutine's call stack — enough to exercise Client/Server
// correlation and concurrency logic in tests without a live Redis
// instance, mirroring the teacher's Topic/Subscribers in-process fan-out.
type FakeAdapter struct {
	mu       sync.RWMutex
	handlers map[string][]MessageHandler
	closed   bool
}

// NewFakeAdapter creates an empty FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{handlers: make(map[string][]MessageHandler)}
}

// Publish implements Adapter.
func (f *FakeAdapter) Publish(_ context.Context, channel string, data []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return &ConnectionError{Op: "publish", Err: errClosed}
	}
	for _, h := range f.handlers[channel] {
		h(channel, data)
	}
	return nil
}

// Subscribe implements Adapter.
func (f *FakeAdapter) Subscribe(_ context.Context, channel string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &ConnectionError{Op: "subscribe", Err: errClosed}
	}
	f.handlers[channel] = append(f.handlers[channel], handler)
	return nil
}

// Unsubscribe implements Adapter. It removes all handlers registered for
// channel by this adapter (the fake does not distinguish multiple
// subscribers to the same channel by identity).
func (f *FakeAdapter) Unsubscribe(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, channel)
	return nil
}

// Close implements Adapter.
func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.handlers = nil
	return nil
}

var errClosed = fakeClosedError{}

type fakeClosedError struct{}

func (fakeClosedError) Error() string { return "fake transport closed" }

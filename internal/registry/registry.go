// Package registry implements the client-side correlation registry: a
// concurrent map from request id to a one-shot pending slot, awaiting
// either a response, a timeout, or a cancellation.
package registry

import (
	"fmt"
	"sync"

	"github.com/tenzoki/redisrpc/internal/envelope"
)

// Slot is a one-shot completion primitive. At most one of Complete or
// CancelAll ever resolves it; a slot detached with Remove (as the client
// does after a timeout) is never resolved. Callers receive the result over
// Done.
type Slot struct {
	done chan *envelope.Response
	once sync.Once
}

func newSlot() *Slot {
	return &Slot{done: make(chan *envelope.Response, 1)}
}

// Done returns the channel that receives the response, or is closed with a
// nil value if the slot was cancelled rather than completed with a
// response.
func (s *Slot) Done() <-chan *envelope.Response {
	return s.done
}

func (s *Slot) fulfill(resp *envelope.Response) {
	s.once.Do(func() {
		s.done <- resp
		close(s.done)
	})
}

func (s *Slot) cancel() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Registry is a concurrent mapping from request id to pending Slot. All
// methods are safe under many-producer/many-consumer access.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{slots: make(map[string]*Slot)}
}

// Register inserts a new pending slot for id. Registering a duplicate id
// is a programming error — the caller generated a non-unique request id —
// and returns an error rather than silently overwriting the existing slot.
func (r *Registry) Register(id string) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slots[id]; exists {
		return nil, fmt.Errorf("registry: duplicate request id %q", id)
	}
	slot := newSlot()
	r.slots[id] = slot
	return slot, nil
}

// Complete fulfills the slot for id with resp, returning false if no slot
// is registered under that id (a stale or late response).
func (r *Registry) Complete(id string, resp *envelope.Response) bool {
	r.mu.Lock()
	slot, exists := r.slots[id]
	if exists {
		delete(r.slots, id)
	}
	r.mu.Unlock()
	if !exists {
		return false
	}
	slot.fulfill(resp)
	return true
}

// Remove best-effort detaches the slot for id without resolving it. Safe
// to call after the slot has already been completed or cancelled.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
}

// CancelAll cancels every outstanding slot and clears the map. Used on
// client disposal: every outstanding caller observes a cancellation
// rather than hanging forever.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*Slot)
	r.mu.Unlock()
	for _, slot := range slots {
		slot.cancel()
	}
}

// Len reports the number of outstanding slots. Intended for tests and
// diagnostics, not for control flow.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

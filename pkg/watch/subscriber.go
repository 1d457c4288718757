package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/aretw0/canopy/pkg/core"
)

// ErrCancel may be returned by a callback to remove itself.
var ErrCancel = errors.New("cancel callback")

// Callback is invoked each time a subscriber receives data or is invalidated.
type Callback func() error

// Update carries a fresh snapshot for a watch key.
type Update struct {
	Data     []byte
	Children []string
	Stat     core.Stat
}

// Sink stores the value of a subscriber. Views implement it.
type Sink interface {
	// Update replaces the cached value with u.
	Update(u Update)
	// Reset empties the cached value after the watch was invalidated.
	Reset()
}

type callbackEntry struct {
	fn Callback
}

// Subscriber is one party interested in a (kind, path) watch.
// Many subscribers may share a key; the registry holds them weakly.
type Subscriber struct {
	kind   core.Kind
	path   string
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	resolved  string
	deleted   bool
	closed    bool
	callbacks []*callbackEntry
	registry  *Registry
	key       Key
}

// NewSubscriber creates a subscriber for the requested path.
// sink may be nil when only callbacks are of interest.
func NewSubscriber(kind core.Kind, path string, sink Sink, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		kind:   kind,
		path:   core.Clean(path),
		sink:   sink,
		logger: logger,
	}
}

// Kind returns the change kind observed.
func (s *Subscriber) Kind() core.Kind { return s.kind }

// Path returns the path as requested.
func (s *Subscriber) Path() string { return s.path }

// ResolvedPath returns the real path the watch is armed on, or "" before the first registration.
func (s *Subscriber) ResolvedPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// SetResolvedPath records the real path found by resolution.
func (s *Subscriber) SetResolvedPath(p string) {
	s.mu.Lock()
	s.resolved = p
	s.mu.Unlock()
}

// Deleted reports whether the watch was invalidated.
func (s *Subscriber) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Closed reports whether Close was called.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AddCallback appends fn to the callback list.
func (s *Subscriber) AddCallback(fn Callback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, &callbackEntry{fn: fn})
	s.mu.Unlock()
}

// RunCallback invokes fn once with the usual cancel and error handling and
// keeps it registered only if it asked to stay.
func (s *Subscriber) RunCallback(fn Callback) bool {
	return s.invoke(&callbackEntry{fn: fn})
}

// Notify stores u and runs every callback.
func (s *Subscriber) Notify(u Update) {
	s.Refresh(u)
	s.Fire()
}

// Refresh stores u and clears the deleted flag without running callbacks.
func (s *Subscriber) Refresh(u Update) {
	s.mu.Lock()
	s.deleted = false
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Update(u)
	}
}

// Invalidate marks the watch deleted, empties the value and runs every callback.
func (s *Subscriber) Invalidate() {
	s.MarkDeleted()
	s.Fire()
}

// MarkDeleted is Invalidate without the callbacks.
func (s *Subscriber) MarkDeleted() {
	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Reset()
	}
}

// Close unsubscribes. The subscriber receives no further notifications.
func (s *Subscriber) Close() {
	s.mu.Lock()
	s.closed = true
	r := s.registry
	s.callbacks = nil
	s.mu.Unlock()

	if r != nil {
		r.Remove(s)
	}
}

func (s *Subscriber) attach(r *Registry, key Key) {
	s.mu.Lock()
	s.registry = r
	s.key = key
	s.mu.Unlock()
}

func (s *Subscriber) detach(r *Registry, key Key) {
	s.mu.Lock()
	if s.registry == r && s.key == key {
		s.registry = nil
	}
	s.mu.Unlock()
}

// Fire runs every callback in registration order.
func (s *Subscriber) Fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	entries := make([]*callbackEntry, len(s.callbacks))
	copy(entries, s.callbacks)
	s.mu.Unlock()

	for _, e := range entries {
		if s.invoke(e) {
			continue
		}
		s.mu.Lock()
		for i, cur := range s.callbacks {
			if cur == e {
				s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

// invoke runs a callback and reports whether it should stay registered.
func (s *Subscriber) invoke(e *callbackEntry) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("watch callback panic: %v", r)
			if s.logger.Enabled(context.Background(), slog.LevelDebug) {
				s.logger.Error("watch callback panicked", "path", s.path, "error", panicErr, "stack", string(debug.Stack()))
			} else {
				s.logger.Error("watch callback panicked", "path", s.path, "error", panicErr)
			}
			keep = false
		}
	}()

	err := e.fn()
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrCancel):
		return false
	default:
		s.logger.Error("watch callback failed, removing it", "path", s.path, "error", err)
		return false
	}
}

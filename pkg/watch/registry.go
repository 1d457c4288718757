// Package watch multiplexes one armed store watch across many subscribers.
//
// The registry maps a Key (change kind, resolved path) to the subscribers
// interested in it. Exactly one store watch is armed per key: Add reports
// true only for a key that is not already present, and only then may the
// caller arm the store. A key stays present, possibly with no live
// subscribers, until Pop removes it when its watch fires or fails.
//
// Subscribers are held through weak pointers. One that is no longer
// referenced elsewhere is dropped by a runtime cleanup; Subscriber.Close
// removes it deterministically and is the preferred way to unsubscribe.
package watch

import (
	"runtime"
	"sort"
	"sync"
	"weak"

	"github.com/aretw0/canopy/pkg/core"
)

// Key identifies one armed store watch.
type Key struct {
	Kind core.Kind
	Path string
}

type entry struct {
	ptr     weak.Pointer[Subscriber]
	cleanup runtime.Cleanup
}

type cleanupArg struct {
	key Key
	ptr weak.Pointer[Subscriber]
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	buckets map[Key][]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[Key][]*entry)}
}

// Add registers sub under key and reports whether the key is new, in which
// case the caller is responsible for arming the store watch.
func (r *Registry) Add(key Key, sub *Subscriber) bool {
	ptr := weak.Make(sub)

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, exists := r.buckets[key]
	for _, e := range bucket {
		if e.ptr == ptr {
			return false
		}
	}

	e := &entry{ptr: ptr}
	e.cleanup = runtime.AddCleanup(sub, r.forget, cleanupArg{key: key, ptr: ptr})
	r.buckets[key] = append(bucket, e)
	sub.attach(r, key)
	return !exists
}

// Pop removes key and returns its live subscribers.
func (r *Registry) Pop(key Key) []*Subscriber {
	r.mu.Lock()
	bucket := r.buckets[key]
	delete(r.buckets, key)
	r.mu.Unlock()

	return r.release(key, bucket)
}

// Watches returns the live subscribers of key without removing them.
func (r *Registry) Watches(key Key) []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	var subs []*Subscriber
	for _, e := range r.buckets[key] {
		if s := e.ptr.Value(); s != nil {
			subs = append(subs, s)
		}
	}
	return subs
}

// Has reports whether key is present, live subscribers or not.
func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buckets[key]
	return ok
}

// Keys returns every present key, ordered by path then kind.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.buckets))
	for k := range r.buckets {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Kind < keys[j].Kind
	})
	return keys
}

// Clear empties the registry and returns every live subscriber.
func (r *Registry) Clear() []*Subscriber {
	r.mu.Lock()
	buckets := r.buckets
	r.buckets = make(map[Key][]*entry)
	r.mu.Unlock()

	var subs []*Subscriber
	for key, bucket := range buckets {
		subs = append(subs, r.release(key, bucket)...)
	}
	return subs
}

// Remove drops sub from whatever key it is registered under.
// The key itself stays present so its armed watch is not duplicated.
func (r *Registry) Remove(sub *Subscriber) {
	ptr := weak.Make(sub)

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, bucket := range r.buckets {
		for i, e := range bucket {
			if e.ptr != ptr {
				continue
			}
			e.cleanup.Stop()
			r.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			sub.detach(r, key)
			return
		}
	}
}

// Len returns the number of present keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Count returns the number of live subscribers across all keys.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, bucket := range r.buckets {
		for _, e := range bucket {
			if e.ptr.Value() != nil {
				n++
			}
		}
	}
	return n
}

func (r *Registry) release(key Key, bucket []*entry) []*Subscriber {
	var subs []*Subscriber
	for _, e := range bucket {
		e.cleanup.Stop()
		if s := e.ptr.Value(); s != nil {
			s.detach(r, key)
			subs = append(subs, s)
		}
	}
	return subs
}

// forget runs after a subscriber has been garbage collected.
func (r *Registry) forget(arg cleanupArg) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[arg.key]
	if !ok {
		return
	}
	for i, e := range bucket {
		if e.ptr == arg.ptr {
			r.buckets[arg.key] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

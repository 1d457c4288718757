package watch

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/core"
)

type recordingSink struct {
	updates []Update
	resets  int
}

func (s *recordingSink) Update(u Update) { s.updates = append(s.updates, u) }
func (s *recordingSink) Reset()          { s.resets++ }

func TestRegistry_Add(t *testing.T) {
	r := NewRegistry()
	key := Key{Kind: core.KindData, Path: "/app"}

	a := NewSubscriber(core.KindData, "/app", nil, nil)
	b := NewSubscriber(core.KindData, "/app", nil, nil)

	assert.True(t, r.Add(key, a), "first subscriber must report a new key")
	assert.False(t, r.Add(key, b), "second subscriber shares the key")
	assert.False(t, r.Add(key, a), "re-adding is a no-op")

	assert.Equal(t, []*Subscriber{a, b}, r.Watches(key))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, r.Count())

	other := Key{Kind: core.KindChildren, Path: "/app"}
	assert.True(t, r.Add(other, NewSubscriber(core.KindChildren, "/app", nil, nil)))
	assert.Equal(t, []Key{other, key}, r.Keys())
}

func TestRegistry_Pop(t *testing.T) {
	r := NewRegistry()
	key := Key{Kind: core.KindChildren, Path: "/a"}
	a := NewSubscriber(core.KindChildren, "/a", nil, nil)
	b := NewSubscriber(core.KindChildren, "/a", nil, nil)
	r.Add(key, a)
	r.Add(key, b)

	subs := r.Pop(key)
	assert.ElementsMatch(t, []*Subscriber{a, b}, subs)
	assert.False(t, r.Has(key))
	assert.Empty(t, r.Watches(key))

	assert.True(t, r.Add(key, a), "key is new again after pop")
}

func TestRegistry_RemoveKeepsKey(t *testing.T) {
	r := NewRegistry()
	key := Key{Kind: core.KindData, Path: "/a"}
	a := NewSubscriber(core.KindData, "/a", nil, nil)
	r.Add(key, a)

	a.Close()
	assert.True(t, a.Closed())
	assert.Empty(t, r.Watches(key))
	assert.True(t, r.Has(key), "armed watch stays accounted for")

	b := NewSubscriber(core.KindData, "/a", nil, nil)
	assert.False(t, r.Add(key, b), "no second store watch for the same key")
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	a := NewSubscriber(core.KindData, "/a", nil, nil)
	b := NewSubscriber(core.KindChildren, "/b", nil, nil)
	r.Add(Key{Kind: core.KindData, Path: "/a"}, a)
	r.Add(Key{Kind: core.KindChildren, Path: "/b"}, b)

	assert.ElementsMatch(t, []*Subscriber{a, b}, r.Clear())
	assert.Zero(t, r.Len())
}

func TestRegistry_CollectsUnreferencedSubscribers(t *testing.T) {
	r := NewRegistry()
	key := Key{Kind: core.KindData, Path: "/gc"}

	keep := NewSubscriber(core.KindData, "/gc", nil, nil)
	r.Add(key, keep)
	func() {
		r.Add(key, NewSubscriber(core.KindData, "/gc", nil, nil))
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return r.Count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []*Subscriber{keep}, r.Watches(key))
	assert.True(t, r.Has(key))
	runtime.KeepAlive(keep)
}

func TestSubscriber_Callbacks(t *testing.T) {
	t.Run("Notify Updates Sink And Fires", func(t *testing.T) {
		sink := &recordingSink{}
		s := NewSubscriber(core.KindData, "/x", sink, nil)
		calls := 0
		s.AddCallback(func() error { calls++; return nil })

		s.Notify(Update{Data: []byte("a")})
		s.Notify(Update{Data: []byte("b")})

		assert.Equal(t, 2, calls)
		require.Len(t, sink.updates, 2)
		assert.Equal(t, "b", string(sink.updates[1].Data))
		assert.False(t, s.Deleted())
	})

	t.Run("Cancel Removes Only That Callback", func(t *testing.T) {
		s := NewSubscriber(core.KindData, "/x", nil, nil)
		var once, always int
		s.AddCallback(func() error { once++; return ErrCancel })
		s.AddCallback(func() error { always++; return nil })

		s.Notify(Update{})
		s.Notify(Update{})

		assert.Equal(t, 1, once)
		assert.Equal(t, 2, always)
	})

	t.Run("Errors And Panics Remove The Callback", func(t *testing.T) {
		s := NewSubscriber(core.KindData, "/x", nil, nil)
		var failing, panicking int
		s.AddCallback(func() error { failing++; return errors.New("boom") })
		s.AddCallback(func() error { panicking++; panic("oops") })

		s.Notify(Update{})
		s.Notify(Update{})

		assert.Equal(t, 1, failing)
		assert.Equal(t, 1, panicking)
	})

	t.Run("Invalidate Resets And Fires", func(t *testing.T) {
		sink := &recordingSink{}
		s := NewSubscriber(core.KindData, "/x", sink, nil)
		fired := 0
		s.AddCallback(func() error { fired++; return nil })

		s.Invalidate()

		assert.True(t, s.Deleted())
		assert.Equal(t, 1, sink.resets)
		assert.Equal(t, 1, fired)

		s.Notify(Update{})
		assert.False(t, s.Deleted(), "fresh data revives the subscriber")
	})

	t.Run("Closed Subscriber Stays Silent", func(t *testing.T) {
		s := NewSubscriber(core.KindData, "/x", nil, nil)
		fired := 0
		s.AddCallback(func() error { fired++; return nil })
		s.Close()
		s.Notify(Update{})
		assert.Zero(t, fired)
	})
}

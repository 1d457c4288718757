package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/core"
)

type fakeListener struct {
	mu      sync.Mutex
	fn      func(core.SessionEvent)
	stopped bool
}

func (f *fakeListener) Listen(fn func(core.SessionEvent)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}
}

func (f *fakeListener) emit(ev core.SessionEvent) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(ev)
}

func TestSource_BridgesSessionEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &fakeListener{}
	src := NewSource(l)
	require.NoError(t, src.Start(ctx))

	l.emit(core.SessionEvent{State: core.StateConnecting})
	l.emit(core.SessionEvent{State: core.StateConnected})

	for _, want := range []string{"session CONNECTING", "session CONNECTED"} {
		select {
		case ev := <-src.Events():
			assert.Equal(t, want, ev.String())
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-src.Events()
		return !open
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.stopped
	}, time.Second, 5*time.Millisecond)
}

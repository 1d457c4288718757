package session

import (
	"context"
	"sync"

	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/watch"
)

// item is one unit of work for the pump. Exactly one of the pointer fields is set.
type item struct {
	gen     uint64
	dial    bool
	state   *core.SessionEvent
	key     watch.Key
	fired   *core.WatchEvent
	barrier chan struct{}
}

// queue is an unbounded FIFO with a single consumer. Producers never block,
// so driver callbacks return immediately whatever the pump is doing.
type queue struct {
	mu     sync.Mutex
	items  []item
	signal chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(it item) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an item is available, the queue is closed and drained, or ctx ends.
func (q *queue) pop(ctx context.Context) (item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = item{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return item{}, false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return item{}, false
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

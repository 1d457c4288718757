package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aretw0/lifecycle/pkg/core/worker"
)

// pump is the single consumer of the session queue. Every driver callback
// is handled here, one at a time, in arrival order.
type pump struct {
	*worker.BaseWorker
	session *Session
	queue   *queue
	cancel  context.CancelFunc
	done    chan struct{}
}

func newPump(s *Session, q *queue) *pump {
	return &pump{
		BaseWorker: worker.NewBaseWorker("session-pump"),
		session:    s,
		queue:      q,
		done:       make(chan struct{}),
	}
}

func (p *pump) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := p.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("pump already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.SetStatus(worker.StatusRunning)
	return p.StartFunc(runCtx, p.run)
}

func (p *pump) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.StopRequested = true
		p.cancel()
	}

	return p.BaseWorker.Stop(ctx)
}

func (p *pump) State() worker.State {
	return p.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// run drains the queue until it is closed or the worker is stopped.
func (p *pump) run(ctx context.Context) error {
	defer close(p.done)
	for {
		it, ok := p.queue.pop(ctx)
		if !ok {
			return nil
		}
		p.dispatch(ctx, it)
	}
}

// dispatch handles one item. A panic is logged and the pump keeps going,
// since a dead pump would starve every watcher of the session.
func (p *pump) dispatch(ctx context.Context, it item) {
	logger := p.session.logger
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("pump panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("pump panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				logger.Error("pump panic", "error", panicErr)
			}
		}
	}()

	switch {
	case it.barrier != nil:
		close(it.barrier)
	case it.dial:
		p.session.dial(ctx)
	case it.state != nil:
		p.session.handleState(ctx, it.gen, *it.state)
	case it.fired != nil:
		p.session.handleFired(it.gen, it.key, *it.fired)
	}
}

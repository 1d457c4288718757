// Package lifecycle exposes session state changes as a lifecycle.Source.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/canopy/pkg/core"
)

// Listener is implemented by *session.Session.
type Listener interface {
	Listen(fn func(core.SessionEvent)) (stop func())
}

type sessionSource struct {
	listener Listener
	out      chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that emits the session events seen by l.
// Events that arrive while nobody is reading are dropped rather than
// stalling the session.
func NewSource(l Listener) lifecycle.Source {
	return &sessionSource{
		listener: l,
		out:      make(chan lifecycle.Event, 16),
	}
}

func (s *sessionSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *sessionSource) Start(ctx context.Context) error {
	in := make(chan core.SessionEvent, cap(s.out))
	stop := s.listener.Listen(func(ev core.SessionEvent) {
		select {
		case in <- ev:
		default:
		}
	})

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-in:
				// core.SessionEvent implements lifecycle.Event (has String())
				select {
				case s.out <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}

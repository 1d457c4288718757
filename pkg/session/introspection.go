package session

import (
	"fmt"

	"github.com/aretw0/introspection"
)

// SessionState exposes internal state for observability.
type SessionState struct {
	Address     string `json:"address"`
	State       string `json:"state"`
	Generation  uint64 `json:"generation"`
	Dials       int    `json:"dials"`
	Expirations int    `json:"expirations"`
	WatchKeys   int    `json:"watch_keys"`
	Subscribers int    `json:"subscribers"`
	Unarmed     int    `json:"unarmed"`
	Orphans     int    `json:"orphans"`
	Queued      int    `json:"queued"`
	Pump        string `json:"pump"`
}

// State implements introspection.Introspectable.
func (s *Session) State() any {
	s.watchMu.Lock()
	unarmed := len(s.unarmed)
	orphans := 0
	for _, ptr := range s.orphans {
		if ptr.Value() != nil {
			orphans++
		}
	}
	s.watchMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionState{
		Address:     s.addr,
		State:       s.state.String(),
		Generation:  s.gen,
		Dials:       s.dials,
		Expirations: s.expirations,
		WatchKeys:   s.registry.Len(),
		Subscribers: s.registry.Count(),
		Unarmed:     unarmed,
		Orphans:     orphans,
		Queued:      s.queue.len(),
		Pump:        fmt.Sprint(s.pump.State().Status),
	}
}

// ComponentType implements introspection.Component.
func (s *Session) ComponentType() string {
	return "session"
}

var _ introspection.Introspectable = (*Session)(nil)
var _ introspection.Component = (*Session)(nil)

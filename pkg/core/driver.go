package core

import (
	"context"
	"time"
)

// State is a session state reported by a driver.
type State int

const (
	StateUnknown State = iota
	StateConnecting
	StateConnected
	StateExpired
	StateAuthFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateExpired:
		return "EXPIRED"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionEvent is delivered by a driver when its session state changes.
type SessionEvent struct {
	State State
	Path  string
}

func (e SessionEvent) String() string {
	if e.Path == "" {
		return "session " + e.State.String()
	}
	return "session " + e.State.String() + " " + e.Path
}

// EventType describes what triggered a watch.
type EventType int

const (
	EventNone EventType = iota
	EventCreated
	EventDeleted
	EventDataChanged
	EventChildrenChanged
	EventNotWatching
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventDataChanged:
		return "data-changed"
	case EventChildrenChanged:
		return "children-changed"
	case EventNotWatching:
		return "not-watching"
	default:
		return "none"
	}
}

// WatchEvent is the payload of a fired one-shot watch.
type WatchEvent struct {
	Type EventType
	Path string
}

// WatchFunc is called at most once when a watch fires.
// Drivers may call it from any goroutine.
type WatchFunc func(WatchEvent)

// Driver is the contract for the underlying store client.
// All calls are synchronous round trips and safe for concurrent use.
type Driver interface {
	// Create makes a node and returns its actual path (which differs for sequence nodes).
	Create(path string, data []byte, acl []ACL, flags CreateFlags) (string, error)

	// Delete removes a node. A version of -1 matches any version.
	Delete(path string, version int32) error

	// Exists reports whether the node is present.
	Exists(path string) (bool, Stat, error)

	// Get reads a node payload. A non-nil watch is armed for the next data change.
	Get(path string, watch WatchFunc) ([]byte, Stat, error)

	// Set overwrites a node payload. A version of -1 matches any version.
	Set(path string, data []byte, version int32) (Stat, error)

	// Children lists child names. A non-nil watch is armed for the next child change.
	Children(path string, watch WatchFunc) ([]string, Stat, error)

	GetACL(path string) ([]ACL, Stat, error)
	SetACL(path string, acl []ACL, version int32) (Stat, error)

	// Close ends the session held by the driver.
	Close() error
}

// Dialer opens a new driver handle for addr. Session state changes for that
// handle are reported to onEvent, possibly before Dial returns.
type Dialer func(ctx context.Context, addr string, timeout time.Duration, onEvent func(SessionEvent)) (Driver, error)

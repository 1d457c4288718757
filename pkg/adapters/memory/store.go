// Package memory implements core.Driver against an in-process tree.
//
// A Store plays the server: it keeps nodes, session-owned ephemeral nodes
// and one-shot watches. Each Dial opens a new session (a *Conn). Tests use
// the fault injection hooks (Expire, Disconnect, FailNext, SetOffline) and
// the counters (Dials, ArmCount, WatchCount) to check client behaviour.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/canopy/pkg/core"
)

type node struct {
	data     []byte
	acl      []core.ACL
	stat     core.Stat
	children map[string]struct{}
	seq      int32
}

type armKey struct {
	kind core.Kind
	path string
}

// Store is an in-memory coordination tree shared by any number of sessions.
type Store struct {
	mu       sync.Mutex
	nodes    map[string]*node
	conns    map[int64]*Conn
	nextID   int64
	dials    int
	offline  bool
	pending  []*Conn
	dialErr  error
	failures map[string][]error
	armed    map[armKey]int
}

// NewStore creates a store holding only the root and the /zookeeper housekeeping node.
func NewStore() *Store {
	s := &Store{
		nodes:    make(map[string]*node),
		conns:    make(map[int64]*Conn),
		failures: make(map[string][]error),
		armed:    make(map[armKey]int),
	}
	now := time.Now()
	s.nodes["/"] = &node{acl: core.OpenACL, children: map[string]struct{}{}, stat: core.Stat{Created: now, Modified: now}}
	s.mustCreate("/zookeeper", nil)
	s.mustCreate("/zookeeper/quota", nil)
	return s
}

func (s *Store) mustCreate(p string, data []byte) {
	if _, err := s.create(0, p, data, core.OpenACL, 0); err != nil {
		panic(err)
	}
}

// Dial opens a new session. It satisfies core.Dialer.
func (s *Store) Dial(ctx context.Context, addr string, timeout time.Duration, onEvent func(core.SessionEvent)) (core.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.dials++
	if s.dialErr != nil {
		err := s.dialErr
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	c := &Conn{
		store:        s,
		id:           s.nextID,
		addr:         addr,
		onEvent:      onEvent,
		dataWatches:  make(map[string][]core.WatchFunc),
		childWatches: make(map[string][]core.WatchFunc),
	}
	s.conns[c.id] = c
	offline := s.offline
	if offline {
		s.pending = append(s.pending, c)
	} else {
		c.connected = true
	}
	s.mu.Unlock()

	c.emit(core.StateConnecting)
	if !offline {
		c.emit(core.StateConnected)
	}
	return c, nil
}

// Dials returns how many sessions were requested, including failed ones.
func (s *Store) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// ArmCount returns how many watches of kind were ever armed on p.
func (s *Store) ArmCount(kind core.Kind, p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed[armKey{kind, p}]
}

// WatchCount returns how many watches of kind are currently armed on p across sessions.
func (s *Store) WatchCount(kind core.Kind, p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		if kind == core.KindData {
			n += len(c.dataWatches[p])
		} else {
			n += len(c.childWatches[p])
		}
	}
	return n
}

// Latest returns the most recently dialed live session, or nil.
func (s *Store) Latest() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Conn
	for _, c := range s.conns {
		if latest == nil || c.id > latest.id {
			latest = c
		}
	}
	return latest
}

// SetOffline makes new sessions wait for SetOffline(false) before they connect.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	var wake []*Conn
	if !offline {
		wake = s.pending
		s.pending = nil
		for _, c := range wake {
			c.connected = true
		}
	}
	s.mu.Unlock()

	for _, c := range wake {
		c.emit(core.StateConnected)
	}
}

// SetDialError makes every following Dial fail with err until cleared with nil.
func (s *Store) SetDialError(err error) {
	s.mu.Lock()
	s.dialErr = err
	s.mu.Unlock()
}

// FailNext makes the next call of op ("create", "delete", "exists", "get",
// "set", "children", "get_acl", "set_acl") fail with err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	s.failures[op] = append(s.failures[op], err)
	s.mu.Unlock()
}

// Expire ends c's session: its ephemeral nodes and watches go away and it
// receives an EXPIRED event.
func (s *Store) Expire(c *Conn) {
	fired := s.endSession(c, true)
	fired.run()
	c.emit(core.StateExpired)
}

// Disconnect simulates a transient connection loss for c.
func (s *Store) Disconnect(c *Conn) {
	s.mu.Lock()
	c.connected = false
	s.mu.Unlock()
	c.emit(core.StateConnecting)
}

// Reconnect restores c after Disconnect. Its session and watches survive.
func (s *Store) Reconnect(c *Conn) {
	s.mu.Lock()
	c.connected = true
	s.mu.Unlock()
	c.emit(core.StateConnected)
}

// Emit delivers an arbitrary session state to c.
func (s *Store) Emit(c *Conn, state core.State) {
	c.emit(state)
}

// Exists reports whether p is present, bypassing sessions.
func (s *Store) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[p]
	return ok
}

// Data returns the payload of p, bypassing sessions.
func (s *Store) Data(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Paths lists every node path in sorted order.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *Store) takeFailure(op string) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

// firing collects watch callbacks to run once the store lock is released.
type firing []func()

func (f firing) run() {
	for _, fn := range f {
		fn()
	}
}

func (s *Store) trigger(f *firing, kind core.Kind, p string, typ core.EventType) {
	for _, c := range s.conns {
		watches := c.dataWatches
		if kind == core.KindChildren {
			watches = c.childWatches
		}
		fns := watches[p]
		delete(watches, p)
		for _, fn := range fns {
			fn := fn
			*f = append(*f, func() { fn(core.WatchEvent{Type: typ, Path: p}) })
		}
	}
}

func (s *Store) create(owner int64, p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error) {
	if p == "/" || !strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return "", fmt.Errorf("%w: path %q", core.ErrBadArguments, p)
	}
	parentPath, name := core.Split(p)
	parent, ok := s.nodes[parentPath]
	if !ok {
		return "", core.ErrNoNode
	}
	if parent.stat.EphemeralOwner != 0 {
		return "", core.ErrNoChildrenForEphemerals
	}
	if flags&core.FlagSequence != 0 {
		name = fmt.Sprintf("%s%010d", name, parent.seq)
		parent.seq++
		p = core.Join(parentPath, name)
	}
	if _, exists := s.nodes[p]; exists {
		return "", core.ErrNodeExists
	}

	now := time.Now()
	n := &node{
		data:     append([]byte(nil), data...),
		acl:      append([]core.ACL(nil), acl...),
		children: make(map[string]struct{}),
		stat: core.Stat{
			DataLength: int32(len(data)),
			Created:    now,
			Modified:   now,
		},
	}
	if flags&core.FlagEphemeral != 0 {
		n.stat.EphemeralOwner = owner
	}
	s.nodes[p] = n
	parent.children[name] = struct{}{}
	parent.stat.CVersion++
	parent.stat.NumChildren = int32(len(parent.children))
	return p, nil
}

func (s *Store) remove(f *firing, p string) {
	parentPath, name := core.Split(p)
	delete(s.nodes, p)
	if parent, ok := s.nodes[parentPath]; ok {
		delete(parent.children, name)
		parent.stat.CVersion++
		parent.stat.NumChildren = int32(len(parent.children))
	}
	s.trigger(f, core.KindData, p, core.EventDeleted)
	s.trigger(f, core.KindChildren, p, core.EventDeleted)
	s.trigger(f, core.KindChildren, parentPath, core.EventChildrenChanged)
}

// endSession drops c's ephemeral nodes and watches.
func (s *Store) endSession(c *Conn, expired bool) firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f firing
	if _, ok := s.conns[c.id]; !ok {
		return f
	}
	delete(s.conns, c.id)
	c.connected = false
	c.expired = expired
	c.closed = !expired

	var owned []string
	for p, n := range s.nodes {
		if n.stat.EphemeralOwner == c.id {
			owned = append(owned, p)
		}
	}
	sort.Strings(owned)
	for _, p := range owned {
		s.remove(&f, p)
	}
	return f
}

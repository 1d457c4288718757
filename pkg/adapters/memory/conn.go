package memory

import (
	"sort"
	"time"

	"github.com/aretw0/canopy/pkg/core"
)

// Conn is one session against a Store. It implements core.Driver.
type Conn struct {
	store   *Store
	id      int64
	addr    string
	onEvent func(core.SessionEvent)

	// Guarded by store.mu.
	connected    bool
	expired      bool
	closed       bool
	dataWatches  map[string][]core.WatchFunc
	childWatches map[string][]core.WatchFunc
}

var _ core.Driver = (*Conn)(nil)

// ID returns the session id, used as the ephemeral owner of its nodes.
func (c *Conn) ID() int64 { return c.id }

func (c *Conn) emit(state core.State) {
	if c.onEvent != nil {
		c.onEvent(core.SessionEvent{State: state})
	}
}

// begin locks the store and checks the session can serve op.
func (c *Conn) begin(op string) error {
	c.store.mu.Lock()
	switch {
	case c.closed:
		c.store.mu.Unlock()
		return core.ErrSessionClosed
	case c.expired:
		c.store.mu.Unlock()
		return core.ErrSessionExpired
	case !c.connected:
		c.store.mu.Unlock()
		return core.ErrConnectionLoss
	}
	if err := c.store.takeFailure(op); err != nil {
		c.store.mu.Unlock()
		return err
	}
	return nil
}

func (c *Conn) Create(p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error) {
	if err := c.begin("create"); err != nil {
		return "", err
	}
	s := c.store

	created, err := s.create(c.id, p, data, acl, flags)
	var f firing
	if err == nil {
		s.trigger(&f, core.KindData, created, core.EventCreated)
		parent, _ := core.Split(created)
		s.trigger(&f, core.KindChildren, parent, core.EventChildrenChanged)
	}
	s.mu.Unlock()

	f.run()
	return created, err
}

func (c *Conn) Delete(p string, version int32) error {
	if err := c.begin("delete"); err != nil {
		return err
	}
	s := c.store

	n, ok := s.nodes[p]
	var err error
	var f firing
	switch {
	case p == "/" || p == "/zookeeper":
		err = core.ErrBadArguments
	case !ok:
		err = core.ErrNoNode
	case version >= 0 && n.stat.Version != version:
		err = core.ErrBadVersion
	case len(n.children) > 0:
		err = core.ErrNotEmpty
	default:
		s.remove(&f, p)
	}
	s.mu.Unlock()

	f.run()
	return err
}

func (c *Conn) Exists(p string) (bool, core.Stat, error) {
	if err := c.begin("exists"); err != nil {
		return false, core.Stat{}, err
	}
	defer c.store.mu.Unlock()

	n, ok := c.store.nodes[p]
	if !ok {
		return false, core.Stat{}, nil
	}
	return true, n.stat, nil
}

func (c *Conn) Get(p string, watch core.WatchFunc) ([]byte, core.Stat, error) {
	if err := c.begin("get"); err != nil {
		return nil, core.Stat{}, err
	}
	defer c.store.mu.Unlock()

	n, ok := c.store.nodes[p]
	if !ok {
		return nil, core.Stat{}, core.ErrNoNode
	}
	if watch != nil {
		c.dataWatches[p] = append(c.dataWatches[p], watch)
		c.store.armed[armKey{core.KindData, p}]++
	}
	return append([]byte(nil), n.data...), n.stat, nil
}

func (c *Conn) Set(p string, data []byte, version int32) (core.Stat, error) {
	if err := c.begin("set"); err != nil {
		return core.Stat{}, err
	}
	s := c.store

	n, ok := s.nodes[p]
	if !ok {
		s.mu.Unlock()
		return core.Stat{}, core.ErrNoNode
	}
	if version >= 0 && n.stat.Version != version {
		s.mu.Unlock()
		return core.Stat{}, core.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.stat.Version++
	n.stat.DataLength = int32(len(data))
	n.stat.Modified = time.Now()
	stat := n.stat

	var f firing
	s.trigger(&f, core.KindData, p, core.EventDataChanged)
	s.mu.Unlock()

	f.run()
	return stat, nil
}

func (c *Conn) Children(p string, watch core.WatchFunc) ([]string, core.Stat, error) {
	if err := c.begin("children"); err != nil {
		return nil, core.Stat{}, err
	}
	defer c.store.mu.Unlock()

	n, ok := c.store.nodes[p]
	if !ok {
		return nil, core.Stat{}, core.ErrNoNode
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	if watch != nil {
		c.childWatches[p] = append(c.childWatches[p], watch)
		c.store.armed[armKey{core.KindChildren, p}]++
	}
	return names, n.stat, nil
}

func (c *Conn) GetACL(p string) ([]core.ACL, core.Stat, error) {
	if err := c.begin("get_acl"); err != nil {
		return nil, core.Stat{}, err
	}
	defer c.store.mu.Unlock()

	n, ok := c.store.nodes[p]
	if !ok {
		return nil, core.Stat{}, core.ErrNoNode
	}
	return append([]core.ACL(nil), n.acl...), n.stat, nil
}

func (c *Conn) SetACL(p string, acl []core.ACL, version int32) (core.Stat, error) {
	if err := c.begin("set_acl"); err != nil {
		return core.Stat{}, err
	}
	defer c.store.mu.Unlock()

	n, ok := c.store.nodes[p]
	if !ok {
		return core.Stat{}, core.ErrNoNode
	}
	if version >= 0 && n.stat.AVersion != version {
		return core.Stat{}, core.ErrBadVersion
	}
	n.acl = append([]core.ACL(nil), acl...)
	n.stat.AVersion++
	return n.stat, nil
}

// Close ends the session. Its ephemeral nodes are removed.
func (c *Conn) Close() error {
	f := c.store.endSession(c, false)
	f.run()
	return nil
}

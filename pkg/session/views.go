package session

import (
	"context"
	"sync"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/watch"
)

// ErrCancel may be returned by a view callback to remove itself.
var ErrCancel = watch.ErrCancel

// Children is a live, sorted list of the children of a node.
type Children struct {
	sub   *watch.Subscriber
	cache *childrenCache
}

type childrenCache struct {
	mu    sync.RWMutex
	names []string
	stat  core.Stat
}

func (c *childrenCache) Update(u watch.Update) {
	names := append([]string(nil), u.Children...)
	c.mu.Lock()
	c.names = names
	c.stat = u.Stat
	c.mu.Unlock()
}

func (c *childrenCache) Reset() {
	c.mu.Lock()
	c.names = nil
	c.stat = core.Stat{}
	c.mu.Unlock()
}

// Children watches the children of the node p resolves to.
func (s *Session) Children(ctx context.Context, p string) (*Children, error) {
	cache := &childrenCache{}
	sub := watch.NewSubscriber(core.KindChildren, p, cache, s.logger)
	if err := s.RegisterWatch(ctx, sub); err != nil {
		return nil, err
	}
	return &Children{sub: sub, cache: cache}, nil
}

// Names returns a copy of the current child names.
func (c *Children) Names() []string {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	return append([]string(nil), c.cache.names...)
}

// Contains reports whether name is currently a child.
func (c *Children) Contains(name string) bool {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	for _, n := range c.cache.names {
		if n == name {
			return true
		}
	}
	return false
}

func (c *Children) Len() int {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	return len(c.cache.names)
}

func (c *Children) Stat() core.Stat {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	return c.cache.stat
}

// Path returns the path as requested.
func (c *Children) Path() string { return c.sub.Path() }

// ResolvedPath returns the real node being watched.
func (c *Children) ResolvedPath() string { return c.sub.ResolvedPath() }

// Deleted reports whether the watch was lost.
func (c *Children) Deleted() bool { return c.sub.Deleted() }

// AddCallback runs cb now and after every change. cb may return
// ErrCancel to remove itself.
func (c *Children) AddCallback(cb func(*Children) error) {
	fn := func() error { return cb(c) }
	if c.sub.RunCallback(fn) {
		c.sub.AddCallback(fn)
	}
}

// Close stops watching.
func (c *Children) Close() { c.sub.Close() }

// Properties is a live view of the decoded payload of a node.
type Properties struct {
	sub     *watch.Subscriber
	cache   *propsCache
	session *Session
}

type propsCache struct {
	mu    sync.RWMutex
	props core.Props
	stat  core.Stat
}

func (c *propsCache) Update(u watch.Update) {
	props := codec.Decode(u.Data)
	c.mu.Lock()
	c.props = props
	c.stat = u.Stat
	c.mu.Unlock()
}

func (c *propsCache) Reset() {
	c.mu.Lock()
	c.props = core.Props{}
	c.stat = core.Stat{}
	c.mu.Unlock()
}

func (c *propsCache) store(props core.Props) {
	c.mu.Lock()
	c.props = props.Clone()
	c.mu.Unlock()
}

// Properties watches the payload of the node p resolves to.
func (s *Session) Properties(ctx context.Context, p string) (*Properties, error) {
	cache := &propsCache{props: core.Props{}}
	sub := watch.NewSubscriber(core.KindData, p, cache, s.logger)
	if err := s.RegisterWatch(ctx, sub); err != nil {
		return nil, err
	}
	return &Properties{sub: sub, cache: cache, session: s}, nil
}

// Get returns a copy of the current properties.
func (p *Properties) Get() core.Props {
	p.cache.mu.RLock()
	defer p.cache.mu.RUnlock()
	return p.cache.props.Clone()
}

// Value returns a single property.
func (p *Properties) Value(key string) (any, bool) {
	p.cache.mu.RLock()
	defer p.cache.mu.RUnlock()
	v, ok := p.cache.props[key]
	return v, ok
}

func (p *Properties) Stat() core.Stat {
	p.cache.mu.RLock()
	defer p.cache.mu.RUnlock()
	return p.cache.stat
}

// Set replaces the whole payload with props.
func (p *Properties) Set(ctx context.Context, props core.Props) error {
	data, err := codec.Encode(props)
	if err != nil {
		return err
	}
	if _, err := p.session.Set(ctx, p.sub.ResolvedPath(), data, -1); err != nil {
		return err
	}
	p.cache.store(props)
	return nil
}

// Update merges partial into the cached properties and writes the result.
func (p *Properties) Update(ctx context.Context, partial core.Props) error {
	merged := p.Get()
	for k, v := range partial {
		merged[k] = v
	}
	return p.Set(ctx, merged)
}

// Path returns the path as requested.
func (p *Properties) Path() string { return p.sub.Path() }

// ResolvedPath returns the real node being watched.
func (p *Properties) ResolvedPath() string { return p.sub.ResolvedPath() }

// Deleted reports whether the watch was lost.
func (p *Properties) Deleted() bool { return p.sub.Deleted() }

// AddCallback runs cb now and after every change. cb may return
// ErrCancel to remove itself.
func (p *Properties) AddCallback(cb func(*Properties) error) {
	fn := func() error { return cb(p) }
	if p.sub.RunCallback(fn) {
		p.sub.AddCallback(fn)
	}
}

// Close stops watching.
func (p *Properties) Close() { p.sub.Close() }

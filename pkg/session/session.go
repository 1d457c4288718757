// Package session keeps one persistent session to the store and shares it
// between any number of watchers.
//
// Every driver callback (session state changes and fired watches) is put on
// an unbounded queue and handled by a single pump goroutine, so state
// transitions and watch notifications are observed in the order the driver
// produced them. Callbacks registered on watchers run on that pump: they must
// not block waiting for the session (Flush, Close, or any call that needs a
// connection while it is down).
//
// When the store expires the session, every watcher is invalidated, a new
// driver handle is dialed, and watchers that are still referenced are
// registered again once the new handle connects.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"weak"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/watch"
)

// LevelCritical is used for session states the client does not expect.
const LevelCritical = slog.Level(12)

// State is the client-side state of a Session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateExpired
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
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// errStaleHandle means the handle was replaced between waiting for it and using it.
var errStaleHandle = errors.New("driver handle replaced")

// handle is one dialed driver. Events carry the generation of the handle
// that produced them; anything from an older generation is dropped.
type handle struct {
	gen      uint64
	driver   core.Driver
	replayed bool // pump only
}

// Session owns the driver handle and the watch registry.
type Session struct {
	addr     string
	opts     *options
	logger   *slog.Logger
	registry *watch.Registry
	queue    *queue
	pump     *pump

	// watchMu serializes registration and re-arming. Lock it before mu.
	watchMu sync.Mutex
	orphans []weak.Pointer[watch.Subscriber]
	unarmed map[watch.Key]struct{}

	mu           sync.Mutex
	cur          *handle
	gen          uint64
	state        State
	ready        chan struct{}
	done         chan struct{}
	closed       bool
	dials        int
	expirations  int
	backoff      time.Duration
	listeners    map[int]func(core.SessionEvent)
	nextListener int
}

// Connect dials addr and waits until the session is connected.
// It fails with core.ErrConnectFailed if that takes longer than the timeout.
func Connect(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured", core.ErrBadArguments)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		addr:      addr,
		opts:      o,
		logger:    logger.With("component", "session", "addr", addr),
		registry:  watch.NewRegistry(),
		unarmed:   make(map[watch.Key]struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[int]func(core.SessionEvent)),
	}
	s.queue = newQueue()
	s.pump = newPump(s, s.queue)

	if err := s.pump.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to start session pump: %w", err)
	}
	s.queue.push(item{dial: true})

	if _, err := s.conn(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.logger.Debug("session connected")
	return s, nil
}

// Address returns the address the session dials.
func (s *Session) Address() string { return s.addr }

// Status returns the current state.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listen registers fn for every session event of the current handle.
// fn runs on the pump. The returned func removes it.
func (s *Session) Listen(fn func(core.SessionEvent)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Flush waits until every callback queued before the call has been handled.
func (s *Session) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !s.queue.push(item{barrier: barrier}) {
		return core.ErrSessionClosed
	}
	select {
	case <-barrier:
		return nil
	case <-s.done:
		return core.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the pump and ends the session. Watchers receive nothing further.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	close(s.done)
	h := s.cur
	s.cur = nil
	s.mu.Unlock()

	s.queue.close()

	var errs []error
	timer := time.NewTimer(s.opts.timeout)
	defer timer.Stop()
	select {
	case <-s.pump.done:
	case <-timer.C:
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.timeout)
		defer cancel()
		if err := s.pump.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop pump: %w", err))
		}
	}
	if h != nil && h.driver != nil {
		if err := h.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close driver: %w", err))
		}
	}
	s.registry.Clear()
	return errors.Join(errs...)
}

// conn waits until the session is connected and returns the live handle.
func (s *Session) conn(ctx context.Context) (*handle, error) {
	timer := time.NewTimer(s.opts.timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, core.ErrSessionClosed
		}
		if s.state == StateConnected && s.cur != nil && s.cur.driver != nil {
			h := s.cur
			s.mu.Unlock()
			return h, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-s.done:
			return nil, core.ErrSessionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s not connected after %s", core.ErrConnectFailed, s.addr, s.opts.timeout)
		}
	}
}

func (s *Session) driver(ctx context.Context) (core.Driver, error) {
	h, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return h.driver, nil
}

func (s *Session) current(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.cur == h
}

// setState records st and opens or shuts the gate conn waits on.
func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
	select {
	case <-s.ready:
		if st != StateConnected {
			s.ready = make(chan struct{})
		}
	default:
		if st == StateConnected {
			close(s.ready)
			s.backoff = 0
		}
	}
}

// dial opens a new driver handle. It runs on the pump.
func (s *Session) dial(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	h := &handle{gen: s.gen}
	s.cur = h
	s.dials++
	s.mu.Unlock()
	s.setState(StateConnecting)

	d, err := s.opts.dialer(ctx, s.addr, s.opts.timeout, func(ev core.SessionEvent) {
		s.queue.push(item{gen: h.gen, state: &ev})
	})
	if err != nil {
		delay := s.nextBackoff()
		s.logger.Warn("dial failed, retrying", "error", err, "retry_in", delay)
		s.redialAfter(ctx, delay)
		return
	}

	s.mu.Lock()
	if s.closed || s.cur != h {
		s.mu.Unlock()
		_ = d.Close()
		return
	}
	h.driver = d
	s.mu.Unlock()
	s.logger.Debug("driver dialed", "gen", h.gen)
}

func (s *Session) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backoff == 0 {
		s.backoff = s.opts.minBackoff
	} else {
		s.backoff *= 2
	}
	if s.backoff > s.opts.maxBackoff {
		s.backoff = s.opts.maxBackoff
	}
	return s.backoff
}

func (s *Session) redialAfter(ctx context.Context, delay time.Duration) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.queue.push(item{dial: true})
		case <-s.done:
		case <-ctx.Done():
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("redial panic", "error", err)
	}))
}

// handleState runs on the pump for every session event.
func (s *Session) handleState(ctx context.Context, gen uint64, ev core.SessionEvent) {
	s.mu.Lock()
	h := s.cur
	stale := s.closed || h == nil || h.gen != gen || h.driver == nil
	listeners := make([]func(core.SessionEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if stale {
		s.logger.Debug("dropping event from stale handle", "state", ev.State, "gen", gen)
		return
	}
	s.logger.Debug("session event", "state", ev.State, "gen", gen)
	for _, fn := range listeners {
		fn(ev)
	}

	switch ev.State {
	case core.StateConnected:
		s.setState(StateConnected)
		if !h.replayed {
			h.replayed = true
			s.replay(h)
		} else {
			s.rearmPending(h)
		}
	case core.StateConnecting:
		s.setState(StateConnecting)
	case core.StateExpired:
		s.expire(ctx, h)
	default:
		s.logger.Log(ctx, LevelCritical, "unexpected session state", "state", ev.State, "path", ev.Path)
	}
}

// expire invalidates every watcher and dials a replacement handle.
func (s *Session) expire(ctx context.Context, h *handle) {
	s.watchMu.Lock()
	s.mu.Lock()
	s.cur = nil
	s.expirations++
	s.mu.Unlock()
	s.setState(StateExpired)

	subs := s.registry.Clear()
	clear(s.unarmed)
	for _, sub := range subs {
		if sub.Closed() {
			continue
		}
		sub.MarkDeleted()
		s.orphans = append(s.orphans, weak.Make(sub))
	}
	s.watchMu.Unlock()

	s.logger.Warn("session expired, reconnecting", "watchers", len(subs))
	if err := h.driver.Close(); err != nil {
		s.logger.Debug("failed to close expired driver", "error", err)
	}

	s.dial(ctx)
	for _, sub := range subs {
		sub.Fire()
	}
}

// handleFired runs on the pump when a store watch triggers.
func (s *Session) handleFired(gen uint64, key watch.Key, ev core.WatchEvent) {
	s.mu.Lock()
	h := s.cur
	stale := s.closed || h == nil || h.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}

	s.watchMu.Lock()
	var fire []*watch.Subscriber
	switch ev.Type {
	case core.EventDeleted:
		fire = s.invalidate(key)
	case core.EventNotWatching:
		s.unarmed[key] = struct{}{}
	default:
		fire = s.rearm(h, key)
	}
	s.watchMu.Unlock()

	for _, sub := range fire {
		sub.Fire()
	}
}

// replay registers every known watcher against a freshly connected handle.
func (s *Session) replay(h *handle) {
	s.watchMu.Lock()
	var fire []*watch.Subscriber
	for _, key := range s.registry.Keys() {
		for _, sub := range s.registry.Pop(key) {
			f, err := s.register(h, sub)
			fire = append(fire, f...)
			if err != nil {
				s.logger.Warn("could not re-arm watch", "path", sub.Path(), "error", err)
			}
		}
	}
	clear(s.unarmed)
	fire = append(fire, s.revive(h)...)
	s.watchMu.Unlock()

	for _, sub := range fire {
		sub.Fire()
	}
}

// rearmPending retries keys that could not be re-armed while disconnected.
func (s *Session) rearmPending(h *handle) {
	s.watchMu.Lock()
	var fire []*watch.Subscriber
	for key := range s.unarmed {
		fire = append(fire, s.rearm(h, key)...)
	}
	fire = append(fire, s.revive(h)...)
	s.watchMu.Unlock()

	for _, sub := range fire {
		sub.Fire()
	}
}

// revive registers again the watchers invalidated by an expiry that are
// still referenced. Callers hold watchMu.
func (s *Session) revive(h *handle) []*watch.Subscriber {
	orphans := s.orphans
	s.orphans = nil

	var fire []*watch.Subscriber
	for _, ptr := range orphans {
		sub := ptr.Value()
		if sub == nil || sub.Closed() {
			continue
		}
		f, err := s.register(h, sub)
		fire = append(fire, f...)
		if err == nil {
			continue
		}
		if lostConnection(err) {
			s.orphans = append(s.orphans, ptr)
		}
		s.logger.Warn("could not revive watch", "path", sub.Path(), "error", err)
	}
	return fire
}

// RegisterWatch resolves sub's path and subscribes it to changes of the
// real node. Only the first subscriber of a key arms a store watch; later
// ones share it. sub receives its first snapshot before RegisterWatch
// returns.
//
// If arming fails because the connection dropped, every subscriber of that
// key is invalidated and the error is returned.
func (s *Session) RegisterWatch(ctx context.Context, sub *watch.Subscriber) error {
	for {
		h, err := s.conn(ctx)
		if err != nil {
			return err
		}

		s.watchMu.Lock()
		fire, err := s.register(h, sub)
		s.watchMu.Unlock()

		for _, f := range fire {
			f.Fire()
		}
		if !errors.Is(err, errStaleHandle) {
			return err
		}
	}
}

// register adds sub to the registry and reads its first snapshot, arming
// the store watch when the key is new. Callers hold watchMu and fire the
// returned subscribers once it is released.
func (s *Session) register(h *handle, sub *watch.Subscriber) ([]*watch.Subscriber, error) {
	if !s.current(h) {
		return nil, errStaleHandle
	}

	real, err := resolveWith(h.driver, sub.Path())
	if err != nil {
		return nil, err
	}
	sub.SetResolvedPath(real)
	key := watch.Key{Kind: sub.Kind(), Path: real}

	if !s.registry.Add(key, sub) {
		u, err := read(h.driver, key, nil)
		if err != nil {
			s.registry.Remove(sub)
			sub.MarkDeleted()
			return []*watch.Subscriber{sub}, fmt.Errorf("failed to read %s: %w", real, err)
		}
		sub.Refresh(u)
		return []*watch.Subscriber{sub}, nil
	}

	u, err := read(h.driver, key, s.watchFunc(h, key))
	if err != nil {
		subs := s.invalidate(key)
		s.logger.Debug("arming watch failed", "path", real, "kind", key.Kind, "error", err)
		return subs, fmt.Errorf("failed to watch %s: %w", real, err)
	}
	sub.Refresh(u)
	return []*watch.Subscriber{sub}, nil
}

// rearm re-arms key after its watch fired or could not be armed.
// Callers hold watchMu.
func (s *Session) rearm(h *handle, key watch.Key) []*watch.Subscriber {
	subs := s.registry.Watches(key)
	if len(subs) == 0 {
		s.registry.Pop(key)
		delete(s.unarmed, key)
		s.logger.Debug("dropping watch without subscribers", "path", key.Path, "kind", key.Kind)
		return nil
	}

	u, err := read(h.driver, key, s.watchFunc(h, key))
	switch {
	case err == nil:
		delete(s.unarmed, key)
		for _, sub := range subs {
			sub.Refresh(u)
		}
		return subs
	case errors.Is(err, core.ErrNoNode):
		delete(s.unarmed, key)
		return s.invalidate(key)
	case lostConnection(err):
		s.unarmed[key] = struct{}{}
		s.logger.Debug("re-arm deferred until reconnect", "path", key.Path, "kind", key.Kind)
		return nil
	default:
		s.unarmed[key] = struct{}{}
		s.logger.Error("failed to re-arm watch", "path", key.Path, "kind", key.Kind, "error", err)
		return nil
	}
}

// invalidate pops key and marks its subscribers deleted. Callers hold watchMu.
func (s *Session) invalidate(key watch.Key) []*watch.Subscriber {
	subs := s.registry.Pop(key)
	for _, sub := range subs {
		sub.MarkDeleted()
	}
	return subs
}

func (s *Session) watchFunc(h *handle, key watch.Key) core.WatchFunc {
	return func(ev core.WatchEvent) {
		s.queue.push(item{gen: h.gen, key: key, fired: &ev})
	}
}

func read(d core.Driver, key watch.Key, w core.WatchFunc) (watch.Update, error) {
	if key.Kind == core.KindData {
		data, stat, err := d.Get(key.Path, w)
		return watch.Update{Data: data, Stat: stat}, err
	}
	names, stat, err := d.Children(key.Path, w)
	return watch.Update{Children: names, Stat: stat}, err
}

func lostConnection(err error) bool {
	return errors.Is(err, core.ErrConnectionLoss) ||
		errors.Is(err, core.ErrSessionExpired) ||
		errors.Is(err, core.ErrSessionClosed)
}

// Package zk implements core.Driver on top of github.com/go-zookeeper/zk.
package zk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/lifecycle"
	gozk "github.com/go-zookeeper/zk"

	"github.com/aretw0/canopy/pkg/core"
)

// Driver wraps one ZooKeeper connection.
type Driver struct {
	conn   *gozk.Conn
	logger *slog.Logger
}

var _ core.Driver = (*Driver)(nil)

// NewDialer returns a core.Dialer for ZooKeeper ensembles. The address is a
// comma separated list of host:port pairs.
func NewDialer(logger *slog.Logger) core.Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "zk")

	return func(ctx context.Context, addr string, timeout time.Duration, onEvent func(core.SessionEvent)) (core.Driver, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		servers := splitServers(addr)
		if len(servers) == 0 {
			return nil, fmt.Errorf("%w: empty server list", core.ErrBadArguments)
		}

		conn, _, err := gozk.Connect(servers, timeout,
			gozk.WithLogger(printer{logger}),
			gozk.WithEventCallback(func(ev gozk.Event) {
				if ev.Type != gozk.EventSession {
					return
				}
				state, ok := mapState(ev.State)
				if !ok {
					return
				}
				if onEvent != nil {
					onEvent(core.SessionEvent{State: state, Path: ev.Path})
				}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrConnectFailed, err)
		}
		return &Driver{conn: conn, logger: logger}, nil
	}
}

func splitServers(addr string) []string {
	var servers []string
	for _, s := range strings.Split(addr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

func (d *Driver) Create(p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error) {
	created, err := d.conn.Create(p, data, int32(flags), toACL(acl))
	return created, mapErr(err)
}

func (d *Driver) Delete(p string, version int32) error {
	return mapErr(d.conn.Delete(p, version))
}

func (d *Driver) Exists(p string) (bool, core.Stat, error) {
	ok, stat, err := d.conn.Exists(p)
	if err != nil {
		return false, core.Stat{}, mapErr(err)
	}
	return ok, fromStat(stat), nil
}

func (d *Driver) Get(p string, watch core.WatchFunc) ([]byte, core.Stat, error) {
	if watch == nil {
		data, stat, err := d.conn.Get(p)
		return data, fromStat(stat), mapErr(err)
	}
	data, stat, ch, err := d.conn.GetW(p)
	if err != nil {
		return nil, core.Stat{}, mapErr(err)
	}
	d.forward(ch, watch)
	return data, fromStat(stat), nil
}

func (d *Driver) Set(p string, data []byte, version int32) (core.Stat, error) {
	stat, err := d.conn.Set(p, data, version)
	return fromStat(stat), mapErr(err)
}

func (d *Driver) Children(p string, watch core.WatchFunc) ([]string, core.Stat, error) {
	if watch == nil {
		names, stat, err := d.conn.Children(p)
		return names, fromStat(stat), mapErr(err)
	}
	names, stat, ch, err := d.conn.ChildrenW(p)
	if err != nil {
		return nil, core.Stat{}, mapErr(err)
	}
	d.forward(ch, watch)
	return names, fromStat(stat), nil
}

func (d *Driver) GetACL(p string) ([]core.ACL, core.Stat, error) {
	acl, stat, err := d.conn.GetACL(p)
	if err != nil {
		return nil, core.Stat{}, mapErr(err)
	}
	return fromACL(acl), fromStat(stat), nil
}

func (d *Driver) SetACL(p string, acl []core.ACL, version int32) (core.Stat, error) {
	stat, err := d.conn.SetACL(p, toACL(acl), version)
	return fromStat(stat), mapErr(err)
}

func (d *Driver) Close() error {
	d.conn.Close()
	return nil
}

// forward waits for the one-shot watch channel and hands its event to fn.
func (d *Driver) forward(ch <-chan gozk.Event, fn core.WatchFunc) {
	lifecycle.Go(context.Background(), func(ctx context.Context) error {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		fn(core.WatchEvent{Type: mapEventType(ev.Type), Path: ev.Path})
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		d.logger.Error("watch forwarder panic", "error", err)
	}))
}

// mapState converts a zk session state. ok is false for states that carry
// no meaning for the session (the TCP-level connect before the session is
// established).
func mapState(s gozk.State) (core.State, bool) {
	switch s {
	case gozk.StateHasSession, gozk.StateConnectedReadOnly:
		return core.StateConnected, true
	case gozk.StateConnecting, gozk.StateDisconnected:
		return core.StateConnecting, true
	case gozk.StateExpired:
		return core.StateExpired, true
	case gozk.StateAuthFailed:
		return core.StateAuthFailed, true
	case gozk.StateConnected, gozk.StateSaslAuthenticated:
		return core.StateUnknown, false
	default:
		return core.StateUnknown, true
	}
}

func mapEventType(t gozk.EventType) core.EventType {
	switch t {
	case gozk.EventNodeCreated:
		return core.EventCreated
	case gozk.EventNodeDeleted:
		return core.EventDeleted
	case gozk.EventNodeDataChanged:
		return core.EventDataChanged
	case gozk.EventNodeChildrenChanged:
		return core.EventChildrenChanged
	case gozk.EventNotWatching:
		return core.EventNotWatching
	default:
		return core.EventNone
	}
}

var errorMap = []struct {
	from error
	to   error
}{
	{gozk.ErrNoNode, core.ErrNoNode},
	{gozk.ErrNodeExists, core.ErrNodeExists},
	{gozk.ErrNotEmpty, core.ErrNotEmpty},
	{gozk.ErrBadVersion, core.ErrBadVersion},
	{gozk.ErrBadArguments, core.ErrBadArguments},
	{gozk.ErrInvalidPath, core.ErrBadArguments},
	{gozk.ErrNoChildrenForEphemerals, core.ErrNoChildrenForEphemerals},
	{gozk.ErrSessionExpired, core.ErrSessionExpired},
	{gozk.ErrConnectionClosed, core.ErrConnectionLoss},
	{gozk.ErrNoServer, core.ErrConnectionLoss},
	{gozk.ErrClosing, core.ErrSessionClosed},
}

// mapErr wraps zk errors so they match the core taxonomy with errors.Is
// while keeping the original in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range errorMap {
		if errors.Is(err, m.from) {
			return fmt.Errorf("%w: %w", m.to, err)
		}
	}
	return err
}

func fromStat(s *gozk.Stat) core.Stat {
	if s == nil {
		return core.Stat{}
	}
	return core.Stat{
		Version:        s.Version,
		CVersion:       s.Cversion,
		AVersion:       s.Aversion,
		EphemeralOwner: s.EphemeralOwner,
		DataLength:     s.DataLength,
		NumChildren:    s.NumChildren,
		Created:        time.UnixMilli(s.Ctime),
		Modified:       time.UnixMilli(s.Mtime),
	}
}

func toACL(acl []core.ACL) []gozk.ACL {
	out := make([]gozk.ACL, len(acl))
	for i, a := range acl {
		out[i] = gozk.ACL{Perms: a.Perms, Scheme: a.Scheme, ID: a.ID}
	}
	return out
}

func fromACL(acl []gozk.ACL) []core.ACL {
	out := make([]core.ACL, len(acl))
	for i, a := range acl {
		out[i] = core.ACL{Perms: a.Perms, Scheme: a.Scheme, ID: a.ID}
	}
	return out
}

// printer routes the zk client's Printf logging into slog.
type printer struct {
	logger *slog.Logger
}

func (p printer) Printf(format string, args ...any) {
	p.logger.Debug(fmt.Sprintf(format, args...))
}

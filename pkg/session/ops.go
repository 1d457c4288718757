package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/resolve"
)

// SkipChildren may be returned by a WalkFunc to skip the children of a node.
var SkipChildren = errors.New("skip children")

// WalkFunc is called by Walk for every node, parents before children.
type WalkFunc func(p string, stat core.Stat) error

// driverStore lets the resolver read through a driver handle.
type driverStore struct {
	d core.Driver
}

func (ds driverStore) Exists(p string) (bool, error) {
	ok, _, err := ds.d.Exists(p)
	return ok, err
}

func (ds driverStore) Properties(p string) (core.Props, error) {
	data, _, err := ds.d.Get(p, nil)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data), nil
}

func resolveWith(d core.Driver, p string) (string, error) {
	return resolve.Resolve(driverStore{d: d}, p)
}

// Create makes a node. A nil acl uses the session default.
func (s *Session) Create(ctx context.Context, p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return "", err
	}
	if len(acl) == 0 {
		acl = s.opts.acl
	}
	created, err := d.Create(core.Clean(p), data, acl, flags)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	return created, nil
}

// Delete removes a node. A version of -1 matches any version.
func (s *Session) Delete(ctx context.Context, p string, version int32) error {
	d, err := s.driver(ctx)
	if err != nil {
		return err
	}
	if err := d.Delete(core.Clean(p), version); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (s *Session) Exists(ctx context.Context, p string) (bool, core.Stat, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return false, core.Stat{}, err
	}
	return d.Exists(core.Clean(p))
}

func (s *Session) Get(ctx context.Context, p string) ([]byte, core.Stat, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return nil, core.Stat{}, err
	}
	data, stat, err := d.Get(core.Clean(p), nil)
	if err != nil {
		return nil, core.Stat{}, fmt.Errorf("get %s: %w", p, err)
	}
	return data, stat, nil
}

func (s *Session) Set(ctx context.Context, p string, data []byte, version int32) (core.Stat, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return core.Stat{}, err
	}
	stat, err := d.Set(core.Clean(p), data, version)
	if err != nil {
		return core.Stat{}, fmt.Errorf("set %s: %w", p, err)
	}
	return stat, nil
}

// GetChildren lists the child names of p, sorted.
func (s *Session) GetChildren(ctx context.Context, p string) ([]string, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return nil, err
	}
	names, _, err := d.Children(core.Clean(p), nil)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", p, err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Session) GetACL(ctx context.Context, p string) ([]core.ACL, core.Stat, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return nil, core.Stat{}, err
	}
	acl, stat, err := d.GetACL(core.Clean(p))
	if err != nil {
		return nil, core.Stat{}, fmt.Errorf("get acl %s: %w", p, err)
	}
	return acl, stat, nil
}

func (s *Session) SetACL(ctx context.Context, p string, acl []core.ACL, version int32) (core.Stat, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return core.Stat{}, err
	}
	stat, err := d.SetACL(core.Clean(p), acl, version)
	if err != nil {
		return core.Stat{}, fmt.Errorf("set acl %s: %w", p, err)
	}
	return stat, nil
}

// Resolve returns the real path behind p, following link properties.
func (s *Session) Resolve(ctx context.Context, p string) (string, error) {
	d, err := s.driver(ctx)
	if err != nil {
		return "", err
	}
	return resolveWith(d, p)
}

// GetProperties decodes the payload of the node p resolves to.
func (s *Session) GetProperties(ctx context.Context, p string) (core.Props, error) {
	real, err := s.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	data, _, err := s.Get(ctx, real)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data), nil
}

// SetProperties replaces the whole payload of the node p resolves to.
func (s *Session) SetProperties(ctx context.Context, p string, props core.Props) error {
	real, err := s.Resolve(ctx, p)
	if err != nil {
		return err
	}
	data, err := codec.Encode(props)
	if err != nil {
		return err
	}
	_, err = s.Set(ctx, real, data, -1)
	return err
}

// IsEphemeral reports whether p is owned by a session.
func (s *Session) IsEphemeral(ctx context.Context, p string) (bool, error) {
	ok, stat, err := s.Exists(ctx, p)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &core.NotFoundError{Path: core.Clean(p)}
	}
	return stat.Ephemeral(), nil
}

// CreateRecursive creates p and any missing ancestors. Ancestors get an
// empty payload; only p itself gets data and flags.
func (s *Session) CreateRecursive(ctx context.Context, p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error) {
	p = core.Clean(p)
	parent, _ := core.Split(p)
	if parent != "/" {
		var cur string
		for _, part := range strings.Split(strings.TrimPrefix(parent, "/"), "/") {
			cur = core.Join(orRoot(cur), part)
			if _, err := s.Create(ctx, cur, nil, acl, 0); err != nil && !errors.Is(err, core.ErrNodeExists) {
				return "", err
			}
		}
	}
	return s.Create(ctx, p, data, acl, flags)
}

func orRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// Ln makes source resolve to target by storing a link property on the
// parent of source.
func (s *Session) Ln(ctx context.Context, target, source string) error {
	if !strings.HasPrefix(target, "/") {
		return fmt.Errorf("%w: link target %q must be absolute", core.ErrBadArguments, target)
	}
	parent, name := core.Split(source)
	if name == "" {
		return fmt.Errorf("%w: cannot link the root", core.ErrBadArguments)
	}

	real, err := s.Resolve(ctx, parent)
	if err != nil {
		return err
	}
	data, stat, err := s.Get(ctx, real)
	if err != nil {
		return err
	}
	props := codec.Decode(data)
	props[name+core.LinkSuffix] = core.Clean(target)

	encoded, err := codec.Encode(props)
	if err != nil {
		return err
	}
	_, err = s.Set(ctx, real, encoded, stat.Version)
	return err
}

// Walk visits root and its descendants depth first, children in name order.
func (s *Session) Walk(ctx context.Context, root string, fn WalkFunc) error {
	root = core.Clean(root)
	ok, stat, err := s.Exists(ctx, root)
	if err != nil {
		return err
	}
	if !ok {
		return &core.NotFoundError{Path: root}
	}
	return s.walk(ctx, root, stat, fn)
}

func (s *Session) walk(ctx context.Context, p string, stat core.Stat, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(p, stat); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	if stat.NumChildren == 0 {
		return nil
	}

	names, err := s.GetChildren(ctx, p)
	if err != nil {
		if errors.Is(err, core.ErrNoNode) {
			return nil
		}
		return err
	}
	for _, name := range names {
		child := core.Join(p, name)
		ok, childStat, err := s.Exists(ctx, child)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.walk(ctx, child, childStat, fn); err != nil {
			return err
		}
	}
	return nil
}

// RegisterServer announces addr under p as an ephemeral, world-readable
// node. The payload is props plus the pid of this process.
func (s *Session) RegisterServer(ctx context.Context, p, addr string, props core.Props) (string, error) {
	real, err := s.Resolve(ctx, p)
	if err != nil {
		return "", err
	}
	payload := props.Clone()
	payload["pid"] = os.Getpid()
	data, err := codec.Encode(payload)
	if err != nil {
		return "", err
	}
	return s.Create(ctx, core.Join(real, addr), data, core.ReadACL, core.FlagEphemeral)
}

// CreateSequential creates a sequence node named prefix plus a counter.
//
// When the connection drops mid-create the outcome is unknown. The parent
// is then searched for sequence nodes with the same prefix and payload; if
// any exist the newest is taken as ours. This is a best-effort policy: the
// store cannot tell which session made a node.
func (s *Session) CreateSequential(ctx context.Context, prefix string, data []byte, flags core.CreateFlags) (string, error) {
	created, err := s.Create(ctx, prefix, data, nil, flags|core.FlagSequence)
	if err == nil || !errors.Is(err, core.ErrConnectionLoss) {
		return created, err
	}

	found, ferr := s.newestCandidate(ctx, prefix, data)
	if ferr != nil {
		return "", errors.Join(err, ferr)
	}
	if found == "" {
		return "", err
	}
	return found, nil
}

func (s *Session) newestCandidate(ctx context.Context, prefix string, data []byte) (string, error) {
	parent, base := core.Split(prefix)
	names, err := s.GetChildren(ctx, parent)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, name := range names {
		if !strings.HasPrefix(name, base) {
			continue
		}
		got, _, err := s.Get(ctx, core.Join(parent, name))
		if err != nil || string(got) != string(data) {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", nil
	}
	// Sequence suffixes are zero padded, so name order is creation order.
	newest := candidates[len(candidates)-1]
	if len(candidates) > 1 {
		s.logger.Warn("ambiguous create, using newest candidate", "prefix", prefix, "candidates", candidates, "chosen", newest)
	}
	return core.Join(parent, newest), nil
}

package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
)

// Client is the part of a session the tree engine needs.
type Client interface {
	Exists(ctx context.Context, p string) (bool, core.Stat, error)
	Get(ctx context.Context, p string) ([]byte, core.Stat, error)
	Set(ctx context.Context, p string, data []byte, version int32) (core.Stat, error)
	Create(ctx context.Context, p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error)
	Delete(ctx context.Context, p string, version int32) error
	GetChildren(ctx context.Context, p string) ([]string, error)
	GetACL(ctx context.Context, p string) ([]core.ACL, core.Stat, error)
	SetACL(ctx context.Context, p string, acl []core.ACL, version int32) (core.Stat, error)
	Resolve(ctx context.Context, p string) (string, error)
}

// Options control Apply.
type Options struct {
	// ACL is given to created nodes and enforced on existing ones.
	// Empty means core.OpenACL.
	ACL []core.ACL
	// Trim deletes existing children that the description does not name.
	// Without it they are only reported.
	Trim bool
	// DryRun reports what would change without writing.
	DryRun bool
	Report Reporter
}

// Apply makes the subtree at rootPath match the children of root. root is
// normally the synthetic node returned by Parse; its own properties must
// be empty.
func Apply(ctx context.Context, c Client, rootPath string, root *Node, opts Options) (*Summary, error) {
	if len(root.Props) > 0 {
		return nil, fmt.Errorf("%w: properties outside of any node", core.ErrBadArguments)
	}
	if len(opts.ACL) == 0 {
		opts.ACL = core.OpenACL
	}
	real, err := c.Resolve(ctx, rootPath)
	if err != nil {
		return nil, err
	}
	a := &applier{c: c, opts: opts, summary: &Summary{}}
	if err := a.apply(ctx, real, root, true); err != nil {
		return a.summary, err
	}
	return a.summary, nil
}

type applier struct {
	c       Client
	opts    Options
	summary *Summary
}

func (a *applier) record(c Change) {
	c.DryRun = a.opts.DryRun
	a.summary.record(c, a.opts.Report)
}

func (a *applier) apply(ctx context.Context, real string, n *Node, synthetic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A parent that does not exist yet (dry run) has no children to compare.
	var existing []string
	if ok, _, err := a.c.Exists(ctx, real); err != nil {
		return err
	} else if ok {
		if existing, err = a.c.GetChildren(ctx, real); err != nil {
			return err
		}
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	if !synthetic {
		for _, name := range existing {
			if n.Child(name) != nil {
				continue
			}
			extra := core.Join(real, name)
			if !a.opts.Trim {
				a.record(Change{Action: ActionExtra, Path: extra})
				continue
			}
			if _, err := deleteNode(ctx, a.c, extra, DeleteOptions{DryRun: a.opts.DryRun}, a.record); err != nil {
				return err
			}
		}
	}

	for _, child := range n.Children {
		p := core.Join(real, child.Name)
		var err error
		if present[child.Name] {
			err = a.update(ctx, p, child)
		} else {
			err = a.create(ctx, p, child)
		}
		if err != nil {
			return err
		}
	}

	for _, child := range n.Children {
		if err := a.apply(ctx, core.Join(real, child.Name), child, false); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) create(ctx context.Context, p string, n *Node) error {
	if !a.opts.DryRun {
		data, err := codec.Encode(n.Props)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
		if _, err := a.c.Create(ctx, p, data, a.opts.ACL, 0); err != nil {
			return err
		}
	}
	a.record(Change{Action: ActionAdd, Path: p, Props: DiffProps(nil, n.Props)})
	return nil
}

func (a *applier) update(ctx context.Context, p string, n *Node) error {
	data, stat, err := a.c.Get(ctx, p)
	if err != nil {
		return err
	}
	diff := DiffProps(codec.Decode(data), n.Props)
	if len(diff) == 0 {
		a.summary.Unchanged++
	} else {
		if !a.opts.DryRun {
			encoded, err := codec.Encode(n.Props)
			if err != nil {
				return fmt.Errorf("encode %s: %w", p, err)
			}
			if _, err := a.c.Set(ctx, p, encoded, stat.Version); err != nil {
				return err
			}
		}
		a.record(Change{Action: ActionUpdate, Path: p, Props: diff})
	}
	return a.reconcileACL(ctx, p)
}

func (a *applier) reconcileACL(ctx context.Context, p string) error {
	acl, _, err := a.c.GetACL(ctx, p)
	if err != nil {
		if errors.Is(err, core.ErrNoNode) {
			return nil
		}
		return err
	}
	if core.EqualACL(acl, a.opts.ACL) {
		return nil
	}
	if !a.opts.DryRun {
		if _, err := a.c.SetACL(ctx, p, a.opts.ACL, -1); err != nil {
			return err
		}
	}
	a.record(Change{Action: ActionACL, Path: p, ACL: [2][]core.ACL{acl, a.opts.ACL}})
	return nil
}

package tree

import (
	"context"
	"errors"

	"github.com/aretw0/canopy/pkg/core"
)

// housekeeping is the store's own subtree under the root.
const housekeeping = "zookeeper"

// DeleteOptions control DeleteRecursive.
type DeleteOptions struct {
	// Force deletes ephemeral nodes owned by other sessions too.
	Force  bool
	DryRun bool
	Report Reporter
}

// DeleteRecursive removes p and everything below it, children first.
//
// Ephemeral nodes are kept and reported unless Force is set, and so is any
// node that still has children afterwards. Neither case is an error. For
// "/" only the children are removed, housekeeping excepted.
func DeleteRecursive(ctx context.Context, c Client, p string, opts DeleteOptions) (*Summary, error) {
	summary := &Summary{}
	record := func(ch Change) {
		ch.DryRun = opts.DryRun
		summary.record(ch, opts.Report)
	}
	_, err := deleteNode(ctx, c, core.Clean(p), opts, record)
	return summary, err
}

// deleteNode reports whether p is gone, or would be in a dry run.
func deleteNode(ctx context.Context, c Client, p string, opts DeleteOptions, record func(Change)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, stat, err := c.Exists(ctx, p)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	names, err := c.GetChildren(ctx, p)
	if err != nil && !errors.Is(err, core.ErrNoNode) {
		return false, err
	}
	allGone := true
	for _, name := range names {
		if p == "/" && name == housekeeping {
			continue
		}
		gone, err := deleteNode(ctx, c, core.Join(p, name), opts, record)
		if err != nil {
			return false, err
		}
		allGone = allGone && gone
	}

	if p == "/" {
		return false, nil
	}
	if stat.Ephemeral() && !opts.Force {
		record(Change{Action: ActionKeep, Path: p, Reason: "ephemeral"})
		return false, nil
	}
	if !allGone {
		record(Change{Action: ActionKeep, Path: p, Reason: "has children"})
		return false, nil
	}
	if !opts.DryRun {
		if err := c.Delete(ctx, p, -1); err != nil {
			switch {
			case errors.Is(err, core.ErrNoNode):
				return true, nil
			case errors.Is(err, core.ErrNotEmpty):
				record(Change{Action: ActionKeep, Path: p, Reason: "has children"})
				return false, nil
			default:
				return false, err
			}
		}
	}
	record(Change{Action: ActionDelete, Path: p})
	return true, nil
}

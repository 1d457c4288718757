package tree

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
)

// ExportOptions control Export.
type ExportOptions struct {
	// Ephemeral includes ephemeral nodes.
	Ephemeral bool
	// Name renames the top node. Exporting "/" without a name emits its
	// children at the top level.
	Name string
	// Exclude holds glob patterns ("/app/**/tmp") matched against real
	// paths. A matching node is skipped along with its subtree.
	Exclude []string
}

var (
	nodeName = regexp.MustCompile(`^[^\s/]+$`)
	propName = regexp.MustCompile(`^[^\s=/#][^\s=]*$`)
	linkPath = regexp.MustCompile(`^/\S*$`)
)

func (o ExportOptions) validate() error {
	if o.Name != "" && !nodeName.MatchString(o.Name) {
		return fmt.Errorf("%w: bad export name %q", core.ErrBadArguments, o.Name)
	}
	for _, pattern := range o.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: bad exclude pattern %q", core.ErrBadArguments, pattern)
		}
	}
	return nil
}

// Export renders the subtree p resolves to as a tree description.
func Export(ctx context.Context, c Client, p string, opts ExportOptions) (string, error) {
	root, err := Read(ctx, c, p, opts)
	if err != nil {
		return "", err
	}
	return Format(root), nil
}

// Read loads the subtree p resolves to. The result has the same shape
// Parse produces for the text Export would write.
func Read(ctx context.Context, c Client, p string, opts ExportOptions) (*Node, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	real, err := c.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	r := &reader{c: c, opts: opts}
	n, err := r.read(ctx, real)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &core.NotFoundError{Path: real}
	}

	if real == "/" && opts.Name == "" {
		if len(n.Props) > 0 {
			return nil, fmt.Errorf("%w: the root has properties, export it with a name", core.ErrBadArguments)
		}
		return &Node{Props: core.Props{}, Children: n.Children}, nil
	}
	if opts.Name != "" {
		n.Name = opts.Name
	}
	return &Node{Props: core.Props{}, Children: []*Node{n}}, nil
}

type reader struct {
	c    Client
	opts ExportOptions
}

func (r *reader) excluded(p string) bool {
	for _, pattern := range r.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// read returns nil for nodes that are skipped or gone.
func (r *reader) read(ctx context.Context, p string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, stat, err := r.c.Get(ctx, p)
	if err != nil {
		if errors.Is(err, core.ErrNoNode) {
			return nil, nil
		}
		return nil, err
	}
	if stat.Ephemeral() && !r.opts.Ephemeral {
		return nil, nil
	}

	_, name := core.Split(p)
	n := &Node{Name: name, Props: codec.Decode(data)}
	if err := writable(p, n); err != nil {
		return nil, err
	}
	if stat.NumChildren == 0 {
		return n, nil
	}

	names, err := r.c.GetChildren(ctx, p)
	if err != nil {
		if errors.Is(err, core.ErrNoNode) {
			return n, nil
		}
		return nil, err
	}
	for _, name := range names {
		if p == "/" && name == housekeeping {
			continue
		}
		child := core.Join(p, name)
		if r.excluded(child) {
			continue
		}
		cn, err := r.read(ctx, child)
		if err != nil {
			return nil, err
		}
		if cn != nil {
			n.Children = append(n.Children, cn)
		}
	}
	return n, nil
}

// writable fails for names and link targets that Parse could not read back.
func writable(p string, n *Node) error {
	bad := func(what, name string) error {
		return fmt.Errorf("%w: %s %q at %s cannot be written as a tree description", core.ErrBadArguments, what, name, p)
	}
	if p != "/" && !nodeName.MatchString(n.Name) {
		return bad("node name", n.Name)
	}
	plain, links := codec.SplitLinks(n.Props)
	for _, name := range plain {
		if !propName.MatchString(name) || strings.Contains(name, "->") {
			return bad("property name", name)
		}
	}
	for _, name := range links {
		if !propName.MatchString(name) || strings.Contains(name, "->") {
			return bad("link name", name)
		}
		if target, ok := codec.LinkTarget(n.Props, name); !ok || !linkPath.MatchString(target) {
			return bad("link target of", name)
		}
	}
	return nil
}

// Below loads the children of the node p resolves to, in the shape Parse
// gives for a description meant to be applied at p.
func Below(ctx context.Context, c Client, p string, opts ExportOptions) (*Node, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	real, err := c.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	r := &reader{c: c, opts: opts}
	n, err := r.read(ctx, real)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &core.NotFoundError{Path: real}
	}
	return &Node{Props: core.Props{}, Children: n.Children}, nil
}

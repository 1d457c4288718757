// Package typed reads and writes node properties as Go values.
package typed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
)

// Store is the part of a session the typed repository needs.
// *session.Session implements it.
type Store interface {
	GetProperties(ctx context.Context, p string) (core.Props, error)
	SetProperties(ctx context.Context, p string, props core.Props) error
	CreateRecursive(ctx context.Context, p string, data []byte, acl []core.ACL, flags core.CreateFlags) (string, error)
	GetChildren(ctx context.Context, p string) ([]string, error)
	Delete(ctx context.Context, p string, version int32) error
}

// Node is a typed view of the properties of one node.
type Node[T any] struct {
	Path  string
	Data  T
	Saver Saver[T] // Active Record reference
}

// Saver lets a node save itself without knowing the repository type.
type Saver[T any] interface {
	Save(ctx context.Context, n *Node[T]) error
}

// Save persists the node using the attached saver.
func (n *Node[T]) Save(ctx context.Context) error {
	if n.Saver == nil {
		return fmt.Errorf("node %s is detached (missing Saver)", n.Path)
	}
	return n.Saver.Save(ctx, n)
}

// Repository maps node properties to T through its JSON form.
type Repository[T any] struct {
	store Store
}

// NewRepository creates a type-safe wrapper around a store.
func NewRepository[T any](store Store) *Repository[T] {
	return &Repository[T]{store: store}
}

// Save writes the properties of n, creating the node and its parents if
// needed.
func (r *Repository[T]) Save(ctx context.Context, n *Node[T]) error {
	props, err := toProps(n.Data)
	if err != nil {
		return err
	}
	if n.Saver == nil {
		n.Saver = r
	}

	err = r.store.SetProperties(ctx, n.Path, props)
	if !errors.Is(err, core.ErrNoNode) {
		return err
	}
	data, err := codec.Encode(props)
	if err != nil {
		return err
	}
	_, err = r.store.CreateRecursive(ctx, n.Path, data, nil, 0)
	return err
}

// Get reads the node p resolves to.
func (r *Repository[T]) Get(ctx context.Context, p string) (*Node[T], error) {
	props, err := r.store.GetProperties(ctx, p)
	if err != nil {
		return nil, err
	}
	return fromProps(p, props, r)
}

// List returns the children of parent, in name order.
func (r *Repository[T]) List(ctx context.Context, parent string) ([]*Node[T], error) {
	names, err := r.store.GetChildren(ctx, parent)
	if err != nil {
		return nil, err
	}

	result := make([]*Node[T], 0, len(names))
	for _, name := range names {
		n, err := r.Get(ctx, core.Join(core.Clean(parent), name))
		if err != nil {
			return nil, fmt.Errorf("failed to process node %s: %w", name, err)
		}
		result = append(result, n)
	}
	return result, nil
}

// Delete removes a node that has no children.
func (r *Repository[T]) Delete(ctx context.Context, p string) error {
	return r.store.Delete(ctx, p, -1)
}

// toProps goes through JSON and the codec so integers stay integers.
func toProps(v any) (core.Props, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: typed data must encode as a JSON object, got %s", core.ErrBadArguments, raw)
	}
	return codec.Decode(raw), nil
}

func fromProps[T any](p string, props core.Props, saver Saver[T]) (*Node[T], error) {
	raw, err := json.Marshal(map[string]any(props))
	if err != nil {
		return nil, fmt.Errorf("properties marshal failed: %w", err)
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal to target type failed: %w", err)
	}

	return &Node[T]{Path: p, Data: data, Saver: saver}, nil
}

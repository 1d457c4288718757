package resolve_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/resolve"
)

// fakeStore is a flat map of path -> properties.
type fakeStore struct {
	nodes map[string]core.Props
	err   error
}

func (f *fakeStore) Exists(p string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.nodes[p]
	return ok, nil
}

func (f *fakeStore) Properties(p string) (core.Props, error) {
	props, ok := f.nodes[p]
	if !ok {
		return nil, core.ErrNoNode
	}
	return props, nil
}

func newStore() *fakeStore {
	return &fakeStore{nodes: map[string]core.Props{
		"/":               {},
		"/app":            {"one ->": "/app/child", "two ->": "/app/one", "bad ->": "relative/x", "ghost ->": "/nowhere"},
		"/app/child":      {},
		"/app/child/leaf": {},
		"/loop":           {"a ->": "/loop/b", "b ->": "/loop/a", "self ->": "/loop/self"},
	}}
}

func TestResolve(t *testing.T) {
	s := newStore()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"Real Path Unchanged", "/app/child", "/app/child"},
		{"Root", "/", "/"},
		{"One Hop", "/app/one", "/app/child"},
		{"Chain", "/app/two", "/app/child"},
		{"Through Link Base", "/app/one/leaf", "/app/child/leaf"},
		{"Uncleaned Input", "app/one/", "/app/child"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolve.Resolve(s, tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	s := newStore()

	t.Run("Missing Child", func(t *testing.T) {
		_, err := resolve.Resolve(s, "/app/missing")
		var nf *core.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "/app/missing", nf.Path)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Missing Base", func(t *testing.T) {
		_, err := resolve.Resolve(s, "/nope/deeper")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Dangling Link", func(t *testing.T) {
		_, err := resolve.Resolve(s, "/app/ghost")
		var nf *core.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "/nowhere", nf.Path)
	})

	t.Run("Relative Target", func(t *testing.T) {
		_, err := resolve.Resolve(s, "/app/bad")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Two Node Loop", func(t *testing.T) {
		_, err := resolve.Resolve(s, "/loop/a")
		var loop *core.LinkLoopError
		require.ErrorAs(t, err, &loop)
		assert.Equal(t, []string{"/loop/a", "/loop/b", "/loop/a"}, loop.Chain)
		assert.ErrorIs(t, err, core.ErrLinkLoop)
	})

	t.Run("Self Loop", func(t *testing.T) {
		_, err := resolve.Resolve(s, "/loop/self")
		assert.ErrorIs(t, err, core.ErrLinkLoop)
	})

	t.Run("Store Failure Propagates", func(t *testing.T) {
		broken := &fakeStore{err: core.ErrConnectionLoss}
		_, err := resolve.Resolve(broken, "/x")
		assert.True(t, errors.Is(err, core.ErrConnectionLoss))
	})
}

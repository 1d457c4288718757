package typed_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/aretw0/canopy/pkg/typed"
)

type Endpoint struct {
	Host   string   `json:"host"`
	Port   int      `json:"port"`
	Weight float64  `json:"weight"`
	Tags   []string `json:"tags,omitempty"`
}

func setup(t *testing.T) (*session.Session, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	s, err := session.Connect(context.Background(), "mem",
		session.WithDialer(store.Dial),
		session.WithTimeout(time.Second),
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, store
}

func TestTypedRepository(t *testing.T) {
	s, store := setup(t)
	ctx := context.Background()
	repo := typed.NewRepository[Endpoint](s)

	// 1. Save creates missing parents
	ep := &typed.Node[Endpoint]{
		Path: "/svc/api/primary",
		Data: Endpoint{Host: "10.0.0.1", Port: 8080, Weight: 1.5},
	}
	require.NoError(t, repo.Save(ctx, ep))
	data, ok := store.Data("/svc/api/primary")
	require.True(t, ok)
	assert.JSONEq(t, `{"host":"10.0.0.1","port":8080,"weight":1.5}`, string(data))

	props, err := s.GetProperties(ctx, "/svc/api/primary")
	require.NoError(t, err)
	assert.Equal(t, int64(8080), props["port"])
	assert.Equal(t, 1.5, props["weight"])

	// 2. Active record update
	ep.Data.Tags = []string{"blue"}
	require.NoError(t, ep.Save(ctx))

	got, err := repo.Get(ctx, "/svc/api/primary")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "10.0.0.1", Port: 8080, Weight: 1.5, Tags: []string{"blue"}}, got.Data)

	// 3. List
	require.NoError(t, repo.Save(ctx, &typed.Node[Endpoint]{Path: "/svc/api/backup", Data: Endpoint{Host: "10.0.0.2", Port: 8081}}))
	list, err := repo.List(ctx, "/svc/api")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/svc/api/backup", list[0].Path)
	assert.Equal(t, "10.0.0.2", list[0].Data.Host)

	// 4. Delete
	require.NoError(t, repo.Delete(ctx, "/svc/api/backup"))
	_, err = repo.Get(ctx, "/svc/api/backup")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTypedRepository_Errors(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	detached := &typed.Node[Endpoint]{Path: "/x"}
	assert.Error(t, detached.Save(ctx))

	scalars := typed.NewRepository[int](s)
	assert.ErrorIs(t, scalars.Save(ctx, &typed.Node[int]{Path: "/n", Data: 3}), core.ErrBadArguments)

	_, err := s.Create(ctx, "/bad", []byte(`{"port":"not a number"}`), nil, 0)
	require.NoError(t, err)
	_, err = typed.NewRepository[Endpoint](s).Get(ctx, "/bad")
	assert.Error(t, err)
}

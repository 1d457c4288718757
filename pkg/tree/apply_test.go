package tree

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/session"
)

func connect(t *testing.T, store *memory.Store) *session.Session {
	t.Helper()
	s, err := session.Connect(context.Background(), "mem",
		session.WithDialer(store.Dial),
		session.WithTimeout(time.Second),
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustParse(t *testing.T, text string) *Node {
	t.Helper()
	root, err := Parse(text)
	require.NoError(t, err)
	return root
}

func TestApply_Scenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := connect(t, store)

	sum, err := Apply(ctx, s, "/", mustParse(t, "/app\n  a = 1\n  /child\n    b = \"x\"\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created)

	data, ok := store.Data("/app")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(data))
	props, err := s.GetProperties(ctx, "/app/child")
	require.NoError(t, err)
	assert.Equal(t, core.Props{"b": "x"}, props)

	t.Run("Dry Run Reports Nothing", func(t *testing.T) {
		sum, err := Apply(ctx, s, "/", mustParse(t, "/app\n  a = 1\n  /child\n    b = \"x\"\n"), Options{DryRun: true})
		require.NoError(t, err)
		assert.False(t, sum.HasChanges())
		assert.Empty(t, sum.Changes)
		assert.Equal(t, 2, sum.Unchanged)
	})

	t.Run("Dry Run Reports Changed Property", func(t *testing.T) {
		var out bytes.Buffer
		sum, err := Apply(ctx, s, "/", mustParse(t, "/app\n  a = 2\n  /child\n    b = \"x\"\n"), Options{
			DryRun: true,
			Report: NewTextReporter(&out),
		})
		require.NoError(t, err)
		require.Len(t, sum.Changes, 1)
		assert.Equal(t, Change{
			Action: ActionUpdate,
			Path:   "/app",
			Props:  []PropChange{{Kind: PropModified, Name: "a", Old: int64(1), New: int64(2)}},
			DryRun: true,
		}, sum.Changes[0])
		assert.Equal(t, "would update /app\n  ~ a: 1 -> 2\n", out.String())

		data, _ := store.Data("/app")
		assert.Equal(t, `{"a":1}`, string(data), "dry run must not write")
	})
}

func TestApply_DryRunOnEmptyStore(t *testing.T) {
	store := memory.NewStore()
	s := connect(t, store)

	var out bytes.Buffer
	sum, err := Apply(context.Background(), s, "/", mustParse(t, "/a\n  x = 'y'\n  /b\n"), Options{
		DryRun: true,
		Report: NewTextReporter(&out),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created)
	assert.False(t, store.Exists("/a"))
	assert.Equal(t, "would add /a\n  + x = 'y'\nwould add /a/b\n", out.String())
}

func TestApply_Link(t *testing.T) {
	ctx := context.Background()
	s := connect(t, memory.NewStore())

	_, err := Apply(ctx, s, "/", mustParse(t, "/app\n  link -> /app/child\n  /child\n"), Options{})
	require.NoError(t, err)

	real, err := s.Resolve(ctx, "/app/link")
	require.NoError(t, err)
	assert.Equal(t, "/app/child", real)
}

func TestApply_ExtraChildren(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := connect(t, store)
	desc := "/app\n  /keep\n"

	_, err := Apply(ctx, s, "/", mustParse(t, "/app\n  /keep\n  /old\n    /deep\n"), Options{})
	require.NoError(t, err)

	t.Run("Reported Without Trim", func(t *testing.T) {
		sum, err := Apply(ctx, s, "/", mustParse(t, desc), Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Extra)
		assert.Zero(t, sum.Deleted)
		assert.True(t, store.Exists("/app/old/deep"))
	})

	t.Run("Deleted With Trim", func(t *testing.T) {
		sum, err := Apply(ctx, s, "/", mustParse(t, desc), Options{Trim: true})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Deleted)
		assert.False(t, store.Exists("/app/old"))
		assert.True(t, store.Exists("/app/keep"))
	})

	t.Run("Top Level Is Never Trimmed", func(t *testing.T) {
		_, err := s.Create(ctx, "/other", nil, nil, 0)
		require.NoError(t, err)
		_, err = Apply(ctx, s, "/", mustParse(t, desc), Options{Trim: true})
		require.NoError(t, err)
		assert.True(t, store.Exists("/other"))
	})
}

func TestApply_ReconcilesACL(t *testing.T) {
	ctx := context.Background()
	s := connect(t, memory.NewStore())

	_, err := s.Create(ctx, "/app", nil, core.ReadACL, 0)
	require.NoError(t, err)

	sum, err := Apply(ctx, s, "/", mustParse(t, "/app\n"), Options{})
	require.NoError(t, err)
	require.Len(t, sum.Changes, 1)
	assert.Equal(t, ActionACL, sum.Changes[0].Action)

	acl, _, err := s.GetACL(ctx, "/app")
	require.NoError(t, err)
	assert.Equal(t, core.OpenACL, acl)
}

func TestApply_RejectsRootProperties(t *testing.T) {
	s := connect(t, memory.NewStore())
	root := NewNode("")
	root.Props["x"] = int64(1)
	_, err := Apply(context.Background(), s, "/", root, Options{})
	assert.ErrorIs(t, err, core.ErrBadArguments)
}

func TestDeleteRecursive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := connect(t, store)
	owner := connect(t, store)

	_, err := Apply(ctx, s, "/", mustParse(t, "/svc\n  /plain\n    /leaf\n"), Options{})
	require.NoError(t, err)
	_, err = owner.Create(ctx, "/svc/eph", nil, nil, core.FlagEphemeral)
	require.NoError(t, err)

	t.Run("Ephemeral Descendant Keeps Parent", func(t *testing.T) {
		var out bytes.Buffer
		sum, err := DeleteRecursive(ctx, s, "/svc", DeleteOptions{Report: NewTextReporter(&out)})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Deleted)
		assert.Equal(t, 2, sum.Kept)
		assert.True(t, store.Exists("/svc/eph"))
		assert.False(t, store.Exists("/svc/plain"))
		assert.Equal(t, "kept /svc/eph: ephemeral\ndeleted /svc/plain/leaf\ndeleted /svc/plain\nkept /svc: has children\n", out.String())
	})

	t.Run("Dry Run", func(t *testing.T) {
		sum, err := DeleteRecursive(ctx, s, "/svc", DeleteOptions{Force: true, DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Deleted)
		assert.True(t, store.Exists("/svc/eph"))
	})

	t.Run("Force", func(t *testing.T) {
		sum, err := DeleteRecursive(ctx, s, "/svc", DeleteOptions{Force: true})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Deleted)
		assert.False(t, store.Exists("/svc"))
	})

	t.Run("Missing Is Not An Error", func(t *testing.T) {
		sum, err := DeleteRecursive(ctx, s, "/nothing", DeleteOptions{})
		require.NoError(t, err)
		assert.False(t, sum.HasChanges())
	})

	t.Run("Root Keeps Housekeeping", func(t *testing.T) {
		_, err := s.CreateRecursive(ctx, "/x/y", nil, nil, 0)
		require.NoError(t, err)
		_, err = DeleteRecursive(ctx, s, "/", DeleteOptions{})
		require.NoError(t, err)
		assert.False(t, store.Exists("/x"))
		assert.True(t, store.Exists("/zookeeper"))
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := connect(t, store)

	text := `/app: service
    port = 8080
    tags = ['a', 'b']
    current -> /app/v2
    /v1
        image = 'app:1'
    /v2
        image = 'app:2'
        /tmp
`
	_, err := Apply(ctx, s, "/", mustParse(t, text), Options{})
	require.NoError(t, err)
	_, err = s.RegisterServer(ctx, "/app/v2", "10.0.0.1:80", core.Props{})
	require.NoError(t, err)

	t.Run("Round Trip", func(t *testing.T) {
		got, err := Export(ctx, s, "/", ExportOptions{})
		require.NoError(t, err)
		assert.Equal(t, text, got)

		sum, err := Apply(ctx, s, "/", mustParse(t, got), Options{DryRun: true})
		require.NoError(t, err)
		assert.False(t, sum.HasChanges())

		if diff := cmp.Diff(mustParse(t, text), mustParse(t, got)); diff != "" {
			t.Errorf("exported tree mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Ephemeral", func(t *testing.T) {
		got, err := Export(ctx, s, "/app/v2", ExportOptions{Ephemeral: true})
		require.NoError(t, err)
		assert.Contains(t, got, "    /10.0.0.1:80\n")
	})

	t.Run("Name And Exclude", func(t *testing.T) {
		got, err := Export(ctx, s, "/app", ExportOptions{Name: "copy", Exclude: []string{"/app/*/tmp", "/app/v1"}})
		require.NoError(t, err)
		assert.Equal(t, `/copy: service
    port = 8080
    tags = ['a', 'b']
    current -> /app/v2
    /v2
        image = 'app:2'
`, got)
	})

	t.Run("Through Link", func(t *testing.T) {
		got, err := Export(ctx, s, "/app/current", ExportOptions{})
		require.NoError(t, err)
		assert.Equal(t, "/v2\n    image = 'app:2'\n    /tmp\n", got)
	})

	t.Run("Bad Pattern", func(t *testing.T) {
		_, err := Export(ctx, s, "/", ExportOptions{Exclude: []string{"/a/["}})
		assert.ErrorIs(t, err, core.ErrBadArguments)
	})

	t.Run("Bad Name", func(t *testing.T) {
		_, err := Export(ctx, s, "/app", ExportOptions{Name: "two words"})
		assert.ErrorIs(t, err, core.ErrBadArguments)
	})
}

func TestExport_RefusesUnreadableNames(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		node  string
		props core.Props
		want  string
	}{
		{"Node Name With Space", "/odd/my node", nil, `node name "my node" at /odd/my node`},
		{"Property Name With Space", "/odd/n", core.Props{"my key": 1}, `property name "my key" at /odd/n`},
		{"Property Name Like A Link", "/odd/n", core.Props{"a->b": 1}, `property name "a->b"`},
		{"Relative Link Target", "/odd/n", core.Props{"up ->": "../x"}, `link target of "up"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := connect(t, memory.NewStore())
			data, err := codec.Encode(tc.props)
			require.NoError(t, err)
			_, err = s.CreateRecursive(ctx, tc.node, data, nil, 0)
			require.NoError(t, err)

			_, err = Export(ctx, s, "/odd", ExportOptions{})
			require.ErrorIs(t, err, core.ErrBadArguments)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBelow(t *testing.T) {
	ctx := context.Background()
	s := connect(t, memory.NewStore())
	text := "/a\n    x = 1\n/b\n"
	_, err := Apply(ctx, s, "/", mustParse(t, "/base\n"), Options{})
	require.NoError(t, err)
	_, err = Apply(ctx, s, "/base", mustParse(t, text), Options{})
	require.NoError(t, err)

	got, err := Below(ctx, s, "/base", ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, text, Format(got))

	_, err = Below(ctx, s, "/missing", ExportOptions{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

package tree

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/core"
)

func TestParse(t *testing.T) {
	text := `
# services
/app: service
    replicas = 3
    ratio = 0.5
    name = 'web'
    tags = ['a', "b"]
    limits = {'cpu': 2, 'mem': None}
    enabled = True
    current -> /app/v2/
    /v2
        image = "registry/app:2"

/host:8080
`
	root, err := Parse(text)
	require.NoError(t, err)

	want := &Node{Props: core.Props{}, Children: []*Node{
		{
			Name: "app",
			Props: core.Props{
				"type":       "service",
				"replicas":   int64(3),
				"ratio":      0.5,
				"name":       "web",
				"tags":       []any{"a", "b"},
				"limits":     map[string]any{"cpu": int64(2), "mem": nil},
				"enabled":    true,
				"current ->": "/app/v2",
			},
			Children: []*Node{
				{Name: "v2", Props: core.Props{"image": "registry/app:2"}},
			},
		},
		{Name: "host:8080", Props: core.Props{}},
	}}
	if diff := cmp.Diff(want, root); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Indentation(t *testing.T) {
	t.Run("Two Space Unit", func(t *testing.T) {
		root, err := Parse("/a\n  x = 1\n  /b\n    y = 2\n/c\n")
		require.NoError(t, err)
		require.Len(t, root.Children, 2)
		assert.Equal(t, int64(2), root.Children[0].Child("b").Props["y"])
	})

	t.Run("Tabs", func(t *testing.T) {
		root, err := Parse("/a\n\t/b\n\t\tx = 1\n")
		require.NoError(t, err)
		assert.Equal(t, int64(1), root.Child("a").Child("b").Props["x"])
	})

	t.Run("Dedent Several Levels", func(t *testing.T) {
		root, err := Parse("/a\n  /b\n    /c\n      x = 1\n  y = 2\n")
		require.NoError(t, err)
		assert.Equal(t, int64(2), root.Child("a").Props["y"])
	})
}

func TestParse_TypeColonSpacing(t *testing.T) {
	root, err := Parse("/db : store\n/cache:\tmemory\n")
	require.NoError(t, err)
	assert.Equal(t, "store", root.Child("db").Type())
	assert.Equal(t, "memory", root.Child("cache").Type())
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		line   int
		reason string
	}{
		{"Malformed Node", "/a b\n", 1, "malformed node line"},
		{"Malformed Link", "/a\n  x -> relative\n", 2, "malformed link line"},
		{"Unrecognized", "/a\n  just words\n", 2, "unrecognized line"},
		{"Property At Top", "x = 1\n", 1, "property outside of a node"},
		{"Under Property", "/a\n  x = 1\n    y = 2\n", 3, "indented under a property"},
		{"Two Levels", "/a\n  /b\n      /c\n", 3, "indented more than one level"},
		{"Inconsistent", "/a\n  /b\n   x = 1\n", 3, "inconsistent indentation"},
		{"Duplicate Node", "/a\n/a\n", 2, `duplicate node "a"`},
		{"Duplicate Property", "/a\n  x = 1\n  x = 2\n", 3, `duplicate property "x"`},
		{"Not A Literal", "/a\n  x = os.Exit(1)\n", 2, "not a literal"},
		{"Unquoted Dict Key", "/a\n  x = {cpu: 2}\n", 2, "dict keys must be quoted strings"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := Parse(tc.text)
			assert.Nil(t, root)
			require.ErrorIs(t, err, ErrParse)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.line, pe.Line)
			assert.Contains(t, pe.Reason, tc.reason)
		})
	}
}

func TestParseLiteral(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"+1.5", 1.5},
		{"1e-05", 1e-05},
		{`"quote's"`, "quote's"},
		{`'tab\there'`, "tab\there"},
		{"False", false},
		{"false", false},
		{"None", nil},
		{"[]", []any{}},
		{"[1, [2, 'x']]", []any{int64(1), []any{int64(2), "x"}}},
		{"{'a': {'b': True}}", map[string]any{"a": map[string]any{"b": true}}},
		{`{"a": 1}`, map[string]any{"a": int64(1)}},
		{"-9223372036854775808", int64(math.MinInt64)},
		{"[-9223372036854775808, 9223372036854775807]", []any{int64(math.MinInt64), int64(math.MaxInt64)}},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			got, err := ParseLiteral(tc.src)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	v, err := ParseLiteral("-inf")
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.(float64), -1))

	for _, bad := range []string{"a + 1", "x", "len('a')", "-'a'", "{1: 2}", "{a: 1}", "{True: 1}", "{'a': 1, 'a': 2}", "1 if True else 2", "9223372036854775808", "1-9223372036854775808"} {
		_, err := ParseLiteral(bad)
		assert.Error(t, err, bad)
	}
}

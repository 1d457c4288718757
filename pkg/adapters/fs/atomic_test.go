package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("Creates New File", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "tree.txt")
		require.NoError(t, WriteFileAtomic(filename, []byte("/app\n"), 0644))

		got, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Equal(t, "/app\n", string(got))
	})

	t.Run("Overwrites And Leaves No Temp Files", func(t *testing.T) {
		dir := t.TempDir()
		filename := filepath.Join(dir, "tree.txt")
		require.NoError(t, os.WriteFile(filename, []byte("old"), 0644))
		require.NoError(t, WriteFileAtomic(filename, []byte("new"), 0600))

		got, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))

		info, err := os.Stat(filename)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), TempFilePrefix), e.Name())
		}
	})

	t.Run("Unchanged Content Is Not Rewritten", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "tree.txt")
		require.NoError(t, os.WriteFile(filename, []byte("/app\n"), 0600))
		require.NoError(t, WriteFileAtomic(filename, []byte("/app\n"), 0644))

		info, err := os.Stat(filename)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "same data keeps the old file")
	})

	t.Run("Missing Directory", func(t *testing.T) {
		err := WriteFileAtomic(filepath.Join(t.TempDir(), "no", "such", "file"), nil, 0644)
		assert.Error(t, err)
	})
}

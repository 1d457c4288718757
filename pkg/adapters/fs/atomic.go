// Package fs holds the local file helpers used around tree files:
// following a description for changes and writing exports safely.
package fs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// TempFilePrefix is the prefix used for temporary atomic write files.
const TempFilePrefix = "canopy-tmp-"

// WriteFileAtomic writes an exported tree to filename. "canopy export -o"
// uses it so that an "import --follow" on the same file never reads a half
// written description: data goes to a temp file in the same directory,
// which is then renamed over filename.
//
// A file that already holds data is left untouched, mode included, so
// repeated exports of an unchanged subtree do not wake followers.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	if current, err := os.ReadFile(filename); err == nil && bytes.Equal(current, data) {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", filename, err)
	}
	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmp.Name())
		}
	}()

	write := func() error {
		defer tmp.Close()
		if _, err := tmp.Write(data); err != nil {
			return err
		}
		return tmp.Sync()
	}
	if err := write(); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filename, err)
	}
	renamed = true
	return nil
}

//go:build !windows

package fileops

import (
	"fmt"
	"path/filepath"

	"github.com/google/renameio"
)

func writeNew(path string, data []byte) error {
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return t.CloseAtomicallyReplace()
}

// Unlinking does not depend on the file's own permissions.
func clearReadOnly(string) error {
	return errNothingToClear
}

//go:build !windows

package fileattr

import (
	"fmt"
	"os"
)

// On Unix the permission bits are the attribute set.
func platformAttributes(info os.FileInfo) Attributes {
	return Attributes(info.Mode().Perm())
}

func platformApply(path string, a Attributes) error {
	if err := os.Chmod(path, os.FileMode(a).Perm()); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return nil
}

// IsReadOnly reports whether the owner lacks write permission.
func (a Attributes) IsReadOnly() bool {
	return a&0200 == 0
}

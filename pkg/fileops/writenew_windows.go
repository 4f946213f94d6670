//go:build windows

package fileops

import (
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

func writeNew(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// clearReadOnly drops FILE_ATTRIBUTE_READONLY, which blocks deletion.
func clearReadOnly(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, util.WithUserWritePermission(info.Mode().Perm()))
}

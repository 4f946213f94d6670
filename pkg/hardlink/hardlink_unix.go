//go:build !windows

package hardlink

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// LinkCount returns st_nlink for path.
func LinkCount(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return uint64(st.Nlink), nil
}

func isPlatformTooManyLinks(err error) bool {
	return errors.Is(err, unix.EMLINK)
}

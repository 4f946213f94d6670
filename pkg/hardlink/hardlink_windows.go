//go:build windows

package hardlink

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// LinkCount opens path for metadata only and returns NumberOfLinks.
func LinkCount(path string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(p, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", path, err)
	}
	return uint64(info.NumberOfLinks), nil
}

func isPlatformTooManyLinks(err error) bool {
	return errors.Is(err, windows.ERROR_TOO_MANY_LINKS)
}

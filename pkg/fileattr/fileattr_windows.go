//go:build windows

package fileattr

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

const mask = windows.FILE_ATTRIBUTE_NORMAL |
	windows.FILE_ATTRIBUTE_HIDDEN |
	windows.FILE_ATTRIBUTE_SYSTEM |
	windows.FILE_ATTRIBUTE_SPARSE_FILE |
	windows.FILE_ATTRIBUTE_ENCRYPTED

// Only these bits can be set through SetFileAttributes.
const settable = windows.FILE_ATTRIBUTE_HIDDEN | windows.FILE_ATTRIBUTE_SYSTEM

func platformAttributes(info os.FileInfo) Attributes {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return Attributes(windows.FILE_ATTRIBUTE_NORMAL)
	}
	return Attributes(data.FileAttributes & mask)
}

func platformApply(path string, a Attributes) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	current, err := windows.GetFileAttributes(p)
	if err != nil {
		return fmt.Errorf("failed to read attributes of %s: %w", path, err)
	}
	next := (current &^ settable) | (uint32(a) & settable)
	if next == current {
		return nil
	}
	if next == 0 {
		next = windows.FILE_ATTRIBUTE_NORMAL
	}
	if err := windows.SetFileAttributes(p, next); err != nil {
		return fmt.Errorf("failed to set attributes on %s: %w", path, err)
	}
	return nil
}

// IsReadOnly is always false; the read-only bit is not part of the mask.
func (a Attributes) IsReadOnly() bool {
	return false
}
